package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
)

// RequestTimeout sets a deadline on each request context. Handlers and the
// database calls beneath them observe the deadline; when the handler fails
// because it expired, the error is reported as 504. The deadline cancels any
// open transaction, which pgx then rolls back.
//
// The WebSocket feed (/ws) is excluded because it is long-lived.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Request().URL.Path, "/ws") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				he := echo.NewHTTPError(http.StatusGatewayTimeout, apperr.Response{
					Kind:    apperr.KindTimeout,
					Message: "request processing exceeded the allowed time limit",
				})
				he.Internal = err
				return he
			}
			return err
		}
	}
}
