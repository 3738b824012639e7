package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin        = "admin"
	RoleBilling      = "billing"
	RoleNurse        = "nurse"
	RolePharmacist   = "pharmacist"
	RolePhysician    = "physician"
	RoleReceptionist = "receptionist"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
// admin passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

func HasAnyRole(userRoles []string, roles ...string) bool {
	for _, has := range userRoles {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// Capabilities are business permissions that operations take as explicit
// arguments instead of reading them from ambient request state.
type Capabilities struct {
	CancelBill    bool
	SetRoomStatus bool
}

// CapabilitiesFor derives capabilities from roles.
func CapabilitiesFor(roles []string) Capabilities {
	return Capabilities{
		CancelBill:    HasAnyRole(roles),
		SetRoomStatus: HasAnyRole(roles, RoleNurse),
	}
}

func CapabilitiesFromContext(ctx context.Context) Capabilities {
	return CapabilitiesFor(RolesFromContext(ctx))
}
