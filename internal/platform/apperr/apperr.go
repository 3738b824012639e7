// Package apperr defines the error taxonomy shared by the ward, pharmacy and
// billing services, and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies a domain error. Kinds are part of the API contract: the
// dashboards switch on them to render actionable feedback.
type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindCapacityExceeded       Kind = "capacity_exceeded"
	KindAlreadyAssigned        Kind = "already_assigned"
	KindAlreadyDischarged      Kind = "already_discharged"
	KindInsufficientStock      Kind = "insufficient_stock"
	KindEmptyBill              Kind = "empty_bill"
	KindInvalidQuantity        Kind = "invalid_quantity"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindValidation             Kind = "validation"
	KindForbidden              Kind = "forbidden"
	KindInternal               Kind = "internal"

	// Transport-level kinds, produced by middleware rather than services.
	KindUnauthorized Kind = "unauthorized"
	KindRateLimited  Kind = "rate_limited"
	KindTimeout      Kind = "timeout"
)

// Error is a classified domain error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, apperr.ErrCapacityExceeded) works on wrapped errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "not found"}
	ErrCapacityExceeded       = &Error{Kind: KindCapacityExceeded, Message: "room at capacity"}
	ErrAlreadyAssigned        = &Error{Kind: KindAlreadyAssigned, Message: "patient already occupies a bed"}
	ErrAlreadyDischarged      = &Error{Kind: KindAlreadyDischarged, Message: "assignment already discharged"}
	ErrInsufficientStock      = &Error{Kind: KindInsufficientStock, Message: "insufficient stock for dispensing"}
	ErrEmptyBill              = &Error{Kind: KindEmptyBill, Message: "bill has no items"}
	ErrInvalidQuantity        = &Error{Kind: KindInvalidQuantity, Message: "quantity must be positive"}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition, Message: "invalid state transition"}
	ErrValidation             = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrForbidden              = &Error{Kind: KindForbidden, Message: "operation not permitted"}
)

// New returns an error of the given kind with a caller-facing message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind while keeping it in the chain.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NotFound(entity string) *Error {
	return Newf(KindNotFound, "%s not found", entity)
}

func CapacityExceeded(roomNumber string, capacity int) *Error {
	return Newf(KindCapacityExceeded, "room at capacity: room %s holds %d", roomNumber, capacity)
}

func AlreadyAssigned(roomNumber string) *Error {
	if roomNumber == "" {
		return New(KindAlreadyAssigned, ErrAlreadyAssigned.Message)
	}
	return Newf(KindAlreadyAssigned, "patient already occupies a bed in room %s", roomNumber)
}

func AlreadyDischarged() *Error {
	return New(KindAlreadyDischarged, ErrAlreadyDischarged.Message)
}

func InsufficientStock(medicine string, requested, available int) *Error {
	return Newf(KindInsufficientStock,
		"insufficient stock for dispensing %s: requested %d, available %d; partially fill or restock",
		medicine, requested, available)
}

func EmptyBill() *Error {
	return New(KindEmptyBill, ErrEmptyBill.Message)
}

func InvalidQuantity(msg string) *Error {
	if msg == "" {
		msg = ErrInvalidQuantity.Message
	}
	return New(KindInvalidQuantity, msg)
}

func InvalidTransition(msg string) *Error {
	return New(KindInvalidStateTransition, msg)
}

func Validation(msg string) *Error {
	return New(KindValidation, msg)
}

func Forbidden(msg string) *Error {
	return New(KindForbidden, msg)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind onto a response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindCapacityExceeded, KindAlreadyAssigned, KindAlreadyDischarged,
		KindInsufficientStock, KindInvalidStateTransition:
		return http.StatusConflict
	case KindEmptyBill, KindInvalidQuantity:
		return http.StatusUnprocessableEntity
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// KindForStatus is the inverse of HTTPStatus for errors raised outside the
// services, e.g. echo's own 404 and 405 or an auth middleware 401.
func KindForStatus(code int) Kind {
	switch code {
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType:
		return KindValidation
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindInternal
	}
}

// Response is the JSON body returned for every domain error.
type Response struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ToHTTP converts err into an *echo.HTTPError carrying a Response body.
// Unclassified errors are reported as internal without leaking details; the
// original error is kept as Internal so the logger middleware can record it.
func ToHTTP(err error) *echo.HTTPError {
	var e *Error
	if !errors.As(err, &e) {
		he := echo.NewHTTPError(http.StatusInternalServerError,
			Response{Kind: KindInternal, Message: "internal server error"})
		he.Internal = err
		return he
	}
	he := echo.NewHTTPError(HTTPStatus(e.Kind), Response{Kind: e.Kind, Message: e.Message})
	he.Internal = err
	return he
}
