package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("admit: %w", CapacityExceeded("101", 1))
	require.Equal(t, KindCapacityExceeded, KindOf(err))
	require.True(t, IsKind(err, KindCapacityExceeded))
	require.True(t, errors.Is(err, ErrCapacityExceeded))
	require.False(t, errors.Is(err, ErrAlreadyAssigned))
}

func TestKindOf_Unclassified(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
	require.False(t, IsKind(nil, KindNotFound))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:               http.StatusNotFound,
		KindCapacityExceeded:       http.StatusConflict,
		KindAlreadyAssigned:        http.StatusConflict,
		KindAlreadyDischarged:      http.StatusConflict,
		KindInsufficientStock:      http.StatusConflict,
		KindInvalidStateTransition: http.StatusConflict,
		KindEmptyBill:              http.StatusUnprocessableEntity,
		KindInvalidQuantity:        http.StatusUnprocessableEntity,
		KindValidation:             http.StatusBadRequest,
		KindForbidden:              http.StatusForbidden,
		KindUnauthorized:           http.StatusUnauthorized,
		KindRateLimited:            http.StatusTooManyRequests,
		KindTimeout:                http.StatusGatewayTimeout,
		KindInternal:               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}

func TestToHTTP_Domain(t *testing.T) {
	he := ToHTTP(InsufficientStock("Amoxicillin", 1, 0))
	require.Equal(t, http.StatusConflict, he.Code)
	body, ok := he.Message.(Response)
	require.True(t, ok)
	require.Equal(t, KindInsufficientStock, body.Kind)
	require.Contains(t, body.Message, "insufficient stock for dispensing")
}

func TestToHTTP_Internal(t *testing.T) {
	cause := errors.New("connection reset")
	he := ToHTTP(cause)
	require.Equal(t, http.StatusInternalServerError, he.Code)
	body := he.Message.(Response)
	require.Equal(t, "internal server error", body.Message)
	require.Equal(t, cause, he.Internal)
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := Wrap(KindInternal, "commit transfer", errors.New("deadlock"))
	require.Equal(t, "commit transfer: deadlock", err.Error())
	require.Equal(t, "room at capacity", ErrCapacityExceeded.Error())
}

func TestKindForStatus(t *testing.T) {
	require.Equal(t, KindUnauthorized, KindForStatus(http.StatusUnauthorized))
	require.Equal(t, KindNotFound, KindForStatus(http.StatusNotFound))
	require.Equal(t, KindValidation, KindForStatus(http.StatusMethodNotAllowed))
	require.Equal(t, KindInternal, KindForStatus(http.StatusBadGateway))
}
