package operations

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/appetiteclub/delivery/pkg/remittance"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrUnavailable  = errors.New("order service unavailable")
)

// APIError is a non-2xx reply from the order service.
type APIError struct {
	Status  int
	Message string
	Problem *remittance.Problem
}

func (e *APIError) Error() string {
	if e.Problem != nil {
		return fmt.Sprintf("order service %d: %s", e.Status, e.Problem.Reason)
	}
	return fmt.Sprintf("order service %d: %s", e.Status, e.Message)
}

// Unwrap maps the reply onto the local error values so callers can use
// errors.Is against remittance and operations sentinels alike.
func (e *APIError) Unwrap() error {
	if e.Problem != nil {
		return e.Problem.Err()
	}
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrBadRequest
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrUnavailable
	default:
		return nil
	}
}
