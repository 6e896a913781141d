package remittance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrValidationFailed is the sentinel behind every *ValidationError.
	ErrValidationFailed = errors.New("remittance validation failed")
	// ErrRaceLost means another remittance linked one of the selected orders
	// between validation and the store-level claim. The caller should refresh
	// the pending set and retry.
	ErrRaceLost = errors.New("remittance race lost")
	ErrNotFound = errors.New("remittance not found")
	// ErrAlreadyResolved is returned when resolving a terminal remittance.
	ErrAlreadyResolved = errors.New("remittance already resolved")
)

const (
	ReasonEmptySelection   = "empty_selection"
	ReasonAmountMismatch   = "amount_mismatch"
	ReasonOrderUnavailable = "order_unavailable"
	ReasonInvalidMethod    = "invalid_method"
)

// ValidationError explains why a remittance request was refused as a whole.
type ValidationError struct {
	Reason   string
	Expected string
	Declared string
	OrderIDs []uuid.UUID
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonAmountMismatch:
		return fmt.Sprintf("%s: declared %s, expected %s", e.Reason, e.Declared, e.Expected)
	case ReasonOrderUnavailable:
		ids := make([]string, len(e.OrderIDs))
		for i, id := range e.OrderIDs {
			ids[i] = id.String()
		}
		return fmt.Sprintf("%s: %s", e.Reason, strings.Join(ids, ","))
	default:
		return e.Reason
	}
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// Message returns the text shown to the courier.
func (e *ValidationError) Message() string {
	switch e.Reason {
	case ReasonEmptySelection:
		return "Select at least one order to remit."
	case ReasonAmountMismatch:
		return fmt.Sprintf("The declared amount %s does not match the selected orders total %s.", e.Declared, e.Expected)
	case ReasonOrderUnavailable:
		return "Some selected orders are no longer available. Refresh and try again."
	case ReasonInvalidMethod:
		return "Choose a valid hand-in method."
	default:
		return "The remittance could not be created."
	}
}
