package remittance

import (
	"errors"

	"github.com/google/uuid"
)

const ReasonRaceLost = "race_lost"

// Problem is the wire form of a refused remittance request. The session
// turns it back into the matching error value.
type Problem struct {
	Reason   string      `json:"reason"`
	Message  string      `json:"message"`
	Expected string      `json:"expected,omitempty"`
	Declared string      `json:"declared,omitempty"`
	OrderIDs []uuid.UUID `json:"order_ids,omitempty"`
	Refresh  bool        `json:"refresh,omitempty"`
}

// ProblemFrom describes err when it is a validation failure or a lost race.
func ProblemFrom(err error) (Problem, bool) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return Problem{
			Reason:   ve.Reason,
			Message:  ve.Message(),
			Expected: ve.Expected,
			Declared: ve.Declared,
			OrderIDs: ve.OrderIDs,
			Refresh:  ve.Reason == ReasonOrderUnavailable,
		}, true
	case errors.Is(err, ErrRaceLost):
		return Problem{
			Reason:  ReasonRaceLost,
			Message: "Another remittance claimed some of these orders. Refresh and try again.",
			Refresh: true,
		}, true
	default:
		return Problem{}, false
	}
}

// Err rebuilds the error p was made from.
func (p Problem) Err() error {
	if p.Reason == ReasonRaceLost {
		return ErrRaceLost
	}
	return &ValidationError{
		Reason:   p.Reason,
		Expected: p.Expected,
		Declared: p.Declared,
		OrderIDs: p.OrderIDs,
	}
}
