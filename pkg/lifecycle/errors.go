package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned for any transition outside the graph,
	// by the wrong role, or against a terminal order.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStaleEvent marks an event whose status is behind the held one.
	ErrStaleEvent = errors.New("stale event")
	// ErrCourierAssigned is returned when a different courier already holds the order.
	ErrCourierAssigned = errors.New("courier already assigned")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	From   string
	To     string
	Role   string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s by %s: %s", e.From, e.To, e.Role, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func reject(from, to, role, reason string) error {
	return &TransitionError{From: from, To: to, Role: role, Reason: reason}
}
