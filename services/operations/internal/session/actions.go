package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/appetiteclub/delivery/pkg/lifecycle"
)

// Action names a backend transition endpoint.
type Action string

const (
	ActionAccept           Action = "accept"
	ActionRefuse           Action = "refuse"
	ActionStartPreparation Action = "start-preparation"
	ActionMarkReady        Action = "mark-ready"
	ActionAssignCourier    Action = "assign-courier"
	ActionPickUp           Action = "pick-up"
	ActionStartDelivery    Action = "start-delivery"
	ActionDeliver          Action = "deliver"
	ActionCancel           Action = "cancel"
)

var actions = map[string]Action{
	string(ActionAccept):           ActionAccept,
	string(ActionRefuse):           ActionRefuse,
	string(ActionStartPreparation): ActionStartPreparation,
	string(ActionMarkReady):        ActionMarkReady,
	string(ActionAssignCourier):    ActionAssignCourier,
	string(ActionPickUp):           ActionPickUp,
	string(ActionStartDelivery):    ActionStartDelivery,
	string(ActionDeliver):          ActionDeliver,
	string(ActionCancel):           ActionCancel,
}

func ParseAction(name string) (Action, bool) {
	a, ok := actions[name]
	return a, ok
}

// ActionInput carries the optional fields of a transition request.
type ActionInput struct {
	EstimatedMinutes int        `json:"estimated_minutes,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	ReasonType       string     `json:"reason_type,omitempty"`
	CourierID        *uuid.UUID `json:"courier_id,omitempty"`
}

// OrderActions performs transitions against the authoritative backend and
// returns the resulting order. Implementations may retry; the backend
// treats an already applied transition as success.
type OrderActions interface {
	Perform(ctx context.Context, id uuid.UUID, action Action, in ActionInput) (*lifecycle.Order, error)
}

// Perform runs action remotely and applies the returned order locally
// through the same path as pushed events.
func (s *Session) Perform(ctx context.Context, id uuid.UUID, action Action, in ActionInput) (*lifecycle.Order, error) {
	if s.actions == nil {
		return nil, fmt.Errorf("%s: no backend configured", action)
	}
	if action == ActionAssignCourier && in.CourierID == nil {
		self := s.cfg.Actor.ID
		in.CourierID = &self
	}

	o, err := s.actions.Perform(ctx, id, action, in)
	if err != nil {
		return nil, fmt.Errorf("%s order %s: %w", action, id, err)
	}

	var held *lifecycle.Order
	err = s.do(ctx, func() {
		held = s.applyOrder(o, "")
	})
	if err != nil {
		return nil, err
	}
	if held == nil {
		held = o
	}
	return held, nil
}

func (s *Session) Accept(ctx context.Context, id uuid.UUID, estimatedMinutes int) (*lifecycle.Order, error) {
	return s.Perform(ctx, id, ActionAccept, ActionInput{EstimatedMinutes: estimatedMinutes})
}

func (s *Session) Refuse(ctx context.Context, id uuid.UUID, reason, reasonType string) (*lifecycle.Order, error) {
	return s.Perform(ctx, id, ActionRefuse, ActionInput{Reason: reason, ReasonType: reasonType})
}

func (s *Session) StartPreparation(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error) {
	return s.Perform(ctx, id, ActionStartPreparation, ActionInput{})
}

func (s *Session) MarkReady(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error) {
	return s.Perform(ctx, id, ActionMarkReady, ActionInput{})
}

// ClaimDelivery assigns the session's courier to a ready order.
func (s *Session) ClaimDelivery(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error) {
	return s.Perform(ctx, id, ActionAssignCourier, ActionInput{})
}

func (s *Session) PickUp(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error) {
	return s.Perform(ctx, id, ActionPickUp, ActionInput{})
}

func (s *Session) StartDelivery(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error) {
	return s.Perform(ctx, id, ActionStartDelivery, ActionInput{})
}

func (s *Session) Deliver(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error) {
	return s.Perform(ctx, id, ActionDeliver, ActionInput{})
}

func (s *Session) Cancel(ctx context.Context, id uuid.UUID, reason string) (*lifecycle.Order, error) {
	return s.Perform(ctx, id, ActionCancel, ActionInput{Reason: reason})
}
