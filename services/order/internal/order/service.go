package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/actor"
	"github.com/appetiteclub/delivery/pkg/enums/actorrole"
	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/event"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict means the order kept changing underneath a transition.
	ErrConflict = errors.New("order changed concurrently")
)

// guardedAttempts bounds how often a transition is re-read and re-applied
// after losing its status guard. The second pass turns a concurrent
// duplicate into a no-op.
const guardedAttempts = 2

var DefaultCommissionRate = decimal.RequireFromString("0.15")

type ServiceConfig struct {
	CommissionRate decimal.Decimal
	Tolerance      decimal.Decimal
}

// Service owns the order and remittance rules of the backend. Handlers only
// decode requests and map errors.
type Service struct {
	orders      OrderRepo
	remittances RemittanceRepo
	publisher   events.Publisher
	cfg         ServiceConfig
	logger      aqm.Logger
	now         func() time.Time
}

func NewService(orders OrderRepo, remittances RemittanceRepo, publisher events.Publisher, cfg ServiceConfig, logger aqm.Logger) *Service {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = remittance.DefaultTolerance
	}
	return &Service{
		orders:      orders,
		remittances: remittances,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger.With("component", "order-service"),
		now:         time.Now,
	}
}

type CreateOrderInput struct {
	RestaurantID  uuid.UUID
	CustomerID    uuid.UUID
	Subtotal      decimal.Decimal
	DeliveryFee   decimal.Decimal
	PaymentMethod string
}

func (s *Service) CreateOrder(ctx context.Context, a actor.Actor, in CreateOrderInput) (*lifecycle.Order, error) {
	if !a.Is(actorrole.Roles.Customer) && !a.IsAdmin() {
		return nil, ErrForbidden
	}
	if a.Is(actorrole.Roles.Customer) {
		in.CustomerID = a.ID
	}

	switch {
	case in.RestaurantID == uuid.Nil:
		return nil, fmt.Errorf("%w: restaurant_id is required", ErrInvalidInput)
	case in.CustomerID == uuid.Nil:
		return nil, fmt.Errorf("%w: customer_id is required", ErrInvalidInput)
	case !in.Subtotal.IsPositive():
		return nil, fmt.Errorf("%w: subtotal must be positive", ErrInvalidInput)
	case in.DeliveryFee.IsNegative():
		return nil, fmt.Errorf("%w: delivery_fee cannot be negative", ErrInvalidInput)
	case in.PaymentMethod != lifecycle.PaymentCash && in.PaymentMethod != lifecycle.PaymentPrepaid:
		return nil, fmt.Errorf("%w: payment_method must be cash or prepaid", ErrInvalidInput)
	}

	rate := s.cfg.CommissionRate
	if rate.IsZero() {
		rate = DefaultCommissionRate
	}

	o := lifecycle.NewOrder(in.RestaurantID, in.CustomerID, in.Subtotal, in.DeliveryFee, rate, in.PaymentMethod, s.now().UTC())
	number, err := s.orders.NextNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("next order number: %w", err)
	}
	o.Number = number

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	s.publish(ctx, nil, o)
	return o, nil
}

// GetOrder hides orders the caller does not participate in behind ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, a actor.Actor, id uuid.UUID) (*lifecycle.Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil || !Visible(a, o) {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, a actor.Actor, f OrderFilter) ([]*lifecycle.Order, error) {
	return s.orders.List(ctx, Scope(a, f))
}

// AvailableOrders lists ready orders no courier has claimed yet.
func (s *Service) AvailableOrders(ctx context.Context, a actor.Actor) ([]*lifecycle.Order, error) {
	if !a.Is(actorrole.Roles.Courier) && !a.IsAdmin() {
		return nil, ErrForbidden
	}
	ready, err := s.orders.List(ctx, OrderFilter{Statuses: []string{orderstatus.Statuses.Ready.Code()}})
	if err != nil {
		return nil, err
	}
	out := make([]*lifecycle.Order, 0, len(ready))
	for _, o := range ready {
		if o.CourierID == nil {
			out = append(out, o)
		}
	}
	return out, nil
}

// Transition applies t on behalf of a. Re-applying a transition that
// already happened returns the current order without error.
func (s *Service) Transition(ctx context.Context, a actor.Actor, id uuid.UUID, t lifecycle.Transition) (*lifecycle.Order, error) {
	t.Role = a.Role
	t.ActorID = a.ID

	for attempt := 0; attempt < guardedAttempts; attempt++ {
		current, err := s.GetOrder(ctx, a, id)
		if err != nil {
			return nil, err
		}

		t.At = s.now().UTC()
		next, changed, err := lifecycle.Apply(current, t)
		if err != nil {
			return nil, err
		}
		if !changed {
			return next, nil
		}

		ok, err := s.orders.SaveGuarded(ctx, next, current.Status)
		if err != nil {
			return nil, err
		}
		if ok {
			s.publish(ctx, current, next)
			return next, nil
		}
		s.logger.Debug("transition guard lost, retrying", "order_id", id.String(), "target", t.Target)
	}
	return nil, ErrConflict
}

// AssignCourier attaches courierID to a ready order. A courier may only
// claim for itself; a second courier gets lifecycle.ErrCourierAssigned.
func (s *Service) AssignCourier(ctx context.Context, a actor.Actor, id, courierID uuid.UUID) (*lifecycle.Order, error) {
	for attempt := 0; attempt < guardedAttempts; attempt++ {
		current, err := s.orders.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ErrNotFound
		}

		next, changed, err := lifecycle.AssignCourier(current, courierID, a.Role, a.ID, s.now().UTC())
		if err != nil {
			return nil, err
		}
		if !changed {
			return next, nil
		}

		ok, err := s.orders.ClaimCourier(ctx, next)
		if err != nil {
			return nil, err
		}
		if ok {
			s.publish(ctx, current, next)
			return next, nil
		}
	}
	return nil, ErrConflict
}

// PendingRemittanceOrders returns the orders courier a still owes cash for
// and their sum.
func (s *Service) PendingRemittanceOrders(ctx context.Context, a actor.Actor) ([]*lifecycle.Order, decimal.Decimal, error) {
	if !a.Is(actorrole.Roles.Courier) {
		return nil, decimal.Zero, ErrForbidden
	}
	orders, err := s.orders.ListUnsettledCash(ctx, a.ID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return orders, remittance.Sum(orders), nil
}

// CreateRemittance validates sel against the freshly read unsettled set and
// links the selected orders atomically.
func (s *Service) CreateRemittance(ctx context.Context, a actor.Actor, sel remittance.Selection) (*remittance.Remittance, error) {
	if !a.Is(actorrole.Roles.Courier) {
		return nil, ErrForbidden
	}
	sel.CourierID = a.ID

	available, err := s.orders.ListUnsettledCash(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	selected, err := remittance.ValidateSelection(available, sel, s.cfg.Tolerance)
	if err != nil {
		return nil, err
	}

	r := remittance.New(a.ID, sel.Amount, sel.Method, sel.Reference, remittance.OrderIDs(selected), s.now().UTC())
	if err := s.remittances.CreateLinked(ctx, r); err != nil {
		if errors.Is(err, remittance.ErrRaceLost) {
			s.logger.Info("remittance lost link race", "courier_id", a.ID.String(), "orders", len(r.OrderIDs))
		}
		return nil, err
	}

	s.logger.Info("remittance created", "remittance_id", r.ID.String(), "courier_id", a.ID.String(), "amount", r.Amount.String())
	return r, nil
}

func (s *Service) ListRemittances(ctx context.Context, a actor.Actor, f RemittanceFilter) ([]*remittance.Remittance, error) {
	switch {
	case a.Is(actorrole.Roles.Courier):
		id := a.ID
		f.CourierID = &id
	case a.IsAdmin():
	default:
		return nil, ErrForbidden
	}
	return s.remittances.List(ctx, f)
}

func (s *Service) GetRemittance(ctx context.Context, a actor.Actor, id uuid.UUID) (*remittance.Remittance, error) {
	r, err := s.remittances.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil || (!a.IsAdmin() && r.CourierID != a.ID) {
		return nil, ErrNotFound
	}
	return r, nil
}

// ResolveRemittance closes a pending remittance. Only administrators may
// resolve; rejecting frees its orders for a new remittance.
func (s *Service) ResolveRemittance(ctx context.Context, a actor.Actor, id uuid.UUID, status, note string) (*remittance.Remittance, error) {
	if !a.IsAdmin() {
		return nil, ErrForbidden
	}
	if !remittance.ValidResolution(status) {
		return nil, fmt.Errorf("%w: status must be completed or rejected", ErrInvalidInput)
	}

	r, err := s.remittances.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNotFound
	}
	if r.IsTerminal() {
		return nil, remittance.ErrAlreadyResolved
	}

	at := s.now().UTC()
	by := a.ID
	r.Status = status
	r.Note = note
	r.ResolvedBy = &by
	r.ResolvedAt = &at

	if err := s.remittances.Resolve(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) publish(ctx context.Context, previous, next *lifecycle.Order) {
	if s.publisher == nil {
		return
	}
	env := event.NewEnvelope(previous, next, s.now().UTC())
	data, err := env.Marshal()
	if err != nil {
		s.logger.Error("cannot encode lifecycle event", "order_id", next.ID.String(), "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event.LifecycleTopic, data); err != nil {
		s.logger.Error("cannot publish lifecycle event", "order_id", next.ID.String(), "kind", string(env.Kind), "error", err)
		return
	}
	s.logger.Debug("lifecycle event published", "order_id", next.ID.String(), "kind", string(env.Kind), "status", next.Status)
}
