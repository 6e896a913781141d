package operations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/actor"
	"github.com/appetiteclub/delivery/pkg/enums/actorrole"
	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
	"github.com/appetiteclub/delivery/services/operations/internal/session"
)

var (
	restaurantID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	customerID   = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	courierID    = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	t0           = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

// deliveredCash builds a delivered cash order held by courierID with the
// given total.
func deliveredCash(total int64) *lifecycle.Order {
	o := lifecycle.NewOrder(restaurantID, customerID, decimal.NewFromInt(total-5), decimal.NewFromInt(5),
		decimal.RequireFromString("0.1"), lifecycle.PaymentCash, t0)
	o.Status = orderstatus.Statuses.Delivered.Code()
	c := courierID
	o.CourierID = &c
	return o
}

func pendingOrder() *lifecycle.Order {
	return lifecycle.NewOrder(restaurantID, customerID, decimal.NewFromInt(50), decimal.NewFromInt(5),
		decimal.RequireFromString("0.1"), lifecycle.PaymentCash, t0)
}

type MockRemittanceClient struct {
	PendingFunc func(ctx context.Context) (PendingOrders, error)
	CreateFunc  func(ctx context.Context, req CreateRemittanceRequest) (*remittance.Remittance, error)
	ListFunc    func(ctx context.Context) ([]*remittance.Remittance, error)
	GetFunc     func(ctx context.Context, id uuid.UUID) (*remittance.Remittance, error)

	PendingCalls int
	Created      []CreateRemittanceRequest
}

func (m *MockRemittanceClient) PendingRemittanceOrders(ctx context.Context) (PendingOrders, error) {
	m.PendingCalls++
	if m.PendingFunc != nil {
		return m.PendingFunc(ctx)
	}
	return PendingOrders{Orders: []*lifecycle.Order{}}, nil
}

func (m *MockRemittanceClient) CreateRemittance(ctx context.Context, req CreateRemittanceRequest) (*remittance.Remittance, error) {
	m.Created = append(m.Created, req)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req)
	}
	return remittance.New(courierID, req.Amount, req.Method, req.Reference, req.OrderIDs, t0), nil
}

func (m *MockRemittanceClient) ListRemittances(ctx context.Context) ([]*remittance.Remittance, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *MockRemittanceClient) GetRemittance(ctx context.Context, id uuid.UUID) (*remittance.Remittance, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, &APIError{Status: 404, Message: "Not found"}
}

type MockSession struct {
	ActorValue      actor.Actor
	StatusFunc      func(ctx context.Context) (session.Status, error)
	Store           *session.Store
	PerformFunc     func(ctx context.Context, id uuid.UUID, action session.Action, in session.ActionInput) (*lifecycle.Order, error)
	AcknowledgeFunc func(ctx context.Context, id uuid.UUID) error

	Reconnects int
}

func NewMockSession() *MockSession {
	return &MockSession{
		ActorValue: actor.Actor{ID: restaurantID, Role: actorrole.Roles.Restaurant.Code()},
		Store:      session.NewStore(),
	}
}

func (m *MockSession) Actor() actor.Actor { return m.ActorValue }

func (m *MockSession) Status(ctx context.Context) (session.Status, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	snap := m.Store.Snapshot()
	return session.Status{
		ActorID:    m.ActorValue.ID,
		Role:       m.ActorValue.Role,
		Connection: session.StateConnected,
		Version:    snap.Version,
		Orders:     snap.Len(),
	}, nil
}

func (m *MockSession) Snapshot() *session.Snapshot { return m.Store.Snapshot() }

func (m *MockSession) Perform(ctx context.Context, id uuid.UUID, action session.Action, in session.ActionInput) (*lifecycle.Order, error) {
	if m.PerformFunc != nil {
		return m.PerformFunc(ctx, id, action, in)
	}
	return nil, session.ErrUnknownOrder
}

func (m *MockSession) Acknowledge(ctx context.Context, id uuid.UUID) error {
	if m.AcknowledgeFunc != nil {
		return m.AcknowledgeFunc(ctx, id)
	}
	if _, ok := m.Store.Snapshot().Get(id); !ok {
		return session.ErrUnknownOrder
	}
	return nil
}

func (m *MockSession) Reconnect() { m.Reconnects++ }

type MockAvailable struct {
	AvailableFunc func(ctx context.Context) ([]*lifecycle.Order, error)
}

func (m *MockAvailable) AvailableOrders(ctx context.Context) ([]*lifecycle.Order, error) {
	if m.AvailableFunc != nil {
		return m.AvailableFunc(ctx)
	}
	return nil, nil
}
