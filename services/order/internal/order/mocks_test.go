package order

import (
	"context"
	"sort"
	"sync"

	"github.com/aquamarinepk/aqm/events"
	"github.com/google/uuid"

	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
)

// MockPublisher is a mock implementation of events.Publisher for testing
type MockPublisher struct {
	PublishFunc func(ctx context.Context, topic string, msg []byte) error

	mu       sync.Mutex
	messages [][]byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, msg)
	}
	return nil
}

func (m *MockPublisher) Messages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.messages...)
}

// MockSubscriber is a mock implementation of events.Subscriber for testing
type MockSubscriber struct {
	SubscribeFunc func(ctx context.Context, topic string, handler events.HandlerFunc) error
}

func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{}
}

func (m *MockSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, topic, handler)
	}
	return nil
}

// MockStore keeps orders and remittances in memory with the same guard
// semantics as the real repositories. Func fields override single calls.
type MockStore struct {
	mu          sync.Mutex
	orders      map[uuid.UUID]*lifecycle.Order
	remittances map[uuid.UUID]*remittance.Remittance
	seq         int64

	SaveGuardedFunc  func(ctx context.Context, o *lifecycle.Order, expectedStatus string) (bool, error)
	ClaimCourierFunc func(ctx context.Context, o *lifecycle.Order) (bool, error)
	CreateLinkedFunc func(ctx context.Context, r *remittance.Remittance) error
}

func NewMockStore() *MockStore {
	return &MockStore{
		orders:      make(map[uuid.UUID]*lifecycle.Order),
		remittances: make(map[uuid.UUID]*remittance.Remittance),
	}
}

// Put stores o as is, bypassing every rule.
func (m *MockStore) Put(o *lifecycle.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o.Clone()
}

func (m *MockStore) Orders() OrderRepo {
	return mockOrderRepo{m}
}

func (m *MockStore) Remittances() RemittanceRepo {
	return mockRemittanceRepo{m}
}

type mockOrderRepo struct{ m *MockStore }

func (r mockOrderRepo) Create(ctx context.Context, o *lifecycle.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.orders[o.ID] = o.Clone()
	return nil
}

func (r mockOrderRepo) Get(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[id]
	if !ok {
		return nil, nil
	}
	return o.Clone(), nil
}

func (r mockOrderRepo) List(ctx context.Context, f OrderFilter) ([]*lifecycle.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	result := []*lifecycle.Order{}
	for _, o := range r.m.orders {
		if len(f.Statuses) > 0 && !containsString(f.Statuses, o.Status) {
			continue
		}
		if f.RestaurantID != nil && o.RestaurantID != *f.RestaurantID {
			continue
		}
		if f.CourierID != nil && !o.HasCourier(*f.CourierID) {
			continue
		}
		if f.CustomerID != nil && o.CustomerID != *f.CustomerID {
			continue
		}
		if f.Since != nil && o.IsTerminal() && o.UpdatedAt.Before(*f.Since) {
			continue
		}
		result = append(result, o.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r mockOrderRepo) SaveGuarded(ctx context.Context, o *lifecycle.Order, expectedStatus string) (bool, error) {
	if r.m.SaveGuardedFunc != nil {
		return r.m.SaveGuardedFunc(ctx, o, expectedStatus)
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	current, ok := r.m.orders[o.ID]
	if !ok || current.Status != expectedStatus {
		return false, nil
	}
	r.m.orders[o.ID] = o.Clone()
	return true, nil
}

func (r mockOrderRepo) ClaimCourier(ctx context.Context, o *lifecycle.Order) (bool, error) {
	if r.m.ClaimCourierFunc != nil {
		return r.m.ClaimCourierFunc(ctx, o)
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	current, ok := r.m.orders[o.ID]
	if !ok || current.Status != orderstatus.Statuses.Ready.Code() || current.CourierID != nil {
		return false, nil
	}
	id := *o.CourierID
	current.CourierID = &id
	current.UpdatedAt = o.UpdatedAt
	return true, nil
}

func (r mockOrderRepo) ListUnsettledCash(ctx context.Context, courierID uuid.UUID) ([]*lifecycle.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	result := []*lifecycle.Order{}
	for _, o := range r.m.orders {
		if remittance.Eligible(o, courierID) {
			result = append(result, o.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

func (r mockOrderRepo) NextNumber(ctx context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.seq++
	return r.m.seq, nil
}

type mockRemittanceRepo struct{ m *MockStore }

func (r mockRemittanceRepo) CreateLinked(ctx context.Context, rem *remittance.Remittance) error {
	if r.m.CreateLinkedFunc != nil {
		return r.m.CreateLinkedFunc(ctx, rem)
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, id := range rem.OrderIDs {
		o, ok := r.m.orders[id]
		if !ok || !remittance.Eligible(o, rem.CourierID) {
			return remittance.ErrRaceLost
		}
	}
	for _, id := range rem.OrderIDs {
		rid := rem.ID
		r.m.orders[id].RemittanceID = &rid
	}
	c := *rem
	r.m.remittances[rem.ID] = &c
	return nil
}

func (r mockRemittanceRepo) Get(ctx context.Context, id uuid.UUID) (*remittance.Remittance, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rem, ok := r.m.remittances[id]
	if !ok {
		return nil, nil
	}
	c := *rem
	return &c, nil
}

func (r mockRemittanceRepo) List(ctx context.Context, f RemittanceFilter) ([]*remittance.Remittance, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	result := []*remittance.Remittance{}
	for _, rem := range r.m.remittances {
		if f.CourierID != nil && rem.CourierID != *f.CourierID {
			continue
		}
		if f.Status != "" && rem.Status != f.Status {
			continue
		}
		c := *rem
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r mockRemittanceRepo) Resolve(ctx context.Context, rem *remittance.Remittance) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	current, ok := r.m.remittances[rem.ID]
	if !ok || current.Status != remittance.StatusPending {
		return remittance.ErrAlreadyResolved
	}
	c := *rem
	r.m.remittances[rem.ID] = &c
	if rem.Status == remittance.StatusRejected {
		for _, o := range r.m.orders {
			if o.RemittanceID != nil && *o.RemittanceID == rem.ID {
				o.RemittanceID = nil
			}
		}
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
