package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/actor"
	"github.com/appetiteclub/delivery/pkg/enums/actorrole"
	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/event"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
)

var (
	restaurantID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	customerID   = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	courierID    = uuid.MustParse("33333333-3333-3333-3333-333333333333")

	t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	st = orderstatus.Statuses
)

type MockTransport struct {
	mu       sync.Mutex
	calls    int
	DialFunc func(ctx context.Context, token string) (Stream, error)
}

func (m *MockTransport) Dial(ctx context.Context, token string) (Stream, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.DialFunc != nil {
		return m.DialFunc(ctx, token)
	}
	return nil, errors.New("dial not configured")
}

func (m *MockTransport) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockStream replays envelopes pushed on Events until the dial context ends
// or Events is closed.
type MockStream struct {
	ctx    context.Context
	Events chan *event.Envelope
	closed chan struct{}
	once   sync.Once
}

func NewMockStream(ctx context.Context) *MockStream {
	return &MockStream{
		ctx:    ctx,
		Events: make(chan *event.Envelope, 16),
		closed: make(chan struct{}),
	}
}

func (m *MockStream) Recv() (*event.Envelope, error) {
	select {
	case <-m.ctx.Done():
		return nil, m.ctx.Err()
	case env, ok := <-m.Events:
		if !ok {
			return nil, io.EOF
		}
		return env, nil
	}
}

func (m *MockStream) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

type MockSource struct {
	FetchFunc func(ctx context.Context, since time.Time) ([]*lifecycle.Order, error)
}

func (m *MockSource) Fetch(ctx context.Context, since time.Time) ([]*lifecycle.Order, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, since)
	}
	return nil, nil
}

type MockActions struct {
	PerformFunc func(ctx context.Context, id uuid.UUID, action Action, in ActionInput) (*lifecycle.Order, error)
}

func (m *MockActions) Perform(ctx context.Context, id uuid.UUID, action Action, in ActionInput) (*lifecycle.Order, error) {
	if m.PerformFunc != nil {
		return m.PerformFunc(ctx, id, action, in)
	}
	return nil, errors.New("perform not configured")
}

type MockAlertSink struct {
	mu      sync.Mutex
	played  []Alert
	stopped []uuid.UUID
}

func (m *MockAlertSink) Play(a Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.played = append(m.played, a)
}

func (m *MockAlertSink) Stop(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, id)
}

func (m *MockAlertSink) Played(pattern Pattern) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.played {
		if a.Pattern == pattern {
			out = append(out, a)
		}
	}
	return out
}

func (m *MockAlertSink) Stopped() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.stopped...)
}

type MockSignals struct {
	mu      sync.Mutex
	signals []Signal
}

func (m *MockSignals) Emit(sig Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, sig)
}

func (m *MockSignals) OfType(typ SignalType) []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Signal
	for _, s := range m.signals {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func newPending(at time.Time) *lifecycle.Order {
	return lifecycle.NewOrder(restaurantID, customerID, decimal.NewFromInt(100), decimal.NewFromInt(10),
		decimal.RequireFromString("0.1"), lifecycle.PaymentCash, at)
}

// walk applies each target in turn with the role that owns the edge.
func walk(t *testing.T, o *lifecycle.Order, at time.Time, targets ...string) *lifecycle.Order {
	t.Helper()
	roles := actorrole.Roles
	for _, target := range targets {
		tr := lifecycle.Transition{Target: target, At: at}
		switch target {
		case st.Accepted.Code():
			tr.Role, tr.ActorID, tr.EstimatedMinutes = roles.Restaurant.Code(), restaurantID, 15
		case st.Refused.Code():
			tr.Role, tr.ActorID, tr.Reason = roles.Restaurant.Code(), restaurantID, "closed"
		case st.Preparing.Code(), st.Ready.Code():
			tr.Role, tr.ActorID = roles.Restaurant.Code(), restaurantID
		case st.PickedUp.Code():
			if o.CourierID == nil {
				assigned, _, err := lifecycle.AssignCourier(o, courierID, roles.Admin.Code(), uuid.Nil, at)
				if err != nil {
					t.Fatalf("AssignCourier() error = %v", err)
				}
				o = assigned
			}
			tr.Role, tr.ActorID = roles.Courier.Code(), courierID
		case st.Delivering.Code(), st.Delivered.Code():
			tr.Role, tr.ActorID = roles.Courier.Code(), courierID
		case st.Cancelled.Code():
			tr.Role, tr.ActorID, tr.Reason = roles.Customer.Code(), customerID, "changed mind"
		}
		next, _, err := lifecycle.Apply(o, tr)
		if err != nil {
			t.Fatalf("Apply(%s) error = %v", target, err)
		}
		o = next
	}
	return o
}

func envelope(kind event.Kind, o *lifecycle.Order) *event.Envelope {
	return &event.Envelope{Kind: kind, OccurredAt: o.UpdatedAt, Order: o.Clone()}
}

type testSession struct {
	*Session
	alerts  *MockAlertSink
	signals *MockSignals
	clock   time.Time
}

func newTestSession(t *testing.T, deps Deps, cfg Config) *testSession {
	t.Helper()
	alerts := &MockAlertSink{}
	signals := &MockSignals{}
	if deps.Alerts == nil {
		deps.Alerts = alerts
	}
	if deps.Signals == nil {
		deps.Signals = signals
	}
	if cfg.Actor.ID == uuid.Nil {
		cfg.Actor = actor.Actor{ID: restaurantID, Role: actorrole.Roles.Restaurant.Code()}
	}

	ts := &testSession{alerts: alerts, signals: signals, clock: t0}
	ts.Session = New(cfg, deps, nil)
	ts.Session.now = func() time.Time { return ts.clock }
	return ts
}

// startMailbox runs the mailbox goroutine alone so tests can drive the
// sweep and the handlers by hand.
func (ts *testSession) startMailbox(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ts.loop(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctx
}

func (ts *testSession) at(offset time.Duration) {
	ts.clock = t0.Add(offset)
}

func (ts *testSession) mustDo(t *testing.T, ctx context.Context, fn func()) {
	t.Helper()
	if err := ts.do(ctx, fn); err != nil {
		t.Fatalf("do() error = %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
