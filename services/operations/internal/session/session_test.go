package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/appetiteclub/delivery/pkg/actor"
	"github.com/appetiteclub/delivery/pkg/enums/actorrole"
	"github.com/appetiteclub/delivery/pkg/event"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
)

func escalationConfig() Config {
	return Config{
		Deadline:          120 * time.Second,
		EscalationEnabled: true,
		ReconcileAttempts: 2,
	}
}

func TestSessionEscalationScenario(t *testing.T) {
	ts := newTestSession(t, Deps{}, escalationConfig())
	ctx := ts.startMailbox(t)

	o1 := newPending(t0)
	ts.mustDo(t, ctx, func() { ts.handleEnvelope(envelope(event.KindNewOrder, o1)) })

	if got := ts.alerts.Played(PatternNewOrder); len(got) != 1 {
		t.Fatalf("new order chimes = %d, want 1", len(got))
	}

	ts.at(125 * time.Second)
	ts.mustDo(t, ctx, func() { ts.sweepAt(ts.clock) })

	if !ts.Snapshot().IsUrgent(o1.ID) {
		t.Fatal("O1 not urgent at t=125")
	}
	urgent := ts.signals.OfType(SignalUrgentAlert)
	if len(urgent) != 1 {
		t.Fatalf("urgent_alert signals = %d, want 1", len(urgent))
	}
	if *urgent[0].OrderID != o1.ID || urgent[0].WaitingMinutes != 2 {
		t.Errorf("urgent_alert = %+v", urgent[0])
	}
	if got := ts.alerts.Played(PatternUrgent); len(got) != 1 {
		t.Fatalf("urgent alerts at t=125 = %d, want 1", len(got))
	}

	ts.at(130 * time.Second)
	accepted := walk(t, o1, ts.clock, st.Accepted.Code())
	ts.mustDo(t, ctx, func() { ts.handleEnvelope(envelope(event.KindOrderUpdate, accepted)) })

	if ts.Snapshot().IsUrgent(o1.ID) {
		t.Error("O1 still urgent after acceptance")
	}
	if stopped := ts.alerts.Stopped(); len(stopped) != 1 || stopped[0] != o1.ID {
		t.Errorf("stopped = %v, want [%s]", stopped, o1.ID)
	}

	ts.at(150 * time.Second)
	ts.mustDo(t, ctx, func() { ts.sweepAt(ts.clock) })

	if _, ok := ts.watch.Get(o1.ID); ok {
		t.Error("watch entry for O1 survived acceptance")
	}
	if got := ts.alerts.Played(PatternUrgent); len(got) != 1 {
		t.Errorf("urgent alerts after t=150 = %d, want 1", len(got))
	}
	if got := ts.signals.OfType(SignalUrgentAlert); len(got) != 1 {
		t.Errorf("urgent_alert signals after t=150 = %d, want 1", len(got))
	}
}

func TestSessionEscalationRepeatsUntilAcknowledged(t *testing.T) {
	ts := newTestSession(t, Deps{}, escalationConfig())
	ctx := ts.startMailbox(t)

	o := newPending(t0)
	ts.mustDo(t, ctx, func() { ts.handleEnvelope(envelope(event.KindNewOrder, o)) })

	for _, at := range []time.Duration{125, 130, 135, 140} {
		ts.at(at * time.Second)
		ts.mustDo(t, ctx, func() { ts.sweepAt(ts.clock) })
	}

	if got := ts.signals.OfType(SignalUrgentAlert); len(got) != 1 {
		t.Errorf("urgent_alert signals = %d, want 1", len(got))
	}
	if got := ts.alerts.Played(PatternUrgent); len(got) != 4 {
		t.Errorf("urgent alerts = %d, want 4", len(got))
	}

	if err := ts.Acknowledge(ctx, o.ID); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	if err := ts.Acknowledge(ctx, o.ID); err != nil {
		t.Fatalf("second Acknowledge() error = %v", err)
	}

	// Status change right after the acknowledgement must not stop twice.
	accepted := walk(t, o, t0.Add(141*time.Second), st.Accepted.Code())
	ts.mustDo(t, ctx, func() { ts.handleEnvelope(envelope(event.KindOrderUpdate, accepted)) })

	if stopped := ts.alerts.Stopped(); len(stopped) != 1 {
		t.Errorf("stops = %d, want 1", len(stopped))
	}

	ts.at(200 * time.Second)
	ts.mustDo(t, ctx, func() { ts.sweepAt(ts.clock) })
	if got := ts.alerts.Played(PatternUrgent); len(got) != 4 {
		t.Errorf("urgent alerts after ack = %d, want 4", len(got))
	}
}

func TestSessionAcknowledgeUnknownOrder(t *testing.T) {
	ts := newTestSession(t, Deps{}, escalationConfig())
	ctx := ts.startMailbox(t)

	if err := ts.Acknowledge(ctx, uuid.New()); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("Acknowledge() error = %v, want ErrUnknownOrder", err)
	}
}

func TestSessionEscalationDisabled(t *testing.T) {
	cfg := escalationConfig()
	cfg.EscalationEnabled = false
	ts := newTestSession(t, Deps{}, cfg)
	ctx := ts.startMailbox(t)

	o := newPending(t0)
	ts.mustDo(t, ctx, func() { ts.handleEnvelope(envelope(event.KindNewOrder, o)) })
	ts.at(10 * time.Minute)
	ts.mustDo(t, ctx, func() { ts.sweepAt(ts.clock) })

	if ts.watch.Len() != 0 {
		t.Errorf("watch entries = %d, want 0", ts.watch.Len())
	}
	if got := ts.signals.OfType(SignalUrgentAlert); len(got) != 0 {
		t.Errorf("urgent_alert signals = %d, want 0", len(got))
	}
}

func TestSessionHandleEnvelope(t *testing.T) {
	o := newPending(t0)
	delivered := walk(t, o, t0.Add(time.Hour),
		st.Accepted.Code(), st.Preparing.Code(), st.Ready.Code(), st.PickedUp.Code(), st.Delivering.Code(), st.Delivered.Code())
	accepted := walk(t, o, t0.Add(time.Minute), st.Accepted.Code())

	tests := []struct {
		name       string
		envelopes  []*event.Envelope
		wantStatus string
		wantHeld   bool
	}{
		{
			name:       "outOfOrderStaysDelivered",
			envelopes:  []*event.Envelope{envelope(event.KindDeliveryArrived, delivered), envelope(event.KindOrderUpdate, accepted)},
			wantStatus: st.Delivered.Code(),
			wantHeld:   true,
		},
		{
			name:       "duplicateDelivery",
			envelopes:  []*event.Envelope{envelope(event.KindOrderUpdate, accepted), envelope(event.KindOrderUpdate, accepted)},
			wantStatus: st.Accepted.Code(),
			wantHeld:   true,
		},
		{
			name:      "missingSnapshotDropped",
			envelopes: []*event.Envelope{{Kind: event.KindNewOrder}},
		},
		{
			name:      "unknownKindDropped",
			envelopes: []*event.Envelope{{Kind: "table_update", Order: o}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestSession(t, Deps{}, escalationConfig())
			ctx := ts.startMailbox(t)

			for _, env := range tt.envelopes {
				ts.mustDo(t, ctx, func() { ts.handleEnvelope(env) })
			}

			got, ok := ts.Snapshot().Get(o.ID)
			if ok != tt.wantHeld {
				t.Fatalf("held = %v, want %v", ok, tt.wantHeld)
			}
			if ok && got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
		})
	}
}

func TestSessionReconcileConverges(t *testing.T) {
	o1 := newPending(t0)
	o2 := walk(t, newPending(t0.Add(time.Second)), t0, st.Accepted.Code())
	o3 := walk(t, newPending(t0.Add(2*time.Second)), t0, st.Accepted.Code(), st.Preparing.Code())
	gone := walk(t, newPending(t0.Add(3*time.Second)), t0, st.Accepted.Code())

	var authoritative []*lifecycle.Order
	source := &MockSource{
		FetchFunc: func(ctx context.Context, since time.Time) ([]*lifecycle.Order, error) {
			return authoritative, nil
		},
	}

	ts := newTestSession(t, Deps{Source: source}, escalationConfig())
	ctx := ts.startMailbox(t)

	for _, o := range []*lifecycle.Order{o1, o2, o3, gone} {
		ts.mustDo(t, ctx, func() { ts.handleEnvelope(envelope(event.KindNewOrder, o)) })
	}
	ts.at(125 * time.Second)
	ts.mustDo(t, ctx, func() { ts.sweepAt(ts.clock) })
	if !ts.Snapshot().IsUrgent(o1.ID) {
		t.Fatal("O1 not urgent before the gap")
	}

	// Three orders change while the session is away.
	authoritative = []*lifecycle.Order{
		walk(t, o1, t0.Add(126*time.Second), st.Accepted.Code()),
		walk(t, o2, t0.Add(126*time.Second), st.Cancelled.Code()),
		walk(t, o3, t0.Add(126*time.Second), st.Ready.Code()),
	}

	if err := ts.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	snap := ts.Snapshot()
	if snap.Len() != len(authoritative) {
		t.Fatalf("store size = %d, want %d", snap.Len(), len(authoritative))
	}
	for _, want := range authoritative {
		got, ok := snap.Get(want.ID)
		if !ok {
			t.Fatalf("order %s missing", want.ID)
		}
		if got.Status != want.Status {
			t.Errorf("order %s status = %s, want %s", want.ID, got.Status, want.Status)
		}
	}
	if snap.IsUrgent(o1.ID) {
		t.Error("O1 still urgent after reconcile")
	}
	if ts.watch.Len() != 0 {
		t.Errorf("watch entries = %d, want 0", ts.watch.Len())
	}
	if stopped := ts.alerts.Stopped(); len(stopped) != 1 || stopped[0] != o1.ID {
		t.Errorf("stopped = %v, want [%s]", stopped, o1.ID)
	}
}

func TestSessionReconcileRebuildsWatchFromCreatedAt(t *testing.T) {
	old := newPending(t0.Add(-5 * time.Minute))
	fresh := newPending(t0.Add(-10 * time.Second))
	acked := newPending(t0.Add(-10 * time.Minute))

	source := &MockSource{
		FetchFunc: func(ctx context.Context, since time.Time) ([]*lifecycle.Order, error) {
			return []*lifecycle.Order{old, fresh, acked}, nil
		},
	}
	ts := newTestSession(t, Deps{Source: source}, escalationConfig())
	ctx := ts.startMailbox(t)

	ts.mustDo(t, ctx, func() { ts.handleEnvelope(envelope(event.KindNewOrder, acked)) })
	if err := ts.Acknowledge(ctx, acked.ID); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	if err := ts.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	ts.mustDo(t, ctx, func() { ts.sweepAt(ts.clock) })

	if !ts.Snapshot().IsUrgent(old.ID) {
		t.Error("order pending for 5 minutes not escalated on first sweep")
	}
	if ts.Snapshot().IsUrgent(fresh.ID) {
		t.Error("fresh order escalated")
	}
	if _, ok := ts.watch.Get(acked.ID); ok {
		t.Error("acknowledged order watched again after reconcile")
	}
}

func TestSessionReconcileFailureKeepsStaleView(t *testing.T) {
	var calls atomic.Int32
	source := &MockSource{
		FetchFunc: func(ctx context.Context, since time.Time) ([]*lifecycle.Order, error) {
			calls.Add(1)
			return nil, errors.New("backend unavailable")
		},
	}
	ts := newTestSession(t, Deps{Source: source}, escalationConfig())
	ctx := ts.startMailbox(t)

	o := newPending(t0)
	ts.mustDo(t, ctx, func() { ts.handleEnvelope(envelope(event.KindNewOrder, o)) })

	err := ts.Reconcile(ctx)
	if !errors.Is(err, ErrReconciliationFailed) {
		t.Fatalf("Reconcile() error = %v, want ErrReconciliationFailed", err)
	}
	if calls.Load() != 2 {
		t.Errorf("fetch attempts = %d, want 2", calls.Load())
	}

	snap := ts.Snapshot()
	if !snap.Stale {
		t.Error("view not marked stale")
	}
	if _, ok := snap.Get(o.ID); !ok {
		t.Error("prior view cleared on failure")
	}
}

func TestSessionPerform(t *testing.T) {
	o := newPending(t0)
	var gotAction Action
	var gotInput ActionInput
	actions := &MockActions{
		PerformFunc: func(ctx context.Context, id uuid.UUID, action Action, in ActionInput) (*lifecycle.Order, error) {
			gotAction, gotInput = action, in
			return walk(t, o, t0.Add(time.Minute), st.Accepted.Code()), nil
		},
	}
	ts := newTestSession(t, Deps{Actions: actions}, escalationConfig())
	ctx := ts.startMailbox(t)
	ts.mustDo(t, ctx, func() { ts.handleEnvelope(envelope(event.KindNewOrder, o)) })

	got, err := ts.Accept(ctx, o.ID, 20)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if gotAction != ActionAccept || gotInput.EstimatedMinutes != 20 {
		t.Errorf("backend call = %s %+v", gotAction, gotInput)
	}
	if got.Status != st.Accepted.Code() {
		t.Errorf("status = %s, want accepted", got.Status)
	}
	if ts.watch.Len() != 0 {
		t.Error("accepted order still watched")
	}
}

func TestSessionClaimDeliveryUsesSessionCourier(t *testing.T) {
	var gotCourier *uuid.UUID
	actions := &MockActions{
		PerformFunc: func(ctx context.Context, id uuid.UUID, action Action, in ActionInput) (*lifecycle.Order, error) {
			gotCourier = in.CourierID
			return nil, errors.New("conflict")
		},
	}
	cfg := Config{Actor: actor.Actor{ID: courierID, Role: actorrole.Roles.Courier.Code()}}
	ts := newTestSession(t, Deps{Actions: actions}, cfg)
	ctx := ts.startMailbox(t)

	if _, err := ts.ClaimDelivery(ctx, uuid.New()); err == nil {
		t.Fatal("ClaimDelivery() error = nil")
	}
	if gotCourier == nil || *gotCourier != courierID {
		t.Errorf("courier = %v, want %s", gotCourier, courierID)
	}
}

func TestSessionRun(t *testing.T) {
	existing := walk(t, newPending(t0), t0, st.Accepted.Code())
	pushed := newPending(t0.Add(time.Second))

	streams := make(chan *MockStream, 4)
	transport := &MockTransport{
		DialFunc: func(ctx context.Context, token string) (Stream, error) {
			if token != "secret-token" {
				return nil, errors.New("unauthenticated")
			}
			s := NewMockStream(ctx)
			streams <- s
			return s, nil
		},
	}
	source := &MockSource{
		FetchFunc: func(ctx context.Context, since time.Time) ([]*lifecycle.Order, error) {
			return []*lifecycle.Order{existing}, nil
		},
	}

	cfg := escalationConfig()
	cfg.Token = "secret-token"
	cfg.Channel = ChannelConfig{Attempts: 2, Delay: time.Millisecond}
	ts := newTestSession(t, Deps{Transport: transport, Source: source}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.Run(ctx) }()

	stream := <-streams
	waitFor(t, "reconciled order", func() bool {
		_, ok := ts.Snapshot().Get(existing.ID)
		return ok
	})

	stream.Events <- envelope(event.KindNewOrder, pushed)
	waitFor(t, "pushed order", func() bool {
		_, ok := ts.Snapshot().Get(pushed.ID)
		return ok
	})

	status, err := ts.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Connection != StateConnected || status.Orders != 2 || status.Watching != 1 {
		t.Errorf("status = %+v", status)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if ts.Snapshot().Len() != 0 {
		t.Error("store not cleared on teardown")
	}
}

func TestSessionRunWithoutTransport(t *testing.T) {
	ts := newTestSession(t, Deps{}, escalationConfig())
	if err := ts.Run(context.Background()); err == nil {
		t.Error("Run() error = nil, want missing transport error")
	}
}

// runConnected starts ts on a transport that keeps a single healthy stream.
func runConnected(t *testing.T, ts *testSession, transport *MockTransport) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})
}

func healthyTransport() *MockTransport {
	return &MockTransport{
		DialFunc: func(ctx context.Context, token string) (Stream, error) {
			return NewMockStream(ctx), nil
		},
	}
}

func TestSessionReconcileRecoversWhileConnected(t *testing.T) {
	existing := newPending(t0)
	var calls atomic.Int32
	source := &MockSource{
		FetchFunc: func(ctx context.Context, since time.Time) ([]*lifecycle.Order, error) {
			if calls.Add(1) <= 2 {
				return nil, errors.New("order service restarting")
			}
			return []*lifecycle.Order{existing}, nil
		},
	}
	transport := healthyTransport()

	cfg := escalationConfig()
	cfg.ReconcileDelay = time.Millisecond
	cfg.ReconcileRecovery = 20 * time.Millisecond
	cfg.Channel = ChannelConfig{Attempts: 2, Delay: time.Millisecond}
	ts := newTestSession(t, Deps{Transport: transport, Source: source}, cfg)
	runConnected(t, ts, transport)

	waitFor(t, "converged view", func() bool {
		snap := ts.Snapshot()
		_, ok := snap.Get(existing.ID)
		return ok && !snap.Stale
	})

	if got := calls.Load(); got != 3 {
		t.Errorf("fetch calls = %d, want 3", got)
	}
	if got := transport.Calls(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	waitFor(t, "watch entry", func() bool {
		status, err := ts.Status(context.Background())
		return err == nil && status.Watching == 1
	})
}

func TestSessionReconnectWhileConnectedReconciles(t *testing.T) {
	existing := newPending(t0)
	var calls atomic.Int32
	source := &MockSource{
		FetchFunc: func(ctx context.Context, since time.Time) ([]*lifecycle.Order, error) {
			if calls.Add(1) <= 2 {
				return nil, errors.New("order service restarting")
			}
			return []*lifecycle.Order{existing}, nil
		},
	}
	transport := healthyTransport()

	cfg := escalationConfig()
	cfg.ReconcileDelay = time.Millisecond
	cfg.ReconcileRecovery = time.Hour
	cfg.Channel = ChannelConfig{Attempts: 2, Delay: time.Millisecond}
	ts := newTestSession(t, Deps{Transport: transport, Source: source}, cfg)
	runConnected(t, ts, transport)

	waitFor(t, "failed reconciliation", func() bool { return calls.Load() == 2 && ts.Snapshot().Stale })

	ts.Reconnect()

	waitFor(t, "converged view", func() bool {
		snap := ts.Snapshot()
		_, ok := snap.Get(existing.ID)
		return ok && !snap.Stale
	})
	if got := transport.Calls(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}
