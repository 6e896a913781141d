package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/appetiteclub/delivery/pkg/actor"
	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/event"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
)

const (
	DefaultDeadline          = 2 * time.Minute
	DefaultSweepInterval     = 5 * time.Second
	DefaultReconcileAttempts = 3
	DefaultReconcileDelay    = 2 * time.Second
	DefaultReconcileRecovery = 15 * time.Second
)

// OrderSource fetches the authoritative order list visible to the session
// actor. Terminal orders last updated before since may be left out.
type OrderSource interface {
	Fetch(ctx context.Context, since time.Time) ([]*lifecycle.Order, error)
}

type Config struct {
	Actor actor.Actor
	Token string

	Deadline          time.Duration
	SweepInterval     time.Duration
	EscalationEnabled bool

	ReconcileAttempts int
	ReconcileDelay    time.Duration
	// ReconcileRecovery is how long a failed reconciliation waits before
	// trying again while the channel stays connected.
	ReconcileRecovery time.Duration
	// CompletedWindow bounds how far back terminal orders are fetched.
	// Zero fetches all of them.
	CompletedWindow time.Duration

	Channel ChannelConfig
}

type Deps struct {
	Transport Transport
	Source    OrderSource
	Actions   OrderActions
	Alerts    AlertSink
	Signals   SignalSink
}

// Status is a point in time summary of the session.
type Status struct {
	ActorID    uuid.UUID `json:"actor_id"`
	Role       string    `json:"role"`
	Connection ConnState `json:"connection"`
	Error      string    `json:"error,omitempty"`
	Stale      bool      `json:"stale"`
	Version    uint64    `json:"version"`
	Orders     int       `json:"orders"`
	Watching   int       `json:"watching"`
	Urgent     int       `json:"urgent"`
}

type message struct {
	fn   func()
	done chan struct{}
}

// Session is the state of one actor device. The store, the watch map and
// the acknowledged set are only written from the mailbox goroutine.
type Session struct {
	cfg     Config
	store   *Store
	watch   *Watch
	acked   map[uuid.UUID]bool
	channel *Channel

	source  OrderSource
	actions OrderActions
	alerts  AlertSink
	signals SignalSink

	logger aqm.Logger
	now    func() time.Time

	mailbox     chan message
	stopped     chan struct{}
	reconcileCh chan struct{}
	runCtx      context.Context
}

func New(cfg Config, deps Deps, logger aqm.Logger) *Session {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.ReconcileAttempts <= 0 {
		cfg.ReconcileAttempts = DefaultReconcileAttempts
	}
	if cfg.ReconcileDelay < 0 {
		cfg.ReconcileDelay = 0
	}
	if cfg.ReconcileRecovery <= 0 {
		cfg.ReconcileRecovery = DefaultReconcileRecovery
	}

	alerts := deps.Alerts
	if alerts == nil {
		alerts = MultiSink{}
	}
	signals := deps.Signals
	if signals == nil {
		signals = nopSignals{}
	}

	s := &Session{
		cfg:         cfg,
		store:       NewStore(),
		watch:       NewWatch(),
		acked:       map[uuid.UUID]bool{},
		source:      deps.Source,
		actions:     deps.Actions,
		alerts:      alerts,
		signals:     signals,
		logger:      logger.With("component", "session", "actor_id", cfg.Actor.ID.String(), "role", cfg.Actor.Role),
		now:         time.Now,
		mailbox:     make(chan message),
		stopped:     make(chan struct{}),
		reconcileCh: make(chan struct{}, 1),
		runCtx:      context.Background(),
	}

	s.channel = NewChannel(deps.Transport, cfg.Token, cfg.Channel, ChannelHandlers{
		OnState:     s.onConnState,
		OnConnected: func(context.Context) { s.requestReconcile() },
		OnEnvelope:  s.onEnvelope,
	}, logger)

	s.store.Subscribe(func(snap *Snapshot) {
		s.signals.Emit(Signal{
			Type:    SignalStoreChanged,
			At:      s.now(),
			Version: snap.Version,
			Stale:   snap.Stale,
		})
	})

	return s
}

func (s *Session) Store() *Store {
	return s.store
}

func (s *Session) Snapshot() *Snapshot {
	return s.store.Snapshot()
}

func (s *Session) Actor() actor.Actor {
	return s.cfg.Actor
}

// Reconnect wakes a channel parked after exhausting its connect budget.
// With the channel already connected it asks for a fresh reconciliation.
func (s *Session) Reconnect() {
	if state, _ := s.channel.State(); state == StateConnected {
		s.requestReconcile()
		return
	}
	s.channel.Reconnect()
}

// Run drives the session until ctx is done. Channel and reconciliation
// failures degrade the session; they never end Run.
func (s *Session) Run(ctx context.Context) error {
	if s.channel.transport == nil {
		return errors.New("session transport not configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	s.runCtx = gctx

	g.Go(func() error { return s.loop(gctx) })
	g.Go(func() error { return s.channel.Run(gctx) })
	g.Go(func() error { return s.reconcileLoop(gctx) })
	g.Go(func() error { return s.sweepLoop(gctx) })

	s.logger.Info("session started", "deadline", s.cfg.Deadline.String(), "escalation", s.cfg.EscalationEnabled)
	err := g.Wait()
	s.teardown()

	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// Status reports connection and store counters.
func (s *Session) Status(ctx context.Context) (Status, error) {
	state, cerr := s.channel.State()
	st := Status{
		ActorID:    s.cfg.Actor.ID,
		Role:       s.cfg.Actor.Role,
		Connection: state,
	}
	if cerr != nil {
		st.Error = cerr.Error()
	}

	err := s.do(ctx, func() {
		snap := s.store.Snapshot()
		st.Stale = snap.Stale
		st.Version = snap.Version
		st.Orders = snap.Len()
		st.Urgent = len(snap.urgent)
		st.Watching = s.watch.Len()
	})
	return st, err
}

// Acknowledge records that the actor has seen the order. It silences any
// alert for it and keeps it out of the watch map for the rest of the
// session. Acknowledging twice is a no-op.
func (s *Session) Acknowledge(ctx context.Context, id uuid.UUID) error {
	var known bool
	err := s.do(ctx, func() {
		if _, known = s.store.Snapshot().orders[id]; !known {
			return
		}
		s.acked[id] = true
		s.release(id)
	})
	if err != nil {
		return err
	}
	if !known {
		return ErrUnknownOrder
	}
	return nil
}

// Reconcile fetches the authoritative list and rebuilds the session view.
func (s *Session) Reconcile(ctx context.Context) error {
	return s.reconcile(ctx)
}

func (s *Session) do(ctx context.Context, fn func()) error {
	m := message{fn: fn, done: make(chan struct{})}
	select {
	case s.mailbox <- m:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
	<-m.done
	return nil
}

func (s *Session) loop(ctx context.Context) error {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-s.mailbox:
			m.fn()
			close(m.done)
		}
	}
}

func (s *Session) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.do(ctx, func() { s.sweepAt(s.now()) }); err != nil {
				return err
			}
		}
	}
}

// reconcileLoop runs one reconciliation at a time. A failed one is tried
// again after ReconcileRecovery while the channel is connected; otherwise
// the next connect asks for it.
func (s *Session) reconcileLoop(ctx context.Context) error {
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.reconcileCh:
		case <-retry:
			if state, _ := s.channel.State(); state != StateConnected {
				retry = nil
				continue
			}
		}
		retry = nil

		err := s.reconcile(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error("reconciliation failed", "error", err)
		if state, _ := s.channel.State(); state == StateConnected {
			s.logger.Info("reconciliation retry scheduled", "in", s.cfg.ReconcileRecovery.String())
			retry = time.After(s.cfg.ReconcileRecovery)
		}
	}
}

func (s *Session) requestReconcile() {
	select {
	case s.reconcileCh <- struct{}{}:
	default:
	}
}

func (s *Session) onConnState(state ConnState, err error) {
	sig := connectionSignal(state, err, s.now())
	s.signals.Emit(sig)

	if state != StateConnected {
		if derr := s.do(s.runCtx, func() { s.store.SetStale(true) }); derr != nil {
			s.logger.Debug("stale flag not set", "error", derr)
		}
	}
}

func (s *Session) onEnvelope(env *event.Envelope) {
	if err := s.do(s.runCtx, func() { s.handleEnvelope(env) }); err != nil {
		s.logger.Debug("envelope not applied", "kind", string(env.Kind), "error", err)
	}
}

// handleEnvelope runs on the mailbox.
func (s *Session) handleEnvelope(env *event.Envelope) {
	ev, err := env.Decode()
	if err != nil {
		s.logger.Info("event dropped", "kind", string(env.Kind), "error", err)
		return
	}
	s.applyOrder(ev.Snapshot(), ev.Kind())
}

// applyOrder upserts o and keeps the watch map in step. It returns the
// order held after the call. kind is empty for local action results.
func (s *Session) applyOrder(o *lifecycle.Order, kind event.Kind) *lifecycle.Order {
	var from string
	if held, ok := s.store.Snapshot().orders[incomingID(o)]; ok {
		from = held.Status
	}

	next, outcome, err := s.store.Upsert(o)
	switch {
	case errors.Is(err, lifecycle.ErrStaleEvent):
		s.logger.Debug("stale event ignored", "order_id", o.ID.String(), "held", from, "incoming", o.Status)
		return next
	case err != nil:
		to := ""
		if o != nil {
			to = o.Status
		}
		s.logger.Info("invalid event dropped", "order_id", incomingID(o).String(), "from", from, "to", to, "error", err)
		return next
	case outcome == lifecycle.Duplicate:
		return next
	}

	s.syncWatch(next)

	if kind != "" {
		now := s.now()
		sig := orderSignal(SignalOrderEvent, next.ID, now)
		sig.Kind = string(kind)
		sig.Status = next.Status
		s.signals.Emit(sig)

		if pattern, ok := PatternFor(kind); ok {
			s.alerts.Play(Alert{OrderID: next.ID, Pattern: pattern, Kind: string(kind), At: now})
		}
	}
	return next
}

func (s *Session) syncWatch(o *lifecycle.Order) {
	if o.Status != orderstatus.Statuses.Pending.Code() {
		s.release(o.ID)
		return
	}
	if !s.cfg.EscalationEnabled || s.acked[o.ID] {
		return
	}
	s.watch.Track(o.ID, s.receivedAt(o))
}

// release drops the watch entry of id and stops its alert. Safe to call
// any number of times.
func (s *Session) release(id uuid.UUID) {
	entry, ok := s.watch.Remove(id)
	s.store.SetUrgent(id, false)
	if !ok || !entry.Escalated {
		return
	}
	s.alerts.Stop(id)
	s.signals.Emit(orderSignal(SignalAlertStopped, id, s.now()))
}

func (s *Session) receivedAt(o *lifecycle.Order) time.Time {
	now := s.now()
	if o.CreatedAt.IsZero() || o.CreatedAt.After(now) {
		return now
	}
	return o.CreatedAt
}

// sweepAt runs one escalation check on the mailbox.
func (s *Session) sweepAt(now time.Time) {
	escalated, alerting := s.watch.Sweep(now, s.cfg.Deadline)

	for _, e := range escalated {
		minutes := e.WaitingMinutes(now)
		s.logger.Info("order escalated", "order_id", e.OrderID.String(), "waiting_minutes", minutes)
		s.store.SetUrgent(e.OrderID, true)

		sig := orderSignal(SignalUrgentAlert, e.OrderID, now)
		sig.WaitingMinutes = minutes
		s.signals.Emit(sig)
	}

	for _, e := range alerting {
		minutes := e.WaitingMinutes(now)
		s.alerts.Play(Alert{
			OrderID:        e.OrderID,
			Pattern:        PatternUrgent,
			Kind:           "urgent",
			WaitingMinutes: minutes,
			Repeat:         true,
			At:             now,
		})

		sig := orderSignal(SignalAlert, e.OrderID, now)
		sig.Pattern = PatternUrgent
		sig.WaitingMinutes = minutes
		s.signals.Emit(sig)
	}
}

func (s *Session) reconcile(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("%w: no order source", ErrReconciliationFailed)
	}

	since := s.store.Snapshot().Version
	var window time.Time
	if s.cfg.CompletedWindow > 0 {
		window = s.now().Add(-s.cfg.CompletedWindow)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.ReconcileAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.ReconcileDelay):
			}
		}

		orders, err := s.source.Fetch(ctx, window)
		if err == nil {
			return s.do(ctx, func() { s.rebuild(orders, since) })
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		s.logger.Info("reconcile fetch failed", "attempt", attempt, "of", s.cfg.ReconcileAttempts, "error", err)
	}

	if err := s.do(ctx, func() { s.store.SetStale(true) }); err != nil {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrReconciliationFailed, s.cfg.ReconcileAttempts, lastErr)
}

// rebuild swaps in a fetched list and derives the watch map from it again.
func (s *Session) rebuild(fetched []*lifecycle.Order, since uint64) {
	previous := s.watch
	snap := s.store.Replace(fetched, since)

	s.watch = NewWatch()
	if s.cfg.EscalationEnabled {
		for _, o := range snap.Pending() {
			if s.acked[o.ID] {
				continue
			}
			s.watch.Track(o.ID, s.receivedAt(o))
			if e, ok := previous.Get(o.ID); ok && e.Escalated {
				s.watch.MarkEscalated(o.ID)
			}
		}
	}

	for _, id := range previous.IDs() {
		if _, ok := s.watch.Get(id); ok {
			continue
		}
		if e, _ := previous.Get(id); e.Escalated {
			s.alerts.Stop(id)
			s.signals.Emit(orderSignal(SignalAlertStopped, id, s.now()))
		}
	}

	s.logger.Info("session reconciled", "orders", snap.Len(), "watching", s.watch.Len())
}

// teardown releases every alert once the mailbox is gone.
func (s *Session) teardown() {
	for _, id := range s.watch.IDs() {
		if e, ok := s.watch.Remove(id); ok && e.Escalated {
			s.alerts.Stop(id)
		}
	}
	s.store.Clear()
	s.logger.Info("session stopped")
}
