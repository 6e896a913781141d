package session

import (
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"

	"github.com/appetiteclub/delivery/pkg/event"
)

// Pattern names a sound or vibration pattern of the device.
type Pattern string

const (
	PatternUrgent     Pattern = "urgent"
	PatternNewOrder   Pattern = "new_order"
	PatternCancelled  Pattern = "cancelled"
	PatternAssignment Pattern = "assignment"
	PatternPickedUp   Pattern = "picked_up"
	PatternArrived    Pattern = "arrived"
)

var eventPatterns = map[event.Kind]Pattern{
	event.KindNewOrder:         PatternNewOrder,
	event.KindOrderCancelled:   PatternCancelled,
	event.KindDeliveryAssigned: PatternAssignment,
	event.KindOrderPickedUp:    PatternPickedUp,
	event.KindDeliveryArrived:  PatternArrived,
}

// PatternFor returns the pattern played for kind. Plain updates are silent.
func PatternFor(kind event.Kind) (Pattern, bool) {
	p, ok := eventPatterns[kind]
	return p, ok
}

// Alert is one playback request. Repeat marks an alert that keeps playing
// until Stop is called for its order.
type Alert struct {
	OrderID        uuid.UUID
	Pattern        Pattern
	Kind           string
	WaitingMinutes int
	Repeat         bool
	At             time.Time
}

// AlertSink is the device side alert subsystem. Play starts or repeats a
// playback for an order; Stop releases it and is a no-op when nothing plays.
type AlertSink interface {
	Play(Alert)
	Stop(orderID uuid.UUID)
}

// MultiSink fans every call out to all sinks.
type MultiSink []AlertSink

func (m MultiSink) Play(a Alert) {
	for _, s := range m {
		s.Play(a)
	}
}

func (m MultiSink) Stop(id uuid.UUID) {
	for _, s := range m {
		s.Stop(id)
	}
}

// LogSink writes alerts to the service log. It stands in for a device
// speaker on headless deployments.
type LogSink struct {
	logger aqm.Logger

	mu      sync.Mutex
	playing map[uuid.UUID]Pattern
}

func NewLogSink(logger aqm.Logger) *LogSink {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &LogSink{
		logger:  logger.With("component", "alerts"),
		playing: map[uuid.UUID]Pattern{},
	}
}

func (s *LogSink) Play(a Alert) {
	if a.Repeat {
		s.mu.Lock()
		s.playing[a.OrderID] = a.Pattern
		s.mu.Unlock()
	}

	s.logger.Info("alert",
		"order_id", a.OrderID.String(),
		"pattern", string(a.Pattern),
		"kind", a.Kind,
		"waiting_minutes", a.WaitingMinutes,
	)
}

func (s *LogSink) Stop(id uuid.UUID) {
	s.mu.Lock()
	_, ok := s.playing[id]
	delete(s.playing, id)
	s.mu.Unlock()

	if ok {
		s.logger.Info("alert stopped", "order_id", id.String())
	}
}

// Playing reports whether an alert for id has not been stopped.
func (s *LogSink) Playing(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.playing[id]
	return ok
}
