package feed

import (
	"sync"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"

	"github.com/appetiteclub/delivery/services/operations/internal/session"
)

const defaultBuffer = 64

// Hub fans session signals out to UI subscribers. It never blocks the
// session: a subscriber that falls behind loses signals, and the last
// connection status is replayed to every new subscriber.
type Hub struct {
	logger aqm.Logger
	buffer int

	mu          sync.RWMutex
	subscribers map[string]chan session.Signal
	lastStatus  *session.Signal
	closed      bool
}

func NewHub(buffer int, logger aqm.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Hub{
		logger:      logger.With("component", "feed-hub"),
		buffer:      buffer,
		subscribers: make(map[string]chan session.Signal),
	}
}

// Emit implements session.SignalSink.
func (h *Hub) Emit(sig session.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sig.Type == session.SignalConnectionStatus {
		s := sig
		h.lastStatus = &s
	}
	if h.closed {
		return
	}
	for id, ch := range h.subscribers {
		select {
		case ch <- sig:
		default:
			h.logger.Info("subscriber channel full, dropping signal", "subscriber_id", id, "type", string(sig.Type))
		}
	}
}

// Subscribe registers a subscriber and returns its id and channel.
func (h *Hub) Subscribe() (string, <-chan session.Signal) {
	id := uuid.NewString()
	ch := make(chan session.Signal, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	if h.lastStatus != nil {
		ch <- *h.lastStatus
	}
	h.subscribers[id] = ch
	h.logger.Debug("new feed subscriber", "subscriber_id", id, "total_subscribers", len(h.subscribers))
	return id, ch
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
		h.logger.Debug("feed subscriber gone", "subscriber_id", id, "total_subscribers", len(h.subscribers))
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close ends every subscription. Later signals are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
