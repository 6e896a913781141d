package operations

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
)

const defaultAuditCapacity = 200

// AuditEntry records one action the actor took from this session.
type AuditEntry struct {
	ActorID   uuid.UUID       `json:"actor_id"`
	Action    string          `json:"action"`
	Target    string          `json:"target"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
}

// AuditLogger logs actions and keeps the most recent ones for the UI.
type AuditLogger struct {
	logger   aqm.Logger
	now      func() time.Time
	capacity int

	mu      sync.Mutex
	entries []AuditEntry
}

func NewAuditLogger(capacity int, logger aqm.Logger) *AuditLogger {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if capacity <= 0 {
		capacity = defaultAuditCapacity
	}
	return &AuditLogger{logger: logger.With("component", "audit"), now: time.Now, capacity: capacity}
}

func (a *AuditLogger) Log(ctx context.Context, entry AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now()
	}

	a.logger.Info("audit",
		"actor_id", entry.ActorID.String(),
		"action", entry.Action,
		"target", entry.Target,
		"success", entry.Success,
		"error", entry.Error,
	)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	if over := len(a.entries) - a.capacity; over > 0 {
		a.entries = append(a.entries[:0:0], a.entries[over:]...)
	}
}

// LogAction records an order action and its outcome.
func (a *AuditLogger) LogAction(ctx context.Context, actorID uuid.UUID, action string, target uuid.UUID, input interface{}, err error) {
	entry := AuditEntry{
		ActorID: actorID,
		Action:  action,
		Target:  target.String(),
		Success: err == nil,
	}
	if input != nil {
		entry.Payload, _ = json.Marshal(input)
	}
	if err != nil {
		entry.Error = err.Error()
	}
	a.Log(ctx, entry)
}

// Recent returns up to n entries, newest first.
func (a *AuditLogger) Recent(n int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n <= 0 || n > len(a.entries) {
		n = len(a.entries)
	}
	out := make([]AuditEntry, 0, n)
	for i := len(a.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, a.entries[i])
	}
	return out
}
