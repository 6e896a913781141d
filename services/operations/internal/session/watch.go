package session

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// WatchEntry tracks one pending order waiting for a response.
type WatchEntry struct {
	OrderID    uuid.UUID
	ReceivedAt time.Time
	Escalated  bool
}

// WaitingMinutes is the whole number of minutes the order has waited at now.
func (e WatchEntry) WaitingMinutes(now time.Time) int {
	if now.Before(e.ReceivedAt) {
		return 0
	}
	return int(now.Sub(e.ReceivedAt) / time.Minute)
}

// Watch is the pending-order watch map. It is owned by the session mailbox
// and is not safe for concurrent use.
type Watch struct {
	entries map[uuid.UUID]*WatchEntry
}

func NewWatch() *Watch {
	return &Watch{entries: map[uuid.UUID]*WatchEntry{}}
}

// Track starts watching id. Tracking an id twice keeps the first entry.
func (w *Watch) Track(id uuid.UUID, receivedAt time.Time) bool {
	if _, ok := w.entries[id]; ok {
		return false
	}
	w.entries[id] = &WatchEntry{OrderID: id, ReceivedAt: receivedAt}
	return true
}

// Remove stops watching id and returns the removed entry. Removing an
// unknown id is a no-op.
func (w *Watch) Remove(id uuid.UUID) (WatchEntry, bool) {
	e, ok := w.entries[id]
	if !ok {
		return WatchEntry{}, false
	}
	delete(w.entries, id)
	return *e, true
}

func (w *Watch) Get(id uuid.UUID) (WatchEntry, bool) {
	e, ok := w.entries[id]
	if !ok {
		return WatchEntry{}, false
	}
	return *e, true
}

// MarkEscalated flags a tracked entry as already escalated so a later
// sweep does not fire its one-shot effects again.
func (w *Watch) MarkEscalated(id uuid.UUID) bool {
	e, ok := w.entries[id]
	if !ok {
		return false
	}
	e.Escalated = true
	return true
}

func (w *Watch) Len() int {
	return len(w.entries)
}

// IDs lists the watched ids.
func (w *Watch) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(w.entries))
	for id := range w.entries {
		ids = append(ids, id)
	}
	return ids
}

// Sweep compares every entry against deadline at now. escalated holds the
// entries that crossed the deadline on this sweep, which happens once per
// entry; alerting holds every escalated entry including those.
func (w *Watch) Sweep(now time.Time, deadline time.Duration) (escalated, alerting []WatchEntry) {
	for _, e := range w.entries {
		if !e.Escalated && now.Sub(e.ReceivedAt) >= deadline {
			e.Escalated = true
			escalated = append(escalated, *e)
		}
		if e.Escalated {
			alerting = append(alerting, *e)
		}
	}
	byReceived := func(list []WatchEntry) {
		sort.Slice(list, func(i, j int) bool { return list[i].ReceivedAt.Before(list[j].ReceivedAt) })
	}
	byReceived(escalated)
	byReceived(alerting)
	return escalated, alerting
}
