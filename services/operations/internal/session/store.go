package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
)

// Subset names a filtered view of the store.
type Subset string

const (
	SubsetAll        Subset = "all"
	SubsetPending    Subset = "pending"
	SubsetInProgress Subset = "in_progress"
	SubsetCompleted  Subset = "completed"
)

// Snapshot is an immutable view of the store. Readers hold on to it as long
// as they like; writers publish a new one.
type Snapshot struct {
	Version uint64
	Stale   bool

	orders  map[uuid.UUID]*lifecycle.Order
	urgent  map[uuid.UUID]bool
	touched map[uuid.UUID]uint64
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		orders:  map[uuid.UUID]*lifecycle.Order{},
		urgent:  map[uuid.UUID]bool{},
		touched: map[uuid.UUID]uint64{},
	}
}

func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		Version: s.Version,
		Stale:   s.Stale,
		orders:  make(map[uuid.UUID]*lifecycle.Order, len(s.orders)),
		urgent:  make(map[uuid.UUID]bool, len(s.urgent)),
		touched: make(map[uuid.UUID]uint64, len(s.touched)),
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.urgent {
		c.urgent[k] = v
	}
	for k, v := range s.touched {
		c.touched[k] = v
	}
	return c
}

// Get returns a copy of the held order.
func (s *Snapshot) Get(id uuid.UUID) (*lifecycle.Order, bool) {
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (s *Snapshot) Len() int {
	return len(s.orders)
}

func (s *Snapshot) IsUrgent(id uuid.UUID) bool {
	return s.urgent[id]
}

// Urgent lists the ids currently flagged urgent.
func (s *Snapshot) Urgent() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.urgent))
	for id := range s.urgent {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Subset returns copies of the orders in subset, oldest first.
func (s *Snapshot) Subset(subset Subset) []*lifecycle.Order {
	var keep func(status string) bool
	switch subset {
	case SubsetPending:
		keep = func(status string) bool { return status == orderstatus.Statuses.Pending.Code() }
	case SubsetInProgress:
		keep = orderstatus.IsInProgress
	case SubsetCompleted:
		keep = orderstatus.IsTerminal
	default:
		keep = func(string) bool { return true }
	}

	out := []*lifecycle.Order{}
	for _, o := range s.orders {
		if keep(o.Status) {
			out = append(out, o.Clone())
		}
	}
	sortByCreated(out)
	return out
}

func (s *Snapshot) Pending() []*lifecycle.Order    { return s.Subset(SubsetPending) }
func (s *Snapshot) InProgress() []*lifecycle.Order { return s.Subset(SubsetInProgress) }
func (s *Snapshot) Completed() []*lifecycle.Order  { return s.Subset(SubsetCompleted) }

// OverduePreparation lists accepted or preparing orders whose estimated
// preparation time has run out at now.
func (s *Snapshot) OverduePreparation(now time.Time) []*lifecycle.Order {
	out := []*lifecycle.Order{}
	for _, o := range s.orders {
		if o.Status != orderstatus.Statuses.Accepted.Code() && o.Status != orderstatus.Statuses.Preparing.Code() {
			continue
		}
		if due, ok := o.PreparationDue(); ok && now.After(due) {
			out = append(out, o.Clone())
		}
	}
	sortByCreated(out)
	return out
}

func sortByCreated(orders []*lifecycle.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].Number < orders[j].Number
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

// Store is the reactive order view of a session. Mutations are expected
// from a single writer (the session mailbox); reads are lock free.
type Store struct {
	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	nextSubID   int
	subscribers map[int]func(*Snapshot)
}

func NewStore() *Store {
	s := &Store{subscribers: map[int]func(*Snapshot){}}
	s.current.Store(emptySnapshot())
	return s
}

func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Subscribe registers fn to receive every published snapshot. fn runs on
// the writer's goroutine and must not block.
func (s *Store) Subscribe(fn func(*Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// Upsert applies incoming through lifecycle.Advance. Stale and invalid
// snapshots leave the store untouched and return the Advance error.
func (s *Store) Upsert(incoming *lifecycle.Order) (*lifecycle.Order, lifecycle.Outcome, error) {
	cur := s.Snapshot()
	held := cur.orders[incomingID(incoming)]

	next, outcome, err := lifecycle.Advance(held, incoming)
	if err != nil || outcome == lifecycle.Duplicate {
		if next != nil {
			next = next.Clone()
		}
		return next, outcome, err
	}

	snap := cur.clone()
	snap.Version++
	snap.orders[next.ID] = next
	snap.touched[next.ID] = snap.Version
	if next.Status != orderstatus.Statuses.Pending.Code() {
		delete(snap.urgent, next.ID)
	}
	s.publish(snap)
	return next.Clone(), outcome, nil
}

// Replace swaps in an authoritative order list fetched after since. Orders
// written locally after since survive when they are ahead of the fetched
// copy or missing from it; everything else comes from fetched.
func (s *Store) Replace(fetched []*lifecycle.Order, since uint64) *Snapshot {
	cur := s.Snapshot()
	snap := emptySnapshot()
	snap.Version = cur.Version + 1

	for _, o := range fetched {
		if o == nil {
			continue
		}
		snap.orders[o.ID] = o.Clone()
		snap.touched[o.ID] = snap.Version
	}

	for id, local := range cur.orders {
		if cur.touched[id] <= since {
			continue
		}
		remote, ok := snap.orders[id]
		if !ok {
			snap.orders[id] = local
			continue
		}
		if merged, outcome, err := lifecycle.Advance(remote, local); err == nil && outcome != lifecycle.Duplicate {
			snap.orders[id] = merged
		}
	}

	for id := range cur.urgent {
		if o, ok := snap.orders[id]; ok && o.Status == orderstatus.Statuses.Pending.Code() {
			snap.urgent[id] = true
		}
	}

	s.publish(snap)
	return snap
}

// SetUrgent flags or clears the urgent marker of a held order.
func (s *Store) SetUrgent(id uuid.UUID, urgent bool) {
	cur := s.Snapshot()
	if cur.urgent[id] == urgent {
		return
	}
	if _, ok := cur.orders[id]; !ok && urgent {
		return
	}
	snap := cur.clone()
	snap.Version++
	if urgent {
		snap.urgent[id] = true
	} else {
		delete(snap.urgent, id)
	}
	s.publish(snap)
}

func (s *Store) SetStale(stale bool) {
	cur := s.Snapshot()
	if cur.Stale == stale {
		return
	}
	snap := cur.clone()
	snap.Version++
	snap.Stale = stale
	s.publish(snap)
}

// Clear drops every order, used on session teardown.
func (s *Store) Clear() {
	snap := emptySnapshot()
	snap.Version = s.Snapshot().Version + 1
	s.publish(snap)
}

func (s *Store) publish(snap *Snapshot) {
	s.current.Store(snap)

	s.mu.Lock()
	subs := make([]func(*Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func incomingID(o *lifecycle.Order) uuid.UUID {
	if o == nil {
		return uuid.Nil
	}
	return o.ID
}
