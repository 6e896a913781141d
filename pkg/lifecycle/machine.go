package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/appetiteclub/delivery/pkg/enums/actorrole"
	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
)

// Transition is a request to move an order to Target on behalf of an actor.
type Transition struct {
	Target           string
	Role             string
	ActorID          uuid.UUID
	Reason           string
	ReasonType       string
	EstimatedMinutes int
	At               time.Time
}

type edge struct {
	to    string
	roles []string
}

var (
	st    = orderstatus.Statuses
	roles = actorrole.Roles
)

// graph holds the forward edges. Cancellation is handled separately since
// it is allowed from every non-terminal status.
var graph = map[string][]edge{
	st.Pending.Code(): {
		{to: st.Accepted.Code(), roles: []string{roles.Restaurant.Code()}},
		{to: st.Refused.Code(), roles: []string{roles.Restaurant.Code()}},
	},
	st.Accepted.Code():   {{to: st.Preparing.Code(), roles: []string{roles.Restaurant.Code()}}},
	st.Preparing.Code():  {{to: st.Ready.Code(), roles: []string{roles.Restaurant.Code()}}},
	st.Ready.Code():      {{to: st.PickedUp.Code(), roles: []string{roles.Courier.Code()}}},
	st.PickedUp.Code():   {{to: st.Delivering.Code(), roles: []string{roles.Courier.Code()}}},
	st.Delivering.Code(): {{to: st.Delivered.Code(), roles: []string{roles.Courier.Code()}}},
}

var cancelRoles = []string{roles.Customer.Code(), roles.Admin.Code()}

// Apply validates t against the transition graph and returns the resulting
// order. The input is never modified. Applying a transition whose target is
// already the current status returns an unchanged copy and changed=false.
func Apply(o *Order, t Transition) (next *Order, changed bool, err error) {
	if o == nil {
		return nil, false, reject("", t.Target, t.Role, "order is nil")
	}
	from := o.Status

	if from == t.Target {
		return o.Clone(), false, nil
	}
	if orderstatus.ByName(t.Target) == nil {
		return nil, false, reject(from, t.Target, t.Role, "unknown target status")
	}
	if orderstatus.IsTerminal(from) {
		return nil, false, reject(from, t.Target, t.Role, "order is terminal")
	}

	allowed, ok := allowedRoles(from, t.Target)
	if !ok {
		return nil, false, reject(from, t.Target, t.Role, "not in transition graph")
	}
	if !contains(allowed, t.Role) {
		return nil, false, reject(from, t.Target, t.Role, "role not allowed")
	}
	if err := checkParticipant(o, t); err != nil {
		return nil, false, err
	}

	at := t.At
	if at.IsZero() {
		at = time.Now()
	}

	next = o.Clone()
	switch t.Target {
	case st.Accepted.Code():
		if t.EstimatedMinutes <= 0 {
			return nil, false, reject(from, t.Target, t.Role, "estimated minutes required")
		}
		next.EstimatedPrepMinutes = t.EstimatedMinutes
		next.AcceptedAt = &at
	case st.Refused.Code():
		if t.Reason == "" {
			return nil, false, reject(from, t.Target, t.Role, "refusal reason required")
		}
		next.RefusalReason = t.Reason
		next.RefusalType = t.ReasonType
	case st.PickedUp.Code():
		if next.CourierID == nil {
			return nil, false, reject(from, t.Target, t.Role, "no courier assigned")
		}
	case st.Cancelled.Code():
		if t.Reason == "" {
			return nil, false, reject(from, t.Target, t.Role, "cancel reason required")
		}
		next.CancelReason = t.Reason
	}

	next.Status = t.Target
	next.UpdatedAt = at
	next.History = append(next.History, HistoryEntry{
		Status:    t.Target,
		ActorRole: t.Role,
		ActorID:   t.ActorID,
		Reason:    t.Reason,
		At:        at,
	})
	return next, true, nil
}

// AssignCourier attaches a courier to a ready order. Couriers may only
// assign themselves; admins may assign anyone. Re-assigning the same
// courier is a no-op.
func AssignCourier(o *Order, courierID uuid.UUID, role string, actorID uuid.UUID, at time.Time) (*Order, bool, error) {
	if o == nil {
		return nil, false, reject("", "", role, "order is nil")
	}
	if o.HasCourier(courierID) {
		return o.Clone(), false, nil
	}
	if o.IsTerminal() {
		return nil, false, reject(o.Status, o.Status, role, "order is terminal")
	}
	if o.Status != st.Ready.Code() {
		return nil, false, reject(o.Status, o.Status, role, "courier can only be assigned to a ready order")
	}
	switch role {
	case roles.Admin.Code():
	case roles.Courier.Code():
		if actorID != courierID {
			return nil, false, reject(o.Status, o.Status, role, "couriers can only assign themselves")
		}
	default:
		return nil, false, reject(o.Status, o.Status, role, "role not allowed")
	}
	if o.CourierID != nil {
		return nil, false, ErrCourierAssigned
	}
	if at.IsZero() {
		at = time.Now()
	}
	next := o.Clone()
	id := courierID
	next.CourierID = &id
	next.UpdatedAt = at
	return next, true, nil
}

// Outcome classifies how an incoming snapshot relates to the held one.
type Outcome int

const (
	Inserted Outcome = iota
	Advanced
	Refreshed
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Advanced:
		return "advanced"
	case Refreshed:
		return "refreshed"
	default:
		return "duplicate"
	}
}

// Advance decides whether an incoming order snapshot may replace the held
// one. Ordering is by position in the transition graph, never by timestamp,
// except for same-status snapshots where a newer UpdatedAt carries extra
// fields such as a courier assignment.
func Advance(current, incoming *Order) (*Order, Outcome, error) {
	if incoming == nil {
		return nil, Duplicate, reject("", "", "", "incoming order is nil")
	}
	inRank, ok := orderstatus.RankOf(incoming.Status)
	if !ok {
		return nil, Duplicate, reject("", incoming.Status, "", "unknown status")
	}
	if current == nil {
		return incoming.Clone(), Inserted, nil
	}

	if current.Status == incoming.Status {
		if !current.IsTerminal() && incoming.UpdatedAt.After(current.UpdatedAt) {
			return incoming.Clone(), Refreshed, nil
		}
		return current, Duplicate, nil
	}

	curRank, _ := orderstatus.RankOf(current.Status)
	if inRank < curRank {
		return current, Duplicate, ErrStaleEvent
	}
	if !Reachable(current.Status, incoming.Status) {
		return current, Duplicate, reject(current.Status, incoming.Status, "", "not reachable")
	}
	return incoming.Clone(), Advanced, nil
}

// Reachable reports whether to can be reached from from by following one
// or more edges of the transition graph.
func Reachable(from, to string) bool {
	if from == to {
		return false
	}
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range successors(cur) {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func successors(status string) []string {
	if orderstatus.IsTerminal(status) {
		return nil
	}
	out := []string{st.Cancelled.Code()}
	for _, e := range graph[status] {
		out = append(out, e.to)
	}
	return out
}

func allowedRoles(from, to string) ([]string, bool) {
	if to == st.Cancelled.Code() {
		return cancelRoles, true
	}
	for _, e := range graph[from] {
		if e.to == to {
			return e.roles, true
		}
	}
	return nil, false
}

func checkParticipant(o *Order, t Transition) error {
	switch t.Role {
	case roles.Admin.Code():
		return nil
	case roles.Restaurant.Code():
		if o.RestaurantID != t.ActorID {
			return reject(o.Status, t.Target, t.Role, "restaurant does not own order")
		}
	case roles.Courier.Code():
		if !o.HasCourier(t.ActorID) {
			return reject(o.Status, t.Target, t.Role, "courier not assigned to order")
		}
	case roles.Customer.Code():
		if o.CustomerID != t.ActorID {
			return reject(o.Status, t.Target, t.Role, "customer does not own order")
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
