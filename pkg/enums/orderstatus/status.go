package orderstatus

import (
	"strings"
)

type Status struct {
	Name     string
	Rank     int
	Terminal bool
}

func (s Status) Code() string {
	return s.Name
}

func (s Status) Label() string {
	parts := strings.Split(s.Name, "_")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

type Enum struct {
	Pending    Status
	Accepted   Status
	Preparing  Status
	Ready      Status
	PickedUp   Status
	Delivering Status
	Delivered  Status
	Cancelled  Status
	Refused    Status
}

// Terminal statuses share the highest rank: none of them supersedes another.
const terminalRank = 7

var Statuses = Enum{
	Pending:    Status{Name: "pending", Rank: 0},
	Accepted:   Status{Name: "accepted", Rank: 1},
	Preparing:  Status{Name: "preparing", Rank: 2},
	Ready:      Status{Name: "ready", Rank: 3},
	PickedUp:   Status{Name: "picked_up", Rank: 4},
	Delivering: Status{Name: "delivering", Rank: 5},
	Delivered:  Status{Name: "delivered", Rank: terminalRank, Terminal: true},
	Cancelled:  Status{Name: "cancelled", Rank: terminalRank, Terminal: true},
	Refused:    Status{Name: "refused", Rank: terminalRank, Terminal: true},
}

var All = []Status{
	Statuses.Pending,
	Statuses.Accepted,
	Statuses.Preparing,
	Statuses.Ready,
	Statuses.PickedUp,
	Statuses.Delivering,
	Statuses.Delivered,
	Statuses.Cancelled,
	Statuses.Refused,
}

// InProgress lists the statuses between acceptance and a terminal state.
var InProgress = []Status{
	Statuses.Accepted,
	Statuses.Preparing,
	Statuses.Ready,
	Statuses.PickedUp,
	Statuses.Delivering,
}

// Completed lists the terminal statuses.
var Completed = []Status{
	Statuses.Delivered,
	Statuses.Cancelled,
	Statuses.Refused,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

func IsTerminal(name string) bool {
	s := ByName(name)
	return s != nil && s.Terminal
}

func IsInProgress(name string) bool {
	for _, s := range InProgress {
		if s.Name == name {
			return true
		}
	}
	return false
}

// RankOf returns the position of the status in the transition graph and
// false when the name is unknown.
func RankOf(name string) (int, bool) {
	s := ByName(name)
	if s == nil {
		return 0, false
	}
	return s.Rank, true
}
