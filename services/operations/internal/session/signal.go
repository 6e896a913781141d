package session

import (
	"time"

	"github.com/google/uuid"
)

type SignalType string

const (
	SignalConnectionStatus SignalType = "connection_status"
	SignalUrgentAlert      SignalType = "urgent_alert"
	SignalAlert            SignalType = "alert"
	SignalAlertStopped     SignalType = "alert_stopped"
	SignalStoreChanged     SignalType = "store_changed"
	SignalOrderEvent       SignalType = "order_event"
)

// Signal is what the session tells the UI layer.
type Signal struct {
	Type SignalType `json:"type"`
	At   time.Time  `json:"at"`

	Connected *bool  `json:"connected,omitempty"`
	State     string `json:"state,omitempty"`
	Error     string `json:"error,omitempty"`

	OrderID        *uuid.UUID `json:"order_id,omitempty"`
	WaitingMinutes int        `json:"waiting_minutes,omitempty"`
	Kind           string     `json:"kind,omitempty"`
	Status         string     `json:"status,omitempty"`
	Pattern        Pattern    `json:"pattern,omitempty"`

	Version uint64 `json:"version,omitempty"`
	Stale   bool   `json:"stale,omitempty"`
}

// SignalSink receives session signals. Emit must not block.
type SignalSink interface {
	Emit(Signal)
}

type nopSignals struct{}

func (nopSignals) Emit(Signal) {}

func connectionSignal(state ConnState, err error, at time.Time) Signal {
	connected := state == StateConnected
	sig := Signal{
		Type:      SignalConnectionStatus,
		At:        at,
		Connected: &connected,
		State:     string(state),
	}
	if err != nil {
		sig.Error = err.Error()
	}
	return sig
}

func orderSignal(typ SignalType, id uuid.UUID, at time.Time) Signal {
	return Signal{Type: typ, At: at, OrderID: &id}
}
