package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
)

// LifecycleTopic carries every order lifecycle envelope on the bus.
const LifecycleTopic = "orders.lifecycle"

type Kind string

const (
	KindNewOrder         Kind = "new_order"
	KindOrderUpdate      Kind = "order_update"
	KindOrderCancelled   Kind = "order_cancelled"
	KindDeliveryArrived  Kind = "delivery_arrived"
	KindOrderPickedUp    Kind = "order_picked_up"
	KindDeliveryAssigned Kind = "delivery_assigned"
)

var Kinds = []Kind{
	KindNewOrder,
	KindOrderUpdate,
	KindOrderCancelled,
	KindDeliveryArrived,
	KindOrderPickedUp,
	KindDeliveryAssigned,
}

var ErrUnknownKind = errors.New("unknown event kind")

// Envelope is the wire form shared by the bus and the push channel. Every
// kind embeds the full order snapshot so receivers never need a follow-up
// read to apply it.
type Envelope struct {
	Kind           Kind             `json:"kind"`
	OccurredAt     time.Time        `json:"occurred_at"`
	PreviousStatus string           `json:"previous_status,omitempty"`
	Order          *lifecycle.Order `json:"order"`
}

// Event is the decoded form of an Envelope. The concrete types below are
// the only implementations.
type Event interface {
	Kind() Kind
	Snapshot() *lifecycle.Order
	isEvent()
}

type NewOrder struct {
	Order *lifecycle.Order
}

type OrderUpdate struct {
	Order          *lifecycle.Order
	PreviousStatus string
}

type OrderCancelled struct {
	Order  *lifecycle.Order
	Reason string
}

type DeliveryArrived struct {
	Order *lifecycle.Order
}

type OrderPickedUp struct {
	Order *lifecycle.Order
}

type DeliveryAssigned struct {
	Order *lifecycle.Order
}

func (e NewOrder) Kind() Kind         { return KindNewOrder }
func (e OrderUpdate) Kind() Kind      { return KindOrderUpdate }
func (e OrderCancelled) Kind() Kind   { return KindOrderCancelled }
func (e DeliveryArrived) Kind() Kind  { return KindDeliveryArrived }
func (e OrderPickedUp) Kind() Kind    { return KindOrderPickedUp }
func (e DeliveryAssigned) Kind() Kind { return KindDeliveryAssigned }

func (e NewOrder) Snapshot() *lifecycle.Order         { return e.Order }
func (e OrderUpdate) Snapshot() *lifecycle.Order      { return e.Order }
func (e OrderCancelled) Snapshot() *lifecycle.Order   { return e.Order }
func (e DeliveryArrived) Snapshot() *lifecycle.Order  { return e.Order }
func (e OrderPickedUp) Snapshot() *lifecycle.Order    { return e.Order }
func (e DeliveryAssigned) Snapshot() *lifecycle.Order { return e.Order }

func (NewOrder) isEvent()         {}
func (OrderUpdate) isEvent()      {}
func (OrderCancelled) isEvent()   {}
func (DeliveryArrived) isEvent()  {}
func (OrderPickedUp) isEvent()    {}
func (DeliveryAssigned) isEvent() {}

// KindFor picks the event kind announcing the change from previous to next.
// A nil previous means the order was just created.
func KindFor(previous, next *lifecycle.Order) Kind {
	st := orderstatus.Statuses
	if previous == nil {
		return KindNewOrder
	}
	if previous.Status == next.Status {
		if previous.CourierID == nil && next.CourierID != nil {
			return KindDeliveryAssigned
		}
		return KindOrderUpdate
	}
	switch next.Status {
	case st.PickedUp.Code():
		return KindOrderPickedUp
	case st.Delivered.Code():
		return KindDeliveryArrived
	case st.Cancelled.Code():
		return KindOrderCancelled
	default:
		return KindOrderUpdate
	}
}

// NewEnvelope wraps the transition from previous to next.
func NewEnvelope(previous, next *lifecycle.Order, at time.Time) Envelope {
	env := Envelope{
		Kind:       KindFor(previous, next),
		OccurredAt: at,
		Order:      next,
	}
	if previous != nil {
		env.PreviousStatus = previous.Status
	}
	return env
}

// Decode turns an envelope into its typed variant. Envelopes without an
// order snapshot or with an unknown kind are rejected.
func (e Envelope) Decode() (Event, error) {
	if e.Order == nil {
		return nil, fmt.Errorf("%s: missing order snapshot", e.Kind)
	}
	switch e.Kind {
	case KindNewOrder:
		return NewOrder{Order: e.Order}, nil
	case KindOrderUpdate:
		return OrderUpdate{Order: e.Order, PreviousStatus: e.PreviousStatus}, nil
	case KindOrderCancelled:
		return OrderCancelled{Order: e.Order, Reason: e.Order.CancelReason}, nil
	case KindDeliveryArrived:
		return DeliveryArrived{Order: e.Order}, nil
	case KindOrderPickedUp:
		return OrderPickedUp{Order: e.Order}, nil
	case KindDeliveryAssigned:
		return DeliveryAssigned{Order: e.Order}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

// Marshal encodes the envelope for the bus.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Parse decodes raw bus bytes into an envelope.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
