package lifecycle

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/enums/actorrole"
	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
)

const (
	PaymentCash    = "cash"
	PaymentPrepaid = "prepaid"
)

// Order is the authoritative order record shared by the backend and every
// actor session.
type Order struct {
	ID     uuid.UUID `json:"id" bson:"_id"`
	Number int64     `json:"number" bson:"number"`
	Status string    `json:"status" bson:"status"`

	RestaurantID uuid.UUID  `json:"restaurant_id" bson:"restaurant_id"`
	CustomerID   uuid.UUID  `json:"customer_id" bson:"customer_id"`
	CourierID    *uuid.UUID `json:"courier_id,omitempty" bson:"courier_id,omitempty"`

	Subtotal         decimal.Decimal `json:"subtotal" bson:"subtotal"`
	CommissionRate   decimal.Decimal `json:"commission_rate" bson:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount" bson:"commission_amount"`
	DeliveryFee      decimal.Decimal `json:"delivery_fee" bson:"delivery_fee"`
	NetPayable       decimal.Decimal `json:"net_payable" bson:"net_payable"`
	Total            decimal.Decimal `json:"total" bson:"total"`
	PaymentMethod    string          `json:"payment_method" bson:"payment_method"`
	RemittanceID     *uuid.UUID      `json:"remittance_id,omitempty" bson:"remittance_id,omitempty"`

	RefusalReason string `json:"refusal_reason,omitempty" bson:"refusal_reason,omitempty"`
	RefusalType   string `json:"refusal_type,omitempty" bson:"refusal_type,omitempty"`
	CancelReason  string `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`

	EstimatedPrepMinutes int        `json:"estimated_preparation_minutes" bson:"estimated_preparation_minutes"`
	CreatedAt            time.Time  `json:"created_at" bson:"created_at"`
	AcceptedAt           *time.Time `json:"accepted_at,omitempty" bson:"accepted_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at" bson:"updated_at"`

	History []HistoryEntry `json:"history" bson:"history"`
}

// HistoryEntry records one applied status change. The list is append-only.
type HistoryEntry struct {
	Status    string    `json:"status" bson:"status"`
	ActorRole string    `json:"actor_role" bson:"actor_role"`
	ActorID   uuid.UUID `json:"actor_id" bson:"actor_id"`
	Reason    string    `json:"reason,omitempty" bson:"reason,omitempty"`
	At        time.Time `json:"at" bson:"at"`
}

func (o *Order) GetID() uuid.UUID {
	return o.ID
}

func (o *Order) ResourceType() string {
	return "order"
}

// NewOrder builds a pending order and computes its financial fields.
func NewOrder(restaurantID, customerID uuid.UUID, subtotal, deliveryFee, commissionRate decimal.Decimal, paymentMethod string, at time.Time) *Order {
	o := &Order{
		ID:             uuid.New(),
		Status:         orderstatus.Statuses.Pending.Code(),
		RestaurantID:   restaurantID,
		CustomerID:     customerID,
		Subtotal:       subtotal,
		DeliveryFee:    deliveryFee,
		CommissionRate: commissionRate,
		PaymentMethod:  paymentMethod,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	o.ComputeFinancials()
	o.History = []HistoryEntry{{
		Status:    o.Status,
		ActorRole: actorrole.Roles.Customer.Code(),
		ActorID:   customerID,
		At:        at,
	}}
	return o
}

// ComputeFinancials derives commission, net payable and total from the
// subtotal, delivery fee and commission rate.
func (o *Order) ComputeFinancials() {
	o.CommissionAmount = o.Subtotal.Mul(o.CommissionRate).Round(2)
	o.NetPayable = o.Subtotal.Sub(o.CommissionAmount)
	o.Total = o.Subtotal.Add(o.DeliveryFee)
}

func (o *Order) IsTerminal() bool {
	return orderstatus.IsTerminal(o.Status)
}

func (o *Order) IsCash() bool {
	return o.PaymentMethod == PaymentCash
}

// HasCourier reports whether id is the courier assigned to the order.
func (o *Order) HasCourier(id uuid.UUID) bool {
	return o.CourierID != nil && *o.CourierID == id
}

// PreparationDue returns the moment preparation is expected to finish, or
// false when the order was never accepted.
func (o *Order) PreparationDue() (time.Time, bool) {
	if o.AcceptedAt == nil || o.EstimatedPrepMinutes <= 0 {
		return time.Time{}, false
	}
	return o.AcceptedAt.Add(time.Duration(o.EstimatedPrepMinutes) * time.Minute), true
}

// Clone returns a deep copy so callers never share history slices or
// pointer fields with the original.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.CourierID != nil {
		id := *o.CourierID
		c.CourierID = &id
	}
	if o.RemittanceID != nil {
		id := *o.RemittanceID
		c.RemittanceID = &id
	}
	if o.AcceptedAt != nil {
		at := *o.AcceptedAt
		c.AcceptedAt = &at
	}
	c.History = append([]HistoryEntry(nil), o.History...)
	return &c
}
