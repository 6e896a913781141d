package remittance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MethodInPerson    = "in_person"
	MethodBankDeposit = "bank_deposit"
	MethodMobileMoney = "mobile_money"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
)

// Methods lists the accepted hand-in methods in display order.
var Methods = []string{MethodInPerson, MethodBankDeposit, MethodMobileMoney}

// DefaultTolerance absorbs rounding differences between the declared amount
// and the sum of order totals.
var DefaultTolerance = decimal.RequireFromString("0.02")

// Remittance is a courier's declaration of cash handed in for a set of
// delivered cash orders.
type Remittance struct {
	ID         uuid.UUID       `json:"id" bson:"_id"`
	CourierID  uuid.UUID       `json:"courier_id" bson:"courier_id"`
	Amount     decimal.Decimal `json:"amount" bson:"amount"`
	Method     string          `json:"method" bson:"method"`
	Reference  string          `json:"reference,omitempty" bson:"reference,omitempty"`
	OrderIDs   []uuid.UUID     `json:"order_ids" bson:"order_ids"`
	Status     string          `json:"status" bson:"status"`
	Note       string          `json:"note,omitempty" bson:"note,omitempty"`
	ResolvedBy *uuid.UUID      `json:"resolved_by,omitempty" bson:"resolved_by,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at" bson:"created_at"`
}

func (r *Remittance) GetID() uuid.UUID {
	return r.ID
}

func (r *Remittance) ResourceType() string {
	return "remittance"
}

// New builds a pending remittance linking orderIDs.
func New(courierID uuid.UUID, amount decimal.Decimal, method, reference string, orderIDs []uuid.UUID, at time.Time) *Remittance {
	return &Remittance{
		ID:        uuid.New(),
		CourierID: courierID,
		Amount:    amount,
		Method:    method,
		Reference: reference,
		OrderIDs:  append([]uuid.UUID(nil), orderIDs...),
		Status:    StatusPending,
		CreatedAt: at,
	}
}

func (r *Remittance) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusRejected
}

func ValidMethod(m string) bool {
	for _, v := range Methods {
		if v == m {
			return true
		}
	}
	return false
}

// ValidResolution reports whether status is one an administrator may set.
func ValidResolution(status string) bool {
	return status == StatusCompleted || status == StatusRejected
}
