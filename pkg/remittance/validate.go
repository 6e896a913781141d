package remittance

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
)

// Selection is a courier's remittance request before it is linked.
type Selection struct {
	CourierID uuid.UUID
	OrderIDs  []uuid.UUID
	Method    string
	Amount    decimal.Decimal
	Reference string
}

// Eligible reports whether o can still be settled by courierID: delivered,
// cash-paid, held by that courier and not linked to a remittance.
func Eligible(o *lifecycle.Order, courierID uuid.UUID) bool {
	return o != nil &&
		o.Status == orderstatus.Statuses.Delivered.Code() &&
		o.IsCash() &&
		o.HasCourier(courierID) &&
		o.RemittanceID == nil
}

// Sum adds up the totals of orders.
func Sum(orders []*lifecycle.Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.Total)
	}
	return total
}

// ValidateSelection checks sel against the currently available orders and
// returns the selected orders in selection order. The whole request fails
// on the first rule it breaks; nothing is partially accepted.
func ValidateSelection(available []*lifecycle.Order, sel Selection, tolerance decimal.Decimal) ([]*lifecycle.Order, error) {
	if len(sel.OrderIDs) == 0 {
		return nil, &ValidationError{Reason: ReasonEmptySelection}
	}
	if !ValidMethod(sel.Method) {
		return nil, &ValidationError{Reason: ReasonInvalidMethod}
	}

	byID := make(map[uuid.UUID]*lifecycle.Order, len(available))
	for _, o := range available {
		byID[o.ID] = o
	}

	seen := make(map[uuid.UUID]bool, len(sel.OrderIDs))
	selected := make([]*lifecycle.Order, 0, len(sel.OrderIDs))
	var missing []uuid.UUID
	for _, id := range sel.OrderIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		o, ok := byID[id]
		if !ok || !Eligible(o, sel.CourierID) {
			missing = append(missing, id)
			continue
		}
		selected = append(selected, o)
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Reason: ReasonOrderUnavailable, OrderIDs: missing}
	}

	expected := Sum(selected)
	if expected.Sub(sel.Amount).Abs().GreaterThan(tolerance) {
		return nil, &ValidationError{
			Reason:   ReasonAmountMismatch,
			Expected: expected.StringFixed(2),
			Declared: sel.Amount.StringFixed(2),
		}
	}
	return selected, nil
}

// OrderIDs returns the ids of orders.
func OrderIDs(orders []*lifecycle.Order) []uuid.UUID {
	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}
