package remittance

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/lifecycle"
)

var (
	courierID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440010")
	otherID   = uuid.MustParse("550e8400-e29b-41d4-a716-446655440011")
)

func deliveredCash(total int64) *lifecycle.Order {
	o := lifecycle.NewOrder(uuid.New(), uuid.New(), decimal.NewFromInt(total), decimal.Zero, decimal.Zero, lifecycle.PaymentCash, time.Now())
	o.Status = "delivered"
	id := courierID
	o.CourierID = &id
	return o
}

func TestValidateSelection(t *testing.T) {
	a := deliveredCash(6000)
	b := deliveredCash(4000)
	c := deliveredCash(5000)

	prepaid := deliveredCash(3000)
	prepaid.PaymentMethod = lifecycle.PaymentPrepaid

	foreign := deliveredCash(2000)
	oid := otherID
	foreign.CourierID = &oid

	linked := deliveredCash(1000)
	rid := uuid.New()
	linked.RemittanceID = &rid

	available := []*lifecycle.Order{a, b, c, prepaid, foreign, linked}

	tests := []struct {
		name       string
		ids        []uuid.UUID
		method     string
		amount     string
		wantReason string
		wantCount  int
	}{
		{name: "exactAmount", ids: []uuid.UUID{a.ID, b.ID}, method: MethodInPerson, amount: "10000", wantCount: 2},
		{name: "withinTolerance", ids: []uuid.UUID{a.ID}, method: MethodBankDeposit, amount: "5999.98", wantCount: 1},
		{name: "beyondTolerance", ids: []uuid.UUID{a.ID}, method: MethodBankDeposit, amount: "5999.97", wantReason: ReasonAmountMismatch},
		{name: "oneUnitShort", ids: []uuid.UUID{a.ID, b.ID, c.ID}, method: MethodMobileMoney, amount: "14999", wantReason: ReasonAmountMismatch},
		{name: "fullSet", ids: []uuid.UUID{a.ID, b.ID, c.ID}, method: MethodMobileMoney, amount: "15000", wantCount: 3},
		{name: "emptySelection", ids: nil, method: MethodInPerson, amount: "0", wantReason: ReasonEmptySelection},
		{name: "invalidMethod", ids: []uuid.UUID{a.ID}, method: "cheque", amount: "6000", wantReason: ReasonInvalidMethod},
		{name: "prepaidOrder", ids: []uuid.UUID{prepaid.ID}, method: MethodInPerson, amount: "3000", wantReason: ReasonOrderUnavailable},
		{name: "otherCourier", ids: []uuid.UUID{foreign.ID}, method: MethodInPerson, amount: "2000", wantReason: ReasonOrderUnavailable},
		{name: "alreadyLinked", ids: []uuid.UUID{linked.ID}, method: MethodInPerson, amount: "1000", wantReason: ReasonOrderUnavailable},
		{name: "unknownOrder", ids: []uuid.UUID{uuid.New()}, method: MethodInPerson, amount: "1", wantReason: ReasonOrderUnavailable},
		{name: "duplicateIDs", ids: []uuid.UUID{a.ID, a.ID}, method: MethodInPerson, amount: "6000", wantCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := Selection{
				CourierID: courierID,
				OrderIDs:  tt.ids,
				Method:    tt.method,
				Amount:    decimal.RequireFromString(tt.amount),
			}

			got, err := ValidateSelection(available, sel, DefaultTolerance)
			if tt.wantReason != "" {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("ValidateSelection() error = %v, want *ValidationError", err)
				}
				if ve.Reason != tt.wantReason {
					t.Errorf("Reason = %q, want %q", ve.Reason, tt.wantReason)
				}
				if !errors.Is(err, ErrValidationFailed) {
					t.Error("error does not wrap ErrValidationFailed")
				}
				if ve.Message() == "" {
					t.Error("Message() is empty")
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateSelection() unexpected error: %v", err)
			}
			if len(got) != tt.wantCount {
				t.Errorf("selected %d orders, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func TestValidateSelectionAfterLinking(t *testing.T) {
	a := deliveredCash(6000)
	b := deliveredCash(4000)
	c := deliveredCash(5000)
	available := []*lifecycle.Order{a, b, c}

	first := Selection{CourierID: courierID, OrderIDs: []uuid.UUID{a.ID, b.ID}, Method: MethodInPerson, Amount: decimal.NewFromInt(10000)}
	selected, err := ValidateSelection(available, first, DefaultTolerance)
	if err != nil {
		t.Fatalf("first selection error = %v", err)
	}

	r := New(courierID, first.Amount, first.Method, "", OrderIDs(selected), time.Now())
	for _, o := range selected {
		o.RemittanceID = &r.ID
	}

	second := Selection{CourierID: courierID, OrderIDs: []uuid.UUID{b.ID, c.ID}, Method: MethodInPerson, Amount: decimal.NewFromInt(9000)}
	_, err = ValidateSelection(available, second, DefaultTolerance)

	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Reason != ReasonOrderUnavailable {
		t.Fatalf("second selection error = %v, want order_unavailable", err)
	}
	if len(ve.OrderIDs) != 1 || ve.OrderIDs[0] != b.ID {
		t.Errorf("unavailable ids = %v, want [%s]", ve.OrderIDs, b.ID)
	}
}

func TestSum(t *testing.T) {
	got := Sum([]*lifecycle.Order{deliveredCash(6000), deliveredCash(4000)})
	if !got.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Sum() = %s, want 10000", got)
	}
}

func TestProblemRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "amountMismatch", err: &ValidationError{Reason: ReasonAmountMismatch, Expected: "15000.00", Declared: "14999.00"}},
		{name: "orderUnavailable", err: &ValidationError{Reason: ReasonOrderUnavailable, OrderIDs: []uuid.UUID{courierID}}},
		{name: "raceLost", err: ErrRaceLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := ProblemFrom(tt.err)
			if !ok {
				t.Fatal("ProblemFrom() ok = false")
			}
			if p.Message == "" {
				t.Error("Message is empty")
			}

			back := p.Err()
			if errors.Is(tt.err, ErrRaceLost) {
				if !errors.Is(back, ErrRaceLost) {
					t.Errorf("Err() = %v, want ErrRaceLost", back)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(back, &ve) || ve.Reason != p.Reason {
				t.Errorf("Err() = %v, want reason %q", back, p.Reason)
			}
		})
	}

	if _, ok := ProblemFrom(errors.New("boom")); ok {
		t.Error("ProblemFrom() ok = true for unrelated error")
	}
}
