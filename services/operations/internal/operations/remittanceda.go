package operations

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
)

// PendingOrders is what the courier still owes.
type PendingOrders struct {
	Orders []*lifecycle.Order `json:"orders"`
	Total  decimal.Decimal    `json:"total"`
}

// CreateRemittanceRequest defines the payload supported by the order service.
type CreateRemittanceRequest struct {
	OrderIDs  []uuid.UUID     `json:"order_ids"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

func (da *OrderDataAccess) PendingRemittanceOrders(ctx context.Context) (PendingOrders, error) {
	var p PendingOrders
	if err := da.request(ctx, http.MethodGet, "/remittances/pending-orders", nil, &p); err != nil {
		return PendingOrders{}, err
	}
	if p.Orders == nil {
		p.Orders = []*lifecycle.Order{}
	}
	return p, nil
}

// CreateRemittance is sent once: a second attempt would find the orders
// already linked.
func (da *OrderDataAccess) CreateRemittance(ctx context.Context, req CreateRemittanceRequest) (*remittance.Remittance, error) {
	var rem remittance.Remittance
	if err := da.request(ctx, http.MethodPost, "/remittances", req, &rem); err != nil {
		return nil, err
	}
	return &rem, nil
}

func (da *OrderDataAccess) ListRemittances(ctx context.Context) ([]*remittance.Remittance, error) {
	var list []*remittance.Remittance
	if err := da.request(ctx, http.MethodGet, "/remittances", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (da *OrderDataAccess) GetRemittance(ctx context.Context, id uuid.UUID) (*remittance.Remittance, error) {
	var rem remittance.Remittance
	if err := da.request(ctx, http.MethodGet, "/remittances/"+id.String(), nil, &rem); err != nil {
		return nil, err
	}
	return &rem, nil
}
