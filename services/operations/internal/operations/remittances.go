package operations

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/remittance"
)

// RemittanceClient is the slice of the order service the reconciler needs.
type RemittanceClient interface {
	PendingRemittanceOrders(ctx context.Context) (PendingOrders, error)
	CreateRemittance(ctx context.Context, req CreateRemittanceRequest) (*remittance.Remittance, error)
	ListRemittances(ctx context.Context) ([]*remittance.Remittance, error)
	GetRemittance(ctx context.Context, id uuid.UUID) (*remittance.Remittance, error)
}

// Reconciler settles a courier's delivered cash orders. The authoritative
// link-and-check happens at the order service; the local checks only spare
// a round trip for requests that cannot succeed.
type Reconciler struct {
	client    RemittanceClient
	courierID uuid.UUID
	tolerance decimal.Decimal
	logger    aqm.Logger
	now       func() time.Time

	mu        sync.RWMutex
	pending   PendingOrders
	fetchedAt time.Time
}

func NewReconciler(client RemittanceClient, courierID uuid.UUID, tolerance decimal.Decimal, logger aqm.Logger) *Reconciler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if tolerance.IsNegative() {
		tolerance = remittance.DefaultTolerance
	}
	return &Reconciler{
		client:    client,
		courierID: courierID,
		tolerance: tolerance,
		logger:    logger.With("component", "reconciler"),
		now:       time.Now,
	}
}

// PendingOrders fetches the orders the courier can still remit.
func (r *Reconciler) PendingOrders(ctx context.Context) (PendingOrders, error) {
	p, err := r.client.PendingRemittanceOrders(ctx)
	if err != nil {
		return PendingOrders{}, err
	}

	r.mu.Lock()
	r.pending = p
	r.fetchedAt = r.now()
	r.mu.Unlock()
	return p, nil
}

// LastPending returns the set seen by the latest fetch.
func (r *Reconciler) LastPending() (PendingOrders, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending, r.fetchedAt
}

// Create validates sel against a fresh pending set and submits it. A lost
// race or an order that is gone refreshes the pending set before the error
// is returned, so the caller can show the new set and let the courier retry.
func (r *Reconciler) Create(ctx context.Context, sel remittance.Selection) (*remittance.Remittance, error) {
	sel.CourierID = r.courierID

	p, err := r.PendingOrders(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := remittance.ValidateSelection(p.Orders, sel, r.tolerance)
	if err != nil {
		r.logger.Info("remittance refused locally", "error", err)
		return nil, err
	}

	rem, err := r.client.CreateRemittance(ctx, CreateRemittanceRequest{
		OrderIDs:  remittance.OrderIDs(selected),
		Method:    sel.Method,
		Amount:    sel.Amount,
		Reference: sel.Reference,
	})
	if err != nil {
		if needsRefresh(err) {
			r.logger.Info("remittance lost to a concurrent claim, refreshing", "error", err)
			if _, rerr := r.PendingOrders(ctx); rerr != nil {
				r.logger.Error("refresh after lost race failed", "error", rerr)
			}
		}
		return nil, err
	}

	r.logger.Info("remittance created", "remittance_id", rem.ID.String(), "orders", len(rem.OrderIDs), "amount", rem.Amount.String())
	if _, err := r.PendingOrders(ctx); err != nil {
		r.logger.Error("refresh after remittance failed", "error", err)
	}
	return rem, nil
}

// History lists the courier's remittances, newest first.
func (r *Reconciler) History(ctx context.Context) ([]*remittance.Remittance, error) {
	list, err := r.client.ListRemittances(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*remittance.Remittance{}
	}
	return list, nil
}

func (r *Reconciler) Get(ctx context.Context, id uuid.UUID) (*remittance.Remittance, error) {
	return r.client.GetRemittance(ctx, id)
}

func needsRefresh(err error) bool {
	if errors.Is(err, remittance.ErrRaceLost) {
		return true
	}
	var ve *remittance.ValidationError
	return errors.As(err, &ve) && ve.Reason == remittance.ReasonOrderUnavailable
}
