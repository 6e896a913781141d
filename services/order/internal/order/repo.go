package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
)

// ErrNotFound is returned by the service layer when a record does not exist.
// Repositories signal absence with a nil result instead.
var ErrNotFound = errors.New("not found")

// OrderFilter narrows List. Zero values match everything.
type OrderFilter struct {
	Statuses     []string
	RestaurantID *uuid.UUID
	CourierID    *uuid.UUID
	CustomerID   *uuid.UUID
	// Since drops terminal orders last updated before it. Non-terminal
	// orders are always returned.
	Since *time.Time
}

type OrderRepo interface {
	Create(ctx context.Context, o *lifecycle.Order) error
	Get(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error)
	List(ctx context.Context, f OrderFilter) ([]*lifecycle.Order, error)
	// SaveGuarded replaces the stored order only while its status is still
	// expectedStatus. It reports false when the guard did not match.
	SaveGuarded(ctx context.Context, o *lifecycle.Order, expectedStatus string) (bool, error)
	// ClaimCourier stores o.CourierID only while the stored order is ready
	// and has no courier. It reports false when the claim did not match.
	ClaimCourier(ctx context.Context, o *lifecycle.Order) (bool, error)
	// ListUnsettledCash returns delivered cash orders of courierID not linked
	// to any remittance.
	ListUnsettledCash(ctx context.Context, courierID uuid.UUID) ([]*lifecycle.Order, error)
	NextNumber(ctx context.Context) (int64, error)
}

type RemittanceFilter struct {
	CourierID *uuid.UUID
	Status    string
}

type RemittanceRepo interface {
	// CreateLinked stores r and links every order in r.OrderIDs to it as one
	// atomic unit. If any order is no longer linkable nothing is written and
	// remittance.ErrRaceLost is returned.
	CreateLinked(ctx context.Context, r *remittance.Remittance) error
	Get(ctx context.Context, id uuid.UUID) (*remittance.Remittance, error)
	List(ctx context.Context, f RemittanceFilter) ([]*remittance.Remittance, error)
	// Resolve moves a pending remittance to status. Rejection unlinks its
	// orders in the same atomic unit.
	Resolve(ctx context.Context, r *remittance.Remittance) error
}
