package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/services/order/internal/order"
)

// OrderRepo keeps the full order as a JSONB document next to the columns
// used for filtering and guarded updates. Both are written together.
type OrderRepo struct {
	db *DB
}

func NewOrderRepo(db *DB) *OrderRepo {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) Create(ctx context.Context, o *lifecycle.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("cannot encode order: %w", err)
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO orders (id, number, status, restaurant_id, customer_id, courier_id,
			payment_method, remittance_id, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, o.ID, o.Number, o.Status, o.RestaurantID, o.CustomerID, o.CourierID,
		o.PaymentMethod, o.RemittanceID, o.CreatedAt, o.UpdatedAt, doc)
	if err != nil {
		return fmt.Errorf("cannot create order: %w", err)
	}
	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error) {
	row := r.db.Pool().QueryRow(ctx, `SELECT doc, remittance_id FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order: %w", err)
	}
	return o, nil
}

func (r *OrderRepo) List(ctx context.Context, f order.OrderFilter) ([]*lifecycle.Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", f.Statuses)
	}
	if f.RestaurantID != nil {
		add("restaurant_id = $%d", *f.RestaurantID)
	}
	if f.CourierID != nil {
		add("courier_id = $%d", *f.CourierID)
	}
	if f.CustomerID != nil {
		add("customer_id = $%d", *f.CustomerID)
	}
	if f.Since != nil {
		terminal := make([]string, 0, len(orderstatus.Completed))
		for _, s := range orderstatus.Completed {
			terminal = append(terminal, s.Code())
		}
		args = append(args, terminal, *f.Since)
		where = append(where, fmt.Sprintf("(status <> ALL($%d) OR updated_at >= $%d)", len(args)-1, len(args)))
	}

	query := `SELECT doc, remittance_id FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"

	return r.query(ctx, query, args...)
}

func (r *OrderRepo) SaveGuarded(ctx context.Context, o *lifecycle.Order, expectedStatus string) (bool, error) {
	doc, err := json.Marshal(o)
	if err != nil {
		return false, fmt.Errorf("cannot encode order: %w", err)
	}

	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE orders
		SET status = $3, courier_id = $4, updated_at = $5, doc = $6
		WHERE id = $1 AND status = $2
	`, o.ID, expectedStatus, o.Status, o.CourierID, o.UpdatedAt, doc)
	if err != nil {
		return false, fmt.Errorf("cannot save order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepo) ClaimCourier(ctx context.Context, o *lifecycle.Order) (bool, error) {
	if o == nil || o.CourierID == nil {
		return false, fmt.Errorf("order has no courier to claim")
	}
	doc, err := json.Marshal(o)
	if err != nil {
		return false, fmt.Errorf("cannot encode order: %w", err)
	}

	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE orders
		SET courier_id = $2, updated_at = $3, doc = $4
		WHERE id = $1 AND status = $5 AND courier_id IS NULL
	`, o.ID, *o.CourierID, o.UpdatedAt, doc, orderstatus.Statuses.Ready.Code())
	if err != nil {
		return false, fmt.Errorf("cannot claim order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepo) ListUnsettledCash(ctx context.Context, courierID uuid.UUID) ([]*lifecycle.Order, error) {
	return r.query(ctx, `
		SELECT doc, remittance_id FROM orders
		WHERE courier_id = $1 AND status = $2 AND payment_method = $3 AND remittance_id IS NULL
		ORDER BY updated_at
	`, courierID, orderstatus.Statuses.Delivered.Code(), lifecycle.PaymentCash)
}

func (r *OrderRepo) NextNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cannot allocate order number: %w", err)
	}
	return n, nil
}

func (r *OrderRepo) query(ctx context.Context, query string, args ...any) ([]*lifecycle.Order, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot list orders: %w", err)
	}
	defer rows.Close()

	result := []*lifecycle.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("cannot decode order: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// scanOrder reads (doc, remittance_id). The column is authoritative for the
// link since remittance updates do not rewrite the document.
func scanOrder(row pgx.Row) (*lifecycle.Order, error) {
	var (
		doc          []byte
		remittanceID *uuid.UUID
	)
	if err := row.Scan(&doc, &remittanceID); err != nil {
		return nil, err
	}

	var o lifecycle.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, err
	}
	o.RemittanceID = remittanceID
	return &o, nil
}
