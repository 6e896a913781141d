package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
	"github.com/appetiteclub/delivery/services/order/internal/order"
)

type RemittanceRepo struct {
	db *DB
}

func NewRemittanceRepo(db *DB) *RemittanceRepo {
	return &RemittanceRepo{db: db}
}

func (r *RemittanceRepo) CreateLinked(ctx context.Context, rem *remittance.Remittance) error {
	if rem == nil || len(rem.OrderIDs) == 0 {
		return fmt.Errorf("remittance has no orders")
	}
	doc, err := json.Marshal(rem)
	if err != nil {
		return fmt.Errorf("cannot encode remittance: %w", err)
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET remittance_id = $1
			WHERE id = ANY($2) AND courier_id = $3 AND status = $4
				AND payment_method = $5 AND remittance_id IS NULL
		`, rem.ID, rem.OrderIDs, rem.CourierID, orderstatus.Statuses.Delivered.Code(), lifecycle.PaymentCash)
		if err != nil {
			return fmt.Errorf("cannot link orders: %w", err)
		}
		if tag.RowsAffected() != int64(len(rem.OrderIDs)) {
			return remittance.ErrRaceLost
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO remittances (id, courier_id, status, created_at, doc)
			VALUES ($1, $2, $3, $4, $5)
		`, rem.ID, rem.CourierID, rem.Status, rem.CreatedAt, doc)
		if err != nil {
			return fmt.Errorf("cannot create remittance: %w", err)
		}
		return nil
	})
}

func (r *RemittanceRepo) Get(ctx context.Context, id uuid.UUID) (*remittance.Remittance, error) {
	var doc []byte
	err := r.db.Pool().QueryRow(ctx, `SELECT doc FROM remittances WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get remittance: %w", err)
	}

	var rem remittance.Remittance
	if err := json.Unmarshal(doc, &rem); err != nil {
		return nil, fmt.Errorf("cannot decode remittance: %w", err)
	}
	return &rem, nil
}

func (r *RemittanceRepo) List(ctx context.Context, f order.RemittanceFilter) ([]*remittance.Remittance, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT doc FROM remittances
		WHERE ($1::uuid IS NULL OR courier_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`, f.CourierID, f.Status)
	if err != nil {
		return nil, fmt.Errorf("cannot list remittances: %w", err)
	}
	defer rows.Close()

	result := []*remittance.Remittance{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("cannot scan remittance: %w", err)
		}
		var rem remittance.Remittance
		if err := json.Unmarshal(doc, &rem); err != nil {
			return nil, fmt.Errorf("cannot decode remittance: %w", err)
		}
		result = append(result, &rem)
	}
	return result, rows.Err()
}

func (r *RemittanceRepo) Resolve(ctx context.Context, rem *remittance.Remittance) error {
	doc, err := json.Marshal(rem)
	if err != nil {
		return fmt.Errorf("cannot encode remittance: %w", err)
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE remittances SET status = $2, doc = $3
			WHERE id = $1 AND status = $4
		`, rem.ID, rem.Status, doc, remittance.StatusPending)
		if err != nil {
			return fmt.Errorf("cannot resolve remittance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return remittance.ErrAlreadyResolved
		}

		if rem.Status == remittance.StatusRejected {
			if _, err := tx.Exec(ctx, `UPDATE orders SET remittance_id = NULL WHERE remittance_id = $1`, rem.ID); err != nil {
				return fmt.Errorf("cannot unlink orders: %w", err)
			}
		}
		return nil
	})
}

func (r *RemittanceRepo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
