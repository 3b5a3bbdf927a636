package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// DiscountRepo persists discount analytics rows written on acceptance.
type DiscountRepo struct{}

// InsertTx records the discount outcome of an accepted session.
func (r *DiscountRepo) InsertTx(ctx context.Context, tx *sql.Tx, d domain.DiscountRecord) error {
	const q = `INSERT INTO discount_records (session_id, sku, user_id, base_price, final_price, discount_amount, discount_pct, rounds, seconds_to_decision, created_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		d.SessionID,
		d.SKU,
		d.UserID,
		d.BasePrice,
		d.FinalPrice,
		d.DiscountAmount,
		d.DiscountPct,
		d.Rounds,
		d.SecondsToDecision,
		d.CreatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("insert discount record: %w", err)
	}
	return nil
}

// ListRecent returns the most recent discount records, newest first.
func (r *DiscountRepo) ListRecent(ctx context.Context, db *sql.DB, limit int) ([]domain.DiscountRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, session_id, sku, user_id, base_price, final_price, discount_amount, discount_pct, rounds, seconds_to_decision, created_at_unix
FROM discount_records ORDER BY id DESC LIMIT ?`

	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list discount records: %w", err)
	}
	defer rows.Close()

	var out []domain.DiscountRecord
	for rows.Next() {
		var d domain.DiscountRecord
		if err := rows.Scan(&d.ID, &d.SessionID, &d.SKU, &d.UserID, &d.BasePrice, &d.FinalPrice,
			&d.DiscountAmount, &d.DiscountPct, &d.Rounds, &d.SecondsToDecision, &d.CreatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan discount record: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
