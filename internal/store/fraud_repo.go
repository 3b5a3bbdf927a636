package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// FraudFlagRepo persists the append-only fraud flag trail per session.
type FraudFlagRepo struct{}

// InsertTx records one fraud flag within a transaction.
func (r *FraudFlagRepo) InsertTx(ctx context.Context, tx *sql.Tx, f domain.FraudFlag) error {
	const q = `INSERT INTO fraud_flags (session_id, user_id, kind, severity, detail, created_at_unix)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		f.SessionID,
		f.UserID,
		f.Kind,
		string(f.Severity),
		f.Detail,
		f.CreatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("insert fraud flag: %w", err)
	}
	return nil
}

// ListBySession returns all fraud flags recorded for a session.
func (r *FraudFlagRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string) ([]domain.FraudFlag, error) {
	const q = `SELECT session_id, user_id, kind, severity, detail, created_at_unix
FROM fraud_flags WHERE session_id = ? ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list fraud flags: %w", err)
	}
	defer rows.Close()

	var out []domain.FraudFlag
	for rows.Next() {
		var f domain.FraudFlag
		var severity string
		if err := rows.Scan(&f.SessionID, &f.UserID, &f.Kind, &severity, &f.Detail, &f.CreatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan fraud flag: %w", err)
		}
		f.Severity = domain.FraudSeverity(severity)
		out = append(out, f)
	}
	return out, rows.Err()
}
