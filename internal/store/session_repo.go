package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// SessionRepo handles persistence for Session records.
type SessionRepo struct{}

const sessionColumns = `session_id, sku, user_id, segment, quantity, language,
	base_price, floor_price, max_rounds, current_round, status, state_version,
	final_price, discount_token, discount_applied, accepted_at_unix,
	rejected_round, expires_at_unix, created_at_unix, updated_at_unix`

// CreateTx inserts a new session within an existing transaction.
func (r *SessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	q := `INSERT INTO sessions (` + sessionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		s.SessionID,
		s.SKU,
		s.UserID,
		string(s.Segment),
		s.Quantity,
		s.Language,
		s.BasePrice,
		s.FloorPrice,
		s.MaxRounds,
		s.CurrentRound,
		string(s.Status),
		s.StateVersion,
		s.FinalPrice,
		s.DiscountToken,
		boolToInt(s.DiscountApplied),
		s.AcceptedAtUnix,
		s.RejectedRound,
		s.ExpiresAtUnix,
		s.CreatedAtUnix,
		s.UpdatedAtUnix,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return domain.ErrDuplicateSession
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateStateTx updates a session within a transaction using optimistic locking.
// The update only succeeds if the current state_version matches the expected version.
func (r *SessionRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	const q = `UPDATE sessions SET
		current_round = ?,
		status = ?,
		state_version = state_version + 1,
		final_price = ?,
		discount_token = ?,
		accepted_at_unix = ?,
		rejected_round = ?,
		updated_at_unix = ?
	WHERE session_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		s.CurrentRound,
		string(s.Status),
		s.FinalPrice,
		s.DiscountToken,
		s.AcceptedAtUnix,
		s.RejectedRound,
		s.UpdatedAtUnix,
		s.SessionID,
		s.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepo) GetByID(ctx context.Context, db *sql.DB, sessionID string) (*domain.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = ?`
	return r.scanOne(db.QueryRowContext(ctx, q, sessionID), domain.ErrSessionNotFound)
}

// GetByToken retrieves the session that minted the given discount token.
func (r *SessionRepo) GetByToken(ctx context.Context, db *sql.DB, token string) (*domain.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE discount_token = ? AND discount_token != ''`
	return r.scanOne(db.QueryRowContext(ctx, q, token), domain.ErrInvalidToken)
}

// MarkRedeemed flips discount_applied exactly once. The conditional update is
// the idempotency boundary: a second call affects zero rows and reports
// ErrAlreadyRedeemed.
func (r *SessionRepo) MarkRedeemed(ctx context.Context, db *sql.DB, sessionID string, nowUnix int64) error {
	const q = `UPDATE sessions SET discount_applied = 1, updated_at_unix = ?
WHERE session_id = ? AND discount_applied = 0`
	res, err := db.ExecContext(ctx, q, nowUnix, sessionID)
	if err != nil {
		return fmt.Errorf("mark redeemed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrAlreadyRedeemed
	}
	return nil
}

// MarkExpired records lazy expiry of a session past its deadline.
// Only active sessions are touched; terminal statuses are left as-is.
func (r *SessionRepo) MarkExpired(ctx context.Context, db *sql.DB, sessionID string, nowUnix int64) error {
	const q = `UPDATE sessions SET status = ?, state_version = state_version + 1, updated_at_unix = ?
WHERE session_id = ? AND status = ?`
	_, err := db.ExecContext(ctx, q, string(domain.StatusExpired), nowUnix, sessionID, string(domain.StatusActive))
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	return nil
}

func (r *SessionRepo) scanOne(row *sql.Row, notFound error) (*domain.Session, error) {
	var s domain.Session
	var segment, status string
	var applied int
	err := row.Scan(&s.SessionID, &s.SKU, &s.UserID, &segment, &s.Quantity, &s.Language,
		&s.BasePrice, &s.FloorPrice, &s.MaxRounds, &s.CurrentRound, &status, &s.StateVersion,
		&s.FinalPrice, &s.DiscountToken, &applied, &s.AcceptedAtUnix,
		&s.RejectedRound, &s.ExpiresAtUnix, &s.CreatedAtUnix, &s.UpdatedAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.Segment = domain.Segment(segment)
	s.Status = domain.SessionStatus(status)
	s.DiscountApplied = applied != 0
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
