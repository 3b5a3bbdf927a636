package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// RoundRepo handles the append-only round log for sessions.
type RoundRepo struct{}

// AppendTx appends a round within a transaction. The UNIQUE(session_id, round_no)
// constraint rejects a double-append of the same round number.
func (r *RoundRepo) AppendTx(ctx context.Context, tx *sql.Tx, round domain.Round) error {
	perks, err := json.Marshal(emptyIfNil(round.Decision.AltPerks))
	if err != nil {
		return fmt.Errorf("marshal perks: %w", err)
	}
	bundles, err := json.Marshal(emptyIfNil(round.Decision.BundleSuggestions))
	if err != nil {
		return fmt.Errorf("marshal bundles: %w", err)
	}

	const q = `INSERT INTO rounds (session_id, round_no, user_offer, status, counter_price, justification, perks_json, bundles_json, source, created_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		round.SessionID,
		round.RoundNumber,
		round.UserOffer,
		string(round.Decision.Status),
		round.Decision.CounterPrice,
		round.Decision.Justification,
		string(perks),
		string(bundles),
		string(round.Decision.Source),
		round.CreatedAtUnix,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return domain.ErrOptimisticLock
		}
		return fmt.Errorf("append round: %w", err)
	}
	return nil
}

// ListBySession returns all rounds for a session ordered by round number.
func (r *RoundRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string) ([]domain.Round, error) {
	const q = `SELECT id, session_id, round_no, user_offer, status, counter_price, justification, perks_json, bundles_json, source, created_at_unix
FROM rounds WHERE session_id = ? ORDER BY round_no ASC`

	rows, err := db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var out []domain.Round
	for rows.Next() {
		var rd domain.Round
		var status, source, perksJSON, bundlesJSON string
		if err := rows.Scan(&rd.ID, &rd.SessionID, &rd.RoundNumber, &rd.UserOffer,
			&status, &rd.Decision.CounterPrice, &rd.Decision.Justification,
			&perksJSON, &bundlesJSON, &source, &rd.CreatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rd.Decision.Status = domain.DecisionStatus(status)
		rd.Decision.Source = domain.DecisionSource(source)
		if err := json.Unmarshal([]byte(perksJSON), &rd.Decision.AltPerks); err != nil {
			return nil, fmt.Errorf("unmarshal perks: %w", err)
		}
		if err := json.Unmarshal([]byte(bundlesJSON), &rd.Decision.BundleSuggestions); err != nil {
			return nil, fmt.Errorf("unmarshal bundles: %w", err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

// LastBySession returns the most recent round for a session, or nil if none.
func (r *RoundRepo) LastBySession(ctx context.Context, db *sql.DB, sessionID string) (*domain.Round, error) {
	rounds, err := r.ListBySession(ctx, db, sessionID)
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return nil, nil
	}
	last := rounds[len(rounds)-1]
	return &last, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
