package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// ActivityStore records negotiation attempts for the trailing-window fraud
// heuristics.
type ActivityStore interface {
	RecordAttempt(ctx context.Context, userID, ip string, at time.Time) error
	AttemptsSince(ctx context.Context, userID string, since time.Time) (int, error)
	DistinctUsersFromIP(ctx context.Context, ip string, since time.Time) (int, error)
}

// FraudConfig tunes the heuristic thresholds.
type FraudConfig struct {
	// LowballRatio: offers below this fraction of base price flag as lowball.
	LowballRatio float64
	// AttemptsPerDay: more attempts than this in 24h flags as excessive.
	AttemptsPerDay int
	// UsersPerIPPerHour: more distinct users than this from one IP in an
	// hour flags as multi-account.
	UsersPerIPPerHour int
}

// FraudInput is the per-request view the heuristics score.
type FraudInput struct {
	UserID     string
	SKU        string
	OfferPrice int64
	BasePrice  int64
	IP         string
}

// FraudHeuristics scores a request for suspicious patterns. The scoring
// itself is pure; the trailing-window counters live in the injected store.
type FraudHeuristics struct {
	Activity ActivityStore
	Config   FraudConfig
}

// NewFraudHeuristics creates heuristics with the given store and thresholds.
func NewFraudHeuristics(activity ActivityStore, cfg FraudConfig) *FraudHeuristics {
	if cfg.LowballRatio == 0 {
		cfg.LowballRatio = 0.5
	}
	if cfg.AttemptsPerDay == 0 {
		cfg.AttemptsPerDay = 20
	}
	if cfg.UsersPerIPPerHour == 0 {
		cfg.UsersPerIPPerHour = 5
	}
	return &FraudHeuristics{Activity: activity, Config: cfg}
}

// Score records the attempt and returns zero or more flags. Callers block
// session creation when HasHighSeverity reports true.
func (h *FraudHeuristics) Score(ctx context.Context, in FraudInput) ([]domain.FraudFlag, error) {
	now := time.Now()
	if err := h.Activity.RecordAttempt(ctx, in.UserID, in.IP, now); err != nil {
		return nil, err
	}

	var flags []domain.FraudFlag

	if in.BasePrice > 0 && float64(in.OfferPrice) < h.Config.LowballRatio*float64(in.BasePrice) {
		flags = append(flags, domain.FraudFlag{
			UserID:        in.UserID,
			Kind:          "extreme_lowball",
			Severity:      domain.SeverityMedium,
			Detail:        fmt.Sprintf("offer %d below %.0f%% of base %d", in.OfferPrice, h.Config.LowballRatio*100, in.BasePrice),
			CreatedAtUnix: now.Unix(),
		})
	}

	attempts, err := h.Activity.AttemptsSince(ctx, in.UserID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	if attempts > h.Config.AttemptsPerDay {
		flags = append(flags, domain.FraudFlag{
			UserID:        in.UserID,
			Kind:          "excessive_negotiations",
			Severity:      domain.SeverityHigh,
			Detail:        fmt.Sprintf("%d attempts in trailing 24h", attempts),
			CreatedAtUnix: now.Unix(),
		})
	}

	if in.IP != "" {
		users, err := h.Activity.DistinctUsersFromIP(ctx, in.IP, now.Add(-time.Hour))
		if err != nil {
			return nil, err
		}
		if users > h.Config.UsersPerIPPerHour {
			flags = append(flags, domain.FraudFlag{
				UserID:        in.UserID,
				Kind:          "multi_account_ip",
				Severity:      domain.SeverityHigh,
				Detail:        fmt.Sprintf("%d distinct users from %s in trailing hour", users, in.IP),
				CreatedAtUnix: now.Unix(),
			})
		}
	}

	return flags, nil
}

// HasHighSeverity reports whether any flag is severe enough to block.
func HasHighSeverity(flags []domain.FraudFlag) bool {
	for _, f := range flags {
		if f.Severity == domain.SeverityHigh {
			return true
		}
	}
	return false
}

type attempt struct {
	userID string
	ip     string
	at     time.Time
}

// MemoryActivityStore is the single-process ActivityStore. Old attempts are
// pruned on write once they fall outside the longest heuristic window.
type MemoryActivityStore struct {
	mu       sync.Mutex
	attempts []attempt
}

// NewMemoryActivityStore creates an empty in-memory store.
func NewMemoryActivityStore() *MemoryActivityStore {
	return &MemoryActivityStore{}
}

// RecordAttempt implements ActivityStore.
func (s *MemoryActivityStore) RecordAttempt(ctx context.Context, userID, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := at.Add(-24 * time.Hour)
	kept := s.attempts[:0]
	for _, a := range s.attempts {
		if a.at.After(cutoff) {
			kept = append(kept, a)
		}
	}
	s.attempts = append(kept, attempt{userID: userID, ip: ip, at: at})
	return nil
}

// AttemptsSince implements ActivityStore.
func (s *MemoryActivityStore) AttemptsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, a := range s.attempts {
		if a.userID == userID && a.at.After(since) {
			n++
		}
	}
	return n, nil
}

// DistinctUsersFromIP implements ActivityStore.
func (s *MemoryActivityStore) DistinctUsersFromIP(ctx context.Context, ip string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[string]struct{})
	for _, a := range s.attempts {
		if a.ip == ip && a.at.After(since) {
			users[a.userID] = struct{}{}
		}
	}
	return len(users), nil
}
