package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// ReplayStore tracks offer digests already seen within a session.
type ReplayStore interface {
	Seen(ctx context.Context, sessionID, digest string) (bool, error)
	Record(ctx context.Context, sessionID, digest string, ttl time.Duration) error
}

// ReplayGuard rejects resubmission of the identical offer value within one
// session. Offers are only recorded after the round commits, so a failed
// persistence attempt can be retried with the same offer.
type ReplayGuard struct {
	Store ReplayStore
	TTL   time.Duration
}

// Seen reports whether this exact offer was already submitted in the session.
func (g *ReplayGuard) Seen(ctx context.Context, sessionID string, offer int64) (bool, error) {
	return g.Store.Seen(ctx, sessionID, OfferDigest(offer))
}

// Record remembers the offer for the session.
func (g *ReplayGuard) Record(ctx context.Context, sessionID string, offer int64) error {
	return g.Store.Record(ctx, sessionID, OfferDigest(offer), g.TTL)
}

// OfferDigest hashes a numeric offer to a short stable key.
func OfferDigest(offer int64) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(offer, 10)))
	return hex.EncodeToString(sum[:8])
}

// MemoryReplayStore is the single-process ReplayStore.
type MemoryReplayStore struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{}
}

// NewMemoryReplayStore creates an empty in-memory store.
func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{sessions: make(map[string]map[string]struct{})}
}

// Seen implements ReplayStore.
func (s *MemoryReplayStore) Seen(ctx context.Context, sessionID, digest string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID][digest]
	return ok, nil
}

// Record implements ReplayStore. The TTL is ignored in memory: sessions are
// short-lived and the map is keyed per session.
func (s *MemoryReplayStore) Record(ctx context.Context, sessionID, digest string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sessions[sessionID]
	if !ok {
		set = make(map[string]struct{})
		s.sessions[sessionID] = set
	}
	set[digest] = struct{}{}
	return nil
}
