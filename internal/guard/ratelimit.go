// Package guard implements the anti-abuse checks that run before any
// negotiation round: rate limiting, replay detection, and fraud heuristics.
// All mutable state lives behind injected store interfaces so an in-memory
// map and a shared Redis deployment are interchangeable.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// RateLimitStore counts requests per key in a fixed window.
// Take increments the key's counter and returns the count after the
// increment plus the window's absolute reset time. The window resets lazily
// on the first call after expiry.
type RateLimitStore interface {
	Take(ctx context.Context, key string, window time.Duration) (count int, resetAtUnix int64, err error)
}

// RateLimiter enforces a fixed-window cap on negotiation attempts per user.
type RateLimiter struct {
	Store  RateLimitStore
	Limit  int
	Window time.Duration
}

// Allow consumes one attempt for the user. The returned status carries the
// remaining budget and the window reset time regardless of the outcome.
func (l *RateLimiter) Allow(ctx context.Context, userID string) (domain.RateStatus, error) {
	count, resetAt, err := l.Store.Take(ctx, userID, l.Window)
	if err != nil {
		return domain.RateStatus{}, err
	}

	status := domain.RateStatus{
		Allowed:     count <= l.Limit,
		Remaining:   l.Limit - count,
		ResetAtUnix: resetAt,
	}
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	return status, nil
}

type rateBucket struct {
	count       int
	windowStart int64
}

// MemoryRateStore is the single-process RateLimitStore.
type MemoryRateStore struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
}

// NewMemoryRateStore creates an empty in-memory store.
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{buckets: make(map[string]*rateBucket)}
}

// Take implements RateLimitStore.
func (s *MemoryRateStore) Take(ctx context.Context, key string, window time.Duration) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	windowSec := int64(window / time.Second)

	bucket, ok := s.buckets[key]
	if !ok || now-bucket.windowStart >= windowSec {
		bucket = &rateBucket{count: 0, windowStart: now}
		s.buckets[key] = bucket
	}

	bucket.count++
	return bucket.count, bucket.windowStart + windowSec, nil
}
