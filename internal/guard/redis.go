package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisFixedWindowScript increments a fixed-window counter atomically.
// KEYS[1] = counter key
// ARGV[1] = window length in seconds
// Returns {count, ttl_remaining_seconds}.
var redisFixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])

local count = redis.call("INCR", key)
if count == 1 then
    redis.call("EXPIRE", key, window)
end
local ttl = redis.call("TTL", key)
if ttl < 0 then
    redis.call("EXPIRE", key, window)
    ttl = window
end
return {count, ttl}
`)

// RedisRateStore implements RateLimitStore on Redis, for deployments where
// multiple engine instances share one rate budget per user.
type RedisRateStore struct {
	client *redis.Client
}

// NewRedisRateStore creates a store backed by the given Redis instance.
func NewRedisRateStore(addr, password string, db int) *RedisRateStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRateStore{client: rdb}
}

// NewRedisRateStoreFromClient wraps an existing client.
func NewRedisRateStoreFromClient(client *redis.Client) *RedisRateStore {
	return &RedisRateStore{client: client}
}

// Client exposes the underlying Redis client so other guard stores can share
// one connection pool.
func (s *RedisRateStore) Client() *redis.Client {
	return s.client
}

// Take implements RateLimitStore.
func (s *RedisRateStore) Take(ctx context.Context, key string, window time.Duration) (int, int64, error) {
	redisKey := fmt.Sprintf("nego:rate:%s", key)
	windowSec := int64(window / time.Second)

	res, err := redisFixedWindowScript.Run(ctx, s.client, []string{redisKey}, windowSec).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis rate limiter: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return 0, 0, fmt.Errorf("invalid response from rate limit script")
	}
	count, _ := results[0].(int64)
	ttl, _ := results[1].(int64)

	return int(count), time.Now().Unix() + ttl, nil
}

// RedisReplayStore implements ReplayStore on Redis using one set per session.
type RedisReplayStore struct {
	client *redis.Client
}

// NewRedisReplayStoreFromClient wraps an existing client.
func NewRedisReplayStoreFromClient(client *redis.Client) *RedisReplayStore {
	return &RedisReplayStore{client: client}
}

// Seen implements ReplayStore.
func (s *RedisReplayStore) Seen(ctx context.Context, sessionID, digest string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, replayKey(sessionID), digest).Result()
	if err != nil {
		return false, fmt.Errorf("redis replay lookup: %w", err)
	}
	return ok, nil
}

// Record implements ReplayStore. The set expires with the session TTL so
// finished sessions clean themselves up.
func (s *RedisReplayStore) Record(ctx context.Context, sessionID, digest string, ttl time.Duration) error {
	key := replayKey(sessionID)
	if err := s.client.SAdd(ctx, key, digest).Err(); err != nil {
		return fmt.Errorf("redis replay record: %w", err)
	}
	if ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("redis replay expire: %w", err)
		}
	}
	return nil
}

func replayKey(sessionID string) string {
	return fmt.Sprintf("nego:replay:%s", sessionID)
}
