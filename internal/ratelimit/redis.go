package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces limiter hashes away from the storage scopes.
const redisKeyPrefix = "rl:"

// tokenBucketScript refills and debits a bucket atomically on the Redis
// server clock, so every replica of this process sees the same decisions.
// The per-key expiry equals the time to refill from empty, which doubles as
// idle cleanup.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]

local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2]) -- tokens per millisecond
local requested = tonumber(ARGV[3])

local now_data = redis.call("TIME")
local now = now_data[1] * 1000 + math.floor(now_data[2] / 1000)

local bucket = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(bucket[1])
local last_refill = tonumber(bucket[2])

if tokens == nil then
    tokens = capacity
    last_refill = now
else
    local delta = now - last_refill
    tokens = math.min(capacity, tokens + delta * refill_rate)
    last_refill = now
end

local allowed = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
end

redis.call("HMSET", key,
    "tokens", tokens,
    "last_refill", last_refill
)

redis.call("PEXPIRE", key, math.ceil(capacity / refill_rate))

return allowed
`)

// RedisTokenBucket is the Redis-backed Limiter. All arithmetic happens in
// one server-side script evaluation per call.
type RedisTokenBucket struct {
	client    *redis.Client
	capacity  int
	ratePerMS float64
}

// NewRedisTokenBucket builds a limiter that refills capacity tokens over
// window, shared across every process pointing at the same Redis.
func NewRedisTokenBucket(client *redis.Client, capacity int, window time.Duration) *RedisTokenBucket {
	return &RedisTokenBucket{
		client:    client,
		capacity:  capacity,
		ratePerMS: float64(capacity) / float64(window.Milliseconds()),
	}
}

// Allow consumes one token for key.
func (r *RedisTokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN consumes n tokens for key.
func (r *RedisTokenBucket) AllowN(ctx context.Context, key string, n int) (bool, error) {
	allowed, err := tokenBucketScript.Run(ctx, r.client,
		[]string{redisKeyPrefix + key},
		r.capacity, r.ratePerMS, n,
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis script: %w", err)
	}
	return allowed == 1, nil
}
