// Package ratelimit implements token-bucket admission control with an
// in-process backend and a Redis backend that share one contract, plus the
// HTTP middleware and client-IP extraction that key the buckets.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter admits or rejects requests per key. Implementations refill
// capacity tokens per window and admit while a full token is available.
type Limiter interface {
	// Allow consumes one token for key.
	Allow(ctx context.Context, key string) (bool, error)

	// AllowN consumes n tokens for key.
	AllowN(ctx context.Context, key string, n int) (bool, error)
}

type registryKey struct {
	capacity int
	window   time.Duration
}

// Registry caches limiter instances keyed by (capacity, window) so every
// route sharing a shape shares one bucket set. When a Redis client is
// present all limiters run server-side; otherwise they run in process.
type Registry struct {
	client *redis.Client
	logger *slog.Logger

	mu       sync.RWMutex
	limiters map[registryKey]Limiter
	buckets  []*TokenBucket
}

// NewRegistry builds a registry. client may be nil, selecting the
// in-process backend.
func NewRegistry(client *redis.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		client:   client,
		logger:   logger,
		limiters: make(map[registryKey]Limiter),
	}
}

// For returns the limiter for the given shape, building it on first use.
// The read lock serves the common hit path; construction re-checks under
// the write lock so concurrent first requests share one instance.
func (r *Registry) For(capacity int, window time.Duration) Limiter {
	key := registryKey{capacity: capacity, window: window}

	r.mu.RLock()
	l, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}

	if r.client != nil {
		l = NewRedisTokenBucket(r.client, capacity, window)
	} else {
		tb := NewTokenBucket(capacity, window)
		r.buckets = append(r.buckets, tb)
		l = tb
	}
	r.limiters[key] = l
	r.logger.Debug("rate limiter built", "capacity", capacity, "window", window.String())
	return l
}

// MemoryBuckets returns the in-process buckets built so far. The serve
// lifecycle runs a cleanup task for each; Redis buckets expire natively.
func (r *Registry) MemoryBuckets() []*TokenBucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*TokenBucket(nil), r.buckets...)
}
