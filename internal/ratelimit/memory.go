package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// DefaultEntryTTL is how long an untouched bucket survives before the next
// call or cleanup pass resets it.
const DefaultEntryTTL = time.Hour

// bucket is the per-key state. Timestamps come from the limiter clock so
// arithmetic stays monotonic.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

// TokenBucket is the in-process Limiter. One instance serves many keys; all
// state sits behind a single mutex.
type TokenBucket struct {
	capacity   float64
	refillRate float64 // tokens per second
	entryTTL   time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	// now is swapped out in tests. time.Now carries a monotonic reading,
	// which Sub preserves.
	now func() time.Time
}

// NewTokenBucket builds a limiter that refills capacity tokens over window.
func NewTokenBucket(capacity int, window time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		refillRate: float64(capacity) / window.Seconds(),
		entryTTL:   DefaultEntryTTL,
		buckets:    make(map[string]*bucket),
		now:        time.Now,
	}
}

// Allow consumes one token for key.
func (t *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	return t.AllowN(ctx, key, 1)
}

// AllowN consumes n tokens for key. The first request on a fresh or stale
// key is always admitted.
func (t *TokenBucket) AllowN(_ context.Context, key string, n int) (bool, error) {
	now := t.now()
	requested := float64(n)

	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	if !ok {
		t.buckets[key] = &bucket{tokens: t.capacity - requested, lastRefill: now, lastAccess: now}
		return true, nil
	}

	if now.Sub(b.lastAccess) > t.entryTTL {
		b.tokens = t.capacity - requested
		b.lastRefill = now
		b.lastAccess = now
		return true, nil
	}

	if delta := now.Sub(b.lastRefill); delta > 0 {
		b.tokens = math.Min(t.capacity, b.tokens+delta.Seconds()*t.refillRate)
		b.lastRefill = now
	}

	if b.tokens < requested {
		// A denial does not count as activity: flooded keys still go
		// stale and get collected once the traffic stops.
		return false, nil
	}

	b.tokens -= requested
	b.lastAccess = now
	return true, nil
}

// Cleanup removes buckets idle longer than the entry TTL and returns the
// count removed.
func (t *TokenBucket) Cleanup() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, b := range t.buckets {
		if now.Sub(b.lastAccess) > t.entryTTL {
			delete(t.buckets, key)
			removed++
		}
	}
	return removed
}

// RunCleanup runs Cleanup on the given interval until ctx is cancelled.
func (t *TokenBucket) RunCleanup(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("rate limiter cleanup task started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("rate limiter cleanup task stopped")
			return
		case <-ticker.C:
			if removed := t.Cleanup(); removed > 0 {
				logger.Debug("stale rate-limit buckets removed", "count", removed)
			}
		}
	}
}
