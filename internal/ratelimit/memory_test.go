package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketFirstRequestAdmitted(t *testing.T) {
	tb := NewTokenBucket(5, 10*time.Second)

	allowed, err := tb.Allow(context.Background(), "user1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Error("Allow() = false, want first request admitted")
	}
}

func TestTokenBucketAdmitsWithinCapacity(t *testing.T) {
	tb := NewTokenBucket(5, 10*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := tb.Allow(ctx, "user1")
		if err != nil {
			t.Fatalf("Allow() #%d error = %v", i+1, err)
		}
		if !allowed {
			t.Errorf("Allow() #%d = false, want admitted", i+1)
		}
	}
}

func TestTokenBucketDeniesBeyondCapacity(t *testing.T) {
	tb := NewTokenBucket(3, 10*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tb.Allow(ctx, "user1")
	}

	allowed, _ := tb.Allow(ctx, "user1")
	if allowed {
		t.Error("Allow() beyond capacity = true, want denied")
	}
}

func TestTokenBucketKeysAreIsolated(t *testing.T) {
	tb := NewTokenBucket(2, 10*time.Second)
	ctx := context.Background()

	tb.Allow(ctx, "user1")
	tb.Allow(ctx, "user1")

	if allowed, _ := tb.Allow(ctx, "user1"); allowed {
		t.Error("user1 admitted past capacity")
	}
	if allowed, _ := tb.Allow(ctx, "user2"); !allowed {
		t.Error("user2 denied by user1's consumption")
	}
}

func TestTokenBucketFullWindowRefills(t *testing.T) {
	clock := time.Now()
	tb := NewTokenBucket(2, 10*time.Second)
	tb.now = func() time.Time { return clock }
	ctx := context.Background()

	tb.Allow(ctx, "user1")
	tb.Allow(ctx, "user1")
	if allowed, _ := tb.Allow(ctx, "user1"); allowed {
		t.Fatal("bucket not exhausted")
	}

	clock = clock.Add(10 * time.Second)
	if allowed, _ := tb.Allow(ctx, "user1"); !allowed {
		t.Error("Allow() after a full window = false, want refilled")
	}
}

func TestTokenBucketPartialRefill(t *testing.T) {
	clock := time.Now()
	tb := NewTokenBucket(4, 10*time.Second) // 0.4 tokens per second
	tb.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		tb.Allow(ctx, "user1")
	}
	if allowed, _ := tb.Allow(ctx, "user1"); allowed {
		t.Fatal("bucket not exhausted")
	}

	// Half a window refills exactly two tokens.
	clock = clock.Add(5 * time.Second)
	if allowed, _ := tb.Allow(ctx, "user1"); !allowed {
		t.Error("first post-refill request denied, want admitted")
	}
	if allowed, _ := tb.Allow(ctx, "user1"); !allowed {
		t.Error("second post-refill request denied, want admitted")
	}
	if allowed, _ := tb.Allow(ctx, "user1"); allowed {
		t.Error("third post-refill request admitted, want denied")
	}
}

func TestTokenBucketStaleKeyResets(t *testing.T) {
	clock := time.Now()
	tb := NewTokenBucket(2, 10*time.Second)
	tb.entryTTL = 30 * time.Second
	tb.now = func() time.Time { return clock }
	ctx := context.Background()

	tb.Allow(ctx, "user1")
	tb.Allow(ctx, "user1")
	if allowed, _ := tb.Allow(ctx, "user1"); allowed {
		t.Fatal("bucket not exhausted")
	}

	clock = clock.Add(31 * time.Second)
	if allowed, _ := tb.Allow(ctx, "user1"); !allowed {
		t.Error("Allow() on stale key = false, want reset and admitted")
	}
}

func TestTokenBucketDenialLeavesLastAccessUntouched(t *testing.T) {
	clock := time.Now()
	tb := NewTokenBucket(1, 60*time.Second)
	tb.entryTTL = time.Second
	tb.now = func() time.Time { return clock }
	ctx := context.Background()

	if allowed, _ := tb.Allow(ctx, "key1"); !allowed {
		t.Fatal("first request denied")
	}

	// A denial half a second in must not refresh the idle clock.
	clock = clock.Add(500 * time.Millisecond)
	if allowed, _ := tb.Allow(ctx, "key1"); allowed {
		t.Fatal("second request admitted, want denied")
	}
	if removed := tb.Cleanup(); removed != 0 {
		t.Errorf("Cleanup() within TTL = %d, want 0", removed)
	}

	// Two seconds after the last admission the key is idle and collectable,
	// denials notwithstanding.
	clock = clock.Add(1500 * time.Millisecond)
	if removed := tb.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() past TTL = %d, want 1", removed)
	}
}

func TestTokenBucketCleanup(t *testing.T) {
	clock := time.Now()
	tb := NewTokenBucket(5, 10*time.Second)
	tb.entryTTL = 30 * time.Second
	tb.now = func() time.Time { return clock }
	ctx := context.Background()

	tb.Allow(ctx, "old")
	clock = clock.Add(31 * time.Second)
	tb.Allow(ctx, "fresh")

	if removed := tb.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}

	tb.mu.Lock()
	_, oldExists := tb.buckets["old"]
	_, freshExists := tb.buckets["fresh"]
	tb.mu.Unlock()
	if oldExists {
		t.Error("stale bucket survived cleanup")
	}
	if !freshExists {
		t.Error("fresh bucket removed by cleanup")
	}
}

func TestTokenBucketCleanupNothingStale(t *testing.T) {
	tb := NewTokenBucket(5, 10*time.Second)
	tb.Allow(context.Background(), "key")

	if removed := tb.Cleanup(); removed != 0 {
		t.Errorf("Cleanup() = %d, want 0", removed)
	}
}

func TestTokenBucketAllowN(t *testing.T) {
	tb := NewTokenBucket(5, 10*time.Second)
	ctx := context.Background()

	if allowed, _ := tb.AllowN(ctx, "batch", 3); !allowed {
		t.Error("AllowN(3) on fresh key = false, want admitted")
	}
	if allowed, _ := tb.AllowN(ctx, "batch", 3); allowed {
		t.Error("AllowN(3) with 2 tokens left = true, want denied")
	}
	if allowed, _ := tb.AllowN(ctx, "batch", 2); !allowed {
		t.Error("AllowN(2) with 2 tokens left = false, want admitted")
	}
}

func TestRunCleanupStopsOnCancel(t *testing.T) {
	tb := NewTokenBucket(5, 10*time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		tb.RunCleanup(ctx, 5*time.Millisecond, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup() did not return after cancellation")
	}
}
