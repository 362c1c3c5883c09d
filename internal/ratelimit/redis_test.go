package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLimiter(t *testing.T, capacity int, window time.Duration) (*RedisTokenBucket, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(time.Unix(1_700_000_000, 0))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTokenBucket(client, capacity, window), mr
}

func TestRedisTokenBucketAdmitsWithinCapacity(t *testing.T) {
	rl, _ := newTestRedisLimiter(t, 3, 10*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "user1")
		if err != nil {
			t.Fatalf("Allow() #%d error = %v", i+1, err)
		}
		if !allowed {
			t.Errorf("Allow() #%d = false, want admitted", i+1)
		}
	}

	allowed, err := rl.Allow(ctx, "user1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("Allow() beyond capacity = true, want denied")
	}
}

func TestRedisTokenBucketRefillsOnServerClock(t *testing.T) {
	rl, mr := newTestRedisLimiter(t, 4, 10*time.Second)
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)
	mr.SetTime(start)

	for i := 0; i < 4; i++ {
		if allowed, _ := rl.Allow(ctx, "user1"); !allowed {
			t.Fatalf("Allow() #%d = false, want admitted", i+1)
		}
	}
	if allowed, _ := rl.Allow(ctx, "user1"); allowed {
		t.Fatal("bucket not exhausted")
	}

	// Half a window on the server clock refills exactly two tokens.
	mr.SetTime(start.Add(5 * time.Second))
	if allowed, _ := rl.Allow(ctx, "user1"); !allowed {
		t.Error("first post-refill request denied, want admitted")
	}
	if allowed, _ := rl.Allow(ctx, "user1"); !allowed {
		t.Error("second post-refill request denied, want admitted")
	}
	if allowed, _ := rl.Allow(ctx, "user1"); allowed {
		t.Error("third post-refill request admitted, want denied")
	}
}

func TestRedisTokenBucketPrefixesKeys(t *testing.T) {
	rl, mr := newTestRedisLimiter(t, 5, time.Minute)

	if _, err := rl.Allow(context.Background(), "203.0.113.7"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !mr.Exists("rl:203.0.113.7") {
		t.Error("bucket hash not stored under rl: prefix")
	}
}

func TestRedisTokenBucketAllowN(t *testing.T) {
	rl, _ := newTestRedisLimiter(t, 5, 10*time.Second)
	ctx := context.Background()

	if allowed, _ := rl.AllowN(ctx, "batch", 3); !allowed {
		t.Error("AllowN(3) on fresh key = false, want admitted")
	}
	if allowed, _ := rl.AllowN(ctx, "batch", 3); allowed {
		t.Error("AllowN(3) with 2 tokens left = true, want denied")
	}
	if allowed, _ := rl.AllowN(ctx, "batch", 2); !allowed {
		t.Error("AllowN(2) with 2 tokens left = false, want admitted")
	}
}

func TestRedisTokenBucketSharedAcrossInstances(t *testing.T) {
	rl1, mr := newTestRedisLimiter(t, 2, time.Minute)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rl2 := NewRedisTokenBucket(client, 2, time.Minute)
	ctx := context.Background()

	rl1.Allow(ctx, "shared")
	rl1.Allow(ctx, "shared")

	if allowed, _ := rl2.Allow(ctx, "shared"); allowed {
		t.Error("second instance admitted a key the first exhausted")
	}
}

func TestRedisTokenBucketSurfacesBackendErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rl := NewRedisTokenBucket(client, 5, time.Minute)
	mr.Close()

	if _, err := rl.Allow(context.Background(), "user1"); err == nil {
		t.Error("Allow() error = nil, want backend failure")
	}
}
