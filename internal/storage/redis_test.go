package storage

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/config"
)

func newTestRedisStore(t *testing.T, scope string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, scope, nil), mr
}

func redisSettingsFor(t *testing.T, addr string) config.RedisSettings {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi(%q) error = %v", portStr, err)
	}
	return config.RedisSettings{Host: host, Port: port}
}

func TestNewRedisClientVerifiesConnectivity(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), redisSettingsFor(t, mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	defer client.Close()

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestNewRedisClientFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	settings := redisSettingsFor(t, mr.Addr())
	mr.Close()

	if _, err := NewRedisClient(context.Background(), settings); err == nil {
		t.Error("NewRedisClient() error = nil, want dial failure")
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s, _ := newTestRedisStore(t, ScopeRegisteredClients)
	ctx := context.Background()

	want := testRecord{ID: "client-1", Scope: "ZohoAnalytics.fullaccess.all"}
	if err := s.Set(ctx, "client-1", want, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got testRecord
	if err := s.Get(ctx, "client-1", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestRedisStoreScopesKeys(t *testing.T) {
	s, mr := newTestRedisStore(t, ScopeAuthTransactions)

	if err := s.Set(context.Background(), "txn-1", testRecord{ID: "txn-1"}, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := mr.Get("auth_transactions:txn-1"); err != nil {
		t.Errorf("expected scoped key auth_transactions:txn-1: %v", err)
	}
}

func TestRedisStoreGetMissing(t *testing.T) {
	s, _ := newTestRedisStore(t, ScopeAuthCodes)

	var got testRecord
	err := s.Get(context.Background(), "absent", &got)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t, ScopeAuthCodes)
	ctx := context.Background()

	if err := s.Set(ctx, "code-1", testRecord{ID: "code-1"}, 120*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	mr.FastForward(121 * time.Second)

	var got testRecord
	if err := s.Get(ctx, "code-1", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreZeroTTLPersists(t *testing.T) {
	s, mr := newTestRedisStore(t, ScopeRegisteredClients)
	ctx := context.Background()

	if err := s.Set(ctx, "client-1", testRecord{ID: "client-1"}, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	mr.FastForward(1000 * time.Hour)

	var got testRecord
	if err := s.Get(ctx, "client-1", &got); err != nil {
		t.Errorf("Get() error = %v, want entry to persist", err)
	}
}

func TestRedisStoreDelete(t *testing.T) {
	s, _ := newTestRedisStore(t, ScopeAuthCodes)
	ctx := context.Background()

	if err := s.Set(ctx, "code-1", testRecord{ID: "code-1"}, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Delete(ctx, "code-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var got testRecord
	if err := s.Get(ctx, "code-1", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, "code-1"); err != nil {
		t.Errorf("Delete() of absent key error = %v", err)
	}
}

func TestRedisStoreRemoveReportsPresence(t *testing.T) {
	s, _ := newTestRedisStore(t, ScopeAuthCodes)
	ctx := context.Background()

	if err := s.Set(ctx, "code-1", testRecord{ID: "code-1"}, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	removed, err := s.Remove(ctx, "code-1")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !removed {
		t.Error("first Remove() = false, want true")
	}

	removed, err = s.Remove(ctx, "code-1")
	if err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
	if removed {
		t.Error("second Remove() = true, want false")
	}
}
