package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/config"
)

func TestNewProviderMemory(t *testing.T) {
	p, err := NewProvider(context.Background(), &config.Settings{StorageBackend: config.BackendMemory}, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer p.Close()

	if s := p.Store(ScopeRegisteredClients); s == nil {
		t.Fatal("Store() = nil")
	}
	p.Store(ScopeAuthCodes)

	if got := len(p.MemoryStores()); got != 2 {
		t.Errorf("MemoryStores() len = %d, want 2", got)
	}
}

func TestNewProviderUnknownBackend(t *testing.T) {
	_, err := NewProvider(context.Background(), &config.Settings{StorageBackend: "etcd"}, nil)
	if err == nil {
		t.Error("NewProvider() error = nil, want unknown backend failure")
	}
}

func TestNewProviderRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	settings := &config.Settings{
		StorageBackend: config.BackendRedis,
		Redis:          redisSettingsFor(t, mr.Addr()),
	}
	p, err := NewProvider(context.Background(), settings, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	s := p.Store(ScopeAuthTransactions)
	if err := s.Set(ctx, "txn-1", testRecord{ID: "txn-1"}, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got testRecord
	if err := s.Get(ctx, "txn-1", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "txn-1" {
		t.Errorf("Get() ID = %q, want txn-1", got.ID)
	}

	if got := len(p.MemoryStores()); got != 0 {
		t.Errorf("MemoryStores() len = %d, want 0 for redis backend", got)
	}
}
