// Package storage persists the OAuth proxy's short-lived records behind a
// single Store contract with in-memory, Redis and Catalyst cache backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/config"
)

// Scopes for the three record types the OAuth proxy persists. Externalized
// backends namespace their keys with "<scope>:<id>".
const (
	ScopeRegisteredClients = "registered_clients"
	ScopeAuthTransactions  = "auth_transactions"
	ScopeAuthCodes         = "auth_codes"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("storage: key not found")

// Store is the persistence contract shared by the client registry, the
// transaction store and the authorization-code store. One Store instance
// serves one record type; values are serialized to canonical JSON on write
// and parsed on read so every backend behaves like an external one.
type Store interface {
	// Set writes or overwrites the value under key. A positive ttl bounds
	// the entry's lifetime; the entry must not be readable after it has
	// passed. A non-positive ttl stores the entry without expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Get reads the value under key into dest (a pointer to the record
	// type). Missing and expired entries return ErrNotFound.
	Get(ctx context.Context, key string, dest any) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Remover is implemented by backends whose delete can report whether the key
// was actually present. The token endpoint uses it to make authorization-code
// consumption first-writer-wins under concurrent redemptions.
type Remover interface {
	// Remove deletes the key and reports whether this call removed a live
	// entry.
	Remove(ctx context.Context, key string) (bool, error)
}

// Provider builds scoped stores for the configured backend. Externalized
// backends share a single connection pool across all scopes; in-memory
// stores are tracked so the serve lifecycle can start one reaper per store.
type Provider struct {
	backend  string
	redis    *redis.Client
	catalyst *CatalystCache
	memories []*MemoryStore
	logger   *slog.Logger
}

// NewProvider prepares the backend selected by STORAGE_BACKEND. For Redis it
// dials and verifies the shared pool; for catalyst it builds the REST client.
func NewProvider(ctx context.Context, settings *config.Settings, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{backend: settings.StorageBackend, logger: logger}

	switch settings.StorageBackend {
	case config.BackendMemory:
	case config.BackendRedis:
		client, err := NewRedisClient(ctx, settings.Redis)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		p.redis = client
	case config.BackendCatalyst:
		p.catalyst = NewCatalystCache(settings.Catalyst, settings.AccountsServerURL, logger)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", settings.StorageBackend)
	}

	logger.Info("persistence backend ready", "backend", settings.StorageBackend)
	return p, nil
}

// Store returns a Store bound to the given scope.
func (p *Provider) Store(scope string) Store {
	switch p.backend {
	case config.BackendRedis:
		return NewRedisStore(p.redis, scope, p.logger)
	case config.BackendCatalyst:
		return NewCatalystStore(p.catalyst, scope, p.logger)
	default:
		s := NewMemoryStore(scope, p.logger)
		p.memories = append(p.memories, s)
		return s
	}
}

// MemoryStores returns the in-memory stores created so far. The serve
// lifecycle runs a reaper for each; externalized backends expire natively.
func (p *Provider) MemoryStores() []*MemoryStore {
	return p.memories
}

// RedisClient returns the shared Redis pool, or nil when the backend is not
// Redis. The rate limiter reuses this pool instead of dialing its own.
func (p *Provider) RedisClient() *redis.Client {
	return p.redis
}

// Close releases the shared connection pool, if any.
func (p *Provider) Close() error {
	if p.redis != nil {
		return p.redis.Close()
	}
	return nil
}
