package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/config"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/instrumentation"
)

// redisPoolSize bounds the shared connection pool. The pool is created once
// at startup and reused by every scoped store and rate limiter.
const redisPoolSize = 35

const (
	redisDialTimeout  = 5 * time.Second
	redisReadTimeout  = 3 * time.Second
	redisWriteTimeout = 3 * time.Second
)

// NewRedisClient dials Redis with a bounded pool and verifies connectivity
// before the server accepts traffic.
func NewRedisClient(ctx context.Context, settings config.RedisSettings) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         settings.Addr(),
		Password:     settings.Password,
		PoolSize:     redisPoolSize,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisReadTimeout,
		WriteTimeout: redisWriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", settings.Addr(), err)
	}
	return client, nil
}

// RedisStore is the Redis Store backend. Keys are namespaced per scope as
// "<scope>:<key>"; expiry is delegated to Redis through SET EX.
type RedisStore struct {
	client *redis.Client
	scope  string
	logger *slog.Logger
}

// NewRedisStore binds a scope to the shared client.
func NewRedisStore(client *redis.Client, scope string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, scope: scope, logger: logger}
}

func (s *RedisStore) key(k string) string {
	return s.scope + ":" + k
}

// span opens a client span for one Redis round trip. Keys never become span
// attributes; codes and client secrets live inside them.
func (s *RedisStore) span(ctx context.Context, op string) (context.Context, trace.Span) {
	return instrumentation.StartSpan(ctx, "storage.redis."+op,
		attribute.String("storage.scope", s.scope))
}

// Set stores value under the scoped key. ttl <= 0 stores without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshal %s/%s: %w", s.scope, key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	ctx, span := s.span(ctx, "set")
	defer span.End()
	if err := s.client.Set(ctx, s.key(key), raw, ttl).Err(); err != nil {
		instrumentation.SetSpanError(span, err)
		return fmt.Errorf("storage: redis set %s: %w", s.key(key), err)
	}
	return nil
}

// Get loads the scoped key into dest. Keys Redis has expired or never held
// surface as ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string, dest any) error {
	ctx, span := s.span(ctx, "get")
	defer span.End()
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return fmt.Errorf("storage: redis get %s: %w", s.key(key), err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("storage: unmarshal %s/%s: %w", s.scope, key, err)
	}
	return nil
}

// Remove deletes the scoped key and reports whether it existed. DEL's reply
// count makes the check atomic on the server.
func (s *RedisStore) Remove(ctx context.Context, key string) (bool, error) {
	ctx, span := s.span(ctx, "del")
	defer span.End()
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return false, fmt.Errorf("storage: redis del %s: %w", s.key(key), err)
	}
	return n > 0, nil
}

// Delete removes the scoped key. Absent keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, span := s.span(ctx, "del")
	defer span.End()
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		instrumentation.SetSpanError(span, err)
		return fmt.Errorf("storage: redis del %s: %w", s.key(key), err)
	}
	return nil
}
