package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/analytics"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/config"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/instrumentation"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/ratelimit"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/storage"
)

// ServerContext holds the shared dependencies of a running server: the
// persistence provider, the rate-limiter registry, the client-IP extractor
// and the analytics collaborator. It owns their lifetime; Shutdown cancels
// the derived context every background task runs under.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	settings *config.Settings
	logger   *slog.Logger

	stores    *storage.Provider
	limits    *ratelimit.Registry
	clientIPs *ratelimit.ClientIPExtractor
	analytics *analytics.Client

	instrumentation *instrumentation.Provider
	metrics         *instrumentation.Metrics
	auditLogger     *instrumentation.AuditLogger

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates the server context from validated settings. The
// persistence backend is dialed here; the rate limiter reuses its Redis pool
// when the backend is Redis and falls back to in-memory buckets otherwise.
func NewServerContext(ctx context.Context, settings *config.Settings, logger *slog.Logger) (*ServerContext, error) {
	if logger == nil {
		logger = slog.Default()
	}

	shutdownCtx, cancel := context.WithCancel(ctx)

	stores, err := storage.NewProvider(shutdownCtx, settings, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to prepare storage backend: %w", err)
	}

	clientIPs, err := ratelimit.NewClientIPExtractor(settings.BehindProxy, settings.TrustedProxyList)
	if err != nil {
		cancel()
		_ = stores.Close()
		return nil, fmt.Errorf("failed to configure client IP extraction: %w", err)
	}

	return &ServerContext{
		ctx:       shutdownCtx,
		cancel:    cancel,
		settings:  settings,
		logger:    logger,
		stores:    stores,
		limits:    ratelimit.NewRegistry(stores.RedisClient(), logger),
		clientIPs: clientIPs,
		analytics: analytics.NewClient(settings.AnalyticsServerURL, nil),
	}, nil
}

// Context returns the context background tasks and handlers run under. It is
// cancelled by Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Settings returns the runtime configuration.
func (sc *ServerContext) Settings() *config.Settings {
	return sc.settings
}

// Logger returns the server's logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// Stores returns the persistence provider.
func (sc *ServerContext) Stores() *storage.Provider {
	return sc.stores
}

// Limits returns the rate-limiter registry.
func (sc *ServerContext) Limits() *ratelimit.Registry {
	return sc.limits
}

// ClientIPs returns the trusted-proxy-aware client IP extractor.
func (sc *ServerContext) ClientIPs() *ratelimit.ClientIPExtractor {
	return sc.clientIPs
}

// Analytics returns the upstream analytics REST client. The same client
// serves bearer-token validation and the MCP tools.
func (sc *ServerContext) Analytics() *analytics.Client {
	return sc.analytics
}

// SetAnalytics replaces the analytics client. Used by tests to point the
// server at a stub upstream.
func (sc *ServerContext) SetAnalytics(client *analytics.Client) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.analytics = client
}

// SetInstrumentation wires the OTel provider and audit logger into the
// context so the tool layer can record metrics and audit events.
func (sc *ServerContext) SetInstrumentation(provider *instrumentation.Provider, audit *instrumentation.AuditLogger) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.instrumentation = provider
	if provider != nil {
		sc.metrics = provider.Metrics()
	}
	sc.auditLogger = audit
}

// SetMetrics injects a metrics recorder directly. Used by tests that carry
// a recorder without a full provider.
func (sc *ServerContext) SetMetrics(metrics *instrumentation.Metrics) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.metrics = metrics
}

// Instrumentation returns the OTel provider, or nil when none is configured.
func (sc *ServerContext) Instrumentation() *instrumentation.Provider {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.instrumentation
}

// Metrics returns the metrics recorder, or nil when instrumentation is not
// configured.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// AuditLogger returns the audit logger, or nil when none is configured.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.auditLogger
}

// IsShutdown returns whether the server has been shut down.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context and releases the storage backend's
// connection pool. It is safe to call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}
	sc.shutdown = true
	sc.cancel()
	return sc.stores.Close()
}
