package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/config"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/instrumentation"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/logging"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/server"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/tools/analytics_tools"
)

// Sweep intervals for the in-memory backends. Redis expires entries
// server-side, so these only matter for the memory backend.
const (
	storeReapInterval      = 60 * time.Second
	limiterCleanupInterval = 60 * time.Second
	serverShutdownTimeout  = 30 * time.Second
)

// serveOptions holds the serve settings that live outside config.Settings:
// observability and logging are process concerns, not proxy semantics.
type serveOptions struct {
	metricsEnabled bool
	metricsAddr    string
	logLevel       string
	logFormat      string
}

func newServeCmd() *cobra.Command {
	var (
		port           int
		publicURL      string
		storageBackend string
		analyticsURL   string
		opts           serveOptions
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the OAuth proxy and MCP server",
		Long: `Start the HTTP front-end: the OAuth 2.1 authorization proxy, the
bearer-guarded MCP endpoint at /mcp, discovery metadata, health probes and
a Prometheus metrics listener.

Configuration comes from the environment; flags override it when set.

  Required environment:
    OIDC_PROVIDER_BASE_URL       Upstream accounts server (e.g. https://accounts.zoho.com)
    OIDC_PROVIDER_CLIENT_ID      Statically registered upstream client ID
    OIDC_PROVIDER_CLIENT_SECRET  Statically registered upstream client secret
    MCP_SERVER_PUBLIC_URL        Externally reachable base URL of this server
    SESSION_SECRET_KEY           Signing key for the consent session cookie

  Optional environment:
    PORT, STORAGE_BACKEND (memory|redis|catalyst), REDIS_HOST, REDIS_PORT,
    REDIS_PASSWORD, CATALYST_*, BEHIND_PROXY, TRUSTED_PROXY_LIST,
    ANALYTICS_SERVER_URL, ACCOUNTS_SERVER_URL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.FromEnv()

			// Flags win over the environment, but only when set.
			if cmd.Flags().Changed("port") {
				settings.Port = port
			}
			if cmd.Flags().Changed("public-url") {
				settings.PublicURL = publicURL
			}
			if cmd.Flags().Changed("storage-backend") {
				settings.StorageBackend = storageBackend
			}
			if cmd.Flags().Changed("analytics-url") {
				settings.AnalyticsServerURL = analyticsURL
			}

			if err := settings.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if !cmd.Flags().Changed("metrics-enabled") {
				if v := os.Getenv("METRICS_ENABLED"); v == "false" {
					opts.metricsEnabled = false
				}
			}
			if !cmd.Flags().Changed("metrics-addr") {
				if addr := os.Getenv("METRICS_ADDR"); addr != "" {
					opts.metricsAddr = addr
				}
			}
			if !cmd.Flags().Changed("log-level") {
				if level := os.Getenv("LOG_LEVEL"); level != "" {
					opts.logLevel = level
				}
			}

			return runServe(settings, opts)
		},
	}

	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "HTTP listen port. Can also use PORT env var.")
	cmd.Flags().StringVar(&publicURL, "public-url", "", "Externally reachable base URL of this server. Can also use MCP_SERVER_PUBLIC_URL env var.")
	cmd.Flags().StringVar(&storageBackend, "storage-backend", config.DefaultStorageBackend, "Persistence backend: memory, redis or catalyst. Can also use STORAGE_BACKEND env var.")
	cmd.Flags().StringVar(&analyticsURL, "analytics-url", config.DefaultAnalyticsServerURL, "Base URL of the Zoho Analytics REST API. Can also use ANALYTICS_SERVER_URL env var.")
	cmd.Flags().BoolVar(&opts.metricsEnabled, "metrics-enabled", true, "Serve Prometheus metrics on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error. Can also use LOG_LEVEL env var.")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "json", "Log format: json or text.")

	return cmd
}

func runServe(settings *config.Settings, opts serveOptions) error {
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	if err := instrConfig.Validate(); err != nil {
		return fmt.Errorf("invalid instrumentation config: %w", err)
	}

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	sc, err := server.NewServerContext(ctx, settings, logger)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := sc.Shutdown(); err != nil {
			logger.Error("server context shutdown failed", logging.Err(err))
		}
	}()

	if provider.Enabled() {
		sc.SetInstrumentation(provider,
			instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging))
	}

	// MCP server with the analytics tool surface
	mcpSrv := mcpserver.NewMCPServer("analytics-mcp-server", version,
		mcpserver.WithToolCapabilities(true),
	)
	if err := analytics_tools.RegisterAnalyticsTools(mcpSrv, sc); err != nil {
		return fmt.Errorf("failed to register analytics tools: %w", err)
	}

	httpServer, err := server.NewOAuthHTTPServer(sc, mcpSrv)
	if err != nil {
		return fmt.Errorf("failed to create HTTP front-end: %w", err)
	}

	// Expired-entry sweepers. The front-end has built all its limiters by
	// now, so MemoryBuckets is complete.
	for _, store := range sc.Stores().MemoryStores() {
		go store.Reap(sc.Context(), storeReapInterval)
	}
	for _, bucket := range sc.Limits().MemoryBuckets() {
		go bucket.RunCleanup(sc.Context(), limiterCleanupInterval, logger)
	}

	// Metrics on a dedicated listener, isolated from proxy traffic
	var metricsServer *server.MetricsServer
	if opts.metricsEnabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    opts.metricsAddr,
			Enabled:                 true,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", logging.Err(err))
			}
		}()
	}

	addr := fmt.Sprintf(":%d", settings.Port)
	logger.Info("starting analytics MCP server",
		"addr", addr,
		"public_url", settings.BaseURL(),
		"storage_backend", settings.StorageBackend,
		"metrics_enabled", metricsServer != nil,
	)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	httpServer.Health().SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		return nil
	}

	// Fail readiness first so load balancers drain before the listener
	// closes.
	httpServer.Health().SetReady(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancelShutdown()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", logging.Err(err))
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// newLogger builds the process logger. All packages take it by injection;
// slog.SetDefault only covers third-party code logging through the default.
func newLogger(level, format string) (*slog.Logger, error) {
	slogLevel, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: slogLevel}
	switch strings.ToLower(format) {
	case "json", "":
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json or text)", format)
	}
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (expected debug, info, warn or error)", level)
	}
}
