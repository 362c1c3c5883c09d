package server

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/instrumentation"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/oauthproxy"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/ratelimit"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/session"
)

// Rate-limit shapes applied by the front-end. The global bucket protects the
// whole router; the route bucket adds per-path pressure relief for the two
// unauthenticated state-mutating endpoints.
const (
	globalRateCapacity = 50
	globalRateWindow   = 60 * time.Second

	routeRateCapacity = 20
	routeRateWindow   = 60 * time.Second
)

//go:embed assets
var assetFS embed.FS

// OAuthHTTPServer is the HTTP front-end: the OAuth 2.1 proxy endpoints, the
// bearer-guarded MCP mount, health probes and static pages, assembled behind
// the middleware chain body-size guard -> global rate limiter -> bearer
// validator -> session -> router.
type OAuthHTTPServer struct {
	serverContext *ServerContext
	oauthHandler  *oauthproxy.Handler
	health        *HealthChecker
	handler       http.Handler
	httpServer    *http.Server
}

// NewOAuthHTTPServer assembles the front-end around the given MCP server.
// The full handler chain is built here so tests can exercise it without
// binding a listener.
func NewOAuthHTTPServer(sc *ServerContext, mcpServer *mcpserver.MCPServer) (*OAuthHTTPServer, error) {
	settings := sc.Settings()

	oauthHandler, err := oauthproxy.NewHandler(&oauthproxy.Config{
		PublicBaseURL:        settings.BaseURL(),
		UpstreamBaseURL:      settings.OIDCProviderBaseURL,
		UpstreamClientID:     settings.OIDCProviderClientID,
		UpstreamClientSecret: settings.OIDCProviderClientSecret,
		Metrics:              sc.Metrics(),
	}, sc.Stores(), sc.Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth handler: %w", err)
	}

	s := &OAuthHTTPServer{
		serverContext: sc,
		oauthHandler:  oauthHandler,
		health:        NewHealthChecker(sc),
	}

	mux := http.NewServeMux()

	// OAuth surface, with dedicated buckets on /register and /token.
	routeLimit := ratelimit.Middleware(sc.Limits(), routeRateCapacity, routeRateWindow,
		ratelimit.ByPathAndClientIP(sc.ClientIPs()), sc.Logger())
	oauthHandler.AddRoutesWithLimit(mux, routeLimit)

	// MCP mount. The bearer middleware has already validated the token and
	// put it on the request context by the time this handler runs.
	streamable := mcpserver.NewStreamableHTTPServer(mcpServer,
		mcpserver.WithEndpointPath("/mcp"),
	)
	mux.Handle("/mcp", streamable)

	s.health.RegisterHealthEndpoints(mux)
	registerStaticRoutes(mux)

	// Chain, outermost first: body-size guard, global limiter, bearer
	// validator, session, router. Request metrics wrap the whole chain so
	// guard and limiter rejections are recorded too.
	handler := http.Handler(mux)
	handler = session.Middleware(settings.SessionSecretKey)(handler)
	handler = oauthproxy.BearerAuthMiddleware(s.validateAccessToken, settings.BaseURL(), sc.Logger())(handler)
	handler = ratelimit.Middleware(sc.Limits(), globalRateCapacity, globalRateWindow,
		ratelimit.ByClientIP(sc.ClientIPs()), sc.Logger())(handler)
	handler = BodySizeLimit(DefaultMaxBodyBytes, sc.Logger())(handler)
	handler = s.instrumentationMiddleware(handler)
	s.handler = handler

	return s, nil
}

// validateAccessToken performs one cheap authenticated read against the
// analytics API. Any token the upstream still honors passes; the proxy keeps
// no token state of its own.
func (s *OAuthHTTPServer) validateAccessToken(ctx context.Context, token string) error {
	_, err := s.serverContext.Analytics().ListOwnedWorkspaces(ctx, token)
	if m := s.metrics(); m != nil {
		result := instrumentation.OAuthResultSuccess
		if err != nil {
			result = instrumentation.OAuthResultFailure
		}
		m.RecordOAuthAuth(ctx, result)
	}
	return err
}

// Handler returns the fully assembled handler chain.
func (s *OAuthHTTPServer) Handler() http.Handler {
	return s.handler
}

// OAuthHandler returns the OAuth proxy handler for testing or direct access.
func (s *OAuthHTTPServer) OAuthHandler() *oauthproxy.Handler {
	return s.oauthHandler
}

// Health returns the health checker so the serve lifecycle can flip
// readiness.
func (s *OAuthHTTPServer) Health() *HealthChecker {
	return s.health
}

// Start binds the listener and serves until Shutdown. It blocks.
func (s *OAuthHTTPServer) Start(addr string) error {
	// OAuth 2.1 requires HTTPS outside loopback development setups.
	if err := validateHTTPSRequirement(s.serverContext.Settings().PublicURL); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *OAuthHTTPServer) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// instrumentationMiddleware records request count and duration when metrics
// are configured, and is a pass-through otherwise.
func (s *OAuthHTTPServer) instrumentationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics := s.metrics()
		if metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

func (s *OAuthHTTPServer) metrics() *instrumentation.Metrics {
	if s.serverContext == nil {
		return nil
	}
	return s.serverContext.Metrics()
}

// responseWriter captures the status code for request metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// registerStaticRoutes mounts the landing page, favicon and embedded static
// assets. The landing handler owns "/" on the mux, so it 404s everything
// that is not the root itself.
func registerStaticRoutes(mux *http.ServeMux) {
	staticRoot, err := fs.Sub(assetFS, "assets/static")
	if err == nil {
		mux.Handle("/static/", http.StripPrefix("/static/", http.FileServerFS(staticRoot)))
	}

	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		data, err := assetFS.ReadFile("assets/static/favicon.svg")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = w.Write(data)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		data, err := assetFS.ReadFile("assets/index.html")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(data)
	})
}

// validateHTTPSRequirement ensures OAuth 2.1 HTTPS compliance.
// Allows HTTP only for loopback addresses (localhost, 127.0.0.1, ::1).
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("OAuth 2.1 requires HTTPS for production (got: %s). Use HTTPS or localhost for development", baseURL)
		}
	} else if u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}

	return nil
}
