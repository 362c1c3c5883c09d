package oauthproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/instrumentation"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/storage"
)

// Handler implements the OAuth 2.1 endpoints of the proxy. It acts as an
// authorization server towards MCP clients (registration, authorize,
// consent, token) and holds the single statically registered upstream
// client for the proxy-to-upstream leg.
type Handler struct {
	config     *Config
	clients    *ClientStore
	flows      *FlowStore
	upstream   *oauth2.Config // upstream authorize/token endpoints plus static credentials
	httpClient *http.Client   // used for the upstream token exchange
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	hsts       bool // emit Strict-Transport-Security when the public URL is HTTPS
}

// NewHandler creates the OAuth proxy handler and its client and flow stores
// on top of the shared persistence provider.
func NewHandler(config *Config, stores *storage.Provider, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if config.PublicBaseURL == "" {
		return nil, fmt.Errorf("public base URL is required")
	}
	publicURL, err := url.Parse(config.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid public base URL: %w", err)
	}

	// Allow HTTP only for loopback addresses (development); require HTTPS
	// everywhere else.
	if publicURL.Scheme != "https" {
		hostname := publicURL.Hostname()
		if hostname != "localhost" &&
			hostname != "127.0.0.1" &&
			hostname != "::1" &&
			hostname != "[::1]" {
			return nil, fmt.Errorf("public base URL must use HTTPS in production (got %s://)", publicURL.Scheme)
		}
	}

	if config.UpstreamBaseURL == "" {
		return nil, fmt.Errorf("upstream provider base URL is required")
	}
	if _, err := url.Parse(config.UpstreamBaseURL); err != nil {
		return nil, fmt.Errorf("invalid upstream provider base URL: %w", err)
	}
	if config.UpstreamClientID == "" || config.UpstreamClientSecret == "" {
		return nil, fmt.Errorf("upstream client credentials are required")
	}

	config.PublicBaseURL = strings.TrimRight(config.PublicBaseURL, "/")
	config.UpstreamBaseURL = strings.TrimRight(config.UpstreamBaseURL, "/")
	if len(config.SupportedScopes) == 0 {
		config.SupportedScopes = DefaultSupportedScopes
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: upstreamRequestTimeout}
	}

	return &Handler{
		config: config,
		clients: NewClientStore(
			stores.Store(storage.ScopeRegisteredClients),
			config.ClientTTL,
			logger,
		),
		flows: NewFlowStore(
			stores.Store(storage.ScopeAuthTransactions),
			stores.Store(storage.ScopeAuthCodes),
			config.TransactionTTL,
			config.CodeTTL,
			logger,
		),
		upstream: &oauth2.Config{
			ClientID:     config.UpstreamClientID,
			ClientSecret: config.UpstreamClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.UpstreamBaseURL + upstreamAuthorizePath,
				TokenURL:  config.UpstreamBaseURL + upstreamTokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: config.PublicBaseURL + "/auth/callback",
		},
		httpClient: config.HTTPClient,
		metrics:    config.Metrics,
		logger:     logger,
		hsts:       publicURL.Scheme == "https",
	}, nil
}

// AddRoutes registers the proxy's OAuth and discovery endpoints on mux.
func (h *Handler) AddRoutes(mux *http.ServeMux) {
	h.AddRoutesWithLimit(mux, nil)
}

// AddRoutesWithLimit registers the same endpoints, additionally wrapping the
// registration and token endpoints with limit. Those two accept
// unauthenticated state-mutating POSTs, so the front-end gives them their
// own rate buckets on top of the global limiter.
func (h *Handler) AddRoutesWithLimit(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	guarded := func(fn http.HandlerFunc) http.Handler {
		if limit == nil {
			return fn
		}
		return limit(fn)
	}

	mux.HandleFunc("/.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource", h.ServeProtectedResourceMetadata)
	mux.Handle("/register", guarded(h.ServeRegister))
	mux.HandleFunc("/authorize", h.ServeAuthorize)
	mux.HandleFunc("/consent", h.ServeConsent)
	mux.HandleFunc("/consent/approve", h.ServeConsentApprove)
	mux.HandleFunc("/consent/deny", h.ServeConsentDeny)
	mux.HandleFunc("/auth/callback", h.ServeCallback)
	mux.Handle("/token", guarded(h.ServeToken))
	mux.HandleFunc("/revoke", h.ServeRevoke)
}

// setSecurityHeaders sets security headers on JSON responses
func (h *Handler) setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if h.hsts {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// setHTMLSecurityHeaders sets security headers on server-rendered pages.
// The consent page carries inline styles, so the CSP allows those while
// still blocking scripts and framing.
func (h *Handler) setHTMLSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if h.hsts {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// writeError is a helper to write OAuth error responses
func (h *Handler) writeError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	h.logger.Debug("OAuth error", "code", errorCode, "description", description, "status", statusCode)
	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:            errorCode,
		ErrorDescription: description,
	})
}

// writeOAuthError writes an *OAuthError as a JSON error response
func (h *Handler) writeOAuthError(w http.ResponseWriter, oauthErr *OAuthError) {
	h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
}

// loadActiveTransaction fetches a transaction and enforces its lifetime.
// A missing transaction maps to invalid_transaction; an expired one is
// deleted and maps to transaction_expired.
func (h *Handler) loadActiveTransaction(ctx context.Context, transactionID string) (*AuthorizationTransaction, *OAuthError) {
	txn, err := h.flows.GetTransaction(ctx, transactionID)
	if errors.Is(err, storage.ErrNotFound) {
		h.logger.Warn("Unknown authorization transaction", "transaction_id", transactionID)
		return nil, ErrInvalidTransaction("Unknown or missing transaction")
	}
	if err != nil {
		h.logger.Error("Failed to load authorization transaction", "transaction_id", transactionID, "error", err)
		return nil, ErrServerError("Failed to load transaction")
	}

	if time.Now().Unix() > txn.ExpiresAt {
		h.logger.Warn("Expired authorization transaction", "transaction_id", transactionID)
		if err := h.flows.DeleteTransaction(ctx, transactionID); err != nil {
			h.logger.Warn("Failed to delete expired transaction", "transaction_id", transactionID, "error", err)
		}
		return nil, ErrTransactionExpired("Transaction expired")
	}

	return txn, nil
}

// authenticateClient looks up the registered client and checks its secret in
// constant time. Failures deliberately carry a hint to re-register: a client
// whose registration has been evicted holds credentials this server no
// longer knows about.
func (h *Handler) authenticateClient(ctx context.Context, clientID, clientSecret string) (*RegisteredClient, *OAuthError) {
	client, err := h.clients.Get(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		h.logger.Warn("Client authentication failed: unknown client", "client_id", clientID)
		return nil, errInvalidClientCredentials()
	}
	if err != nil {
		h.logger.Error("Failed to load client registration", "client_id", clientID, "error", err)
		return nil, ErrServerError("Failed to load client registration")
	}

	if !h.clients.ValidateSecret(client, clientSecret) {
		h.logger.Warn("Client authentication failed: secret mismatch", "client_id", clientID)
		return nil, errInvalidClientCredentials()
	}

	return client, nil
}

func errInvalidClientCredentials() *OAuthError {
	return ErrInvalidClient("Client authentication failed. The registration may have expired; " +
		"clear any cached client credentials and register again.")
}

// mergeQueryParams merges params into the existing query string of rawURL.
func mergeQueryParams(rawURL string, params url.Values) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}

	query := parsed.Query()
	for key := range params {
		query.Set(key, params.Get(key))
	}
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
