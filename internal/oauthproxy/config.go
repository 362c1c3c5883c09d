package oauthproxy

import (
	"net/http"
	"time"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/instrumentation"
)

// Config carries everything the OAuth proxy needs to broker flows between
// dynamically registered MCP clients and the statically registered upstream
// client.
type Config struct {
	// PublicBaseURL is the externally visible base URL of this server,
	// without a trailing slash. All discovery metadata, consent redirects
	// and the upstream callback URI are derived from it.
	PublicBaseURL string

	// UpstreamBaseURL is the base URL of the upstream accounts service that
	// actually issues tokens.
	UpstreamBaseURL string

	// UpstreamClientID and UpstreamClientSecret are the statically
	// registered upstream credentials. They are used for the proxy-to-
	// upstream leg only and must never appear in responses, redirect URLs
	// or log lines.
	UpstreamClientID     string
	UpstreamClientSecret string

	// SupportedScopes are advertised in discovery metadata. Defaults to
	// DefaultSupportedScopes.
	SupportedScopes []string

	// ClientTTL, TransactionTTL and CodeTTL bound the lifetime of
	// registrations, in-flight transactions and proxy-issued codes.
	// Zero values fall back to the package defaults.
	ClientTTL      time.Duration
	TransactionTTL time.Duration
	CodeTTL        time.Duration

	// HTTPClient performs the upstream token exchange. Defaults to a
	// client with a conservative timeout.
	HTTPClient *http.Client

	// Metrics counts flow outcomes when instrumentation is configured.
	// Nil disables the counters.
	Metrics *instrumentation.Metrics
}
