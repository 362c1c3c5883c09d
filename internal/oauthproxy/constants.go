package oauthproxy

import "time"

// Record lifetimes
const (
	// DefaultClientTTL is how long a dynamically registered client remains
	// valid (24 hours)
	DefaultClientTTL = 24 * time.Hour

	// DefaultTransactionTTL is how long an in-flight authorize request may
	// wait for user consent (2 minutes)
	DefaultTransactionTTL = 2 * time.Minute

	// DefaultAuthorizationCodeTTL is how long proxy-issued authorization
	// codes are valid (2 minutes)
	DefaultAuthorizationCodeTTL = 2 * time.Minute
)

// Token generation constants
const (
	// ClientSecretLength is the byte length of generated client secrets
	// (32 bytes = 256 bits before base64url encoding)
	ClientSecretLength = 32

	// AuthorizationCodeLength is the byte length of proxy-issued
	// authorization codes
	AuthorizationCodeLength = 32

	// RegistrationTokenLength is the byte length of registration access
	// tokens returned from /register
	RegistrationTokenLength = 32

	// CSRFTokenLength is the byte length of consent-page CSRF tokens
	CSRFTokenLength = 32

	// MinCodeVerifierLength is the minimum length for PKCE code_verifier (RFC 7636)
	MinCodeVerifierLength = 43

	// MaxCodeVerifierLength is the maximum length for PKCE code_verifier (RFC 7636)
	MaxCodeVerifierLength = 128
)

// Upstream provider paths, relative to the configured provider base URL
const (
	upstreamAuthorizePath = "/oauth/v2/auth"
	upstreamTokenPath     = "/oauth/v2/token"
)

// upstreamRequestTimeout bounds the token exchange with the upstream
// provider; exceeding it surfaces as a 502 to the caller.
const upstreamRequestTimeout = 15 * time.Second

// ScopeAnalyticsFullAccess is the default scope granted to clients that
// register without requesting one.
const ScopeAnalyticsFullAccess = "ZohoAnalytics.fullaccess.all"

// ScopeOfflineAccess requests a refresh token from the upstream provider.
const ScopeOfflineAccess = "offline_access"

// TokenEndpointAuthMethod is the only client authentication method the
// proxy's token endpoint accepts.
const TokenEndpointAuthMethod = "client_secret_post"

// Consent page display strings
const (
	consentApplicationName = "Model Context Protocol (MCP) Host Application"
	upstreamProviderName   = "Zoho ACCOUNTS"
)

// csrfSessionKey is the session key the consent CSRF token is stored under.
const csrfSessionKey = "consent_csrf"

// OAuth grant types, response types and PKCE methods
var (
	// DefaultSupportedScopes are advertised in discovery metadata
	DefaultSupportedScopes = []string{ScopeAnalyticsFullAccess, ScopeOfflineAccess}

	// DefaultGrantTypes are the grant types supported by default
	DefaultGrantTypes = []string{"authorization_code", "refresh_token"}

	// DefaultResponseTypes are the response types supported by default
	DefaultResponseTypes = []string{"code"}

	// SupportedTokenAuthMethods are the supported token endpoint auth methods
	SupportedTokenAuthMethods = []string{TokenEndpointAuthMethod}

	// SupportedCodeChallengeMethods are the PKCE methods advertised in
	// discovery; plain is still accepted at the token endpoint for
	// compatibility but is never advertised
	SupportedCodeChallengeMethods = []string{"S256"}
)
