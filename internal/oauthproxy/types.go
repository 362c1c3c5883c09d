package oauthproxy

// RegisteredClient is a downstream application created through dynamic
// client registration. Records are persisted as JSON and evicted by the
// storage backend after the registration TTL; they are never mutated in
// place.
type RegisteredClient struct {
	// ClientID is the opaque, freshly minted client identifier
	ClientID string `json:"client_id"`

	// ClientSecret is the high-entropy secret issued at registration.
	// This is the proxy's own secret for the downstream client, not the
	// upstream provider's.
	ClientSecret string `json:"client_secret"`

	// RedirectURIs is the ordered list of registered redirect URIs; it may
	// be empty
	RedirectURIs []string `json:"redirect_uris"`

	// ClientName is the human-readable name supplied at registration
	ClientName string `json:"client_name,omitempty"`

	// Scope is the scope granted to the client, with the registration
	// default applied
	Scope string `json:"scope,omitempty"`

	// GrantTypes defaults to authorization_code and refresh_token
	GrantTypes []string `json:"grant_types"`

	// ResponseTypes defaults to code
	ResponseTypes []string `json:"response_types"`
}

// AuthorizationTransaction is an in-flight authorize request, created at
// /authorize and consumed at /auth/callback. Its identifier doubles as the
// state parameter sent to the upstream provider.
type AuthorizationTransaction struct {
	TransactionID       string `json:"transaction_id"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
}

// AuthorizationCode is a proxy-issued one-time code minted at
// /auth/callback. It carries the upstream authorization code so the token
// endpoint can complete the exchange; it is deleted before the upstream
// call so it can never be redeemed twice.
type AuthorizationCode struct {
	Code                string `json:"code"`
	TransactionID       string `json:"transaction_id"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	UpstreamCode        string `json:"upstream_code"`
	UpstreamLocation    string `json:"upstream_location,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
}

// ClientRegistrationRequest is the RFC 7591 registration document accepted
// at /register. All fields are optional; defaults are applied on
// registration.
type ClientRegistrationRequest struct {
	RedirectURIs  []string `json:"redirect_uris,omitempty"`
	ClientName    string   `json:"client_name,omitempty"`
	Scope         string   `json:"scope,omitempty"`
	GrantTypes    []string `json:"grant_types,omitempty"`
	ResponseTypes []string `json:"response_types,omitempty"`
}

// ClientRegistrationResponse mirrors the registration request with defaults
// applied plus the freshly issued credentials. The registration access
// token is generated per response and never persisted.
type ClientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	RegistrationClientURI   string   `json:"registration_client_uri"`
	RegistrationAccessToken string   `json:"registration_access_token"`
}

// AuthorizationServerMetadata is the OAuth 2.0 Authorization Server Metadata
// document (RFC 8414) served from /.well-known/oauth-authorization-server.
// Every endpoint points at the proxy; MCP clients never see the upstream
// provider's URLs.
type AuthorizationServerMetadata struct {
	Issuer                                 string   `json:"issuer"`
	AuthorizationEndpoint                  string   `json:"authorization_endpoint"`
	TokenEndpoint                          string   `json:"token_endpoint"`
	RegistrationEndpoint                   string   `json:"registration_endpoint"`
	RevocationEndpoint                     string   `json:"revocation_endpoint"`
	ScopesSupported                        []string `json:"scopes_supported"`
	ResponseTypesSupported                 []string `json:"response_types_supported"`
	GrantTypesSupported                    []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported      []string `json:"token_endpoint_auth_methods_supported"`
	RevocationEndpointAuthMethodsSupported []string `json:"revocation_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported          []string `json:"code_challenge_methods_supported"`
}

// ProtectedResourceMetadata is the OAuth 2.0 Protected Resource Metadata
// document (RFC 9728) served from /.well-known/oauth-protected-resource.
type ProtectedResourceMetadata struct {
	// Resource is the identifier for the protected resource
	Resource string `json:"resource"`

	// AuthorizationServers lists the authorization servers that can issue
	// tokens for this resource
	AuthorizationServers []string `json:"authorization_servers"`

	// ScopesSupported lists the scopes understood by this resource
	ScopesSupported []string `json:"scopes_supported"`

	// BearerMethodsSupported lists the ways Bearer tokens can be sent (RFC 6750)
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

// ErrorResponse represents an OAuth error response body
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}
