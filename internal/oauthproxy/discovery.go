package oauthproxy

import (
	"encoding/json"
	"net/http"
)

// ServeAuthorizationServerMetadata serves the OAuth 2.0 Authorization Server
// Metadata document (RFC 8414). Every endpoint it advertises belongs to the
// proxy; MCP clients never talk to the upstream provider directly.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	base := h.config.PublicBaseURL
	metadata := AuthorizationServerMetadata{
		Issuer:                                 base,
		AuthorizationEndpoint:                  base + "/authorize",
		TokenEndpoint:                          base + "/token",
		RegistrationEndpoint:                   base + "/register",
		RevocationEndpoint:                     base + "/revoke",
		ScopesSupported:                        h.config.SupportedScopes,
		ResponseTypesSupported:                 DefaultResponseTypes,
		GrantTypesSupported:                    DefaultGrantTypes,
		TokenEndpointAuthMethodsSupported:      SupportedTokenAuthMethods,
		RevocationEndpointAuthMethodsSupported: SupportedTokenAuthMethods,
		CodeChallengeMethodsSupported:          SupportedCodeChallengeMethods,
	}

	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		h.logger.Error("Failed to encode authorization server metadata", "error", err)
	}
}

// ServeProtectedResourceMetadata serves the OAuth 2.0 Protected Resource
// Metadata document (RFC 9728) describing the MCP endpoint guarded by this
// proxy.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	base := h.config.PublicBaseURL
	metadata := ProtectedResourceMetadata{
		Resource:               base + "/mcp",
		AuthorizationServers:   []string{base},
		ScopesSupported:        h.config.SupportedScopes,
		BearerMethodsSupported: []string{"header"},
	}

	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		h.logger.Error("Failed to encode protected resource metadata", "error", err)
	}
}
