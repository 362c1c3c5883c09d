package oauthproxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// ServeRegister handles dynamic client registration (RFC 7591). Every field
// of the request is optional; the response mirrors the stored record with
// defaults applied plus freshly minted credentials. The response status is
// 200 rather than 201 because deployed MCP clients check for exactly that.
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeOAuthError(w, ErrInvalidRequest("Request body must be a JSON client metadata document"))
		return
	}

	client, err := h.clients.Register(r.Context(), &req)
	if err != nil {
		h.logger.Error("Client registration failed", "error", err)
		h.writeOAuthError(w, ErrServerError("Failed to register client"))
		return
	}

	// The registration access token is advertised for RFC 7592 compatibility
	// but registrations are immutable here, so it is minted per response and
	// never persisted.
	registrationToken, err := generateSecureToken(RegistrationTokenLength)
	if err != nil {
		h.logger.Error("Failed to generate registration access token", "error", err)
		h.writeOAuthError(w, ErrServerError("Failed to register client"))
		return
	}

	resp := ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            client.ClientSecret,
		ClientIDIssuedAt:        time.Now().Unix(),
		TokenEndpointAuthMethod: TokenEndpointAuthMethod,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		Scope:                   client.Scope,
		RegistrationClientURI:   h.config.PublicBaseURL + "/register/" + client.ClientID,
		RegistrationAccessToken: registrationToken,
	}

	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode registration response", "error", err)
	}
}
