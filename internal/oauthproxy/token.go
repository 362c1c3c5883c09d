package oauthproxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/instrumentation"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/storage"
)

// maxUpstreamResponseBytes bounds how much of an upstream token response is
// read before giving up on it.
const maxUpstreamResponseBytes = 1 << 20

// ServeToken is the proxy's token endpoint. Clients authenticate with
// client_secret_post; the authorization_code grant redeems a proxy code for
// the upstream tokens, and the refresh_token grant is forwarded to the
// upstream provider as-is. The upstream token document is returned to the
// client verbatim.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest("Failed to parse form body"))
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if clientID == "" || clientSecret == "" {
		h.writeOAuthError(w, ErrInvalidClient("client_id and client_secret are required"))
		return
	}

	client, oauthErr := h.authenticateClient(r.Context(), clientID, clientSecret)
	if oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	grantType := r.PostFormValue("grant_type")
	h.logger.Info("Token exchange requested", "client_id", client.ClientID, "grant_type", grantType)

	var upstreamForm url.Values
	switch grantType {
	case "authorization_code":
		upstreamForm, oauthErr = h.redeemAuthorizationCode(r.Context(), client, r.PostForm)
	case "refresh_token":
		upstreamForm, oauthErr = buildRefreshForm(r.PostForm)
	default:
		oauthErr = ErrUnsupportedGrantType("grant_type must be authorization_code or refresh_token")
	}
	if oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	tokenDoc, oauthErr := h.exchangeUpstreamToken(r.Context(), upstreamForm)
	if grantType == "refresh_token" {
		h.recordTokenRefresh(r.Context(), oauthErr == nil)
	}
	if oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	h.logger.Info("Token exchange completed", "client_id", client.ClientID, "grant_type", grantType)

	h.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(tokenDoc); err != nil {
		h.logger.Error("Failed to write token response", "error", err)
	}
}

// redeemAuthorizationCode validates and consumes a proxy-issued code, then
// builds the upstream exchange form around the wrapped upstream code. The
// proxy code is deleted before the upstream call so it can never be redeemed
// twice, even if the exchange itself fails.
func (h *Handler) redeemAuthorizationCode(ctx context.Context, client *RegisteredClient, form url.Values) (url.Values, *OAuthError) {
	code := form.Get("code")
	if code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	authCode, err := h.flows.GetCode(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		h.logger.Warn("Token exchange with unknown authorization code", "client_id", client.ClientID)
		return nil, ErrInvalidGrant("Unknown or already used authorization code")
	}
	if err != nil {
		h.logger.Error("Failed to load authorization code", "client_id", client.ClientID, "error", err)
		return nil, ErrServerError("Failed to load authorization code")
	}

	if authCode.ClientID != client.ClientID || authCode.RedirectURI != form.Get("redirect_uri") {
		h.logger.Warn("Authorization code does not match the requesting client",
			"client_id", client.ClientID, "code_prefix", codePrefix(code))
		return nil, ErrInvalidGrant("Authorization code was not issued to this client and redirect_uri")
	}

	if time.Now().Unix() > authCode.ExpiresAt {
		h.logger.Warn("Expired authorization code", "client_id", client.ClientID, "code_prefix", codePrefix(code))
		if err := h.flows.DeleteCode(ctx, code); err != nil {
			h.logger.Warn("Failed to delete expired authorization code", "error", err)
		}
		return nil, ErrInvalidGrant("Authorization code expired")
	}

	if oauthErr := verifyCodeChallenge(authCode.CodeChallenge, authCode.CodeChallengeMethod, form.Get("code_verifier")); oauthErr != nil {
		h.logger.Warn("PKCE verification failed", "client_id", client.ClientID, "code_prefix", codePrefix(code))
		return nil, oauthErr
	}

	// Single-use guarantee: the code record is gone before the upstream
	// provider is contacted, and only the request whose delete removed the
	// record proceeds, so concurrent redemptions resolve to one winner. A
	// failed exchange costs the client a new authorization round trip,
	// never a replayable code.
	removed, err := h.flows.ConsumeCode(ctx, code)
	if err != nil {
		h.logger.Error("Failed to consume authorization code", "client_id", client.ClientID, "error", err)
		return nil, ErrServerError("Failed to consume authorization code")
	}
	if !removed {
		h.logger.Warn("Authorization code consumed concurrently", "client_id", client.ClientID, "code_prefix", codePrefix(code))
		return nil, ErrInvalidGrant("Unknown or already used authorization code")
	}

	return url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {authCode.UpstreamCode},
		"redirect_uri": {h.upstream.RedirectURL},
	}, nil
}

// recordTokenRefresh counts refresh-grant outcomes when metrics are wired.
func (h *Handler) recordTokenRefresh(ctx context.Context, ok bool) {
	if h.metrics == nil {
		return
	}
	result := instrumentation.OAuthResultSuccess
	if !ok {
		result = instrumentation.OAuthResultFailure
	}
	h.metrics.RecordOAuthTokenRefresh(ctx, result)
}

// buildRefreshForm forwards a refresh_token grant upstream unchanged.
func buildRefreshForm(form url.Values) (url.Values, *OAuthError) {
	refreshToken := form.Get("refresh_token")
	if refreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	upstream := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	if scope := form.Get("scope"); scope != "" {
		upstream.Set("scope", scope)
	}
	return upstream, nil
}

// exchangeUpstreamToken performs the form POST against the upstream token
// endpoint with the static upstream credentials added, and returns the raw
// JSON token document. Transport failures, non-2xx answers and unparseable
// bodies all flatten to upstream_token_exchange_failed; upstream error
// details stay in the logs.
func (h *Handler) exchangeUpstreamToken(ctx context.Context, form url.Values) ([]byte, *OAuthError) {
	ctx, span := instrumentation.StartSpan(ctx, "oauth.upstream_token_exchange",
		attribute.String("oauth.grant_type", form.Get("grant_type")))
	defer span.End()

	form.Set("client_id", h.upstream.ClientID)
	form.Set("client_secret", h.upstream.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.upstream.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		h.logger.Error("Failed to build upstream token request", "error", err)
		return nil, ErrServerError("Failed to build upstream token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		h.logger.Error("Upstream token exchange failed", "error", err)
		return nil, ErrUpstreamExchangeFailed("Upstream token exchange failed")
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamResponseBytes))
	if err != nil {
		h.logger.Error("Failed to read upstream token response", "error", err)
		return nil, ErrUpstreamExchangeFailed("Upstream token exchange failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.logger.Error("Upstream token endpoint returned an error", "status", resp.StatusCode)
		return nil, ErrUpstreamExchangeFailed("Upstream token exchange failed")
	}
	if !json.Valid(body) {
		h.logger.Error("Upstream token endpoint returned a non-JSON body", "status", resp.StatusCode)
		return nil, ErrUpstreamExchangeFailed("Upstream token exchange failed")
	}

	instrumentation.SetSpanSuccess(span)
	return body, nil
}

// ServeRevoke is advertised in discovery metadata for client compatibility.
// The proxy holds no token state and upstream tokens cannot be revoked
// through it, so per RFC 7009 every authenticated, well-formed request is
// acknowledged with 200 regardless of the token value.
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest("Failed to parse form body"))
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if clientID == "" || clientSecret == "" {
		h.writeOAuthError(w, ErrInvalidClient("client_id and client_secret are required"))
		return
	}
	client, oauthErr := h.authenticateClient(r.Context(), clientID, clientSecret)
	if oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	if r.PostFormValue("token") == "" {
		h.writeOAuthError(w, ErrInvalidRequest("token is required"))
		return
	}

	h.logger.Info("Revocation acknowledged", "client_id", client.ClientID)

	h.setSecurityHeaders(w)
	w.WriteHeader(http.StatusOK)
}
