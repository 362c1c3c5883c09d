package oauthproxy

import (
	"net/http"
	"net/url"
	"time"
)

// ServeCallback is the redirect URI registered with the upstream provider.
// It consumes the transaction identified by the upstream state, mints a
// proxy authorization code wrapping the upstream one, and sends the user
// agent back to the downstream client. The upstream code never reaches the
// client; only the proxy code does.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	upstreamCode := query.Get("code")
	state := query.Get("state")
	if upstreamCode == "" || state == "" {
		h.writeOAuthError(w, ErrInvalidRequest("code and state are required"))
		return
	}

	txn, oauthErr := h.loadActiveTransaction(r.Context(), state)
	if oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	proxyCode, err := generateSecureToken(AuthorizationCodeLength)
	if err != nil {
		h.logger.Error("Failed to generate authorization code", "transaction_id", txn.TransactionID, "error", err)
		h.writeOAuthError(w, ErrServerError("Failed to generate authorization code"))
		return
	}

	now := time.Now()
	authCode := &AuthorizationCode{
		Code:                proxyCode,
		TransactionID:       txn.TransactionID,
		ClientID:            txn.ClientID,
		RedirectURI:         txn.RedirectURI,
		CodeChallenge:       txn.CodeChallenge,
		CodeChallengeMethod: txn.CodeChallengeMethod,
		UpstreamCode:        upstreamCode,
		UpstreamLocation:    query.Get("location"),
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(h.flows.CodeTTL()).Unix(),
	}

	// The code must be durable before the redirect; the client may post it
	// to /token on another replica immediately.
	if err := h.flows.SaveCode(r.Context(), authCode); err != nil {
		h.logger.Error("Failed to save authorization code", "transaction_id", txn.TransactionID, "error", err)
		h.writeOAuthError(w, ErrServerError("Failed to persist authorization code"))
		return
	}

	// The transaction is consumed; from here on the flow is carried by the
	// code record alone.
	if err := h.flows.DeleteTransaction(r.Context(), txn.TransactionID); err != nil {
		h.logger.Warn("Failed to delete consumed transaction", "transaction_id", txn.TransactionID, "error", err)
	}

	h.logger.Info("Issued proxy authorization code",
		"transaction_id", txn.TransactionID,
		"client_id", txn.ClientID,
	)

	params := url.Values{"code": {proxyCode}}
	if txn.State != "" {
		params.Set("state", txn.State)
	}
	redirectURL, err := mergeQueryParams(txn.RedirectURI, params)
	if err != nil {
		h.logger.Error("Failed to build client redirect", "transaction_id", txn.TransactionID, "error", err)
		h.writeOAuthError(w, ErrServerError("Failed to build redirect URL"))
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}
