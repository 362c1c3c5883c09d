package oauthproxy

import (
	"crypto/subtle"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/session"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/storage"
)

// ServeAuthorize handles the downstream half of the authorization endpoint.
// It validates the client and redirect URI, opens an authorization
// transaction, and sends the user agent to the consent page. Nothing is
// forwarded upstream yet; that happens only after the user approves.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	if clientID == "" || redirectURI == "" {
		h.writeOAuthError(w, ErrInvalidRequest("client_id and redirect_uri are required"))
		return
	}

	client, err := h.clients.Get(r.Context(), clientID)
	if errors.Is(err, storage.ErrNotFound) {
		// An unknown client here usually means an MCP host replaying a
		// registration this server has already evicted. The user agent is a
		// browser at this point, so answer with a page instead of JSON.
		h.logger.Warn("Authorization request from unknown client", "client_id", clientID)
		h.serveInvalidClientPage(w)
		return
	}
	if err != nil {
		h.logger.Error("Failed to load client for authorization", "client_id", clientID, "error", err)
		h.writeOAuthError(w, ErrServerError("Failed to load client registration"))
		return
	}

	if !h.clients.ValidateRedirectURI(client, redirectURI) {
		h.logger.Warn("Authorization request with unregistered redirect URI",
			"client_id", clientID, "redirect_uri", redirectURI)
		h.writeOAuthError(w, ErrInvalidRedirectURI("redirect_uri is not registered for this client"))
		return
	}

	scope := query.Get("scope")
	if scope == "" {
		scope = client.Scope
	}

	now := time.Now()
	txn := &AuthorizationTransaction{
		TransactionID:       uuid.NewString(),
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		State:               query.Get("state"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(h.flows.TransactionTTL()).Unix(),
	}

	// The transaction must be durable before the redirect: the consent page
	// loads it on the very next request, possibly on another replica.
	if err := h.flows.SaveTransaction(r.Context(), txn); err != nil {
		h.logger.Error("Failed to save authorization transaction", "client_id", clientID, "error", err)
		h.writeOAuthError(w, ErrServerError("Failed to create authorization transaction"))
		return
	}

	h.logger.Info("Created authorization transaction",
		"transaction_id", txn.TransactionID,
		"client_id", clientID,
	)

	consentURL := h.config.PublicBaseURL + "/consent?" + url.Values{
		"transaction_id": {txn.TransactionID},
	}.Encode()
	http.Redirect(w, r, consentURL, http.StatusFound)
}

// ServeConsent renders the consent page for an active transaction. A fresh
// CSRF token is bound to the session cookie on every render; the approve and
// deny forms must echo it back.
func (h *Handler) ServeConsent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	transactionID := r.URL.Query().Get("transaction_id")
	if transactionID == "" {
		h.writeOAuthError(w, ErrInvalidRequest("transaction_id is required"))
		return
	}

	txn, oauthErr := h.loadActiveTransaction(r.Context(), transactionID)
	if oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	csrfToken, err := generateSecureToken(CSRFTokenLength)
	if err != nil {
		h.logger.Error("Failed to generate CSRF token", "error", err)
		h.writeOAuthError(w, ErrServerError("Failed to render consent page"))
		return
	}
	session.FromContext(r.Context()).Set(csrfSessionKey, csrfToken)

	data := consentPageData{
		ApplicationName:  consentApplicationName,
		UpstreamProvider: upstreamProviderName,
		Scope:            txn.Scope,
		ClientID:         txn.ClientID,
		TransactionID:    txn.TransactionID,
		CSRFToken:        csrfToken,
	}

	h.setHTMLSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := consentTemplate.Execute(w, data); err != nil {
		h.logger.Error("Failed to render consent page", "error", err)
	}
}

// ServeConsentApprove handles the user's approval. After the CSRF check and
// transaction re-validation it hands the user agent to the upstream provider,
// carrying the transaction ID as the upstream state so the callback can find
// its way back. PKCE parameters stay with the proxy; the downstream verifier
// is checked at the token endpoint, never forwarded upstream.
func (h *Handler) ServeConsentApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest("Failed to parse form body"))
		return
	}

	if oauthErr := h.checkConsentCSRF(r); oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	transactionID := r.PostFormValue("transaction_id")
	txn, oauthErr := h.loadActiveTransaction(r.Context(), transactionID)
	if oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	h.logger.Info("User approved consent", "transaction_id", txn.TransactionID, "client_id", txn.ClientID)

	upstreamURL := h.upstream.AuthCodeURL(txn.TransactionID,
		oauth2.SetAuthURLParam("scope", txn.Scope),
		oauth2.SetAuthURLParam("access_type", "offline"),
		oauth2.SetAuthURLParam("prompt", "Consent"),
	)
	http.Redirect(w, r, upstreamURL, http.StatusFound)
}

// ServeConsentDeny handles the user declining consent. The transaction is
// closed and the user agent returns to the client's redirect URI with
// error=access_denied, per RFC 6749 section 4.1.2.1.
func (h *Handler) ServeConsentDeny(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest("Failed to parse form body"))
		return
	}

	if oauthErr := h.checkConsentCSRF(r); oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	transactionID := r.PostFormValue("transaction_id")
	txn, oauthErr := h.loadActiveTransaction(r.Context(), transactionID)
	if oauthErr != nil {
		h.writeOAuthError(w, oauthErr)
		return
	}

	if err := h.flows.DeleteTransaction(r.Context(), txn.TransactionID); err != nil {
		h.logger.Warn("Failed to delete denied transaction", "transaction_id", txn.TransactionID, "error", err)
	}

	h.logger.Info("User denied consent", "transaction_id", txn.TransactionID, "client_id", txn.ClientID)

	params := url.Values{"error": {"access_denied"}}
	if txn.State != "" {
		params.Set("state", txn.State)
	}
	redirectURL, err := mergeQueryParams(txn.RedirectURI, params)
	if err != nil {
		h.logger.Error("Failed to build denial redirect", "transaction_id", txn.TransactionID, "error", err)
		h.writeOAuthError(w, ErrServerError("Failed to build redirect URL"))
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// checkConsentCSRF compares the submitted CSRF token against the one bound
// to the session at render time. The stored token is consumed either way, so
// a rejected form cannot be replayed against a still-live session value.
func (h *Handler) checkConsentCSRF(r *http.Request) *OAuthError {
	sess := session.FromContext(r.Context())
	expected := sess.Pop(csrfSessionKey)
	submitted := r.PostFormValue("csrf_token")

	if expected == "" || submitted == "" ||
		subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) != 1 {
		h.logger.Warn("Consent CSRF check failed")
		return NewOAuthError("invalid_request", "Invalid CSRF token", http.StatusForbidden)
	}
	return nil
}

// serveInvalidClientPage answers a browser-borne authorize request whose
// client registration no longer exists.
func (h *Handler) serveInvalidClientPage(w http.ResponseWriter) {
	h.setHTMLSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	if _, err := w.Write([]byte(invalidClientPage)); err != nil {
		h.logger.Error("Failed to write invalid client page", "error", err)
	}
}

type consentPageData struct {
	ApplicationName  string
	UpstreamProvider string
	Scope            string
	ClientID         string
	TransactionID    string
	CSRFToken        string
}

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Authorize Access</title>
    <style>
        body {
            font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif;
            background-color: #f4f7f6;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
        }
        .container {
            max-width: 500px;
            width: 90%;
            background-color: white;
            padding: 30px;
            border-radius: 8px;
            box-shadow: 0 4px 12px rgba(0, 0, 0, 0.1);
        }
        h1 {
            color: #333;
            font-size: 24px;
            border-bottom: 2px solid #eee;
            padding-bottom: 10px;
            margin-bottom: 20px;
        }
        .details-table {
            width: 100%;
            border-collapse: collapse;
            margin-bottom: 30px;
        }
        .details-table th, .details-table td {
            padding: 12px;
            text-align: left;
            border-bottom: 1px solid #ddd;
        }
        .details-table th {
            background-color: #eef;
            color: #555;
            font-weight: 600;
            width: 40%;
        }
        .details-table td {
            color: #333;
            word-break: break-word;
        }
        .consent-message {
            background-color: #ffffe0;
            border-left: 5px solid #ffcc00;
            padding: 15px;
            margin-bottom: 20px;
            color: #666;
        }
        .actions {
            display: flex;
            justify-content: flex-end;
            gap: 10px;
        }
        button {
            padding: 10px 25px;
            border: none;
            border-radius: 5px;
            font-size: 16px;
            cursor: pointer;
            transition: background-color 0.3s ease;
        }
        .approve {
            background-color: #007bff;
            color: white;
        }
        .approve:hover {
            background-color: #0056b3;
        }
        .deny {
            background-color: #e9ecef;
            color: #333;
        }
        .deny:hover {
            background-color: #ced4da;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authorize Access</h1>

        <p class="consent-message">
            The <strong>{{.ApplicationName}}</strong> application is requesting access to your data.
            By approving, you authorize this proxy to initiate the login process
            with your <strong>{{.UpstreamProvider}}</strong> account.
        </p>

        <table class="details-table">
            <tr>
                <th>Application</th>
                <td>{{.ApplicationName}}</td>
            </tr>
            <tr>
                <th>Requested Scope</th>
                <td>{{.Scope}}</td>
            </tr>
            <tr>
                <th>Upstream Provider</th>
                <td><strong>{{.UpstreamProvider}}</strong></td>
            </tr>
            <tr>
                <th>Client ID (MCP)</th>
                <td><small>{{.ClientID}}</small></td>
            </tr>
        </table>

        <div class="actions">
            <form action="/consent/deny" method="post">
                <input type="hidden" name="transaction_id" value="{{.TransactionID}}">
                <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
                <button type="submit" class="deny">Deny</button>
            </form>
            <form action="/consent/approve" method="post">
                <input type="hidden" name="transaction_id" value="{{.TransactionID}}">
                <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
                <button type="submit" class="approve">&#9989; Approve and Continue</button>
            </form>
        </div>
    </div>
</body>
</html>
`))

const invalidClientPage = `<!DOCTYPE html>
<html>
<head>
    <title>Invalid Token</title>
    <style>
        body {
            font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif;
            background-color: #f4f7f6;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
        }
        .container {
            max-width: 500px;
            width: 90%;
            background-color: white;
            padding: 30px;
            border-radius: 8px;
            box-shadow: 0 4px 12px rgba(0, 0, 0, 0.1);
        }
        h1 {
            color: #c0392b;
            font-size: 24px;
            border-bottom: 2px solid #eee;
            padding-bottom: 10px;
            margin-bottom: 20px;
        }
        p {
            color: #555;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>Invalid token</h1>
        <p>This client is not registered with the authorization server, or its
        registration has expired.</p>
        <p>Ask the application to discard its cached credentials and register
        again before retrying.</p>
    </div>
</body>
</html>
`
