package oauthproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// ValidateTokenFunc checks an access token by performing one cheap
// authenticated read against the protected resource. A nil error means the
// token is usable.
type ValidateTokenFunc func(ctx context.Context, token string) error

// bearerExemptPaths are served without an access token: the OAuth surface
// itself, static assets, and orchestration probes.
var bearerExemptPaths = map[string]bool{
	"/":                true,
	"/register":        true,
	"/authorize":       true,
	"/consent":         true,
	"/consent/approve": true,
	"/consent/deny":    true,
	"/auth/callback":   true,
	"/token":           true,
	"/revoke":          true,
	"/favicon.ico":     true,
	"/healthz":         true,
	"/readyz":          true,
}

var bearerExemptPrefixes = []string{
	"/.well-known/",
	"/static/",
	"/healthz/",
}

type accessTokenKey struct{}

// AccessTokenFromContext returns the validated bearer token attached by
// BearerAuthMiddleware, or "".
func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenKey{}).(string)
	return token
}

// WithAccessToken attaches a bearer token to the context. Exposed for tests
// and in-process callers that bypass the HTTP middleware.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// BearerAuthMiddleware guards every non-exempt request with bearer
// authentication. The token is validated by probing the protected resource,
// so any token the upstream provider still honors is accepted; there is no
// local token state. Validated tokens ride the request context for the tool
// layer.
//
// Every response from the middleware carries a WWW-Authenticate header
// pointing clients at the protected-resource metadata (RFC 9728), which is
// how MCP hosts discover this authorization server in the first place.
func BearerAuthMiddleware(validate ValidateTokenFunc, publicBaseURL string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	resourceMetadataURL := strings.TrimRight(publicBaseURL, "/") + "/.well-known/oauth-protected-resource"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isBearerExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, oauthErr := extractBearerToken(r)
			if oauthErr != nil {
				writeBearerError(w, resourceMetadataURL, oauthErr)
				return
			}

			if err := validate(r.Context(), token); err != nil {
				// The probe's failure detail stays in the log; callers get a
				// uniform invalid_token regardless of upstream status.
				logger.Warn("Bearer token validation failed", "path", r.URL.Path, "error", err)
				writeBearerError(w, resourceMetadataURL,
					ErrInvalidToken("The access token is invalid or expired"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccessToken(r.Context(), token)))
		})
	}
}

// extractBearerToken parses the Authorization header: exactly two
// whitespace-separated parts, case-insensitive bearer scheme, non-empty
// token.
func extractBearerToken(r *http.Request) (string, *OAuthError) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrUnauthorized("Authorization header is required")
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrUnauthorized("Authorization header must be of the form 'Bearer <token>'")
	}
	return parts[1], nil
}

func isBearerExempt(path string) bool {
	if bearerExemptPaths[path] {
		return true
	}
	for _, prefix := range bearerExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func writeBearerError(w http.ResponseWriter, resourceMetadataURL string, oauthErr *OAuthError) {
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf(`Bearer realm="OAuth", resource_metadata=%q`, resourceMetadataURL))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}
