package oauthproxy

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"regexp"
	"strings"
)

// codeVerifierPattern is the allowed shape of a PKCE code_verifier (RFC 7636):
// 43 to 128 characters from the unreserved set.
var codeVerifierPattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

// GenerateCodeChallenge derives the S256 code challenge from a code verifier:
// BASE64URL(SHA256(ASCII(code_verifier))) without padding.
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// verifyCodeChallenge checks a presented code_verifier against the challenge
// captured when the authorization transaction was created.
//
// A verifier is accepted only when the original request carried a challenge.
// The method name S256 is matched case-insensitively; an absent method means
// plain per RFC 7636. The comparison of the computed value against the stored
// challenge is constant time, and a mismatch is reported as invalid_grant
// while malformed input is invalid_request.
func verifyCodeChallenge(challenge, method, verifier string) *OAuthError {
	if challenge == "" {
		if verifier != "" {
			return ErrInvalidRequest("code_verifier provided but the authorization request carried no code_challenge")
		}
		return nil
	}

	if verifier == "" {
		return ErrInvalidRequest("code_verifier is required")
	}
	if !codeVerifierPattern.MatchString(verifier) {
		return ErrInvalidRequest("code_verifier must be 43-128 characters from the unreserved set")
	}

	var computed string
	switch {
	case strings.EqualFold(method, "S256"):
		computed = GenerateCodeChallenge(verifier)
	case method == "plain" || method == "":
		computed = verifier
	default:
		return ErrInvalidRequest("unsupported code_challenge_method")
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return ErrInvalidGrant("code_verifier does not match the code_challenge")
	}
	return nil
}
