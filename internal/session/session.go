// Package session provides a signed-cookie session for the consent flow.
// Values live client-side in an HMAC-authenticated cookie, so every replica
// of the proxy can verify them without shared state.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// CookieName is the session cookie.
const CookieName = "session"

// DefaultMaxAge bounds how long a session cookie stays valid.
const DefaultMaxAge = 14 * 24 * time.Hour

// Session is one request's session state. Mutations mark it dirty so the
// response writer knows to emit a fresh cookie.
type Session struct {
	values map[string]string
	dirty  bool
}

func newSession(values map[string]string) *Session {
	if values == nil {
		values = make(map[string]string)
	}
	return &Session{values: values}
}

// Get returns the value for key, or "".
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Set stores a value.
func (s *Session) Set(key, value string) {
	s.values[key] = value
	s.dirty = true
}

// Pop returns the value for key and removes it.
func (s *Session) Pop(key string) string {
	value, ok := s.values[key]
	if ok {
		delete(s.values, key)
		s.dirty = true
	}
	return value
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// Clear removes every value. The middleware answers with an expired cookie.
func (s *Session) Clear() {
	if len(s.values) > 0 {
		s.values = make(map[string]string)
		s.dirty = true
	}
}

type contextKey struct{}

// FromContext returns the request session. Outside the middleware it
// returns a detached session whose mutations go nowhere.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(contextKey{}).(*Session); ok {
		return s
	}
	return newSession(nil)
}

// WithSession attaches a session to the context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// payload is the signed cookie content. The issue timestamp bounds replay
// of captured cookies to the max age.
type payload struct {
	Values   map[string]string `json:"values"`
	IssuedAt int64             `json:"iat"`
}

// encode serializes and signs session values as "<body>.<signature>", both
// parts URL-safe base64 without padding.
func encode(secret []byte, values map[string]string, now time.Time) (string, error) {
	raw, err := json.Marshal(payload{Values: values, IssuedAt: now.Unix()})
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(raw)
	return body + "." + sign(secret, body), nil
}

// decode verifies and parses a cookie value. Any tampering, malformed
// shape, or expiry yields an empty result.
func decode(secret []byte, cookie string, maxAge time.Duration, now time.Time) (map[string]string, bool) {
	body, sig, ok := strings.Cut(cookie, ".")
	if !ok {
		return nil, false
	}
	if !hmac.Equal([]byte(sign(secret, body)), []byte(sig)) {
		return nil, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, false
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	issued := time.Unix(p.IssuedAt, 0)
	if issued.After(now) || now.Sub(issued) > maxAge {
		return nil, false
	}
	return p.Values, true
}

func sign(secret []byte, body string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
