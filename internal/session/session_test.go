package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-session-secret"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	secret := []byte(testSecret)
	now := time.Now()

	cookie, err := encode(secret, map[string]string{"csrf_token": "abc123"}, now)
	if err != nil {
		t.Fatalf("encode() error = %v", err)
	}

	values, ok := decode(secret, cookie, DefaultMaxAge, now.Add(time.Minute))
	if !ok {
		t.Fatal("decode() ok = false, want valid cookie accepted")
	}
	if values["csrf_token"] != "abc123" {
		t.Errorf("csrf_token = %q, want abc123", values["csrf_token"])
	}
}

func TestDecodeRejectsTampering(t *testing.T) {
	secret := []byte(testSecret)
	now := time.Now()
	cookie, err := encode(secret, map[string]string{"csrf_token": "abc123"}, now)
	if err != nil {
		t.Fatalf("encode() error = %v", err)
	}

	tests := []struct {
		name   string
		cookie string
		secret []byte
	}{
		{"missing separator", strings.ReplaceAll(cookie, ".", ""), secret},
		{"flipped body byte", "x" + cookie[1:], secret},
		{"wrong secret", cookie, []byte("other-secret")},
		{"empty value", "", secret},
		{"garbage", "not-a-session", secret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := decode(tt.secret, tt.cookie, DefaultMaxAge, now); ok {
				t.Error("decode() ok = true, want rejection")
			}
		})
	}
}

func TestDecodeRejectsExpired(t *testing.T) {
	secret := []byte(testSecret)
	issued := time.Now()
	cookie, err := encode(secret, map[string]string{"k": "v"}, issued)
	if err != nil {
		t.Fatalf("encode() error = %v", err)
	}

	if _, ok := decode(secret, cookie, DefaultMaxAge, issued.Add(DefaultMaxAge+time.Hour)); ok {
		t.Error("decode() ok = true for a cookie past max age")
	}
	if _, ok := decode(secret, cookie, DefaultMaxAge, issued.Add(-time.Hour)); ok {
		t.Error("decode() ok = true for a cookie issued in the future")
	}
}

func TestSessionPop(t *testing.T) {
	s := newSession(map[string]string{"csrf_token": "abc123"})

	if got := s.Pop("csrf_token"); got != "abc123" {
		t.Errorf("Pop() = %q, want abc123", got)
	}
	if got := s.Pop("csrf_token"); got != "" {
		t.Errorf("second Pop() = %q, want empty", got)
	}
	if !s.dirty {
		t.Error("Pop() did not mark the session dirty")
	}
}

func TestMiddlewareRoundTrip(t *testing.T) {
	mw := Middleware(testSecret)

	// First request stores a value; the response must set the cookie.
	setHandler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("csrf_token", "abc123")
		w.WriteHeader(http.StatusOK)
	}))

	w1 := httptest.NewRecorder()
	setHandler.ServeHTTP(w1, httptest.NewRequest("GET", "/consent", nil))

	cookies := w1.Result().Cookies()
	var sessionCookie *http.Cookie
	for _, c := range cookies {
		if c.Name == CookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("no session cookie set")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie not HttpOnly")
	}

	// Second request presents the cookie; the handler must see the value.
	var got string
	readHandler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context()).Get("csrf_token")
		w.WriteHeader(http.StatusOK)
	}))

	r2 := httptest.NewRequest("POST", "/consent/approve", nil)
	r2.AddCookie(sessionCookie)
	readHandler.ServeHTTP(httptest.NewRecorder(), r2)

	if got != "abc123" {
		t.Errorf("session value across requests = %q, want abc123", got)
	}
}

func TestMiddlewareUntouchedSessionSetsNoCookie(t *testing.T) {
	mw := Middleware(testSecret)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if len(w.Result().Cookies()) != 0 {
		t.Error("cookie set for an untouched session")
	}
}

func TestMiddlewareClearExpiresCookie(t *testing.T) {
	mw := Middleware(testSecret)

	w1 := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Set("csrf_token", "abc123")
	})).ServeHTTP(w1, httptest.NewRequest("GET", "/consent", nil))

	var sessionCookie *http.Cookie
	for _, c := range w1.Result().Cookies() {
		if c.Name == CookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("no session cookie set")
	}

	r2 := httptest.NewRequest("POST", "/consent/approve", nil)
	r2.AddCookie(sessionCookie)
	w2 := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Clear()
		w.WriteHeader(http.StatusForbidden)
	})).ServeHTTP(w2, r2)

	var cleared *http.Cookie
	for _, c := range w2.Result().Cookies() {
		if c.Name == CookieName {
			cleared = c
		}
	}
	if cleared == nil {
		t.Fatal("no expiring cookie set after Clear()")
	}
	if cleared.MaxAge >= 0 {
		t.Errorf("cleared cookie MaxAge = %d, want negative", cleared.MaxAge)
	}
}

func TestMiddlewareIgnoresForgedCookie(t *testing.T) {
	mw := Middleware(testSecret)

	forged, err := encode([]byte("attacker-secret"), map[string]string{"csrf_token": "evil"}, time.Now())
	if err != nil {
		t.Fatalf("encode() error = %v", err)
	}

	var got string
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context()).Get("csrf_token")
	}))

	r := httptest.NewRequest("GET", "/consent", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: forged})
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "" {
		t.Errorf("forged cookie honored: csrf_token = %q", got)
	}
}

func TestFromContextDetached(t *testing.T) {
	s := FromContext(httptest.NewRequest("GET", "/", nil).Context())
	if s == nil {
		t.Fatal("FromContext() = nil")
	}
	s.Set("k", "v")
	if s.Get("k") != "v" {
		t.Error("detached session does not hold values")
	}
}
