package session

import (
	"net/http"
	"time"
)

// Middleware loads the session from the request cookie and attaches it to
// the context. A changed session is written back as a Set-Cookie header the
// moment the response starts; a cleared one is expired on the client.
func Middleware(secretKey string) func(http.Handler) http.Handler {
	secret := []byte(secretKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var values map[string]string
			if cookie, err := r.Cookie(CookieName); err == nil {
				values, _ = decode(secret, cookie.Value, DefaultMaxAge, time.Now())
			}
			sess := newSession(values)

			sw := &sessionWriter{ResponseWriter: w, secret: secret, sess: sess}
			next.ServeHTTP(sw, r.WithContext(WithSession(r.Context(), sess)))

			// A handler that never writes leaves net/http to send an
			// implicit 200; stage the cookie before that happens.
			if !sw.wroteHeader {
				sw.setCookie()
			}
		})
	}
}

// sessionWriter defers the Set-Cookie decision until the response starts,
// after the handler has finished mutating the session.
type sessionWriter struct {
	http.ResponseWriter
	secret      []byte
	sess        *Session
	wroteHeader bool
}

func (w *sessionWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.setCookie()
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush keeps streaming responses working through the wrapper.
func (w *sessionWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *sessionWriter) setCookie() {
	if !w.sess.dirty {
		return
	}

	if len(w.sess.values) == 0 {
		http.SetCookie(w.ResponseWriter, &http.Cookie{
			Name:     CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		return
	}

	value, err := encode(w.secret, w.sess.values, time.Now())
	if err != nil {
		return
	}
	http.SetCookie(w.ResponseWriter, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(DefaultMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
