package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	// DefaultMaxBodyBytes is the request-body size limit applied by the
	// front-end.
	DefaultMaxBodyBytes int64 = 1 << 20

	// bodyDrainTimeout bounds how long a rejection waits for the remaining
	// request body before giving up and letting the connection reset.
	bodyDrainTimeout = 1 * time.Second

	// bodyDrainMaxBytes bounds how much of an oversized body the drain is
	// willing to swallow.
	bodyDrainMaxBytes int64 = 8 << 20
)

// errBodyTooLarge is the flow-control signal raised by the counting body
// wrapper when the stream exceeds the limit mid-read.
var errBodyTooLarge = errors.New("request body exceeds limit")

// BodySizeLimit rejects oversized request bodies before they reach the
// handlers. A declared Content-Length at or above the limit is refused with
// 413 without reading the body; a malformed one with 400. Bodies without a
// usable declaration are wrapped so the stream itself enforces the limit:
// crossing it aborts the handler, and if the response has not started yet
// the client gets a 413 with Connection: close instead of a reset.
func BodySizeLimit(limit int64, logger *slog.Logger) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cl := r.Header.Get("Content-Length"); cl != "" {
				declared, err := strconv.ParseInt(cl, 10, 64)
				if err != nil || declared < 0 {
					logger.Warn("Malformed Content-Length", "path", r.URL.Path, "content_length", cl)
					writeGuardError(w, http.StatusBadRequest, "invalid_request", "Malformed Content-Length header")
					return
				}
				if declared >= limit {
					logger.Warn("Request body too large", "path", r.URL.Path, "content_length", declared, "limit", limit)
					drainBody(r.Body, bodyDrainTimeout)
					w.Header().Set("Connection", "close")
					writeGuardError(w, http.StatusRequestEntityTooLarge, "invalid_request", "Request body too large")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// No declared length (chunked encoding): meter the stream.
			body := &countingBody{rc: r.Body, limit: limit}
			r.Body = body
			gw := &guardedWriter{ResponseWriter: w}

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); !ok || !errors.Is(err, errBodyTooLarge) {
					panic(rec)
				}
				if gw.wroteHeader {
					// Too late for a clean 413; let the server tear the
					// connection down.
					panic(rec)
				}
				logger.Warn("Request body exceeded limit mid-stream", "path", r.URL.Path, "limit", limit)
				drainBody(body.rc, bodyDrainTimeout)
				w.Header().Set("Connection", "close")
				writeGuardError(w, http.StatusRequestEntityTooLarge, "invalid_request", "Request body too large")
			}()

			next.ServeHTTP(gw, r)
		})
	}
}

// countingBody accumulates the lengths of delivered chunks and aborts the
// request once they exceed the limit.
type countingBody struct {
	rc    io.ReadCloser
	limit int64
	read  int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	b.read += int64(n)
	if b.read > b.limit {
		panic(errBodyTooLarge)
	}
	return n, err
}

func (b *countingBody) Close() error {
	return b.rc.Close()
}

// guardedWriter remembers whether the response has started so the guard
// knows when a clean 413 is still possible.
type guardedWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *guardedWriter) WriteHeader(statusCode int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *guardedWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *guardedWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.wroteHeader = true
		f.Flush()
	}
}

// drainBody reads and discards the remaining request body so the client
// observes a proper HTTP response rather than a connection reset. Best
// effort: it stops at the timeout or the byte cap, whichever comes first.
func drainBody(body io.Reader, timeout time.Duration) {
	if body == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(io.Discard, io.LimitReader(body, bodyDrainMaxBytes))
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}

func writeGuardError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":` + strconv.Quote(code) + `,"error_description":` + strconv.Quote(description) + `}`))
}
