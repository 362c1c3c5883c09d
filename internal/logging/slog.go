package logging

import (
	"fmt"
	"log/slog"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation     = "operation"
	KeyBackend       = "backend"
	KeyScope         = "scope"
	KeyClientID      = "client_id"
	KeyTransactionID = "transaction_id"
	KeyPath          = "path"
	KeyClientIP      = "client_ip"
	KeyDuration      = "duration"
	KeyStatus        = "status"
	KeyError         = "error"
	KeyTool          = "tool"
)

// Status values for consistent logging.
// Note: These are intentionally duplicated from instrumentation package
// to avoid circular dependencies (instrumentation imports logging).
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithBackend returns a logger with the storage backend attribute set.
func WithBackend(logger *slog.Logger, backend string) *slog.Logger {
	return logger.With(slog.String(KeyBackend, backend))
}

// WithTool returns a logger with the tool attribute set.
func WithTool(logger *slog.Logger, tool string) *slog.Logger {
	return logger.With(slog.String(KeyTool, tool))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Backend returns a slog attribute for the storage backend name.
func Backend(backend string) slog.Attr {
	return slog.String(KeyBackend, backend)
}

// Scope returns a slog attribute for the persistence scope.
func Scope(scope string) slog.Attr {
	return slog.String(KeyScope, scope)
}

// ClientID returns a slog attribute for an OAuth client identifier.
// Client IDs are proxy-minted UUIDs, safe to log verbatim.
func ClientID(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

// TransactionID returns a slog attribute for an authorization transaction.
func TransactionID(id string) slog.Attr {
	return slog.String(KeyTransactionID, id)
}

// Path returns a slog attribute for a request path.
func Path(path string) slog.Attr {
	return slog.String(KeyPath, path)
}

// ClientIP returns a slog attribute for the resolved client IP.
func ClientIP(ip string) slog.Attr {
	return slog.String(KeyClientIP, ip)
}

// Tool returns a slog attribute for the tool name.
func Tool(tool string) slog.Attr {
	return slog.String(KeyTool, tool)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
// This allows safely passing Err(maybeNilErr) without adding empty attributes.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		// Return an empty Group that slog will omit from output
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// SanitizeToken returns a masked version of a token for logging.
// It returns a length indicator without exposing any token content,
// as even partial token prefixes can aid attacks. Upstream credentials
// and bearer tokens must never reach a log line in any other form.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
