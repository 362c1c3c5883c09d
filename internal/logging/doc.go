// Package logging provides structured logging utilities for the
// analytics-mcp-server application.
//
// This package centralizes logging patterns to ensure consistent, structured
// logging throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - Consistent attribute naming across the codebase
//   - Token sanitization helpers
//   - Logger adapter interface for flexibility
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "token.exchange")
//	logger.Info("exchange completed",
//	    logging.Status("success"))
//
// Sanitize sensitive data before logging:
//
//	logger.Debug("received bearer token",
//	    "token", logging.SanitizeToken(token))
//
// # Security Considerations
//
// Bearer tokens, client secrets, and the static upstream credentials are
// never logged directly; use SanitizeToken or omit the value entirely.
package logging
