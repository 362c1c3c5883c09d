package logging

import (
	"errors"
	"log/slog"
	"testing"
)

func TestWithOperation(t *testing.T) {
	logger := slog.Default()
	result := WithOperation(logger, "test_operation")
	if result == nil {
		t.Error("WithOperation returned nil")
	}
}

func TestWithBackend(t *testing.T) {
	logger := slog.Default()
	result := WithBackend(logger, "redis")
	if result == nil {
		t.Error("WithBackend returned nil")
	}
}

func TestWithTool(t *testing.T) {
	logger := slog.Default()
	result := WithTool(logger, "test_tool")
	if result == nil {
		t.Error("WithTool returned nil")
	}
}

func TestOperationAttr(t *testing.T) {
	attr := Operation("test_op")
	if attr.Key != KeyOperation {
		t.Errorf("Operation key = %q, want %q", attr.Key, KeyOperation)
	}
	if attr.Value.String() != "test_op" {
		t.Errorf("Operation value = %q, want %q", attr.Value.String(), "test_op")
	}
}

func TestBackendAttr(t *testing.T) {
	attr := Backend("memory")
	if attr.Key != KeyBackend {
		t.Errorf("Backend key = %q, want %q", attr.Key, KeyBackend)
	}
	if attr.Value.String() != "memory" {
		t.Errorf("Backend value = %q, want %q", attr.Value.String(), "memory")
	}
}

func TestScopeAttr(t *testing.T) {
	attr := Scope("registered_clients")
	if attr.Key != KeyScope {
		t.Errorf("Scope key = %q, want %q", attr.Key, KeyScope)
	}
	if attr.Value.String() != "registered_clients" {
		t.Errorf("Scope value = %q, want %q", attr.Value.String(), "registered_clients")
	}
}

func TestClientIDAttr(t *testing.T) {
	attr := ClientID("7f3f9a6e-0000-0000-0000-000000000000")
	if attr.Key != KeyClientID {
		t.Errorf("ClientID key = %q, want %q", attr.Key, KeyClientID)
	}
}

func TestTransactionIDAttr(t *testing.T) {
	attr := TransactionID("txn-1")
	if attr.Key != KeyTransactionID {
		t.Errorf("TransactionID key = %q, want %q", attr.Key, KeyTransactionID)
	}
	if attr.Value.String() != "txn-1" {
		t.Errorf("TransactionID value = %q, want %q", attr.Value.String(), "txn-1")
	}
}

func TestPathAttr(t *testing.T) {
	attr := Path("/token")
	if attr.Key != KeyPath {
		t.Errorf("Path key = %q, want %q", attr.Key, KeyPath)
	}
	if attr.Value.String() != "/token" {
		t.Errorf("Path value = %q, want %q", attr.Value.String(), "/token")
	}
}

func TestClientIPAttr(t *testing.T) {
	attr := ClientIP("203.0.113.7")
	if attr.Key != KeyClientIP {
		t.Errorf("ClientIP key = %q, want %q", attr.Key, KeyClientIP)
	}
	if attr.Value.String() != "203.0.113.7" {
		t.Errorf("ClientIP value = %q, want %q", attr.Value.String(), "203.0.113.7")
	}
}

func TestToolAttr(t *testing.T) {
	attr := Tool("analytics_list_workspaces")
	if attr.Key != KeyTool {
		t.Errorf("Tool key = %q, want %q", attr.Key, KeyTool)
	}
	if attr.Value.String() != "analytics_list_workspaces" {
		t.Errorf("Tool value = %q, want %q", attr.Value.String(), "analytics_list_workspaces")
	}
}

func TestStatusAttr(t *testing.T) {
	attr := Status(StatusSuccess)
	if attr.Key != KeyStatus {
		t.Errorf("Status key = %q, want %q", attr.Key, KeyStatus)
	}
	if attr.Value.String() != StatusSuccess {
		t.Errorf("Status value = %q, want %q", attr.Value.String(), StatusSuccess)
	}
}

func TestErr(t *testing.T) {
	// Test with error
	err := errors.New("test error")
	attr := Err(err)
	if attr.Key != KeyError {
		t.Errorf("Err key = %q, want %q", attr.Key, KeyError)
	}
	if attr.Value.String() != "test error" {
		t.Errorf("Err value = %q, want %q", attr.Value.String(), "test error")
	}

	// Test with nil - should return an empty group that slog will omit
	attr = Err(nil)
	// Empty Group has empty key
	if attr.Key != "" {
		t.Errorf("Err(nil) key = %q, want empty string (empty group)", attr.Key)
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", "<empty>"},
		{"abc123", "[token:6 chars]"},
		{"a_very_long_token_string", "[token:24 chars]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := SanitizeToken(tt.token)
			if result != tt.expected {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, result, tt.expected)
			}
		})
	}
}

func TestStatusConstants(t *testing.T) {
	if StatusSuccess != "success" {
		t.Errorf("StatusSuccess = %q, want %q", StatusSuccess, "success")
	}
	if StatusError != "error" {
		t.Errorf("StatusError = %q, want %q", StatusError, "error")
	}
}
