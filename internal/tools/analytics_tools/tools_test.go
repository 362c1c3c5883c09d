package analytics_tools

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/analytics"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/config"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/oauthproxy"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/server"
)

const testToken = "analytics-tool-token"

func newTestContext(t *testing.T, analyticsURL string) *server.ServerContext {
	t.Helper()

	settings := &config.Settings{
		OIDCProviderBaseURL:      "https://accounts.zoho.com",
		OIDCProviderClientID:     "upstream-client-id",
		OIDCProviderClientSecret: "upstream-client-secret",
		PublicURL:                "http://localhost:8080",
		SessionSecretKey:         "analytics-tools-test",
		StorageBackend:           config.BackendMemory,
	}

	sc, err := server.NewServerContext(context.Background(), settings, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("failed to create server context: %v", err)
	}
	t.Cleanup(func() { _ = sc.Shutdown() })

	sc.SetAnalytics(analytics.NewClient(analyticsURL, nil))
	return sc
}

func newStubAnalytics(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/restapi/v2/workspaces/owned", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"ownedWorkspaces":[` +
			`{"workspaceId":"101","workspaceName":"Sales","workspaceDesc":"Quarterly sales"},` +
			`{"workspaceId":"102","workspaceName":"Support"}]}}`))
	})
	mux.HandleFunc("/restapi/v2/workspaces/101", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"workspaces":{"workspaceId":"101","workspaceName":"Sales","orgId":"55"}}}`))
	})
	mux.HandleFunc("/restapi/v2/views/201", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"views":{"viewId":"201","viewName":"Pipeline","viewType":"Table"}}}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"data":{"errorCode":7103,"errorMessage":"No such resource"}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func requestWithArgs(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", result.Content[0])
	}
	return text.Text
}

func TestListWorkspaces(t *testing.T) {
	stub := newStubAnalytics(t)
	sc := newTestContext(t, stub.URL)
	ctx := oauthproxy.WithAccessToken(context.Background(), testToken)

	result, err := handleListWorkspaces(ctx, requestWithArgs("analytics_list_workspaces", nil), sc)
	if err != nil {
		t.Fatalf("handleListWorkspaces() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", textContent(t, result))
	}

	text := textContent(t, result)
	if !strings.Contains(text, "Sales") || !strings.Contains(text, "101") {
		t.Errorf("result missing workspace data: %q", text)
	}
	if !strings.Contains(text, "Quarterly sales") {
		t.Errorf("result missing workspace description: %q", text)
	}
}

func TestListWorkspacesWithoutToken(t *testing.T) {
	stub := newStubAnalytics(t)
	sc := newTestContext(t, stub.URL)

	result, err := handleListWorkspaces(context.Background(), requestWithArgs("analytics_list_workspaces", nil), sc)
	if err != nil {
		t.Fatalf("handleListWorkspaces() error = %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result without a token")
	}
	if !strings.Contains(textContent(t, result), "access token") {
		t.Errorf("error result should mention the missing token: %q", textContent(t, result))
	}
}

func TestGetWorkspace(t *testing.T) {
	stub := newStubAnalytics(t)
	sc := newTestContext(t, stub.URL)
	ctx := oauthproxy.WithAccessToken(context.Background(), testToken)

	result, err := handleGetWorkspace(ctx,
		requestWithArgs("analytics_get_workspace", map[string]interface{}{"workspace_id": "101"}), sc)
	if err != nil {
		t.Fatalf("handleGetWorkspace() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", textContent(t, result))
	}

	text := textContent(t, result)
	if !strings.Contains(text, `"workspaceName": "Sales"`) {
		t.Errorf("result missing workspace metadata: %q", text)
	}
}

func TestGetWorkspaceRequiresID(t *testing.T) {
	stub := newStubAnalytics(t)
	sc := newTestContext(t, stub.URL)
	ctx := oauthproxy.WithAccessToken(context.Background(), testToken)

	result, err := handleGetWorkspace(ctx, requestWithArgs("analytics_get_workspace", nil), sc)
	if err != nil {
		t.Fatalf("handleGetWorkspace() error = %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result without workspace_id")
	}
}

func TestGetView(t *testing.T) {
	stub := newStubAnalytics(t)
	sc := newTestContext(t, stub.URL)
	ctx := oauthproxy.WithAccessToken(context.Background(), testToken)

	result, err := handleGetView(ctx,
		requestWithArgs("analytics_get_view", map[string]interface{}{"view_id": "201"}), sc)
	if err != nil {
		t.Fatalf("handleGetView() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", textContent(t, result))
	}

	text := textContent(t, result)
	if !strings.Contains(text, `"viewType": "Table"`) {
		t.Errorf("result missing view metadata: %q", text)
	}
}

func TestGetViewUpstreamError(t *testing.T) {
	stub := newStubAnalytics(t)
	sc := newTestContext(t, stub.URL)
	ctx := oauthproxy.WithAccessToken(context.Background(), testToken)

	result, err := handleGetView(ctx,
		requestWithArgs("analytics_get_view", map[string]interface{}{"view_id": "999"}), sc)
	if err != nil {
		t.Fatalf("handleGetView() error = %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an unknown view")
	}
	if !strings.Contains(textContent(t, result), "999") {
		t.Errorf("error result should name the view: %q", textContent(t, result))
	}
}
