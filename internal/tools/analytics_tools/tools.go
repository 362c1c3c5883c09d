package analytics_tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/instrumentation"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/oauthproxy"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/server"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/tools/common"
)

// RegisterAnalyticsTools registers the Zoho Analytics tools with the MCP
// server. Every tool calls the analytics API with the caller's bearer token,
// which the front-end's auth middleware has already validated and attached
// to the request context.
func RegisterAnalyticsTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	listWorkspacesTool := mcp.NewTool("analytics_list_workspaces",
		mcp.WithDescription("List the Zoho Analytics workspaces owned by the authenticated user"),
	)

	s.AddTool(listWorkspacesTool, common.InstrumentedToolHandlerWithService(
		"analytics_list_workspaces", instrumentation.ServiceWorkspaces, instrumentation.OperationList, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListWorkspaces(ctx, request, sc)
		}))

	getWorkspaceTool := mcp.NewTool("analytics_get_workspace",
		mcp.WithDescription("Get the metadata of a Zoho Analytics workspace"),
		mcp.WithString("workspace_id",
			mcp.Required(),
			mcp.Description("The ID of the workspace"),
		),
	)

	s.AddTool(getWorkspaceTool, common.InstrumentedToolHandlerWithService(
		"analytics_get_workspace", instrumentation.ServiceWorkspaces, instrumentation.OperationGet, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetWorkspace(ctx, request, sc)
		}))

	getViewTool := mcp.NewTool("analytics_get_view",
		mcp.WithDescription("Get the metadata of a Zoho Analytics view (table, chart, dashboard, ...)"),
		mcp.WithString("view_id",
			mcp.Required(),
			mcp.Description("The ID of the view"),
		),
	)

	s.AddTool(getViewTool, common.InstrumentedToolHandlerWithService(
		"analytics_get_view", instrumentation.ServiceViews, instrumentation.OperationGet, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetView(ctx, request, sc)
		}))

	return nil
}

// tokenFromContext pulls the caller's validated bearer token off the request
// context. Tool handlers never see requests that failed validation, so a
// missing token means the call bypassed the HTTP front-end.
func tokenFromContext(ctx context.Context) (string, *mcp.CallToolResult) {
	token := oauthproxy.AccessTokenFromContext(ctx)
	if token == "" {
		return "", mcp.NewToolResultError("No access token on this request. Connect through the server's authenticated MCP endpoint.")
	}
	return token, nil
}

func handleListWorkspaces(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	token, errResult := tokenFromContext(ctx)
	if errResult != nil {
		return errResult, nil
	}

	workspaces, err := sc.Analytics().ListOwnedWorkspaces(ctx, token)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workspaces: %v", err)), nil
	}

	if len(workspaces) == 0 {
		return mcp.NewToolResultText("No owned workspaces found."), nil
	}

	result := fmt.Sprintf("Found %d workspace(s):\n\n", len(workspaces))
	for _, ws := range workspaces {
		result += fmt.Sprintf("- %s (ID: %s)\n", ws.WorkspaceName, ws.WorkspaceID)
		if ws.WorkspaceDesc != "" {
			result += fmt.Sprintf("  Description: %s\n", ws.WorkspaceDesc)
		}
	}

	return mcp.NewToolResultText(result), nil
}

func handleGetWorkspace(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	token, errResult := tokenFromContext(ctx)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()
	workspaceID, ok := args["workspace_id"].(string)
	if !ok || workspaceID == "" {
		return mcp.NewToolResultError("workspace_id is required"), nil
	}

	details, err := sc.Analytics().WorkspaceDetails(ctx, token, workspaceID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workspace %s: %v", workspaceID, err)), nil
	}

	return jsonToolResult(details)
}

func handleGetView(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	token, errResult := tokenFromContext(ctx)
	if errResult != nil {
		return errResult, nil
	}

	args := request.GetArguments()
	viewID, ok := args["view_id"].(string)
	if !ok || viewID == "" {
		return mcp.NewToolResultError("view_id is required"), nil
	}

	details, err := sc.Analytics().ViewDetails(ctx, token, viewID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get view %s: %v", viewID, err)), nil
	}

	return jsonToolResult(details)
}

// jsonToolResult renders a metadata document as indented JSON. The analytics
// API's detail documents are open-ended, so they pass through as-is instead
// of being flattened into prose.
func jsonToolResult(doc map[string]any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to render response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
