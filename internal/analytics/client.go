// Package analytics is a thin client for the Zoho Analytics v2 REST API.
// Every call authenticates with the caller's own access token; the client
// holds no credentials of its own.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestTimeout = 15 * time.Second

// Client issues authenticated reads against one analytics server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for the given analytics server base URL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// envelope wraps every v2 response.
type envelope struct {
	Status  string          `json:"status"`
	Summary string          `json:"summary,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type errorData struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// APIError is a non-2xx analytics response.
type APIError struct {
	HTTPStatus int
	ErrorCode  int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analytics: status %d", e.HTTPStatus)
	}
	return fmt.Sprintf("analytics: status %d: code %d: %s", e.HTTPStatus, e.ErrorCode, e.Message)
}

// Workspace is the subset of workspace metadata the tools surface.
type Workspace struct {
	WorkspaceID   string `json:"workspaceId"`
	WorkspaceName string `json:"workspaceName"`
	WorkspaceDesc string `json:"workspaceDesc,omitempty"`
	OrgID         string `json:"orgId,omitempty"`
	CreatedBy     string `json:"createdBy,omitempty"`
}

// ListOwnedWorkspaces returns the workspaces the token's user owns. This is
// also the cheapest authenticated read the server offers, which makes it
// the bearer-validation probe.
func (c *Client) ListOwnedWorkspaces(ctx context.Context, token string) ([]Workspace, error) {
	data, err := c.get(ctx, token, "/restapi/v2/workspaces/owned", nil)
	if err != nil {
		return nil, err
	}

	var body struct {
		OwnedWorkspaces []Workspace `json:"ownedWorkspaces"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("analytics: owned workspaces: %w", err)
	}
	return body.OwnedWorkspaces, nil
}

// WorkspaceDetails returns the full metadata document for one workspace.
func (c *Client) WorkspaceDetails(ctx context.Context, token, workspaceID string) (map[string]any, error) {
	data, err := c.get(ctx, token, "/restapi/v2/workspaces/"+url.PathEscape(workspaceID), nil)
	if err != nil {
		return nil, err
	}

	var body struct {
		Workspaces map[string]any `json:"workspaces"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("analytics: workspace details: %w", err)
	}
	return body.Workspaces, nil
}

// ViewDetails returns the metadata document for one view. Involved-meta
// expansion stays off; the tools only need the view's own attributes.
func (c *Client) ViewDetails(ctx context.Context, token, viewID string) (map[string]any, error) {
	config, err := json.Marshal(map[string]any{"withInvolvedMetaInfo": false})
	if err != nil {
		return nil, fmt.Errorf("analytics: view config: %w", err)
	}

	data, err := c.get(ctx, token, "/restapi/v2/views/"+url.PathEscape(viewID), url.Values{"CONFIG": {string(config)}})
	if err != nil {
		return nil, err
	}

	var body struct {
		Views map[string]any `json:"views"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("analytics: view details: %w", err)
	}
	return body.Views, nil
}

func (c *Client) get(ctx context.Context, token, path string, query url.Values) (json.RawMessage, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("analytics: request: %w", err)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analytics: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("analytics: response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		var failure struct {
			Data errorData `json:"data"`
		}
		if json.Unmarshal(raw, &failure) == nil {
			apiErr.ErrorCode = failure.Data.ErrorCode
			apiErr.Message = failure.Data.ErrorMessage
		}
		return nil, apiErr
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("analytics: response envelope: %w", err)
	}
	return env.Data, nil
}
