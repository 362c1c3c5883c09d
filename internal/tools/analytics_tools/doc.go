// Package analytics_tools provides MCP tools for Zoho Analytics: listing
// the caller's workspaces and fetching workspace and view metadata. Each
// tool authenticates with the bearer token the HTTP front-end validated and
// attached to the request context.
package analytics_tools
