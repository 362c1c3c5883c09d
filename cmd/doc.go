// Package cmd implements the command-line interface for analytics-mcp-server.
//
// This package provides the following commands:
//   - serve: Start the OAuth 2.1 authorization proxy and the MCP server
//   - version: Display version information
//   - docs: Generate markdown documentation for all MCP tools
package cmd
