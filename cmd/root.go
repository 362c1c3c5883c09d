package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the analytics-mcp-server application
var rootCmd = &cobra.Command{
	Use:   "analytics-mcp-server",
	Short: "MCP server for Zoho Analytics with an OAuth 2.1 authorization proxy",
	Long: `analytics-mcp-server exposes Zoho Analytics to MCP clients over a
streamable HTTP transport.

It fronts the Zoho accounts server with an OAuth 2.1 authorization proxy:
MCP clients register dynamically and run a standard authorization-code +
PKCE flow against this server, while the upstream provider only ever sees
the statically registered client this server holds.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "analytics-mcp-server version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newDocsCmd())
}
