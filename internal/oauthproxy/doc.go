// Package oauthproxy implements the OAuth 2.1 authorization server that MCP
// clients talk to. The upstream identity provider supports static client
// registration only, so the proxy mints its own client credentials through
// dynamic client registration, brokers the authorize/consent/callback flow,
// and translates proxy-issued authorization codes into upstream tokens. The
// statically registered upstream client_id and client_secret never leave the
// process: they are not echoed in responses, redirect URLs, or log lines.
package oauthproxy
