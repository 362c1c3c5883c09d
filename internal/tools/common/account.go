package common

import (
	"context"
)

// GetAccountFromArgs extracts the account label from request arguments.
// The bearer token on the context authenticates the call but deliberately
// carries no user identity the proxy could surface, so the label is the
// explicit "account" argument when given and "default" otherwise.
func GetAccountFromArgs(_ context.Context, args map[string]interface{}) string {
	if accountVal, ok := args["account"].(string); ok && accountVal != "" {
		return accountVal
	}
	return "default"
}
