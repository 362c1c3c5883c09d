package oauthproxy

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/storage"
)

// ClientStore manages dynamically registered OAuth clients on top of the
// shared persistence layer. Registrations expire after the configured TTL;
// expired clients simply vanish from the backend, which is why the token
// endpoint tells callers to clear cached credentials when authentication
// fails.
type ClientStore struct {
	store  storage.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewClientStore creates a client store over the given backend. A zero ttl
// falls back to DefaultClientTTL.
func NewClientStore(store storage.Store, ttl time.Duration, logger *slog.Logger) *ClientStore {
	if ttl <= 0 {
		ttl = DefaultClientTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ClientStore{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Register mints credentials for a new client, applies registration
// defaults, and persists the record with the registration TTL.
func (s *ClientStore) Register(ctx context.Context, req *ClientRegistrationRequest) (*RegisteredClient, error) {
	clientSecret, err := generateSecureToken(ClientSecretLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client secret: %w", err)
	}

	client := &RegisteredClient{
		ClientID:      uuid.NewString(),
		ClientSecret:  clientSecret,
		RedirectURIs:  req.RedirectURIs,
		ClientName:    req.ClientName,
		Scope:         req.Scope,
		GrantTypes:    req.GrantTypes,
		ResponseTypes: req.ResponseTypes,
	}
	if client.RedirectURIs == nil {
		client.RedirectURIs = []string{}
	}
	if client.Scope == "" {
		client.Scope = ScopeAnalyticsFullAccess
	}
	if len(client.GrantTypes) == 0 {
		client.GrantTypes = DefaultGrantTypes
	}
	if len(client.ResponseTypes) == 0 {
		client.ResponseTypes = DefaultResponseTypes
	}

	if err := s.store.Set(ctx, client.ClientID, client, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to persist client registration: %w", err)
	}

	s.logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"redirect_uris", client.RedirectURIs,
		"grant_types", client.GrantTypes,
	)

	return client, nil
}

// Get retrieves a registered client by ID. Unknown and expired clients
// return storage.ErrNotFound.
func (s *ClientStore) Get(ctx context.Context, clientID string) (*RegisteredClient, error) {
	var client RegisteredClient
	if err := s.store.Get(ctx, clientID, &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// ValidateSecret compares a presented client secret against the registered
// one in constant time.
func (s *ClientStore) ValidateSecret(client *RegisteredClient, clientSecret string) bool {
	return subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(clientSecret)) == 1
}

// ValidateRedirectURI checks if a redirect URI is registered for a client.
func (s *ClientStore) ValidateRedirectURI(client *RegisteredClient, redirectURI string) bool {
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// generateSecureToken generates a cryptographically secure random token
func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b), nil
}
