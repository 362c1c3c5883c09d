package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/config"
	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/instrumentation"
)

// catalystAuthFailureCode is the upstream error code that marks an expired
// or invalid access token. It is the only failure the client retries.
const catalystAuthFailureCode = "AUTHENTICATION_FAILURE"

const catalystRequestTimeout = 30 * time.Second

// CatalystCache talks to a Catalyst cache segment over REST. The client
// holds its own access token and refreshes it through the accounts server
// when a request comes back with an authentication failure; each request is
// retried at most once.
type CatalystCache struct {
	httpClient *http.Client
	baseURL    string
	oauth      oauth2.Config
	logger     *slog.Logger

	mu           sync.Mutex
	refreshToken string
	accessToken  string
}

// NewCatalystCache builds the segment cache client from the configured
// credentials. No network traffic happens until the first request.
func NewCatalystCache(settings config.CatalystSettings, accountsServerURL string, logger *slog.Logger) *CatalystCache {
	if logger == nil {
		logger = slog.Default()
	}
	base := fmt.Sprintf("%s/baas/v1/project/%s/segment/%s/cache",
		strings.TrimRight(settings.APIDomain, "/"), settings.ProjectID, settings.SegmentID)

	return &CatalystCache{
		httpClient: &http.Client{Timeout: catalystRequestTimeout},
		baseURL:    base,
		oauth: oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimRight(accountsServerURL, "/") + "/oauth/v2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logger:       logger,
		refreshToken: settings.RefreshToken,
	}
}

// catalystEnvelope is the common response wrapper.
type catalystEnvelope struct {
	Status string               `json:"status"`
	Data   catalystEnvelopeData `json:"data"`
}

type catalystEnvelopeData struct {
	CacheName  string  `json:"cache_name"`
	CacheValue *string `json:"cache_value"`
	ErrorCode  string  `json:"error_code"`
	Message    string  `json:"message"`
}

type catalystWriteRequest struct {
	CacheName     string `json:"cache_name"`
	CacheValue    string `json:"cache_value"`
	ExpiryInHours int    `json:"expiry_in_hours,omitempty"`
}

// Insert creates the named cache entry. expiryHours <= 0 stores without
// expiry.
func (c *CatalystCache) Insert(ctx context.Context, name, value string, expiryHours int) error {
	body := catalystWriteRequest{CacheName: name, CacheValue: value}
	if expiryHours > 0 {
		body.ExpiryInHours = expiryHours
	}
	_, _, err := c.do(ctx, http.MethodPost, nil, body)
	return err
}

// Value fetches the named cache entry. Keys the segment does not hold
// surface as ErrNotFound.
func (c *CatalystCache) Value(ctx context.Context, name string) (string, error) {
	status, raw, err := c.do(ctx, http.MethodGet, url.Values{"cacheKey": {name}}, nil)
	if status == http.StatusNotFound {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	var envelope catalystEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("storage: catalyst response: %w", err)
	}
	if envelope.Data.CacheValue == nil {
		return "", ErrNotFound
	}
	return *envelope.Data.CacheValue, nil
}

// Update replaces the value of an existing entry. The segment keeps the
// entry's original expiry.
func (c *CatalystCache) Update(ctx context.Context, name, value string) error {
	_, _, err := c.do(ctx, http.MethodPut, nil, catalystWriteRequest{CacheName: name, CacheValue: value})
	return err
}

// Remove deletes the named entry. Absent keys are not an error.
func (c *CatalystCache) Remove(ctx context.Context, name string) error {
	status, _, err := c.do(ctx, http.MethodDelete, url.Values{"cacheKey": {name}}, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

// do executes one cache request, refreshing the access token and retrying
// exactly once when the segment reports an authentication failure.
func (c *CatalystCache) do(ctx context.Context, method string, query url.Values, body any) (int, []byte, error) {
	ctx, span := instrumentation.StartSpan(ctx, "storage.catalyst.request",
		attribute.String("http.method", method))
	defer span.End()

	status, raw, err := c.send(ctx, method, query, body)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return 0, nil, err
	}
	if status >= 200 && status < 300 {
		return status, raw, nil
	}
	if !isCatalystAuthFailure(raw) {
		return status, raw, fmt.Errorf("storage: catalyst %s: status %d: %s", method, status, strings.TrimSpace(string(raw)))
	}

	c.logger.Info("catalyst access token rejected, refreshing")
	if err := c.refreshAccessToken(ctx); err != nil {
		return 0, nil, err
	}

	status, raw, err = c.send(ctx, method, query, body)
	if err != nil {
		return 0, nil, err
	}
	if status < 200 || status >= 300 {
		return status, raw, fmt.Errorf("storage: catalyst %s: status %d: %s", method, status, strings.TrimSpace(string(raw)))
	}
	return status, raw, nil
}

func (c *CatalystCache) send(ctx context.Context, method string, query url.Values, body any) (int, []byte, error) {
	reqURL := c.baseURL
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("storage: marshal catalyst request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("storage: catalyst request: %w", err)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+c.currentAccessToken())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("storage: catalyst %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("storage: catalyst response body: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func (c *CatalystCache) currentAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// refreshAccessToken exchanges the configured refresh token for a fresh
// access token. A token source seeded with only the refresh token performs
// the grant immediately.
func (c *CatalystCache) refreshAccessToken(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return fmt.Errorf("storage: catalyst token refresh: %w", err)
	}

	c.mu.Lock()
	c.accessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.refreshToken = token.RefreshToken
	}
	c.mu.Unlock()
	return nil
}

// isCatalystAuthFailure reports whether a non-2xx body carries the
// authentication failure code.
func isCatalystAuthFailure(raw []byte) bool {
	var envelope catalystEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return false
	}
	return envelope.Data.ErrorCode == catalystAuthFailureCode
}

// CatalystStore adapts the segment cache to the Store contract. Cache names
// are namespaced per scope as "<scope>:<key>"; a write always replaces the
// previous entry so the fresh TTL takes effect.
type CatalystStore struct {
	cache  *CatalystCache
	scope  string
	logger *slog.Logger
}

// NewCatalystStore binds a scope to the shared cache client.
func NewCatalystStore(cache *CatalystCache, scope string, logger *slog.Logger) *CatalystStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalystStore{cache: cache, scope: scope, logger: logger}
}

func (s *CatalystStore) key(k string) string {
	return s.scope + ":" + k
}

// Set stores value under the scoped name. The segment accepts expiry only in
// whole hours, so TTLs round up to the next hour; ttl <= 0 stores without
// expiry. Existing entries are removed first because an in-place update
// would keep the stale expiry.
func (s *CatalystStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshal %s/%s: %w", s.scope, key, err)
	}

	if err := s.cache.Remove(ctx, s.key(key)); err != nil {
		return err
	}
	return s.cache.Insert(ctx, s.key(key), string(raw), expiryHours(ttl))
}

// Get loads the scoped name into dest.
func (s *CatalystStore) Get(ctx context.Context, key string, dest any) error {
	value, err := s.cache.Value(ctx, s.key(key))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return fmt.Errorf("storage: unmarshal %s/%s: %w", s.scope, key, err)
	}
	return nil
}

// Delete removes the scoped name.
func (s *CatalystStore) Delete(ctx context.Context, key string) error {
	return s.cache.Remove(ctx, s.key(key))
}

// expiryHours converts a TTL to the segment's whole-hour granularity,
// rounding up so entries never expire early. Non-positive TTLs mean no
// expiry.
func expiryHours(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	hours := int(math.Ceil(ttl.Hours()))
	if hours < 1 {
		hours = 1
	}
	return hours
}
