package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Storage backend names accepted in STORAGE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendCatalyst = "catalyst"
)

// Default values applied when the environment leaves a setting empty.
const (
	DefaultPort               = 4000
	DefaultStorageBackend     = BackendMemory
	DefaultRedisPort          = 6379
	DefaultAnalyticsServerURL = "https://analyticsapi.zoho.com"
	DefaultAccountsServerURL  = "https://accounts.zoho.com"
)

// defaultTrustedProxies covers the loopback ranges so a sidecar proxy on the
// same host is trusted out of the box.
var defaultTrustedProxies = []string{"127.0.0.0/8", "::1/128"}

// RedisSettings holds connection parameters for the Redis storage backend
// and the Redis rate limiter.
type RedisSettings struct {
	Host     string
	Port     int
	Password string
}

// Addr returns the host:port dial address.
func (r RedisSettings) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// CatalystSettings holds credentials for the remote-cache storage backend.
// The client refreshes its own access token via the upstream accounts server
// using the configured refresh token.
type CatalystSettings struct {
	APIDomain    string
	ProjectID    string
	SegmentID    string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Settings is the full runtime configuration, loaded from the environment.
type Settings struct {
	// Upstream identity provider. The provider supports only static client
	// registration; its credentials stay server-side for the whole lifetime
	// of the process.
	OIDCProviderBaseURL      string
	OIDCProviderClientID     string
	OIDCProviderClientSecret string

	// PublicURL is the externally reachable base URL of this proxy. All
	// discovery metadata and redirect URIs are derived from it.
	PublicURL string

	// Port the HTTP front-end listens on.
	Port int

	// SessionSecretKey signs the consent session cookie.
	SessionSecretKey string

	// StorageBackend selects the persistence provider: memory, redis or
	// catalyst.
	StorageBackend string

	Redis    RedisSettings
	Catalyst CatalystSettings

	// BehindProxy enables forwarded-header parsing for client IP
	// extraction. TrustedProxyList is the CIDR allowlist of proxy hops.
	BehindProxy      bool
	TrustedProxyList []string

	// AnalyticsServerURL is the base URL of the analytics REST API used to
	// validate bearer tokens and to serve the MCP tools.
	AnalyticsServerURL string

	// AccountsServerURL is the accounts server the remote-cache client
	// refreshes its own access token against.
	AccountsServerURL string
}

// FromEnv loads Settings from the process environment, applying defaults.
// It does not validate; call Validate before serving.
func FromEnv() *Settings {
	s := &Settings{
		OIDCProviderBaseURL:      os.Getenv("OIDC_PROVIDER_BASE_URL"),
		OIDCProviderClientID:     os.Getenv("OIDC_PROVIDER_CLIENT_ID"),
		OIDCProviderClientSecret: os.Getenv("OIDC_PROVIDER_CLIENT_SECRET"),
		PublicURL:                os.Getenv("MCP_SERVER_PUBLIC_URL"),
		Port:                     envInt("PORT", DefaultPort),
		SessionSecretKey:         os.Getenv("SESSION_SECRET_KEY"),
		StorageBackend:           envDefault("STORAGE_BACKEND", DefaultStorageBackend),
		Redis: RedisSettings{
			Host:     envDefault("REDIS_HOST", "localhost"),
			Port:     envInt("REDIS_PORT", DefaultRedisPort),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Catalyst: CatalystSettings{
			APIDomain:    os.Getenv("CATALYST_API_DOMAIN"),
			ProjectID:    os.Getenv("CATALYST_PROJECT_ID"),
			SegmentID:    os.Getenv("CATALYST_SEGMENT_ID"),
			ClientID:     os.Getenv("CATALYST_CLIENT_ID"),
			ClientSecret: os.Getenv("CATALYST_CLIENT_SECRET"),
			RefreshToken: os.Getenv("CATALYST_REFRESH_TOKEN"),
		},
		BehindProxy:        envBool("BEHIND_PROXY"),
		TrustedProxyList:   envList("TRUSTED_PROXY_LIST", defaultTrustedProxies),
		AnalyticsServerURL: envDefault("ANALYTICS_SERVER_URL", DefaultAnalyticsServerURL),
		AccountsServerURL:  envDefault("ACCOUNTS_SERVER_URL", DefaultAccountsServerURL),
	}
	return s
}

// Validate checks that every setting the serve command depends on is present
// and well-formed. It returns the first problem found.
func (s *Settings) Validate() error {
	if s.OIDCProviderBaseURL == "" {
		return fmt.Errorf("OIDC_PROVIDER_BASE_URL is required")
	}
	if _, err := url.Parse(s.OIDCProviderBaseURL); err != nil {
		return fmt.Errorf("OIDC_PROVIDER_BASE_URL is not a valid URL: %w", err)
	}
	if s.OIDCProviderClientID == "" {
		return fmt.Errorf("OIDC_PROVIDER_CLIENT_ID is required")
	}
	if s.OIDCProviderClientSecret == "" {
		return fmt.Errorf("OIDC_PROVIDER_CLIENT_SECRET is required")
	}
	if s.PublicURL == "" {
		return fmt.Errorf("MCP_SERVER_PUBLIC_URL is required")
	}
	u, err := url.Parse(s.PublicURL)
	if err != nil {
		return fmt.Errorf("MCP_SERVER_PUBLIC_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "https" && !isLoopbackHost(u.Hostname()) {
		return fmt.Errorf("MCP_SERVER_PUBLIC_URL must use https outside loopback (got %q)", s.PublicURL)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("PORT must be in 1..65535 (got %d)", s.Port)
	}
	if s.SessionSecretKey == "" {
		return fmt.Errorf("SESSION_SECRET_KEY is required")
	}
	switch s.StorageBackend {
	case BackendMemory:
	case BackendRedis:
		if s.Redis.Host == "" {
			return fmt.Errorf("REDIS_HOST is required for the redis backend")
		}
	case BackendCatalyst:
		if s.Catalyst.APIDomain == "" || s.Catalyst.ProjectID == "" || s.Catalyst.SegmentID == "" {
			return fmt.Errorf("CATALYST_API_DOMAIN, CATALYST_PROJECT_ID and CATALYST_SEGMENT_ID are required for the catalyst backend")
		}
		if s.Catalyst.ClientID == "" || s.Catalyst.ClientSecret == "" || s.Catalyst.RefreshToken == "" {
			return fmt.Errorf("CATALYST_CLIENT_ID, CATALYST_CLIENT_SECRET and CATALYST_REFRESH_TOKEN are required for the catalyst backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of memory, redis, catalyst (got %q)", s.StorageBackend)
	}
	for _, cidr := range s.TrustedProxyList {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("TRUSTED_PROXY_LIST entry %q is not a CIDR: %w", cidr, err)
		}
	}
	return nil
}

// BaseURL returns the public URL normalized to end without a trailing slash.
func (s *Settings) BaseURL() string {
	return strings.TrimRight(s.PublicURL, "/")
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return append([]string(nil), fallback...)
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
