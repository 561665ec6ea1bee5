package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default values for tunable settings. Secrets have no defaults and fail
// closed in Validate when the corresponding surface is enabled.
const (
	DefaultHTTPAddr          = ":8080"
	DefaultMetricsAddr       = ":9090"
	DefaultLLMModel          = "gpt-4o-mini"
	DefaultPendingActionTTL  = 10 * time.Minute
	DefaultContextCacheTTL   = 30 * time.Second
	DefaultUpstreamTimeout   = 8 * time.Second
	DefaultOAuthStateTTL     = 15 * time.Minute
	DefaultContextWindowDays = 5
	DefaultContextMaxItems   = 3
	DefaultStorePath         = "attache.db"
)

// OAuthClient holds the OAuth client registration for one provider.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Configured reports whether the client registration is usable.
func (c OAuthClient) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Config holds the runtime configuration for the attache server.
type Config struct {
	// HTTPAddr is the listen address for the API server.
	HTTPAddr string

	// MetricsAddr is the listen address for the Prometheus metrics server.
	MetricsAddr string

	// BaseURL is the public base URL of this server, used to derive OAuth
	// redirect URLs when they are not configured explicitly.
	BaseURL string

	// IdentitySecret is the HMAC secret used to verify bearer identity tokens.
	IdentitySecret string

	// Google and Microsoft are the per-provider OAuth client registrations.
	Google    OAuthClient
	Microsoft OAuthClient

	// LLMAPIKey is the API key for the chat-completion endpoint.
	LLMAPIKey string

	// LLMModel is the model name sent with every chat-completion request.
	LLMModel string

	// LLMBaseURL optionally overrides the chat-completion endpoint, for
	// OpenAI-compatible gateways.
	LLMBaseURL string

	// StorePath is the sqlite database path for credentials and pending
	// actions. Empty selects the in-memory store.
	StorePath string

	// PendingActionTTL bounds how long an unconfirmed proposal stays valid.
	PendingActionTTL time.Duration

	// ContextCacheTTL bounds how long cached mail/calendar context is reused.
	ContextCacheTTL time.Duration

	// UpstreamTimeout is applied to every outbound provider and LLM call.
	UpstreamTimeout time.Duration

	// OAuthStateTTL bounds how long an issued OAuth state token is valid.
	OAuthStateTTL time.Duration

	// ContextWindowDays is the look-ahead window for calendar context.
	ContextWindowDays int

	// ContextMaxItems caps how many mail/calendar items feed the prompt.
	ContextMaxItems int

	// Debug enables debug logging.
	Debug bool
}

// FromEnv builds a Config from environment variables, applying defaults for
// everything except secrets.
func FromEnv() Config {
	cfg := Config{
		HTTPAddr:       getEnvOrDefault("HTTP_ADDR", DefaultHTTPAddr),
		MetricsAddr:    getEnvOrDefault("METRICS_ADDR", DefaultMetricsAddr),
		BaseURL:        os.Getenv("BASE_URL"),
		IdentitySecret: os.Getenv("IDENTITY_SECRET"),
		Google: OAuthClient{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
			Scopes:       splitScopes(os.Getenv("GOOGLE_SCOPES")),
		},
		Microsoft: OAuthClient{
			ClientID:     os.Getenv("MS_CLIENT_ID"),
			ClientSecret: os.Getenv("MS_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("MS_REDIRECT_URL"),
			Scopes:       splitScopes(os.Getenv("MS_SCOPES")),
		},
		LLMAPIKey:         os.Getenv("LLM_API_KEY"),
		LLMModel:          getEnvOrDefault("LLM_MODEL", DefaultLLMModel),
		LLMBaseURL:        os.Getenv("LLM_BASE_URL"),
		StorePath:         getEnvOrDefault("STORE_PATH", DefaultStorePath),
		PendingActionTTL:  getEnvDurationOrDefault("PENDING_ACTION_TTL", DefaultPendingActionTTL),
		ContextCacheTTL:   getEnvDurationOrDefault("CONTEXT_CACHE_TTL", DefaultContextCacheTTL),
		UpstreamTimeout:   getEnvDurationOrDefault("UPSTREAM_TIMEOUT", DefaultUpstreamTimeout),
		OAuthStateTTL:     getEnvDurationOrDefault("OAUTH_STATE_TTL", DefaultOAuthStateTTL),
		ContextWindowDays: getEnvIntOrDefault("CONTEXT_WINDOW_DAYS", DefaultContextWindowDays),
		ContextMaxItems:   getEnvIntOrDefault("CONTEXT_MAX_ITEMS", DefaultContextMaxItems),
		Debug:             getEnvBoolOrDefault("DEBUG", false),
	}
	return cfg
}

// Validate checks that required secrets are present and tunables are sane.
// Missing secrets are a hard error: the server must not start half-configured.
func (c *Config) Validate() error {
	if c.IdentitySecret == "" {
		return fmt.Errorf("IDENTITY_SECRET is required")
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if !c.Google.Configured() && !c.Microsoft.Configured() {
		return fmt.Errorf("at least one provider OAuth client must be configured (GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET or MS_CLIENT_ID/MS_CLIENT_SECRET)")
	}
	if c.PendingActionTTL <= 0 {
		return fmt.Errorf("pending action TTL must be positive, got %s", c.PendingActionTTL)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got %s", c.UpstreamTimeout)
	}
	if c.ContextWindowDays <= 0 {
		return fmt.Errorf("context window days must be positive, got %d", c.ContextWindowDays)
	}
	if c.ContextMaxItems <= 0 {
		return fmt.Errorf("context max items must be positive, got %d", c.ContextMaxItems)
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' || s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
