// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or ~/.reviewpulse/config.yaml)
//  3. Default values
//
// Security: sensitive data (API keys) is never logged; see MarshalJSON.
// Validation: range checks in validation.go with sentinel errors for
// Go-idiomatic checking via errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Defaults for conversation limits. These mirror the values the MCP tool
// server is provisioned with; changing them here does not change upstream
// quota enforcement.
const (
	// DefaultSessionTTL is the sliding idle timeout for chat sessions.
	DefaultSessionTTL = 30 * time.Minute

	// DefaultMaxMessages is the per-session message cap (user + assistant).
	DefaultMaxMessages = 20

	// DefaultMaxSessionsPerOwner caps concurrently active sessions per owner.
	DefaultMaxSessionsPerOwner = 1

	// DefaultMaxToolRounds bounds the tool-calling loop per user message.
	DefaultMaxToolRounds = 8

	// DefaultToolCallTimeout is the per-tool-call deadline.
	DefaultToolCallTimeout = 30 * time.Second
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (API keys, tokens), update MarshalJSON.
type Config struct {
	// HTTP server
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`

	// LLM provider (OpenAI-compatible chat completions)
	OpenAIAPIKey  string  `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIBaseURL string  `mapstructure:"openai_base_url" json:"openai_base_url"`
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`
	LLMRateLimit  float64 `mapstructure:"llm_rate_limit" json:"llm_rate_limit"` // requests per second, 0 disables

	// MCP tool server
	MCPServerURL    string        `mapstructure:"mcp_server_url" json:"mcp_server_url"`
	ToolCallTimeout time.Duration `mapstructure:"tool_call_timeout" json:"tool_call_timeout"`
	MaxToolRounds   int           `mapstructure:"max_tool_rounds" json:"max_tool_rounds"`

	// Session store
	SessionTTL          time.Duration `mapstructure:"session_ttl" json:"session_ttl"`
	MaxMessages         int           `mapstructure:"max_messages" json:"max_messages"`
	MaxSessionsPerOwner int           `mapstructure:"max_sessions_per_owner" json:"max_sessions_per_owner"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"` // 0 disables the background sweeper

	// HTTP hardening
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`   // Per-IP rate limiter burst (0 = default 60)

	// Observability
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // OTLP HTTP endpoint (host:port)
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".reviewpulse")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(configDir)

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults plus env cover everything.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{".", configDir},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("host", "0.0.0.0")
	viper.SetDefault("port", 8080)

	viper.SetDefault("openai_base_url", "")
	viper.SetDefault("model_name", "gpt-4o-mini")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)
	viper.SetDefault("llm_rate_limit", 0.0)

	viper.SetDefault("mcp_server_url", "http://localhost:8765/mcp")
	viper.SetDefault("tool_call_timeout", DefaultToolCallTimeout)
	viper.SetDefault("max_tool_rounds", DefaultMaxToolRounds)

	viper.SetDefault("session_ttl", DefaultSessionTTL)
	viper.SetDefault("max_messages", DefaultMaxMessages)
	viper.SetDefault("max_sessions_per_owner", DefaultMaxSessionsPerOwner)
	viper.SetDefault("sweep_interval", 5*time.Minute)

	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 0)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "reviewpulse")

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly.
// Secrets come only from the environment, never from the config file checked
// into a repo.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("openai_base_url", "OPENAI_BASE_URL")
	mustBind("model_name", "REVIEWPULSE_MODEL_NAME")

	mustBind("mcp_server_url", "REVIEWPULSE_MCP_SERVER_URL")

	mustBind("host", "REVIEWPULSE_HOST")
	mustBind("port", "REVIEWPULSE_PORT")
	mustBind("cors_origins", "REVIEWPULSE_CORS_ORIGINS")
	mustBind("trust_proxy", "REVIEWPULSE_TRUST_PROXY")
	mustBind("rate_burst", "REVIEWPULSE_RATE_BURST")

	mustBind("tracing.enabled", "REVIEWPULSE_TRACING_ENABLED")
	mustBind("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	mustBind("log_level", "REVIEWPULSE_LOG_LEVEL")
	mustBind("log_json", "REVIEWPULSE_LOG_JSON")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matches against the
// real secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked to prevent substring attacks;
// longer secrets keep the first and last 2 characters for debug utility.
//
// THREAT MODEL: this defends against accidental logging of real secrets.
// It is not cryptographically secure; if logs are compromised, rotate keys.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - OpenAIAPIKey
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// Addr returns the host:port listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
