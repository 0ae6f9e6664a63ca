package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Sentinel errors for configuration validation.
// Check with errors.Is(); wrap with fmt.Errorf("%w: details", ErrXxx).
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the LLM provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidMCPServerURL indicates the MCP server URL is missing or malformed.
	ErrInvalidMCPServerURL = errors.New("invalid MCP server URL")

	// ErrInvalidToolRounds indicates the tool round budget is out of range.
	ErrInvalidToolRounds = errors.New("invalid max tool rounds")

	// ErrInvalidToolTimeout indicates the per-call tool timeout is out of range.
	ErrInvalidToolTimeout = errors.New("invalid tool call timeout")

	// ErrInvalidSessionLimits indicates a session limit is out of range.
	ErrInvalidSessionLimits = errors.New("invalid session limits")

	// ErrInvalidPort indicates the listen port is out of range.
	ErrInvalidPort = errors.New("invalid port")
)

// Validate checks the configuration for correctness (fail-fast at startup).
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPort, c.Port)
	}

	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
	}
	if c.ModelName == "" {
		return ErrInvalidModelName
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %.2f (must be 0.0-2.0)", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens < 1 || c.MaxTokens > 128000 {
		return fmt.Errorf("%w: %d (must be 1-128000)", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.MCPServerURL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMCPServerURL)
	}
	u, err := url.Parse(c.MCPServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidMCPServerURL, c.MCPServerURL)
	}
	if c.ToolCallTimeout <= 0 {
		return fmt.Errorf("%w: tool_call_timeout must be positive", ErrInvalidToolTimeout)
	}
	if c.MaxToolRounds < 1 || c.MaxToolRounds > 32 {
		return fmt.Errorf("%w: %d (must be 1-32)", ErrInvalidToolRounds, c.MaxToolRounds)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: session_ttl must be positive", ErrInvalidSessionLimits)
	}
	if c.MaxMessages < 2 {
		return fmt.Errorf("%w: max_messages must be at least 2", ErrInvalidSessionLimits)
	}
	if c.MaxSessionsPerOwner < 1 {
		return fmt.Errorf("%w: max_sessions_per_owner must be at least 1", ErrInvalidSessionLimits)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep_interval must not be negative", ErrInvalidSessionLimits)
	}

	return nil
}
