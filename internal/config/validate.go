package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError lists every problem found in a configuration. Each issue
// starts with the offending key.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate checks cfg after defaults have been applied.
func Validate(cfg *Config) error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if cfg.Server.HTTPPort < 1 || cfg.Server.HTTPPort > 65535 {
		add("server.http_port: %d is not a valid port", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		add("server.metrics_port: %d is not a valid port", cfg.Server.MetricsPort)
	}
	if cfg.Server.MaxMessageChars < 0 {
		add("server.max_message_chars: must not be negative")
	}
	if cfg.Server.RateLimit.RequestsPerSecond < 0 || cfg.Server.RateLimit.Burst < 0 {
		add("server.rate_limit: rate and burst must not be negative")
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "memory":
	case "postgres", "sqlite":
		if strings.TrimSpace(cfg.Database.URL) == "" {
			add("database.url: required for driver %q", cfg.Database.Driver)
		}
	default:
		add("database.driver: %q must be memory, postgres or sqlite", cfg.Database.Driver)
	}

	if !cfg.LLM.FakeMode && strings.TrimSpace(cfg.LLM.APIKey) == "" {
		add("llm.api_key: required unless llm.fake_mode is true")
	}
	if cfg.LLM.MaxTokens < 1 {
		add("llm.max_tokens: must be positive")
	}
	if cfg.LLM.MaxRetries != nil && *cfg.LLM.MaxRetries < 0 {
		add("llm.max_retries: must not be negative")
	}

	if cfg.Agent.MaxToolRounds < 1 {
		add("agent.max_tool_rounds: must be at least 1")
	}
	if cfg.Agent.HistoryTokenBudget < 1 {
		add("agent.history_token_budget: must be positive")
	}

	if cfg.Usage.InputPerMTok < 0 || cfg.Usage.OutputPerMTok < 0 {
		add("usage: prices must not be negative")
	}

	if cfg.Retention.Enabled {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			add("retention.schedule: %v", err)
		}
		if cfg.Retention.MaxAge <= 0 {
			add("retention.max_age: must be positive")
		}
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: %q must be debug, info, warn or error", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format: %q must be json or text", cfg.Logging.Format)
	}

	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate: %v must be between 0 and 1", cfg.Tracing.SamplingRate)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
