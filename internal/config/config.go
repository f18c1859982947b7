// Package config loads and validates the Sous configuration file.
package config

import (
	"time"

	"github.com/haasonsaas/sous/internal/usage"
)

// Config is the root of sous.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Usage     usage.Pricing   `yaml:"usage"`
	Kitchen   KitchenConfig   `yaml:"kitchen"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port" jsonschema:"description=Separate port for /metrics. 0 serves metrics on the HTTP port."`

	// MaxMessageChars rejects longer user messages at the transport.
	MaxMessageChars int `yaml:"max_message_chars"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RateLimitConfig is a per-user token bucket for chat requests.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type DatabaseConfig struct {
	// Driver is memory, postgres or sqlite.
	Driver          string        `yaml:"driver" jsonschema:"enum=memory,enum=postgres,enum=sqlite"`
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type LLMConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	TitleModel string `yaml:"title_model"`
	MaxTokens  int    `yaml:"max_tokens"`

	// MaxRetries is nil when unset so that 0 can disable retries.
	MaxRetries *int          `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	// FakeMode serves canned replies and never calls the API.
	FakeMode bool `yaml:"fake_mode"`
}

type AgentConfig struct {
	MaxToolRounds      int           `yaml:"max_tool_rounds"`
	HistoryTokenBudget int           `yaml:"history_token_budget"`
	SystemPrompt       string        `yaml:"system_prompt"`
	EventBuffer        int           `yaml:"event_buffer"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	TitleTimeout       time.Duration `yaml:"title_timeout"`
}

// KitchenConfig points at the pantry, recipe and meal plan data used when the
// database driver has no kitchen tables.
type KitchenConfig struct {
	SeedFile string `yaml:"seed_file"`
}

type RetentionConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression (five fields or a descriptor like @daily).
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format    string `yaml:"format" jsonschema:"enum=json,enum=text"`
	AddSource bool   `yaml:"add_source"`
}

type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector. Empty disables tracing.
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
}

// Default returns a configuration with every default applied. It runs
// entirely in memory with fake model replies disabled.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MaxMessageChars == 0 {
		cfg.Server.MaxMessageChars = 8000
	}
	if cfg.Server.RateLimit.RequestsPerSecond == 0 {
		cfg.Server.RateLimit.RequestsPerSecond = 1
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 5
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.TitleModel == "" {
		cfg.LLM.TitleModel = "claude-3-5-haiku-20241022"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.MaxRetries == nil {
		retries := 3
		cfg.LLM.MaxRetries = &retries
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}

	if cfg.Agent.MaxToolRounds == 0 {
		cfg.Agent.MaxToolRounds = 5
	}
	if cfg.Agent.HistoryTokenBudget == 0 {
		cfg.Agent.HistoryTokenBudget = 100000
	}
	if cfg.Agent.EventBuffer == 0 {
		cfg.Agent.EventBuffer = 64
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 30 * time.Second
	}
	if cfg.Agent.TitleTimeout == 0 {
		cfg.Agent.TitleTimeout = 30 * time.Second
	}

	if cfg.Usage.InputPerMTok == 0 && cfg.Usage.OutputPerMTok == 0 {
		cfg.Usage = usage.DefaultPricing()
	}

	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "@daily"
	}
	if cfg.Retention.MaxAge == 0 {
		cfg.Retention.MaxAge = 90 * 24 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "sous"
	}
}
