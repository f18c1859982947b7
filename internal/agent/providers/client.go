package providers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/haasonsaas/sous/internal/agent"
)

// Config selects and configures a model client.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration

	// FakeMode returns a FakeClient and never touches the network.
	FakeMode bool

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient builds the model client described by cfg.
func NewClient(cfg Config) (agent.ModelClient, error) {
	if cfg.FakeMode {
		return NewFakeClient(), nil
	}
	return NewAnthropicClient(AnthropicConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		HTTPClient: cfg.HTTPClient,
		Logger:     cfg.Logger,
	})
}
