// Package providers implements agent.ModelClient backends.
//
// AnthropicClient talks to the Anthropic Messages API through the official SDK.
// FakeClient returns canned, purpose-keyed payloads for local runs and tests.
// NewClient picks one from configuration.
//
// Example Usage:
//
//	client, err := providers.NewClient(providers.Config{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	    Model:  "claude-sonnet-4-20250514",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stream, err := client.Stream(ctx, &agent.Request{
//	    Purpose:  agent.PurposeChat,
//	    Messages: []agent.Message{{Role: models.RoleUser, Content: []agent.ContentBlock{agent.TextBlock("Hi")}}},
//	})
//	for delta := range stream.Deltas() {
//	    fmt.Print(delta)
//	}
//	final, err := stream.Final()
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/sous/internal/agent"
	"github.com/haasonsaas/sous/internal/backoff"
	"github.com/haasonsaas/sous/internal/tools"
	"github.com/haasonsaas/sous/internal/usage"
	"github.com/haasonsaas/sous/pkg/models"
)

const (
	// DefaultModel is used when neither the request nor the config names one.
	DefaultModel = "claude-sonnet-4-20250514"

	defaultMaxTokens  = 4096
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a proxy or a test server.
	BaseURL string

	// Model is the default model. Default: DefaultModel.
	Model string

	// MaxRetries is the number of extra attempts for retryable failures that
	// happen before any output arrives. Zero disables retries; negative
	// values take the default of 3.
	MaxRetries int

	// RetryDelay is the first backoff delay; it doubles per attempt.
	// Default: 1 second.
	RetryDelay time.Duration

	// HTTPClient replaces the SDK's default HTTP client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// AnthropicClient implements agent.ModelClient over the Anthropic Messages
// API.
//
// Retries happen only while no output has been produced: once the first
// stream event arrives, any later failure ends the call. This keeps the text
// already forwarded to the caller consistent with the final message.
//
// AnthropicClient is safe for concurrent use.
type AnthropicClient struct {
	client     anthropic.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewAnthropicClient creates a client. The SDK's own retries are disabled;
// the client applies its own policy so it can stop retrying once output has
// started.
func NewAnthropicClient(config AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, &ConfigError{Field: "api_key", Message: "required unless fake mode is enabled"}
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(config.HTTPClient))
	}

	return &AnthropicClient{
		client:     anthropic.NewClient(opts...),
		model:      config.Model,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
		logger:     config.Logger.With("component", "anthropic"),
	}, nil
}

// Send performs a non-streaming request.
func (c *AnthropicClient) Send(ctx context.Context, req *agent.Request) (*agent.FinalMessage, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, err
	}
	model := string(params.Model)

	var msg *anthropic.Message
	err = c.retrier(req.Purpose, model).Do(ctx, func(int) error {
		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return c.wrapError(err, model)
		}
		msg = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convertMessage(msg), nil
}

// Stream opens a streaming request. It returns once the first event has
// arrived, so connection and HTTP errors are reported here and retried
// according to the client's policy.
func (c *AnthropicClient) Stream(ctx context.Context, req *agent.Request) (*agent.Stream, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, err
	}
	model := string(params.Model)

	var sse *ssestream.Stream[anthropic.MessageStreamEventUnion]
	err = c.retrier(req.Purpose, model).Do(ctx, func(int) error {
		s := c.client.Messages.NewStreaming(ctx, params)
		if s.Next() {
			sse = s
			return nil
		}
		streamErr := s.Err()
		_ = s.Close()
		if streamErr == nil {
			streamErr = errors.New("stream ended before any event")
		}
		return c.wrapError(streamErr, model)
	})
	if err != nil {
		return nil, err
	}

	stream := agent.NewStream()
	go c.consume(ctx, sse, stream, model)
	return stream, nil
}

// consume forwards text deltas and accumulates the final message. The
// current event of sse has not been processed yet.
func (c *AnthropicClient) consume(ctx context.Context, sse *ssestream.Stream[anthropic.MessageStreamEventUnion], out *agent.Stream, model string) {
	defer sse.Close()

	var msg anthropic.Message
	for {
		event := sse.Current()
		if err := msg.Accumulate(event); err != nil {
			out.Finish(nil, c.wrapError(fmt.Errorf("accumulate stream: %w", err), model))
			return
		}
		if event.Type == "content_block_delta" {
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				if !out.Emit(ctx, delta.Text) {
					out.Finish(nil, ctx.Err())
					return
				}
			}
		}
		if !sse.Next() {
			break
		}
	}

	if err := sse.Err(); err != nil {
		out.Finish(nil, c.wrapError(err, model))
		return
	}
	out.Finish(convertMessage(&msg), nil)
}

func (c *AnthropicClient) retrier(purpose, model string) backoff.Retry {
	return backoff.Retry{
		Policy:      backoff.ModelCallPolicy(c.retryDelay),
		MaxAttempts: c.maxRetries + 1,
		Retryable:   IsRetryable,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("model request failed, retrying",
				"purpose", purpose,
				"model", model,
				"attempt", attempt,
				"delay", delay,
				"error", err)
		},
	}
}

func (c *AnthropicClient) params(req *agent.Request) (anthropic.MessageNewParams, error) {
	if req == nil {
		return anthropic.MessageNewParams{}, errors.New("anthropic: nil request")
	}
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		converted, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = converted
	}
	return params, nil
}

func convertMessages(messages []agent.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case agent.BlockText:
				if block.Text != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			case agent.BlockToolUse:
				input := map[string]any{}
				if len(block.Input) > 0 {
					if err := json.Unmarshal(block.Input, &input); err != nil {
						return nil, fmt.Errorf("tool use %s: invalid input: %w", block.ID, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(block.ID, input, block.Name))
			case agent.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError))
			default:
				return nil, fmt.Errorf("unsupported block type %q", block.Type)
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(defs []tools.Definition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}
	return result, nil
}

// convertMessage maps an SDK message to the agent's provider-neutral shape.
// Block types the agent does not use (thinking, server tools) are dropped.
func convertMessage(msg *anthropic.Message) *agent.FinalMessage {
	final := &agent.FinalMessage{
		StopReason: string(msg.StopReason),
		Usage: usage.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			final.Content = append(final.Content, agent.TextBlock(block.Text))
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			final.Content = append(final.Content, agent.ContentBlock{
				Type:  agent.BlockToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	return final
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError converts SDK and transport errors into *ProviderError.
// Cancellation passes through unchanged.
func (c *AnthropicClient) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewProviderError("anthropic", model, err)
	}

	providerErr := (&ProviderError{
		Provider:  "anthropic",
		Model:     model,
		Reason:    ReasonUnknown,
		RequestID: apiErr.RequestID,
		Cause:     err,
	}).withStatus(apiErr.StatusCode)

	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			providerErr.Message = payload.Error.Message
			if payload.Error.Type != "" {
				providerErr = providerErr.withCode(payload.Error.Type)
			}
			if payload.RequestID != "" {
				providerErr.RequestID = payload.RequestID
			}
		}
	}
	if providerErr.Message == "" {
		providerErr.Message = "anthropic request failed"
	}
	return providerErr
}
