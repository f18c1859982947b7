package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/sous/internal/observability"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ExecutorConfig configures tool execution.
type ExecutorConfig struct {
	// PerToolTimeout bounds a single execution. Default: 30 seconds.
	PerToolTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// DefaultExecutorConfig returns the default execution settings.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{PerToolTimeout: 30 * time.Second}
}

// Executor dispatches tool calls by name. Execute is total: every failure is
// reported inside the returned JSON as {"error": "..."} so the model can see it.
type Executor struct {
	registry *Registry
	config   ExecutorConfig
	logger   *slog.Logger
}

// NewExecutor creates an executor over registry. Zero config fields take
// defaults.
func NewExecutor(registry *Registry, config ExecutorConfig) *Executor {
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = DefaultExecutorConfig().PerToolTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		config:   config,
		logger:   logger.With("component", "tools"),
	}
}

// Definitions returns the model-facing definitions of every registered tool.
func (e *Executor) Definitions() []Definition {
	return e.registry.Definitions()
}

// Execute runs the named tool for userID and returns its JSON result.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage, userID string) string {
	entry, ok := e.registry.get(name)
	if !ok {
		e.config.Metrics.RecordToolExecution("unknown", "error", 0)
		return errorJSON("Unknown tool: " + name)
	}

	ctx, span := e.config.Tracer.TraceToolExecution(ctx, name)
	defer span.End()
	logger := observability.LoggerWithContext(ctx, e.logger).With("tool", name)

	start := time.Now()
	result, err := e.run(ctx, entry, input, userID)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		e.config.Tracer.RecordError(span, err)
		logger.Warn("tool execution failed", "error", err, "duration_ms", duration.Milliseconds())
		result = errorJSON(err.Error())
	} else if hasErrorField(result) {
		status = "error"
		logger.Debug("tool reported error", "duration_ms", duration.Milliseconds())
	} else {
		logger.Debug("tool executed", "duration_ms", duration.Milliseconds())
	}
	e.config.Metrics.RecordToolExecution(name, status, duration.Seconds())
	return result
}

func (e *Executor) run(ctx context.Context, entry registeredTool, input json.RawMessage, userID string) (result string, err error) {
	if err := validateInput(entry, input); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", entry.tool.Name(), r)
		}
	}()

	value, err := entry.tool.Execute(ctx, userID, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("tool execution timed out after %v", e.config.PerToolTimeout)
		}
		return "", err
	}
	if value == nil {
		return "{}", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

func validateInput(entry registeredTool, input json.RawMessage) error {
	var payload any = map[string]any{}
	if !isEmptyInput(input) {
		if err := json.Unmarshal(input, &payload); err != nil {
			return fmt.Errorf("invalid input: %w", err)
		}
	}
	if err := entry.validator.Validate(payload); err != nil {
		return fmt.Errorf("invalid input for %s: %s", entry.tool.Name(), validationMessage(err))
	}
	return nil
}

// validationMessage flattens a schema validation error to its leaf causes.
func validationMessage(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	var msgs []string
	collectLeaves(verr, &msgs)
	return strings.Join(msgs, "; ")
}

func collectLeaves(verr *jsonschema.ValidationError, out *[]string) {
	if len(verr.Causes) == 0 {
		loc := verr.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, fmt.Sprintf("%s: %s", loc, verr.Message))
		return
	}
	for _, cause := range verr.Causes {
		collectLeaves(cause, out)
	}
}

func errorJSON(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

func hasErrorField(result string) bool {
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &probe); err != nil {
		return false
	}
	return probe.Error != nil
}
