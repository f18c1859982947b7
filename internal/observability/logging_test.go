package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name       string
		config     LogConfig
		wantPrefix string
	}{
		{
			name:       "json format",
			config:     LogConfig{Level: "info", Format: "json"},
			wantPrefix: "{",
		},
		{
			name:       "text format",
			config:     LogConfig{Level: "debug", Format: "text"},
			wantPrefix: "time=",
		},
		{
			name:       "defaults to json",
			config:     LogConfig{},
			wantPrefix: "{",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf
			logger, _ := NewLogger(tt.config)
			logger.Info("hello")
			if !strings.HasPrefix(buf.String(), tt.wantPrefix) {
				t.Errorf("output = %q, want prefix %q", buf.String(), tt.wantPrefix)
			}
		})
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := LogLevelFromString(tt.level); got != tt.want {
				t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestLogger_LevelVarChangesAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	logger, level := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}

	level.Set(slog.LevelDebug)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug not logged after level change: %q", buf.String())
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(LogConfig{Level: "debug", Output: &buf})

	secret := "sk-ant-" + strings.Repeat("a", 40)
	logger.With("api_key", "plain-value").Info("calling model with "+secret,
		"header", "Bearer abcdefghijklmnopqrstuvwxyz",
		"error", errors.New("auth failed for "+secret),
		slog.Group("request", slog.String("token", "visible-token-value")),
		"round", 2,
	)

	out := buf.String()
	if strings.Contains(out, secret) {
		t.Errorf("anthropic key leaked: %s", out)
	}
	if strings.Contains(out, "plain-value") || strings.Contains(out, "visible-token-value") {
		t.Errorf("sensitive key value leaked: %s", out)
	}
	if strings.Contains(out, "abcdefghijklmnopqrstuvwxyz") {
		t.Errorf("bearer token leaked: %s", out)
	}

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid json output: %v", err)
	}
	if record["round"] != float64(2) {
		t.Errorf("round = %v, want 2", record["round"])
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	base, _ := NewLogger(LogConfig{Output: &buf})

	ctx := AddRunID(context.Background(), "run-1")
	ctx = AddUserID(ctx, "alice")
	ctx = AddToolCallID(ctx, "tu_1")
	LoggerWithContext(ctx, base).Info("executing tool")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid json output: %v", err)
	}
	for key, want := range map[string]string{"run_id": "run-1", "user_id": "alice", "tool_call_id": "tu_1"} {
		if record[key] != want {
			t.Errorf("%s = %v, want %s", key, record[key], want)
		}
	}

	if LoggerWithContext(context.Background(), base) != base {
		t.Error("expected same logger when context has no IDs")
	}
}
