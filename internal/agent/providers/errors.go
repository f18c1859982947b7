package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason categorizes why a model request failed.
type Reason string

const (
	ReasonRateLimit      Reason = "rate_limit"
	ReasonTimeout        Reason = "timeout"
	ReasonServerError    Reason = "server_error"
	ReasonAuth           Reason = "auth"
	ReasonBilling        Reason = "billing"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonUnknown        Reason = "unknown"
)

// IsRetryable reports whether another attempt may succeed.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a failed model request with enough context to decide on a
// retry and to debug it later.
type ProviderError struct {
	Reason Reason

	// Provider is "anthropic" or "fake".
	Provider string
	Model    string

	// Status is the HTTP status code, if any.
	Status int

	// Code is the provider's error type, such as "overloaded_error".
	Code string

	Message   string
	RequestID string

	Cause error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause and classifies it from its text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: ReasonUnknown}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = Classify(cause)
	}
	return err
}

// withStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) withStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatus(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// withCode records the provider error type; known types override the status.
func (e *ProviderError) withCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// Classify derives a Reason from an arbitrary error.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "deadline exceeded", "etimedout"):
		return ReasonTimeout
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "429"):
		return ReasonRateLimit
	case containsAny(msg, "unauthorized", "invalid api key", "invalid x-api-key", "authentication", "401", "403"):
		return ReasonAuth
	case containsAny(msg, "billing", "credit balance", "402"):
		return ReasonBilling
	case containsAny(msg, "overloaded", "internal server", "server error", "connection reset",
		"connection refused", "unexpected eof", "500", "502", "503", "504", "529"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func classifyStatus(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status >= 400 && status < 500:
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyCode(code string) Reason {
	switch strings.ToLower(code) {
	case "rate_limit_error":
		return ReasonRateLimit
	case "authentication_error", "permission_error":
		return ReasonAuth
	case "billing_error":
		return ReasonBilling
	case "overloaded_error", "api_error":
		return ReasonServerError
	case "timeout_error":
		return ReasonTimeout
	case "invalid_request_error", "not_found_error", "request_too_large":
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// IsProviderError reports whether err wraps a *ProviderError.
func IsProviderError(err error) bool {
	_, ok := GetProviderError(err)
	return ok
}

// GetProviderError extracts a *ProviderError from err's chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// IsRetryable reports whether err is worth another attempt. Cancellation is
// never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err).IsRetryable()
}

// ConfigError reports a client that cannot serve a request as configured. It
// is raised before any network activity.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("model client config: %s: %s", e.Field, e.Message)
}

// ErrMissingPurpose is returned by the fake client for requests without a
// purpose tag.
var ErrMissingPurpose = &ConfigError{Field: "purpose", Message: "fake mode requires a request purpose"}
