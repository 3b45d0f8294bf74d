package providers

import (
	"context"
	"errors"
	"time"
)

// Provider is a single AI text-generation vendor integration. Implementations
// wrap their vendor client and classify every failure into an ErrorKind; that
// classification is the seam that keeps the retry and circuit-breaker layers
// vendor-agnostic.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// GenerateText produces text for the prompt. Every error returned must
	// be a *ProviderError.
	GenerateText(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// EstimateCost returns the estimated USD cost for a token count against
	// the given model.
	EstimateCost(model string, tokens int) float64

	// ValidateConfig checks the provider configuration at construction time.
	ValidateConfig() error
}

// GenerateRequest is the vendor-neutral request shape.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int

	// User identifies the end user for vendor-side abuse monitoring.
	User string
}

// GenerateResponse is the vendor-neutral response shape.
type GenerateResponse struct {
	Content          string
	Model            string
	Provider         string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostEstimate     float64
	FinishReason     string
	Latency          time.Duration
}

// ProviderConfig holds common configuration for provider adapters.
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultProviderConfig returns a sensible baseline configuration.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:     30 * time.Second,
		Temperature: 0.7,
		MaxTokens:   2000,
	}
}

// ErrorKind classifies a provider failure. The kind drives retry and circuit
// decisions upstream.
type ErrorKind string

const (
	// ErrKindTimeout means the vendor call exceeded its time budget.
	ErrKindTimeout ErrorKind = "timeout"

	// ErrKindRateLimited means the vendor throttled the call.
	ErrKindRateLimited ErrorKind = "rate_limited"

	// ErrKindInvalidRequest means the request itself is broken. Retrying,
	// here or elsewhere, cannot help.
	ErrKindInvalidRequest ErrorKind = "invalid_request"

	// ErrKindUnavailable means the vendor is down or erroring server-side.
	ErrKindUnavailable ErrorKind = "unavailable"

	// ErrKindCanceled means the caller abandoned the request before the
	// vendor answered. It says nothing about provider health.
	ErrKindCanceled ErrorKind = "canceled"

	// ErrKindUnknown covers everything the adapter could not classify.
	ErrKindUnknown ErrorKind = "unknown"
)

// ProviderError is a classified failure from a provider adapter.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	Message    string
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + string(e.Kind) + ": " + e.Message
}

// Unwrap implements error unwrapping.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a classified provider error.
func NewProviderError(provider string, kind ErrorKind, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// KindOf extracts the classification from err. Unclassified errors report
// ErrKindUnknown.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindUnknown
}

// IsRetryable reports whether a failed attempt may be retried against the same
// provider. Invalid requests fail identically everywhere; unknown errors are
// not retried to avoid hammering a vendor with a bug we do not understand.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ErrKindTimeout, ErrKindRateLimited, ErrKindUnavailable:
		return true
	}
	return false
}

// CountsAsBreakerFailure reports whether the failure should advance the
// provider's circuit toward open. Invalid requests and caller-side
// cancellations are not the provider's fault and never count.
func CountsAsBreakerFailure(err error) bool {
	switch KindOf(err) {
	case ErrKindTimeout, ErrKindRateLimited, ErrKindUnavailable, ErrKindUnknown:
		return true
	}
	return false
}

// ClassifyStatus maps an HTTP status code to an ErrorKind. Shared by adapters
// that talk to their vendor over plain HTTP.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == 408 || status == 504:
		return ErrKindTimeout
	case status == 429:
		return ErrKindRateLimited
	case status >= 500:
		return ErrKindUnavailable
	case status >= 400 && status < 500:
		return ErrKindInvalidRequest
	}
	return ErrKindUnknown
}

// ClassifyContextError maps a context cancellation into a provider error kind,
// or returns false if err is not context-related.
func ClassifyContextError(err error) (ErrorKind, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return ErrKindCanceled, true
	}
	return "", false
}
