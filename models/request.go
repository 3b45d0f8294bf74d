package models

import (
	"time"

	"github.com/google/uuid"
)

// ServiceType identifies a content-generation service. Each service has its own
// provider fallback chain, usage limits, and cache policy.
type ServiceType string

const (
	ServiceQuizGeneration      ServiceType = "quiz_generation"
	ServiceLessonSummary       ServiceType = "lesson_summary"
	ServiceFlashcardGeneration ServiceType = "flashcard_generation"
)

// ServiceTypes returns all known service types.
func ServiceTypes() []ServiceType {
	return []ServiceType{
		ServiceQuizGeneration,
		ServiceLessonSummary,
		ServiceFlashcardGeneration,
	}
}

// Valid reports whether the service type is one of the known services.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceQuizGeneration, ServiceLessonSummary, ServiceFlashcardGeneration:
		return true
	}
	return false
}

// GenerationOptions are the caller-tunable knobs for a generation request.
// Model and Temperature affect output determinism and participate in cache
// keys; TraceID is request plumbing and must not.
type GenerationOptions struct {
	// Model overrides the provider's configured default model when set.
	Model string `json:"model,omitempty"`

	// Temperature controls randomness (0.0 to 2.0).
	Temperature float64 `json:"temperature,omitempty" validate:"gte=0,lte=2"`

	// MaxTokens limits the response length.
	MaxTokens int `json:"max_tokens,omitempty" validate:"gte=0"`

	// TraceID correlates the request across systems.
	TraceID string `json:"trace_id,omitempty"`
}

// RequestEnvelope is one content-generation request as handed to the
// orchestrator by an already-authenticated caller. It is consumed once and
// never persisted.
type RequestEnvelope struct {
	RequestID    uuid.UUID
	UserID       string      `validate:"required"`
	Service      ServiceType `validate:"required,oneof=quiz_generation lesson_summary flashcard_generation"`
	Prompt       string      `validate:"required,notblank"`
	SystemPrompt string
	Options      GenerationOptions

	// Deadline bounds the whole orchestration including retries and
	// fallbacks. Zero means no deadline beyond the caller's context.
	Deadline time.Time
}

// GenerationResult is the orchestrator's answer to a request, whether served
// from a provider or from the response cache.
type GenerationResult struct {
	RequestID    uuid.UUID     `json:"request_id"`
	Content      string        `json:"content"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	TokensUsed   int           `json:"tokens_used"`
	CostEstimate float64       `json:"cost_estimate"`
	Score        int           `json:"score"`
	CacheHit     bool          `json:"cache_hit"`
	Latency      time.Duration `json:"latency"`
	CreatedAt    time.Time     `json:"created_at"`
}
