// Package openai adapts the OpenAI chat completions API to the provider
// interface.
package openai

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/studyloop/ai-orchestrator/services/providers"
)

const providerName = "openai"

// DefaultModel is used when the request does not name a model.
const DefaultModel = "gpt-4o-mini"

// costPer1KTokens holds blended USD prices per 1000 tokens. Unknown models
// fall back to the default model's price rather than estimating zero.
var costPer1KTokens = map[string]float64{
	"gpt-4o":        0.00750,
	"gpt-4o-mini":   0.00045,
	"gpt-4-turbo":   0.02000,
	"gpt-3.5-turbo": 0.00100,
}

// Adapter calls OpenAI through the official SDK. SDK-level retries are
// disabled; the orchestration layer owns the retry policy.
type Adapter struct {
	client openai.Client
	cfg    providers.ProviderConfig
}

// New builds an OpenAI adapter from the given configuration.
func New(cfg providers.ProviderConfig) *Adapter {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Adapter{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}
}

// Name implements providers.Provider.
func (a *Adapter) Name() string { return providerName }

// ValidateConfig implements providers.Provider.
func (a *Adapter) ValidateConfig() error {
	if a.cfg.APIKey == "" {
		return providers.NewProviderError(providerName, providers.ErrKindInvalidRequest,
			"api key is not configured", 0, nil)
	}
	return nil
}

// GenerateText implements providers.Provider.
func (a *Adapter) GenerateText(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = a.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}
	if req.User != "" {
		params.User = openai.String(req.User)
	}

	start := time.Now()
	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, providers.NewProviderError(providerName, providers.ErrKindUnknown,
			"response contained no choices", 0, nil)
	}

	choice := completion.Choices[0]
	totalTokens := int(completion.Usage.TotalTokens)
	return &providers.GenerateResponse{
		Content:          choice.Message.Content,
		Model:            completion.Model,
		Provider:         providerName,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      totalTokens,
		CostEstimate:     a.EstimateCost(completion.Model, totalTokens),
		FinishReason:     string(choice.FinishReason),
		Latency:          time.Since(start),
	}, nil
}

// EstimateCost implements providers.Provider.
func (a *Adapter) EstimateCost(model string, tokens int) float64 {
	price, ok := costPer1KTokens[model]
	if !ok {
		price = costPer1KTokens[DefaultModel]
	}
	return float64(tokens) / 1000.0 * price
}

func (a *Adapter) classify(err error) error {
	if kind, ok := providers.ClassifyContextError(err); ok {
		return providers.NewProviderError(providerName, kind, "request cancelled or timed out", 0, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return providers.NewProviderError(providerName,
			providers.ClassifyStatus(apiErr.StatusCode),
			"chat completion failed", apiErr.StatusCode, err)
	}
	// Transport-level failures (DNS, connection reset) with no HTTP status.
	return providers.NewProviderError(providerName, providers.ErrKindUnavailable,
		"chat completion transport failure", 0, err)
}
