// Package gemini adapts the Google Gemini API to the provider interface.
package gemini

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"

	"github.com/studyloop/ai-orchestrator/services/providers"
)

const providerName = "gemini"

// DefaultModel is used when the request does not name a model.
const DefaultModel = "gemini-2.0-flash"

// costPer1KTokens holds blended USD prices per 1000 tokens.
var costPer1KTokens = map[string]float64{
	"gemini-2.0-flash":      0.00025,
	"gemini-2.0-flash-lite": 0.00013,
	"gemini-1.5-pro":        0.00375,
}

// Adapter calls Gemini through the official genai SDK.
type Adapter struct {
	client *genai.Client
	cfg    providers.ProviderConfig
}

// New builds a Gemini adapter. Client construction performs no network I/O,
// but the SDK still validates its configuration shape.
func New(ctx context.Context, cfg providers.ProviderConfig) (*Adapter, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, providers.NewProviderError(providerName, providers.ErrKindInvalidRequest,
			"failed to construct client", 0, err)
	}
	return &Adapter{client: client, cfg: cfg}, nil
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

	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}

	start := time.Now()
	resp, err := a.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		return nil, a.classify(err)
	}

	content := resp.Text()
	if content == "" {
		return nil, providers.NewProviderError(providerName, providers.ErrKindUnknown,
			"response contained no text", 0, nil)
	}

	var promptTokens, completionTokens, totalTokens int
	if resp.UsageMetadata != nil {
		promptTokens = int(resp.UsageMetadata.PromptTokenCount)
		completionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		totalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	finishReason := ""
	if len(resp.Candidates) > 0 {
		finishReason = string(resp.Candidates[0].FinishReason)
	}

	return &providers.GenerateResponse{
		Content:          content,
		Model:            model,
		Provider:         providerName,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
		CostEstimate:     a.EstimateCost(model, totalTokens),
		FinishReason:     finishReason,
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
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.NewProviderError(providerName,
			providers.ClassifyStatus(apiErr.Code),
			"generate content failed", apiErr.Code, err)
	}
	return providers.NewProviderError(providerName, providers.ErrKindUnavailable,
		"generate content transport failure", 0, err)
}
