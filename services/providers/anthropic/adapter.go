// Package anthropic adapts the Anthropic Messages API to the provider
// interface. Anthropic publishes no official Go SDK, so the adapter speaks
// the wire format directly.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/studyloop/ai-orchestrator/services/providers"
)

const (
	providerName   = "anthropic"
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// DefaultModel is used when the request does not name a model.
const DefaultModel = "claude-3-5-haiku-latest"

// costPer1KTokens holds blended USD prices per 1000 tokens.
var costPer1KTokens = map[string]float64{
	"claude-3-5-sonnet-latest": 0.00900,
	"claude-3-5-haiku-latest":  0.00240,
	"claude-3-opus-latest":     0.04500,
}

// Adapter calls the Anthropic Messages API over plain HTTP. No retries happen
// here; the orchestration layer owns the retry policy.
type Adapter struct {
	cfg        providers.ProviderConfig
	httpClient *http.Client
}

// New builds an Anthropic adapter from the given configuration.
func New(cfg providers.ProviderConfig) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Adapter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
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
	wireReq := a.buildRequest(req)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, providers.NewProviderError(providerName, providers.ErrKindInvalidRequest,
			"failed to encode request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.cfg.BaseURL, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(providerName, providers.ErrKindInvalidRequest,
			"failed to build request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	start := time.Now()
	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if kind, ok := providers.ClassifyContextError(err); ok {
			return nil, providers.NewProviderError(providerName, kind,
				"request cancelled or timed out", 0, err)
		}
		return nil, providers.NewProviderError(providerName, providers.ErrKindUnavailable,
			"transport failure", 0, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(providerName, providers.ErrKindUnavailable,
			"failed to read response", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var wireResp messageResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, providers.NewProviderError(providerName, providers.ErrKindUnknown,
			"failed to decode response", httpResp.StatusCode, err)
	}

	return a.convertResponse(&wireResp, time.Since(start)), nil
}

// EstimateCost implements providers.Provider.
func (a *Adapter) EstimateCost(model string, tokens int) float64 {
	price, ok := costPer1KTokens[model]
	if !ok {
		price = costPer1KTokens[DefaultModel]
	}
	return float64(tokens) / 1000.0 * price
}

func (a *Adapter) buildRequest(req *providers.GenerateRequest) *messageRequest {
	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxTokens
	}

	wireReq := &messageRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
		Messages: []message{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.Temperature > 0 {
		wireReq.Temperature = &req.Temperature
	} else if a.cfg.Temperature > 0 {
		wireReq.Temperature = &a.cfg.Temperature
	}
	if req.User != "" {
		wireReq.Metadata = &metadata{UserID: req.User}
	}
	return wireReq
}

func (a *Adapter) convertResponse(wireResp *messageResponse, latency time.Duration) *providers.GenerateResponse {
	var content strings.Builder
	for _, block := range wireResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	totalTokens := wireResp.Usage.InputTokens + wireResp.Usage.OutputTokens
	return &providers.GenerateResponse{
		Content:          content.String(),
		Model:            wireResp.Model,
		Provider:         providerName,
		PromptTokens:     wireResp.Usage.InputTokens,
		CompletionTokens: wireResp.Usage.OutputTokens,
		TotalTokens:      totalTokens,
		CostEstimate:     a.EstimateCost(wireResp.Model, totalTokens),
		FinishReason:     wireResp.StopReason,
		Latency:          latency,
	}
}

func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	msg := "messages call failed"
	var wireErr errorResponse
	if err := json.Unmarshal(body, &wireErr); err == nil && wireErr.Error.Message != "" {
		msg = wireErr.Error.Message
	}
	return providers.NewProviderError(providerName, providers.ClassifyStatus(statusCode), msg, statusCode, nil)
}

// Anthropic wire types.

type messageRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	Metadata    *metadata `json:"metadata,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type metadata struct {
	UserID string `json:"user_id"`
}

type messageResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []contentBlock `json:"content"`
	Usage      usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
