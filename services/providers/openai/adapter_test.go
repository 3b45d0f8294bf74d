package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/ai-orchestrator/services/providers"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(providers.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})
}

func completionJSON() map[string]interface{} {
	return map[string]interface{}{
		"id":    "chatcmpl-123",
		"model": "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": "generated text",
				},
			},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     10,
			"completion_tokens": 20,
			"total_tokens":      30,
		},
	}
}

func TestGenerateTextSuccess(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionJSON())
	})

	resp, err := adapter.GenerateText(context.Background(), &providers.GenerateRequest{
		Prompt:       "explain photosynthesis",
		SystemPrompt: "you are a tutor",
	})
	require.NoError(t, err)

	assert.Equal(t, "generated text", resp.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, 30, resp.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Greater(t, resp.CostEstimate, 0.0)
}

func TestGenerateTextStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   providers.ErrorKind
	}{
		{http.StatusTooManyRequests, providers.ErrKindRateLimited},
		{http.StatusBadRequest, providers.ErrKindInvalidRequest},
		{http.StatusInternalServerError, providers.ErrKindUnavailable},
	}

	for _, tt := range tests {
		adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"api_error"}}`))
		})

		_, err := adapter.GenerateText(context.Background(), &providers.GenerateRequest{Prompt: "p"})
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.kind, providers.KindOf(err), "status %d", tt.status)
	}
}

func TestGenerateTextTransportFailure(t *testing.T) {
	adapter := New(providers.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: "http://127.0.0.1:1",
		Timeout: time.Second,
	})

	_, err := adapter.GenerateText(context.Background(), &providers.GenerateRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, providers.ErrKindUnavailable, providers.KindOf(err))
}

func TestEstimateCost(t *testing.T) {
	adapter := New(providers.ProviderConfig{APIKey: "k"})

	assert.InDelta(t, 0.00045, adapter.EstimateCost("gpt-4o-mini", 1000), 1e-9)
	assert.InDelta(t, 0.01500, adapter.EstimateCost("gpt-4o", 2000), 1e-9)
	// Unknown models fall back to the default model's price.
	assert.InDelta(t, 0.00045, adapter.EstimateCost("gpt-99", 1000), 1e-9)
}

func TestValidateConfig(t *testing.T) {
	assert.Error(t, New(providers.ProviderConfig{}).ValidateConfig())
	assert.NoError(t, New(providers.ProviderConfig{APIKey: "k"}).ValidateConfig())
}
