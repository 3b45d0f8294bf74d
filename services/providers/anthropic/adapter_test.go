package anthropic

import (
	"context"
	"encoding/json"
	"io"
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
		APIKey:    "test-key",
		BaseURL:   server.URL,
		Model:     "claude-3-5-haiku-latest",
		MaxTokens: 500,
		Timeout:   5 * time.Second,
	})
}

func successResponse() messageResponse {
	return messageResponse{
		ID:         "msg_123",
		Model:      "claude-3-5-haiku-latest",
		StopReason: "end_turn",
		Content:    []contentBlock{{Type: "text", Text: "generated text"}},
		Usage:      usage{InputTokens: 10, OutputTokens: 20},
	}
}

func TestGenerateTextSuccess(t *testing.T) {
	var gotReq messageRequest
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(successResponse())
	})

	resp, err := adapter.GenerateText(context.Background(), &providers.GenerateRequest{
		Prompt:       "explain photosynthesis",
		SystemPrompt: "you are a biology tutor",
		User:         "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "generated text", resp.Content)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, 30, resp.TotalTokens)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Greater(t, resp.CostEstimate, 0.0)

	// Wire request carries the configured defaults and the system prompt.
	assert.Equal(t, "claude-3-5-haiku-latest", gotReq.Model)
	assert.Equal(t, 500, gotReq.MaxTokens)
	assert.Equal(t, "you are a biology tutor", gotReq.System)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	require.NotNil(t, gotReq.Metadata)
	assert.Equal(t, "user-1", gotReq.Metadata.UserID)
}

func TestGenerateTextStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   providers.ErrorKind
	}{
		{http.StatusTooManyRequests, providers.ErrKindRateLimited},
		{http.StatusBadRequest, providers.ErrKindInvalidRequest},
		{http.StatusUnauthorized, providers.ErrKindInvalidRequest},
		{http.StatusInternalServerError, providers.ErrKindUnavailable},
		{529, providers.ErrKindUnavailable},
		{http.StatusGatewayTimeout, providers.ErrKindTimeout},
	}

	for _, tt := range tests {
		adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"vendor says no"}}`))
		})

		_, err := adapter.GenerateText(context.Background(), &providers.GenerateRequest{Prompt: "p"})
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.kind, providers.KindOf(err), "status %d", tt.status)
		assert.Contains(t, err.Error(), "vendor says no")
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

func TestGenerateTextContextCancelled(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client going away;
		// without this the handler never wakes and Close hangs the test.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := adapter.GenerateText(ctx, &providers.GenerateRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, providers.ErrKindTimeout, providers.KindOf(err))
}

func TestGenerateTextRequestOverridesDefaults(t *testing.T) {
	var gotReq messageRequest
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(successResponse())
	})

	_, err := adapter.GenerateText(context.Background(), &providers.GenerateRequest{
		Prompt:      "p",
		Model:       "claude-3-5-sonnet-latest",
		Temperature: 0.3,
		MaxTokens:   100,
	})
	require.NoError(t, err)

	assert.Equal(t, "claude-3-5-sonnet-latest", gotReq.Model)
	assert.Equal(t, 100, gotReq.MaxTokens)
	require.NotNil(t, gotReq.Temperature)
	assert.InDelta(t, 0.3, *gotReq.Temperature, 1e-9)
}

func TestEstimateCost(t *testing.T) {
	adapter := New(providers.ProviderConfig{APIKey: "k"})

	known := adapter.EstimateCost("claude-3-5-haiku-latest", 1000)
	assert.InDelta(t, 0.00240, known, 1e-9)

	// Unknown models fall back to the default model's price.
	unknown := adapter.EstimateCost("claude-99", 1000)
	assert.InDelta(t, known, unknown, 1e-9)
}

func TestValidateConfig(t *testing.T) {
	assert.Error(t, New(providers.ProviderConfig{}).ValidateConfig())
	assert.NoError(t, New(providers.ProviderConfig{APIKey: "k"}).ValidateConfig())
}
