package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/ai-orchestrator/models"
	"github.com/studyloop/ai-orchestrator/services"
)

// fakeProvider is a minimal Provider for registry tests.
type fakeProvider struct {
	name string
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) GenerateText(context.Context, *GenerateRequest) (*GenerateResponse, error) {
	return &GenerateResponse{Content: "ok", Provider: f.name}, nil
}
func (f *fakeProvider) EstimateCost(string, int) float64 { return 0 }
func (f *fakeProvider) ValidateConfig() error            { return nil }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&fakeProvider{name: "openai"}))

	p, err := r.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&fakeProvider{name: "openai"}))
	err := r.Register(&fakeProvider{name: "openai"})
	assert.ErrorIs(t, err, ErrProviderAlreadyRegistered)
}

func TestRegistryConstruct(t *testing.T) {
	r := NewRegistry()
	r.RegisterConstructor("fake", func(cfg ProviderConfig) (Provider, error) {
		return &fakeProvider{name: "fake"}, nil
	})

	p, err := r.Construct("fake", ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "fake", p.Name())

	_, err = r.Construct("unknown", ProviderConfig{})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestRegistryResolveReturnsChainInOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeProvider{name: "openai"}))
	require.NoError(t, r.Register(&fakeProvider{name: "anthropic"}))
	require.NoError(t, r.SetChain(models.ServiceQuizGeneration, []string{"openai", "anthropic"}))

	chain, err := r.Resolve(models.ServiceQuizGeneration)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "openai", chain[0].Name())
	assert.Equal(t, "anthropic", chain[1].Name())
}

func TestRegistryResolveUnknownServiceIsConfigurationError(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve(models.ServiceLessonSummary)
	require.Error(t, err)
	assert.True(t, services.IsType(err, services.ErrorTypeConfiguration))
}

func TestRegistrySetChainValidatesProviders(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeProvider{name: "openai"}))

	err := r.SetChain(models.ServiceQuizGeneration, []string{"openai", "ghost"})
	require.Error(t, err)
	assert.True(t, services.IsType(err, services.ErrorTypeConfiguration))

	err = r.SetChain(models.ServiceQuizGeneration, nil)
	require.Error(t, err)
	assert.True(t, services.IsType(err, services.ErrorTypeConfiguration))
}

func TestRegistrySetChainCopiesInput(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeProvider{name: "openai"}))
	require.NoError(t, r.Register(&fakeProvider{name: "anthropic"}))

	names := []string{"openai", "anthropic"}
	require.NoError(t, r.SetChain(models.ServiceQuizGeneration, names))
	names[0] = "mutated"

	chain, err := r.Resolve(models.ServiceQuizGeneration)
	require.NoError(t, err)
	assert.Equal(t, "openai", chain[0].Name())
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    ErrorKind
		retry   bool
		breaker bool
	}{
		{"timeout", NewProviderError("p", ErrKindTimeout, "m", 0, nil), ErrKindTimeout, true, true},
		{"rate limited", NewProviderError("p", ErrKindRateLimited, "m", 429, nil), ErrKindRateLimited, true, true},
		{"unavailable", NewProviderError("p", ErrKindUnavailable, "m", 503, nil), ErrKindUnavailable, true, true},
		{"invalid request", NewProviderError("p", ErrKindInvalidRequest, "m", 400, nil), ErrKindInvalidRequest, false, false},
		{"canceled", NewProviderError("p", ErrKindCanceled, "m", 0, context.Canceled), ErrKindCanceled, false, false},
		{"unknown kind", NewProviderError("p", ErrKindUnknown, "m", 0, nil), ErrKindUnknown, false, true},
		{"unclassified error", errors.New("plain"), ErrKindUnknown, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.retry, IsRetryable(tt.err))
			assert.Equal(t, tt.breaker, CountsAsBreakerFailure(tt.err))
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{408, ErrKindTimeout},
		{504, ErrKindTimeout},
		{429, ErrKindRateLimited},
		{500, ErrKindUnavailable},
		{503, ErrKindUnavailable},
		{400, ErrKindInvalidRequest},
		{401, ErrKindInvalidRequest},
		{404, ErrKindInvalidRequest},
		{200, ErrKindUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, ClassifyStatus(tt.status), "status %d", tt.status)
	}
}

func TestClassifyContextError(t *testing.T) {
	kind, ok := ClassifyContextError(context.DeadlineExceeded)
	require.True(t, ok)
	assert.Equal(t, ErrKindTimeout, kind)

	// A caller abandoning the request is not evidence of provider unhealth;
	// a burst of aborts must not open a healthy provider's circuit.
	kind, ok = ClassifyContextError(context.Canceled)
	require.True(t, ok)
	assert.Equal(t, ErrKindCanceled, kind)
	assert.False(t, CountsAsBreakerFailure(NewProviderError("p", kind, "m", 0, context.Canceled)))

	_, ok = ClassifyContextError(errors.New("plain"))
	assert.False(t, ok)
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewProviderError("openai", ErrKindUnavailable, "transport failure", 0, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "openai")
	assert.Contains(t, err.Error(), "unavailable")
}
