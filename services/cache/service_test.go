package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studyloop/ai-orchestrator/models"
)

func newTestCache(t *testing.T, cfg Config) (*Service, *time.Time) {
	t.Helper()
	svc, err := NewService(NewMemoryStore(16), cfg, zap.NewNop())
	require.NoError(t, err)
	current := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }
	return svc, &current
}

func TestKeyNormalizesPromptWhitespaceAndCase(t *testing.T) {
	a := Key(models.ServiceQuizGeneration, "Explain  photosynthesis\n", "", models.GenerationOptions{})
	b := Key(models.ServiceQuizGeneration, "  explain PHOTOSYNTHESIS", "", models.GenerationOptions{})
	assert.Equal(t, a, b)
}

func TestKeyVariesByService(t *testing.T) {
	a := Key(models.ServiceQuizGeneration, "explain photosynthesis", "", models.GenerationOptions{})
	b := Key(models.ServiceLessonSummary, "explain photosynthesis", "", models.GenerationOptions{})
	assert.NotEqual(t, a, b)
}

func TestKeyVariesByModelAndSystemPrompt(t *testing.T) {
	base := models.GenerationOptions{}
	a := Key(models.ServiceQuizGeneration, "p", "", base)
	b := Key(models.ServiceQuizGeneration, "p", "", models.GenerationOptions{Model: "gpt-4o"})
	c := Key(models.ServiceQuizGeneration, "p", "you are a tutor", base)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestKeyIgnoresTraceID(t *testing.T) {
	a := Key(models.ServiceQuizGeneration, "p", "", models.GenerationOptions{TraceID: "trace-1"})
	b := Key(models.ServiceQuizGeneration, "p", "", models.GenerationOptions{TraceID: "trace-2"})
	assert.Equal(t, a, b)
}

func TestKeyGroupsTemperaturesIntoClasses(t *testing.T) {
	low := Key(models.ServiceQuizGeneration, "p", "", models.GenerationOptions{Temperature: 0.0})
	alsoLow := Key(models.ServiceQuizGeneration, "p", "", models.GenerationOptions{Temperature: 0.2})
	mid := Key(models.ServiceQuizGeneration, "p", "", models.GenerationOptions{Temperature: 0.7})
	high := Key(models.ServiceQuizGeneration, "p", "", models.GenerationOptions{Temperature: 1.2})

	assert.Equal(t, low, alsoLow)
	assert.NotEqual(t, low, mid)
	assert.NotEqual(t, mid, high)
}

func TestStoreAndLookupRoundTrip(t *testing.T) {
	svc, _ := newTestCache(t, DefaultConfig())
	ctx := context.Background()
	key := Key(models.ServiceQuizGeneration, "prompt", "", models.GenerationOptions{})

	require.NoError(t, svc.Store(ctx, key, models.CacheEntry{
		Content:  "a quiz",
		Score:    85,
		Provider: "openai",
		Model:    "gpt-4o-mini",
	}))

	entry, found, err := svc.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a quiz", entry.Content)
	assert.Equal(t, "openai", entry.Provider)
	assert.Equal(t, 2*time.Hour, entry.TTL)

	hits, misses := svc.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(0), misses)
}

func TestStoreBelowThresholdIsSilentNoop(t *testing.T) {
	svc, _ := newTestCache(t, DefaultConfig())
	ctx := context.Background()
	key := Key(models.ServiceQuizGeneration, "prompt", "", models.GenerationOptions{})

	require.NoError(t, svc.Store(ctx, key, models.CacheEntry{Content: "meh", Score: 69}))

	_, found, err := svc.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTTLBandSelection(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 2*time.Hour, cfg.TTLFor(100))
	assert.Equal(t, 2*time.Hour, cfg.TTLFor(80))
	assert.Equal(t, 30*time.Minute, cfg.TTLFor(79))
	assert.Equal(t, 30*time.Minute, cfg.TTLFor(70))
	assert.Equal(t, time.Duration(0), cfg.TTLFor(69))
}

func TestConfigRejectsNonMonotonicBands(t *testing.T) {
	cfg := Config{
		MinScore: 50,
		Bands: []TTLBand{
			{MinScore: 80, TTL: 10 * time.Minute},
			{MinScore: 50, TTL: time.Hour},
		},
	}
	assert.Error(t, cfg.Validate())
}

func TestLookupExpiredEntryIsMiss(t *testing.T) {
	svc, now := newTestCache(t, DefaultConfig())
	ctx := context.Background()
	key := Key(models.ServiceQuizGeneration, "prompt", "", models.GenerationOptions{})

	require.NoError(t, svc.Store(ctx, key, models.CacheEntry{Content: "x", Score: 72}))

	// Inside the 30 minute band: still a hit.
	*now = now.Add(29 * time.Minute)
	_, found, err := svc.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)

	*now = now.Add(2 * time.Minute)
	_, found, err = svc.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLookupDropsCorruptEntry(t *testing.T) {
	store := NewMemoryStore(16)
	svc, err := NewService(store, DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "bad-key", []byte("{not json"), time.Hour))

	_, found, err := svc.Lookup(ctx, "bad-key")
	require.NoError(t, err)
	assert.False(t, found)

	// The corrupt payload was deleted, not left to fail again.
	_, exists, err := store.Get(ctx, "bad-key")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Hour))

	// Touch "a" so "b" is the eviction candidate.
	_, _, err := store.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "c", []byte("3"), time.Hour))

	_, found, _ := store.Get(ctx, "a")
	assert.True(t, found)
	_, found, _ = store.Get(ctx, "b")
	assert.False(t, found)
	_, found, _ = store.Get(ctx, "c")
	assert.True(t, found)
}
