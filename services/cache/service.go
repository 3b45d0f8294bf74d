package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/studyloop/ai-orchestrator/models"
)

// TTLBand maps a minimum quality score to a time-to-live. Bands must be
// monotonic: a higher score never gets a shorter TTL.
type TTLBand struct {
	MinScore int
	TTL      time.Duration
}

// Config tunes the response cache policy.
type Config struct {
	// MinScore is the acceptance floor. Responses scoring below it are
	// never written; a Store call for them is a no-op, not an error.
	MinScore int

	// Bands pick the TTL from the score. Evaluated highest MinScore first.
	Bands []TTLBand
}

// DefaultConfig mirrors the production policy: scores of 80 and above cache
// for two hours, 70 and above for thirty minutes, anything below 70 is not
// cached at all.
func DefaultConfig() Config {
	return Config{
		MinScore: 70,
		Bands: []TTLBand{
			{MinScore: 80, TTL: 2 * time.Hour},
			{MinScore: 70, TTL: 30 * time.Minute},
		},
	}
}

// Validate checks that bands are usable and monotonic.
func (c Config) Validate() error {
	bands := c.sortedBands()
	for i := 1; i < len(bands); i++ {
		// Sorted descending by MinScore; TTLs must not increase as the
		// score floor drops.
		if bands[i].TTL > bands[i-1].TTL {
			return fmt.Errorf("cache TTL bands not monotonic: score >= %d gets %s but score >= %d gets %s",
				bands[i].MinScore, bands[i].TTL, bands[i-1].MinScore, bands[i-1].TTL)
		}
	}
	return nil
}

func (c Config) sortedBands() []TTLBand {
	bands := make([]TTLBand, len(c.Bands))
	copy(bands, c.Bands)
	sort.Slice(bands, func(i, j int) bool { return bands[i].MinScore > bands[j].MinScore })
	return bands
}

// TTLFor returns the TTL for a score, or zero when the score does not qualify
// for caching.
func (c Config) TTLFor(score int) time.Duration {
	if score < c.MinScore {
		return 0
	}
	for _, band := range c.sortedBands() {
		if score >= band.MinScore {
			return band.TTL
		}
	}
	return 0
}

// Service is the quality-aware response cache. Keys are derived from the
// service type, the canonicalized prompt, and only the options that affect
// output determinism; TTLs are fixed at write time from the quality score.
type Service struct {
	store  Store
	cfg    Config
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time
}

// NewService creates a response cache over the given store.
func NewService(store Store, cfg Config, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// keyMaterial is the canonical serialization hashed into a cache key. Only
// determinism-relevant fields appear here: adding a field that varies per
// request (trace IDs, user IDs) would collapse the hit rate to zero.
type keyMaterial struct {
	Service          string `json:"service"`
	Prompt           string `json:"prompt"`
	SystemPrompt     string `json:"system_prompt"`
	Model            string `json:"model"`
	TemperatureClass string `json:"temperature_class"`
}

// Key derives the cache key for a request.
func Key(service models.ServiceType, prompt, systemPrompt string, opts models.GenerationOptions) string {
	material := keyMaterial{
		Service:          string(service),
		Prompt:           canonicalizePrompt(prompt),
		SystemPrompt:     canonicalizePrompt(systemPrompt),
		Model:            opts.Model,
		TemperatureClass: temperatureClass(opts.Temperature),
	}
	data, _ := json.Marshal(material)
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// canonicalizePrompt trims, folds runs of whitespace, and lowercases so that
// semantically equal prompts share a key.
func canonicalizePrompt(prompt string) string {
	return strings.ToLower(strings.Join(strings.Fields(prompt), " "))
}

// temperatureClass buckets the temperature into coarse determinism classes.
// Exact float values would split near-identical requests across keys.
func temperatureClass(t float64) string {
	switch {
	case t <= 0.2:
		return "deterministic"
	case t <= 0.8:
		return "balanced"
	default:
		return "creative"
	}
}

// Lookup returns the entry for key, treating expired entries as absent.
func (s *Service) Lookup(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	data, found, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if !found {
		s.misses.Add(1)
		return nil, false, nil
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is a miss, not a failure.
		s.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = s.store.Delete(ctx, key)
		s.misses.Add(1)
		return nil, false, nil
	}

	if entry.Expired(s.now()) {
		_ = s.store.Delete(ctx, key)
		s.misses.Add(1)
		return nil, false, nil
	}

	s.hits.Add(1)
	return &entry, true, nil
}

// Store writes a validated response under key. Responses scoring below the
// acceptance floor are silently not cached; the TTL is chosen from the score
// and fixed for the entry's lifetime.
func (s *Service) Store(ctx context.Context, key string, entry models.CacheEntry) error {
	ttl := s.cfg.TTLFor(entry.Score)
	if ttl == 0 {
		s.logger.Debug("response below cache threshold, not cached",
			zap.Int("score", entry.Score),
			zap.Int("min_score", s.cfg.MinScore))
		return nil
	}

	entry.InsertedAt = s.now()
	entry.TTL = ttl

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.store.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Stats returns hit/miss counters.
func (s *Service) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}
