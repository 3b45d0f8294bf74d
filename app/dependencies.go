// Package app is the central wiring point for dependency injection. Every
// collaborator is constructed here and passed by reference; nothing in the
// tree reaches for a process-global.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/studyloop/ai-orchestrator/config"
	"github.com/studyloop/ai-orchestrator/internal/observability"
	"github.com/studyloop/ai-orchestrator/models"
	"github.com/studyloop/ai-orchestrator/services/cache"
	"github.com/studyloop/ai-orchestrator/services/orchestrator"
	"github.com/studyloop/ai-orchestrator/services/providers"
	"github.com/studyloop/ai-orchestrator/services/providers/anthropic"
	"github.com/studyloop/ai-orchestrator/services/providers/gemini"
	"github.com/studyloop/ai-orchestrator/services/providers/openai"
	"github.com/studyloop/ai-orchestrator/services/ratelimit"
	"github.com/studyloop/ai-orchestrator/services/resilience"
	"github.com/studyloop/ai-orchestrator/services/validation"
)

// Dependencies holds all application dependencies.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sql.DB

	Registry     *providers.Registry
	Breakers     *resilience.BreakerGroup
	Retrier      *resilience.Retrier
	Limiter      *ratelimit.Service
	Cache        *cache.Service
	CacheStore   cache.Store
	Validator    validation.Validator
	Events       observability.EventSink
	Orchestrator *orchestrator.Service
}

// Option overrides a dependency before wiring completes.
type Option func(*Dependencies)

// WithValidator substitutes the content validator. Deployments plug in their
// own scoring capability here.
func WithValidator(v validation.Validator) Option {
	return func(d *Dependencies) { d.Validator = v }
}

// WithEventSink substitutes the per-request event sink.
func WithEventSink(sink observability.EventSink) Option {
	return func(d *Dependencies) { d.Events = sink }
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Validator: defaultValidator(),
		Events:    observability.NewLogSink(logger),
	}
	for _, opt := range opts {
		opt(deps)
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := deps.initLimiter(cfg); err != nil {
		deps.DB.Close()
		return nil, fmt.Errorf("failed to initialize usage ledger: %w", err)
	}
	if err := deps.initCache(cfg); err != nil {
		deps.DB.Close()
		return nil, fmt.Errorf("failed to initialize response cache: %w", err)
	}
	if err := deps.initProviders(ctx, cfg); err != nil {
		deps.DB.Close()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	deps.initResilience(cfg)

	deps.Orchestrator = orchestrator.NewService(
		deps.Registry,
		deps.Breakers,
		deps.Retrier,
		deps.Limiter,
		deps.Cache,
		deps.Validator,
		deps.Events,
		logger,
	)

	logger.Info("all dependencies initialized",
		zap.Strings("providers", deps.Registry.Providers()),
		zap.String("cache_backend", cfg.Cache.Backend))
	return deps, nil
}

// Close releases held resources.
func (d *Dependencies) Close() error {
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}

func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := sql.Open("sqlite", cfg.Database.Path)
	if err != nil {
		return err
	}
	// modernc.org/sqlite serializes writes itself; a second writer connection
	// would only contend for the file lock.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	d.DB = db
	return nil
}

func (d *Dependencies) initLimiter(cfg *config.Config) error {
	limits := make(map[models.ServiceType]ratelimit.Limits)
	for _, service := range models.ServiceTypes() {
		limits[service] = ratelimit.Limits{
			HourlyRequests:    cfg.Limits.Default.HourlyRequests,
			MonthlyRequests:   cfg.Limits.Default.MonthlyRequests,
			MonthlyCostBudget: cfg.Limits.Default.MonthlyCostBudget,
		}
	}
	for name, override := range cfg.Limits.Services {
		limits[models.ServiceType(name)] = ratelimit.Limits{
			HourlyRequests:    override.HourlyRequests,
			MonthlyRequests:   override.MonthlyRequests,
			MonthlyCostBudget: override.MonthlyCostBudget,
		}
	}

	limiter, err := ratelimit.NewService(d.DB, limits, d.Logger)
	if err != nil {
		return err
	}
	d.Limiter = limiter
	return nil
}

func (d *Dependencies) initCache(cfg *config.Config) error {
	var store cache.Store
	switch cfg.Cache.Backend {
	case "memory":
		store = cache.NewMemoryStore(cfg.Cache.MaxMemoryEntries)
	case "sqlite":
		s, err := cache.NewSQLiteStore(d.DB)
		if err != nil {
			return err
		}
		store = s
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	cacheCfg := cache.Config{MinScore: cfg.Cache.MinScore}
	for _, band := range cfg.Cache.Bands {
		cacheCfg.Bands = append(cacheCfg.Bands, cache.TTLBand{
			MinScore: band.MinScore,
			TTL:      band.TTL,
		})
	}

	svc, err := cache.NewService(store, cacheCfg, d.Logger)
	if err != nil {
		return err
	}
	d.Cache = svc
	d.CacheStore = store
	return nil
}

func (d *Dependencies) initProviders(ctx context.Context, cfg *config.Config) error {
	registry := providers.NewRegistry()

	registry.RegisterConstructor("openai", func(pc providers.ProviderConfig) (providers.Provider, error) {
		return openai.New(pc), nil
	})
	registry.RegisterConstructor("anthropic", func(pc providers.ProviderConfig) (providers.Provider, error) {
		return anthropic.New(pc), nil
	})
	registry.RegisterConstructor("gemini", func(pc providers.ProviderConfig) (providers.Provider, error) {
		return gemini.New(ctx, pc)
	})

	for name, pc := range map[string]config.ProviderConfig{
		"openai":    cfg.Providers.OpenAI,
		"anthropic": cfg.Providers.Anthropic,
		"gemini":    cfg.Providers.Gemini,
	} {
		if !pc.Enabled {
			continue
		}
		provider, err := registry.Construct(name, providers.ProviderConfig{
			APIKey:      pc.APIKey,
			BaseURL:     pc.BaseURL,
			Model:       pc.Model,
			Temperature: pc.Temperature,
			MaxTokens:   pc.MaxTokens,
			Timeout:     pc.Timeout,
		})
		if err != nil {
			return err
		}
		if err := provider.ValidateConfig(); err != nil {
			return fmt.Errorf("provider %s misconfigured: %w", name, err)
		}
	}

	for service, chain := range cfg.Chains {
		if err := registry.SetChain(models.ServiceType(service), chain); err != nil {
			return err
		}
	}

	d.Registry = registry
	return nil
}

func (d *Dependencies) initResilience(cfg *config.Config) {
	d.Breakers = resilience.NewBreakerGroup(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		CooldownGrowth:   cfg.Breaker.CooldownGrowth,
		MaxCooldown:      cfg.Breaker.MaxCooldown,
	}, d.Logger)

	d.Retrier = resilience.NewRetrier(resilience.RetryConfig{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseDelay:         cfg.Retry.BaseDelay,
		Multiplier:        cfg.Retry.Multiplier,
		MaxDelay:          cfg.Retry.MaxDelay,
		Jitter:            cfg.Retry.Jitter,
		PerAttemptTimeout: cfg.Retry.PerAttemptTimeout,
	}, d.Logger)
}

// defaultValidator accepts any non-blank response with a mid-range score.
// Real deployments inject a scoring capability through WithValidator.
func defaultValidator() validation.Validator {
	return validation.ValidatorFunc(func(_ context.Context, content string) (validation.Result, error) {
		if strings.TrimSpace(content) == "" {
			return validation.Result{Score: 0, Passed: false, Issues: []string{"empty content"}}, nil
		}
		return validation.Result{Score: 75, Passed: true}, nil
	})
}
