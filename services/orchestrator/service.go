package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studyloop/ai-orchestrator/internal/observability"
	"github.com/studyloop/ai-orchestrator/models"
	"github.com/studyloop/ai-orchestrator/services"
	"github.com/studyloop/ai-orchestrator/services/cache"
	"github.com/studyloop/ai-orchestrator/services/providers"
	"github.com/studyloop/ai-orchestrator/services/ratelimit"
	"github.com/studyloop/ai-orchestrator/services/resilience"
	"github.com/studyloop/ai-orchestrator/services/validation"
	"github.com/studyloop/ai-orchestrator/utils"
)

// Service is the orchestration façade. On each request it consults the rate
// limiter, checks the response cache, and otherwise walks the provider
// fallback chain through the circuit breaker and retry policy, validating and
// caching the winning response and charging the usage ledger.
//
// All collaborators are constructed once at process start and shared by
// reference across concurrent requests.
type Service struct {
	registry  *providers.Registry
	breakers  *resilience.BreakerGroup
	retrier   *resilience.Retrier
	limiter   *ratelimit.Service
	cache     *cache.Service
	validator validation.Validator
	events    observability.EventSink
	logger    *zap.Logger
}

// NewService wires the orchestrator from its collaborators.
func NewService(
	registry *providers.Registry,
	breakers *resilience.BreakerGroup,
	retrier *resilience.Retrier,
	limiter *ratelimit.Service,
	responseCache *cache.Service,
	validator validation.Validator,
	events observability.EventSink,
	logger *zap.Logger,
) *Service {
	return &Service{
		registry:  registry,
		breakers:  breakers,
		retrier:   retrier,
		limiter:   limiter,
		cache:     responseCache,
		validator: validator,
		events:    events,
		logger:    logger,
	}
}

// Generate runs one content-generation request end to end.
//
// Admission runs before the cache lookup so an over-budget user is rejected
// cheaply even for a prompt that would have hit the cache; the cache runs
// before provider dispatch so repeat prompts cost nothing regardless of
// circuit state. Callers see only the admission rejections and the two
// terminal kinds; per-provider noise is absorbed by the fallback loop.
func (s *Service) Generate(ctx context.Context, env *models.RequestEnvelope) (*models.GenerationResult, error) {
	start := time.Now()
	if env.RequestID == uuid.Nil {
		env.RequestID = uuid.New()
	}

	if err := validateEnvelope(env); err != nil {
		s.emit(ctx, env, "", false, 0, start, "invalid_request", err)
		return nil, err
	}

	if !env.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, env.Deadline)
		defer cancel()
	}

	// Step 1: admission. No provider is ever contacted for a rejected user,
	// and rejection does not touch the ledger.
	decision, err := s.limiter.Admit(ctx, env.UserID, env.Service)
	if err != nil {
		wrapped := services.NewInternalError("failed to check usage limits", err)
		s.emit(ctx, env, "", false, 0, start, "internal_error", wrapped)
		return nil, wrapped
	}
	if !decision.Allowed {
		rejection := s.admissionError(decision)
		s.emit(ctx, env, "", false, 0, start, string(decision.Reason), rejection)
		return nil, rejection
	}

	// Step 2: cache lookup.
	key := cache.Key(env.Service, env.Prompt, env.SystemPrompt, env.Options)
	if entry, found, cerr := s.cache.Lookup(ctx, key); cerr != nil {
		s.logger.Warn("cache lookup failed, continuing to providers",
			zap.String("request_id", env.RequestID.String()),
			zap.Error(cerr))
	} else if found {
		result := resultFromCache(env, entry, time.Since(start))
		s.emit(ctx, env, entry.Provider, true, 0, start, "cache_hit", nil)
		return result, nil
	}

	// Step 3: walk the fallback chain.
	chain, err := s.registry.Resolve(env.Service)
	if err != nil {
		s.emit(ctx, env, "", false, 0, start, "configuration_error", err)
		return nil, err
	}

	var lastErr error
	attempted := 0
	for _, provider := range chain {
		name := provider.Name()

		// A disallowed provider is skipped, not counted as exhaustion.
		if !s.breakers.Allow(name) {
			s.logger.Debug("skipping provider with open circuit",
				zap.String("request_id", env.RequestID.String()),
				zap.String("provider", name))
			continue
		}
		attempted++

		resp, callErr := s.callProvider(ctx, provider, env)
		if callErr == nil {
			result := s.finishSuccess(ctx, env, key, resp, start, attempted)
			return result, nil
		}
		lastErr = callErr

		if providers.KindOf(callErr) == providers.ErrKindInvalidRequest {
			// Would fail identically against every provider; trying the
			// next one wastes a call and a retry budget.
			wrapped := services.NewInvalidRequestError("provider rejected the request", callErr)
			s.emit(ctx, env, name, false, attempted, start, "invalid_request", wrapped)
			return nil, wrapped
		}
		if ctx.Err() != nil {
			wrapped := services.NewDeadlineExceededError("request deadline exceeded during provider dispatch", callErr)
			s.emit(ctx, env, name, false, attempted, start, "deadline_exceeded", wrapped)
			return nil, wrapped
		}

		s.logger.Warn("provider exhausted, advancing to next in chain",
			zap.String("request_id", env.RequestID.String()),
			zap.String("provider", name),
			zap.Error(callErr))
	}

	if ctx.Err() != nil {
		wrapped := services.NewDeadlineExceededError("request deadline exceeded before any provider succeeded", lastErr)
		s.emit(ctx, env, "", false, attempted, start, "deadline_exceeded", wrapped)
		return nil, wrapped
	}

	wrapped := services.NewAllProvidersUnavailableError("all providers in the fallback chain are unavailable", lastErr)
	s.emit(ctx, env, "", false, attempted, start, "all_providers_unavailable", wrapped)
	return nil, wrapped
}

// callProvider runs one provider through the retry policy, reporting each
// attempt's outcome to the provider's circuit breaker.
func (s *Service) callProvider(ctx context.Context, provider providers.Provider, env *models.RequestEnvelope) (*providers.GenerateResponse, error) {
	name := provider.Name()
	req := &providers.GenerateRequest{
		Prompt:       env.Prompt,
		SystemPrompt: env.SystemPrompt,
		Model:        env.Options.Model,
		Temperature:  env.Options.Temperature,
		MaxTokens:    env.Options.MaxTokens,
		User:         env.UserID,
	}

	var resp *providers.GenerateResponse
	err := s.retrier.Execute(ctx, func(attemptCtx context.Context) error {
		r, callErr := provider.GenerateText(attemptCtx, req)
		if callErr != nil {
			if providers.CountsAsBreakerFailure(callErr) {
				s.breakers.RecordFailure(name)
			} else {
				// Neither success nor provider failure; if this attempt was
				// the half-open probe, the slot must be freed or the breaker
				// never recovers.
				s.breakers.ReleaseProbe(name)
			}
			return callErr
		}
		s.breakers.RecordSuccess(name)
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// finishSuccess validates, caches, and records a winning response.
func (s *Service) finishSuccess(ctx context.Context, env *models.RequestEnvelope, key string, resp *providers.GenerateResponse, start time.Time, attempted int) *models.GenerationResult {
	score := 0
	vres, err := s.validator.Validate(ctx, resp.Content)
	if err != nil {
		s.logger.Warn("content validation failed, response will not be cached",
			zap.String("request_id", env.RequestID.String()),
			zap.Error(err))
	} else {
		score = vres.Score
		if len(vres.Issues) > 0 {
			s.logger.Warn("content validation issues",
				zap.String("request_id", env.RequestID.String()),
				zap.Strings("issues", vres.Issues))
		}
		if cerr := s.cache.Store(ctx, key, models.CacheEntry{
			Content:      resp.Content,
			Score:        score,
			Provider:     resp.Provider,
			Model:        resp.Model,
			TokensUsed:   resp.TotalTokens,
			CostEstimate: resp.CostEstimate,
		}); cerr != nil {
			s.logger.Error("failed to cache response", zap.Error(cerr))
		}
	}

	if rerr := s.limiter.Record(ctx, env.UserID, env.Service, resp.CostEstimate); rerr != nil {
		// The generation already succeeded; losing one ledger increment is
		// preferable to failing the request.
		s.logger.Error("failed to record usage",
			zap.String("request_id", env.RequestID.String()),
			zap.Error(rerr))
	}

	s.emit(ctx, env, resp.Provider, false, attempted, start, "success", nil)

	return &models.GenerationResult{
		RequestID:    env.RequestID,
		Content:      resp.Content,
		Provider:     resp.Provider,
		Model:        resp.Model,
		TokensUsed:   resp.TotalTokens,
		CostEstimate: resp.CostEstimate,
		Score:        score,
		CacheHit:     false,
		Latency:      time.Since(start),
		CreatedAt:    time.Now(),
	}
}

func (s *Service) admissionError(decision *ratelimit.Decision) error {
	switch decision.Reason {
	case ratelimit.ReasonBudgetExceeded:
		return services.NewBudgetError(decision.Detail).
			WithDetail("retry_after", decision.RetryAfter)
	default:
		return services.NewRateLimitError(decision.Detail).
			WithDetail("retry_after", decision.RetryAfter)
	}
}

func (s *Service) emit(ctx context.Context, env *models.RequestEnvelope, provider string, cacheHit bool, attempts int, start time.Time, outcome string, err error) {
	ev := observability.RequestEvent{
		RequestID: env.RequestID.String(),
		UserID:    env.UserID,
		Service:   string(env.Service),
		Provider:  provider,
		Model:     env.Options.Model,
		CacheHit:  cacheHit,
		Attempts:  attempts,
		Latency:   time.Since(start),
		Outcome:   outcome,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.events.Emit(ctx, ev)
}

func resultFromCache(env *models.RequestEnvelope, entry *models.CacheEntry, latency time.Duration) *models.GenerationResult {
	return &models.GenerationResult{
		RequestID:    env.RequestID,
		Content:      entry.Content,
		Provider:     entry.Provider,
		Model:        entry.Model,
		TokensUsed:   entry.TokensUsed,
		CostEstimate: entry.CostEstimate,
		Score:        entry.Score,
		CacheHit:     true,
		Latency:      latency,
		CreatedAt:    time.Now(),
	}
}

func validateEnvelope(env *models.RequestEnvelope) error {
	if err := utils.ValidateStruct(env); err != nil {
		derr := services.NewInvalidRequestError("invalid request envelope", err)
		for field, msg := range utils.GetValidationFields(err) {
			derr.WithDetail(field, msg)
		}
		return derr
	}
	return nil
}
