package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/studyloop/ai-orchestrator/app"
	"github.com/studyloop/ai-orchestrator/models"
	"github.com/studyloop/ai-orchestrator/services"
	"github.com/studyloop/ai-orchestrator/utils"
)

func newRouter(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.Config.Server.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthHandler(deps))
	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", generateHandler(deps))
		r.Get("/usage", usageHandler(deps))
	})

	return r
}

type generateRequest struct {
	UserID       string  `json:"user_id" validate:"required"`
	Service      string  `json:"service" validate:"required"`
	Prompt       string  `json:"prompt" validate:"required,notblank"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty" validate:"gte=0,lte=2"`
	MaxTokens    int     `json:"max_tokens,omitempty" validate:"gte=0"`
	TraceID      string  `json:"trace_id,omitempty"`

	// TimeoutSeconds bounds the whole orchestration including retries.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" validate:"gte=0,lte=600"`
}

type errorResponse struct {
	Error   string                 `json:"error"`
	Type    string                 `json:"type"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func healthHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.DB.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func generateHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: "invalid JSON body",
				Type:  string(services.ErrorTypeInvalidRequest),
			})
			return
		}
		if err := utils.ValidateStruct(&req); err != nil {
			details := make(map[string]interface{})
			for field, msg := range utils.GetValidationFields(err) {
				details[field] = msg
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:   "validation failed",
				Type:    string(services.ErrorTypeInvalidRequest),
				Details: details,
			})
			return
		}

		env := &models.RequestEnvelope{
			UserID:       req.UserID,
			Service:      models.ServiceType(req.Service),
			Prompt:       req.Prompt,
			SystemPrompt: req.SystemPrompt,
			Options: models.GenerationOptions{
				Model:       req.Model,
				Temperature: req.Temperature,
				MaxTokens:   req.MaxTokens,
				TraceID:     req.TraceID,
			},
		}
		if req.TimeoutSeconds > 0 {
			env.Deadline = time.Now().Add(time.Duration(req.TimeoutSeconds) * time.Second)
		}

		result, err := deps.Orchestrator.Generate(r.Context(), env)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func usageHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		service := models.ServiceType(r.URL.Query().Get("service"))
		if userID == "" || !service.Valid() {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: "user_id and a valid service are required",
				Type:  string(services.ErrorTypeInvalidRequest),
			})
			return
		}

		stats, err := deps.Limiter.Usage(r.Context(), userID, service)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error: "failed to read usage",
				Type:  string(services.ErrorTypeInternal),
			})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var derr *services.DomainError
	if !errors.As(err, &derr) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "internal error",
			Type:  string(services.ErrorTypeInternal),
		})
		return
	}

	status := http.StatusInternalServerError
	switch derr.Type {
	case services.ErrorTypeInvalidRequest:
		status = http.StatusBadRequest
	case services.ErrorTypeRateLimit:
		status = http.StatusTooManyRequests
	case services.ErrorTypeBudget:
		status = http.StatusPaymentRequired
	case services.ErrorTypeAllProvidersDown:
		status = http.StatusServiceUnavailable
	case services.ErrorTypeDeadlineExceeded:
		status = http.StatusGatewayTimeout
	case services.ErrorTypeConfiguration:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, errorResponse{
		Error:   derr.Message,
		Type:    string(derr.Type),
		Details: derr.Details,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// purger is the optional maintenance hook a cache store may implement.
type purger interface {
	Purge(ctx context.Context) (int64, error)
}

func startCachePurgeWorker(ctx context.Context, deps *app.Dependencies, interval time.Duration, logger *zap.Logger) {
	p, ok := deps.CacheStore.(purger)
	if !ok {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rows, err := p.Purge(ctx)
			if err != nil {
				logger.Error("cache purge failed", zap.Error(err))
			} else if rows > 0 {
				logger.Info("purged expired cache rows", zap.Int64("rows", rows))
			}
		case <-ctx.Done():
			return
		}
	}
}
