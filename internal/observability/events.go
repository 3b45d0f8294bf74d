package observability

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RequestEvent is the one structured event emitted per orchestration request,
// success or failure.
type RequestEvent struct {
	RequestID string
	UserID    string
	Service   string
	Provider  string
	Model     string
	CacheHit  bool
	Attempts  int
	Latency   time.Duration
	Outcome   string
	Error     string
}

// EventSink receives per-request events. Implementations must not block the
// request path.
type EventSink interface {
	Emit(ctx context.Context, ev RequestEvent)
}

// LogSink emits request events as structured log lines.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing to the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit implements EventSink.
func (s *LogSink) Emit(_ context.Context, ev RequestEvent) {
	fields := []zap.Field{
		zap.String("request_id", ev.RequestID),
		zap.String("user_id", ev.UserID),
		zap.String("service", ev.Service),
		zap.String("provider", ev.Provider),
		zap.String("model", ev.Model),
		zap.Bool("cache_hit", ev.CacheHit),
		zap.Int("attempts", ev.Attempts),
		zap.Duration("latency", ev.Latency),
		zap.String("outcome", ev.Outcome),
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error", ev.Error))
		s.logger.Warn("generation request completed", fields...)
		return
	}
	s.logger.Info("generation request completed", fields...)
}

// NopSink discards events.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(context.Context, RequestEvent) {}
