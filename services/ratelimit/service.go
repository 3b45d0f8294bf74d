package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studyloop/ai-orchestrator/models"
)

// Reason distinguishes the two admission rejections. Their remediation
// differs: a rate-limited user retries after the hour rolls over, a
// budget-exceeded user waits for the month (or upgrades).
type Reason string

const (
	ReasonRateLimited    Reason = "rate_limited"
	ReasonBudgetExceeded Reason = "budget_exceeded"
)

// Limits are the per-service admission thresholds. Zero disables a limit.
type Limits struct {
	HourlyRequests    int
	MonthlyRequests   int
	MonthlyCostBudget float64
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed          bool
	Reason           Reason
	Detail           string
	RetryAfter       time.Duration
	HourlyRemaining  int
	MonthlyRemaining int
}

// UsageStats is the current consumption for one user and service.
type UsageStats struct {
	HourlyCalls  int
	MonthlyCalls int
	MonthlyCost  float64
}

const createUsageTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	user_id TEXT NOT NULL,
	service_type TEXT NOT NULL,
	bucket TEXT NOT NULL,
	calls INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, service_type, bucket)
);
`

// Service is the usage ledger and rate limiter. Counters live in SQLite keyed
// by calendar bucket (UTC hour and month), so windows reset at wall-clock
// boundaries rather than sliding from first use. Increments are single upsert
// statements, which keeps concurrent recordings for the same user exact.
type Service struct {
	db     *sql.DB
	limits map[models.ServiceType]Limits
	logger *zap.Logger

	now func() time.Time
}

// NewService creates the ledger and runs its schema migration.
func NewService(db *sql.DB, limits map[models.ServiceType]Limits, logger *zap.Logger) (*Service, error) {
	if _, err := db.Exec(createUsageTable); err != nil {
		return nil, fmt.Errorf("migrate usage ledger: %w", err)
	}
	return &Service{
		db:     db,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Admit checks both the hourly and the monthly limits for the user and
// service. Both must pass before any provider is contacted. Admission never
// mutates the ledger; only Record does.
func (s *Service) Admit(ctx context.Context, userID string, service models.ServiceType) (*Decision, error) {
	limits, ok := s.limits[service]
	if !ok {
		return &Decision{Allowed: true}, nil
	}

	now := s.now()
	stats, err := s.usage(ctx, userID, service, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	if limits.HourlyRequests > 0 && stats.HourlyCalls >= limits.HourlyRequests {
		return &Decision{
			Allowed:    false,
			Reason:     ReasonRateLimited,
			Detail:     fmt.Sprintf("exceeded %d requests per hour", limits.HourlyRequests),
			RetryAfter: models.NextHour(now).Sub(now),
		}, nil
	}

	if limits.MonthlyRequests > 0 && stats.MonthlyCalls >= limits.MonthlyRequests {
		return &Decision{
			Allowed:    false,
			Reason:     ReasonBudgetExceeded,
			Detail:     fmt.Sprintf("exceeded %d requests per month", limits.MonthlyRequests),
			RetryAfter: models.NextMonth(now).Sub(now),
		}, nil
	}

	if limits.MonthlyCostBudget > 0 && stats.MonthlyCost >= limits.MonthlyCostBudget {
		return &Decision{
			Allowed:    false,
			Reason:     ReasonBudgetExceeded,
			Detail:     fmt.Sprintf("exceeded monthly cost budget of %.2f USD", limits.MonthlyCostBudget),
			RetryAfter: models.NextMonth(now).Sub(now),
		}, nil
	}

	decision := &Decision{Allowed: true}
	if limits.HourlyRequests > 0 {
		decision.HourlyRemaining = limits.HourlyRequests - stats.HourlyCalls
	}
	if limits.MonthlyRequests > 0 {
		decision.MonthlyRemaining = limits.MonthlyRequests - stats.MonthlyCalls
	}
	return decision, nil
}

// Record adds one successful generation to both the hourly and monthly
// buckets. Failed and rejected attempts never consume budget, so callers only
// invoke this after a provider succeeded.
func (s *Service) Record(ctx context.Context, userID string, service models.ServiceType, costEstimate float64) error {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, bucket := range []string{models.HourBucket(now), models.MonthBucket(now)} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO usage_records (user_id, service_type, bucket, calls, cost)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (user_id, service_type, bucket)
			DO UPDATE SET calls = calls + 1, cost = cost + excluded.cost`,
			userID, string(service), bucket, costEstimate,
		); err != nil {
			return fmt.Errorf("record usage for bucket %s: %w", bucket, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage tx: %w", err)
	}
	return nil
}

// Usage returns current consumption for a user and service.
func (s *Service) Usage(ctx context.Context, userID string, service models.ServiceType) (*UsageStats, error) {
	return s.usage(ctx, userID, service, s.now())
}

func (s *Service) usage(ctx context.Context, userID string, service models.ServiceType, now time.Time) (*UsageStats, error) {
	stats := &UsageStats{}

	err := s.db.QueryRowContext(ctx,
		`SELECT calls FROM usage_records WHERE user_id = ? AND service_type = ? AND bucket = ?`,
		userID, string(service), models.HourBucket(now),
	).Scan(&stats.HourlyCalls)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query hourly usage: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT calls, cost FROM usage_records WHERE user_id = ? AND service_type = ? AND bucket = ?`,
		userID, string(service), models.MonthBucket(now),
	).Scan(&stats.MonthlyCalls, &stats.MonthlyCost)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query monthly usage: %w", err)
	}

	return stats, nil
}

// Cleanup deletes hourly buckets older than the retention period. Monthly
// buckets are kept for reporting. Correctness does not depend on cleanup; it
// only bounds table growth.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := models.HourBucket(s.now().Add(-retention))

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_records WHERE length(bucket) > 7 AND bucket < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup usage records: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows > 0 {
		s.logger.Info("cleaned up expired usage buckets",
			zap.Int64("rows_deleted", rows),
			zap.String("cutoff_bucket", cutoff))
	}
	return rows, nil
}

// StartCleanupWorker periodically deletes expired hourly buckets until the
// context is cancelled.
func (s *Service) StartCleanupWorker(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started usage ledger cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ticker.C:
			if _, err := s.Cleanup(ctx, retention); err != nil {
				s.logger.Error("usage ledger cleanup failed", zap.Error(err))
			}
		case <-ctx.Done():
			s.logger.Info("stopping usage ledger cleanup worker")
			return
		}
	}
}
