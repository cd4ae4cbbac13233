package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/repairdesk/repairdesk/internal/jobs"
)

// TokenPurger deletes commit tokens older than a retention window.
type TokenPurger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// TokenPurgeJob keeps idempotency_keys from growing without bound.
type TokenPurgeJob struct {
	Tokens  TokenPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes maintenance:purge_tokens tasks.
func (j *TokenPurgeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskTokenPurge)
	defer func() { err = tracker.End(err) }()

	var payload TokenPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Retention <= 0 {
		return fmt.Errorf("retention must be positive: %w", asynq.SkipRetry)
	}
	removed, err := j.Tokens.Purge(ctx, payload.Retention)
	if err != nil {
		return err
	}
	if j.Logger != nil && removed > 0 {
		j.Logger.Info("purged commit tokens", slog.Int64("removed", removed), slog.Duration("retention", payload.Retention))
	}
	return nil
}
