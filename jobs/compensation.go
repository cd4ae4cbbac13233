package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/repairdesk/repairdesk/internal/inventory"
	jobmetrics "github.com/repairdesk/repairdesk/internal/jobs"
	"github.com/repairdesk/repairdesk/internal/repair"
	"github.com/repairdesk/repairdesk/internal/shared"
)

// StockRestorer puts stock back.
type StockRestorer interface {
	Restore(ctx context.Context, actor shared.Actor, input inventory.RestoreInput) (inventory.RestoreResult, error)
}

// JobCloser closes repair jobs.
type JobCloser interface {
	CloseByBill(ctx context.Context, actor shared.Actor, ref, billNumber string) (repair.Job, error)
}

// CompensationJobs handles the follow-ups of bill actions.
type CompensationJobs struct {
	Stock   StockRestorer
	Jobs    JobCloser
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// HandleStockRestore processes stock:restore tasks.
func (j *CompensationJobs) HandleStockRestore(ctx context.Context, t *asynq.Task) (err error) {
	var payload StockRestorePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s: %w", t.Type(), asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskStockRestore)
	defer func() { err = tracker.End(err) }()

	res, err := j.Stock.Restore(ctx, payload.Actor, payload.input())
	if err != nil {
		return retryable(err)
	}
	j.logger().Info("stock restored",
		slog.String("line", payload.LineID),
		slog.Int64("stock_id", res.Item.ID),
		slog.Int("qty", res.Item.Qty),
		slog.Bool("recreated", res.Recreated))
	return nil
}

// HandleJobClose processes repair:close_by_bill tasks.
func (j *CompensationJobs) HandleJobClose(ctx context.Context, t *asynq.Task) (err error) {
	var payload JobClosePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s: %w", t.Type(), asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskJobCloseByBill)
	defer func() { err = tracker.End(err) }()

	job, err := j.Jobs.CloseByBill(ctx, payload.Actor, payload.JobRef, payload.BillNumber)
	if err != nil {
		return retryable(err)
	}
	j.logger().Info("job closed by bill", slog.String("job", job.Ref), slog.String("bill", payload.BillNumber))
	return nil
}

func (j *CompensationJobs) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// retryable stops retries for errors another attempt cannot fix.
func retryable(err error) error {
	for _, permanent := range []error{shared.ErrValidation, shared.ErrNotFound, shared.ErrAuthorization} {
		if errors.Is(err, permanent) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
	}
	return err
}
