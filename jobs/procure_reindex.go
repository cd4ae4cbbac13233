package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/repairdesk/repairdesk/internal/jobs"
)

// TotalsRefresher rebuilds the per-supplier GRN totals.
type TotalsRefresher interface {
	RefreshSupplierTotals(ctx context.Context) error
}

// ProcurementReindexJob refreshes supplier totals after GRN changes.
type ProcurementReindexJob struct {
	Totals  TotalsRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes procurement:reindex tasks.
func (j *ProcurementReindexJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var payload ProcurementReindexPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s: %w", t.Type(), asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskProcurementReindex)
	defer func() { err = tracker.End(err) }()

	if err := j.Totals.RefreshSupplierTotals(ctx); err != nil {
		return err
	}
	if j.Logger != nil {
		j.Logger.Debug("supplier totals refreshed", slog.String("supplier", payload.Supplier))
	}
	return nil
}
