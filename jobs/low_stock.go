package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/repairdesk/repairdesk/internal/inventory"
	jobmetrics "github.com/repairdesk/repairdesk/internal/jobs"
)

// LowStockSource lists watch-listed items running out.
type LowStockSource interface {
	LowStock(ctx context.Context) ([]inventory.LowStockEntry, error)
}

// LowStockScanJob publishes the low-stock count as a gauge.
type LowStockScanJob struct {
	Stock   LowStockSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes stock:low_scan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskLowStockScan)
	defer func() { err = tracker.End(err) }()

	entries, err := j.Stock.LowStock(ctx)
	if err != nil {
		return err
	}
	j.Metrics.SetLowStock(len(entries))
	if len(entries) > 0 && j.Logger != nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name)
		}
		j.Logger.Info("low stock", slog.Int("count", len(entries)), slog.Any("items", names))
	}
	return nil
}
