package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/billing"
	"github.com/repairdesk/repairdesk/internal/inventory"
	"github.com/repairdesk/repairdesk/internal/shared"
)

const (
	// QueueDefault is the default queue name for background tasks.
	QueueDefault = "default"
	// QueueCompensation carries follow-ups of already committed bill actions.
	QueueCompensation = "compensation"

	// TaskStockRestore puts a removed bill line back into stock.
	TaskStockRestore = "stock:restore"
	// TaskJobCloseByBill marks a repair job closed by a saved bill.
	TaskJobCloseByBill = "repair:close_by_bill"
	// TaskProcurementReindex refreshes the per-supplier GRN totals.
	TaskProcurementReindex = "procurement:reindex"
	// TaskLowStockScan recomputes the low-stock list.
	TaskLowStockScan = "stock:low_scan"
	// TaskTokenPurge drops expired commit tokens.
	TaskTokenPurge = "maintenance:purge_tokens"
)

// StockRestorePayload describes the stock to put back.
type StockRestorePayload struct {
	Actor      shared.Actor    `json:"actor"`
	LineID     string          `json:"lineId"`
	StockID    int64           `json:"stockId"`
	Category   string          `json:"category"`
	Key        string          `json:"key"`
	Label      string          `json:"label"`
	Qty        int             `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

func restorePayload(actor shared.Actor, item billing.LineItem) StockRestorePayload {
	return StockRestorePayload{
		Actor:      actor,
		LineID:     item.ID,
		StockID:    item.StockID,
		Category:   item.Category,
		Key:        item.Key,
		Label:      item.StockLabel,
		Qty:        item.Qty,
		UnitPrice:  item.UnitPrice,
		Attributes: item.Attributes,
	}
}

func (p StockRestorePayload) input() inventory.RestoreInput {
	return inventory.RestoreInput{
		StockID:    p.StockID,
		Category:   inventory.Category(p.Category),
		Key:        p.Key,
		Label:      p.Label,
		Qty:        p.Qty,
		UnitPrice:  p.UnitPrice,
		Attributes: p.Attributes,
	}
}

// JobClosePayload names the job and the bill that closed it.
type JobClosePayload struct {
	Actor      shared.Actor `json:"actor"`
	JobRef     string       `json:"jobRef"`
	BillNumber string       `json:"billNumber"`
}

// ProcurementReindexPayload names the supplier whose GRNs changed.
type ProcurementReindexPayload struct {
	Supplier string `json:"supplier"`
}

// LowStockScanPayload carries scheduling metadata.
type LowStockScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

func newTask(taskType string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, opts...), nil
}

// NewStockRestoreTask builds a stock:restore task.
func NewStockRestoreTask(actor shared.Actor, item billing.LineItem) (*asynq.Task, error) {
	return newTask(TaskStockRestore, restorePayload(actor, item), asynq.Queue(QueueCompensation))
}

// NewJobCloseTask builds a repair:close_by_bill task.
func NewJobCloseTask(actor shared.Actor, jobRef, billNumber string) (*asynq.Task, error) {
	return newTask(TaskJobCloseByBill, JobClosePayload{Actor: actor, JobRef: jobRef, BillNumber: billNumber},
		asynq.Queue(QueueCompensation))
}

// NewProcurementReindexTask builds a reindex task. Tasks for the same
// supplier within a minute collapse into one.
func NewProcurementReindexTask(supplier string) (*asynq.Task, error) {
	return newTask(TaskProcurementReindex, ProcurementReindexPayload{Supplier: supplier},
		asynq.Queue(QueueDefault), asynq.Unique(time.Minute))
}

// NewLowStockScanTask builds a low-stock scan task.
func NewLowStockScanTask(at time.Time) (*asynq.Task, error) {
	return newTask(TaskLowStockScan, LowStockScanPayload{ScheduledFor: at}, asynq.Queue(QueueDefault))
}

// TokenPurgePayload carries the retention window.
type TokenPurgePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewTokenPurgeTask builds a maintenance:purge_tokens task.
func NewTokenPurgeTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskTokenPurge, TokenPurgePayload{Retention: retention}, asynq.Queue(QueueDefault))
}
