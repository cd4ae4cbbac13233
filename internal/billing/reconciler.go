package billing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/inventory"
	"github.com/repairdesk/repairdesk/internal/shared"
)

// tradeInSuffix marks exchanged devices on the bill.
const tradeInSuffix = "  - EXCHANGED ITEM"

// StockCatalog is the part of the stock catalog the reconciler talks to.
type StockCatalog interface {
	Get(ctx context.Context, id int64) (inventory.Item, error)
	Receive(ctx context.Context, actor shared.Actor, input inventory.ReceiveInput) (inventory.ReceiveResult, error)
}

// Compensator queues follow-up writes that run outside the draft mutation.
// Each method returns the queued task id.
type Compensator interface {
	RestoreStock(ctx context.Context, actor shared.Actor, item LineItem) (string, error)
	CloseJob(ctx context.Context, actor shared.Actor, jobRef, billNumber string) (string, error)
}

// Outcome is the result of a line mutation. TaskID is set when a follow-up
// was queued; Warning explains a side effect that did not happen.
type Outcome struct {
	Item    LineItem `json:"item"`
	TaskID  string   `json:"taskId,omitempty"`
	Warning string   `json:"warning,omitempty"`
}

// ManualItemInput is a freehand line.
type ManualItemInput struct {
	Description string
	Qty         int
	UnitPrice   decimal.Decimal
	PIN         string
}

// TradeInInput describes a device the customer hands over.
type TradeInInput struct {
	Item      string
	Capacity  string
	Region    string
	Color     string
	Serial    string
	IMEI      string
	Condition string
	Qty       int
	CostPrice decimal.Decimal
}

// Reconciler keeps bill lines and the stock catalog consistent.
type Reconciler struct {
	stock       StockCatalog
	compensator Compensator
	guard       *DiscountGuard
	logger      *slog.Logger
	newID       func() string
}

// NewReconciler wires the reconciler.
func NewReconciler(stock StockCatalog, compensator Compensator, guard *DiscountGuard, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		stock:       stock,
		compensator: compensator,
		guard:       guard,
		logger:      logger.With("component", "billing.reconciler"),
		newID:       func() string { return uuid.NewString() },
	}
}

// AddManualItem appends a freehand line. Stock is not touched.
func (r *Reconciler) AddManualItem(d *Draft, in ManualItemInput) (LineItem, error) {
	if err := d.editable(); err != nil {
		return LineItem{}, err
	}
	description := strings.TrimSpace(in.Description)
	fields := shared.FieldErrors{}
	if description == "" {
		fields.Add("description", "is required")
	}
	if in.Qty <= 0 {
		fields.Add("qty", "must be a positive whole number")
	}
	if err := fields.Err(); err != nil {
		return LineItem{}, err
	}
	if err := r.guard.Check(description, in.PIN); err != nil {
		return LineItem{}, err
	}
	item := LineItem{
		ID:        r.newID(),
		Origin:    OriginManual,
		Label:     description,
		Qty:       in.Qty,
		UnitPrice: in.UnitPrice,
		Amount:    round2(in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Qty)))),
	}
	d.appendItem(item)
	return item, nil
}

// AddStockItem appends one unit of a catalog record. The catalog quantity is
// not decremented here.
func (r *Reconciler) AddStockItem(ctx context.Context, d *Draft, stockID int64) (LineItem, error) {
	if err := d.editable(); err != nil {
		return LineItem{}, err
	}
	record, err := r.stock.Get(ctx, stockID)
	if err != nil {
		return LineItem{}, err
	}
	attrs, err := inventory.EncodeAttributes(record.Attributes)
	if err != nil {
		return LineItem{}, err
	}
	label := record.LineLabel()
	if label == "" {
		label = inventory.DefaultLabel(record.Key)
	}
	item := LineItem{
		ID:         r.newID(),
		Origin:     OriginStock,
		Label:      label,
		Qty:        1,
		UnitPrice:  round2(record.UnitPrice),
		Amount:     round2(record.UnitPrice),
		StockID:    record.ID,
		Category:   string(record.Category),
		Key:        record.Key,
		StockLabel: record.Label,
		Attributes: attrs,
	}
	d.appendItem(item)
	return item, nil
}

// StageTradeIn appends a negative line for a surrendered device. The stock
// write happens in PostTradeIn once the draft is stored.
func (r *Reconciler) StageTradeIn(d *Draft, in TradeInInput) (LineItem, error) {
	if err := d.editable(); err != nil {
		return LineItem{}, err
	}
	in = trimTradeIn(in)
	fields := shared.FieldErrors{}
	if in.Item == "" {
		fields.Add("item", "is required")
	}
	if in.Qty < 0 {
		fields.Add("qty", "must be a positive whole number")
	}
	if in.CostPrice.IsNegative() {
		fields.Add("costPrice", "must not be negative")
	}
	if err := fields.Err(); err != nil {
		return LineItem{}, err
	}

	cost := round2(in.CostPrice)
	item := LineItem{
		ID:        r.newID(),
		Origin:    OriginTradeIn,
		Label:     TradeInLabel(in),
		Qty:       in.Qty,
		UnitPrice: cost,
		Amount:    round2(cost.Mul(decimal.NewFromInt(int64(in.Qty))).Neg()),
	}
	d.appendItem(item)
	return item, nil
}

// PostTradeIn books a staged trade-in device into stock. Identical devices
// share one catalog record, so a repeat trade-in raises its quantity. A
// failed write is reported as a warning; the line stays on the bill.
func (r *Reconciler) PostTradeIn(ctx context.Context, actor shared.Actor, d *Draft, item LineItem, in TradeInInput) Outcome {
	in = trimTradeIn(in)
	outcome := Outcome{Item: item}
	condition := in.Condition
	if condition == "" {
		condition = inventory.ConditionUsed
	}
	_, err := r.stock.Receive(ctx, actor, inventory.ReceiveInput{
		Category:  inventory.CategoryProduct,
		Key:       in.Item,
		Label:     strings.ReplaceAll(in.Item, "_", " "),
		Qty:       item.Qty,
		UnitPrice: item.UnitPrice,
		Attributes: inventory.ProductAttributes{
			Model:        orNA(in.Capacity),
			Color:        orNA(in.Color),
			Region:       orNA(in.Region),
			SerialNumber: orNA(in.Serial),
			IMEINumber:   orNA(in.IMEI),
			Condition:    condition,
		},
	})
	if err != nil {
		r.logger.Warn("trade-in stock write failed", slog.String("bill", d.BillNumber), slog.Any("error", err))
		outcome.Warning = "trade-in added to bill but not recorded in stock: " + shared.UserSafeMessage(err)
	}
	return outcome
}

func orNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}

func trimTradeIn(in TradeInInput) TradeInInput {
	in.Item = strings.TrimSpace(in.Item)
	in.Capacity = strings.TrimSpace(in.Capacity)
	in.Region = strings.TrimSpace(in.Region)
	in.Color = strings.TrimSpace(in.Color)
	in.Serial = strings.TrimSpace(in.Serial)
	in.IMEI = strings.TrimSpace(in.IMEI)
	in.Condition = strings.TrimSpace(in.Condition)
	if in.Qty == 0 {
		in.Qty = 1
	}
	return in
}

// TradeInLabel joins the non-empty device fields with " | " and marks the
// line as exchanged.
func TradeInLabel(in TradeInInput) string {
	parts := make([]string, 0, 7)
	for _, p := range []string{in.Item, in.Capacity, in.Region, in.Color, in.Serial, in.IMEI, in.Condition} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " | ") + tradeInSuffix
}

// RemoveItem drops a line from the draft. Stock is put back by Compensate
// once the draft is stored.
func (r *Reconciler) RemoveItem(d *Draft, itemID string) (LineItem, error) {
	if err := d.editable(); err != nil {
		return LineItem{}, err
	}
	return d.removeItem(itemID)
}

// Compensate queues the stock restore of a removed stock-backed line. The
// removal stands whether or not queueing works.
func (r *Reconciler) Compensate(ctx context.Context, actor shared.Actor, d *Draft, removed LineItem) Outcome {
	outcome := Outcome{Item: removed}
	if removed.Origin != OriginStock {
		return outcome
	}
	if r.compensator == nil {
		outcome.Warning = "stock restore is not configured"
		return outcome
	}
	taskID, err := r.compensator.RestoreStock(ctx, actor, removed)
	if err != nil {
		r.logger.Warn("queue stock restore failed", slog.String("bill", d.BillNumber), slog.Int64("stock_id", removed.StockID), slog.Any("error", err))
		outcome.Warning = "item removed but stock restore could not be queued"
		return outcome
	}
	outcome.TaskID = taskID
	return outcome
}

// EditAmount overrides the amount of a line.
func (r *Reconciler) EditAmount(d *Draft, itemID string, amount decimal.Decimal) error {
	return d.EditAmount(itemID, amount)
}

// closeJob queues the job status change that follows a saved bill.
func (r *Reconciler) closeJob(ctx context.Context, actor shared.Actor, d *Draft) (string, string) {
	if strings.TrimSpace(d.JobRef) == "" {
		return "", "no job reference on this bill; close the job manually"
	}
	if r.compensator == nil {
		return "", "job close is not configured"
	}
	taskID, err := r.compensator.CloseJob(ctx, actor, d.JobRef, d.BillNumber)
	if err != nil {
		r.logger.Warn("queue job close failed", slog.String("bill", d.BillNumber), slog.String("job_ref", d.JobRef), slog.Any("error", err))
		return "", "bill saved but the job could not be closed automatically"
	}
	return taskID, ""
}

