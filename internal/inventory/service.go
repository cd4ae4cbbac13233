package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListItems(ctx context.Context, filter ListFilter) ([]Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	FindByIdentity(ctx context.Context, category Category, key string, attrs Attributes) (Item, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, id int64, patch PatchInput) (Item, error)
	AdjustQty(ctx context.Context, id int64, delta int) (Item, error)
	ListLowStock(ctx context.Context, threshold int, labels []string) ([]Item, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditEntry) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	LowStockThreshold int
	LowStockLabels    []string
}

// Service coordinates stock catalog operations.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	logger   *slog.Logger
	cfg      ServiceConfig
	lowStock singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = 5
	}
	if len(cfg.LowStockLabels) == 0 {
		cfg.LowStockLabels = []string{"Back Glass", "Tempered Glass", "Battery", "Back Cover"}
	}
	return &Service{repo: repo, audit: audit, logger: logger.With("component", "inventory"), cfg: cfg}
}

// List returns catalog records.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Item, error) {
	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, shared.Transient(err)
	}
	return items, nil
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, wrapIO(err)
	}
	return item, nil
}

// FindMatching returns the record identical to (category, key, attrs).
func (s *Service) FindMatching(ctx context.Context, category Category, key string, attrs Attributes) (Item, error) {
	item, err := s.repo.FindByIdentity(ctx, category, strings.TrimSpace(key), NormalizeAttributes(attrs))
	if err != nil {
		return Item{}, wrapIO(err)
	}
	return item, nil
}

// Create inserts a new record. A record with the same identity is a conflict.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (Item, error) {
	item, err := buildItem(input.Category, input.Key, input.Label, input.Qty, input.UnitPrice, input.Attributes)
	if err != nil {
		return Item{}, err
	}
	created, err := s.repo.InsertItem(ctx, item)
	if err != nil {
		return Item{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "STOCK_CREATE", created.ID, map[string]any{"qty": created.Qty, "key": created.Key})
	return created, nil
}

// Patch updates label, quantity or unit price.
func (s *Service) Patch(ctx context.Context, actor shared.Actor, id int64, patch PatchInput) (Item, error) {
	if patch.Qty != nil && *patch.Qty < 0 {
		return Item{}, ErrInvalidQuantity
	}
	if patch.UnitPrice != nil {
		if patch.UnitPrice.IsNegative() {
			return Item{}, ErrInvalidUnitPrice
		}
		rounded := patch.UnitPrice.Round(2)
		patch.UnitPrice = &rounded
	}
	if patch.Label != nil {
		label := strings.TrimSpace(*patch.Label)
		if label == "" {
			return Item{}, shared.FieldErrors{"label": "is required"}
		}
		patch.Label = &label
	}
	updated, err := s.repo.UpdateItem(ctx, id, patch)
	if err != nil {
		return Item{}, wrapIO(err)
	}
	meta := map[string]any{}
	if patch.Qty != nil {
		meta["qty"] = *patch.Qty
	}
	if patch.UnitPrice != nil {
		meta["unitPrice"] = patch.UnitPrice.StringFixed(2)
	}
	s.recordAudit(ctx, actor, "STOCK_PATCH", id, meta)
	return updated, nil
}

// Increment adds n units to a record.
func (s *Service) Increment(ctx context.Context, actor shared.Actor, id int64, n int) (Item, error) {
	return s.adjust(ctx, actor, "STOCK_INCREMENT", id, n)
}

// Decrement removes n units from a record; the quantity never goes below zero.
func (s *Service) Decrement(ctx context.Context, actor shared.Actor, id int64, n int) (Item, error) {
	return s.adjust(ctx, actor, "STOCK_DECREMENT", id, -n)
}

func (s *Service) adjust(ctx context.Context, actor shared.Actor, action string, id int64, delta int) (Item, error) {
	if delta == 0 {
		return Item{}, ErrInvalidQuantity
	}
	item, err := s.repo.AdjustQty(ctx, id, delta)
	if err != nil {
		return Item{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, action, id, map[string]any{"delta": delta, "qty": item.Qty})
	return item, nil
}

// Receive books one incoming line: the identical record is incremented by
// Qty, or a new record is created.
func (s *Service) Receive(ctx context.Context, actor shared.Actor, input ReceiveInput) (ReceiveResult, error) {
	results, err := s.ReceiveBatch(ctx, actor, "", []ReceiveInput{input})
	if err != nil {
		return ReceiveResult{}, err
	}
	return results[0], nil
}

// ReceiveBatch books every line in a single transaction. A non-empty token is
// claimed inside the same transaction, so replaying a token returns
// ErrAlreadyApplied without touching quantities. All lines are validated
// before anything is written.
func (s *Service) ReceiveBatch(ctx context.Context, actor shared.Actor, token string, inputs []ReceiveInput) ([]ReceiveResult, error) {
	if len(inputs) == 0 {
		return nil, shared.Validationf("inventory: nothing to receive")
	}
	items := make([]Item, len(inputs))
	for i, in := range inputs {
		item, err := buildItem(in.Category, in.Key, in.Label, in.Qty, in.UnitPrice, in.Attributes)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if item.Qty <= 0 {
			return nil, fmt.Errorf("line %d: %w", i+1, ErrInvalidQuantity)
		}
		items[i] = item
	}

	results := make([]ReceiveResult, len(items))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if token != "" {
			if err := tx.ClaimToken(ctx, token, "inventory.receive"); err != nil {
				return err
			}
		}
		for i, item := range items {
			res, err := receiveOne(ctx, tx, item)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			results[i] = res
		}
		return nil
	})
	if err != nil {
		return nil, wrapIO(err)
	}
	for _, res := range results {
		s.recordAudit(ctx, actor, "STOCK_RECEIVE", res.Item.ID, map[string]any{"qty": res.Item.Qty, "created": res.Created, "token": token})
	}
	return results, nil
}

func receiveOne(ctx context.Context, tx TxRepository, item Item) (ReceiveResult, error) {
	existing, err := tx.FindByIdentity(ctx, item.Category, item.Key, item.Attributes)
	switch {
	case err == nil:
		updated, err := tx.AdjustQty(ctx, existing.ID, item.Qty)
		if err != nil {
			return ReceiveResult{}, err
		}
		return ReceiveResult{Item: updated}, nil
	case errors.Is(err, shared.ErrNotFound):
		created, err := tx.InsertItem(ctx, item)
		if err != nil {
			return ReceiveResult{}, err
		}
		return ReceiveResult{Item: created, Created: true}, nil
	default:
		return ReceiveResult{}, err
	}
}

// Restore hands a stock-backed bill line back to the catalog: the record is
// incremented, or recreated from the line snapshot with best-effort defaults
// when it no longer exists.
func (s *Service) Restore(ctx context.Context, actor shared.Actor, input RestoreInput) (RestoreResult, error) {
	qty := input.Qty
	if qty <= 0 {
		qty = 1
	}
	if input.StockID > 0 {
		item, err := s.repo.AdjustQty(ctx, input.StockID, qty)
		if err == nil {
			s.recordAudit(ctx, actor, "STOCK_RESTORE", item.ID, map[string]any{"delta": qty, "qty": item.Qty})
			return RestoreResult{Item: item}, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return RestoreResult{}, wrapIO(err)
		}
		s.logger.Warn("restore target missing, recreating", slog.Int64("stock_id", input.StockID))
	}

	item := recreationItem(input, qty)
	created, err := s.repo.InsertItem(ctx, item)
	if errors.Is(err, ErrDuplicateItem) {
		// An identical record exists under a different id.
		existing, findErr := s.repo.FindByIdentity(ctx, item.Category, item.Key, item.Attributes)
		if findErr != nil {
			return RestoreResult{}, wrapIO(findErr)
		}
		updated, adjErr := s.repo.AdjustQty(ctx, existing.ID, qty)
		if adjErr != nil {
			return RestoreResult{}, wrapIO(adjErr)
		}
		s.recordAudit(ctx, actor, "STOCK_RESTORE", updated.ID, map[string]any{"delta": qty, "qty": updated.Qty})
		return RestoreResult{Item: updated}, nil
	}
	if err != nil {
		return RestoreResult{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "STOCK_RECREATE", created.ID, map[string]any{"qty": created.Qty, "previous_id": input.StockID})
	return RestoreResult{Item: created, Recreated: true}, nil
}

func recreationItem(input RestoreInput, qty int) Item {
	category := input.Category
	if _, err := ParseCategory(string(category)); err != nil {
		category = CategoryProduct
	}
	key := strings.TrimSpace(input.Key)
	if key == "" {
		key = strconv.FormatInt(input.StockID, 10)
	}
	label := strings.TrimSpace(input.Label)
	if label == "" {
		label = "Unknown"
	}
	attrs, err := DecodeAttributes(category, input.Attributes)
	if err != nil || len(input.Attributes) == 0 {
		attrs = emptyAttributes(category)
	}
	price := input.UnitPrice
	if price.IsNegative() {
		price = decimal.Zero
	}
	return Item{Category: category, Key: key, Label: label, Qty: qty, UnitPrice: price.Round(2), Attributes: attrs}
}

func emptyAttributes(category Category) Attributes {
	switch category {
	case CategorySpare:
		return SpareAttributes{}
	case CategoryAccessory:
		return AccessoryAttributes{}
	default:
		return ProductAttributes{}
	}
}

// LowStock lists watched labels at or below the configured threshold.
// Concurrent callers share one query, which runs detached from any single
// caller's cancellation; a caller that gives up gets its own ctx error.
func (s *Service) LowStock(ctx context.Context) ([]LowStockEntry, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.lowStock.DoChan("low-stock", func() (any, error) {
		items, err := s.repo.ListLowStock(detached, s.cfg.LowStockThreshold, s.cfg.LowStockLabels)
		if err != nil {
			return nil, err
		}
		entries := make([]LowStockEntry, 0, len(items))
		for _, item := range items {
			entries = append(entries, LowStockEntry{ID: item.ID, Name: lowStockName(item), Label: item.Label, Qty: item.Qty})
		}
		return entries, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, wrapIO(res.Err)
		}
		return res.Val.([]LowStockEntry), nil
	}
}

func lowStockName(item Item) string {
	detail := ""
	switch a := item.Attributes.(type) {
	case SpareAttributes:
		detail = a.Description
		if detail == "" {
			detail = a.Compatibility
		}
	case AccessoryAttributes:
		detail = a.Description
	case ProductAttributes:
		detail = a.Model
	}
	if detail == "" {
		return item.Label
	}
	return item.Label + " - " + detail
}

func buildItem(rawCategory Category, key, label string, qty int, price decimal.Decimal, attrs Attributes) (Item, error) {
	fields := shared.FieldErrors{}
	category, err := ParseCategory(string(rawCategory))
	if err != nil {
		fields.Add("category", "must be one of spare, accessory, product")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		fields.Add("key", "is required")
	}
	if qty < 0 {
		fields.Add("qty", "must not be negative")
	}
	if price.IsNegative() {
		fields.Add("unitPrice", "must not be negative")
	}
	if err := fields.Err(); err != nil {
		return Item{}, err
	}
	attrs = NormalizeAttributes(attrs)
	if err := ValidateAttributes(category, attrs); err != nil {
		return Item{}, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultLabel(key)
	}
	return Item{Category: category, Key: key, Label: label, Qty: qty, UnitPrice: price.Round(2), Attributes: attrs}, nil
}

func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrAuthorization),
		errors.Is(err, context.Canceled):
		return err
	}
	return shared.Transient(err)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditEntry{Actor: actor, Action: action, Entity: "stock_item", EntityID: strconv.FormatInt(id, 10), Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
