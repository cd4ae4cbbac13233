package procurement

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/inventory"
	"github.com/repairdesk/repairdesk/internal/shared"
)

const draftKind = "grn"

// DraftStore keeps GRN drafts between requests.
type DraftStore interface {
	Load(ctx context.Context, kind, id string, dest any) error
	Save(ctx context.Context, kind, id string, v any) error
	Delete(ctx context.Context, kind, id string) error
}

// StockReceiver books incoming goods in one transaction.
type StockReceiver interface {
	ReceiveBatch(ctx context.Context, actor shared.Actor, token string, inputs []inventory.ReceiveInput) ([]inventory.ReceiveResult, error)
}

// Reindexer queues a refresh of the per-supplier totals.
type Reindexer interface {
	EnqueueSupplierReindex(ctx context.Context, supplier string) (string, error)
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	InsertGRN(ctx context.Context, grn GRN) (GRN, error)
	GetGRN(ctx context.Context, id int64) (GRN, error)
	ListGRNs(ctx context.Context, filter ListFilter) ([]GRN, int, error)
	PatchGRN(ctx context.Context, id int64, patch GRNPatch) (GRN, error)
	ReplaceGRN(ctx context.Context, id int64, grn GRN) (GRN, error)
	ListSuppliers(ctx context.Context) ([]Supplier, error)
	InsertSupplier(ctx context.Context, s Supplier) (Supplier, error)
	SupplierTotals(ctx context.Context) ([]SupplierTotal, error)
	RefreshSupplierTotals(ctx context.Context) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditEntry) error
}

// Service orchestrates GRN entry, the GRN ledger and suppliers.
type Service struct {
	repo      RepositoryPort
	drafts    DraftStore
	stock     StockReceiver
	reindexer Reindexer
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, drafts DraftStore, stock StockReceiver, reindexer Reindexer, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		drafts:    drafts,
		stock:     stock,
		reindexer: reindexer,
		audit:     audit,
		logger:    logger.With("component", "procurement"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateDraft opens an empty GRN draft.
func (s *Service) CreateDraft(ctx context.Context) (*Draft, error) {
	d := NewDraft(s.newID(), s.now())
	if err := s.drafts.Save(ctx, draftKind, d.ID, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDraft loads a GRN draft.
func (s *Service) GetDraft(ctx context.Context, id string) (*Draft, error) {
	var d Draft
	if err := s.drafts.Load(ctx, draftKind, id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) mutate(ctx context.Context, id string, fn func(*Draft) error) (*Draft, error) {
	d, err := s.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	if err := s.drafts.Save(ctx, draftKind, d.ID, d); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateHeader edits date, invoice, supplier and payment method.
func (s *Service) UpdateHeader(ctx context.Context, id string, h Header) (*Draft, error) {
	return s.mutate(ctx, id, func(d *Draft) error { return d.SetHeader(h, s.now()) })
}

// AddLine validates and appends a line. A previous stock commit no longer
// covers the draft afterwards.
func (s *Service) AddLine(ctx context.Context, id string, in LineInput) (*Draft, error) {
	line, err := BuildLine(s.newID(), in)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(d *Draft) error { return d.AddLine(line, s.now()) })
}

// RemoveLine drops a line.
func (s *Service) RemoveLine(ctx context.Context, id, lineID string) (*Draft, error) {
	return s.mutate(ctx, id, func(d *Draft) error { return d.RemoveLine(lineID, s.now()) })
}

// CommitResult reports a stock commit.
type CommitResult struct {
	Draft    *Draft                    `json:"draft"`
	Token    string                    `json:"token"`
	Replayed bool                      `json:"replayed"`
	Results  []inventory.ReceiveResult `json:"results,omitempty"`
}

// CommitToStock books every line into the stock catalog in one transaction.
// token identifies the attempt: a retry carrying the token of an applied
// attempt is a no-op, while an empty token starts a new attempt and books
// the lines again.
func (s *Service) CommitToStock(ctx context.Context, actor shared.Actor, id, token string) (CommitResult, error) {
	d, err := s.GetDraft(ctx, id)
	if err != nil {
		return CommitResult{}, err
	}
	if err := d.editable(); err != nil {
		return CommitResult{}, err
	}
	if len(d.Items) == 0 {
		return CommitResult{}, ErrNothingToCommit
	}
	token = strings.TrimSpace(token)
	if token == "" {
		token = s.newID()
	}
	res := CommitResult{Token: token}
	results, err := s.stock.ReceiveBatch(ctx, actor, "grn:"+d.ID+":"+token, d.receiveInputs())
	switch {
	case errors.Is(err, inventory.ErrAlreadyApplied):
		res.Replayed = true
	case err != nil:
		return CommitResult{}, err
	default:
		res.Results = results
	}
	if !res.Replayed || d.State != DraftStockCommitted {
		d.MarkCommitted(token, s.now())
	}
	if err := s.drafts.Save(ctx, draftKind, d.ID, d); err != nil {
		s.logger.Warn("persist committed grn draft failed", slog.String("draft", d.ID), slog.Any("error", err))
	}
	res.Draft = d
	return res, nil
}

// SaveResult is the outcome of saving a GRN draft.
type SaveResult struct {
	GRN     GRN    `json:"grn"`
	TaskID  string `json:"taskId,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// SaveGRN persists the draft as a GRN. Once validation passes, the draft is
// discarded whether or not the write succeeds; a write error is still
// returned.
func (s *Service) SaveGRN(ctx context.Context, actor shared.Actor, id string) (SaveResult, error) {
	d, err := s.GetDraft(ctx, id)
	if err != nil {
		return SaveResult{}, err
	}
	if err := d.ValidateForSave(); err != nil {
		return SaveResult{}, err
	}
	saved, saveErr := s.repo.InsertGRN(ctx, d.GRN())
	if err := s.drafts.Delete(ctx, draftKind, d.ID); err != nil {
		s.logger.Warn("discard grn draft failed", slog.String("draft", d.ID), slog.Any("error", err))
	}
	if saveErr != nil {
		s.logger.Error("save grn failed; draft discarded", slog.String("draft", d.ID), slog.String("supplier", d.Supplier), slog.Any("error", saveErr))
		return SaveResult{}, wrapIO(saveErr)
	}
	s.recordAudit(ctx, actor, "GRN_CREATE", saved.ID, map[string]any{"supplier": saved.Supplier, "grandTotal": saved.GrandTotal.String()})
	res := SaveResult{GRN: saved}
	res.TaskID, res.Warning = s.queueReindex(ctx, saved.Supplier)
	return res, nil
}

// CloseDraft discards a draft without lines.
func (s *Service) CloseDraft(ctx context.Context, id string) error {
	d, err := s.GetDraft(ctx, id)
	if err != nil {
		return err
	}
	if err := d.CheckClose(); err != nil {
		return err
	}
	return s.drafts.Delete(ctx, draftKind, id)
}

// GRNInput is a GRN written straight to the ledger.
type GRNInput struct {
	Date          time.Time
	Invoice       string
	Supplier      string
	Items         []Line
	PaymentMethod PaymentMethod
	PaidAmount    decimal.Decimal
	Remarks       string
}

func (s *Service) buildGRN(in GRNInput) (GRN, error) {
	fields := shared.FieldErrors{}
	if strings.TrimSpace(in.Supplier) == "" {
		fields.Add("supplier", "is required")
	}
	if len(in.Items) == 0 {
		fields.Add("items", "at least one item is required")
	}
	if in.PaymentMethod == "" {
		fields.Add("paymentMethodOfGRN", "is required")
	}
	if in.PaidAmount.IsNegative() {
		fields.Add("paidAmount", "must not be negative")
	}
	if err := fields.Err(); err != nil {
		return GRN{}, err
	}
	items := make([]Line, len(in.Items))
	for i, l := range in.Items {
		price := l.UnitPrice
		line, err := BuildLine(l.ID, LineInput{
			Category: string(l.Category), Key: l.Key, Label: l.Label, Qty: l.Qty, UnitPrice: &price, Attributes: l.Attributes,
		})
		if err != nil {
			return GRN{}, err
		}
		if line.ID == "" {
			line.ID = s.newID()
		}
		items[i] = line
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	return GRN{
		Date:          date,
		Invoice:       strings.TrimSpace(in.Invoice),
		Supplier:      strings.TrimSpace(in.Supplier),
		Items:         items,
		GrandTotal:    GrandTotal(items),
		PaymentMethod: in.PaymentMethod,
		PaidAmount:    in.PaidAmount.Round(2),
		Remarks:       strings.TrimSpace(in.Remarks),
	}, nil
}

// CreateGRN records a GRN without touching stock.
func (s *Service) CreateGRN(ctx context.Context, actor shared.Actor, in GRNInput) (GRN, error) {
	grn, err := s.buildGRN(in)
	if err != nil {
		return GRN{}, err
	}
	saved, err := s.repo.InsertGRN(ctx, grn)
	if err != nil {
		return GRN{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "GRN_CREATE", saved.ID, map[string]any{"supplier": saved.Supplier})
	s.queueReindex(ctx, saved.Supplier)
	return saved, nil
}

// ReplaceGRN overwrites a GRN.
func (s *Service) ReplaceGRN(ctx context.Context, actor shared.Actor, id int64, in GRNInput) (GRN, error) {
	grn, err := s.buildGRN(in)
	if err != nil {
		return GRN{}, err
	}
	saved, err := s.repo.ReplaceGRN(ctx, id, grn)
	if err != nil {
		return GRN{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "GRN_REPLACE", saved.ID, map[string]any{"supplier": saved.Supplier})
	s.queueReindex(ctx, saved.Supplier)
	return saved, nil
}

// PatchGRN updates payment method, paid amount and remarks.
func (s *Service) PatchGRN(ctx context.Context, actor shared.Actor, id int64, patch GRNPatch) (GRN, error) {
	if patch.PaidAmount != nil && patch.PaidAmount.IsNegative() {
		return GRN{}, shared.FieldErrors{"paidAmount": "must not be negative"}
	}
	if patch.Remarks != nil {
		trimmed := strings.TrimSpace(*patch.Remarks)
		patch.Remarks = &trimmed
	}
	saved, err := s.repo.PatchGRN(ctx, id, patch)
	if err != nil {
		return GRN{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "GRN_PATCH", saved.ID, map[string]any{"paidAmount": saved.PaidAmount.String()})
	s.queueReindex(ctx, saved.Supplier)
	return saved, nil
}

// GetGRN loads one GRN.
func (s *Service) GetGRN(ctx context.Context, id int64) (GRN, error) {
	grn, err := s.repo.GetGRN(ctx, id)
	if err != nil {
		return GRN{}, wrapIO(err)
	}
	return grn, nil
}

// ListGRNs returns a page of GRNs, newest first.
func (s *Service) ListGRNs(ctx context.Context, filter ListFilter) ([]GRN, shared.Pagination, error) {
	if filter.Page.PerPage <= 0 {
		filter.Page = shared.PageRequest{Page: 1, PerPage: 50}
	}
	grns, total, err := s.repo.ListGRNs(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, wrapIO(err)
	}
	return grns, shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total), nil
}

// SupplierInput creates a supplier.
type SupplierInput struct {
	Name         string
	ContactPhone string
	ContactEmail string
	Location     string
}

// CreateSupplier adds a supplier. A blank email is stored as "N/A".
func (s *Service) CreateSupplier(ctx context.Context, actor shared.Actor, in SupplierInput) (Supplier, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Supplier{}, shared.FieldErrors{"supplierName": "is required"}
	}
	email := strings.TrimSpace(in.ContactEmail)
	if email == "" {
		email = "N/A"
	}
	created, err := s.repo.InsertSupplier(ctx, Supplier{
		Name:         name,
		ContactPhone: strings.TrimSpace(in.ContactPhone),
		ContactEmail: email,
		Location:     strings.TrimSpace(in.Location),
	})
	if err != nil {
		return Supplier{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "SUPPLIER_CREATE", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// ListSuppliers returns every supplier by name.
func (s *Service) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	suppliers, err := s.repo.ListSuppliers(ctx)
	if err != nil {
		return nil, wrapIO(err)
	}
	return suppliers, nil
}

// SupplierTotals returns the per-supplier GRN summary.
func (s *Service) SupplierTotals(ctx context.Context) ([]SupplierTotal, error) {
	totals, err := s.repo.SupplierTotals(ctx)
	if err != nil {
		return nil, wrapIO(err)
	}
	return totals, nil
}

// RefreshSupplierTotals rebuilds the per-supplier GRN summary.
func (s *Service) RefreshSupplierTotals(ctx context.Context) error {
	if err := s.repo.RefreshSupplierTotals(ctx); err != nil {
		return shared.Transient(err)
	}
	return nil
}

func (s *Service) queueReindex(ctx context.Context, supplier string) (string, string) {
	if s.reindexer == nil {
		return "", ""
	}
	taskID, err := s.reindexer.EnqueueSupplierReindex(ctx, supplier)
	if err != nil {
		s.logger.Warn("queue supplier reindex failed", slog.String("supplier", supplier), slog.Any("error", err))
		return "", "grn saved but supplier totals will refresh later"
	}
	return taskID, ""
}

func wrapIO(err error) error {
	for _, known := range []error{shared.ErrNotFound, shared.ErrConflict, shared.ErrValidation, shared.ErrInvalidState} {
		if errors.Is(err, known) {
			return err
		}
	}
	return shared.Transient(err)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entity := "grn"
	if strings.HasPrefix(action, "SUPPLIER") {
		entity = "supplier"
	}
	if err := s.audit.Record(ctx, shared.AuditEntry{Actor: actor, Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
