package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/repair"
	"github.com/repairdesk/repairdesk/internal/shared"
)

// draftKind namespaces bill drafts in the draft store.
const draftKind = "bill"

// DraftStore keeps drafts between requests.
type DraftStore interface {
	Load(ctx context.Context, kind, id string, dest any) error
	Save(ctx context.Context, kind, id string, v any) error
	Delete(ctx context.Context, kind, id string) error
	List(ctx context.Context, kind string) ([]string, error)
}

// LedgerRepository persists saved bills.
type LedgerRepository interface {
	NextBillNumber(ctx context.Context) (int64, error)
	InsertBill(ctx context.Context, bill Bill) (Bill, error)
	GetBill(ctx context.Context, id int64) (Bill, error)
	GetBillByNumber(ctx context.Context, number string) (Bill, error)
	ListBills(ctx context.Context, filter ListFilter) ([]Bill, int, error)
	BillsBetween(ctx context.Context, from, to time.Time) ([]Bill, error)
	ReplaceBill(ctx context.Context, id int64, bill Bill) (Bill, error)
	UpdatePayments(ctx context.Context, id int64, payments []BillPayment) (Bill, error)
}

// JobLookup resolves a job reference to its ticket.
type JobLookup interface {
	Details(ctx context.Context, ref string) (repair.Job, error)
}

// AuditPort records ledger changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditEntry) error
}

// Config groups billing settings.
type Config struct {
	BillNumberPrefix string
}

// Service runs bill drafts and the bill ledger.
type Service struct {
	cfg        Config
	drafts     DraftStore
	ledger     LedgerRepository
	reconciler *Reconciler
	jobs       JobLookup
	audit      AuditPort
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewService builds the service.
func NewService(cfg Config, drafts DraftStore, ledger LedgerRepository, reconciler *Reconciler, jobs JobLookup, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BillNumberPrefix == "" {
		cfg.BillNumberPrefix = "INV"
	}
	return &Service{
		cfg:        cfg,
		drafts:     drafts,
		ledger:     ledger,
		reconciler: reconciler,
		jobs:       jobs,
		audit:      audit,
		logger:     logger.With("component", "billing"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// FormatBillNumber renders <prefix>-<seq> with a six digit sequence.
func FormatBillNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%06d", prefix, seq)
}

// GenerateNumber draws the next bill number.
func (s *Service) GenerateNumber(ctx context.Context) (string, error) {
	seq, err := s.ledger.NextBillNumber(ctx)
	if err != nil {
		return "", shared.Transient(err)
	}
	return FormatBillNumber(s.cfg.BillNumberPrefix, seq), nil
}

// CreateDraft opens an empty draft with a fresh bill number.
func (s *Service) CreateDraft(ctx context.Context, actor shared.Actor) (*Draft, error) {
	number, err := s.GenerateNumber(ctx)
	if err != nil {
		return nil, err
	}
	d := NewDraft(s.newID(), number, actor, s.now())
	if err := s.drafts.Save(ctx, draftKind, d.ID, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDraft loads a draft.
func (s *Service) GetDraft(ctx context.Context, id string) (*Draft, error) {
	var d Draft
	if err := s.drafts.Load(ctx, draftKind, id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DraftSummary is one entry of the open-draft list.
type DraftSummary struct {
	ID         string          `json:"id"`
	BillNumber string          `json:"billNumber"`
	State      DraftState      `json:"state"`
	Customer   string          `json:"customer"`
	Items      int             `json:"items"`
	SubTotal   decimal.Decimal `json:"subTotal"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// OpenDrafts lists live bill drafts, most recently touched first, so a draft
// can be picked up from another terminal.
func (s *Service) OpenDrafts(ctx context.Context) ([]DraftSummary, error) {
	ids, err := s.drafts.List(ctx, draftKind)
	if err != nil {
		return nil, err
	}
	out := make([]DraftSummary, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDraft(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, DraftSummary{
			ID:         d.ID,
			BillNumber: d.BillNumber,
			State:      d.State,
			Customer:   d.Customer.Name,
			Items:      len(d.Items),
			SubTotal:   d.SubTotal(),
			UpdatedAt:  d.UpdatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// mutate loads the draft, applies fn and stores the result. The draft moves
// to Editing on the first successful change.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Draft) error) (*Draft, error) {
	d, err := s.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.editable(); err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	d.touch(s.now())
	if err := s.drafts.Save(ctx, draftKind, d.ID, d); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateHeader edits date, bill maker, technician and customer.
func (s *Service) UpdateHeader(ctx context.Context, id string, h Header) (*Draft, error) {
	return s.mutate(ctx, id, func(d *Draft) error { return d.SetHeader(h) })
}

// LinkJob attaches a repair job and pre-fills the customer from it.
func (s *Service) LinkJob(ctx context.Context, id, ref string) (*Draft, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, shared.FieldErrors{"jobRef": "is required"}
	}
	if s.jobs == nil {
		return nil, shared.InvalidStatef("job lookup is not configured")
	}
	job, err := s.jobs.Details(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(d *Draft) error {
		d.JobRef = job.Ref
		d.Customer = Customer{
			Name:    job.Customer.Name,
			Contact: job.Customer.Phone,
			Email:   job.Customer.Email,
			Address: job.Customer.Address,
			Company: job.Customer.Company,
		}
		if d.Technician == "" {
			d.Technician = job.Technician
		}
		return nil
	})
}

// Mutation is a draft after a line change together with what happened to
// the affected line.
type Mutation struct {
	Draft *Draft `json:"draft"`
	Outcome
}

// AddManualItem appends a freehand line.
func (s *Service) AddManualItem(ctx context.Context, id string, in ManualItemInput) (Mutation, error) {
	var out Outcome
	d, err := s.mutate(ctx, id, func(d *Draft) error {
		item, err := s.reconciler.AddManualItem(d, in)
		out.Item = item
		return err
	})
	return Mutation{Draft: d, Outcome: out}, err
}

// AddStockItem appends one unit of a stock record.
func (s *Service) AddStockItem(ctx context.Context, id string, stockID int64) (Mutation, error) {
	var out Outcome
	d, err := s.mutate(ctx, id, func(d *Draft) error {
		item, err := s.reconciler.AddStockItem(ctx, d, stockID)
		out.Item = item
		return err
	})
	return Mutation{Draft: d, Outcome: out}, err
}

// AddTradeInItem appends a trade-in credit and, once the draft is stored,
// books the device into stock.
func (s *Service) AddTradeInItem(ctx context.Context, actor shared.Actor, id string, in TradeInInput) (Mutation, error) {
	var item LineItem
	d, err := s.mutate(ctx, id, func(d *Draft) error {
		staged, err := s.reconciler.StageTradeIn(d, in)
		item = staged
		return err
	})
	if err != nil {
		return Mutation{Draft: d}, err
	}
	return Mutation{Draft: d, Outcome: s.reconciler.PostTradeIn(ctx, actor, d, item, in)}, nil
}

// RemoveItem drops a line. A stock restore is queued for stock-backed lines
// after the draft is stored, so a failed store leaves stock untouched.
func (s *Service) RemoveItem(ctx context.Context, actor shared.Actor, id, itemID string) (Mutation, error) {
	var removed LineItem
	d, err := s.mutate(ctx, id, func(d *Draft) error {
		item, err := s.reconciler.RemoveItem(d, itemID)
		removed = item
		return err
	})
	if err != nil {
		return Mutation{Draft: d}, err
	}
	return Mutation{Draft: d, Outcome: s.reconciler.Compensate(ctx, actor, d, removed)}, nil
}

// EditAmount overrides one line amount.
func (s *Service) EditAmount(ctx context.Context, id, itemID string, amount decimal.Decimal) (*Draft, error) {
	return s.mutate(ctx, id, func(d *Draft) error { return s.reconciler.EditAmount(d, itemID, amount) })
}

// TogglePayment selects or deselects a tender type.
func (s *Service) TogglePayment(ctx context.Context, id string, method PaymentMethod) (*Draft, error) {
	return s.mutate(ctx, id, func(d *Draft) error { return d.TogglePayment(method) })
}

// SetPaymentAmount records the amount of a selected tender type.
func (s *Service) SetPaymentAmount(ctx context.Context, id string, method PaymentMethod, amount string) (*Draft, error) {
	return s.mutate(ctx, id, func(d *Draft) error { return d.SetPaymentAmount(method, amount) })
}

// SaveResult is the outcome of saving a draft.
type SaveResult struct {
	Draft   *Draft `json:"draft"`
	Bill    Bill   `json:"bill"`
	TaskID  string `json:"taskId,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// SaveDraft validates the draft, writes it to the ledger and queues the job
// close when a job is linked. The draft is kept in Saved state so the
// invoice can still be printed from it.
func (s *Service) SaveDraft(ctx context.Context, actor shared.Actor, id string) (SaveResult, error) {
	d, err := s.GetDraft(ctx, id)
	if err != nil {
		return SaveResult{}, err
	}
	bill, err := d.Bill()
	if err != nil {
		return SaveResult{}, err
	}
	saved, err := s.ledger.InsertBill(ctx, bill)
	if err != nil {
		return SaveResult{}, wrapIO(err)
	}
	d.MarkSaved(saved, s.now())
	if err := s.drafts.Save(ctx, draftKind, d.ID, d); err != nil {
		s.logger.Warn("persist saved draft failed", slog.String("bill", saved.BillNumber), slog.Any("error", err))
	}
	s.recordAudit(ctx, actor, "BILL_SAVE", saved.BillNumber, map[string]any{"subTotal": saved.SubTotal.String(), "jobRef": saved.JobRef})

	res := SaveResult{Draft: d, Bill: saved}
	res.TaskID, res.Warning = s.reconciler.closeJob(ctx, actor, d)
	return res, nil
}

// CloseDraft discards the draft. A draft with lines can only be closed after
// save or with an emergency confirmation.
func (s *Service) CloseDraft(ctx context.Context, actor shared.Actor, id string, emergency bool) error {
	d, err := s.GetDraft(ctx, id)
	if err != nil {
		return err
	}
	if err := d.CheckClose(emergency); err != nil {
		return err
	}
	if emergency && d.State != DraftSaved && len(d.Items) > 0 {
		s.logger.Warn("emergency close of unsaved bill draft",
			slog.String("bill", d.BillNumber), slog.Int("items", len(d.Items)), slog.String("actor", actor.Label()))
	}
	return s.drafts.Delete(ctx, draftKind, id)
}

// DraftBill returns the ledger bill of a saved draft.
func (s *Service) DraftBill(ctx context.Context, id string) (Bill, error) {
	d, err := s.GetDraft(ctx, id)
	if err != nil {
		return Bill{}, err
	}
	if d.State != DraftSaved {
		return Bill{}, ErrDraftNotSaved
	}
	return s.GetBill(ctx, d.BillID)
}

// BillInput is a bill submitted or replaced directly on the ledger.
type BillInput struct {
	BillNumber string
	Date       time.Time
	BillMaker  string
	Technician string
	JobRef     string
	Customer   Customer
	Items      []LineItem
	Payments   []Payment
}

func (s *Service) buildBill(in BillInput) (Bill, error) {
	in.Customer = trimCustomer(in.Customer)
	if err := validateBillContent(in.Customer, in.Items, in.Payments); err != nil {
		return Bill{}, err
	}
	payments, err := parsePayments(in.Payments)
	if err != nil {
		return Bill{}, err
	}
	items := make([]LineItem, len(in.Items))
	for i, item := range in.Items {
		if item.ID == "" {
			item.ID = s.newID()
		}
		if item.Origin == "" {
			item.Origin = OriginManual
		}
		if !item.Origin.Valid() {
			return Bill{}, shared.FieldErrors{fmt.Sprintf("items.%d.origin", i): "is not a known origin"}
		}
		item.UnitPrice = round2(item.UnitPrice)
		item.Amount = round2(item.Amount)
		items[i] = item
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	return Bill{
		BillNumber: strings.TrimSpace(in.BillNumber),
		Date:       date,
		BillMaker:  strings.TrimSpace(in.BillMaker),
		Technician: strings.TrimSpace(in.Technician),
		JobRef:     strings.TrimSpace(in.JobRef),
		Customer:   in.Customer,
		Items:      items,
		Payments:   payments,
		SubTotal:   SubTotal(items),
		Profit:     Profit(items),
	}, nil
}

// CreateBill records a bill without a draft. A blank bill number draws the
// next one from the sequence.
func (s *Service) CreateBill(ctx context.Context, actor shared.Actor, in BillInput) (Bill, error) {
	bill, err := s.buildBill(in)
	if err != nil {
		return Bill{}, err
	}
	if bill.BillNumber == "" {
		if bill.BillNumber, err = s.GenerateNumber(ctx); err != nil {
			return Bill{}, err
		}
	}
	if bill.BillMaker == "" {
		bill.BillMaker = actor.Label()
	}
	saved, err := s.ledger.InsertBill(ctx, bill)
	if err != nil {
		return Bill{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "BILL_CREATE", saved.BillNumber, map[string]any{"subTotal": saved.SubTotal.String()})
	return saved, nil
}

// ReplaceBill overwrites every field of a saved bill.
func (s *Service) ReplaceBill(ctx context.Context, actor shared.Actor, id int64, in BillInput) (Bill, error) {
	bill, err := s.buildBill(in)
	if err != nil {
		return Bill{}, err
	}
	if bill.BillNumber == "" {
		return Bill{}, shared.FieldErrors{"billNumber": "is required"}
	}
	saved, err := s.ledger.ReplaceBill(ctx, id, bill)
	if err != nil {
		return Bill{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "BILL_REPLACE", saved.BillNumber, map[string]any{"subTotal": saved.SubTotal.String()})
	return saved, nil
}

// UpdatePayments replaces the tender list of a saved bill.
func (s *Service) UpdatePayments(ctx context.Context, actor shared.Actor, id int64, payments []Payment) (Bill, error) {
	fields := shared.FieldErrors{}
	seen := make(map[PaymentMethod]bool, len(payments))
	for _, p := range payments {
		if _, err := ParsePaymentMethod(string(p.Method)); err != nil {
			fields.Add("payments", err.Error())
		}
		if seen[p.Method] {
			fields.Add("payments."+string(p.Method), "is listed twice")
		}
		seen[p.Method] = true
	}
	validatePayments(fields, payments)
	if err := fields.Err(); err != nil {
		return Bill{}, err
	}
	parsed, err := parsePayments(payments)
	if err != nil {
		return Bill{}, err
	}
	saved, err := s.ledger.UpdatePayments(ctx, id, parsed)
	if err != nil {
		return Bill{}, wrapIO(err)
	}
	s.recordAudit(ctx, actor, "BILL_PAYMENTS", saved.BillNumber, map[string]any{"payments": len(parsed)})
	return saved, nil
}

// GetBill loads one bill.
func (s *Service) GetBill(ctx context.Context, id int64) (Bill, error) {
	bill, err := s.ledger.GetBill(ctx, id)
	if err != nil {
		return Bill{}, wrapIO(err)
	}
	return bill, nil
}

// GetBillByNumber loads one bill by its number.
func (s *Service) GetBillByNumber(ctx context.Context, number string) (Bill, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return Bill{}, shared.Validationf("bill number is required")
	}
	bill, err := s.ledger.GetBillByNumber(ctx, number)
	if err != nil {
		return Bill{}, wrapIO(err)
	}
	return bill, nil
}

// ListBills returns a page of bills, newest first.
func (s *Service) ListBills(ctx context.Context, filter ListFilter) ([]Bill, shared.Pagination, error) {
	if filter.Page.PerPage <= 0 {
		filter.Page = shared.PageRequest{Page: 1, PerPage: 50}
	}
	filter.Search = strings.TrimSpace(filter.Search)
	bills, total, err := s.ledger.ListBills(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, wrapIO(err)
	}
	return bills, shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total), nil
}

// BillsIn returns every bill dated inside w, oldest first.
func (s *Service) BillsIn(ctx context.Context, w Window) ([]Bill, error) {
	bills, err := s.ledger.BillsBetween(ctx, w.Start(), w.End())
	if err != nil {
		return nil, wrapIO(err)
	}
	return bills, nil
}

// PaymentTotals aggregates tender amounts over w.
func (s *Service) PaymentTotals(ctx context.Context, w Window) (PaymentSummary, error) {
	bills, err := s.BillsIn(ctx, w)
	if err != nil {
		return PaymentSummary{}, err
	}
	return AggregatePayments(w, bills), nil
}

// Today returns the current day window.
func (s *Service) Today() Window {
	return NewWindow(nil, nil, s.now())
}

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

func wrapIO(err error) error {
	for _, known := range []error{shared.ErrNotFound, shared.ErrConflict, shared.ErrValidation, shared.ErrInvalidState, shared.ErrAuthorization} {
		if errors.Is(err, known) {
			return err
		}
	}
	return shared.Transient(err)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, number string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditEntry{Actor: actor, Action: action, Entity: "bill", EntityID: number, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.String("bill", number), slog.Any("error", err))
	}
}
