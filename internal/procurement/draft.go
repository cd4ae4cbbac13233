package procurement

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/inventory"
	"github.com/repairdesk/repairdesk/internal/shared"
)

// DraftState is the lifecycle position of a GRN draft.
type DraftState string

// GRN draft states.
const (
	DraftEmpty          DraftState = "empty"
	DraftEditing        DraftState = "editing"
	DraftStockCommitted DraftState = "stock_committed"
	DraftSaved          DraftState = "saved"
)

// Draft is a GRN being entered.
type Draft struct {
	ID            string        `json:"id"`
	State         DraftState    `json:"state"`
	Date          time.Time     `json:"date"`
	Invoice       string        `json:"invoice"`
	Supplier      string        `json:"supplier"`
	PaymentMethod PaymentMethod `json:"paymentMethodOfGRN"`
	Items         []Line        `json:"items"`
	// Commits counts stock commits since the last line change.
	Commits   int       `json:"commits"`
	LastToken string    `json:"lastToken,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewDraft opens an empty GRN draft dated now.
func NewDraft(id string, now time.Time) *Draft {
	return &Draft{ID: id, State: DraftEmpty, Date: now, Items: []Line{}, CreatedAt: now, UpdatedAt: now}
}

// GrandTotal sums line totals.
func (d *Draft) GrandTotal() decimal.Decimal {
	return GrandTotal(d.Items)
}

func (d *Draft) editable() error {
	if d.State == DraftSaved {
		return ErrDraftSaved
	}
	return nil
}

// linesChanged drops a previous stock commit: the new set of lines has not
// been booked yet.
func (d *Draft) linesChanged(now time.Time) {
	d.State = DraftEditing
	d.Commits = 0
	d.UpdatedAt = now
}

// LineInput is a line as typed on the GRN form.
type LineInput struct {
	Category   string
	Key        string
	Label      string
	Qty        int
	UnitPrice  *decimal.Decimal
	Attributes inventory.Attributes
}

// BuildLine validates in and computes the line total.
func BuildLine(id string, in LineInput) (Line, error) {
	fields := shared.FieldErrors{}
	category, err := inventory.ParseCategory(in.Category)
	if err != nil {
		fields.Add("category", "is required")
	}
	key := strings.TrimSpace(in.Key)
	if key == "" {
		fields.Add("key", "is required")
	}
	if in.Qty <= 0 {
		fields.Add("qty", "must be greater than zero")
	}
	if in.UnitPrice == nil {
		fields.Add("unitPrice", "is required")
	} else if in.UnitPrice.IsNegative() {
		fields.Add("unitPrice", "must not be negative")
	}
	if err := fields.Err(); err != nil {
		return Line{}, err
	}
	if err := inventory.ValidateAttributes(category, in.Attributes); err != nil {
		return Line{}, err
	}
	label := strings.TrimSpace(in.Label)
	if label == "" {
		label = inventory.DefaultLabel(key)
	}
	price := *in.UnitPrice
	return Line{
		ID:         id,
		Category:   category,
		Key:        key,
		Label:      label,
		Qty:        in.Qty,
		UnitPrice:  price,
		Attributes: inventory.NormalizeAttributes(in.Attributes),
		LineTotal:  price.Mul(decimal.NewFromInt(int64(in.Qty))).Round(2),
	}, nil
}

// AddLine appends a validated line.
func (d *Draft) AddLine(line Line, now time.Time) error {
	if err := d.editable(); err != nil {
		return err
	}
	d.Items = append(d.Items, line)
	d.linesChanged(now)
	return nil
}

// RemoveLine drops a line.
func (d *Draft) RemoveLine(id string, now time.Time) error {
	if err := d.editable(); err != nil {
		return err
	}
	for i, l := range d.Items {
		if l.ID == id {
			d.Items = append(d.Items[:i:i], d.Items[i+1:]...)
			d.linesChanged(now)
			if len(d.Items) == 0 {
				d.State = DraftEmpty
			}
			return nil
		}
	}
	return ErrLineNotFound
}

// Header carries editable GRN header fields; nil leaves a field as is.
type Header struct {
	Date          *time.Time
	Invoice       *string
	Supplier      *string
	PaymentMethod *PaymentMethod
}

// SetHeader applies header changes. Header edits keep a stock commit.
func (d *Draft) SetHeader(h Header, now time.Time) error {
	if err := d.editable(); err != nil {
		return err
	}
	if h.Date != nil && !h.Date.IsZero() {
		d.Date = *h.Date
	}
	if h.Invoice != nil {
		d.Invoice = strings.TrimSpace(*h.Invoice)
	}
	if h.Supplier != nil {
		d.Supplier = strings.TrimSpace(*h.Supplier)
	}
	if h.PaymentMethod != nil {
		d.PaymentMethod = *h.PaymentMethod
	}
	if d.State == DraftEmpty {
		d.State = DraftEditing
	}
	d.UpdatedAt = now
	return nil
}

// receiveInputs lists the stock movements of every line.
func (d *Draft) receiveInputs() []inventory.ReceiveInput {
	out := make([]inventory.ReceiveInput, len(d.Items))
	for i, l := range d.Items {
		out[i] = l.receiveInput()
	}
	return out
}

// MarkCommitted records a successful stock commit.
func (d *Draft) MarkCommitted(token string, now time.Time) {
	d.State = DraftStockCommitted
	d.Commits++
	d.LastToken = token
	d.UpdatedAt = now
}

// ValidateForSave checks that stock was updated and that supplier, lines and
// payment method are present.
func (d *Draft) ValidateForSave() error {
	if err := d.editable(); err != nil {
		return err
	}
	fields := shared.FieldErrors{}
	if d.Supplier == "" {
		fields.Add("supplier", "is required")
	}
	if len(d.Items) == 0 {
		fields.Add("items", "at least one item is required")
	}
	if d.PaymentMethod == "" {
		fields.Add("paymentMethodOfGRN", "is required")
	}
	if err := fields.Err(); err != nil {
		return err
	}
	if d.State != DraftStockCommitted {
		return ErrNotCommitted
	}
	return nil
}

// GRN builds the record persisted on save.
func (d *Draft) GRN() GRN {
	items := make([]Line, len(d.Items))
	copy(items, d.Items)
	return GRN{
		Date:          d.Date,
		Invoice:       d.Invoice,
		Supplier:      d.Supplier,
		Items:         items,
		GrandTotal:    d.GrandTotal(),
		PaymentMethod: d.PaymentMethod,
		PaidAmount:    decimal.Zero,
	}
}

// CheckClose allows closing only a draft without lines.
func (d *Draft) CheckClose() error {
	if d.State == DraftSaved || len(d.Items) == 0 {
		return nil
	}
	return ErrDraftHasItems
}
