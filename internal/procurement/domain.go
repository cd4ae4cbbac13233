// Package procurement handles goods received notes (GRNs) and suppliers.
package procurement

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/inventory"
	"github.com/repairdesk/repairdesk/internal/shared"
)

// PaymentMethod is how a supplier invoice is settled.
type PaymentMethod string

// Supported GRN payment methods.
const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCredit       PaymentMethod = "credit"
	PaymentCheque       PaymentMethod = "cheque"
	PaymentBankTransfer PaymentMethod = "banktransfer"
	PaymentCard         PaymentMethod = "card"
	PaymentHalfPayment  PaymentMethod = "halfpayment"
	PaymentOther        PaymentMethod = "other"
)

// PaymentMethods lists the GRN payment methods in display order.
var PaymentMethods = []PaymentMethod{
	PaymentCash, PaymentCredit, PaymentCheque, PaymentBankTransfer, PaymentCard, PaymentHalfPayment, PaymentOther,
}

// ParsePaymentMethod validates raw, accepting display spellings such as
// "BANK-TRANSFER".
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", " ", "", "_", "").Replace(strings.TrimSpace(raw)))
	for _, m := range PaymentMethods {
		if string(m) == norm {
			return m, nil
		}
	}
	return "", shared.FieldErrors{"paymentMethodOfGRN": fmt.Sprintf("unknown payment method %q", raw)}
}

var (
	// ErrGRNNotFound is returned for unknown GRNs.
	ErrGRNNotFound = fmt.Errorf("%w: grn", shared.ErrNotFound)
	// ErrLineNotFound is returned for unknown draft line ids.
	ErrLineNotFound = fmt.Errorf("%w: grn line", shared.ErrNotFound)
	// ErrSupplierNotFound is returned for unknown suppliers.
	ErrSupplierNotFound = fmt.Errorf("%w: supplier", shared.ErrNotFound)
	// ErrDuplicateSupplier is returned when a supplier name is reused.
	ErrDuplicateSupplier = fmt.Errorf("%w: supplier already exists", shared.ErrConflict)
	// ErrNothingToCommit is returned when committing an empty draft.
	ErrNothingToCommit = fmt.Errorf("%w: add at least one item before updating stock", shared.ErrValidation)
	// ErrNotCommitted blocks saving before stock was updated.
	ErrNotCommitted = fmt.Errorf("%w: update stock before saving the grn", shared.ErrInvalidState)
	// ErrDraftSaved is returned when a saved draft is changed.
	ErrDraftSaved = fmt.Errorf("%w: grn draft already saved", shared.ErrInvalidState)
	// ErrDraftHasItems blocks closing a draft that still has lines.
	ErrDraftHasItems = fmt.Errorf("%w: remove all items before closing the grn", shared.ErrInvalidState)
)

// Line is one received item.
type Line struct {
	ID         string               `json:"id"`
	Category   inventory.Category   `json:"category"`
	Key        string               `json:"key"`
	Label      string               `json:"label"`
	Qty        int                  `json:"qty"`
	UnitPrice  decimal.Decimal      `json:"unitPrice"`
	Attributes inventory.Attributes `json:"attributes"`
	LineTotal  decimal.Decimal      `json:"lineTotal"`
}

// UnmarshalJSON decodes attributes according to the line category.
func (l *Line) UnmarshalJSON(data []byte) error {
	type alias Line
	var raw struct {
		alias
		Attributes json.RawMessage `json:"attributes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = Line(raw.alias)
	l.Attributes = nil
	if len(raw.Attributes) == 0 || string(raw.Attributes) == "null" {
		return nil
	}
	attrs, err := inventory.DecodeAttributes(raw.alias.Category, raw.Attributes)
	if err != nil {
		return err
	}
	l.Attributes = attrs
	return nil
}

// receiveInput is the stock movement booked for the line.
func (l Line) receiveInput() inventory.ReceiveInput {
	return inventory.ReceiveInput{
		Category:   l.Category,
		Key:        l.Key,
		Label:      l.Label,
		Qty:        l.Qty,
		UnitPrice:  l.UnitPrice,
		Attributes: l.Attributes,
	}
}

// GRN is a persisted goods received note.
type GRN struct {
	ID            int64           `json:"id"`
	Date          time.Time       `json:"date"`
	Invoice       string          `json:"invoice"`
	Supplier      string          `json:"supplier"`
	Items         []Line          `json:"items"`
	GrandTotal    decimal.Decimal `json:"grandTotal"`
	PaymentMethod PaymentMethod   `json:"paymentMethodOfGRN"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	Remarks       string          `json:"remarks"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Outstanding is the unpaid part of the grand total.
func (g GRN) Outstanding() decimal.Decimal {
	return g.GrandTotal.Sub(g.PaidAmount)
}

// GRNPatch updates settlement fields; nil leaves a field unchanged.
type GRNPatch struct {
	PaymentMethod *PaymentMethod
	PaidAmount    *decimal.Decimal
	Remarks       *string
}

// ListFilter narrows GRN listings.
type ListFilter struct {
	Supplier string
	Page     shared.PageRequest
}

// Supplier is a vendor goods are received from.
type Supplier struct {
	ID           int64     `json:"id"`
	Name         string    `json:"supplierName"`
	ContactPhone string    `json:"contactPhone"`
	ContactEmail string    `json:"contactEmail"`
	Location     string    `json:"location"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SupplierTotal is one row of the per-supplier GRN summary.
type SupplierTotal struct {
	Supplier   string          `json:"supplier"`
	GRNCount   int             `json:"grnCount"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	PaidTotal  decimal.Decimal `json:"paidTotal"`
	LastGRNAt  *time.Time      `json:"lastGrnAt,omitempty"`
}

// GrandTotal sums line totals.
func GrandTotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal)
	}
	return total.Round(2)
}
