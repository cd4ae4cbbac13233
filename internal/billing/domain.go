package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// Origin tells where a bill line came from; it decides what removing the
// line does to stock.
type Origin string

const (
	// OriginManual is a freehand line typed by the bill maker.
	OriginManual Origin = "manual-description"
	// OriginStock is a line picked from the stock catalog.
	OriginStock Origin = "stock-backed"
	// OriginTradeIn is a customer-surrendered device credited against the bill.
	OriginTradeIn Origin = "trade-in"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginManual, OriginStock, OriginTradeIn:
		return true
	}
	return false
}

// PaymentMethod names a tender type.
type PaymentMethod string

// Supported tender types, in display order.
const (
	PaymentCardVisa       PaymentMethod = "Card - Visa"
	PaymentCardMasterCard PaymentMethod = "Card - MasterCard"
	PaymentBankTransfer   PaymentMethod = "Bank Transfer"
	PaymentKOKO           PaymentMethod = "KOKO"
	PaymentCash           PaymentMethod = "Cash"
	PaymentCheque         PaymentMethod = "Cheque"
	PaymentCredit         PaymentMethod = "Credit"
	PaymentHalfPayment    PaymentMethod = "Half-Payment"
)

// PaymentMethods lists every tender type in display order.
var PaymentMethods = []PaymentMethod{
	PaymentCardVisa, PaymentCardMasterCard, PaymentBankTransfer, PaymentKOKO,
	PaymentCash, PaymentCheque, PaymentCredit, PaymentHalfPayment,
}

// ParsePaymentMethod validates a raw method name.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	for _, m := range PaymentMethods {
		if string(m) == raw {
			return m, nil
		}
	}
	return "", shared.Validationf("unknown payment method %q", raw)
}

var (
	// ErrDraftSaved is returned when a saved draft is mutated.
	ErrDraftSaved = fmt.Errorf("%w: bill draft already saved", shared.ErrInvalidState)
	// ErrDraftNotSaved is returned when the invoice is requested before save.
	ErrDraftNotSaved = fmt.Errorf("%w: invoice is available after the bill is saved", shared.ErrInvalidState)
	// ErrDraftHasItems blocks a non-emergency close.
	ErrDraftHasItems = fmt.Errorf("%w: remove all items or confirm an emergency close", shared.ErrInvalidState)
	// ErrItemNotFound is returned for unknown line ids.
	ErrItemNotFound = fmt.Errorf("%w: bill line item", shared.ErrNotFound)
	// ErrBillNotFound is returned for unknown bills.
	ErrBillNotFound = fmt.Errorf("%w: bill", shared.ErrNotFound)
	// ErrDuplicateBillNumber is returned when a bill number is reused.
	ErrDuplicateBillNumber = fmt.Errorf("%w: bill number already used", shared.ErrConflict)
	// ErrDiscountPIN is returned when a discount-like description lacks the right PIN.
	ErrDiscountPIN = fmt.Errorf("%w: discount lines need a valid PIN", shared.ErrAuthorization)
)

// LineItem is one row of a bill.
type LineItem struct {
	ID        string          `json:"id"`
	Origin    Origin          `json:"origin"`
	Label     string          `json:"label"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Amount    decimal.Decimal `json:"amount"`
	// Stock snapshot, set for stock-backed lines only.
	StockID    int64           `json:"stockId,omitempty"`
	Category   string          `json:"category,omitempty"`
	Key        string          `json:"key,omitempty"`
	StockLabel string          `json:"stockLabel,omitempty"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// Customer is the billed party.
type Customer struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Company string `json:"company"`
}

// Payment is a selected tender with the amount as typed; an empty amount
// means the method was ticked but not filled in.
type Payment struct {
	Method PaymentMethod `json:"method"`
	Amount string        `json:"amount"`
}

// BillPayment is a tender on a persisted bill.
type BillPayment struct {
	Method PaymentMethod   `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// Bill is a finalized, persisted sale.
type Bill struct {
	ID         int64           `json:"id"`
	BillNumber string          `json:"billNumber"`
	Date       time.Time       `json:"date"`
	BillMaker  string          `json:"billMaker"`
	Technician string          `json:"technician"`
	JobRef     string          `json:"jobRef"`
	Customer   Customer        `json:"customer"`
	Items      []LineItem      `json:"items"`
	Payments   []BillPayment   `json:"payments"`
	SubTotal   decimal.Decimal `json:"subTotal"`
	Profit     decimal.Decimal `json:"billProfit"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// PaymentTotal returns the sum of payments made with method.
func (b Bill) PaymentTotal(method PaymentMethod) decimal.Decimal {
	total := decimal.Zero
	for _, p := range b.Payments {
		if p.Method == method {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// ListFilter narrows ledger listings. From and To are inclusive calendar days.
type ListFilter struct {
	Search string
	From   *time.Time
	To     *time.Time
	Page   shared.PageRequest
}

// round2 rounds half away from zero to two decimals.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SubTotal sums line amounts, rounded to two decimals.
func SubTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return round2(total)
}

// Profit sums (amount - unitPrice) over items; unitPrice is not multiplied
// by quantity.
func Profit(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount.Sub(item.UnitPrice))
	}
	return round2(total)
}
