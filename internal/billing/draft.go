package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// DraftState is the lifecycle position of a bill draft.
type DraftState string

const (
	// DraftEmpty is a freshly opened draft.
	DraftEmpty DraftState = "empty"
	// DraftEditing is a draft that has been changed at least once.
	DraftEditing DraftState = "editing"
	// DraftSaved is a draft submitted to the ledger. It no longer changes.
	DraftSaved DraftState = "saved"
)

// Draft is an unsaved invoice owned by one editing session.
type Draft struct {
	ID         string     `json:"id"`
	BillNumber string     `json:"billNumber"`
	State      DraftState `json:"state"`
	Date       time.Time  `json:"date"`
	BillMaker  string     `json:"billMaker"`
	Technician string     `json:"technician"`
	JobRef     string     `json:"jobRef"`
	Customer   Customer   `json:"customer"`
	Payments   []Payment  `json:"payments"`
	Items      []LineItem `json:"items"`
	BillID     int64      `json:"billId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// NewDraft opens an empty draft. The bill number is fixed for its lifetime.
func NewDraft(id, billNumber string, maker shared.Actor, now time.Time) *Draft {
	return &Draft{
		ID:         id,
		BillNumber: billNumber,
		State:      DraftEmpty,
		Date:       now,
		BillMaker:  maker.Label(),
		Payments:   []Payment{},
		Items:      []LineItem{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SubTotal is the rounded sum of line amounts.
func (d *Draft) SubTotal() decimal.Decimal {
	return SubTotal(d.Items)
}

// Profit is the margin heuristic sum(amount - unitPrice).
func (d *Draft) Profit() decimal.Decimal {
	return Profit(d.Items)
}

func (d *Draft) editable() error {
	if d.State == DraftSaved {
		return ErrDraftSaved
	}
	return nil
}

func (d *Draft) touch(now time.Time) {
	if d.State == DraftEmpty {
		d.State = DraftEditing
	}
	d.UpdatedAt = now
}

func (d *Draft) appendItem(item LineItem) {
	d.Items = append(d.Items, item)
}

func (d *Draft) removeItem(id string) (LineItem, error) {
	for i, item := range d.Items {
		if item.ID == id {
			d.Items = append(d.Items[:i:i], d.Items[i+1:]...)
			return item, nil
		}
	}
	return LineItem{}, ErrItemNotFound
}

// EditAmount overwrites the amount of a line. Quantity and unit price are
// left untouched and no consistency check is made against them.
func (d *Draft) EditAmount(id string, amount decimal.Decimal) error {
	if err := d.editable(); err != nil {
		return err
	}
	for i := range d.Items {
		if d.Items[i].ID == id {
			d.Items[i].Amount = round2(amount)
			return nil
		}
	}
	return ErrItemNotFound
}

// TogglePayment adds method with an empty amount, or removes it when already
// selected. A removed amount is not remembered.
func (d *Draft) TogglePayment(method PaymentMethod) error {
	if err := d.editable(); err != nil {
		return err
	}
	for i, p := range d.Payments {
		if p.Method == method {
			d.Payments = append(d.Payments[:i:i], d.Payments[i+1:]...)
			return nil
		}
	}
	d.Payments = append(d.Payments, Payment{Method: method, Amount: ""})
	return nil
}

// SetPaymentAmount records the typed amount of a selected method.
func (d *Draft) SetPaymentAmount(method PaymentMethod, amount string) error {
	if err := d.editable(); err != nil {
		return err
	}
	amount = strings.TrimSpace(amount)
	if amount != "" {
		if _, err := decimal.NewFromString(amount); err != nil {
			return shared.FieldErrors{"amount": "must be a number"}
		}
	}
	for i := range d.Payments {
		if d.Payments[i].Method == method {
			d.Payments[i].Amount = amount
			return nil
		}
	}
	return shared.Validationf("payment method %q is not selected", method)
}

// Header carries the editable draft header fields; nil leaves a field as is.
type Header struct {
	Date       *time.Time
	BillMaker  *string
	Technician *string
	Customer   *Customer
}

// SetHeader applies header changes.
func (d *Draft) SetHeader(h Header) error {
	if err := d.editable(); err != nil {
		return err
	}
	if h.Date != nil && !h.Date.IsZero() {
		d.Date = *h.Date
	}
	if h.BillMaker != nil {
		d.BillMaker = strings.TrimSpace(*h.BillMaker)
	}
	if h.Technician != nil {
		d.Technician = strings.TrimSpace(*h.Technician)
	}
	if h.Customer != nil {
		d.Customer = trimCustomer(*h.Customer)
	}
	return nil
}

func trimCustomer(c Customer) Customer {
	return Customer{
		Name:    strings.TrimSpace(c.Name),
		Contact: strings.TrimSpace(c.Contact),
		Email:   strings.TrimSpace(c.Email),
		Address: strings.TrimSpace(c.Address),
		Company: strings.TrimSpace(c.Company),
	}
}

// ValidateForSave checks the customer name, that there is at least one line,
// and that every selected payment method carries a numeric amount.
func (d *Draft) ValidateForSave() error {
	if err := d.editable(); err != nil {
		return err
	}
	return validateBillContent(d.Customer, d.Items, d.Payments)
}

func validateBillContent(customer Customer, items []LineItem, payments []Payment) error {
	fields := shared.FieldErrors{}
	if strings.TrimSpace(customer.Name) == "" {
		fields.Add("customer.name", "is required")
	}
	if len(items) == 0 {
		fields.Add("items", "at least one item is required")
	}
	validatePayments(fields, payments)
	return fields.Err()
}

func validatePayments(fields shared.FieldErrors, payments []Payment) {
	for _, p := range payments {
		key := "payments." + string(p.Method)
		if strings.TrimSpace(p.Amount) == "" {
			fields.Add(key, "amount is required")
			continue
		}
		if _, err := decimal.NewFromString(strings.TrimSpace(p.Amount)); err != nil {
			fields.Add(key, "must be a number")
		}
	}
}

// Bill builds the ledger record submitted on save.
func (d *Draft) Bill() (Bill, error) {
	if err := d.ValidateForSave(); err != nil {
		return Bill{}, err
	}
	payments, err := parsePayments(d.Payments)
	if err != nil {
		return Bill{}, err
	}
	items := make([]LineItem, len(d.Items))
	copy(items, d.Items)
	return Bill{
		BillNumber: d.BillNumber,
		Date:       d.Date,
		BillMaker:  d.BillMaker,
		Technician: d.Technician,
		JobRef:     d.JobRef,
		Customer:   d.Customer,
		Items:      items,
		Payments:   payments,
		SubTotal:   d.SubTotal(),
		Profit:     d.Profit(),
	}, nil
}

func parsePayments(payments []Payment) ([]BillPayment, error) {
	out := make([]BillPayment, 0, len(payments))
	for _, p := range payments {
		amount, err := decimal.NewFromString(strings.TrimSpace(p.Amount))
		if err != nil {
			return nil, shared.FieldErrors{"payments." + string(p.Method): "must be a number"}
		}
		out = append(out, BillPayment{Method: p.Method, Amount: round2(amount)})
	}
	return out, nil
}

// MarkSaved moves the draft to Saved after the ledger accepted bill.
func (d *Draft) MarkSaved(bill Bill, now time.Time) {
	d.State = DraftSaved
	d.BillID = bill.ID
	d.UpdatedAt = now
}

// CheckClose allows closing an empty draft, a saved draft, or any draft when
// the caller confirms an emergency close.
func (d *Draft) CheckClose(emergency bool) error {
	if d.State == DraftSaved || len(d.Items) == 0 || emergency {
		return nil
	}
	return ErrDraftHasItems
}
