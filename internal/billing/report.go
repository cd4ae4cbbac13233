package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Window is an inclusive range of calendar days.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow resolves optional bounds against now. Missing bounds collapse to
// the other bound, or to the day of now when both are missing.
func NewWindow(from, to *time.Time, now time.Time) Window {
	switch {
	case from == nil && to == nil:
		day := startOfDay(now)
		return Window{From: day, To: day}
	case from == nil:
		day := startOfDay(*to)
		return Window{From: day, To: day}
	case to == nil:
		day := startOfDay(*from)
		return Window{From: day, To: day}
	}
	w := Window{From: startOfDay(*from), To: startOfDay(*to)}
	if w.To.Before(w.From) {
		w.From, w.To = w.To, w.From
	}
	return w
}

// Start is the first instant inside the window.
func (w Window) Start() time.Time { return w.From }

// End is the first instant after the window.
func (w Window) End() time.Time { return w.To.AddDate(0, 0, 1) }

// Contains reports whether t falls on one of the window's days.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start()) && t.Before(w.End())
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// MethodTotal is the amount taken with one tender type.
type MethodTotal struct {
	Method PaymentMethod   `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// PaymentSummary aggregates payments over a set of bills.
type PaymentSummary struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Bills      int             `json:"bills"`
	Totals     []MethodTotal   `json:"totals"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
}

// AggregatePayments totals payments per method, listing every method in
// display order even when nothing was taken with it.
func AggregatePayments(w Window, bills []Bill) PaymentSummary {
	sums := make(map[PaymentMethod]decimal.Decimal, len(PaymentMethods))
	count := 0
	for _, b := range bills {
		if !w.Contains(b.Date) {
			continue
		}
		count++
		for _, p := range b.Payments {
			sums[p.Method] = sums[p.Method].Add(p.Amount)
		}
	}
	out := PaymentSummary{
		From:       w.From.Format("2006-01-02"),
		To:         w.To.Format("2006-01-02"),
		Bills:      count,
		Totals:     make([]MethodTotal, 0, len(PaymentMethods)),
		GrandTotal: decimal.Zero,
	}
	for _, m := range PaymentMethods {
		amount := round2(sums[m])
		out.Totals = append(out.Totals, MethodTotal{Method: m, Amount: amount})
		out.GrandTotal = out.GrandTotal.Add(amount)
	}
	return out
}

// ExportFilename is YYYY.MM.DD.xlsx for day.
func ExportFilename(day time.Time) string {
	return day.Format("2006.01.02") + ".xlsx"
}

// QuickExportFilename is QuickBills-YYYY.MM.DD.xlsx for day.
func QuickExportFilename(day time.Time) string {
	return "QuickBills-" + ExportFilename(day)
}
