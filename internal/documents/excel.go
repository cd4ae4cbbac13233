package documents

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/repairdesk/repairdesk/internal/billing"
)

const (
	billsSheet      = "Bills Report"
	quickBillsSheet = "Quick Bills"
)

var billsHeader = []any{
	"Bill_Number", "Bill_Date", "Job_Ref", "Customer_Name", "Customer_Contact", "Bill_Maker", "Technician",
	"Subtotal", "Profit", "Payment_Details", "Item_Label", "Qty", "Unit_Price", "Amount",
}

// Workbooks builds the bill spreadsheets. It implements billing.Exporter.
type Workbooks struct{}

// BillsWorkbook writes one row per bill item with a blank row after each bill.
func (Workbooks) BillsWorkbook(bills []billing.Bill) ([]byte, error) {
	f, sheet, err := newWorkbook(billsSheet)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if err := f.SetSheetRow(sheet, "A1", &billsHeader); err != nil {
		return nil, fmt.Errorf("bills header: %w", err)
	}
	row := 2
	for _, bill := range bills {
		for _, item := range bill.Items {
			values := []any{
				bill.BillNumber,
				bill.Date.Format("2006-01-02"),
				bill.JobRef,
				bill.Customer.Name,
				bill.Customer.Contact,
				bill.BillMaker,
				bill.Technician,
				bill.SubTotal.InexactFloat64(),
				bill.Profit.InexactFloat64(),
				paymentDetails(bill),
				item.Label,
				item.Qty,
				item.UnitPrice.InexactFloat64(),
				item.Amount.InexactFloat64(),
			}
			if err := setRow(f, sheet, row, values); err != nil {
				return nil, err
			}
			row++
		}
		row++
	}
	return write(f)
}

// QuickBillsWorkbook writes one row per bill with a column per payment method.
func (Workbooks) QuickBillsWorkbook(bills []billing.Bill) ([]byte, error) {
	f, sheet, err := newWorkbook(quickBillsSheet)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	header := []any{"Bill No", "Date", "Customer Name", "Total"}
	for _, m := range billing.PaymentMethods {
		header = append(header, string(m))
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("quick bills header: %w", err)
	}
	for i, bill := range bills {
		values := []any{bill.BillNumber, bill.Date.Format("2006-01-02"), bill.Customer.Name, bill.SubTotal.InexactFloat64()}
		for _, m := range billing.PaymentMethods {
			values = append(values, bill.PaymentTotal(m).InexactFloat64())
		}
		if err := setRow(f, sheet, i+2, values); err != nil {
			return nil, err
		}
	}
	return write(f)
}

func newWorkbook(sheet string) (*excelize.File, string, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheet); err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("name sheet: %w", err)
	}
	return f, sheet, nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("row %d: %w", row, err)
	}
	return nil
}

func write(f *excelize.File) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func paymentDetails(bill billing.Bill) string {
	parts := make([]string, 0, len(bill.Payments))
	for _, p := range bill.Payments {
		parts = append(parts, fmt.Sprintf("%s: Rs.%s", p.Method, p.Amount.String()))
	}
	return strings.Join(parts, " | ")
}
