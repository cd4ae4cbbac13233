package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repairdesk/repairdesk/internal/platform/db"
	"github.com/repairdesk/repairdesk/internal/shared"
)

const billColumns = `id, bill_number, bill_date, bill_maker, technician, job_ref, customer, items, payments,
	sub_total, bill_profit, created_at, updated_at`

// billFilter matches search text against bill number, job reference,
// customer name and item labels, then applies the inclusive date range.
const billFilter = `($1 = '' OR bill_number ILIKE '%' || $1 || '%' OR job_ref ILIKE '%' || $1 || '%'
	OR customer->>'name' ILIKE '%' || $1 || '%'
	OR EXISTS (SELECT 1 FROM jsonb_array_elements(items) it WHERE it->>'label' ILIKE '%' || $1 || '%'))
AND ($2::timestamptz IS NULL OR bill_date >= $2)
AND ($3::timestamptz IS NULL OR bill_date < $3)`

// Repository provides PostgreSQL backed persistence for the bill ledger.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

func scanBill(row pgx.Row) (Bill, error) {
	var (
		bill                      Bill
		customer, items, payments []byte
	)
	err := row.Scan(&bill.ID, &bill.BillNumber, &bill.Date, &bill.BillMaker, &bill.Technician, &bill.JobRef,
		&customer, &items, &payments, &bill.SubTotal, &bill.Profit, &bill.CreatedAt, &bill.UpdatedAt)
	if err != nil {
		return Bill{}, err
	}
	if err := json.Unmarshal(customer, &bill.Customer); err != nil {
		return Bill{}, fmt.Errorf("decode customer: %w", err)
	}
	if err := json.Unmarshal(items, &bill.Items); err != nil {
		return Bill{}, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(payments, &bill.Payments); err != nil {
		return Bill{}, fmt.Errorf("decode payments: %w", err)
	}
	return bill, nil
}

func collectBills(rows pgx.Rows) ([]Bill, error) {
	defer rows.Close()
	bills := []Bill{}
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

func billNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrBillNotFound
	}
	return err
}

type encodedBill struct {
	customer, items, payments []byte
}

func encodeBill(bill Bill) (encodedBill, error) {
	var (
		out encodedBill
		err error
	)
	if out.customer, err = json.Marshal(bill.Customer); err != nil {
		return out, err
	}
	if out.items, err = json.Marshal(bill.Items); err != nil {
		return out, err
	}
	payments := bill.Payments
	if payments == nil {
		payments = []BillPayment{}
	}
	out.payments, err = json.Marshal(payments)
	return out, err
}

// NextBillNumber draws from bill_number_seq.
func (r *Repository) NextBillNumber(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.db.QueryRow(ctx, `SELECT nextval('bill_number_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next bill number: %w", err)
	}
	return seq, nil
}

// InsertBill stores a new bill.
func (r *Repository) InsertBill(ctx context.Context, bill Bill) (Bill, error) {
	enc, err := encodeBill(bill)
	if err != nil {
		return Bill{}, err
	}
	saved, err := scanBill(r.db.QueryRow(ctx, `INSERT INTO bills
	(bill_number, bill_date, bill_maker, technician, job_ref, customer, items, payments, sub_total, bill_profit)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+billColumns,
		bill.BillNumber, bill.Date, bill.BillMaker, bill.Technician, bill.JobRef,
		enc.customer, enc.items, enc.payments, bill.SubTotal, bill.Profit))
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Bill{}, ErrDuplicateBillNumber
		}
		return Bill{}, fmt.Errorf("insert bill: %w", err)
	}
	return saved, nil
}

// GetBill loads a bill by id.
func (r *Repository) GetBill(ctx context.Context, id int64) (Bill, error) {
	bill, err := scanBill(r.db.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, id))
	return bill, billNotFound(err)
}

// GetBillByNumber loads a bill by number.
func (r *Repository) GetBillByNumber(ctx context.Context, number string) (Bill, error) {
	bill, err := scanBill(r.db.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE bill_number = $1`, number))
	return bill, billNotFound(err)
}

// ListBills returns one page of bills, newest first, and the total match count.
func (r *Repository) ListBills(ctx context.Context, filter ListFilter) ([]Bill, int, error) {
	var from, to *time.Time
	if filter.From != nil || filter.To != nil {
		w := NewWindow(filter.From, filter.To, time.Now())
		start, end := w.Start(), w.End()
		from, to = &start, &end
	}
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM bills WHERE `+billFilter, filter.Search, from, to).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bills: %w", err)
	}
	rows, err := r.db.Query(ctx, `SELECT `+billColumns+` FROM bills WHERE `+billFilter+`
ORDER BY bill_date DESC, id DESC
LIMIT $4 OFFSET $5`, filter.Search, from, to, filter.Page.PerPage, filter.Page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list bills: %w", err)
	}
	bills, err := collectBills(rows)
	return bills, total, err
}

// BillsBetween returns bills dated in [from, to), oldest first.
func (r *Repository) BillsBetween(ctx context.Context, from, to time.Time) ([]Bill, error) {
	rows, err := r.db.Query(ctx, `SELECT `+billColumns+` FROM bills
WHERE bill_date >= $1 AND bill_date < $2
ORDER BY bill_date, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("bills between: %w", err)
	}
	return collectBills(rows)
}

// ReplaceBill overwrites a bill.
func (r *Repository) ReplaceBill(ctx context.Context, id int64, bill Bill) (Bill, error) {
	enc, err := encodeBill(bill)
	if err != nil {
		return Bill{}, err
	}
	saved, err := scanBill(r.db.QueryRow(ctx, `UPDATE bills SET bill_number=$2, bill_date=$3, bill_maker=$4,
	technician=$5, job_ref=$6, customer=$7, items=$8, payments=$9, sub_total=$10, bill_profit=$11, updated_at=NOW()
WHERE id=$1
RETURNING `+billColumns,
		id, bill.BillNumber, bill.Date, bill.BillMaker, bill.Technician, bill.JobRef,
		enc.customer, enc.items, enc.payments, bill.SubTotal, bill.Profit))
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Bill{}, ErrDuplicateBillNumber
		}
		return Bill{}, billNotFound(err)
	}
	return saved, nil
}

// UpdatePayments replaces the tender list of a bill.
func (r *Repository) UpdatePayments(ctx context.Context, id int64, payments []BillPayment) (Bill, error) {
	if payments == nil {
		payments = []BillPayment{}
	}
	raw, err := json.Marshal(payments)
	if err != nil {
		return Bill{}, err
	}
	bill, err := scanBill(r.db.QueryRow(ctx, `UPDATE bills SET payments=$2, updated_at=NOW()
WHERE id=$1 RETURNING `+billColumns, id, raw))
	return bill, billNotFound(err)
}
