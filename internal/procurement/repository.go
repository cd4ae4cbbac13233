package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repairdesk/repairdesk/internal/platform/db"
	"github.com/repairdesk/repairdesk/internal/shared"
)

const grnColumns = `id, grn_date, invoice, supplier, items, grand_total, payment_method_of_grn, paid_amount,
	remarks, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for GRNs and suppliers.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

func scanGRN(row pgx.Row) (GRN, error) {
	var (
		grn   GRN
		items []byte
	)
	err := row.Scan(&grn.ID, &grn.Date, &grn.Invoice, &grn.Supplier, &items, &grn.GrandTotal,
		&grn.PaymentMethod, &grn.PaidAmount, &grn.Remarks, &grn.CreatedAt, &grn.UpdatedAt)
	if err != nil {
		return GRN{}, err
	}
	if err := json.Unmarshal(items, &grn.Items); err != nil {
		return GRN{}, fmt.Errorf("decode grn items: %w", err)
	}
	return grn, nil
}

func grnNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrGRNNotFound
	}
	return err
}

// InsertGRN stores a new GRN.
func (r *Repository) InsertGRN(ctx context.Context, grn GRN) (GRN, error) {
	items, err := json.Marshal(grn.Items)
	if err != nil {
		return GRN{}, err
	}
	saved, err := scanGRN(r.db.QueryRow(ctx, `INSERT INTO grns
	(grn_date, invoice, supplier, items, grand_total, payment_method_of_grn, paid_amount, remarks)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+grnColumns,
		grn.Date, grn.Invoice, grn.Supplier, items, grn.GrandTotal, grn.PaymentMethod, grn.PaidAmount, grn.Remarks))
	if err != nil {
		return GRN{}, fmt.Errorf("insert grn: %w", err)
	}
	return saved, nil
}

// GetGRN loads a GRN by id.
func (r *Repository) GetGRN(ctx context.Context, id int64) (GRN, error) {
	grn, err := scanGRN(r.db.QueryRow(ctx, `SELECT `+grnColumns+` FROM grns WHERE id = $1`, id))
	return grn, grnNotFound(err)
}

// ListGRNs returns a page of GRNs, newest first, with the total match count.
func (r *Repository) ListGRNs(ctx context.Context, filter ListFilter) ([]GRN, int, error) {
	const where = `($1 = '' OR supplier ILIKE '%' || $1 || '%')`
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM grns WHERE `+where, filter.Supplier).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count grns: %w", err)
	}
	rows, err := r.db.Query(ctx, `SELECT `+grnColumns+` FROM grns WHERE `+where+`
ORDER BY grn_date DESC, id DESC
LIMIT $2 OFFSET $3`, filter.Supplier, filter.Page.PerPage, filter.Page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list grns: %w", err)
	}
	defer rows.Close()
	grns := []GRN{}
	for rows.Next() {
		grn, err := scanGRN(rows)
		if err != nil {
			return nil, 0, err
		}
		grns = append(grns, grn)
	}
	return grns, total, rows.Err()
}

// PatchGRN updates the settlement fields present in patch.
func (r *Repository) PatchGRN(ctx context.Context, id int64, patch GRNPatch) (GRN, error) {
	grn, err := scanGRN(r.db.QueryRow(ctx, `UPDATE grns SET
	payment_method_of_grn = COALESCE($2, payment_method_of_grn),
	paid_amount = COALESCE($3, paid_amount),
	remarks = COALESCE($4, remarks),
	updated_at = NOW()
WHERE id = $1
RETURNING `+grnColumns, id, patch.PaymentMethod, patch.PaidAmount, patch.Remarks))
	return grn, grnNotFound(err)
}

// ReplaceGRN overwrites a GRN.
func (r *Repository) ReplaceGRN(ctx context.Context, id int64, grn GRN) (GRN, error) {
	items, err := json.Marshal(grn.Items)
	if err != nil {
		return GRN{}, err
	}
	saved, err := scanGRN(r.db.QueryRow(ctx, `UPDATE grns SET grn_date=$2, invoice=$3, supplier=$4, items=$5,
	grand_total=$6, payment_method_of_grn=$7, paid_amount=$8, remarks=$9, updated_at=NOW()
WHERE id=$1
RETURNING `+grnColumns,
		id, grn.Date, grn.Invoice, grn.Supplier, items, grn.GrandTotal, grn.PaymentMethod, grn.PaidAmount, grn.Remarks))
	return saved, grnNotFound(err)
}

// ListSuppliers returns suppliers ordered by name.
func (r *Repository) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := r.db.Query(ctx, `SELECT id, supplier_name, contact_phone, contact_email, location, created_at
FROM suppliers ORDER BY supplier_name`)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()
	suppliers := []Supplier{}
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.ContactPhone, &s.ContactEmail, &s.Location, &s.CreatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

// InsertSupplier stores a supplier.
func (r *Repository) InsertSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO suppliers (supplier_name, contact_phone, contact_email, location)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at`, s.Name, s.ContactPhone, s.ContactEmail, s.Location).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Supplier{}, ErrDuplicateSupplier
		}
		return Supplier{}, fmt.Errorf("insert supplier: %w", err)
	}
	return s, nil
}

// SupplierTotals reads the supplier_grn_totals view.
func (r *Repository) SupplierTotals(ctx context.Context) ([]SupplierTotal, error) {
	rows, err := r.db.Query(ctx, `SELECT supplier, grn_count, grand_total, paid_total, last_grn_at
FROM supplier_grn_totals ORDER BY supplier`)
	if err != nil {
		return nil, fmt.Errorf("supplier totals: %w", err)
	}
	defer rows.Close()
	totals := []SupplierTotal{}
	for rows.Next() {
		var t SupplierTotal
		if err := rows.Scan(&t.Supplier, &t.GRNCount, &t.GrandTotal, &t.PaidTotal, &t.LastGRNAt); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// RefreshSupplierTotals recomputes supplier_grn_totals.
func (r *Repository) RefreshSupplierTotals(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY supplier_grn_totals`)
	return err
}
