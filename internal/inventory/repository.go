package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repairdesk/repairdesk/internal/platform/db"
	"github.com/repairdesk/repairdesk/internal/shared"
)

const itemColumns = `id, category, key, label, qty, unit_price, attributes, created_at, updated_at`

// Queries runs stock statements against a pool or an open transaction.
type Queries struct {
	db db.DBTX
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	*Queries
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, Queries: &Queries{db: pool}}
}

// TxRepository exposes the operations available inside a transaction.
type TxRepository interface {
	FindByIdentity(ctx context.Context, category Category, key string, attrs Attributes) (Item, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	AdjustQty(ctx context.Context, id int64, delta int) (Item, error)
	ClaimToken(ctx context.Context, token, module string) error
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Queries{db: tx})
	})
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		item     Item
		category string
		attrs    []byte
	)
	if err := row.Scan(&item.ID, &category, &item.Key, &item.Label, &item.Qty, &item.UnitPrice, &attrs, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Item{}, err
	}
	item.Category = Category(category)
	decoded, err := DecodeAttributes(item.Category, attrs)
	if err != nil {
		return Item{}, fmt.Errorf("inventory: decode attributes of item %d: %w", item.ID, err)
	}
	item.Attributes = decoded
	return item, nil
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrItemNotFound
	}
	return err
}

// ListItems returns items ordered by category then label.
func (q *Queries) ListItems(ctx context.Context, filter ListFilter) ([]Item, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		clauses = append(clauses, fmt.Sprintf("category = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		clauses = append(clauses, fmt.Sprintf("(label ILIKE $%[1]d OR key ILIKE $%[1]d OR attributes::text ILIKE $%[1]d)", len(args)))
	}
	query := `SELECT ` + itemColumns + ` FROM stock_items`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY category, label, id`
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// GetItem loads one record.
func (q *Queries) GetItem(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(q.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id = $1`, id))
	return item, notFound(err)
}

// FindByIdentity looks a record up by category, key and deep-equal attributes.
func (q *Queries) FindByIdentity(ctx context.Context, category Category, key string, attrs Attributes) (Item, error) {
	raw, err := EncodeAttributes(attrs)
	if err != nil {
		return Item{}, err
	}
	item, err := scanItem(q.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items
WHERE category = $1 AND key = $2 AND attributes = $3::jsonb`, string(category), key, raw))
	return item, notFound(err)
}

// InsertItem creates a record.
func (q *Queries) InsertItem(ctx context.Context, item Item) (Item, error) {
	raw, err := EncodeAttributes(item.Attributes)
	if err != nil {
		return Item{}, err
	}
	created, err := scanItem(q.db.QueryRow(ctx, `INSERT INTO stock_items (category, key, label, qty, unit_price, attributes)
VALUES ($1, $2, $3, $4, $5, $6::jsonb) RETURNING `+itemColumns,
		string(item.Category), item.Key, item.Label, item.Qty, item.UnitPrice, raw))
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Item{}, ErrDuplicateItem
		}
		return Item{}, err
	}
	return created, nil
}

// UpdateItem applies a partial update.
func (q *Queries) UpdateItem(ctx context.Context, id int64, patch PatchInput) (Item, error) {
	item, err := scanItem(q.db.QueryRow(ctx, `UPDATE stock_items SET
    label = COALESCE($2, label),
    qty = COALESCE($3, qty),
    unit_price = COALESCE($4, unit_price),
    updated_at = NOW()
WHERE id = $1 RETURNING `+itemColumns, id, patch.Label, patch.Qty, patch.UnitPrice))
	return item, notFound(err)
}

// AdjustQty adds delta to the quantity, refusing to go below zero.
func (q *Queries) AdjustQty(ctx context.Context, id int64, delta int) (Item, error) {
	item, err := scanItem(q.db.QueryRow(ctx, `UPDATE stock_items SET qty = qty + $2, updated_at = NOW()
WHERE id = $1 AND qty + $2 >= 0 RETURNING `+itemColumns, id, delta))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Item{}, err
	}
	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Item{}, err
	}
	if exists {
		return Item{}, ErrInsufficientStock
	}
	return Item{}, ErrItemNotFound
}

// ListLowStock returns records at or below threshold whose label is watched.
func (q *Queries) ListLowStock(ctx context.Context, threshold int, labels []string) ([]Item, error) {
	rows, err := q.db.Query(ctx, `SELECT `+itemColumns+` FROM stock_items
WHERE qty <= $1 AND label = ANY($2) ORDER BY qty, label, id`, threshold, labels)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// ClaimToken records a commit token inside the current transaction.
func (q *Queries) ClaimToken(ctx context.Context, token, module string) error {
	err := shared.ClaimIdempotencyKey(ctx, q.db, token, module)
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return ErrAlreadyApplied
	}
	return err
}
