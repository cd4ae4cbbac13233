package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// PGRepository reads audit_logs with pgx.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Timeline implements Repository.
func (r *PGRepository) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT occurred_at, actor_id, actor_name, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3 = '' OR actor_name ILIKE '%' || $3 || '%')
  AND ($4 = '' OR entity = $4)
  AND ($5 = '' OR entity_id = $5)
  AND ($6 = '' OR action = $6)
ORDER BY occurred_at DESC, id DESC
LIMIT $7 OFFSET $8`,
		optionalTime(q.From), optionalTime(q.To), q.Actor, q.Entity, q.EntityID, q.Action, q.Limit, q.Offset)
	if err != nil {
		return nil, shared.Transient(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var (
			tr   TimelineRow
			meta []byte
		)
		if err := row.Scan(&tr.At, &tr.ActorID, &tr.Actor, &tr.Action, &tr.Entity, &tr.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &tr.Meta); err != nil {
				return TimelineRow{}, err
			}
		}
		return tr, nil
	})
	if err != nil {
		return nil, shared.Transient(err)
	}
	return out, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
