package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrIdempotencyConflict means the key was claimed before.
var ErrIdempotencyConflict = fmt.Errorf("%w: idempotency key already claimed", ErrConflict)

// ClaimIdempotencyKey records key for module. Pass an open transaction as db
// so the claim rolls back with the work it guards.
func ClaimIdempotencyKey(ctx context.Context, db Execer, key, module string) error {
	key, module = strings.TrimSpace(key), strings.TrimSpace(module)
	if key == "" || module == "" {
		return Validationf("idempotency key and module are required")
	}
	_, err := db.Exec(ctx, `INSERT INTO idempotency_keys (key, module) VALUES ($1, $2)`, key, module)
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err):
		return ErrIdempotencyConflict
	default:
		return err
	}
}

// IdempotencyKeys maintains the idempotency_keys table.
type IdempotencyKeys struct {
	db Execer
}

// NewIdempotencyKeys builds the maintenance handle.
func NewIdempotencyKeys(db Execer) *IdempotencyKeys {
	return &IdempotencyKeys{db: db}
}

// Purge deletes keys claimed before now minus olderThan and reports how many went.
func (k *IdempotencyKeys) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if k == nil || k.db == nil {
		return 0, errors.New("idempotency keys not configured")
	}
	if olderThan <= 0 {
		return 0, Validationf("retention must be positive")
	}
	tag, err := k.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, Transient(err)
	}
	return tag.RowsAffected(), nil
}
