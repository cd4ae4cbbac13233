package shared

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
	tag  pgconn.CommandTag
	err  error
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql, r.args = sql, args
	return r.tag, r.err
}

func TestAuditLoggerRecord(t *testing.T) {
	db := &recordingExecer{}
	logger := NewAuditLogger(db)
	fixed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("IST", 19800))
	logger.now = func() time.Time { return fixed }

	err := logger.Record(context.Background(), AuditEntry{
		Actor:    Actor{ID: "7", Name: "dilani"},
		Action:   " bill_save ",
		Entity:   "bill",
		EntityID: "INV000012",
	})
	require.NoError(t, err)
	require.Equal(t, "7", db.args[0])
	require.Equal(t, "dilani", db.args[1])
	require.Equal(t, "BILL_SAVE", db.args[2])
	require.JSONEq(t, `{}`, string(db.args[5].([]byte)))
	require.Equal(t, fixed.UTC(), db.args[6])
}

func TestAuditLoggerRejectsIncompleteEntry(t *testing.T) {
	db := &recordingExecer{}
	err := NewAuditLogger(db).Record(context.Background(), AuditEntry{Action: "STOCK_ADD"})

	var fields FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "entity")
	require.Contains(t, fields, "entityId")
	require.Empty(t, db.sql)
}

func TestAuditLoggerMarksWriteFailuresTransient(t *testing.T) {
	db := &recordingExecer{err: errors.New("connection reset")}
	err := NewAuditLogger(db).Record(context.Background(), AuditEntry{
		Action: "STOCK_ADD", Entity: "stock_item", EntityID: "4", Meta: map[string]any{"qty": 2},
	})
	require.ErrorIs(t, err, ErrTransientIO)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(db.args[5].([]byte), &meta))
	require.EqualValues(t, 2, meta["qty"])
}

func TestClaimIdempotencyKey(t *testing.T) {
	db := &recordingExecer{}
	require.NoError(t, ClaimIdempotencyKey(context.Background(), db, " tok-1 ", "grn"))
	require.Equal(t, []any{"tok-1", "grn"}, db.args)

	db.err = &pgconn.PgError{Code: "23505"}
	err := ClaimIdempotencyKey(context.Background(), db, "tok-1", "grn")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, ErrConflict)

	require.ErrorIs(t, ClaimIdempotencyKey(context.Background(), db, "", "grn"), ErrValidation)
}

func TestIsUniqueViolationUnwraps(t *testing.T) {
	wrapped := errors.Join(errors.New("insert"), &pgconn.PgError{Code: "23505"})
	require.True(t, IsUniqueViolation(wrapped))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsUniqueViolation(nil))
}

func TestIdempotencyKeysPurge(t *testing.T) {
	db := &recordingExecer{tag: pgconn.NewCommandTag("DELETE 5")}
	removed, err := NewIdempotencyKeys(db).Purge(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 5, removed)
	cutoff := db.args[0].(time.Time)
	require.WithinDuration(t, time.Now().Add(-24*time.Hour), cutoff, time.Minute)

	_, err = NewIdempotencyKeys(db).Purge(context.Background(), 0)
	require.ErrorIs(t, err, ErrValidation)
}
