package drafts

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/repairdesk/repairdesk/internal/shared"
)

type sample struct {
	Name  string `json:"name"`
	Lines []int  `json:"lines"`
}

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, ttl), mr
}

func TestStoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "bill", "d1", sample{Name: "INV-000001", Lines: []int{1, 2}}))

	var got sample
	require.NoError(t, store.Load(ctx, "bill", "d1", &got))
	require.Equal(t, "INV-000001", got.Name)
	require.Equal(t, []int{1, 2}, got.Lines)
}

func TestStoreMissingDraft(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)

	var got sample
	err := store.Load(context.Background(), "bill", "nope", &got)
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestStoreExpires(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "grn", "g1", sample{Name: "x"}))
	mr.FastForward(2 * time.Minute)

	var got sample
	require.ErrorIs(t, store.Load(ctx, "grn", "g1", &got), ErrNotFound)
}

func TestStoreDeleteAndList(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "bill", "a", sample{}))
	require.NoError(t, store.Save(ctx, "bill", "b", sample{}))
	require.NoError(t, store.Save(ctx, "grn", "c", sample{}))

	ids, err := store.List(ctx, "bill")
	require.NoError(t, err)
	sort.Strings(ids)
	require.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, store.Delete(ctx, "bill", "a"))
	require.NoError(t, store.Delete(ctx, "bill", "a"))
	ids, err = store.List(ctx, "bill")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids)
}

func TestStoreUnavailable(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	mr.Close()

	err := store.Save(context.Background(), "bill", "d1", sample{})
	require.ErrorIs(t, err, shared.ErrTransientIO)
}
