package inventory

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/repairdesk/repairdesk/internal/shared"
)

type memoryRepo struct {
	items     map[int64]Item
	tokens    map[string]bool
	nextID    int64
	failOnKey string

	// lowGate holds ListLowStock until closed; lowSeen receives the query ctx error.
	lowGate chan struct{}
	lowSeen chan error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Item), tokens: make(map[string]bool)}
}

func (r *memoryRepo) snapshot() (map[int64]Item, map[string]bool, int64) {
	items := make(map[int64]Item, len(r.items))
	for k, v := range r.items {
		items[k] = v
	}
	tokens := make(map[string]bool, len(r.tokens))
	for k, v := range r.tokens {
		tokens[k] = v
	}
	return items, tokens, r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	items, tokens, next := r.snapshot()
	if err := fn(ctx, r); err != nil {
		r.items, r.tokens, r.nextID = items, tokens, next
		return err
	}
	return nil
}

func (r *memoryRepo) ListItems(ctx context.Context, filter ListFilter) ([]Item, error) {
	var out []Item
	for _, item := range r.items {
		if filter.Category != "" && item.Category != filter.Category {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (r *memoryRepo) FindByIdentity(ctx context.Context, category Category, key string, attrs Attributes) (Item, error) {
	for _, item := range r.items {
		if item.Category == category && item.Key == key && reflect.DeepEqual(NormalizeAttributes(item.Attributes), NormalizeAttributes(attrs)) {
			return item, nil
		}
	}
	return Item{}, ErrItemNotFound
}

func (r *memoryRepo) InsertItem(ctx context.Context, item Item) (Item, error) {
	if r.failOnKey != "" && item.Key == r.failOnKey {
		return Item{}, errors.New("connection reset")
	}
	if _, err := r.FindByIdentity(ctx, item.Category, item.Key, item.Attributes); err == nil {
		return Item{}, ErrDuplicateItem
	}
	r.nextID++
	item.ID = r.nextID
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	r.items[item.ID] = item
	return item, nil
}

func (r *memoryRepo) UpdateItem(ctx context.Context, id int64, patch PatchInput) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	if patch.Label != nil {
		item.Label = *patch.Label
	}
	if patch.Qty != nil {
		item.Qty = *patch.Qty
	}
	if patch.UnitPrice != nil {
		item.UnitPrice = *patch.UnitPrice
	}
	r.items[id] = item
	return item, nil
}

func (r *memoryRepo) AdjustQty(ctx context.Context, id int64, delta int) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	if item.Qty+delta < 0 {
		return Item{}, ErrInsufficientStock
	}
	item.Qty += delta
	r.items[id] = item
	return item, nil
}

func (r *memoryRepo) ListLowStock(ctx context.Context, threshold int, labels []string) ([]Item, error) {
	if r.lowGate != nil {
		<-r.lowGate
		r.lowSeen <- ctx.Err()
		return nil, nil
	}
	watched := map[string]bool{}
	for _, l := range labels {
		watched[l] = true
	}
	var out []Item
	for _, item := range r.items {
		if item.Qty <= threshold && watched[item.Label] {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ClaimToken(ctx context.Context, token, module string) error {
	if r.tokens[token] {
		return ErrAlreadyApplied
	}
	r.tokens[token] = true
	return nil
}

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditEntry) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

var clerk = shared.Actor{ID: "7", Name: "Nimal", Role: "accountant"}

func battery() ReceiveInput {
	return ReceiveInput{
		Category:   CategorySpare,
		Key:        "battery",
		Qty:        5,
		UnitPrice:  decimal.NewFromInt(2000),
		Attributes: SpareAttributes{Description: "iPhone 12 battery", Compatibility: "iPhone 12", Condition: ConditionNew},
	}
}

func newTestService(repo *memoryRepo) (*Service, *recordingAudit) {
	audit := &recordingAudit{}
	return NewService(repo, audit, nil, ServiceConfig{}), audit
}

func TestReceiveCreatesThenIncrements(t *testing.T) {
	repo := newMemoryRepo()
	svc, audit := newTestService(repo)
	ctx := context.Background()

	first, err := svc.Receive(ctx, clerk, battery())
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, 5, first.Item.Qty)
	require.Equal(t, "Battery", first.Item.Label)

	second, err := svc.Receive(ctx, clerk, battery())
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.Item.ID, second.Item.ID)
	require.Equal(t, 10, second.Item.Qty)
	require.Len(t, repo.items, 1)
	require.Equal(t, []string{"STOCK_RECEIVE", "STOCK_RECEIVE"}, audit.actions)
}

func TestReceiveMatchesOnDeepEqualAttributes(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Receive(ctx, clerk, battery())
	require.NoError(t, err)

	other := battery()
	other.Attributes = SpareAttributes{Description: "iPhone 12 battery", Compatibility: "iPhone 12", Condition: ConditionUsed}
	res, err := svc.Receive(ctx, clerk, other)
	require.NoError(t, err)
	require.True(t, res.Created)

	padded := battery()
	padded.Attributes = SpareAttributes{Description: "  iPhone 12 battery ", Compatibility: "iPhone 12", Condition: ConditionNew}
	res, err = svc.Receive(ctx, clerk, padded)
	require.NoError(t, err)
	require.False(t, res.Created)
	require.Equal(t, 10, res.Item.Qty)
}

func TestReceiveBatchTokenReplayIsNoop(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ReceiveBatch(ctx, clerk, "grn-token-1", []ReceiveInput{battery()})
	require.NoError(t, err)

	_, err = svc.ReceiveBatch(ctx, clerk, "grn-token-1", []ReceiveInput{battery()})
	require.ErrorIs(t, err, ErrAlreadyApplied)
	require.ErrorIs(t, err, shared.ErrConflict)

	items, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 5, items[0].Qty)
}

func TestReceiveBatchIsAtomic(t *testing.T) {
	repo := newMemoryRepo()
	repo.failOnKey = "back_cover"
	svc, audit := newTestService(repo)

	cover := ReceiveInput{
		Category:   CategoryAccessory,
		Key:        "back_cover",
		Qty:        3,
		UnitPrice:  decimal.NewFromInt(500),
		Attributes: AccessoryAttributes{Description: "Silicone", Brand: "Apple", Color: "Black"},
	}
	_, err := svc.ReceiveBatch(context.Background(), clerk, "tok", []ReceiveInput{battery(), cover})
	require.Error(t, err)
	require.ErrorIs(t, err, shared.ErrTransientIO)
	require.Empty(t, repo.items)
	require.Empty(t, repo.tokens)
	require.Empty(t, audit.actions)
}

func TestReceiveBatchValidatesEveryLineFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	bad := battery()
	bad.Attributes = SpareAttributes{Description: "cell"}
	_, err := svc.ReceiveBatch(context.Background(), clerk, "", []ReceiveInput{battery(), bad})

	var fields shared.FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "compatibility")
	require.Contains(t, fields, "condition")
	require.Empty(t, repo.items)
}

func TestCreateRejectsMismatchedAttributes(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())

	_, err := svc.Create(context.Background(), clerk, CreateInput{
		Category:   CategoryProduct,
		Key:        "iphone_13",
		Qty:        1,
		Attributes: SpareAttributes{Description: "x", Compatibility: "y", Condition: ConditionNew},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	ctx := context.Background()
	in := CreateInput{Category: CategorySpare, Key: "battery", Qty: 1, UnitPrice: decimal.NewFromInt(10), Attributes: battery().Attributes}

	_, err := svc.Create(ctx, clerk, in)
	require.NoError(t, err)
	_, err = svc.Create(ctx, clerk, in)
	require.ErrorIs(t, err, ErrDuplicateItem)
}

func TestDecrementNeverGoesNegative(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	res, err := svc.Receive(ctx, clerk, battery())
	require.NoError(t, err)

	_, err = svc.Decrement(ctx, clerk, res.Item.ID, 6)
	require.ErrorIs(t, err, ErrInsufficientStock)

	item, err := svc.Decrement(ctx, clerk, res.Item.ID, 5)
	require.NoError(t, err)
	require.Equal(t, 0, item.Qty)

	_, err = svc.Increment(ctx, clerk, 999, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRestoreIncrementsExistingRecord(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	res, err := svc.Receive(ctx, clerk, battery())
	require.NoError(t, err)

	restored, err := svc.Restore(ctx, shared.SystemActor, RestoreInput{StockID: res.Item.ID})
	require.NoError(t, err)
	require.False(t, restored.Recreated)
	require.Equal(t, 6, restored.Item.Qty)
}

func TestRestoreRecreatesMissingRecordWithDefaults(t *testing.T) {
	repo := newMemoryRepo()
	svc, audit := newTestService(repo)

	restored, err := svc.Restore(context.Background(), shared.SystemActor, RestoreInput{
		StockID:   42,
		UnitPrice: decimal.RequireFromString("1500.456"),
	})
	require.NoError(t, err)
	require.True(t, restored.Recreated)
	require.Equal(t, CategoryProduct, restored.Item.Category)
	require.Equal(t, strconv.Itoa(42), restored.Item.Key)
	require.Equal(t, "Unknown", restored.Item.Label)
	require.Equal(t, 1, restored.Item.Qty)
	require.Equal(t, "1500.46", restored.Item.UnitPrice.StringFixed(2))
	require.Equal(t, []string{"STOCK_RECREATE"}, audit.actions)
}

func TestRestoreRecreatesFromSnapshot(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)

	restored, err := svc.Restore(context.Background(), shared.SystemActor, RestoreInput{
		StockID:    9,
		Category:   CategoryAccessory,
		Key:        "tempered_glass",
		Label:      "Tempered Glass",
		UnitPrice:  decimal.NewFromInt(800),
		Attributes: []byte(`{"description":"9H","brand":"Baseus","color":"Clear"}`),
	})
	require.NoError(t, err)
	require.True(t, restored.Recreated)
	require.Equal(t, AccessoryAttributes{Description: "9H", Brand: "Baseus", Color: "Clear"}, restored.Item.Attributes)
}

func TestLowStockNamesWatchedItems(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Receive(ctx, clerk, battery())
	require.NoError(t, err)
	glass := ReceiveInput{
		Category: CategoryAccessory, Key: "tempered_glass", Qty: 20, UnitPrice: decimal.NewFromInt(300),
		Attributes: AccessoryAttributes{Description: "Privacy", Brand: "Baseus", Color: "Black"},
	}
	_, err = svc.Receive(ctx, clerk, glass)
	require.NoError(t, err)
	screen := ReceiveInput{
		Category: CategorySpare, Key: "display_screen", Qty: 1, UnitPrice: decimal.NewFromInt(9000),
		Attributes: SpareAttributes{Description: "OLED", Compatibility: "iPhone 13", Condition: ConditionNew},
	}
	_, err = svc.Receive(ctx, clerk, screen)
	require.NoError(t, err)

	entries, err := svc.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Battery - iPhone 12 battery", entries[0].Name)
	require.Equal(t, 5, entries[0].Qty)
}

func TestLowStockQueryOutlivesCancelledCaller(t *testing.T) {
	repo := newMemoryRepo()
	repo.lowGate = make(chan struct{})
	repo.lowSeen = make(chan error, 1)
	svc, _ := newTestService(repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.LowStock(ctx)
		done <- err
	}()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(repo.lowGate)
	select {
	case err := <-repo.lowSeen:
		require.NoError(t, err, "shared query must not inherit the caller's cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("low-stock query never ran")
	}
}

func TestComposeLabelPerCategory(t *testing.T) {
	require.Equal(t, "Battery | Genuine | iPhone 12",
		ComposeLabel("Battery", SpareAttributes{Description: "Genuine", Compatibility: "iPhone 12", Condition: ConditionNew}))
	require.Equal(t, "Back Cover | Silicone | Apple | Red",
		ComposeLabel("Back Cover", AccessoryAttributes{Description: "Silicone", Brand: "Apple", Color: "Red"}))
	require.Equal(t, "iPhone 13 | 128 | Blue | LLA | F2L | 3569 | Used",
		ComposeLabel("iPhone 13", ProductAttributes{Model: "128", Color: "Blue", Region: "LLA", SerialNumber: "F2L", IMEINumber: "3569", Condition: "Used"}))
	require.Equal(t, "Battery", ComposeLabel("Battery", nil))
}

func TestDefaultLabel(t *testing.T) {
	require.Equal(t, "Back Glass", DefaultLabel("back_glass"))
	require.Equal(t, "Face ID", DefaultLabel("face_id"))
	require.Equal(t, "Tempered Glass", DefaultLabel("tempered_glass"))
}

func TestDecodeAttributesRejectsUnknownFields(t *testing.T) {
	_, err := DecodeAttributes(CategorySpare, []byte(`{"description":"a","compatibility":"b","condition":"New","brand":"x"}`))
	require.ErrorIs(t, err, shared.ErrValidation)

	attrs, err := DecodeAttributes(CategoryProduct, []byte(`{"model":"256","color":"Black","region":"ZPA","serialNumber":"S","imeiNumber":"I","condition":"Used"}`))
	require.NoError(t, err)
	require.NoError(t, attrs.Validate())
}
