package procurement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/repairdesk/repairdesk/internal/drafts"
	"github.com/repairdesk/repairdesk/internal/inventory"
	"github.com/repairdesk/repairdesk/internal/shared"
)

// fakeStock upserts by (category, key, attributes) and claims tokens the
// way the inventory repository does.
type fakeStock struct {
	items  []inventory.Item
	tokens map[string]bool
	calls  int
	err    error
}

func (f *fakeStock) ReceiveBatch(ctx context.Context, actor shared.Actor, token string, inputs []inventory.ReceiveInput) ([]inventory.ReceiveResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if token != "" {
		if f.tokens[token] {
			return nil, inventory.ErrAlreadyApplied
		}
		f.tokens[token] = true
	}
	out := make([]inventory.ReceiveResult, 0, len(inputs))
	for _, in := range inputs {
		found := false
		for i := range f.items {
			it := &f.items[i]
			if it.Category == in.Category && it.Key == in.Key && reflect.DeepEqual(it.Attributes, in.Attributes) {
				it.Qty += in.Qty
				out = append(out, inventory.ReceiveResult{Item: *it})
				found = true
				break
			}
		}
		if !found {
			item := inventory.Item{ID: int64(len(f.items) + 1), Category: in.Category, Key: in.Key, Qty: in.Qty, Attributes: in.Attributes}
			f.items = append(f.items, item)
			out = append(out, inventory.ReceiveResult{Item: item, Created: true})
		}
	}
	return out, nil
}

type fakeReindexer struct {
	suppliers []string
	err       error
}

func (f *fakeReindexer) EnqueueSupplierReindex(ctx context.Context, supplier string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.suppliers = append(f.suppliers, supplier)
	return "reindex-1", nil
}

type memoryRepo struct {
	grns      map[int64]GRN
	suppliers []Supplier
	insertErr error
	refreshed int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{grns: make(map[int64]GRN)}
}

func (m *memoryRepo) InsertGRN(ctx context.Context, grn GRN) (GRN, error) {
	if m.insertErr != nil {
		return GRN{}, m.insertErr
	}
	grn.ID = int64(len(m.grns) + 1)
	m.grns[grn.ID] = grn
	return grn, nil
}

func (m *memoryRepo) GetGRN(ctx context.Context, id int64) (GRN, error) {
	grn, ok := m.grns[id]
	if !ok {
		return GRN{}, ErrGRNNotFound
	}
	return grn, nil
}

func (m *memoryRepo) ListGRNs(ctx context.Context, filter ListFilter) ([]GRN, int, error) {
	out := []GRN{}
	for id := int64(len(m.grns)); id > 0; id-- {
		if g, ok := m.grns[id]; ok && (filter.Supplier == "" || g.Supplier == filter.Supplier) {
			out = append(out, g)
		}
	}
	return out, len(out), nil
}

func (m *memoryRepo) PatchGRN(ctx context.Context, id int64, patch GRNPatch) (GRN, error) {
	grn, ok := m.grns[id]
	if !ok {
		return GRN{}, ErrGRNNotFound
	}
	if patch.PaymentMethod != nil {
		grn.PaymentMethod = *patch.PaymentMethod
	}
	if patch.PaidAmount != nil {
		grn.PaidAmount = *patch.PaidAmount
	}
	if patch.Remarks != nil {
		grn.Remarks = *patch.Remarks
	}
	m.grns[id] = grn
	return grn, nil
}

func (m *memoryRepo) ReplaceGRN(ctx context.Context, id int64, grn GRN) (GRN, error) {
	if _, ok := m.grns[id]; !ok {
		return GRN{}, ErrGRNNotFound
	}
	grn.ID = id
	m.grns[id] = grn
	return grn, nil
}

func (m *memoryRepo) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	return m.suppliers, nil
}

func (m *memoryRepo) InsertSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	for _, existing := range m.suppliers {
		if existing.Name == s.Name {
			return Supplier{}, ErrDuplicateSupplier
		}
	}
	s.ID = int64(len(m.suppliers) + 1)
	m.suppliers = append(m.suppliers, s)
	return s, nil
}

func (m *memoryRepo) SupplierTotals(ctx context.Context) ([]SupplierTotal, error) {
	totals := map[string]*SupplierTotal{}
	var order []string
	for id := int64(1); id <= int64(len(m.grns)); id++ {
		g := m.grns[id]
		t, ok := totals[g.Supplier]
		if !ok {
			t = &SupplierTotal{Supplier: g.Supplier}
			totals[g.Supplier] = t
			order = append(order, g.Supplier)
		}
		t.GRNCount++
		t.GrandTotal = t.GrandTotal.Add(g.GrandTotal)
		t.PaidTotal = t.PaidTotal.Add(g.PaidAmount)
	}
	out := make([]SupplierTotal, 0, len(order))
	for _, name := range order {
		out = append(out, *totals[name])
	}
	return out, nil
}

func (m *memoryRepo) RefreshSupplierTotals(ctx context.Context) error {
	m.refreshed++
	return nil
}

type fixture struct {
	svc       *Service
	stock     *fakeStock
	repo      *memoryRepo
	reindexer *fakeReindexer
	redis     *miniredis.Miniredis
}

var (
	storekeeper = shared.Actor{ID: "3", Name: "nimal", Role: "accountant"}
	receivedAt  = time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	battery     = inventory.SpareAttributes{Description: "iPhone 11", Compatibility: "11", Condition: "New"}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stock := &fakeStock{tokens: map[string]bool{}}
	repo := newMemoryRepo()
	reindexer := &fakeReindexer{}
	svc := NewService(repo, drafts.NewStore(client, time.Hour), stock, reindexer, nil, nil)
	ids := 0
	svc.now = func() time.Time { return receivedAt }
	svc.newID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	return &fixture{svc: svc, stock: stock, repo: repo, reindexer: reindexer, redis: mr}
}

func batteryLine(qty int) LineInput {
	price := decimal.NewFromInt(2000)
	return LineInput{Category: "spare", Key: "battery", Qty: qty, UnitPrice: &price, Attributes: battery}
}

func (f *fixture) draftWithBattery(t *testing.T, qty int) *Draft {
	t.Helper()
	ctx := context.Background()
	d, err := f.svc.CreateDraft(ctx)
	require.NoError(t, err)
	require.Equal(t, DraftEmpty, d.State)
	d, err = f.svc.AddLine(ctx, d.ID, batteryLine(qty))
	require.NoError(t, err)
	return d
}

func TestBuildLineComputesTotalAndLabel(t *testing.T) {
	price := decimal.RequireFromString("149.995")
	line, err := BuildLine("l1", LineInput{Category: "spare", Key: "back_glass", Qty: 2, UnitPrice: &price, Attributes: battery})
	require.NoError(t, err)
	require.Equal(t, "299.99", line.LineTotal.StringFixed(2))
	require.Equal(t, inventory.DefaultLabel("back_glass"), line.Label)

	_, err = BuildLine("l2", LineInput{Category: "spare", Key: "battery", Qty: 0})
	var fields shared.FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "qty")
	require.Contains(t, fields, "unitPrice")
}

func TestCommitTwiceDoublesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draftWithBattery(t, 5)

	res, err := f.svc.CommitToStock(ctx, storekeeper, d.ID, "")
	require.NoError(t, err)
	require.True(t, res.Results[0].Created)
	require.Equal(t, 5, f.stock.items[0].Qty)

	res, err = f.svc.CommitToStock(ctx, storekeeper, d.ID, "")
	require.NoError(t, err)
	require.False(t, res.Replayed)
	require.Len(t, f.stock.items, 1)
	require.Equal(t, 10, f.stock.items[0].Qty)
	require.Equal(t, 2, res.Draft.Commits)
}

func TestCommitReplayWithSameTokenIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draftWithBattery(t, 5)

	first, err := f.svc.CommitToStock(ctx, storekeeper, d.ID, "tok-1")
	require.NoError(t, err)
	require.Equal(t, "tok-1", first.Token)

	again, err := f.svc.CommitToStock(ctx, storekeeper, d.ID, "tok-1")
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, 5, f.stock.items[0].Qty)
	require.Equal(t, 1, again.Draft.Commits)
	require.Equal(t, DraftStockCommitted, again.Draft.State)
}

func TestCommitEmptyDraftRejected(t *testing.T) {
	f := newFixture(t)
	d, err := f.svc.CreateDraft(context.Background())
	require.NoError(t, err)
	_, err = f.svc.CommitToStock(context.Background(), storekeeper, d.ID, "")
	require.ErrorIs(t, err, ErrNothingToCommit)
	require.Zero(t, f.stock.calls)
}

func TestCommitFailureKeepsDraftEditing(t *testing.T) {
	f := newFixture(t)
	d := f.draftWithBattery(t, 2)
	f.stock.err = shared.Transient(errors.New("db down"))

	_, err := f.svc.CommitToStock(context.Background(), storekeeper, d.ID, "")
	require.ErrorIs(t, err, shared.ErrTransientIO)

	loaded, err := f.svc.GetDraft(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, DraftEditing, loaded.State)
}

func TestLineChangeDropsCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draftWithBattery(t, 1)
	_, err := f.svc.CommitToStock(ctx, storekeeper, d.ID, "")
	require.NoError(t, err)

	d, err = f.svc.AddLine(ctx, d.ID, batteryLine(3))
	require.NoError(t, err)
	require.Equal(t, DraftEditing, d.State)
	require.Zero(t, d.Commits)
	require.Equal(t, "8000.00", d.GrandTotal().StringFixed(2))

	d, err = f.svc.RemoveLine(ctx, d.ID, d.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, d.Items, 1)

	_, err = f.svc.RemoveLine(ctx, d.ID, "missing")
	require.ErrorIs(t, err, ErrLineNotFound)
}

func TestSaveRequiresCommitAndHeader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draftWithBattery(t, 5)

	_, err := f.svc.SaveGRN(ctx, storekeeper, d.ID)
	var fields shared.FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "supplier")
	require.Contains(t, fields, "paymentMethodOfGRN")

	supplier, method := "Cellcity", PaymentCredit
	_, err = f.svc.UpdateHeader(ctx, d.ID, Header{Supplier: &supplier, PaymentMethod: &method})
	require.NoError(t, err)
	_, err = f.svc.SaveGRN(ctx, storekeeper, d.ID)
	require.ErrorIs(t, err, ErrNotCommitted)

	_, err = f.svc.CommitToStock(ctx, storekeeper, d.ID, "")
	require.NoError(t, err)
	res, err := f.svc.SaveGRN(ctx, storekeeper, d.ID)
	require.NoError(t, err)
	require.Equal(t, "10000.00", res.GRN.GrandTotal.StringFixed(2))
	require.Equal(t, "reindex-1", res.TaskID)
	require.Equal(t, []string{"Cellcity"}, f.reindexer.suppliers)

	_, err = f.svc.GetDraft(ctx, d.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSaveFailureStillDiscardsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draftWithBattery(t, 1)
	supplier, method := "Cellcity", PaymentCash
	_, err := f.svc.UpdateHeader(ctx, d.ID, Header{Supplier: &supplier, PaymentMethod: &method})
	require.NoError(t, err)
	_, err = f.svc.CommitToStock(ctx, storekeeper, d.ID, "")
	require.NoError(t, err)

	f.repo.insertErr = errors.New("connection reset")
	_, err = f.svc.SaveGRN(ctx, storekeeper, d.ID)
	require.ErrorIs(t, err, shared.ErrTransientIO)

	_, err = f.svc.GetDraft(ctx, d.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, f.repo.grns)
}

func TestSaveWarnsWhenReindexCannotBeQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draftWithBattery(t, 1)
	supplier, method := "Cellcity", PaymentCash
	_, err := f.svc.UpdateHeader(ctx, d.ID, Header{Supplier: &supplier, PaymentMethod: &method})
	require.NoError(t, err)
	_, err = f.svc.CommitToStock(ctx, storekeeper, d.ID, "")
	require.NoError(t, err)

	f.reindexer.err = errors.New("redis down")
	res, err := f.svc.SaveGRN(ctx, storekeeper, d.ID)
	require.NoError(t, err)
	require.NotEmpty(t, res.Warning)
	require.Len(t, f.repo.grns, 1)
}

func TestCloseDraftBlockedByItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draftWithBattery(t, 1)
	require.ErrorIs(t, f.svc.CloseDraft(ctx, d.ID), ErrDraftHasItems)

	_, err := f.svc.RemoveLine(ctx, d.ID, d.Items[0].ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.CloseDraft(ctx, d.ID))
}

func TestParsePaymentMethodSpellings(t *testing.T) {
	for raw, want := range map[string]PaymentMethod{
		"BANK-TRANSFER": PaymentBankTransfer,
		"Half Payment":  PaymentHalfPayment,
		" cheque ":      PaymentCheque,
	} {
		got, err := ParsePaymentMethod(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got)
	}
	_, err := ParsePaymentMethod("barter")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPatchAndOutstanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := decimal.NewFromInt(1200)
	line, err := BuildLine("l1", LineInput{Category: "spare", Key: "battery", Qty: 3, UnitPrice: &price, Attributes: battery})
	require.NoError(t, err)

	grn, err := f.svc.CreateGRN(ctx, storekeeper, GRNInput{Supplier: "Cellcity", Items: []Line{line}, PaymentMethod: PaymentHalfPayment})
	require.NoError(t, err)
	require.Equal(t, "3600.00", grn.Outstanding().StringFixed(2))
	require.Zero(t, f.stock.calls)

	paid := decimal.NewFromInt(1800)
	grn, err = f.svc.PatchGRN(ctx, storekeeper, grn.ID, GRNPatch{PaidAmount: &paid})
	require.NoError(t, err)
	require.Equal(t, "1800.00", grn.Outstanding().StringFixed(2))

	negative := decimal.NewFromInt(-1)
	_, err = f.svc.PatchGRN(ctx, storekeeper, grn.ID, GRNPatch{PaidAmount: &negative})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.PatchGRN(ctx, storekeeper, 99, GRNPatch{PaidAmount: &paid})
	require.ErrorIs(t, err, ErrGRNNotFound)
}

func TestCreateSupplierDefaultsEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateSupplier(ctx, storekeeper, SupplierInput{Name: " Cellcity ", ContactPhone: "0112345678"})
	require.NoError(t, err)
	require.Equal(t, "Cellcity", s.Name)
	require.Equal(t, "N/A", s.ContactEmail)

	_, err = f.svc.CreateSupplier(ctx, storekeeper, SupplierInput{Name: "Cellcity"})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDraftSurvivesStoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	d := f.draftWithBattery(t, 4)
	loaded, err := f.svc.GetDraft(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, battery, loaded.Items[0].Attributes)
	require.Equal(t, "8000.00", loaded.GrandTotal().StringFixed(2))
}

func TestHandlerDraftFlow(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	r.Route("/grn", NewHandler(nil, f.svc).MountRoutes)

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req = req.WithContext(shared.ContextWithActor(req.Context(), storekeeper))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/grn/drafts", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var d Draft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))

	rec = do(http.MethodPost, "/grn/drafts/"+d.ID+"/items", map[string]any{
		"category": "spare", "key": "battery", "qty": 5, "unitPrice": "2000",
		"attributes": map[string]string{"description": "iPhone 11", "compatibility": "11", "condition": "New"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(http.MethodPost, "/grn/drafts/"+d.ID+"/save", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(http.MethodPatch, "/grn/drafts/"+d.ID+"/header", map[string]any{"supplier": "Cellcity", "paymentMethodOfGRN": "BANK-TRANSFER"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodPost, "/grn/drafts/"+d.ID+"/save", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPost, "/grn/drafts/"+d.ID+"/commit", map[string]string{"token": "t-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodDelete, "/grn/drafts/"+d.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPost, "/grn/drafts/"+d.ID+"/save", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var saved SaveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	require.Equal(t, PaymentBankTransfer, saved.GRN.PaymentMethod)

	rec = do(http.MethodGet, "/grn/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodPatch, "/grn/1", map[string]any{"paidAmount": "2500", "remarks": " half now "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "half now", f.repo.grns[1].Remarks)
}
