package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/repairdesk/repairdesk/internal/drafts"
	"github.com/repairdesk/repairdesk/internal/inventory"
	"github.com/repairdesk/repairdesk/internal/repair"
	"github.com/repairdesk/repairdesk/internal/shared"
)

type fakeStock struct {
	items      map[int64]inventory.Item
	received   []inventory.ReceiveInput
	receiveErr error
}

func (f *fakeStock) Get(ctx context.Context, id int64) (inventory.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return item, nil
}

func (f *fakeStock) Receive(ctx context.Context, actor shared.Actor, in inventory.ReceiveInput) (inventory.ReceiveResult, error) {
	if f.receiveErr != nil {
		return inventory.ReceiveResult{}, f.receiveErr
	}
	f.received = append(f.received, in)
	return inventory.ReceiveResult{Item: inventory.Item{ID: 99, Key: in.Key, Qty: in.Qty}, Created: true}, nil
}

type fakeCompensator struct {
	restored []LineItem
	closed   []string
	err      error
}

func (f *fakeCompensator) RestoreStock(ctx context.Context, actor shared.Actor, item LineItem) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.restored = append(f.restored, item)
	return fmt.Sprintf("restore-%d", len(f.restored)), nil
}

func (f *fakeCompensator) CloseJob(ctx context.Context, actor shared.Actor, jobRef, billNumber string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.closed = append(f.closed, jobRef+"|"+billNumber)
	return "close-1", nil
}

type memoryLedger struct {
	bills map[int64]Bill
	seq   int64
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{bills: make(map[int64]Bill)}
}

func (l *memoryLedger) NextBillNumber(ctx context.Context) (int64, error) {
	l.seq++
	return l.seq, nil
}

func (l *memoryLedger) InsertBill(ctx context.Context, bill Bill) (Bill, error) {
	for _, b := range l.bills {
		if b.BillNumber == bill.BillNumber {
			return Bill{}, ErrDuplicateBillNumber
		}
	}
	bill.ID = int64(len(l.bills) + 1)
	l.bills[bill.ID] = bill
	return bill, nil
}

func (l *memoryLedger) GetBill(ctx context.Context, id int64) (Bill, error) {
	b, ok := l.bills[id]
	if !ok {
		return Bill{}, ErrBillNotFound
	}
	return b, nil
}

func (l *memoryLedger) GetBillByNumber(ctx context.Context, number string) (Bill, error) {
	for _, b := range l.bills {
		if b.BillNumber == number {
			return b, nil
		}
	}
	return Bill{}, ErrBillNotFound
}

func (l *memoryLedger) ListBills(ctx context.Context, filter ListFilter) ([]Bill, int, error) {
	var out []Bill
	for _, b := range l.bills {
		if filter.Search == "" || strings.Contains(strings.ToLower(b.Customer.Name), strings.ToLower(filter.Search)) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (l *memoryLedger) BillsBetween(ctx context.Context, from, to time.Time) ([]Bill, error) {
	var out []Bill
	for _, b := range l.bills {
		if !b.Date.Before(from) && b.Date.Before(to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *memoryLedger) ReplaceBill(ctx context.Context, id int64, bill Bill) (Bill, error) {
	if _, ok := l.bills[id]; !ok {
		return Bill{}, ErrBillNotFound
	}
	bill.ID = id
	l.bills[id] = bill
	return bill, nil
}

func (l *memoryLedger) UpdatePayments(ctx context.Context, id int64, payments []BillPayment) (Bill, error) {
	b, ok := l.bills[id]
	if !ok {
		return Bill{}, ErrBillNotFound
	}
	b.Payments = payments
	l.bills[id] = b
	return b, nil
}

type fakeJobs struct {
	jobs map[string]repair.Job
}

func (f *fakeJobs) Details(ctx context.Context, ref string) (repair.Job, error) {
	job, ok := f.jobs[repair.NormalizeRef("", ref)]
	if !ok {
		return repair.Job{}, repair.ErrJobNotFound
	}
	return job, nil
}

type fixture struct {
	svc         *Service
	stock       *fakeStock
	compensator *fakeCompensator
	ledger      *memoryLedger
	redis       *miniredis.Miniredis
}

var (
	cashier = shared.Actor{ID: "7", Name: "dilani", Role: "accountant"}
	fixedAt = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stock := &fakeStock{items: map[int64]inventory.Item{
		11: {
			ID: 11, Category: inventory.CategorySpare, Key: "battery", Label: "Battery", Qty: 3,
			UnitPrice:  decimal.NewFromInt(1500),
			Attributes: inventory.SpareAttributes{Description: "iPhone 12", Compatibility: "12/12 Pro", Condition: "New"},
		},
	}}
	compensator := &fakeCompensator{}
	ledger := newMemoryLedger()
	jobs := &fakeJobs{jobs: map[string]repair.Job{
		"IDSJBN-03-25-4": {Ref: "IDSJBN-03-25-4", Technician: "ruwan", Customer: repair.Customer{
			Name: "Kasun Perera", Phone: "0771234567", Email: "kasun@example.com", Company: "KP Traders",
		}},
	}}

	ids := 0
	reconciler := NewReconciler(stock, compensator, NewDiscountGuard(nil, StaticPIN("132112")), nil)
	reconciler.newID = func() string { ids++; return fmt.Sprintf("line-%d", ids) }

	svc := NewService(Config{}, drafts.NewStore(client, time.Hour), ledger, reconciler, jobs, nil, nil)
	svc.now = func() time.Time { return fixedAt }
	svc.newID = func() string { return "draft-1" }
	return &fixture{svc: svc, stock: stock, compensator: compensator, ledger: ledger, redis: mr}
}

func (f *fixture) draft(t *testing.T) *Draft {
	t.Helper()
	d, err := f.svc.CreateDraft(context.Background(), cashier)
	require.NoError(t, err)
	return d
}

func TestCreateDraftNumbersAndMaker(t *testing.T) {
	f := newFixture(t)
	d := f.draft(t)
	require.Equal(t, "INV-000001", d.BillNumber)
	require.Equal(t, DraftEmpty, d.State)
	require.Equal(t, "dilani", d.BillMaker)

	loaded, err := f.svc.GetDraft(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, d.BillNumber, loaded.BillNumber)
}

func TestEmptyDraftCannotBeSaved(t *testing.T) {
	f := newFixture(t)
	d := f.draft(t)
	require.True(t, d.SubTotal().IsZero())

	_, err := f.svc.SaveDraft(context.Background(), cashier, d.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
	var fields shared.FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "items")
	require.Contains(t, fields, "customer.name")
	require.Empty(t, f.ledger.bills)
}

func TestSubTotalFollowsEveryMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)

	res, err := f.svc.AddManualItem(ctx, d.ID, ManualItemInput{Description: "Labour", Qty: 2, UnitPrice: decimal.RequireFromString("150.255")})
	require.NoError(t, err)
	require.Equal(t, OriginManual, res.Item.Origin)
	require.Equal(t, "300.51", res.Item.Amount.StringFixed(2))
	require.Equal(t, DraftEditing, res.Draft.State)

	res, err = f.svc.AddStockItem(ctx, d.ID, 11)
	require.NoError(t, err)
	require.Equal(t, OriginStock, res.Item.Origin)
	require.Equal(t, 1, res.Item.Qty)
	require.Equal(t, "Battery | iPhone 12 | 12/12 Pro", res.Item.Label)
	require.Equal(t, int64(11), res.Item.StockID)

	res, err = f.svc.AddTradeInItem(ctx, cashier, d.ID, TradeInInput{Item: "iphone_11", Capacity: "64GB", Color: "Black", CostPrice: decimal.NewFromInt(200)})
	require.NoError(t, err)
	require.Empty(t, res.Warning)
	require.Equal(t, "-200.00", res.Item.Amount.StringFixed(2))

	got, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "1600.51", got.SubTotal().StringFixed(2))
	require.True(t, got.SubTotal().Equal(got.SubTotal()))
	require.True(t, got.SubTotal().Equal(SubTotal(got.Items)))

	_, err = f.svc.RemoveItem(ctx, cashier, d.ID, "line-1")
	require.NoError(t, err)
	got, err = f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "1300.00", got.SubTotal().StringFixed(2))
}

func TestTradeInPostsDeviceToStock(t *testing.T) {
	f := newFixture(t)
	d := f.draft(t)

	res, err := f.svc.AddTradeInItem(context.Background(), cashier, d.ID, TradeInInput{
		Item: "iphone_11", Capacity: "64GB", Region: "LLA", Color: "Black", Serial: "SN1", IMEI: "35000", Qty: 2,
		CostPrice: decimal.NewFromInt(45000),
	})
	require.NoError(t, err)
	require.Equal(t, "iphone_11 | 64GB | LLA | Black | SN1 | 35000  - EXCHANGED ITEM", res.Item.Label)
	require.Equal(t, "45000", res.Item.UnitPrice.String())
	require.Equal(t, "-90000", res.Item.Amount.String())

	require.Len(t, f.stock.received, 1)
	in := f.stock.received[0]
	require.Equal(t, inventory.CategoryProduct, in.Category)
	require.Equal(t, "iphone_11", in.Key)
	require.Equal(t, "iphone 11", in.Label)
	require.Equal(t, 2, in.Qty)
	attrs, ok := in.Attributes.(inventory.ProductAttributes)
	require.True(t, ok)
	require.Equal(t, "Used", attrs.Condition)
	require.Equal(t, "64GB", attrs.Model)
}

func TestTradeInStockFailureIsAWarning(t *testing.T) {
	f := newFixture(t)
	f.stock.receiveErr = shared.Transient(errors.New("connection refused"))
	d := f.draft(t)

	res, err := f.svc.AddTradeInItem(context.Background(), cashier, d.ID, TradeInInput{Item: "pixel_7", CostPrice: decimal.NewFromInt(100)})
	require.NoError(t, err)
	require.NotEmpty(t, res.Warning)
	require.Len(t, res.Draft.Items, 1)
}

func TestRemoveStockItemQueuesRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)
	added, err := f.svc.AddStockItem(ctx, d.ID, 11)
	require.NoError(t, err)

	res, err := f.svc.RemoveItem(ctx, cashier, d.ID, added.Item.ID)
	require.NoError(t, err)
	require.Equal(t, "restore-1", res.TaskID)
	require.Empty(t, res.Warning)
	require.Empty(t, res.Draft.Items)
	require.Len(t, f.compensator.restored, 1)
	require.Equal(t, int64(11), f.compensator.restored[0].StockID)
	require.Equal(t, "battery", f.compensator.restored[0].Key)
}

func TestRemoveStockItemSurvivesCompensatorFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)
	added, err := f.svc.AddStockItem(ctx, d.ID, 11)
	require.NoError(t, err)

	f.compensator.err = errors.New("redis down")
	res, err := f.svc.RemoveItem(ctx, cashier, d.ID, added.Item.ID)
	require.NoError(t, err)
	require.NotEmpty(t, res.Warning)
	require.Empty(t, res.TaskID)

	got, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	require.Empty(t, got.Items)
}

// flakyDrafts fails the next n saves.
type flakyDrafts struct {
	DraftStore
	failSaves int
}

func (f *flakyDrafts) Save(ctx context.Context, kind, id string, v any) error {
	if f.failSaves > 0 {
		f.failSaves--
		return shared.Transient(errors.New("redis: connection reset"))
	}
	return f.DraftStore.Save(ctx, kind, id, v)
}

func TestRemoveRetryAfterFailedDraftSaveRestoresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)
	added, err := f.svc.AddStockItem(ctx, d.ID, 11)
	require.NoError(t, err)

	store := &flakyDrafts{DraftStore: f.svc.drafts, failSaves: 1}
	f.svc.drafts = store

	_, err = f.svc.RemoveItem(ctx, cashier, d.ID, added.Item.ID)
	require.ErrorIs(t, err, shared.ErrTransientIO)
	require.Empty(t, f.compensator.restored)
	got, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)

	res, err := f.svc.RemoveItem(ctx, cashier, d.ID, added.Item.ID)
	require.NoError(t, err)
	require.Equal(t, "restore-1", res.TaskID)
	require.Len(t, f.compensator.restored, 1)
	require.Empty(t, res.Draft.Items)
}

func TestTradeInRetryAfterFailedDraftSaveBooksOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)

	f.svc.drafts = &flakyDrafts{DraftStore: f.svc.drafts, failSaves: 1}
	in := TradeInInput{Item: "iphone_11", Serial: "SN9", CostPrice: decimal.NewFromInt(30000)}

	_, err := f.svc.AddTradeInItem(ctx, cashier, d.ID, in)
	require.ErrorIs(t, err, shared.ErrTransientIO)
	require.Empty(t, f.stock.received)

	res, err := f.svc.AddTradeInItem(ctx, cashier, d.ID, in)
	require.NoError(t, err)
	require.Empty(t, res.Warning)
	require.Len(t, f.stock.received, 1)
	require.Len(t, res.Draft.Items, 1)
}

func TestIdenticalTradeInsShareOneStockIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)

	for i := 0; i < 2; i++ {
		res, err := f.svc.AddTradeInItem(ctx, cashier, d.ID, TradeInInput{Item: "galaxy_a52", CostPrice: decimal.NewFromInt(20000)})
		require.NoError(t, err)
		require.Empty(t, res.Warning)
	}
	require.Len(t, f.stock.received, 2)
	require.Equal(t, f.stock.received[0], f.stock.received[1])
	attrs := f.stock.received[0].Attributes.(inventory.ProductAttributes)
	require.Equal(t, "N/A", attrs.SerialNumber)
	require.Equal(t, "N/A", attrs.IMEINumber)
}

func TestEditAmountOverridesLineOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)

	labour, err := f.svc.AddManualItem(ctx, d.ID, ManualItemInput{Description: "Labour", Qty: 2, UnitPrice: decimal.NewFromInt(150)})
	require.NoError(t, err)
	_, err = f.svc.AddStockItem(ctx, d.ID, 11)
	require.NoError(t, err)

	got, err := f.svc.EditAmount(ctx, d.ID, labour.Item.ID, decimal.RequireFromString("250.005"))
	require.NoError(t, err)
	line := got.Items[0]
	require.Equal(t, 2, line.Qty)
	require.Equal(t, "150", line.UnitPrice.String())
	require.Equal(t, "250.01", line.Amount.StringFixed(2))
	require.False(t, line.Amount.Equal(line.UnitPrice.Mul(decimal.NewFromInt(2))))
	require.Equal(t, "1750.01", got.SubTotal().StringFixed(2))
	require.Equal(t, "100.01", got.Profit().StringFixed(2))

	stored, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "1750.01", stored.SubTotal().StringFixed(2))

	_, err = f.svc.EditAmount(ctx, d.ID, "missing", decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrItemNotFound)

	_, err = f.svc.UpdateHeader(ctx, d.ID, Header{Customer: &Customer{Name: "Kasun Perera"}})
	require.NoError(t, err)
	_, err = f.svc.SaveDraft(ctx, cashier, d.ID)
	require.NoError(t, err)
	_, err = f.svc.EditAmount(ctx, d.ID, labour.Item.ID, decimal.NewFromInt(300))
	require.ErrorIs(t, err, ErrDraftSaved)
}

func TestRemoveManualItemDoesNotTouchStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)
	added, err := f.svc.AddManualItem(ctx, d.ID, ManualItemInput{Description: "Cleaning", Qty: 1, UnitPrice: decimal.NewFromInt(500)})
	require.NoError(t, err)

	_, err = f.svc.RemoveItem(ctx, cashier, d.ID, added.Item.ID)
	require.NoError(t, err)
	require.Empty(t, f.compensator.restored)

	_, err = f.svc.RemoveItem(ctx, cashier, d.ID, "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDiscountNeedsPIN(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)

	_, err := f.svc.AddManualItem(ctx, d.ID, ManualItemInput{Description: "Loyalty DISCOUNT", Qty: 1, UnitPrice: decimal.NewFromInt(-500), PIN: "0000"})
	require.ErrorIs(t, err, ErrDiscountPIN)
	require.ErrorIs(t, err, shared.ErrAuthorization)
	got, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	require.Empty(t, got.Items)

	res, err := f.svc.AddManualItem(ctx, d.ID, ManualItemInput{Description: "Loyalty DISCOUNT", Qty: 1, UnitPrice: decimal.NewFromInt(-500), PIN: "132112"})
	require.NoError(t, err)
	require.Equal(t, OriginManual, res.Item.Origin)
	require.Equal(t, "-500", res.Item.Amount.String())
}

func TestProfitHeuristic(t *testing.T) {
	items := []LineItem{
		{Amount: decimal.NewFromInt(100), UnitPrice: decimal.NewFromInt(40)},
		{Amount: decimal.NewFromInt(50), UnitPrice: decimal.NewFromInt(50)},
	}
	require.Equal(t, "60", Profit(items).String())
	require.Equal(t, "150", SubTotal(items).String())
}

func TestTogglePaymentRoundTripLosesAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)

	got, err := f.svc.TogglePayment(ctx, d.ID, PaymentCash)
	require.NoError(t, err)
	require.Equal(t, []Payment{{Method: PaymentCash, Amount: ""}}, got.Payments)

	got, err = f.svc.SetPaymentAmount(ctx, d.ID, PaymentCash, "1500")
	require.NoError(t, err)
	require.Equal(t, "1500", got.Payments[0].Amount)

	got, err = f.svc.TogglePayment(ctx, d.ID, PaymentCash)
	require.NoError(t, err)
	require.Empty(t, got.Payments)

	got, err = f.svc.TogglePayment(ctx, d.ID, PaymentCash)
	require.NoError(t, err)
	require.Equal(t, []Payment{{Method: PaymentCash, Amount: ""}}, got.Payments)

	_, err = f.svc.SetPaymentAmount(ctx, d.ID, PaymentCash, "abc")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.SetPaymentAmount(ctx, d.ID, PaymentKOKO, "10")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestLinkJobPrefillsCustomer(t *testing.T) {
	f := newFixture(t)
	d := f.draft(t)

	got, err := f.svc.LinkJob(context.Background(), d.ID, "03-25-4")
	require.NoError(t, err)
	require.Equal(t, "IDSJBN-03-25-4", got.JobRef)
	require.Equal(t, "Kasun Perera", got.Customer.Name)
	require.Equal(t, "0771234567", got.Customer.Contact)
	require.Equal(t, "KP Traders", got.Customer.Company)
	require.Equal(t, "ruwan", got.Technician)

	_, err = f.svc.LinkJob(context.Background(), d.ID, "01-20-1")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSaveDraftWritesLedgerAndQueuesJobClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)

	_, err := f.svc.LinkJob(ctx, d.ID, "03-25-4")
	require.NoError(t, err)
	_, err = f.svc.AddStockItem(ctx, d.ID, 11)
	require.NoError(t, err)
	_, err = f.svc.TogglePayment(ctx, d.ID, PaymentCash)
	require.NoError(t, err)

	_, err = f.svc.SaveDraft(ctx, cashier, d.ID)
	require.ErrorIs(t, err, shared.ErrValidation, "payment without amount")

	_, err = f.svc.SetPaymentAmount(ctx, d.ID, PaymentCash, "1500")
	require.NoError(t, err)

	res, err := f.svc.SaveDraft(ctx, cashier, d.ID)
	require.NoError(t, err)
	require.Equal(t, DraftSaved, res.Draft.State)
	require.Equal(t, "INV-000001", res.Bill.BillNumber)
	require.Equal(t, "1500", res.Bill.SubTotal.String())
	require.Equal(t, "0", res.Bill.Profit.String())
	require.Equal(t, "close-1", res.TaskID)
	require.Equal(t, []string{"IDSJBN-03-25-4|INV-000001"}, f.compensator.closed)

	_, err = f.svc.AddManualItem(ctx, d.ID, ManualItemInput{Description: "late", Qty: 1, UnitPrice: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrDraftSaved)

	bill, err := f.svc.DraftBill(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, res.Bill.ID, bill.ID)

	require.NoError(t, f.svc.CloseDraft(ctx, cashier, d.ID, false))
	_, err = f.svc.GetDraft(ctx, d.ID)
	require.ErrorIs(t, err, drafts.ErrNotFound)
}

func TestSaveWithoutJobWarns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)
	_, err := f.svc.UpdateHeader(ctx, d.ID, Header{Customer: &Customer{Name: "Walk-in"}})
	require.NoError(t, err)
	_, err = f.svc.AddManualItem(ctx, d.ID, ManualItemInput{Description: "Screen guard", Qty: 1, UnitPrice: decimal.NewFromInt(800)})
	require.NoError(t, err)

	res, err := f.svc.SaveDraft(ctx, cashier, d.ID)
	require.NoError(t, err)
	require.Empty(t, res.TaskID)
	require.NotEmpty(t, res.Warning)
}

func TestSaveSurvivesJobCloseFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)
	_, err := f.svc.LinkJob(ctx, d.ID, "03-25-4")
	require.NoError(t, err)
	_, err = f.svc.AddManualItem(ctx, d.ID, ManualItemInput{Description: "Repair", Qty: 1, UnitPrice: decimal.NewFromInt(800)})
	require.NoError(t, err)

	f.compensator.err = errors.New("queue unavailable")
	res, err := f.svc.SaveDraft(ctx, cashier, d.ID)
	require.NoError(t, err)
	require.Equal(t, DraftSaved, res.Draft.State)
	require.NotEmpty(t, res.Warning)
	require.Len(t, f.ledger.bills, 1)
}

func TestCloseDraftWithItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.draft(t)
	_, err := f.svc.AddManualItem(ctx, d.ID, ManualItemInput{Description: "Repair", Qty: 1, UnitPrice: decimal.NewFromInt(800)})
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.CloseDraft(ctx, cashier, d.ID, false), ErrDraftHasItems)
	_, err = f.svc.DraftBill(ctx, d.ID)
	require.ErrorIs(t, err, ErrDraftNotSaved)
	require.NoError(t, f.svc.CloseDraft(ctx, cashier, d.ID, true))
}

func TestCreateBillAndPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bill, err := f.svc.CreateBill(ctx, cashier, BillInput{
		Date:     fixedAt,
		Customer: Customer{Name: "Nadeesha"},
		Items: []LineItem{
			{Label: "Back glass", Qty: 1, UnitPrice: decimal.NewFromInt(3000), Amount: decimal.NewFromInt(4500)},
		},
		Payments: []Payment{{Method: PaymentCardVisa, Amount: "4500"}},
	})
	require.NoError(t, err)
	require.Equal(t, "INV-000001", bill.BillNumber)
	require.Equal(t, "1500", bill.Profit.String())
	require.Equal(t, "dilani", bill.BillMaker)
	require.Equal(t, OriginManual, bill.Items[0].Origin)

	_, err = f.svc.CreateBill(ctx, cashier, BillInput{
		BillNumber: "INV-000001",
		Customer:   Customer{Name: "Dup"},
		Items:      []LineItem{{Label: "x", Qty: 1, Amount: decimal.NewFromInt(1)}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)

	updated, err := f.svc.UpdatePayments(ctx, cashier, bill.ID, []Payment{
		{Method: PaymentCash, Amount: "2000"}, {Method: PaymentKOKO, Amount: "2500"},
	})
	require.NoError(t, err)
	require.Equal(t, "2000", updated.PaymentTotal(PaymentCash).String())

	_, err = f.svc.UpdatePayments(ctx, cashier, bill.ID, []Payment{{Method: "Bitcoin", Amount: "1"}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPaymentTotalsWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, day := range []time.Time{fixedAt, fixedAt.Add(2 * time.Hour), fixedAt.AddDate(0, 0, -1)} {
		_, err := f.svc.CreateBill(ctx, cashier, BillInput{
			Date:     day,
			Customer: Customer{Name: fmt.Sprintf("c%d", i)},
			Items:    []LineItem{{Label: "x", Qty: 1, Amount: decimal.NewFromInt(100)}},
			Payments: []Payment{{Method: PaymentCash, Amount: "100"}, {Method: PaymentCredit, Amount: "5.5"}},
		})
		require.NoError(t, err)
	}

	summary, err := f.svc.PaymentTotals(ctx, f.svc.Today())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Bills)
	require.Len(t, summary.Totals, len(PaymentMethods))
	require.Equal(t, PaymentCardVisa, summary.Totals[0].Method)
	require.Equal(t, "211", summary.GrandTotal.String())

	from := fixedAt.AddDate(0, 0, -1)
	summary, err = f.svc.PaymentTotals(ctx, NewWindow(&from, &fixedAt, fixedAt))
	require.NoError(t, err)
	require.Equal(t, 3, summary.Bills)
}

func TestExportFilenames(t *testing.T) {
	require.Equal(t, "2025.11.14.xlsx", ExportFilename(time.Date(2025, 11, 14, 8, 0, 0, 0, time.UTC)))
	require.Equal(t, "QuickBills-2025.11.14.xlsx", QuickExportFilename(time.Date(2025, 11, 14, 8, 0, 0, 0, time.UTC)))
}
