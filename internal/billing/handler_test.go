package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/repairdesk/repairdesk/internal/platform/httpx"
)

type stubExporter struct {
	bills int
}

func (s *stubExporter) BillsWorkbook(bills []Bill) ([]byte, error) {
	s.bills = len(bills)
	return []byte("PK-full"), nil
}

func (s *stubExporter) QuickBillsWorkbook(bills []Bill) ([]byte, error) {
	s.bills = len(bills)
	return []byte("PK-quick"), nil
}

type stubInvoices struct{}

func (stubInvoices) Invoice(ctx context.Context, bill Bill) ([]byte, error) {
	return []byte("%PDF-" + bill.BillNumber), nil
}

func newTestRouter(t *testing.T, exporter Exporter) (*fixture, http.Handler) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(nil, f.svc, stubInvoices{}, exporter)
	r := chi.NewRouter()
	r.Route("/bills", h.MountRoutes)
	return f, r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerDraftFlow(t *testing.T) {
	_, h := newTestRouter(t, &stubExporter{})

	rec := do(t, h, http.MethodPost, "/bills/drafts", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var d Draft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	base := "/bills/drafts/" + d.ID

	rec = do(t, h, http.MethodPost, base+"/items/manual", `{"description":"dsct for regulars","qty":1,"unitPrice":"-100","pin":"1"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/items/manual", `{"description":"Screen repair","qty":1,"unitPrice":"7500"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/save", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "customer.name")

	rec = do(t, h, http.MethodGet, base+"/invoice.pdf", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPatch, base+"/header", `{"date":"2025-03-14","customer":{"name":"Sahan"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, base+"/payments/toggle", `{"method":"Cash"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPatch, base+"/payments", `{"method":"Cash","amount":"7500"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/save", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "no job reference")
	require.Contains(t, rec.Header().Get(httpx.WarningHeader), "no job reference")

	rec = do(t, h, http.MethodGet, base+"/invoice.pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, "%PDF-INV-000001", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/bills/number/INV-000001", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, base, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlerCloseDraftNeedsEmergency(t *testing.T) {
	_, h := newTestRouter(t, nil)
	rec := do(t, h, http.MethodPost, "/bills/drafts", "")
	var d Draft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	base := "/bills/drafts/" + d.ID

	rec = do(t, h, http.MethodPost, base+"/items/stock", `{"stockId":11}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodDelete, base, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodDelete, base+"?emergency=true", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlerExports(t *testing.T) {
	exporter := &stubExporter{}
	f, h := newTestRouter(t, exporter)
	_, err := f.svc.CreateBill(context.Background(), cashier, BillInput{
		Date:     fixedAt,
		Customer: Customer{Name: "A"},
		Items:    []LineItem{{Label: "x", Qty: 1}},
	})
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/bills/quick-export.xlsx?from=2025-03-14", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodGet, "/bills/quick-export.xlsx?from=2025-03-01&to=2025-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "QuickBills-2025.03.14.xlsx")
	require.Equal(t, 1, exporter.bills)

	rec = do(t, h, http.MethodGet, "/bills/export.xlsx?from=2025-03-20&to=2025-03-21", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "2025.03.14.xlsx")
	require.Equal(t, 0, exporter.bills)

	rec = do(t, h, http.MethodGet, "/bills/export.xlsx?from=14-03-2025", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodGet, "/bills/generate-number", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "INV-000002")
}

func TestHandlerListsOpenDrafts(t *testing.T) {
	f, h := newTestRouter(t, &stubExporter{})
	ids := 0
	f.svc.newID = func() string { ids++; return fmt.Sprintf("draft-%d", ids) }
	ticks := 0
	f.svc.now = func() time.Time { ticks++; return fixedAt.Add(time.Duration(ticks) * time.Minute) }

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/bills/drafts", "").Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/bills/drafts", "").Code)
	rec := do(t, h, http.MethodPost, "/bills/drafts/draft-1/items/manual", `{"description":"Screen repair","qty":1,"unitPrice":"7500"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	f.redis.Del("drafts:bill:draft-2")

	rec = do(t, h, http.MethodGet, "/bills/drafts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var open []DraftSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &open))
	require.Len(t, open, 1)
	require.Equal(t, "draft-1", open[0].ID)
	require.Equal(t, 1, open[0].Items)
	require.Equal(t, "7500", open[0].SubTotal.String())
	require.Equal(t, DraftEditing, open[0].State)
}
