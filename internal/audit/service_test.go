package audit

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type stubTimelineRepo struct {
	rows []TimelineRow
	last Query
}

func (s *stubTimelineRepo) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	s.last = q
	if q.Limit > 0 && len(s.rows) > q.Limit {
		return s.rows[:q.Limit], nil
	}
	return s.rows, nil
}

func row(at string, action, entity, id string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: ts, Actor: "Nimal", Action: action, Entity: entity, EntityID: id}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		row("2026-03-10T10:00:00Z", "STOCK_DECREMENT", "stock", "4"),
		row("2026-03-09T09:00:00Z", "STOCK_INCREMENT", "stock", "4"),
		row("2026-03-08T08:00:00Z", "STOCK_CREATE", "stock", "4"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Entity: " stock ", Action: "stock_create", Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Zero(t, result.Paging.PrevPage)
	require.Equal(t, 3, repo.last.Limit)
	require.Zero(t, repo.last.Offset)
	require.Equal(t, "stock", repo.last.Entity)
	require.Equal(t, "STOCK_CREATE", repo.last.Action)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, maxPageSize, result.Paging.PageSize)
	require.Equal(t, 2, result.Paging.PrevPage)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, maxPageSize+1, repo.last.Limit)
	require.Equal(t, 2*maxPageSize, repo.last.Offset)
}

func TestServiceWithoutRepository(t *testing.T) {
	_, err := NewService(nil).Timeline(context.Background(), TimelineFilters{})
	require.Error(t, err)
}

func newTestRouter(repo Repository) http.Handler {
	h := NewHandler(slog.Default(), NewService(repo))
	h.now = func() time.Time { return time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/audit", h.MountRoutes)
	return r
}

func TestHandlerTimelineFilters(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{row("2026-03-10T10:00:00Z", "BILL_CREATE", "bill", "INV1001")}}
	router := newTestRouter(repo)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit?entity=bill&entityId=INV1001&from=2026-03-01&to=2026-03-10", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"entityId":"INV1001"`)
	require.Equal(t, "INV1001", repo.last.EntityID)
	require.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), repo.last.To)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit?from=2026-03-10&to=2026-03-01", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit?page=zero", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestHandlerExportWorkbook(t *testing.T) {
	entry := row("2026-03-10T10:00:00Z", "STOCK_DECREMENT", "stock", "4")
	entry.Meta = map[string]any{"qty": 2, "by": 1}
	router := newTestRouter(&stubTimelineRepo{rows: []TimelineRow{entry}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/export.xlsx", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Disposition"), "audit-2026.03.11.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("Audit")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "STOCK_DECREMENT", rows[1][2])
	require.Equal(t, "by=1, qty=2", rows[1][5])
}
