package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/xuri/excelize/v2"

	"github.com/repairdesk/repairdesk/internal/platform/httpx"
	"github.com/repairdesk/repairdesk/internal/shared"
)

const (
	exportLimit  = 10
	exportWindow = time.Minute
	maxRange     = 366 * 24 * time.Hour
)

// TimelineService is the contract used by Handler.
type TimelineService interface {
	Timeline(ctx context.Context, filters TimelineFilters) (Result, error)
	Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error)
}

// Handler serves the audit trail.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger.With("component", "audit"), service: service, now: time.Now}
}

// MountRoutes registers /audit routes. Exports are rate limited per actor.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(exportLimit, exportWindow, httprate.WithKeyFuncs(exportKey))
	r.Get("/", h.timeline)
	r.With(limiter).Get("/export.xlsx", h.export)
}

func exportKey(r *http.Request) (string, error) {
	if actor, ok := shared.ActorFromContext(r.Context()); ok && actor.Label() != "" {
		return "actor:" + actor.Label(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Fail(h.logger, w, "audit timeline", err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		httpx.Fail(h.logger, w, "audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Fail(h.logger, w, "audit export", err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		httpx.Fail(h.logger, w, "audit export", err)
		return
	}
	body, err := timelineWorkbook(rows)
	if err != nil {
		httpx.Fail(h.logger, w, "audit export", err)
		return
	}
	name := fmt.Sprintf("audit-%s.xlsx", h.now().Format("2006.01.02"))
	httpx.Attachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", name, body)
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	fields := shared.FieldErrors{}
	var filters TimelineFilters
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			fields.Add("from", "must be YYYY-MM-DD")
		}
		filters.From = from
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			fields.Add("to", "must be YYYY-MM-DD")
		} else {
			filters.To = to.Add(24 * time.Hour)
		}
	}
	if !filters.From.IsZero() && !filters.To.IsZero() {
		if !filters.From.Before(filters.To) {
			fields.Add("range", "from must not be after to")
		} else if filters.To.Sub(filters.From) > maxRange {
			fields.Add("range", "must not exceed one year")
		}
	}
	filters.Page = positiveInt(q.Get("page"), "page", fields)
	filters.PageSize = positiveInt(q.Get("perPage"), "perPage", fields)
	if err := fields.Err(); err != nil {
		return TimelineFilters{}, err
	}
	filters.Actor = q.Get("actor")
	filters.Entity = q.Get("entity")
	filters.EntityID = q.Get("entityId")
	filters.Action = q.Get("action")
	return filters, nil
}

func positiveInt(raw, field string, fields shared.FieldErrors) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		fields.Add(field, "must be a positive integer")
		return 0
	}
	return n
}

func timelineWorkbook(rows []TimelineRow) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	const sheet = "Audit"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	headers := []any{"Time", "Actor", "Action", "Entity", "Entity ID", "Details"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []any{row.At.Format(time.RFC3339), row.Actor, row.Action, row.Entity, row.EntityID, metaSummary(row.Meta)}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func metaSummary(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, meta[k]))
	}
	return strings.Join(parts, ", ")
}
