package repair

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/repairdesk/repairdesk/internal/platform/httpx"
	"github.com/repairdesk/repairdesk/internal/shared"
)

// NoteRenderer renders the printable job note.
type NoteRenderer interface {
	JobNote(ctx context.Context, job Job) ([]byte, error)
}

// Handler exposes repair jobs over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	notes   NoteRenderer
}

// NewHandler builds the handler. notes may be nil, which disables the PDF route.
func NewHandler(logger *slog.Logger, service *Service, notes NoteRenderer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, notes: notes}
}

// MountRoutes registers /jobs routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.intake)
	r.Put("/{id}", h.update)
	r.Get("/details/{ref}", h.details)
	r.Get("/details/{ref}/note.pdf", h.note)
	r.Patch("/details/{ref}/progress", h.progress)
}

// MountEditRoutes registers the progress edit route used by the front desk.
func (h *Handler) MountEditRoutes(r chi.Router) {
	r.Patch("/{ref}", h.progress)
}

// MountCustomerRoutes registers /customers routes.
func (h *Handler) MountCustomerRoutes(r chi.Router) {
	r.Get("/by-phone/{phone}", h.customerByPhone)
}

type jobRequest struct {
	Customer   Customer `json:"customer"`
	Device     Device   `json:"device"`
	Issues     []string `json:"issues"`
	Technician string   `json:"technician"`
	Progress   string   `json:"jobProgress"`
}

type progressRequest struct {
	Progress string `json:"jobProgress" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Technician: r.URL.Query().Get("technician"),
		Page:       shared.PageFromQuery(r.URL.Query(), 200),
	}
	jobs, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list jobs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": jobs, "pagination": page})
}

func (h *Handler) intake(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	job, err := h.service.Intake(r.Context(), httpx.ActorFrom(r), IntakeInput{
		Customer: req.Customer, Device: req.Device, Issues: req.Issues, Technician: req.Technician,
	})
	if err != nil {
		h.fail(w, "create job", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, job)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req jobRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	job, err := h.service.Update(r.Context(), httpx.ActorFrom(r), id, UpdateInput{
		Customer: req.Customer, Device: req.Device, Issues: req.Issues, Technician: req.Technician, Progress: req.Progress,
	})
	if err != nil {
		h.fail(w, "update job", err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) details(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Details(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.fail(w, "job details", err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) note(w http.ResponseWriter, r *http.Request) {
	if h.notes == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "document rendering is not configured")
		return
	}
	job, err := h.service.Details(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.fail(w, "job note", err)
		return
	}
	pdf, err := h.notes.JobNote(r.Context(), job)
	if err != nil {
		h.fail(w, "render job note", shared.Transient(err))
		return
	}
	httpx.Attachment(w, "application/pdf", job.Ref+".pdf", pdf)
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	job, err := h.service.SetProgress(r.Context(), httpx.ActorFrom(r), chi.URLParam(r, "ref"), req.Progress)
	if err != nil {
		h.fail(w, "job progress", err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) customerByPhone(w http.ResponseWriter, r *http.Request) {
	customer, err := h.service.CustomerByPhone(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		h.fail(w, "customer by phone", err)
		return
	}
	httpx.JSON(w, http.StatusOK, customer)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	httpx.Fail(h.logger, w, op, err)
}
