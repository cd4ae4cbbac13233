package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/repairdesk/repairdesk/internal/platform/httpx"
)

// Handler serves the staff directory.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Post("/", h.createUser)
	r.Get("/job-creators", h.byRole(RoleJobCreator))
	r.Get("/technicians", h.byRole(RoleTechnician))
	r.Get("/accountants", h.byRole(RoleAccountant))
}

type createRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required"`
	Role  string `json:"role" validate:"required"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("role"); raw != "" {
		role, err := ParseRole(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		h.byRole(role)(w, r)
		return
	}
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		httpx.Fail(h.logger, w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) byRole(role Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := h.service.ListByRole(r.Context(), role)
		if err != nil {
			httpx.Fail(h.logger, w, "list users by role", err)
			return
		}
		httpx.JSON(w, http.StatusOK, users)
	}
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	u, err := h.service.Create(r.Context(), CreateInput{Email: req.Email, Name: req.Name, Role: role})
	if err != nil {
		httpx.Fail(h.logger, w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, u)
}
