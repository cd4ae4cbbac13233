package inventory

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/platform/httpx"
	"github.com/repairdesk/repairdesk/internal/shared"
)

// Handler exposes the stock catalog over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/keys", h.keys)
	r.Get("/low", h.low)
	r.Post("/receive", h.receive)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.patch)
	r.Patch("/{id}/increment", h.increment)
	r.Patch("/{id}/decrement", h.decrement)
}

type itemRequest struct {
	Category   string          `json:"category" validate:"required,oneof=spare accessory product"`
	Key        string          `json:"key" validate:"required"`
	Label      string          `json:"label"`
	Qty        int             `json:"qty" validate:"gte=0"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Attributes json.RawMessage `json:"attributes" validate:"required"`
}

func (req itemRequest) decode() (Category, Attributes, error) {
	category, err := ParseCategory(req.Category)
	if err != nil {
		return "", nil, err
	}
	attrs, err := DecodeAttributes(category, req.Attributes)
	if err != nil {
		return "", nil, err
	}
	return category, attrs, nil
}

type patchRequest struct {
	Label     *string          `json:"label"`
	Qty       *int             `json:"qty"`
	UnitPrice *decimal.Decimal `json:"unitPrice"`
}

type adjustRequest struct {
	Qty int `json:"qty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Search: r.URL.Query().Get("q")}
	if raw := r.URL.Query().Get("category"); raw != "" {
		category, err := ParseCategory(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Category = category
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list stock", err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) keys(w http.ResponseWriter, r *http.Request) {
	out := map[Category][]KeyOption{}
	for _, c := range Categories {
		out[c] = KeyOptions(c)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) low(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.LowStock(r.Context())
	if err != nil {
		h.fail(w, "low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	category, attrs, err := req.decode()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Create(r.Context(), httpx.ActorFrom(r), CreateInput{
		Category: category, Key: req.Key, Label: req.Label, Qty: req.Qty, UnitPrice: req.UnitPrice, Attributes: attrs,
	})
	if err != nil {
		h.fail(w, "create stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	category, attrs, err := req.decode()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Receive(r.Context(), httpx.ActorFrom(r), ReceiveInput{
		Category: category, Key: req.Key, Label: req.Label, Qty: req.Qty, UnitPrice: req.UnitPrice, Attributes: attrs,
	})
	if err != nil {
		h.fail(w, "receive stock", err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) patch(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req patchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Patch(r.Context(), httpx.ActorFrom(r), id, PatchInput{Label: req.Label, Qty: req.Qty, UnitPrice: req.UnitPrice})
	if err != nil {
		h.fail(w, "patch stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) increment(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.service.Increment)
}

func (h *Handler) decrement(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.service.Decrement)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actor shared.Actor, id int64, n int) (Item, error)) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req := adjustRequest{Qty: 1}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if req.Qty <= 0 {
			httpx.RespondError(w, ErrInvalidQuantity)
			return
		}
	}
	item, err := op(r.Context(), httpx.ActorFrom(r), id, req.Qty)
	if err != nil {
		h.fail(w, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	httpx.Fail(h.logger, w, op, err)
}
