package procurement

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/inventory"
	"github.com/repairdesk/repairdesk/internal/platform/httpx"
	"github.com/repairdesk/repairdesk/internal/shared"
)

// Handler exposes GRN drafts, the GRN ledger and suppliers.
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

// MountRoutes registers /grn routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/drafts", func(r chi.Router) {
		r.Post("/", h.createDraft)
		r.Route("/{draftID}", func(r chi.Router) {
			r.Get("/", h.getDraft)
			r.Delete("/", h.closeDraft)
			r.Patch("/header", h.updateHeader)
			r.Post("/items", h.addLine)
			r.Delete("/items/{lineID}", h.removeLine)
			r.Post("/commit", h.commit)
			r.Post("/save", h.save)
		})
	})
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.replace)
	r.Patch("/{id}", h.patch)
}

// MountSupplierRoutes registers /suppliers routes.
func (h *Handler) MountSupplierRoutes(r chi.Router) {
	r.Get("/", h.listSuppliers)
	r.Post("/", h.createSupplier)
	r.Get("/totals", h.supplierTotals)
}

type headerRequest struct {
	Date          *string `json:"date"`
	Invoice       *string `json:"invoice"`
	Supplier      *string `json:"supplier"`
	PaymentMethod *string `json:"paymentMethodOfGRN"`
}

type lineRequest struct {
	ID         string           `json:"id"`
	Category   string           `json:"category" validate:"required"`
	Key        string           `json:"key" validate:"required"`
	Label      string           `json:"label"`
	Qty        int              `json:"qty" validate:"gt=0"`
	UnitPrice  *decimal.Decimal `json:"unitPrice" validate:"required"`
	Attributes json.RawMessage  `json:"attributes"`
}

func (req lineRequest) input() (LineInput, error) {
	in := LineInput{Category: req.Category, Key: req.Key, Label: req.Label, Qty: req.Qty, UnitPrice: req.UnitPrice}
	if len(req.Attributes) == 0 {
		return in, nil
	}
	category, err := inventory.ParseCategory(req.Category)
	if err != nil {
		return LineInput{}, shared.FieldErrors{"category": "is invalid"}
	}
	attrs, err := inventory.DecodeAttributes(category, req.Attributes)
	if err != nil {
		return LineInput{}, err
	}
	in.Attributes = attrs
	return in, nil
}

type commitRequest struct {
	Token string `json:"token"`
}

type grnRequest struct {
	Date          string          `json:"date"`
	Invoice       string          `json:"invoice"`
	Supplier      string          `json:"supplier" validate:"required"`
	Items         []lineRequest   `json:"items" validate:"required,min=1,dive"`
	PaymentMethod string          `json:"paymentMethodOfGRN" validate:"required"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	Remarks       string          `json:"remarks"`
}

func (req grnRequest) input() (GRNInput, error) {
	method, err := ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return GRNInput{}, err
	}
	in := GRNInput{
		Invoice:       req.Invoice,
		Supplier:      req.Supplier,
		PaymentMethod: method,
		PaidAmount:    req.PaidAmount,
		Remarks:       req.Remarks,
	}
	if strings.TrimSpace(req.Date) != "" {
		if in.Date, err = parseDate(req.Date); err != nil {
			return GRNInput{}, err
		}
	}
	for _, l := range req.Items {
		li, err := l.input()
		if err != nil {
			return GRNInput{}, err
		}
		line, err := BuildLine(l.ID, li)
		if err != nil {
			return GRNInput{}, err
		}
		in.Items = append(in.Items, line)
	}
	return in, nil
}

type patchRequest struct {
	PaymentMethod *string          `json:"paymentMethodOfGRN"`
	PaidAmount    *decimal.Decimal `json:"paidAmount"`
	Remarks       *string          `json:"remarks"`
}

type supplierRequest struct {
	Name         string `json:"supplierName" validate:"required"`
	ContactPhone string `json:"contactPhone"`
	ContactEmail string `json:"contactEmail" validate:"omitempty,email"`
	Location     string `json:"location"`
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, shared.FieldErrors{"date": "must be YYYY-MM-DD or RFC3339"}
	}
	return t, nil
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.CreateDraft(r.Context())
	if err != nil {
		h.fail(w, "create grn draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.GetDraft(r.Context(), chi.URLParam(r, "draftID"))
	if err != nil {
		h.fail(w, "get grn draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) closeDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CloseDraft(r.Context(), chi.URLParam(r, "draftID")); err != nil {
		h.fail(w, "close grn draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateHeader(w http.ResponseWriter, r *http.Request) {
	var req headerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	header := Header{Invoice: req.Invoice, Supplier: req.Supplier}
	if req.Date != nil && strings.TrimSpace(*req.Date) != "" {
		date, err := parseDate(*req.Date)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		header.Date = &date
	}
	if req.PaymentMethod != nil {
		method, err := ParsePaymentMethod(*req.PaymentMethod)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		header.PaymentMethod = &method
	}
	d, err := h.service.UpdateHeader(r.Context(), chi.URLParam(r, "draftID"), header)
	if err != nil {
		h.fail(w, "update grn header", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	var req lineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.AddLine(r.Context(), chi.URLParam(r, "draftID"), in)
	if err != nil {
		h.fail(w, "add grn line", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.RemoveLine(r.Context(), chi.URLParam(r, "draftID"), chi.URLParam(r, "lineID"))
	if err != nil {
		h.fail(w, "remove grn line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	token := req.Token
	if token == "" {
		token = r.Header.Get("Idempotency-Key")
	}
	res, err := h.service.CommitToStock(r.Context(), httpx.ActorFrom(r), chi.URLParam(r, "draftID"), token)
	if err != nil {
		h.fail(w, "commit grn to stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.SaveGRN(r.Context(), httpx.ActorFrom(r), chi.URLParam(r, "draftID"))
	if err != nil {
		h.fail(w, "save grn", err)
		return
	}
	httpx.Warn(w, res.Warning)
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Supplier: strings.TrimSpace(r.URL.Query().Get("supplier")),
		Page:     shared.PageFromQuery(r.URL.Query(), 200),
	}
	grns, page, err := h.service.ListGRNs(r.Context(), filter)
	if err != nil {
		h.fail(w, "list grns", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": grns, "pagination": page})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req grnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grn, err := h.service.CreateGRN(r.Context(), httpx.ActorFrom(r), in)
	if err != nil {
		h.fail(w, "create grn", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grn)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grn, err := h.service.GetGRN(r.Context(), id)
	if err != nil {
		h.fail(w, "get grn", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req grnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grn, err := h.service.ReplaceGRN(r.Context(), httpx.ActorFrom(r), id, in)
	if err != nil {
		h.fail(w, "replace grn", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
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
	patch := GRNPatch{PaidAmount: req.PaidAmount, Remarks: req.Remarks}
	if req.PaymentMethod != nil {
		method, err := ParsePaymentMethod(*req.PaymentMethod)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		patch.PaymentMethod = &method
	}
	grn, err := h.service.PatchGRN(r.Context(), httpx.ActorFrom(r), id, patch)
	if err != nil {
		h.fail(w, "patch grn", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.service.ListSuppliers(r.Context())
	if err != nil {
		h.fail(w, "list suppliers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, suppliers)
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	var req supplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	s, err := h.service.CreateSupplier(r.Context(), httpx.ActorFrom(r), SupplierInput{
		Name: req.Name, ContactPhone: req.ContactPhone, ContactEmail: req.ContactEmail, Location: req.Location,
	})
	if err != nil {
		h.fail(w, "create supplier", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, s)
}

func (h *Handler) supplierTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.SupplierTotals(r.Context())
	if err != nil {
		h.fail(w, "supplier totals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	httpx.Fail(h.logger, w, op, err)
}
