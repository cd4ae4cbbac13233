package billing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/repairdesk/internal/platform/httpx"
	"github.com/repairdesk/repairdesk/internal/shared"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// InvoiceRenderer renders the printable invoice of a bill.
type InvoiceRenderer interface {
	Invoice(ctx context.Context, bill Bill) ([]byte, error)
}

// Exporter builds spreadsheet reports.
type Exporter interface {
	BillsWorkbook(bills []Bill) ([]byte, error)
	QuickBillsWorkbook(bills []Bill) ([]byte, error)
}

// Handler exposes bill drafts and the bill ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	invoices InvoiceRenderer
	exporter Exporter
}

// NewHandler builds the handler. invoices and exporter may be nil.
func NewHandler(logger *slog.Logger, service *Service, invoices InvoiceRenderer, exporter Exporter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, invoices: invoices, exporter: exporter}
}

// MountRoutes registers /bills routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/drafts", func(r chi.Router) {
		r.Get("/", h.listDrafts)
		r.Post("/", h.createDraft)
		r.Route("/{draftID}", func(r chi.Router) {
			r.Get("/", h.getDraft)
			r.Delete("/", h.closeDraft)
			r.Patch("/header", h.updateHeader)
			r.Post("/job", h.linkJob)
			r.Post("/items/manual", h.addManual)
			r.Post("/items/stock", h.addStock)
			r.Post("/items/trade-in", h.addTradeIn)
			r.Delete("/items/{itemID}", h.removeItem)
			r.Patch("/items/{itemID}/amount", h.editAmount)
			r.Post("/payments/toggle", h.togglePayment)
			r.Patch("/payments", h.setPaymentAmount)
			r.Post("/save", h.saveDraft)
			r.Get("/invoice.pdf", h.draftInvoice)
		})
	})
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/generate-number", h.generateNumber)
	r.Get("/payment-totals", h.paymentTotals)
	r.Get("/export.xlsx", h.export)
	r.Get("/quick-export.xlsx", h.quickExport)
	r.Get("/number/{number}", h.getByNumber)
	r.Get("/{id}", h.get)
	r.Get("/{id}/invoice.pdf", h.invoice)
	r.Put("/{id}", h.replace)
	r.Patch("/{id}/payments", h.updatePayments)
}

type headerRequest struct {
	Date       *string   `json:"date"`
	BillMaker  *string   `json:"billMaker"`
	Technician *string   `json:"technician"`
	Customer   *Customer `json:"customer"`
}

type jobRequest struct {
	JobRef string `json:"jobRef" validate:"required"`
}

type manualItemRequest struct {
	Description string          `json:"description" validate:"required"`
	Qty         int             `json:"qty" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	PIN         string          `json:"pin"`
}

type stockItemRequest struct {
	StockID int64 `json:"stockId" validate:"gt=0"`
}

type tradeInRequest struct {
	Item      string          `json:"item" validate:"required"`
	Capacity  string          `json:"capacity"`
	Region    string          `json:"region"`
	Color     string          `json:"color"`
	Serial    string          `json:"serial"`
	IMEI      string          `json:"imei"`
	Condition string          `json:"condition"`
	Qty       int             `json:"qty" validate:"gte=0"`
	CostPrice decimal.Decimal `json:"costPrice"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type paymentRequest struct {
	Method string `json:"method" validate:"required"`
	Amount string `json:"amount"`
}

type billRequest struct {
	BillNumber string     `json:"billNumber"`
	Date       string     `json:"date"`
	BillMaker  string     `json:"billMaker"`
	Technician string     `json:"technician"`
	JobRef     string     `json:"jobRef"`
	Customer   Customer   `json:"customer"`
	Items      []LineItem `json:"items"`
	Payments   []Payment  `json:"payments"`
}

func (req billRequest) input() (BillInput, error) {
	in := BillInput{
		BillNumber: req.BillNumber,
		BillMaker:  req.BillMaker,
		Technician: req.Technician,
		JobRef:     req.JobRef,
		Customer:   req.Customer,
		Items:      req.Items,
		Payments:   req.Payments,
	}
	if strings.TrimSpace(req.Date) != "" {
		date, err := parseDate(req.Date)
		if err != nil {
			return BillInput{}, err
		}
		in.Date = date
	}
	return in, nil
}

type paymentsRequest struct {
	Payments []Payment `json:"payments"`
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

func queryDay(values url.Values, key string) (*time.Time, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return nil, shared.FieldErrors{key: "must be YYYY-MM-DD"}
	}
	return &t, nil
}

func queryRange(values url.Values) (*time.Time, *time.Time, error) {
	from, err := queryDay(values, "from")
	if err != nil {
		return nil, nil, err
	}
	to, err := queryDay(values, "to")
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.CreateDraft(r.Context(), httpx.ActorFrom(r))
	if err != nil {
		h.fail(w, "create bill draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) listDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.service.OpenDrafts(r.Context())
	if err != nil {
		h.fail(w, "list bill drafts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, drafts)
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.GetDraft(r.Context(), chi.URLParam(r, "draftID"))
	if err != nil {
		h.fail(w, "get bill draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) closeDraft(w http.ResponseWriter, r *http.Request) {
	emergency, _ := strconv.ParseBool(r.URL.Query().Get("emergency"))
	if err := h.service.CloseDraft(r.Context(), httpx.ActorFrom(r), chi.URLParam(r, "draftID"), emergency); err != nil {
		h.fail(w, "close bill draft", err)
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
	header := Header{BillMaker: req.BillMaker, Technician: req.Technician, Customer: req.Customer}
	if req.Date != nil && strings.TrimSpace(*req.Date) != "" {
		date, err := parseDate(*req.Date)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		header.Date = &date
	}
	d, err := h.service.UpdateHeader(r.Context(), chi.URLParam(r, "draftID"), header)
	if err != nil {
		h.fail(w, "update bill header", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) linkJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.LinkJob(r.Context(), chi.URLParam(r, "draftID"), req.JobRef)
	if err != nil {
		h.fail(w, "link job", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) addManual(w http.ResponseWriter, r *http.Request) {
	var req manualItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.AddManualItem(r.Context(), chi.URLParam(r, "draftID"), ManualItemInput{
		Description: req.Description, Qty: req.Qty, UnitPrice: req.UnitPrice, PIN: req.PIN,
	})
	if err != nil {
		h.fail(w, "add manual item", err)
		return
	}
	httpx.Warn(w, res.Warning)
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) addStock(w http.ResponseWriter, r *http.Request) {
	var req stockItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.AddStockItem(r.Context(), chi.URLParam(r, "draftID"), req.StockID)
	if err != nil {
		h.fail(w, "add stock item", err)
		return
	}
	httpx.Warn(w, res.Warning)
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) addTradeIn(w http.ResponseWriter, r *http.Request) {
	var req tradeInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.AddTradeInItem(r.Context(), httpx.ActorFrom(r), chi.URLParam(r, "draftID"), TradeInInput{
		Item: req.Item, Capacity: req.Capacity, Region: req.Region, Color: req.Color, Serial: req.Serial,
		IMEI: req.IMEI, Condition: req.Condition, Qty: req.Qty, CostPrice: req.CostPrice,
	})
	if err != nil {
		h.fail(w, "add trade-in item", err)
		return
	}
	httpx.Warn(w, res.Warning)
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RemoveItem(r.Context(), httpx.ActorFrom(r), chi.URLParam(r, "draftID"), chi.URLParam(r, "itemID"))
	if err != nil {
		h.fail(w, "remove bill item", err)
		return
	}
	httpx.Warn(w, res.Warning)
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) editAmount(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.EditAmount(r.Context(), chi.URLParam(r, "draftID"), chi.URLParam(r, "itemID"), req.Amount)
	if err != nil {
		h.fail(w, "edit bill amount", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) togglePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	method, err := ParsePaymentMethod(req.Method)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.TogglePayment(r.Context(), chi.URLParam(r, "draftID"), method)
	if err != nil {
		h.fail(w, "toggle payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) setPaymentAmount(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	method, err := ParsePaymentMethod(req.Method)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.SetPaymentAmount(r.Context(), chi.URLParam(r, "draftID"), method, req.Amount)
	if err != nil {
		h.fail(w, "set payment amount", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.SaveDraft(r.Context(), httpx.ActorFrom(r), chi.URLParam(r, "draftID"))
	if err != nil {
		h.fail(w, "save bill", err)
		return
	}
	httpx.Warn(w, res.Warning)
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) draftInvoice(w http.ResponseWriter, r *http.Request) {
	bill, err := h.service.DraftBill(r.Context(), chi.URLParam(r, "draftID"))
	if err != nil {
		h.fail(w, "draft invoice", err)
		return
	}
	h.renderInvoice(w, r, bill)
}

func (h *Handler) invoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bill, err := h.service.GetBill(r.Context(), id)
	if err != nil {
		h.fail(w, "bill invoice", err)
		return
	}
	h.renderInvoice(w, r, bill)
}

func (h *Handler) renderInvoice(w http.ResponseWriter, r *http.Request, bill Bill) {
	if h.invoices == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "document rendering is not configured")
		return
	}
	pdf, err := h.invoices.Invoice(r.Context(), bill)
	if err != nil {
		h.fail(w, "render invoice", shared.Transient(err))
		return
	}
	httpx.Attachment(w, "application/pdf", bill.BillNumber+".pdf", pdf)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryRange(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bills, page, err := h.service.ListBills(r.Context(), ListFilter{
		Search: r.URL.Query().Get("q"),
		From:   from,
		To:     to,
		Page:   shared.PageFromQuery(r.URL.Query(), 500),
	})
	if err != nil {
		h.fail(w, "list bills", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": bills, "pagination": page})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req billRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bill, err := h.service.CreateBill(r.Context(), httpx.ActorFrom(r), in)
	if err != nil {
		h.fail(w, "create bill", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req billRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bill, err := h.service.ReplaceBill(r.Context(), httpx.ActorFrom(r), id, in)
	if err != nil {
		h.fail(w, "replace bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) updatePayments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bill, err := h.service.UpdatePayments(r.Context(), httpx.ActorFrom(r), id, req.Payments)
	if err != nil {
		h.fail(w, "update bill payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bill, err := h.service.GetBill(r.Context(), id)
	if err != nil {
		h.fail(w, "get bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) getByNumber(w http.ResponseWriter, r *http.Request) {
	bill, err := h.service.GetBillByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, "get bill by number", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) generateNumber(w http.ResponseWriter, r *http.Request) {
	number, err := h.service.GenerateNumber(r.Context())
	if err != nil {
		h.fail(w, "generate bill number", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"billNumber": number})
}

func (h *Handler) paymentTotals(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryRange(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.PaymentTotals(r.Context(), NewWindow(from, to, h.service.Now()))
	if err != nil {
		h.fail(w, "payment totals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryRange(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.writeWorkbook(w, r, NewWindow(from, to, h.service.Now()), ExportFilename, func(bills []Bill) ([]byte, error) {
		return h.exporter.BillsWorkbook(bills)
	})
}

func (h *Handler) quickExport(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryRange(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if from == nil || to == nil {
		httpx.RespondError(w, shared.FieldErrors{"range": "from and to are required for the quick export"})
		return
	}
	h.writeWorkbook(w, r, NewWindow(from, to, h.service.Now()), QuickExportFilename, func(bills []Bill) ([]byte, error) {
		return h.exporter.QuickBillsWorkbook(bills)
	})
}

func (h *Handler) writeWorkbook(w http.ResponseWriter, r *http.Request, window Window, name func(time.Time) string, build func([]Bill) ([]byte, error)) {
	if h.exporter == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "spreadsheet export is not configured")
		return
	}
	bills, err := h.service.BillsIn(r.Context(), window)
	if err != nil {
		h.fail(w, "export bills", err)
		return
	}
	body, err := build(bills)
	if err != nil {
		h.fail(w, "build workbook", err)
		return
	}
	httpx.Attachment(w, xlsxContentType, name(h.service.Now()), body)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	httpx.Fail(h.logger, w, op, err)
}
