package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/praxis-legal/praxis/internal/platform/httpx"
	"github.com/praxis-legal/praxis/internal/shared"
)

// Handler exposes the payment API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.record)
	r.Get("/unreconciled", h.listUnreconciled)
	r.Get("/{id}", h.get)
	r.Get("/{id}/refunds", h.listRefunds)
	r.Post("/{id}/process", h.process)
	r.Post("/{id}/refund", h.refund)
	r.Post("/{id}/reconcile", h.reconcile)
}

type recordRequest struct {
	ClientID  int64           `json:"client_id" validate:"required,gt=0"`
	InvoiceID *int64          `json:"invoice_id,omitempty"`
	ExpenseID *int64          `json:"expense_id,omitempty"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Currency  string          `json:"currency" validate:"required,len=3"`
	Method    string          `json:"method" validate:"required,max=50"`
	PayerName *string         `json:"payer_name,omitempty"`
	Note      *string         `json:"note,omitempty"`
	Pending   bool            `json:"pending"`
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.RecordPayment(r.Context(), RecordPaymentInput{
		FirmID:         shared.IdentityFromContext(r.Context()).FirmID,
		ClientID:       req.ClientID,
		InvoiceID:      req.InvoiceID,
		ExpenseID:      req.ExpenseID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		PayerName:      req.PayerName,
		Note:           req.Note,
		Pending:        req.Pending,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.Error("record payment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	firmID := shared.IdentityFromContext(r.Context()).FirmID

	var (
		payment *Payment
		refunds []Refund
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		payment, err = h.service.GetPayment(ctx, firmID, id)
		return err
	})
	g.Go(func() error {
		var err error
		refunds, err = h.service.ListRefunds(ctx, firmID, id)
		return err
	})
	if err := g.Wait(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payment": payment, "refunds": refunds})
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	p, err := h.service.ProcessPayment(r.Context(), shared.IdentityFromContext(r.Context()).FirmID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var body struct {
		Amount decimal.Decimal `json:"amount" validate:"required"`
		Reason string          `json:"reason" validate:"required,max=500"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.RefundPayment(r.Context(), shared.IdentityFromContext(r.Context()).FirmID, id, body.Amount, body.Reason)
	if err != nil {
		h.logger.Error("refund payment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var body struct {
		BankReference string `json:"bank_reference" validate:"required,max=100"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.Reconcile(r.Context(), shared.IdentityFromContext(r.Context()).FirmID, id, body.BankReference)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) listUnreconciled(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListUnreconciled(r.Context(), shared.IdentityFromContext(r.Context()).FirmID)
	if err != nil {
		h.logger.Error("list unreconciled payments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": payments})
}

func (h *Handler) listRefunds(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	refunds, err := h.service.ListRefunds(r.Context(), shared.IdentityFromContext(r.Context()).FirmID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": refunds})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return 0, false
	}
	return id, true
}
