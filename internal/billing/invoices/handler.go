package invoices

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/praxis-legal/praxis/internal/platform/httpx"
	"github.com/praxis-legal/praxis/internal/shared"
)

// Handler exposes the invoice API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/aging", h.aging)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Post("/{id}/send", h.send)
	r.Post("/{id}/view", h.markViewed)
	r.Post("/{id}/cancel", h.cancel)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	ident := shared.IdentityFromContext(r.Context())
	req.FirmID = ident.FirmID
	req.CreatedBy = ident.UserID
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inv, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("create invoice", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Get(r.Context(), shared.IdentityFromContext(r.Context()).FirmID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req := ListInvoicesRequest{FirmID: shared.IdentityFromContext(r.Context()).FirmID}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status := Status(v)
		req.Status = &status
	}
	if v := q.Get("client_id"); v != "" {
		clientID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid client_id")
			return
		}
		req.ClientID = &clientID
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	p := shared.NewPagination(page, perPage, 0)
	req.Limit = p.PerPage
	req.Offset = (p.Page - 1) * p.PerPage

	items, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": shared.NewPagination(p.Page, p.PerPage, total),
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req UpdateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inv, err := h.service.Update(r.Context(), shared.IdentityFromContext(r.Context()).FirmID, id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Send)
}

func (h *Handler) markViewed(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkViewed)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason *string `json:"reason,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
			return
		}
	}
	inv, err := h.service.Cancel(r.Context(), shared.IdentityFromContext(r.Context()).FirmID, id, body.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now()
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	buckets, err := h.service.Aging(r.Context(), shared.IdentityFromContext(r.Context()).FirmID, asOf)
	if err != nil {
		h.logger.Error("invoice aging", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, buckets)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, int64) (*Invoice, error)) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	inv, err := fn(r.Context(), shared.IdentityFromContext(r.Context()).FirmID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return 0, false
	}
	return id, true
}
