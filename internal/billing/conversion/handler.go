package conversion

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/praxis-legal/praxis/internal/platform/httpx"
	"github.com/praxis-legal/praxis/internal/shared"
)

// Handler exposes the quotation-to-invoice conversion endpoint.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the conversion route under the quotation tree.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{id}/convert", h.convert)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}

	var body struct {
		DueDate *string `json:"due_date,omitempty"`
		Notes   *string `json:"notes,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
			return
		}
	}

	req := ConvertRequest{Notes: body.Notes}
	if body.DueDate != nil {
		due, err := time.Parse("2006-01-02", *body.DueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "due_date must be YYYY-MM-DD")
			return
		}
		req.DueDate = due
	}
	ident := shared.IdentityFromContext(r.Context())
	req.CreatedBy = ident.UserID

	inv, err := h.service.ConvertToInvoice(r.Context(), ident.FirmID, id, req)
	if err != nil {
		h.logger.Error("convert quotation", slog.Int64("quotation_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}
