// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/clients"
	"github.com/praxis-legal/praxis/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrNotFound), errors.Is(err, clients.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, billing.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, billing.ErrOverpayment), errors.Is(err, billing.ErrOverrefund):
		Problem(w, http.StatusUnprocessableEntity, "Amount Out Of Bounds", err.Error())
	case errors.Is(err, billing.ErrExpired):
		Problem(w, http.StatusUnprocessableEntity, "Expired", err.Error())
	case errors.Is(err, billing.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, billing.ErrConflict), errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
