// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/flota-erp/flota-erp/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "No encontrado", shared.UserMessage(err))
	case errors.Is(err, shared.ErrInvalidInput):
		Problem(w, http.StatusBadRequest, "Datos inválidos", shared.UserMessage(err))
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Operación no permitida", shared.UserMessage(err))
	default:
		Problem(w, http.StatusInternalServerError, "Error interno", shared.UserMessage(err))
	}
}

// StatusFor returns the status code RespondError would use.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
