package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConversationBusy):
		return http.StatusConflict
	case errors.Is(err, model.ErrCategoryMismatch):
		return http.StatusConflict
	case errors.Is(err, model.ErrNoPendingClarification):
		return http.StatusConflict
	case errors.Is(err, model.ErrSelectionRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
