package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/DAMMAK/vault-x/internal/apperr"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: failed to encode response: %v", err)
	}
}

// writeError maps taxonomy errors to their HTTP status. Internal errors
// are logged server-side and reported with a generic message.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.StatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("Internal error: %v", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
