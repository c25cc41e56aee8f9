package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pablosanz/examgen/internal/i18n"
)

// errorBody is the uniform non-2xx response contract.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError responds with a localized error message. details is optional
// upstream diagnostic text; it must never contain credentials.
func writeError(w http.ResponseWriter, r *http.Request, status int, msgID, details string) {
	writeJSON(w, status, errorBody{
		Error:   i18n.T(r.Context(), msgID),
		Details: details,
	})
}
