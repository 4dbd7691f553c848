package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/ordo/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	// Code is the apperr kind, when the failure has one.
	Code  string `json:"code,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeServiceError maps organizer errors onto HTTP statuses. Only
// not-found and corrupt journals are distinguished for clients.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	body := errResponse{Error: "internal error"}
	if kind, ok := apperr.KindOf(err); ok {
		body.Code = string(kind)
	}
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errResponse{Error: "not found"})
	case errors.Is(err, apperr.ErrJournalCorruption):
		slog.Error("api: "+op+": journal corrupt", slog.String("error", err.Error()))
		body.Error = "journal corrupt"
		writeJSON(w, http.StatusUnprocessableEntity, body)
	default:
		slog.Error("api: "+op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, body)
	}
}
