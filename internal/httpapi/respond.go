package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"dialix-pipeline/internal/dispatch"
	"dialix-pipeline/internal/estimate"
	"dialix-pipeline/internal/intervalcache"
	"dialix-pipeline/internal/pbx"
	"dialix-pipeline/internal/storage"
	"dialix-pipeline/internal/store"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, estimate.ErrUnreadableAudio),
		errors.Is(err, estimate.ErrEmptyBatch),
		errors.Is(err, dispatch.ErrUnknownChecklist),
		errors.Is(err, dispatch.ErrNothingRequested),
		errors.Is(err, intervalcache.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, estimate.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, estimate.ErrMismatchedBatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrRecordNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrAlreadyPending):
		return http.StatusConflict
	case errors.Is(err, pbx.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, pbx.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "owner_id", ownerFrom(r.Context()), "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
