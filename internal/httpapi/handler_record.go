package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dialix-pipeline/internal/storage"
)

const streamURLTTL = 15 * time.Minute

type streamResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RecordAudioHandler returns a short-lived URL for a record's recording.
func RecordAudioHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rec, err := deps.Records.GetRecord(ctx, chi.URLParam(r, "id"), ownerFrom(ctx))
		if err != nil {
			writeError(w, r, err)
			return
		}

		key := storage.ObjectKey(storage.FolderName(companyFrom(ctx)), rec.StorageID)
		url, err := deps.Blobs.SignedStreamURL(ctx, key, streamURLTTL)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, streamResponse{URL: url, ExpiresAt: time.Now().Add(streamURLTTL).UTC()})
	}
}
