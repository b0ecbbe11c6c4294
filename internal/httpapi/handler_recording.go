package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dialix-pipeline/internal/storage"
)

// BlobHandler serves recordings of the local gateway behind the signed URLs
// it issues.
func BlobHandler(g *storage.LocalGateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
		if err != nil || !g.Verify(key, expires, r.URL.Query().Get("signature")) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		path, err := g.Path(key)
		if err != nil {
			http.Error(w, "invalid key", http.StatusBadRequest)
			return
		}
		f, err := os.Open(path)
		if err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		defer f.Close()

		http.ServeContent(w, r, filepath.Base(path), time.Time{}, f)
	}
}
