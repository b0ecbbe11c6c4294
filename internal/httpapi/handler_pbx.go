package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dialix-pipeline/internal/export"
	"dialix-pipeline/internal/intervalcache"
	"dialix-pipeline/internal/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// parseStamp accepts unix seconds or RFC3339.
func parseStamp(v string) (int64, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid stamp %q", errBadRequest, v)
	}
	return t.Unix(), nil
}

func parseRange(r *http.Request) (intervalcache.Range, error) {
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		return intervalcache.Range{}, fmt.Errorf("%w: start and end required", errBadRequest)
	}
	start, err := parseStamp(q.Get("start"))
	if err != nil {
		return intervalcache.Range{}, err
	}
	end, err := parseStamp(q.Get("end"))
	if err != nil {
		return intervalcache.Range{}, err
	}
	return intervalcache.Range{Start: start, End: end}, nil
}

func syncCalls(deps Deps, r *http.Request) ([]models.IntervalRecord, intervalcache.Range, error) {
	rng, err := parseRange(r)
	if err != nil {
		return nil, rng, err
	}
	calls, err := deps.Calls.Sync(r.Context(), ownerFrom(r.Context()), rng)
	return calls, rng, err
}

type callsResponse struct {
	Items []models.IntervalRecord `json:"items"`
}

func CallsHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls, _, err := syncCalls(deps, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if calls == nil {
			calls = []models.IntervalRecord{}
		}
		writeJSON(w, http.StatusOK, callsResponse{Items: calls})
	}
}

func CallsExportHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls, rng, err := syncCalls(deps, r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var buf bytes.Buffer
		if err := export.WriteCalls(&buf, calls, deps.ExportLocation); err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="calls_%d_%d.xlsx"`, rng.Start, rng.End))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		_, _ = buf.WriteTo(w)
	}
}
