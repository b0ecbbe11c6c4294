package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"dialix-pipeline/internal/dispatch"
	"dialix-pipeline/internal/estimate"
	"dialix-pipeline/internal/storage"
)

const maxFormMemory = 32 << 20

// batch is a staged multipart upload.
type batch struct {
	items         []estimate.Item
	operatorCodes []string
	callTypes     []string
	clientPhones  []string
}

func (b batch) remove() {
	for _, it := range b.items {
		storage.RemoveFile(it.Path)
	}
}

// stageBatch stages every uploaded file under a fresh storage id. The form
// carries parallel arrays: files, general, checklist_id and optionally
// operator_code, call_type and destination_number.
func stageBatch(r *http.Request, staging storage.Staging) (batch, error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return batch{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	form := r.MultipartForm
	files := form.File["files"]
	generalRaw := form.Value["general"]
	checklists := form.Value["checklist_id"]

	if len(files) == 0 {
		return batch{}, estimate.ErrEmptyBatch
	}
	if len(files) != len(generalRaw) || len(files) != len(checklists) {
		return batch{}, estimate.ErrMismatchedBatch
	}

	general := make([]bool, len(generalRaw))
	for i, v := range generalRaw {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return batch{}, fmt.Errorf("%w: general[%d]=%q", errBadRequest, i, v)
		}
		general[i] = b
	}

	names := make([]string, 0, len(files))
	paths := make([]string, 0, len(files))
	for _, fh := range files {
		path, err := stageFile(staging, fh)
		if err != nil {
			for _, p := range paths {
				storage.RemoveFile(p)
			}
			return batch{}, err
		}
		names = append(names, fh.Filename)
		paths = append(paths, path)
	}

	items, err := estimate.BuildItems(names, paths, general, checklists)
	if err != nil {
		for _, p := range paths {
			storage.RemoveFile(p)
		}
		return batch{}, err
	}
	return batch{
		items:         items,
		operatorCodes: form.Value["operator_code"],
		callTypes:     form.Value["call_type"],
		clientPhones:  form.Value["destination_number"],
	}, nil
}

func stageFile(staging storage.Staging, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", errBadRequest, fh.Filename, err)
	}
	defer f.Close()
	return staging.Save(storage.NewStorageID(fh.Filename), f)
}

// at returns the i-th value when the optional array covers every file.
func at(values []string, i, n int) *string {
	if len(values) != n || values[i] == "" {
		return nil
	}
	v := values[i]
	return &v
}

func checklistIDs(items []estimate.Item) []*string {
	ids := make([]*string, len(items))
	for i, it := range items {
		ids[i] = it.ChecklistID
	}
	return ids
}

// EstimateHandler prices a batch without dispatching it.
func EstimateHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := stageBatch(r, deps.Staging)
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		report, err := deps.Estimator.Estimate(r.Context(), ownerFrom(r.Context()), b.items)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

type analyzeResponse struct {
	Report      estimate.Report       `json:"estimate"`
	Submissions []dispatch.Submission `json:"records"`
}

// AnalyzeHandler admits a batch against the balance and dispatches it.
func AnalyzeHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		owner := ownerFrom(ctx)

		b, err := stageBatch(r, deps.Staging)
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := deps.Dispatcher.ValidateChecklists(ctx, owner, checklistIDs(b.items)); err != nil {
			b.remove()
			writeError(w, r, err)
			return
		}

		report, admitted, err := deps.Estimator.Admit(ctx, owner, b.items)
		if err != nil {
			if statusFor(err) == http.StatusPaymentRequired {
				writeJSON(w, http.StatusPaymentRequired, analyzeResponse{Report: report})
				return
			}
			writeError(w, r, err)
			return
		}

		uploads := make([]dispatch.Upload, len(admitted))
		for i, a := range admitted {
			uploads[i] = dispatch.Upload{
				Admitted:     a,
				StorageID:    filepath.Base(a.Path),
				OperatorCode: at(b.operatorCodes, i, len(admitted)),
				CallType:     at(b.callTypes, i, len(admitted)),
				ClientPhone:  at(b.clientPhones, i, len(admitted)),
			}
		}

		subs, err := deps.Dispatcher.Dispatch(ctx, owner, companyFrom(ctx), uploads)
		if err != nil {
			writePartialDispatch(w, r, err, subs)
			return
		}
		writeJSON(w, http.StatusAccepted, analyzeResponse{Report: report, Submissions: subs})
	}
}

// partialDispatchResponse reports the records a failed batch already
// submitted alongside the error that stopped it.
type partialDispatchResponse struct {
	Error       string                `json:"error"`
	Submissions []dispatch.Submission `json:"records"`
}

func writePartialDispatch(w http.ResponseWriter, r *http.Request, err error, subs []dispatch.Submission) {
	if len(subs) == 0 {
		writeError(w, r, err)
		return
	}
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("batch dispatch stopped", "path", r.URL.Path, "owner_id", ownerFrom(r.Context()), "submitted", len(subs), "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, partialDispatchResponse{Error: msg, Submissions: subs})
}

type reprocessRequest struct {
	RecordID    string `json:"record_id"`
	General     bool   `json:"general"`
	ChecklistID string `json:"checklist_id"`
}

// ReprocessHandler re-runs analysis on a stored record.
func ReprocessHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reprocessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		if req.RecordID == "" {
			writeError(w, r, fmt.Errorf("%w: record_id required", errBadRequest))
			return
		}

		ctx := r.Context()
		sub, err := deps.Dispatcher.Reprocess(ctx, ownerFrom(ctx), dispatch.ReprocessRequest{
			RecordID:    req.RecordID,
			General:     req.General,
			ChecklistID: estimate.NormalizeChecklistID(req.ChecklistID),
			Company:     companyFrom(ctx),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, sub)
	}
}
