// Package dispatch persists admitted recordings and submits analysis jobs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"dialix-pipeline/internal/audio"
	"dialix-pipeline/internal/estimate"
	"dialix-pipeline/internal/models"
	"dialix-pipeline/internal/storage"
	"dialix-pipeline/internal/store"
)

var (
	ErrAlreadyPending   = errors.New("record is already being processed")
	ErrUnknownChecklist = errors.New("checklist not found")
	ErrNothingRequested = errors.New("no analysis mode requested")
)

// Store is the persistence the dispatcher needs.
type Store interface {
	UpsertRecord(ctx context.Context, r models.Record) (models.Record, error)
	GetRecord(ctx context.Context, id, ownerID string) (models.Record, error)
	SetRecordStatus(ctx context.Context, id, ownerID string, status models.RecordStatus) error
	Checklist(ctx context.Context, ownerID, id string) (models.Checklist, error)
	OperatorName(ctx context.Context, ownerID, code string) (string, error)
	Balance(ctx context.Context, ownerID string) (float64, error)
}

// Blobs is the part of the blob store the dispatcher needs.
type Blobs interface {
	Upload(ctx context.Context, key, localPath string) error
	Exists(ctx context.Context, key string) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

type Pricer interface {
	Price(durationMS int64, transcribe, general, checklist bool) estimate.ItemCost
}

// Queues names the analysis and continuation queues.
type Queues struct {
	Analysis  string
	Finalizer string
}

// Upload is one admitted recording plus caller-supplied call metadata used
// when the title does not follow the PBX naming convention.
type Upload struct {
	estimate.Admitted
	StorageID    string
	OperatorCode *string
	CallType     *string
	ClientPhone  *string
}

// Submission is the outcome of dispatching one recording.
type Submission struct {
	RecordID string              `json:"record_id"`
	JobID    string              `json:"id,omitempty"`
	Title    string              `json:"title"`
	Status   models.RecordStatus `json:"status"`
}

type Dispatcher struct {
	store  Store
	blobs  Blobs
	pub    Publisher
	pricer Pricer
	queues Queues
}

func New(st Store, blobs Blobs, pub Publisher, pricer Pricer, queues Queues) *Dispatcher {
	return &Dispatcher{store: st, blobs: blobs, pub: pub, pricer: pricer, queues: queues}
}

// ValidateChecklists checks that every referenced checklist exists for the
// owner.
func (d *Dispatcher) ValidateChecklists(ctx context.Context, ownerID string, ids []*string) error {
	seen := make(map[string]bool)
	for _, id := range ids {
		if id == nil || seen[*id] {
			continue
		}
		seen[*id] = true
		if _, err := d.store.Checklist(ctx, ownerID, *id); err != nil {
			if errors.Is(err, store.ErrChecklistNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownChecklist, *id)
			}
			return err
		}
	}
	return nil
}

// Dispatch uploads, persists and, when analysis is requested, submits a job
// for every upload in order. It stops at the first failure; staged files of
// the uploads it did not reach are removed.
func (d *Dispatcher) Dispatch(ctx context.Context, ownerID, company string, uploads []Upload) ([]Submission, error) {
	folder := storage.FolderName(company)
	out := make([]Submission, 0, len(uploads))

	for i, u := range uploads {
		sub, err := d.dispatchOne(ctx, ownerID, folder, u)
		if err != nil {
			for _, rest := range uploads[i:] {
				storage.RemoveFile(rest.Path)
			}
			return out, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ownerID, folder string, u Upload) (Submission, error) {
	if u.StorageID == "" {
		u.StorageID = storage.NewStorageID(u.Name)
	}
	key := storage.ObjectKey(folder, u.StorageID)

	// The record must never point at a blob that was not stored.
	if err := d.blobs.Upload(ctx, key, u.Path); err != nil {
		return Submission{}, fmt.Errorf("upload %s: %w", u.Name, err)
	}

	status := models.RecordStatusUploaded
	if u.Analyze() {
		status = models.RecordStatusPending
	}

	rec := models.Record{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     u.Name,
		Duration:  u.DurationMS,
		StorageID: u.StorageID,
		Status:    status,
	}
	d.fillCallMeta(ctx, &rec, u)

	rec, err := d.store.UpsertRecord(ctx, rec)
	if err != nil {
		return Submission{}, fmt.Errorf("save record %s: %w", u.Name, err)
	}

	if !u.Analyze() {
		storage.RemoveFile(u.Path)
		slog.Info("recording stored", "record_id", rec.ID, "storage_id", rec.StorageID)
		return Submission{RecordID: rec.ID, Title: rec.Title, Status: rec.Status}, nil
	}

	jobID, err := d.submit(ctx, rec, u.General, u.ChecklistID, folder)
	if err != nil {
		return Submission{}, err
	}
	return Submission{RecordID: rec.ID, JobID: jobID, Title: rec.Title, Status: rec.Status}, nil
}

func (d *Dispatcher) fillCallMeta(ctx context.Context, rec *models.Record, u Upload) {
	if audio.IsPBXName(u.Name) {
		meta := audio.ParseCallMeta(u.Name)
		rec.OperatorCode = optional(meta.OperatorCode)
		rec.CallType = optional(meta.CallType)
		rec.ClientPhoneNumber = optional(meta.ClientPhone)
	} else {
		rec.OperatorCode = u.OperatorCode
		rec.CallType = u.CallType
		rec.ClientPhoneNumber = u.ClientPhone
	}
	if rec.OperatorCode == nil {
		return
	}
	name, err := d.store.OperatorName(ctx, rec.OwnerID, *rec.OperatorCode)
	switch {
	case err == nil:
		rec.OperatorName = &name
	case !errors.Is(err, store.ErrOperatorNotFound):
		slog.Warn("operator lookup failed", "owner_id", rec.OwnerID, "operator_code", *rec.OperatorCode, "error", err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// submit publishes the job with both continuations routed to the finalizer
// queue. If publishing fails the record is marked FAILED.
func (d *Dispatcher) submit(ctx context.Context, rec models.Record, general bool, checklistID *string, folder string) (string, error) {
	jobID := NewJobID(rec.OwnerID)
	cont := models.Continuation{
		JobID:       jobID,
		OwnerID:     rec.OwnerID,
		RecordID:    rec.ID,
		ChecklistID: checklistID,
		StorageID:   rec.StorageID,
	}
	job := models.Job{
		ID:          jobID,
		Record:      rec,
		General:     general,
		ChecklistID: checklistID,
		Folder:      folder,
		ReplyTo:     d.queues.Finalizer,
		OnSuccess:   cont,
		OnFailure:   cont,
	}
	job.OnSuccess.IsSuccess = true

	if err := d.pub.Publish(ctx, d.queues.Analysis, job); err != nil {
		if serr := d.store.SetRecordStatus(ctx, rec.ID, rec.OwnerID, models.RecordStatusFailed); serr != nil {
			slog.Error("mark record failed", "record_id", rec.ID, "error", serr)
		}
		return "", fmt.Errorf("submit job for record %s: %w", rec.ID, err)
	}
	slog.Info("job submitted", "job_id", jobID, "record_id", rec.ID, "general", general, "checklist", checklistID != nil)
	return jobID, nil
}

// NewJobID returns an owner-scoped job id, {owner}/{uuid}.
func NewJobID(ownerID string) string {
	return ownerID + "/" + uuid.NewString()
}

// ReprocessRequest re-runs analysis on a stored record.
type ReprocessRequest struct {
	RecordID    string
	General     bool
	ChecklistID *string
	Company     string
}

// Reprocess charges-checks and resubmits analysis for an existing record.
// Transcription is priced only when no transcript is cached.
func (d *Dispatcher) Reprocess(ctx context.Context, ownerID string, req ReprocessRequest) (Submission, error) {
	if !req.General && req.ChecklistID == nil {
		return Submission{}, ErrNothingRequested
	}

	rec, err := d.store.GetRecord(ctx, req.RecordID, ownerID)
	if err != nil {
		return Submission{}, err
	}
	if rec.Status == models.RecordStatusPending {
		return Submission{}, fmt.Errorf("%w: %s", ErrAlreadyPending, rec.ID)
	}
	if err := d.ValidateChecklists(ctx, ownerID, []*string{req.ChecklistID}); err != nil {
		return Submission{}, err
	}

	folder := storage.FolderName(req.Company)
	key := storage.ObjectKey(folder, rec.StorageID)
	ok, err := d.blobs.Exists(ctx, key)
	if err != nil {
		return Submission{}, fmt.Errorf("check recording %s: %w", key, err)
	}
	if !ok {
		return Submission{}, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}

	cost := d.pricer.Price(rec.Duration, !rec.HasTranscript(), req.General, req.ChecklistID != nil)
	balance, err := d.store.Balance(ctx, ownerID)
	if err != nil {
		return Submission{}, fmt.Errorf("get balance: %w", err)
	}
	if cost.Total > balance {
		return Submission{}, fmt.Errorf("%w: need %.2f, have %.2f", estimate.ErrInsufficientBalance, cost.Total, balance)
	}

	rec.Status = models.RecordStatusPending
	rec, err = d.store.UpsertRecord(ctx, rec)
	if err != nil {
		return Submission{}, fmt.Errorf("save record %s: %w", rec.ID, err)
	}

	jobID, err := d.submit(ctx, rec, req.General, req.ChecklistID, folder)
	if err != nil {
		return Submission{}, err
	}
	return Submission{RecordID: rec.ID, JobID: jobID, Title: rec.Title, Status: rec.Status}, nil
}
