// Package finalizer applies analysis outcomes: it merges and stores results,
// moves the record to its terminal status and notifies the owner.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dialix-pipeline/internal/models"
	"dialix-pipeline/internal/notify"
	"dialix-pipeline/internal/queue"
	"dialix-pipeline/internal/storage"
	"dialix-pipeline/internal/store"
)

type Store interface {
	ResultByRecord(ctx context.Context, recordID, ownerID string) (models.Result, error)
	UpsertResult(ctx context.Context, r models.Result) error
	SetRecordStatus(ctx context.Context, id, ownerID string, status models.RecordStatus) error
}

type Notifier interface {
	Emit(ctx context.Context, room, event string, data any) error
}

// Event is the payload of the "result" notification.
type Event struct {
	RecordID string               `json:"record_id"`
	JobID    string               `json:"job_id"`
	Status   models.RecordStatus  `json:"status"`
	Result   *models.ResultBundle `json:"result,omitempty"`
	Error    string               `json:"error,omitempty"`
}

type Finalizer struct {
	store   Store
	notify  Notifier
	staging storage.Staging
}

func New(st Store, n Notifier, staging storage.Staging) *Finalizer {
	return &Finalizer{store: st, notify: n, staging: staging}
}

// Handle is a queue.Handler for continuations.
func (f *Finalizer) Handle(ctx context.Context, body []byte) error {
	var c models.Continuation
	if err := queue.Decode(body, &c); err != nil {
		return err
	}
	if c.RecordID == "" || c.OwnerID == "" {
		return fmt.Errorf("%w: continuation without record or owner", queue.ErrMalformed)
	}
	return f.Finalize(ctx, c)
}

// Finalize applies one outcome. Applying the same continuation twice leaves
// the same state as applying it once. The staged recording is removed in
// every case.
func (f *Finalizer) Finalize(ctx context.Context, c models.Continuation) error {
	defer f.staging.Remove(c.StorageID)

	log := slog.With("job_id", c.JobID, "record_id", c.RecordID, "success", c.IsSuccess)

	ev := Event{RecordID: c.RecordID, JobID: c.JobID, Status: models.RecordStatusFailed, Error: c.Error}
	if c.IsSuccess {
		merged, err := f.storeResult(ctx, c)
		if err != nil {
			return err
		}
		ev.Status = models.RecordStatusCompleted
		ev.Result = &merged
	}

	if err := f.store.SetRecordStatus(ctx, c.RecordID, c.OwnerID, ev.Status); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			log.Warn("record vanished before finalization")
			return nil
		}
		return fmt.Errorf("set record status: %w", err)
	}

	if err := f.notify.Emit(ctx, notify.Room(c.OwnerID), notify.EventResult, ev); err != nil {
		return fmt.Errorf("notify owner: %w", err)
	}
	log.Info("job finalized", "status", ev.Status)
	return nil
}

// storeResult merges the run's bundle over the stored one so fields the run
// did not compute survive.
func (f *Finalizer) storeResult(ctx context.Context, c models.Continuation) (models.ResultBundle, error) {
	existing, err := f.store.ResultByRecord(ctx, c.RecordID, c.OwnerID)
	switch {
	case errors.Is(err, store.ErrResultNotFound):
		existing = models.Result{}
	case err != nil:
		return models.ResultBundle{}, fmt.Errorf("load result: %w", err)
	}

	var fresh models.ResultBundle
	if c.Result != nil {
		fresh = *c.Result
	}

	res := models.Result{
		ID:          existing.ID,
		OwnerID:     c.OwnerID,
		RecordID:    c.RecordID,
		ChecklistID: c.ChecklistID,
		Bundle:      existing.Bundle.Merge(fresh),
	}
	if res.ID == "" {
		res.ID = c.ResultID()
	}
	if res.ChecklistID == nil {
		res.ChecklistID = existing.ChecklistID
	}

	if err := f.store.UpsertResult(ctx, res); err != nil {
		return models.ResultBundle{}, fmt.Errorf("save result: %w", err)
	}
	return res.Bundle, nil
}
