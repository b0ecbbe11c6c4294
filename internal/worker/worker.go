// Package worker runs the analysis state machine for one job at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"dialix-pipeline/internal/audio"
	"dialix-pipeline/internal/conversation"
	"dialix-pipeline/internal/estimate"
	"dialix-pipeline/internal/models"
	"dialix-pipeline/internal/storage"
	"dialix-pipeline/internal/store"
	"dialix-pipeline/internal/transcription"
)

// Stage names one step of the analysis.
type Stage string

const (
	StageFetchAudio        Stage = "FETCH_AUDIO"
	StageTranscribe        Stage = "TRANSCRIBE"
	StageDeriveMetrics     Stage = "DERIVE_METRICS"
	StageClassifyGeneral   Stage = "CLASSIFY_GENERAL"
	StageClassifyChecklist Stage = "CLASSIFY_CHECKLIST"
)

// StageError records which stage ended a run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return string(e.Stage) + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

type Store interface {
	SetRecordPayload(ctx context.Context, id, ownerID string, payload []byte) error
	RecordTransaction(ctx context.Context, ownerID, recordID string, amount float64, kind string) error
	Checklist(ctx context.Context, ownerID, id string) (models.Checklist, error)
}

type Downloader interface {
	Download(ctx context.Context, key, localPath string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string, duration time.Duration) (transcription.Transcript, error)
}

type Classifier interface {
	General(ctx context.Context, conversation string) (models.ResultBundle, error)
	Checklist(ctx context.Context, conversation string, checklist map[string][]string) (models.ChecklistResult, error)
}

type GenderClassifier interface {
	Classify(ctx context.Context, path, title string) (string, error)
}

type Pricer interface {
	Price(durationMS int64, transcribe, general, checklist bool) estimate.ItemCost
}

// Deps are the collaborators of a Worker.
type Deps struct {
	Store       Store
	Blobs       Downloader
	Transcriber Transcriber
	Classifier  Classifier
	Gender      GenderClassifier
	Pricer      Pricer
	Staging     storage.Staging
}

type Worker struct {
	Deps
}

func New(deps Deps) *Worker {
	return &Worker{Deps: deps}
}

// run carries the state shared between stages of one job.
type run struct {
	job   models.Job
	rec   models.Record
	path  string
	words []conversation.Word
	text  string
	out   models.ResultBundle
	log   *slog.Logger
}

// Run executes every stage the job asks for and returns the bundle of
// whatever ran. Fields of stages that did not run are nil.
func (w *Worker) Run(ctx context.Context, job models.Job) (models.ResultBundle, error) {
	r := &run{
		job: job,
		rec: job.Record,
		log: slog.With("job_id", job.ID, "record_id", job.Record.ID),
	}

	stages := []struct {
		stage Stage
		fn    func(context.Context, *run) error
		skip  bool
	}{
		{StageFetchAudio, w.fetchAudio, false},
		{StageTranscribe, w.transcribe, false},
		{StageDeriveMetrics, w.deriveMetrics, false},
		{StageClassifyGeneral, w.classifyGeneral, !job.General},
		{StageClassifyChecklist, w.classifyChecklist, job.ChecklistID == nil},
	}

	start := time.Now()
	for _, s := range stages {
		if s.skip {
			continue
		}
		t := time.Now()
		if err := s.fn(ctx, r); err != nil {
			r.log.Error("analysis stage failed", "stage", s.stage, "error", err)
			return models.ResultBundle{}, &StageError{Stage: s.stage, Err: err}
		}
		r.log.Info("analysis stage done", "stage", s.stage, "took", time.Since(t).Round(time.Millisecond))
	}
	r.log.Info("analysis done", "took", time.Since(start).Round(time.Millisecond))
	return r.out, nil
}

func (w *Worker) fetchAudio(ctx context.Context, r *run) error {
	r.path = w.Staging.Path(r.rec.StorageID)
	if w.Staging.Exists(r.rec.StorageID) {
		return nil
	}
	if err := os.MkdirAll(w.Staging.Dir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	key := storage.ObjectKey(r.job.Folder, r.rec.StorageID)
	r.log.Info("downloading recording", "key", key)
	return w.Blobs.Download(ctx, key, r.path)
}

func (w *Worker) transcribe(ctx context.Context, r *run) error {
	if r.rec.HasTranscript() {
		tr, err := transcription.Parse(r.rec.Payload)
		if err != nil {
			return err
		}
		r.words = tr.Words
		return nil
	}

	duration := time.Duration(r.rec.Duration) * time.Millisecond
	tr, err := w.Transcriber.Transcribe(ctx, r.path, duration)
	if err != nil {
		return err
	}
	if err := w.Store.SetRecordPayload(ctx, r.rec.ID, r.rec.OwnerID, tr.Raw); err != nil {
		return fmt.Errorf("cache transcript: %w", err)
	}
	r.rec.Payload = tr.Raw
	r.words = tr.Words

	cost := w.Pricer.Price(r.rec.Duration, true, false, false)
	return w.charge(ctx, r, cost.TranscriptionPrice, models.KindTranscription)
}

func (w *Worker) deriveMetrics(_ context.Context, r *run) error {
	if len(r.words) == 0 {
		r.log.Warn("transcript has no words")
	}
	us := conversation.Utterances(r.words)
	customer, operator := audio.SpeakerRoles(r.rec.Title)

	delay := conversation.AnswerDelay(us, operator, customer)
	opSpeech := conversation.SpeechDuration(us, operator)
	custSpeech := conversation.SpeechDuration(us, customer)

	r.out.OperatorAnswerDelay = &delay
	r.out.OperatorSpeechDuration = &opSpeech
	r.out.CustomerSpeechDuration = &custSpeech
	r.text = conversation.Chat(r.words)
	return nil
}

func (w *Worker) classifyGeneral(ctx context.Context, r *run) error {
	label, err := w.Gender.Classify(ctx, r.path, r.rec.Title)
	switch {
	case err != nil:
		r.log.Warn("gender classification skipped", "error", err)
	case label != "":
		r.out.CustomerGender = &label
	}

	general, err := w.Classifier.General(ctx, r.text)
	if err != nil {
		return err
	}
	r.out = r.out.Merge(general)

	cost := w.Pricer.Price(r.rec.Duration, false, true, false)
	return w.charge(ctx, r, cost.GeneralPrice, models.KindGeneralPrompt)
}

// classifyChecklist treats a missing or empty checklist as an empty result.
func (w *Worker) classifyChecklist(ctx context.Context, r *run) error {
	cl, err := w.Store.Checklist(ctx, r.rec.OwnerID, *r.job.ChecklistID)
	switch {
	case errors.Is(err, store.ErrChecklistNotFound):
		r.log.Warn("checklist not found", "checklist_id", *r.job.ChecklistID)
		r.out.ChecklistResult = models.ChecklistResult{}
		return nil
	case err != nil:
		return err
	case cl.Empty():
		r.log.Warn("checklist is empty", "checklist_id", cl.ID)
		r.out.ChecklistResult = models.ChecklistResult{}
		return nil
	}

	res, err := w.Classifier.Checklist(ctx, r.text, cl.Payload)
	if err != nil {
		return err
	}
	r.out.ChecklistResult = res

	cost := w.Pricer.Price(r.rec.Duration, false, false, true)
	return w.charge(ctx, r, cost.ChecklistPrice, models.KindChecklistPrompt)
}

func (w *Worker) charge(ctx context.Context, r *run, amount float64, kind string) error {
	if err := w.Store.RecordTransaction(ctx, r.rec.OwnerID, r.rec.ID, amount, kind); err != nil {
		return fmt.Errorf("record %s transaction: %w", kind, err)
	}
	r.log.Info("charged", "kind", kind, "amount", amount)
	return nil
}
