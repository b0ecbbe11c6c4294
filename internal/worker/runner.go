package worker

import (
	"context"
	"fmt"
	"log/slog"

	"dialix-pipeline/internal/models"
	"dialix-pipeline/internal/queue"
)

type Publisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

// Runner adapts a Worker to the analysis queue. Every job it completes
// produces exactly one continuation: OnSuccess with the result attached, or
// OnFailure with the error text.
type Runner struct {
	worker        *Worker
	pub           Publisher
	finalizeQueue string
}

// NewRunner builds a runner. finalizeQueue is used when a job carries no
// reply queue of its own.
func NewRunner(w *Worker, pub Publisher, finalizeQueue string) *Runner {
	return &Runner{worker: w, pub: pub, finalizeQueue: finalizeQueue}
}

// Handle is a queue.Handler for analysis jobs. A returned error leaves the
// delivery unacknowledged so it is redelivered.
func (r *Runner) Handle(ctx context.Context, body []byte) error {
	var job models.Job
	if err := queue.Decode(body, &job); err != nil {
		return err
	}
	if job.ID == "" || job.Record.ID == "" {
		return fmt.Errorf("%w: job without id or record", queue.ErrMalformed)
	}

	bundle, err := r.worker.Run(ctx, job)
	if err != nil && ctx.Err() != nil {
		// Shutdown interrupted the run; let the broker hand it out again.
		return ctx.Err()
	}

	var cont models.Continuation
	if err != nil {
		cont = job.OnFailure
		cont.IsSuccess = false
		cont.Error = err.Error()
	} else {
		cont = job.OnSuccess
		cont.IsSuccess = true
		cont.Result = &bundle
	}

	dest := job.ReplyTo
	if dest == "" {
		dest = r.finalizeQueue
	}
	if perr := r.pub.Publish(ctx, dest, cont); perr != nil {
		slog.Error("publish continuation", "job_id", job.ID, "success", cont.IsSuccess, "error", perr)
		return perr
	}
	return nil
}
