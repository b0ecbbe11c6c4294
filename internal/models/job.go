package models

// Job is the message consumed by the analysis worker pool. Everything the
// worker needs travels in the message. ReplyTo names the queue both
// continuations are published to.
type Job struct {
	ID          string       `json:"job_id"`
	Record      Record       `json:"record"`
	General     bool         `json:"general"`
	ChecklistID *string      `json:"checklist_id,omitempty"`
	Folder      string       `json:"folder"`
	ReplyTo     string       `json:"reply_to"`
	OnSuccess   Continuation `json:"on_success"`
	OnFailure   Continuation `json:"on_failure"`
}

// Continuation is the message consumed by the finalizer pool. Exactly one of
// a Job's two continuations is published per terminal outcome; the runner
// attaches Result on success and Error on failure.
type Continuation struct {
	JobID       string        `json:"job_id"`
	OwnerID     string        `json:"owner_id"`
	RecordID    string        `json:"record_id"`
	ChecklistID *string       `json:"checklist_id,omitempty"`
	StorageID   string        `json:"storage_id"`
	IsSuccess   bool          `json:"is_success"`
	Result      *ResultBundle `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// ResultID returns the result row id derived from the job id, the segment
// after the owner prefix.
func (c Continuation) ResultID() string {
	for i := len(c.JobID) - 1; i >= 0; i-- {
		if c.JobID[i] == '/' {
			return c.JobID[i+1:]
		}
	}
	return c.JobID
}
