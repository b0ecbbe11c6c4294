package models

import (
	"encoding/json"
	"time"
)

type RecordStatus string

const (
	RecordStatusUploaded  RecordStatus = "UPLOADED"
	RecordStatusPending   RecordStatus = "PENDING"
	RecordStatusCompleted RecordStatus = "COMPLETED"
	RecordStatusFailed    RecordStatus = "FAILED"
)

// Record is one ingested call recording.
type Record struct {
	ID                string          `db:"id" json:"id"`
	OwnerID           string          `db:"owner_id" json:"owner_id"`
	Title             string          `db:"title" json:"title"`
	Duration          int64           `db:"duration" json:"duration"` // milliseconds
	StorageID         string          `db:"storage_id" json:"storage_id"`
	OperatorCode      *string         `db:"operator_code" json:"operator_code,omitempty"`
	OperatorName      *string         `db:"operator_name" json:"operator_name,omitempty"`
	CallType          *string         `db:"call_type" json:"call_type,omitempty"`
	ClientPhoneNumber *string         `db:"client_phone_number" json:"client_phone_number,omitempty"`
	Status            RecordStatus    `db:"status" json:"status"`
	Payload           json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// HasTranscript reports whether a transcription payload is cached on the record.
func (r Record) HasTranscript() bool {
	return len(r.Payload) > 0 && string(r.Payload) != "null"
}

type Transaction struct {
	ID        string    `db:"id" json:"id"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	RecordID  *string   `db:"record_id" json:"record_id,omitempty"`
	Amount    float64   `db:"amount" json:"amount"`
	Kind      string    `db:"type" json:"type"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Billing kinds written to the transaction ledger.
const (
	KindTranscription   = "mohirai transcription"
	KindGeneralPrompt   = "general prompt"
	KindChecklistPrompt = "checklist prompt"
)

// Checklist is a tenant-defined list of questions grouped by segment.
type Checklist struct {
	ID      string              `db:"id" json:"id"`
	OwnerID string              `db:"owner_id" json:"owner_id"`
	Title   string              `db:"title" json:"title"`
	Payload map[string][]string `db:"payload" json:"payload"`
}

// Empty reports whether the checklist has no questions at all.
func (c Checklist) Empty() bool {
	for _, qs := range c.Payload {
		if len(qs) > 0 {
			return false
		}
	}
	return true
}
