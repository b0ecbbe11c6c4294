package models

import "encoding/json"

// IntervalRecord is one call event pulled from the PBX provider and cached
// locally. CallID is unique across all owners.
type IntervalRecord struct {
	ID                string          `db:"id" json:"id"`
	OwnerID           string          `db:"owner_id" json:"owner_id"`
	CallID            string          `db:"call_id" json:"call_id"`
	CallerIDName      *string         `db:"caller_id_name" json:"caller_id_name,omitempty"`
	CallerIDNumber    *string         `db:"caller_id_number" json:"caller_id_number,omitempty"`
	DestinationNumber *string         `db:"destination_number" json:"destination_number,omitempty"`
	StartStamp        int64           `db:"start_stamp" json:"start_stamp"`
	EndStamp          int64           `db:"end_stamp" json:"end_stamp"`
	Duration          int             `db:"duration" json:"duration"`
	UserTalkTime      int             `db:"user_talk_time" json:"user_talk_time"`
	CallType          *string         `db:"call_type" json:"call_type,omitempty"`
	CRMResult         json.RawMessage `db:"crm_result" json:"crm_result,omitempty"`
	CRMProcessed      bool            `db:"crm_processed" json:"crm_processed"`
}
