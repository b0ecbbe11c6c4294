package models

import (
	"encoding/json"
	"time"
)

// ChecklistResult maps segment name -> question text -> asked.
type ChecklistResult map[string]map[string]bool

// Encode encodes the checklist result for a JSONB column. A nil result
// encodes as SQL NULL.
func (c ChecklistResult) Encode() ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// ParseChecklistResult decodes a stored JSONB checklist result.
func ParseChecklistResult(raw []byte) (ChecklistResult, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out ChecklistResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResultBundle is the output of one analysis run. Nil fields were not
// computed by that run.
type ResultBundle struct {
	OperatorAnswerDelay    *float64 `json:"operator_answer_delay,omitempty"`
	OperatorSpeechDuration *float64 `json:"operator_speech_duration,omitempty"`
	CustomerSpeechDuration *float64 `json:"customer_speech_duration,omitempty"`

	IsConversationOver             *bool   `json:"is_conversation_over,omitempty"`
	SentimentOfConversation        *string `json:"sentiment_analysis_of_conversation,omitempty"`
	SentimentOfOperator            *string `json:"sentiment_analysis_of_operator,omitempty"`
	SentimentOfCustomer            *string `json:"sentiment_analysis_of_customer,omitempty"`
	IsCustomerSatisfied            *bool   `json:"is_customer_satisfied,omitempty"`
	IsCustomerAgreedToBuy          *bool   `json:"is_customer_agreed_to_buy,omitempty"`
	IsCustomerInterestedToProduct  *bool   `json:"is_customer_interested_to_product,omitempty"`
	WhichCourseCustomerInterested  *string `json:"which_course_customer_interested,omitempty"`
	WhichPlatformCustomerFoundFrom *string `json:"which_platform_customer_found_about_the_course,omitempty"`
	Summary                        *string `json:"summary,omitempty"`
	CustomerGender                 *string `json:"customer_gender,omitempty"`

	ChecklistResult ChecklistResult `json:"checklist_result,omitempty"`
}

// Merge returns b with every field set in newer overriding it. Fields newer
// leaves nil keep b's value.
func (b ResultBundle) Merge(newer ResultBundle) ResultBundle {
	out := b
	mergePtr(&out.OperatorAnswerDelay, newer.OperatorAnswerDelay)
	mergePtr(&out.OperatorSpeechDuration, newer.OperatorSpeechDuration)
	mergePtr(&out.CustomerSpeechDuration, newer.CustomerSpeechDuration)
	mergePtr(&out.IsConversationOver, newer.IsConversationOver)
	mergePtr(&out.SentimentOfConversation, newer.SentimentOfConversation)
	mergePtr(&out.SentimentOfOperator, newer.SentimentOfOperator)
	mergePtr(&out.SentimentOfCustomer, newer.SentimentOfCustomer)
	mergePtr(&out.IsCustomerSatisfied, newer.IsCustomerSatisfied)
	mergePtr(&out.IsCustomerAgreedToBuy, newer.IsCustomerAgreedToBuy)
	mergePtr(&out.IsCustomerInterestedToProduct, newer.IsCustomerInterestedToProduct)
	mergePtr(&out.WhichCourseCustomerInterested, newer.WhichCourseCustomerInterested)
	mergePtr(&out.WhichPlatformCustomerFoundFrom, newer.WhichPlatformCustomerFoundFrom)
	mergePtr(&out.Summary, newer.Summary)
	mergePtr(&out.CustomerGender, newer.CustomerGender)
	if len(newer.ChecklistResult) > 0 {
		out.ChecklistResult = newer.ChecklistResult
	}
	return out
}

func mergePtr[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

// Result is the stored form of a ResultBundle, one row per record.
type Result struct {
	ID          string       `db:"id" json:"id"`
	OwnerID     string       `db:"owner_id" json:"owner_id"`
	RecordID    string       `db:"record_id" json:"record_id"`
	ChecklistID *string      `db:"checklist_id" json:"checklist_id,omitempty"`
	Bundle      ResultBundle `json:"bundle"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}
