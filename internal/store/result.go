package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"dialix-pipeline/internal/models"
)

const resultColumns = `id, owner_id, record_id, checklist_id,
    operator_answer_delay, operator_speech_duration, customer_speech_duration,
    is_conversation_over, sentiment_analysis_of_conversation,
    sentiment_analysis_of_operator, sentiment_analysis_of_customer,
    is_customer_satisfied, is_customer_agreed_to_buy, is_customer_interested_to_product,
    which_course_customer_interested, which_platform_customer_found_about_the_course,
    summary, customer_gender, checklist_result, updated_at`

// ResultByRecord returns the stored result for a record or ErrResultNotFound.
func (s *Store) ResultByRecord(ctx context.Context, recordID, ownerID string) (models.Result, error) {
	var (
		r         models.Result
		checklist []byte
		b         = &r.Bundle
	)
	err := s.db.QueryRow(ctx, `
        SELECT `+resultColumns+`
        FROM result
        WHERE record_id = $1 AND owner_id = $2
    `, recordID, ownerID).Scan(
		&r.ID, &r.OwnerID, &r.RecordID, &r.ChecklistID,
		&b.OperatorAnswerDelay, &b.OperatorSpeechDuration, &b.CustomerSpeechDuration,
		&b.IsConversationOver, &b.SentimentOfConversation,
		&b.SentimentOfOperator, &b.SentimentOfCustomer,
		&b.IsCustomerSatisfied, &b.IsCustomerAgreedToBuy, &b.IsCustomerInterestedToProduct,
		&b.WhichCourseCustomerInterested, &b.WhichPlatformCustomerFoundFrom,
		&b.Summary, &b.CustomerGender, &checklist, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Result{}, ErrResultNotFound
		}
		return models.Result{}, fmt.Errorf("get result: %w", err)
	}

	b.ChecklistResult, err = models.ParseChecklistResult(checklist)
	if err != nil {
		return models.Result{}, fmt.Errorf("decode checklist result: %w", err)
	}
	return r, nil
}

// UpsertResult writes r keyed by its record id. The row id is only used on
// first insert.
func (s *Store) UpsertResult(ctx context.Context, r models.Result) error {
	b := r.Bundle
	checklist, err := b.ChecklistResult.Encode()
	if err != nil {
		return fmt.Errorf("encode checklist result: %w", err)
	}

	if _, err := s.db.Exec(ctx, `
        INSERT INTO result (
            id, owner_id, record_id, checklist_id,
            operator_answer_delay, operator_speech_duration, customer_speech_duration,
            is_conversation_over, sentiment_analysis_of_conversation,
            sentiment_analysis_of_operator, sentiment_analysis_of_customer,
            is_customer_satisfied, is_customer_agreed_to_buy, is_customer_interested_to_product,
            which_course_customer_interested, which_platform_customer_found_about_the_course,
            summary, customer_gender, checklist_result
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
        ON CONFLICT (record_id) DO UPDATE SET
            checklist_id = EXCLUDED.checklist_id,
            operator_answer_delay = EXCLUDED.operator_answer_delay,
            operator_speech_duration = EXCLUDED.operator_speech_duration,
            customer_speech_duration = EXCLUDED.customer_speech_duration,
            is_conversation_over = EXCLUDED.is_conversation_over,
            sentiment_analysis_of_conversation = EXCLUDED.sentiment_analysis_of_conversation,
            sentiment_analysis_of_operator = EXCLUDED.sentiment_analysis_of_operator,
            sentiment_analysis_of_customer = EXCLUDED.sentiment_analysis_of_customer,
            is_customer_satisfied = EXCLUDED.is_customer_satisfied,
            is_customer_agreed_to_buy = EXCLUDED.is_customer_agreed_to_buy,
            is_customer_interested_to_product = EXCLUDED.is_customer_interested_to_product,
            which_course_customer_interested = EXCLUDED.which_course_customer_interested,
            which_platform_customer_found_about_the_course = EXCLUDED.which_platform_customer_found_about_the_course,
            summary = EXCLUDED.summary,
            customer_gender = EXCLUDED.customer_gender,
            checklist_result = EXCLUDED.checklist_result,
            updated_at = NOW()
    `,
		r.ID, r.OwnerID, r.RecordID, r.ChecklistID,
		b.OperatorAnswerDelay, b.OperatorSpeechDuration, b.CustomerSpeechDuration,
		b.IsConversationOver, b.SentimentOfConversation,
		b.SentimentOfOperator, b.SentimentOfCustomer,
		b.IsCustomerSatisfied, b.IsCustomerAgreedToBuy, b.IsCustomerInterestedToProduct,
		b.WhichCourseCustomerInterested, b.WhichPlatformCustomerFoundFrom,
		b.Summary, b.CustomerGender, checklist,
	); err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}

	slog.Info("upserted result", "result_id", r.ID, "record_id", r.RecordID, "owner_id", r.OwnerID)
	return nil
}
