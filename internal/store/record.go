package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"dialix-pipeline/internal/models"
)

const recordColumns = `id, owner_id, title, duration, storage_id,
    operator_code, operator_name, call_type, client_phone_number,
    status, payload, created_at, updated_at`

// UpsertRecord inserts r or overwrites the row with the same id.
func (s *Store) UpsertRecord(ctx context.Context, r models.Record) (models.Record, error) {
	row := s.db.QueryRow(ctx, `
        INSERT INTO record (
            id, owner_id, title, duration, storage_id,
            operator_code, operator_name, call_type, client_phone_number,
            status, payload
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (id) DO UPDATE SET
            title = EXCLUDED.title,
            duration = EXCLUDED.duration,
            storage_id = EXCLUDED.storage_id,
            operator_code = EXCLUDED.operator_code,
            operator_name = EXCLUDED.operator_name,
            call_type = EXCLUDED.call_type,
            client_phone_number = EXCLUDED.client_phone_number,
            status = EXCLUDED.status,
            payload = EXCLUDED.payload,
            updated_at = NOW()
        RETURNING `+recordColumns,
		r.ID, r.OwnerID, r.Title, r.Duration, r.StorageID,
		r.OperatorCode, r.OperatorName, r.CallType, r.ClientPhoneNumber,
		string(r.Status), nullableJSON(r.Payload),
	)

	out, err := scanRecord(row)
	if err != nil {
		return models.Record{}, fmt.Errorf("upsert record: %w", err)
	}
	slog.Info("upserted record", "record_id", out.ID, "owner_id", out.OwnerID, "status", out.Status)
	return out, nil
}

// GetRecord returns the owner's record or ErrRecordNotFound.
func (s *Store) GetRecord(ctx context.Context, id, ownerID string) (models.Record, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+recordColumns+`
        FROM record
        WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
    `, id, ownerID)

	out, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Record{}, ErrRecordNotFound
		}
		return models.Record{}, fmt.Errorf("get record: %w", err)
	}
	return out, nil
}

// SetRecordStatus moves a record to status. Setting the same status twice is
// a no-op from the caller's point of view.
func (s *Store) SetRecordStatus(ctx context.Context, id, ownerID string, status models.RecordStatus) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE record SET status = $3, updated_at = NOW()
        WHERE id = $1 AND owner_id = $2
    `, id, ownerID, string(status))
	if err != nil {
		return fmt.Errorf("set record status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// SetRecordPayload caches the raw transcription payload on the record.
func (s *Store) SetRecordPayload(ctx context.Context, id, ownerID string, payload []byte) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE record SET payload = $3, updated_at = NOW()
        WHERE id = $1 AND owner_id = $2
    `, id, ownerID, payload)
	if err != nil {
		return fmt.Errorf("set record payload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// OperatorName resolves an operator's display name from its PBX code.
func (s *Store) OperatorName(ctx context.Context, ownerID, code string) (string, error) {
	var name string
	err := s.db.QueryRow(ctx, `
        SELECT name FROM operator_data WHERE owner_id = $1 AND code = $2 LIMIT 1
    `, ownerID, code).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrOperatorNotFound
		}
		return "", fmt.Errorf("lookup operator: %w", err)
	}
	return name, nil
}

func scanRecord(row pgx.Row) (models.Record, error) {
	var (
		r       models.Record
		status  string
		payload []byte
	)
	if err := row.Scan(
		&r.ID, &r.OwnerID, &r.Title, &r.Duration, &r.StorageID,
		&r.OperatorCode, &r.OperatorName, &r.CallType, &r.ClientPhoneNumber,
		&status, &payload, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return models.Record{}, err
	}
	r.Status = models.RecordStatus(status)
	r.Payload = payload
	return r, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
