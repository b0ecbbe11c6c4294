package intervalcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dialix-pipeline/internal/models"
)

// DB is the minimal interface needed from a pgx pool.
type DB interface {
	BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore keeps Interval Records in the pbx_call table.
type PGStore struct {
	db DB
}

func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db}
}

// SyncedRange returns the earliest start and latest end stamp cached for the
// owner. ok is false when nothing is cached.
func (s *PGStore) SyncedRange(ctx context.Context, ownerID string) (r Range, ok bool, err error) {
	var lo, hi *int64
	err = s.db.QueryRow(ctx, `
        SELECT MIN(start_stamp), MAX(end_stamp)
        FROM pbx_call
        WHERE owner_id = $1
    `, ownerID).Scan(&lo, &hi)
	if err != nil {
		return Range{}, false, fmt.Errorf("synced range: %w", err)
	}
	if lo == nil || hi == nil {
		return Range{}, false, nil
	}
	return Range{Start: *lo, End: *hi}, true, nil
}

// Insert stores calls in one transaction. Calls whose call_id is already
// cached are skipped. It returns the number of new rows.
func (s *PGStore) Insert(ctx context.Context, calls []models.IntervalRecord) (inserted int, err error) {
	if len(calls) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				slog.Error("failed to rollback pbx call transaction", "error", rbErr)
			}
			return
		}

		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("commit tx: %w", commitErr)
		}
	}()

	for _, c := range calls {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		tag, execErr := tx.Exec(ctx, `
            INSERT INTO pbx_call (
                id, owner_id, call_id,
                caller_id_name, caller_id_number, destination_number,
                start_stamp, end_stamp, duration, user_talk_time, call_type
            ) VALUES (
                $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
            )
            ON CONFLICT (call_id) DO NOTHING
        `,
			id,
			c.OwnerID,
			c.CallID,
			c.CallerIDName,
			c.CallerIDNumber,
			c.DestinationNumber,
			c.StartStamp,
			c.EndStamp,
			c.Duration,
			c.UserTalkTime,
			c.CallType,
		)
		if execErr != nil {
			return 0, fmt.Errorf("insert pbx call %s: %w", c.CallID, execErr)
		}
		if tag.RowsAffected() == 0 {
			slog.Debug("pbx call already cached", "call_id", c.CallID)
			continue
		}
		inserted++
	}

	slog.Info("cached pbx calls", "received", len(calls), "inserted", inserted)
	return inserted, nil
}

// CallsBetween returns the owner's cached calls within [r.Start, r.End]
// that had any talk time, oldest first.
func (s *PGStore) CallsBetween(ctx context.Context, ownerID string, r Range) ([]models.IntervalRecord, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, owner_id, call_id, caller_id_name, caller_id_number, destination_number,
               start_stamp, end_stamp, duration, user_talk_time, call_type,
               crm_result, crm_processed
        FROM pbx_call
        WHERE owner_id = $1 AND start_stamp >= $2 AND end_stamp <= $3 AND user_talk_time > 0
        ORDER BY start_stamp
    `, ownerID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("query pbx calls: %w", err)
	}
	defer rows.Close()

	var out []models.IntervalRecord
	for rows.Next() {
		var c models.IntervalRecord
		if err := rows.Scan(
			&c.ID, &c.OwnerID, &c.CallID, &c.CallerIDName, &c.CallerIDNumber, &c.DestinationNumber,
			&c.StartStamp, &c.EndStamp, &c.Duration, &c.UserTalkTime, &c.CallType,
			&c.CRMResult, &c.CRMProcessed,
		); err != nil {
			return nil, fmt.Errorf("scan pbx call: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pbx calls: %w", err)
	}
	return out, nil
}
