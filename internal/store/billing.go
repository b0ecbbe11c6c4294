package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Balance is the sum of the owner's ledger.
func (s *Store) Balance(ctx context.Context, ownerID string) (float64, error) {
	var sum float64
	if err := s.db.QueryRow(ctx, `
        SELECT COALESCE(SUM(amount), 0)::float8 FROM transaction WHERE owner_id = $1
    `, ownerID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return sum, nil
}

// RecordTransaction appends a charge of amount against recordID. Charges are
// stored as negative amounts.
func (s *Store) RecordTransaction(ctx context.Context, ownerID, recordID string, amount float64, kind string) error {
	id := uuid.NewString()
	if _, err := s.db.Exec(ctx, `
        INSERT INTO transaction (id, owner_id, record_id, amount, type)
        VALUES ($1, $2, $3, $4, $5)
    `, id, ownerID, recordID, -amount, kind); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	slog.Info("recorded transaction", "transaction_id", id, "owner_id", ownerID, "record_id", recordID, "amount", amount, "type", kind)
	return nil
}
