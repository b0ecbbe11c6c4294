package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dialix-pipeline/internal/models"
)

// Checklist returns the owner's checklist or ErrChecklistNotFound.
func (s *Store) Checklist(ctx context.Context, ownerID, id string) (models.Checklist, error) {
	var (
		c   models.Checklist
		raw []byte
	)
	err := s.db.QueryRow(ctx, `
        SELECT id, owner_id, title, payload
        FROM checklist
        WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
    `, id, ownerID).Scan(&c.ID, &c.OwnerID, &c.Title, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Checklist{}, ErrChecklistNotFound
		}
		return models.Checklist{}, fmt.Errorf("get checklist: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c.Payload); err != nil {
			return models.Checklist{}, fmt.Errorf("decode checklist payload: %w", err)
		}
	}
	return c, nil
}
