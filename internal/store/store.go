// Package store persists records, results, checklists and the billing
// ledger in Postgres.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of a pgx pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrResultNotFound    = errors.New("result not found")
	ErrChecklistNotFound = errors.New("checklist not found")
	ErrOperatorNotFound  = errors.New("operator not found")
)

type Store struct {
	db DB
}

func New(db DB) *Store {
	return &Store{db: db}
}
