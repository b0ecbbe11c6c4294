package intervalcache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"dialix-pipeline/internal/models"
)

func strPtr(s string) *string { return &s }

func TestSyncedRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		lo, hi *int64
		want   Range
		wantOK bool
	}{
		{name: "empty cache", lo: nil, hi: nil},
		{name: "cached calls", lo: int64Ptr(100), hi: int64Ptr(900), want: Range{Start: 100, End: 900}, wantOK: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatalf("failed to create pgx mock: %v", err)
			}
			defer mock.Close()

			mock.ExpectQuery(`SELECT MIN\(start_stamp\), MAX\(end_stamp\)\s+FROM pbx_call`).
				WithArgs("owner-1").
				WillReturnRows(pgxmock.NewRows([]string{"min", "max"}).AddRow(tc.lo, tc.hi))

			got, ok, err := NewPGStore(mock).SyncedRange(context.Background(), "owner-1")
			if err != nil {
				t.Fatalf("synced range: %v", err)
			}
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("expected %v/%v, got %v/%v", tc.want, tc.wantOK, got, ok)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestInsert(t *testing.T) {
	t.Parallel()

	calls := []models.IntervalRecord{
		{ID: "id-1", OwnerID: "owner-1", CallID: "call-1", CallerIDNumber: strPtr("998901234567"), StartStamp: 100, EndStamp: 160, Duration: 60, UserTalkTime: 50},
		{ID: "id-2", OwnerID: "owner-1", CallID: "call-2", StartStamp: 200, EndStamp: 230, Duration: 30, UserTalkTime: 0},
	}

	tests := []struct {
		name      string
		setupMock func(pgxmock.PgxPoolIface)
		want      int
		wantErr   bool
	}{
		{
			name: "new and already cached calls",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO pbx_call`).
					WithArgs("id-1", "owner-1", "call-1",
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						int64(100), int64(160), 60, 50, pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec(`INSERT INTO pbx_call`).
					WithArgs("id-2", "owner-1", "call-2",
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						int64(200), int64(230), 30, 0, pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 0))
				mock.ExpectCommit()
			},
			want: 1,
		},
		{
			name: "insert failure rolls back",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO pbx_call`).
					WithArgs("id-1", "owner-1", "call-1",
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						int64(100), int64(160), 60, 50, pgxmock.AnyArg()).
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatalf("failed to create pgx mock: %v", err)
			}
			defer mock.Close()
			tc.setupMock(mock)

			got, err := NewPGStore(mock).Insert(context.Background(), calls)
			if (err != nil) != tc.wantErr {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if !tc.wantErr && got != tc.want {
				t.Fatalf("expected %d inserted, got %d", tc.want, got)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestInsertNothing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	n, err := NewPGStore(mock).Insert(context.Background(), nil)
	if err != nil || n != 0 {
		t.Fatalf("expected no-op, got %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCallsBetween(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	cols := []string{
		"id", "owner_id", "call_id", "caller_id_name", "caller_id_number", "destination_number",
		"start_stamp", "end_stamp", "duration", "user_talk_time", "call_type",
		"crm_result", "crm_processed",
	}
	mock.ExpectQuery(`SELECT id, owner_id, call_id`).
		WithArgs("owner-1", int64(0), int64(1000)).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("id-1", "owner-1", "call-1", (*string)(nil), strPtr("998901234567"), strPtr("101"),
				int64(100), int64(160), 60, 50, strPtr("inbound"),
				json.RawMessage(nil), false).
			AddRow("id-2", "owner-1", "call-2", strPtr("Ali"), (*string)(nil), (*string)(nil),
				int64(300), int64(400), 100, 90, (*string)(nil),
				json.RawMessage(`{"lead":true}`), true))

	got, err := NewPGStore(mock).CallsBetween(context.Background(), "owner-1", Range{Start: 0, End: 1000})
	if err != nil {
		t.Fatalf("calls between: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(got))
	}
	if got[0].CallID != "call-1" || *got[0].CallerIDNumber != "998901234567" || got[0].UserTalkTime != 50 {
		t.Fatalf("unexpected first call %+v", got[0])
	}
	if !got[1].CRMProcessed || string(got[1].CRMResult) != `{"lead":true}` {
		t.Fatalf("unexpected second call %+v", got[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
