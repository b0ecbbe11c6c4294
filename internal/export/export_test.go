package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"dialix-pipeline/internal/models"
)

func TestWriteCalls(t *testing.T) {
	t.Parallel()

	num := "998901234567"
	calls := []models.IntervalRecord{
		{CallID: "call-1", CallerIDNumber: &num, StartStamp: 1714557600, EndStamp: 1714557660, Duration: 60, UserTalkTime: 55},
		{CallID: "call-2", StartStamp: 1714561200, EndStamp: 1714561230, Duration: 30, UserTalkTime: 20, CRMProcessed: true},
	}

	var buf bytes.Buffer
	if err := WriteCalls(&buf, calls, nil); err != nil {
		t.Fatalf("write calls: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Call ID" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "call-1" || rows[1][2] != num || rows[1][4] != "2024-05-01 10:00:00" || rows[1][7] != "55" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[1][9] != "no" || rows[2][9] != "yes" {
		t.Fatalf("expected crm processed flag, got %v", rows[2])
	}
}

func TestWriteCallsInLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UZT", 5*3600)
	var buf bytes.Buffer
	if err := WriteCalls(&buf, []models.IntervalRecord{{CallID: "c", StartStamp: 1714557600, EndStamp: 1714557600}}, loc); err != nil {
		t.Fatalf("write calls: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	got, err := f.GetCellValue(SheetName, "E2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if got != "2024-05-01 15:00:00" {
		t.Fatalf("expected local stamp, got %q", got)
	}
}
