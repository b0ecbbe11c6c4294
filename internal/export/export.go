// Package export renders cached PBX calls as an XLSX workbook.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"dialix-pipeline/internal/models"
)

// SheetName is the worksheet holding the calls.
const SheetName = "Calls"

const stampLayout = "2006-01-02 15:04:05"

var header = []any{
	"Call ID", "Caller name", "Caller number", "Destination",
	"Start", "End", "Duration (s)", "Talk time (s)", "Call type", "CRM processed",
}

// WriteCalls writes one row per call to w. Stamps are rendered in loc;
// a nil loc means UTC.
func WriteCalls(w io.Writer, calls []models.IntervalRecord, loc *time.Location) (err error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, c := range calls {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			c.CallID,
			deref(c.CallerIDName),
			deref(c.CallerIDNumber),
			deref(c.DestinationNumber),
			time.Unix(c.StartStamp, 0).In(loc).Format(stampLayout),
			time.Unix(c.EndStamp, 0).In(loc).Format(stampLayout),
			c.Duration,
			c.UserTalkTime,
			deref(c.CallType),
			yesNo(c.CRMProcessed),
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
