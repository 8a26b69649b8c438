package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/banshee-data/loiter.report/internal/loiter"
)

// Workbook sheet names.
const (
	SummarySheet    = "Summary"
	IdentitiesSheet = "Identities"
)

// ReportWorkbook builds an xlsx workbook with a summary sheet and one row
// per identity.
func ReportWorkbook(r *loiter.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(IdentitiesSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	alertStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#B02A2A"},
	})
	if err != nil {
		return nil, fmt.Errorf("alert style: %w", err)
	}

	summary := [][]interface{}{
		{"Field", "Value"},
		{"Session", r.SessionID},
		{"Source", r.Source},
		{"Resolution", r.Resolution},
		{"Threshold (s)", r.ThresholdSec},
		{"ROI", fmt.Sprintf("%d,%d %dx%d", r.ROI[0], r.ROI[1], r.ROI[2], r.ROI[3])},
		{"Loitering detected", r.LoiteringDetected},
		{"Assessment", r.Assessment},
		{"Total person", r.TotalPerson},
		{"Standing count", r.StandingCount},
		{"Mean max dwell (s)", r.MeanMaxLoiterTime},
		{"Frames processed", r.FramesProcessed},
		{"Started", formatTime(r.StartedAt)},
		{"Ended", formatTime(r.EndedAt)},
	}
	if err := writeRows(f, SummarySheet, summary); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "B1", headerStyle); err != nil {
		return nil, fmt.Errorf("summary header style: %w", err)
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 22); err != nil {
		return nil, fmt.Errorf("summary width: %w", err)
	}
	if err := f.SetColWidth(SummarySheet, "B", "B", 44); err != nil {
		return nil, fmt.Errorf("summary width: %w", err)
	}

	rows := [][]interface{}{{"Object ID", "Max loiter time (s)", "Status"}}
	for _, e := range r.Entries {
		rows = append(rows, []interface{}{e.ObjectID, e.MaxLoiterTime, e.Status})
	}
	if err := writeRows(f, IdentitiesSheet, rows); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(IdentitiesSheet, "A1", "C1", headerStyle); err != nil {
		return nil, fmt.Errorf("identities header style: %w", err)
	}
	for i, e := range r.Entries {
		if e.Status != loiter.StatusAlert {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(3, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(IdentitiesSheet, cell, cell, alertStyle); err != nil {
			return nil, fmt.Errorf("alert style: %w", err)
		}
	}
	if err := f.SetColWidth(IdentitiesSheet, "A", "C", 20); err != nil {
		return nil, fmt.Errorf("identities width: %w", err)
	}
	if err := f.SetPanes(IdentitiesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
