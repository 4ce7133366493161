package incident

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// ReportHeader is the column layout of both report formats.
var ReportHeader = []string{
	"Date",
	"Time Called",
	"Time Arrived",
	"Response Time",
	"Incident Description",
	"Resolution Time",
	"Location",
	"Resolution Description",
}

var clockLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05", time.RFC3339}

func parseClock(s string) (time.Time, bool) {
	for _, layout := range clockLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ResponseTime is the whole minutes between the call and the arrival, or "-"
// when either time is missing or not a full date and time.
func ResponseTime(inc Incident) string {
	called, ok := parseClock(inc.TimeCalled)
	if !ok {
		return "-"
	}
	arrived, ok := parseClock(inc.TimeArrived)
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%d mins", int(arrived.Sub(called)/time.Minute))
}

func reportRow(inc Incident) []string {
	return []string{
		inc.Date.Format("1/2/2006"),
		inc.TimeCalled,
		inc.TimeArrived,
		ResponseTime(inc),
		inc.Description,
		inc.ResolutionTime,
		inc.Location,
		inc.ResolutionDescription,
	}
}

// WriteCSV writes the report. Fields holding commas, quotes or newlines are
// quoted with inner quotes doubled.
func WriteCSV(w io.Writer, list []Incident) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ReportHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, inc := range list {
		if err := cw.Write(reportRow(inc)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReportName is the file name of a report generated at t.
func ReportName(t time.Time, ext string) string {
	return fmt.Sprintf("incident_report_%s.%s", t.UTC().Format("2006-01-02T15-04-05Z"), ext)
}

const reportSheet = "Incidents"

var reportWidths = []float64{12, 12, 12, 14, 50, 16, 22, 50}

// XLSX renders the report as a workbook with a frozen header row.
func XLSX(list []Incident) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(reportSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range ReportHeader {
		if err := setCell(f, col+1, 1, header); err != nil {
			f.Close()
			return nil, err
		}
		name, _ := excelize.ColumnNumberToName(col + 1)
		if err := f.SetColWidth(reportSheet, name, name, reportWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}
	if err := f.SetCellStyle(reportSheet, "A1", "H1", headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	for i, inc := range list {
		for col, value := range reportRow(inc) {
			if value == "" {
				continue
			}
			if err := setCell(f, col+1, i+2, value); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	if err := f.SetPanes(reportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(reportSheet, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}
