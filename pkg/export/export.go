// Package export writes persisted link opportunities as spreadsheets.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/elonfeng/linkscout/internal/store"
	"github.com/xuri/excelize/v2"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format: %q", s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

const sheetName = "Opportunities"

var columns = []string{
	"Priority Score", "Source URL", "Target URL", "Keyword", "Anchor Text",
	"Keyword Score", "Page Score", "Est. Traffic Lift", "Status",
}

func row(o store.Opportunity) []any {
	return []any{
		o.PriorityScore, o.SourceURL, o.TargetURL, o.Keyword, o.SuggestedAnchorText,
		o.KeywordScore, o.PageScore, o.EstimatedTrafficLift, o.Status,
	}
}

// Write encodes opps to w in the given format.
func Write(w io.Writer, format Format, opps []store.Opportunity) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, opps)
	case FormatXLSX:
		return writeXLSX(w, opps)
	default:
		return fmt.Errorf("unsupported export format: %q", format)
	}
}

func writeCSV(w io.Writer, opps []store.Opportunity) error {
	// UTF-8 BOM so spreadsheet apps detect the encoding.
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, o := range opps {
		values := make([]string, 0, len(columns))
		for _, v := range row(o) {
			values = append(values, formatValue(v))
		}
		if err := cw.Write(values); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, opps []store.Opportunity) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"2E86DE"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	scoreStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 4})

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, col)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)

		name, _ := excelize.ColumnNumberToName(i + 1)
		width := float64(len(col) + 5)
		switch col {
		case "Source URL", "Target URL", "Anchor Text":
			width = 50
		}
		f.SetColWidth(sheetName, name, name, max(width, 15))
	}

	for r, o := range opps {
		for i, v := range row(o) {
			cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
		first, _ := excelize.CoordinatesToCellName(1, r+2)
		f.SetCellStyle(sheetName, first, first, scoreStyle)
	}

	lastCol, _ := excelize.ColumnNumberToName(len(columns))
	f.AutoFilter(sheetName, fmt.Sprintf("A1:%s%d", lastCol, len(opps)+1), nil)
	f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', 2, 64)
	case int:
		return strconv.Itoa(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
