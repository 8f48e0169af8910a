// Package export renders projected coordinator rows as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/360EntSecGroup-Skylar/excelize/v2"

	"coordhub/projection"
)

const (
	SheetName   = "Coordinadores"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	timeLayout  = "2006-01-02 15:04"
)

var headers = []string{
	"Municipio", "Sector", "Nombre completo", "Celular", "Email", "Cédula",
	"Llamadas", "Última llamada", "Confirmado", "Invitados", "Observaciones",
}

var widths = []float64{24, 20, 32, 16, 28, 16, 10, 18, 12, 10, 40}

// Coordinators writes page as an .xlsx workbook. The municipality column of
// each group is merged across the rows its head spans.
func Coordinators(w io.Writer, page projection.Page) error {
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", SheetName)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#003893"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("export: header style: %w", err)
	}
	groupStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Vertical: "center", WrapText: true},
	})
	if err != nil {
		return fmt.Errorf("export: group style: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return fmt.Errorf("export: header: %w", err)
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, widths[i]); err != nil {
			return fmt.Errorf("export: width: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("export: header style: %w", err)
	}

	for i, row := range page.Rows {
		r := i + 2
		if err := writeRow(f, r, row); err != nil {
			return err
		}
		if !row.Head {
			continue
		}
		top, _ := excelize.CoordinatesToCellName(1, r)
		bottom, _ := excelize.CoordinatesToCellName(1, r+max(row.Span, 1)-1)
		if row.Span > 1 {
			if err := f.MergeCell(SheetName, top, bottom); err != nil {
				return fmt.Errorf("export: merge %s:%s: %w", top, bottom, err)
			}
		}
		if err := f.SetCellStyle(SheetName, top, bottom, groupStyle); err != nil {
			return fmt.Errorf("export: group style: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("export: write: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, r int, row projection.Row) error {
	c := row.Record
	lastCall := ""
	if c.LastCallAt != nil {
		lastCall = c.LastCallAt.Format(timeLayout)
	}
	confirmed := "No"
	if c.Confirmed {
		confirmed = "Sí"
	}

	values := []interface{}{
		row.Label,
		c.Sector,
		c.FullName,
		c.Phone,
		deref(c.Email),
		deref(c.NationalID),
		c.CallCount,
		lastCall,
		confirmed,
		c.GuestCount,
		deref(c.Notes),
	}
	cell, _ := excelize.CoordinatesToCellName(1, r)
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("export: row %d: %w", r, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
