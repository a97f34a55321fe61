// Package report renders a run manifest as an XLSX workbook for people who
// review tiling runs in a spreadsheet.
package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/rshade/slidetiler/internal/manifest"
)

// Sheet names.
const (
	ImagesSheet  = "Images"
	SummarySheet = "Summary"
)

const maxErrorChars = 500

// XLSX returns the workbook bytes for m: one row per image on the Images
// sheet and the run counts on the Summary sheet.
func XLSX(m *manifest.Manifest) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with "Sheet1"; rename it rather than leave it empty.
	if err := f.SetSheetName("Sheet1", ImagesSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, fmt.Errorf("add sheet: %w", err)
	}
	index, _ := f.GetSheetIndex(ImagesSheet)
	f.SetActiveSheet(index)

	if err := writeImages(f, m); err != nil {
		return nil, err
	}
	if err := writeSummary(f, m); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeImages(f *excelize.File, m *manifest.Manifest) error {
	headers := []any{"Image", "Source", "Status", "Tiles", "Reason", "Error"}
	if err := f.SetSheetRow(ImagesSheet, "A1", &headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, img := range m.Images {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			img.Name,
			img.Source,
			string(img.Status),
			img.Tiles,
			string(img.Reason),
			truncate(img.Error, maxErrorChars),
		}
		if err = f.SetSheetRow(ImagesSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(ImagesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	_ = f.SetColWidth(ImagesSheet, "A", "A", 24) // image
	_ = f.SetColWidth(ImagesSheet, "B", "B", 40) // source
	_ = f.SetColWidth(ImagesSheet, "C", "D", 12)
	_ = f.SetColWidth(ImagesSheet, "E", "E", 14)
	_ = f.SetColWidth(ImagesSheet, "F", "F", 80) // error
	return nil
}

func writeSummary(f *excelize.File, m *manifest.Manifest) error {
	rows := [][]any{
		{"Manifest version", m.Version},
		{"Tool", m.Tool.Command},
		{"Batch strategy", m.Batch.Strategy},
		{"Batch size", m.Batch.Size},
		{"Batches", m.Batch.Batches},
		{"Images", m.Summary.Total},
		{"Succeeded", m.Summary.Succeeded},
		{"Failed", m.Summary.Failed},
		{"Tiles", m.Summary.Tiles},
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err = f.SetSheetRow(SummarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	_ = f.SetColWidth(SummarySheet, "A", "A", 20)
	_ = f.SetColWidth(SummarySheet, "B", "B", 30)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
