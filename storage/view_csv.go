package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"inverter-report/models"
)

// ViewCSV writes the pivot view as a delimited-text table keyed by plant and device.
type ViewCSV struct {
	path string
}

// NewViewCSV returns a writer for the file at path.
func NewViewCSV(path string) *ViewCSV {
	return &ViewCSV{path: path}
}

// Path returns the view file path.
func (v *ViewCSV) Path() string {
	return v.path
}

// WriteView replaces the view file wholesale. The table is written to a sibling temp
// file and renamed into place so readers never see a half-written view.
func (v *ViewCSV) WriteView(view *models.PivotView) error {
	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("view: create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".view-*.csv")
	if err != nil {
		return fmt.Errorf("view: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	header := append([]string{"Plant Name", "Device Name"}, view.Dates...)
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("view: write header: %w", err)
	}

	for _, row := range view.Rows {
		line := make([]string, 0, len(header))
		line = append(line, row.PlantName, row.DeviceName)
		for _, date := range view.Dates {
			if y, ok := row.Cells[date]; ok {
				line = append(line, y.String())
			} else {
				line = append(line, "")
			}
		}
		if err := w.Write(line); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("view: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("view: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("view: close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("view: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), v.path); err != nil {
		return fmt.Errorf("view: replace %q: %w", v.path, err)
	}
	return nil
}
