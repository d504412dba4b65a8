package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"inverter-report/models"
)

// MasterHeader is the header row of the master dataset file.
var MasterHeader = []string{"Plant Name", "Device Name", "Yield (kWh)", "Date"}

// MasterCSV is the master dataset stored as a delimited-text file. Rows are only ever
// appended; existing rows and the header are never rewritten.
type MasterCSV struct {
	path string
}

// NewMasterCSV returns a store for the file at path. The file need not exist yet.
func NewMasterCSV(path string) *MasterCSV {
	return &MasterCSV{path: path}
}

// Path returns the dataset file path.
func (m *MasterCSV) Path() string {
	return m.path
}

// Exists reports whether the dataset file is present.
func (m *MasterCSV) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// ReadAll loads every row in file order. A missing or empty file yields no records.
func (m *MasterCSV) ReadAll() ([]models.CanonicalRecord, error) {
	f, err := os.Open(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("master: open %q: %w", m.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("master: read header: %w", err)
	}

	var records []models.CanonicalRecord
	lineNum := 1
	for {
		lineNum++
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("master: line %d: %w", lineNum, err)
		}
		records = append(records, models.CanonicalRecord{
			PlantName:  field(row, 0),
			DeviceName: field(row, 1),
			Yield:      models.ParseYield(field(row, 2)),
			Date:       field(row, 3),
		})
	}
	return records, nil
}

// Append writes records after the existing rows. A new (or zero-length) file gets the
// header row first.
func (m *MasterCSV) Append(records []models.CanonicalRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("master: create dir: %w", err)
	}

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("master: open %q: %w", m.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("master: stat: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(MasterHeader); err != nil {
			_ = f.Close()
			return fmt.Errorf("master: write header: %w", err)
		}
	}

	for _, r := range records {
		if err := w.Write([]string{r.PlantName, r.DeviceName, r.YieldString(), r.Date}); err != nil {
			_ = f.Close()
			return fmt.Errorf("master: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("master: flush: %w", err)
	}
	return f.Close()
}

func field(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}
