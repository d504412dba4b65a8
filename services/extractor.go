package services

import (
	"fmt"
	"strings"

	"inverter-report/models"
	"inverter-report/utils"
)

// Canonical column labels, as they appear in reports and in the master dataset.
const (
	ColPlantName  = "Plant Name"
	ColDeviceName = "Device Name"
	ColYield      = "Yield (kWh)"
	ColDate       = "Date"
)

// RequiredColumns are the labels a report must carry, after trimming, to be ingested.
var RequiredColumns = []string{ColPlantName, ColDeviceName, ColYield}

// SchemaMismatchError means a report lacked one of the required columns. The whole file
// is abandoned.
type SchemaMismatchError struct {
	ReportDate string
	Filename   string
	Found      []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("could not find columns in report for %s (%s); found columns: [%s]",
		e.ReportDate, e.Filename, strings.Join(e.Found, ", "))
}

// Extractor projects a report frame onto the canonical record schema.
type Extractor struct {
	logger *utils.Logger
}

// NewExtractor creates an Extractor with the given logger.
func NewExtractor(logger *utils.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// BuildFrame commits rows[headerIdx] as the header. Labels are trimmed of surrounding
// whitespace and blank rows are dropped. A delimited row carrying values past the last
// header column is malformed and skipped; spreadsheet rows keep their labelled cells and
// lose the rest.
func (e *Extractor) BuildFrame(rows [][]string, headerIdx int, format Format) models.Frame {
	if headerIdx < 0 || headerIdx >= len(rows) {
		return models.Frame{}
	}

	header := rows[headerIdx]
	columns := make([]string, len(header))
	for i, label := range header {
		columns[i] = strings.TrimSpace(label)
	}

	frame := models.Frame{Columns: columns}
	for lineNum, row := range rows[headerIdx+1:] {
		row = trimTrailingBlank(row)
		if len(row) == 0 {
			continue
		}
		if len(row) > len(columns) {
			if format == FormatDelimited {
				e.logger.Debug("[extractor] Skipping line %d: %d cells for %d columns",
					headerIdx+lineNum+2, len(row), len(columns))
				continue
			}
			row = row[:len(columns)]
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame
}

// Extract returns one record per frame row, tagged with the attachment's report date.
// Missing required columns yield a *SchemaMismatchError and no records.
func (e *Extractor) Extract(frame models.Frame, att models.Attachment) ([]models.CanonicalRecord, error) {
	index := make(map[string]int, len(frame.Columns))
	for i, label := range frame.Columns {
		if _, dup := index[label]; !dup {
			index[label] = i
		}
	}

	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			found := make([]string, len(frame.Columns))
			copy(found, frame.Columns)
			return nil, &SchemaMismatchError{
				ReportDate: att.DateString(),
				Filename:   att.Filename,
				Found:      found,
			}
		}
	}

	date := att.DateString()
	plantIdx, deviceIdx, yieldIdx := index[ColPlantName], index[ColDeviceName], index[ColYield]

	records := make([]models.CanonicalRecord, 0, len(frame.Rows))
	blanked := 0
	for _, row := range frame.Rows {
		raw := cell(row, yieldIdx)
		yield := models.ParseYield(raw)
		if !yield.Valid && strings.TrimSpace(raw) != "" {
			blanked++
			e.logger.Debug("[extractor] %s: non-numeric yield %q for %s, stored as blank",
				att.Filename, raw, cell(row, deviceIdx))
		}
		records = append(records, models.CanonicalRecord{
			PlantName:  strings.TrimSpace(cell(row, plantIdx)),
			DeviceName: strings.TrimSpace(cell(row, deviceIdx)),
			Yield:      yield,
			Date:       date,
		})
	}
	if blanked > 0 {
		e.logger.Warn("[extractor] %s: %d non-numeric yield cells stored as blank", att.Filename, blanked)
	}

	e.logger.Debug("[extractor] %s: extracted %d records for %s", att.Filename, len(records), date)
	return records, nil
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

func trimTrailingBlank(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}
