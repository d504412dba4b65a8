package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the textual form of every date stored in the master dataset.
const DateLayout = "2006-01-02"

// Attachment is a report file already materialized on local storage by a fetcher.
// The file at Path is temporary and is removed once the pipeline has processed it.
type Attachment struct {
	ReportDate time.Time
	Filename   string
	Path       string
}

// DateString returns the report date in YYYY-MM-DD form.
func (a Attachment) DateString() string {
	return a.ReportDate.Format(DateLayout)
}

// Frame is a tabular view of one report. Rows keep source order; cells are raw strings.
// Columns is empty until a header row has been committed.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// CanonicalRecord is the unit persisted to the master dataset.
type CanonicalRecord struct {
	PlantName  string
	DeviceName string
	Yield      decimal.NullDecimal
	Date       string
}

// Key is the conceptual identity of a record: (plant, device, date).
type Key struct {
	PlantName  string
	DeviceName string
	Date       string
}

// Key returns the dedup key of the record.
func (r CanonicalRecord) Key() Key {
	return Key{PlantName: r.PlantName, DeviceName: r.DeviceName, Date: r.Date}
}

// YieldString renders the yield the way it is written to CSV; null yields are blank.
func (r CanonicalRecord) YieldString() string {
	if !r.Yield.Valid {
		return ""
	}
	return r.Yield.Decimal.String()
}

// PivotRow is one (plant, device) row of the wide-form view.
type PivotRow struct {
	PlantName  string
	DeviceName string
	// Cells maps a date column to its yield; dates with no record are absent.
	Cells map[string]decimal.Decimal
}

// PivotView is the derived wide-form projection of the master dataset.
type PivotView struct {
	Dates []string
	Rows  []PivotRow
}

// FileFailure describes a report file that was abandoned during a run.
type FileFailure struct {
	ReportDate string
	Filename   string
	Reason     string
	Found      []string
}

// RunSummary is the user-visible outcome of one pipeline run.
type RunSummary struct {
	RunID          string
	FilesSeen      int
	FilesProcessed int
	Failures       []FileFailure
	Appended       int
	Skipped        int
	NoNewData      bool
	// View is the regenerated pivot view; nil when the run skipped regeneration.
	View       *PivotView
	StartedAt  time.Time
	FinishedAt time.Time
}

// YieldInsights holds summary statistics computed over the pivot view.
type YieldInsights struct {
	Plants          int
	Devices         int
	Dates           int
	LatestDate      string
	LatestTotal     decimal.Decimal
	DevicesByPlant  map[string]int
	MissingOnLatest []PivotRow
}
