package services

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"inverter-report/models"
	"inverter-report/utils"
)

// trailingDigitsRegexp captures the last run of digits in a device name.
var trailingDigitsRegexp = regexp.MustCompile(`(\d+)\D*$`)

// PivotBuilder reshapes the master dataset into the wide per-device view.
type PivotBuilder struct {
	logger *utils.Logger
}

// NewPivotBuilder creates a PivotBuilder with the given logger.
func NewPivotBuilder(logger *utils.Logger) *PivotBuilder {
	return &PivotBuilder{logger: logger}
}

// Build deduplicates records on (plant, device, date), last occurrence winning, and
// pivots dates into columns. Rows are ordered by plant, then the device's trailing
// number, then device name. The result depends only on the input records.
func (b *PivotBuilder) Build(records []models.CanonicalRecord) *models.PivotView {
	latest := make(map[models.Key]models.CanonicalRecord, len(records))
	for _, r := range records {
		if r.PlantName == "" || r.DeviceName == "" || r.Date == "" {
			continue
		}
		latest[r.Key()] = r
	}

	type rowKey struct{ plant, device string }
	rows := make(map[rowKey]*models.PivotRow)
	dateSet := make(map[string]struct{})

	for key, r := range latest {
		dateSet[key.Date] = struct{}{}
		rk := rowKey{key.PlantName, key.DeviceName}
		row, ok := rows[rk]
		if !ok {
			row = &models.PivotRow{
				PlantName:  key.PlantName,
				DeviceName: key.DeviceName,
				Cells:      make(map[string]decimal.Decimal),
			}
			rows[rk] = row
		}
		if r.Yield.Valid {
			row.Cells[key.Date] = r.Yield.Decimal
		}
	}

	view := &models.PivotView{
		Dates: make([]string, 0, len(dateSet)),
		Rows:  make([]models.PivotRow, 0, len(rows)),
	}
	for d := range dateSet {
		view.Dates = append(view.Dates, d)
	}
	sort.Strings(view.Dates)

	for _, row := range rows {
		view.Rows = append(view.Rows, *row)
	}
	sort.Slice(view.Rows, func(i, j int) bool {
		return lessDevice(view.Rows[i], view.Rows[j])
	})

	b.logger.Debug("[pivot] %d records -> %d unique keys, %d devices x %d dates",
		len(records), len(latest), len(view.Rows), len(view.Dates))
	return view
}

func lessDevice(a, b models.PivotRow) bool {
	if a.PlantName != b.PlantName {
		return a.PlantName < b.PlantName
	}
	if c := compareDeviceNumbers(DeviceNumber(a.DeviceName), DeviceNumber(b.DeviceName)); c != 0 {
		return c < 0
	}
	return a.DeviceName < b.DeviceName
}

// DeviceNumber returns the final contiguous digit run of a device name, without leading
// zeros ("0" for an all-zero run). It returns "" when the name holds no digits.
func DeviceNumber(name string) string {
	m := trailingDigitsRegexp.FindStringSubmatch(name)
	if len(m) < 2 {
		return ""
	}
	n := strings.TrimLeft(m[1], "0")
	if n == "" {
		return "0"
	}
	return n
}

// compareDeviceNumbers orders numeric strings by value; "" (no number) sorts last.
func compareDeviceNumbers(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	case len(a) != len(b):
		if len(a) < len(b) {
			return -1
		}
		return 1
	default:
		return strings.Compare(a, b)
	}
}
