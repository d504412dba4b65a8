package services

import "strings"

// DefaultHeaderScanRows is how many leading rows are searched for the header.
const DefaultHeaderScanRows = 15

// HeaderLocator finds the header row of a report by marker substrings rather than position.
type HeaderLocator struct {
	plantMarker string
	yieldMarker string
	scanRows    int
}

// NewHeaderLocator creates a locator. A non-positive scanRows uses DefaultHeaderScanRows.
func NewHeaderLocator(plantMarker, yieldMarker string, scanRows int) *HeaderLocator {
	if scanRows <= 0 {
		scanRows = DefaultHeaderScanRows
	}
	return &HeaderLocator{plantMarker: plantMarker, yieldMarker: yieldMarker, scanRows: scanRows}
}

// Locate returns the index of the first row, within the scan window, whose text holds
// both markers. found is false when no row matches, in which case the index is 0.
func (h *HeaderLocator) Locate(rows [][]string) (idx int, found bool) {
	limit := h.scanRows
	if len(rows) < limit {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		text := rowText(rows[i])
		if strings.Contains(text, h.plantMarker) && strings.Contains(text, h.yieldMarker) {
			return i, true
		}
	}
	return 0, false
}

// rowText flattens a row into one string so spreadsheet and text rows are matched alike.
func rowText(cells []string) string {
	return strings.Join(cells, " ")
}
