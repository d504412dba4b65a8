package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"inverter-report/models"
	"inverter-report/utils"
)

// SummaryService computes insights over the pivot view and prints the run status.
type SummaryService struct {
	logger *utils.Logger
	out    io.Writer
}

// NewSummaryService creates a SummaryService printing to stdout.
func NewSummaryService(logger *utils.Logger) *SummaryService {
	return &SummaryService{logger: logger, out: os.Stdout}
}

// Insights summarises a pivot view: sizes, the latest date's total yield and the
// devices that reported nothing on that date.
func (s *SummaryService) Insights(view *models.PivotView) *models.YieldInsights {
	in := &models.YieldInsights{DevicesByPlant: make(map[string]int)}
	if view == nil || len(view.Rows) == 0 {
		return in
	}

	in.Devices = len(view.Rows)
	in.Dates = len(view.Dates)
	if len(view.Dates) > 0 {
		in.LatestDate = view.Dates[len(view.Dates)-1]
	}

	total := decimal.Zero
	for _, row := range view.Rows {
		in.DevicesByPlant[row.PlantName]++
		if in.LatestDate == "" {
			continue
		}
		if y, ok := row.Cells[in.LatestDate]; ok {
			total = total.Add(y)
		} else {
			in.MissingOnLatest = append(in.MissingOnLatest, row)
		}
	}
	in.Plants = len(in.DevicesByPlant)
	in.LatestTotal = total
	return in
}

// Print writes a console report of the run and, when given, the view insights.
func (s *SummaryService) Print(r *models.RunSummary, in *models.YieldInsights) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)
	w := s.out

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  INVERTER REPORT RUN %s\033[0m\n", r.RunID)
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Status\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Files found     : \033[1m%d\033[0m\n", r.FilesSeen)
	fmt.Fprintf(w, "  Files processed : \033[1m%d\033[0m\n", r.FilesProcessed)
	switch {
	case r.NoNewData:
		fmt.Fprintf(w, "  Result          : \033[1;32mno new data\033[0m\n")
	default:
		fmt.Fprintf(w, "  Result          : \033[1;32m%d records appended\033[0m\n", r.Appended)
	}
	if r.Skipped > 0 {
		fmt.Fprintf(w, "  Already present : %d records skipped\n", r.Skipped)
	}
	fmt.Fprintln(w)

	if len(r.Failures) > 0 {
		fmt.Fprintf(w, "\033[1;33m  Extraction Failures\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  \033[1;31m%s\033[0m %s: %s\n", f.ReportDate, f.Filename, f.Reason)
			if len(f.Found) > 0 {
				fmt.Fprintf(w, "      found columns: %s\n", strings.Join(f.Found, ", "))
			}
		}
		fmt.Fprintln(w)
	}

	if in != nil && in.Devices > 0 {
		fmt.Fprintf(w, "\033[1;33m  Report View\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  Plants / devices / dates : %d / %d / %d\n", in.Plants, in.Devices, in.Dates)
		fmt.Fprintf(w, "  Total yield on %s : \033[1;32m%s kWh\033[0m\n", in.LatestDate, in.LatestTotal.StringFixed(2))

		plants := make([]string, 0, len(in.DevicesByPlant))
		for p := range in.DevicesByPlant {
			plants = append(plants, p)
		}
		sort.Strings(plants)
		for _, p := range plants {
			fmt.Fprintf(w, "  %-30s %d devices\n", truncate(p, 28), in.DevicesByPlant[p])
		}

		if len(in.MissingOnLatest) > 0 {
			fmt.Fprintf(w, "  \033[1;31mNo yield on %s:\033[0m\n", in.LatestDate)
			for _, row := range in.MissingOnLatest {
				fmt.Fprintf(w, "    %s / %s\n", row.PlantName, row.DeviceName)
			}
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
