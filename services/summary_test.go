package services

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"inverter-report/models"
)

func TestInsights(t *testing.T) {
	s := NewSummaryService(newTestLogger())
	view := NewPivotBuilder(newTestLogger()).Build([]models.CanonicalRecord{
		rec("PlantA", "Dev1", "10.5", "2024-03-01"),
		rec("PlantA", "Dev1", "11", "2024-03-02"),
		rec("PlantA", "Dev2", "9", "2024-03-01"),
		rec("PlantB", "Dev1", "4.25", "2024-03-02"),
	})

	in := s.Insights(view)
	if in.Plants != 2 || in.Devices != 3 || in.Dates != 2 {
		t.Errorf("sizes: %d plants, %d devices, %d dates", in.Plants, in.Devices, in.Dates)
	}
	if in.LatestDate != "2024-03-02" {
		t.Errorf("latest date: %q", in.LatestDate)
	}
	if !in.LatestTotal.Equal(decimal.RequireFromString("15.25")) {
		t.Errorf("latest total: %s", in.LatestTotal)
	}
	if len(in.MissingOnLatest) != 1 || in.MissingOnLatest[0].DeviceName != "Dev2" {
		t.Errorf("missing on latest: %+v", in.MissingOnLatest)
	}
	if in.DevicesByPlant["PlantA"] != 2 {
		t.Errorf("PlantA devices: %d", in.DevicesByPlant["PlantA"])
	}

	if empty := s.Insights(nil); empty.Devices != 0 || empty.LatestDate != "" {
		t.Errorf("nil view: %+v", empty)
	}
}

func TestPrint(t *testing.T) {
	tests := []struct {
		name    string
		summary *models.RunSummary
		want    []string
	}{
		{
			name:    "no new data",
			summary: &models.RunSummary{RunID: "r1", NoNewData: true},
			want:    []string{"r1", "no new data"},
		},
		{
			name: "appended with failure",
			summary: &models.RunSummary{
				RunID:          "r2",
				FilesSeen:      2,
				FilesProcessed: 1,
				Appended:       2,
				Failures: []models.FileFailure{{
					ReportDate: "2024-03-01",
					Filename:   "broken.csv",
					Reason:     "missing required columns",
					Found:      []string{"Plant Name", "Power"},
				}},
			},
			want: []string{"2 records appended", "broken.csv", "found columns: Plant Name, Power"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := &SummaryService{logger: newTestLogger(), out: &buf}
			s.Print(tt.summary, nil)
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output missing %q:\n%s", w, buf.String())
				}
			}
		})
	}
}
