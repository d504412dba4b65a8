package services

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"inverter-report/models"
)

func deviceOrder(view *models.PivotView) []string {
	out := make([]string, len(view.Rows))
	for i, r := range view.Rows {
		out[i] = r.PlantName + "/" + r.DeviceName
	}
	return out
}

func TestPivotDedupLastWins(t *testing.T) {
	b := NewPivotBuilder(newTestLogger())
	view := b.Build([]models.CanonicalRecord{
		rec("PlantA", "Dev1", "10", "2024-03-01"),
		rec("PlantA", "Dev1", "20", "2024-03-01"),
	})

	if len(view.Rows) != 1 || len(view.Dates) != 1 {
		t.Fatalf("got %d rows x %d dates, want 1 x 1", len(view.Rows), len(view.Dates))
	}
	got, ok := view.Rows[0].Cells["2024-03-01"]
	if !ok || !got.Equal(decimal.NewFromInt(20)) {
		t.Errorf("cell: got %v, want 20", got)
	}
}

func TestPivotNullLastOccurrenceBlanksCell(t *testing.T) {
	b := NewPivotBuilder(newTestLogger())
	view := b.Build([]models.CanonicalRecord{
		rec("PlantA", "Dev1", "10", "2024-03-01"),
		rec("PlantA", "Dev1", "", "2024-03-01"),
	})

	if len(view.Rows) != 1 {
		t.Fatalf("rows: got %d, want 1", len(view.Rows))
	}
	if _, ok := view.Rows[0].Cells["2024-03-01"]; ok {
		t.Error("cell should be blank when the last record has no yield")
	}
}

func TestPivotNumericDeviceSort(t *testing.T) {
	b := NewPivotBuilder(newTestLogger())
	view := b.Build([]models.CanonicalRecord{
		rec("PlantA", "Inverter-2", "1", "2024-03-01"),
		rec("PlantA", "Inverter-10", "1", "2024-03-01"),
		rec("PlantA", "Inverter-1", "1", "2024-03-01"),
	})

	want := []string{"PlantA/Inverter-1", "PlantA/Inverter-2", "PlantA/Inverter-10"}
	if got := deviceOrder(view); !reflect.DeepEqual(got, want) {
		t.Errorf("order: got %v, want %v", got, want)
	}
}

func TestPivotSortKeys(t *testing.T) {
	b := NewPivotBuilder(newTestLogger())
	view := b.Build([]models.CanonicalRecord{
		rec("PlantB", "INV 3", "1", "2024-03-01"),
		rec("PlantA", "Meter", "1", "2024-03-01"),
		rec("PlantA", "INV-12 (east)", "1", "2024-03-01"),
		rec("PlantA", "Combiner", "1", "2024-03-01"),
		rec("PlantA", "B-07", "1", "2024-03-01"),
		rec("PlantA", "A-7", "1", "2024-03-01"),
		rec("PlantA", "Block2-Inv3", "1", "2024-03-01"),
	})

	want := []string{
		"PlantA/Block2-Inv3",
		"PlantA/A-7",
		"PlantA/B-07",
		"PlantA/INV-12 (east)",
		"PlantA/Combiner",
		"PlantA/Meter",
		"PlantB/INV 3",
	}
	if got := deviceOrder(view); !reflect.DeepEqual(got, want) {
		t.Errorf("order:\ngot  %v\nwant %v", got, want)
	}
}

func TestPivotDatesAndDeterminism(t *testing.T) {
	b := NewPivotBuilder(newTestLogger())
	records := []models.CanonicalRecord{
		rec("PlantA", "Dev2", "5", "2024-03-02"),
		rec("PlantA", "Dev1", "1", "2024-03-01"),
		rec("PlantA", "Dev1", "2", "2024-02-28"),
		rec("", "Dev9", "7", "2024-03-05"),
	}

	first := b.Build(records)
	if want := []string{"2024-02-28", "2024-03-01", "2024-03-02"}; !reflect.DeepEqual(first.Dates, want) {
		t.Errorf("dates: got %v, want %v", first.Dates, want)
	}
	for i := 0; i < 5; i++ {
		if again := b.Build(records); !reflect.DeepEqual(first, again) {
			t.Fatalf("rebuild %d differs", i)
		}
	}
}

func TestDeviceNumber(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Inverter-10", "10"},
		{"INV-12 (east)", "12"},
		{"Block2-Inv3", "3"},
		{"B-007", "7"},
		{"Inv-000", "0"},
		{"Meter", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DeviceNumber(tt.name); got != tt.want {
			t.Errorf("DeviceNumber(%q) = %q; want %q", tt.name, got, tt.want)
		}
	}
}
