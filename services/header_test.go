package services

import "testing"

func TestLocateHeaderFindsMarkedRow(t *testing.T) {
	h := NewHeaderLocator("Plant Name", "Yield", 15)
	rows := [][]string{
		{"Inverter Report"},
		{"Plant Name: PlantA"},
		{"Exported", "Yield summary"},
		{"Plant Name", "Device Name", "Yield (kWh)"},
		{"Plant Name", "Device Name", "Yield (kWh)", "again"},
	}

	idx, found := h.Locate(rows)
	if !found || idx != 3 {
		t.Errorf("Locate = (%d, %t); want (3, true)", idx, found)
	}
}

func TestLocateHeaderFallsBackToZero(t *testing.T) {
	h := NewHeaderLocator("Plant Name", "Yield", 15)
	rows := [][]string{
		{"Station", "Inverter", "Energy"},
		{"PlantA", "Dev1", "120.5"},
	}

	idx, found := h.Locate(rows)
	if found || idx != 0 {
		t.Errorf("Locate = (%d, %t); want (0, false)", idx, found)
	}
}

func TestLocateHeaderScanWindow(t *testing.T) {
	h := NewHeaderLocator("Plant Name", "Yield", 15)
	rows := make([][]string, 20)
	for i := range rows {
		rows[i] = []string{"noise"}
	}
	rows[15] = []string{"Plant Name", "Device Name", "Yield (kWh)"}

	if idx, found := h.Locate(rows); found || idx != 0 {
		t.Errorf("header beyond window: Locate = (%d, %t); want (0, false)", idx, found)
	}

	rows[14] = rows[15]
	if idx, found := h.Locate(rows); !found || idx != 14 {
		t.Errorf("header at window edge: Locate = (%d, %t); want (14, true)", idx, found)
	}
}

func TestLocateHeaderEmptyInput(t *testing.T) {
	h := NewHeaderLocator("Plant Name", "Yield", 0)
	if idx, found := h.Locate(nil); found || idx != 0 {
		t.Errorf("Locate(nil) = (%d, %t); want (0, false)", idx, found)
	}
}
