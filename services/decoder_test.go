package services

import (
	"strings"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"

	"inverter-report/utils"
)

func newTestLogger() *utils.Logger { return utils.NewNopLogger() }

func TestDecodeTextNeverFails(t *testing.T) {
	d := NewDecoder(newTestLogger())

	inputs := [][]byte{
		nil,
		{},
		{0x00},
		{0xff, 0xfe, 0x00},
		{0xc3, 0x28, 0xa0, 0xa1},
		{0x80, 0x81, 0x00, 0x9d},
		[]byte("plain ascii"),
	}

	for _, raw := range inputs {
		got := d.DecodeText(raw)
		if got.Encoding == "" {
			t.Errorf("DecodeText(%v) returned no encoding name", raw)
		}
	}
}

func TestDecodeTextUTF8SigRoundTrip(t *testing.T) {
	d := NewDecoder(newTestLogger())
	text := "Plant Name,Device Name,Yield (kWh)\n台灣浮動,Inverter-1,120.5\n"

	raw, err := unicode.UTF8BOM.NewEncoder().Bytes([]byte(text))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), "\xef\xbb\xbf") {
		t.Fatal("fixture should start with a byte order mark")
	}

	got := d.DecodeText(raw)
	if got.Text != text {
		t.Errorf("DecodeText round trip = %q; want %q", got.Text, text)
	}
	if got.Encoding != "utf-8-sig" {
		t.Errorf("encoding: got %q, want utf-8-sig", got.Encoding)
	}
}

func TestDecodeTextCandidates(t *testing.T) {
	d := NewDecoder(newTestLogger())

	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("电站名称"))
	if err != nil {
		t.Fatal(err)
	}
	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte("Plant Name"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		raw      []byte
		wantText string
		wantEnc  string
		lossy    bool
	}{
		{"ascii", []byte("Plant Name"), "Plant Name", "utf-8-sig", false},
		{"gbk", gbk, "电站名称", "gbk", false},
		{"utf-16 with bom", utf16, "Plant Name", "utf-16", false},
		{"cp1252", []byte("Caf\xe9!"), "Café!", "cp1252", false},
		{"nul falls through to lossy utf-8", []byte("A\x00B"), "A\x00B", FallbackEncoding, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.DecodeText(tt.raw)
			if got.Text != tt.wantText {
				t.Errorf("text: got %q, want %q", got.Text, tt.wantText)
			}
			if got.Encoding != tt.wantEnc {
				t.Errorf("encoding: got %q, want %q", got.Encoding, tt.wantEnc)
			}
			if got.Lossy != tt.lossy {
				t.Errorf("lossy: got %t, want %t", got.Lossy, tt.lossy)
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     Format
	}{
		{"2024-03-01_report.xlsx", FormatXLSX},
		{"REPORT.XLSX", FormatXLSX},
		{"legacy.xls", FormatXLS},
		{"report.csv", FormatDelimited},
		{"report.txt", FormatDelimited},
		{"no-extension", FormatDelimited},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.filename); got != tt.want {
			t.Errorf("DetectFormat(%q) = %v; want %v", tt.filename, got, tt.want)
		}
	}
}

func TestReadDelimitedSkipsBlankLines(t *testing.T) {
	d := NewDecoder(newTestLogger())
	raw := []byte("Monthly report\n\nPlant Name,Device Name,Yield (kWh)\nPlantA,Dev1,1\n")

	src, err := d.Read("report.csv", raw)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if src.Format != FormatDelimited {
		t.Errorf("format: got %v", src.Format)
	}
	if len(src.Rows) != 3 {
		t.Fatalf("rows: got %d, want 3 (%v)", len(src.Rows), src.Rows)
	}
	if src.Rows[1][2] != "Yield (kWh)" {
		t.Errorf("header cell: got %q", src.Rows[1][2])
	}
}

func TestReadXLSXRejectsGarbage(t *testing.T) {
	d := NewDecoder(newTestLogger())
	if _, err := d.Read("report.xlsx", []byte("not a zip")); err == nil {
		t.Error("expected an error for a corrupt workbook")
	}
}
