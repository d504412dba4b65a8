package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"

	"inverter-report/utils"
)

// Format is the input family of a report file, chosen by filename extension only.
type Format int

const (
	FormatDelimited Format = iota
	FormatXLSX
	FormatXLS
)

func (f Format) String() string {
	switch f {
	case FormatXLSX:
		return "xlsx"
	case FormatXLS:
		return "xls"
	default:
		return "delimited"
	}
}

// DetectFormat maps a filename to its input family. Anything that is not a known
// spreadsheet extension is treated as delimited text.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".xls":
		return FormatXLS
	default:
		return FormatDelimited
	}
}

// FallbackEncoding names the lossy decoding used when every candidate is rejected.
const FallbackEncoding = "utf-8 (replace)"

// DecodedText is the best-guess text of a delimited report.
type DecodedText struct {
	Text     string
	Encoding string
	Lossy    bool
}

// textCandidate decodes raw bytes with one encoding. ok is false when the bytes are not
// valid in that encoding.
type textCandidate struct {
	name   string
	utf16  bool
	decode func(raw []byte) (text string, ok bool)
}

// textCandidates is the ordered preference list; the first accepted candidate wins.
var textCandidates = []textCandidate{
	{name: "utf-8-sig", decode: decodeUTF8Sig},
	{name: "utf-8", decode: decodeUTF8},
	{name: "gbk", decode: strictDecoder(simplifiedchinese.GBK)},
	{name: "big5", decode: strictDecoder(traditionalchinese.Big5)},
	{name: "utf-16", utf16: true, decode: strictDecoder(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM))},
	{name: "cp1252", decode: strictDecoder(charmap.Windows1252)},
	{name: "latin1", decode: strictDecoder(charmap.ISO8859_1)},
}

var utf8BOM = []byte("\xef\xbb\xbf")

func decodeUTF8Sig(raw []byte) (string, bool) {
	if !utf8.Valid(raw) {
		return "", false
	}
	return string(bytes.TrimPrefix(raw, utf8BOM)), true
}

func decodeUTF8(raw []byte) (string, bool) {
	if !utf8.Valid(raw) {
		return "", false
	}
	return string(raw), true
}

// strictDecoder wraps an x/text encoding so that substituted runes count as failure.
func strictDecoder(enc encoding.Encoding) func([]byte) (string, bool) {
	return func(raw []byte) (string, bool) {
		out, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", false
		}
		if bytes.ContainsRune(out, utf8.RuneError) {
			return "", false
		}
		return string(out), true
	}
}

// Decoder turns raw report bytes into candidate rows for header detection.
type Decoder struct {
	logger *utils.Logger
}

// NewDecoder creates a Decoder with the given logger.
func NewDecoder(logger *utils.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// DecodeText never fails: candidates are tried in order and the first that decodes
// cleanly without embedded NULs (UTF-16 excepted) is accepted. When all are rejected
// the bytes are decoded as UTF-8 with invalid sequences replaced.
func (d *Decoder) DecodeText(raw []byte) DecodedText {
	for _, c := range textCandidates {
		text, ok := c.decode(raw)
		if !ok {
			continue
		}
		if !c.utf16 && strings.ContainsRune(text, 0) {
			d.logger.Debug("[decoder] %s decoded with NUL characters, rejecting", c.name)
			continue
		}
		return DecodedText{Text: text, Encoding: c.name}
	}

	d.logger.Warn("[decoder] No candidate encoding accepted %d bytes, decoding lossily", len(raw))
	return DecodedText{Text: strings.ToValidUTF8(string(raw), "\uFFFD"), Encoding: FallbackEncoding, Lossy: true}
}

// Source is a report parsed into raw rows in source order. No header is committed yet.
type Source struct {
	Format   Format
	Encoding string
	Lossy    bool
	Rows     [][]string
}

// Read parses a report according to its filename extension.
func (d *Decoder) Read(filename string, raw []byte) (*Source, error) {
	src := &Source{Format: DetectFormat(filename)}

	var err error
	switch src.Format {
	case FormatXLSX:
		src.Rows, err = readXLSXRows(raw)
	case FormatXLS:
		src.Rows, err = readXLSRows(raw)
	default:
		decoded := d.DecodeText(raw)
		d.logger.Debug("[decoder] %s decoded as %s", filename, decoded.Encoding)
		src.Encoding, src.Lossy = decoded.Encoding, decoded.Lossy
		src.Rows = parseDelimited(decoded.Text)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// parseDelimited reads comma-separated rows. Lines that cannot be parsed are skipped,
// as are blank lines.
func parseDelimited(text string) [][]string {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			break
		}
		rows = append(rows, rec)
	}
	return rows
}

func readXLSXRows(raw []byte) ([][]string, error) {
	xl, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoder: open xlsx: %w", err)
	}
	defer xl.Close()

	sheet := xl.GetSheetName(0)
	rows, err := xl.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("decoder: read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

// readXLSRows parses the first sheet of a legacy binary workbook. Rows the sheet does
// not store come back empty so row positions match the file.
func readXLSRows(raw []byte) (rows [][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("decoder: malformed xls: %v", r)
		}
	}()

	book, err := xls.OpenReader(bytes.NewReader(raw), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("decoder: open xls: %w", err)
	}
	if book == nil {
		return nil, errors.New("decoder: open xls: no workbook stream")
	}
	sheet := book.GetSheet(0)
	if sheet == nil {
		return nil, errors.New("decoder: xls has no sheets")
	}

	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheetRow(sheet, i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol()+1)
		for c := 0; c <= row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		rows = append(rows, trimTrailingBlank(cells))
	}
	return rows, nil
}

// sheetRow returns nil for a row index the sheet holds no record for.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}
