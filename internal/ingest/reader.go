package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Limits caps accepted input files.
type Limits struct {
	MaxBytes int64
	MaxRows  int
}

// Table is a parsed spreadsheet: a header row plus data rows. Short rows are
// padded so every row has one cell per column.
type Table struct {
	Columns []string
	Rows    [][]string
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadFile parses a CSV or XLSX file from disk.
func ReadFile(path string, limits Limits) (*Table, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if limits.MaxBytes > 0 && info.Size() > limits.MaxBytes {
		return nil, fmt.Errorf("file too large: %d bytes (limit %d)", info.Size(), limits.MaxBytes)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, filepath.Ext(path), limits)
}

// Read parses spreadsheet data from r; ext selects the format (".csv", ".xlsx").
func Read(r io.Reader, ext string, limits Limits) (*Table, error) {
	if limits.MaxBytes > 0 {
		r = io.LimitReader(r, limits.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if limits.MaxBytes > 0 && int64(len(data)) > limits.MaxBytes {
		return nil, fmt.Errorf("file too large (limit %d bytes)", limits.MaxBytes)
	}

	var table *Table
	switch strings.ToLower(ext) {
	case ".csv":
		table, err = readCSV(data)
	case ".xlsx":
		table, err = readXLSX(data)
	case ".xls":
		return nil, errors.New("legacy .xls is not supported, re-save the file as .xlsx")
	default:
		return nil, fmt.Errorf("unsupported file format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if len(table.Columns) == 0 {
		return nil, errors.New("file has no header row")
	}
	if limits.MaxRows > 0 && len(table.Rows) > limits.MaxRows {
		return nil, fmt.Errorf("too many rows: %d (limit %d)", len(table.Rows), limits.MaxRows)
	}
	return table, nil
}

func readCSV(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		// Broker exports from older Windows tooling arrive as windows-1251.
		decoded, _, err := transform.Bytes(charmap.Windows1251.NewDecoder(), data)
		if err != nil {
			return nil, fmt.Errorf("decode csv: %w", err)
		}
		data = decoded
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return tableFromRecords(records), nil
}

func readXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return tableFromRecords(records), nil
}

func tableFromRecords(records [][]string) *Table {
	t := &Table{}
	if len(records) == 0 {
		return t
	}
	for _, c := range records[0] {
		t.Columns = append(t.Columns, strings.TrimSpace(c))
	}
	for _, rec := range records[1:] {
		row := make([]string, len(t.Columns))
		empty := true
		for i := range row {
			if i < len(rec) {
				row[i] = strings.TrimSpace(rec[i])
				if row[i] != "" {
					empty = false
				}
			}
		}
		if empty {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
