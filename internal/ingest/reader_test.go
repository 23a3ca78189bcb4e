package ingest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

func TestReadCSV(t *testing.T) {
	data := "Товар,Бренд\nСмартфон,Apple\nКофе,\n"
	table, err := Read(strings.NewReader(data), ".csv", Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Columns) != 2 || table.Columns[0] != "Товар" {
		t.Fatalf("unexpected columns %v", table.Columns)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(table.Rows))
	}
	if table.Rows[0][1] != "Apple" {
		t.Fatalf("unexpected cell %q", table.Rows[0][1])
	}
}

func TestReadCSVWithBOM(t *testing.T) {
	data := "\xEF\xBB\xBFТовар\nСмартфон\n"
	table, err := Read(strings.NewReader(data), ".csv", Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Columns[0] != "Товар" {
		t.Fatalf("BOM must be stripped from the header, got %q", table.Columns[0])
	}
}

func TestReadCSVWindows1251(t *testing.T) {
	utf8Data := "Товар\nСамовар\n"
	encoded, _, err := transform.Bytes(charmap.Windows1251.NewEncoder(), []byte(utf8Data))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	table, err := Read(bytes.NewReader(encoded), ".csv", Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Columns[0] != "Товар" || table.Rows[0][0] != "Самовар" {
		t.Fatalf("windows-1251 input must decode, got %v / %v", table.Columns, table.Rows)
	}
}

func TestReadCSVPadsShortRows(t *testing.T) {
	data := "A,B,C\n1\n2,3\n"
	table, err := Read(strings.NewReader(data), ".csv", Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, row := range table.Rows {
		if len(row) != 3 {
			t.Fatalf("row %d not padded: %v", i, row)
		}
	}
}

func TestReadCSVSkipsEmptyRows(t *testing.T) {
	data := "A,B\n1,2\n,\n  ,  \n3,4\n"
	table, err := Read(strings.NewReader(data), ".csv", Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("blank rows must be dropped, got %d rows", len(table.Rows))
	}
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "Товар")
	_ = f.SetCellValue("Sheet1", "B1", "Категория")
	_ = f.SetCellValue("Sheet1", "A2", "Смартфон")
	_ = f.SetCellValue("Sheet1", "B2", "Электроника")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("build fixture: %v", err)
	}

	table, err := Read(&buf, ".xlsx", Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Columns) != 2 || table.Columns[1] != "Категория" {
		t.Fatalf("unexpected columns %v", table.Columns)
	}
	if len(table.Rows) != 1 || table.Rows[0][0] != "Смартфон" {
		t.Fatalf("unexpected rows %v", table.Rows)
	}
}

func TestReadRejectsLegacyXLS(t *testing.T) {
	_, err := Read(strings.NewReader("junk"), ".xls", Limits{})
	if err == nil || !strings.Contains(err.Error(), ".xlsx") {
		t.Fatalf("expected re-save hint for .xls, got %v", err)
	}
}

func TestReadRejectsUnknownFormat(t *testing.T) {
	if _, err := Read(strings.NewReader("a"), ".pdf", Limits{}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestReadEnforcesRowLimit(t *testing.T) {
	data := "A\n1\n2\n3\n"
	if _, err := Read(strings.NewReader(data), ".csv", Limits{MaxRows: 2}); err == nil {
		t.Fatal("expected row limit error")
	}
}

func TestReadEnforcesSizeLimit(t *testing.T) {
	data := "A\n" + strings.Repeat("x\n", 100)
	if _, err := Read(strings.NewReader(data), ".csv", Limits{MaxBytes: 10}); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goods.csv")
	if err := os.WriteFile(path, []byte("Товар\nКофе\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := ReadFile(path, Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Rows) != 1 || table.Rows[0][0] != "Кофе" {
		t.Fatalf("unexpected table %+v", table)
	}
}
