package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/yourorg/declarant/pkg/types"
)

var header = []string{
	"№",
	"Наименование товара",
	"Категория",
	"Бренд",
	"Дополнительная информация",
	"Код ТН ВЭД",
	"Уровень доверия",
	"Описание ТН ВЭД",
	"Обоснование",
	"Альтернативные коды",
	"Статус доверия",
	"Пользовательский статус",
	"Заметки",
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes results as UTF-8 CSV with a byte-order mark so Excel opens
// the Cyrillic columns correctly.
func WriteCSV(w io.Writer, results []types.StoredResult) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range results {
		if err := cw.Write(record(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes results as a workbook with the confidence column shaded by
// tier, matching the colors brokers know from the review screen.
func WriteXLSX(w io.Writer, results []types.StoredResult) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	if err := f.SetSheetName(sheet, "Результаты"); err != nil {
		return err
	}
	target := "Результаты"

	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(target, cell, title); err != nil {
			return err
		}
	}

	styles, err := tierStyles(f)
	if err != nil {
		return err
	}
	confidenceCol := indexOf(header, "Уровень доверия") + 1

	for i, r := range results {
		rowNum := i + 2
		for col, value := range record(r) {
			cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
			if err != nil {
				return err
			}
			if col+1 == confidenceCol {
				if err := f.SetCellValue(target, cell, r.Confidence); err != nil {
					return err
				}
				if err := f.SetCellStyle(target, cell, cell, styles[types.ConfidenceTier(r.Confidence)]); err != nil {
					return err
				}
				continue
			}
			if err := f.SetCellValue(target, cell, value); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(target, "B", "B", 36); err != nil {
		return err
	}
	if err := f.SetColWidth(target, "H", "J", 48); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

// TierLabel returns the Russian confidence tier label used in exports.
func TierLabel(confidence int) string {
	switch types.ConfidenceTier(confidence) {
	case "high":
		return "Высокий"
	case "medium":
		return "Средний"
	default:
		return "Низкий"
	}
}

func record(r types.StoredResult) []string {
	return []string{
		strconv.Itoa(r.RowIndex + 1),
		r.ProductName,
		r.Category,
		r.Brand,
		r.AdditionalInfo,
		r.HSCode,
		strconv.Itoa(r.Confidence),
		r.OriginalDescription,
		r.Reasoning,
		strings.Join(r.Alternatives, ", "),
		TierLabel(r.Confidence),
		string(r.UserStatus),
		r.UserNotes,
	}
}

func tierStyles(f *excelize.File) (map[string]int, error) {
	build := func(bg, font string) (int, error) {
		return f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{bg}, Pattern: 1},
			Font: &excelize.Font{Color: font},
		})
	}
	high, err := build("C6EFCE", "006100")
	if err != nil {
		return nil, err
	}
	medium, err := build("FFEB9C", "9C6500")
	if err != nil {
		return nil, err
	}
	low, err := build("FFC7CE", "9C0006")
	if err != nil {
		return nil, err
	}
	return map[string]int{"high": high, "medium": medium, "low": low}, nil
}

func indexOf(ss []string, want string) int {
	for i, s := range ss {
		if s == want {
			return i
		}
	}
	panic(fmt.Sprintf("column %q not in header", want))
}
