// Package xlsx пишет табличные отчеты в формате Excel.
package xlsx

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// Sheet - лист отчета: строка заголовков и строки значений
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]any
}

// Write создает файл с листами в заданном порядке.
//
// Example:
//
//	err := xlsx.Write("report.xlsx", xlsx.Sheet{Name: "Summary", Headers: []string{"Metric", "Value"}})
func Write(filePath string, sheets ...Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("no sheets to write")
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	for i, sh := range sheets {
		if sh.Name == "" {
			return fmt.Errorf("sheet %d has no name", i+1)
		}
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.Name); err != nil {
				return fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", sh.Name, err)
		}
		if err := writeSheet(f, sh, headerStyle); err != nil {
			return fmt.Errorf("sheet %s: %w", sh.Name, err)
		}
	}
	f.SetActiveSheet(0)

	return f.SaveAs(filePath)
}

func writeSheet(f *excelize.File, sh Sheet, headerStyle int) error {
	for col, header := range sh.Headers {
		cell := columnName(col+1) + "1"
		if err := f.SetCellValue(sh.Name, cell, header); err != nil {
			return err
		}
		f.SetCellStyle(sh.Name, cell, cell, headerStyle)
	}

	for rowIdx, row := range sh.Rows {
		for col, v := range row {
			cell := columnName(col+1) + strconv.Itoa(rowIdx+2)
			if err := f.SetCellValue(sh.Name, cell, cellValue(v)); err != nil {
				return err
			}
			applyCellFormat(f, sh.Name, cell, v)
		}
	}

	for col := range sh.Headers {
		name := columnName(col + 1)
		f.SetColWidth(sh.Name, name, name, 18)
	}
	return nil
}

// ReadSheet возвращает строки листа вместе с заголовком
func ReadSheet(filePath, sheetName string) ([][]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rows, nil
}

// cellValue приводит значение к тому, что excelize пишет без потерь
func cellValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return x
	case time.Duration:
		return x.String()
	case fmt.Stringer:
		return x.String()
	}
	return v
}

// applyCellFormat - встроенный формат Excel по типу значения
func applyCellFormat(f *excelize.File, sheet, cell string, v any) {
	switch v.(type) {
	case int, int32, int64:
		f.SetCellStyle(sheet, cell, cell, 1)
	case float32, float64:
		f.SetCellStyle(sheet, cell, cell, 2)
	case time.Time:
		f.SetCellStyle(sheet, cell, cell, 22)
	}
}

// columnName - номер колонки в имя Excel (1 -> A, 27 -> AA)
func columnName(col int) string {
	name := ""
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name
}
