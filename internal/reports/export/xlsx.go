package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Report"

// XLSX renders the table as a single-sheet workbook with a bold header row
// and right-aligned numeric columns.
func XLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return err
	}

	titleStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 13}})
	if err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDDDDD"}},
	})
	if err != nil {
		return err
	}
	rightStyle, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{Horizontal: "right"}})
	if err != nil {
		return err
	}

	row := 1
	if err := f.SetCellValue(xlsxSheet, cell(1, row), t.Title); err != nil {
		return err
	}
	if err := f.SetCellStyle(xlsxSheet, cell(1, row), cell(1, row), titleStyle); err != nil {
		return err
	}
	row++
	for _, note := range t.Notes {
		if err := f.SetCellValue(xlsxSheet, cell(1, row), note); err != nil {
			return err
		}
		row++
	}
	row++

	headerRow := row
	for col, name := range t.Columns {
		if err := f.SetCellValue(xlsxSheet, cell(col+1, headerRow), name); err != nil {
			return err
		}
	}
	if len(t.Columns) > 0 {
		if err := f.SetCellStyle(xlsxSheet, cell(1, headerRow), cell(len(t.Columns), headerRow), headerStyle); err != nil {
			return err
		}
	}
	row++

	for _, r := range t.Rows {
		for col, value := range r {
			if err := f.SetCellValue(xlsxSheet, cell(col+1, row), value); err != nil {
				return err
			}
			if t.align(col) == AlignRight {
				if err := f.SetCellStyle(xlsxSheet, cell(col+1, row), cell(col+1, row), rightStyle); err != nil {
					return err
				}
			}
		}
		row++
	}

	for col := range t.Columns {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(xlsxSheet, name, name, 22); err != nil {
			return err
		}
	}

	_, err = f.WriteTo(w)
	return err
}

func cell(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Sprintf("A%d", row)
	}
	return name
}
