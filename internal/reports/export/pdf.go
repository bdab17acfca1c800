package export

import (
	"io"

	"github.com/jung-kurt/gofpdf"
)

const pdfPageWidth = 190.0 // A4 portrait printable width in mm

// PDF renders the table as a portrait A4 document with a repeating header row.
func PDF(w io.Writer, t Table) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)

	colWidth := pdfPageWidth
	if len(t.Columns) > 0 {
		colWidth = pdfPageWidth / float64(len(t.Columns))
	}
	header := func() {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(221, 221, 221)
		for col, name := range t.Columns {
			pdf.CellFormat(colWidth, 7, name, "1", 0, t.align(col), true, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.SetHeaderFuncMode(func() {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(pdfPageWidth, 8, t.Title, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 8)
		for _, note := range t.Notes {
			pdf.CellFormat(pdfPageWidth, 5, note, "", 1, "L", false, 0, "")
		}
		pdf.Ln(2)
		header()
	}, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range t.Rows {
		for col := 0; col < len(t.Columns); col++ {
			value := ""
			if col < len(row) {
				value = row[col]
			}
			pdf.CellFormat(colWidth, 6, value, "1", 0, t.align(col), false, 0, "")
		}
		pdf.Ln(-1)
	}

	return pdf.Output(w)
}
