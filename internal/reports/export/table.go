// Package export renders report tables as CSV, XLSX and PDF downloads. Every
// statement flattens to a Table first so the three writers stay
// format-specific and report-agnostic.
package export

// AlignLeft and AlignRight control per-column alignment in formats that
// support it. CSV ignores alignment.
const (
	AlignLeft  = "L"
	AlignRight = "R"
)

// Table is the flattened, presentation-ready form of a report. Notes render
// above the header as comment or caption lines. Aligns is optional; missing
// entries default to AlignLeft.
type Table struct {
	Title   string
	Notes   []string
	Columns []string
	Aligns  []string
	Rows    [][]string
}

func (t Table) align(col int) string {
	if col < len(t.Aligns) && t.Aligns[col] == AlignRight {
		return AlignRight
	}
	return AlignLeft
}
