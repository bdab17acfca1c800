package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleTable() Table {
	return Table{
		Title:   "Trial Balance",
		Notes:   []string{"Company: Acme Industries | Currency: USD | As of: 2025-06-30"},
		Columns: []string{"Account", "Name", "Debit", "Credit"},
		Aligns:  []string{AlignLeft, AlignLeft, AlignRight, AlignRight},
		Rows: [][]string{
			{"1100", "Cash", "1100.00", "0.00"},
			{"3000", "Share Capital", "0.00", "1000.00"},
		},
	}
}

func TestCSVWritesCommentsAndRows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, sampleTable()))

	out := buf.String()
	lines := strings.Split(strings.TrimSuffix(out, "\r\n"), "\r\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "# Report: Trial Balance", lines[0])
	assert.Equal(t, "# Company: Acme Industries | Currency: USD | As of: 2025-06-30", lines[1])
	assert.Equal(t, "Account,Name,Debit,Credit", lines[2])
	assert.Equal(t, "1100,Cash,1100.00,0.00", lines[3])
	assert.Equal(t, "3000,Share Capital,0.00,1000.00", lines[4])
}

func TestXLSXRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, XLSX(&buf, sampleTable()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue(xlsxSheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Trial Balance", title)

	// Title, one note, one spacer, then the header row.
	header, err := f.GetCellValue(xlsxSheet, "A4")
	require.NoError(t, err)
	assert.Equal(t, "Account", header)

	cell, err := f.GetCellValue(xlsxSheet, "B5")
	require.NoError(t, err)
	assert.Equal(t, "Cash", cell)
}

func TestPDFProducesDocument(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PDF(&buf, sampleTable()))

	out := buf.Bytes()
	require.NotEmpty(t, out)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestAlignDefaultsLeft(t *testing.T) {
	tbl := Table{Columns: []string{"A", "B"}, Aligns: []string{AlignLeft, AlignRight}}
	assert.Equal(t, AlignLeft, tbl.align(0))
	assert.Equal(t, AlignRight, tbl.align(1))
	assert.Equal(t, AlignLeft, tbl.align(2))
}
