package reports

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/reports/export"
)

func amt(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Table flattens the trial balance for download.
func (tb *TrialBalance) Table() export.Table {
	t := export.Table{
		Title: "Trial Balance",
		Notes: []string{
			fmt.Sprintf("Company: %s | Currency: %s | As of: %s", tb.CompanyName, tb.Currency, tb.AsOf),
		},
		Columns: []string{"Account", "Name", "Type", "Debit", "Credit"},
		Aligns:  []string{export.AlignLeft, export.AlignLeft, export.AlignLeft, export.AlignRight, export.AlignRight},
	}
	for _, row := range tb.Rows {
		t.Rows = append(t.Rows, []string{row.Number, row.Name, string(row.Type), amt(row.Debit), amt(row.Credit)})
	}
	t.Rows = append(t.Rows,
		[]string{"", "", "", "", ""},
		[]string{"Totals", "", "", amt(tb.TotalDebits), amt(tb.TotalCredits)},
		[]string{"Balanced", "", "", "", strconv.FormatBool(tb.Balanced())},
	)
	return t
}

// Table flattens the balance sheet for download.
func (bs *BalanceSheet) Table() export.Table {
	t := export.Table{
		Title: "Balance Sheet",
		Notes: []string{
			fmt.Sprintf("Company: %s | Currency: %s | As of: %s", bs.CompanyName, bs.Currency, bs.AsOf),
		},
		Columns: []string{"Section", "Account", "Name", "Amount"},
		Aligns:  []string{export.AlignLeft, export.AlignLeft, export.AlignLeft, export.AlignRight},
	}
	appendSections := func(heading string, sections []StatementSection) {
		for _, sec := range sections {
			for _, l := range sec.Lines {
				t.Rows = append(t.Rows, []string{heading + " / " + sec.Title, l.Number, l.Name, amt(l.Amount)})
			}
		}
	}
	appendSections("Assets", bs.Assets)
	appendSections("Liabilities", bs.Liabilities)
	appendSections("Equity", bs.Equity)
	t.Rows = append(t.Rows,
		[]string{"", "", "", ""},
		[]string{"Totals", "", "Assets", amt(bs.TotalAssets)},
		[]string{"Totals", "", "Liabilities", amt(bs.TotalLiabilities)},
		[]string{"Totals", "", "Equity", amt(bs.TotalEquity)},
		[]string{"Totals", "", "Balanced", strconv.FormatBool(bs.Balanced())},
	)
	return t
}

// Table flattens the income statement for download, with a prior-period
// column when the statement is comparative.
func (is *IncomeStatement) Table() export.Table {
	note := fmt.Sprintf("Company: %s | Currency: %s | Period: %d-%02d", is.CompanyName, is.Currency, is.Year, is.Period)
	if is.Comparative {
		note += fmt.Sprintf(" | Prior: %d-%02d", is.PriorYear, is.PriorPeriod)
	}
	t := export.Table{
		Title:   "Income Statement",
		Notes:   []string{note},
		Columns: []string{"Section", "Account", "Name", "Amount"},
		Aligns:  []string{export.AlignLeft, export.AlignLeft, export.AlignLeft, export.AlignRight},
	}
	if is.Comparative {
		t.Columns = append(t.Columns, "Prior")
		t.Aligns = append(t.Aligns, export.AlignRight)
	}
	appendLines := func(section string, lines []ComparativeLine) {
		for _, l := range lines {
			row := []string{section, l.Number, l.Name, amt(l.Amount)}
			if is.Comparative {
				row = append(row, amt(l.Prior))
			}
			t.Rows = append(t.Rows, row)
		}
	}
	appendLines("Revenue", is.Revenue)
	appendLines("Expenses", is.Expenses)
	totals := [][]string{
		{"Totals", "", "Revenue", amt(is.TotalRevenue)},
		{"Totals", "", "Expenses", amt(is.TotalExpenses)},
		{"Totals", "", "Net Income", amt(is.NetIncome)},
	}
	if is.Comparative {
		totals[0] = append(totals[0], amt(is.PriorRevenue))
		totals[1] = append(totals[1], amt(is.PriorExpenses))
		totals[2] = append(totals[2], amt(is.PriorNet))
	}
	t.Rows = append(t.Rows, make([]string, len(t.Columns)))
	t.Rows = append(t.Rows, totals...)
	return t
}

// Table flattens the cash-flow statement for download.
func (cf *CashFlowStatement) Table() export.Table {
	t := export.Table{
		Title: "Cash Flow Statement",
		Notes: []string{
			fmt.Sprintf("Company: %s | Currency: %s | Period: %d-%02d | Method: %s",
				cf.CompanyName, cf.Currency, cf.Year, cf.Period, cf.Method),
		},
		Columns: []string{"Activity", "Account", "Name", "Amount"},
		Aligns:  []string{export.AlignLeft, export.AlignLeft, export.AlignLeft, export.AlignRight},
	}
	if cf.Method == CashFlowIndirect {
		t.Rows = append(t.Rows, []string{"Operating", "", "Net Income", amt(cf.NetIncome)})
	}
	appendLines := func(activity string, lines []StatementLine) {
		for _, l := range lines {
			t.Rows = append(t.Rows, []string{activity, l.Number, l.Name, amt(l.Amount)})
		}
	}
	appendLines("Operating", cf.Operating)
	appendLines("Investing", cf.Investing)
	appendLines("Financing", cf.Financing)
	t.Rows = append(t.Rows,
		[]string{"", "", "", ""},
		[]string{"Totals", "", "Net Operating", amt(cf.NetOperating)},
		[]string{"Totals", "", "Net Investing", amt(cf.NetInvesting)},
		[]string{"Totals", "", "Net Financing", amt(cf.NetFinancing)},
		[]string{"Totals", "", "Net Change in Cash", amt(cf.NetChange)},
		[]string{"Totals", "", "Cash at Beginning", amt(cf.CashAtStart)},
		[]string{"Totals", "", "Cash at End", amt(cf.CashAtEnd)},
		[]string{"Totals", "", "Reconciled", strconv.FormatBool(cf.Reconciled)},
	)
	return t
}

// Table flattens the statement of changes in equity for download.
func (es *EquityStatement) Table() export.Table {
	t := export.Table{
		Title: "Statement of Changes in Equity",
		Notes: []string{
			fmt.Sprintf("Company: %s | Currency: %s | Fiscal year: %d", es.CompanyName, es.Currency, es.Year),
		},
		Columns: []string{"Account", "Name", "Opening", "Movement", "Closing"},
		Aligns:  []string{export.AlignLeft, export.AlignLeft, export.AlignRight, export.AlignRight, export.AlignRight},
	}
	for _, row := range es.Rows {
		t.Rows = append(t.Rows, []string{row.Number, row.Name, amt(row.Opening), amt(row.Movement), amt(row.Closing)})
	}
	t.Rows = append(t.Rows,
		[]string{"", "", "", "", ""},
		[]string{"", "Net Income", "", amt(es.NetIncome), amt(es.NetIncome)},
		[]string{"Totals", "", amt(es.TotalOpening), "", amt(es.TotalClosing)},
	)
	return t
}

// Table flattens a consolidated statement for download.
func (cs *ConsolidatedStatement) Table(title string) export.Table {
	t := export.Table{
		Title: title,
		Notes: []string{
			fmt.Sprintf("Run: %s | Currency: %s | As of: %s", cs.RunID, cs.Currency, cs.AsOf),
		},
		Columns: []string{"Section", "Account", "Name", "Amount"},
		Aligns:  []string{export.AlignLeft, export.AlignLeft, export.AlignLeft, export.AlignRight},
	}
	for _, sec := range cs.Sections {
		for _, l := range sec.Lines {
			t.Rows = append(t.Rows, []string{sec.Title, l.Number, l.Name, amt(l.Amount)})
		}
		t.Rows = append(t.Rows, []string{sec.Title, "", "Total", amt(sec.Total)})
	}
	t.Rows = append(t.Rows,
		[]string{"", "", "", ""},
		[]string{"Totals", "", "", amt(cs.Total)},
	)
	return t
}
