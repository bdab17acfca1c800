// Package reports renders financial statements as pure functions of posted
// ledger state: trial balance, balance sheet, income statement, cash flow and
// statement of equity, plus consolidated variants read from a completed
// consolidation run.
package reports

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/accounts"
	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/shared"
)

// TBRow is one account on a company trial balance. Exactly one of Debit and
// Credit is non-zero unless the account nets to zero.
type TBRow struct {
	AccountID uuid.UUID            `json:"accountId"`
	Number    string               `json:"accountNumber"`
	Name      string               `json:"accountName"`
	Type      accounts.AccountType `json:"type"`
	Category  string               `json:"category"`
	Debit     decimal.Decimal      `json:"debit"`
	Credit    decimal.Decimal      `json:"credit"`
}

// TrialBalance lists every account with activity up to the as-of date.
type TrialBalance struct {
	CompanyID    uuid.UUID       `json:"companyId"`
	CompanyName  string          `json:"companyName"`
	Currency     string          `json:"currency"`
	AsOf         shared.Date     `json:"asOfDate"`
	Rows         []TBRow         `json:"rows"`
	TotalDebits  decimal.Decimal `json:"totalDebits"`
	TotalCredits decimal.Decimal `json:"totalCredits"`
}

// Balanced reports whether total debits equal total credits.
func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebits.Equal(tb.TotalCredits)
}

// StatementLine is one account row on a statement, in the section's natural
// sign (assets debit-positive, liabilities and equity credit-positive).
type StatementLine struct {
	Number string          `json:"accountNumber"`
	Name   string          `json:"accountName"`
	Amount decimal.Decimal `json:"amount"`
}

// StatementSection groups statement lines under a category heading.
type StatementSection struct {
	Title string          `json:"title"`
	Lines []StatementLine `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

// BalanceSheet is the classified statement of financial position at a date.
// Current-period earnings appear as a synthetic equity line so the statement
// balances before year-end close.
type BalanceSheet struct {
	CompanyID        uuid.UUID          `json:"companyId"`
	CompanyName      string             `json:"companyName"`
	Currency         string             `json:"currency"`
	AsOf             shared.Date        `json:"asOfDate"`
	Assets           []StatementSection `json:"assets"`
	Liabilities      []StatementSection `json:"liabilities"`
	Equity           []StatementSection `json:"equity"`
	TotalAssets      decimal.Decimal    `json:"totalAssets"`
	TotalLiabilities decimal.Decimal    `json:"totalLiabilities"`
	TotalEquity      decimal.Decimal    `json:"totalEquity"`
}

// Balanced reports whether assets equal liabilities plus equity.
func (bs BalanceSheet) Balanced() bool {
	return bs.TotalAssets.Equal(bs.TotalLiabilities.Add(bs.TotalEquity))
}

// ComparativeLine carries the current and prior period amount for one account.
type ComparativeLine struct {
	Number string          `json:"accountNumber"`
	Name   string          `json:"accountName"`
	Amount decimal.Decimal `json:"amount"`
	Prior  decimal.Decimal `json:"priorAmount"`
}

// IncomeStatement is the period profit-and-loss, optionally comparative
// against the immediately preceding regular period.
type IncomeStatement struct {
	CompanyID     uuid.UUID         `json:"companyId"`
	CompanyName   string            `json:"companyName"`
	Currency      string            `json:"currency"`
	Year          int               `json:"year"`
	Period        int               `json:"period"`
	Comparative   bool              `json:"comparative"`
	PriorYear     int               `json:"priorYear,omitempty"`
	PriorPeriod   int               `json:"priorPeriod,omitempty"`
	Revenue       []ComparativeLine `json:"revenue"`
	Expenses      []ComparativeLine `json:"expenses"`
	TotalRevenue  decimal.Decimal   `json:"totalRevenue"`
	TotalExpenses decimal.Decimal   `json:"totalExpenses"`
	NetIncome     decimal.Decimal   `json:"netIncome"`
	PriorRevenue  decimal.Decimal   `json:"priorTotalRevenue"`
	PriorExpenses decimal.Decimal   `json:"priorTotalExpenses"`
	PriorNet      decimal.Decimal   `json:"priorNetIncome"`
}

// CashFlowMethod selects the presentation of operating activities.
type CashFlowMethod string

const (
	CashFlowDirect   CashFlowMethod = "Direct"
	CashFlowIndirect CashFlowMethod = "Indirect"
)

// ValidCashFlowMethod reports whether m is a known method.
func ValidCashFlowMethod(m CashFlowMethod) bool {
	return m == CashFlowDirect || m == CashFlowIndirect
}

// CashFlowStatement classifies the period's cash movements. The indirect
// presentation starts from net income and adjusts working-capital movements;
// the direct presentation lists operating receipts and payments.
type CashFlowStatement struct {
	CompanyID    uuid.UUID       `json:"companyId"`
	CompanyName  string          `json:"companyName"`
	Currency     string          `json:"currency"`
	Year         int             `json:"year"`
	Period       int             `json:"period"`
	Method       CashFlowMethod  `json:"method"`
	NetIncome    decimal.Decimal `json:"netIncome,omitempty"`
	Operating    []StatementLine `json:"operatingActivities"`
	Investing    []StatementLine `json:"investingActivities"`
	Financing    []StatementLine `json:"financingActivities"`
	NetOperating decimal.Decimal `json:"netOperating"`
	NetInvesting decimal.Decimal `json:"netInvesting"`
	NetFinancing decimal.Decimal `json:"netFinancing"`
	NetChange    decimal.Decimal `json:"netChangeInCash"`
	CashAtStart  decimal.Decimal `json:"cashAtBeginning"`
	CashAtEnd    decimal.Decimal `json:"cashAtEnd"`
	Reconciled   bool            `json:"reconciled"`
}

// EquityRow tracks one equity account across the fiscal year.
type EquityRow struct {
	Number   string          `json:"accountNumber"`
	Name     string          `json:"accountName"`
	Opening  decimal.Decimal `json:"openingBalance"`
	Movement decimal.Decimal `json:"movement"`
	Closing  decimal.Decimal `json:"closingBalance"`
}

// EquityStatement is the statement of changes in equity for one fiscal year.
type EquityStatement struct {
	CompanyID    uuid.UUID       `json:"companyId"`
	CompanyName  string          `json:"companyName"`
	Currency     string          `json:"currency"`
	Year         int             `json:"year"`
	Rows         []EquityRow     `json:"rows"`
	NetIncome    decimal.Decimal `json:"netIncome"`
	TotalOpening decimal.Decimal `json:"totalOpening"`
	TotalClosing decimal.Decimal `json:"totalClosing"`
}

// ConsolidatedStatement is a statement derived from a completed run's
// consolidated trial balance, one section per account type.
type ConsolidatedStatement struct {
	RunID    uuid.UUID          `json:"runId"`
	GroupID  uuid.UUID          `json:"groupId"`
	Currency string             `json:"currency"`
	AsOf     shared.Date        `json:"asOfDate"`
	Sections []StatementSection `json:"sections"`
	Total    decimal.Decimal    `json:"total"`
}

var (
	ErrBadMethod   = apperr.Validation("InvalidCashFlowMethodError", "cash flow method must be Direct or Indirect")
	ErrBadPeriod   = apperr.Validation("InvalidReportPeriodError", "period must identify an existing fiscal period")
	ErrBadAsOfDate = apperr.Validation("InvalidReportDateError", "asOfDate is required as YYYY-MM-DD")
	ErrBadFormat   = apperr.Validation("InvalidExportFormatError", "format must be one of json, csv, xlsx, pdf")
)
