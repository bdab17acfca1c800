package accounts

// Template identifies a bootstrap chart of accounts.
type Template string

const (
	TemplateGeneralBusiness Template = "GeneralBusiness"
	TemplateManufacturing   Template = "Manufacturing"
	TemplateServiceBusiness Template = "ServiceBusiness"
	TemplateHoldingCompany  Template = "HoldingCompany"
)

// TemplateAccount is one row of a bootstrap chart. Parent references are by
// number so templates stay declarative.
type TemplateAccount struct {
	Number             string
	Name               string
	Type               AccountType
	Category           string
	ParentNumber       string
	IsPostable         bool
	CashFlow           CashFlowCategory
	IsIntercompany     bool
	IsRetainedEarnings bool
}

// Templates lists every available bootstrap chart.
func Templates() []Template {
	return []Template{TemplateGeneralBusiness, TemplateManufacturing, TemplateServiceBusiness, TemplateHoldingCompany}
}

// TemplateAccounts returns the rows of a template in create order (parents
// before children).
func TemplateAccounts(t Template) ([]TemplateAccount, error) {
	switch t {
	case TemplateGeneralBusiness:
		return generalBusiness, nil
	case TemplateManufacturing:
		return manufacturing, nil
	case TemplateServiceBusiness:
		return serviceBusiness, nil
	case TemplateHoldingCompany:
		return holdingCompany, nil
	default:
		return nil, ErrTemplateUnknown
	}
}

func equityBlock() []TemplateAccount {
	return []TemplateAccount{
		{Number: "3000", Name: "Equity", Type: TypeEquity, Category: "Equity"},
		{Number: "3100", Name: "Common Stock", Type: TypeEquity, Category: "Contributed Capital", ParentNumber: "3000", IsPostable: true, CashFlow: CashFlowFinancing},
		{Number: "3200", Name: "Additional Paid-In Capital", Type: TypeEquity, Category: "Contributed Capital", ParentNumber: "3000", IsPostable: true, CashFlow: CashFlowFinancing},
		{Number: "3900", Name: "Retained Earnings", Type: TypeEquity, Category: "Retained Earnings", ParentNumber: "3000", IsPostable: true, IsRetainedEarnings: true},
		{Number: "3950", Name: "Accumulated Other Comprehensive Income", Type: TypeEquity, Category: "AccumulatedOCI", ParentNumber: "3000", IsPostable: true},
		{Number: "3960", Name: "Non-Controlling Interest", Type: TypeEquity, Category: "NonControllingInterest", ParentNumber: "3000", IsPostable: true},
	}
}

func buildTemplate(blocks ...[]TemplateAccount) []TemplateAccount {
	var out []TemplateAccount
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}

var generalBusiness = buildTemplate([]TemplateAccount{
	{Number: "1000", Name: "Assets", Type: TypeAsset, Category: "Assets"},
	{Number: "1100", Name: "Cash and Cash Equivalents", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1200", Name: "Accounts Receivable", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1250", Name: "Intercompany Receivable", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, IsIntercompany: true},
	{Number: "1300", Name: "Inventory", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1400", Name: "Prepaid Expenses", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1500", Name: "Property, Plant and Equipment", Type: TypeAsset, Category: "Fixed Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowInvesting},
	{Number: "1600", Name: "Accumulated Depreciation", Type: TypeAsset, Category: "Fixed Assets", ParentNumber: "1000", IsPostable: true},
	{Number: "2000", Name: "Liabilities", Type: TypeLiability, Category: "Liabilities"},
	{Number: "2100", Name: "Accounts Payable", Type: TypeLiability, Category: "Current Liabilities", ParentNumber: "2000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "2150", Name: "Intercompany Payable", Type: TypeLiability, Category: "Current Liabilities", ParentNumber: "2000", IsPostable: true, IsIntercompany: true},
	{Number: "2200", Name: "Accrued Liabilities", Type: TypeLiability, Category: "Current Liabilities", ParentNumber: "2000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "2500", Name: "Long-Term Debt", Type: TypeLiability, Category: "Long-Term Liabilities", ParentNumber: "2000", IsPostable: true, CashFlow: CashFlowFinancing},
}, equityBlock(), []TemplateAccount{
	{Number: "4000", Name: "Revenue", Type: TypeRevenue, Category: "Operating Revenue", IsPostable: true},
	{Number: "4500", Name: "Intercompany Revenue", Type: TypeRevenue, Category: "Intercompany", IsPostable: true, IsIntercompany: true},
	{Number: "5000", Name: "Cost of Goods Sold", Type: TypeExpense, Category: "Cost of Sales", IsPostable: true},
	{Number: "6000", Name: "Operating Expenses", Type: TypeExpense, Category: "Operating Expenses", IsPostable: true},
	{Number: "6500", Name: "Intercompany Expense", Type: TypeExpense, Category: "Intercompany", IsPostable: true, IsIntercompany: true},
	{Number: "7000", Name: "Other Income", Type: TypeRevenue, Category: "Other Income", IsPostable: true},
	{Number: "7500", Name: "Interest Expense", Type: TypeExpense, Category: "Other Expenses", IsPostable: true},
})

var manufacturing = buildTemplate([]TemplateAccount{
	{Number: "1000", Name: "Assets", Type: TypeAsset, Category: "Assets"},
	{Number: "1100", Name: "Cash and Cash Equivalents", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1200", Name: "Accounts Receivable", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1250", Name: "Intercompany Receivable", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, IsIntercompany: true},
	{Number: "1310", Name: "Raw Materials Inventory", Type: TypeAsset, Category: "Inventory", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1320", Name: "Work in Process", Type: TypeAsset, Category: "Inventory", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1330", Name: "Finished Goods", Type: TypeAsset, Category: "Inventory", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1500", Name: "Machinery and Equipment", Type: TypeAsset, Category: "Fixed Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowInvesting},
	{Number: "2000", Name: "Liabilities", Type: TypeLiability, Category: "Liabilities"},
	{Number: "2100", Name: "Accounts Payable", Type: TypeLiability, Category: "Current Liabilities", ParentNumber: "2000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "2150", Name: "Intercompany Payable", Type: TypeLiability, Category: "Current Liabilities", ParentNumber: "2000", IsPostable: true, IsIntercompany: true},
	{Number: "2500", Name: "Equipment Financing", Type: TypeLiability, Category: "Long-Term Liabilities", ParentNumber: "2000", IsPostable: true, CashFlow: CashFlowFinancing},
}, equityBlock(), []TemplateAccount{
	{Number: "4000", Name: "Product Revenue", Type: TypeRevenue, Category: "Operating Revenue", IsPostable: true},
	{Number: "4500", Name: "Intercompany Revenue", Type: TypeRevenue, Category: "Intercompany", IsPostable: true, IsIntercompany: true},
	{Number: "5100", Name: "Direct Materials", Type: TypeExpense, Category: "Cost of Sales", IsPostable: true},
	{Number: "5200", Name: "Direct Labor", Type: TypeExpense, Category: "Cost of Sales", IsPostable: true},
	{Number: "5300", Name: "Manufacturing Overhead", Type: TypeExpense, Category: "Cost of Sales", IsPostable: true},
	{Number: "6000", Name: "Operating Expenses", Type: TypeExpense, Category: "Operating Expenses", IsPostable: true},
	{Number: "6500", Name: "Intercompany Expense", Type: TypeExpense, Category: "Intercompany", IsPostable: true, IsIntercompany: true},
})

var serviceBusiness = buildTemplate([]TemplateAccount{
	{Number: "1000", Name: "Assets", Type: TypeAsset, Category: "Assets"},
	{Number: "1100", Name: "Cash and Cash Equivalents", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1200", Name: "Accounts Receivable", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1250", Name: "Intercompany Receivable", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, IsIntercompany: true},
	{Number: "1400", Name: "Unbilled Services", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "2000", Name: "Liabilities", Type: TypeLiability, Category: "Liabilities"},
	{Number: "2100", Name: "Accounts Payable", Type: TypeLiability, Category: "Current Liabilities", ParentNumber: "2000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "2150", Name: "Intercompany Payable", Type: TypeLiability, Category: "Current Liabilities", ParentNumber: "2000", IsPostable: true, IsIntercompany: true},
	{Number: "2300", Name: "Deferred Revenue", Type: TypeLiability, Category: "Current Liabilities", ParentNumber: "2000", IsPostable: true, CashFlow: CashFlowOperating},
}, equityBlock(), []TemplateAccount{
	{Number: "4000", Name: "Service Revenue", Type: TypeRevenue, Category: "Operating Revenue", IsPostable: true},
	{Number: "4500", Name: "Intercompany Revenue", Type: TypeRevenue, Category: "Intercompany", IsPostable: true, IsIntercompany: true},
	{Number: "6100", Name: "Salaries and Benefits", Type: TypeExpense, Category: "Operating Expenses", IsPostable: true},
	{Number: "6200", Name: "Professional Fees", Type: TypeExpense, Category: "Operating Expenses", IsPostable: true},
	{Number: "6500", Name: "Intercompany Expense", Type: TypeExpense, Category: "Intercompany", IsPostable: true, IsIntercompany: true},
})

var holdingCompany = buildTemplate([]TemplateAccount{
	{Number: "1000", Name: "Assets", Type: TypeAsset, Category: "Assets"},
	{Number: "1100", Name: "Cash and Cash Equivalents", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowOperating},
	{Number: "1250", Name: "Intercompany Receivable", Type: TypeAsset, Category: "Current Assets", ParentNumber: "1000", IsPostable: true, IsIntercompany: true},
	{Number: "1800", Name: "Investment in Subsidiaries", Type: TypeAsset, Category: "Investments", ParentNumber: "1000", IsPostable: true, CashFlow: CashFlowInvesting, IsIntercompany: true},
	{Number: "1850", Name: "Goodwill", Type: TypeAsset, Category: "Intangible Assets", ParentNumber: "1000", IsPostable: true},
	{Number: "2000", Name: "Liabilities", Type: TypeLiability, Category: "Liabilities"},
	{Number: "2150", Name: "Intercompany Payable", Type: TypeLiability, Category: "Current Liabilities", ParentNumber: "2000", IsPostable: true, IsIntercompany: true},
	{Number: "2500", Name: "Long-Term Debt", Type: TypeLiability, Category: "Long-Term Liabilities", ParentNumber: "2000", IsPostable: true, CashFlow: CashFlowFinancing},
}, equityBlock(), []TemplateAccount{
	{Number: "4100", Name: "Dividend Income", Type: TypeRevenue, Category: "Investment Income", IsPostable: true, IsIntercompany: true},
	{Number: "4200", Name: "Equity Method Income", Type: TypeRevenue, Category: "Investment Income", IsPostable: true},
	{Number: "6000", Name: "Administrative Expenses", Type: TypeExpense, Category: "Operating Expenses", IsPostable: true},
	{Number: "7500", Name: "Interest Expense", Type: TypeExpense, Category: "Other Expenses", IsPostable: true},
})
