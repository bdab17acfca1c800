// Package yearend implements the fiscal-year close: rolling net income into
// retained earnings through generated closing entries, and the reversing
// reopen path.
package yearend

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/apperr"
)

// Blocker codes reported by Preview.
const (
	BlockerYearNotOpen      = "YearNotOpen"
	BlockerRetainedEarnings = "RetainedEarningsNotConfigured"
	BlockerUnpostedEntries  = "UnpostedEntries"
	BlockerTrialBalance     = "TrialBalanceNotBalanced"
)

// Blocker is one reason the year cannot close yet.
type Blocker struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Preview is the dry-run view of a close: the income statement totals that
// would roll into retained earnings, plus anything standing in the way.
type Preview struct {
	Year                      int
	NetIncome                 decimal.Decimal
	TotalRevenue              decimal.Decimal
	TotalExpenses             decimal.Decimal
	RetainedEarningsAccountID *uuid.UUID
	Blockers                  []Blocker
}

// CloseResult reports what an executed close produced.
type CloseResult struct {
	ClosingEntryIDs []uuid.UUID
	NetIncome       decimal.Decimal
	PeriodsClosed   int
}

// ReopenResult reports what a reopen produced.
type ReopenResult struct {
	ReversingEntryIDs []uuid.UUID
	PeriodsReopened   int
}

var (
	ErrRetainedEarnings = apperr.Rule("RetainedEarningsNotConfiguredError", "company has no retained-earnings account configured")
	ErrTrialBalance     = apperr.Rule("TrialBalanceNotBalancedError", "trial balance debits and credits do not agree")
	ErrUnpostedEntries  = apperr.Rule("UnpostedJournalEntriesError", "the year still has journal entries outside Posted status")
	ErrNoClosingEntries = apperr.Rule("NoClosingEntriesError", "the year has no closing entries to reverse")
)
