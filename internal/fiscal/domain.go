// Package fiscal manages per-company fiscal years and periods: calendar
// generation, the open/close status machine and period-for-date resolution.
package fiscal

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/shared"
)

// YearStatus is the lifecycle of a fiscal year.
type YearStatus string

const (
	YearOpen   YearStatus = "Open"
	YearClosed YearStatus = "Closed"
)

// PeriodStatus is the lifecycle of a fiscal period.
type PeriodStatus string

const (
	PeriodOpen   PeriodStatus = "Open"
	PeriodClosed PeriodStatus = "Closed"
)

// AdjustmentPeriod is the reserved period number for year-end adjustments.
const AdjustmentPeriod = 13

// FiscalYear is a company's accounting year. Date ranges of different years
// never overlap.
type FiscalYear struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Year      int
	StartDate shared.Date
	EndDate   shared.Date
	Status    YearStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FiscalPeriod is one posting window inside a fiscal year. The adjustment
// period shares the year-end date and is only ever addressed explicitly.
type FiscalPeriod struct {
	ID           uuid.UUID
	FiscalYearID uuid.UUID
	CompanyID    uuid.UUID
	Number       int
	Name         string
	StartDate    shared.Date
	EndDate      shared.Date
	IsAdjustment bool
	Status       PeriodStatus
	ClosedBy     *uuid.UUID
	ClosedAt     *time.Time
}

// ReopenEvent is one append-only entry in a period's reopen history.
type ReopenEvent struct {
	ID         uuid.UUID
	PeriodID   uuid.UUID
	ReopenedBy uuid.UUID
	ReopenedAt time.Time
	Reason     string
}

// PeriodRef addresses a period as (year, period number).
type PeriodRef struct {
	Year   int `json:"year" validate:"required"`
	Period int `json:"period" validate:"required,min=1,max=13"`
}

var (
	ErrYearNotFound       = apperr.NotFound("FiscalYearNotFoundError", "fiscal year not found")
	ErrYearExists         = apperr.Conflict("FiscalYearAlreadyExistsError", "a fiscal year with this number already exists for the company")
	ErrYearOverlap        = apperr.Rule("FiscalYearOverlapError", "fiscal year date range overlaps an existing year")
	ErrYearTransition     = apperr.Rule("InvalidYearStatusTransitionError", "fiscal year status transition is not legal")
	ErrPeriodNotFound     = apperr.NotFound("FiscalPeriodNotFoundError", "fiscal period not found")
	ErrPeriodNotFoundDate = apperr.NotFound("FiscalPeriodNotFoundForDateError", "no fiscal period contains the date")
	ErrPeriodClosed       = apperr.Rule("FiscalPeriodClosedError", "fiscal period is closed")
	ErrPeriodStatus       = apperr.Conflict("FiscalPeriodStatusError", "fiscal period is not in the required status")
	ErrBadStartDate       = apperr.Validation("InvalidFiscalYearStartError", "startDate is required")
)

// CreateYearInput carries a new fiscal year.
type CreateYearInput struct {
	Year                 int         `json:"year" validate:"required,min=1900,max=2200"`
	StartDate            shared.Date `json:"startDate"`
	WithAdjustmentPeriod bool        `json:"withAdjustmentPeriod"`
}

// Validate applies the rules struct tags cannot express.
func (in CreateYearInput) Validate() error {
	if in.StartDate.IsZero() {
		return ErrBadStartDate
	}
	return nil
}

// SynthesizePeriods builds the twelve monthly windows (plus an optional
// adjustment period) covering a year starting at start.
func SynthesizePeriods(yearID, companyID uuid.UUID, year int, start shared.Date, withAdjustment bool) []FiscalPeriod {
	periods := make([]FiscalPeriod, 0, 13)
	cursor := start
	for n := 1; n <= 12; n++ {
		end := cursor.AddMonths(1).AddDays(-1)
		periods = append(periods, FiscalPeriod{
			ID:           uuid.New(),
			FiscalYearID: yearID,
			CompanyID:    companyID,
			Number:       n,
			Name:         cursor.Time().Format("Jan 2006"),
			StartDate:    cursor,
			EndDate:      end,
			Status:       PeriodOpen,
		})
		cursor = end.AddDays(1)
	}
	if withAdjustment {
		yearEnd := periods[11].EndDate
		periods = append(periods, FiscalPeriod{
			ID:           uuid.New(),
			FiscalYearID: yearID,
			CompanyID:    companyID,
			Number:       AdjustmentPeriod,
			Name:         "FY" + strconv.Itoa(year) + " Adjustment",
			StartDate:    yearEnd,
			EndDate:      yearEnd,
			IsAdjustment: true,
			Status:       PeriodOpen,
		})
	}
	return periods
}
