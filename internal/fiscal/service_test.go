package fiscal

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/shared"
)

type fakeRepo struct {
	years   map[uuid.UUID]FiscalYear
	periods map[uuid.UUID]FiscalPeriod
	reopens []ReopenEvent
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		years:   map[uuid.UUID]FiscalYear{},
		periods: map[uuid.UUID]FiscalPeriod{},
	}
}

func (f *fakeRepo) InsertYearWithPeriods(ctx context.Context, y FiscalYear, periods []FiscalPeriod) error {
	for _, existing := range f.years {
		if existing.CompanyID == y.CompanyID && existing.Year == y.Year {
			return ErrYearExists
		}
	}
	f.years[y.ID] = y
	for _, p := range periods {
		f.periods[p.ID] = p
	}
	return nil
}

func (f *fakeRepo) GetYear(ctx context.Context, companyID, yearID uuid.UUID) (*FiscalYear, error) {
	y, ok := f.years[yearID]
	if !ok || y.CompanyID != companyID {
		return nil, ErrYearNotFound
	}
	return &y, nil
}

func (f *fakeRepo) GetYearByNumber(ctx context.Context, companyID uuid.UUID, year int) (*FiscalYear, error) {
	for _, y := range f.years {
		if y.CompanyID == companyID && y.Year == year {
			return &y, nil
		}
	}
	return nil, ErrYearNotFound
}

func (f *fakeRepo) ListYears(ctx context.Context, companyID uuid.UUID) ([]FiscalYear, error) {
	var out []FiscalYear
	for _, y := range f.years {
		if y.CompanyID == companyID {
			out = append(out, y)
		}
	}
	return out, nil
}

func (f *fakeRepo) CountOverlappingYears(ctx context.Context, companyID uuid.UUID, start, end shared.Date) (int, error) {
	n := 0
	for _, y := range f.years {
		if y.CompanyID != companyID {
			continue
		}
		if !y.StartDate.After(end) && !y.EndDate.Before(start) {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) UpdateYearStatus(ctx context.Context, yearID uuid.UUID, status YearStatus) error {
	y, ok := f.years[yearID]
	if !ok {
		return ErrYearNotFound
	}
	y.Status = status
	f.years[yearID] = y
	return nil
}

func (f *fakeRepo) GetPeriod(ctx context.Context, companyID, periodID uuid.UUID) (*FiscalPeriod, error) {
	p, ok := f.periods[periodID]
	if !ok || p.CompanyID != companyID {
		return nil, ErrPeriodNotFound
	}
	return &p, nil
}

func (f *fakeRepo) GetPeriodByRef(ctx context.Context, companyID uuid.UUID, ref PeriodRef) (*FiscalPeriod, error) {
	for _, p := range f.periods {
		if p.CompanyID != companyID || p.Number != ref.Period {
			continue
		}
		if y, ok := f.years[p.FiscalYearID]; ok && y.Year == ref.Year {
			return &p, nil
		}
	}
	return nil, ErrPeriodNotFound
}

func (f *fakeRepo) ListPeriods(ctx context.Context, yearID uuid.UUID) ([]FiscalPeriod, error) {
	var out []FiscalPeriod
	for _, p := range f.periods {
		if p.FiscalYearID == yearID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRepo) ResolveForDate(ctx context.Context, companyID uuid.UUID, date shared.Date) (*FiscalPeriod, error) {
	for _, p := range f.periods {
		if p.CompanyID == companyID && !p.IsAdjustment && date.Within(p.StartDate, p.EndDate) {
			return &p, nil
		}
	}
	return nil, ErrPeriodNotFoundDate
}

func (f *fakeRepo) UpdatePeriod(ctx context.Context, p FiscalPeriod) error {
	if _, ok := f.periods[p.ID]; !ok {
		return ErrPeriodNotFound
	}
	f.periods[p.ID] = p
	return nil
}

func (f *fakeRepo) AppendReopenEvent(ctx context.Context, e ReopenEvent) error {
	f.reopens = append(f.reopens, e)
	return nil
}

func (f *fakeRepo) ListReopenHistory(ctx context.Context, periodID uuid.UUID) ([]ReopenEvent, error) {
	var out []ReopenEvent
	for _, e := range f.reopens {
		if e.PeriodID == periodID {
			out = append(out, e)
		}
	}
	return out, nil
}

type noopAudit struct{}

func (noopAudit) Record(ctx context.Context, rec shared.AuditRecord) error { return nil }

func testService(repo Repository) *Service {
	return NewService(slog.Default(), repo, noopAudit{}).
		WithNow(func() time.Time { return time.Date(2025, time.July, 1, 12, 0, 0, 0, time.UTC) })
}

func TestCreateYearSynthesizesMonthlyPeriods(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	companyID := uuid.New()

	y, periods, err := svc.CreateYear(context.Background(), uuid.New(), companyID, CreateYearInput{
		Year:                 2025,
		StartDate:            shared.NewDate(2025, 1, 1),
		WithAdjustmentPeriod: true,
	})
	if err != nil {
		t.Fatalf("create year: %v", err)
	}
	if len(periods) != 13 {
		t.Fatalf("expected 13 periods, got %d", len(periods))
	}
	if y.EndDate != shared.NewDate(2025, 12, 31) {
		t.Fatalf("expected year end 2025-12-31, got %s", y.EndDate)
	}
	if periods[0].StartDate != shared.NewDate(2025, 1, 1) || periods[0].EndDate != shared.NewDate(2025, 1, 31) {
		t.Fatalf("period 1 window wrong: %s..%s", periods[0].StartDate, periods[0].EndDate)
	}
	if periods[1].StartDate != shared.NewDate(2025, 2, 1) || periods[1].EndDate != shared.NewDate(2025, 2, 28) {
		t.Fatalf("period 2 window wrong: %s..%s", periods[1].StartDate, periods[1].EndDate)
	}
	adj := periods[12]
	if !adj.IsAdjustment || adj.Number != AdjustmentPeriod {
		t.Fatalf("expected period 13 flagged as adjustment")
	}
	if adj.StartDate != y.EndDate || adj.EndDate != y.EndDate {
		t.Fatalf("adjustment window should collapse to year end, got %s..%s", adj.StartDate, adj.EndDate)
	}
}

func TestCreateYearNonCalendarStart(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)

	y, periods, err := svc.CreateYear(context.Background(), uuid.New(), uuid.New(), CreateYearInput{
		Year:      2025,
		StartDate: shared.NewDate(2025, 4, 1),
	})
	if err != nil {
		t.Fatalf("create year: %v", err)
	}
	if len(periods) != 12 {
		t.Fatalf("expected 12 periods, got %d", len(periods))
	}
	if y.EndDate != shared.NewDate(2026, 3, 31) {
		t.Fatalf("expected year end 2026-03-31, got %s", y.EndDate)
	}
	if periods[11].Name != "Mar 2026" {
		t.Fatalf("expected final period named Mar 2026, got %q", periods[11].Name)
	}
}

func TestCreateYearRejectsOverlap(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	companyID := uuid.New()
	orgID := uuid.New()

	if _, _, err := svc.CreateYear(context.Background(), orgID, companyID, CreateYearInput{
		Year:      2025,
		StartDate: shared.NewDate(2025, 1, 1),
	}); err != nil {
		t.Fatalf("seed year: %v", err)
	}

	_, _, err := svc.CreateYear(context.Background(), orgID, companyID, CreateYearInput{
		Year:      2026,
		StartDate: shared.NewDate(2025, 7, 1),
	})
	if !errors.Is(err, ErrYearOverlap) {
		t.Fatalf("expected FiscalYearOverlapError, got %v", err)
	}
}

func TestResolveForDateSkipsAdjustmentPeriod(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	companyID := uuid.New()

	_, _, err := svc.CreateYear(context.Background(), uuid.New(), companyID, CreateYearInput{
		Year:                 2025,
		StartDate:            shared.NewDate(2025, 1, 1),
		WithAdjustmentPeriod: true,
	})
	if err != nil {
		t.Fatalf("create year: %v", err)
	}

	p, err := svc.ResolveForDate(context.Background(), companyID, shared.NewDate(2025, 12, 31))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.IsAdjustment || p.Number != 12 {
		t.Fatalf("expected regular period 12 on the year-end date, got %d (adjustment=%v)", p.Number, p.IsAdjustment)
	}

	if _, err := svc.ResolveForDate(context.Background(), companyID, shared.NewDate(2026, 1, 15)); !errors.Is(err, ErrPeriodNotFoundDate) {
		t.Fatalf("expected FiscalPeriodNotFoundForDateError, got %v", err)
	}
}

func TestClosePeriodStampsActorAndRejectsDoubleClose(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	companyID := uuid.New()
	orgID := uuid.New()

	_, periods, err := svc.CreateYear(context.Background(), orgID, companyID, CreateYearInput{
		Year:      2025,
		StartDate: shared.NewDate(2025, 1, 1),
	})
	if err != nil {
		t.Fatalf("create year: %v", err)
	}
	target := periods[0]
	actor := uuid.New()

	closed, err := svc.ClosePeriod(context.Background(), orgID, companyID, target.ID, actor)
	if err != nil {
		t.Fatalf("close period: %v", err)
	}
	if closed.Status != PeriodClosed {
		t.Fatalf("expected Closed, got %s", closed.Status)
	}
	if closed.ClosedBy == nil || *closed.ClosedBy != actor || closed.ClosedAt == nil {
		t.Fatalf("closedBy/closedAt not stamped")
	}

	if _, err := svc.ClosePeriod(context.Background(), orgID, companyID, target.ID, actor); !errors.Is(err, ErrPeriodStatus) {
		t.Fatalf("expected FiscalPeriodStatusError on double close, got %v", err)
	}
}

func TestOpenPeriodAppendsReopenHistory(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	companyID := uuid.New()
	orgID := uuid.New()

	_, periods, err := svc.CreateYear(context.Background(), orgID, companyID, CreateYearInput{
		Year:      2025,
		StartDate: shared.NewDate(2025, 1, 1),
	})
	if err != nil {
		t.Fatalf("create year: %v", err)
	}
	target := periods[2]
	actor := uuid.New()

	if _, err := svc.OpenPeriod(context.Background(), orgID, companyID, target.ID, actor, "late invoice"); !errors.Is(err, ErrPeriodStatus) {
		t.Fatalf("expected FiscalPeriodStatusError opening an Open period, got %v", err)
	}

	if _, err := svc.ClosePeriod(context.Background(), orgID, companyID, target.ID, actor); err != nil {
		t.Fatalf("close period: %v", err)
	}
	reopened, err := svc.OpenPeriod(context.Background(), orgID, companyID, target.ID, actor, "late invoice")
	if err != nil {
		t.Fatalf("open period: %v", err)
	}
	if reopened.Status != PeriodOpen || reopened.ClosedBy != nil || reopened.ClosedAt != nil {
		t.Fatalf("reopen should clear close stamp, got %+v", reopened)
	}

	history, err := svc.ReopenHistory(context.Background(), companyID, target.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Reason != "late invoice" || history[0].ReopenedBy != actor {
		t.Fatalf("unexpected reopen history: %+v", history)
	}
}

func TestOpenPeriodBlockedWhileYearClosed(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	companyID := uuid.New()
	orgID := uuid.New()

	y, periods, err := svc.CreateYear(context.Background(), orgID, companyID, CreateYearInput{
		Year:      2025,
		StartDate: shared.NewDate(2025, 1, 1),
	})
	if err != nil {
		t.Fatalf("create year: %v", err)
	}
	actor := uuid.New()
	target := periods[0]
	if _, err := svc.ClosePeriod(context.Background(), orgID, companyID, target.ID, actor); err != nil {
		t.Fatalf("close period: %v", err)
	}
	if err := repo.UpdateYearStatus(context.Background(), y.ID, YearClosed); err != nil {
		t.Fatalf("close year: %v", err)
	}

	if _, err := svc.OpenPeriod(context.Background(), orgID, companyID, target.ID, actor, "oops"); !errors.Is(err, ErrYearTransition) {
		t.Fatalf("expected InvalidYearStatusTransitionError, got %v", err)
	}
}
