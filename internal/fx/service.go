package fx

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/shared"
)

// Service owns rate lookup semantics: exact, closest-at-or-before, latest,
// and the period average/closing fallbacks used by translation.
type Service struct {
	logger *slog.Logger
	repo   Repository
	cache  *Cache
	audit  shared.AuditSink
	now    func() time.Time
}

// NewService wires the rate store.
func NewService(logger *slog.Logger, repo Repository, cache *Cache, audit shared.AuditSink) *Service {
	return &Service{
		logger: logger,
		repo:   repo,
		cache:  cache,
		audit:  audit,
		now:    time.Now,
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates and stores one rate.
func (s *Service) Create(ctx context.Context, orgID uuid.UUID, in CreateRateInput) (*ExchangeRate, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	rate := ExchangeRate{
		ID:            uuid.New(),
		OrgID:         orgID,
		FromCurrency:  in.FromCurrency,
		ToCurrency:    in.ToCurrency,
		EffectiveDate: in.EffectiveDate,
		Type:          in.Type,
		Rate:          in.Rate,
		Source:        in.Source,
		CreatedAt:     s.now(),
	}
	if err := s.repo.Insert(ctx, rate); err != nil {
		return nil, err
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("fx cache bump failed", slog.Any("error", err))
	}
	s.recordAudit(ctx, orgID, "exchange_rate.create", rate.ID.String(), map[string]any{
		"pair": rate.FromCurrency + "/" + rate.ToCurrency,
		"date": rate.EffectiveDate.String(),
		"type": string(rate.Type),
	})
	return &rate, nil
}

// BulkCreate stores every rate or none.
func (s *Service) BulkCreate(ctx context.Context, orgID uuid.UUID, inputs []CreateRateInput) ([]ExchangeRate, error) {
	rates := make([]ExchangeRate, 0, len(inputs))
	created := s.now()
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		rates = append(rates, ExchangeRate{
			ID:            uuid.New(),
			OrgID:         orgID,
			FromCurrency:  in.FromCurrency,
			ToCurrency:    in.ToCurrency,
			EffectiveDate: in.EffectiveDate,
			Type:          in.Type,
			Rate:          in.Rate,
			Source:        in.Source,
			CreatedAt:     created,
		})
	}
	if err := s.repo.InsertBatch(ctx, rates); err != nil {
		return nil, err
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("fx cache bump failed", slog.Any("error", err))
	}
	s.recordAudit(ctx, orgID, "exchange_rate.bulk_create", "", map[string]any{"count": len(rates)})
	return rates, nil
}

// Delete removes a stored rate. Posted journal lines keep their captured rate,
// so removing a quote never rewrites history.
func (s *Service) Delete(ctx context.Context, orgID, rateID uuid.UUID) error {
	if err := s.repo.Delete(ctx, orgID, rateID); err != nil {
		return err
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("fx cache bump failed", slog.Any("error", err))
	}
	s.recordAudit(ctx, orgID, "exchange_rate.delete", rateID.String(), nil)
	return nil
}

// List returns rates for the organization, newest first.
func (s *Service) List(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]ExchangeRate, error) {
	return s.repo.List(ctx, orgID, page)
}

// GetForDate returns the rate with an exact effective-date match.
func (s *Service) GetForDate(ctx context.Context, orgID uuid.UUID, from, to string, t RateType, date shared.Date) (*ExchangeRate, error) {
	return s.repo.GetForDate(ctx, orgID, from, to, t, date)
}

// GetClosest returns the rate effective at or before date, preferring the most
// recent effective date and breaking ties by creation time.
func (s *Service) GetClosest(ctx context.Context, orgID uuid.UUID, from, to string, t RateType, date shared.Date) (*ExchangeRate, error) {
	keyBase := keyClosest(orgID.String(), from, to, t, date.String())
	key, err := s.cache.BuildKey(ctx, keyBase)
	if err != nil {
		s.logger.Warn("fx cache key failed", slog.Any("error", err))
		return s.repo.GetClosest(ctx, orgID, from, to, t, date)
	}
	var rate ExchangeRate
	loader := func(ctx context.Context) (any, error) {
		found, err := s.repo.GetClosest(ctx, orgID, from, to, t, date)
		if err != nil {
			return nil, err
		}
		return found, nil
	}
	if err := s.cache.FetchJSON(ctx, key, &rate, loader); err != nil {
		return nil, err
	}
	return &rate, nil
}

// GetLatest returns the rate effective today or most recently before it.
func (s *Service) GetLatest(ctx context.Context, orgID uuid.UUID, from, to string, t RateType) (*ExchangeRate, error) {
	return s.GetClosest(ctx, orgID, from, to, t, shared.DateOf(s.now()))
}

// GetPeriodAverage returns the stored Average rate inside the window, or the
// unweighted mean of Spot rates inside it when no Average was loaded.
func (s *Service) GetPeriodAverage(ctx context.Context, orgID uuid.UUID, from, to string, w Window) (decimal.Decimal, error) {
	averages, err := s.repo.ListWindow(ctx, orgID, from, to, RateAverage, w)
	if err != nil {
		return decimal.Zero, err
	}
	if len(averages) > 0 {
		return pickNewest(averages).Rate, nil
	}
	spots, err := s.repo.ListWindow(ctx, orgID, from, to, RateSpot, w)
	if err != nil {
		return decimal.Zero, err
	}
	if len(spots) == 0 {
		return decimal.Zero, ErrRateNotFound
	}
	sum := decimal.Zero
	for _, r := range spots {
		sum = sum.Add(r.Rate)
	}
	return sum.Div(decimal.NewFromInt(int64(len(spots)))), nil
}

// GetPeriodClosing returns the latest Closing rate at or before the window
// end, falling back to the latest Spot.
func (s *Service) GetPeriodClosing(ctx context.Context, orgID uuid.UUID, from, to string, w Window) (decimal.Decimal, error) {
	closing, err := s.repo.GetClosest(ctx, orgID, from, to, RateClosing, w.End)
	if err == nil {
		return closing.Rate, nil
	}
	if !errors.Is(err, ErrRateNotFound) {
		return decimal.Zero, err
	}
	spot, err := s.repo.GetClosest(ctx, orgID, from, to, RateSpot, w.End)
	if err != nil {
		return decimal.Zero, err
	}
	return spot.Rate, nil
}

func pickNewest(rates []ExchangeRate) ExchangeRate {
	best := rates[0]
	for _, r := range rates[1:] {
		if r.EffectiveDate.After(best.EffectiveDate) ||
			(r.EffectiveDate.Equal(best.EffectiveDate) && r.CreatedAt.After(best.CreatedAt)) {
			best = r
		}
	}
	return best
}

func (s *Service) recordAudit(ctx context.Context, orgID uuid.UUID, action, entityID string, meta map[string]any) {
	actor, ok := shared.ActorFromContext(ctx)
	if !ok {
		return
	}
	rec := shared.AuditRecord{
		OrgID:    orgID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "exchange_rate",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Error("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}
