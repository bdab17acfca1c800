package fx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Handler wires HTTP endpoints for exchange-rate management and lookup.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers exchange-rate routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/bulk", h.bulkCreate)
	r.Get("/lookup", h.lookup)
	r.Delete("/{rateID}", h.remove)
}

type rateDTO struct {
	ID            string            `json:"id"`
	FromCurrency  string            `json:"fromCurrency"`
	ToCurrency    string            `json:"toCurrency"`
	EffectiveDate shared.Date       `json:"effectiveDate"`
	Type          RateType          `json:"rateType"`
	Rate          decimal.Decimal   `json:"rate"`
	Source        string            `json:"source,omitempty"`
	CreatedAt     httpx.EpochMillis `json:"createdAt"`
}

func toDTO(r ExchangeRate) rateDTO {
	return rateDTO{
		ID:            r.ID.String(),
		FromCurrency:  r.FromCurrency,
		ToCurrency:    r.ToCurrency,
		EffectiveDate: r.EffectiveDate,
		Type:          r.Type,
		Rate:          r.Rate,
		Source:        r.Source,
		CreatedAt:     httpx.Millis(r.CreatedAt),
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in CreateRateInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	rate, err := h.service.Create(r.Context(), actor.OrgID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDTO(*rate))
}

func (h *Handler) bulkCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in struct {
		Rates []CreateRateInput `json:"rates" validate:"required,min=1,dive"`
	}
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	rates, err := h.service.BulkCreate(r.Context(), actor.OrgID, in.Rates)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]rateDTO, 0, len(rates))
	for _, rate := range rates {
		out = append(out, toDTO(rate))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"rates": out})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	page := shared.NormalizePage(httpx.IntQuery(r, "limit", 50), httpx.IntQuery(r, "offset", 0))
	rates, err := h.service.List(r.Context(), actor.OrgID, page)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]rateDTO, 0, len(rates))
	for _, rate := range rates {
		out = append(out, toDTO(rate))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rates": out})
}

// lookup answers point queries: mode=exact requires date, mode=closest walks
// back from date, mode=latest walks back from today.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	rateType := RateType(q.Get("type"))
	if rateType == "" {
		rateType = RateSpot
	}
	if !ValidType(rateType) {
		httpx.Error(w, r, ErrInvalidType)
		return
	}

	mode := q.Get("mode")
	if mode == "" {
		mode = "closest"
	}

	var (
		rate *ExchangeRate
		err  error
	)
	switch mode {
	case "latest":
		rate, err = h.service.GetLatest(r.Context(), actor.OrgID, from, to, rateType)
	case "exact", "closest":
		var date shared.Date
		date, err = shared.ParseDate(q.Get("date"))
		if err != nil {
			httpx.Error(w, r, ErrLookupDate)
			return
		}
		if mode == "exact" {
			rate, err = h.service.GetForDate(r.Context(), actor.OrgID, from, to, rateType, date)
		} else {
			rate, err = h.service.GetClosest(r.Context(), actor.OrgID, from, to, rateType, date)
		}
	default:
		httpx.Error(w, r, ErrLookupMode)
		return
	}
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(*rate))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	rateID, err := httpx.UUIDParam(r, "rateID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), actor.OrgID, rateID); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w)
}
