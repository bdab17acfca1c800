package fiscal

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/platform/httpx"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Handler wires HTTP endpoints for the fiscal calendar. Routes are mounted
// under a company scope.
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

// MountYearRoutes registers fiscal year routes. The router carries a
// {companyID} path parameter.
func (h *Handler) MountYearRoutes(r chi.Router) {
	r.Get("/", h.listYears)
	r.Post("/", h.createYear)
	r.Get("/{yearID}", h.getYear)
	r.Get("/{yearID}/periods", h.listPeriods)
}

// MountPeriodRoutes registers fiscal period routes. The router carries a
// {companyID} path parameter.
func (h *Handler) MountPeriodRoutes(r chi.Router) {
	r.Get("/resolve", h.resolve)
	r.Get("/{periodID}", h.getPeriod)
	r.Post("/{periodID}/close", h.closePeriod)
	r.Post("/{periodID}/open", h.openPeriod)
	r.Get("/{periodID}/reopen-history", h.reopenHistory)
}

type yearDTO struct {
	ID        string      `json:"id"`
	CompanyID string      `json:"companyId"`
	Year      int         `json:"year"`
	StartDate shared.Date `json:"startDate"`
	EndDate   shared.Date `json:"endDate"`
	Status    YearStatus  `json:"status"`
}

func toYearDTO(y FiscalYear) yearDTO {
	return yearDTO{
		ID:        y.ID.String(),
		CompanyID: y.CompanyID.String(),
		Year:      y.Year,
		StartDate: y.StartDate,
		EndDate:   y.EndDate,
		Status:    y.Status,
	}
}

type periodDTO struct {
	ID           string             `json:"id"`
	FiscalYearID string             `json:"fiscalYearId"`
	Number       int                `json:"periodNumber"`
	Name         string             `json:"name"`
	StartDate    shared.Date        `json:"startDate"`
	EndDate      shared.Date        `json:"endDate"`
	IsAdjustment bool               `json:"isAdjustment"`
	Status       PeriodStatus       `json:"status"`
	ClosedBy     *string            `json:"closedBy,omitempty"`
	ClosedAt     *httpx.EpochMillis `json:"closedAt,omitempty"`
}

func toPeriodDTO(p FiscalPeriod) periodDTO {
	dto := periodDTO{
		ID:           p.ID.String(),
		FiscalYearID: p.FiscalYearID.String(),
		Number:       p.Number,
		Name:         p.Name,
		StartDate:    p.StartDate,
		EndDate:      p.EndDate,
		IsAdjustment: p.IsAdjustment,
		Status:       p.Status,
	}
	if p.ClosedBy != nil {
		id := p.ClosedBy.String()
		dto.ClosedBy = &id
	}
	if p.ClosedAt != nil {
		at := httpx.Millis(*p.ClosedAt)
		dto.ClosedAt = &at
	}
	return dto
}

func (h *Handler) listYears(w http.ResponseWriter, r *http.Request) {
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	years, err := h.service.ListYears(r.Context(), companyID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]yearDTO, 0, len(years))
	for _, y := range years {
		out = append(out, toYearDTO(y))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"fiscalYears": out})
}

func (h *Handler) createYear(w http.ResponseWriter, r *http.Request) {
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in CreateYearInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	y, periods, err := h.service.CreateYear(r.Context(), actor.OrgID, companyID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]periodDTO, 0, len(periods))
	for _, p := range periods {
		out = append(out, toPeriodDTO(p))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"fiscalYear": toYearDTO(*y), "periods": out})
}

func (h *Handler) getYear(w http.ResponseWriter, r *http.Request) {
	companyID, yearID, err := h.ids(r, "yearID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	y, err := h.service.GetYear(r.Context(), companyID, yearID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toYearDTO(*y))
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	companyID, yearID, err := h.ids(r, "yearID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	periods, err := h.service.ListPeriods(r.Context(), companyID, yearID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]periodDTO, 0, len(periods))
	for _, p := range periods {
		out = append(out, toPeriodDTO(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": out})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	date, err := shared.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		httpx.Error(w, r, apperr.Validation("HttpApiDecodeError", "date must be YYYY-MM-DD"))
		return
	}
	p, err := h.service.ResolveForDate(r.Context(), companyID, date)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodDTO(*p))
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	companyID, periodID, err := h.ids(r, "periodID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	p, err := h.service.GetPeriod(r.Context(), companyID, periodID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodDTO(*p))
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	companyID, periodID, err := h.ids(r, "periodID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	p, err := h.service.ClosePeriod(r.Context(), actor.OrgID, companyID, periodID, actor.UserID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodDTO(*p))
}

func (h *Handler) openPeriod(w http.ResponseWriter, r *http.Request) {
	companyID, periodID, err := h.ids(r, "periodID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in struct {
		Reason string `json:"reason" validate:"required"`
	}
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	p, err := h.service.OpenPeriod(r.Context(), actor.OrgID, companyID, periodID, actor.UserID, in.Reason)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodDTO(*p))
}

func (h *Handler) reopenHistory(w http.ResponseWriter, r *http.Request) {
	companyID, periodID, err := h.ids(r, "periodID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	history, err := h.service.ReopenHistory(r.Context(), companyID, periodID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	type eventDTO struct {
		ID         string            `json:"id"`
		ReopenedBy string            `json:"reopenedBy"`
		ReopenedAt httpx.EpochMillis `json:"reopenedAt"`
		Reason     string            `json:"reason"`
	}
	out := make([]eventDTO, 0, len(history))
	for _, e := range history {
		out = append(out, eventDTO{
			ID:         e.ID.String(),
			ReopenedBy: e.ReopenedBy.String(),
			ReopenedAt: httpx.Millis(e.ReopenedAt),
			Reason:     e.Reason,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": out})
}

func (h *Handler) ids(r *http.Request, name string) (companyID, id uuid.UUID, err error) {
	companyID, err = httpx.UUIDParam(r, "companyID")
	if err != nil {
		return
	}
	id, err = httpx.UUIDParam(r, name)
	return
}
