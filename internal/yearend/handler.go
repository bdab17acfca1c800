package yearend

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/authz"
	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/platform/httpx"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Handler wires the year-end close REST surface under a company scope.
type Handler struct {
	service    *Service
	authorizer ledger.Authorizer
}

// NewHandler constructs a Handler instance.
func NewHandler(service *Service, authorizer ledger.Authorizer) *Handler {
	return &Handler{service: service, authorizer: authorizer}
}

// MountRoutes registers close routes on a router carrying {companyID}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{year}/preview", h.preview)
	r.Post("/{year}/close", h.close)
	r.Post("/{year}/reopen", h.reopen)
}

func (h *Handler) params(r *http.Request) (companyID uuid.UUID, year int, err error) {
	companyID, err = httpx.UUIDParam(r, "companyID")
	if err != nil {
		return uuid.Nil, 0, err
	}
	year, err = strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		return uuid.Nil, 0, apperr.Validation("HttpApiDecodeError", "year must be an integer")
	}
	return companyID, year, nil
}

func (h *Handler) authorize(r *http.Request, action string, year int) error {
	res := authz.Resource{Type: "fiscal_year", ID: strconv.Itoa(year)}
	return h.authorizer.Authorize(r.Context(), authz.RequestFor(r.Context(), action, res))
}

func blockerDTOs(blockers []Blocker) []Blocker {
	if blockers == nil {
		return []Blocker{}
	}
	return blockers
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	companyID, year, err := h.params(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.authorize(r, "fiscal_year:close", year); err != nil {
		httpx.Error(w, r, err)
		return
	}
	p, err := h.service.Preview(r.Context(), companyID, year)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	body := map[string]any{
		"year":          p.Year,
		"netIncome":     p.NetIncome.String(),
		"totalRevenue":  p.TotalRevenue.String(),
		"totalExpenses": p.TotalExpenses.String(),
		"blockers":      blockerDTOs(p.Blockers),
	}
	if p.RetainedEarningsAccountID != nil {
		body["retainedEarningsAccountId"] = p.RetainedEarningsAccountID.String()
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	companyID, year, err := h.params(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.authorize(r, "fiscal_year:close", year); err != nil {
		httpx.Error(w, r, err)
		return
	}
	res, err := h.service.Close(r.Context(), companyID, actor.UserID, year)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	ids := make([]string, 0, len(res.ClosingEntryIDs))
	for _, id := range res.ClosingEntryIDs {
		ids = append(ids, id.String())
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"closingEntryIds": ids,
		"netIncome":       res.NetIncome.String(),
		"periodsClosed":   res.PeriodsClosed,
	})
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	companyID, year, err := h.params(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.authorize(r, "fiscal_year:reopen", year); err != nil {
		httpx.Error(w, r, err)
		return
	}
	res, err := h.service.Reopen(r.Context(), companyID, actor.UserID, year)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	ids := make([]string, 0, len(res.ReversingEntryIDs))
	for _, id := range res.ReversingEntryIDs {
		ids = append(ids, id.String())
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"reversingEntryIds": ids,
		"periodsReopened":   res.PeriodsReopened,
	})
}
