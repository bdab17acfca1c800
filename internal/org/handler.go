package org

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Handler wires HTTP endpoints for organizations and companies.
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

// MountOrganizationRoutes registers tenant routes.
func (h *Handler) MountOrganizationRoutes(r chi.Router) {
	r.Get("/current", h.getCurrent)
	r.Patch("/current", h.updateCurrent)
	r.Delete("/current", h.deleteCurrent)
}

// MountCompanyRoutes registers company routes.
func (h *Handler) MountCompanyRoutes(r chi.Router) {
	r.Get("/", h.listCompanies)
	r.Post("/", h.createCompany)
	r.Get("/{companyID}", h.getCompany)
	r.Patch("/{companyID}", h.updateCompany)
	r.Post("/{companyID}/deactivate", h.deactivateCompany)
	r.Post("/{companyID}/reactivate", h.reactivateCompany)
}

type orgDTO struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	ReportingCurrency string            `json:"reportingCurrency"`
	Locale            string            `json:"locale"`
	DecimalPlaces     int               `json:"decimalPlaces"`
	SoDEnabled        bool              `json:"sodEnabled"`
	ICTolerance       string            `json:"icTolerance"`
	CreatedAt         httpx.EpochMillis `json:"createdAt"`
}

type companyDTO struct {
	ID                        string            `json:"id"`
	Name                      string            `json:"name"`
	Jurisdiction              string            `json:"jurisdiction,omitempty"`
	FunctionalCurrency        string            `json:"functionalCurrency"`
	ReportingCurrency         string            `json:"reportingCurrency"`
	FiscalYearEndMonth        int               `json:"fiscalYearEndMonth"`
	FiscalYearEndDay          int               `json:"fiscalYearEndDay"`
	RetainedEarningsAccountID *string           `json:"retainedEarningsAccountId,omitempty"`
	Status                    CompanyStatus     `json:"status"`
	CreatedAt                 httpx.EpochMillis `json:"createdAt"`
}

func toOrgDTO(o Organization) orgDTO {
	return orgDTO{
		ID:                o.ID.String(),
		Name:              o.Name,
		ReportingCurrency: o.ReportingCurrency,
		Locale:            o.Locale,
		DecimalPlaces:     o.DecimalPlaces,
		SoDEnabled:        o.SoDEnabled,
		ICTolerance:       o.ICTolerance.String(),
		CreatedAt:         httpx.Millis(o.CreatedAt),
	}
}

func toCompanyDTO(c Company) companyDTO {
	dto := companyDTO{
		ID:                 c.ID.String(),
		Name:               c.Name,
		Jurisdiction:       c.Jurisdiction,
		FunctionalCurrency: c.FunctionalCurrency,
		ReportingCurrency:  c.ReportingCurrency,
		FiscalYearEndMonth: c.FiscalYearEndMonth,
		FiscalYearEndDay:   c.FiscalYearEndDay,
		Status:             c.Status,
		CreatedAt:          httpx.Millis(c.CreatedAt),
	}
	if c.RetainedEarningsAccountID != nil {
		id := c.RetainedEarningsAccountID.String()
		dto.RetainedEarningsAccountID = &id
	}
	return dto
}

func (h *Handler) getCurrent(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	o, err := h.service.GetOrganization(r.Context(), actor.OrgID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrgDTO(*o))
}

func (h *Handler) updateCurrent(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in UpdateOrganizationInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	o, err := h.service.UpdateOrganization(r.Context(), actor.OrgID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrgDTO(*o))
}

func (h *Handler) deleteCurrent(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.DeleteOrganization(r.Context(), actor.OrgID); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listCompanies(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	companies, err := h.service.ListCompanies(r.Context(), actor.OrgID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]companyDTO, 0, len(companies))
	for _, c := range companies {
		out = append(out, toCompanyDTO(c))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"companies": out})
}

func (h *Handler) createCompany(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in CreateCompanyInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	c, err := h.service.CreateCompany(r.Context(), actor.OrgID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCompanyDTO(*c))
}

func (h *Handler) getCompany(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	c, err := h.service.GetCompany(r.Context(), actor.OrgID, id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCompanyDTO(*c))
}

func (h *Handler) updateCompany(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in UpdateCompanyInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	c, err := h.service.UpdateCompany(r.Context(), actor.OrgID, id, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCompanyDTO(*c))
}

func (h *Handler) deactivateCompany(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	c, err := h.service.DeactivateCompany(r.Context(), actor.OrgID, id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCompanyDTO(*c))
}

func (h *Handler) reactivateCompany(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	c, err := h.service.ReactivateCompany(r.Context(), actor.OrgID, id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCompanyDTO(*c))
}
