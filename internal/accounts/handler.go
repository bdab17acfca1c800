package accounts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the chart of accounts. Routes are mounted
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

// MountRoutes registers account routes on the provided router. The router is
// expected to carry a {companyID} path parameter.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/templates", h.listTemplates)
	r.Post("/templates/{template}", h.applyTemplate)
	r.Get("/{accountID}", h.get)
	r.Patch("/{accountID}", h.update)
	r.Post("/{accountID}/deactivate", h.deactivate)
	r.Post("/{accountID}/reactivate", h.reactivate)
}

type accountDTO struct {
	ID                    string           `json:"id"`
	CompanyID             string           `json:"companyId"`
	Number                string           `json:"number"`
	Name                  string           `json:"name"`
	Type                  AccountType      `json:"type"`
	Category              string           `json:"category,omitempty"`
	NormalBalance         NormalBalance    `json:"normalBalance"`
	ParentID              *string          `json:"parentId,omitempty"`
	HierarchyLevel        int              `json:"hierarchyLevel"`
	IsPostable            bool             `json:"isPostable"`
	IsActive              bool             `json:"isActive"`
	CashFlow              CashFlowCategory `json:"cashFlowCategory"`
	IsIntercompany        bool             `json:"isIntercompany"`
	IntercompanyPartnerID *string          `json:"intercompanyPartnerId,omitempty"`
	CurrencyRestriction   string           `json:"currencyRestriction,omitempty"`
	IsRetainedEarnings    bool             `json:"isRetainedEarnings"`
}

func toDTO(a Account) accountDTO {
	dto := accountDTO{
		ID:                  a.ID.String(),
		CompanyID:           a.CompanyID.String(),
		Number:              a.Number,
		Name:                a.Name,
		Type:                a.Type,
		Category:            a.Category,
		NormalBalance:       a.NormalBalance,
		HierarchyLevel:      a.HierarchyLevel,
		IsPostable:          a.IsPostable,
		IsActive:            a.IsActive,
		CashFlow:            a.CashFlow,
		IsIntercompany:      a.IsIntercompany,
		CurrencyRestriction: a.CurrencyRestriction,
		IsRetainedEarnings:  a.IsRetainedEarnings,
	}
	if a.ParentID != nil {
		id := a.ParentID.String()
		dto.ParentID = &id
	}
	if a.IntercompanyPartnerID != nil {
		id := a.IntercompanyPartnerID.String()
		dto.IntercompanyPartnerID = &id
	}
	return dto
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	q := r.URL.Query()
	f := ListFilter{
		Type:       AccountType(q.Get("type")),
		ActiveOnly: q.Get("active") == "true",
		Search:     q.Get("search"),
	}
	if v := q.Get("postable"); v != "" {
		postable := v == "true"
		f.Postable = &postable
	}
	accounts, err := h.service.List(r.Context(), companyID, f)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]accountDTO, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toDTO(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in CreateAccountInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	a, err := h.service.Create(r.Context(), companyID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDTO(*a))
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"templates": Templates()})
}

func (h *Handler) applyTemplate(w http.ResponseWriter, r *http.Request) {
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	accounts, err := h.service.ApplyTemplate(r.Context(), companyID, Template(chi.URLParam(r, "template")))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]accountDTO, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toDTO(a))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"accounts": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	companyID, accountID, err := h.ids(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	a, err := h.service.Get(r.Context(), companyID, accountID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(*a))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	companyID, accountID, err := h.ids(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in UpdateAccountInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	a, err := h.service.Update(r.Context(), companyID, accountID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(*a))
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	companyID, accountID, err := h.ids(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	a, err := h.service.Deactivate(r.Context(), companyID, accountID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(*a))
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	companyID, accountID, err := h.ids(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	a, err := h.service.Reactivate(r.Context(), companyID, accountID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(*a))
}

func (h *Handler) ids(r *http.Request) (companyID, accountID uuid.UUID, err error) {
	companyID, err = httpx.UUIDParam(r, "companyID")
	if err != nil {
		return
	}
	accountID, err = httpx.UUIDParam(r, "accountID")
	return
}
