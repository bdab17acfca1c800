package consolidation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-fin/meridian/internal/authz"
	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/platform/httpx"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Handler wires the consolidation REST surface.
type Handler struct {
	service    *Service
	authorizer ledger.Authorizer
	validator  *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(service *Service, authorizer ledger.Authorizer) *Handler {
	return &Handler{service: service, authorizer: authorizer, validator: validator.New()}
}

// MountGroupRoutes registers group, member, rule and run-initiation routes.
func (h *Handler) MountGroupRoutes(r chi.Router) {
	r.Get("/", h.listGroups)
	r.Post("/", h.createGroup)
	r.Route("/{groupID}", func(r chi.Router) {
		r.Get("/", h.getGroup)
		r.Patch("/", h.updateGroup)
		r.Delete("/", h.deleteGroup)
		r.Post("/members", h.addMember)
		r.Patch("/members/{memberID}", h.updateMember)
		r.Delete("/members/{memberID}", h.removeMember)
		r.Get("/elimination-rules", h.listRules)
		r.Post("/elimination-rules", h.createRule)
		r.Patch("/elimination-rules/{ruleID}", h.updateRule)
		r.Delete("/elimination-rules/{ruleID}", h.deleteRule)
		r.Get("/runs", h.listRuns)
		r.Post("/runs", h.initiate)
	})
}

// MountRunRoutes registers run-level routes addressed by run id alone.
func (h *Handler) MountRunRoutes(r chi.Router) {
	r.Get("/{runID}", h.getRun)
	r.Post("/{runID}/cancel", h.cancel)
	r.Get("/{runID}/trial-balance", h.trialBalance)
	r.Get("/{runID}/entries", h.entries)
}

func (h *Handler) authorize(r *http.Request, action string, resourceID string) error {
	res := authz.Resource{Type: "consolidation_run", ID: resourceID}
	return h.authorizer.Authorize(r.Context(), authz.RequestFor(r.Context(), action, res))
}

type memberDTO struct {
	ID              string      `json:"id"`
	CompanyID       string      `json:"companyId"`
	OwnershipPct    string      `json:"ownershipPercentage"`
	Method          Method      `json:"method"`
	AcquisitionDate shared.Date `json:"acquisitionDate"`
	Goodwill        string      `json:"goodwill"`
}

type groupDTO struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	ReportingCurrency string            `json:"reportingCurrency"`
	ParentCompanyID   string            `json:"parentCompanyId"`
	IsActive          bool              `json:"isActive"`
	Members           []memberDTO       `json:"members"`
	CreatedAt         httpx.EpochMillis `json:"createdAt"`
	UpdatedAt         httpx.EpochMillis `json:"updatedAt"`
}

func toGroupDTO(g Group) groupDTO {
	dto := groupDTO{
		ID:                g.ID.String(),
		Name:              g.Name,
		ReportingCurrency: g.ReportingCurrency,
		ParentCompanyID:   g.ParentCompanyID.String(),
		IsActive:          g.IsActive,
		Members:           make([]memberDTO, 0, len(g.Members)),
		CreatedAt:         httpx.Millis(g.CreatedAt),
		UpdatedAt:         httpx.Millis(g.UpdatedAt),
	}
	for _, m := range g.Members {
		dto.Members = append(dto.Members, memberDTO{
			ID:              m.ID.String(),
			CompanyID:       m.CompanyID.String(),
			OwnershipPct:    m.OwnershipPct.String(),
			Method:          m.Method,
			AcquisitionDate: m.AcquisitionDate,
			Goodwill:        m.Goodwill.String(),
		})
	}
	return dto
}

type ruleDTO struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Type            RuleType          `json:"type"`
	SourceSelectors []AccountSelector `json:"sourceAccountSelectors"`
	TargetSelectors []AccountSelector `json:"targetAccountSelectors"`
	MinimumAmount   *string           `json:"minimumAmount,omitempty"`
	IsAutomatic     bool              `json:"isAutomatic"`
	Priority        int               `json:"priority"`
	IsActive        bool              `json:"isActive"`
}

func toRuleDTO(rule EliminationRule) ruleDTO {
	dto := ruleDTO{
		ID:              rule.ID.String(),
		Name:            rule.Name,
		Type:            rule.Type,
		SourceSelectors: rule.SourceSelectors,
		TargetSelectors: rule.TargetSelectors,
		IsAutomatic:     rule.IsAutomatic,
		Priority:        rule.Priority,
		IsActive:        rule.IsActive,
	}
	if rule.MinimumAmount != nil {
		s := rule.MinimumAmount.String()
		dto.MinimumAmount = &s
	}
	return dto
}

type stepDTO struct {
	Name        StepName           `json:"name"`
	Status      StepStatus         `json:"status"`
	StartedAt   *httpx.EpochMillis `json:"startedAt,omitempty"`
	CompletedAt *httpx.EpochMillis `json:"completedAt,omitempty"`
	DurationMS  int64              `json:"durationMs"`
	Error       string             `json:"errorMessage,omitempty"`
	Details     map[string]any     `json:"details,omitempty"`
}

type runDTO struct {
	ID           string             `json:"id"`
	GroupID      string             `json:"groupId"`
	Year         int                `json:"year"`
	Period       int                `json:"period"`
	AsOfDate     shared.Date        `json:"asOfDate"`
	Status       RunStatus          `json:"status"`
	Steps        []stepDTO          `json:"steps"`
	Options      RunOptions         `json:"options"`
	InitiatedBy  string             `json:"initiatedBy"`
	InitiatedAt  httpx.EpochMillis  `json:"initiatedAt"`
	StartedAt    *httpx.EpochMillis `json:"startedAt,omitempty"`
	CompletedAt  *httpx.EpochMillis `json:"completedAt,omitempty"`
	DurationMS   int64              `json:"durationMs"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
}

func toRunDTO(run Run) runDTO {
	dto := runDTO{
		ID:           run.ID.String(),
		GroupID:      run.GroupID.String(),
		Year:         run.Year,
		Period:       run.Period,
		AsOfDate:     run.AsOfDate,
		Status:       run.Status,
		Steps:        make([]stepDTO, 0, len(run.Steps)),
		Options:      run.Options,
		InitiatedBy:  run.InitiatedBy.String(),
		InitiatedAt:  httpx.Millis(run.InitiatedAt),
		DurationMS:   run.DurationMS,
		ErrorMessage: run.ErrorMessage,
	}
	if run.StartedAt != nil {
		ts := httpx.Millis(*run.StartedAt)
		dto.StartedAt = &ts
	}
	if run.CompletedAt != nil {
		ts := httpx.Millis(*run.CompletedAt)
		dto.CompletedAt = &ts
	}
	for _, step := range run.Steps {
		sd := stepDTO{
			Name:       step.Name,
			Status:     step.Status,
			DurationMS: step.DurationMS,
			Error:      step.Error,
			Details:    step.Details,
		}
		if step.StartedAt != nil {
			ts := httpx.Millis(*step.StartedAt)
			sd.StartedAt = &ts
		}
		if step.CompletedAt != nil {
			ts := httpx.Millis(*step.CompletedAt)
			sd.CompletedAt = &ts
		}
		dto.Steps = append(dto.Steps, sd)
	}
	return dto
}

type tbLineDTO struct {
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	Type          string `json:"type"`
	Category      string `json:"category"`
	Aggregated    string `json:"aggregatedBalance"`
	Elimination   string `json:"eliminationAmount"`
	NCI           string `json:"nciAmount"`
	Consolidated  string `json:"consolidatedBalance"`
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in CreateGroupInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	g, err := h.service.CreateGroup(r.Context(), actor.OrgID, actor.UserID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toGroupDTO(*g))
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	page := shared.NormalizePage(httpx.IntQuery(r, "limit", 50), httpx.IntQuery(r, "offset", 0))
	groups, err := h.service.ListGroups(r.Context(), actor.OrgID, page)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]groupDTO, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupDTO(g))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": out})
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	g, err := h.service.GetGroup(r.Context(), actor.OrgID, id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupDTO(*g))
}

func (h *Handler) updateGroup(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in UpdateGroupInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	g, err := h.service.UpdateGroup(r.Context(), actor.OrgID, actor.UserID, id, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupDTO(*g))
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.DeleteGroup(r.Context(), actor.OrgID, actor.UserID, id); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	groupID, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in AddMemberInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	m, err := h.service.AddMember(r.Context(), actor.OrgID, actor.UserID, groupID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, memberDTO{
		ID:              m.ID.String(),
		CompanyID:       m.CompanyID.String(),
		OwnershipPct:    m.OwnershipPct.String(),
		Method:          m.Method,
		AcquisitionDate: m.AcquisitionDate,
		Goodwill:        m.Goodwill.String(),
	})
}

func (h *Handler) updateMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	groupID, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	memberID, err := httpx.UUIDParam(r, "memberID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in UpdateMemberInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	m, err := h.service.UpdateMember(r.Context(), actor.OrgID, actor.UserID, groupID, memberID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, memberDTO{
		ID:              m.ID.String(),
		CompanyID:       m.CompanyID.String(),
		OwnershipPct:    m.OwnershipPct.String(),
		Method:          m.Method,
		AcquisitionDate: m.AcquisitionDate,
		Goodwill:        m.Goodwill.String(),
	})
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	groupID, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	memberID, err := httpx.UUIDParam(r, "memberID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.RemoveMember(r.Context(), actor.OrgID, actor.UserID, groupID, memberID); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	groupID, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in CreateRuleInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	rule, err := h.service.CreateRule(r.Context(), actor.OrgID, actor.UserID, groupID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRuleDTO(*rule))
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	groupID, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	rules, err := h.service.ListRules(r.Context(), actor.OrgID, groupID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]ruleDTO, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleDTO(rule))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	groupID, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	ruleID, err := httpx.UUIDParam(r, "ruleID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in UpdateRuleInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	rule, err := h.service.UpdateRule(r.Context(), actor.OrgID, actor.UserID, groupID, ruleID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRuleDTO(*rule))
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	groupID, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	ruleID, err := httpx.UUIDParam(r, "ruleID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.DeleteRule(r.Context(), actor.OrgID, actor.UserID, groupID, ruleID); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	groupID, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.authorize(r, "consolidation_run:initiate", groupID.String()); err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in InitiateInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	run, err := h.service.Initiate(r.Context(), actor.OrgID, actor.UserID, groupID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRunDTO(*run))
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	groupID, err := httpx.UUIDParam(r, "groupID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	page := shared.NormalizePage(httpx.IntQuery(r, "limit", 50), httpx.IntQuery(r, "offset", 0))
	runs, err := h.service.ListRuns(r.Context(), actor.OrgID, groupID, page)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	runID, err := httpx.UUIDParam(r, "runID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	run, err := h.service.GetRun(r.Context(), actor.OrgID, runID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRunDTO(*run))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	runID, err := httpx.UUIDParam(r, "runID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.authorize(r, "consolidation_run:cancel", runID.String()); err != nil {
		httpx.Error(w, r, err)
		return
	}
	run, err := h.service.Cancel(r.Context(), actor.OrgID, actor.UserID, runID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRunDTO(*run))
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	runID, err := httpx.UUIDParam(r, "runID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	run, currency, tb, err := h.service.TrialBalance(r.Context(), actor.OrgID, runID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	lines := make([]tbLineDTO, 0, len(tb))
	for _, l := range tb {
		lines = append(lines, tbLineDTO{
			AccountNumber: l.AccountNumber,
			AccountName:   l.AccountName,
			Type:          string(l.Type),
			Category:      l.Category,
			Aggregated:    l.Aggregated.StringFixed(2),
			Elimination:   l.Elimination.StringFixed(2),
			NCI:           l.NCI.StringFixed(2),
			Consolidated:  l.Consolidated.StringFixed(2),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"runId":    run.ID.String(),
		"asOfDate": run.AsOfDate,
		"currency": currency,
		"lines":    lines,
	})
}

func (h *Handler) entries(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	runID, err := httpx.UUIDParam(r, "runID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	list, err := h.service.EliminationEntries(r.Context(), actor.OrgID, runID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	type entryDTO struct {
		ID          string            `json:"id"`
		RuleID      *string           `json:"ruleId,omitempty"`
		Description string            `json:"description"`
		Lines       []EliminationLine `json:"lines"`
	}
	out := make([]entryDTO, 0, len(list))
	for _, e := range list {
		dto := entryDTO{ID: e.ID.String(), Description: e.Description, Lines: e.Lines}
		if e.RuleID != nil {
			id := e.RuleID.String()
			dto.RuleID = &id
		}
		out = append(out, dto)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}
