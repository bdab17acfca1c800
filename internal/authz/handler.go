package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Handler wires policy management, dry-run evaluation and the denial trail.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers policy routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/test", h.test)
	r.Get("/{policyID}", h.get)
	r.Patch("/{policyID}", h.update)
	r.Delete("/{policyID}", h.remove)
}

// MountDenialRoutes registers the denial-trail listing.
func (h *Handler) MountDenialRoutes(r chi.Router) {
	r.Get("/", h.listDenials)
}

type policyDTO struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Subject     SubjectCondition  `json:"subject"`
	Resource    ResourceCondition `json:"resource"`
	Action      ActionCondition   `json:"action"`
	Environment *EnvCondition     `json:"environment,omitempty"`
	Effect      Effect            `json:"effect"`
	Priority    int               `json:"priority"`
	IsSystem    bool              `json:"isSystemPolicy"`
	IsActive    bool              `json:"isActive"`
	CreatedAt   httpx.EpochMillis `json:"createdAt"`
}

func toPolicyDTO(p Policy) policyDTO {
	return policyDTO{
		ID:          p.ID.String(),
		Name:        p.Name,
		Description: p.Description,
		Subject:     p.Subject,
		Resource:    p.Resource,
		Action:      p.Action,
		Environment: p.Environment,
		Effect:      p.Effect,
		Priority:    p.Priority,
		IsSystem:    p.IsSystem,
		IsActive:    p.IsActive,
		CreatedAt:   httpx.Millis(p.CreatedAt),
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in CreatePolicyInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	p, err := h.service.CreatePolicy(r.Context(), actor.OrgID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPolicyDTO(*p))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	policies, err := h.service.ListPolicies(r.Context(), actor.OrgID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]policyDTO, 0, len(policies))
	for _, p := range policies {
		out = append(out, toPolicyDTO(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"policies": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	policyID, err := httpx.UUIDParam(r, "policyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	p, err := h.service.GetPolicy(r.Context(), actor.OrgID, policyID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPolicyDTO(*p))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	policyID, err := httpx.UUIDParam(r, "policyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in UpdatePolicyInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	p, err := h.service.UpdatePolicy(r.Context(), actor.OrgID, policyID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPolicyDTO(*p))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	policyID, err := httpx.UUIDParam(r, "policyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.DeletePolicy(r.Context(), actor.OrgID, policyID); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) test(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in TestPolicyInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	decision := h.service.TestPolicy(r.Context(), actor.OrgID, in)
	matched := make([]string, 0, len(decision.MatchedPolicyIDs))
	for _, id := range decision.MatchedPolicyIDs {
		matched = append(matched, id.String())
	}
	body := map[string]any{"effect": decision.Effect, "matchedPolicyIds": matched}
	if decision.DecidedBy != nil {
		body["decidedBy"] = decision.DecidedBy.String()
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) listDenials(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	page := shared.NormalizePage(httpx.IntQuery(r, "limit", 50), httpx.IntQuery(r, "offset", 0))
	denials, err := h.service.ListDenials(r.Context(), actor.OrgID, page)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(denials))
	for _, d := range denials {
		matched := make([]string, 0, len(d.MatchedPolicyIDs))
		for _, id := range d.MatchedPolicyIDs {
			matched = append(matched, id.String())
		}
		out = append(out, map[string]any{
			"id":               d.ID.String(),
			"userId":           d.UserID.String(),
			"action":           d.Action,
			"resourceType":     d.ResourceType,
			"resourceId":       d.ResourceID,
			"matchedPolicyIds": matched,
			"ip":               d.IP,
			"userAgent":        d.UserAgent,
			"occurredAt":       httpx.Millis(d.OccurredAt),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"denials": out})
}
