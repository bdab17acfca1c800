package users

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Handler wires the membership REST surface.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validator: validator.New()}
}

// MountRoutes registers org-scoped member and invitation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listMembers)
	r.Patch("/{userID}", h.updateRole)
	r.Delete("/{userID}", h.removeMember)
	r.Get("/invitations", h.listInvitations)
	r.Post("/invitations", h.invite)
}

// MountPublicRoutes registers routes reachable without a session. Invitation
// acceptance has to be: the invitee does not have an account yet.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/invitations/accept", h.accept)
}

type memberDTO struct {
	UserID   string            `json:"userId"`
	Email    string            `json:"email"`
	Name     string            `json:"name"`
	Role     Role              `json:"role"`
	JoinedAt httpx.EpochMillis `json:"joinedAt"`
}

func toMemberDTO(m Membership) memberDTO {
	return memberDTO{
		UserID:   m.UserID.String(),
		Email:    m.Email,
		Name:     m.Name,
		Role:     m.Role,
		JoinedAt: httpx.Millis(m.JoinedAt),
	}
}

type invitationDTO struct {
	ID         string             `json:"id"`
	Email      string             `json:"email"`
	Role       Role               `json:"role"`
	ExpiresAt  httpx.EpochMillis  `json:"expiresAt"`
	AcceptedAt *httpx.EpochMillis `json:"acceptedAt,omitempty"`
	CreatedAt  httpx.EpochMillis  `json:"createdAt"`
}

func toInvitationDTO(inv Invitation) invitationDTO {
	dto := invitationDTO{
		ID:        inv.ID.String(),
		Email:     inv.Email,
		Role:      inv.Role,
		ExpiresAt: httpx.Millis(inv.ExpiresAt),
		CreatedAt: httpx.Millis(inv.CreatedAt),
	}
	if inv.AcceptedAt != nil {
		ts := httpx.Millis(*inv.AcceptedAt)
		dto.AcceptedAt = &ts
	}
	return dto
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	members, err := h.service.ListMembers(r.Context(), actor.OrgID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]memberDTO, 0, len(members))
	for _, m := range members {
		out = append(out, toMemberDTO(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": out})
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in InviteInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	inv, token, err := h.service.Invite(r.Context(), actor.OrgID, actor.UserID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	dto := toInvitationDTO(*inv)
	httpx.JSON(w, http.StatusCreated, map[string]any{"invitation": dto, "token": token})
}

func (h *Handler) listInvitations(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	list, err := h.service.ListInvitations(r.Context(), actor.OrgID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]invitationDTO, 0, len(list))
	for _, inv := range list {
		out = append(out, toInvitationDTO(inv))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invitations": out})
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	var in AcceptInviteInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	m, err := h.service.AcceptInvitation(r.Context(), in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMemberDTO(*m))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	userID, err := httpx.UUIDParam(r, "userID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in UpdateMemberInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	m, err := h.service.UpdateMemberRole(r.Context(), actor.OrgID, actor.UserID, userID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMemberDTO(*m))
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	userID, err := httpx.UUIDParam(r, "userID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.RemoveMember(r.Context(), actor.OrgID, actor.UserID, userID); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w)
}
