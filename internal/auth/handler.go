package auth

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
)

// Handler wires the authentication REST surface.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validator: validator.New()}
}

// MountRoutes registers auth routes. All of them are reachable without a
// session except logout and whoami.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
	r.Get("/oauth/{provider}/begin", h.oauthBegin)
	r.Get("/oauth/{provider}/callback", h.oauthCallback)
}

type sessionDTO struct {
	Token     string            `json:"token,omitempty"`
	UserID    string            `json:"userId"`
	OrgID     string            `json:"orgId"`
	Email     string            `json:"email"`
	Roles     []string          `json:"roles"`
	ExpiresAt httpx.EpochMillis `json:"expiresAt"`
}

func toSessionDTO(s Session, includeToken bool) sessionDTO {
	dto := sessionDTO{
		UserID:    s.UserID.String(),
		OrgID:     s.OrgID.String(),
		Email:     s.Email,
		Roles:     s.Roles,
		ExpiresAt: httpx.Millis(s.ExpiresAt),
	}
	if includeToken {
		dto.Token = s.Token
	}
	return dto
}

// BearerToken extracts the opaque token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	sess, err := h.service.Login(r.Context(), in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSessionDTO(*sess, true))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)
	if token == "" {
		httpx.Error(w, r, ErrNoSession)
		return
	}
	if err := h.service.Logout(r.Context(), token); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)
	if token == "" {
		httpx.Error(w, r, ErrNoSession)
		return
	}
	sess, err := h.service.Authenticate(r.Context(), token)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionDTO(*sess, false))
}

func (h *Handler) oauthBegin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	redirect, err := h.service.BeginOAuth(r.Context(), provider)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	sess, err := h.service.CompleteOAuth(r.Context(), provider, state, code)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSessionDTO(*sess, true))
}
