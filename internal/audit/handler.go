package audit

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/platform/httpx"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Handler wires the audit trail listing.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// MountRoutes registers the audit-log route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
}

var errBadFilter = apperr.Validation("InvalidAuditFilterError", "actorId must be a UUID and from/to must be RFC 3339 timestamps")

type entryDTO struct {
	ID         int64             `json:"id"`
	ActorID    string            `json:"actorId"`
	Action     string            `json:"action"`
	Entity     string            `json:"entity"`
	EntityID   string            `json:"entityId"`
	Meta       map[string]any    `json:"meta,omitempty"`
	OccurredAt httpx.EpochMillis `json:"occurredAt"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	f, err := filterFromQuery(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	entries, err := h.service.Query(r.Context(), actor.OrgID, f)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryDTO{
			ID:         e.ID,
			ActorID:    e.ActorID.String(),
			Action:     e.Action,
			Entity:     e.Entity,
			EntityID:   e.EntityID,
			Meta:       e.Meta,
			OccurredAt: httpx.Millis(e.OccurredAt),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func filterFromQuery(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		Action:   q.Get("action"),
		Entity:   q.Get("entity"),
		EntityID: q.Get("entityId"),
		Page:     shared.NormalizePage(httpx.IntQuery(r, "limit", 50), httpx.IntQuery(r, "offset", 0)),
	}
	if raw := q.Get("actorId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Filter{}, errBadFilter
		}
		f.ActorID = &id
	}
	if raw := q.Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filter{}, errBadFilter
		}
		f.From = ts
	}
	if raw := q.Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filter{}, errBadFilter
		}
		f.To = ts
	}
	return f, nil
}
