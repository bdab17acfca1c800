package intercompany

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Handler wires the intercompany REST surface.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validator: validator.New()}
}

// MountRoutes registers intercompany routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{txID}", h.get)
	r.Delete("/{txID}", h.remove)
	r.Post("/{txID}/link", h.link)
	r.Post("/{txID}/unlink", h.unlink)
	r.Post("/{txID}/approve-variance", h.approveVariance)
}

type transactionDTO struct {
	ID            string            `json:"id"`
	FromCompanyID string            `json:"fromCompanyId"`
	ToCompanyID   string            `json:"toCompanyId"`
	Type          string            `json:"type"`
	Date          shared.Date       `json:"date"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	FromEntryID   *string           `json:"fromEntryId,omitempty"`
	ToEntryID     *string           `json:"toEntryId,omitempty"`
	Status        MatchingStatus    `json:"matchingStatus"`
	Variance      string            `json:"variance"`
	Explanation   string            `json:"explanation,omitempty"`
	CreatedAt     httpx.EpochMillis `json:"createdAt"`
}

func toTransactionDTO(t Transaction) transactionDTO {
	dto := transactionDTO{
		ID:            t.ID.String(),
		FromCompanyID: t.FromCompanyID.String(),
		ToCompanyID:   t.ToCompanyID.String(),
		Type:          t.Type,
		Date:          t.Date,
		Amount:        t.Amount.String(),
		Currency:      t.Currency,
		Status:        t.Status,
		Variance:      t.Variance.String(),
		Explanation:   t.Explanation,
		CreatedAt:     httpx.Millis(t.CreatedAt),
	}
	if t.FromEntryID != nil {
		id := t.FromEntryID.String()
		dto.FromEntryID = &id
	}
	if t.ToEntryID != nil {
		id := t.ToEntryID.String()
		dto.ToEntryID = &id
	}
	return dto
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var in CreateInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	t, err := h.service.Create(r.Context(), actor.OrgID, actor.UserID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransactionDTO(*t))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	q := r.URL.Query()
	f := Filter{
		Status: MatchingStatus(q.Get("status")),
		Page:   shared.NormalizePage(httpx.IntQuery(r, "limit", 50), httpx.IntQuery(r, "offset", 0)),
	}
	if raw := q.Get("companyId"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			f.CompanyID = &id
		}
	}
	if raw := q.Get("from"); raw != "" {
		if d, err := shared.ParseDate(raw); err == nil {
			f.From = &d
		}
	}
	if raw := q.Get("to"); raw != "" {
		if d, err := shared.ParseDate(raw); err == nil {
			f.To = &d
		}
	}
	list, err := h.service.List(r.Context(), actor.OrgID, f)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]transactionDTO, 0, len(list))
	for _, t := range list {
		out = append(out, toTransactionDTO(t))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "txID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	t, err := h.service.Get(r.Context(), actor.OrgID, id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionDTO(*t))
}

func (h *Handler) link(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "txID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in LinkInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	t, err := h.service.Link(r.Context(), actor.OrgID, actor.UserID, id, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionDTO(*t))
}

func (h *Handler) unlink(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "txID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in struct {
		Side Side `json:"side" validate:"required,oneof=from to"`
	}
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	t, err := h.service.Unlink(r.Context(), actor.OrgID, actor.UserID, id, in.Side)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionDTO(*t))
}

func (h *Handler) approveVariance(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "txID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in ApproveVarianceInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	t, err := h.service.ApproveVariance(r.Context(), actor.OrgID, actor.UserID, id, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionDTO(*t))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "txID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), actor.OrgID, actor.UserID, id); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w)
}
