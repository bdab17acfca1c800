package ledger

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/authz"
	"github.com/meridian-fin/meridian/internal/money"
	"github.com/meridian-fin/meridian/internal/platform/httpx"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Authorizer gates journal actions through the policy engine.
type Authorizer interface {
	Authorize(ctx context.Context, req authz.Request) error
}

// Handler wires the journal-entry REST surface under a company scope.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	authorizer Authorizer
	validator  *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authorizer Authorizer) *Handler {
	return &Handler{logger: logger, service: service, authorizer: authorizer, validator: validator.New()}
}

// MountRoutes registers journal-entry routes on the provided router. The
// router is expected to carry a {companyID} path parameter.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{entryID}", h.get)
	r.Put("/{entryID}", h.update)
	r.Delete("/{entryID}", h.remove)
	r.Post("/{entryID}/submit", h.submit)
	r.Post("/{entryID}/approve", h.approve)
	r.Post("/{entryID}/reject", h.reject)
	r.Post("/{entryID}/post", h.post)
	r.Post("/{entryID}/reverse", h.reverse)
}

type lineDTO struct {
	LineNumber            int               `json:"lineNumber"`
	AccountID             string            `json:"accountId"`
	Debit                 string            `json:"debit"`
	Credit                string            `json:"credit"`
	FunctionalDebit       string            `json:"functionalDebit"`
	FunctionalCredit      string            `json:"functionalCredit"`
	ExchangeRate          string            `json:"exchangeRate"`
	Memo                  string            `json:"memo,omitempty"`
	Dimensions            map[string]string `json:"dimensions,omitempty"`
	IntercompanyPartnerID *string           `json:"intercompanyPartnerId,omitempty"`
}

type entryDTO struct {
	ID               string             `json:"id"`
	CompanyID        string             `json:"companyId"`
	EntryNumber      *int64             `json:"entryNumber,omitempty"`
	Type             EntryType          `json:"type"`
	Status           EntryStatus        `json:"status"`
	Currency         string             `json:"currency"`
	TransactionDate  shared.Date        `json:"transactionDate"`
	DocumentDate     *shared.Date       `json:"documentDate,omitempty"`
	PostingDate      *shared.Date       `json:"postingDate,omitempty"`
	FiscalYear       *int               `json:"fiscalYear,omitempty"`
	FiscalPeriod     *int               `json:"fiscalPeriod,omitempty"`
	Reference        string             `json:"reference,omitempty"`
	Description      string             `json:"description,omitempty"`
	SourceModule     string             `json:"sourceModule,omitempty"`
	CreatedBy        string             `json:"createdBy"`
	CreatedAt        httpx.EpochMillis  `json:"createdAt"`
	PostedBy         *string            `json:"postedBy,omitempty"`
	PostedAt         *httpx.EpochMillis `json:"postedAt,omitempty"`
	ReversedEntryID  *string            `json:"reversedEntryId,omitempty"`
	ReversingEntryID *string            `json:"reversingEntryId,omitempty"`
	Lines            []lineDTO          `json:"lines"`
}

func uuidString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func toEntryDTO(e JournalEntry) entryDTO {
	dto := entryDTO{
		ID:               e.ID.String(),
		CompanyID:        e.CompanyID.String(),
		EntryNumber:      e.EntryNumber,
		Type:             e.Type,
		Status:           e.Status,
		Currency:         e.Currency,
		TransactionDate:  e.TransactionDate,
		DocumentDate:     e.DocumentDate,
		PostingDate:      e.PostingDate,
		FiscalYear:       e.FiscalYear,
		FiscalPeriod:     e.FiscalPeriod,
		Reference:        e.Reference,
		Description:      e.Description,
		SourceModule:     e.SourceModule,
		CreatedBy:        e.CreatedBy.String(),
		CreatedAt:        httpx.Millis(e.CreatedAt),
		PostedBy:         uuidString(e.PostedBy),
		ReversedEntryID:  uuidString(e.ReversedEntryID),
		ReversingEntryID: uuidString(e.ReversingEntryID),
	}
	if e.PostedAt != nil {
		at := httpx.Millis(*e.PostedAt)
		dto.PostedAt = &at
	}
	for _, l := range e.Lines {
		dto.Lines = append(dto.Lines, lineDTO{
			LineNumber:            l.LineNumber,
			AccountID:             l.AccountID.String(),
			Debit:                 l.Debit.RoundBank(money.DefaultScale).StringFixed(money.DefaultScale),
			Credit:                l.Credit.RoundBank(money.DefaultScale).StringFixed(money.DefaultScale),
			FunctionalDebit:       l.FunctionalDebit.RoundBank(money.DefaultScale).StringFixed(money.DefaultScale),
			FunctionalCredit:      l.FunctionalCredit.RoundBank(money.DefaultScale).StringFixed(money.DefaultScale),
			ExchangeRate:          l.ExchangeRate.String(),
			Memo:                  l.Memo,
			Dimensions:            l.Dimensions,
			IntercompanyPartnerID: uuidString(l.IntercompanyPartnerID),
		})
	}
	return dto
}

func (h *Handler) companyID(r *http.Request) (uuid.UUID, error) {
	return httpx.UUIDParam(r, "companyID")
}

// authorize loads nothing; it gates on the actor and the resource attributes
// the caller already has.
func (h *Handler) authorize(r *http.Request, action string, resource authz.Resource) error {
	return h.authorizer.Authorize(r.Context(), authz.RequestFor(r.Context(), action, resource))
}

func entryResource(e *JournalEntry) authz.Resource {
	res := authz.Resource{Type: "journal_entry"}
	if e != nil {
		res.ID = e.ID.String()
		res.EntryType = string(e.Type)
		res.CreatedBy = e.CreatedBy
	}
	return res
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	companyID, err := h.companyID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.authorize(r, "journal_entry:create", authz.Resource{Type: "journal_entry"}); err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in CreateEntryInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	entry, err := h.service.Create(r.Context(), companyID, actor.UserID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryDTO(*entry))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	companyID, err := h.companyID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.authorize(r, "journal_entry:read", authz.Resource{Type: "journal_entry"}); err != nil {
		httpx.Error(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := EntryFilter{
		Status: EntryStatus(q.Get("status")),
		Type:   EntryType(q.Get("type")),
		Search: q.Get("search"),
		Page:   shared.NormalizePage(httpx.IntQuery(r, "limit", 50), httpx.IntQuery(r, "offset", 0)),
	}
	if raw := q.Get("from"); raw != "" {
		d, err := shared.ParseDate(raw)
		if err == nil {
			filter.From = &d
		}
	}
	if raw := q.Get("to"); raw != "" {
		d, err := shared.ParseDate(raw)
		if err == nil {
			filter.To = &d
		}
	}
	entries, err := h.service.List(r.Context(), companyID, filter)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryDTO(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.loadGuarded(w, r, "journal_entry:read")
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryDTO(*entry))
}

// loadGuarded resolves the entry and gates the action with the entry's
// resource attributes, so own-entry and entry-type conditions see real data.
func (h *Handler) loadGuarded(w http.ResponseWriter, r *http.Request, action string) (*JournalEntry, bool) {
	companyID, err := h.companyID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return nil, false
	}
	entryID, err := httpx.UUIDParam(r, "entryID")
	if err != nil {
		httpx.Error(w, r, err)
		return nil, false
	}
	entry, err := h.service.Get(r.Context(), companyID, entryID)
	if err != nil {
		httpx.Error(w, r, err)
		return nil, false
	}
	if err := h.authorize(r, action, entryResource(entry)); err != nil {
		httpx.Error(w, r, err)
		return nil, false
	}
	return entry, true
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	entry, ok := h.loadGuarded(w, r, "journal_entry:update")
	if !ok {
		return
	}
	var in UpdateEntryInput
	if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
		httpx.Error(w, r, err)
		return
	}
	updated, err := h.service.Update(r.Context(), entry.CompanyID, actor.UserID, entry.ID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryDTO(*updated))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	entry, ok := h.loadGuarded(w, r, "journal_entry:delete")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), entry.CompanyID, actor.UserID, entry.ID); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "journal_entry:submit", h.service.Submit)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "journal_entry:approve", h.service.Approve)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "journal_entry:reject", h.service.Reject)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "journal_entry:post", h.service.Post)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action string,
	fn func(ctx context.Context, companyID, actorID, entryID uuid.UUID) (*JournalEntry, error)) {
	actor, _ := shared.ActorFromContext(r.Context())
	entry, ok := h.loadGuarded(w, r, action)
	if !ok {
		return
	}
	updated, err := fn(r.Context(), entry.CompanyID, actor.UserID, entry.ID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryDTO(*updated))
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	entry, ok := h.loadGuarded(w, r, "journal_entry:reverse")
	if !ok {
		return
	}
	var in ReverseInput
	if r.ContentLength > 0 {
		if err := httpx.DecodeValid(r, &in, h.validator); err != nil {
			httpx.Error(w, r, err)
			return
		}
	}
	reversing, err := h.service.Reverse(r.Context(), entry.CompanyID, actor.UserID, entry.ID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryDTO(*reversing))
}
