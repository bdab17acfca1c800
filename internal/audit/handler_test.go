package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-fin/meridian/internal/shared"
)

type fakeRepo struct {
	entries []Entry
	gotOrg  uuid.UUID
	gotF    Filter
}

func (f *fakeRepo) Query(_ context.Context, orgID uuid.UUID, filter Filter) ([]Entry, error) {
	f.gotOrg = orgID
	f.gotF = filter
	return f.entries, nil
}

func newTestServer(repo *fakeRepo, actor shared.Actor) http.Handler {
	h := NewHandler(NewService(slog.Default(), repo))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	r.Route("/audit-log", h.MountRoutes)
	return r
}

func TestListParsesFilter(t *testing.T) {
	actor := shared.Actor{UserID: uuid.New(), OrgID: uuid.New()}
	actorID := uuid.New()
	repo := &fakeRepo{entries: []Entry{{
		ID:         7,
		OrgID:      actor.OrgID,
		ActorID:    actorID,
		Action:     "journal_entry.post",
		Entity:     "journal_entry",
		EntityID:   uuid.NewString(),
		OccurredAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}}}
	srv := newTestServer(repo, actor)

	req := httptest.NewRequest(http.MethodGet,
		"/audit-log?action=journal_entry.post&entity=journal_entry&actorId="+actorID.String()+
			"&from=2025-05-01T00:00:00Z&limit=10", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, actor.OrgID, repo.gotOrg)
	assert.Equal(t, "journal_entry.post", repo.gotF.Action)
	require.NotNil(t, repo.gotF.ActorID)
	assert.Equal(t, actorID, *repo.gotF.ActorID)
	assert.Equal(t, 10, repo.gotF.Page.Limit)
	assert.False(t, repo.gotF.From.IsZero())

	var body struct {
		Entries []entryDTO `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "journal_entry.post", body.Entries[0].Action)
}

func TestListRejectsBadFilter(t *testing.T) {
	srv := newTestServer(&fakeRepo{}, shared.Actor{OrgID: uuid.New()})

	req := httptest.NewRequest(http.MethodGet, "/audit-log?actorId=not-a-uuid", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/audit-log?from=yesterday", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
