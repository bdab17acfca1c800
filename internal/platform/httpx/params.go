package httpx

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/apperr"
)

// UUIDParam reads a chi route parameter that must be a UUID.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Msgf(apperr.Validation("HttpApiDecodeError", ""), "path parameter %q must be a UUID", name)
	}
	return id, nil
}

// IntQuery reads an optional integer query parameter, falling back to def.
func IntQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
