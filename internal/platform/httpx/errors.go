package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/meridian-fin/meridian/internal/apperr"
)

// errorBody is the envelope every failed request returns. The tag is a stable
// machine-readable discriminator; meta fields are flattened alongside it.
type errorBody struct {
	Tag     string
	Message string
	Meta    map[string]any
}

func (b errorBody) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Meta)+2)
	for k, v := range b.Meta {
		out[k] = v
	}
	out["_tag"] = b.Tag
	if b.Message != "" {
		out["message"] = b.Message
	}
	return json.Marshal(out)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindRule:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as a tagged envelope. Unknown errors are logged and masked
// as InternalServerError so internals never leak to clients.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var e *apperr.E
	if !errors.As(err, &e) {
		slog.ErrorContext(r.Context(), "unhandled error", "path", r.URL.Path, "error", err)
		JSON(w, http.StatusInternalServerError, errorBody{Tag: "InternalServerError"})
		return
	}
	status := statusFor(e.Kind)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "internal error", "path", r.URL.Path, "tag", e.Tag, "error", e.Msg)
		JSON(w, status, errorBody{Tag: e.Tag})
		return
	}
	JSON(w, status, errorBody{Tag: e.Tag, Message: e.Msg, Meta: e.Meta})
}
