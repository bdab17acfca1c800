package httpx

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-fin/meridian/internal/apperr"
)

// DecodeJSON parses the request body into dst. Unknown fields are rejected so
// client typos surface instead of being silently dropped.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("HttpApiDecodeError", "request body is not valid JSON for this endpoint")
	}
	return nil
}

// ValidationFailed converts validator field errors into a tagged error whose
// meta lists each offending field.
func ValidationFailed(err error) error {
	fields := map[string]any{}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields[strings.ToLower(fe.Field()[:1])+fe.Field()[1:]] = fe.Tag()
		}
	}
	return apperr.With(
		apperr.Validation("HttpApiDecodeError", "request body failed validation"),
		map[string]any{"fields": fields},
	)
}

// DecodeValid decodes and validates in one step.
func DecodeValid(r *http.Request, dst any, v *validator.Validate) error {
	if err := DecodeJSON(r, dst); err != nil {
		return err
	}
	if err := v.Struct(dst); err != nil {
		return ValidationFailed(err)
	}
	return nil
}
