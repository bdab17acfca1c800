// Package apperr defines the closed set of tagged domain errors shared by every
// module. Each error carries a wire discriminant tag, a transport kind, and
// optional metadata rendered into the response body.
package apperr

import "fmt"

// Kind buckets an error into a transport status class.
type Kind int

const (
	KindValidation Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRule
	KindInternal
)

// E is a tagged domain error. Two E values compare equal under errors.Is when
// their tags match, so call sites may attach metadata with With without
// breaking sentinel comparisons.
type E struct {
	Tag  string
	Kind Kind
	Msg  string
	Meta map[string]any
}

// Error implements the error interface.
func (e *E) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Tag
}

// Is matches by tag.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	return ok && t.Tag == e.Tag
}

// New constructs a tagged error.
func New(kind Kind, tag, msg string) *E {
	return &E{Tag: tag, Kind: kind, Msg: msg}
}

// Validation constructs a 400-class error.
func Validation(tag, msg string) *E { return New(KindValidation, tag, msg) }

// Unauthorized constructs a 401-class error.
func Unauthorized(tag, msg string) *E { return New(KindUnauthorized, tag, msg) }

// Forbidden constructs a 403-class error.
func Forbidden(tag, msg string) *E { return New(KindForbidden, tag, msg) }

// NotFound constructs a 404-class error.
func NotFound(tag, msg string) *E { return New(KindNotFound, tag, msg) }

// Conflict constructs a 409-class error.
func Conflict(tag, msg string) *E { return New(KindConflict, tag, msg) }

// Rule constructs a 422-class business-rule error.
func Rule(tag, msg string) *E { return New(KindRule, tag, msg) }

// Internal constructs a 500-class error.
func Internal(tag, msg string) *E { return New(KindInternal, tag, msg) }

// With returns a copy of e carrying additional wire metadata. The original is
// left untouched so package-level sentinels stay immutable.
func With(e *E, meta map[string]any) *E {
	clone := &E{Tag: e.Tag, Kind: e.Kind, Msg: e.Msg}
	if len(e.Meta) > 0 || len(meta) > 0 {
		clone.Meta = make(map[string]any, len(e.Meta)+len(meta))
		for k, v := range e.Meta {
			clone.Meta[k] = v
		}
		for k, v := range meta {
			clone.Meta[k] = v
		}
	}
	return clone
}

// Msgf returns a copy of e with a formatted message.
func Msgf(e *E, format string, args ...any) *E {
	clone := With(e, nil)
	clone.Msg = fmt.Sprintf(format, args...)
	return clone
}
