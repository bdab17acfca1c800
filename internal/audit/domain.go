// Package audit reads the append-only audit trail. Writes go through the
// shared.AuditSink; this package only queries.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/shared"
)

// Entry is one recorded audit event.
type Entry struct {
	ID         int64
	OrgID      uuid.UUID
	ActorID    uuid.UUID
	Action     string
	Entity     string
	EntityID   string
	Meta       map[string]any
	OccurredAt time.Time
}

// Filter narrows an audit query. Zero values mean "any".
type Filter struct {
	ActorID  *uuid.UUID
	Action   string
	Entity   string
	EntityID string
	From     time.Time
	To       time.Time
	Page     shared.Page
}
