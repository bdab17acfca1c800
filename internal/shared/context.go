package shared

import (
	"context"

	"github.com/google/uuid"
)

// Actor identifies the authenticated principal and its request environment.
// Handlers resolve it once from the session and every service receives it
// through context.
type Actor struct {
	UserID    uuid.UUID
	OrgID     uuid.UUID
	Email     string
	Roles     []string
	IP        string
	UserAgent string
	RequestID string
}

// HasRole reports whether the actor carries the named role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The zero Actor is
// returned for unauthenticated requests.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
