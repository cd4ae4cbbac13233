package shared

import (
	"context"
	"strings"
)

// Actor identifies the staff member performing an operation. It is resolved
// once at the edge and passed explicitly to services.
type Actor struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Label returns the display name used on documents.
func (a Actor) Label() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return "system"
}

// SystemActor is used by background tasks.
var SystemActor = Actor{Name: "system", Role: "system"}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor placed by the edge middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
