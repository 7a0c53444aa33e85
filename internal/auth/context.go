// ABOUTME: Actor context for tracking operator identity through request handlers
// ABOUTME: Provides WithActor/ActorFromContext for propagating identity via context

package auth

import (
	"context"
)

// Elevated roles recognized by the privilege checker.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// ActorContext holds the authenticated operator identity extracted from a
// request. Populated by the HTTP middleware and retrieved in handlers.
type ActorContext struct {
	OperatorID string
	Roles      []string
}

// HasRole reports whether the actor holds the named role.
func (a *ActorContext) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsElevated reports whether the actor may issue coordination commands.
func (a *ActorContext) IsElevated() bool {
	return a.HasRole(RoleOperator) || a.HasRole(RoleAdmin)
}

// actorContextKey is the key type for storing ActorContext in context.Context.
type actorContextKey struct{}

// WithActor returns a new context with the ActorContext attached.
func WithActor(ctx context.Context, actor *ActorContext) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext retrieves the ActorContext, returning nil if not present.
func ActorFromContext(ctx context.Context) *ActorContext {
	val := ctx.Value(actorContextKey{})
	if val == nil {
		return nil
	}
	actor, ok := val.(*ActorContext)
	if !ok {
		return nil
	}
	return actor
}
