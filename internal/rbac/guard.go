package rbac

import "context"

// Authorizer answers permission queries for the current actor.
type Authorizer interface {
	HasPermission(key Key) bool
	HasAny(keys ...Key) bool
	HasAll(keys ...Key) bool
}

// Guard is the declarative gating contract used by handlers and templates.
// A zero Guard allows unconditionally.
type Guard struct {
	Permission  Key
	Permissions []Key
	RequireAll  bool
}

// Allows evaluates the guard. A nil authorizer denies any restricted guard.
func (g Guard) Allows(a Authorizer) bool {
	if g.Permission == "" && len(g.Permissions) == 0 {
		return true
	}
	if a == nil {
		return false
	}
	if g.Permission != "" && !a.HasPermission(g.Permission) {
		return false
	}
	if len(g.Permissions) == 0 {
		return true
	}
	if g.RequireAll {
		return a.HasAll(g.Permissions...)
	}
	return a.HasAny(g.Permissions...)
}

type authorizerContextKey struct{}

// ContextWithAuthorizer stores the authorizer in context.
func ContextWithAuthorizer(ctx context.Context, a Authorizer) context.Context {
	return context.WithValue(ctx, authorizerContextKey{}, a)
}

// AuthorizerFromContext extracts the authorizer from context.
func AuthorizerFromContext(ctx context.Context) Authorizer {
	a, _ := ctx.Value(authorizerContextKey{}).(Authorizer)
	return a
}
