package authz

import (
	"context"

	"github.com/klinika/clinic-admin/internal/tenancy"
)

// Scope bundles the per-request tenant session and its resolver.
type Scope struct {
	Tenant   *tenancy.Session
	Resolver *Resolver
	Gate     *Gate
}

type scopeContextKey struct{}

// ContextWithScope stores the scope in context.
func ContextWithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the scope from context.
func ScopeFromContext(ctx context.Context) *Scope {
	scope, _ := ctx.Value(scopeContextKey{}).(*Scope)
	return scope
}

// GateFromContext returns the request gate, or a gate that denies everything.
func GateFromContext(ctx context.Context) *Gate {
	if scope := ScopeFromContext(ctx); scope != nil && scope.Gate != nil {
		return scope.Gate
	}
	return &Gate{}
}
