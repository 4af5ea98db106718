package authz

import (
	"context"

	"github.com/klinika/clinic-admin/internal/rbac"
)

// Gate is the synchronous query surface over a Resolver's last state. While
// loading, every key query answers false.
type Gate struct {
	resolver *Resolver
}

var _ rbac.Authorizer = (*Gate)(nil)

// HasPermission reports whether key is in the effective set.
func (g *Gate) HasPermission(key rbac.Key) bool {
	return g.effective().Has(key)
}

// HasAny reports whether any key is granted. No keys yields false.
func (g *Gate) HasAny(keys ...rbac.Key) bool {
	return g.effective().HasAny(keys...)
}

// HasAll reports whether all keys are granted. No keys yields true.
func (g *Gate) HasAll(keys ...rbac.Key) bool {
	return g.effective().HasAll(keys...)
}

// Allows evaluates a declarative guard.
func (g *Gate) Allows(guard rbac.Guard) bool {
	return guard.Allows(g)
}

// Loading reports whether a resolution is in progress.
func (g *Gate) Loading() bool {
	return g.Status() == StatusLoading
}

// Status returns the resolver status.
func (g *Gate) Status() Status {
	if g == nil || g.resolver == nil {
		return StatusError
	}
	return g.resolver.State().Status
}

// Err returns the last resolution error.
func (g *Gate) Err() error {
	if g == nil || g.resolver == nil {
		return rbac.ErrMembershipLoad
	}
	return g.resolver.State().Err
}

// Effective returns the current effective set.
func (g *Gate) Effective() rbac.EffectiveSet {
	return g.effective()
}

// Refresh forces a fresh authority check.
func (g *Gate) Refresh(ctx context.Context) State {
	if g == nil || g.resolver == nil {
		return State{Status: StatusError, Effective: rbac.EmptySet(), Err: rbac.ErrMembershipLoad}
	}
	return g.resolver.Refresh(ctx)
}

func (g *Gate) effective() rbac.EffectiveSet {
	if g == nil || g.resolver == nil {
		return rbac.EmptySet()
	}
	st := g.resolver.State()
	if st.Status == StatusLoading {
		return rbac.EmptySet()
	}
	return st.Effective
}
