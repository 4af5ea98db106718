// Package authz resolves and serves the effective permissions of the current
// identity within its selected account.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/klinika/clinic-admin/internal/rbac"
	"github.com/klinika/clinic-admin/internal/tenancy"
)

// Status is the resolver lifecycle state.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// MembershipSource fetches the membership record of an identity in an account.
type MembershipSource interface {
	GetMembershipDetail(ctx context.Context, identityID, accountID int64) (rbac.MembershipDetail, error)
}

// Observer receives resolution outcomes. observability.Metrics implements it.
type Observer interface {
	ObserveResolution(outcome string, elapsed time.Duration)
	ObserveStaleResult()
}

// State is the last applied resolution.
type State struct {
	Status     Status
	Effective  rbac.EffectiveSet
	Err        error
	IdentityID int64
	AccountID  int64
}

type requestKey struct {
	identityID int64
	accountID  int64
	seq        uint64
}

// Options configures a Resolver.
type Options struct {
	Logger   *slog.Logger
	Observer Observer
}

// Resolver is the caching shell around rbac.Resolve. Each resolution is tagged
// with the (identity, account) pair it was started for plus a sequence number;
// results whose tag is no longer current are discarded.
type Resolver struct {
	source   MembershipSource
	catalog  *rbac.Catalog
	logger   *slog.Logger
	observer Observer
	flights  singleflight.Group

	mu       sync.Mutex
	pair     tenancy.Pair
	current  requestKey
	seq      uint64
	state    State
	trackCtx context.Context

	subMu       sync.Mutex
	subscribers map[int]func(State)
	nextSubID   int
}

// NewResolver constructs a Resolver. A nil catalog makes every resolution fail
// closed with rbac.ErrCatalogLoad.
func NewResolver(source MembershipSource, catalog *rbac.Catalog, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source:      source,
		catalog:     catalog,
		logger:      logger,
		observer:    opts.Observer,
		state:       State{Status: StatusLoading, Effective: rbac.EmptySet()},
		subscribers: make(map[int]func(State)),
	}
}

// Catalog returns the catalog the resolver evaluates against.
func (r *Resolver) Catalog() *rbac.Catalog {
	return r.catalog
}

// State returns the last applied state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Resolve synchronously resolves the pair and returns the resulting state. If
// a newer request supersedes this one before it completes, the newer state is
// returned instead.
func (r *Resolver) Resolve(ctx context.Context, identity *rbac.Identity, account *rbac.Account) State {
	pair := tenancy.Pair{Identity: identity, Account: account}
	key := r.begin(pair)
	set, err := r.compute(ctx, pair)
	return r.complete(key, set, err)
}

// Refresh re-resolves the current pair with a fetch of its own; it never joins
// a fetch that started before the call.
func (r *Resolver) Refresh(ctx context.Context) State {
	r.mu.Lock()
	pair := r.pair
	r.mu.Unlock()
	r.forget(pair)
	return r.Resolve(ctx, pair.Identity, pair.Account)
}

// Track follows a tenant session: every identity or account change clears the
// effective set and starts a background resolution. The returned function
// stops tracking.
func (r *Resolver) Track(ctx context.Context, session *tenancy.Session) func() {
	r.mu.Lock()
	r.trackCtx = ctx
	r.mu.Unlock()

	cancel := session.Subscribe(func(c tenancy.Change) {
		r.resolveAsync(ctx, c.Current)
	})
	r.resolveAsync(ctx, session.Current())
	return func() {
		cancel()
		r.mu.Lock()
		r.trackCtx = nil
		r.mu.Unlock()
	}
}

// Invalidate drops the current result when it belongs to identityID within
// accountID. While tracking, a fresh resolution is started in the background;
// otherwise the state stays loading until the next Refresh. It reports whether
// the pair matched.
func (r *Resolver) Invalidate(identityID, accountID int64) bool {
	r.mu.Lock()
	pair := r.pair
	trackCtx := r.trackCtx
	r.mu.Unlock()

	if pair.IdentityID() != identityID || pair.AccountID() != accountID {
		return false
	}
	r.forget(pair)
	if trackCtx != nil {
		r.resolveAsync(trackCtx, pair)
		return true
	}
	r.begin(pair)
	return true
}

// Subscribe registers fn for every applied state.
func (r *Resolver) Subscribe(fn func(State)) func() {
	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		delete(r.subscribers, id)
		r.subMu.Unlock()
	}
}

// Gate returns the query surface over this resolver.
func (r *Resolver) Gate() *Gate {
	return &Gate{resolver: r}
}

func (r *Resolver) resolveAsync(ctx context.Context, pair tenancy.Pair) {
	key := r.begin(pair)
	go func() {
		set, err := r.compute(ctx, pair)
		r.complete(key, set, err)
	}()
}

// begin tags a new request and invalidates any previously resolved set.
func (r *Resolver) begin(pair tenancy.Pair) requestKey {
	r.mu.Lock()
	r.seq++
	key := requestKey{identityID: pair.IdentityID(), accountID: pair.AccountID(), seq: r.seq}
	r.pair = pair
	r.current = key
	r.state = State{
		Status:     StatusLoading,
		Effective:  rbac.EmptySet(),
		IdentityID: key.identityID,
		AccountID:  key.accountID,
	}
	st := r.state
	r.mu.Unlock()
	r.notify(st)
	return key
}

func (r *Resolver) complete(key requestKey, set rbac.EffectiveSet, err error) State {
	r.mu.Lock()
	if r.current != key {
		st := r.state
		r.mu.Unlock()
		if r.observer != nil {
			r.observer.ObserveStaleResult()
		}
		r.logger.Debug("authz discard stale result",
			slog.Int64("identity_id", key.identityID),
			slog.Int64("account_id", key.accountID))
		return st
	}
	st := State{Status: StatusReady, Effective: set, IdentityID: key.identityID, AccountID: key.accountID}
	if err != nil {
		st.Status = StatusError
		st.Effective = rbac.EmptySet()
		st.Err = err
	}
	r.state = st
	r.mu.Unlock()
	r.notify(st)
	return st
}

func (r *Resolver) compute(ctx context.Context, pair tenancy.Pair) (set rbac.EffectiveSet, err error) {
	start := time.Now()
	outcome := "membership"
	defer func() {
		if err != nil {
			outcome = "error"
		}
		if r.observer != nil {
			r.observer.ObserveResolution(outcome, time.Since(start))
		}
	}()

	if pair.Identity == nil {
		outcome = "anonymous"
		return rbac.EmptySet(), nil
	}
	if r.catalog.Len() == 0 {
		return rbac.EmptySet(), rbac.ErrCatalogLoad
	}
	if pair.Identity.Bypass() {
		outcome = "bypass"
		return rbac.Resolve(r.catalog, pair.Identity, nil).Set, nil
	}
	if pair.Account == nil {
		outcome = "no_account"
		return rbac.EmptySet(), nil
	}

	detail, err := r.fetch(ctx, pair)
	if err != nil {
		r.logger.Warn("authz membership fetch",
			slog.Int64("identity_id", pair.Identity.ID),
			slog.Int64("account_id", pair.Account.ID),
			slog.Any("error", err))
		return rbac.EmptySet(), fmt.Errorf("%w: %w", rbac.ErrMembershipLoad, err)
	}
	if detail.IsOwner {
		outcome = "owner"
	}
	res := rbac.Resolve(r.catalog, pair.Identity, &detail.Membership)
	if len(res.Dropped) > 0 {
		r.logger.Warn("authz dropped unknown grants",
			slog.Int64("identity_id", pair.Identity.ID),
			slog.Int64("account_id", pair.Account.ID),
			slog.Any("keys", res.Dropped))
	}
	return res.Set, nil
}

// fetch shares one membership load per pair between concurrent callers. The
// load runs detached from any single caller's cancellation.
func (r *Resolver) fetch(ctx context.Context, pair tenancy.Pair) (rbac.MembershipDetail, error) {
	loadCtx := context.WithoutCancel(ctx)
	resultChan := r.flights.DoChan(flightKey(pair), func() (interface{}, error) {
		return r.source.GetMembershipDetail(loadCtx, pair.Identity.ID, pair.Account.ID)
	})
	select {
	case <-ctx.Done():
		return rbac.MembershipDetail{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return rbac.MembershipDetail{}, res.Err
		}
		return res.Val.(rbac.MembershipDetail), nil
	}
}

// forget detaches any in-flight load for pair so the next fetch reads the
// store again.
func (r *Resolver) forget(pair tenancy.Pair) {
	if pair.Identity == nil || pair.Account == nil {
		return
	}
	r.flights.Forget(flightKey(pair))
}

func flightKey(pair tenancy.Pair) string {
	return strconv.FormatInt(pair.Identity.ID, 10) + ":" + strconv.FormatInt(pair.Account.ID, 10)
}

func (r *Resolver) notify(st State) {
	r.subMu.Lock()
	subs := make([]func(State), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	r.subMu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}
