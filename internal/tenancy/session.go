// Package tenancy holds the authenticated identity, the accounts it may act
// in and the currently selected account.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/klinika/clinic-admin/internal/rbac"
)

var (
	// ErrIdentityUnavailable indicates there is no authenticated identity.
	ErrIdentityUnavailable = errors.New("tenancy: identity unavailable")
	// ErrMembershipNotFound indicates the identity does not belong to the account.
	ErrMembershipNotFound = errors.New("tenancy: membership not found")
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusLoading       Status = "loading"
	StatusReady         Status = "ready"
	StatusError         Status = "error"
)

// MembershipLister lists the accounts an identity belongs to.
type MembershipLister interface {
	ListMemberships(ctx context.Context, identityID int64) ([]rbac.Account, error)
}

// State is an immutable view of a Session.
type State struct {
	Identity    *rbac.Identity
	Memberships []rbac.Account
	Selected    *rbac.Account
	Status      Status
	Err         error
}

// Pair identifies the (identity, account) scope authorization is resolved for.
type Pair struct {
	Identity *rbac.Identity
	Account  *rbac.Account
}

// IdentityID returns the identity ID or zero.
func (p Pair) IdentityID() int64 {
	if p.Identity == nil {
		return 0
	}
	return p.Identity.ID
}

// AccountID returns the account ID or zero.
func (p Pair) AccountID() int64 {
	if p.Account == nil {
		return 0
	}
	return p.Account.ID
}

// Change is emitted when the identity or the selected account changes.
type Change struct {
	Previous Pair
	Current  Pair
}

// Session is the per-user tenant session. It is safe for concurrent use.
type Session struct {
	lister MembershipLister

	mu          sync.RWMutex
	identity    *rbac.Identity
	memberships []rbac.Account
	selected    *rbac.Account
	status      Status
	err         error
	// generation advances on every Initialize and Reset; a membership load
	// only applies while its generation is current.
	generation  uint64

	subMu       sync.Mutex
	subscribers map[int]func(Change)
	nextSubID   int
}

// NewSession constructs an uninitialized Session.
func NewSession(lister MembershipLister) *Session {
	return &Session{
		lister:      lister,
		status:      StatusUninitialized,
		subscribers: make(map[int]func(Change)),
	}
}

type initOptions struct {
	preferred int64
}

// InitOption customizes Initialize.
type InitOption func(*initOptions)

// PreferAccount selects accountID after loading when the identity belongs to
// it, instead of the first membership.
func PreferAccount(accountID int64) InitOption {
	return func(o *initOptions) {
		o.preferred = accountID
	}
}

// Initialize loads memberships for identity. A nil identity yields a ready,
// anonymous session.
func (s *Session) Initialize(ctx context.Context, identity *rbac.Identity, opts ...InitOption) error {
	var o initOptions
	for _, opt := range opts {
		opt(&o)
	}

	if identity == nil {
		s.apply(func() {
			s.generation++
			s.identity = nil
			s.memberships = nil
			s.selected = nil
			s.status = StatusReady
			s.err = nil
		})
		return nil
	}

	id := *identity
	var gen uint64
	s.apply(func() {
		s.generation++
		gen = s.generation
		s.identity = &id
		s.memberships = nil
		s.selected = nil
		s.status = StatusLoading
		s.err = nil
	})

	if s.lister == nil {
		err := fmt.Errorf("%w: no membership source", rbac.ErrMembershipLoad)
		s.fail(gen, err)
		return err
	}
	accounts, err := s.lister.ListMemberships(ctx, id.ID)
	if err != nil {
		err = fmt.Errorf("%w: %w", rbac.ErrMembershipLoad, err)
		s.fail(gen, err)
		return err
	}

	s.apply(func() {
		if s.generation != gen {
			return
		}
		s.memberships = append([]rbac.Account(nil), accounts...)
		s.selected = pickAccount(s.memberships, o.preferred)
		s.status = StatusReady
	})
	return nil
}

// SwitchAccount selects accountID. It does not contact the membership source.
func (s *Session) SwitchAccount(accountID int64) error {
	var err error
	s.apply(func() {
		if s.identity == nil {
			err = ErrIdentityUnavailable
			return
		}
		for i := range s.memberships {
			if s.memberships[i].ID == accountID {
				acc := s.memberships[i]
				s.selected = &acc
				return
			}
		}
		err = fmt.Errorf("%w: account %d", ErrMembershipNotFound, accountID)
	})
	return err
}

// Reset clears all state, as on sign-out.
func (s *Session) Reset() {
	s.apply(func() {
		s.generation++
		s.identity = nil
		s.memberships = nil
		s.selected = nil
		s.status = StatusUninitialized
		s.err = nil
	})
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Identity:    cloneIdentity(s.identity),
		Memberships: append([]rbac.Account(nil), s.memberships...),
		Selected:    cloneAccount(s.selected),
		Status:      s.status,
		Err:         s.err,
	}
}

// Current returns the (identity, selected account) pair.
func (s *Session) Current() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairLocked()
}

// Subscribe registers fn for change notifications. The returned function
// cancels the subscription.
func (s *Session) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Session) fail(gen uint64, err error) {
	s.apply(func() {
		if s.generation != gen {
			return
		}
		s.memberships = nil
		s.selected = nil
		s.status = StatusError
		s.err = err
	})
}

// apply mutates state under lock and notifies subscribers when the
// (identity, account) pair changed.
func (s *Session) apply(mutate func()) {
	s.mu.Lock()
	before := s.pairLocked()
	mutate()
	after := s.pairLocked()
	s.mu.Unlock()

	if samePair(before, after) {
		return
	}
	s.notify(Change{Previous: before, Current: after})
}

func (s *Session) notify(change Change) {
	s.subMu.Lock()
	subs := make([]func(Change), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(change)
	}
}

func (s *Session) pairLocked() Pair {
	return Pair{Identity: cloneIdentity(s.identity), Account: cloneAccount(s.selected)}
}

func samePair(a, b Pair) bool {
	if (a.Identity == nil) != (b.Identity == nil) || (a.Account == nil) != (b.Account == nil) {
		return false
	}
	if a.Identity != nil && *a.Identity != *b.Identity {
		return false
	}
	return a.AccountID() == b.AccountID()
}

func pickAccount(accounts []rbac.Account, preferred int64) *rbac.Account {
	if len(accounts) == 0 {
		return nil
	}
	if preferred != 0 {
		for i := range accounts {
			if accounts[i].ID == preferred {
				acc := accounts[i]
				return &acc
			}
		}
	}
	acc := accounts[0]
	return &acc
}

func cloneIdentity(i *rbac.Identity) *rbac.Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

func cloneAccount(a *rbac.Account) *rbac.Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
