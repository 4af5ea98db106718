package tenancy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klinika/clinic-admin/internal/rbac"
)

type stubLister struct {
	accounts map[int64][]rbac.Account
	err      error
	calls    int
}

func (s *stubLister) ListMemberships(ctx context.Context, identityID int64) ([]rbac.Account, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.accounts[identityID], nil
}

func clinics() []rbac.Account {
	return []rbac.Account{
		{ID: 10, Name: "North Clinic", Email: "north@clinic.test"},
		{ID: 20, Name: "South Clinic", Email: "south@clinic.test"},
	}
}

func TestInitializeAnonymous(t *testing.T) {
	lister := &stubLister{}
	s := NewSession(lister)
	require.Equal(t, StatusUninitialized, s.Snapshot().Status)

	require.NoError(t, s.Initialize(context.Background(), nil))

	st := s.Snapshot()
	assert.Equal(t, StatusReady, st.Status)
	assert.Nil(t, st.Identity)
	assert.Empty(t, st.Memberships)
	assert.Nil(t, st.Selected)
	assert.Zero(t, lister.calls)
}

func TestInitializeSelectsFirstMembership(t *testing.T) {
	s := NewSession(&stubLister{accounts: map[int64][]rbac.Account{1: clinics()}})

	require.NoError(t, s.Initialize(context.Background(), &rbac.Identity{ID: 1}))

	st := s.Snapshot()
	assert.Equal(t, StatusReady, st.Status)
	assert.Len(t, st.Memberships, 2)
	require.NotNil(t, st.Selected)
	assert.Equal(t, int64(10), st.Selected.ID)
}

func TestInitializePreferredAccount(t *testing.T) {
	s := NewSession(&stubLister{accounts: map[int64][]rbac.Account{1: clinics()}})

	require.NoError(t, s.Initialize(context.Background(), &rbac.Identity{ID: 1}, PreferAccount(20)))
	assert.Equal(t, int64(20), s.Current().AccountID())

	require.NoError(t, s.Initialize(context.Background(), &rbac.Identity{ID: 1}, PreferAccount(99)))
	assert.Equal(t, int64(10), s.Current().AccountID())
}

func TestInitializeFailureClearsMemberships(t *testing.T) {
	lister := &stubLister{accounts: map[int64][]rbac.Account{1: clinics()}}
	s := NewSession(lister)
	require.NoError(t, s.Initialize(context.Background(), &rbac.Identity{ID: 1}))

	lister.err = errors.New("timeout")
	err := s.Initialize(context.Background(), &rbac.Identity{ID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, rbac.ErrMembershipLoad)

	st := s.Snapshot()
	assert.Equal(t, StatusError, st.Status)
	assert.Empty(t, st.Memberships)
	assert.Nil(t, st.Selected)
	assert.ErrorIs(t, st.Err, rbac.ErrMembershipLoad)
}

func TestSwitchAccount(t *testing.T) {
	lister := &stubLister{accounts: map[int64][]rbac.Account{1: clinics()}}
	s := NewSession(lister)
	require.NoError(t, s.Initialize(context.Background(), &rbac.Identity{ID: 1}))
	callsAfterInit := lister.calls

	require.NoError(t, s.SwitchAccount(20))
	assert.Equal(t, int64(20), s.Current().AccountID())
	assert.Equal(t, callsAfterInit, lister.calls, "switching must not contact the collaborator")

	err := s.SwitchAccount(30)
	assert.ErrorIs(t, err, ErrMembershipNotFound)
	assert.Equal(t, int64(20), s.Current().AccountID(), "rejected switch leaves state untouched")
}

func TestSwitchAccountWithoutIdentity(t *testing.T) {
	s := NewSession(&stubLister{})
	assert.ErrorIs(t, s.SwitchAccount(10), ErrIdentityUnavailable)
}

func TestResetClearsState(t *testing.T) {
	s := NewSession(&stubLister{accounts: map[int64][]rbac.Account{1: clinics()}})
	require.NoError(t, s.Initialize(context.Background(), &rbac.Identity{ID: 1}))

	s.Reset()

	st := s.Snapshot()
	assert.Equal(t, StatusUninitialized, st.Status)
	assert.Nil(t, st.Identity)
	assert.Empty(t, st.Memberships)
	assert.Nil(t, st.Selected)
}

func TestChangeNotifications(t *testing.T) {
	s := NewSession(&stubLister{accounts: map[int64][]rbac.Account{1: clinics()}})
	var changes []Change
	cancel := s.Subscribe(func(c Change) { changes = append(changes, c) })

	require.NoError(t, s.Initialize(context.Background(), &rbac.Identity{ID: 1}))
	require.NotEmpty(t, changes)
	last := changes[len(changes)-1]
	assert.Equal(t, int64(1), last.Current.IdentityID())
	assert.Equal(t, int64(10), last.Current.AccountID())

	n := len(changes)
	require.NoError(t, s.SwitchAccount(20))
	require.Len(t, changes, n+1)
	assert.Equal(t, int64(10), changes[n].Previous.AccountID())
	assert.Equal(t, int64(20), changes[n].Current.AccountID())

	// Selecting the same account again is not a change.
	require.NoError(t, s.SwitchAccount(20))
	assert.Len(t, changes, n+1)

	// Rejected switches do not notify.
	_ = s.SwitchAccount(99)
	assert.Len(t, changes, n+1)

	cancel()
	s.Reset()
	assert.Len(t, changes, n+1)
}

func TestSnapshotIsDetached(t *testing.T) {
	s := NewSession(&stubLister{accounts: map[int64][]rbac.Account{1: clinics()}})
	require.NoError(t, s.Initialize(context.Background(), &rbac.Identity{ID: 1}))

	st := s.Snapshot()
	st.Memberships[0].Name = "mutated"
	st.Selected.ID = 999

	again := s.Snapshot()
	assert.Equal(t, "North Clinic", again.Memberships[0].Name)
	assert.Equal(t, int64(10), again.Selected.ID)
}

type sequencedLister struct {
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (s *sequencedLister) ListMemberships(ctx context.Context, identityID int64) ([]rbac.Account, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if call == 1 {
		close(s.started)
		<-s.release
		return clinics(), nil
	}
	return clinics()[1:], nil
}

func TestOutdatedLoadIsIgnoredAfterReinitialize(t *testing.T) {
	lister := &sequencedLister{started: make(chan struct{}), release: make(chan struct{})}
	s := NewSession(lister)
	identity := &rbac.Identity{ID: 1}

	first := make(chan error, 1)
	go func() { first <- s.Initialize(context.Background(), identity) }()
	<-lister.started

	s.Reset()
	require.NoError(t, s.Initialize(context.Background(), identity))
	require.Equal(t, int64(20), s.Snapshot().Selected.ID)

	close(lister.release)
	require.NoError(t, <-first)

	st := s.Snapshot()
	assert.Equal(t, StatusReady, st.Status)
	assert.Equal(t, clinics()[1:], st.Memberships)
	assert.Equal(t, int64(20), st.Selected.ID)
}
