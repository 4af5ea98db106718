package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klinika/clinic-admin/internal/rbac"
)

func TestInvalidationBusDeliversOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := NewInvalidationBus(client, nil)
	received := make(chan Invalidation, 1)
	stop := bus.Subscribe(func(inv Invalidation) { received <- inv })
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bus.Run(ctx))

	require.NoError(t, bus.Publish(ctx, Invalidation{IdentityID: 7, AccountID: 10}))

	select {
	case inv := <-received:
		assert.Equal(t, Invalidation{IdentityID: 7, AccountID: 10}, inv)
	case <-time.After(2 * time.Second):
		t.Fatal("invalidation not delivered")
	}
}

func TestLocalBusDrivesResolverInvalidate(t *testing.T) {
	dir := newFakeDirectory()
	dir.put(1, northClinic, rbac.RoleAdmin)
	r := NewResolver(dir, rbac.BuiltinCatalog(), Options{})
	r.Resolve(context.Background(), &rbac.Identity{ID: 1}, &northClinic)

	bus := NewInvalidationBus(nil, nil)
	var matched []bool
	stop := bus.Subscribe(func(inv Invalidation) {
		matched = append(matched, r.Invalidate(inv.IdentityID, inv.AccountID))
	})

	require.NoError(t, bus.Publish(context.Background(), Invalidation{IdentityID: 2, AccountID: northClinic.ID}))
	assert.Equal(t, StatusReady, r.State().Status)

	require.NoError(t, bus.Publish(context.Background(), Invalidation{IdentityID: 1, AccountID: northClinic.ID}))
	assert.Equal(t, StatusLoading, r.State().Status)

	stop()
	require.NoError(t, bus.Publish(context.Background(), Invalidation{IdentityID: 1, AccountID: northClinic.ID}))
	assert.Equal(t, []bool{false, true}, matched)
}

func TestNilBusPublishFails(t *testing.T) {
	var bus *InvalidationBus
	assert.Error(t, bus.Publish(context.Background(), Invalidation{}))
	assert.NoError(t, bus.Run(context.Background()))
}
