package directory

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/klinika/clinic-admin/internal/rbac"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError("op", nil))
	assert.ErrorIs(t, mapError("op", pgx.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, mapError("op", &pgconn.PgError{Code: "40001", Message: "could not serialize"}), ErrConflict)
	assert.ErrorIs(t, mapError("op", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "23503"})), ErrConflict)

	other := errors.New("boom")
	assert.ErrorIs(t, mapError("op", other), other)

	mapped := mapError("inner", pgx.ErrNoRows)
	assert.Same(t, mapped, mapError("outer", mapped))
}

func TestDiffKeys(t *testing.T) {
	change := diffKeys(
		[]rbac.Key{rbac.PermViewRooms, rbac.PermExportReports},
		[]rbac.Key{rbac.PermViewRooms, rbac.PermViewBilling},
	)
	assert.Equal(t, []rbac.Key{rbac.PermViewBilling}, change.Added)
	assert.Equal(t, []rbac.Key{rbac.PermExportReports}, change.Removed)
	assert.False(t, change.Empty())
	assert.True(t, diffKeys(nil, nil).Empty())
}

func TestUnionIsSortedAndDeduplicated(t *testing.T) {
	got := union([]rbac.Key{"view_rooms", "manage_rooms"}, []rbac.Key{"view_rooms", "export_reports"})
	assert.Equal(t, []rbac.Key{"export_reports", "manage_rooms", "view_rooms"}, got)
}
