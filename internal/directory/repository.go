// Package directory is the PostgreSQL-backed store of accounts, memberships
// and the permission catalog.
package directory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klinika/clinic-admin/internal/platform/db"
	"github.com/klinika/clinic-admin/internal/rbac"
)

// DefaultTimeout bounds every collaborator call when none is configured.
const DefaultTimeout = 5 * time.Second

// Repository implements the membership and catalog collaborators.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository constructs a Repository. Each call is bounded by timeout.
func NewRepository(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Repository{pool: pool, timeout: timeout}
}

func (r *Repository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

const listMembershipsSQL = `
SELECT a.id, a.name, a.email
FROM memberships m
JOIN accounts a ON a.id = m.account_id
WHERE m.identity_id = $1
ORDER BY a.name, a.id`

// ListMemberships returns the accounts identityID belongs to.
func (r *Repository) ListMemberships(ctx context.Context, identityID int64) ([]rbac.Account, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, listMembershipsSQL, identityID)
	if err != nil {
		return nil, mapError("list memberships", err)
	}
	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Account, error) {
		var a rbac.Account
		err := row.Scan(&a.ID, &a.Name, &a.Email)
		return a, err
	})
	if err != nil {
		return nil, mapError("list memberships", err)
	}
	return accounts, nil
}

const membershipSQL = `
SELECT role, is_owner
FROM memberships
WHERE identity_id = $1 AND account_id = $2`

const grantsSQL = `
SELECT permission_key
FROM membership_permissions
WHERE identity_id = $1 AND account_id = $2
ORDER BY permission_key`

const catalogKeysSQL = `SELECT key FROM permissions ORDER BY position, key`

// GetMembershipDetail loads the membership of identityID in accountID with its
// role, individual and effective permissions.
func (r *Repository) GetMembershipDetail(ctx context.Context, identityID, accountID int64) (rbac.MembershipDetail, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var (
		rawRole string
		detail  rbac.MembershipDetail
	)
	err := r.pool.QueryRow(ctx, membershipSQL, identityID, accountID).Scan(&rawRole, &detail.IsOwner)
	if err != nil {
		return rbac.MembershipDetail{}, mapError("get membership", err)
	}
	role, err := rbac.ParseRole(rawRole)
	if err != nil {
		return rbac.MembershipDetail{}, fmt.Errorf("directory: get membership: %w", err)
	}
	grants, err := collectKeys(ctx, r.pool, grantsSQL, identityID, accountID)
	if err != nil {
		return rbac.MembershipDetail{}, mapError("get grants", err)
	}

	detail.IdentityID = identityID
	detail.AccountID = accountID
	detail.Role = role
	detail.IndividualGrants = grants
	detail.IndividualPermissions = grants
	detail.RolePermissions = rbac.RoleDefaults(role)
	if detail.IsOwner {
		all, err := collectKeys(ctx, r.pool, catalogKeysSQL)
		if err != nil {
			return rbac.MembershipDetail{}, mapError("list catalog keys", err)
		}
		detail.EffectivePermissions = all
	} else {
		detail.EffectivePermissions = union(detail.RolePermissions, grants)
	}
	return detail, nil
}

const lockMembershipSQL = `
SELECT is_owner
FROM memberships
WHERE identity_id = $1 AND account_id = $2
FOR UPDATE`

const deleteGrantsSQL = `
DELETE FROM membership_permissions
WHERE identity_id = $1 AND account_id = $2`

const insertGrantsSQL = `
INSERT INTO membership_permissions (identity_id, account_id, permission_key, granted_by)
SELECT $1, $2, k, $4 FROM unnest($3::text[]) AS k`

const touchMembershipSQL = `
UPDATE memberships SET updated_at = NOW()
WHERE identity_id = $1 AND account_id = $2`

// GrantChange is the outcome of replacing a membership's individual grants.
type GrantChange struct {
	Added   []rbac.Key
	Removed []rbac.Key
}

// Empty reports whether nothing changed.
func (c GrantChange) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// ReplaceIndividualGrants atomically replaces the individual grants of the
// membership. Keys must already be validated against the catalog.
func (r *Repository) ReplaceIndividualGrants(ctx context.Context, actorID, identityID, accountID int64, keys []rbac.Key) (GrantChange, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var change GrantChange
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var isOwner bool
		if err := tx.QueryRow(ctx, lockMembershipSQL, identityID, accountID).Scan(&isOwner); err != nil {
			return mapError("lock membership", err)
		}
		if isOwner {
			return fmt.Errorf("directory: replace grants: %w: owner memberships carry no grants", ErrConflict)
		}
		previous, err := collectKeys(ctx, tx, grantsSQL, identityID, accountID)
		if err != nil {
			return mapError("read grants", err)
		}
		if _, err := tx.Exec(ctx, deleteGrantsSQL, identityID, accountID); err != nil {
			return mapError("delete grants", err)
		}
		if len(keys) > 0 {
			raw := make([]string, len(keys))
			for i, k := range keys {
				raw[i] = string(k)
			}
			if _, err := tx.Exec(ctx, insertGrantsSQL, identityID, accountID, raw, actorID); err != nil {
				return mapError("insert grants", err)
			}
		}
		if _, err := tx.Exec(ctx, touchMembershipSQL, identityID, accountID); err != nil {
			return mapError("touch membership", err)
		}
		change = diffKeys(previous, keys)
		return nil
	})
	if err != nil {
		return GrantChange{}, mapError("replace grants", err)
	}
	return change, nil
}

const categoriesSQL = `SELECT key, label FROM permission_categories ORDER BY position, key`

const catalogSQL = `
SELECT key, display_key, category
FROM permissions
ORDER BY position, key`

// LoadCatalog reads the permission catalog.
func (r *Repository) LoadCatalog(ctx context.Context) (*rbac.Catalog, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, categoriesSQL)
	if err != nil {
		return nil, mapError("load categories", err)
	}
	categories := make(map[string]string)
	var key, label string
	_, err = pgx.ForEachRow(rows, []any{&key, &label}, func() error {
		categories[key] = label
		return nil
	})
	if err != nil {
		return nil, mapError("load categories", err)
	}

	rows, err = r.pool.Query(ctx, catalogSQL)
	if err != nil {
		return nil, mapError("load permissions", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Entry, error) {
		var e rbac.Entry
		err := row.Scan(&e.Key, &e.DisplayKey, &e.Category)
		return e, err
	})
	if err != nil {
		return nil, mapError("load permissions", err)
	}
	return rbac.NewCatalog(entries, categories)
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func collectKeys(ctx context.Context, q queryer, sql string, args ...any) ([]rbac.Key, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	keys := make([]rbac.Key, len(raw))
	for i, k := range raw {
		keys[i] = rbac.Key(k)
	}
	return keys, nil
}

func union(a, b []rbac.Key) []rbac.Key {
	seen := make(map[rbac.Key]struct{}, len(a)+len(b))
	out := make([]rbac.Key, 0, len(a)+len(b))
	for _, list := range [][]rbac.Key{a, b} {
		for _, k := range list {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func diffKeys(previous, next []rbac.Key) GrantChange {
	prev := make(map[rbac.Key]struct{}, len(previous))
	for _, k := range previous {
		prev[k] = struct{}{}
	}
	nxt := make(map[rbac.Key]struct{}, len(next))
	var change GrantChange
	for _, k := range next {
		nxt[k] = struct{}{}
		if _, ok := prev[k]; !ok {
			change.Added = append(change.Added, k)
		}
	}
	for _, k := range previous {
		if _, ok := nxt[k]; !ok {
			change.Removed = append(change.Removed, k)
		}
	}
	sort.Slice(change.Added, func(i, j int) bool { return change.Added[i] < change.Added[j] })
	sort.Slice(change.Removed, func(i, j int) bool { return change.Removed[i] < change.Removed[j] })
	return change
}
