package users

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klinika/clinic-admin/internal/rbac"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const listMembersSQL = `
SELECT i.id, i.email, m.role, m.is_owner, i.is_active, m.created_at
FROM memberships m
JOIN identities i ON i.id = m.identity_id
WHERE m.account_id = $1
ORDER BY m.is_owner DESC, i.email`

// ListMembers returns the members of an account, owners first.
func (r *Repository) ListMembers(ctx context.Context, accountID int64) ([]Member, error) {
	rows, err := r.pool.Query(ctx, listMembersSQL, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Member
	for rows.Next() {
		var (
			m    Member
			role string
		)
		if err := rows.Scan(&m.IdentityID, &m.Email, &role, &m.IsOwner, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, err
		}
		parsed, err := rbac.ParseRole(role)
		if err != nil {
			return nil, err
		}
		m.Role = parsed
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}
