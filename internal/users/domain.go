package users

import (
	"time"

	"github.com/klinika/clinic-admin/internal/rbac"
)

// Member is one identity's membership in an account, as listed for admins.
type Member struct {
	IdentityID int64     `json:"identity_id"`
	Email      string    `json:"email"`
	Role       rbac.Role `json:"role"`
	IsOwner    bool      `json:"is_owner"`
	IsActive   bool      `json:"is_active"`
	JoinedAt   time.Time `json:"joined_at"`
}
