package auth

import (
	"time"

	"github.com/klinika/clinic-admin/internal/rbac"
)

// User represents a signed-in identity record.
type User struct {
	ID          int64
	Email       string
	IsActive    bool
	IsStaff     bool
	IsSuperuser bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity converts the record into the authorization identity.
func (u *User) Identity() *rbac.Identity {
	if u == nil {
		return nil
	}
	return &rbac.Identity{ID: u.ID, IsStaff: u.IsStaff, IsSuperuser: u.IsSuperuser}
}
