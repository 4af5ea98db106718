package rbac

import (
	"fmt"
	"strings"
)

// Identity describes the authenticated actor.
type Identity struct {
	ID          int64
	IsStaff     bool
	IsSuperuser bool
}

// Bypass reports whether the identity holds platform-wide full access.
func (i *Identity) Bypass() bool {
	return i != nil && (i.IsStaff || i.IsSuperuser)
}

// Account is a tenant (clinic) the identity may act in.
type Account struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Role is the closed set of membership roles.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleAssistant    Role = "assistant"
	RoleReceptionist Role = "receptionist"
	// RoleCustom carries no defaults; its permissions are its grants.
	RoleCustom Role = "custom"
)

// Roles lists every valid role in display order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleDoctor, RoleAssistant, RoleReceptionist, RoleCustom}
}

// ParseRole validates a stored role value.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	for _, r := range Roles() {
		if r == role {
			return role, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// Key is a permission key known to the catalog.
type Key string

// Membership binds one identity to one account.
type Membership struct {
	IdentityID       int64
	AccountID        int64
	Role             Role
	IsOwner          bool
	IndividualGrants []Key
}

// MembershipDetail is the membership as reported by the directory, including
// the server's view of role, individual and effective permissions.
type MembershipDetail struct {
	Membership
	RolePermissions       []Key
	IndividualPermissions []Key
	EffectivePermissions  []Key
}

// Provenance explains why a key is part of an effective set.
type Provenance string

const (
	ProvenanceRole       Provenance = "role"
	ProvenanceIndividual Provenance = "individual"
)
