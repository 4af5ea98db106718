package roles

import "github.com/klinika/clinic-admin/internal/rbac"

// Role describes a membership role and the keys it implies.
type Role struct {
	Role     rbac.Role  `json:"role"`
	Label    string     `json:"label"`
	Defaults []rbac.Key `json:"defaults"`
	// Custom roles imply nothing; their permissions are individual grants.
	GrantsOnly bool `json:"grants_only"`
}
