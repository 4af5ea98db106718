package roles

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/klinika/clinic-admin/internal/rbac"
)

// Service describes the closed role set against a catalog.
type Service struct {
	title cases.Caser
}

// NewService builds Service instance.
func NewService() *Service {
	return &Service{title: cases.Title(language.English)}
}

// ListRoles returns every role in display order. Defaults the catalog does
// not know are left out, matching what resolution would grant.
func (s *Service) ListRoles(catalog *rbac.Catalog) []Role {
	out := make([]Role, 0, len(rbac.Roles()))
	for _, role := range rbac.Roles() {
		known, _ := catalog.Known(rbac.RoleDefaults(role))
		if known == nil {
			known = []rbac.Key{}
		}
		out = append(out, Role{
			Role:       role,
			Label:      s.title.String(string(role)),
			Defaults:   known,
			GrantsOnly: role == rbac.RoleCustom,
		})
	}
	return out
}
