package rbac

import (
	"log/slog"
	"net/http"
	"strings"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. The
// authorizer is read from the request context.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...Key) func(http.Handler) http.Handler {
	return m.Require(Guard{Permissions: normalizePermissions(perms)})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...Key) func(http.Handler) http.Handler {
	return m.Require(Guard{Permissions: normalizePermissions(perms), RequireAll: true})
}

// Require enforces an arbitrary guard.
func (m Middleware) Require(guard Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if guard.Allows(AuthorizerFromContext(r.Context())) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Debug("rbac denied", slog.String("path", r.URL.Path), slog.Any("guard", guard))
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func normalizePermissions(perms []Key) []Key {
	unique := make(map[Key]struct{}, len(perms))
	normalized := make([]Key, 0, len(perms))
	for _, p := range perms {
		p = Key(strings.TrimSpace(strings.ToLower(string(p))))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
