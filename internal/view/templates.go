package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/klinika/clinic-admin/internal/rbac"
	"github.com/klinika/clinic-admin/internal/tenancy"
	"github.com/klinika/clinic-admin/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	CurrentPath string
	Gate        rbac.Authorizer
	Tenant      tenancy.State
	Data        any
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	tpl, err := template.New("root").Funcs(FuncMap()).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// FuncMap returns the template helpers. The permission helpers take the
// authorizer first and deny when it is missing.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"can": func(a rbac.Authorizer, key string) bool {
			return a != nil && a.HasPermission(toKey(key))
		},
		"canAny": func(a rbac.Authorizer, keys ...string) bool {
			return a != nil && a.HasAny(toKeys(keys)...)
		},
		"canAll": func(a rbac.Authorizer, keys ...string) bool {
			return a != nil && a.HasAll(toKeys(keys)...)
		},
	}
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	return e.RenderStatus(w, http.StatusOK, name, data)
}

// RenderStatus renders into a buffer first so a failing template never leaves
// a partial page behind.
func (e *Engine) RenderStatus(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// RenderGated renders name when guard allows data.Gate. Otherwise it renders
// fallback with 403, or writes a bare 403 when fallback is empty.
func (e *Engine) RenderGated(w http.ResponseWriter, guard rbac.Guard, name, fallback string, data TemplateData) error {
	if guard.Allows(data.Gate) {
		return e.Render(w, name, data)
	}
	if fallback == "" {
		w.WriteHeader(http.StatusForbidden)
		return nil
	}
	return e.RenderStatus(w, http.StatusForbidden, fallback, data)
}

func toKey(raw string) rbac.Key {
	return rbac.Key(strings.TrimSpace(strings.ToLower(raw)))
}

func toKeys(raw []string) []rbac.Key {
	keys := make([]rbac.Key, len(raw))
	for i, r := range raw {
		keys[i] = toKey(r)
	}
	return keys
}
