package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/AaronLay10/SceneWorkbench/internal/config"
)

// Role represents an authorization role.
type Role string

const (
	// RoleAdmin may also create, delete, import and detach scenes.
	RoleAdmin Role = "admin"
	// RoleOperator may view scenes and edit their graphs.
	RoleOperator Role = "operator"
)

// Auth checks HTTP basic auth credentials. A nil or disabled Auth grants
// admin to every request.
type Auth struct {
	admin    config.Credentials
	operator config.Credentials
}

// NewAuth enables authentication when admin credentials are set. Operator
// credentials are optional.
func NewAuth(admin, operator config.Credentials) *Auth {
	return &Auth{admin: admin, operator: operator}
}

// Enabled returns true if authentication is configured.
func (a *Auth) Enabled() bool {
	return a != nil && a.admin.Enabled()
}

// authenticate returns the role of the request, or "" if the credentials
// are invalid.
func (a *Auth) authenticate(r *http.Request) Role {
	if !a.Enabled() {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	if secureCompare(user, a.admin.User) && secureCompare(pass, a.admin.Password) {
		return RoleAdmin
	}
	if a.operator.Enabled() && secureCompare(user, a.operator.User) && secureCompare(pass, a.operator.Password) {
		return RoleOperator
	}
	return ""
}

// secureCompare performs constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Scene Workbench"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler and requires one of the specified roles.
func (a *Auth) RequireRole(handler http.HandlerFunc, allowedRoles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := a.authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}
		for _, allowed := range allowedRoles {
			if role == allowed {
				handler(w, r)
				return
			}
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole wraps a handler requiring admin or operator role.
func (a *Auth) RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return a.RequireRole(handler, RoleAdmin, RoleOperator)
}

// RequireAdmin wraps a handler requiring admin role only.
func (a *Auth) RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return a.RequireRole(handler, RoleAdmin)
}
