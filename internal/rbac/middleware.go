package rbac

import (
	"log/slog"
	"net/http"
)

// RoleResolver extracts the caller's role for the current request. The boolean
// is false when the request carries no authenticated organization member.
type RoleResolver func(r *http.Request) (Role, bool, error)

// Middleware wires role checks for HTTP routes served outside the action pipeline.
type Middleware struct {
	Resolve RoleResolver
	Logger  *slog.Logger
}

// RequireRole ensures the current member ranks at least the required role.
func (m Middleware) RequireRole(required Role) func(http.Handler) http.Handler {
	return m.RequireCapability(func(role Role) bool {
		return AtLeast(role, required)
	})
}

// RequireCapability ensures the current member satisfies the capability predicate.
func (m Middleware) RequireCapability(allowed func(Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Resolve == nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			role, ok, err := m.Resolve(r)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac resolve role", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if !allowed(role) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
