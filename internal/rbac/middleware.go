package rbac

import (
	"log/slog"
	"net/http"

	"github.com/lumen-lms/lumen/internal/platform/httpx"
	"github.com/lumen-lms/lumen/internal/shared"
)

// DecisionObserver receives one call per authorization decision.
type DecisionObserver interface {
	ObserveAuthz(decision string)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Logger   *slog.Logger
	Observer DecisionObserver
}

// RequireAny ensures the current user has at least one of the required capabilities.
func (m Middleware) RequireAny(caps ...Capability) func(http.Handler) http.Handler {
	return m.require("require_any", func(gs GrantSet) bool {
		if len(caps) == 0 {
			return true
		}
		for _, c := range caps {
			if HasPermission(gs, c) {
				return true
			}
		}
		return false
	})
}

// RequireAll ensures the current user has all required capabilities.
func (m Middleware) RequireAll(caps ...Capability) func(http.Handler) http.Handler {
	return m.require("require_all", func(gs GrantSet) bool {
		for _, c := range caps {
			if !HasPermission(gs, c) {
				return false
			}
		}
		return true
	})
}

// RequireAdminPanel gates admin routes.
func (m Middleware) RequireAdminPanel() func(http.Handler) http.Handler {
	return m.require("admin_panel", CanAccessAdminPanel)
}

// RequireAuditView gates the audit timeline.
func (m Middleware) RequireAuditView() func(http.Handler) http.Handler {
	return m.require("audit_view", CanViewAudit)
}

// RequireAuthenticated only demands a resolved principal.
func (m Middleware) RequireAuthenticated() func(http.Handler) http.Handler {
	return m.require("authenticated", func(GrantSet) bool { return true })
}

func (m Middleware) require(check string, allowed func(GrantSet) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gs, ok := GrantSetFromContext(r.Context())
			if !ok {
				m.observe("unauthenticated")
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if !allowed(gs) {
				m.observe("denied")
				if m.Logger != nil {
					m.Logger.Info("rbac denied",
						slog.String("check", check),
						slog.Int64("user_id", gs.PrincipalID),
						slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			m.observe("allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) observe(decision string) {
	if m.Observer != nil {
		m.Observer.ObserveAuthz(decision)
	}
}
