package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lumen-lms/lumen/internal/platform/httpx"
	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
)

// Middleware resolves the request credential into an Identity.
type Middleware struct {
	resolver   *Resolver
	csrf       *shared.CSRFManager
	cookieName string
	logger     *slog.Logger
}

// NewMiddleware constructs the session middleware.
func NewMiddleware(resolver *Resolver, csrf *shared.CSRFManager, cookieName string, logger *slog.Logger) *Middleware {
	return &Middleware{resolver: resolver, csrf: csrf, cookieName: cookieName, logger: logger}
}

type credential struct {
	token      string
	fromCookie bool
}

func (m *Middleware) credential(r *http.Request) credential {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return credential{token: strings.TrimSpace(token)}
		}
	}
	if cookie, err := r.Cookie(m.cookieName); err == nil && cookie.Value != "" {
		return credential{token: cookie.Value, fromCookie: true}
	}
	return credential{}
}

// Session resolves the credential when one is present. Unresolvable credentials leave the
// request anonymous so that route guards answer with a uniform 401. Cookie-authenticated
// unsafe requests must carry a CSRF token bound to the session.
func (m *Middleware) Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := m.credential(r)
		if cred.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		identity, err := m.resolver.Resolve(r.Context(), cred.token)
		if err != nil {
			if !errors.Is(err, shared.ErrUnauthenticated) {
				if m.logger != nil {
					m.logger.Error("resolve session", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if cred.fromCookie && !isSafeMethod(r.Method) && m.csrf != nil {
			if err := m.csrf.VerifyToken(cred.token, r.Header.Get(shared.CSRFHeader)); err != nil {
				if m.logger != nil {
					m.logger.Info("csrf rejected", slog.Int64("user_id", identity.User.ID), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "invalid csrf token")
				return
			}
		}
		ctx := ContextWithIdentity(r.Context(), identity)
		ctx = rbac.ContextWithGrantSet(ctx, identity.Grants)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
