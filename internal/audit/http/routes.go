package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/lumen-lms/lumen/internal/platform/httpx"
	"github.com/lumen-lms/lumen/internal/rbac"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes registers the audit timeline and its exports.
func (h *Handler) MountRoutes(r chi.Router, guard rbac.Middleware) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit exceeded")
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(guard.RequireAuditView())
		gr.Get("/", h.handleTimeline)
		gr.Group(func(er chi.Router) {
			er.Use(limiter)
			er.Get("/export.csv", h.handleExportCSV)
			er.Get("/export.xlsx", h.handleExportXLSX)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if gs, ok := rbac.GrantSetFromContext(r.Context()); ok && gs.PrincipalID != 0 {
		return "user:" + strconv.FormatInt(gs.PrincipalID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
