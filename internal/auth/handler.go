package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/lumen-lms/lumen/internal/platform/httpx"
	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	csrf      *shared.CSRFManager
	cookie    CookieConfig
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, csrf *shared.CSRFManager, cookie CookieConfig) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		csrf:      csrf,
		cookie:    cookie,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(httprate.LimitByIP(10, time.Minute)).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CSRFToken string    `json:"csrf_token"`
	User      any       `json:"user"`
}

type meResponse struct {
	User             any               `json:"user"`
	Capabilities     []rbac.Capability `json:"capabilities"`
	CanAccessAdmin   bool              `json:"can_access_admin_panel"`
	SessionExpiresAt time.Time         `json:"session_expires_at"`
	CSRFToken        string            `json:"csrf_token"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.FromValidator(err))
		return
	}
	sess, user, err := h.service.Login(r.Context(), req.Email, req.Password, r.RemoteAddr, r.UserAgent())
	if err != nil {
		if h.logger != nil {
			h.logger.Info("login failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
	httpx.JSON(w, http.StatusOK, sessionResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		CSRFToken: h.csrf.IssueToken(sess.Token),
		User:      user,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := Session{}
	if identity, ok := IdentityFromContext(r.Context()); ok {
		sess = identity.Session
	} else if cookie, err := r.Cookie(h.cookie.Name); err == nil {
		sess.Token = cookie.Value
	}
	if err := h.service.Logout(r.Context(), sess); err != nil && h.logger != nil {
		h.logger.Warn("remove session", slog.Any("error", err))
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{
		User:             identity.User,
		Capabilities:     identity.Grants.Effective(),
		CanAccessAdmin:   rbac.CanAccessAdminPanel(identity.Grants),
		SessionExpiresAt: identity.Session.ExpiresAt,
		CSRFToken:        h.csrf.IssueToken(identity.Session.Token),
	})
}
