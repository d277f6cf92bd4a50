package users

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lumen-lms/lumen/internal/platform/httpx"
	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes. Fine-grained checks run in the service so that
// principals can still view and edit their own profile.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAuthenticated())
	r.Get("/", h.listUsers)
	r.Post("/", h.createUser)
	r.Get("/{id}", h.getUser)
	r.Patch("/{id}", h.updateProfile)
	r.Put("/{id}/role", h.changeRole)
	r.Put("/{id}/status", h.changeStatus)
	r.Delete("/{id}", h.deleteUser)
}

type roleRequest struct {
	Role string `json:"role"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.GrantSetFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{
		Role:   rbac.Role(strings.ToUpper(q.Get("role"))),
		Status: Status(strings.ToUpper(q.Get("status"))),
		Query:  q.Get("q"),
	}
	if filter.Role != "" && !filter.Role.IsValid() {
		httpx.RespondError(w, shared.NewValidationError("role", "unknown role"))
		return
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		httpx.RespondError(w, shared.NewValidationError("status", "unknown status"))
		return
	}
	users, pagination, err := h.service.List(r.Context(), actor, shared.PageFromRequest(r), filter)
	if err != nil {
		h.fail(w, "list users failed", err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users, "pagination": pagination})
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.GrantSetFromContext(r.Context())
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, temporary, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "create user failed", err)
		return
	}
	body := map[string]any{"user": user}
	if temporary != "" {
		body["temporary_password"] = temporary
	}
	httpx.JSON(w, http.StatusCreated, body)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	user, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get user failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ProfileInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	user, err := h.service.UpdateProfile(r.Context(), actor, id, in)
	if err != nil {
		h.fail(w, "update profile failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	user, err := h.service.ChangeRole(r.Context(), actor, id, req.Role)
	if err != nil {
		h.fail(w, "change role failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	user, err := h.service.ChangeStatus(r.Context(), actor, id, Status(strings.ToUpper(strings.TrimSpace(req.Status))))
	if err != nil {
		h.fail(w, "change status failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, "delete user failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if h.logger != nil {
		h.logger.Warn(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
