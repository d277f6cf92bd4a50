package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lumen-lms/lumen/internal/platform/httpx"
	"github.com/lumen-lms/lumen/internal/shared"
)

// GrantStore is the persistence surface used by the permissions endpoints.
type GrantStore interface {
	ListGrants(ctx context.Context, userID int64) ([]Grant, error)
	UpsertGrant(ctx context.Context, userID int64, c Capability, granted bool, expiresAt *time.Time, grantedBy int64) (Grant, error)
	RevokeGrant(ctx context.Context, userID int64, c Capability) error
	ListCourseGrants(ctx context.Context, userID int64) ([]CourseGrant, error)
	UpsertCourseGrant(ctx context.Context, userID, courseID int64, mode AccessMode, expiresAt *time.Time) (CourseGrant, error)
}

// PrincipalLookup resolves the account a grant is written for.
type PrincipalLookup func(ctx context.Context, id int64) (Principal, error)

// PermissionsHandler manages capability and course grants.
type PermissionsHandler struct {
	logger    *slog.Logger
	store     GrantStore
	lookup    PrincipalLookup
	audit     shared.AuditRecorder
	rbac      Middleware
	validator *validator.Validate
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, store GrantStore, lookup PrincipalLookup, audit shared.AuditRecorder, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, store: store, lookup: lookup, audit: audit, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAdminPanel())
	r.Get("/", h.listCapabilities)
	r.Get("/users/{userID}", h.listUserGrants)
	r.Put("/users/{userID}/capabilities/{capability}", h.upsertGrant)
	r.Delete("/users/{userID}/capabilities/{capability}", h.revokeGrant)
	r.Put("/users/{userID}/courses/{courseID}", h.upsertCourseGrant)
}

type grantRequest struct {
	Granted   *bool      `json:"granted" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type courseGrantRequest struct {
	Mode      string     `json:"mode" validate:"required,oneof=view edit"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *PermissionsHandler) listCapabilities(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"capabilities": Capabilities()})
}

func (h *PermissionsHandler) listUserGrants(w http.ResponseWriter, r *http.Request) {
	_, target, ok := h.authorizeTarget(w, r, UserActionView)
	if !ok {
		return
	}
	grants, err := h.store.ListGrants(r.Context(), target.GetID())
	if err != nil {
		h.fail(w, "list grants", err)
		return
	}
	courses, err := h.store.ListCourseGrants(r.Context(), target.GetID())
	if err != nil {
		h.fail(w, "list course grants", err)
		return
	}
	gs := NewGrantSet(target, grants, courses)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"grants":        grants,
		"course_grants": courses,
		"effective":     gs.Effective(),
	})
}

func (h *PermissionsHandler) upsertGrant(w http.ResponseWriter, r *http.Request) {
	capability, err := ParseCapability(chi.URLParam(r, "capability"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.FromValidator(err))
		return
	}
	actor, target, ok := h.authorizeTarget(w, r, UserActionGrant)
	if !ok {
		return
	}
	grant, err := h.store.UpsertGrant(r.Context(), target.GetID(), capability, *req.Granted, req.ExpiresAt, actor.PrincipalID)
	if err != nil {
		h.fail(w, "upsert grant", err)
		return
	}
	shared.RecordBestEffort(r.Context(), h.audit, h.logger, shared.AuditLog{
		ActorID:  actor.PrincipalID,
		Action:   "grant.upsert",
		Entity:   "user",
		EntityID: strconv.FormatInt(target.GetID(), 10),
		Meta:     map[string]any{"capability": capability, "granted": *req.Granted, "expires_at": req.ExpiresAt},
	})
	httpx.JSON(w, http.StatusOK, grant)
}

func (h *PermissionsHandler) revokeGrant(w http.ResponseWriter, r *http.Request) {
	capability, err := ParseCapability(chi.URLParam(r, "capability"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, target, ok := h.authorizeTarget(w, r, UserActionGrant)
	if !ok {
		return
	}
	if err := h.store.RevokeGrant(r.Context(), target.GetID(), capability); err != nil {
		h.fail(w, "revoke grant", err)
		return
	}
	shared.RecordBestEffort(r.Context(), h.audit, h.logger, shared.AuditLog{
		ActorID:  actor.PrincipalID,
		Action:   "grant.revoke",
		Entity:   "user",
		EntityID: strconv.FormatInt(target.GetID(), 10),
		Meta:     map[string]any{"capability": capability},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *PermissionsHandler) upsertCourseGrant(w http.ResponseWriter, r *http.Request) {
	courseID, err := httpx.IDParam(r, "courseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req courseGrantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.FromValidator(err))
		return
	}
	actor, target, ok := h.authorizeTarget(w, r, UserActionGrant)
	if !ok {
		return
	}
	grant, err := h.store.UpsertCourseGrant(r.Context(), target.GetID(), courseID, AccessMode(req.Mode), req.ExpiresAt)
	if err != nil {
		h.fail(w, "upsert course grant", err)
		return
	}
	shared.RecordBestEffort(r.Context(), h.audit, h.logger, shared.AuditLog{
		ActorID:  actor.PrincipalID,
		Action:   "course_grant.upsert",
		Entity:   "user",
		EntityID: strconv.FormatInt(target.GetID(), 10),
		Meta:     map[string]any{"course_id": courseID, "mode": req.Mode},
	})
	httpx.JSON(w, http.StatusOK, grant)
}

// authorizeTarget loads the target account and applies CanModifyUser. It writes the error
// response itself and reports false when the request must stop.
func (h *PermissionsHandler) authorizeTarget(w http.ResponseWriter, r *http.Request, action UserAction) (GrantSet, Principal, bool) {
	actor, ok := GrantSetFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return GrantSet{}, nil, false
	}
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return GrantSet{}, nil, false
	}
	target, err := h.lookup(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return GrantSet{}, nil, false
	}
	if err := CanModifyUser(actor, UserTarget{ID: target.GetID(), SuperUser: target.IsSuperUser()}, action); err != nil {
		if h.logger != nil {
			h.logger.Info("grant change rejected",
				slog.Int64("actor_id", actor.PrincipalID),
				slog.Int64("target_id", target.GetID()),
				slog.String("action", string(action)),
				slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return GrantSet{}, nil, false
	}
	return actor, target, true
}

func (h *PermissionsHandler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
