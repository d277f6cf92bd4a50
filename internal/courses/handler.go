package courses

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lumen-lms/lumen/internal/platform/httpx"
	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
)

// Handler manages course endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers course routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAuthenticated())
	r.Get("/", h.listCourses)
	r.Post("/", h.createCourse)
	r.Get("/{id}", h.getCourse)
	r.Get("/{id}/enrollments", h.listEnrollments)
	r.Put("/{id}/enrollments/{userID}", h.enroll)
	r.Patch("/{id}", h.updateCourse)
}

type enrollRequest struct {
	Status string `json:"status"`
}

func (h *Handler) listCourses(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.GrantSetFromContext(r.Context())
	var authorID int64
	if raw := r.URL.Query().Get("author_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, shared.NewValidationError("author_id", "must be a positive integer"))
			return
		}
		authorID = id
	}
	list, pagination, err := h.service.List(r.Context(), actor, shared.PageFromRequest(r), authorID)
	if err != nil {
		h.fail(w, "list courses failed", err)
		return
	}
	if list == nil {
		list = []Course{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"courses": list, "pagination": pagination})
}

func (h *Handler) getCourse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	c, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get course failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) createCourse(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	c, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "create course failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) updateCourse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	c, err := h.service.Update(r.Context(), actor, id, in)
	if err != nil {
		h.fail(w, "update course failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) listEnrollments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	list, err := h.service.Enrollments(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "list enrollments failed", err)
		return
	}
	if list == nil {
		list = []Enrollment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"enrollments": list})
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req enrollRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	status, err := ParseEnrollmentStatus(req.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	e, err := h.service.Enroll(r.Context(), actor, id, userID, status)
	if err != nil {
		h.fail(w, "enroll failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if h.logger != nil {
		h.logger.Warn(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
