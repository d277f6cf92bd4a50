package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"

	"github.com/lumen-lms/lumen/internal/platform/httpx"
	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
)

const (
	idempotencyHeader = "Idempotency-Key"
	rosterSheet       = "Roster"
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// NameResolver returns the display name and email of a user for roster exports.
type NameResolver func(ctx context.Context, userID int64) (name, email string, err error)

// Handler exposes the calendar API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	names   NameResolver
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// SetNameResolver enables names in roster exports.
func (h *Handler) SetNameResolver(n NameResolver) { h.names = n }

// MountRoutes registers calendar routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAuthenticated())
	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.listEvents)
		r.Post("/", h.createEvent)
		r.Get("/{id}", h.getEvent)
		r.Patch("/{id}", h.updateEvent)
		r.Delete("/{id}", h.deleteEvent)
		r.Post("/{id}/attendees", h.addAttendee)
		r.Delete("/{id}/attendees/{userID}", h.removeAttendee)
		r.Put("/{id}/rsvp", h.respond)
		r.Get("/{id}/attendees.xlsx", h.exportRoster)
	})
}

type attendeeRequest struct {
	UserID int64 `json:"user_id"`
}

type rsvpRequest struct {
	RSVP string `json:"rsvp"`
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.GrantSetFromContext(r.Context())
	from, err := parseInstant(r, "from")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := parseInstant(r, "to")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	events, err := h.service.ListRange(r.Context(), actor, from, to)
	if err != nil {
		h.fail(w, "list events failed", err)
		return
	}
	if events == nil {
		events = []Event{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.GrantSetFromContext(r.Context())
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Create(r.Context(), actor, in, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.fail(w, "create event failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	event, attendees, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get event failed", err)
		return
	}
	if attendees == nil {
		attendees = []Attendee{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"event": event, "attendees": attendees})
}

func (h *Handler) updateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope, err := ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var patch Patch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	res, err := h.service.Update(r.Context(), actor, id, patch, scope)
	if err != nil {
		h.fail(w, "update event failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope, err := ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	res, err := h.service.Delete(r.Context(), actor, id, scope)
	if err != nil {
		h.fail(w, "delete event failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) addAttendee(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req attendeeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	attendee, err := h.service.AddAttendee(r.Context(), actor, id, req.UserID)
	if err != nil {
		h.fail(w, "add attendee failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, attendee)
}

func (h *Handler) removeAttendee(w http.ResponseWriter, r *http.Request) {
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
	actor, _ := rbac.GrantSetFromContext(r.Context())
	if err := h.service.RemoveAttendee(r.Context(), actor, id, userID); err != nil {
		h.fail(w, "remove attendee failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req rsvpRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	attendee, err := h.service.RespondRSVP(r.Context(), actor, id, RSVP(req.RSVP))
	if err != nil {
		h.fail(w, "rsvp failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, attendee)
}

func (h *Handler) exportRoster(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := rbac.GrantSetFromContext(r.Context())
	event, attendees, err := h.service.Roster(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "roster export failed", err)
		return
	}
	book, err := h.rosterWorkbook(r.Context(), event, attendees)
	if err != nil {
		h.fail(w, "roster export failed", err)
		return
	}
	defer book.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"event-%d-attendees.xlsx\"", event.ID))
	w.WriteHeader(http.StatusOK)
	if err := book.Write(w); err != nil && h.logger != nil {
		h.logger.Warn("write roster workbook", slog.Int64("event_id", event.ID), slog.Any("error", err))
	}
}

func (h *Handler) rosterWorkbook(ctx context.Context, event Event, attendees []Attendee) (*excelize.File, error) {
	book := excelize.NewFile()
	if err := book.SetSheetName("Sheet1", rosterSheet); err != nil {
		book.Close()
		return nil, err
	}
	header := []any{"Event", event.Title, "Start", event.Start.UTC().Format(time.RFC3339)}
	if err := book.SetSheetRow(rosterSheet, "A1", &header); err != nil {
		book.Close()
		return nil, err
	}
	columns := []any{"User ID", "Name", "Email", "RSVP", "Updated"}
	if err := book.SetSheetRow(rosterSheet, "A3", &columns); err != nil {
		book.Close()
		return nil, err
	}
	for i, a := range attendees {
		name, email := "", ""
		if h.names != nil {
			var err error
			if name, email, err = h.names(ctx, a.UserID); err != nil && h.logger != nil {
				h.logger.Debug("roster name lookup", slog.Int64("user_id", a.UserID), slog.Any("error", err))
			}
		}
		row := []any{a.UserID, name, email, string(a.RSVP), a.UpdatedAt.UTC().Format(time.RFC3339)}
		cell, err := excelize.CoordinatesToCellName(1, i+4)
		if err != nil {
			book.Close()
			return nil, err
		}
		if err := book.SetSheetRow(rosterSheet, cell, &row); err != nil {
			book.Close()
			return nil, err
		}
	}
	return book, nil
}

func parseInstant(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, shared.NewValidationError(name, "is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, shared.NewValidationError(name, "must be RFC3339 or unix seconds")
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if h.logger != nil {
		h.logger.Warn(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
