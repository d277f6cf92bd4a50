package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lumen-lms/lumen/internal/meeting"
	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
)

const (
	idempotencyModule     = "calendar.create"
	defaultMeetingTimeout = 3 * time.Second
	maxRangeSpan          = 366 * 24 * time.Hour
)

// MeetingService is the video-conference companion.
type MeetingService interface {
	Enabled() bool
	Create(ctx context.Context, r meeting.Request) (meeting.Meeting, error)
	Update(ctx context.Context, id string, r meeting.Request) error
	Delete(ctx context.Context, id string) error
}

// CourseLookup resolves the author of a course for linking checks.
type CourseLookup interface {
	CourseRef(ctx context.Context, id int64) (rbac.CourseRef, error)
}

// CleanupEnqueuer schedules a later retry of a failed meeting deletion.
type CleanupEnqueuer interface {
	EnqueueMeetingCleanup(ctx context.Context, meetingID string) error
}

// CompanionObserver counts companion failures.
type CompanionObserver interface {
	CompanionFailure(op string)
}

// Service coordinates event mutations across single rows and whole series.
type Service struct {
	repo           Repository
	locker         shared.Locker
	logger         *slog.Logger
	validator      *validator.Validate
	meetings       MeetingService
	meetingTimeout time.Duration
	courses        CourseLookup
	idempotency    shared.IdempotencyGuard
	audit          shared.AuditRecorder
	cleanup        CleanupEnqueuer
	observer       CompanionObserver
}

// NewService builds Service instance. A nil locker relies on row locks alone.
func NewService(repo Repository, locker shared.Locker, logger *slog.Logger) *Service {
	return &Service{
		repo:           repo,
		locker:         locker,
		logger:         logger,
		validator:      validator.New(),
		meetingTimeout: defaultMeetingTimeout,
	}
}

// SetMeetingService wires the companion with a per-call timeout.
func (s *Service) SetMeetingService(m MeetingService, timeout time.Duration) {
	s.meetings = m
	if timeout > 0 {
		s.meetingTimeout = timeout
	}
}

// SetCourseLookup enables course-linked events.
func (s *Service) SetCourseLookup(c CourseLookup) { s.courses = c }

// SetIdempotencyGuard enables Idempotency-Key handling on create.
func (s *Service) SetIdempotencyGuard(g shared.IdempotencyGuard) { s.idempotency = g }

// SetAuditRecorder wires the audit sink.
func (s *Service) SetAuditRecorder(a shared.AuditRecorder) { s.audit = a }

// SetCleanupEnqueuer wires background retries of failed meeting deletions.
func (s *Service) SetCleanupEnqueuer(c CleanupEnqueuer) { s.cleanup = c }

// SetObserver wires companion failure metrics.
func (s *Service) SetObserver(o CompanionObserver) { s.observer = o }

// Create stores a standalone event or a whole series in one transaction.
func (s *Service) Create(ctx context.Context, actor rbac.GrantSet, in CreateInput, idempotencyKey string) (Result, error) {
	if actor.PrincipalID == 0 {
		return Result{}, shared.ErrUnauthenticated
	}
	if err := s.validator.Struct(in); err != nil {
		return Result{}, shared.FromValidator(err)
	}
	if in.Type == "" {
		in.Type = TypeOther
	}
	if !in.Type.IsValid() {
		return Result{}, shared.NewValidationError("type", "unknown event type")
	}
	base := Event{
		CreatedBy:   actor.PrincipalID,
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		Start:       in.Start,
		End:         in.End,
		AllDay:      in.AllDay,
		Type:        in.Type,
		Status:      StatusScheduled,
		CourseID:    in.CourseID,
		Shape:       Standalone{},
	}
	if err := base.ValidateWindow(); err != nil {
		return Result{}, err
	}
	if err := s.authorizeCreate(ctx, actor, in.CourseID); err != nil {
		return Result{}, err
	}
	attendees := uniqueAttendees(in.AttendeeIDs, actor.PrincipalID)
	occurrences := []Base{{Start: base.Start, End: base.End}}
	if in.Recurrence != nil {
		var err error
		occurrences, err = Expand(*in.Recurrence, Base{
			Title: base.Title, Description: base.Description, Location: base.Location,
			Start: base.Start, End: base.End, AllDay: base.AllDay, AttendeeIDs: attendees,
		})
		if err != nil {
			return Result{}, err
		}
		base.Shape = RecurringParent{Rule: *in.Recurrence}
	}

	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, idempotencyModule); err != nil {
			return Result{}, err
		}
	}

	var created []Event
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created = created[:0]
		parent, err := tx.Insert(ctx, base)
		if err != nil {
			return err
		}
		created = append(created, parent)
		for _, occ := range occurrences[1:] {
			child := base
			child.Start, child.End = occ.Start, occ.End
			child.Shape = Occurrence{ParentID: parent.ID}
			saved, err := tx.Insert(ctx, child)
			if err != nil {
				return err
			}
			created = append(created, saved)
		}
		for _, e := range created {
			for _, userID := range attendees {
				if _, err := tx.AddAttendee(ctx, e.ID, userID, RSVPPending); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if idempotencyKey != "" && s.idempotency != nil {
			if derr := s.idempotency.Delete(ctx, idempotencyKey); derr != nil && s.logger != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", derr))
			}
		}
		return Result{}, fmt.Errorf("calendar: create: %w", err)
	}

	res := Result{Events: created, Affected: len(created)}
	if in.WithMeeting {
		s.attachMeeting(ctx, &res)
	}
	s.record(ctx, actor, "calendar.create", created[0].ID, map[string]any{
		"occurrences": len(created),
		"attendees":   len(attendees),
	})
	return res, nil
}

// Get returns an event with its attendees if the actor may see it.
func (s *Service) Get(ctx context.Context, actor rbac.GrantSet, id int64) (Event, []Attendee, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return Event{}, nil, err
	}
	if err := s.authorizeView(ctx, actor, e); err != nil {
		return Event{}, nil, err
	}
	attendees, err := s.repo.ListAttendees(ctx, id)
	if err != nil {
		return Event{}, nil, err
	}
	return e, attendees, nil
}

// ListRange returns events overlapping [from, to). Principals without calendar.view only
// see events they created or attend.
func (s *Service) ListRange(ctx context.Context, actor rbac.GrantSet, from, to time.Time) ([]Event, error) {
	if actor.PrincipalID == 0 {
		return nil, shared.ErrUnauthenticated
	}
	if !to.After(from) {
		return nil, shared.NewValidationError("to", "must be after from")
	}
	if to.Sub(from) > maxRangeSpan {
		return nil, shared.NewValidationError("to", "range must not exceed 366 days")
	}
	q := RangeQuery{From: from, To: to, UserID: actor.PrincipalID}
	if canViewAll(actor) {
		q.UserID = 0
	}
	return s.repo.ListRange(ctx, q)
}

// Update applies patch to the rows selected by scope. Time changes are applied as a
// delta from the target row so every occurrence keeps its slot in the series.
func (s *Service) Update(ctx context.Context, actor rbac.GrantSet, id int64, patch Patch, scope Scope) (Result, error) {
	if err := s.validatePatch(patch); err != nil {
		return Result{}, err
	}
	var updated []Event
	err := s.mutateSeries(ctx, actor, id, func(ctx context.Context, tx TxRepository, rows []Event, target Event) error {
		selected := selectForUpdate(rows, target, scope)
		if err := authorizeOwner(actor, selected); err != nil {
			return err
		}
		shift, duration := plan(target, patch)
		updated = updated[:0]
		for _, row := range selected {
			next := applyPatch(row, patch, shift, duration)
			if err := next.ValidateWindow(); err != nil {
				return err
			}
			saved, err := tx.Update(ctx, next)
			if err != nil {
				return err
			}
			updated = append(updated, saved)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Events: updated, Affected: len(updated)}
	if patch.touchesMeeting() {
		for _, e := range updated {
			if e.MeetingID != "" {
				s.syncMeeting(ctx, &res, e)
			}
		}
	}
	s.record(ctx, actor, "calendar.update", id, map[string]any{"scope": scope, "affected": len(updated)})
	return res, nil
}

// Delete removes the rows selected by scope. Deleting a recurring parent removes its
// occurrences whatever the scope.
func (s *Service) Delete(ctx context.Context, actor rbac.GrantSet, id int64, scope Scope) (Result, error) {
	var deleted []Event
	err := s.mutateSeries(ctx, actor, id, func(ctx context.Context, tx TxRepository, rows []Event, target Event) error {
		selected := selectForDelete(rows, target, scope)
		if err := authorizeOwner(actor, selected); err != nil {
			return err
		}
		ids := make([]int64, len(selected))
		for i, e := range selected {
			ids[i] = e.ID
		}
		if err := tx.Delete(ctx, ids); err != nil {
			return err
		}
		deleted = selected
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Events: deleted, Affected: len(deleted)}
	for _, e := range deleted {
		if e.MeetingID != "" {
			s.deleteMeeting(ctx, &res, e)
		}
	}
	s.record(ctx, actor, "calendar.delete", id, map[string]any{"scope": scope, "affected": len(deleted)})
	return res, nil
}

// AddAttendee invites userID to one event row. Only the creator may invite.
func (s *Service) AddAttendee(ctx context.Context, actor rbac.GrantSet, eventID, userID int64) (Attendee, error) {
	if userID <= 0 {
		return Attendee{}, shared.NewValidationError("user_id", "must be a positive integer")
	}
	e, err := s.repo.Get(ctx, eventID)
	if err != nil {
		return Attendee{}, err
	}
	if err := authorizeOwner(actor, []Event{e}); err != nil {
		return Attendee{}, err
	}
	var a Attendee
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		a, err = tx.AddAttendee(ctx, eventID, userID, RSVPPending)
		return err
	})
	if err != nil {
		return Attendee{}, err
	}
	s.record(ctx, actor, "calendar.attendee_add", eventID, map[string]any{"user_id": userID})
	return a, nil
}

// RemoveAttendee drops userID from the event. The creator may remove anyone; everybody
// may remove themselves.
func (s *Service) RemoveAttendee(ctx context.Context, actor rbac.GrantSet, eventID, userID int64) error {
	e, err := s.repo.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if actor.PrincipalID == 0 {
		return shared.ErrUnauthenticated
	}
	if userID != actor.PrincipalID {
		if err := authorizeOwner(actor, []Event{e}); err != nil {
			return err
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.RemoveAttendee(ctx, eventID, userID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "calendar.attendee_remove", eventID, map[string]any{"user_id": userID})
	return nil
}

// RespondRSVP records the actor's own response.
func (s *Service) RespondRSVP(ctx context.Context, actor rbac.GrantSet, eventID int64, rsvp RSVP) (Attendee, error) {
	if actor.PrincipalID == 0 {
		return Attendee{}, shared.ErrUnauthenticated
	}
	rsvp, err := ParseRSVP(string(rsvp))
	if err != nil {
		return Attendee{}, err
	}
	var a Attendee
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		a, err = tx.SetRSVP(ctx, eventID, actor.PrincipalID, rsvp)
		return err
	})
	return a, err
}

// Roster returns the event and its attendees for export. Only the creator or holders of
// calendar.manage may export.
func (s *Service) Roster(ctx context.Context, actor rbac.GrantSet, id int64) (Event, []Attendee, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return Event{}, nil, err
	}
	if e.CreatedBy != actor.PrincipalID && !rbac.HasPermission(actor, shared.PermCalendarManage) {
		return Event{}, nil, fmt.Errorf("calendar: roster of event %d: %w", id, shared.ErrUnauthorized)
	}
	attendees, err := s.repo.ListAttendees(ctx, id)
	if err != nil {
		return Event{}, nil, err
	}
	return e, attendees, nil
}

type seriesMutation func(ctx context.Context, tx TxRepository, rows []Event, target Event) error

// mutateSeries serialises mutations of one series: a redis lock keyed by the root id,
// then the root and its occurrences locked FOR UPDATE inside one transaction.
func (s *Service) mutateSeries(ctx context.Context, actor rbac.GrantSet, id int64, fn seriesMutation) error {
	if actor.PrincipalID == 0 {
		return shared.ErrUnauthenticated
	}
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	root := target.RootID()
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.EventSeriesLockKey(root))
		if err != nil {
			return err
		}
		defer release()
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, err := tx.LockSeries(ctx, root)
		if err != nil {
			return err
		}
		current, ok := findEvent(rows, id)
		if !ok {
			return ErrNotFound
		}
		if current.RootID() != root {
			return ErrConcurrentUpdate
		}
		return fn(ctx, tx, rows, current)
	})
}

func selectForUpdate(rows []Event, target Event, scope Scope) []Event {
	switch scope {
	case ScopeSeries:
		return rows
	case ScopeFollowing:
		if !target.IsOccurrence() {
			return rows
		}
		return followingOccurrences(rows, target)
	default:
		return []Event{target}
	}
}

func selectForDelete(rows []Event, target Event, scope Scope) []Event {
	if target.IsParent() || scope == ScopeSeries {
		return rows
	}
	if scope == ScopeFollowing && target.IsOccurrence() {
		return followingOccurrences(rows, target)
	}
	return []Event{target}
}

func followingOccurrences(rows []Event, target Event) []Event {
	var out []Event
	for _, e := range rows {
		if e.IsOccurrence() && !e.Start.Before(target.Start) {
			out = append(out, e)
		}
	}
	return out
}

func findEvent(rows []Event, id int64) (Event, bool) {
	for _, e := range rows {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

// plan derives the start shift and, when End is patched, the new duration.
func plan(target Event, p Patch) (time.Duration, *time.Duration) {
	var shift time.Duration
	start := target.Start
	if p.Start != nil {
		shift = p.Start.Sub(target.Start)
		start = *p.Start
	}
	if p.End == nil {
		return shift, nil
	}
	d := p.End.Sub(start)
	return shift, &d
}

func applyPatch(e Event, p Patch, shift time.Duration, duration *time.Duration) Event {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.AllDay != nil {
		e.AllDay = *p.AllDay
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	e.Start = e.Start.Add(shift)
	switch {
	case duration != nil:
		e.End = e.Start.Add(*duration)
	case !e.End.IsZero():
		e.End = e.End.Add(shift)
	}
	return e
}

func (s *Service) validatePatch(p Patch) error {
	if err := s.validator.Struct(p); err != nil {
		return shared.FromValidator(err)
	}
	if p.IsEmpty() {
		return shared.NewValidationError("", "no fields to update")
	}
	if p.Type != nil && !p.Type.IsValid() {
		return shared.NewValidationError("type", "unknown event type")
	}
	if p.Status != nil && !p.Status.IsValid() {
		return shared.NewValidationError("status", "unknown event status")
	}
	return nil
}

func authorizeOwner(actor rbac.GrantSet, events []Event) error {
	for _, e := range events {
		if e.CreatedBy != actor.PrincipalID {
			return fmt.Errorf("calendar: only the creator may modify event %d: %w", e.ID, shared.ErrUnauthorized)
		}
	}
	return nil
}

func canViewAll(actor rbac.GrantSet) bool {
	return actor.Role == rbac.RoleAdmin || rbac.HasPermission(actor, shared.PermCalendarView)
}

func (s *Service) authorizeView(ctx context.Context, actor rbac.GrantSet, e Event) error {
	if actor.PrincipalID == 0 {
		return shared.ErrUnauthenticated
	}
	if e.CreatedBy == actor.PrincipalID || canViewAll(actor) {
		return nil
	}
	ok, err := s.repo.IsAttendee(ctx, e.ID, actor.PrincipalID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("calendar: view event %d: %w", e.ID, shared.ErrUnauthorized)
	}
	return nil
}

func (s *Service) authorizeCreate(ctx context.Context, actor rbac.GrantSet, courseID *int64) error {
	if actor.Role == rbac.RoleGuest {
		return fmt.Errorf("calendar: guests cannot create events: %w", shared.ErrUnauthorized)
	}
	if courseID == nil {
		return nil
	}
	if s.courses == nil {
		return shared.NewValidationError("course_id", "course linking is not available")
	}
	ref, err := s.courses.CourseRef(ctx, *courseID)
	if err != nil {
		return err
	}
	if !rbac.CanAccessCourse(actor, ref, rbac.AccessEdit) {
		return fmt.Errorf("calendar: link to course %d: %w", *courseID, shared.ErrUnauthorized)
	}
	return nil
}

func uniqueAttendees(ids []int64, creator int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == creator {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func meetingRequest(e Event) meeting.Request {
	end := e.End
	if end.IsZero() || !end.After(e.Start) {
		end = e.Start.Add(24 * time.Hour)
	}
	return meeting.Request{Topic: e.Title, StartTime: e.Start, EndTime: end}
}

func (s *Service) companionReady() bool {
	return s.meetings != nil && s.meetings.Enabled()
}

func (s *Service) attachMeeting(ctx context.Context, res *Result) {
	parent := res.Events[0]
	if !s.companionReady() {
		res.Warnings = append(res.Warnings, "video meeting not created: companion service is not configured")
		return
	}
	mctx, cancel := context.WithTimeout(ctx, s.meetingTimeout)
	m, err := s.meetings.Create(mctx, meetingRequest(parent))
	cancel()
	if err != nil {
		s.companionFailed(res, "create", parent.ID, err, "video meeting could not be created; the event was saved without a link")
		return
	}
	if err := s.repo.SetMeeting(ctx, parent.ID, m.ID, m.JoinURL); err != nil {
		s.companionFailed(res, "link", parent.ID, err, "video meeting was created but could not be linked to the event")
		s.scheduleCleanup(ctx, m.ID)
		return
	}
	res.Events[0].MeetingID = m.ID
	res.Events[0].MeetingURL = m.JoinURL
}

func (s *Service) syncMeeting(ctx context.Context, res *Result, e Event) {
	if !s.companionReady() {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, s.meetingTimeout)
	err := s.meetings.Update(mctx, e.MeetingID, meetingRequest(e))
	cancel()
	if err != nil {
		s.companionFailed(res, "update", e.ID, err, fmt.Sprintf("video meeting for event %d could not be updated", e.ID))
	}
}

func (s *Service) deleteMeeting(ctx context.Context, res *Result, e Event) {
	if !s.companionReady() {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, s.meetingTimeout)
	err := s.meetings.Delete(mctx, e.MeetingID)
	cancel()
	if err != nil {
		s.companionFailed(res, "delete", e.ID, err, fmt.Sprintf("video meeting for event %d could not be cancelled", e.ID))
		s.scheduleCleanup(ctx, e.MeetingID)
	}
}

func (s *Service) companionFailed(res *Result, op string, eventID int64, err error, warning string) {
	res.Warnings = append(res.Warnings, warning)
	if s.observer != nil {
		s.observer.CompanionFailure(op)
	}
	if s.logger != nil {
		s.logger.Warn("meeting companion call failed",
			slog.String("op", op),
			slog.Int64("event_id", eventID),
			slog.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			slog.Any("error", err))
	}
}

func (s *Service) scheduleCleanup(ctx context.Context, meetingID string) {
	if s.cleanup == nil || meetingID == "" {
		return
	}
	if err := s.cleanup.EnqueueMeetingCleanup(ctx, meetingID); err != nil && s.logger != nil {
		s.logger.Warn("enqueue meeting cleanup", slog.String("meeting_id", meetingID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor rbac.GrantSet, action string, eventID int64, meta map[string]any) {
	shared.RecordBestEffort(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actor.PrincipalID,
		Action:   action,
		Entity:   "calendar_event",
		EntityID: strconv.FormatInt(eventID, 10),
		Meta:     meta,
	})
}
