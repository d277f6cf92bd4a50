package courses

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
)

// Service implements course business rules.
type Service struct {
	repo      RepositoryPort
	audit     shared.AuditRecorder
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService constructs Service.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger, validator: validator.New()}
}

func canSeeDrafts(actor rbac.GrantSet) bool {
	return actor.Role == rbac.RoleAdmin || rbac.HasPermission(actor, shared.PermCourseView)
}

// List returns published courses plus drafts the actor may view.
func (s *Service) List(ctx context.Context, actor rbac.GrantSet, page shared.PageRequest, authorID int64) ([]Course, shared.Pagination, error) {
	if actor.PrincipalID == 0 {
		return nil, shared.Pagination{}, shared.ErrUnauthenticated
	}
	filter := ListFilter{AuthorID: authorID}
	if !canSeeDrafts(actor) {
		filter.PublishedOnly = true
		filter.VisibleTo = actor.PrincipalID
	}
	list, total, err := s.repo.List(ctx, page, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// Get loads a course. Drafts require view access.
func (s *Service) Get(ctx context.Context, actor rbac.GrantSet, id int64) (Course, error) {
	if actor.PrincipalID == 0 {
		return Course{}, shared.ErrUnauthenticated
	}
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if !c.Published && !rbac.CanAccessCourse(actor, c.Ref(), rbac.AccessView) {
		return Course{}, fmt.Errorf("courses: view course %d: %w", id, shared.ErrUnauthorized)
	}
	return c, nil
}

// Create stores a course authored by the actor.
func (s *Service) Create(ctx context.Context, actor rbac.GrantSet, in CreateInput) (Course, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validator.Struct(in); err != nil {
		return Course{}, shared.FromValidator(err)
	}
	if actor.Role != rbac.RoleAdmin && !rbac.HasPermission(actor, shared.PermCourseCreate) {
		return Course{}, fmt.Errorf("courses: create: %w", shared.ErrUnauthorized)
	}
	c, err := s.repo.Create(ctx, actor.PrincipalID, in)
	if err != nil {
		return Course{}, err
	}
	s.record(ctx, actor, "course.create", c.ID, map[string]any{"title": c.Title, "published": c.Published})
	return c, nil
}

// Update applies in to the course when the actor may edit it.
func (s *Service) Update(ctx context.Context, actor rbac.GrantSet, id int64, in UpdateInput) (Course, error) {
	if err := s.validator.Struct(in); err != nil {
		return Course{}, shared.FromValidator(err)
	}
	if in.Title == nil && in.Description == nil && in.Published == nil {
		return Course{}, shared.NewValidationError("", "no fields to update")
	}
	c, err := s.editable(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}
	if in.Title != nil {
		c.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		c.Description = *in.Description
	}
	if in.Published != nil {
		c.Published = *in.Published
	}
	updated, err := s.repo.Update(ctx, c)
	if err != nil {
		return Course{}, err
	}
	s.record(ctx, actor, "course.update", id, map[string]any{"published": updated.Published})
	return updated, nil
}

// Enrollments lists the roster for editors.
func (s *Service) Enrollments(ctx context.Context, actor rbac.GrantSet, id int64) ([]Enrollment, error) {
	if _, err := s.editable(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListEnrollments(ctx, id)
}

// Enroll adds userID or changes their status. Editors manage any learner; a principal
// may enroll in or drop a published course on their own.
func (s *Service) Enroll(ctx context.Context, actor rbac.GrantSet, courseID, userID int64, status EnrollmentStatus) (Enrollment, error) {
	if actor.PrincipalID == 0 {
		return Enrollment{}, shared.ErrUnauthenticated
	}
	c, err := s.repo.FindByID(ctx, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	self := userID == actor.PrincipalID && c.Published && status != EnrollmentCompleted
	if !self && !rbac.CanAccessCourse(actor, c.Ref(), rbac.AccessEdit) {
		return Enrollment{}, fmt.Errorf("courses: enroll user %d: %w", userID, shared.ErrUnauthorized)
	}
	e, err := s.repo.UpsertEnrollment(ctx, courseID, userID, status)
	if err != nil {
		return Enrollment{}, err
	}
	s.record(ctx, actor, "course.enroll", courseID, map[string]any{"user_id": userID, "status": status})
	return e, nil
}

// CourseRef resolves the access-control view of a course.
func (s *Service) CourseRef(ctx context.Context, id int64) (rbac.CourseRef, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return rbac.CourseRef{}, err
	}
	return c.Ref(), nil
}

// CountPublishedByAuthor counts published courses authored by userID.
func (s *Service) CountPublishedByAuthor(ctx context.Context, userID int64) (int, error) {
	return s.repo.CountPublishedByAuthor(ctx, userID)
}

func (s *Service) editable(ctx context.Context, actor rbac.GrantSet, id int64) (Course, error) {
	if actor.PrincipalID == 0 {
		return Course{}, shared.ErrUnauthenticated
	}
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if !rbac.CanAccessCourse(actor, c.Ref(), rbac.AccessEdit) {
		return Course{}, fmt.Errorf("courses: edit course %d: %w", id, shared.ErrUnauthorized)
	}
	return c, nil
}

func (s *Service) record(ctx context.Context, actor rbac.GrantSet, action string, courseID int64, meta map[string]any) {
	shared.RecordBestEffort(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actor.PrincipalID,
		Action:   action,
		Entity:   "course",
		EntityID: strconv.FormatInt(courseID, 10),
		Meta:     meta,
	})
}
