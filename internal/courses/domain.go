package courses

import (
	"strings"
	"time"

	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
)

// Course is a unit of teaching owned by its author.
type Course struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	AuthorID    int64     `json:"author_id"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Ref returns the access-control view of the course.
func (c Course) Ref() rbac.CourseRef {
	return rbac.CourseRef{ID: c.ID, AuthorID: c.AuthorID}
}

// EnrollmentStatus tracks a learner in a course.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentDropped   EnrollmentStatus = "dropped"
)

// ParseEnrollmentStatus validates a status; empty means active.
func ParseEnrollmentStatus(raw string) (EnrollmentStatus, error) {
	switch s := EnrollmentStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return EnrollmentActive, nil
	case EnrollmentActive, EnrollmentCompleted, EnrollmentDropped:
		return s, nil
	default:
		return "", shared.NewValidationError("status", "must be active, completed or dropped")
	}
}

// Enrollment links a learner to a course.
type Enrollment struct {
	CourseID   int64            `json:"course_id"`
	UserID     int64            `json:"user_id"`
	Status     EnrollmentStatus `json:"status"`
	EnrolledAt time.Time        `json:"enrolled_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// ListFilter narrows course listings.
type ListFilter struct {
	// PublishedOnly hides drafts.
	PublishedOnly bool
	// VisibleTo additionally includes drafts authored by this user.
	VisibleTo int64
	AuthorID  int64
}

// CreateInput carries a new course.
type CreateInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=10000"`
	Published   bool   `json:"published"`
}

// UpdateInput carries course changes. Nil fields are untouched.
type UpdateInput struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=10000"`
	Published   *bool   `json:"published"`
}
