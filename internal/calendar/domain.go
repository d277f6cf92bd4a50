package calendar

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/lumen-lms/lumen/internal/shared"
)

// EventType classifies an event.
type EventType string

const (
	TypeClass       EventType = "class"
	TypeExam        EventType = "exam"
	TypeMeeting     EventType = "meeting"
	TypeOfficeHours EventType = "office_hours"
	TypeDeadline    EventType = "deadline"
	TypeOther       EventType = "other"
)

// IsValid reports whether t is a known type.
func (t EventType) IsValid() bool {
	switch t {
	case TypeClass, TypeExam, TypeMeeting, TypeOfficeHours, TypeDeadline, TypeOther:
		return true
	default:
		return false
	}
}

// EventStatus is the lifecycle of a single event row.
type EventStatus string

const (
	StatusScheduled EventStatus = "scheduled"
	StatusCancelled EventStatus = "cancelled"
	StatusCompleted EventStatus = "completed"
)

// IsValid reports whether s is a known status.
func (s EventStatus) IsValid() bool {
	switch s {
	case StatusScheduled, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

// Frequency is the recurrence unit.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// Rule bounds a recurring series. At least one of Count or Until must be set.
type Rule struct {
	Frequency Frequency  `json:"frequency"`
	Interval  int        `json:"interval"`
	Count     int        `json:"count,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
}

// Shape distinguishes standalone events, recurring parents and their occurrences.
// The set of implementations is closed.
type Shape interface {
	shape()
}

// Standalone is a one-off event.
type Standalone struct{}

// RecurringParent owns the rule and anchors the first occurrence.
type RecurringParent struct {
	Rule Rule
}

// Occurrence is a materialised instance of a series.
type Occurrence struct {
	ParentID int64
}

func (Standalone) shape()      {}
func (RecurringParent) shape() {}
func (Occurrence) shape()      {}

// Event is one calendar row.
type Event struct {
	ID          int64
	CreatedBy   int64
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Type        EventType
	Status      EventStatus
	CourseID    *int64
	MeetingID   string
	MeetingURL  string
	Shape       Shape
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RootID is the series root: the parent id for occurrences and the own id otherwise.
func (e Event) RootID() int64 {
	if o, ok := e.Shape.(Occurrence); ok {
		return o.ParentID
	}
	return e.ID
}

// IsParent reports whether e carries a recurrence rule.
func (e Event) IsParent() bool {
	_, ok := e.Shape.(RecurringParent)
	return ok
}

// IsOccurrence reports whether e belongs to a parent.
func (e Event) IsOccurrence() bool {
	_, ok := e.Shape.(Occurrence)
	return ok
}

// ValidateWindow enforces start < end unless the event is all-day.
func (e Event) ValidateWindow() error {
	if e.Start.IsZero() {
		return shared.NewValidationError("start_time", "is required")
	}
	if e.AllDay {
		if !e.End.IsZero() && e.End.Before(e.Start) {
			return shared.NewValidationError("end_time", "must not be before start_time")
		}
		return nil
	}
	if !e.End.After(e.Start) {
		return shared.NewValidationError("end_time", "must be after start_time")
	}
	return nil
}

type eventJSON struct {
	ID            int64       `json:"id"`
	CreatedBy     int64       `json:"created_by"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	Location      string      `json:"location,omitempty"`
	Start         time.Time   `json:"start_time"`
	End           time.Time   `json:"end_time"`
	AllDay        bool        `json:"all_day"`
	Type          EventType   `json:"type"`
	Status        EventStatus `json:"status"`
	CourseID      *int64      `json:"course_id,omitempty"`
	MeetingURL    string      `json:"meeting_url,omitempty"`
	IsRecurring   bool        `json:"is_recurring"`
	Recurrence    *Rule       `json:"recurrence,omitempty"`
	ParentEventID *int64      `json:"parent_event_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// MarshalJSON flattens the shape into is_recurring / recurrence / parent_event_id.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		ID: e.ID, CreatedBy: e.CreatedBy, Title: e.Title, Description: e.Description,
		Location: e.Location, Start: e.Start, End: e.End, AllDay: e.AllDay, Type: e.Type,
		Status: e.Status, CourseID: e.CourseID, MeetingURL: e.MeetingURL,
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	}
	switch s := e.Shape.(type) {
	case RecurringParent:
		rule := s.Rule
		out.IsRecurring = true
		out.Recurrence = &rule
	case Occurrence:
		parent := s.ParentID
		out.ParentEventID = &parent
	}
	return json.Marshal(out)
}

// RSVP is an attendee response.
type RSVP string

const (
	RSVPPending  RSVP = "pending"
	RSVPAccepted RSVP = "accepted"
	RSVPDeclined RSVP = "declined"
	RSVPMaybe    RSVP = "maybe"
)

// ParseRSVP validates a response.
func ParseRSVP(raw string) (RSVP, error) {
	switch r := RSVP(strings.ToLower(strings.TrimSpace(raw))); r {
	case RSVPPending, RSVPAccepted, RSVPDeclined, RSVPMaybe:
		return r, nil
	default:
		return "", shared.NewValidationError("rsvp", "must be pending, accepted, declined or maybe")
	}
}

// Attendee links a user to one event row.
type Attendee struct {
	EventID   int64     `json:"event_id"`
	UserID    int64     `json:"user_id"`
	RSVP      RSVP      `json:"rsvp"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scope selects which rows of a series a mutation touches.
type Scope string

const (
	ScopeSingle    Scope = "single"
	ScopeSeries    Scope = "series"
	ScopeFollowing Scope = "following"
)

// ParseScope validates a scope; empty means single.
func ParseScope(raw string) (Scope, error) {
	switch s := Scope(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return ScopeSingle, nil
	case ScopeSingle, ScopeSeries, ScopeFollowing:
		return s, nil
	default:
		return "", shared.NewValidationError("scope", "must be single, series or following")
	}
}

// CreateInput carries a new event request.
type CreateInput struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	Location    string    `json:"location" validate:"max=200"`
	Start       time.Time `json:"start_time" validate:"required"`
	End         time.Time `json:"end_time"`
	AllDay      bool      `json:"all_day"`
	Type        EventType `json:"type"`
	CourseID    *int64    `json:"course_id"`
	Recurrence  *Rule     `json:"recurrence"`
	AttendeeIDs []int64   `json:"attendee_ids" validate:"max=500,dive,gt=0"`
	WithMeeting bool      `json:"with_meeting"`
}

// Patch carries field changes. Nil fields are untouched. Start and End shifts are applied
// to every selected row as a delta from the target row.
type Patch struct {
	Title       *string      `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string      `json:"description" validate:"omitempty,max=5000"`
	Location    *string      `json:"location" validate:"omitempty,max=200"`
	Start       *time.Time   `json:"start_time"`
	End         *time.Time   `json:"end_time"`
	AllDay      *bool        `json:"all_day"`
	Type        *EventType   `json:"type"`
	Status      *EventStatus `json:"status"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Location == nil && p.Start == nil &&
		p.End == nil && p.AllDay == nil && p.Type == nil && p.Status == nil
}

// touchesMeeting reports whether the companion meeting needs to follow the change.
func (p Patch) touchesMeeting() bool {
	return p.Title != nil || p.Start != nil || p.End != nil
}

// Result reports a mutation. Warnings carry non-fatal companion failures.
type Result struct {
	Events   []Event  `json:"events"`
	Affected int      `json:"affected"`
	Warnings []string `json:"warnings,omitempty"`
}
