package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumen-lms/lumen/internal/platform/db"
	"github.com/lumen-lms/lumen/internal/shared"
)

var (
	// ErrNotFound indicates the event does not exist.
	ErrNotFound = fmt.Errorf("calendar: event %w", shared.ErrNotFound)
	// ErrAttendeeNotFound indicates the user does not attend the event.
	ErrAttendeeNotFound = fmt.Errorf("calendar: attendee %w", shared.ErrNotFound)
	// ErrDuplicateAttendee indicates the user already attends the event.
	ErrDuplicateAttendee = fmt.Errorf("calendar: attendee already added: %w", shared.ErrConflict)
	// ErrConcurrentUpdate is returned when the series changed under a transaction.
	ErrConcurrentUpdate = fmt.Errorf("calendar: series modified concurrently: %w", shared.ErrConflict)
)

// RangeQuery selects events overlapping [From, To).
type RangeQuery struct {
	From time.Time
	To   time.Time
	// UserID restricts to events created by or attended by the user; zero means all.
	UserID int64
}

// Repository defines calendar data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	Get(ctx context.Context, id int64) (Event, error)
	ListRange(ctx context.Context, q RangeQuery) ([]Event, error)
	ListAttendees(ctx context.Context, eventID int64) ([]Attendee, error)
	IsAttendee(ctx context.Context, eventID, userID int64) (bool, error)
	SetMeeting(ctx context.Context, eventID int64, meetingID, meetingURL string) error
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	Insert(ctx context.Context, e Event) (Event, error)
	// LockSeries locks the root and all of its occurrences, ordered by start ascending.
	LockSeries(ctx context.Context, rootID int64) ([]Event, error)
	Update(ctx context.Context, e Event) (Event, error)
	Delete(ctx context.Context, ids []int64) error

	AddAttendee(ctx context.Context, eventID, userID int64, rsvp RSVP) (Attendee, error)
	RemoveAttendee(ctx context.Context, eventID, userID int64) error
	SetRSVP(ctx context.Context, eventID, userID int64, rsvp RSVP) (Attendee, error)
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{db: tx})
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return ErrConcurrentUpdate
	}
	return err
}

const eventColumns = `id, created_by, title, description, location, start_time, end_time, all_day,
event_type, status, course_id, parent_event_id, is_recurring, recurrence_frequency,
recurrence_interval, recurrence_count, recurrence_until, COALESCE(meeting_id, ''),
COALESCE(meeting_url, ''), created_at, updated_at`

func scanEvent(row pgx.Row) (Event, error) {
	var (
		e           Event
		eventType   string
		status      string
		parentID    *int64
		isRecurring bool
		frequency   *string
		interval    *int32
		count       *int32
		until       *time.Time
	)
	err := row.Scan(&e.ID, &e.CreatedBy, &e.Title, &e.Description, &e.Location, &e.Start, &e.End, &e.AllDay,
		&eventType, &status, &e.CourseID, &parentID, &isRecurring, &frequency,
		&interval, &count, &until, &e.MeetingID,
		&e.MeetingURL, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, err
	}
	e.Type = EventType(eventType)
	e.Status = EventStatus(status)
	switch {
	case parentID != nil:
		e.Shape = Occurrence{ParentID: *parentID}
	case isRecurring && frequency != nil:
		rule := Rule{Frequency: Frequency(*frequency), Until: until}
		if interval != nil {
			rule.Interval = int(*interval)
		}
		if count != nil {
			rule.Count = int(*count)
		}
		e.Shape = RecurringParent{Rule: rule}
	default:
		e.Shape = Standalone{}
	}
	return e, nil
}

func collectEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()
	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM calendar_events WHERE id = $1`, id))
}

func (r *pgRepository) ListRange(ctx context.Context, q RangeQuery) ([]Event, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if q.UserID == 0 {
		rows, err = r.pool.Query(ctx, `SELECT `+eventColumns+` FROM calendar_events
WHERE start_time < $2 AND end_time >= $1 ORDER BY start_time, id`, q.From, q.To)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+eventColumns+` FROM calendar_events e
WHERE e.start_time < $2 AND e.end_time >= $1
  AND (e.created_by = $3 OR EXISTS (SELECT 1 FROM event_attendees a WHERE a.event_id = e.id AND a.user_id = $3))
ORDER BY e.start_time, e.id`, q.From, q.To, q.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("calendar: list range: %w", err)
	}
	return collectEvents(rows)
}

func (r *pgRepository) ListAttendees(ctx context.Context, eventID int64) ([]Attendee, error) {
	rows, err := r.pool.Query(ctx, `SELECT event_id, user_id, rsvp, updated_at FROM event_attendees WHERE event_id = $1 ORDER BY user_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("calendar: list attendees: %w", err)
	}
	defer rows.Close()
	var out []Attendee
	for rows.Next() {
		a, err := scanAttendee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *pgRepository) IsAttendee(ctx context.Context, eventID, userID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM event_attendees WHERE event_id = $1 AND user_id = $2)`, eventID, userID).Scan(&ok)
	return ok, err
}

func (r *pgRepository) SetMeeting(ctx context.Context, eventID int64, meetingID, meetingURL string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE calendar_events SET meeting_id = NULLIF($2, ''), meeting_url = NULLIF($3, ''), updated_at = NOW() WHERE id = $1`, eventID, meetingID, meetingURL)
	if err != nil {
		return fmt.Errorf("calendar: set meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgTxRepository struct {
	db db.DBTX
}

func shapeColumns(s Shape) (parentID *int64, recurring bool, frequency *string, interval, count *int32, until *time.Time) {
	switch v := s.(type) {
	case Occurrence:
		id := v.ParentID
		parentID = &id
	case RecurringParent:
		recurring = true
		f := string(v.Rule.Frequency)
		frequency = &f
		i := int32(v.Rule.Interval)
		interval = &i
		if v.Rule.Count > 0 {
			c := int32(v.Rule.Count)
			count = &c
		}
		until = v.Rule.Until
	}
	return
}

func nullableEnd(e Event) *time.Time {
	if e.End.IsZero() {
		end := e.Start
		return &end
	}
	return &e.End
}

func (r *pgTxRepository) Insert(ctx context.Context, e Event) (Event, error) {
	parentID, recurring, frequency, interval, count, until := shapeColumns(e.Shape)
	return scanEvent(r.db.QueryRow(ctx, `INSERT INTO calendar_events (created_by, title, description, location, start_time, end_time, all_day,
event_type, status, course_id, parent_event_id, is_recurring, recurrence_frequency, recurrence_interval,
recurrence_count, recurrence_until, meeting_id, meeting_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NULLIF($17, ''), NULLIF($18, ''), NOW(), NOW())
RETURNING `+eventColumns,
		e.CreatedBy, e.Title, e.Description, e.Location, e.Start, nullableEnd(e), e.AllDay,
		string(e.Type), string(e.Status), e.CourseID, parentID, recurring, frequency, interval,
		count, until, e.MeetingID, e.MeetingURL))
}

func (r *pgTxRepository) LockSeries(ctx context.Context, rootID int64) ([]Event, error) {
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM calendar_events
WHERE id = $1 OR parent_event_id = $1
ORDER BY start_time, id
FOR UPDATE`, rootID)
	if err != nil {
		return nil, fmt.Errorf("calendar: lock series: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events, nil
}

func (r *pgTxRepository) Update(ctx context.Context, e Event) (Event, error) {
	return scanEvent(r.db.QueryRow(ctx, `UPDATE calendar_events SET title = $2, description = $3, location = $4,
start_time = $5, end_time = $6, all_day = $7, event_type = $8, status = $9, updated_at = NOW()
WHERE id = $1
RETURNING `+eventColumns,
		e.ID, e.Title, e.Description, e.Location, e.Start, nullableEnd(e), e.AllDay, string(e.Type), string(e.Status)))
}

func (r *pgTxRepository) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM calendar_events WHERE id = ANY($1) AND parent_event_id IS NOT NULL`, ids); err != nil {
		return fmt.Errorf("calendar: delete occurrences: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM calendar_events WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("calendar: delete events: %w", err)
	}
	return nil
}

func scanAttendee(row pgx.Row) (Attendee, error) {
	var a Attendee
	var rsvp string
	if err := row.Scan(&a.EventID, &a.UserID, &rsvp, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attendee{}, ErrAttendeeNotFound
		}
		return Attendee{}, err
	}
	a.RSVP = RSVP(rsvp)
	return a, nil
}

func (r *pgTxRepository) AddAttendee(ctx context.Context, eventID, userID int64, rsvp RSVP) (Attendee, error) {
	a, err := scanAttendee(r.db.QueryRow(ctx, `INSERT INTO event_attendees (event_id, user_id, rsvp, updated_at)
VALUES ($1, $2, $3, NOW()) RETURNING event_id, user_id, rsvp, updated_at`, eventID, userID, string(rsvp)))
	if err != nil && shared.IsUniqueViolation(err) {
		return Attendee{}, ErrDuplicateAttendee
	}
	return a, err
}

func (r *pgTxRepository) RemoveAttendee(ctx context.Context, eventID, userID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM event_attendees WHERE event_id = $1 AND user_id = $2`, eventID, userID)
	if err != nil {
		return fmt.Errorf("calendar: remove attendee: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAttendeeNotFound
	}
	return nil
}

func (r *pgTxRepository) SetRSVP(ctx context.Context, eventID, userID int64, rsvp RSVP) (Attendee, error) {
	return scanAttendee(r.db.QueryRow(ctx, `UPDATE event_attendees SET rsvp = $3, updated_at = NOW()
WHERE event_id = $1 AND user_id = $2 RETURNING event_id, user_id, rsvp, updated_at`, eventID, userID, string(rsvp)))
}
