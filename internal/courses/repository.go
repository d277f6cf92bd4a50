package courses

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
)

// ErrNotFound indicates the course does not exist.
var ErrNotFound = fmt.Errorf("courses: course %w", shared.ErrNotFound)

// RepositoryPort defines data access methods for courses.
type RepositoryPort interface {
	FindByID(ctx context.Context, id int64) (Course, error)
	List(ctx context.Context, page shared.PageRequest, filter ListFilter) ([]Course, int, error)
	Create(ctx context.Context, authorID int64, in CreateInput) (Course, error)
	Update(ctx context.Context, c Course) (Course, error)
	ListEnrollments(ctx context.Context, courseID int64) ([]Enrollment, error)
	UpsertEnrollment(ctx context.Context, courseID, userID int64, status EnrollmentStatus) (Enrollment, error)
	CountPublishedByAuthor(ctx context.Context, userID int64) (int, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

const courseColumns = `id, title, description, author_id, published, created_at, updated_at`

func scanCourse(row pgx.Row) (Course, error) {
	var c Course
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &c.AuthorID, &c.Published, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Course{}, ErrNotFound
		}
		return Course{}, err
	}
	return c, nil
}

// FindByID loads a course.
func (r *Repository) FindByID(ctx context.Context, id int64) (Course, error) {
	return scanCourse(r.pool.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id))
}

// CourseRef adapts FindByID for access checks.
func (r *Repository) CourseRef(ctx context.Context, id int64) (rbac.CourseRef, error) {
	c, err := r.FindByID(ctx, id)
	if err != nil {
		return rbac.CourseRef{}, err
	}
	return c.Ref(), nil
}

// List returns one page of courses and the total count matching filter.
func (r *Repository) List(ctx context.Context, page shared.PageRequest, filter ListFilter) ([]Course, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.PublishedOnly {
		if filter.VisibleTo != 0 {
			args = append(args, filter.VisibleTo)
			where = append(where, fmt.Sprintf("(published OR author_id = $%d)", len(args)))
		} else {
			where = append(where, "published")
		}
	}
	if filter.AuthorID != 0 {
		args = append(args, filter.AuthorID)
		where = append(where, fmt.Sprintf("author_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM courses`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("courses: count: %w", err)
	}

	args = append(args, page.PerPage, page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM courses%s ORDER BY id LIMIT $%d OFFSET $%d`, courseColumns, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("courses: list: %w", err)
	}
	defer rows.Close()
	var out []Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Create inserts a course owned by authorID.
func (r *Repository) Create(ctx context.Context, authorID int64, in CreateInput) (Course, error) {
	c, err := scanCourse(r.pool.QueryRow(ctx, `INSERT INTO courses (title, description, author_id, published, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
RETURNING `+courseColumns, in.Title, in.Description, authorID, in.Published))
	if err != nil {
		return Course{}, fmt.Errorf("courses: create: %w", err)
	}
	return c, nil
}

// Update rewrites the mutable fields of c.
func (r *Repository) Update(ctx context.Context, c Course) (Course, error) {
	return scanCourse(r.pool.QueryRow(ctx, `UPDATE courses SET title = $2, description = $3, published = $4, updated_at = NOW()
WHERE id = $1 RETURNING `+courseColumns, c.ID, c.Title, c.Description, c.Published))
}

// ListEnrollments returns the course roster ordered by user.
func (r *Repository) ListEnrollments(ctx context.Context, courseID int64) ([]Enrollment, error) {
	rows, err := r.pool.Query(ctx, `SELECT course_id, user_id, status, enrolled_at, updated_at
FROM enrollments WHERE course_id = $1 ORDER BY user_id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("courses: list enrollments: %w", err)
	}
	defer rows.Close()
	var out []Enrollment
	for rows.Next() {
		var (
			e      Enrollment
			status string
		)
		if err := rows.Scan(&e.CourseID, &e.UserID, &status, &e.EnrolledAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Status = EnrollmentStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertEnrollment enrolls a user or changes their status.
func (r *Repository) UpsertEnrollment(ctx context.Context, courseID, userID int64, status EnrollmentStatus) (Enrollment, error) {
	var (
		e   Enrollment
		raw string
	)
	err := r.pool.QueryRow(ctx, `INSERT INTO enrollments (course_id, user_id, status, enrolled_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
ON CONFLICT (course_id, user_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
RETURNING course_id, user_id, status, enrolled_at, updated_at`, courseID, userID, string(status)).
		Scan(&e.CourseID, &e.UserID, &raw, &e.EnrolledAt, &e.UpdatedAt)
	if err != nil {
		return Enrollment{}, fmt.Errorf("courses: enroll: %w", err)
	}
	e.Status = EnrollmentStatus(raw)
	return e, nil
}

// CountPublishedByAuthor counts published courses authored by userID.
func (r *Repository) CountPublishedByAuthor(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM courses WHERE author_id = $1 AND published`, userID).Scan(&n)
	return n, err
}
