package users

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

var (
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = fmt.Errorf("users: %w", shared.ErrNotFound)
	// ErrEmailTaken indicates another account already uses the email.
	ErrEmailTaken = fmt.Errorf("users: email already registered: %w", shared.ErrConflict)
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindByID(ctx context.Context, id int64) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context, page shared.PageRequest, filter ListFilter) ([]User, int, error)
	Create(ctx context.Context, in NewUser) (User, error)
	UpdateProfile(ctx context.Context, id int64, email, name string) (User, error)
	UpdateRole(ctx context.Context, id int64, role rbac.Role) (User, error)
	UpdateStatus(ctx context.Context, id int64, status Status, active bool) (User, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, name, password_hash, role, is_super_user, is_active, status, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	var role, status string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.SuperUser, &u.IsActive, &status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	u.Role = rbac.Role(role)
	u.Status = Status(status)
	return u, nil
}

// FindByID loads a user by primary key.
func (r *Repository) FindByID(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// FindByEmail loads a user by normalised email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

// List returns one page of users and the total count matching filter.
func (r *Repository) List(ctx context.Context, page shared.PageRequest, filter ListFilter) ([]User, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		where = append(where, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(name) LIKE $%d)", len(args), len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}

	args = append(args, page.PerPage, page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY id LIMIT $%d OFFSET $%d`, userColumns, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Create inserts an ACTIVE account.
func (r *Repository) Create(ctx context.Context, in NewUser) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `INSERT INTO users (email, name, password_hash, role, is_super_user, is_active, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, TRUE, 'ACTIVE', NOW(), NOW())
RETURNING `+userColumns, in.Email, in.Name, in.PasswordHash, string(in.Role), in.SuperUser))
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	return u, nil
}

// UpdateProfile rewrites email and display name.
func (r *Repository) UpdateProfile(ctx context.Context, id int64, email, name string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `UPDATE users SET email = $2, name = $3, updated_at = NOW() WHERE id = $1 RETURNING `+userColumns, id, email, name))
	if err != nil && shared.IsUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	return u, err
}

// UpdateRole changes the coarse role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, role rbac.Role) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1 RETURNING `+userColumns, id, string(role)))
}

// UpdateStatus changes lifecycle status and the active flag together.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status, active bool) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `UPDATE users SET status = $2, is_active = $3, updated_at = NOW() WHERE id = $1 RETURNING `+userColumns, id, string(status), active))
}
