package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lumen-lms/lumen/internal/platform/db"
	"github.com/lumen-lms/lumen/internal/shared"
)

// ErrNotFound indicates that the requested grant does not exist.
var ErrNotFound = fmt.Errorf("rbac: %w", shared.ErrNotFound)

// Service is the grant store: capability grants and per-course grants.
type Service struct {
	db db.DBTX
}

// NewService constructs a Service backed by the provided pool or transaction.
func NewService(conn db.DBTX) *Service {
	return &Service{db: conn}
}

// ListGrants returns every grant row of a user, expired ones included.
func (s *Service) ListGrants(ctx context.Context, userID int64) ([]Grant, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id, capability, granted, expires_at, COALESCE(granted_by, 0), updated_at
FROM permission_grants WHERE user_id = $1 ORDER BY capability`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list grants: %w", err)
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		var capability string
		if err := rows.Scan(&g.UserID, &capability, &g.Granted, &g.ExpiresAt, &g.GrantedBy, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Capability = Capability(capability)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// UpsertGrant writes the single (user, capability) row, replacing any previous value.
func (s *Service) UpsertGrant(ctx context.Context, userID int64, c Capability, granted bool, expiresAt *time.Time, grantedBy int64) (Grant, error) {
	if _, err := ParseCapability(string(c)); err != nil {
		return Grant{}, err
	}
	var g Grant
	var capability string
	err := s.db.QueryRow(ctx, `INSERT INTO permission_grants (user_id, capability, granted, expires_at, granted_by, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, 0), NOW())
ON CONFLICT (user_id, capability) DO UPDATE
SET granted = EXCLUDED.granted, expires_at = EXCLUDED.expires_at, granted_by = EXCLUDED.granted_by, updated_at = NOW()
RETURNING user_id, capability, granted, expires_at, COALESCE(granted_by, 0), updated_at`,
		userID, string(c), granted, expiresAt, grantedBy).
		Scan(&g.UserID, &capability, &g.Granted, &g.ExpiresAt, &g.GrantedBy, &g.UpdatedAt)
	if err != nil {
		return Grant{}, fmt.Errorf("rbac: upsert grant: %w", err)
	}
	g.Capability = Capability(capability)
	return g, nil
}

// RevokeGrant removes the grant row. Returns ErrNotFound if nothing was deleted.
func (s *Service) RevokeGrant(ctx context.Context, userID int64, c Capability) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM permission_grants WHERE user_id = $1 AND capability = $2`, userID, string(c))
	if err != nil {
		return fmt.Errorf("rbac: revoke grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCourseGrants returns per-course grants of a user.
func (s *Service) ListCourseGrants(ctx context.Context, userID int64) ([]CourseGrant, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id, course_id, mode, expires_at, updated_at
FROM course_grants WHERE user_id = $1 ORDER BY course_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list course grants: %w", err)
	}
	defer rows.Close()
	var grants []CourseGrant
	for rows.Next() {
		var g CourseGrant
		var mode string
		if err := rows.Scan(&g.UserID, &g.CourseID, &mode, &g.ExpiresAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Mode = AccessMode(mode)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// UpsertCourseGrant writes the single (user, course) row.
func (s *Service) UpsertCourseGrant(ctx context.Context, userID, courseID int64, mode AccessMode, expiresAt *time.Time) (CourseGrant, error) {
	var g CourseGrant
	var stored string
	err := s.db.QueryRow(ctx, `INSERT INTO course_grants (user_id, course_id, mode, expires_at, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (user_id, course_id) DO UPDATE
SET mode = EXCLUDED.mode, expires_at = EXCLUDED.expires_at, updated_at = NOW()
RETURNING user_id, course_id, mode, expires_at, updated_at`, userID, courseID, string(mode), expiresAt).
		Scan(&g.UserID, &g.CourseID, &stored, &g.ExpiresAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CourseGrant{}, ErrNotFound
		}
		return CourseGrant{}, fmt.Errorf("rbac: upsert course grant: %w", err)
	}
	g.Mode = AccessMode(stored)
	return g, nil
}

// LoadGrantSet evaluates the principal's current permission state.
func (s *Service) LoadGrantSet(ctx context.Context, p Principal) (GrantSet, error) {
	grants, err := s.ListGrants(ctx, p.GetID())
	if err != nil {
		return GrantSet{}, err
	}
	courses, err := s.ListCourseGrants(ctx, p.GetID())
	if err != nil {
		return GrantSet{}, err
	}
	return NewGrantSet(p, grants, courses), nil
}
