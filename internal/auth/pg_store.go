package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lumen-lms/lumen/internal/platform/db"
)

// PGStore is the durable sessions table.
type PGStore struct {
	db db.DBTX
}

// NewPGStore constructs a PGStore.
func NewPGStore(conn db.DBTX) *PGStore {
	return &PGStore{db: conn}
}

// Create persists a new session row.
func (s *PGStore) Create(ctx context.Context, sess Session) error {
	_, err := s.db.Exec(ctx, `INSERT INTO sessions (id, user_id, created_at, expires_at, ip, ua, revoked)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at, revoked = EXCLUDED.revoked`,
		sess.Token, sess.UserID, sess.CreatedAt.UTC(), sess.ExpiresAt.UTC(), sess.IP, sess.UserAgent, sess.Revoked)
	if err != nil {
		return fmt.Errorf("auth: pg store create: %w", err)
	}
	return nil
}

// Get loads a session row by token.
func (s *PGStore) Get(ctx context.Context, token string) (Session, error) {
	sess := Session{Token: token}
	err := s.db.QueryRow(ctx, `SELECT user_id, created_at, expires_at, COALESCE(ip, ''), COALESCE(ua, ''), revoked
FROM sessions WHERE id = $1`, token).
		Scan(&sess.UserID, &sess.CreatedAt, &sess.ExpiresAt, &sess.IP, &sess.UserAgent, &sess.Revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNoSession
		}
		return Session{}, fmt.Errorf("auth: pg store get: %w", err)
	}
	return sess, nil
}

// Delete removes the session row if present.
func (s *PGStore) Delete(ctx context.Context, token string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, token); err != nil {
		return fmt.Errorf("auth: pg store delete: %w", err)
	}
	return nil
}

// PurgeExpired deletes every row that expired before the cutoff.
func (s *PGStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("auth: pg store purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
