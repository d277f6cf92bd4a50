package auth

import (
	"context"
	"time"
)

// SessionStore persists sessions. Get returns ErrNoSession for unknown tokens and
// Delete is idempotent.
type SessionStore interface {
	Create(ctx context.Context, sess Session) error
	Get(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
