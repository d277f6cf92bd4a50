package auth

import (
	"fmt"
	"time"

	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
	"github.com/lumen-lms/lumen/internal/users"
)

// Resolution failures. Each wraps shared.ErrUnauthenticated so responses cannot tell
// them apart; logs keep the distinction.
var (
	ErrNoSession         = fmt.Errorf("auth: no session: %w", shared.ErrUnauthenticated)
	ErrSessionExpired    = fmt.Errorf("auth: session expired: %w", shared.ErrUnauthenticated)
	ErrPrincipalInactive = fmt.Errorf("auth: principal missing or inactive: %w", shared.ErrUnauthenticated)
	ErrBadSignature      = fmt.Errorf("auth: token signature invalid: %w", shared.ErrUnauthenticated)
)

// Session binds an opaque token to exactly one principal.
type Session struct {
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	// Signed marks self-contained fallback tokens that were never written to a store.
	Signed bool `json:"signed,omitempty"`
	// Revoked tombstones a signed token after logout until it would have expired.
	Revoked bool `json:"revoked,omitempty"`
}

// ExpiredAt reports whether the session is no longer valid at t.
func (s Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Identity is the resolved principal with its evaluated grants.
type Identity struct {
	User    users.User
	Grants  rbac.GrantSet
	Session Session
}
