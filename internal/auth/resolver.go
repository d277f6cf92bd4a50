package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
	"github.com/lumen-lms/lumen/internal/users"
)

// PrincipalFinder loads accounts by id.
type PrincipalFinder interface {
	FindByID(ctx context.Context, id int64) (users.User, error)
}

// GrantLoader evaluates a principal's grants.
type GrantLoader interface {
	LoadGrantSet(ctx context.Context, p rbac.Principal) (rbac.GrantSet, error)
}

// Resolver turns an opaque token into an Identity. Apart from lazily purging expired
// sessions it has no side effects.
type Resolver struct {
	store      SessionStore
	principals PrincipalFinder
	grants     GrantLoader
	signer     *Signer
	logger     *slog.Logger
	group      singleflight.Group
	now        func() time.Time
}

// NewResolver constructs a Resolver. A nil signer disables the signed-token fallback.
func NewResolver(store SessionStore, principals PrincipalFinder, grants GrantLoader, signer *Signer, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:      store,
		principals: principals,
		grants:     grants,
		signer:     signer,
		logger:     logger,
		now:        time.Now,
	}
}

type principalState struct {
	user   users.User
	grants rbac.GrantSet
}

// Resolve returns the identity bound to token. Every rejection wraps
// shared.ErrUnauthenticated; store outages are returned as plain errors.
func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	sess, err := r.lookup(ctx, token)
	if err != nil {
		return Identity{}, r.reject(token, err)
	}
	now := r.now()
	if sess.ExpiredAt(now) {
		if !sess.Signed {
			if derr := r.store.Delete(ctx, token); derr != nil && r.logger != nil {
				r.logger.Warn("purge expired session", slog.Any("error", derr))
			}
		}
		return Identity{}, r.reject(token, ErrSessionExpired)
	}

	v, err, _ := r.group.Do(strconv.FormatInt(sess.UserID, 10), func() (any, error) {
		user, err := r.principals.FindByID(ctx, sess.UserID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil, ErrPrincipalInactive
			}
			return nil, err
		}
		if !user.CanSignIn() {
			return nil, ErrPrincipalInactive
		}
		gs, err := r.grants.LoadGrantSet(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("auth: load grants: %w", err)
		}
		return principalState{user: user, grants: gs}, nil
	})
	if err != nil {
		return Identity{}, r.reject(token, err)
	}
	state := v.(principalState)
	return Identity{User: state.user, Grants: state.grants, Session: sess}, nil
}

func (r *Resolver) lookup(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNoSession
	}
	sess, err := r.store.Get(ctx, token)
	switch {
	case err == nil:
		if sess.Revoked {
			return Session{}, ErrNoSession
		}
		return sess, nil
	case errors.Is(err, ErrNoSession) && r.signer != nil && IsSignedToken(token):
		return r.signer.Verify(token)
	default:
		return Session{}, err
	}
}

func (r *Resolver) reject(token string, err error) error {
	if r.logger != nil && errors.Is(err, shared.ErrUnauthenticated) {
		r.logger.Debug("session rejected", slog.String("token_hint", tokenHint(token)), slog.Any("reason", err))
	}
	return err
}

func tokenHint(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "***"
}
