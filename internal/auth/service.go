package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lumen-lms/lumen/internal/shared"
	"github.com/lumen-lms/lumen/internal/users"
)

// CredentialFinder loads accounts by email for sign-in.
type CredentialFinder interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
}

// dummyHash keeps the unknown-email path as slow as a real comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("lumen-timing-equaliser"), bcrypt.DefaultCost)

// Service wraps authentication business rules.
type Service struct {
	repo   CredentialFinder
	store  SessionStore
	signer *Signer
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a new Service. A nil signer disables signed fallback tokens.
func NewService(repo CredentialFinder, store SessionStore, signer *Signer, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{repo: repo, store: store, signer: signer, ttl: ttl, logger: logger, now: time.Now}
}

// TTL exposes the configured session lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (users.User, error) {
	user, err := s.repo.FindByEmail(ctx, users.NormaliseEmail(email))
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return users.User{}, err
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return users.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return users.User{}, shared.ErrInvalidCredentials
	}
	if !user.CanSignIn() {
		return users.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and opens a session.
func (s *Service) Login(ctx context.Context, email, password, ip, ua string) (Session, users.User, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, users.User{}, err
	}
	sess, err := s.Issue(ctx, user.ID, ip, ua)
	if err != nil {
		return Session{}, users.User{}, err
	}
	return sess, user, nil
}

// Issue opens a session for userID. When the store is unavailable and signing is
// enabled a self-contained token is issued instead.
func (s *Service) Issue(ctx context.Context, userID int64, ip, ua string) (Session, error) {
	token, err := NewToken()
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	sess := Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		IP:        ip,
		UserAgent: ua,
	}
	err = s.store.Create(ctx, sess)
	if err == nil {
		return sess, nil
	}
	if s.signer == nil {
		return Session{}, fmt.Errorf("auth: issue session: %w", err)
	}
	if s.logger != nil {
		s.logger.Warn("session store unavailable, issuing signed token",
			slog.Int64("user_id", userID), slog.Any("error", err))
	}
	sess.Signed = true
	sess.Token, err = s.signer.Sign(sess)
	if err != nil {
		return Session{}, fmt.Errorf("auth: sign session: %w", err)
	}
	return sess, nil
}

// Logout ends the session. Unknown or already closed tokens are not an error.
func (s *Service) Logout(ctx context.Context, sess Session) error {
	if sess.Token == "" {
		return nil
	}
	if sess.Signed {
		sess.Revoked = true
		if !sess.ExpiredAt(s.now()) {
			return s.store.Create(ctx, sess)
		}
		return nil
	}
	return s.store.Delete(ctx, sess.Token)
}

// PurgeExpired removes sessions that expired before now.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.PurgeExpired(ctx, s.now())
}
