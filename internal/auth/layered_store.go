package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LayeredStore writes through a cache and a durable store. Reads hit the cache first and
// re-warm it from the durable store on a miss.
type LayeredStore struct {
	cache   SessionStore
	durable SessionStore
	logger  *slog.Logger
}

// NewLayeredStore constructs a LayeredStore.
func NewLayeredStore(cache, durable SessionStore, logger *slog.Logger) *LayeredStore {
	return &LayeredStore{cache: cache, durable: durable, logger: logger}
}

// Create writes the durable row first; a cache failure only costs a re-warm later.
func (s *LayeredStore) Create(ctx context.Context, sess Session) error {
	if err := s.durable.Create(ctx, sess); err != nil {
		return err
	}
	if err := s.cache.Create(ctx, sess); err != nil {
		s.warn("session cache write failed", err)
	}
	return nil
}

// Get reads from the cache, falling back to the durable store.
func (s *LayeredStore) Get(ctx context.Context, token string) (Session, error) {
	sess, err := s.cache.Get(ctx, token)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNoSession) {
		s.warn("session cache read failed", err)
	}
	sess, err = s.durable.Get(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if werr := s.cache.Create(ctx, sess); werr != nil {
		s.warn("session cache re-warm failed", werr)
	}
	return sess, nil
}

// Delete removes the token from both layers.
func (s *LayeredStore) Delete(ctx context.Context, token string) error {
	if err := s.cache.Delete(ctx, token); err != nil {
		s.warn("session cache delete failed", err)
	}
	return s.durable.Delete(ctx, token)
}

// PurgeExpired purges the durable store.
func (s *LayeredStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.durable.PurgeExpired(ctx, before)
}

func (s *LayeredStore) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.Any("error", err))
	}
}
