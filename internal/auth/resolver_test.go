package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
	"github.com/lumen-lms/lumen/internal/users"
	_ "github.com/lumen-lms/lumen/testing"
)

type fakeDirectory struct {
	mu    sync.Mutex
	users map[int64]users.User
	loads int
}

func (f *fakeDirectory) FindByID(ctx context.Context, id int64) (users.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (f *fakeDirectory) FindByEmail(ctx context.Context, email string) (users.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

func (f *fakeDirectory) LoadGrantSet(ctx context.Context, p rbac.Principal) (rbac.GrantSet, error) {
	f.mu.Lock()
	f.loads++
	f.mu.Unlock()
	return rbac.NewGrantSet(p, []rbac.Grant{{Capability: shared.PermCalendarView, Granted: true}}, nil), nil
}

type memStore struct {
	mu   sync.Mutex
	rows map[string]Session
	fail error
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]Session{}}
}

func (m *memStore) Create(ctx context.Context, sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.rows[sess.Token] = sess
	return nil
}

func (m *memStore) Get(ctx context.Context, token string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.rows[token]
	if !ok {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

func (m *memStore) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, token)
	return nil
}

func (m *memStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.rows {
		if s.ExpiredAt(before) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

var activeStudent = users.User{ID: 7, Email: "sam@lumen.test", Role: rbac.RoleStudent, IsActive: true, Status: users.StatusActive}

func newDirectory(list ...users.User) *fakeDirectory {
	d := &fakeDirectory{users: map[int64]users.User{}}
	for _, u := range list {
		d.users[u.ID] = u
	}
	return d
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestResolveValidSession(t *testing.T) {
	store, _ := newRedisStore(t)
	dir := newDirectory(activeStudent)
	now := time.Now()
	require.NoError(t, store.Create(context.Background(), Session{Token: "tok-valid", UserID: 7, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))

	resolver := NewResolver(store, dir, dir, nil, nil)
	identity, err := resolver.Resolve(context.Background(), "tok-valid")
	require.NoError(t, err)
	assert.Equal(t, int64(7), identity.User.ID)
	assert.True(t, rbac.HasPermission(identity.Grants, shared.PermCalendarView))
	assert.Equal(t, "tok-valid", identity.Session.Token)
}

func TestResolveFailuresAreUniformlyUnauthenticated(t *testing.T) {
	store := newMemStore()
	suspended := users.User{ID: 8, Role: rbac.RoleStudent, IsActive: true, Status: users.StatusSuspended}
	deactivated := users.User{ID: 9, Role: rbac.RoleStudent, IsActive: false, Status: users.StatusActive}
	dir := newDirectory(activeStudent, suspended, deactivated)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.rows["expired"] = Session{Token: "expired", UserID: 7, ExpiresAt: now.Add(-time.Second)}
	store.rows["suspended"] = Session{Token: "suspended", UserID: 8, ExpiresAt: now.Add(time.Hour)}
	store.rows["deactivated"] = Session{Token: "deactivated", UserID: 9, ExpiresAt: now.Add(time.Hour)}
	store.rows["orphan"] = Session{Token: "orphan", UserID: 404, ExpiresAt: now.Add(time.Hour)}

	resolver := NewResolver(store, dir, dir, nil, nil)
	resolver.now = func() time.Time { return now }

	cases := map[string]error{
		"":            ErrNoSession,
		"unknown":     ErrNoSession,
		"expired":     ErrSessionExpired,
		"suspended":   ErrPrincipalInactive,
		"deactivated": ErrPrincipalInactive,
		"orphan":      ErrPrincipalInactive,
	}
	for token, want := range cases {
		_, err := resolver.Resolve(context.Background(), token)
		assert.ErrorIs(t, err, want, token)
		assert.ErrorIs(t, err, shared.ErrUnauthenticated, token)
	}

	_, ok := store.rows["expired"]
	assert.False(t, ok, "expired session should be purged lazily")
}

func TestResolveExpiryBoundaryIsExclusive(t *testing.T) {
	store := newMemStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.rows["edge"] = Session{Token: "edge", UserID: 7, ExpiresAt: now}
	resolver := NewResolver(store, newDirectory(activeStudent), newDirectory(), nil, nil)
	resolver.now = func() time.Time { return now }

	_, err := resolver.Resolve(context.Background(), "edge")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestResolveStoreOutageIsNotUnauthenticated(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()
	dir := newDirectory(activeStudent)
	resolver := NewResolver(store, dir, dir, nil, nil)
	_, err := resolver.Resolve(context.Background(), "anything")
	require.Error(t, err)
	assert.False(t, errors.Is(err, shared.ErrUnauthenticated))
}

func TestSignedFallbackTokens(t *testing.T) {
	store := newMemStore()
	dir := newDirectory(activeStudent)
	signer := NewSigner("session-secret")
	now := time.Now()

	token, err := signer.Sign(Session{UserID: 7, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	require.True(t, IsSignedToken(token))

	withFallback := NewResolver(store, dir, dir, signer, nil)
	identity, err := withFallback.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, identity.Session.Signed)
	assert.Equal(t, int64(7), identity.User.ID)

	tampered := strings.Replace(token, token[4:8], "AAAA", 1)
	_, err = withFallback.Resolve(context.Background(), tampered)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	forged, err := NewSigner("other-secret").Sign(Session{UserID: 7, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	_, err = withFallback.Resolve(context.Background(), forged)
	assert.ErrorIs(t, err, ErrBadSignature)

	disabled := NewResolver(store, dir, dir, nil, nil)
	_, err = disabled.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrNoSession)

	stale, err := signer.Sign(Session{UserID: 7, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = withFallback.Resolve(context.Background(), stale)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestLogoutRevokesSignedTokens(t *testing.T) {
	store := newMemStore()
	dir := newDirectory(activeStudent)
	signer := NewSigner("session-secret")
	store.fail = errors.New("store down")

	svc := NewService(dir, store, signer, time.Hour, nil)
	sess, err := svc.Issue(context.Background(), 7, "", "")
	require.NoError(t, err)
	require.True(t, sess.Signed)

	resolver := NewResolver(store, dir, dir, signer, nil)
	_, err = resolver.Resolve(context.Background(), sess.Token)
	require.NoError(t, err)

	store.fail = nil
	require.NoError(t, svc.Logout(context.Background(), sess))
	_, err = resolver.Resolve(context.Background(), sess.Token)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLayeredStoreRewarmsCache(t *testing.T) {
	cache, mr := newRedisStore(t)
	durable := newMemStore()
	layered := NewLayeredStore(cache, durable, nil)
	now := time.Now()
	sess := Session{Token: "layered", UserID: 7, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, layered.Create(context.Background(), sess))

	mr.FlushAll()
	got, err := layered.Get(context.Background(), "layered")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserID)
	assert.True(t, mr.Exists("session:layered"))

	require.NoError(t, layered.Delete(context.Background(), "layered"))
	require.NoError(t, layered.Delete(context.Background(), "layered"))
	_, err = layered.Get(context.Background(), "layered")
	assert.ErrorIs(t, err, ErrNoSession)
}
