package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumen-lms/lumen/internal/auth"
	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
	"github.com/lumen-lms/lumen/internal/users"
	_ "github.com/lumen-lms/lumen/testing"
)

type stubDirectory struct {
	user users.User
}

func (s *stubDirectory) FindByEmail(ctx context.Context, email string) (users.User, error) {
	if s.user.Email != email {
		return users.User{}, users.ErrNotFound
	}
	return s.user, nil
}

func (s *stubDirectory) FindByID(ctx context.Context, id int64) (users.User, error) {
	if s.user.ID != id {
		return users.User{}, users.ErrNotFound
	}
	return s.user, nil
}

func (s *stubDirectory) LoadGrantSet(ctx context.Context, p rbac.Principal) (rbac.GrantSet, error) {
	return rbac.NewGrantSet(p, nil, nil), nil
}

const cookieName = "lumen_session"

func newAuthRouter(t *testing.T, user users.User) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := auth.NewRedisStore(client)
	dir := &stubDirectory{user: user}
	csrf := shared.NewCSRFManager("csrfsecret")
	service := auth.NewService(dir, store, nil, time.Hour, nil)
	resolver := auth.NewResolver(store, dir, dir, nil, nil)
	handler := auth.NewHandler(nil, service, csrf, auth.CookieConfig{Name: cookieName})

	r := chi.NewRouter()
	r.Use(auth.NewMiddleware(resolver, csrf, cookieName, nil).Session)
	r.Route("/auth", handler.MountRoutes)
	r.Post("/echo", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.IdentityFromContext(r.Context()); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func activeUser(t *testing.T) users.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	return users.User{ID: 3, Email: "ines@lumen.test", PasswordHash: string(hash), Role: rbac.RoleAdmin, IsActive: true, Status: users.StatusActive}
}

type loginBody struct {
	Token     string `json:"token"`
	CSRFToken string `json:"csrf_token"`
}

func login(t *testing.T, router http.Handler) (loginBody, *http.Cookie) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"ines@lumen.test","password":"correct-horse"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body loginBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return body, cookies[0]
}

func TestLoginInvalidCredentials(t *testing.T) {
	router := newAuthRouter(t, activeUser(t))
	for _, payload := range []string{
		`{"email":"ines@lumen.test","password":"wrong-password"}`,
		`{"email":"nobody@lumen.test","password":"correct-horse"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestLoginRejectsSuspendedAccount(t *testing.T) {
	user := activeUser(t)
	user.Status = users.StatusSuspended
	router := newAuthRouter(t, user)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"ines@lumen.test","password":"correct-horse"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginMeLogout(t *testing.T) {
	router := newAuthRouter(t, activeUser(t))
	body, cookie := login(t, router)
	assert.Equal(t, cookieName, cookie.Name)
	assert.NotEmpty(t, body.Token)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+body.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, true, me["can_access_admin_panel"])

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer "+body.Token)
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+body.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCookieRequestsNeedCSRFToken(t *testing.T) {
	router := newAuthRouter(t, activeUser(t))
	body, cookie := login(t, router)

	req := httptest.NewRequest(http.MethodPost, "/echo", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/echo", nil)
	req.AddCookie(cookie)
	req.Header.Set(shared.CSRFHeader, body.CSRFToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/echo", nil)
	req.Header.Set("Authorization", "Bearer "+body.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
