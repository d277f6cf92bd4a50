package rbac_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
)

type countingObserver struct {
	decisions map[string]int
}

func (o *countingObserver) ObserveAuthz(decision string) {
	if o.decisions == nil {
		o.decisions = map[string]int{}
	}
	o.decisions[decision]++
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func serveWith(mw func(http.Handler) http.Handler, gs *rbac.GrantSet) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if gs != nil {
		req = req.WithContext(rbac.ContextWithGrantSet(req.Context(), *gs))
	}
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareDecisions(t *testing.T) {
	obs := &countingObserver{}
	mw := rbac.Middleware{Observer: obs}

	rec := serveWith(mw.RequireAdminPanel(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	student := grantSet(principal{id: 3, role: rbac.RoleStudent})
	rec = serveWith(mw.RequireAdminPanel(), &student)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := grantSet(principal{id: 1, role: rbac.RoleAdmin})
	rec = serveWith(mw.RequireAdminPanel(), &admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	viewer := grantSet(principal{id: 2, role: rbac.RoleStudent}, grant(shared.PermCalendarView))
	rec = serveWith(mw.RequireAny(shared.PermCalendarManage, shared.PermCalendarView), &viewer)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = serveWith(mw.RequireAll(shared.PermCalendarManage, shared.PermCalendarView), &viewer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, map[string]int{"unauthenticated": 1, "denied": 2, "allowed": 2}, obs.decisions)
}

type memGrantStore struct {
	grants map[int64][]rbac.Grant
}

func (m *memGrantStore) ListGrants(ctx context.Context, userID int64) ([]rbac.Grant, error) {
	return m.grants[userID], nil
}

func (m *memGrantStore) UpsertGrant(ctx context.Context, userID int64, c rbac.Capability, granted bool, expiresAt *time.Time, grantedBy int64) (rbac.Grant, error) {
	g := rbac.Grant{UserID: userID, Capability: c, Granted: granted, ExpiresAt: expiresAt, GrantedBy: grantedBy, UpdatedAt: now}
	if m.grants == nil {
		m.grants = map[int64][]rbac.Grant{}
	}
	m.grants[userID] = append(m.grants[userID], g)
	return g, nil
}

func (m *memGrantStore) RevokeGrant(ctx context.Context, userID int64, c rbac.Capability) error {
	for i, g := range m.grants[userID] {
		if g.Capability == c {
			m.grants[userID] = append(m.grants[userID][:i], m.grants[userID][i+1:]...)
			return nil
		}
	}
	return rbac.ErrNotFound
}

func (m *memGrantStore) ListCourseGrants(ctx context.Context, userID int64) ([]rbac.CourseGrant, error) {
	return nil, nil
}

func (m *memGrantStore) UpsertCourseGrant(ctx context.Context, userID, courseID int64, mode rbac.AccessMode, expiresAt *time.Time) (rbac.CourseGrant, error) {
	return rbac.CourseGrant{UserID: userID, CourseID: courseID, Mode: mode, ExpiresAt: expiresAt}, nil
}

type memAudit struct {
	logs []shared.AuditLog
}

func (m *memAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func newPermissionsRouter(store rbac.GrantStore, audit shared.AuditRecorder, actor rbac.GrantSet) http.Handler {
	accounts := map[int64]principal{
		1:  {id: 1, role: rbac.RoleAdmin, super: true},
		4:  {id: 4, role: rbac.RoleInstructor},
		20: {id: 20, role: rbac.RoleStudent},
	}
	lookup := func(ctx context.Context, id int64) (rbac.Principal, error) {
		p, ok := accounts[id]
		if !ok {
			return nil, shared.ErrNotFound
		}
		return p, nil
	}
	h := rbac.NewPermissionsHandler(nil, store, lookup, audit, rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(rbac.ContextWithGrantSet(req.Context(), actor)))
		})
	})
	r.Route("/permissions", h.MountRoutes)
	return r
}

func TestPermissionsHandlerGrantsAndAudits(t *testing.T) {
	store := &memGrantStore{}
	audit := &memAudit{}
	router := newPermissionsRouter(store, audit, managerSet(4))

	req := httptest.NewRequest(http.MethodPut, "/permissions/users/20/capabilities/course.view", strings.NewReader(`{"granted":true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, store.grants[20], 1)
	assert.Equal(t, rbac.Capability(shared.PermCourseView), store.grants[20][0].Capability)
	assert.Equal(t, int64(4), store.grants[20][0].GrantedBy)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "grant.upsert", audit.logs[0].Action)

	req = httptest.NewRequest(http.MethodDelete, "/permissions/users/20/capabilities/course.view", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.grants[20])
}

func TestPermissionsHandlerRejectsForbiddenTargets(t *testing.T) {
	store := &memGrantStore{}
	router := newPermissionsRouter(store, nil, managerSet(4))

	cases := map[string]int{
		"/permissions/users/4/capabilities/user.delete":     http.StatusForbidden,
		"/permissions/users/1/capabilities/course.view":     http.StatusForbidden,
		"/permissions/users/77/capabilities/course.view":    http.StatusNotFound,
		"/permissions/users/20/capabilities/launch.rockets": http.StatusBadRequest,
	}
	for path, status := range cases {
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{"granted":true}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, status, rec.Code, path)
	}
	assert.Empty(t, store.grants)
}

func TestPermissionsHandlerValidatesBody(t *testing.T) {
	router := newPermissionsRouter(&memGrantStore{}, nil, managerSet(4))

	req := httptest.NewRequest(http.MethodPut, "/permissions/users/20/courses/3", strings.NewReader(`{"mode":"own"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/permissions/users/20/courses/3", strings.NewReader(`{"mode":"edit"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
