package courses_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lms/lumen/internal/courses"
	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
	_ "github.com/lumen-lms/lumen/testing"
)

type memRepo struct {
	mu          sync.Mutex
	nextID      int64
	rows        map[int64]courses.Course
	enrollments map[[2]int64]courses.Enrollment
}

func newMemRepo(seed ...courses.Course) *memRepo {
	m := &memRepo{rows: map[int64]courses.Course{}, enrollments: map[[2]int64]courses.Enrollment{}, nextID: 100}
	for _, c := range seed {
		m.rows[c.ID] = c
	}
	return m
}

func (m *memRepo) FindByID(_ context.Context, id int64) (courses.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return courses.Course{}, courses.ErrNotFound
	}
	return c, nil
}

func (m *memRepo) List(_ context.Context, page shared.PageRequest, filter courses.ListFilter) ([]courses.Course, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []courses.Course
	for _, c := range m.rows {
		if filter.PublishedOnly && !c.Published && (filter.VisibleTo == 0 || c.AuthorID != filter.VisibleTo) {
			continue
		}
		if filter.AuthorID != 0 && c.AuthorID != filter.AuthorID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memRepo) Create(_ context.Context, authorID int64, in courses.CreateInput) (courses.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := courses.Course{ID: m.nextID, Title: in.Title, Description: in.Description, AuthorID: authorID, Published: in.Published, CreatedAt: time.Now()}
	m.rows[c.ID] = c
	return c, nil
}

func (m *memRepo) Update(_ context.Context, c courses.Course) (courses.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[c.ID]; !ok {
		return courses.Course{}, courses.ErrNotFound
	}
	m.rows[c.ID] = c
	return c, nil
}

func (m *memRepo) ListEnrollments(_ context.Context, courseID int64) ([]courses.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []courses.Enrollment
	for k, e := range m.enrollments {
		if k[0] == courseID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memRepo) UpsertEnrollment(_ context.Context, courseID, userID int64, status courses.EnrollmentStatus) (courses.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := courses.Enrollment{CourseID: courseID, UserID: userID, Status: status, UpdatedAt: time.Now()}
	m.enrollments[[2]int64{courseID, userID}] = e
	return e, nil
}

func (m *memRepo) CountPublishedByAuthor(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.rows {
		if c.AuthorID == userID && c.Published {
			n++
		}
	}
	return n, nil
}

type principal struct {
	id   int64
	role rbac.Role
}

func (p principal) GetID() int64 { return p.id }
func (p principal) GetRole() rbac.Role { return p.role }
func (p principal) IsSuperUser() bool { return false }

func actor(id int64, role rbac.Role, courseGrants []rbac.CourseGrant, caps ...string) rbac.GrantSet {
	grants := make([]rbac.Grant, 0, len(caps))
	for _, c := range caps {
		grants = append(grants, rbac.Grant{UserID: id, Capability: rbac.Capability(c), Granted: true})
	}
	return rbac.NewGrantSet(principal{id: id, role: role}, grants, courseGrants)
}

var (
	author    = actor(10, rbac.RoleInstructor, nil, shared.PermCourseCreate)
	assistant = actor(11, rbac.RoleInstructor, []rbac.CourseGrant{{UserID: 11, CourseID: 2, Mode: rbac.AccessEdit}})
	learner   = actor(20, rbac.RoleStudent, nil)
	admin     = actor(1, rbac.RoleAdmin, nil)
)

func seeded() *memRepo {
	return newMemRepo(
		courses.Course{ID: 1, Title: "Algebra", AuthorID: 10, Published: true},
		courses.Course{ID: 2, Title: "Draft Geometry", AuthorID: 10},
		courses.Course{ID: 3, Title: "Other draft", AuthorID: 99},
	)
}

func TestListHidesForeignDrafts(t *testing.T) {
	svc := courses.NewService(seeded(), nil, nil)
	ctx := context.Background()
	page := shared.PageRequest{Page: 1, PerPage: 20}

	list, pagination, err := svc.List(ctx, learner, page, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, 1, pagination.Total)

	list, _, err = svc.List(ctx, author, page, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, _, err = svc.List(ctx, admin, page, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestGetAndUpdateFollowCourseAccess(t *testing.T) {
	svc := courses.NewService(seeded(), nil, nil)
	ctx := context.Background()

	_, err := svc.Get(ctx, learner, 1)
	require.NoError(t, err)
	_, err = svc.Get(ctx, learner, 2)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = svc.Get(ctx, assistant, 2)
	require.NoError(t, err)
	_, err = svc.Get(ctx, learner, 42)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	title := "  Geometry  "
	c, err := svc.Update(ctx, assistant, 2, courses.UpdateInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Geometry", c.Title)

	_, err = svc.Update(ctx, assistant, 3, courses.UpdateInput{Title: &title})
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = svc.Update(ctx, author, 2, courses.UpdateInput{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateRequiresCapability(t *testing.T) {
	repo := seeded()
	svc := courses.NewService(repo, nil, nil)
	ctx := context.Background()

	c, err := svc.Create(ctx, author, courses.CreateInput{Title: "Calculus", Published: true})
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.AuthorID)

	_, err = svc.Create(ctx, learner, courses.CreateInput{Title: "Mine"})
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = svc.Create(ctx, author, courses.CreateInput{Title: "   "})
	assert.ErrorIs(t, err, shared.ErrValidation)

	n, err := svc.CountPublishedByAuthor(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEnrollment(t *testing.T) {
	svc := courses.NewService(seeded(), nil, nil)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, learner, 1, 20, courses.EnrollmentActive)
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, learner, 1, 20, courses.EnrollmentCompleted)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = svc.Enroll(ctx, learner, 2, 20, courses.EnrollmentActive)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = svc.Enroll(ctx, author, 1, 21, courses.EnrollmentActive)
	require.NoError(t, err)

	_, err = svc.Enrollments(ctx, learner, 1)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	list, err := svc.Enrollments(ctx, author, 1)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = courses.ParseEnrollmentStatus("paused")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestHandlerRoutes(t *testing.T) {
	svc := courses.NewService(seeded(), nil, nil)
	h := courses.NewHandler(nil, svc, rbac.Middleware{})
	r := chi.NewRouter()
	r.Route("/courses", h.MountRoutes)

	do := func(gs *rbac.GrantSet, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if gs != nil {
			req = req.WithContext(rbac.ContextWithGrantSet(req.Context(), *gs))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do(nil, http.MethodGet, "/courses", "").Code)
	assert.Equal(t, http.StatusOK, do(&learner, http.MethodGet, "/courses", "").Code)
	assert.Equal(t, http.StatusForbidden, do(&learner, http.MethodGet, "/courses/2", "").Code)
	assert.Equal(t, http.StatusNotFound, do(&learner, http.MethodGet, "/courses/99", "").Code)
	assert.Equal(t, http.StatusCreated, do(&author, http.MethodPost, "/courses", `{"title":"Stats"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(&author, http.MethodPut, "/courses/1/enrollments/20", `{"status":"paused"}`).Code)
	assert.Equal(t, http.StatusOK, do(&author, http.MethodPut, "/courses/1/enrollments/20", `{}`).Code)
}
