package audithttp

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

	"github.com/lumen-lms/lumen/internal/audit"
	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
	_ "github.com/lumen-lms/lumen/testing"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(_ context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

type principal struct {
	id   int64
	role rbac.Role
}

func (p principal) GetID() int64 { return p.id }
func (p principal) GetRole() rbac.Role { return p.role }
func (p principal) IsSuperUser() bool { return false }

func newRouter(service *stubTimelineService) http.Handler {
	handler := NewHandler(nil, service, audit.NewExporter())
	handler.now = func() time.Time { return time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/audit", func(r chi.Router) { handler.MountRoutes(r, rbac.Middleware{}) })
	return r
}

func request(path string, gs *rbac.GrantSet) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if gs != nil {
		req = req.WithContext(rbac.ContextWithGrantSet(req.Context(), *gs))
	}
	return req
}

func TestTimelineRequiresAuditView(t *testing.T) {
	router := newRouter(&stubTimelineService{})
	student := rbac.NewGrantSet(principal{id: 5, role: rbac.RoleStudent}, nil, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, request("/audit", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, request("/audit", &student))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestTimelineReturnsRowsAndParsesFilters(t *testing.T) {
	rows := []audit.TimelineRow{{At: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: 7, ActorEmail: "auditor@lumen.test", Action: "course.update", Entity: "course", EntityID: "1"}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	router := newRouter(service)
	auditor := rbac.NewGrantSet(principal{id: 7, role: rbac.RoleInstructor},
		[]rbac.Grant{{UserID: 7, Capability: shared.PermAuditView, Granted: true}}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, request("/audit?from=2025-03-01&to=2025-03-15&actor_id=7&entity=course", &auditor))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "auditor@lumen.test")
	assert.Equal(t, "2025-03-01", service.lastFilters.From.Format(dateLayout))
	assert.Equal(t, "2025-03-16", service.lastFilters.To.Format(dateLayout))
	assert.Equal(t, int64(7), service.lastFilters.ActorID)
	assert.Equal(t, "course", service.lastFilters.Entity)
}

func TestTimelineRejectsBadRange(t *testing.T) {
	router := newRouter(&stubTimelineService{})
	admin := rbac.NewGrantSet(principal{id: 1, role: rbac.RoleAdmin}, nil, nil)

	for _, q := range []string{"from=2025-03-10&to=2025-03-01", "from=2024-01-01&to=2025-03-01", "to=yesterday", "actor_id=-1"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, request("/audit?"+q, &admin))
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestExports(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.TimelineRow{{ActorID: 1, Action: "user.delete"}}}
	router := newRouter(service)
	admin := rbac.NewGrantSet(principal{id: 1, role: rbac.RoleAdmin}, nil, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, request("/audit/export.csv", &admin))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, rr.Body.String(), "user.delete")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, request("/audit/export.xlsx", &admin))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, xlsxContentType, rr.Header().Get("Content-Type"))
}
