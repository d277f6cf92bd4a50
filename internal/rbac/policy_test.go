package rbac_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
	_ "github.com/lumen-lms/lumen/testing"
)

type principal struct {
	id    int64
	role  rbac.Role
	super bool
}

func (p principal) GetID() int64 { return p.id }
func (p principal) GetRole() rbac.Role { return p.role }
func (p principal) IsSuperUser() bool { return p.super }

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func grant(c string) rbac.Grant {
	return rbac.Grant{Capability: rbac.Capability(c), Granted: true}
}

func grantSet(p principal, grants ...rbac.Grant) rbac.GrantSet {
	gs := rbac.NewGrantSet(p, grants, nil)
	gs.At = now
	return gs
}

func managerSet(id int64, extra ...string) rbac.GrantSet {
	grants := []rbac.Grant{grant(shared.PermAdminAccess), grant(shared.PermUserEdit)}
	for _, c := range extra {
		grants = append(grants, grant(c))
	}
	return grantSet(principal{id: id, role: rbac.RoleInstructor}, grants...)
}

func TestHasPermissionRespectsExpiry(t *testing.T) {
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	gs := grantSet(principal{id: 1, role: rbac.RoleInstructor},
		rbac.Grant{Capability: shared.PermCourseEdit, Granted: true, ExpiresAt: &past},
		rbac.Grant{Capability: shared.PermCourseView, Granted: true, ExpiresAt: &future},
		rbac.Grant{Capability: shared.PermToolAccess, Granted: false},
	)

	assert.False(t, rbac.HasPermission(gs, shared.PermCourseEdit))
	assert.True(t, rbac.HasPermission(gs, shared.PermCourseView))
	assert.False(t, rbac.HasPermission(gs, shared.PermToolAccess))
	assert.False(t, rbac.HasPermission(gs, shared.PermAuditView))
	assert.Equal(t, []rbac.Capability{shared.PermCourseView}, gs.Effective())
}

func TestHasPermissionNamedRejectsUnknownCapability(t *testing.T) {
	gs := grantSet(principal{id: 1, role: rbac.RoleStudent})
	_, err := rbac.HasPermissionNamed(gs, "course.launch_rockets")
	require.Error(t, err)
	assert.ErrorIs(t, err, rbac.ErrUnknownCapability)
	assert.ErrorIs(t, err, shared.ErrValidation)

	ok, err := rbac.HasPermissionNamed(gs, "course.view")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanAccessAdminPanel(t *testing.T) {
	assert.False(t, rbac.CanAccessAdminPanel(grantSet(principal{id: 1, role: rbac.RoleStudent})))
	assert.True(t, rbac.CanAccessAdminPanel(grantSet(principal{id: 2, role: rbac.RoleAdmin})))
	assert.True(t, rbac.CanAccessAdminPanel(grantSet(principal{id: 3, role: rbac.RoleInstructor}, grant(shared.PermAdminAccess))))
}

func TestCanAccessCourse(t *testing.T) {
	course := rbac.CourseRef{ID: 10, AuthorID: 7}
	expired := now.Add(-time.Hour)

	author := grantSet(principal{id: 7, role: rbac.RoleInstructor})
	assert.True(t, rbac.CanAccessCourse(author, course, rbac.AccessEdit))

	admin := grantSet(principal{id: 1, role: rbac.RoleAdmin})
	assert.True(t, rbac.CanAccessCourse(admin, course, rbac.AccessEdit))

	viewer := rbac.NewGrantSet(principal{id: 8, role: rbac.RoleStudent}, nil,
		[]rbac.CourseGrant{{UserID: 8, CourseID: 10, Mode: rbac.AccessView}})
	viewer.At = now
	assert.True(t, rbac.CanAccessCourse(viewer, course, rbac.AccessView))
	assert.False(t, rbac.CanAccessCourse(viewer, course, rbac.AccessEdit))
	assert.False(t, rbac.CanAccessCourse(viewer, rbac.CourseRef{ID: 11, AuthorID: 7}, rbac.AccessView))

	lapsed := rbac.NewGrantSet(principal{id: 9, role: rbac.RoleStudent}, nil,
		[]rbac.CourseGrant{{UserID: 9, CourseID: 10, Mode: rbac.AccessEdit, ExpiresAt: &expired}})
	lapsed.At = now
	assert.False(t, rbac.CanAccessCourse(lapsed, course, rbac.AccessView))

	globalEditor := grantSet(principal{id: 5, role: rbac.RoleInstructor}, grant(shared.PermCourseEdit))
	assert.True(t, rbac.CanAccessCourse(globalEditor, course, rbac.AccessEdit))
	assert.True(t, rbac.CanAccessCourse(globalEditor, course, rbac.AccessView))

	assert.False(t, rbac.CanAccessCourse(rbac.GrantSet{}, course, rbac.AccessView))
}

func TestCanManageUsers(t *testing.T) {
	assert.False(t, rbac.CanManageUsers(grantSet(principal{id: 1, role: rbac.RoleInstructor}, grant(shared.PermUserEdit))))
	assert.False(t, rbac.CanManageUsers(grantSet(principal{id: 1, role: rbac.RoleAdmin})))
	assert.True(t, rbac.CanManageUsers(managerSet(1)))
}

func TestCanModifyUserRejectsSelfMutations(t *testing.T) {
	actor := managerSet(4, shared.PermUserDelete)
	actor.SuperUser = true
	self := rbac.UserTarget{ID: 4}

	for _, action := range []rbac.UserAction{
		rbac.UserActionChangeRole,
		rbac.UserActionChangeStatus,
		rbac.UserActionDelete,
		rbac.UserActionGrant,
	} {
		err := rbac.CanModifyUser(actor, self, action)
		assert.ErrorIs(t, err, shared.ErrUnauthorized, string(action))
	}
	assert.NoError(t, rbac.CanModifyUser(actor, self, rbac.UserActionEditProfile))
	assert.NoError(t, rbac.CanModifyUser(actor, self, rbac.UserActionView))
}

func TestCanModifyUserProtectsSuperUsers(t *testing.T) {
	target := rbac.UserTarget{ID: 99, SuperUser: true}

	admin := managerSet(4, shared.PermUserDelete)
	admin.Role = rbac.RoleAdmin
	assert.ErrorIs(t, rbac.CanModifyUser(admin, target, rbac.UserActionEditProfile), shared.ErrUnauthorized)
	assert.ErrorIs(t, rbac.CanModifyUser(admin, target, rbac.UserActionView), shared.ErrUnauthorized)

	super := managerSet(5, shared.PermUserDelete)
	super.SuperUser = true
	assert.NoError(t, rbac.CanModifyUser(super, target, rbac.UserActionChangeStatus))
}

func TestCanModifyUserRequiresMatchingCapability(t *testing.T) {
	target := rbac.UserTarget{ID: 20}
	editor := managerSet(4)

	assert.NoError(t, rbac.CanModifyUser(editor, target, rbac.UserActionChangeRole))
	assert.ErrorIs(t, rbac.CanModifyUser(editor, target, rbac.UserActionDelete), shared.ErrUnauthorized)

	student := grantSet(principal{id: 3, role: rbac.RoleStudent})
	assert.ErrorIs(t, rbac.CanModifyUser(student, target, rbac.UserActionView), shared.ErrUnauthorized)

	err := rbac.CanModifyUser(editor, target, rbac.UserAction("teleport"))
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCanAssignRole(t *testing.T) {
	instructor := managerSet(4)
	assert.ErrorIs(t, rbac.CanAssignRole(instructor, rbac.RoleAdmin), shared.ErrUnauthorized)
	assert.NoError(t, rbac.CanAssignRole(instructor, rbac.RoleStudent))

	admin := grantSet(principal{id: 1, role: rbac.RoleAdmin})
	assert.NoError(t, rbac.CanAssignRole(admin, rbac.RoleAdmin))
}

func TestParseRole(t *testing.T) {
	role, err := rbac.ParseRole(" instructor ")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleInstructor, role)

	_, err = rbac.ParseRole("OWNER")
	assert.ErrorIs(t, err, shared.ErrValidation)
}
