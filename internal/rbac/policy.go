package rbac

import (
	"fmt"

	"github.com/lumen-lms/lumen/internal/shared"
)

// HasPermission is true iff a non-expired grant for c exists with granted=true.
func HasPermission(gs GrantSet, c Capability) bool {
	g, ok := gs.grants[c]
	if !ok {
		return false
	}
	return g.ActiveAt(gs.now())
}

// HasPermissionNamed resolves a capability by name. Unknown names are the only error.
func HasPermissionNamed(gs GrantSet, name string) (bool, error) {
	c, err := ParseCapability(name)
	if err != nil {
		return false, err
	}
	return HasPermission(gs, c), nil
}

// CanAccessAdminPanel is true for ADMIN principals or holders of admin.access.
func CanAccessAdminPanel(gs GrantSet) bool {
	return gs.Role == RoleAdmin || HasPermission(gs, shared.PermAdminAccess)
}

// CanViewAudit is true for holders of audit.view or admin panel access.
func CanViewAudit(gs GrantSet) bool {
	return HasPermission(gs, shared.PermAuditView) || CanAccessAdminPanel(gs)
}

// CanAccessCourse checks view or edit access to a course. Admins and the course author
// always pass. Edit requires an explicit per-course edit grant or the global course.edit
// capability; view is also satisfied by a per-course view grant or course.view.
func CanAccessCourse(gs GrantSet, course CourseRef, mode AccessMode) bool {
	if gs.PrincipalID == 0 {
		return false
	}
	if gs.Role == RoleAdmin {
		return true
	}
	if course.AuthorID != 0 && course.AuthorID == gs.PrincipalID {
		return true
	}
	cg, hasCourse := gs.courses[course.ID]
	hasCourse = hasCourse && cg.ActiveAt(gs.now())

	canEdit := (hasCourse && cg.Mode == AccessEdit) || HasPermission(gs, shared.PermCourseEdit)
	switch mode {
	case AccessEdit:
		return canEdit
	case AccessView:
		return canEdit || hasCourse || HasPermission(gs, shared.PermCourseView)
	default:
		return false
	}
}

// CanManageUsers requires admin panel access and at least one user mutation capability.
func CanManageUsers(gs GrantSet) bool {
	if !CanAccessAdminPanel(gs) {
		return false
	}
	return HasPermission(gs, shared.PermUserEdit) ||
		HasPermission(gs, shared.PermUserDelete) ||
		HasPermission(gs, shared.PermUserCreate)
}

// UserAction is an operation one principal attempts on another principal's account.
type UserAction string

const (
	UserActionView         UserAction = "view"
	UserActionEditProfile  UserAction = "edit_profile"
	UserActionChangeRole   UserAction = "change_role"
	UserActionChangeStatus UserAction = "change_status"
	UserActionDelete       UserAction = "delete"
	UserActionGrant        UserAction = "grant"
)

// UserTarget identifies the account being acted on.
type UserTarget struct {
	ID        int64
	SuperUser bool
}

// CanModifyUser enforces the account management invariants. Self role changes, self
// deletion, self status changes and self grants are always rejected, whatever the grants.
// Only super-users may act on super-user accounts. Everything else funnels through
// CanManageUsers plus the capability matching the action.
func CanModifyUser(actor GrantSet, target UserTarget, action UserAction) error {
	self := actor.PrincipalID != 0 && actor.PrincipalID == target.ID
	if self {
		switch action {
		case UserActionView, UserActionEditProfile:
			return nil
		default:
			return fmt.Errorf("rbac: %s on own account: %w", action, shared.ErrUnauthorized)
		}
	}
	if target.SuperUser && !actor.SuperUser {
		return fmt.Errorf("rbac: %s on super-user account: %w", action, shared.ErrUnauthorized)
	}
	var required Capability
	switch action {
	case UserActionView:
		if CanAccessAdminPanel(actor) && (HasPermission(actor, shared.PermUserView) || CanManageUsers(actor)) {
			return nil
		}
		return fmt.Errorf("rbac: view user: %w", shared.ErrUnauthorized)
	case UserActionEditProfile, UserActionChangeRole, UserActionChangeStatus, UserActionGrant:
		required = shared.PermUserEdit
	case UserActionDelete:
		required = shared.PermUserDelete
	default:
		return fmt.Errorf("rbac: unknown user action %q: %w", action, shared.ErrValidation)
	}
	if !CanManageUsers(actor) || !HasPermission(actor, required) {
		return fmt.Errorf("rbac: %s requires %s: %w", action, required, shared.ErrUnauthorized)
	}
	return nil
}

// CanAssignRole additionally restricts who may hand out ADMIN.
func CanAssignRole(actor GrantSet, role Role) error {
	if role == RoleAdmin && actor.Role != RoleAdmin {
		return fmt.Errorf("rbac: only admins may assign ADMIN: %w", shared.ErrUnauthorized)
	}
	return nil
}

// CanCreateUser requires user management access and user.create.
func CanCreateUser(actor GrantSet) error {
	if !CanManageUsers(actor) || !HasPermission(actor, shared.PermUserCreate) {
		return fmt.Errorf("rbac: create user requires %s: %w", shared.PermUserCreate, shared.ErrUnauthorized)
	}
	return nil
}
