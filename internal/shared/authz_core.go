package shared

// Platform capabilities. Grants reference these names verbatim.
const (
	PermCourseCreate = "course.create"
	PermCourseEdit   = "course.edit"
	PermCourseDelete = "course.delete"
	PermCourseView   = "course.view"

	PermUserCreate = "user.create"
	PermUserEdit   = "user.edit"
	PermUserDelete = "user.delete"
	PermUserView   = "user.view"

	PermToolAccess  = "tool.access"
	PermAdminAccess = "admin.access"

	PermCalendarView   = "calendar.view"
	PermCalendarManage = "calendar.manage"

	PermAuditView = "audit.view"
)

// CoreScopes lists every capability known to the platform.
func CoreScopes() []string {
	return []string{
		PermCourseCreate,
		PermCourseEdit,
		PermCourseDelete,
		PermCourseView,
		PermUserCreate,
		PermUserEdit,
		PermUserDelete,
		PermUserView,
		PermToolAccess,
		PermAdminAccess,
		PermCalendarView,
		PermCalendarManage,
		PermAuditView,
	}
}
