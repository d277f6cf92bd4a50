package rbac

import (
	"fmt"
	"strings"
	"time"

	"github.com/lumen-lms/lumen/internal/shared"
)

// Role is the single coarse role carried by every principal.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleInstructor Role = "INSTRUCTOR"
	RoleStudent    Role = "STUDENT"
	RoleGuest      Role = "GUEST"
)

// IsValid reports whether r belongs to the closed role set.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleInstructor, RoleStudent, RoleGuest:
		return true
	default:
		return false
	}
}

// ParseRole normalises and validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.IsValid() {
		return "", shared.NewValidationError("role", fmt.Sprintf("unknown role %q", raw))
	}
	return role, nil
}

// Capability is a named, checkable permission.
type Capability string

var knownCapabilities = func() map[Capability]struct{} {
	set := make(map[Capability]struct{})
	for _, name := range shared.CoreScopes() {
		set[Capability(name)] = struct{}{}
	}
	return set
}()

// ErrUnknownCapability is returned for capability names outside the closed set.
var ErrUnknownCapability = fmt.Errorf("rbac: unknown capability: %w", shared.ErrValidation)

// ParseCapability validates a capability name.
func ParseCapability(raw string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownCapabilities[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, raw)
	}
	return c, nil
}

// Capabilities returns the full closed set in declaration order.
func Capabilities() []Capability {
	scopes := shared.CoreScopes()
	out := make([]Capability, len(scopes))
	for i, s := range scopes {
		out[i] = Capability(s)
	}
	return out
}

// Grant asserts that a principal holds (or is denied) a capability.
type Grant struct {
	UserID     int64      `json:"user_id"`
	Capability Capability `json:"capability"`
	Granted    bool       `json:"granted"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	GrantedBy  int64      `json:"granted_by,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ActiveAt reports whether the grant is effective at t.
func (g Grant) ActiveAt(t time.Time) bool {
	if !g.Granted {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(t)
}

// AccessMode is the requested level of course access.
type AccessMode string

const (
	AccessView AccessMode = "view"
	AccessEdit AccessMode = "edit"
)

// ParseAccessMode validates a course access mode.
func ParseAccessMode(raw string) (AccessMode, error) {
	switch m := AccessMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case AccessView, AccessEdit:
		return m, nil
	default:
		return "", shared.NewValidationError("mode", "must be view or edit")
	}
}

// CourseGrant gives a principal explicit access to one course.
type CourseGrant struct {
	UserID    int64      `json:"user_id"`
	CourseID  int64      `json:"course_id"`
	Mode      AccessMode `json:"mode"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ActiveAt reports whether the course grant is effective at t.
func (g CourseGrant) ActiveAt(t time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(t)
}

// CourseRef is the minimum a course check needs to know about a course.
type CourseRef struct {
	ID       int64
	AuthorID int64
}

// Principal describes the authenticated actor.
type Principal interface {
	GetID() int64
	GetRole() Role
	IsSuperUser() bool
}

// GrantSet is the evaluated permission state of one principal.
type GrantSet struct {
	PrincipalID int64
	Role        Role
	SuperUser   bool
	// At is the evaluation instant for expiry checks; zero means time.Now.
	At      time.Time
	grants  map[Capability]Grant
	courses map[int64]CourseGrant
}

// NewGrantSet builds a GrantSet. Later duplicates of a capability overwrite earlier ones.
func NewGrantSet(p Principal, grants []Grant, courses []CourseGrant) GrantSet {
	gs := GrantSet{
		grants:  make(map[Capability]Grant, len(grants)),
		courses: make(map[int64]CourseGrant, len(courses)),
	}
	if p != nil {
		gs.PrincipalID = p.GetID()
		gs.Role = p.GetRole()
		gs.SuperUser = p.IsSuperUser()
	}
	for _, g := range grants {
		gs.grants[g.Capability] = g
	}
	for _, c := range courses {
		gs.courses[c.CourseID] = c
	}
	return gs
}

func (gs GrantSet) now() time.Time {
	if gs.At.IsZero() {
		return time.Now()
	}
	return gs.At
}

// Effective lists capabilities currently granted, in declaration order.
func (gs GrantSet) Effective() []Capability {
	now := gs.now()
	out := make([]Capability, 0, len(gs.grants))
	for _, c := range Capabilities() {
		if g, ok := gs.grants[c]; ok && g.ActiveAt(now) {
			out = append(out, c)
		}
	}
	return out
}
