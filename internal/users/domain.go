package users

import (
	"time"

	"github.com/lumen-lms/lumen/internal/rbac"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	default:
		return false
	}
}

// User represents a user account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         rbac.Role `json:"role"`
	SuperUser    bool      `json:"is_super_user"`
	IsActive     bool      `json:"is_active"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GetID implements rbac.Principal.
func (u User) GetID() int64 { return u.ID }

// GetRole implements rbac.Principal.
func (u User) GetRole() rbac.Role { return u.Role }

// IsSuperUser implements rbac.Principal.
func (u User) IsSuperUser() bool { return u.SuperUser }

// CanSignIn is true only for active accounts in ACTIVE status.
func (u User) CanSignIn() bool {
	return u.IsActive && u.Status == StatusActive
}

// Target describes u for rbac.CanModifyUser.
func (u User) Target() rbac.UserTarget {
	return rbac.UserTarget{ID: u.ID, SuperUser: u.SuperUser}
}

// ListFilter narrows a user listing.
type ListFilter struct {
	Role   rbac.Role
	Status Status
	Query  string
}

// CreateInput carries a new account request.
type CreateInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"required,max=120"`
	Role     string `json:"role" validate:"required,oneof=ADMIN INSTRUCTOR STUDENT GUEST"`
	Password string `json:"password" validate:"omitempty,min=8,max=72"`
}

// ProfileInput carries profile edits. Nil fields are left unchanged.
type ProfileInput struct {
	Email *string `json:"email" validate:"omitempty,email,max=254"`
	Name  *string `json:"name" validate:"omitempty,min=1,max=120"`
}

// NewUser is the row written by Repository.Create.
type NewUser struct {
	Email        string
	Name         string
	PasswordHash string
	Role         rbac.Role
	SuperUser    bool
}
