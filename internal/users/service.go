package users

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"

	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
)

// ErrAuthorOfPublishedCourses blocks deleting accounts that still own live courses.
var ErrAuthorOfPublishedCourses = fmt.Errorf("users: account authors published courses: %w", shared.ErrConflict)

// CourseAuthorship reports how many published courses an account authors.
type CourseAuthorship interface {
	CountPublishedByAuthor(ctx context.Context, userID int64) (int, error)
}

// Service handles user business logic.
type Service struct {
	repo      RepositoryPort
	courses   CourseAuthorship
	audit     shared.AuditRecorder
	logger    *slog.Logger
	validator *validator.Validate
	hashCost  int
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, courses CourseAuthorship, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		courses:   courses,
		audit:     audit,
		logger:    logger,
		validator: validator.New(),
		hashCost:  bcrypt.DefaultCost,
	}
}

// SetHashCost overrides the bcrypt cost, mostly for tests.
func (s *Service) SetHashCost(cost int) {
	s.hashCost = cost
}

// NormaliseName trims, collapses inner whitespace and applies NFC.
func NormaliseName(name string) string {
	return norm.NFC.String(strings.Join(strings.Fields(name), " "))
}

// NormaliseEmail lowercases and trims an email address.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Lookup returns the account without authorization checks. It backs session resolution
// and the grants API target lookup.
func (s *Service) Lookup(ctx context.Context, id int64) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// Get returns the account if the actor may view it.
func (s *Service) Get(ctx context.Context, actor rbac.GrantSet, id int64) (User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := rbac.CanModifyUser(actor, u.Target(), rbac.UserActionView); err != nil {
		return User{}, err
	}
	return u, nil
}

// List returns one page of accounts.
func (s *Service) List(ctx context.Context, actor rbac.GrantSet, page shared.PageRequest, filter ListFilter) ([]User, shared.Pagination, error) {
	if !rbac.CanAccessAdminPanel(actor) || !(rbac.HasPermission(actor, shared.PermUserView) || rbac.CanManageUsers(actor)) {
		return nil, shared.Pagination{}, fmt.Errorf("users: list: %w", shared.ErrUnauthorized)
	}
	users, total, err := s.repo.List(ctx, page, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// Create registers a new account. When no password is supplied a temporary one is
// generated and returned once.
func (s *Service) Create(ctx context.Context, actor rbac.GrantSet, in CreateInput) (User, string, error) {
	in.Email = NormaliseEmail(in.Email)
	in.Name = NormaliseName(in.Name)
	in.Role = strings.ToUpper(strings.TrimSpace(in.Role))
	if err := s.validator.Struct(in); err != nil {
		return User{}, "", shared.FromValidator(err)
	}
	if err := rbac.CanCreateUser(actor); err != nil {
		return User{}, "", err
	}
	role, err := rbac.ParseRole(in.Role)
	if err != nil {
		return User{}, "", err
	}
	if err := rbac.CanAssignRole(actor, role); err != nil {
		return User{}, "", err
	}
	password := in.Password
	temporary := ""
	if password == "" {
		password, err = temporaryPassword()
		if err != nil {
			return User{}, "", err
		}
		temporary = password
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return User{}, "", fmt.Errorf("users: hash password: %w", err)
	}
	u, err := s.repo.Create(ctx, NewUser{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return User{}, "", err
	}
	s.record(ctx, actor, "user.create", u.ID, map[string]any{"role": role})
	return u, temporary, nil
}

// UpdateProfile edits email and display name.
func (s *Service) UpdateProfile(ctx context.Context, actor rbac.GrantSet, id int64, in ProfileInput) (User, error) {
	if in.Email != nil {
		email := NormaliseEmail(*in.Email)
		in.Email = &email
	}
	if err := s.validator.Struct(in); err != nil {
		return User{}, shared.FromValidator(err)
	}
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := rbac.CanModifyUser(actor, u.Target(), rbac.UserActionEditProfile); err != nil {
		return User{}, err
	}
	email, name := u.Email, u.Name
	if in.Email != nil {
		email = *in.Email
	}
	if in.Name != nil {
		name = NormaliseName(*in.Name)
		if name == "" {
			return User{}, shared.NewValidationError("name", "must not be blank")
		}
	}
	updated, err := s.repo.UpdateProfile(ctx, id, email, name)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "user.update_profile", id, nil)
	return updated, nil
}

// ChangeRole assigns a new coarse role.
func (s *Service) ChangeRole(ctx context.Context, actor rbac.GrantSet, id int64, raw string) (User, error) {
	role, err := rbac.ParseRole(raw)
	if err != nil {
		return User{}, err
	}
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := rbac.CanModifyUser(actor, u.Target(), rbac.UserActionChangeRole); err != nil {
		return User{}, err
	}
	if err := rbac.CanAssignRole(actor, role); err != nil {
		return User{}, err
	}
	if u.SuperUser && role != rbac.RoleAdmin {
		return User{}, shared.NewValidationError("role", "super-user accounts must keep the ADMIN role")
	}
	if u.Role == role {
		return u, nil
	}
	updated, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "user.change_role", id, map[string]any{"from": u.Role, "to": role})
	return updated, nil
}

// ChangeStatus suspends, deactivates or reactivates an account.
func (s *Service) ChangeStatus(ctx context.Context, actor rbac.GrantSet, id int64, status Status) (User, error) {
	if !status.IsValid() {
		return User{}, shared.NewValidationError("status", "must be ACTIVE, INACTIVE or SUSPENDED")
	}
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := rbac.CanModifyUser(actor, u.Target(), rbac.UserActionChangeStatus); err != nil {
		return User{}, err
	}
	updated, err := s.repo.UpdateStatus(ctx, id, status, status == StatusActive)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "user.change_status", id, map[string]any{"from": u.Status, "to": status})
	return updated, nil
}

// Delete soft-deletes the account: it becomes inactive and can no longer sign in.
func (s *Service) Delete(ctx context.Context, actor rbac.GrantSet, id int64) error {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := rbac.CanModifyUser(actor, u.Target(), rbac.UserActionDelete); err != nil {
		return err
	}
	if s.courses != nil {
		n, err := s.courses.CountPublishedByAuthor(ctx, id)
		if err != nil {
			return fmt.Errorf("users: count authored courses: %w", err)
		}
		if n > 0 {
			return ErrAuthorOfPublishedCourses
		}
	}
	if _, err := s.repo.UpdateStatus(ctx, id, StatusInactive, false); err != nil {
		return err
	}
	s.record(ctx, actor, "user.delete", id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, actor rbac.GrantSet, action string, id int64, meta map[string]any) {
	shared.RecordBestEffort(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actor.PrincipalID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}

func temporaryPassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("users: temporary password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
