package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const minPasswordLength = 8

// SessionRevoker revokes every live session of a user.
type SessionRevoker interface {
	InvalidateAllForUser(ctx context.Context, userID string) int
}

// DeactivationListener is told when a user is deactivated.
type DeactivationListener interface {
	NotifyUserDeactivated(ctx context.Context, userID string)
}

// UserService orchestrates validation, authorization, and persistence for users.
type UserService struct {
	users        UserRepository
	sessions     SessionRevoker
	listener     DeactivationListener
	idGenerator  func() string
	now          func() time.Time
	hashPassword func(string) (string, error)
	logger       *slog.Logger
}

// NewUserService wires dependencies for the user service. sessions and listener are optional.
func NewUserService(users UserRepository, sessions SessionRevoker, listener DeactivationListener, idGenerator func() string, now func() time.Time) *UserService {
	return NewUserServiceWithLogger(users, sessions, listener, idGenerator, now, nil)
}

// NewUserServiceWithLogger wires dependencies for the user service with a specified logger.
func NewUserServiceWithLogger(users UserRepository, sessions SessionRevoker, listener DeactivationListener, idGenerator func() string, now func() time.Time, logger *slog.Logger) *UserService {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &UserService{
		users:        users,
		sessions:     sessions,
		listener:     listener,
		idGenerator:  idGenerator,
		now:          now,
		hashPassword: HashPassword,
		logger:       defaultLogger(logger),
	}
}

func (s *UserService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "UserService", operation, attrs...)
}

// CreateUser validates input and persists a new user for facility managers.
func (s *UserService) CreateUser(ctx context.Context, params CreateUserParams) (user User, err error) {
	if s == nil {
		err = fmt.Errorf("UserService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateUser", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", user.ID, "role", user.Role).InfoContext(ctx, "user created")
	}()

	if !params.Principal.IsManager() {
		err = ErrForbidden
		return
	}
	user, err = s.create(ctx, params.Input)
	return
}

// Bootstrap creates the user unless one with the same e-mail exists. It bypasses
// role checks and is intended for seeding an empty deployment.
func (s *UserService) Bootstrap(ctx context.Context, input UserInput) (User, bool, error) {
	if s == nil {
		return User{}, false, fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return User{}, false, fmt.Errorf("user repository not configured")
	}
	existing, err := s.users.GetUserByEmail(ctx, normalizeEmail(input.Email))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUserNotFound) {
		return User{}, false, err
	}
	created, err := s.create(ctx, input)
	if err != nil {
		return User{}, false, err
	}
	s.loggerWith(ctx, "Bootstrap", "user_id", created.ID, "role", created.Role).InfoContext(ctx, "user bootstrapped")
	return created, true, nil
}

func (s *UserService) create(ctx context.Context, input UserInput) (User, error) {
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}

	input.Email = normalizeEmail(input.Email)
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	vErr := &ValidationError{}
	validateEmail(input.Email, vErr)
	if input.DisplayName == "" {
		vErr.add("display_name", "display name is required")
	}
	if input.Role == "" {
		input.Role = RoleStudent
	} else if role, ok := ParseRole(string(input.Role)); ok {
		input.Role = role
	} else {
		vErr.add("role", "role is invalid")
	}
	if len(input.Password) < minPasswordLength {
		vErr.add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if vErr.HasErrors() {
		return User{}, vErr
	}

	if _, err := s.users.GetUserByEmail(ctx, input.Email); err == nil {
		return User{}, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	hash, err := s.hashPassword(input.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	return s.users.CreateUser(ctx, User{
		ID:           s.idGenerator(),
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		Role:         input.Role,
		Active:       true,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// GetUser returns a user to a facility manager or to the user themselves.
func (s *UserService) GetUser(ctx context.Context, principal Principal, userID string) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}
	userID = strings.TrimSpace(userID)
	if !principal.IsManager() && principal.UserID != userID {
		return User{}, ErrForbidden
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return User{}, mapUserRepoError(err)
	}
	return user, nil
}

// ListUsers returns all users ordered by e-mail for facility managers.
func (s *UserService) ListUsers(ctx context.Context, principal Principal) (users []User, err error) {
	if s == nil {
		err = fmt.Errorf("UserService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ListUsers", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list users", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("count", len(users)).InfoContext(ctx, "users listed")
	}()

	if !principal.IsManager() {
		err = ErrForbidden
		return
	}
	if s.users == nil {
		return
	}

	var stored []User
	stored, err = s.users.ListUsers(ctx)
	if err != nil {
		return
	}

	users = make([]User, len(stored))
	copy(users, stored)
	sort.Slice(users, func(i, j int) bool {
		if users[i].Email == users[j].Email {
			return users[i].ID < users[j].ID
		}
		return users[i].Email < users[j].Email
	})
	return
}

// UpdateUser applies the patch for facility managers. Clearing Active has the
// same effects as DeactivateUser.
func (s *UserService) UpdateUser(ctx context.Context, params UpdateUserParams) (user User, err error) {
	if s == nil {
		err = fmt.Errorf("UserService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateUser", "principal_id", params.Principal.UserID, "user_id", params.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "user updated")
	}()

	if !params.Principal.IsManager() {
		err = ErrForbidden
		return
	}
	if s.users == nil {
		err = fmt.Errorf("user repository not configured")
		return
	}

	var existing User
	existing, err = s.users.GetUser(ctx, strings.TrimSpace(params.UserID))
	if err != nil {
		err = mapUserRepoError(err)
		return
	}

	updated := existing
	vErr := &ValidationError{}
	patch := params.Patch
	if patch.Email != nil {
		updated.Email = normalizeEmail(*patch.Email)
		validateEmail(updated.Email, vErr)
	}
	if patch.DisplayName != nil {
		updated.DisplayName = strings.TrimSpace(*patch.DisplayName)
		if updated.DisplayName == "" {
			vErr.add("display_name", "display name is required")
		}
	}
	if patch.Role != nil {
		role, ok := ParseRole(string(*patch.Role))
		if !ok {
			vErr.add("role", "role is invalid")
		}
		updated.Role = role
	}
	if patch.Active != nil {
		updated.Active = *patch.Active
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if updated.Email != existing.Email {
		if _, lookupErr := s.users.GetUserByEmail(ctx, updated.Email); lookupErr == nil {
			err = ErrAlreadyExists
			return
		} else if !errors.Is(lookupErr, ErrNotFound) && !errors.Is(lookupErr, ErrUserNotFound) {
			err = lookupErr
			return
		}
	}

	updated.UpdatedAt = s.now()
	user, err = s.users.UpdateUser(ctx, updated)
	if err != nil {
		err = mapUserRepoError(err)
		return
	}

	if existing.Active && !user.Active {
		s.afterDeactivation(ctx, user.ID)
	}
	return
}

// DeactivateUser marks the user inactive and revokes their sessions. Users are
// never hard-deleted. Deactivating an inactive user is a no-op.
func (s *UserService) DeactivateUser(ctx context.Context, principal Principal, userID string) (User, error) {
	inactive := false
	return s.UpdateUser(ctx, UpdateUserParams{
		Principal: principal,
		UserID:    userID,
		Patch:     UserPatch{Active: &inactive},
	})
}

func (s *UserService) afterDeactivation(ctx context.Context, userID string) {
	revoked := 0
	if s.sessions != nil {
		revoked = s.sessions.InvalidateAllForUser(ctx, userID)
	}
	if s.listener != nil {
		s.listener.NotifyUserDeactivated(ctx, userID)
	}
	s.loggerWith(ctx, "DeactivateUser", "user_id", userID, "sessions_revoked", revoked).InfoContext(ctx, "user deactivated")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string, vErr *ValidationError) {
	if email == "" {
		vErr.add("email", "email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		vErr.add("email", "email is invalid")
	}
}

func mapUserRepoError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
