package persistence

import (
	"context"
	"time"
)

// UserRepository exposes create, read and update operations for users.
// There is no delete; users are deactivated.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListActiveUsers(ctx context.Context) ([]User, error)
}

// PermissionRepository stores permissions and their time slots.
type PermissionRepository interface {
	ListPermissionsForUser(ctx context.Context, userID string) ([]Permission, error)
	SavePermission(ctx context.Context, permission Permission) error
	// DeactivatePermission flips the active permission for the pair, if any.
	DeactivatePermission(ctx context.Context, userID, roomID string, at time.Time) (bool, error)
	// ReplaceActivePermission deactivates the active permission for the pair
	// and inserts next in one atomic step.
	ReplaceActivePermission(ctx context.Context, next Permission, at time.Time) error
}

// AccessEventRepository appends and queries access events. Results are
// ordered newest first; a Limit of zero or less returns every match.
type AccessEventRepository interface {
	AppendAccessEvent(ctx context.Context, event AccessEvent) error
	QueryAccessEvents(ctx context.Context, filter AccessEventFilter) ([]AccessEvent, error)
}

// Store bundles every repository behind a single backend.
type Store interface {
	UserRepository
	PermissionRepository
	AccessEventRepository
	Ping(ctx context.Context) error
	Close() error
}
