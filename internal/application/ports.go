package application

import (
	"context"
	"time"
)

// UserRepository captures the persistence operations needed for users.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListActiveUsers(ctx context.Context) ([]User, error)
}

// UserDirectory exposes user lookup by identity.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// PermissionRepository captures the persistence operations needed for permissions.
// Implementations must publish a saved permission only once it is fully written.
type PermissionRepository interface {
	ListPermissionsForUser(ctx context.Context, userID string) ([]Permission, error)
	SavePermission(ctx context.Context, permission Permission) (Permission, error)
	DeactivatePermission(ctx context.Context, userID, roomID string, at time.Time) (bool, error)
}

// ActivePermissionReplacer is implemented by stores able to deactivate the active
// permission for a pair and insert its successor in one atomic step.
type ActivePermissionReplacer interface {
	ReplaceActivePermission(ctx context.Context, next Permission, at time.Time) (Permission, error)
}

// AccessEventRepository captures the persistence operations needed for access events.
// A filter Limit of zero or less returns every match.
type AccessEventRepository interface {
	AppendAccessEvent(ctx context.Context, event AccessEvent) (AccessEvent, error)
	QueryAccessEvents(ctx context.Context, filter AccessEventFilter) ([]AccessEvent, error)
}

// CredentialChangeReason labels why a user's credential payload must be redelivered.
type CredentialChangeReason string

const (
	ChangeGranted     CredentialChangeReason = "granted"
	ChangeUpdated     CredentialChangeReason = "updated"
	ChangeRevoked     CredentialChangeReason = "revoked"
	ChangeDeactivated CredentialChangeReason = "user_deactivated"
)

// CredentialChange notifies delivery collaborators that a user's payload changed.
type CredentialChange struct {
	UserID string
	RoomID string
	Reason CredentialChangeReason
}

// CredentialNotifier receives committed credential changes. Implementations must not block.
type CredentialNotifier interface {
	NotifyCredentialChange(ctx context.Context, change CredentialChange)
}

// DeviceStatusSource exposes the latest gateway heartbeats for reporting.
type DeviceStatusSource interface {
	DeviceStatuses(ctx context.Context) ([]DeviceStatus, error)
}
