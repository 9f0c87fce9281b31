package application

import (
	"strings"
	"time"

	"github.com/example/access-control/internal/recurrence"
)

// Role classifies users for authorization of administrative operations.
type Role string

const (
	RoleStudent         Role = "student"
	RoleProfessor       Role = "professor"
	RoleStaff           Role = "staff"
	RoleFacilityManager Role = "facility_manager"
)

// ParseRole normalizes a role name and reports whether it is known.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	switch role {
	case RoleStudent, RoleProfessor, RoleStaff, RoleFacilityManager:
		return role, true
	}
	return "", false
}

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID string
	Role   Role
}

// IsManager reports whether the principal may perform administrative mutations.
func (p Principal) IsManager() bool {
	return p.Role == RoleFacilityManager
}

// User is an identity known to the control plane. Users are deactivated, never deleted.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	Role         Role
	Active       bool
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserInput captures caller provided fields for a new user.
type UserInput struct {
	Email       string
	DisplayName string
	Role        Role
	Password    string
}

// UserPatch carries optional updates; nil fields are left unchanged.
type UserPatch struct {
	Email       *string
	DisplayName *string
	Role        *Role
	Active      *bool
}

// CreateUserParams wraps the data required to create a user.
type CreateUserParams struct {
	Principal Principal
	Input     UserInput
}

// UpdateUserParams wraps the data required to update an existing user.
type UpdateUserParams struct {
	Principal Principal
	UserID    string
	Patch     UserPatch
}

// Session is a time bounded authentication grant identified by an opaque token.
type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Active    bool
}

// ValidAt reports whether the session is usable at now.
func (s Session) ValidAt(now time.Time) bool {
	return s.Active && !now.After(s.ExpiresAt)
}

// TimeSlot is a recurring weekly window owned by a single permission.
type TimeSlot struct {
	Day    recurrence.Weekday
	Start  recurrence.ClockTime
	End    recurrence.ClockTime
	Active bool
}

// Window returns the recurrence form of the slot.
func (s TimeSlot) Window() recurrence.Window {
	return recurrence.Window{Day: s.Day, Start: s.Start, End: s.End}
}

// Permission grants a user access to a room during its time slots.
type Permission struct {
	ID            string
	UserID        string
	RoomID        string
	TimeSlots     []TimeSlot
	Active        bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// ActiveWindows returns the windows of the permission's active slots.
func (p Permission) ActiveWindows() []recurrence.Window {
	windows := make([]recurrence.Window, 0, len(p.TimeSlots))
	for _, slot := range p.TimeSlots {
		if slot.Active {
			windows = append(windows, slot.Window())
		}
	}
	return windows
}

func clonePermission(p Permission) Permission {
	clone := p
	if p.TimeSlots != nil {
		clone.TimeSlots = append([]TimeSlot(nil), p.TimeSlots...)
	}
	if p.DeactivatedAt != nil {
		at := *p.DeactivatedAt
		clone.DeactivatedAt = &at
	}
	return clone
}

// AccessOutcome records whether an access attempt was allowed by the field hardware.
type AccessOutcome string

const (
	OutcomeGranted AccessOutcome = "granted"
	OutcomeDenied  AccessOutcome = "denied"
)

// ParseAccessOutcome normalizes an outcome name and reports whether it is known.
func ParseAccessOutcome(value string) (AccessOutcome, bool) {
	outcome := AccessOutcome(strings.ToLower(strings.TrimSpace(value)))
	switch outcome {
	case OutcomeGranted, OutcomeDenied:
		return outcome, true
	}
	return "", false
}

// AccessEvent is an append-only record of a door access attempt.
type AccessEvent struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    string        `json:"user_id"`
	RoomID    string        `json:"room_id"`
	Outcome   AccessOutcome `json:"outcome"`
	DeviceID  string        `json:"device_id,omitempty"`
	GatewayID string        `json:"gateway_id,omitempty"`
}

// AccessEventInput captures caller provided fields for a new access event.
type AccessEventInput struct {
	Timestamp time.Time
	UserID    string
	RoomID    string
	Outcome   AccessOutcome
	DeviceID  string
	GatewayID string
}

// AccessEventFilter narrows access event queries. Zero values are unbounded.
type AccessEventFilter struct {
	UserID  string
	RoomID  string
	Outcome AccessOutcome
	From    time.Time
	To      time.Time
	Limit   int
}

// DeviceStatus is a heartbeat reported by a gateway for one of its devices.
type DeviceStatus struct {
	DeviceID      string    `json:"device_id"`
	GatewayID     string    `json:"gateway_id"`
	Online        bool      `json:"online"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
