package persistence

import "time"

// User represents an account stored by the control plane.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	Role         string
	Active       bool
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TimeSlot is a weekly window stored with its owning permission. Times use
// the "HH:MM:SS" form and Day the three letter weekday token.
type TimeSlot struct {
	Day       string
	StartTime string
	EndTime   string
	Active    bool
}

// Permission is a grant of room access. Rows are deactivated, never deleted.
type Permission struct {
	ID            string
	UserID        string
	RoomID        string
	TimeSlots     []TimeSlot
	Active        bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// AccessEvent is an append-only record of a door access attempt.
type AccessEvent struct {
	ID        string
	Timestamp time.Time
	UserID    string
	RoomID    string
	Outcome   string
	DeviceID  string
	GatewayID string
}

// AccessEventFilter narrows access event queries. Zero values are unbounded;
// From is inclusive and To exclusive.
type AccessEventFilter struct {
	UserID  string
	RoomID  string
	Outcome string
	From    time.Time
	To      time.Time
	Limit   int
}
