package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/access-control/internal/application"
	"github.com/example/access-control/internal/persistence"
	"github.com/example/access-control/internal/recurrence"
)

var userCounter uint64

// referenceTime is a Monday morning.
var referenceTime = time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// FastArgon2idParams keeps fixture password hashing cheap. Verification reads
// the parameters from the hash, so these hashes verify like production ones.
var FastArgon2idParams = application.Argon2idParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// DefaultPassword is the plaintext password of every fixture user.
const DefaultPassword = "correct-horse"

// ----------------------------- User fixtures -----------------------------

// UserFixture represents a deterministic user record that can be materialised
// for application or persistence tests.
type UserFixture struct {
	ID          string
	Email       string
	DisplayName string
	Role        application.Role
	Active      bool
	Password    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic active student with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	fixture := UserFixture{
		ID:          id,
		Email:       fmt.Sprintf("%s@example.com", id),
		DisplayName: fmt.Sprintf("User %03d", idx),
		Role:        application.RoleStudent,
		Active:      true,
		Password:    DefaultPassword,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
	}
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// WithUserRole overrides the default student role.
func WithUserRole(role application.Role) UserOption {
	return func(f *UserFixture) {
		f.Role = role
	}
}

// AsManager makes the fixture a facility manager.
func AsManager() UserOption {
	return WithUserRole(application.RoleFacilityManager)
}

// Inactive marks the fixture as deactivated.
func Inactive() UserOption {
	return func(f *UserFixture) {
		f.Active = false
	}
}

// WithUserPassword overrides the plaintext password.
func WithUserPassword(password string) UserOption {
	return func(f *UserFixture) {
		f.Password = password
	}
}

// Principal returns an application.Principal derived from the fixture.
func (f UserFixture) Principal() application.Principal {
	return application.Principal{UserID: f.ID, Role: f.Role}
}

// Application returns the fixture as an application.User with a hashed password.
func (f UserFixture) Application() application.User {
	return application.User{
		ID:           f.ID,
		Email:        f.Email,
		DisplayName:  f.DisplayName,
		Role:         f.Role,
		Active:       f.Active,
		PasswordHash: f.passwordHash(),
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// Persistence returns the fixture as a persistence.User value.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:           f.ID,
		Email:        f.Email,
		DisplayName:  f.DisplayName,
		Role:         string(f.Role),
		Active:       f.Active,
		PasswordHash: f.passwordHash(),
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// Input returns the fixture as an application.UserInput.
func (f UserFixture) Input() application.UserInput {
	return application.UserInput{
		Email:       f.Email,
		DisplayName: f.DisplayName,
		Role:        f.Role,
		Password:    f.Password,
	}
}

func (f UserFixture) passwordHash() string {
	if f.Password == "" {
		return ""
	}
	hash, err := application.CreatePasswordHash(f.Password, FastArgon2idParams)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: hash password: %v", err))
	}
	return hash
}

// --------------------------- Time slot fixtures ---------------------------

// Slot builds an active time slot from "HH:MM" or "HH:MM:SS" strings. It
// panics on malformed input.
func Slot(day recurrence.Weekday, start, end string) application.TimeSlot {
	return application.TimeSlot{Day: day, Start: mustClock(start), End: mustClock(end), Active: true}
}

// InactiveSlot builds a slot that never matches.
func InactiveSlot(day recurrence.Weekday, start, end string) application.TimeSlot {
	slot := Slot(day, start, end)
	slot.Active = false
	return slot
}

// WeekdaySlots returns one active slot per weekday, Monday through Friday.
func WeekdaySlots(start, end string) []application.TimeSlot {
	slots := make([]application.TimeSlot, 0, 5)
	for _, day := range recurrence.Weekdays[:5] {
		slots = append(slots, Slot(day, start, end))
	}
	return slots
}

func mustClock(value string) recurrence.ClockTime {
	c, err := recurrence.ParseClock(value)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: %v", err))
	}
	return c
}
