// Package memory provides a process-local persistence backend for tests and
// single-node demonstrations.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/access-control/internal/persistence"
)

// Store keeps every record in maps guarded by a single RWMutex. Records are
// cloned on the way in and out so callers never share memory with the store.
type Store struct {
	mu          sync.RWMutex
	users       map[string]persistence.User
	permissions map[string]persistence.Permission
	byUser      map[string][]string
	events      []persistence.AccessEvent
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[string]persistence.User),
		permissions: make(map[string]persistence.Permission),
		byUser:      make(map[string][]string),
	}
}

// Ping reports the store as always reachable.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close releases resources held by the store. No-op for the in-memory implementation.
func (s *Store) Close() error {
	return nil
}

// --- UserRepository implementation ---

// CreateUser stores a new user.
func (s *Store) CreateUser(_ context.Context, user persistence.User) error {
	if user.ID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user %s: %w", user.ID, persistence.ErrDuplicate)
	}
	if err := s.ensureUniqueEmailLocked(user.ID, user.Email); err != nil {
		return err
	}

	user.Email = normalizeEmail(user.Email)
	s.users[user.ID] = user
	return nil
}

// UpdateUser replaces an existing user.
func (s *Store) UpdateUser(_ context.Context, user persistence.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return persistence.ErrNotFound
	}
	if err := s.ensureUniqueEmailLocked(user.ID, user.Email); err != nil {
		return err
	}

	user.Email = normalizeEmail(user.Email)
	s.users[user.ID] = user
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(_ context.Context, id string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

// GetUserByEmail retrieves a user by case-insensitive email address.
func (s *Store) GetUserByEmail(_ context.Context, email string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	normalized := normalizeEmail(email)
	for _, user := range s.users {
		if user.Email == normalized {
			return user, nil
		}
	}
	return persistence.User{}, persistence.ErrNotFound
}

// ListUsers returns all users ordered by CreatedAt ascending.
func (s *Store) ListUsers(ctx context.Context) ([]persistence.User, error) {
	return s.listUsers(func(persistence.User) bool { return true }), nil
}

// ListActiveUsers returns active users ordered by CreatedAt ascending.
func (s *Store) ListActiveUsers(ctx context.Context) ([]persistence.User, error) {
	return s.listUsers(func(u persistence.User) bool { return u.Active }), nil
}

func (s *Store) listUsers(keep func(persistence.User) bool) []persistence.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]persistence.User, 0, len(s.users))
	for _, user := range s.users {
		if keep(user) {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users
}

func (s *Store) ensureUniqueEmailLocked(id, email string) error {
	normalized := normalizeEmail(email)
	for otherID, other := range s.users {
		if otherID != id && other.Email == normalized {
			return fmt.Errorf("email %s: %w", normalized, persistence.ErrDuplicate)
		}
	}
	return nil
}

// --- PermissionRepository implementation ---

// ListPermissionsForUser returns every permission of the user, oldest first.
func (s *Store) ListPermissionsForUser(_ context.Context, userID string) ([]persistence.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	out := make([]persistence.Permission, 0, len(ids))
	for _, id := range ids {
		out = append(out, clonePermission(s.permissions[id]))
	}
	return out, nil
}

// SavePermission inserts a new permission. An active permission is rejected
// when the pair already has one.
func (s *Store) SavePermission(_ context.Context, permission persistence.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(permission)
}

// DeactivatePermission deactivates the active permission for the pair.
func (s *Store) DeactivatePermission(_ context.Context, userID, roomID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateLocked(userID, roomID, at), nil
}

// ReplaceActivePermission deactivates the pair's active permission and inserts
// next while holding the write lock, so readers see either state but never both.
func (s *Store) ReplaceActivePermission(_ context.Context, next persistence.Permission, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A rejected replacement leaves the current permission active.
	if err := s.checkInsertLocked(next, false); err != nil {
		return err
	}
	s.deactivateLocked(next.UserID, next.RoomID, at)
	return s.insertLocked(next)
}

func (s *Store) insertLocked(permission persistence.Permission) error {
	if err := s.checkInsertLocked(permission, true); err != nil {
		return err
	}
	s.permissions[permission.ID] = clonePermission(permission)
	s.byUser[permission.UserID] = append(s.byUser[permission.UserID], permission.ID)
	return nil
}

func (s *Store) checkInsertLocked(permission persistence.Permission, uniqueActive bool) error {
	if permission.ID == "" || permission.UserID == "" || permission.RoomID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.permissions[permission.ID]; ok {
		return fmt.Errorf("permission %s: %w", permission.ID, persistence.ErrDuplicate)
	}
	if uniqueActive && permission.Active && s.activeIDLocked(permission.UserID, permission.RoomID) != "" {
		return fmt.Errorf("active permission for %s/%s: %w", permission.UserID, permission.RoomID, persistence.ErrDuplicate)
	}
	return nil
}

func (s *Store) deactivateLocked(userID, roomID string, at time.Time) bool {
	id := s.activeIDLocked(userID, roomID)
	if id == "" {
		return false
	}
	permission := s.permissions[id]
	permission.Active = false
	deactivated := at
	permission.DeactivatedAt = &deactivated
	s.permissions[id] = permission
	return true
}

func (s *Store) activeIDLocked(userID, roomID string) string {
	for _, id := range s.byUser[userID] {
		if p := s.permissions[id]; p.Active && p.RoomID == roomID {
			return id
		}
	}
	return ""
}

// --- AccessEventRepository implementation ---

// AppendAccessEvent appends an event.
func (s *Store) AppendAccessEvent(_ context.Context, event persistence.AccessEvent) error {
	if event.ID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// QueryAccessEvents returns matching events newest first.
func (s *Store) QueryAccessEvents(_ context.Context, filter persistence.AccessEventFilter) ([]persistence.AccessEvent, error) {
	s.mu.RLock()
	out := make([]persistence.AccessEvent, 0)
	for _, event := range s.events {
		if matchesFilter(event, filter) {
			out = append(out, event)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(event persistence.AccessEvent, filter persistence.AccessEventFilter) bool {
	switch {
	case filter.UserID != "" && event.UserID != filter.UserID:
		return false
	case filter.RoomID != "" && event.RoomID != filter.RoomID:
		return false
	case filter.Outcome != "" && event.Outcome != filter.Outcome:
		return false
	case !filter.From.IsZero() && event.Timestamp.Before(filter.From):
		return false
	case !filter.To.IsZero() && !event.Timestamp.Before(filter.To):
		return false
	}
	return true
}

func clonePermission(p persistence.Permission) persistence.Permission {
	clone := p
	if p.TimeSlots != nil {
		clone.TimeSlots = append([]persistence.TimeSlot(nil), p.TimeSlots...)
	}
	if p.DeactivatedAt != nil {
		at := *p.DeactivatedAt
		clone.DeactivatedAt = &at
	}
	return clone
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ persistence.Store = (*Store)(nil)
