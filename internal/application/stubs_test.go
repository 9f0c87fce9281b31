package application

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var referenceTime = time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC) // a Monday

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%03d", prefix, n)
	}
}

func sequentialTokens(prefix string) TokenGenerator {
	next := sequentialIDs(prefix)
	return func() (string, error) { return next(), nil }
}

type userRepositoryStub struct {
	mu      sync.Mutex
	users   map[string]User
	listErr error
}

func newUserRepositoryStub(users ...User) *userRepositoryStub {
	stub := &userRepositoryStub{users: make(map[string]User)}
	for _, u := range users {
		stub.users[u.ID] = u
	}
	return stub
}

func (s *userRepositoryStub) CreateUser(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return User{}, ErrAlreadyExists
		}
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *userRepositoryStub) UpdateUser(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return User{}, ErrNotFound
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *userRepositoryStub) GetUser(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *userRepositoryStub) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *userRepositoryStub) ListUsers(_ context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *userRepositoryStub) ListActiveUsers(ctx context.Context) ([]User, error) {
	all, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, u := range all {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

type permissionRepositoryStub struct {
	mu          sync.Mutex
	permissions []Permission
	listErr     error
	saveErr     error
}

func (s *permissionRepositoryStub) ListPermissionsForUser(_ context.Context, userID string) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []Permission
	for _, p := range s.permissions {
		if p.UserID == userID {
			out = append(out, clonePermission(p))
		}
	}
	return out, nil
}

func (s *permissionRepositoryStub) SavePermission(_ context.Context, permission Permission) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return Permission{}, s.saveErr
	}
	s.permissions = append(s.permissions, clonePermission(permission))
	return permission, nil
}

func (s *permissionRepositoryStub) DeactivatePermission(_ context.Context, userID, roomID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for i := range s.permissions {
		p := &s.permissions[i]
		if p.Active && p.UserID == userID && p.RoomID == roomID {
			p.Active = false
			deactivated := at
			p.DeactivatedAt = &deactivated
			found = true
		}
	}
	return found, nil
}

func (s *permissionRepositoryStub) activeCount(userID, roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.permissions {
		if p.Active && p.UserID == userID && p.RoomID == roomID {
			n++
		}
	}
	return n
}

type replacingPermissionRepositoryStub struct {
	*permissionRepositoryStub
	replaceCalls int
}

func (s *replacingPermissionRepositoryStub) ReplaceActivePermission(ctx context.Context, next Permission, at time.Time) (Permission, error) {
	s.replaceCalls++
	if _, err := s.DeactivatePermission(ctx, next.UserID, next.RoomID, at); err != nil {
		return Permission{}, err
	}
	return s.SavePermission(ctx, next)
}

type accessEventRepositoryStub struct {
	mu     sync.Mutex
	events []AccessEvent
	err    error
}

func (s *accessEventRepositoryStub) AppendAccessEvent(_ context.Context, event AccessEvent) (AccessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return AccessEvent{}, s.err
	}
	s.events = append(s.events, event)
	return event, nil
}

func (s *accessEventRepositoryStub) QueryAccessEvents(_ context.Context, filter AccessEventFilter) ([]AccessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []AccessEvent
	for _, e := range s.events {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.RoomID != "" && e.RoomID != filter.RoomID {
			continue
		}
		if filter.Outcome != "" && e.Outcome != filter.Outcome {
			continue
		}
		if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !e.Timestamp.Before(filter.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type notifierStub struct {
	mu      sync.Mutex
	changes []CredentialChange
}

func (n *notifierStub) NotifyCredentialChange(_ context.Context, change CredentialChange) {
	n.mu.Lock()
	n.changes = append(n.changes, change)
	n.mu.Unlock()
}

func (n *notifierStub) NotifyUserDeactivated(ctx context.Context, userID string) {
	n.NotifyCredentialChange(ctx, CredentialChange{UserID: userID, Reason: ChangeDeactivated})
}

func (n *notifierStub) snapshot() []CredentialChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]CredentialChange(nil), n.changes...)
}

type verifierFunc func(ctx context.Context, username, password string) (string, error)

func (f verifierFunc) Verify(ctx context.Context, username, password string) (string, error) {
	return f(ctx, username, password)
}

type deviceSourceStub []DeviceStatus

func (s deviceSourceStub) DeviceStatuses(context.Context) ([]DeviceStatus, error) {
	return append([]DeviceStatus(nil), s...), nil
}
