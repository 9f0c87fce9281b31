// Package adapters exposes persistence backends through the repository ports
// of the application layer, translating models and sentinel errors.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/access-control/internal/application"
	"github.com/example/access-control/internal/persistence"
	"github.com/example/access-control/internal/recurrence"
)

// UserRepository adapts persistence.UserRepository to application.UserRepository.
type UserRepository struct {
	repo persistence.UserRepository
}

// NewUserRepository wraps repo.
func NewUserRepository(repo persistence.UserRepository) *UserRepository {
	return &UserRepository{repo: repo}
}

func (a *UserRepository) CreateUser(ctx context.Context, user application.User) (application.User, error) {
	if err := a.repo.CreateUser(ctx, toPersistenceUser(user)); err != nil {
		return application.User{}, mapError(err)
	}
	return a.GetUser(ctx, user.ID)
}

func (a *UserRepository) UpdateUser(ctx context.Context, user application.User) (application.User, error) {
	if err := a.repo.UpdateUser(ctx, toPersistenceUser(user)); err != nil {
		return application.User{}, mapError(err)
	}
	return a.GetUser(ctx, user.ID)
}

func (a *UserRepository) GetUser(ctx context.Context, id string) (application.User, error) {
	stored, err := a.repo.GetUser(ctx, id)
	if err != nil {
		return application.User{}, mapError(err)
	}
	return toApplicationUser(stored), nil
}

func (a *UserRepository) GetUserByEmail(ctx context.Context, email string) (application.User, error) {
	stored, err := a.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return application.User{}, mapError(err)
	}
	return toApplicationUser(stored), nil
}

func (a *UserRepository) ListUsers(ctx context.Context) ([]application.User, error) {
	return a.list(a.repo.ListUsers(ctx))
}

func (a *UserRepository) ListActiveUsers(ctx context.Context) ([]application.User, error) {
	return a.list(a.repo.ListActiveUsers(ctx))
}

func (a *UserRepository) list(models []persistence.User, err error) ([]application.User, error) {
	if err != nil {
		return nil, mapError(err)
	}
	users := make([]application.User, 0, len(models))
	for _, model := range models {
		users = append(users, toApplicationUser(model))
	}
	return users, nil
}

// PermissionRepository adapts persistence.PermissionRepository, including its
// atomic replacement, to the application ports.
type PermissionRepository struct {
	repo persistence.PermissionRepository
}

// NewPermissionRepository wraps repo.
func NewPermissionRepository(repo persistence.PermissionRepository) *PermissionRepository {
	return &PermissionRepository{repo: repo}
}

func (a *PermissionRepository) ListPermissionsForUser(ctx context.Context, userID string) ([]application.Permission, error) {
	models, err := a.repo.ListPermissionsForUser(ctx, userID)
	if err != nil {
		return nil, mapError(err)
	}
	permissions := make([]application.Permission, 0, len(models))
	for _, model := range models {
		permission, err := toApplicationPermission(model)
		if err != nil {
			return nil, err
		}
		permissions = append(permissions, permission)
	}
	return permissions, nil
}

func (a *PermissionRepository) SavePermission(ctx context.Context, permission application.Permission) (application.Permission, error) {
	if err := a.repo.SavePermission(ctx, toPersistencePermission(permission)); err != nil {
		return application.Permission{}, mapError(err)
	}
	return permission, nil
}

func (a *PermissionRepository) DeactivatePermission(ctx context.Context, userID, roomID string, at time.Time) (bool, error) {
	ok, err := a.repo.DeactivatePermission(ctx, userID, roomID, at)
	return ok, mapError(err)
}

func (a *PermissionRepository) ReplaceActivePermission(ctx context.Context, next application.Permission, at time.Time) (application.Permission, error) {
	if err := a.repo.ReplaceActivePermission(ctx, toPersistencePermission(next), at); err != nil {
		return application.Permission{}, mapError(err)
	}
	return next, nil
}

// AccessEventRepository adapts persistence.AccessEventRepository.
type AccessEventRepository struct {
	repo persistence.AccessEventRepository
}

// NewAccessEventRepository wraps repo.
func NewAccessEventRepository(repo persistence.AccessEventRepository) *AccessEventRepository {
	return &AccessEventRepository{repo: repo}
}

func (a *AccessEventRepository) AppendAccessEvent(ctx context.Context, event application.AccessEvent) (application.AccessEvent, error) {
	if err := a.repo.AppendAccessEvent(ctx, persistence.AccessEvent{
		ID:        event.ID,
		Timestamp: event.Timestamp,
		UserID:    event.UserID,
		RoomID:    event.RoomID,
		Outcome:   string(event.Outcome),
		DeviceID:  event.DeviceID,
		GatewayID: event.GatewayID,
	}); err != nil {
		return application.AccessEvent{}, mapError(err)
	}
	return event, nil
}

func (a *AccessEventRepository) QueryAccessEvents(ctx context.Context, filter application.AccessEventFilter) ([]application.AccessEvent, error) {
	models, err := a.repo.QueryAccessEvents(ctx, persistence.AccessEventFilter{
		UserID:  filter.UserID,
		RoomID:  filter.RoomID,
		Outcome: string(filter.Outcome),
		From:    filter.From,
		To:      filter.To,
		Limit:   filter.Limit,
	})
	if err != nil {
		return nil, mapError(err)
	}
	events := make([]application.AccessEvent, 0, len(models))
	for _, model := range models {
		events = append(events, application.AccessEvent{
			ID:        model.ID,
			Timestamp: model.Timestamp,
			UserID:    model.UserID,
			RoomID:    model.RoomID,
			Outcome:   application.AccessOutcome(model.Outcome),
			DeviceID:  model.DeviceID,
			GatewayID: model.GatewayID,
		})
	}
	return events, nil
}

// Repositories groups the adapters for one backend.
type Repositories struct {
	Users       *UserRepository
	Permissions *PermissionRepository
	Events      *AccessEventRepository
}

// ForStore adapts every repository of store.
func ForStore(store persistence.Store) Repositories {
	return Repositories{
		Users:       NewUserRepository(store),
		Permissions: NewPermissionRepository(store),
		Events:      NewAccessEventRepository(store),
	}
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return application.ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: %v", application.ErrAlreadyExists, err)
	}
	return err
}

func toApplicationUser(model persistence.User) application.User {
	return application.User{
		ID:           model.ID,
		Email:        model.Email,
		DisplayName:  model.DisplayName,
		Role:         application.Role(model.Role),
		Active:       model.Active,
		PasswordHash: model.PasswordHash,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

func toPersistenceUser(user application.User) persistence.User {
	return persistence.User{
		ID:           user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Role:         string(user.Role),
		Active:       user.Active,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
}

func toPersistencePermission(p application.Permission) persistence.Permission {
	slots := make([]persistence.TimeSlot, 0, len(p.TimeSlots))
	for _, slot := range p.TimeSlots {
		slots = append(slots, persistence.TimeSlot{
			Day:       string(slot.Day),
			StartTime: slot.Start.String(),
			EndTime:   slot.End.String(),
			Active:    slot.Active,
		})
	}
	return persistence.Permission{
		ID:            p.ID,
		UserID:        p.UserID,
		RoomID:        p.RoomID,
		TimeSlots:     slots,
		Active:        p.Active,
		CreatedAt:     p.CreatedAt,
		DeactivatedAt: cloneTime(p.DeactivatedAt),
	}
}

func toApplicationPermission(model persistence.Permission) (application.Permission, error) {
	slots := make([]application.TimeSlot, 0, len(model.TimeSlots))
	for i, stored := range model.TimeSlots {
		day, err := recurrence.ParseWeekday(stored.Day)
		if err != nil {
			return application.Permission{}, fmt.Errorf("permission %s slot %d: %w", model.ID, i, err)
		}
		start, err := recurrence.ParseClock(stored.StartTime)
		if err != nil {
			return application.Permission{}, fmt.Errorf("permission %s slot %d: %w", model.ID, i, err)
		}
		end, err := recurrence.ParseClock(stored.EndTime)
		if err != nil {
			return application.Permission{}, fmt.Errorf("permission %s slot %d: %w", model.ID, i, err)
		}
		slots = append(slots, application.TimeSlot{Day: day, Start: start, End: end, Active: stored.Active})
	}
	return application.Permission{
		ID:            model.ID,
		UserID:        model.UserID,
		RoomID:        model.RoomID,
		TimeSlots:     slots,
		Active:        model.Active,
		CreatedAt:     model.CreatedAt,
		DeactivatedAt: cloneTime(model.DeactivatedAt),
	}, nil
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	t := *value
	return &t
}

var (
	_ application.UserRepository           = (*UserRepository)(nil)
	_ application.PermissionRepository     = (*PermissionRepository)(nil)
	_ application.ActivePermissionReplacer = (*PermissionRepository)(nil)
	_ application.AccessEventRepository    = (*AccessEventRepository)(nil)
)
