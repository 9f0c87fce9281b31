package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/access-control/internal/recurrence"
)

// PermissionEngineOptions configures optional collaborators of the engine.
type PermissionEngineOptions struct {
	// Location is the zone time-of-day checks are evaluated in. Defaults to UTC.
	Location *time.Location
	// Encoder serializes credential payloads. Defaults to JSON.
	Encoder CredentialEncoder
	Logger  *slog.Logger
}

// PermissionEngine owns mutation of time-windowed access grants and derives
// authorization decisions and credential payloads from them.
type PermissionEngine struct {
	permissions PermissionRepository
	users       UserDirectory
	notifier    CredentialNotifier
	idGenerator func() string
	now         func() time.Time
	windows     *recurrence.Engine
	encoder     CredentialEncoder
	logger      *slog.Logger
	locks       keyedMutex
}

// NewPermissionEngine wires dependencies for permission operations. users and
// notifier are optional.
func NewPermissionEngine(permissions PermissionRepository, users UserDirectory, notifier CredentialNotifier, idGenerator func() string, now func() time.Time) *PermissionEngine {
	return NewPermissionEngineWithOptions(permissions, users, notifier, idGenerator, now, PermissionEngineOptions{})
}

// NewPermissionEngineWithOptions wires dependencies and optional collaborators.
func NewPermissionEngineWithOptions(permissions PermissionRepository, users UserDirectory, notifier CredentialNotifier, idGenerator func() string, now func() time.Time, opts PermissionEngineOptions) *PermissionEngine {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	encoder := opts.Encoder
	if encoder == nil {
		encoder = JSONCredentialEncoder{}
	}
	return &PermissionEngine{
		permissions: permissions,
		users:       users,
		notifier:    notifier,
		idGenerator: idGenerator,
		now:         now,
		windows:     recurrence.NewEngine(opts.Location),
		encoder:     encoder,
		logger:      defaultLogger(opts.Logger),
	}
}

func (e *PermissionEngine) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, e.logger, "PermissionEngine", operation, attrs...)
}

// Location returns the zone used for time-of-day evaluation.
func (e *PermissionEngine) Location() *time.Location {
	return e.windows.Location()
}

// Encoder returns the configured credential encoder.
func (e *PermissionEngine) Encoder() CredentialEncoder {
	return e.encoder
}

// Grant replaces any active permission for the pair with a new one holding slots.
func (e *PermissionEngine) Grant(ctx context.Context, userID, roomID string, slots []TimeSlot) (permission Permission, err error) {
	if e == nil {
		err = fmt.Errorf("PermissionEngine is nil")
		return
	}
	userID, roomID = strings.TrimSpace(userID), strings.TrimSpace(roomID)

	logger := e.loggerWith(ctx, "Grant", "user_id", userID, "room_id", roomID, "slot_count", len(slots))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "grant failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("permission_id", permission.ID).InfoContext(ctx, "permission granted")
	}()

	if err = e.validateGrant(ctx, userID, roomID, slots); err != nil {
		return
	}

	unlock := e.locks.Lock(permissionKey(userID, roomID))
	permission, err = e.replaceLocked(ctx, userID, roomID, slots)
	unlock()
	if err != nil {
		return
	}

	e.notify(ctx, CredentialChange{UserID: userID, RoomID: roomID, Reason: ChangeGranted})
	return
}

// Revoke deactivates the active permission for the pair and reports whether one existed.
func (e *PermissionEngine) Revoke(ctx context.Context, userID, roomID string) (revoked bool, err error) {
	if e == nil {
		err = fmt.Errorf("PermissionEngine is nil")
		return
	}
	if e.permissions == nil {
		err = fmt.Errorf("permission repository not configured")
		return
	}
	userID, roomID = strings.TrimSpace(userID), strings.TrimSpace(roomID)

	logger := e.loggerWith(ctx, "Revoke", "user_id", userID, "room_id", roomID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "revoke failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("revoked", revoked).InfoContext(ctx, "permission revoke processed")
	}()

	unlock := e.locks.Lock(permissionKey(userID, roomID))
	revoked, err = e.permissions.DeactivatePermission(ctx, userID, roomID, e.now())
	unlock()
	if err != nil || !revoked {
		return
	}

	e.notify(ctx, CredentialChange{UserID: userID, RoomID: roomID, Reason: ChangeRevoked})
	return
}

// Update revokes the pair's active permission, if any, and grants slots in its
// place. The deactivated predecessor is kept for history.
func (e *PermissionEngine) Update(ctx context.Context, userID, roomID string, slots []TimeSlot) (permission Permission, err error) {
	if e == nil {
		err = fmt.Errorf("PermissionEngine is nil")
		return
	}
	userID, roomID = strings.TrimSpace(userID), strings.TrimSpace(roomID)

	logger := e.loggerWith(ctx, "Update", "user_id", userID, "room_id", roomID, "slot_count", len(slots))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "update failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("permission_id", permission.ID).InfoContext(ctx, "permission updated")
	}()

	if err = e.validateGrant(ctx, userID, roomID, slots); err != nil {
		return
	}

	unlock := e.locks.Lock(permissionKey(userID, roomID))
	permission, err = e.replaceLocked(ctx, userID, roomID, slots)
	unlock()
	if err != nil {
		return
	}

	e.notify(ctx, CredentialChange{UserID: userID, RoomID: roomID, Reason: ChangeUpdated})
	return
}

// ListForUser returns every permission of the user, active and inactive, oldest first.
func (e *PermissionEngine) ListForUser(ctx context.Context, userID string) ([]Permission, error) {
	if e == nil {
		return nil, fmt.Errorf("PermissionEngine is nil")
	}
	if e.permissions == nil {
		return nil, fmt.Errorf("permission repository not configured")
	}

	permissions, err := e.permissions.ListPermissionsForUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		e.loggerWith(ctx, "ListForUser", "user_id", userID).ErrorContext(ctx, "list permissions failed", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}

	out := make([]Permission, len(permissions))
	for i, p := range permissions {
		out[i] = clonePermission(p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// IsAuthorized reports whether an active permission for the pair has an active
// slot containing at. Any matching slot suffices.
func (e *PermissionEngine) IsAuthorized(ctx context.Context, userID, roomID string, at time.Time) (bool, error) {
	if e == nil {
		return false, fmt.Errorf("PermissionEngine is nil")
	}
	if e.permissions == nil {
		return false, fmt.Errorf("permission repository not configured")
	}

	permissions, err := e.permissions.ListPermissionsForUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return false, err
	}
	roomID = strings.TrimSpace(roomID)
	for _, p := range permissions {
		if !p.Active || p.RoomID != roomID {
			continue
		}
		if e.windows.Contains(p.ActiveWindows(), at) {
			return true, nil
		}
	}
	return false, nil
}

// CredentialPayload builds the structured payload for userID. It fails with
// ErrNoActivePermissions when the user holds no active grants.
func (e *PermissionEngine) CredentialPayload(ctx context.Context, userID string) (CredentialPayload, error) {
	if e == nil {
		return CredentialPayload{}, fmt.Errorf("PermissionEngine is nil")
	}
	if e.permissions == nil {
		return CredentialPayload{}, fmt.Errorf("permission repository not configured")
	}
	userID = strings.TrimSpace(userID)

	permissions, err := e.permissions.ListPermissionsForUser(ctx, userID)
	if err != nil {
		return CredentialPayload{}, err
	}
	payload, err := BuildCredentialPayload(userID, permissions, e.now())
	if err != nil {
		return CredentialPayload{}, err
	}
	if len(payload.Permissions) == 0 {
		return CredentialPayload{}, ErrNoActivePermissions
	}
	return payload, nil
}

// GenerateCredentialPayload encodes the user's payload with the configured encoder.
func (e *PermissionEngine) GenerateCredentialPayload(ctx context.Context, userID string) (data []byte, err error) {
	if e == nil {
		err = fmt.Errorf("PermissionEngine is nil")
		return
	}
	logger := e.loggerWith(ctx, "GenerateCredentialPayload", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "credential generation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("bytes", len(data)).InfoContext(ctx, "credential payload generated")
	}()

	var payload CredentialPayload
	payload, err = e.CredentialPayload(ctx, userID)
	if err != nil {
		return
	}
	data, err = e.encoder.Encode(payload)
	return
}

// DeliverablePayload encodes the user's payload, substituting an empty card
// when the user holds no active grants.
func (e *PermissionEngine) DeliverablePayload(ctx context.Context, userID string) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("PermissionEngine is nil")
	}
	payload, err := e.CredentialPayload(ctx, userID)
	if errors.Is(err, ErrNoActivePermissions) {
		payload, err = EmptyCredentialPayload(strings.TrimSpace(userID), e.now()), nil
	}
	if err != nil {
		return nil, err
	}
	return e.encoder.Encode(payload)
}

// NotifyUserDeactivated asks delivery collaborators to clear the user's card
// everywhere. Permissions themselves are left for audit.
func (e *PermissionEngine) NotifyUserDeactivated(ctx context.Context, userID string) {
	if e == nil {
		return
	}
	e.notify(ctx, CredentialChange{UserID: userID, Reason: ChangeDeactivated})
}

func (e *PermissionEngine) validateGrant(ctx context.Context, userID, roomID string, slots []TimeSlot) error {
	if e.permissions == nil {
		return fmt.Errorf("permission repository not configured")
	}

	vErr := &ValidationError{}
	if userID == "" {
		vErr.add("user_id", "user id is required")
	}
	if roomID == "" {
		vErr.add("room_id", "room id is required")
	}
	if len(slots) == 0 {
		vErr.add("time_slots", "at least one time slot is required")
	} else if !hasActiveSlot(slots) {
		vErr.add("time_slots", "at least one time slot must be active")
	}
	if vErr.HasErrors() {
		return vErr
	}

	if err := ValidateTimeSlots(slots); err != nil {
		return err
	}

	if e.users != nil {
		if _, err := e.users.GetUser(ctx, userID); err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUserNotFound) {
				return ErrUserNotFound
			}
			return err
		}
	}
	return nil
}

// ValidateTimeSlots checks every slot and reports the first offending one.
func ValidateTimeSlots(slots []TimeSlot) error {
	for i, slot := range slots {
		if !slot.Day.Valid() {
			return &TimeSlotError{Index: i, Reason: fmt.Sprintf("unknown day of week %q", string(slot.Day))}
		}
		if !slot.Start.Valid() || !slot.End.Valid() {
			return &TimeSlotError{Index: i, Reason: "time of day out of range"}
		}
		if slot.Start >= slot.End {
			return &TimeSlotError{Index: i, Reason: fmt.Sprintf("start %s must be before end %s", slot.Start, slot.End)}
		}
	}
	return nil
}

// replaceLocked must be called with the pair's key held.
func (e *PermissionEngine) replaceLocked(ctx context.Context, userID, roomID string, slots []TimeSlot) (Permission, error) {
	now := e.now()
	next := Permission{
		ID:        e.idGenerator(),
		UserID:    userID,
		RoomID:    roomID,
		TimeSlots: append([]TimeSlot(nil), slots...),
		Active:    true,
		CreatedAt: now,
	}

	if replacer, ok := e.permissions.(ActivePermissionReplacer); ok {
		saved, err := replacer.ReplaceActivePermission(ctx, next, now)
		if err != nil {
			return Permission{}, err
		}
		return clonePermission(saved), nil
	}

	if _, err := e.permissions.DeactivatePermission(ctx, userID, roomID, now); err != nil {
		return Permission{}, err
	}
	saved, err := e.permissions.SavePermission(ctx, next)
	if err != nil {
		return Permission{}, err
	}
	return clonePermission(saved), nil
}

func (e *PermissionEngine) notify(ctx context.Context, change CredentialChange) {
	if e.notifier == nil {
		return
	}
	e.notifier.NotifyCredentialChange(ctx, change)
}

func hasActiveSlot(slots []TimeSlot) bool {
	for _, slot := range slots {
		if slot.Active {
			return true
		}
	}
	return false
}
