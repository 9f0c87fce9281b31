package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/access-control/internal/persistence"
)

// PermissionRepository implements persistence.PermissionRepository using
// SQLite. Time slots live in their own table keyed by position.
type PermissionRepository struct {
	pool *ConnectionPool
}

// NewPermissionRepository creates a new SQLite permission repository.
func NewPermissionRepository(pool *ConnectionPool) *PermissionRepository {
	return &PermissionRepository{pool: pool}
}

// ListPermissionsForUser loads every permission of the user with its slots in
// a single query, oldest first.
func (r *PermissionRepository) ListPermissionsForUser(ctx context.Context, userID string) ([]persistence.Permission, error) {
	query := `
		SELECT p.id, p.room_id, p.active, p.created_at, p.deactivated_at,
		       s.day, s.start_time, s.end_time, s.active
		FROM permissions p
		LEFT JOIN permission_time_slots s ON s.permission_id = p.id
		WHERE p.user_id = ?
		ORDER BY p.created_at, p.id, s.position
	`
	rows, err := r.pool.DB().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list permissions for %s: %w", userID, err)
	}
	defer rows.Close()

	permissions := make([]persistence.Permission, 0)
	for rows.Next() {
		var (
			id, roomID, createdAt   string
			active                  bool
			deactivatedAt           sql.NullString
			day, startTime, endTime sql.NullString
			slotActive              sql.NullBool
		)
		if err := rows.Scan(&id, &roomID, &active, &createdAt, &deactivatedAt, &day, &startTime, &endTime, &slotActive); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}

		if n := len(permissions); n == 0 || permissions[n-1].ID != id {
			permission := persistence.Permission{
				ID:        id,
				UserID:    userID,
				RoomID:    roomID,
				Active:    active,
				TimeSlots: []persistence.TimeSlot{},
			}
			if permission.CreatedAt, err = parseTime(createdAt); err != nil {
				return nil, fmt.Errorf("parse created_at: %w", err)
			}
			if deactivatedAt.Valid {
				at, err := parseTime(deactivatedAt.String)
				if err != nil {
					return nil, fmt.Errorf("parse deactivated_at: %w", err)
				}
				permission.DeactivatedAt = &at
			}
			permissions = append(permissions, permission)
		}

		if day.Valid {
			last := &permissions[len(permissions)-1]
			last.TimeSlots = append(last.TimeSlots, persistence.TimeSlot{
				Day:       day.String,
				StartTime: startTime.String,
				EndTime:   endTime.String,
				Active:    slotActive.Bool,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list permissions for %s: %w", userID, err)
	}
	return permissions, nil
}

// SavePermission inserts a permission and its slots in one transaction.
func (r *PermissionRepository) SavePermission(ctx context.Context, permission persistence.Permission) error {
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		return insertPermission(ctx, tx, permission)
	})
}

// DeactivatePermission deactivates the active permission for the pair.
func (r *PermissionRepository) DeactivatePermission(ctx context.Context, userID, roomID string, at time.Time) (bool, error) {
	var deactivated bool
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		deactivated, err = deactivateActive(ctx, tx, userID, roomID, at)
		return err
	})
	return deactivated, err
}

// ReplaceActivePermission swaps the pair's active permission for next in one
// transaction.
func (r *PermissionRepository) ReplaceActivePermission(ctx context.Context, next persistence.Permission, at time.Time) error {
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := deactivateActive(ctx, tx, next.UserID, next.RoomID, at); err != nil {
			return err
		}
		return insertPermission(ctx, tx, next)
	})
}

func insertPermission(ctx context.Context, tx *sql.Tx, permission persistence.Permission) error {
	if permission.ID == "" || permission.UserID == "" || permission.RoomID == "" {
		return persistence.ErrConstraintViolation
	}

	var deactivatedAt any
	if permission.DeactivatedAt != nil {
		deactivatedAt = formatTime(*permission.DeactivatedAt)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO permissions (id, user_id, room_id, active, created_at, deactivated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, permission.ID, permission.UserID, permission.RoomID, permission.Active, formatTime(permission.CreatedAt), deactivatedAt)
	if err != nil {
		return fmt.Errorf("insert permission %s: %w", permission.ID, mapError(err))
	}

	for position, slot := range permission.TimeSlots {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO permission_time_slots (permission_id, position, day, start_time, end_time, active)
			VALUES (?, ?, ?, ?, ?, ?)
		`, permission.ID, position, slot.Day, slot.StartTime, slot.EndTime, slot.Active)
		if err != nil {
			return fmt.Errorf("insert slot %d of %s: %w", position, permission.ID, mapError(err))
		}
	}
	return nil
}

func deactivateActive(ctx context.Context, tx *sql.Tx, userID, roomID string, at time.Time) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE permissions SET active = 0, deactivated_at = ?
		WHERE user_id = ? AND room_id = ? AND active = 1
	`, formatTime(at), userID, roomID)
	if err != nil {
		return false, fmt.Errorf("deactivate permission %s/%s: %w", userID, roomID, mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate permission %s/%s: %w", userID, roomID, err)
	}
	return affected > 0, nil
}
