package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/access-control/internal/persistence"
)

// AccessEventRepository implements persistence.AccessEventRepository using
// SQLite. Events are append-only.
type AccessEventRepository struct {
	pool *ConnectionPool
}

// NewAccessEventRepository creates a new SQLite access event repository.
func NewAccessEventRepository(pool *ConnectionPool) *AccessEventRepository {
	return &AccessEventRepository{pool: pool}
}

// AppendAccessEvent inserts an event.
func (r *AccessEventRepository) AppendAccessEvent(ctx context.Context, event persistence.AccessEvent) error {
	if event.ID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO access_events (id, occurred_at, user_id, room_id, outcome, device_id, gateway_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, formatTime(event.Timestamp), event.UserID, event.RoomID, event.Outcome, event.DeviceID, event.GatewayID)
	if err != nil {
		return fmt.Errorf("append access event %s: %w", event.ID, mapError(err))
	}
	return nil
}

// QueryAccessEvents returns matching events newest first.
func (r *AccessEventRepository) QueryAccessEvents(ctx context.Context, filter persistence.AccessEventFilter) ([]persistence.AccessEvent, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.RoomID != "" {
		clauses = append(clauses, "room_id = ?")
		args = append(args, filter.RoomID)
	}
	if filter.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if !filter.From.IsZero() {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, "occurred_at < ?")
		args = append(args, formatTime(filter.To))
	}

	var b strings.Builder
	b.WriteString(`SELECT id, occurred_at, user_id, room_id, outcome, device_id, gateway_id FROM access_events`)
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	b.WriteString(" ORDER BY occurred_at DESC, id DESC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.DB().QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query access events: %w", err)
	}
	defer rows.Close()

	events := make([]persistence.AccessEvent, 0)
	for rows.Next() {
		var (
			event      persistence.AccessEvent
			occurredAt string
		)
		if err := rows.Scan(&event.ID, &occurredAt, &event.UserID, &event.RoomID, &event.Outcome, &event.DeviceID, &event.GatewayID); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		if event.Timestamp, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query access events: %w", err)
	}
	return events, nil
}
