package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultAccessQueryLimit applies when a query does not specify a limit.
	DefaultAccessQueryLimit = 100
	// MaxAccessQueryLimit caps the number of events a single query returns.
	MaxAccessQueryLimit = 1000
)

// AccessRecorder appends access events and serves filtered queries.
type AccessRecorder struct {
	events      AccessEventRepository
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewAccessRecorder wires dependencies for access event recording.
func NewAccessRecorder(events AccessEventRepository, idGenerator func() string, now func() time.Time) *AccessRecorder {
	return NewAccessRecorderWithLogger(events, idGenerator, now, nil)
}

// NewAccessRecorderWithLogger wires dependencies with a specified logger.
func NewAccessRecorderWithLogger(events AccessEventRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger) *AccessRecorder {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &AccessRecorder{events: events, idGenerator: idGenerator, now: now, logger: defaultLogger(logger)}
}

func (r *AccessRecorder) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, r.logger, "AccessRecorder", operation, attrs...)
}

// Record validates and appends an access event. The timestamp defaults to now
// and the outcome to granted.
func (r *AccessRecorder) Record(ctx context.Context, input AccessEventInput) (event AccessEvent, err error) {
	if r == nil {
		err = fmt.Errorf("AccessRecorder is nil")
		return
	}
	if r.events == nil {
		err = fmt.Errorf("access event repository not configured")
		return
	}

	logger := r.loggerWith(ctx, "Record", "user_id", input.UserID, "room_id", input.RoomID, "gateway_id", input.GatewayID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to record access event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("event_id", event.ID, "outcome", event.Outcome).InfoContext(ctx, "access event recorded")
	}()

	event = AccessEvent{
		Timestamp: input.Timestamp,
		UserID:    strings.TrimSpace(input.UserID),
		RoomID:    strings.TrimSpace(input.RoomID),
		Outcome:   input.Outcome,
		DeviceID:  strings.TrimSpace(input.DeviceID),
		GatewayID: strings.TrimSpace(input.GatewayID),
	}

	vErr := &ValidationError{}
	if event.UserID == "" {
		vErr.add("user_id", "user id is required")
	}
	if event.RoomID == "" {
		vErr.add("room_id", "room id is required")
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeGranted
	} else if outcome, ok := ParseAccessOutcome(string(event.Outcome)); ok {
		event.Outcome = outcome
	} else {
		vErr.add("outcome", "outcome must be granted or denied")
	}
	if vErr.HasErrors() {
		err = vErr
		event = AccessEvent{}
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	event.ID = r.idGenerator()

	event, err = r.events.AppendAccessEvent(ctx, event)
	return
}

// Query returns events matching filter, newest first. The limit defaults to
// DefaultAccessQueryLimit and is capped at MaxAccessQueryLimit.
func (r *AccessRecorder) Query(ctx context.Context, filter AccessEventFilter) ([]AccessEvent, error) {
	if r == nil {
		return nil, fmt.Errorf("AccessRecorder is nil")
	}
	if r.events == nil {
		return nil, fmt.Errorf("access event repository not configured")
	}

	normalized, vErr := normalizeAccessFilter(filter)
	if vErr.HasErrors() {
		return nil, vErr
	}

	events, err := r.events.QueryAccessEvents(ctx, normalized)
	if err != nil {
		r.loggerWith(ctx, "Query").ErrorContext(ctx, "failed to query access events", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}

	sortEventsNewestFirst(events)
	if len(events) > normalized.Limit {
		events = events[:normalized.Limit]
	}
	return events, nil
}

func normalizeAccessFilter(filter AccessEventFilter) (AccessEventFilter, *ValidationError) {
	vErr := &ValidationError{}
	filter.UserID = strings.TrimSpace(filter.UserID)
	filter.RoomID = strings.TrimSpace(filter.RoomID)
	if filter.Outcome != "" {
		outcome, ok := ParseAccessOutcome(string(filter.Outcome))
		if !ok {
			vErr.add("outcome", "outcome must be granted or denied")
		}
		filter.Outcome = outcome
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		vErr.add("to", "end of range must not precede start")
	}
	switch {
	case filter.Limit < 0:
		vErr.add("limit", "limit must be positive")
	case filter.Limit == 0:
		filter.Limit = DefaultAccessQueryLimit
	case filter.Limit > MaxAccessQueryLimit:
		filter.Limit = MaxAccessQueryLimit
	}
	return filter, vErr
}

func sortEventsNewestFirst(events []AccessEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID > events[j].ID
		}
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}
