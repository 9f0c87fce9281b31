package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/example/access-control/internal/application"
	"github.com/example/access-control/internal/logging"
)

// AccessEventRecorder persists access events reported by gateways.
type AccessEventRecorder interface {
	Record(ctx context.Context, input application.AccessEventInput) (application.AccessEvent, error)
}

// IngestorOptions tunes telegram deduplication.
type IngestorOptions struct {
	DedupSize int
	DedupTTL  time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

const (
	defaultDedupSize = 4096
	defaultDedupTTL  = 10 * time.Minute
)

type accessTelegram struct {
	TelegramID    string `json:"telegram_id"`
	UserID        string `json:"user_id"`
	RoomID        string `json:"room_id"`
	Timestamp     string `json:"timestamp"`
	AccessGranted *bool  `json:"access_granted"`
	DeviceID      string `json:"device_id"`
}

type statusTelegram struct {
	TelegramID string          `json:"telegram_id"`
	DeviceID   string          `json:"device_id"`
	Status     json.RawMessage `json:"status"`
	LastSeen   string          `json:"last_seen"`
}

// Ingestor parses telegrams sent by gateways. Gateways resend on timeouts, so
// telegram IDs seen within the dedup window are rejected.
type Ingestor struct {
	recorder AccessEventRecorder
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time

	seenMu sync.Mutex
	seen   *expirable.LRU[string, struct{}]
}

// NewIngestor constructs an ingestor.
func NewIngestor(recorder AccessEventRecorder, registry *Registry, opts IngestorOptions) *Ingestor {
	if opts.DedupSize <= 0 {
		opts.DedupSize = defaultDedupSize
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = defaultDedupTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		recorder: recorder,
		registry: registry,
		logger:   logger,
		now:      opts.Now,
		seen:     expirable.NewLRU[string, struct{}](opts.DedupSize, nil, opts.DedupTTL),
	}
}

func (i *Ingestor) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = i.logger
	}
	pairs := append([]any{"service", "GatewayIngestor", "operation", operation}, attrs...)
	return logger.With(pairs...)
}

// IngestAccessEvent records an access telegram reported by the gateway.
func (i *Ingestor) IngestAccessEvent(ctx context.Context, gatewayID string, raw []byte) (event application.AccessEvent, err error) {
	logger := i.loggerWith(ctx, "IngestAccessEvent", "gateway_id", gatewayID)
	defer func() { i.observe(ctx, logger, "access", err) }()

	if _, err = i.registry.Get(ctx, gatewayID); err != nil {
		return application.AccessEvent{}, err
	}

	var telegram accessTelegram
	if err = decodeTelegram(raw, &telegram); err != nil {
		return application.AccessEvent{}, err
	}
	input, err := telegram.toInput(gatewayID, i.now)
	if err != nil {
		return application.AccessEvent{}, err
	}

	release, err := i.claim(gatewayID, telegram.TelegramID)
	if err != nil {
		return application.AccessEvent{}, err
	}

	event, err = i.recorder.Record(ctx, input)
	release(err == nil)
	return event, err
}

// IngestDeviceStatus applies a device heartbeat reported by the gateway.
func (i *Ingestor) IngestDeviceStatus(ctx context.Context, gatewayID string, raw []byte) (status application.DeviceStatus, err error) {
	logger := i.loggerWith(ctx, "IngestDeviceStatus", "gateway_id", gatewayID)
	defer func() { i.observe(ctx, logger, "status", err) }()

	var telegram statusTelegram
	if err = decodeTelegram(raw, &telegram); err != nil {
		return application.DeviceStatus{}, err
	}
	status, err = telegram.toStatus(gatewayID, i.now)
	if err != nil {
		return application.DeviceStatus{}, err
	}

	release, err := i.claim(gatewayID, telegram.TelegramID)
	if err != nil {
		return application.DeviceStatus{}, err
	}

	err = i.registry.ApplyStatus(ctx, status)
	release(err == nil)
	return status, err
}

// claim reserves a telegram ID; the returned func keeps the reservation only
// when processing succeeded so that a retried telegram is accepted.
func (i *Ingestor) claim(gatewayID, telegramID string) (func(bool), error) {
	if telegramID == "" {
		return func(bool) {}, nil
	}
	key := gatewayID + "/" + telegramID

	i.seenMu.Lock()
	defer i.seenMu.Unlock()
	if i.seen.Contains(key) {
		return nil, fmt.Errorf("telegram %s: %w", telegramID, ErrDuplicateTelegram)
	}
	i.seen.Add(key, struct{}{})

	return func(keep bool) {
		if !keep {
			i.seenMu.Lock()
			i.seen.Remove(key)
			i.seenMu.Unlock()
		}
	}, nil
}

func (i *Ingestor) observe(ctx context.Context, logger *slog.Logger, kind string, err error) {
	switch {
	case err == nil:
		telegramsTotal.WithLabelValues(kind, "accepted").Inc()
	case errors.Is(err, ErrDuplicateTelegram):
		telegramsTotal.WithLabelValues(kind, "duplicate").Inc()
		logger.DebugContext(ctx, "duplicate telegram ignored", "error", err)
	case errors.Is(err, ErrMalformedTelegram):
		telegramsTotal.WithLabelValues(kind, "malformed").Inc()
		logger.WarnContext(ctx, "malformed telegram", "error", err)
	default:
		telegramsTotal.WithLabelValues(kind, "error").Inc()
		logger.ErrorContext(ctx, "telegram processing failed", "error", err, "error_kind", application.ErrorKind(err))
	}
}

func decodeTelegram(raw []byte, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return malformed("empty body")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTelegram, err)
	}
	return nil
}

func (t accessTelegram) toInput(gatewayID string, now func() time.Time) (application.AccessEventInput, error) {
	userID := strings.TrimSpace(t.UserID)
	roomID := strings.TrimSpace(t.RoomID)
	switch {
	case userID == "":
		return application.AccessEventInput{}, malformed("user_id is required")
	case roomID == "":
		return application.AccessEventInput{}, malformed("room_id is required")
	}

	at, err := parseTelegramTime(t.Timestamp, now)
	if err != nil {
		return application.AccessEventInput{}, err
	}

	// Gateways that only report admissions omit access_granted.
	outcome := application.OutcomeGranted
	if t.AccessGranted != nil && !*t.AccessGranted {
		outcome = application.OutcomeDenied
	}
	return application.AccessEventInput{
		Timestamp: at,
		UserID:    userID,
		RoomID:    roomID,
		Outcome:   outcome,
		DeviceID:  strings.TrimSpace(t.DeviceID),
		GatewayID: gatewayID,
	}, nil
}

func (t statusTelegram) toStatus(gatewayID string, now func() time.Time) (application.DeviceStatus, error) {
	deviceID := strings.TrimSpace(t.DeviceID)
	if deviceID == "" {
		return application.DeviceStatus{}, malformed("device_id is required")
	}

	online, err := parseOnline(t.Status)
	if err != nil {
		return application.DeviceStatus{}, err
	}

	seen, err := parseTelegramTime(t.LastSeen, now)
	if err != nil {
		return application.DeviceStatus{}, err
	}
	return application.DeviceStatus{
		DeviceID:      deviceID,
		GatewayID:     gatewayID,
		Online:        online,
		LastHeartbeat: seen,
	}, nil
}

// parseOnline accepts a JSON boolean or one of the status tokens.
func parseOnline(raw json.RawMessage) (bool, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return false, malformed("status is required")
	}

	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		return flag, nil
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return false, malformed(fmt.Sprintf("status must be a boolean or string, got %s", raw))
	}
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "online", "ok", "up":
		return true, nil
	case "offline", "down", "error":
		return false, nil
	default:
		return false, malformed(fmt.Sprintf("unknown status %q", token))
	}
}

func parseTelegramTime(value string, now func() time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now().UTC(), nil
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, malformed(fmt.Sprintf("invalid timestamp %q", value))
	}
	return at.UTC(), nil
}
