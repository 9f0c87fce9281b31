package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/access-control/internal/application"
)

type accessRecorder interface {
	Record(ctx context.Context, input application.AccessEventInput) (application.AccessEvent, error)
	Query(ctx context.Context, filter application.AccessEventFilter) ([]application.AccessEvent, error)
}

// AccessLogHandler records and queries access events.
type AccessLogHandler struct {
	service   accessRecorder
	responder responder
	logger    *slog.Logger
}

func NewAccessLogHandler(service accessRecorder, logger *slog.Logger) *AccessLogHandler {
	base := defaultLogger(logger)
	return &AccessLogHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AccessLogHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AccessLogHandler", operation, attrs...)
}

func (h *AccessLogHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req accessLogRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").InfoContext(r.Context(), "failed to decode access log", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	input, err := req.toInput()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Create", "user_id", input.UserID, "room_id", input.RoomID)
	event, err := h.service.Record(r.Context(), input)
	if err != nil {
		logger.ErrorContext(r.Context(), "access log creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("event_id", event.ID).InfoContext(r.Context(), "access log created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, accessEventResponse{Event: toAccessEventDTO(event)})
}

// List filters by the user_id, room_id, outcome, from, to and limit query parameters.
func (h *AccessLogHandler) List(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, "List", func(*application.AccessEventFilter) {})
}

// ListForUser is available to managers and to the user themselves.
func (h *AccessLogHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	principal, _ := PrincipalFromContext(r.Context())
	if !principal.IsManager() && principal.UserID != userID {
		h.responder.handleServiceError(r.Context(), w, application.ErrForbidden)
		return
	}
	h.query(w, r, "ListForUser", func(f *application.AccessEventFilter) { f.UserID = userID })
}

func (h *AccessLogHandler) ListForRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	h.query(w, r, "ListForRoom", func(f *application.AccessEventFilter) { f.RoomID = roomID })
}

func (h *AccessLogHandler) query(w http.ResponseWriter, r *http.Request, operation string, scope func(*application.AccessEventFilter)) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	filter, err := parseAccessFilter(r.URL.Query())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	scope(&filter)

	logger := h.log(r.Context(), operation, "user_id", filter.UserID, "room_id", filter.RoomID)
	events, err := h.service.Query(r.Context(), filter)
	if err != nil {
		logger.ErrorContext(r.Context(), "access log query failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]accessEventDTO, 0, len(events))
	for _, event := range events {
		dtos = append(dtos, toAccessEventDTO(event))
	}
	logger.With("result_count", len(dtos)).DebugContext(r.Context(), "access logs listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listAccessEventsResponse{Events: dtos})
}

func parseAccessFilter(values url.Values) (application.AccessEventFilter, error) {
	filter := application.AccessEventFilter{
		UserID:  strings.TrimSpace(values.Get("user_id")),
		RoomID:  strings.TrimSpace(values.Get("room_id")),
		Outcome: application.AccessOutcome(strings.TrimSpace(values.Get("outcome"))),
	}
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	if raw := values.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			vErr.FieldErrors["from"] = "must be an RFC 3339 timestamp"
		}
		filter.From = from
	}
	if raw := values.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			vErr.FieldErrors["to"] = "must be an RFC 3339 timestamp"
		}
		filter.To = to
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			vErr.FieldErrors["limit"] = "must be a positive integer"
		}
		filter.Limit = limit
	}
	if vErr.HasErrors() {
		return application.AccessEventFilter{}, vErr
	}
	return filter, nil
}

type accessLogRequest struct {
	UserID        string `json:"user_id"`
	RoomID        string `json:"room_id"`
	Timestamp     string `json:"timestamp"`
	AccessGranted *bool  `json:"access_granted"`
	DeviceID      string `json:"device_id"`
	GatewayID     string `json:"gateway_id"`
}

func (r accessLogRequest) toInput() (application.AccessEventInput, error) {
	input := application.AccessEventInput{
		UserID:    strings.TrimSpace(r.UserID),
		RoomID:    strings.TrimSpace(r.RoomID),
		DeviceID:  strings.TrimSpace(r.DeviceID),
		GatewayID: strings.TrimSpace(r.GatewayID),
		Outcome:   application.OutcomeGranted,
	}
	if r.AccessGranted != nil && !*r.AccessGranted {
		input.Outcome = application.OutcomeDenied
	}
	if r.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		if err != nil {
			return application.AccessEventInput{}, &application.ValidationError{
				FieldErrors: map[string]string{"timestamp": "must be an RFC 3339 timestamp"},
			}
		}
		input.Timestamp = ts
	}
	return input, nil
}

type accessEventDTO struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id"`
	RoomID    string `json:"room_id"`
	Outcome   string `json:"outcome"`
	DeviceID  string `json:"device_id,omitempty"`
	GatewayID string `json:"gateway_id,omitempty"`
}

func toAccessEventDTO(event application.AccessEvent) accessEventDTO {
	return accessEventDTO{
		ID:        event.ID,
		Timestamp: formatTime(event.Timestamp),
		UserID:    event.UserID,
		RoomID:    event.RoomID,
		Outcome:   string(event.Outcome),
		DeviceID:  event.DeviceID,
		GatewayID: event.GatewayID,
	}
}

type accessEventResponse struct {
	Event accessEventDTO `json:"event"`
}

type listAccessEventsResponse struct {
	Events []accessEventDTO `json:"events"`
}
