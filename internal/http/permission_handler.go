package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/access-control/internal/application"
	"github.com/example/access-control/internal/recurrence"
)

type permissionService interface {
	Grant(ctx context.Context, userID, roomID string, slots []application.TimeSlot) (application.Permission, error)
	Update(ctx context.Context, userID, roomID string, slots []application.TimeSlot) (application.Permission, error)
	Revoke(ctx context.Context, userID, roomID string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]application.Permission, error)
	IsAuthorized(ctx context.Context, userID, roomID string, at time.Time) (bool, error)
	GenerateCredentialPayload(ctx context.Context, userID string) ([]byte, error)
	Encoder() application.CredentialEncoder
}

// PermissionHandler exposes the permission engine.
type PermissionHandler struct {
	service   permissionService
	responder responder
	logger    *slog.Logger
	now       func() time.Time
}

func NewPermissionHandler(service permissionService, logger *slog.Logger) *PermissionHandler {
	base := defaultLogger(logger)
	return &PermissionHandler{service: service, responder: newResponder(base), logger: base, now: time.Now}
}

func (h *PermissionHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "PermissionHandler", operation, attrs...)
}

func (h *PermissionHandler) Grant(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Grant", "error_kind", "bad_request").InfoContext(r.Context(), "failed to decode grant request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	userID, roomID := strings.TrimSpace(req.UserID), strings.TrimSpace(req.RoomID)
	logger := h.log(r.Context(), "Grant", "user_id", userID, "room_id", roomID)

	slots, err := toTimeSlots(req.TimeSlots)
	if err != nil {
		logger.InfoContext(r.Context(), "grant rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	permission, err := h.service.Grant(r.Context(), userID, roomID, slots)
	if err != nil {
		logger.ErrorContext(r.Context(), "grant failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("permission_id", permission.ID).InfoContext(r.Context(), "permission granted")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, permissionResponse{Permission: toPermissionDTO(permission)})
}

// ListForUser returns active and inactive permissions to managers or to the
// user themselves.
func (h *PermissionHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID := chi.URLParam(r, "userID")
	if !h.authorizeSelf(w, r, userID) {
		return
	}

	permissions, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		h.log(r.Context(), "ListForUser", "user_id", userID).ErrorContext(r.Context(), "permission list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]permissionDTO, 0, len(permissions))
	for _, permission := range permissions {
		dtos = append(dtos, toPermissionDTO(permission))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listPermissionsResponse{Permissions: dtos})
}

// Update revokes the pair's active permission, if any, and grants the new slots.
func (h *PermissionHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, roomID := chi.URLParam(r, "userID"), chi.URLParam(r, "roomID")
	logger := h.log(r.Context(), "Update", "user_id", userID, "room_id", roomID)

	var req updatePermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		logger.InfoContext(r.Context(), "failed to decode permission update", "error", err, "error_kind", "bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	slots, err := toTimeSlots(req.TimeSlots)
	if err != nil {
		logger.InfoContext(r.Context(), "update rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	permission, err := h.service.Update(r.Context(), userID, roomID, slots)
	if err != nil {
		logger.ErrorContext(r.Context(), "permission update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("permission_id", permission.ID).InfoContext(r.Context(), "permission updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, permissionResponse{Permission: toPermissionDTO(permission)})
}

// Revoke is idempotent; the response reports whether an active permission existed.
func (h *PermissionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, roomID := chi.URLParam(r, "userID"), chi.URLParam(r, "roomID")
	logger := h.log(r.Context(), "Revoke", "user_id", userID, "room_id", roomID)

	revoked, err := h.service.Revoke(r.Context(), userID, roomID)
	if err != nil {
		logger.ErrorContext(r.Context(), "revoke failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "revoke processed", "revoked", revoked)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, revokeResponse{UserID: userID, RoomID: roomID, Revoked: revoked})
}

// Authorize answers whether the user may enter the room at the instant given
// by the "at" query parameter, defaulting to now.
func (h *PermissionHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, roomID := chi.URLParam(r, "userID"), chi.URLParam(r, "roomID")
	if !h.authorizeSelf(w, r, userID) {
		return
	}

	at := h.now()
	if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, &application.ValidationError{
				FieldErrors: map[string]string{"at": "must be an RFC 3339 timestamp"},
			})
			return
		}
		at = parsed
	}

	authorized, err := h.service.IsAuthorized(r.Context(), userID, roomID, at)
	if err != nil {
		h.log(r.Context(), "Authorize", "user_id", userID, "room_id", roomID).ErrorContext(r.Context(), "authorization check failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	decision := "denied"
	if authorized {
		decision = "granted"
	}
	authorizationDecisions.WithLabelValues(decision).Inc()

	h.responder.writeJSON(r.Context(), w, http.StatusOK, authorizeResponse{
		UserID:     userID,
		RoomID:     roomID,
		At:         formatTime(at),
		Authorized: authorized,
	})
}

// GenerateCard returns the user's credential payload in the configured
// encoding. Users without active grants yield 404.
func (h *PermissionHandler) GenerateCard(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID := chi.URLParam(r, "userID")
	logger := h.log(r.Context(), "GenerateCard", "user_id", userID)

	payload, err := h.service.GenerateCredentialPayload(r.Context(), userID)
	if err != nil {
		logger.InfoContext(r.Context(), "card generation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", h.service.Encoder().ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		logger.ErrorContext(r.Context(), "failed to write card payload", "error", err)
		return
	}
	logger.InfoContext(r.Context(), "card generated", "bytes", len(payload))
}

func (h *PermissionHandler) authorizeSelf(w http.ResponseWriter, r *http.Request, userID string) bool {
	principal, _ := PrincipalFromContext(r.Context())
	if principal.IsManager() || principal.UserID == userID {
		return true
	}
	h.responder.handleServiceError(r.Context(), w, application.ErrForbidden)
	return false
}

type timeSlotDTO struct {
	Day    string `json:"day"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Active *bool  `json:"active,omitempty"`
}

type grantRequest struct {
	UserID    string        `json:"user_id"`
	RoomID    string        `json:"room_id"`
	TimeSlots []timeSlotDTO `json:"time_slots"`
}

type updatePermissionRequest struct {
	TimeSlots []timeSlotDTO `json:"time_slots"`
}

// toTimeSlots parses request slots. Slots are active unless stated otherwise.
func toTimeSlots(in []timeSlotDTO) ([]application.TimeSlot, error) {
	slots := make([]application.TimeSlot, 0, len(in))
	for i, dto := range in {
		day, err := recurrence.ParseWeekday(dto.Day)
		if err != nil {
			return nil, &application.TimeSlotError{Index: i, Reason: err.Error()}
		}
		start, err := recurrence.ParseClock(dto.Start)
		if err != nil {
			return nil, &application.TimeSlotError{Index: i, Reason: "start: " + err.Error()}
		}
		end, err := recurrence.ParseClock(dto.End)
		if err != nil {
			return nil, &application.TimeSlotError{Index: i, Reason: "end: " + err.Error()}
		}
		active := true
		if dto.Active != nil {
			active = *dto.Active
		}
		slots = append(slots, application.TimeSlot{Day: day, Start: start, End: end, Active: active})
	}
	return slots, nil
}

type permissionDTO struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	RoomID        string        `json:"room_id"`
	TimeSlots     []timeSlotDTO `json:"time_slots"`
	Active        bool          `json:"active"`
	CreatedAt     string        `json:"created_at"`
	DeactivatedAt string        `json:"deactivated_at,omitempty"`
}

func toPermissionDTO(p application.Permission) permissionDTO {
	dto := permissionDTO{
		ID:        p.ID,
		UserID:    p.UserID,
		RoomID:    p.RoomID,
		TimeSlots: make([]timeSlotDTO, 0, len(p.TimeSlots)),
		Active:    p.Active,
		CreatedAt: formatTime(p.CreatedAt),
	}
	for _, slot := range p.TimeSlots {
		active := slot.Active
		dto.TimeSlots = append(dto.TimeSlots, timeSlotDTO{
			Day:    string(slot.Day),
			Start:  slot.Start.String(),
			End:    slot.End.String(),
			Active: &active,
		})
	}
	if p.DeactivatedAt != nil {
		dto.DeactivatedAt = formatTime(*p.DeactivatedAt)
	}
	return dto
}

type permissionResponse struct {
	Permission permissionDTO `json:"permission"`
}

type listPermissionsResponse struct {
	Permissions []permissionDTO `json:"permissions"`
}

type revokeResponse struct {
	UserID  string `json:"user_id"`
	RoomID  string `json:"room_id"`
	Revoked bool   `json:"revoked"`
}

type authorizeResponse struct {
	UserID     string `json:"user_id"`
	RoomID     string `json:"room_id"`
	At         string `json:"at"`
	Authorized bool   `json:"authorized"`
}
