package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/access-control/internal/application"
	"github.com/example/access-control/internal/gateway"
)

// maxTelegramBytes bounds telegram bodies posted by gateways.
const maxTelegramBytes = 64 << 10

type gatewayRegistry interface {
	Register(ctx context.Context, gw gateway.Gateway) (gateway.Gateway, error)
	Unregister(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (gateway.Gateway, error)
	List(ctx context.Context) []gateway.Gateway
	MarkOffline(ctx context.Context, id string) error
}

type credentialDispatcher interface {
	PushUser(ctx context.Context, gatewayID, userID string) error
	SyncGateway(ctx context.Context, gatewayID string) (int, error)
}

type telegramIngestor interface {
	IngestAccessEvent(ctx context.Context, gatewayID string, raw []byte) (application.AccessEvent, error)
	IngestDeviceStatus(ctx context.Context, gatewayID string, raw []byte) (application.DeviceStatus, error)
}

// GatewayHandler manages the gateway registry, pushes credentials to gateways
// and accepts the telegrams they report.
type GatewayHandler struct {
	registry   gatewayRegistry
	dispatcher credentialDispatcher
	ingestor   telegramIngestor
	responder  responder
	logger     *slog.Logger
}

func NewGatewayHandler(registry gatewayRegistry, dispatcher credentialDispatcher, ingestor telegramIngestor, logger *slog.Logger) *GatewayHandler {
	base := defaultLogger(logger)
	return &GatewayHandler{
		registry:   registry,
		dispatcher: dispatcher,
		ingestor:   ingestor,
		responder:  newResponder(base),
		logger:     base,
	}
}

func (h *GatewayHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "GatewayHandler", operation, attrs...)
}

func (h *GatewayHandler) ready(w http.ResponseWriter) bool {
	if h == nil || h.registry == nil || h.dispatcher == nil || h.ingestor == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *GatewayHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var req gatewayRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Register", "error_kind", "bad_request").InfoContext(r.Context(), "failed to decode gateway", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	gw, err := h.registry.Register(r.Context(), req.toGateway())
	if err != nil {
		h.log(r.Context(), "Register").InfoContext(r.Context(), "gateway registration rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Register", "gateway_id", gw.ID).InfoContext(r.Context(), "gateway registered")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, gatewayResponse{Gateway: gw})
}

func (h *GatewayHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listGatewaysResponse{Gateways: h.registry.List(r.Context())})
}

func (h *GatewayHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	gw, err := h.registry.Get(r.Context(), chi.URLParam(r, "gatewayID"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, gatewayResponse{Gateway: gw})
}

func (h *GatewayHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	gatewayID := chi.URLParam(r, "gatewayID")
	if err := h.registry.Unregister(r.Context(), gatewayID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.log(r.Context(), "Delete", "gateway_id", gatewayID).InfoContext(r.Context(), "gateway unregistered")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// MarkOffline records a lost connection to the gateway and its devices.
func (h *GatewayHandler) MarkOffline(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	gatewayID := chi.URLParam(r, "gatewayID")
	if err := h.registry.MarkOffline(r.Context(), gatewayID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	gw, err := h.registry.Get(r.Context(), gatewayID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.log(r.Context(), "MarkOffline", "gateway_id", gatewayID).WarnContext(r.Context(), "gateway marked offline")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, gatewayResponse{Gateway: gw})
}

// Sync pushes every active user's payload to the gateway. Partial failures
// answer 502 with the number of users that were delivered.
func (h *GatewayHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	gatewayID := chi.URLParam(r, "gatewayID")
	logger := h.log(r.Context(), "Sync", "gateway_id", gatewayID)

	synced, err := h.dispatcher.SyncGateway(r.Context(), gatewayID)
	if err != nil {
		if errors.Is(err, gateway.ErrGatewayNotFound) {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		logger.ErrorContext(r.Context(), "gateway sync incomplete", "error", err, "synced", synced)
		h.responder.writeJSON(r.Context(), w, http.StatusBadGateway, syncResponse{
			GatewayID: gatewayID,
			Synced:    synced,
			Error:     err.Error(),
		})
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, syncResponse{GatewayID: gatewayID, Synced: synced})
}

// CardUpdate pushes one user's current payload to the gateway.
func (h *GatewayHandler) CardUpdate(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	gatewayID := chi.URLParam(r, "gatewayID")

	var req cardUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{
			FieldErrors: map[string]string{"user_id": "user id is required"},
		})
		return
	}

	logger := h.log(r.Context(), "CardUpdate", "gateway_id", gatewayID, "user_id", userID)
	if err := h.dispatcher.PushUser(r.Context(), gatewayID, userID); err != nil {
		switch {
		case errors.Is(err, gateway.ErrGatewayNotFound):
			h.responder.handleServiceError(r.Context(), w, err)
		case errors.Is(err, gateway.ErrNoEndpoint):
			h.responder.writeError(r.Context(), w, http.StatusConflict, fmt.Errorf("gateway %s has no endpoint", gatewayID))
		default:
			logger.ErrorContext(r.Context(), "card update failed", "error", err)
			h.responder.writeError(r.Context(), w, http.StatusBadGateway, err)
		}
		return
	}

	logger.InfoContext(r.Context(), "card update delivered")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, cardUpdateResponse{GatewayID: gatewayID, UserID: userID, Delivered: true})
}

// AccessLog ingests an access telegram. A telegram already processed is
// acknowledged again so gateways can retry safely.
func (h *GatewayHandler) AccessLog(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	gatewayID := chi.URLParam(r, "gatewayID")
	raw, ok := h.readTelegram(w, r)
	if !ok {
		return
	}

	event, err := h.ingestor.IngestAccessEvent(r.Context(), gatewayID, raw)
	if errors.Is(err, gateway.ErrDuplicateTelegram) {
		h.responder.writeJSON(r.Context(), w, http.StatusOK, telegramAck{Duplicate: true})
		return
	}
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	dto := toAccessEventDTO(event)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, telegramAck{Event: &dto})
}

func (h *GatewayHandler) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	gatewayID := chi.URLParam(r, "gatewayID")
	raw, ok := h.readTelegram(w, r)
	if !ok {
		return
	}

	status, err := h.ingestor.IngestDeviceStatus(r.Context(), gatewayID, raw)
	if errors.Is(err, gateway.ErrDuplicateTelegram) {
		h.responder.writeJSON(r.Context(), w, http.StatusOK, telegramAck{Duplicate: true})
		return
	}
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, telegramAck{Status: &status})
}

func (h *GatewayHandler) readTelegram(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTelegramBytes))
	if err != nil {
		h.log(r.Context(), "readTelegram", "error_kind", "bad_request").InfoContext(r.Context(), "failed to read telegram", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return nil, false
	}
	return raw, true
}

type gatewayRequest struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Location  string   `json:"location"`
	Endpoint  string   `json:"endpoint"`
	IPAddress string   `json:"ip_address"`
	RoomIDs   []string `json:"room_ids"`
}

func (r gatewayRequest) toGateway() gateway.Gateway {
	return gateway.Gateway{
		ID:        r.ID,
		Name:      r.Name,
		Location:  strings.TrimSpace(r.Location),
		Endpoint:  r.Endpoint,
		IPAddress: strings.TrimSpace(r.IPAddress),
		RoomIDs:   r.RoomIDs,
	}
}

type gatewayResponse struct {
	Gateway gateway.Gateway `json:"gateway"`
}

type listGatewaysResponse struct {
	Gateways []gateway.Gateway `json:"gateways"`
}

type syncResponse struct {
	GatewayID string `json:"gateway_id"`
	Synced    int    `json:"synced"`
	Error     string `json:"error,omitempty"`
}

type cardUpdateRequest struct {
	UserID string `json:"user_id"`
}

type cardUpdateResponse struct {
	GatewayID string `json:"gateway_id"`
	UserID    string `json:"user_id"`
	Delivered bool   `json:"delivered"`
}

type telegramAck struct {
	Duplicate bool                      `json:"duplicate"`
	Event     *accessEventDTO           `json:"event,omitempty"`
	Status    *application.DeviceStatus `json:"status,omitempty"`
}
