package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/access-control/internal/application"
)

type reportService interface {
	Generate(ctx context.Context, req application.ReportRequest) (application.Report, error)
}

type ReportHandler struct {
	service   reportService
	responder responder
	logger    *slog.Logger
}

func NewReportHandler(service reportService, logger *slog.Logger) *ReportHandler {
	base := defaultLogger(logger)
	return &ReportHandler{service: service, responder: newResponder(base), logger: base}
}

// Generate runs a report and returns it as JSON. Rendering to other formats
// is left to clients.
func (h *ReportHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := handlerLogger(r.Context(), h.logger, "ReportHandler", "Generate", "principal_id", principal.UserID)

	var req reportRequest
	if err := decodeJSON(r, &req); err != nil {
		logger.InfoContext(r.Context(), "failed to decode report request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	params, err := req.toParams(principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	report, err := h.service.Generate(r.Context(), params)
	if err != nil {
		logger.ErrorContext(r.Context(), "report generation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, report)
}

type reportTypesResponse struct {
	Types []application.ReportType `json:"types"`
}

// Types lists the report types accepted by Generate.
func (h *ReportHandler) Types(w http.ResponseWriter, r *http.Request) {
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reportTypesResponse{Types: application.ReportTypes()})
}

type reportRequest struct {
	Type   string `json:"type"`
	From   string `json:"from"`
	To     string `json:"to"`
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

func (r reportRequest) toParams(principal application.Principal) (application.ReportRequest, error) {
	params := application.ReportRequest{
		Principal: principal,
		Type:      application.ReportType(strings.TrimSpace(r.Type)),
		UserID:    strings.TrimSpace(r.UserID),
		RoomID:    strings.TrimSpace(r.RoomID),
	}
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	var err error
	if r.From != "" {
		if params.From, err = time.Parse(time.RFC3339Nano, r.From); err != nil {
			vErr.FieldErrors["from"] = "must be an RFC 3339 timestamp"
		}
	}
	if r.To != "" {
		if params.To, err = time.Parse(time.RFC3339Nano, r.To); err != nil {
			vErr.FieldErrors["to"] = "must be an RFC 3339 timestamp"
		}
	}
	if vErr.HasErrors() {
		return application.ReportRequest{}, vErr
	}
	return params, nil
}
