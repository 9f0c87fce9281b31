package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/access-control/internal/application"
)

type authService interface {
	Authenticate(ctx context.Context, username, password string) (application.Session, error)
	Refresh(ctx context.Context, token string) (application.Session, error)
	Invalidate(ctx context.Context, token string) bool
	ActiveSessions(ctx context.Context, userID string) []application.Session
}

// AuthHandler serves login, logout, refresh and the current-session lookup.
type AuthHandler struct {
	service   authService
	users     application.UserDirectory
	responder responder
	logger    *slog.Logger
}

func NewAuthHandler(service authService, users application.UserDirectory, logger *slog.Logger) *AuthHandler {
	base := defaultLogger(logger)
	return &AuthHandler{service: service, users: users, responder: newResponder(base), logger: base}
}

func (h *AuthHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AuthHandler", operation, attrs...)
}

// Login issues a session for valid credentials. The token is returned in the
// body, the X-Session-Token header and the session_token cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Login", "error_kind", "bad_request").InfoContext(r.Context(), "failed to decode login request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := h.log(r.Context(), "Login", "email", email)

	session, err := h.service.Authenticate(r.Context(), email, req.Password)
	if err != nil {
		logger.InfoContext(r.Context(), "authentication rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	setSessionCookie(w, session.Token, session.ExpiresAt)
	w.Header().Set("X-Session-Token", session.Token)

	logger.With("user_id", session.UserID).InfoContext(r.Context(), "user authenticated")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toSessionResponse(session))
}

// Logout invalidates the caller's token. Unknown tokens are accepted so
// logout can be retried safely.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token := extractTokenFromRequest(r)
	if token == "" {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingSessionToken)
		return
	}

	existed := h.service.Invalidate(r.Context(), token)
	clearSessionCookie(w)
	h.log(r.Context(), "Logout", "existed", existed).InfoContext(r.Context(), "session invalidated")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Refresh extends the caller's session by the configured TTL.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token := extractTokenFromRequest(r)
	if token == "" {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingSessionToken)
		return
	}

	session, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		h.log(r.Context(), "Refresh", "error_kind", application.ErrorKind(err)).InfoContext(r.Context(), "refresh rejected", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	setSessionCookie(w, session.Token, session.ExpiresAt)
	h.log(r.Context(), "Refresh", "user_id", session.UserID).InfoContext(r.Context(), "session refreshed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSessionResponse(session))
}

// Me describes the authenticated user and their live sessions.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil || h.users == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingSessionToken)
		return
	}
	session, _ := SessionFromContext(r.Context())

	user, err := h.users.GetUser(r.Context(), principal.UserID)
	if err != nil {
		h.log(r.Context(), "Me", "user_id", principal.UserID).ErrorContext(r.Context(), "failed to load current user", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, meResponse{
		User:           toUserDTO(user),
		ExpiresAt:      formatTime(session.ExpiresAt),
		ActiveSessions: len(h.service.ActiveSessions(r.Context(), principal.UserID)),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
}

func toSessionResponse(session application.Session) sessionResponse {
	return sessionResponse{
		Token:     session.Token,
		UserID:    session.UserID,
		CreatedAt: formatTime(session.CreatedAt),
		ExpiresAt: formatTime(session.ExpiresAt),
	}
}

type meResponse struct {
	User           userDTO `json:"user"`
	ExpiresAt      string  `json:"expires_at"`
	ActiveSessions int     `json:"active_sessions"`
}

func setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	cookie := &http.Cookie{
		Name:     "session_token",
		Value:    token,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	}
	if !expires.IsZero() {
		cookie.Expires = expires.UTC()
	}
	http.SetCookie(w, cookie)
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     "session_token",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func extractTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			return strings.TrimSpace(header[len(prefix):])
		}
	}
	if cookie, err := r.Cookie("session_token"); err == nil {
		return cookie.Value
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
