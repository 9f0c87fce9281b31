package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/access-control/internal/application"
)

// SessionValidator resolves bearer tokens to live sessions.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (application.Session, error)
}

// RequireSession rejects requests without a live session and stores the
// caller's principal and session in the request context. The role is read
// from the user record on every request so role changes apply immediately.
func RequireSession(sessions SessionValidator, users application.UserDirectory, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := extractTokenFromRequest(r)
			if token == "" {
				responder.writeError(ctx, w, http.StatusUnauthorized, errMissingSessionToken)
				return
			}

			session, err := sessions.Validate(ctx, token)
			if err != nil {
				handlerLogger(ctx, logger, "RequireSession", "Validate", "error_kind", application.ErrorKind(err)).
					InfoContext(ctx, "session rejected", "error", err)
				responder.handleServiceError(ctx, w, err)
				return
			}

			user, err := users.GetUser(ctx, session.UserID)
			switch {
			case errors.Is(err, application.ErrNotFound), errors.Is(err, application.ErrUserNotFound):
				responder.handleServiceError(ctx, w, application.ErrSessionNotFound)
				return
			case err != nil:
				responder.handleServiceError(ctx, w, err)
				return
			case !user.Active:
				responder.handleServiceError(ctx, w, application.ErrAccountDisabled)
				return
			}

			ctx = ContextWithSession(ctx, session)
			ctx = ContextWithPrincipal(ctx, application.Principal{UserID: user.ID, Role: user.Role})
			if reqLogger := LoggerFromContext(ctx); reqLogger != nil {
				ctx = ContextWithLogger(ctx, reqLogger.With("principal_id", user.ID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireManager allows only facility managers. It must run after RequireSession.
func RequireManager(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingSessionToken)
				return
			}
			if !principal.IsManager() {
				responder.handleServiceError(r.Context(), w, application.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger attaches a logger carrying the chi request ID to the context
// and logs each request's outcome.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	base = defaultLogger(base)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			logger.DebugContext(ctx, "request started")
			next.ServeHTTP(ww, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed",
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
