package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/access-control/internal/application"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig collects the handlers mounted by NewRouter. Nil handlers leave
// their routes unmounted.
type RouterConfig struct {
	Auth        *AuthHandler
	Users       *UserHandler
	Permissions *PermissionHandler
	AccessLogs  *AccessLogHandler
	Gateways    *GatewayHandler
	Reports     *ReportHandler

	Sessions  SessionValidator
	Directory application.UserDirectory
	Health    Pinger
	// MetricsHandler serves /metrics; promhttp.Handler() when nil.
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(RequestLogger(logger))
	router.Use(MetricsMiddleware())
	router.Use(middleware.Recoverer)

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)
	router.Get("/healthz", healthHandler(cfg.Health, logger))

	if cfg.Auth != nil {
		router.Post("/auth/login", cfg.Auth.Login)
		router.Post("/auth/logout", cfg.Auth.Logout)
		router.Post("/auth/refresh", cfg.Auth.Refresh)
	}

	if cfg.Sessions == nil || cfg.Directory == nil {
		return router
	}

	router.Group(func(authed chi.Router) {
		authed.Use(RequireSession(cfg.Sessions, cfg.Directory, logger))
		manager := authed.With(RequireManager(logger))

		if cfg.Auth != nil {
			authed.Get("/auth/me", cfg.Auth.Me)
		}

		if cfg.Users != nil {
			authed.Route("/users", func(r chi.Router) {
				r.Get("/", cfg.Users.List)
				r.Get("/{userID}", cfg.Users.Get)
				r.With(RequireManager(logger)).Post("/", cfg.Users.Create)
				r.With(RequireManager(logger)).Patch("/{userID}", cfg.Users.Update)
				r.With(RequireManager(logger)).Post("/{userID}/deactivate", cfg.Users.Deactivate)
			})
		}

		if cfg.Permissions != nil {
			authed.Route("/permissions", func(r chi.Router) {
				r.Get("/user/{userID}", cfg.Permissions.ListForUser)
				r.Get("/{userID}/{roomID}/authorize", cfg.Permissions.Authorize)
				r.With(RequireManager(logger)).Post("/", cfg.Permissions.Grant)
				r.With(RequireManager(logger)).Put("/{userID}/{roomID}", cfg.Permissions.Update)
				r.With(RequireManager(logger)).Delete("/{userID}/{roomID}", cfg.Permissions.Revoke)
				r.With(RequireManager(logger)).Post("/generate-card/{userID}", cfg.Permissions.GenerateCard)
			})
		}

		if cfg.AccessLogs != nil {
			authed.Get("/access-logs/user/{userID}", cfg.AccessLogs.ListForUser)
			manager.Get("/access-logs", cfg.AccessLogs.List)
			manager.Post("/access-logs", cfg.AccessLogs.Create)
			manager.Get("/access-logs/room/{roomID}", cfg.AccessLogs.ListForRoom)
		}

		if cfg.Gateways != nil {
			manager.Route("/gateways", func(r chi.Router) {
				r.Get("/", cfg.Gateways.List)
				r.Post("/", cfg.Gateways.Register)
				r.Get("/{gatewayID}", cfg.Gateways.Get)
				r.Delete("/{gatewayID}", cfg.Gateways.Delete)
				r.Post("/{gatewayID}/offline", cfg.Gateways.MarkOffline)
				r.Post("/{gatewayID}/sync", cfg.Gateways.Sync)
				r.Post("/{gatewayID}/card-update", cfg.Gateways.CardUpdate)
				r.Post("/{gatewayID}/access-log", cfg.Gateways.AccessLog)
				r.Post("/{gatewayID}/device-status", cfg.Gateways.DeviceStatus)
			})
		}

		if cfg.Reports != nil {
			authed.Get("/reports/types", cfg.Reports.Types)
			manager.Post("/reports", cfg.Reports.Generate)
		}
	})

	return router
}

func healthHandler(store Pinger, logger *slog.Logger) http.HandlerFunc {
	responder := newResponder(logger)
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responder.writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			responder.loggerFor(r.Context()).WarnContext(r.Context(), "health check failed", "error", err)
			responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
			return
		}
		responder.writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
