package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/access-control/internal/application"
	"github.com/example/access-control/internal/config"
	"github.com/example/access-control/internal/gateway"
	httptransport "github.com/example/access-control/internal/http"
	"github.com/example/access-control/internal/logging"
	"github.com/example/access-control/internal/persistence"
	"github.com/example/access-control/internal/persistence/adapters"
	"github.com/example/access-control/internal/persistence/memory"
	"github.com/example/access-control/internal/persistence/sqlite"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd runs the HTTP API until the process is interrupted.
type ServeCmd struct {
	Port int `help:"Listen port. Overrides ACCESS_HTTP_PORT when set."`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.Port > 0 {
		cfg.HTTPPort = c.Port
	}

	logger, err := newLogger(cfg, globals.Debug, os.Stdout)
	if err != nil {
		return err
	}
	logger.Info("starting accessd", "version", globals.Version, "store", cfg.Store, "auth_policy", cfg.AuthPolicy)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	svc, err := newService(ctx, cfg, store, logger, serviceOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return svc.serve(ctx, server)
}

func newLogger(cfg config.Config, debug bool, w io.Writer) (*slog.Logger, error) {
	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.LogFormat, w)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return logger, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), nil
	case "sqlite", "":
		store, err := sqlite.Open(ctx, cfg.SQLiteDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func newVerifier(policy string, users application.UserLookup, logger *slog.Logger) (application.CredentialVerifier, error) {
	switch policy {
	case "argon2", "":
		return application.NewArgon2Verifier(users, application.VerifyPassword), nil
	case "prototype":
		logger.Warn("prototype auth policy accepts any password for an existing active user")
		return application.NewPrototypeVerifier(users), nil
	default:
		return nil, fmt.Errorf("unknown auth policy %q", policy)
	}
}

type serviceOptions struct {
	// Registerer receives the live session gauge. Nil skips registration.
	Registerer prometheus.Registerer
	// Transport overrides the HTTP push transport.
	Transport gateway.Transport
}

type service struct {
	cfg    config.Config
	logger *slog.Logger
	repos  adapters.Repositories

	sessions   *application.SessionAuthority
	users      *application.UserService
	dispatcher *gateway.Dispatcher
	handler    http.Handler
}

func newService(ctx context.Context, cfg config.Config, store persistence.Store, logger *slog.Logger, opts serviceOptions) (*service, error) {
	repos := adapters.ForStore(store)

	encoder, err := application.NewCredentialEncoder(cfg.PayloadEncoding)
	if err != nil {
		return nil, err
	}
	verifier, err := newVerifier(cfg.AuthPolicy, repos.Users, logger)
	if err != nil {
		return nil, err
	}

	transport := opts.Transport
	if transport == nil {
		transport = gateway.NewHTTPTransport(&http.Client{})
	}

	sessions := application.NewSessionAuthorityWithLogger(verifier, application.RandomToken, time.Now, cfg.SessionTTL, logger)
	registry := gateway.NewRegistry(nil, time.Now)
	dispatcher := gateway.NewDispatcher(registry, transport, repos.Users, encoder, gateway.DispatcherOptions{
		Workers:    cfg.DispatchWorkers,
		QueueSize:  cfg.DispatchQueue,
		Timeout:    cfg.GatewayTimeout,
		MaxRetries: noRetriesAsNegative(cfg.GatewayMaxRetries),
		Logger:     logger,
	})
	engine := application.NewPermissionEngineWithOptions(repos.Permissions, repos.Users, dispatcher, nil, time.Now,
		application.PermissionEngineOptions{Location: cfg.Location, Encoder: encoder, Logger: logger})
	dispatcher.UsePayloadSource(engine)

	users := application.NewUserServiceWithLogger(repos.Users, sessions, engine, nil, time.Now, logger)
	recorder := application.NewAccessRecorderWithLogger(repos.Events, nil, time.Now, logger)
	reports := application.NewReportService(repos.Events, repos.Users, repos.Permissions, registry, nil, time.Now,
		application.ReportServiceOptions{Location: cfg.Location, Logger: logger})
	ingestor := gateway.NewIngestor(recorder, registry, gateway.IngestorOptions{
		DedupSize: cfg.TelegramDedupSize,
		DedupTTL:  cfg.TelegramDedupTTL,
		Logger:    logger,
	})

	if err := seedUsers(ctx, cfg.SeedFile, users, logger); err != nil {
		return nil, err
	}

	if opts.Registerer != nil {
		if err := httptransport.RegisterSessionGauge(opts.Registerer, sessions); err != nil {
			return nil, fmt.Errorf("register session gauge: %w", err)
		}
	}

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Auth:        httptransport.NewAuthHandler(sessions, repos.Users, logger),
		Users:       httptransport.NewUserHandler(users, logger),
		Permissions: httptransport.NewPermissionHandler(engine, logger),
		AccessLogs:  httptransport.NewAccessLogHandler(recorder, logger),
		Gateways:    httptransport.NewGatewayHandler(registry, dispatcher, ingestor, logger),
		Reports:     httptransport.NewReportHandler(reports, logger),
		Sessions:    sessions,
		Directory:   repos.Users,
		Health:      store,
		Logger:      logger,
	})

	return &service{
		cfg:        cfg,
		logger:     logger,
		repos:      repos,
		sessions:   sessions,
		users:      users,
		dispatcher: dispatcher,
		handler:    handler,
	}, nil
}

// noRetriesAsNegative maps a configured zero to the dispatcher's "no retries"
// value; the dispatcher reads zero as "use the default".
func noRetriesAsNegative(retries int) int {
	if retries == 0 {
		return -1
	}
	return retries
}

func seedUsers(ctx context.Context, path string, users *application.UserService, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	seed, err := config.LoadSeed(path)
	if err != nil {
		return err
	}

	created := 0
	for _, entry := range seed.Users {
		_, isNew, err := users.Bootstrap(ctx, application.UserInput{
			Email:       entry.Email,
			DisplayName: entry.DisplayName,
			Role:        application.Role(entry.Role),
			Password:    entry.Password,
		})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", entry.Email, err)
		}
		if isNew {
			created++
		}
	}
	logger.Info("seed users applied", "path", path, "total", len(seed.Users), "created", created)
	return nil
}

// serve runs the background workers and server until ctx is cancelled. The
// server is shut down before pending pushes are drained.
func (s *service) serve(ctx context.Context, server *http.Server) error {
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	s.dispatcher.Start(workerCtx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sessions.RunSweeper(workerCtx, s.cfg.SessionSweepInterval)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("access control API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("failed to shutdown server", "error", err)
		serveErr = errors.Join(serveErr, err)
	}

	s.dispatcher.Close()
	cancelWorkers()
	wg.Wait()

	s.logger.Info("access control API stopped")
	return serveErr
}
