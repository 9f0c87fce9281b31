package testfixtures

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/access-control/internal/application"
	"github.com/example/access-control/internal/gateway"
	"github.com/example/access-control/internal/persistence"
	"github.com/example/access-control/internal/persistence/adapters"
	"github.com/example/access-control/internal/persistence/memory"
)

// Environment is a fully wired in-memory control plane with deterministic
// identifiers and a controllable clock.
type Environment struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Store       persistence.Store
	Repos       adapters.Repositories

	Sessions    *application.SessionAuthority
	Permissions *application.PermissionEngine
	Users       *application.UserService
	Recorder    *application.AccessRecorder
	Reports     *application.ReportService

	Gateways   *gateway.Registry
	Dispatcher *gateway.Dispatcher
	Ingestor   *gateway.Ingestor
	Transport  *RecordingTransport
}

// EnvironmentOption configures an Environment.
type EnvironmentOption func(*environmentConfig)

type environmentConfig struct {
	clock    *Clock
	store    persistence.Store
	location *time.Location
	encoder  application.CredentialEncoder
	logger   *slog.Logger
}

// WithClock overrides the clock used by the environment.
func WithClock(clock *Clock) EnvironmentOption {
	return func(c *environmentConfig) { c.clock = clock }
}

// WithStore replaces the in-memory store, for example with NewSQLiteStore.
func WithStore(store persistence.Store) EnvironmentOption {
	return func(c *environmentConfig) { c.store = store }
}

// WithLocation sets the zone time-of-day checks are evaluated in.
func WithLocation(loc *time.Location) EnvironmentOption {
	return func(c *environmentConfig) { c.location = loc }
}

// WithEncoder sets the credential payload encoder.
func WithEncoder(encoder application.CredentialEncoder) EnvironmentOption {
	return func(c *environmentConfig) { c.encoder = encoder }
}

// NewEnvironment wires every service. The dispatcher runs synchronously
// through Flush rather than with background workers, keeping tests
// deterministic.
func NewEnvironment(tb testing.TB, opts ...EnvironmentOption) *Environment {
	tb.Helper()

	cfg := environmentConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clock == nil {
		cfg.clock = NewClock(time.Time{})
	}
	if cfg.store == nil {
		cfg.store = memory.New()
	}

	env := &Environment{
		Clock:       cfg.clock,
		IDGenerator: NewIDGenerator("id"),
		Store:       cfg.store,
		Repos:       adapters.ForStore(cfg.store),
		Transport:   &RecordingTransport{},
	}
	now := env.Clock.NowFunc()
	ids := env.IDGenerator.NextFunc()

	env.Gateways = gateway.NewRegistry(ids, now)
	env.Dispatcher = gateway.NewDispatcher(env.Gateways, env.Transport, env.Repos.Users, cfg.encoder, gateway.DispatcherOptions{
		QueueSize:      64,
		MaxRetries:     -1,
		InitialBackoff: time.Millisecond,
		Logger:         cfg.logger,
		Now:            now,
	})

	verifier := application.NewArgon2Verifier(env.Repos.Users, application.VerifyPassword)
	env.Sessions = application.NewSessionAuthorityWithLogger(verifier, NewIDGenerator("token").TokenFunc(), now, application.DefaultSessionTTL, cfg.logger)
	env.Permissions = application.NewPermissionEngineWithOptions(env.Repos.Permissions, env.Repos.Users, env.Dispatcher, ids, now,
		application.PermissionEngineOptions{Location: cfg.location, Encoder: cfg.encoder, Logger: cfg.logger})
	env.Dispatcher.UsePayloadSource(env.Permissions)

	env.Users = application.NewUserServiceWithLogger(env.Repos.Users, env.Sessions, env.Permissions, ids, now, cfg.logger)
	env.Recorder = application.NewAccessRecorderWithLogger(env.Repos.Events, ids, now, cfg.logger)
	env.Reports = application.NewReportService(env.Repos.Events, env.Repos.Users, env.Repos.Permissions, env.Gateways, ids, now,
		application.ReportServiceOptions{Location: cfg.location, Logger: cfg.logger})
	env.Ingestor = gateway.NewIngestor(env.Recorder, env.Gateways, gateway.IngestorOptions{Logger: cfg.logger, Now: now})

	tb.Cleanup(env.Dispatcher.Close)
	return env
}

// SeedUser stores the fixture directly, bypassing role checks.
func (e *Environment) SeedUser(tb testing.TB, fixture UserFixture) application.User {
	tb.Helper()
	user, err := e.Repos.Users.CreateUser(context.Background(), fixture.Application())
	if err != nil {
		tb.Fatalf("seed user %s: %v", fixture.ID, err)
	}
	return user
}

// Login authenticates the fixture and returns its session token.
func (e *Environment) Login(tb testing.TB, fixture UserFixture) string {
	tb.Helper()
	session, err := e.Sessions.Authenticate(context.Background(), fixture.Email, fixture.Password)
	if err != nil {
		tb.Fatalf("login %s: %v", fixture.Email, err)
	}
	return session.Token
}

// Flush starts the dispatcher, waits for queued changes to be delivered and
// returns the pushes recorded so far. The dispatcher cannot be used after Flush.
func (e *Environment) Flush() []Push {
	e.Dispatcher.Start(context.Background())
	e.Dispatcher.Close()
	return e.Transport.Pushes()
}

// Push is one delivery observed by RecordingTransport.
type Push struct {
	GatewayID   string
	UserID      string
	Payload     []byte
	ContentType string
}

// RecordingTransport accepts every push and remembers it.
type RecordingTransport struct {
	mu     sync.Mutex
	pushes []Push
}

// Push implements gateway.Transport.
func (t *RecordingTransport) Push(_ context.Context, gw gateway.Gateway, userID string, payload []byte, contentType string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushes = append(t.pushes, Push{GatewayID: gw.ID, UserID: userID, Payload: append([]byte(nil), payload...), ContentType: contentType})
	return nil
}

// Pushes returns a copy of the recorded pushes.
func (t *RecordingTransport) Pushes() []Push {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Push(nil), t.pushes...)
}
