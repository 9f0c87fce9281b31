package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/example/access-control/internal/application"
	"github.com/example/access-control/internal/logging"
)

// PayloadSource produces the encoded payload a gateway should hold for a
// user, falling back to an empty card.
type PayloadSource interface {
	DeliverablePayload(ctx context.Context, userID string) ([]byte, error)
}

// ActiveUserLister enumerates the users whose cards a gateway must hold.
type ActiveUserLister interface {
	ListActiveUsers(ctx context.Context) ([]application.User, error)
}

// DispatcherOptions tunes the delivery worker pool. Zero values select
// defaults; a negative MaxRetries disables retries.
type DispatcherOptions struct {
	Workers        int
	QueueSize      int
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

const (
	defaultWorkers        = 2
	defaultQueueSize      = 256
	defaultPushTimeout    = 30 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = 500 * time.Millisecond
)

type dispatchJob struct {
	ctx    context.Context
	change application.CredentialChange
}

// Dispatcher fans committed credential changes out to the gateways serving
// the affected room. It implements application.CredentialNotifier; callers
// are never blocked by delivery.
type Dispatcher struct {
	registry  *Registry
	transport Transport
	users     ActiveUserLister
	encoder   application.CredentialEncoder
	opts      DispatcherOptions
	logger    *slog.Logger

	sourceMu sync.RWMutex
	source   PayloadSource

	queueMu sync.RWMutex
	queue   chan dispatchJob
	closed  bool

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher constructs a dispatcher. Workers do not run until Start.
func NewDispatcher(registry *Registry, transport Transport, users ActiveUserLister, encoder application.CredentialEncoder, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultPushTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if encoder == nil {
		encoder = application.JSONCredentialEncoder{}
	}
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		registry:  registry,
		transport: transport,
		users:     users,
		encoder:   encoder,
		opts:      opts,
		logger:    logger,
		queue:     make(chan dispatchJob, opts.QueueSize),
	}
}

// UsePayloadSource sets the payload source. The engine depends on the
// dispatcher as its notifier, so the source is attached after both exist.
func (d *Dispatcher) UsePayloadSource(source PayloadSource) {
	d.sourceMu.Lock()
	d.source = source
	d.sourceMu.Unlock()
}

func (d *Dispatcher) payloadSource() PayloadSource {
	d.sourceMu.RLock()
	defer d.sourceMu.RUnlock()
	return d.source
}

func (d *Dispatcher) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = d.logger
	}
	pairs := append([]any{"service", "GatewayDispatcher", "operation", operation}, attrs...)
	return logger.With(pairs...)
}

// Start launches the worker pool. Workers exit once Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.opts.Workers; i++ {
			d.wg.Add(1)
			go d.worker(ctx)
		}
	})
}

// Close stops accepting changes and waits for queued work to finish.
func (d *Dispatcher) Close() {
	d.queueMu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.queueMu.Unlock()
	d.wg.Wait()
}

// NotifyCredentialChange queues the change, dropping it when the queue is full.
func (d *Dispatcher) NotifyCredentialChange(ctx context.Context, change application.CredentialChange) {
	if d == nil {
		return
	}
	if err := d.Enqueue(ctx, change); err != nil {
		droppedChanges.Inc()
		d.loggerWith(ctx, "NotifyCredentialChange", "user_id", change.UserID, "room_id", change.RoomID).
			WarnContext(ctx, "credential change dropped", "error", err)
	}
}

// Enqueue queues a change without blocking.
func (d *Dispatcher) Enqueue(ctx context.Context, change application.CredentialChange) error {
	d.queueMu.RLock()
	defer d.queueMu.RUnlock()

	if d.closed {
		return fmt.Errorf("dispatcher closed: %w", ErrQueueFull)
	}
	// The request context ends with the request; keep only its logger.
	job := dispatchJob{ctx: logging.ContextWithLogger(context.Background(), logging.FromContext(ctx)), change: change}
	select {
	case d.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for job := range d.queue {
		if ctx.Err() != nil {
			continue
		}
		d.deliver(job.ctx, job.change)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, change application.CredentialChange) {
	logger := d.loggerWith(ctx, "deliver", "user_id", change.UserID, "room_id", change.RoomID, "reason", string(change.Reason))

	payload, err := d.payloadFor(ctx, change)
	if err != nil {
		logger.ErrorContext(ctx, "build credential payload failed", "error", err, "error_kind", application.ErrorKind(err))
		return
	}

	for _, gw := range d.registry.ServingRoom(ctx, change.RoomID) {
		if err := d.push(ctx, gw, change.UserID, payload); err != nil {
			logger.ErrorContext(ctx, "credential push failed", "gateway_id", gw.ID, "error", err)
		}
	}
}

func (d *Dispatcher) payloadFor(ctx context.Context, change application.CredentialChange) ([]byte, error) {
	if change.Reason == application.ChangeDeactivated {
		return d.encoder.Encode(application.EmptyCredentialPayload(change.UserID, d.opts.Now()))
	}
	return d.userPayload(ctx, change.UserID)
}

func (d *Dispatcher) userPayload(ctx context.Context, userID string) ([]byte, error) {
	source := d.payloadSource()
	if source == nil {
		return d.encoder.Encode(application.EmptyCredentialPayload(userID, d.opts.Now()))
	}
	return source.DeliverablePayload(ctx, userID)
}

// PushCredentialUpdate delivers payload to one gateway, retrying transient
// failures with exponential backoff.
func (d *Dispatcher) PushCredentialUpdate(ctx context.Context, gatewayID, userID string, payload []byte) error {
	gw, err := d.registry.Get(ctx, gatewayID)
	if err != nil {
		return err
	}
	return d.push(ctx, gw, userID, payload)
}

// PushUser builds the user's current payload and delivers it to one gateway.
func (d *Dispatcher) PushUser(ctx context.Context, gatewayID, userID string) error {
	gw, err := d.registry.Get(ctx, gatewayID)
	if err != nil {
		return err
	}
	payload, err := d.userPayload(ctx, userID)
	if err != nil {
		return err
	}
	return d.push(ctx, gw, userID, payload)
}

// SyncGateway pushes the payload of every active user to the gateway and
// returns how many pushes succeeded.
func (d *Dispatcher) SyncGateway(ctx context.Context, gatewayID string) (synced int, err error) {
	logger := d.loggerWith(ctx, "SyncGateway", "gateway_id", gatewayID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "gateway sync failed", "error", err, "synced", synced)
			return
		}
		logger.InfoContext(ctx, "gateway synced", "synced", synced)
	}()

	gw, err := d.registry.Get(ctx, gatewayID)
	if err != nil {
		return 0, err
	}
	if d.users == nil {
		return 0, fmt.Errorf("active user lister not configured")
	}
	users, err := d.users.ListActiveUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active users: %w", err)
	}

	var errs []error
	for _, user := range users {
		payload, perr := d.userPayload(ctx, user.ID)
		if perr == nil {
			perr = d.push(ctx, gw, user.ID, payload)
		}
		if perr != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", user.ID, perr))
			continue
		}
		synced++
	}
	return synced, errors.Join(errs...)
}

func (d *Dispatcher) push(ctx context.Context, gw Gateway, userID string, payload []byte) error {
	started := time.Now()
	defer func() { pushDuration.Observe(time.Since(started).Seconds()) }()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.opts.InitialBackoff

	attempt := func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()

		err := d.transport.Push(attemptCtx, gw, userID, payload, d.encoder.ContentType())
		if err == nil {
			return struct{}{}, nil
		}
		var statusErr *StatusError
		if errors.Is(err, ErrNoEndpoint) || (errors.As(err, &statusErr) && !statusErr.Temporary()) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(d.opts.MaxRetries+1)),
	)
	if err != nil {
		pushesTotal.WithLabelValues("failure").Inc()
		return err
	}
	pushesTotal.WithLabelValues("success").Inc()
	return nil
}

var _ application.CredentialNotifier = (*Dispatcher)(nil)
