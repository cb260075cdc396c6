// Package caseship provides an offline write buffer for repair-case
// tracking applications whose primary store is a shared SQLite database.
//
// Writes submitted while the store is unreachable are appended to a durable
// local queue and replayed, in original order, once the store can be reached
// again. Embed a [Caseship] in the host application:
//
//	cfg := caseship.Config{
//	    DBPath:    `Z:\repairdesk\app.db`,
//	    QueuePath: filepath.Join(appData, "buffer_queue.json"),
//	}
//	cs, err := caseship.New(cfg, caseship.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cs.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer cs.Stop()
//
//	deferred, err := cs.Submit(ctx, op)
package caseship

import (
	"context"
	"sync"
	"time"

	fsAdapter "github.com/medtec-labs/caseship/internal/adapters/fs"
	logAdapter "github.com/medtec-labs/caseship/internal/adapters/log"
	"github.com/medtec-labs/caseship/internal/adapters/sqlite"
	"github.com/medtec-labs/caseship/internal/app"
	"github.com/medtec-labs/caseship/internal/domain"
	"github.com/medtec-labs/caseship/internal/ports"
)

// Operation is a single buffered mutation.
type Operation = domain.Operation

// Logger is the structured logging interface accepted by WithLogger.
type Logger = ports.Logger

// State reports the lifecycle state of a Caseship instance.
type State = app.State

// Lifecycle states.
const (
	StateStopped  = app.StateStopped
	StateStarting = app.StateStarting
	StateRunning  = app.StateRunning
	StateStopping = app.StateStopping
	StateCrashed  = app.StateCrashed
)

// Config holds the configuration for a Caseship instance.
type Config struct {
	// DBPath is the shared case database file.
	DBPath string

	// QueuePath is the durable local queue file.
	QueuePath string

	// FlushInterval is the period between flush attempts while idle.
	// Defaults to 30 seconds.
	FlushInterval time.Duration

	// Once performs the startup flush and stops, instead of running the
	// periodic sync loop.
	Once bool
}

// setDefaults fills zero values with defaults.
func (c *Config) setDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 30 * time.Second
	}
}

// validate checks required settings.
func (c Config) validate() error {
	if c.DBPath == "" {
		return domain.ErrInvalidConfig
	}
	if c.QueuePath == "" {
		return domain.ErrInvalidConfig
	}
	return nil
}

// Option configures optional behavior of Caseship.
type Option func(*options)

type options struct {
	logger ports.Logger
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Caseship owns the store connection, the durable queue, the offline write
// buffer, and the background sync agent. Use New() to create an instance,
// then Start() to open the store and begin draining the queue.
type Caseship struct {
	config    Config
	logger    ports.Logger
	lifecycle *app.Lifecycle
	queue     *fsAdapter.QueueFile

	mu     sync.RWMutex
	store  *sqlite.Store
	buffer *app.Buffer
	cancel context.CancelFunc
}

// New creates a new Caseship instance with the given configuration.
// The instance is created in StateStopped; call Start() to begin syncing.
func New(cfg Config, opts ...Option) (*Caseship, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := options{logger: logAdapter.NewNoopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Caseship{
		config:    cfg,
		logger:    o.logger,
		lifecycle: app.NewLifecycle(o.logger),
		queue:     fsAdapter.NewQueueFile(cfg.QueuePath),
	}, nil
}

// Start opens the store and begins background syncing. StateRunning is
// entered only after the startup flush has run, so hosts that wait for it
// observe the queue drained (or the store marked offline) before presenting
// their UI. An unreachable store does not fail Start: writes submitted while
// the share is down are buffered locally.
func (c *Caseship) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := c.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	store, err := sqlite.Open(c.config.DBPath)
	if err != nil {
		_ = c.lifecycle.TransitionTo(app.StateCrashed, "open store: "+err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	buffer, err := app.NewBuffer(runCtx, store, c.queue, c.logger)
	if err != nil {
		cancel()
		store.Close()
		_ = c.lifecycle.TransitionTo(app.StateCrashed, "load queue: "+err.Error())
		return err
	}

	c.store = store
	c.buffer = buffer
	c.cancel = cancel
	c.lifecycle.SetCancel(cancel)

	watcher := app.NewQueueWatcher(c.config.QueuePath, c.logger)
	agent := app.NewAgent(app.AgentConfig{
		FlushInterval: c.config.FlushInterval,
		Once:          c.config.Once,
	}, buffer, c.logger, watcher.Signals())

	c.lifecycle.AddWorker()
	go func() {
		defer c.lifecycle.WorkerDone()
		// The watcher is best-effort: losing it only means flushes wait
		// for the next interval tick.
		if err := watcher.Run(runCtx); err != nil {
			c.logger.Warn("queue watcher unavailable", ports.Err(err))
		}
	}()

	// StateRunning is entered only after the startup flush, so hosts that
	// wait for it observe the queue drained or the store marked offline.
	running := make(chan struct{})
	c.lifecycle.AddWorker()
	go func() {
		defer c.lifecycle.WorkerDone()
		defer close(running)
		select {
		case <-agent.Ready():
			_ = c.lifecycle.TransitionTo(app.StateRunning, "startup flush complete")
		case <-runCtx.Done():
		}
	}()

	c.lifecycle.AddWorker()
	go func() {
		defer c.lifecycle.WorkerDone()

		err := agent.Run(runCtx)
		switch {
		case err != nil && err != context.Canceled:
			<-running
			cancel()
			c.closeStore()
			c.logger.Error("agent error", ports.Err(err))
			_ = c.lifecycle.TransitionTo(app.StateCrashed, err.Error())
		case c.config.Once:
			<-running
			cancel()
			c.closeStore()
			_ = c.lifecycle.TransitionTo(app.StateStopped, "once mode complete")
		}
	}()

	return nil
}

// Stop gracefully shuts down the sync agent, waits up to 30 seconds for the
// workers, and closes the store. Operations still queued stay on disk for
// the next start.
func (c *Caseship) Stop() error {
	c.mu.Lock()

	if !c.lifecycle.CanStop() {
		c.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := c.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	err := c.lifecycle.WaitWithTimeout(app.ShutdownTimeout)
	c.closeStore()

	if err != nil {
		_ = c.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout")
	} else {
		_ = c.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}
	return err
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (c *Caseship) Status() State {
	return c.lifecycle.State()
}

// Submit attempts to apply op to the store, buffering it locally when the
// store is unreachable. deferred is true when the write was queued instead
// of applied. See app.Buffer.Submit for the full contract.
func (c *Caseship) Submit(ctx context.Context, op Operation) (deferred bool, err error) {
	buffer, err := c.runningBuffer()
	if err != nil {
		return false, err
	}
	return buffer.Submit(ctx, op)
}

// Flush replays the queue immediately instead of waiting for the agent.
func (c *Caseship) Flush(ctx context.Context) (applied int, remaining int, err error) {
	buffer, err := c.runningBuffer()
	if err != nil {
		return 0, 0, err
	}
	return buffer.Flush(ctx)
}

// PendingCount reports the local queue depth.
func (c *Caseship) PendingCount(ctx context.Context) (int, error) {
	buffer, err := c.runningBuffer()
	if err != nil {
		return 0, err
	}
	return buffer.PendingCount(ctx)
}

// Online reports whether the store was reachable at the last attempt.
func (c *Caseship) Online() bool {
	buffer, err := c.runningBuffer()
	if err != nil {
		return false
	}
	return buffer.Online()
}

func (c *Caseship) closeStore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Error("close store", ports.Err(err))
		}
		c.store = nil
	}
	c.buffer = nil
}

func (c *Caseship) runningBuffer() (*app.Buffer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.buffer == nil {
		return nil, domain.ErrNotRunning
	}
	return c.buffer, nil
}
