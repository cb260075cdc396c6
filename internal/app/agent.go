package app

import (
	"context"
	"time"

	"github.com/medtec-labs/caseship/internal/ports"
)

// AgentConfig contains configuration for the sync agent loop.
type AgentConfig struct {
	// FlushInterval is the period between flush attempts while idle.
	FlushInterval time.Duration

	// Once makes Run perform the startup flush and return.
	Once bool

	// BackoffInitial and BackoffMax bound the delay after failed flushes.
	// Zero values use the package defaults.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Agent drains the offline queue: one flush at startup, before the host
// accepts new input, then again on every flush interval tick and whenever
// the queue watcher signals that the host appended an operation. A failed
// flush backs off exponentially; a successful one resets the backoff.
type Agent struct {
	config AgentConfig
	buffer *Buffer
	logger ports.Logger
	kick   <-chan struct{}
	ready  chan struct{}
}

// NewAgent creates an agent. kick may be nil when no queue watcher is wired.
func NewAgent(config AgentConfig, buffer *Buffer, logger ports.Logger, kick <-chan struct{}) *Agent {
	if config.BackoffInitial <= 0 {
		config.BackoffInitial = DefaultBackoffInitial
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = DefaultBackoffMax
	}
	return &Agent{
		config: config,
		buffer: buffer,
		logger: logger,
		kick:   kick,
		ready:  make(chan struct{}),
	}
}

// Ready returns a channel that is closed once the startup flush has run,
// successfully or not. Hosts that gate their UI on the agent being ready
// wait on it: afterwards the queue is drained or the store is marked
// offline.
func (a *Agent) Ready() <-chan struct{} {
	return a.ready
}

// Run executes the agent loop until the context is canceled. Run must be
// called at most once per Agent. An interrupted flush is not an error:
// whatever stayed queued is picked up on the next run.
func (a *Agent) Run(ctx context.Context) error {
	back := newBackoff(a.config.BackoffInitial, a.config.BackoffMax)

	// Startup flush. In once mode its outcome is the whole result.
	err := a.flushOnce(ctx, back)
	close(a.ready)
	if a.config.Once {
		return err
	}
	if err != nil {
		if waitErr := a.wait(ctx, back.Next()); waitErr != nil {
			return nil
		}
	}

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-a.kick:
		}

		if err := a.flushOnce(ctx, back); err != nil {
			// Back off so a dead file share is not hammered on every tick.
			if waitErr := a.wait(ctx, back.Next()); waitErr != nil {
				return nil
			}
		}
	}
}

// flushOnce runs one flush attempt.
func (a *Agent) flushOnce(ctx context.Context, back *backoff) error {
	applied, remaining, err := a.buffer.Flush(ctx)
	if err != nil {
		a.logger.Warn("flush attempt failed",
			ports.Err(err),
			ports.Int("applied", applied),
			ports.Int("remaining", remaining),
		)
		return err
	}

	back.Reset()
	if applied > 0 {
		a.logger.Info("queue drained", ports.Int("applied", applied))
	}
	return nil
}

func (a *Agent) wait(ctx context.Context, delay time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
