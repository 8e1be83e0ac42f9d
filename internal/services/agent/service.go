// Package agent schedules the long-running tasks: the startup connect loop,
// then the listener and the connectivity supervisor side by side.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/wol-power-agent/internal/services/supervisor"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// StartupRetryDelay is the wait between startup connection attempts.
const StartupRetryDelay = time.Second

// Service defines the interface for the agent.
type Service interface {
	Run(ctx context.Context) error
}

// Runner is a task that runs until ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Supervisor is the part of the connectivity supervisor the agent drives.
type Supervisor interface {
	Connect(ctx context.Context) (bool, error)
	Run(ctx context.Context) error
}

// ListenFunc binds the packet listener. It is called once the link is up.
type ListenFunc func(ctx context.Context) (Runner, error)

// Config holds the agent tasks.
type Config struct {
	Supervisor Supervisor
	Listen     ListenFunc
	// Background tasks start before the first connection attempt, e.g. the
	// notification dispatcher and the metrics server.
	Background []Runner
	RetryDelay time.Duration
}

// Impl implements the agent Service interface.
type Impl struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a new agent.
func New(logger zerolog.Logger, cfg Config) *Impl {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = StartupRetryDelay
	}
	return &Impl{
		cfg:    cfg,
		logger: logger,
	}
}

// Run connects, then runs the listener and the supervisor until ctx is done
// or a task fails. It returns supervisor.ErrFatalRestart when connectivity
// could not be restored and nil on a clean shutdown.
func (a *Impl) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, r := range a.cfg.Background {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	g.Go(func() error {
		if err := a.connect(gctx); err != nil {
			return err
		}
		if gctx.Err() != nil {
			return nil
		}

		listener, err := a.cfg.Listen(gctx)
		if err != nil {
			return fmt.Errorf("failed to start listener: %w", err)
		}

		a.logger.Info().Msg("agent running")

		g.Go(func() error {
			return listener.Run(gctx)
		})
		return a.cfg.Supervisor.Run(gctx)
	})

	err := g.Wait()
	if errors.Is(err, supervisor.ErrFatalRestart) {
		a.logger.Error().Err(err).Msg("agent stopped")
		return err
	}
	if err != nil {
		return err
	}

	a.logger.Info().Msg("agent stopped")
	return nil
}

// connect retries until the link is up, ctx is done or the supervisor gives
// up.
func (a *Impl) connect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		ok, err := a.cfg.Supervisor.Connect(ctx)
		if errors.Is(err, supervisor.ErrFatalRestart) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if ok {
			a.logger.Info().Int("attempts", attempt).Msg("initial connection established")
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.RetryDelay):
		}
	}
}
