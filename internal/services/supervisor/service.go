// Package supervisor keeps the Wi-Fi link up and escalates to a full restart
// after too many consecutive connection failures.
package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/fgeck/wol-power-agent/internal/metrics"
	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/fgeck/wol-power-agent/internal/services/power"
	"github.com/rs/zerolog"
)

// ErrFatalRestart is returned once the failure threshold has been reached and
// the restart has been requested.
var ErrFatalRestart = errors.New("connectivity lost, fatal restart")

const (
	defaultConnectTimeout = 30 * time.Second
	restartTimeout        = 30 * time.Second
)

// Service defines the interface for the connectivity supervisor.
type Service interface {
	Connect(ctx context.Context) (bool, error)
	Check(ctx context.Context) error
	Run(ctx context.Context) error
	State() models.ConnectivityState
}

// Network brings the link up and reports its status.
type Network interface {
	Connect(ctx context.Context, req models.ConnectRequest) error
	Connected(ctx context.Context, iface string) (bool, error)
}

// Restarter carries out a fatal restart.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Signaler shows a blink pattern on the indicators.
type Signaler interface {
	Signal(p models.BlinkPattern)
}

// Notifier receives agent events.
type Notifier interface {
	Notify(ctx context.Context, ev models.Event)
}

// Config holds the supervisor collaborators and limits.
type Config struct {
	Network        Network
	Signaler       Signaler
	Restarter      Restarter        // nil leaves the restart to the service manager
	Notifier       Notifier         // optional
	Metrics        *metrics.Metrics // optional
	Request        models.ConnectRequest
	TargetMAC      string
	CheckInterval  time.Duration
	FailThreshold  int
	ConnectTimeout time.Duration
}

// Impl implements the supervisor Service interface.
type Impl struct {
	cfg    Config
	logger zerolog.Logger

	state atomic.Int32
	// failures is only touched by the goroutine driving Connect and Check.
	failures int
}

// New creates a new supervisor in the disconnected state.
func New(logger zerolog.Logger, cfg Config) *Impl {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.FailThreshold < 1 {
		cfg.FailThreshold = 1
	}
	s := &Impl{
		cfg:    cfg,
		logger: logger.With().Str("ssid", cfg.Request.SSID).Logger(),
	}
	s.setState(models.StateDisconnected)
	return s
}

// State returns the current connectivity state. Safe for concurrent use.
func (s *Impl) State() models.ConnectivityState {
	return models.ConnectivityState(s.state.Load())
}

// Failures returns the number of consecutive failed connection attempts.
func (s *Impl) Failures() int {
	return s.failures
}

func (s *Impl) setState(state models.ConnectivityState) {
	s.state.Store(int32(state))
	s.cfg.Metrics.SetState(state)
}

// Connect makes one connection attempt bounded by the connect timeout. It
// reports whether the link is up. Once the failure threshold is reached the
// restart is requested and ErrFatalRestart is returned; every later call
// returns it immediately.
func (s *Impl) Connect(ctx context.Context) (bool, error) {
	if s.State() == models.StateFatalRestartPending {
		return false, ErrFatalRestart
	}

	s.setState(models.StateConnecting)
	s.cfg.Signaler.Signal(power.PatternConnecting)
	s.logger.Info().
		Int("failures", s.failures).
		Dur("timeout", s.cfg.ConnectTimeout).
		Msg("connecting")

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	err := s.cfg.Network.Connect(attemptCtx, s.cfg.Request)
	cancel()

	if err == nil {
		s.failures = 0
		s.cfg.Metrics.ConnectAttempt(true)
		s.cfg.Metrics.SetFailures(0)
		s.setState(models.StateConnected)
		s.logger.Info().Msg("connected")
		s.cfg.Signaler.Signal(power.PatternConnected)
		s.notify(ctx, models.EventConnected, "connected to "+s.cfg.Request.SSID)
		return true, nil
	}

	// Shutting down is not a failed attempt.
	if ctx.Err() != nil {
		s.setState(models.StateDisconnected)
		return false, ctx.Err()
	}

	s.failures++
	s.cfg.Metrics.ConnectAttempt(false)
	s.cfg.Metrics.SetFailures(s.failures)
	s.logger.Warn().
		Err(err).
		Int("failures", s.failures).
		Int("threshold", s.cfg.FailThreshold).
		Msg("connection attempt failed")
	s.cfg.Signaler.Signal(power.PatternConnectFailed)
	s.notify(ctx, models.EventConnectionFailed, err.Error())

	if s.failures >= s.cfg.FailThreshold {
		return false, s.fatal(ctx)
	}

	s.setState(models.StateDisconnected)
	return false, nil
}

// Check verifies the link once. A dropped link is reconnected immediately.
func (s *Impl) Check(ctx context.Context) error {
	switch s.State() {
	case models.StateFatalRestartPending:
		return ErrFatalRestart
	case models.StateConnected:
		checkCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		up, err := s.cfg.Network.Connected(checkCtx, s.cfg.Request.Interface)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn().Err(err).Msg("cannot query link status, assuming it is down")
		}
		if err == nil && up {
			s.logger.Debug().Msg("still connected")
			s.cfg.Signaler.Signal(power.PatternStillConnected)
			return nil
		}

		s.logger.Warn().Msg("link lost")
		s.setState(models.StateDisconnected)
	}

	_, err := s.Connect(ctx)
	if errors.Is(err, ErrFatalRestart) {
		return err
	}
	return nil
}

// Run checks the link every check interval until ctx is done or a fatal
// restart has been triggered.
func (s *Impl) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.CheckInterval).
		Int("threshold", s.cfg.FailThreshold).
		Msg("supervising connectivity")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.CheckInterval):
		}

		if err := s.Check(ctx); err != nil {
			return err
		}
	}
}

func (s *Impl) fatal(ctx context.Context) error {
	s.setState(models.StateFatalRestartPending)
	s.cfg.Metrics.FatalRestart()
	s.logger.Error().
		Int("failures", s.failures).
		Msg("failure threshold reached, restarting")

	s.cfg.Signaler.Signal(power.PatternFatal)
	s.notify(ctx, models.EventFatalRestart, "too many failed connection attempts, restarting")

	if s.cfg.Restarter != nil {
		restartCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restartTimeout)
		defer cancel()
		if err := s.cfg.Restarter.Restart(restartCtx); err != nil {
			s.logger.Error().Err(err).Msg("restart failed, exiting instead")
		}
	}

	return ErrFatalRestart
}

func (s *Impl) notify(ctx context.Context, kind models.EventKind, msg string) {
	if s.cfg.Notifier == nil {
		return
	}
	s.cfg.Notifier.Notify(ctx, models.Event{
		Kind:      kind,
		Time:      time.Now(),
		TargetMAC: s.cfg.TargetMAC,
		Failures:  s.failures,
		Threshold: s.cfg.FailThreshold,
		Message:   msg,
	})
}
