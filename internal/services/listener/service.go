// Package listener receives Wake-on-LAN magic packets and presses the power
// button of the monitored device when it is off.
package listener

import (
	"context"
	"net"
	"time"

	"github.com/fgeck/wol-power-agent/internal/metrics"
	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/fgeck/wol-power-agent/internal/services/power"
	"github.com/rs/zerolog"
)

// Service defines the interface for the magic packet listener.
type Service interface {
	Run(ctx context.Context) error
	Handle(ctx context.Context, d Datagram) Outcome
}

// StateReader exposes the supervisor's connectivity state for log context.
type StateReader interface {
	State() models.ConnectivityState
}

// Notifier receives agent events.
type Notifier interface {
	Notify(ctx context.Context, ev models.Event)
}

// Outcome is the result of handling one datagram.
type Outcome int

// Outcomes.
const (
	OutcomeRejected Outcome = iota // not a magic packet for our target
	OutcomeIgnored                 // valid packet, device already on
	OutcomePulsed                  // valid packet, power button pressed
	OutcomeFailed                  // valid packet, device state or press failed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeIgnored:
		return "ignored"
	case OutcomePulsed:
		return "pulsed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the listener collaborators.
type Config struct {
	Target       net.HardwareAddr
	Receiver     Receiver
	Power        power.Service
	State        StateReader      // optional
	Notifier     Notifier         // optional
	Metrics      *metrics.Metrics // optional
	ErrorBackoff time.Duration    // wait after a receive error
}

// Impl implements the listener Service interface.
type Impl struct {
	target       net.HardwareAddr
	receiver     Receiver
	power        power.Service
	state        StateReader
	notifier     Notifier
	metrics      *metrics.Metrics
	errorBackoff time.Duration
	logger       zerolog.Logger
}

// New creates a new listener.
func New(logger zerolog.Logger, cfg Config) *Impl {
	backoff := cfg.ErrorBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Impl{
		target:       cfg.Target,
		receiver:     cfg.Receiver,
		power:        cfg.Power,
		state:        cfg.State,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		errorBackoff: backoff,
		logger:       logger,
	}
}

// Run polls the receiver until ctx is done and closes it on return. Receive
// errors are logged and never end the loop.
func (s *Impl) Run(ctx context.Context) error {
	defer func() {
		if err := s.receiver.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close receiver")
		}
	}()

	s.logger.Info().
		Str("mac", s.target.String()).
		Msg("listening for Wake-on-LAN magic packets")

	for {
		if ctx.Err() != nil {
			return nil
		}

		d, ok, err := s.receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error().Err(err).Msg("error receiving magic packet")
			s.metrics.ReceiveError()

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.errorBackoff):
			}
			continue
		}
		if !ok {
			continue
		}

		s.Handle(ctx, d)
	}
}

// Handle validates one datagram and pulses the power button if it is a magic
// packet for the target and the device is off.
func (s *Impl) Handle(ctx context.Context, d Datagram) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("recovered while handling datagram")
			outcome = OutcomeFailed
		}
	}()

	from := "unknown"
	if d.From != nil {
		from = d.From.String()
	}

	if !IsMagicPacket(d.Payload, s.target) {
		s.logger.Debug().
			Int("bytes", len(d.Payload)).
			Str("from", from).
			Msg("ignoring datagram")
		s.metrics.PacketReceived(false)
		return OutcomeRejected
	}
	s.metrics.PacketReceived(true)

	logger := s.logger.With().
		Str("mac", s.target.String()).
		Str("from", from).
		Logger()
	if s.state != nil {
		logger = logger.With().Str("link", s.state.State().String()).Logger()
	}

	logger.Info().Msg("received magic packet")

	state, err := s.power.DeviceState()
	if err != nil {
		logger.Error().Err(err).Msg("cannot read device state, not pressing power button")
		return OutcomeFailed
	}

	if state == models.DeviceOn {
		logger.Info().Msg("device is already on, ignoring magic packet")
		return OutcomeIgnored
	}

	logger.Info().Msg("device is off, pressing power button")
	if err := s.power.Pulse(); err != nil {
		logger.Error().Err(err).Msg("failed to press power button")
		s.metrics.PowerPulse(false)
		return OutcomeFailed
	}
	s.metrics.PowerPulse(true)

	if s.notifier != nil {
		s.notifier.Notify(ctx, models.Event{
			Kind:      models.EventPowerPulse,
			Time:      time.Now(),
			TargetMAC: s.target.String(),
			Source:    from,
			Message:   "magic packet received, power button pressed",
		})
	}

	return OutcomePulsed
}
