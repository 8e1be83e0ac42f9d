// Package power drives the button-emulation transistor and the status LEDs,
// and senses whether the monitored device is on.
package power

import (
	"fmt"
	"sync"
	"time"

	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/rs/zerolog"
)

// Press durations.
const (
	PulseDuration    = 500 * time.Millisecond // momentary press, powers the device on
	ForceOffDuration = 5 * time.Second        // long press, forces the device off
)

const blinkInterval = 200 * time.Millisecond

// Indicator patterns.
var (
	PatternConnecting     = models.BlinkPattern{Name: "connecting", Indicator: models.IndicatorStatus, Times: 1, Interval: blinkInterval}
	PatternConnected      = models.BlinkPattern{Name: "connected", Indicator: models.IndicatorStatus, Times: 10, Interval: blinkInterval}
	PatternStillConnected = models.BlinkPattern{Name: "still_connected", Indicator: models.IndicatorStatus, Times: 2, Interval: blinkInterval}
	PatternConnectFailed  = models.BlinkPattern{Name: "connect_failed", Indicator: models.IndicatorFailure, Times: 2, Interval: blinkInterval}
	PatternFatal          = models.BlinkPattern{Name: "fatal", Indicator: models.IndicatorFailure, Times: 10, Interval: blinkInterval}
)

// Service defines the interface for power control operations.
type Service interface {
	Pulse() error
	Press(d time.Duration) error
	Signal(p models.BlinkPattern)
	DeviceState() (models.DeviceState, error)
}

// Pin is a single GPIO line.
type Pin interface {
	SetValue(value int) error
	Value() (int, error)
}

// Pins groups the hardware lines owned by the controller.
type Pins struct {
	Transistor  Pin
	DeviceState Pin
	Red         Pin
	Green       Pin
	Blue        Pin
}

// Impl implements the power Service interface.
type Impl struct {
	pins   Pins
	logger zerolog.Logger
	sleep  func(time.Duration)

	// pressMu gives a press exclusive use of the transistor.
	pressMu sync.Mutex
	// signalMu keeps blink patterns from interleaving.
	signalMu sync.Mutex
}

// New creates a new power controller.
func New(logger zerolog.Logger, pins Pins) *Impl {
	return NewWithSleeper(logger, pins, time.Sleep)
}

// NewWithSleeper creates a new power controller with a custom sleep function (for testing).
func NewWithSleeper(logger zerolog.Logger, pins Pins, sleep func(time.Duration)) *Impl {
	return &Impl{
		pins:   pins,
		logger: logger,
		sleep:  sleep,
	}
}

// Pulse emulates a momentary press of the power button.
func (s *Impl) Pulse() error {
	return s.Press(PulseDuration)
}

// ForceOff holds the power button long enough to force the device off.
func (s *Impl) ForceOff() error {
	return s.Press(ForceOffDuration)
}

// Press holds the power button for d. The transistor is always driven low
// again before Press returns.
func (s *Impl) Press(d time.Duration) (err error) {
	s.pressMu.Lock()
	defer s.pressMu.Unlock()

	s.logger.Info().Dur("duration", d).Msg("pressing power button")

	s.set(s.pins.Green, 1)
	defer func() {
		if lowErr := s.pins.Transistor.SetValue(0); lowErr != nil && err == nil {
			err = fmt.Errorf("failed to release power button: %w", lowErr)
		}
		s.set(s.pins.Green, 0)
	}()

	if err := s.pins.Transistor.SetValue(1); err != nil {
		return fmt.Errorf("failed to press power button: %w", err)
	}
	s.sleep(d)

	return nil
}

// Signal blinks an indicator. Pin errors are logged and otherwise ignored.
func (s *Impl) Signal(p models.BlinkPattern) {
	pin := s.indicator(p.Indicator)
	if pin == nil {
		s.logger.Warn().Str("indicator", p.Indicator.String()).Msg("no pin for indicator")
		return
	}

	s.signalMu.Lock()
	defer s.signalMu.Unlock()

	s.logger.Debug().
		Str("pattern", p.Name).
		Int("times", p.Times).
		Msg("signaling")

	for range p.Times {
		s.set(pin, 1)
		s.sleep(p.Interval)
		s.set(pin, 0)
		s.sleep(p.Interval)
	}
}

// DeviceState reads the device-state input. High means the device is on.
func (s *Impl) DeviceState() (models.DeviceState, error) {
	v, err := s.pins.DeviceState.Value()
	if err != nil {
		return models.DeviceOff, fmt.Errorf("failed to read device state: %w", err)
	}
	if v != 0 {
		return models.DeviceOn, nil
	}
	return models.DeviceOff, nil
}

func (s *Impl) indicator(i models.Indicator) Pin {
	switch i {
	case models.IndicatorStatus:
		return s.pins.Blue
	case models.IndicatorActivity:
		return s.pins.Green
	case models.IndicatorFailure:
		return s.pins.Red
	default:
		return nil
	}
}

func (s *Impl) set(pin Pin, value int) {
	if pin == nil {
		return
	}
	if err := pin.SetValue(value); err != nil {
		s.logger.Warn().Err(err).Int("value", value).Msg("failed to set indicator")
	}
}
