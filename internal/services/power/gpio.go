//go:build linux

package power

import (
	"errors"
	"fmt"

	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/warthog618/go-gpiocdev"
)

// Consumer labels the lines requested by the agent.
const Consumer = "wol-power-agent"

// GPIO owns the character-device lines backing the power controller.
type GPIO struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
	pins  Pins
}

// OpenGPIO requests all lines described by cfg. Outputs start low.
func OpenGPIO(cfg models.GPIOSettings) (*GPIO, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", cfg.Chip, err)
	}

	g := &GPIO{chip: chip}

	output := func(offset int) (*gpiocdev.Line, error) {
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0))
		if err != nil {
			return nil, fmt.Errorf("request output pin %d: %w", offset, err)
		}
		g.lines = append(g.lines, line)
		return line, nil
	}

	if g.pins.Transistor, err = output(cfg.TransistorPin); err != nil {
		return nil, g.closeWith(err)
	}
	if g.pins.Red, err = output(cfg.RedLEDPin); err != nil {
		return nil, g.closeWith(err)
	}
	if g.pins.Green, err = output(cfg.GreenLEDPin); err != nil {
		return nil, g.closeWith(err)
	}
	if g.pins.Blue, err = output(cfg.BlueLEDPin); err != nil {
		return nil, g.closeWith(err)
	}

	sense, err := chip.RequestLine(cfg.DeviceStatePin, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		return nil, g.closeWith(fmt.Errorf("request input pin %d: %w", cfg.DeviceStatePin, err))
	}
	g.lines = append(g.lines, sense)
	g.pins.DeviceState = sense

	return g, nil
}

// Pins returns the requested lines.
func (g *GPIO) Pins() Pins {
	return g.pins
}

// Close releases all lines and the chip.
func (g *GPIO) Close() error {
	var errs []error
	for _, line := range g.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", line.Offset(), err))
		}
	}
	g.lines = nil
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		g.chip = nil
	}
	return errors.Join(errs...)
}

func (g *GPIO) closeWith(err error) error {
	if closeErr := g.Close(); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}
