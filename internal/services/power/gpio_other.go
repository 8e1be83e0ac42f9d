//go:build !linux

package power

import (
	"errors"

	"github.com/fgeck/wol-power-agent/internal/models"
)

// GPIO is only available on Linux.
type GPIO struct{}

// OpenGPIO always fails on platforms without the GPIO character device.
func OpenGPIO(_ models.GPIOSettings) (*GPIO, error) {
	return nil, errors.New("GPIO character device requires linux")
}

// Pins returns no lines.
func (g *GPIO) Pins() Pins {
	return Pins{}
}

// Close is a no-op.
func (g *GPIO) Close() error {
	return nil
}
