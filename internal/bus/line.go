// internal/bus/line.go
package bus

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Line is a binary control output: a reset pin, a rail enable.
type Line interface {
	Set(on bool) error
}

// NopLine is a Line for hardware sequenced elsewhere.
type NopLine struct{}

func (NopLine) Set(bool) error { return nil }

// GPIOLine drives a periph GPIO pin.
type GPIOLine struct {
	name      string
	pin       gpio.PinOut
	activeLow bool
}

// OpenGPIO looks up a pin by name ("GPIO17", "P9_12", ...).
func OpenGPIO(name string, activeLow bool) (*GPIOLine, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("bus gpio: no pin %q", name)
	}
	return &GPIOLine{name: name, pin: p, activeLow: activeLow}, nil
}

// NewGPIOLine wraps an already resolved pin.
func NewGPIOLine(name string, pin gpio.PinOut, activeLow bool) *GPIOLine {
	return &GPIOLine{name: name, pin: pin, activeLow: activeLow}
}

func (l *GPIOLine) Set(on bool) error {
	lvl := gpio.Level(on != l.activeLow)
	if err := l.pin.Out(lvl); err != nil {
		return fmt.Errorf("bus gpio %s: set %v: %w", l.name, on, err)
	}
	return nil
}
