// internal/bus/line_test.go
package bus

import (
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestGPIOLinePolarity(t *testing.T) {
	pin := &gpiotest.Pin{N: "RESET"}

	l := NewGPIOLine("RESET", pin, false)
	if err := l.Set(true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if pin.L != gpio.High {
		t.Fatalf("active-high on: got %v", pin.L)
	}

	inv := NewGPIOLine("RESET", pin, true)
	if err := inv.Set(true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if pin.L != gpio.Low {
		t.Fatalf("active-low on: got %v", pin.L)
	}
}
