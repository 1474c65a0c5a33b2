// internal/writer/types.go
package writer

import "github.com/tamzrod/camlink/internal/monitor"

// StatusPlan is the fully-built status destination of one sensor.
type StatusPlan struct {
	SensorID   string
	Endpoint   string
	UnitID     uint8
	BaseSlot   uint16 // block index; the register address is BaseSlot * SlotsPerDevice
	DeviceName string
}

// Plan is the status write plan of one rig.
type Plan struct {
	Status []StatusPlan
}

// Writer delivers samples into status memory.
type Writer interface {
	Write(s monitor.Sample) error
}

// endpointClient is the exact contract the writers use.
type endpointClient interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// Logger defines the logging interface used by the writer loop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
