// internal/config/bus.go
package config

import (
	"fmt"
	"strings"
)

// BusKind selects the register transport.
type BusKind uint8

const (
	BusI2C    BusKind = iota + 1 // local i2c adapter through periph
	BusModbus                    // bench gateway
)

// Bus is a parsed bus string.
type Bus struct {
	Kind BusKind
	// Name is the periph bus name for i2c, the full endpoint for modbus.
	Name string
}

// ParseBus accepts "i2c:<bus>", "modbus-tcp://host:port" and
// "modbus-rtu:///dev/tty...". "i2c:" alone opens the first adapter.
func ParseBus(s string) (Bus, error) {
	switch {
	case strings.HasPrefix(s, "i2c:"):
		return Bus{Kind: BusI2C, Name: strings.TrimPrefix(s, "i2c:")}, nil
	case strings.HasPrefix(s, "modbus-tcp://") && len(s) > len("modbus-tcp://"),
		strings.HasPrefix(s, "modbus-rtu://") && len(s) > len("modbus-rtu://"):
		return Bus{Kind: BusModbus, Name: s}, nil
	}
	return Bus{}, fmt.Errorf("unsupported bus %q", s)
}
