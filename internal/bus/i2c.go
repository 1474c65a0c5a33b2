// internal/bus/i2c.go
package bus

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/host/v3"
)

var hostInit sync.Once
var hostErr error

// I2CLink is a Link over an I2C bus.
// Every transaction starts with a big-endian 16-bit register address.
type I2CLink struct {
	dev *i2c.Dev
}

// InitHost loads the periph host drivers. Safe to call repeatedly.
func InitHost() error {
	hostInit.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return fmt.Errorf("bus: host init: %w", hostErr)
	}
	return nil
}

// NewI2CLink addresses one device on an open bus. The caller keeps
// ownership of b; several links may share it.
func NewI2CLink(b i2c.Bus, addr uint16) *I2CLink {
	return &I2CLink{dev: &i2c.Dev{Bus: b, Addr: addr}}
}

func (l *I2CLink) Read(addr uint16) (byte, error) {
	var r [1]byte
	if err := l.dev.Tx([]byte{byte(addr >> 8), byte(addr)}, r[:]); err != nil {
		return 0, ReadError(addr, err)
	}
	return r[0], nil
}

func (l *I2CLink) Write(addr uint16, val byte) error {
	if err := l.dev.Tx([]byte{byte(addr >> 8), byte(addr), val}, nil); err != nil {
		return WriteError(addr, val, err)
	}
	return nil
}

// WriteBurst writes vals to consecutive registers starting at addr.
func (l *I2CLink) WriteBurst(addr uint16, vals []byte) error {
	if len(vals) == 0 {
		return nil
	}
	w := make([]byte, 0, 2+len(vals))
	w = append(w, byte(addr>>8), byte(addr))
	w = append(w, vals...)
	if err := l.dev.Tx(w, nil); err != nil {
		return &Error{Op: "burst", Addr: addr, Err: err}
	}
	return nil
}
