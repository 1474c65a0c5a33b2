// internal/bus/link.go
package bus

import (
	"fmt"
	"time"

	"github.com/tamzrod/camlink/internal/fault"
)

// Link executes single-byte register transactions against one device's
// 16-bit register space. One bus transaction per call, no atomicity across
// calls, no retries.
type Link interface {
	Read(addr uint16) (byte, error)
	Write(addr uint16, val byte) error
}

// BulkWriter is implemented by links that can write consecutive registers
// in one bus transaction. vals[i] lands at addr+i.
type BulkWriter interface {
	WriteBurst(addr uint16, vals []byte) error
}

// Closer is implemented by links backed by an OS handle.
type Closer interface {
	Close() error
}

// Sleeper blocks for a hardware settle duration.
type Sleeper func(time.Duration)

// Error is a failed register transaction.
// It always satisfies errors.Is(err, fault.ErrBus).
type Error struct {
	Op    string // "read", "write", "burst"
	Addr  uint16
	Value byte
	Err   error
}

func (e *Error) Error() string {
	switch e.Op {
	case "write":
		return fmt.Sprintf("bus: write 0x%04x = 0x%02x: %v", e.Addr, e.Value, e.Err)
	default:
		return fmt.Sprintf("bus: %s 0x%04x: %v", e.Op, e.Addr, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports membership in the bus error category.
func (e *Error) Is(target error) bool { return target == fault.ErrBus }

// ReadError wraps a read failure.
func ReadError(addr uint16, err error) error {
	return &Error{Op: "read", Addr: addr, Err: err}
}

// WriteError wraps a write failure.
func WriteError(addr uint16, val byte, err error) error {
	return &Error{Op: "write", Addr: addr, Value: val, Err: err}
}
