// internal/broadcast/coordinator.go
package broadcast

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tamzrod/camlink/internal/registry"
)

// Role selects whether a device's timing writes go to its own address or to
// the shared secondary (broadcast) address.
type Role uint8

const (
	RoleUnicast Role = iota
	RoleBroadcast
)

func (r Role) String() string {
	if r == RoleBroadcast {
		return "broadcast"
	}
	return "unicast"
}

// ParseRole parses "unicast" or "broadcast". Empty means unicast.
func ParseRole(s string) (Role, error) {
	switch s {
	case "", "unicast":
		return RoleUnicast, nil
	case "broadcast":
		return RoleBroadcast, nil
	}
	return RoleUnicast, fmt.Errorf("broadcast: unknown role %q", s)
}

// Secondary address register values.
const (
	SecondaryDisabled    byte = 0x00
	SecondaryEnabled     byte = 0x01 // listens on the broadcast address
	SecondaryAcknowledge byte = 0x03 // listens and acknowledges
)

// Device is a broadcast participant. Every method is called with the
// device locked.
type Device interface {
	registry.Member
	ID() string
	Role() Role
	WriteSecondaryAddress(v byte) error
}

// Logger defines the logging interface used by the coordinator.
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

// Result describes one election pass.
type Result struct {
	Elected    string // device id, empty when no broadcaster is powered
	Configured int
	Failed     int
}

// Coordinator elects the broadcast acknowledger among the powered devices of
// one registry and programs every powered device's secondary address.
//
// A pass is not atomic across devices. Devices that power off mid-pass are
// skipped; a failed write is logged and does not stop the pass.
type Coordinator[T Device] struct {
	mu     sync.Mutex // one pass at a time
	reg    *registry.Registry[T]
	logger Logger
}

// New creates a coordinator over reg.
func New[T Device](reg *registry.Registry[T]) *Coordinator[T] {
	return &Coordinator[T]{reg: reg, logger: noopLogger{}}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator[T]) SetLogger(l Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = l
}

// ElectAndConfigure runs one election pass. Call it after any device's role
// or power state changes, without holding any device lock.
//
// The returned error joins the per-device write failures; siblings already
// configured are not rolled back.
func (c *Coordinator[T]) ElectAndConfigure() (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res Result

	h, _, found := c.reg.FindPowered(func(d T) bool {
		if d.Role() != RoleBroadcast {
			return false
		}
		res.Elected = d.ID()
		return true
	})

	value := SecondaryDisabled
	if found {
		value = SecondaryEnabled
	}

	var errs []error
	_ = c.reg.ForEachPowered(func(_ registry.Handle, d T) error {
		if err := d.WriteSecondaryAddress(value); err != nil {
			c.logger.Warn("secondary address write failed", "device", d.ID(), "value", value, "err", err)
			errs = append(errs, fmt.Errorf("broadcast: device %s: %w", d.ID(), err))
			res.Failed++
			return nil
		}
		res.Configured++
		return nil
	})

	if found {
		err := c.reg.With(h, func(d T) error {
			if !d.Powered() {
				return registry.ErrGone
			}
			return d.WriteSecondaryAddress(SecondaryAcknowledge)
		})
		switch {
		case errors.Is(err, registry.ErrGone):
			c.logger.Warn("elected broadcaster went away before acknowledge", "device", res.Elected)
			res.Elected = ""
		case err != nil:
			c.logger.Warn("acknowledge write failed", "device", res.Elected, "err", err)
			errs = append(errs, fmt.Errorf("broadcast: acknowledger %s: %w", res.Elected, err))
		}
	}

	c.logger.Debug("broadcast election",
		"elected", res.Elected, "configured", res.Configured, "failed", res.Failed)

	return res, errors.Join(errs...)
}

// Elected reports the device that would win an election now, without
// writing anything.
func (c *Coordinator[T]) Elected() (registry.Handle, bool) {
	h, _, ok := c.reg.FindPowered(func(d T) bool { return d.Role() == RoleBroadcast })
	return h, ok
}
