// internal/rig/open.go
package rig

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/tamzrod/camlink/internal/bus"
	busmodbus "github.com/tamzrod/camlink/internal/bus/modbus"
	"github.com/tamzrod/camlink/internal/config"
)

// Opener acquires hardware endpoints.
type Opener interface {
	// Link opens a register link to addr on b.
	Link(b config.Bus, addr uint16) (bus.Link, error)
	// Line resolves a control output by pin name.
	Line(name string, activeLow bool) (bus.Line, error)
	// Close releases everything opened.
	Close() error
}

// HostOpener opens periph i2c buses and GPIO pins and Modbus gateways.
// Each i2c bus and each gateway is opened once and shared by every address
// on it.
type HostOpener struct {
	Timeout time.Duration // modbus gateway timeout

	mu       sync.Mutex
	buses    map[string]i2c.BusCloser
	gateways map[string]*busmodbus.Gateway
	closers  []io.Closer
}

func (o *HostOpener) Link(b config.Bus, addr uint16) (bus.Link, error) {
	switch b.Kind {
	case config.BusI2C:
		ib, err := o.i2c(b.Name)
		if err != nil {
			return nil, err
		}
		return bus.NewI2CLink(ib, addr), nil

	case config.BusModbus:
		gw, err := o.gateway(b.Name)
		if err != nil {
			return nil, err
		}
		return gw.Link(uint8(addr)), nil
	}
	return nil, fmt.Errorf("rig: unsupported bus kind %d", b.Kind)
}

func (o *HostOpener) i2c(name string) (i2c.Bus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if b, ok := o.buses[name]; ok {
		return b, nil
	}
	if err := bus.InitHost(); err != nil {
		return nil, err
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("rig: open i2c %q: %w", name, err)
	}
	if o.buses == nil {
		o.buses = make(map[string]i2c.BusCloser)
	}
	o.buses[name] = b
	o.closers = append(o.closers, b)
	return b, nil
}

func (o *HostOpener) gateway(endpoint string) (*busmodbus.Gateway, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if gw, ok := o.gateways[endpoint]; ok {
		return gw, nil
	}
	gw, err := busmodbus.Dial(busmodbus.Config{Endpoint: endpoint, Timeout: o.Timeout})
	if err != nil {
		return nil, fmt.Errorf("rig: %w", err)
	}
	if o.gateways == nil {
		o.gateways = make(map[string]*busmodbus.Gateway)
	}
	o.gateways[endpoint] = gw
	o.closers = append(o.closers, gw)
	return gw, nil
}

func (o *HostOpener) Line(name string, activeLow bool) (bus.Line, error) {
	if name == "" {
		return bus.NopLine{}, nil
	}
	return bus.OpenGPIO(name, activeLow)
}

func (o *HostOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i].Close())
	}
	o.closers = nil
	o.buses = nil
	o.gateways = nil
	return errors.Join(errs...)
}
