// internal/bus/modbus/link.go
package modbus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/camlink/internal/bus"
)

// Gateway is one Modbus register gateway connection, over TCP or a serial
// line. Several sensors behind the same gateway share it, each through its
// own Link and unit id.
//
// Requests are serialized because the unit id lives on the shared handler.
type Gateway struct {
	mu      sync.Mutex
	handler handler
	client  modbus.Client
	setUnit func(uint8)
}

// handler is the subset of TCP and RTU handlers the gateway drives.
type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Config is minimal transport config.
type Config struct {
	// Endpoint is "modbus-tcp://host:port" or "modbus-rtu:///dev/ttyUSB0".
	Endpoint string
	Timeout  time.Duration
	BaudRate int // RTU only; defaults to 115200
}

// Dial connects to a gateway.
func Dial(cfg Config) (*Gateway, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("bus modbus: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	var (
		h       handler
		setUnit func(uint8)
	)
	switch {
	case strings.HasPrefix(cfg.Endpoint, "modbus-tcp://"):
		th := modbus.NewTCPClientHandler(strings.TrimPrefix(cfg.Endpoint, "modbus-tcp://"))
		th.Timeout = cfg.Timeout
		h, setUnit = th, func(id uint8) { th.SlaveId = id }

	case strings.HasPrefix(cfg.Endpoint, "modbus-rtu://"):
		rh := modbus.NewRTUClientHandler(strings.TrimPrefix(cfg.Endpoint, "modbus-rtu://"))
		rh.BaudRate = cfg.BaudRate
		if rh.BaudRate == 0 {
			rh.BaudRate = 115200
		}
		rh.DataBits = 8
		rh.Parity = "N"
		rh.StopBits = 1
		rh.Timeout = cfg.Timeout
		h, setUnit = rh, func(id uint8) { rh.SlaveId = id }

	default:
		return nil, fmt.Errorf("bus modbus: unsupported endpoint %q", cfg.Endpoint)
	}

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("bus modbus: connect %s: %w", cfg.Endpoint, err)
	}

	return newGateway(h, modbus.NewClient(h), setUnit), nil
}

func newGateway(h handler, c modbus.Client, setUnit func(uint8)) *Gateway {
	return &Gateway{handler: h, client: c, setUnit: setUnit}
}

// Link returns the register link of the device answering as unitID.
func (g *Gateway) Link(unitID uint8) *Link {
	return &Link{gw: g, unitID: unitID}
}

// Close closes the gateway connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handler == nil {
		return nil
	}
	return g.handler.Close()
}

// do runs fn addressed to unitID.
func (g *Gateway) do(unitID uint8, fn func(modbus.Client) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setUnit(unitID)
	return fn(g.client)
}

// Link implements bus.Link for one device behind a gateway.
// Each 16-bit sensor register maps 1:1 onto a holding register;
// the low byte of the holding register carries the 8-bit value.
type Link struct {
	gw     *Gateway
	unitID uint8
}

// ---- bus.Link ----

func (l *Link) Read(addr uint16) (byte, error) {
	var p []byte
	err := l.gw.do(l.unitID, func(c modbus.Client) (err error) {
		p, err = c.ReadHoldingRegisters(addr, 1)
		return err
	})
	if err != nil {
		return 0, bus.ReadError(addr, err)
	}
	if len(p) < 2 {
		return 0, bus.ReadError(addr, errors.New("short read-registers payload"))
	}
	// register is big-endian, value lives in the low byte
	return p[1], nil
}

func (l *Link) Write(addr uint16, val byte) error {
	err := l.gw.do(l.unitID, func(c modbus.Client) error {
		_, err := c.WriteSingleRegister(addr, uint16(val))
		return err
	})
	if err != nil {
		return bus.WriteError(addr, val, err)
	}
	return nil
}

// WriteBurst writes consecutive registers in one request.
func (l *Link) WriteBurst(addr uint16, vals []byte) error {
	if len(vals) == 0 {
		return nil
	}

	err := l.gw.do(l.unitID, func(c modbus.Client) error {
		_, err := c.WriteMultipleRegisters(addr, uint16(len(vals)), packBytes(vals))
		return err
	})
	if err != nil {
		return &bus.Error{Op: "burst", Addr: addr, Err: err}
	}
	return nil
}

// packBytes widens each byte into one big-endian holding register.
func packBytes(vals []byte) []byte {
	out := make([]byte, len(vals)*2)
	for i, v := range vals {
		out[2*i+1] = v
	}
	return out
}
