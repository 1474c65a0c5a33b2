// internal/serdes/manager.go
package serdes

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tamzrod/camlink/internal/bus"
	"github.com/tamzrod/camlink/internal/fault"
)

const (
	writeSettle = 100 * time.Microsecond
	linkSettle  = 100 * time.Millisecond
)

// Logger defines the logging interface used by the manager.
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

// Config describes one deserializer chip.
type Config struct {
	ID         string
	CSIMode    CSIMode
	MaxSources int
	Power      PowerSequence
}

// Source is a sensor attached through a serializer.
type Source struct {
	ID    string
	Link  Link
	Lanes int
	Port  Port
}

// Manager owns one deserializer chip shared by several sensors: its power
// reference count, its one-time link and lane setup, and its source table.
//
// Every operation runs to completion under the chip's lock. Operations on
// different chips never contend.
type Manager struct {
	mu sync.Mutex

	cfg    Config
	link   bus.Link
	sleep  bus.Sleeper
	logger Logger

	refs      int
	linkSetup bool
	laneSetup bool

	sources  []Source
	controls int // sources through setup_control
	found    int
	splitter bool
	srcLink  Link
}

// New creates a manager for the chip behind link.
func New(cfg Config, link bus.Link) (*Manager, error) {
	if link == nil {
		return nil, errors.New("serdes: nil link")
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 1
	}
	if cfg.MaxSources > MaxSources {
		return nil, fault.Configuration("serdes %s: max sources %d exceeds %d", cfg.ID, cfg.MaxSources, MaxSources)
	}
	return &Manager{
		cfg:    cfg,
		link:   link,
		sleep:  time.Sleep,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(l Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = l
}

// SetSleeper replaces the settle wait.
func (m *Manager) SetSleeper(s bus.Sleeper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleep = s
}

// ID is the chip's configured id.
func (m *Manager) ID() string { return m.cfg.ID }

// ------------------------------------------------------------
// Power
// ------------------------------------------------------------

// PowerOn takes a power reference. The first reference runs the up
// sequence; if it fails the count is not taken and the chip stays off.
func (m *Manager) PowerOn() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 {
		m.logger.Debug("serdes power up", "link", m.cfg.ID)
		if err := runUp(m.cfg.Power.Up, m.sleep); err != nil {
			m.logger.Error("serdes power up failed", "link", m.cfg.ID, "err", err)
			return err
		}
	}
	m.refs++
	return nil
}

// PowerOff drops a power reference. The last reference runs the down
// sequence and clears link and lane setup. Dropping a reference that was
// never taken is a programming error.
func (m *Manager) PowerOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 {
		err := fault.Programming("serdes %s: power off without matching power on", m.cfg.ID)
		m.logger.Error("serdes power reference underflow", "link", m.cfg.ID)
		return err
	}

	m.refs--
	if m.refs > 0 {
		return nil
	}

	m.logger.Debug("serdes power down", "link", m.cfg.ID)
	m.resetContext()
	if err := runDown(m.cfg.Power.Down, m.sleep); err != nil {
		m.logger.Warn("serdes power down incomplete", "link", m.cfg.ID, "err", err)
		return err
	}
	return nil
}

// RefCount is the number of outstanding power references.
func (m *Manager) RefCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// Powered reports whether any reference is outstanding.
func (m *Manager) Powered() bool { return m.RefCount() > 0 }

// LinkSetup reports whether the GMSL link has been configured since the
// last reset.
func (m *Manager) LinkSetup() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.linkSetup
}

// LaneSetup reports whether the CSI lane map has been programmed since the
// last reset.
func (m *Manager) LaneSetup() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.laneSetup
}

// ------------------------------------------------------------
// Sources
// ------------------------------------------------------------

// Attach registers a source. All sources on one chip must use distinct GMSL
// links and the same lane count.
func (m *Manager) Attach(src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sources) >= m.cfg.MaxSources {
		return fault.Configuration("serdes %s: inputs exhausted (%d)", m.cfg.ID, m.cfg.MaxSources)
	}
	if !m.cfg.CSIMode.lanesSupported(src.Lanes) {
		return fault.Configuration("serdes %s: %d lanes not supported in csi mode %s", m.cfg.ID, src.Lanes, m.cfg.CSIMode)
	}
	if _, ok := src.Port.laneCtrl(); !ok {
		return fault.Configuration("serdes %s: invalid csi port %d", m.cfg.ID, src.Port)
	}
	for _, s := range m.sources {
		if s.ID == src.ID {
			return fault.Programming("serdes %s: source %s attached twice", m.cfg.ID, src.ID)
		}
		if s.Link == src.Link {
			return fault.Configuration("serdes %s: gmsl link %s in use by %s", m.cfg.ID, src.Link, s.ID)
		}
		if s.Lanes != src.Lanes {
			return fault.Configuration("serdes %s: lane count %d mismatches %s (%d)", m.cfg.ID, src.Lanes, s.ID, s.Lanes)
		}
	}

	m.sources = append(m.sources, src)
	m.logger.Debug("serdes source attached", "link", m.cfg.ID, "source", src.ID, "gmsl_link", src.Link.String())
	return nil
}

// Detach removes a source. Removing the last one clears setup state.
func (m *Manager) Detach(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.sources {
		if s.ID == id {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			if len(m.sources) == 0 {
				m.resetContext()
			}
			m.logger.Debug("serdes source detached", "link", m.cfg.ID, "source", id)
			return nil
		}
	}
	return fault.Programming("serdes %s: detach of unknown source %s", m.cfg.ID, id)
}

// Sources returns the attached sources in attach order.
func (m *Manager) Sources() []Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Source, len(m.sources))
	copy(out, m.sources)
	return out
}

// ------------------------------------------------------------
// One-time setup
// ------------------------------------------------------------

// GMSLSetup writes the receiver configuration.
func (m *Manager) GMSLSetup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requirePower("gmsl setup"); err != nil {
		return err
	}
	return m.writeTable(gmslSetup)
}

// SetupLinkOnce selects the GMSL link of source id. Later calls are no-ops
// until the chip is reset or fully powered down.
func (m *Manager) SetupLinkOnce(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.source(id)
	if err != nil {
		return err
	}
	if err := m.requirePower("link setup"); err != nil {
		return err
	}
	if m.linkSetup || m.splitter {
		return nil
	}
	if err := m.writeLink(src.Link); err != nil {
		return err
	}
	m.linkSetup = true
	return nil
}

// SetupLanesOnce programs the CSI lane map. Later calls are no-ops until
// the chip is reset or fully powered down.
func (m *Manager) SetupLanesOnce() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requirePower("lane setup"); err != nil {
		return err
	}
	return m.setupLanes()
}

// SetupControl enables video pipe routing for source id. When more than one
// serializer is found the chip switches to splitter mode; once every source
// has been set up with fewer serializers found than inputs, it falls back
// to the single link that was found.
func (m *Manager) SetupControl(id string, serializerFound bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.source(id)
	if err != nil {
		return err
	}
	if !m.linkSetup {
		return fault.Programming("serdes %s: control setup before link setup", m.cfg.ID)
	}

	if serializerFound {
		m.found++
		m.srcLink = src.Link
	}

	if m.cfg.MaxSources > 1 && m.found > 1 && !m.splitter {
		if err := m.write(regCtrl0, ctrl0Split1); err != nil {
			return err
		}
		if err := m.write(regCtrl0, ctrl0Split2); err != nil {
			return err
		}
		m.splitter = true
		m.sleep(linkSettle)
	}

	m.controls++

	if m.controls == m.cfg.MaxSources && m.splitter && m.found > 0 && m.found < m.cfg.MaxSources {
		if err := m.writeLink(m.srcLink); err != nil {
			return err
		}
		m.splitter = false
	}

	return m.writeTable(controlSetup)
}

// ResetControl undoes SetupControl. The last source resets the chip and its
// setup state.
func (m *Manager) ResetControl(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.source(id); err != nil {
		return err
	}
	if m.controls == 0 {
		m.logger.Info("serdes already in reset state", "link", m.cfg.ID)
		return nil
	}

	m.controls--
	if m.controls > 0 {
		return nil
	}

	m.resetContext()
	if err := m.write(regCtrl0, ctrl0ResetAll); err != nil {
		return err
	}
	m.sleep(linkSettle)
	return nil
}

// ------------------------------------------------------------
// Streaming
// ------------------------------------------------------------

// SetupStreaming programs the lane control of source id's port, the lane
// map (once) and the PHY rate.
func (m *Manager) SetupStreaming(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.source(id)
	if err != nil {
		return err
	}
	if err := m.requirePower("streaming setup"); err != nil {
		return err
	}

	addr, _ := src.Port.laneCtrl()
	if err := m.write(addr, laneCtrlValue(src.Lanes)); err != nil {
		return err
	}
	if err := m.setupLanes(); err != nil {
		return err
	}

	rate := byte(0x09)
	if src.Lanes == 4 {
		rate = 0x19
	}
	return m.write(regPhyRate, rate)
}

// StartStreaming restarts video pipe Y for source id.
func (m *Manager) StartStreaming(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.source(id); err != nil {
		return err
	}
	if err := m.write(regPipeY, 0x30); err != nil {
		return err
	}
	m.sleep(linkSettle)
	return m.write(regPipeY, 0x31)
}

// StopStreaming validates source id; the pipe keeps running for siblings.
func (m *Manager) StopStreaming(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.source(id)
	return err
}

// SetupSync routes the frame sync GPIO toward (output) or from (input) the
// serializer.
func (m *Manager) SetupSync(output bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vals := []byte{0x80 | gpioOutDis | gpioTxEn, 0x70, 0x40}
	if output {
		vals = []byte{0x80 | gpioRxEn, 0xA0, 0x70}
	}
	for i, addr := range []uint16{regXVSCtrl0, regXVSCtrl1, regXVSCtrl2} {
		if err := m.write(addr, vals[i]); err != nil {
			return err
		}
	}
	return nil
}

// ------------------------------------------------------------
// internals (m.mu held)
// ------------------------------------------------------------

func (m *Manager) source(id string) (Source, error) {
	for _, s := range m.sources {
		if s.ID == id {
			return s, nil
		}
	}
	return Source{}, fault.Programming("serdes %s: unknown source %s", m.cfg.ID, id)
}

func (m *Manager) requirePower(op string) error {
	if m.refs == 0 {
		return fault.Programming("serdes %s: %s while powered off", m.cfg.ID, op)
	}
	return nil
}

func (m *Manager) setupLanes() error {
	if m.laneSetup {
		return nil
	}
	mp1, mp2 := m.cfg.CSIMode.laneMap()
	if err := m.write(regLaneMap1, mp1); err != nil {
		return err
	}
	if err := m.write(regLaneMap2, mp2); err != nil {
		return err
	}
	m.laneSetup = true
	return nil
}

func (m *Manager) writeLink(l Link) error {
	var err error
	switch l {
	case LinkA:
		err = m.write(regCtrl0, ctrl0LinkA)
	case LinkB:
		err = m.write(regCtrl0, ctrl0LinkB1)
		if err == nil {
			err = m.write(regCtrl0, ctrl0LinkB2)
		}
	default:
		return fault.Configuration("serdes %s: invalid gmsl link %d", m.cfg.ID, l)
	}
	if err != nil {
		return err
	}
	m.sleep(linkSettle)
	return nil
}

func (m *Manager) resetContext() {
	m.linkSetup = false
	m.laneSetup = false
	m.found = 0
	m.splitter = false
	m.srcLink = LinkA
	m.controls = 0
}

func (m *Manager) write(addr uint16, val byte) error {
	if err := m.link.Write(addr, val); err != nil {
		m.logger.Error("serdes write failed", "link", m.cfg.ID, "addr", fmt.Sprintf("0x%04x", addr), "value", val, "err", err)
		return err
	}
	m.sleep(writeSettle)
	return nil
}

func (m *Manager) writeTable(t bus.Table) error {
	return bus.WriteTable(settledLink{m}, t, m.sleep)
}

// settledLink inserts the per-write settle time. Not a bus.BulkWriter.
type settledLink struct{ m *Manager }

func (s settledLink) Read(addr uint16) (byte, error)   { return s.m.link.Read(addr) }
func (s settledLink) Write(addr uint16, val byte) error { return s.m.write(addr, val) }
