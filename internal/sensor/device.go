// internal/sensor/device.go
package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tamzrod/camlink/internal/broadcast"
	"github.com/tamzrod/camlink/internal/bus"
	"github.com/tamzrod/camlink/internal/fault"
	"github.com/tamzrod/camlink/internal/grouped"
	"github.com/tamzrod/camlink/internal/serdes"
	"github.com/tamzrod/camlink/internal/timing"
)

// Transport selects how the sensor reaches the host.
type Transport uint8

const (
	TransportMIPI Transport = iota // direct CSI, reset line owned by the sensor
	TransportGMSL                  // through a serializer and a shared deserializer
)

// ParseTransport parses "mipi" or "gmsl".
func ParseTransport(s string) (Transport, error) {
	switch s {
	case "mipi", "":
		return TransportMIPI, nil
	case "gmsl":
		return TransportGMSL, nil
	}
	return 0, fmt.Errorf("sensor: unknown transport %q", s)
}

func (t Transport) String() string {
	if t == TransportGMSL {
		return "gmsl"
	}
	return "mipi"
}

// Elector re-runs the broadcast election. *broadcast.Coordinator
// implements it.
type Elector interface {
	ElectAndConfigure() (broadcast.Result, error)
}

// Logger defines the logging interface used by devices.
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

// Config is the static configuration of one sensor instance.
type Config struct {
	ID         string
	Name       string // exported in the status block
	Descriptor *Descriptor

	Transport Transport
	CSILink   serdes.Link // gmsl only
	CSIPort   serdes.Port // gmsl only

	InckHz   uint64 // zero: descriptor default
	BitDepth int    // zero: descriptor default
	Lanes    int

	Role         broadcast.Role
	Master       bool // drives the frame sync
	ExternalSync bool
}

// Links are the hardware endpoints a device uses.
type Links struct {
	Unicast   bus.Link
	Broadcast bus.Link        // secondary address, optional
	Serdes    *serdes.Manager // gmsl
	Reset     bus.Line        // mipi, optional
}

// Device is one sensor instance. Public operations lock the device; the
// registry and the broadcast coordinator lock it themselves before calling
// Powered, Role, WriteSecondaryAddress and Status.
type Device struct {
	mu sync.Mutex

	cfg  Config
	desc *Descriptor

	link    bus.Link
	hold    *grouped.Hold
	bhold   *grouped.Hold
	model   *timing.Model
	serdes  *serdes.Manager
	reset   bus.Line
	elector Elector

	sleep  bus.Sleeper
	now    func() time.Time
	logger Logger

	powered   bool
	streaming bool
	applied   bool
	role      broadcast.Role
	mode      *ModeSpec

	blackLevel    uint64
	hasBlackLevel bool

	lastErr  error
	errSince time.Time
}

// New builds a device. A gmsl device is attached to its deserializer here
// and detached by Close.
func New(cfg Config, links Links) (*Device, error) {
	desc := cfg.Descriptor
	if desc == nil {
		return nil, errors.New("sensor: nil descriptor")
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		return nil, errors.New("sensor: empty id")
	}
	if links.Unicast == nil {
		return nil, fmt.Errorf("sensor %s: nil register link", cfg.ID)
	}

	if cfg.InckHz == 0 {
		cfg.InckHz = desc.InckHz
	}
	if cfg.BitDepth == 0 {
		cfg.BitDepth = desc.BitDepth
	}
	if !desc.SupportsBitDepth(cfg.BitDepth) {
		return nil, fault.Configuration("sensor %s: %s does not support %d-bit pixels", cfg.ID, desc.Name, cfg.BitDepth)
	}
	if desc.LaneMode.Addr != 0 {
		if _, ok := desc.LaneMode.Values[cfg.Lanes]; !ok {
			return nil, fault.Configuration("sensor %s: %s does not support %d lanes", cfg.ID, desc.Name, cfg.Lanes)
		}
	}
	if cfg.Role == broadcast.RoleBroadcast {
		if err := broadcastCapable(cfg.ID, desc, links.Broadcast); err != nil {
			return nil, err
		}
	}

	hold := grouped.New(links.Unicast, desc.Hold)
	model, err := timing.New(timing.Config{
		Registers: desc.Timing,
		Gain:      desc.Gain,
		InckHz:    cfg.InckHz,
	}, hold)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: %w", cfg.ID, err)
	}

	d := &Device{
		cfg:    cfg,
		desc:   desc,
		link:   links.Unicast,
		hold:   hold,
		model:  model,
		reset:  links.Reset,
		sleep:  time.Sleep,
		now:    time.Now,
		logger: noopLogger{},
		role:   cfg.Role,
	}
	if links.Broadcast != nil {
		d.bhold = grouped.New(links.Broadcast, desc.Hold)
	}
	if d.role == broadcast.RoleBroadcast {
		model.SetTarget(d.bhold)
	}

	switch cfg.Transport {
	case TransportGMSL:
		if links.Serdes == nil {
			return nil, fault.Configuration("sensor %s: gmsl transport without deserializer", cfg.ID)
		}
		if err := links.Serdes.Attach(serdes.Source{
			ID:    cfg.ID,
			Link:  cfg.CSILink,
			Lanes: cfg.Lanes,
			Port:  cfg.CSIPort,
		}); err != nil {
			return nil, fmt.Errorf("sensor %s: %w", cfg.ID, err)
		}
		d.serdes = links.Serdes
	case TransportMIPI:
		if d.reset == nil {
			d.reset = bus.NopLine{}
		}
	default:
		return nil, fault.Configuration("sensor %s: invalid transport %d", cfg.ID, cfg.Transport)
	}

	return d, nil
}

func broadcastCapable(id string, desc *Descriptor, l bus.Link) error {
	if !desc.SupportsBroadcast() {
		return fault.Configuration("sensor %s: %s has no secondary address", id, desc.Name)
	}
	if l == nil {
		return fault.Configuration("sensor %s: broadcast role without broadcast address", id)
	}
	return nil
}

// SetLogger sets the logger for the device and its timing model.
func (d *Device) SetLogger(l Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = l
	d.model.SetLogger(l)
}

// SetSleeper replaces the settle wait.
func (d *Device) SetSleeper(s bus.Sleeper) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sleep = s
}

// SetClock replaces the time source used for error timestamps.
func (d *Device) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// SetElector sets the broadcast election run after power and role changes.
func (d *Device) SetElector(e Elector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elector = e
}

// SetObserver forwards range updates of the timing model.
func (d *Device) SetObserver(o timing.Observer) { d.model.SetObserver(o) }

// ------------------------------------------------------------
// registry / broadcast membership (caller holds the lock)
// ------------------------------------------------------------

// Lock locks the device.
func (d *Device) Lock() { d.mu.Lock() }

// Unlock unlocks the device.
func (d *Device) Unlock() { d.mu.Unlock() }

// ID is immutable and safe to call without the lock.
func (d *Device) ID() string { return d.cfg.ID }

// Powered reports the power state.
func (d *Device) Powered() bool { return d.powered }

// Role reports the broadcast role.
func (d *Device) Role() broadcast.Role { return d.role }

// WriteSecondaryAddress programs the broadcast address enable register.
// Models without one ignore the call.
func (d *Device) WriteSecondaryAddress(v byte) error {
	if !d.desc.SupportsBroadcast() {
		return nil
	}
	if err := d.link.Write(d.desc.SecondaryAddress, v); err != nil {
		d.logger.Warn("secondary address write failed", "device", d.cfg.ID, "value", v, "err", err)
		return err
	}
	return nil
}

// ------------------------------------------------------------
// Power
// ------------------------------------------------------------

// PowerOn powers the sensor and, once unlocked, re-runs the broadcast
// election so the sensor joins the current broadcast group. A failed power
// on leaves the device off.
func (d *Device) PowerOn() error {
	d.mu.Lock()
	if d.powered {
		d.mu.Unlock()
		return nil
	}
	err := d.powerUp()
	if err == nil {
		d.powered = true
		d.logger.Info("sensor powered on", "device", d.cfg.ID)
	}
	d.record(err)
	elector := d.elector
	d.mu.Unlock()

	if err != nil {
		return err
	}
	d.elect(elector)
	return nil
}

func (d *Device) powerUp() error {
	switch d.cfg.Transport {
	case TransportGMSL:
		if err := d.serdes.PowerOn(); err != nil {
			return fmt.Errorf("sensor %s: %w", d.cfg.ID, err)
		}
		if err := d.linkUp(); err != nil {
			return errors.Join(fmt.Errorf("sensor %s: link setup: %w", d.cfg.ID, err), d.serdes.PowerOff())
		}
	default:
		if err := d.reset.Set(true); err != nil {
			return fmt.Errorf("sensor %s: reset: %w", d.cfg.ID, err)
		}
	}
	d.sleep(d.desc.PowerSettle)
	return nil
}

func (d *Device) linkUp() error {
	if !d.serdes.LinkSetup() {
		if err := d.serdes.GMSLSetup(); err != nil {
			return err
		}
	}
	if err := d.serdes.SetupLinkOnce(d.cfg.ID); err != nil {
		return err
	}
	return d.serdes.SetupControl(d.cfg.ID, true)
}

// PowerOff stops streaming, releases the sync outputs and powers the sensor
// down. The device is off afterwards even if a step failed.
func (d *Device) PowerOff() error {
	d.mu.Lock()
	if !d.powered {
		d.mu.Unlock()
		return nil
	}

	var errs []error
	if d.streaming {
		errs = append(errs, d.stopStreaming())
	}
	if d.desc.Sync.DriveAddr != 0 {
		errs = append(errs, d.link.Write(d.desc.Sync.DriveAddr, d.desc.Sync.DriveHiZ))
	}
	switch d.cfg.Transport {
	case TransportGMSL:
		errs = append(errs, d.serdes.ResetControl(d.cfg.ID), d.serdes.PowerOff())
	default:
		errs = append(errs, d.reset.Set(false))
	}

	d.powered = false
	d.applied = false
	d.streaming = false

	err := errors.Join(errs...)
	if err != nil {
		d.logger.Warn("sensor power off incomplete", "device", d.cfg.ID, "err", err)
	} else {
		d.logger.Info("sensor powered off", "device", d.cfg.ID)
	}
	d.record(err)
	elector := d.elector
	d.mu.Unlock()

	d.elect(elector)
	return err
}

// elect runs without the device lock: the coordinator locks every
// powered device, this one included.
func (d *Device) elect(e Elector) {
	if e == nil {
		return
	}
	if _, err := e.ElectAndConfigure(); err != nil {
		d.logger.Warn("broadcast configuration incomplete", "device", d.cfg.ID, "err", err)
	}
}

// SetRole changes the broadcast role. A broadcaster commits its timing
// registers through the broadcast address.
func (d *Device) SetRole(r broadcast.Role) error {
	d.mu.Lock()
	if r == broadcast.RoleBroadcast {
		var bl bus.Link
		if d.bhold != nil {
			bl = d.bhold.Link()
		}
		if err := broadcastCapable(d.cfg.ID, d.desc, bl); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	changed := d.role != r
	d.role = r
	if r == broadcast.RoleBroadcast {
		d.model.SetTarget(d.bhold)
	} else {
		d.model.SetTarget(nil)
	}
	powered := d.powered
	elector := d.elector
	d.mu.Unlock()

	if changed && powered {
		d.elect(elector)
	}
	return nil
}

// Close powers the device off and detaches it from its deserializer.
func (d *Device) Close() error {
	err := d.PowerOff()
	if d.serdes != nil {
		err = errors.Join(err, d.serdes.Detach(d.cfg.ID))
	}
	return err
}

// ------------------------------------------------------------
// Mode
// ------------------------------------------------------------

// ApplyMode writes the init, lane, bit depth and mode tables, programs the
// sync registers and switches the timing model. The mode's default frame
// rate and the bit depth's default black level follow.
//
// Missing or malformed mode data is reported before any register write.
func (d *Device) ApplyMode(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	spec, err := d.desc.Mode(id)
	if err != nil {
		return err
	}
	err = d.applyMode(spec)
	d.record(err)
	return err
}

// ApplyModeByName is ApplyMode by mode name.
func (d *Device) ApplyModeByName(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	spec, err := d.desc.ModeByName(name)
	if err != nil {
		return err
	}
	err = d.applyMode(spec)
	d.record(err)
	return err
}

func (d *Device) applyMode(spec *ModeSpec) error {
	if err := spec.Mode.Validate(d.cfg.BitDepth); err != nil {
		return err
	}
	if err := spec.Table.Validate(); err != nil {
		return err
	}
	if err := d.requirePower("apply mode"); err != nil {
		return err
	}
	if d.streaming {
		return fault.Programming("sensor %s: mode change while streaming", d.cfg.ID)
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"init table", func() error { return d.writeTable(d.desc.Init) }},
		{"lane mode", d.writeLaneMode},
		{"bit depth table", func() error { return d.writeTable(d.desc.BitDepths[d.cfg.BitDepth]) }},
		{"mode table", func() error { return d.writeTable(spec.Table) }},
		{"sync mode", d.writeSync},
		{"timing", func() error { return d.model.ApplyMode(spec.Mode, d.cfg.BitDepth) }},
	}
	for _, st := range steps {
		if err := st.fn(); err != nil {
			d.logger.Error("mode apply failed", "device", d.cfg.ID, "mode", spec.Name, "step", st.name, "err", err)
			return fmt.Errorf("sensor %s: mode %s: %s: %w", d.cfg.ID, spec.Name, st.name, err)
		}
	}

	d.mode = spec
	d.applied = true

	if spec.DefaultFrameRate > 0 {
		if err := d.model.SetFrameRate(spec.DefaultFrameRate); err != nil {
			return err
		}
	}
	if err := d.writeBlackLevel(d.currentBlackLevel()); err != nil {
		return err
	}

	st := d.model.State()
	d.logger.Info("mode applied",
		"device", d.cfg.ID, "mode", spec.Name, "bit_depth", d.cfg.BitDepth,
		"line_time_ns", st.LineTime, "frame_length", st.FrameLength)
	return nil
}

func (d *Device) writeLaneMode() error {
	if d.desc.LaneMode.Addr == 0 {
		return nil
	}
	return d.link.Write(d.desc.LaneMode.Addr, d.desc.LaneMode.Values[d.cfg.Lanes])
}

func (d *Device) writeSync() error {
	s := d.desc.Sync
	if s.OperationAddr != 0 {
		v := s.Slave
		if d.cfg.Master {
			v = s.Master
		}
		if err := d.link.Write(s.OperationAddr, v); err != nil {
			return err
		}
	}
	if s.ExternalAddr != 0 {
		v := s.Internal
		if d.cfg.ExternalSync {
			v = s.External
		}
		if err := d.link.Write(s.ExternalAddr, v); err != nil {
			return err
		}
	}
	if s.DriveAddr != 0 {
		v := s.DriveSlave
		switch {
		case d.cfg.Master && d.cfg.ExternalSync:
			v = s.DriveMasterExternal
		case d.cfg.Master:
			v = s.DriveMasterInternal
		}
		if err := d.link.Write(s.DriveAddr, v); err != nil {
			return err
		}
	}
	return nil
}

// SetBitDepth switches the pixel bit depth. With a mode applied the bit
// depth table is written and the timing ranges are recomputed.
func (d *Device) SetBitDepth(bits int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.desc.BitDepths[bits]
	if !ok {
		return fault.Configuration("sensor %s: %s does not support %d-bit pixels", d.cfg.ID, d.desc.Name, bits)
	}
	if !d.applied {
		d.cfg.BitDepth = bits
		return nil
	}
	if err := d.mode.Mode.Validate(bits); err != nil {
		return err
	}

	err := d.writeTable(t)
	if err == nil {
		err = d.model.SetBitDepth(bits)
	}
	if err == nil {
		d.cfg.BitDepth = bits
		err = d.writeBlackLevel(d.currentBlackLevel())
	}
	d.record(err)
	return err
}

// ------------------------------------------------------------
// Controls
// ------------------------------------------------------------

// SetFrameRate requests a frame rate in frames per second. Out-of-range
// requests are clamped.
func (d *Device) SetFrameRate(fps uint64) error {
	return d.control("frame rate", func() error { return d.model.SetFrameRate(fps) })
}

// SetExposure requests an exposure time in microseconds. Out-of-range
// requests are clamped.
func (d *Device) SetExposure(us int64) error {
	return d.control("exposure", func() error { return d.model.SetExposure(us) })
}

// SetGain requests an analog gain in the mode's gain units.
func (d *Device) SetGain(v int64) error {
	return d.control("gain", func() error { return d.model.SetGain(v) })
}

// SetBlackLevel sets the black level in pixel units of the current bit
// depth, clamped to the depth's maximum.
func (d *Device) SetBlackLevel(v uint64) error {
	return d.control("black level", func() error {
		if err := d.writeBlackLevel(v); err != nil {
			return err
		}
		d.hasBlackLevel = true
		return nil
	})
}

func (d *Device) control(name string, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.applied {
		return fault.Programming("sensor %s: %s before mode apply", d.cfg.ID, name)
	}
	err := fn()
	if err != nil {
		d.logger.Error("control update failed", "device", d.cfg.ID, "control", name, "err", err)
	}
	d.record(err)
	return err
}

func (d *Device) currentBlackLevel() uint64 {
	if d.hasBlackLevel {
		return d.blackLevel
	}
	return d.desc.BlackLevel.Default[d.cfg.BitDepth]
}

func (d *Device) writeBlackLevel(v uint64) error {
	bl := d.desc.BlackLevel
	if bl.Field.Width == 0 {
		return nil
	}
	if hi, ok := bl.Max[d.cfg.BitDepth]; ok && v > hi {
		v = hi
	}
	target := d.hold
	if d.role == broadcast.RoleBroadcast && d.bhold != nil {
		target = d.bhold
	}
	if err := target.WriteValue(bl.Field.Addr, bl.Field.Width, v>>bl.Shift[d.cfg.BitDepth]); err != nil {
		return err
	}
	d.blackLevel = v
	return nil
}

// ------------------------------------------------------------
// Streaming
// ------------------------------------------------------------

// StartStreaming starts the sensor. gmsl sensors set up the deserializer
// pipe first.
func (d *Device) StartStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.applied {
		return fault.Programming("sensor %s: start streaming before mode apply", d.cfg.ID)
	}
	if d.streaming {
		return nil
	}
	err := d.startStreaming()
	if err == nil {
		d.streaming = true
		d.logger.Info("streaming started", "device", d.cfg.ID, "mode", d.mode.Name)
	}
	d.record(err)
	return err
}

func (d *Device) startStreaming() error {
	if d.serdes != nil {
		if err := d.serdes.SetupStreaming(d.cfg.ID); err != nil {
			return err
		}
		if err := d.serdes.StartStreaming(d.cfg.ID); err != nil {
			return err
		}
	}
	if err := d.writeTable(d.desc.Start); err != nil {
		return err
	}
	if s := d.desc.Sync; s.StartAddr != 0 {
		v := s.StartSlave
		if d.cfg.Master {
			v = s.StartMaster
		}
		return d.link.Write(s.StartAddr, v)
	}
	return nil
}

// StopStreaming stops the sensor and waits one frame time so the last
// frame leaves the pipe.
func (d *Device) StopStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.streaming {
		return nil
	}
	err := d.stopStreaming()
	d.streaming = false
	d.record(err)
	return err
}

func (d *Device) stopStreaming() error {
	err := d.writeTable(d.desc.Stop)
	if d.serdes != nil {
		err = errors.Join(err, d.serdes.StopStreaming(d.cfg.ID))
	}
	st := d.model.State()
	d.sleep(time.Duration(st.FrameLength * st.LineTime))
	d.logger.Info("streaming stopped", "device", d.cfg.ID)
	return err
}

// ------------------------------------------------------------
// Status
// ------------------------------------------------------------

// Status is a snapshot of a device.
type Status struct {
	ID        string
	Name      string
	Model     string
	Powered   bool
	Streaming bool
	Role      broadcast.Role
	Mode      string
	BitDepth  int

	BlackLevel uint64
	Timing     timing.State

	LastError  error
	ErrorSince time.Time // zero when healthy
}

// Status reports the device state. The caller holds the device lock, as
// registry iteration does.
func (d *Device) Status() Status {
	s := Status{
		ID:         d.cfg.ID,
		Name:       d.cfg.Name,
		Model:      d.desc.Name,
		Powered:    d.powered,
		Streaming:  d.streaming,
		Role:       d.role,
		BitDepth:   d.cfg.BitDepth,
		BlackLevel: d.blackLevel,
		Timing:     d.model.State(),
		LastError:  d.lastErr,
		ErrorSince: d.errSince,
	}
	if d.mode != nil && d.applied {
		s.Mode = d.mode.Name
	}
	return s
}

// ------------------------------------------------------------
// internals (d.mu held)
// ------------------------------------------------------------

func (d *Device) requirePower(op string) error {
	if !d.powered {
		return fault.Programming("sensor %s: %s while powered off", d.cfg.ID, op)
	}
	return nil
}

func (d *Device) writeTable(t bus.Table) error {
	return bus.WriteTable(d.link, t, d.sleep)
}

// record keeps the last operation error; a success clears it.
func (d *Device) record(err error) {
	if err == nil {
		d.lastErr = nil
		d.errSince = time.Time{}
		return
	}
	if d.lastErr == nil {
		d.errSince = d.now()
	}
	d.lastErr = err
}
