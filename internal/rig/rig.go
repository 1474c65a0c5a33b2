// internal/rig/rig.go
//
// Package rig assembles deserializers, sensors, their registries and
// broadcast coordinators from a validated configuration.
package rig

import (
	"errors"
	"fmt"
	"time"

	"github.com/tamzrod/camlink/internal/broadcast"
	"github.com/tamzrod/camlink/internal/bus"
	"github.com/tamzrod/camlink/internal/config"
	"github.com/tamzrod/camlink/internal/monitor"
	"github.com/tamzrod/camlink/internal/registry"
	"github.com/tamzrod/camlink/internal/sensor"
	"github.com/tamzrod/camlink/internal/serdes"
)

// Logger defines the logging interface used by the rig and handed to
// every component it builds.
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

// rangeLogger reports the control ranges a sensor publishes after mode,
// bit depth and frame rate changes.
type rangeLogger struct {
	logger Logger
	id     string
}

func (l rangeLogger) ExposureRangeChanged(min, max int64) {
	l.logger.Debug("exposure range", "device", l.id, "min_us", min, "max_us", max)
}

func (l rangeLogger) FrameRateRangeChanged(min, max uint64) {
	l.logger.Debug("frame rate range", "device", l.id, "min_fps", min, "max_fps", max)
}

// Options tune Build.
type Options struct {
	Opener  Opener      // nil: HostOpener
	Logger  Logger      // nil: discard
	Sleeper bus.Sleeper // nil: time.Sleep
}

// group is the set of sensors sharing one register bus, and with it one
// broadcast address space.
type group struct {
	bus   string
	reg   *registry.Registry[*sensor.Device]
	coord *broadcast.Coordinator[*sensor.Device]
}

// Sensor is a built sensor with its startup settings.
type Sensor struct {
	Device *sensor.Device
	Config config.SensorConfig
	Desc   *sensor.Descriptor
}

// Rig owns every device built from one configuration.
type Rig struct {
	sensors []*Sensor
	serdes  map[string]*serdes.Manager
	groups  []*group
	opener  Opener
	logger  Logger
}

// Build opens the hardware and constructs every deserializer and sensor.
// cfg must be validated and normalized. Nothing is powered on. On error
// everything already opened is released.
func Build(cfg *config.Config, opts Options) (*Rig, error) {
	if opts.Opener == nil {
		opts.Opener = &HostOpener{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	r := &Rig{
		serdes: make(map[string]*serdes.Manager),
		opener: opts.Opener,
		logger: opts.Logger,
	}
	fail := func(err error) (*Rig, error) {
		return nil, errors.Join(err, r.Close())
	}

	for _, lc := range cfg.Links {
		m, err := r.buildSerdes(lc, opts)
		if err != nil {
			return fail(err)
		}
		r.serdes[lc.ID] = m
	}

	groups := make(map[string]*group)
	for _, sc := range cfg.Sensors {
		s, err := r.buildSensor(sc, opts)
		if err != nil {
			return fail(err)
		}

		g, ok := groups[sc.Bus]
		if !ok {
			reg := registry.New[*sensor.Device]()
			reg.SetLogger(opts.Logger)
			coord := broadcast.New(reg)
			coord.SetLogger(opts.Logger)
			g = &group{bus: sc.Bus, reg: reg, coord: coord}
			groups[sc.Bus] = g
			r.groups = append(r.groups, g)
		}
		if _, err := g.reg.Register(s.Device); err != nil {
			return fail(errors.Join(fmt.Errorf("rig: sensor %s: %w", sc.ID, err), s.Device.Close()))
		}
		s.Device.SetElector(g.coord)
		r.sensors = append(r.sensors, s)
	}

	r.logger.Info("rig built", "links", len(r.serdes), "sensors", len(r.sensors), "groups", len(r.groups))
	return r, nil
}

func (r *Rig) buildSerdes(lc config.LinkConfig, opts Options) (*serdes.Manager, error) {
	b, err := config.ParseBus(lc.Bus)
	if err != nil {
		return nil, fmt.Errorf("rig: link %s: %w", lc.ID, err)
	}
	link, err := r.opener.Link(b, lc.Address)
	if err != nil {
		return nil, fmt.Errorf("rig: link %s: %w", lc.ID, err)
	}
	reset, err := r.opener.Line(lc.Power.ResetGPIO, lc.Power.ActiveLow)
	if err != nil {
		return nil, fmt.Errorf("rig: link %s: %w", lc.ID, err)
	}
	rail, err := r.opener.Line(lc.Power.RailGPIO, lc.Power.ActiveLow)
	if err != nil {
		return nil, fmt.Errorf("rig: link %s: %w", lc.ID, err)
	}
	mode, err := serdes.ParseCSIMode(lc.CSIMode)
	if err != nil {
		return nil, fmt.Errorf("rig: link %s: %w", lc.ID, err)
	}

	m, err := serdes.New(serdes.Config{
		ID:         lc.ID,
		CSIMode:    mode,
		MaxSources: lc.MaxSources,
		Power: serdes.DefaultSequence(reset, rail, serdes.PowerTiming{
			ResetSettle: time.Duration(lc.Power.ResetSettleUs) * time.Microsecond,
			RailSettle:  time.Duration(lc.Power.RailSettleMs) * time.Millisecond,
		}),
	}, link)
	if err != nil {
		return nil, err
	}
	m.SetLogger(opts.Logger)
	if opts.Sleeper != nil {
		m.SetSleeper(opts.Sleeper)
	}
	return m, nil
}

func (r *Rig) buildSensor(sc config.SensorConfig, opts Options) (*Sensor, error) {
	desc, err := sensor.Lookup(sc.Model)
	if err != nil {
		return nil, fmt.Errorf("rig: sensor %s: %w", sc.ID, err)
	}
	if sc.Tables != "" {
		ts, err := sensor.LoadTablesFile(sc.Tables)
		if err != nil {
			return nil, fmt.Errorf("rig: sensor %s: %w", sc.ID, err)
		}
		if desc, err = desc.WithTables(ts); err != nil {
			return nil, fmt.Errorf("rig: sensor %s: %w", sc.ID, err)
		}
	}

	b, err := config.ParseBus(sc.Bus)
	if err != nil {
		return nil, fmt.Errorf("rig: sensor %s: %w", sc.ID, err)
	}

	var links sensor.Links
	if links.Unicast, err = r.opener.Link(b, sc.Address); err != nil {
		return nil, fmt.Errorf("rig: sensor %s: %w", sc.ID, err)
	}
	if sc.BroadcastAddress != 0 {
		if links.Broadcast, err = r.opener.Link(b, sc.BroadcastAddress); err != nil {
			return nil, fmt.Errorf("rig: sensor %s: broadcast: %w", sc.ID, err)
		}
	}

	tr, err := sensor.ParseTransport(sc.Transport)
	if err != nil {
		return nil, fmt.Errorf("rig: sensor %s: %w", sc.ID, err)
	}
	role, err := broadcast.ParseRole(sc.Role)
	if err != nil {
		return nil, fmt.Errorf("rig: sensor %s: %w", sc.ID, err)
	}

	dc := sensor.Config{
		ID:           sc.ID,
		Name:         sc.DeviceName,
		Descriptor:   desc,
		Transport:    tr,
		InckHz:       sc.InckHz,
		BitDepth:     sc.BitDepth,
		Lanes:        sc.Lanes,
		Role:         role,
		Master:       sc.Master,
		ExternalSync: sc.ExternalSync,
	}

	switch tr {
	case sensor.TransportGMSL:
		m, ok := r.serdes[sc.Link]
		if !ok {
			return nil, fmt.Errorf("rig: sensor %s: unknown link %q", sc.ID, sc.Link)
		}
		links.Serdes = m
		if dc.CSILink, err = serdes.ParseLink(sc.CSILink); err != nil {
			return nil, fmt.Errorf("rig: sensor %s: %w", sc.ID, err)
		}
		if dc.CSIPort, err = serdes.ParsePort(sc.CSIPort); err != nil {
			return nil, fmt.Errorf("rig: sensor %s: %w", sc.ID, err)
		}
	default:
		if links.Reset, err = r.opener.Line(sc.ResetGPIO, false); err != nil {
			return nil, fmt.Errorf("rig: sensor %s: %w", sc.ID, err)
		}
	}

	d, err := sensor.New(dc, links)
	if err != nil {
		return nil, err
	}
	d.SetLogger(opts.Logger)
	d.SetObserver(rangeLogger{logger: opts.Logger, id: sc.ID})
	if opts.Sleeper != nil {
		d.SetSleeper(opts.Sleeper)
	}
	return &Sensor{Device: d, Config: sc, Desc: desc}, nil
}

// Sensors lists the built sensors in configuration order.
func (r *Rig) Sensors() []*Sensor { return r.sensors }

// Serdes returns the deserializer built for link id.
func (r *Rig) Serdes(id string) (*serdes.Manager, bool) {
	m, ok := r.serdes[id]
	return m, ok
}

// Statuses reports every sensor, group by group in registration order.
func (r *Rig) Statuses() []sensor.Status {
	var out []sensor.Status
	for _, g := range r.groups {
		out = append(out, monitor.FromRegistry(g.reg).Statuses()...)
	}
	return out
}

// Start powers every sensor on, applies its mode and initial controls and,
// when stream is set, starts streaming. A failing sensor is skipped; the
// returned error joins every failure.
func (r *Rig) Start(stream bool) error {
	var errs []error
	for _, s := range r.sensors {
		if err := r.start(s, stream); err != nil {
			r.logger.Error("sensor start failed", "device", s.Config.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		r.logger.Info("sensor started", "device", s.Config.ID, "mode", r.modeName(s), "streaming", stream)
	}
	return errors.Join(errs...)
}

func (r *Rig) modeName(s *Sensor) string {
	if s.Config.Mode != "" {
		return s.Config.Mode
	}
	return s.Desc.Modes[0].Name
}

func (r *Rig) start(s *Sensor, stream bool) error {
	d, c := s.Device, s.Config

	if err := d.PowerOn(); err != nil {
		return err
	}
	if err := d.ApplyModeByName(r.modeName(s)); err != nil {
		return err
	}
	if c.FrameRate > 0 {
		if err := d.SetFrameRate(c.FrameRate); err != nil {
			return err
		}
	}
	if c.ExposureUs > 0 {
		if err := d.SetExposure(c.ExposureUs); err != nil {
			return err
		}
	}
	if c.Gain > 0 {
		if err := d.SetGain(c.Gain); err != nil {
			return err
		}
	}
	if c.BlackLevel != nil {
		if err := d.SetBlackLevel(*c.BlackLevel); err != nil {
			return err
		}
	}
	if stream {
		return d.StartStreaming()
	}
	return nil
}

// Stop powers every sensor off, streaming ones included.
func (r *Rig) Stop() error {
	var errs []error
	for i := len(r.sensors) - 1; i >= 0; i-- {
		if err := r.sensors[i].Device.PowerOff(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close powers everything off, unregisters and detaches every sensor and
// releases the hardware.
func (r *Rig) Close() error {
	var errs []error
	for _, g := range r.groups {
		for _, h := range g.reg.Handles() {
			d, ok := g.reg.Get(h)
			if !ok {
				continue
			}
			errs = append(errs, d.Close(), g.reg.Unregister(h))
		}
	}
	r.sensors = nil
	r.groups = nil
	errs = append(errs, r.opener.Close())
	return errors.Join(errs...)
}
