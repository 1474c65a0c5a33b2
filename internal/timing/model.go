// internal/timing/model.go
package timing

import (
	"fmt"
	"sync"

	"github.com/tamzrod/camlink/internal/fault"
)

const (
	kFactor = 1000       // ns per us
	gFactor = 1000000000 // ns per s
)

// Committer writes and reads multi-byte register values atomically.
// *grouped.Hold implements it.
type Committer interface {
	WriteValue(base uint16, width int, val uint64) error
	ReadValue(base uint16, width int) (uint64, error)
	Do(fn func() error) error
}

// Observer receives recomputed control ranges.
// Callbacks run with the model locked and must not call back into it.
type Observer interface {
	ExposureRangeChanged(min, max int64)
	FrameRateRangeChanged(min, max uint64)
}

// Logger defines the logging interface used by the model.
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

type noopObserver struct{}

func (noopObserver) ExposureRangeChanged(int64, int64)   {}
func (noopObserver) FrameRateRangeChanged(uint64, uint64) {}

// Config is the fixed per-device timing configuration.
type Config struct {
	Registers Registers
	Gain      Gain
	InckHz    uint64 // input clock
}

// State is a copy of the model's derived quantities.
type State struct {
	Mode           string
	BitDepth       int
	LineTime       uint64 // ns
	FrameLength    uint64 // rows
	MinFrameLength uint64
	FrameRate      uint64
	FrameRateMin   uint64
	FrameRateMax   uint64
	Exposure       int64 // us, last applied
	ExposureMin    int64
	ExposureMax    int64
	Shutter        uint64
	GainRegister   uint64
}

// Model converts between physical units and register units and keeps the
// mutually dependent ranges consistent: any frame length change is followed
// by an exposure range recomputation, never preceded by one.
//
// Out-of-range requests are clamped to the closest valid value.
type Model struct {
	mu sync.Mutex

	cfg Config

	// reads always go to the device itself; writes go to target, which is
	// the device or its broadcast address
	local  Committer
	target Committer

	observer Observer
	logger   Logger

	mode     Mode
	hasMode  bool
	bitDepth int
	limits   Limits

	lineTime       uint64
	frameLength    uint64
	minFrameLength uint64
	frameRate      uint64
	fpsMin, fpsMax uint64

	exposure       int64
	hasExposure    bool
	expMin, expMax int64
	shutter        uint64
	gainReg        uint64
}

// New creates a model committing through c.
func New(cfg Config, c Committer) (*Model, error) {
	if c == nil {
		return nil, fault.Programming("timing: committer required")
	}
	if cfg.InckHz == 0 {
		return nil, fault.Configuration("timing: input clock frequency is zero")
	}
	for name, f := range map[string]Field{
		"frame length": cfg.Registers.FrameLength,
		"shutter":      cfg.Registers.Shutter,
		"gain":         cfg.Registers.Gain,
		"row length":   cfg.Registers.RowLength,
	} {
		if f.Width < 1 || f.Width > 8 {
			return nil, fault.Configuration("timing: %s register width %d", name, f.Width)
		}
	}
	if cfg.Gain.MaxDB == 0 {
		return nil, fault.Configuration("timing: max gain dB is zero")
	}

	return &Model{
		cfg:      cfg,
		local:    c,
		target:   c,
		observer: noopObserver{},
		logger:   noopLogger{},
	}, nil
}

// SetLogger sets the logger for the model.
func (m *Model) SetLogger(l Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = l
}

// SetObserver sets the range observer.
func (m *Model) SetObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o == nil {
		o = noopObserver{}
	}
	m.observer = o
}

// SetTarget redirects timing register writes, e.g. to a broadcast address.
// nil restores the device itself.
func (m *Model) SetTarget(c Committer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c == nil {
		c = m.local
	}
	m.target = c
}

// ------------------------------------------------------------
// Mode switching
// ------------------------------------------------------------

// ApplyMode switches the numeric mode after its register tables have been
// written: it recalculates the line time, reads back the frame length the
// tables programmed, and recomputes both ranges.
// On failure the previous mode stays in effect.
func (m *Model) ApplyMode(mode Mode, bitDepth int) error {
	if err := mode.Validate(bitDepth); err != nil {
		return err
	}
	limits, _ := mode.LimitsFor(bitDepth)

	m.mu.Lock()
	defer m.mu.Unlock()

	lineTime, err := m.readLineTime()
	if err != nil {
		return err
	}

	fl, err := m.local.ReadValue(m.cfg.Registers.FrameLength.Addr, m.cfg.Registers.FrameLength.Width)
	if err != nil {
		return fmt.Errorf("timing: mode %q: read frame length: %w", mode.Name, err)
	}

	// commit staged state
	m.mode = mode
	m.hasMode = true
	m.bitDepth = bitDepth
	m.limits = limits
	m.lineTime = lineTime
	m.frameLength = fl
	m.updateFrameRateRange()

	if m.frameLength < m.minFrameLength {
		if err := m.commitFrameLength(m.minFrameLength); err != nil {
			return err
		}
	}

	m.updateExposureRange()

	m.logger.Debug("timing mode applied",
		"mode", mode.Name, "bit_depth", bitDepth, "line_time_ns", lineTime,
		"frame_length", m.frameLength, "min_frame_length", m.minFrameLength)

	return m.reapplyExposure()
}

// SetBitDepth changes the pixel bit depth within the current mode and
// recomputes every derived range.
func (m *Model) SetBitDepth(bitDepth int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasMode {
		return fault.Programming("timing: bit depth change before mode apply")
	}
	if err := m.mode.Validate(bitDepth); err != nil {
		return err
	}
	limits, _ := m.mode.LimitsFor(bitDepth)

	m.bitDepth = bitDepth
	m.limits = limits
	m.updateFrameRateRange()

	if m.frameLength < m.minFrameLength {
		if err := m.commitFrameLength(m.minFrameLength); err != nil {
			return err
		}
	}

	m.updateExposureRange()
	return m.reapplyExposure()
}

// RecalculateLineTime reads the row length register and derives the line
// time. It must run after every mode switch; ApplyMode calls it.
func (m *Model) RecalculateLineTime() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lt, err := m.readLineTime()
	if err != nil {
		return err
	}
	m.lineTime = lt
	if m.hasMode {
		m.updateFrameRateRange()
		m.updateExposureRange()
	}
	return nil
}

func (m *Model) readLineTime() (uint64, error) {
	rl := m.cfg.Registers.RowLength
	hmax, err := m.local.ReadValue(rl.Addr, rl.Width)
	if err != nil {
		return 0, fmt.Errorf("timing: read row length: %w", err)
	}
	if hmax == 0 {
		return 0, fault.Configuration("timing: row length register reads zero")
	}

	lt := hmax * gFactor / m.cfg.InckHz
	if lt == 0 {
		return 0, fault.Configuration("timing: line time rounds to zero (row length %d)", hmax)
	}

	m.logger.Debug("line time recalculated", "row_length", hmax, "inck_hz", m.cfg.InckHz, "line_time_ns", lt)
	return lt, nil
}

// ------------------------------------------------------------
// Controls
// ------------------------------------------------------------

// SetFrameRate programs the frame length for fps (control units), then
// recomputes and publishes the exposure range and re-applies the current
// exposure against the new frame length, all under one group hold.
func (m *Model) SetFrameRate(fps uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}

	fps = clampU(fps, m.fpsMin, m.fpsMax)
	if fps == 0 {
		fps = 1
	}

	fl := roundDiv(m.mode.FramerateFactor, fps*m.lineTime)
	if fl < m.minFrameLength {
		fl = m.minFrameLength
	}

	// frame length and the re-applied shutter latch in the same frame
	return m.target.Do(func() error {
		if err := m.commitFrameLength(fl); err != nil {
			return err
		}
		m.frameRate = fps

		m.logger.Debug("frame rate set", "fps", fps, "frame_length", fl)

		m.updateExposureRange()
		return m.reapplyExposure()
	})
}

// SetExposure programs the shutter register for an integration time in
// microseconds, clamped to the current exposure range.
func (m *Model) SetExposure(us int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}
	return m.setExposure(us)
}

// SetGain programs the gain register. target is in control units
// (dB times the mode's gain factor).
func (m *Model) SetGain(target int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasMode {
		return fault.Programming("timing: gain set before mode apply")
	}

	span := m.cfg.Gain.MaxDB * m.mode.GainFactor
	t := target
	if t < 0 {
		t = 0
	}
	if uint64(t) > span {
		t = int64(span)
	}

	reg := uint64(t) * m.cfg.Gain.MaxRegister / span

	g := m.cfg.Registers.Gain
	if err := m.target.WriteValue(g.Addr, g.Width, reg); err != nil {
		return fmt.Errorf("timing: gain: %w", err)
	}
	m.gainReg = reg

	m.logger.Debug("gain set", "value", t, "register", reg)
	return nil
}

// State returns a copy of the derived quantities.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Mode:           m.mode.Name,
		BitDepth:       m.bitDepth,
		LineTime:       m.lineTime,
		FrameLength:    m.frameLength,
		MinFrameLength: m.minFrameLength,
		FrameRate:      m.frameRate,
		FrameRateMin:   m.fpsMin,
		FrameRateMax:   m.fpsMax,
		Exposure:       m.exposure,
		ExposureMin:    m.expMin,
		ExposureMax:    m.expMax,
		Shutter:        m.shutter,
		GainRegister:   m.gainReg,
	}
}

// ------------------------------------------------------------
// internals (m.mu held)
// ------------------------------------------------------------

func (m *Model) ready() error {
	if !m.hasMode {
		return fault.Programming("timing: control set before mode apply")
	}
	if m.lineTime == 0 {
		return fault.Programming("timing: line time not calculated")
	}
	return nil
}

func (m *Model) commitFrameLength(fl uint64) error {
	f := m.cfg.Registers.FrameLength
	if fl > f.Max() {
		fl = f.Max()
	}
	if err := m.target.WriteValue(f.Addr, f.Width, fl); err != nil {
		return fmt.Errorf("timing: frame length: %w", err)
	}
	m.frameLength = fl
	return nil
}

func (m *Model) setExposure(us int64) error {
	us = clampI(us, m.expMin, m.expMax)

	off := us - m.limits.IntegrationOffset
	if off < 0 {
		off = 0
	}
	lines := uint64(off) * kFactor / m.lineTime

	fl := m.frameLength
	ceiling := uint64(0)
	if fl > m.limits.MinIntegrationLines {
		ceiling = fl - m.limits.MinIntegrationLines
	}

	var shutter uint64
	if lines < fl {
		shutter = fl - lines
	}
	shutter = clampU(shutter, m.limits.MinShutter, ceiling)

	s := m.cfg.Registers.Shutter
	if err := m.target.WriteValue(s.Addr, s.Width, shutter); err != nil {
		return fmt.Errorf("timing: shutter: %w", err)
	}

	m.exposure = us
	m.hasExposure = true
	m.shutter = shutter

	m.logger.Debug("exposure set",
		"exposure_us", us, "integration_lines", lines, "shutter", shutter, "frame_length", fl)
	return nil
}

func (m *Model) reapplyExposure() error {
	if !m.hasExposure {
		return nil
	}
	return m.setExposure(m.exposure)
}

// updateFrameRateRange derives the frame rate bounds from the minimum frame
// length of the active mode and bit depth.
func (m *Model) updateFrameRateRange() {
	m.minFrameLength = m.limits.MinFrameLength

	m.fpsMin = m.mode.MinFrameRate
	m.fpsMax = 0
	if m.lineTime > 0 {
		m.fpsMax = m.mode.FramerateFactor / (m.minFrameLength * m.lineTime)
	}
	if m.fpsMax < m.fpsMin {
		m.fpsMax = m.fpsMin
	}

	m.observer.FrameRateRangeChanged(m.fpsMin, m.fpsMax)
}

// updateExposureRange derives the exposure bounds from the current frame
// length. Always called after the frame length it depends on is final.
func (m *Model) updateExposureRange() {
	l := m.limits
	lt := m.lineTime

	m.expMin = int64(l.MinIntegrationLines*lt/kFactor) + l.IntegrationOffset

	var lines uint64
	if m.frameLength > l.MinShutter {
		lines = m.frameLength - l.MinShutter
	}
	m.expMax = int64(lines*lt/kFactor) + l.IntegrationOffset
	if m.expMax < m.expMin {
		m.expMax = m.expMin
	}

	m.observer.ExposureRangeChanged(m.expMin, m.expMax)
}

func roundDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b/2) / b
}

// clampU clamps v into [lo, hi]; hi == 0 means unbounded.
func clampU(v, lo, hi uint64) uint64 {
	if v < lo {
		v = lo
	}
	if hi > 0 && v > hi {
		v = hi
	}
	return v
}

func clampI(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
