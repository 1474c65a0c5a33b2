// internal/monitor/monitor.go
package monitor

import (
	"errors"
	"time"

	"github.com/tamzrod/camlink/internal/broadcast"
	"github.com/tamzrod/camlink/internal/fault"
	"github.com/tamzrod/camlink/internal/registry"
	"github.com/tamzrod/camlink/internal/sensor"
	"github.com/tamzrod/camlink/internal/status"
)

// Source yields the current state of every sensor.
type Source interface {
	Statuses() []sensor.Status
}

// Config is the minimal runtime config the monitor needs.
type Config struct {
	Interval time.Duration
}

// Reading is one sensor's state and its status block image.
type Reading struct {
	Status   sensor.Status
	Snapshot status.Snapshot
}

// Sample is the result of one sampling pass.
type Sample struct {
	At       time.Time
	Readings []Reading
}

// Monitor is a dumb, clock-driven sampler.
type Monitor struct {
	cfg Config
	src Source
	now func() time.Time
}

// New creates a monitor with immutable config.
func New(cfg Config, src Source) (*Monitor, error) {
	if src == nil {
		return nil, errors.New("monitor: source required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("monitor: interval must be > 0")
	}
	return &Monitor{cfg: cfg, src: src, now: time.Now}, nil
}

// SetClock replaces the time source.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// PollOnce performs exactly one sampling pass.
func (m *Monitor) PollOnce() Sample {
	at := m.now()
	sts := m.src.Statuses()

	s := Sample{At: at, Readings: make([]Reading, 0, len(sts))}
	for _, st := range sts {
		s.Readings = append(s.Readings, Reading{Status: st, Snapshot: SnapshotOf(st, at)})
	}
	return s
}

// SnapshotOf maps a sensor state onto the status block. A recorded error
// wins over the power state; seconds in error saturate at 65535.
func SnapshotOf(st sensor.Status, now time.Time) status.Snapshot {
	s := status.Snapshot{
		Health: status.HealthOK,
		Power:  status.PowerOff,
	}

	switch {
	case st.Streaming:
		s.Power = status.PowerStreaming
	case st.Powered:
		s.Power = status.PowerOn
	}
	if st.Role == broadcast.RoleBroadcast {
		s.Role = 1
	}

	switch {
	case st.LastError != nil:
		s.Health = status.HealthError
		s.LastErrorCode = fault.Code(st.LastError)
		if !st.ErrorSince.IsZero() && now.After(st.ErrorSince) {
			s.SecondsInError = status.Sat16(int64(now.Sub(st.ErrorSince) / time.Second))
		}
	case !st.Powered:
		s.Health = status.HealthDisabled
	}

	t := st.Timing
	s.FrameLength = status.Sat32(t.FrameLength)
	s.Shutter = status.Sat32(t.Shutter)
	s.Gain = status.Sat16(t.GainRegister)
	s.LineTime = status.Sat32(t.LineTime)
	s.ExposureMin = status.Sat32(t.ExposureMin)
	s.ExposureMax = status.Sat32(t.ExposureMax)

	return s
}

// registrySource reads every registered device under its own lock.
type registrySource struct {
	reg *registry.Registry[*sensor.Device]
}

// FromRegistry samples the devices of reg in registration order.
func FromRegistry(reg *registry.Registry[*sensor.Device]) Source {
	return registrySource{reg: reg}
}

func (r registrySource) Statuses() []sensor.Status {
	var out []sensor.Status
	_ = r.reg.ForEach(func(_ registry.Handle, d *sensor.Device) error {
		out = append(out, d.Status())
		return nil
	})
	return out
}
