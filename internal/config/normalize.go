// internal/config/normalize.go
package config

import (
	"github.com/google/uuid"

	"github.com/tamzrod/camlink/internal/sensor"
	"github.com/tamzrod/camlink/internal/serdes"
)

// Defaults applied by Normalize.
const (
	DefaultInckHz           uint64 = 74250000
	DefaultStatusIntervalMs        = 1000
	DefaultStatusTimeoutMs         = 2000
	DefaultResetSettleUs           = 30
	DefaultRailSettleMs            = 2000
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	csiModes := make(map[string]string)

	for li := range cfg.Links {
		l := &cfg.Links[li]

		if l.CSIMode == "" {
			l.CSIMode = serdes.CSIMode2x4.String()
		}
		if l.MaxSources == 0 {
			l.MaxSources = 1
		}
		if l.Power.ResetSettleUs == 0 {
			l.Power.ResetSettleUs = DefaultResetSettleUs
		}
		if l.Power.RailSettleMs == 0 {
			l.Power.RailSettleMs = DefaultRailSettleMs
		}
		csiModes[l.ID] = l.CSIMode
	}

	for si := range cfg.Sensors {
		s := &cfg.Sensors[si]

		if s.ID == "" {
			s.ID = "sensor-" + uuid.NewString()
		}
		if s.Transport == "" {
			s.Transport = sensor.TransportMIPI.String()
		}
		if s.Role == "" {
			s.Role = "unicast"
		}

		// model already validated
		if desc, err := sensor.Lookup(s.Model); err == nil {
			if s.BitDepth == 0 {
				s.BitDepth = desc.BitDepth
			}
			if s.InckHz == 0 {
				s.InckHz = desc.InckHz
			}
		}
		if s.InckHz == 0 {
			s.InckHz = DefaultInckHz
		}

		if s.Lanes == 0 {
			s.Lanes = 4
			if csiModes[s.Link] == serdes.CSIMode4x2.String() {
				s.Lanes = 2
			}
		}
		if s.Transport == sensor.TransportGMSL.String() && s.CSIPort == "" {
			s.CSIPort = "B"
		}

		// Status block normalization (opt-in)
		if s.StatusSlot == nil {
			continue
		}

		// Normalize device_name:
		// - ASCII already validated
		// - Truncate to max 16 characters
		if s.DeviceName == "" {
			s.DeviceName = s.ID
		}
		if len(s.DeviceName) > 16 {
			s.DeviceName = s.DeviceName[:16]
		}
	}

	if sm := cfg.StatusMemory; sm != nil {
		if sm.IntervalMs == 0 {
			sm.IntervalMs = DefaultStatusIntervalMs
		}
		if sm.TimeoutMs == 0 {
			sm.TimeoutMs = DefaultStatusTimeoutMs
		}
	}
}

