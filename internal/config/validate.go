// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/tamzrod/camlink/internal/broadcast"
	"github.com/tamzrod/camlink/internal/fault"
	"github.com/tamzrod/camlink/internal/sensor"
	"github.com/tamzrod/camlink/internal/serdes"
	"github.com/tamzrod/camlink/internal/status"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
//
// Every error wraps fault.ErrConfiguration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fault.Configuration("config: nil")
	}

	if err := validateLogging(cfg.Logging); err != nil {
		return err
	}

	// ------------------------------------------------------------
	// DESERIALIZER LINKS
	// ------------------------------------------------------------

	links := make(map[string]LinkConfig)

	for _, l := range cfg.Links {
		if l.ID == "" {
			return fault.Configuration("link: id required")
		}
		if _, dup := links[l.ID]; dup {
			return fault.Configuration("link %q: duplicate id", l.ID)
		}
		if _, err := ParseBus(l.Bus); err != nil {
			return fault.Configuration("link %q: %v", l.ID, err)
		}
		if l.Address == 0 || l.Address > 0x7F {
			return fault.Configuration("link %q: address 0x%x outside 7-bit range", l.ID, l.Address)
		}
		if l.CSIMode != "" {
			if _, err := serdes.ParseCSIMode(l.CSIMode); err != nil {
				return fault.Configuration("link %q: %v", l.ID, err)
			}
		}
		if l.MaxSources < 0 || l.MaxSources > serdes.MaxSources {
			return fault.Configuration("link %q: max_sources must be 1..%d", l.ID, serdes.MaxSources)
		}
		if l.Power.ResetSettleUs < 0 || l.Power.RailSettleMs < 0 {
			return fault.Configuration("link %q: negative settle time", l.ID)
		}
		links[l.ID] = l
	}

	// ------------------------------------------------------------
	// SENSORS
	// ------------------------------------------------------------

	ids := make(map[string]struct{})

	// key = bus | address
	addrOwner := make(map[string]string)

	// key = link | csi_link
	csiOwner := make(map[string]string)

	// key = status_slot
	statusOwner := make(map[uint16]string)

	for i, s := range cfg.Sensors {
		name := s.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}

		if s.ID != "" {
			if _, dup := ids[s.ID]; dup {
				return fault.Configuration("sensor %q: duplicate id", s.ID)
			}
			ids[s.ID] = struct{}{}
		}

		desc, err := sensor.Lookup(s.Model)
		if err != nil {
			return fmt.Errorf("sensor %q: %w", name, err)
		}

		if _, err := ParseBus(s.Bus); err != nil {
			return fault.Configuration("sensor %q: %v", name, err)
		}
		if s.Address == 0 || s.Address > 0x7F {
			return fault.Configuration("sensor %q: address 0x%x outside 7-bit range", name, s.Address)
		}
		if s.BroadcastAddress > 0x7F {
			return fault.Configuration("sensor %q: broadcast_address 0x%x outside 7-bit range", name, s.BroadcastAddress)
		}
		if s.BroadcastAddress != 0 && s.BroadcastAddress == s.Address {
			return fault.Configuration("sensor %q: broadcast_address equals address", name)
		}

		tr, err := sensor.ParseTransport(s.Transport)
		if err != nil {
			return fault.Configuration("sensor %q: %v", name, err)
		}

		switch tr {
		case sensor.TransportGMSL:
			if s.Link == "" {
				return fault.Configuration("sensor %q: gmsl transport requires link", name)
			}
			if _, ok := links[s.Link]; !ok {
				return fault.Configuration("sensor %q: unknown link %q", name, s.Link)
			}
			csi, err := serdes.ParseLink(s.CSILink)
			if err != nil {
				return fault.Configuration("sensor %q: %v", name, err)
			}
			if s.CSIPort != "" {
				if _, err := serdes.ParsePort(s.CSIPort); err != nil {
					return fault.Configuration("sensor %q: %v", name, err)
				}
			}
			key := fmt.Sprintf("%s|%s", s.Link, csi)
			if prev, exists := csiOwner[key]; exists {
				return fault.Configuration(
					"csi link collision: link=%s csi_link=%s used by sensors %q and %q",
					s.Link, csi, prev, name,
				)
			}
			csiOwner[key] = name

		case sensor.TransportMIPI:
			if s.Link != "" {
				return fault.Configuration("sensor %q: link is only valid with gmsl transport", name)
			}
			// gmsl sensors sit behind address translation; mipi ones share
			// the bus directly
			key := fmt.Sprintf("%s|%d", s.Bus, s.Address)
			if prev, exists := addrOwner[key]; exists {
				return fault.Configuration(
					"address collision: bus=%s address=0x%x used by sensors %q and %q",
					s.Bus, s.Address, prev, name,
				)
			}
			addrOwner[key] = name
		}

		if s.Lanes < 0 || s.Lanes > 4 {
			return fault.Configuration("sensor %q: lanes must be 1..4", name)
		}
		if s.Lanes != 0 {
			if _, ok := desc.LaneMode.Values[s.Lanes]; !ok {
				return fault.Configuration("sensor %q: %s does not support %d lanes", name, desc.Name, s.Lanes)
			}
		}
		if s.BitDepth != 0 && !desc.SupportsBitDepth(s.BitDepth) {
			return fault.Configuration("sensor %q: %s does not support %d-bit output", name, desc.Name, s.BitDepth)
		}
		if s.Mode != "" {
			if _, err := desc.ModeByName(s.Mode); err != nil {
				return fmt.Errorf("sensor %q: %w", name, err)
			}
		}
		if s.ExposureUs < 0 || s.Gain < 0 {
			return fault.Configuration("sensor %q: negative exposure or gain", name)
		}

		role, err := broadcast.ParseRole(s.Role)
		if err != nil {
			return fault.Configuration("sensor %q: %v", name, err)
		}
		if role == broadcast.RoleBroadcast {
			if !desc.SupportsBroadcast() {
				return fault.Configuration("sensor %q: %s has no broadcast address", name, desc.Name)
			}
			if s.BroadcastAddress == 0 {
				return fault.Configuration("sensor %q: broadcast role requires broadcast_address", name)
			}
		}

		// device_name sanity (ASCII only)
		for j := 0; j < len(s.DeviceName); j++ {
			if s.DeviceName[j] > 0x7F {
				return fault.Configuration("sensor %q: device_name must contain ASCII characters only", name)
			}
		}

		// status is opt-in
		if s.StatusSlot == nil {
			continue
		}
		if cfg.StatusMemory == nil {
			return fault.Configuration("sensor %q: status_slot is set but status_memory is not configured", name)
		}
		slot := *s.StatusSlot
		if slot > status.MaxSlot {
			return fault.Configuration("sensor %q: status_slot %d out of range (max %d)", name, slot, status.MaxSlot)
		}
		if prev, exists := statusOwner[slot]; exists {
			return fault.Configuration("status_slot collision: slot=%d used by sensors %q and %q", slot, prev, name)
		}
		statusOwner[slot] = name
	}

	// ------------------------------------------------------------
	// STATUS MEMORY
	// ------------------------------------------------------------

	if sm := cfg.StatusMemory; sm != nil {
		if sm.Endpoint == "" {
			return fault.Configuration("status_memory: endpoint required")
		}
		if sm.IntervalMs < 0 || sm.TimeoutMs < 0 {
			return fault.Configuration("status_memory: negative interval or timeout")
		}
	}

	return nil
}

func validateLogging(l LoggingConfig) error {
	switch l.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fault.Configuration("logging: unknown level %q", l.Level)
	}
	switch l.Format {
	case "", "json", "text":
	default:
		return fault.Configuration("logging: unknown format %q", l.Format)
	}
	switch l.Output {
	case "", "stdout", "stderr":
	default:
		return fault.Configuration("logging: unknown output %q", l.Output)
	}
	return nil
}
