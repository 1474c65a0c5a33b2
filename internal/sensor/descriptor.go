// internal/sensor/descriptor.go
package sensor

import (
	"fmt"
	"sort"
	"time"

	"github.com/tamzrod/camlink/internal/bus"
	"github.com/tamzrod/camlink/internal/fault"
	"github.com/tamzrod/camlink/internal/grouped"
	"github.com/tamzrod/camlink/internal/timing"
)

// Descriptor is the capability description of one sensor model: register
// locations, scale constants and register tables. One generic Device drives
// every model through its descriptor.
type Descriptor struct {
	Name string

	Hold   grouped.Config
	Timing timing.Registers
	Gain   timing.Gain

	InckHz   uint64 // default input clock
	BitDepth int    // default pixel bit depth

	// BitDepths holds the table selecting each supported pixel depth.
	BitDepths map[int]bus.Table

	// SecondaryAddress is the broadcast address enable register.
	// Zero means the model cannot join a broadcast group.
	SecondaryAddress uint16

	LaneMode   LaneMode
	Sync       Sync
	BlackLevel BlackLevel

	Init  bus.Table
	Start bus.Table
	Stop  bus.Table

	Modes []ModeSpec

	// PowerSettle is the wait between power up and first register access.
	PowerSettle time.Duration
}

// LaneMode selects the CSI lane count. Zero Addr means fixed lanes.
type LaneMode struct {
	Addr   uint16
	Values map[int]byte // lanes -> register value
}

// Sync locates the operation mode and sync registers. A zero address skips
// the corresponding write.
type Sync struct {
	OperationAddr uint16
	Master        byte
	Slave         byte

	ExternalAddr uint16
	External     byte
	Internal     byte

	// XVS/XHS output drive. HiZ is written on power off.
	DriveAddr           uint16
	DriveMasterInternal byte
	DriveMasterExternal byte
	DriveSlave          byte
	DriveHiZ            byte

	// master start (XMSTA), written after the start table
	StartAddr   uint16
	StartMaster byte
	StartSlave  byte
}

// BlackLevel describes the black level register. The user value is in
// pixel units of the active bit depth; Shift converts it to register units.
type BlackLevel struct {
	Field   timing.Field
	Max     map[int]uint64
	Default map[int]uint64
	Shift   map[int]uint
}

// ModeSpec is one readout mode: its timing data and its register table.
type ModeSpec struct {
	timing.Mode

	Width  int
	Height int

	DefaultFrameRate uint64
	Table            bus.Table
}

// Mode returns the mode with the given id.
func (d *Descriptor) Mode(id int) (*ModeSpec, error) {
	for i := range d.Modes {
		if d.Modes[i].ID == id {
			return &d.Modes[i], nil
		}
	}
	return nil, fault.Configuration("sensor %s: unknown mode %d", d.Name, id)
}

// ModeByName returns the mode with the given name.
func (d *Descriptor) ModeByName(name string) (*ModeSpec, error) {
	for i := range d.Modes {
		if d.Modes[i].Name == name {
			return &d.Modes[i], nil
		}
	}
	return nil, fault.Configuration("sensor %s: unknown mode %q", d.Name, name)
}

// SupportsBroadcast reports whether the model has a secondary address.
func (d *Descriptor) SupportsBroadcast() bool { return d.SecondaryAddress != 0 }

// SupportsBitDepth reports whether the model has a table for bits.
func (d *Descriptor) SupportsBitDepth(bits int) bool {
	_, ok := d.BitDepths[bits]
	return ok
}

// SupportedBitDepths lists the pixel depths in increasing order.
func (d *Descriptor) SupportedBitDepths() []int {
	out := make([]int, 0, len(d.BitDepths))
	for b := range d.BitDepths {
		out = append(out, b)
	}
	sort.Ints(out)
	return out
}

// Validate checks the descriptor without touching hardware.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fault.Configuration("sensor: descriptor without name")
	}
	if len(d.Modes) == 0 {
		return fault.Configuration("sensor %s: no modes", d.Name)
	}
	if !d.SupportsBitDepth(d.BitDepth) {
		return fault.Configuration("sensor %s: default bit depth %d has no table", d.Name, d.BitDepth)
	}

	for name, t := range map[string]bus.Table{"init": d.Init, "start": d.Start, "stop": d.Stop} {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("sensor %s: %s table: %w", d.Name, name, err)
		}
	}
	for bits, t := range d.BitDepths {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("sensor %s: %d-bit table: %w", d.Name, bits, err)
		}
	}

	seen := make(map[int]bool, len(d.Modes))
	for _, m := range d.Modes {
		if seen[m.ID] {
			return fault.Configuration("sensor %s: duplicate mode id %d", d.Name, m.ID)
		}
		seen[m.ID] = true

		if err := m.Table.Validate(); err != nil {
			return fmt.Errorf("sensor %s: mode %q table: %w", d.Name, m.Name, err)
		}
		for bits := range d.BitDepths {
			if err := m.Mode.Validate(bits); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clone returns a copy whose tables and modes can be replaced without
// affecting d.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Modes = append([]ModeSpec(nil), d.Modes...)
	c.BitDepths = make(map[int]bus.Table, len(d.BitDepths))
	for k, v := range d.BitDepths {
		c.BitDepths[k] = v
	}
	return &c
}

// ------------------------------------------------------------
// Built-in models
// ------------------------------------------------------------

var builtin = map[string]func() *Descriptor{
	"imx335": IMX335,
	"imx900": IMX900,
}

// Lookup returns a fresh descriptor for a built-in model.
func Lookup(name string) (*Descriptor, error) {
	fn, ok := builtin[name]
	if !ok {
		return nil, fault.Configuration("sensor: unknown model %q", name)
	}
	return fn(), nil
}

// Models lists the built-in model names.
func Models() []string {
	out := make([]string, 0, len(builtin))
	for n := range builtin {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
