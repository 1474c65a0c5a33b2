// internal/timing/mode.go
package timing

import (
	"github.com/tamzrod/camlink/internal/fault"
)

// Variant classifies a readout mode. Minimum shutter and blanking differ
// between variants, so limits are always looked up per mode.
type Variant uint8

const (
	VariantNormal Variant = iota
	VariantBinning
	VariantSubsampled
	VariantHDR
)

func (v Variant) String() string {
	switch v {
	case VariantNormal:
		return "normal"
	case VariantBinning:
		return "binning"
	case VariantSubsampled:
		return "subsampled"
	case VariantHDR:
		return "hdr"
	default:
		return "unknown"
	}
}

// Limits are the timing floors of one mode at one pixel bit depth.
type Limits struct {
	MinFrameLength      uint64 // rows
	MinShutter          uint64 // shutter register floor
	MinIntegrationLines uint64 // shutter register ceiling is frame_length minus this
	IntegrationOffset   int64  // microseconds subtracted before converting to lines
}

// Mode is the timing description of one sensor readout mode.
// Register tables live with the sensor model; this is the numeric part.
type Mode struct {
	ID      int
	Name    string
	Variant Variant

	// FramerateFactor is the mode constant K in
	// frame_length = round(K / (fps * line_time_ns)).
	FramerateFactor uint64
	MinFrameRate    uint64

	// GainFactor scales the control's gain units per dB.
	GainFactor uint64

	// Limits keyed by pixel bit depth.
	Limits map[int]Limits
}

// LimitsFor returns the limits for a bit depth.
func (m Mode) LimitsFor(bitDepth int) (Limits, error) {
	l, ok := m.Limits[bitDepth]
	if !ok {
		return Limits{}, fault.Configuration("mode %q: no timing limits for %d-bit pixels", m.Name, bitDepth)
	}
	return l, nil
}

// Validate checks the mode for a bit depth without touching hardware.
func (m Mode) Validate(bitDepth int) error {
	if m.FramerateFactor == 0 {
		return fault.Configuration("mode %q: framerate factor is zero", m.Name)
	}
	if m.GainFactor == 0 {
		return fault.Configuration("mode %q: gain factor is zero", m.Name)
	}
	l, err := m.LimitsFor(bitDepth)
	if err != nil {
		return err
	}
	if l.MinFrameLength == 0 {
		return fault.Configuration("mode %q: min frame length is zero", m.Name)
	}
	if l.MinFrameLength <= l.MinShutter+l.MinIntegrationLines {
		return fault.Configuration(
			"mode %q: min frame length %d leaves no integration range above shutter floor %d",
			m.Name, l.MinFrameLength, l.MinShutter,
		)
	}
	return nil
}

// Field is a little-endian multi-byte register.
type Field struct {
	Addr  uint16
	Width int // bytes
}

// Max is the largest value the field can hold.
func (f Field) Max() uint64 {
	if f.Width >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(f.Width)) - 1
}

// Registers locates the timing registers of a sensor model.
type Registers struct {
	FrameLength Field // VMAX
	Shutter     Field // SHR / SHS
	Gain        Field
	RowLength   Field // HMAX
}

// Gain describes the sensor's analog gain scale.
type Gain struct {
	MaxRegister uint64 // register code at max gain
	MaxDB       uint64 // gain in dB at MaxRegister
}
