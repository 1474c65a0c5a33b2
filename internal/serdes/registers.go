// internal/serdes/registers.go
package serdes

import (
	"fmt"

	"github.com/tamzrod/camlink/internal/bus"
)

// MAX96792 register map (subset used here).
const (
	regCtrl0     uint16 = 0x0010
	regLaneMap1  uint16 = 0x0333
	regLaneMap2  uint16 = 0x0334
	regLaneCtrl0 uint16 = 0x040A
	regLaneCtrl1 uint16 = 0x044A
	regLaneCtrl2 uint16 = 0x048A
	regLaneCtrl3 uint16 = 0x04CA
	regPhyRate   uint16 = 0x0474
	regPipeY     uint16 = 0x0112
	regXVSCtrl0  uint16 = 0x02B0
	regXVSCtrl1  uint16 = 0x02B1
	regXVSCtrl2  uint16 = 0x02B2

	ctrl0LinkA    byte = 0x21
	ctrl0LinkB1   byte = 0x02
	ctrl0LinkB2   byte = 0x22
	ctrl0Split1   byte = 0x03
	ctrl0Split2   byte = 0x23
	ctrl0ResetAll byte = 0x80

	gpioOutDis byte = 0x01
	gpioTxEn   byte = 0x01 << 1
	gpioRxEn   byte = 0x01 << 2

	// MaxSources is the number of serializer inputs the chip supports.
	MaxSources = 2
)

// CSIMode is the deserializer's CSI output configuration.
type CSIMode uint8

const (
	CSIMode2x4 CSIMode = iota // two 4-lane ports
	CSIMode4x2                // four 2-lane ports
)

// ParseCSIMode parses "2x4" or "4x2".
func ParseCSIMode(s string) (CSIMode, error) {
	switch s {
	case "2x4":
		return CSIMode2x4, nil
	case "4x2":
		return CSIMode4x2, nil
	}
	return 0, fmt.Errorf("serdes: unknown csi mode %q", s)
}

func (m CSIMode) String() string {
	if m == CSIMode4x2 {
		return "4x2"
	}
	return "2x4"
}

func (m CSIMode) laneMap() (byte, byte) {
	if m == CSIMode4x2 {
		return 0x44, 0x44
	}
	return 0x4E, 0xE4
}

// lanesSupported reports whether a source with n CSI lanes fits the mode.
func (m CSIMode) lanesSupported(n int) bool {
	if m == CSIMode4x2 {
		return n == 1 || n == 2
	}
	return n == 1 || n == 4
}

// Link selects the GMSL input a serializer is wired to.
type Link uint8

const (
	LinkA Link = iota
	LinkB
)

// ParseLink parses "A" or "B".
func ParseLink(s string) (Link, error) {
	switch s {
	case "A", "a":
		return LinkA, nil
	case "B", "b":
		return LinkB, nil
	}
	return 0, fmt.Errorf("serdes: unknown gmsl link %q", s)
}

func (l Link) String() string {
	if l == LinkB {
		return "B"
	}
	return "A"
}

// Port is the host CSI port a source's stream lands on.
type Port uint8

const (
	PortA Port = iota
	PortB
	PortC
	PortD
	PortE
	PortF
)

// ParsePort parses "A" through "F".
func ParsePort(s string) (Port, error) {
	if len(s) == 1 {
		c := s[0] | 0x20 // lower case
		if c >= 'a' && c <= 'f' {
			return Port(c - 'a'), nil
		}
	}
	return 0, fmt.Errorf("serdes: unknown csi port %q", s)
}

func (p Port) laneCtrl() (uint16, bool) {
	switch p {
	case PortA, PortD:
		return regLaneCtrl1, true
	case PortB, PortE:
		return regLaneCtrl2, true
	case PortC:
		return regLaneCtrl0, true
	case PortF:
		return regLaneCtrl3, true
	}
	return 0, false
}

func laneCtrlValue(lanes int) byte {
	return byte(((lanes-1)<<6)&0xF0) | 0x10
}

// gmslSetup is the one-time GMSL2 receiver configuration.
var gmslSetup = bus.Table{
	bus.W(0x0001, 0x03),
	bus.W(0x0004, 0xC3),
	bus.W(0x0006, 0x1F),
	bus.W(0x0028, 0x62),
	bus.W(0x2001, 0x01),
	bus.W(0x2101, 0x01),
	bus.W(0x0443, 0x81),
	bus.W(0x0444, 0x81),
	bus.End(),
}

// controlSetup routes video pipe Y and forwards the sync GPIOs.
var controlSetup = bus.Table{
	bus.W(regPipeY, 0x30),
	bus.W(0x0161, 0x01),
	bus.W(0x031D, 0x38),
	bus.W(0x0320, 0x38),
	bus.W(0x0040, 0x16),
	bus.W(0x02C5, 0x80|gpioOutDis|gpioTxEn),
	bus.W(0x02C6, 0x6F),
	bus.W(0x02C8, 0x80|gpioOutDis|gpioTxEn),
	bus.End(),
}
