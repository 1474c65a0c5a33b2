// internal/sensor/imx335.go
package sensor

import (
	"time"

	"github.com/tamzrod/camlink/internal/bus"
	"github.com/tamzrod/camlink/internal/grouped"
	"github.com/tamzrod/camlink/internal/timing"
)

// IMX335 register map (subset used here).
const (
	imx335Standby      uint16 = 0x3000
	imx335RegHold      uint16 = 0x3001
	imx335XMSTA        uint16 = 0x3002
	imx335SecondSlave  uint16 = 0x3010
	imx335WinMode      uint16 = 0x3018
	imx335HTrimStart   uint16 = 0x302C
	imx335HNum         uint16 = 0x302E
	imx335VMAX         uint16 = 0x3030
	imx335HMAX         uint16 = 0x3034
	imx335OPBSizeV     uint16 = 0x304C
	imx335HReverse     uint16 = 0x304E
	imx335VReverse     uint16 = 0x304F
	imx335ADBit        uint16 = 0x3050
	imx335YOutSize     uint16 = 0x3056
	imx335SHR0         uint16 = 0x3058
	imx335Area2Width   uint16 = 0x3072
	imx335Area3Start   uint16 = 0x3074
	imx335Area3Width   uint16 = 0x3076
	imx335BlackOffset  uint16 = 0x30C6
	imx335UnreadMax    uint16 = 0x30CE
	imx335UnreadEnd    uint16 = 0x30D8
	imx335Gain         uint16 = 0x30E8
	imx335VAddHAdd     uint16 = 0x3199
	imx335MDBit        uint16 = 0x319D
	imx335XVSDrive     uint16 = 0x31A1
	imx335ExtMode      uint16 = 0x31D9
	imx335TCycle       uint16 = 0x3300
	imx335BlackLevel   uint16 = 0x3302
	imx335ADBit1Low    uint16 = 0x341C
	imx335ADBit1High   uint16 = 0x341D
	imx335OperationSel uint16 = 0x37B0
	imx335LaneMode     uint16 = 0x3A01

	imx335MinShutter        = 9
	imx335MinShutterBinning = 17
	imx335MinFrameDelta     = 96
)

// IMX335 mode ids.
const (
	IMX335Mode2616x1964 = iota
	IMX335ModeCrop1920x1080
	IMX335ModeBinning1320x984
)

func w16(addr uint16, v uint16) []bus.Entry {
	return []bus.Entry{bus.W(addr, byte(v)), bus.W(addr+1, byte(v>>8))}
}

func table(parts ...[]bus.Entry) bus.Table {
	var t bus.Table
	for _, p := range parts {
		t = append(t, p...)
	}
	return append(t, bus.End())
}

func one(entries ...bus.Entry) []bus.Entry { return entries }

func imx335Limits(minFL, minShutter uint64) map[int]timing.Limits {
	l := timing.Limits{
		MinFrameLength:      minFL,
		MinShutter:          minShutter,
		MinIntegrationLines: 1,
	}
	return map[int]timing.Limits{10: l, 12: l}
}

// IMX335 returns the descriptor of the Sony IMX335 5MP rolling shutter
// sensor.
func IMX335() *Descriptor {
	return &Descriptor{
		Name: "imx335",
		Hold: grouped.Config{Addr: imx335RegHold, On: 0x01, Off: 0x00},
		Timing: timing.Registers{
			FrameLength: timing.Field{Addr: imx335VMAX, Width: 3},
			Shutter:     timing.Field{Addr: imx335SHR0, Width: 3},
			Gain:        timing.Field{Addr: imx335Gain, Width: 2},
			RowLength:   timing.Field{Addr: imx335HMAX, Width: 2},
		},
		Gain:     timing.Gain{MaxRegister: 240, MaxDB: 72},
		InckHz:   74250000,
		BitDepth: 12,
		BitDepths: map[int]bus.Table{
			10: table(one(
				bus.W(imx335ADBit, 0x00),
				bus.W(imx335ADBit1High, 0x01),
				bus.W(imx335ADBit1Low, 0xFF),
				bus.W(imx335MDBit, 0x00),
				bus.Wait(1),
			)),
			12: table(one(
				bus.W(imx335ADBit, 0x01),
				bus.W(imx335ADBit1High, 0x00),
				bus.W(imx335ADBit1Low, 0x47),
				bus.W(imx335MDBit, 0x01),
				bus.Wait(1),
			)),
		},
		SecondaryAddress: imx335SecondSlave,
		LaneMode: LaneMode{
			Addr:   imx335LaneMode,
			Values: map[int]byte{2: 0x01, 4: 0x03},
		},
		Sync: Sync{
			OperationAddr: imx335OperationSel,
			Master:        0x36,
			Slave:         0x37,

			ExternalAddr: imx335ExtMode,
			External:     0x01,
			Internal:     0x00,

			DriveAddr:           imx335XVSDrive,
			DriveMasterInternal: 0x00,
			DriveMasterExternal: 0x03,
			DriveSlave:          0x0F,
			DriveHiZ:            0x0F,

			StartAddr:   imx335XMSTA,
			StartMaster: 0x00,
			StartSlave:  0x01,
		},
		BlackLevel: BlackLevel{
			Field:   timing.Field{Addr: imx335BlackLevel, Width: 2},
			Max:     map[int]uint64{10: 1023, 12: 4095},
			Default: map[int]uint64{10: 50, 12: 200},
			Shift:   map[int]uint{10: 0, 12: 2},
		},
		Init: table(
			one(
				bus.W(imx335HReverse, 0x00),
				bus.W(imx335VReverse, 0x00),
				bus.W(imx335WinMode, 0x00),
			),
			// 4500 rows, 660 clocks
			one(bus.W(imx335VMAX, 0x94), bus.W(imx335VMAX+1, 0x11), bus.W(imx335VMAX+2, 0x00)),
			w16(imx335HMAX, 0x0294),
			one(
				bus.W(imx335OPBSizeV, 0x14),
				bus.W(imx335VAddHAdd, 0x00),
				bus.W(imx335LaneMode, 0x03),
				bus.W(0x3288, 0x21),
				bus.W(0x328A, 0x02),
				bus.W(0x3414, 0x05),
				bus.W(0x3416, 0x18),
				bus.W(0x3648, 0x01),
				bus.W(0x364A, 0x04),
				bus.Wait(1),
			),
		),
		Start: table(one(
			bus.W(imx335Standby, 0x00),
			bus.Wait(30),
			bus.Wait(1),
		)),
		Stop: table(one(
			bus.W(imx335XMSTA, 0x01),
			bus.Wait(30),
			bus.W(imx335Standby, 0x01),
			bus.Wait(1),
		)),
		Modes: []ModeSpec{
			{
				Mode: timing.Mode{
					ID:              IMX335Mode2616x1964,
					Name:            "2616x1964",
					Variant:         timing.VariantNormal,
					FramerateFactor: 1000000000,
					MinFrameRate:    1,
					GainFactor:      10,
					Limits:          imx335Limits(4500, imx335MinShutter),
				},
				Width:            2616,
				Height:           1964,
				DefaultFrameRate: 25,
				Table: table(
					one(
						bus.W(imx335WinMode, 0x00),
						bus.W(imx335Area2Width, 0x28),
						bus.W(imx335VAddHAdd, 0x00),
						bus.W(imx335TCycle, 0x00),
					),
					w16(imx335YOutSize, 1964),
					w16(imx335Area3Start, 40),
					w16(imx335Area3Width, 3928),
					one(bus.Wait(1)),
				),
			},
			{
				Mode: timing.Mode{
					ID:              IMX335ModeCrop1920x1080,
					Name:            "1920x1080",
					Variant:         timing.VariantNormal,
					FramerateFactor: 1000000000,
					MinFrameRate:    1,
					GainFactor:      10,
					Limits:          imx335Limits(1080*2+imx335MinFrameDelta, imx335MinShutter),
				},
				Width:            1920,
				Height:           1080,
				DefaultFrameRate: 45,
				Table: table(
					one(
						bus.W(imx335WinMode, 4),
						bus.W(imx335VAddHAdd, 0),
						bus.W(imx335TCycle, 0),
					),
					w16(imx335HTrimStart, 396),
					w16(imx335HNum, 1920),
					w16(imx335Area3Start, 1060),
					w16(imx335Area3Width, 2160),
					w16(imx335YOutSize, 1080),
					one(
						bus.W(imx335BlackOffset, 18),
						bus.W(imx335UnreadMax, 100),
					),
					w16(imx335UnreadEnd, 3428),
					one(bus.Wait(1)),
				),
			},
			{
				Mode: timing.Mode{
					ID:              IMX335ModeBinning1320x984,
					Name:            "1320x984",
					Variant:         timing.VariantBinning,
					FramerateFactor: 1000000000,
					MinFrameRate:    1,
					GainFactor:      10,
					Limits:          imx335Limits(4500, imx335MinShutterBinning),
				},
				Width:            1320,
				Height:           984,
				DefaultFrameRate: 25,
				Table: table(
					one(
						bus.W(imx335WinMode, 0x01),
						bus.W(imx335Area2Width, 0x30),
						bus.W(imx335VAddHAdd, 0x30),
						bus.W(imx335TCycle, 0x01),
					),
					w16(imx335YOutSize, 984),
					w16(imx335Area3Start, 168),
					w16(imx335Area3Width, 3936),
					one(bus.Wait(1)),
				),
			},
		},
		PowerSettle: 40 * time.Millisecond,
	}
}
