// internal/sensor/imx900.go
package sensor

import (
	"time"

	"github.com/tamzrod/camlink/internal/bus"
	"github.com/tamzrod/camlink/internal/grouped"
	"github.com/tamzrod/camlink/internal/timing"
)

// IMX900 register map (subset used here).
const (
	imx900Standby    uint16 = 0x3000
	imx900XMSTA      uint16 = 0x3010
	imx900InckSelST0 uint16 = 0x3014
	imx900I2CSPICK   uint16 = 0x303A
	imx900HVMode     uint16 = 0x303C
	imx900VOPBHWidth uint16 = 0x30D0
	imx900FInfoWidth uint16 = 0x30D2
	imx900VMAX       uint16 = 0x30D4
	imx900HMAX       uint16 = 0x30D8
	imx900RegHold    uint16 = 0x30F8
	imx900FID0ROI    uint16 = 0x3104
	imx900ROIPH1     uint16 = 0x3120
	imx900ROIPV1     uint16 = 0x3122
	imx900ROIWH1     uint16 = 0x3124
	imx900ROIWV1     uint16 = 0x3126
	imx900SHS        uint16 = 0x3240
	imx900ODBit      uint16 = 0x3430
	imx900Gain       uint16 = 0x3514
	imx900BlackLevel uint16 = 0x35B4
	imx900LaneSel    uint16 = 0x3904

	imx900MinShutter = 51
	imx900IntOffset  = 2

	// rows of blanking added to the mode height at default GMRWT, GMRWT2,
	// GMTWT and GSDLY settings
	imx900FrameDelta            = 137
	imx900FrameDeltaSubsampled2 = 137 - 56 + 34
	imx900FrameDeltaSubsampled  = 137 - 56 + 38
)

// IMX900 mode ids.
const (
	IMX900Mode2064x1552 = iota
	IMX900ModeROI1920x1080
	IMX900ModeSubsampling2
	IMX900ModeSubsampling10
)

func imx900Limits(minFL uint64) map[int]timing.Limits {
	l := timing.Limits{
		MinFrameLength:      minFL,
		MinShutter:          imx900MinShutter,
		MinIntegrationLines: 1,
		IntegrationOffset:   imx900IntOffset,
	}
	return map[int]timing.Limits{8: l, 10: l, 12: l}
}

func imx900Mode(id int, name string, v timing.Variant, minFL uint64) timing.Mode {
	return timing.Mode{
		ID:              id,
		Name:            name,
		Variant:         v,
		FramerateFactor: 1000000000,
		MinFrameRate:    1,
		GainFactor:      10,
		Limits:          imx900Limits(minFL),
	}
}

func imx900Width(width uint16) [][]bus.Entry {
	return [][]bus.Entry{w16(imx900VOPBHWidth, width), w16(imx900FInfoWidth, width)}
}

func imx900ODBitTable(odbit, r5572, r5613 byte) bus.Table {
	return table(one(
		bus.W(imx900ODBit, odbit),
		bus.W(0x5572, r5572),
		bus.W(0x5613, r5613),
		bus.Wait(1),
	))
}

// IMX900 returns the descriptor of the Sony IMX900 3.2MP global shutter
// sensor.
func IMX900() *Descriptor {
	full := imx900Width(2064)
	roi := imx900Width(1920)
	sub2 := imx900Width(1032)

	return &Descriptor{
		Name: "imx900",
		Hold: grouped.Config{Addr: imx900RegHold, On: 0x01, Off: 0x00},
		Timing: timing.Registers{
			FrameLength: timing.Field{Addr: imx900VMAX, Width: 3},
			Shutter:     timing.Field{Addr: imx900SHS, Width: 3},
			Gain:        timing.Field{Addr: imx900Gain, Width: 2},
			RowLength:   timing.Field{Addr: imx900HMAX, Width: 2},
		},
		Gain:     timing.Gain{MaxRegister: 480, MaxDB: 48},
		InckHz:   74250000,
		BitDepth: 12,
		BitDepths: map[int]bus.Table{
			8:  imx900ODBitTable(0x02, 0x5F, 0xAF),
			10: imx900ODBitTable(0x00, 0x5F, 0xAF),
			12: imx900ODBitTable(0x01, 0x1F, 0x8F),
		},
		LaneMode: LaneMode{
			Addr:   imx900LaneSel,
			Values: map[int]byte{1: 4, 2: 3, 4: 2},
		},
		Sync: Sync{
			StartAddr:   imx900XMSTA,
			StartMaster: 0x00,
			StartSlave:  0x01,
		},
		BlackLevel: BlackLevel{
			Field:   timing.Field{Addr: imx900BlackLevel, Width: 2},
			Max:     map[int]uint64{8: 255, 10: 1023, 12: 4095},
			Default: map[int]uint64{8: 15, 10: 60, 12: 240},
		},
		Init: table(one(
			bus.W(imx900InckSelST0, 0x1E),
			bus.W(imx900InckSelST0+1, 0x92),
			bus.W(imx900InckSelST0+2, 0xE0),
			bus.W(imx900InckSelST0+3, 0x01),
			bus.W(imx900InckSelST0+4, 0xB6),
			bus.W(imx900InckSelST0+5, 0x00),
			bus.W(imx900InckSelST0+6, 0xB6),
			bus.W(imx900InckSelST0+7, 0x00),
			bus.W(imx900I2CSPICK, 0x15),
			bus.Wait(1),
		)),
		Start: table(one(
			bus.W(imx900Standby, 0x00),
			bus.Wait(20),
		)),
		Stop: table(one(
			bus.W(imx900Standby, 0x01),
			bus.Wait(20),
			bus.W(imx900XMSTA, 0x01),
			bus.Wait(30),
		)),
		Modes: []ModeSpec{
			{
				Mode:             imx900Mode(IMX900Mode2064x1552, "2064x1552", timing.VariantNormal, 1552+imx900FrameDelta),
				Width:            2064,
				Height:           1552,
				DefaultFrameRate: 60,
				Table: table(
					one(bus.W(imx900HVMode, 0x00)),
					full[0], full[1],
					one(bus.W(imx900FID0ROI, 0x00), bus.Wait(1)),
				),
			},
			{
				Mode:             imx900Mode(IMX900ModeROI1920x1080, "1920x1080", timing.VariantNormal, 1080+imx900FrameDelta),
				Width:            1920,
				Height:           1080,
				DefaultFrameRate: 60,
				Table: table(
					one(bus.W(imx900HVMode, 0x00)),
					roi[0], roi[1],
					one(bus.W(imx900FID0ROI, 0x03)),
					w16(imx900ROIPH1, 72),
					w16(imx900ROIPV1, 240),
					w16(imx900ROIWH1, 1920),
					w16(imx900ROIWV1, 1080),
					one(bus.Wait(1)),
				),
			},
			{
				Mode:             imx900Mode(IMX900ModeSubsampling2, "1032x776", timing.VariantSubsampled, 776+imx900FrameDeltaSubsampled2),
				Width:            1032,
				Height:           776,
				DefaultFrameRate: 60,
				Table: table(
					one(bus.W(imx900HVMode, 0x08)),
					sub2[0], sub2[1],
					one(bus.W(imx900FID0ROI, 0x00), bus.Wait(1)),
				),
			},
			{
				Mode:             imx900Mode(IMX900ModeSubsampling10, "2064x154", timing.VariantSubsampled, 154+imx900FrameDeltaSubsampled),
				Width:            2064,
				Height:           154,
				DefaultFrameRate: 60,
				Table: table(
					one(bus.W(imx900HVMode, 0x18)),
					full[0], full[1],
					one(bus.W(imx900FID0ROI, 0x00), bus.Wait(1)),
				),
			},
		},
		PowerSettle: 40 * time.Millisecond,
	}
}
