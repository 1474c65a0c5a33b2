// internal/status/encode.go
package status

// Encode converts a Snapshot into a full sensor status block with the name
// slots left zero.
// Layout is protocol-locked.
// No IO. No side effects.
func Encode(s Snapshot) []uint16 {
	regs := make([]uint16, SlotsPerDevice)

	regs[SlotHealthCode] = s.Health
	regs[SlotLastErrorCode] = s.LastErrorCode
	regs[SlotSecondsInError] = s.SecondsInError
	regs[SlotPower] = s.Power
	regs[SlotRole] = s.Role

	put32(regs, SlotFrameLength, s.FrameLength)
	put32(regs, SlotShutter, s.Shutter)
	regs[SlotGain] = s.Gain
	put32(regs, SlotLineTime, s.LineTime)
	put32(regs, SlotExposureMin, s.ExposureMin)
	put32(regs, SlotExposureMax, s.ExposureMax)

	return regs
}

// EncodeBlock is Encode with the device name filled in.
func EncodeBlock(s Snapshot, name []uint16) []uint16 {
	regs := Encode(s)
	copy(regs[SlotDeviceNameStart:SlotDeviceNameEnd+1], name)
	return regs
}

func put32(regs []uint16, slot int, v uint32) {
	regs[slot] = uint16(v >> 16)
	regs[slot+1] = uint16(v)
}

// EncodeName packs up to 16 ASCII characters into 8 registers.
// Each register stores two ASCII bytes in big-endian order; bytes outside
// printable ASCII become '?'.
func EncodeName(name string) []uint16 {
	out := make([]uint16, SlotDeviceNameSlots)

	b := []byte(name)
	if len(b) > DeviceNameMaxChars {
		b = b[:DeviceNameMaxChars]
	}

	for i := 0; i < len(b); i++ {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	for i := 0; i < DeviceNameMaxChars; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}

	return out
}

// Sat32 saturates v into 32 bits.
func Sat32[T ~int64 | ~uint64](v T) uint32 {
	if v < 0 {
		return 0
	}
	if uint64(v) > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(v)
}

// Sat16 saturates v into 16 bits.
func Sat16[T ~int64 | ~uint64](v T) uint16 {
	if v < 0 {
		return 0
	}
	if uint64(v) > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
