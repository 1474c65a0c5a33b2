// internal/status/constants.go
package status

// Sensor Status Block layout constants.
// These values define the protocol and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of logical slots per sensor.
const SlotsPerDevice = 24

// MaxSlot is the highest status slot whose block fits below register 0xFFFF.
const MaxSlot = 0x10000/SlotsPerDevice - 1

// ---- SLOT INDICES ----

// SlotHealthCode holds the sensor health state.
const SlotHealthCode = 0

// SlotLastErrorCode holds the fault category of the last error.
const SlotLastErrorCode = 1

// SlotSecondsInError holds the duration (in seconds) the sensor has been in error.
const SlotSecondsInError = 2

// SlotPower holds the power state (see Power* codes).
const SlotPower = 3

// SlotRole holds the broadcast role: 0 unicast, 1 broadcast.
const SlotRole = 4

// Two-slot values are big-endian: high word first.

// SlotFrameLength holds the committed frame length in rows.
const SlotFrameLength = 5

// SlotShutter holds the committed shutter register value.
const SlotShutter = 7

// SlotGain holds the committed gain register value.
const SlotGain = 9

// SlotLineTime holds the line time in ns.
const SlotLineTime = 10

// SlotExposureMin holds the lower exposure bound in us.
const SlotExposureMin = 12

// SlotExposureMax holds the upper exposure bound in us.
const SlotExposureMax = 14

// ---- DEVICE NAME ----

// SlotDeviceNameStart is the first slot used for the device name.
// Device name is always placed at the END of the status block.
const SlotDeviceNameStart = 16

// SlotDeviceNameSlots is the number of slots reserved for the device name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameEnd is the last slot used for the device name (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// ---- LIMITS ----

// DeviceNameMaxChars is the maximum number of ASCII characters stored for device name.
const DeviceNameMaxChars = 16

// ---- HEALTH CODES ----

// HealthUnknown represents an unknown or boot state.
const HealthUnknown uint16 = 0

// HealthOK represents a healthy sensor.
const HealthOK uint16 = 1

// HealthError represents a sensor whose last operation failed.
const HealthError uint16 = 2

// HealthStale represents a sensor that could not be sampled.
const HealthStale uint16 = 3

// HealthDisabled represents a powered-off sensor.
const HealthDisabled uint16 = 4

// ---- POWER CODES ----

const (
	PowerOff       uint16 = 0
	PowerOn        uint16 = 1
	PowerStreaming uint16 = 2
)
