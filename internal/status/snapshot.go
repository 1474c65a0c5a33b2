// internal/status/snapshot.go
package status

// Snapshot represents exactly what the writer is allowed to deliver.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16

	Power uint16
	Role  uint16

	FrameLength uint32
	Shutter     uint32
	Gain        uint16
	LineTime    uint32
	ExposureMin uint32
	ExposureMax uint32
}
