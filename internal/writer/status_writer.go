// internal/writer/status_writer.go
package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/camlink/internal/status"
)

// StatusWriter is the delivery-only contract for sensor status.
// It receives a snapshot and writes it verbatim.
// No logic, no interpretation.
type StatusWriter interface {
	WriteStatus(s status.Snapshot) error
}

// deviceStatusWriter owns one sensor's block in status memory.
type deviceStatusWriter struct {
	plan StatusPlan
	cli  endpointClient

	needFull bool
	last     []uint16 // live slots as last delivered
	nameRegs []uint16
}

// NewDeviceStatusWriter builds the status writer of one sensor.
func NewDeviceStatusWriter(plan StatusPlan, cli endpointClient) *deviceStatusWriter {
	return &deviceStatusWriter{
		plan:     plan,
		cli:      cli,
		needFull: true, // full re-assert on first write
		nameRegs: status.EncodeName(plan.DeviceName),
	}
}

// WriteStatus delivers a snapshot into status memory: the full block on
// the first call and after any failure, changed slots otherwise.
// Consecutive changed slots go out as one write.
func (sw *deviceStatusWriter) WriteStatus(s status.Snapshot) error {
	if sw == nil {
		return errors.New("status writer: disabled")
	}
	if sw.cli == nil {
		return fmt.Errorf("status writer: missing client for endpoint %s", sw.plan.Endpoint)
	}

	if sw.plan.BaseSlot > status.MaxSlot {
		return fmt.Errorf("status writer: sensor %s: status slot %d out of range", sw.plan.SensorID, sw.plan.BaseSlot)
	}
	baseAddr := sw.baseAddr()

	// ------------------------------------------------------------
	// Full block write (identity re-assert)
	// ------------------------------------------------------------
	if sw.needFull {
		regs := status.EncodeBlock(s, sw.nameRegs)

		if err := sw.cli.WriteRegisters(sw.plan.UnitID, baseAddr, regs); err != nil {
			sw.needFull = true
			return fmt.Errorf("status writer: sensor %s: full block write failed: %w", sw.plan.SensorID, err)
		}

		sw.needFull = false
		sw.last = regs[:status.SlotDeviceNameStart]
		return nil
	}

	next := status.Encode(s)[:status.SlotDeviceNameStart]

	var errs []string
	for start := 0; start < len(next); {
		if next[start] == sw.last[start] {
			start++
			continue
		}
		end := start + 1
		for end < len(next) && next[end] != sw.last[end] {
			end++
		}

		if err := sw.cli.WriteRegisters(sw.plan.UnitID, baseAddr+uint16(start), next[start:end]); err != nil {
			errs = append(errs, fmt.Sprintf("slots %d-%d write failed: %v", start, end-1, err))
		} else {
			copy(sw.last[start:end], next[start:end])
		}
		start = end
	}

	if len(errs) > 0 {
		// Any partial failure introduces doubt; re-assert on next call.
		sw.needFull = true
		return fmt.Errorf("status writer: sensor %s: %s", sw.plan.SensorID, strings.Join(errs, " | "))
	}

	return nil
}

func (sw *deviceStatusWriter) baseAddr() uint16 {
	// Each sensor owns a fixed SlotsPerDevice block.
	return sw.plan.BaseSlot * status.SlotsPerDevice
}
