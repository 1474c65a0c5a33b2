// internal/bus/table.go
package bus

import (
	"time"

	"github.com/tamzrod/camlink/internal/fault"
)

// Op is the kind of a register table entry.
type Op uint8

const (
	OpWrite Op = iota // write Value to Addr
	OpWait            // sleep Value milliseconds
	OpEnd             // end of table
)

// Entry is one register table row.
type Entry struct {
	Op    Op
	Addr  uint16
	Value byte
}

// Table is an ordered register table terminated by an OpEnd entry.
type Table []Entry

// MaxBurst is the largest burst a table write issues in one transaction.
const MaxBurst = 16

// W is a write entry.
func W(addr uint16, val byte) Entry { return Entry{Op: OpWrite, Addr: addr, Value: val} }

// Wait is a settle entry of ms milliseconds.
func Wait(ms byte) Entry { return Entry{Op: OpWait, Value: ms} }

// End terminates a table.
func End() Entry { return Entry{Op: OpEnd} }

// Validate checks that the table is terminated and has nothing after its end.
func (t Table) Validate() error {
	for i, e := range t {
		switch e.Op {
		case OpWrite, OpWait:
		case OpEnd:
			if i != len(t)-1 {
				return fault.Configuration("register table: %d entries after end marker", len(t)-1-i)
			}
			return nil
		default:
			return fault.Configuration("register table: entry %d has unknown op %d", i, e.Op)
		}
	}
	return fault.Configuration("register table: missing end marker")
}

// WriteTable applies a table in order. Runs of consecutive addresses are
// coalesced into bursts when the link implements BulkWriter.
// The first failed transaction aborts the table.
func WriteTable(l Link, t Table, sleep Sleeper) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if sleep == nil {
		sleep = time.Sleep
	}

	bw, bulk := l.(BulkWriter)

	var (
		start uint16
		vals  = make([]byte, 0, MaxBurst)
	)

	flush := func() error {
		defer func() { vals = vals[:0] }()
		switch {
		case len(vals) == 0:
			return nil
		case len(vals) == 1 || !bulk:
			for i, v := range vals {
				if err := l.Write(start+uint16(i), v); err != nil {
					return err
				}
			}
			return nil
		default:
			return bw.WriteBurst(start, vals)
		}
	}

	for _, e := range t {
		switch e.Op {
		case OpEnd:
			return flush()

		case OpWait:
			if err := flush(); err != nil {
				return err
			}
			sleep(time.Duration(e.Value) * time.Millisecond)

		case OpWrite:
			if len(vals) > 0 && (e.Addr != start+uint16(len(vals)) || len(vals) == MaxBurst) {
				if err := flush(); err != nil {
					return err
				}
			}
			if len(vals) == 0 {
				start = e.Addr
			}
			vals = append(vals, e.Value)
		}
	}

	// unreachable: Validate guarantees a terminating end entry
	return flush()
}
