// internal/grouped/hold.go
package grouped

import (
	"errors"
	"fmt"

	"github.com/tamzrod/camlink/internal/bus"
	"github.com/tamzrod/camlink/internal/fault"
)

// Hold gives multi-register updates atomic visibility using the sensor's
// group hold (register hold) latch.
//
// While held, the sensor keeps exposing pre-transaction values to its
// internal logic; the full set latches when the hold is released.
// Transactions nest: only the outermost Begin/End pair touches the hold
// register.
//
// A Hold belongs to one device and is not safe for concurrent use; the
// owning device serializes access.
type Hold struct {
	link  bus.Link
	addr  uint16
	on    byte
	off   byte
	depth int
}

// Config describes a device's hold register.
type Config struct {
	Addr uint16
	On   byte // value that freezes the latch, usually 0x01
	Off  byte // value that releases it, usually 0x00
}

// New builds a Hold over link.
func New(link bus.Link, cfg Config) *Hold {
	return &Hold{link: link, addr: cfg.Addr, on: cfg.On, off: cfg.Off}
}

// Active reports whether a transaction is open.
func (h *Hold) Active() bool { return h.depth > 0 }

// Depth is the current nesting level.
func (h *Hold) Depth() int { return h.depth }

// Link returns the underlying register link.
func (h *Hold) Link() bus.Link { return h.link }

// Begin opens a transaction. The outermost call writes the hold register;
// on failure the nesting level is unchanged.
func (h *Hold) Begin() error {
	if h.depth == 0 {
		if err := h.link.Write(h.addr, h.on); err != nil {
			return fmt.Errorf("group hold: enable: %w", err)
		}
	}
	h.depth++
	return nil
}

// End closes a transaction. The outermost call releases the hold register.
// End without a matching Begin is a programming error.
func (h *Hold) End() error {
	if h.depth == 0 {
		return fault.Programming("group hold: end without begin (register 0x%04x)", h.addr)
	}
	h.depth--
	if h.depth > 0 {
		return nil
	}
	// depth stays at zero even if the release fails: the next Begin
	// rewrites the enable and the next End retries the release.
	if err := h.link.Write(h.addr, h.off); err != nil {
		return fmt.Errorf("group hold: release: %w", err)
	}
	return nil
}

// Do runs fn inside one transaction. The hold is released even when fn
// fails; both errors are reported.
func (h *Hold) Do(fn func() error) error {
	if err := h.Begin(); err != nil {
		return err
	}
	ferr := fn()
	eerr := h.End()
	return errors.Join(ferr, eerr)
}

// WriteSequence writes vals[i] to base+i for increasing i.
// Low address first: the sensor latches a multi-byte value when its high
// byte lands. The first failed byte aborts the rest.
func (h *Hold) WriteSequence(base uint16, vals []byte) error {
	return h.Do(func() error {
		for i, v := range vals {
			if err := h.link.Write(base+uint16(i), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteValue writes the low width bytes of val, little-endian, at base.
func (h *Hold) WriteValue(base uint16, width int, val uint64) error {
	return h.WriteSequence(base, LittleEndian(val, width))
}

// ReadValue reads width bytes at base, little-endian, under the same hold so
// the bytes belong to one latched value.
func (h *Hold) ReadValue(base uint16, width int) (uint64, error) {
	var out uint64
	err := h.Do(func() error {
		for i := 0; i < width; i++ {
			b, err := h.link.Read(base + uint16(i))
			if err != nil {
				return err
			}
			out |= uint64(b) << (8 * i)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// LittleEndian splits the low width bytes of v, least significant first.
func LittleEndian(v uint64, width int) []byte {
	out := make([]byte, width)
	for i := range out {
		out[i] = byte(v >> (8 * i))
	}
	return out
}
