// internal/bus/bustest/space.go
package bustest

import (
	"errors"
	"sync"

	"github.com/tamzrod/camlink/internal/bus"
)

// Write is one recorded register write.
type Write struct {
	Addr  uint16
	Value byte
}

// Space is an in-memory register space that emulates a sensor's group hold
// latch: while the hold register is non-zero, writes land in a shadow bank
// and reads keep returning the latched values.
type Space struct {
	mu sync.Mutex

	holdAddr uint16
	hasHold  bool
	held     bool

	active map[uint16]byte
	shadow map[uint16]byte

	writes []Write
	reads  int

	// FailWrite, when set, is consulted before every write.
	FailWrite func(addr uint16, val byte) error
	// FailRead, when set, is consulted before every read.
	FailRead func(addr uint16) error
	// AfterWrite runs after each successful write, outside the lock.
	AfterWrite func(addr uint16, val byte)
}

// ErrNack is the default injected bus failure.
var ErrNack = errors.New("bustest: nack")

// NewSpace returns an empty register space without hold emulation.
func NewSpace() *Space {
	return &Space{active: map[uint16]byte{}, shadow: map[uint16]byte{}}
}

// WithHold enables latch emulation on the given hold register.
func (s *Space) WithHold(addr uint16) *Space {
	s.holdAddr = addr
	s.hasHold = true
	return s
}

func (s *Space) Read(addr uint16) (byte, error) {
	if s.FailRead != nil {
		if err := s.FailRead(addr); err != nil {
			return 0, bus.ReadError(addr, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.active[addr], nil
}

func (s *Space) Write(addr uint16, val byte) error {
	if s.FailWrite != nil {
		if err := s.FailWrite(addr, val); err != nil {
			return bus.WriteError(addr, val, err)
		}
	}

	s.mu.Lock()
	s.writes = append(s.writes, Write{Addr: addr, Value: val})
	switch {
	case s.hasHold && addr == s.holdAddr:
		s.active[addr] = val
		if val != 0 {
			s.held = true
		} else {
			s.held = false
			for a, v := range s.shadow {
				s.active[a] = v
			}
			s.shadow = map[uint16]byte{}
		}
	case s.held:
		s.shadow[addr] = val
	default:
		s.active[addr] = val
	}
	s.mu.Unlock()

	if s.AfterWrite != nil {
		s.AfterWrite(addr, val)
	}
	return nil
}

// Set preloads a latched register value without recording a write.
func (s *Space) Set(addr uint16, val byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[addr] = val
}

// SetValue preloads width little-endian bytes at base.
func (s *Space) SetValue(base uint16, width int, v uint64) {
	for i := 0; i < width; i++ {
		s.Set(base+uint16(i), byte(v>>(8*i)))
	}
}

// Get returns the latched value of a register.
func (s *Space) Get(addr uint16) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[addr]
}

// Value returns the latched little-endian value of width bytes at base.
func (s *Space) Value(base uint16, width int) uint64 {
	var v uint64
	for i := 0; i < width; i++ {
		v |= uint64(s.Get(base+uint16(i))) << (8 * i)
	}
	return v
}

// Held reports whether the hold latch is engaged.
func (s *Space) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Writes returns a copy of the recorded writes.
func (s *Space) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// WritesTo returns every value written to addr, in order.
func (s *Space) WritesTo(addr uint16) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, w := range s.writes {
		if w.Addr == addr {
			out = append(out, w.Value)
		}
	}
	return out
}

// Reads is the number of successful reads.
func (s *Space) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// ResetLog clears recorded writes and reads.
func (s *Space) ResetLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
	s.reads = 0
}
