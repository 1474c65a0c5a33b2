// internal/bus/table_test.go
package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/camlink/internal/fault"
)

// ---- fake links ----

type singleLink struct {
	regs   map[uint16]byte
	writes []uint16
	failAt uint16
}

func newSingleLink() *singleLink {
	return &singleLink{regs: map[uint16]byte{}, failAt: 0xFFFF}
}

func (f *singleLink) Read(addr uint16) (byte, error) { return f.regs[addr], nil }

func (f *singleLink) Write(addr uint16, val byte) error {
	if addr == f.failAt {
		return WriteError(addr, val, errors.New("nack"))
	}
	f.writes = append(f.writes, addr)
	f.regs[addr] = val
	return nil
}

type burst struct {
	addr uint16
	n    int
}

type bulkLink struct {
	*singleLink
	bursts []burst
}

func (f *bulkLink) WriteBurst(addr uint16, vals []byte) error {
	f.bursts = append(f.bursts, burst{addr: addr, n: len(vals)})
	for i, v := range vals {
		f.regs[addr+uint16(i)] = v
	}
	return nil
}

// ---- tests ----

func TestWriteTable_SingleWritesInOrder(t *testing.T) {
	l := newSingleLink()
	tbl := Table{W(0x3000, 1), W(0x3001, 2), Wait(5), W(0x3100, 3), End()}

	var slept []time.Duration
	err := WriteTable(l, tbl, func(d time.Duration) { slept = append(slept, d) })
	require.NoError(t, err)

	assert.Equal(t, []uint16{0x3000, 0x3001, 0x3100}, l.writes)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, slept)
	assert.Equal(t, byte(3), l.regs[0x3100])
}

func TestWriteTable_CoalescesConsecutiveAddresses(t *testing.T) {
	l := &bulkLink{singleLink: newSingleLink()}

	tbl := Table{}
	for i := 0; i < 20; i++ {
		tbl = append(tbl, W(0x3000+uint16(i), byte(i)))
	}
	tbl = append(tbl, W(0x4000, 9), End())

	require.NoError(t, WriteTable(l, tbl, func(time.Duration) {}))

	// 16 + 4 burst, then the lone 0x4000 goes out as a single write
	assert.Equal(t, []burst{{0x3000, MaxBurst}, {0x3010, 4}}, l.bursts)
	assert.Equal(t, []uint16{0x4000}, l.writes)
	assert.Equal(t, byte(19), l.regs[0x3013])
}

func TestWriteTable_AbortsOnFirstError(t *testing.T) {
	l := newSingleLink()
	l.failAt = 0x3001

	err := WriteTable(l, Table{W(0x3000, 1), W(0x3001, 2), W(0x3002, 3), End()}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrBus)
	assert.Equal(t, []uint16{0x3000}, l.writes)
}

func TestWriteTable_RejectsUnterminatedTable(t *testing.T) {
	l := newSingleLink()

	err := WriteTable(l, Table{W(0x3000, 1)}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrConfiguration)
	assert.Empty(t, l.writes, "no write may happen before validation passes")
}

func TestTableValidate_TrailingEntries(t *testing.T) {
	err := Table{W(0x3000, 1), End(), W(0x3001, 1)}.Validate()
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}
