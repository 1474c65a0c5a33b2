// internal/grouped/hold_test.go
package grouped

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/camlink/internal/bus/bustest"
	"github.com/tamzrod/camlink/internal/fault"
)

const (
	regHold = 0x3001
	regVMAX = 0x3030
)

func newHold(s *bustest.Space) *Hold {
	return New(s, Config{Addr: regHold, On: 1, Off: 0})
}

func TestWriteValue_LowByteFirstInsideHold(t *testing.T) {
	s := bustest.NewSpace().WithHold(regHold)
	h := newHold(s)

	require.NoError(t, h.WriteValue(regVMAX, 3, 0x0A0B0C))

	assert.Equal(t, []bustest.Write{
		{Addr: regHold, Value: 1},
		{Addr: regVMAX, Value: 0x0C},
		{Addr: regVMAX + 1, Value: 0x0B},
		{Addr: regVMAX + 2, Value: 0x0A},
		{Addr: regHold, Value: 0},
	}, s.Writes())
	assert.Equal(t, uint64(0x0A0B0C), s.Value(regVMAX, 3))
	assert.False(t, h.Active())
}

func TestNestedTransaction_OnlyOutermostTogglesHold(t *testing.T) {
	s := bustest.NewSpace().WithHold(regHold)
	h := newHold(s)

	err := h.Do(func() error {
		if err := h.WriteValue(regVMAX, 3, 2675); err != nil {
			return err
		}
		return h.WriteValue(0x3058, 3, 2000)
	})
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 0}, s.WritesTo(regHold))
	assert.Equal(t, uint64(2675), s.Value(regVMAX, 3))
	assert.Equal(t, uint64(2000), s.Value(0x3058, 3))
}

func TestWriteFailure_StillReleasesHold(t *testing.T) {
	s := bustest.NewSpace().WithHold(regHold)
	s.FailWrite = func(addr uint16, val byte) error {
		if addr == regVMAX+1 {
			return bustest.ErrNack
		}
		return nil
	}
	h := newHold(s)

	err := h.WriteValue(regVMAX, 3, 0x010203)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrBus)

	// high byte never attempted, hold released
	assert.Empty(t, s.WritesTo(regVMAX+2))
	assert.Equal(t, []byte{1, 0}, s.WritesTo(regHold))
	assert.False(t, s.Held())
	assert.Equal(t, 0, h.Depth())
}

func TestBeginFailure_LeavesDepthUnchanged(t *testing.T) {
	s := bustest.NewSpace().WithHold(regHold)
	s.FailWrite = func(addr uint16, val byte) error { return bustest.ErrNack }
	h := newHold(s)

	require.Error(t, h.WriteValue(regVMAX, 2, 1))
	assert.Equal(t, 0, h.Depth())
}

func TestEndWithoutBegin_IsProgrammingError(t *testing.T) {
	h := newHold(bustest.NewSpace())

	err := h.End()
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrProgramming))
}

func TestReadValue_AssemblesLittleEndian(t *testing.T) {
	s := bustest.NewSpace().WithHold(regHold)
	s.SetValue(0x3034, 2, 0x0226)
	h := newHold(s)

	v, err := h.ReadValue(0x3034, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0226), v)
	assert.Equal(t, []byte{1, 0}, s.WritesTo(regHold))
}

// A reader that opens a read-side hold between the writer's Begin and End
// must see only the old value at every interleaving point.
func TestReaderNeverObservesTornValue(t *testing.T) {
	const oldVal, newVal = 0x112233, 0xAABBCC

	s := bustest.NewSpace().WithHold(regHold)
	s.SetValue(regVMAX, 3, oldVal)
	h := newHold(s)

	var observed []uint64
	var readErr error
	s.AfterWrite = func(addr uint16, val byte) {
		if addr == regHold || !h.Active() {
			return
		}
		v, err := h.ReadValue(regVMAX, 3)
		if err != nil {
			readErr = err
			return
		}
		observed = append(observed, v)
	}

	require.NoError(t, h.WriteValue(regVMAX, 3, newVal))
	require.NoError(t, readErr)

	require.Len(t, observed, 3)
	for i, v := range observed {
		assert.Equalf(t, uint64(oldVal), v, "interleaving point %d saw a mixed value 0x%06x", i, v)
	}
	assert.Equal(t, uint64(newVal), s.Value(regVMAX, 3))
}
