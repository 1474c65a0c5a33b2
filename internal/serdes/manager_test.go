// internal/serdes/manager_test.go
package serdes

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/camlink/internal/bus/bustest"
	"github.com/tamzrod/camlink/internal/fault"
)

type fakeLine struct {
	name  string
	log   *[]string
	on    bool
	fail  error
	calls int
}

func (l *fakeLine) Set(on bool) error {
	l.calls++
	if l.fail != nil {
		return l.fail
	}
	l.on = on
	state := "off"
	if on {
		state = "on"
	}
	*l.log = append(*l.log, l.name+"="+state)
	return nil
}

type rig struct {
	m     *Manager
	space *bustest.Space
	reset *fakeLine
	rail  *fakeLine
	log   []string
	waits []time.Duration
}

func newRig(t *testing.T, mode CSIMode, maxSources int) *rig {
	t.Helper()
	r := &rig{space: bustest.NewSpace()}
	r.reset = &fakeLine{name: "reset", log: &r.log}
	r.rail = &fakeLine{name: "rail", log: &r.log}

	m, err := New(Config{
		ID:         "des0",
		CSIMode:    mode,
		MaxSources: maxSources,
		Power:      DefaultSequence(r.reset, r.rail, DefaultPowerTiming),
	}, r.space)
	require.NoError(t, err)

	m.SetSleeper(func(d time.Duration) {
		r.waits = append(r.waits, d)
		r.log = append(r.log, "wait "+d.String())
	})
	r.m = m
	return r
}

func TestPowerOnSequence(t *testing.T) {
	r := newRig(t, CSIMode2x4, 2)

	require.NoError(t, r.m.PowerOn())
	assert.Equal(t, []string{"reset=on", "wait 30µs", "rail=on", "wait 2s"}, r.log)
	assert.Equal(t, 1, r.m.RefCount())

	// second reference does not touch the hardware
	r.log = nil
	require.NoError(t, r.m.PowerOn())
	assert.Empty(t, r.log)
	assert.Equal(t, 2, r.m.RefCount())
}

func TestPowerRefCountNBalanced(t *testing.T) {
	const n = 3
	r := newRig(t, CSIMode2x4, 2)

	for i := 0; i < n; i++ {
		require.NoError(t, r.m.PowerOn())
	}
	require.NoError(t, r.m.Attach(Source{ID: "s0", Link: LinkA, Lanes: 4}))
	require.NoError(t, r.m.SetupLinkOnce("s0"))
	require.NoError(t, r.m.SetupLanesOnce())

	for i := 0; i < n-1; i++ {
		require.NoError(t, r.m.PowerOff())
	}
	assert.True(t, r.m.Powered())
	assert.True(t, r.rail.on)
	assert.True(t, r.m.LinkSetup())
	assert.True(t, r.m.LaneSetup())

	require.NoError(t, r.m.PowerOff())
	assert.Equal(t, 0, r.m.RefCount())
	assert.False(t, r.rail.on)
	assert.False(t, r.reset.on)
	assert.False(t, r.m.LinkSetup())
	assert.False(t, r.m.LaneSetup())
}

func TestPowerOffUnderflow(t *testing.T) {
	r := newRig(t, CSIMode2x4, 1)

	err := r.m.PowerOff()
	assert.True(t, errors.Is(err, fault.ErrProgramming))
	assert.Equal(t, 0, r.m.RefCount())
	assert.Zero(t, r.rail.calls)
}

func TestFailedPowerOnLeavesCountAndLinesOff(t *testing.T) {
	r := newRig(t, CSIMode2x4, 1)
	r.rail.fail = errors.New("regulator")

	err := r.m.PowerOn()
	require.Error(t, err)
	assert.Equal(t, 0, r.m.RefCount())
	// reset raised then dropped again
	assert.Equal(t, []string{"reset=on", "wait 30µs", "reset=off"}, r.log)

	r.rail.fail = nil
	require.NoError(t, r.m.PowerOn())
	assert.Equal(t, 1, r.m.RefCount())
}

func TestSetupOnceIsIdempotent(t *testing.T) {
	r := newRig(t, CSIMode2x4, 2)
	require.NoError(t, r.m.PowerOn())
	require.NoError(t, r.m.Attach(Source{ID: "s0", Link: LinkB, Lanes: 4}))

	require.NoError(t, r.m.SetupLinkOnce("s0"))
	require.NoError(t, r.m.SetupLinkOnce("s0"))
	assert.Equal(t, []byte{ctrl0LinkB1, ctrl0LinkB2}, r.space.WritesTo(regCtrl0))

	require.NoError(t, r.m.SetupLanesOnce())
	require.NoError(t, r.m.SetupLanesOnce())
	assert.Equal(t, []byte{0x4E}, r.space.WritesTo(regLaneMap1))
	assert.Equal(t, []byte{0xE4}, r.space.WritesTo(regLaneMap2))
}

func TestSetupRedoneAfterFullPowerCycle(t *testing.T) {
	r := newRig(t, CSIMode4x2, 1)
	require.NoError(t, r.m.Attach(Source{ID: "s0", Link: LinkA, Lanes: 2}))

	require.NoError(t, r.m.PowerOn())
	require.NoError(t, r.m.SetupLanesOnce())
	require.NoError(t, r.m.PowerOff())

	require.NoError(t, r.m.PowerOn())
	require.NoError(t, r.m.SetupLanesOnce())
	assert.Equal(t, []byte{0x44, 0x44}, r.space.WritesTo(regLaneMap1))
}

func TestSetupWhilePoweredOffIsProgrammingError(t *testing.T) {
	r := newRig(t, CSIMode2x4, 1)
	require.NoError(t, r.m.Attach(Source{ID: "s0", Link: LinkA, Lanes: 4}))

	assert.True(t, errors.Is(r.m.SetupLanesOnce(), fault.ErrProgramming))
	assert.True(t, errors.Is(r.m.SetupLinkOnce("s0"), fault.ErrProgramming))
	assert.Empty(t, r.space.Writes())
}

func TestAttachRules(t *testing.T) {
	r := newRig(t, CSIMode2x4, 2)
	require.NoError(t, r.m.Attach(Source{ID: "s0", Link: LinkA, Lanes: 4}))

	tests := []struct {
		name string
		src  Source
		kind error
	}{
		{"same link", Source{ID: "s1", Link: LinkA, Lanes: 4}, fault.ErrConfiguration},
		{"lane mismatch", Source{ID: "s1", Link: LinkB, Lanes: 1}, fault.ErrConfiguration},
		{"unsupported lanes", Source{ID: "s1", Link: LinkB, Lanes: 2}, fault.ErrConfiguration},
		{"bad port", Source{ID: "s1", Link: LinkB, Lanes: 4, Port: Port(9)}, fault.ErrConfiguration},
		{"twice", Source{ID: "s0", Link: LinkB, Lanes: 4}, fault.ErrProgramming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.m.Attach(tt.src)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}

	require.NoError(t, r.m.Attach(Source{ID: "s1", Link: LinkB, Lanes: 4}))
	err := r.m.Attach(Source{ID: "s2", Link: LinkB, Lanes: 4})
	assert.True(t, errors.Is(err, fault.ErrConfiguration))
	assert.Len(t, r.m.Sources(), 2)
}

func TestDetachLastSourceResetsContext(t *testing.T) {
	r := newRig(t, CSIMode2x4, 2)
	require.NoError(t, r.m.PowerOn())
	require.NoError(t, r.m.Attach(Source{ID: "s0", Link: LinkA, Lanes: 4}))
	require.NoError(t, r.m.Attach(Source{ID: "s1", Link: LinkB, Lanes: 4}))
	require.NoError(t, r.m.SetupLinkOnce("s0"))

	require.NoError(t, r.m.Detach("s0"))
	assert.True(t, r.m.LinkSetup())

	require.NoError(t, r.m.Detach("s1"))
	assert.False(t, r.m.LinkSetup())

	assert.True(t, errors.Is(r.m.Detach("s1"), fault.ErrProgramming))
}

func TestSetupStreamingWritesPortLaneControl(t *testing.T) {
	r := newRig(t, CSIMode2x4, 2)
	require.NoError(t, r.m.PowerOn())
	require.NoError(t, r.m.Attach(Source{ID: "s0", Link: LinkA, Lanes: 4, Port: PortC}))
	require.NoError(t, r.m.Attach(Source{ID: "s1", Link: LinkB, Lanes: 4, Port: PortA}))

	require.NoError(t, r.m.SetupStreaming("s0"))
	require.NoError(t, r.m.SetupStreaming("s1"))

	assert.Equal(t, []byte{0xD0}, r.space.WritesTo(regLaneCtrl0))
	assert.Equal(t, []byte{0xD0}, r.space.WritesTo(regLaneCtrl1))
	assert.Len(t, r.space.WritesTo(regLaneMap1), 1)
	assert.Equal(t, []byte{0x19, 0x19}, r.space.WritesTo(regPhyRate))
}

func TestSplitterEnabledForTwoSerializers(t *testing.T) {
	r := newRig(t, CSIMode2x4, 2)
	require.NoError(t, r.m.PowerOn())
	require.NoError(t, r.m.Attach(Source{ID: "s0", Link: LinkA, Lanes: 4}))
	require.NoError(t, r.m.Attach(Source{ID: "s1", Link: LinkB, Lanes: 4}))

	require.NoError(t, r.m.SetupLinkOnce("s0"))
	require.NoError(t, r.m.SetupControl("s0", true))
	require.NoError(t, r.m.SetupLinkOnce("s1"))
	require.NoError(t, r.m.SetupControl("s1", true))

	assert.Equal(t, []byte{ctrl0LinkA, ctrl0Split1, ctrl0Split2}, r.space.WritesTo(regCtrl0))

	require.NoError(t, r.m.ResetControl("s0"))
	require.NoError(t, r.m.ResetControl("s1"))
	ctrl := r.space.WritesTo(regCtrl0)
	assert.Equal(t, ctrl0ResetAll, ctrl[len(ctrl)-1])
	assert.False(t, r.m.LinkSetup())
}

func TestSingleSerializerFallsBackToItsLink(t *testing.T) {
	r := newRig(t, CSIMode2x4, 2)
	require.NoError(t, r.m.PowerOn())
	require.NoError(t, r.m.Attach(Source{ID: "s0", Link: LinkA, Lanes: 4}))
	require.NoError(t, r.m.Attach(Source{ID: "s1", Link: LinkB, Lanes: 4}))

	require.NoError(t, r.m.SetupLinkOnce("s1"))
	require.NoError(t, r.m.SetupControl("s1", true))
	require.NoError(t, r.m.SetupControl("s0", false))

	// no splitter: only the initial link B selection
	assert.Equal(t, []byte{ctrl0LinkB1, ctrl0LinkB2}, r.space.WritesTo(regCtrl0))
}

func TestControlBeforeLinkSetup(t *testing.T) {
	r := newRig(t, CSIMode2x4, 1)
	require.NoError(t, r.m.PowerOn())
	require.NoError(t, r.m.Attach(Source{ID: "s0", Link: LinkA, Lanes: 4}))

	err := r.m.SetupControl("s0", true)
	assert.True(t, errors.Is(err, fault.ErrProgramming))
}

func TestWriteFailureIsBusError(t *testing.T) {
	r := newRig(t, CSIMode2x4, 1)
	require.NoError(t, r.m.PowerOn())
	require.NoError(t, r.m.Attach(Source{ID: "s0", Link: LinkA, Lanes: 4}))
	r.space.FailWrite = func(uint16, byte) error { return bustest.ErrNack }

	err := r.m.SetupLanesOnce()
	assert.True(t, errors.Is(err, fault.ErrBus))
	assert.False(t, r.m.LaneSetup())
}

func TestParsers(t *testing.T) {
	m, err := ParseCSIMode("4x2")
	require.NoError(t, err)
	assert.Equal(t, CSIMode4x2, m)
	_, err = ParseCSIMode("1x8")
	assert.Error(t, err)

	l, err := ParseLink("b")
	require.NoError(t, err)
	assert.Equal(t, LinkB, l)

	p, err := ParsePort("F")
	require.NoError(t, err)
	assert.Equal(t, PortF, p)
	_, err = ParsePort("G")
	assert.Error(t, err)
}
