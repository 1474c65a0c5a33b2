// internal/timing/model_test.go
package timing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/camlink/internal/bus/bustest"
	"github.com/tamzrod/camlink/internal/fault"
	"github.com/tamzrod/camlink/internal/grouped"
)

var testRegs = Registers{
	FrameLength: Field{Addr: 0x3030, Width: 3},
	Shutter:     Field{Addr: 0x3058, Width: 3},
	Gain:        Field{Addr: 0x30E8, Width: 2},
	RowLength:   Field{Addr: 0x3034, Width: 2},
}

// 1 GHz input clock: the row length register reads directly as
// nanoseconds per line.
const testInck = 1000000000

var testMode = Mode{
	ID:              0,
	Name:            "test",
	FramerateFactor: 2376000000,
	MinFrameRate:    1,
	GainFactor:      10,
	Limits: map[int]Limits{
		10: {MinFrameLength: 1090, MinShutter: 36, MinIntegrationLines: 1, IntegrationOffset: 2},
		12: {MinFrameLength: 3000, MinShutter: 36, MinIntegrationLines: 1, IntegrationOffset: 2},
	},
}

type rangeEvent struct {
	kind        string
	min, max    int64
	frameLength uint64 // VMAX as seen on the device at callback time
}

type recordingObserver struct {
	space  *bustest.Space
	events []rangeEvent
}

func (o *recordingObserver) ExposureRangeChanged(min, max int64) {
	o.events = append(o.events, rangeEvent{"exposure", min, max, o.space.Value(0x3030, 3)})
}

func (o *recordingObserver) FrameRateRangeChanged(min, max uint64) {
	o.events = append(o.events, rangeEvent{"fps", int64(min), int64(max), o.space.Value(0x3030, 3)})
}

func newTestModel(t *testing.T) (*Model, *bustest.Space) {
	t.Helper()

	// no latch emulation: observers see writes immediately
	space := bustest.NewSpace()
	space.SetValue(0x3034, 2, 14792)
	space.SetValue(0x3030, 3, 1100)

	hold := grouped.New(space, grouped.Config{Addr: 0x3001, On: 1, Off: 0})
	m, err := New(Config{
		Registers: testRegs,
		Gain:      Gain{MaxRegister: 240, MaxDB: 72},
		InckHz:    testInck,
	}, hold)
	require.NoError(t, err)
	return m, space
}

func TestFrameRateAndExposureEndToEnd(t *testing.T) {
	m, space := newTestModel(t)
	require.NoError(t, m.ApplyMode(testMode, 10))

	st := m.State()
	assert.Equal(t, uint64(14792), st.LineTime)
	assert.Equal(t, uint64(1100), st.FrameLength)
	assert.Equal(t, uint64(147), st.FrameRateMax)

	// 2376000000 / (60 * 14792) = 2677.15
	require.NoError(t, m.SetFrameRate(60))
	assert.Equal(t, uint64(2677), space.Value(0x3030, 3))

	// (10000 - 2) * 1000 / 14792 = 675 lines
	require.NoError(t, m.SetExposure(10000))
	assert.Equal(t, uint64(2002), space.Value(0x3058, 3))

	st = m.State()
	assert.Equal(t, int64(10000), st.Exposure)
	assert.Equal(t, uint64(2002), st.Shutter)
	assert.Equal(t, int64(16), st.ExposureMin)
	assert.Equal(t, int64(39067), st.ExposureMax)
}

func TestFrameLengthNeverBelowMinimum(t *testing.T) {
	m, space := newTestModel(t)
	space.SetValue(0x3030, 3, 200)

	require.NoError(t, m.ApplyMode(testMode, 10))
	assert.Equal(t, uint64(1090), space.Value(0x3030, 3))

	for _, fps := range []uint64{0, 1, 60, 147, 148, 100000} {
		require.NoError(t, m.SetFrameRate(fps))
		assert.GreaterOrEqual(t, space.Value(0x3030, 3), uint64(1090), "fps %d", fps)
	}
}

func TestFrameRateClampedToRange(t *testing.T) {
	m, _ := newTestModel(t)
	require.NoError(t, m.ApplyMode(testMode, 10))

	require.NoError(t, m.SetFrameRate(1000))
	st := m.State()
	assert.Equal(t, uint64(147), st.FrameRate)
	assert.Equal(t, uint64(1093), st.FrameLength)
}

func TestExposureClampedToRange(t *testing.T) {
	m, space := newTestModel(t)
	require.NoError(t, m.ApplyMode(testMode, 10))
	require.NoError(t, m.SetFrameRate(60))

	require.NoError(t, m.SetExposure(1000000000))
	st := m.State()
	assert.Equal(t, st.ExposureMax, st.Exposure)
	assert.Equal(t, uint64(37), space.Value(0x3058, 3))

	require.NoError(t, m.SetExposure(-5))
	st = m.State()
	assert.Equal(t, st.ExposureMin, st.Exposure)
	// shutter ceiling is frame_length - min integration lines
	assert.Equal(t, uint64(2676), space.Value(0x3058, 3))
}

func TestExposureRangeRecomputedAfterFrameLengthCommit(t *testing.T) {
	m, space := newTestModel(t)
	obs := &recordingObserver{space: space}
	m.SetObserver(obs)

	require.NoError(t, m.ApplyMode(testMode, 10))
	obs.events = nil

	require.NoError(t, m.SetFrameRate(60))
	require.Len(t, obs.events, 1)

	ev := obs.events[0]
	assert.Equal(t, "exposure", ev.kind)
	assert.Equal(t, uint64(2677), ev.frameLength)
	assert.Equal(t, int64((2677-36)*14792/1000+2), ev.max)
}

func TestFrameRateChangeReappliesExposure(t *testing.T) {
	m, space := newTestModel(t)
	require.NoError(t, m.ApplyMode(testMode, 10))
	require.NoError(t, m.SetFrameRate(60))
	require.NoError(t, m.SetExposure(10000))

	require.NoError(t, m.SetFrameRate(30))
	fl := space.Value(0x3030, 3)
	assert.Equal(t, uint64(5354), fl)
	assert.Equal(t, fl-675, space.Value(0x3058, 3))
	assert.Equal(t, int64(10000), m.State().Exposure)
}

func TestFrameRateCommitsShutterInSameHold(t *testing.T) {
	m, space := newTestModel(t)
	require.NoError(t, m.ApplyMode(testMode, 10))
	require.NoError(t, m.SetFrameRate(30))
	require.NoError(t, m.SetExposure(10000))

	space.ResetLog()
	require.NoError(t, m.SetFrameRate(60))

	var holds []byte
	var vmax, shr int
	for _, w := range space.Writes() {
		switch {
		case w.Addr == 0x3001:
			holds = append(holds, w.Value)
		case w.Addr >= 0x3030 && w.Addr < 0x3033:
			vmax++
		case w.Addr >= 0x3058 && w.Addr < 0x305B:
			shr++
		}
	}
	assert.Equal(t, []byte{1, 0}, holds, "one hold around frame length and shutter")
	assert.Equal(t, 3, vmax)
	assert.Equal(t, 3, shr)
	assert.Equal(t, uint64(2677-675), space.Value(0x3058, 3))
}

func TestBitDepthChangeRecomputesRanges(t *testing.T) {
	m, space := newTestModel(t)
	require.NoError(t, m.ApplyMode(testMode, 10))
	require.NoError(t, m.SetFrameRate(60))

	require.NoError(t, m.SetBitDepth(12))
	st := m.State()
	assert.Equal(t, uint64(3000), st.MinFrameLength)
	assert.Equal(t, uint64(3000), space.Value(0x3030, 3))
	assert.Equal(t, uint64(2376000000/(3000*14792)), st.FrameRateMax)
	assert.Equal(t, int64((3000-36)*14792/1000+2), st.ExposureMax)

	err := m.SetBitDepth(8)
	assert.True(t, errors.Is(err, fault.ErrConfiguration))
	assert.Equal(t, 12, m.State().BitDepth)
}

func TestGainConversion(t *testing.T) {
	m, space := newTestModel(t)
	require.NoError(t, m.ApplyMode(testMode, 10))

	tests := []struct {
		target int64
		want   uint64
	}{
		{0, 0},
		{360, 120},
		{720, 240},
		{-5, 0},
		{10000, 240},
	}
	for _, tt := range tests {
		require.NoError(t, m.SetGain(tt.target))
		assert.Equal(t, tt.want, space.Value(0x30E8, 2), "target %d", tt.target)
	}
}

func TestControlsBeforeModeAreProgrammingErrors(t *testing.T) {
	m, space := newTestModel(t)

	for name, err := range map[string]error{
		"frame rate": m.SetFrameRate(60),
		"exposure":   m.SetExposure(10000),
		"gain":       m.SetGain(10),
		"bit depth":  m.SetBitDepth(10),
	} {
		assert.True(t, errors.Is(err, fault.ErrProgramming), name)
	}
	assert.Empty(t, space.WritesTo(0x3058))
}

func TestApplyModeRejectsInvalidModeWithoutIO(t *testing.T) {
	m, space := newTestModel(t)

	bad := testMode
	bad.FramerateFactor = 0
	err := m.ApplyMode(bad, 10)
	assert.True(t, errors.Is(err, fault.ErrConfiguration))
	assert.Zero(t, space.Reads())
	assert.Empty(t, space.Writes())
}

func TestApplyModeReadFailureKeepsPreviousMode(t *testing.T) {
	m, space := newTestModel(t)
	require.NoError(t, m.ApplyMode(testMode, 10))

	space.FailRead = func(uint16) error { return bustest.ErrNack }
	other := testMode
	other.Name = "other"
	err := m.ApplyMode(other, 10)
	assert.True(t, errors.Is(err, fault.ErrBus))
	assert.Equal(t, "test", m.State().Mode)
}

func TestWritesFollowTarget(t *testing.T) {
	m, space := newTestModel(t)
	require.NoError(t, m.ApplyMode(testMode, 10))

	bcast := bustest.NewSpace()
	m.SetTarget(grouped.New(bcast, grouped.Config{Addr: 0x3001, On: 1, Off: 0}))
	space.ResetLog()

	require.NoError(t, m.SetFrameRate(60))
	assert.Equal(t, uint64(2677), bcast.Value(0x3030, 3))
	assert.Empty(t, space.WritesTo(0x3030))

	m.SetTarget(nil)
	require.NoError(t, m.SetFrameRate(30))
	assert.Equal(t, uint64(5354), space.Value(0x3030, 3))
}
