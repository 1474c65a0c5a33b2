// internal/monitor/monitor_test.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tamzrod/camlink/internal/broadcast"
	"github.com/tamzrod/camlink/internal/bus"
	"github.com/tamzrod/camlink/internal/bus/bustest"
	"github.com/tamzrod/camlink/internal/fault"
	"github.com/tamzrod/camlink/internal/registry"
	"github.com/tamzrod/camlink/internal/sensor"
	"github.com/tamzrod/camlink/internal/status"
	"github.com/tamzrod/camlink/internal/timing"
)

type fakeSource struct {
	statuses []sensor.Status
	calls    int
}

func (f *fakeSource) Statuses() []sensor.Status {
	f.calls++
	return f.statuses
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew_RequiresSourceAndInterval(t *testing.T) {
	if _, err := New(Config{Interval: time.Second}, nil); err == nil {
		t.Fatalf("expected error for nil source")
	}
	if _, err := New(Config{}, &fakeSource{}); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestSnapshotOf_Healthy(t *testing.T) {
	st := sensor.Status{
		ID:        "cam0",
		Powered:   true,
		Streaming: true,
		Role:      broadcast.RoleBroadcast,
		Timing: timing.State{
			FrameLength:  2677,
			Shutter:      2002,
			GainRegister: 100,
			LineTime:     14792,
			ExposureMin:  30,
			ExposureMax:  39067,
		},
	}

	s := SnapshotOf(st, t0)
	if s.Health != status.HealthOK || s.Power != status.PowerStreaming || s.Role != 1 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if s.FrameLength != 2677 || s.Shutter != 2002 || s.Gain != 100 || s.LineTime != 14792 {
		t.Fatalf("timing not mapped: %+v", s)
	}
	if s.ExposureMin != 30 || s.ExposureMax != 39067 {
		t.Fatalf("exposure range not mapped: %+v", s)
	}
}

func TestSnapshotOf_PoweredOff(t *testing.T) {
	s := SnapshotOf(sensor.Status{ID: "cam0"}, t0)
	if s.Health != status.HealthDisabled || s.Power != status.PowerOff {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

func TestSnapshotOf_ErrorWinsAndCounts(t *testing.T) {
	err := &bus.Error{Op: "write", Addr: 0x3030, Err: errors.New("nack")}
	st := sensor.Status{
		ID:         "cam0",
		LastError:  fmt.Errorf("apply mode: %w", err),
		ErrorSince: t0.Add(-90 * time.Second),
	}

	s := SnapshotOf(st, t0)
	if s.Health != status.HealthError {
		t.Fatalf("health=%d", s.Health)
	}
	if s.LastErrorCode != fault.CodeBus {
		t.Fatalf("code=%d", s.LastErrorCode)
	}
	if s.SecondsInError != 90 {
		t.Fatalf("seconds=%d", s.SecondsInError)
	}

	// saturates instead of wrapping
	st.ErrorSince = t0.Add(-100 * time.Hour)
	if got := SnapshotOf(st, t0).SecondsInError; got != 65535 {
		t.Fatalf("seconds=%d", got)
	}
}

func TestPollOnce_UsesClock(t *testing.T) {
	src := &fakeSource{statuses: []sensor.Status{{ID: "a", Powered: true}, {ID: "b"}}}
	m, err := New(Config{Interval: time.Second}, src)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	m.SetClock(func() time.Time { return t0 })

	s := m.PollOnce()
	if !s.At.Equal(t0) || len(s.Readings) != 2 {
		t.Fatalf("unexpected sample %+v", s)
	}
	if s.Readings[0].Snapshot.Health != status.HealthOK || s.Readings[1].Snapshot.Health != status.HealthDisabled {
		t.Fatalf("unexpected readings %+v", s.Readings)
	}
}

func TestRun_EmitsUntilCancelled(t *testing.T) {
	src := &fakeSource{statuses: []sensor.Status{{ID: "a"}}}
	m, err := New(Config{Interval: time.Millisecond}, src)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Sample)
	done := make(chan struct{})
	go func() {
		m.Run(ctx, out)
		close(done)
	}()

	select {
	case s := <-out:
		if len(s.Readings) != 1 {
			t.Fatalf("unexpected sample %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no sample emitted")
	}

	// nobody reads out any more; cancellation must still end Run
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestFromRegistry(t *testing.T) {
	reg := registry.New[*sensor.Device]()

	for _, id := range []string{"cam0", "cam1"} {
		d, err := sensor.New(sensor.Config{
			ID:         id,
			Descriptor: sensor.IMX335(),
			Lanes:      4,
		}, sensor.Links{Unicast: bustest.NewSpace()})
		if err != nil {
			t.Fatalf("sensor.New: %v", err)
		}
		d.SetSleeper(func(time.Duration) {})
		if _, err := reg.Register(d); err != nil {
			t.Fatalf("register: %v", err)
		}
		if id == "cam1" {
			if err := d.PowerOn(); err != nil {
				t.Fatalf("power on: %v", err)
			}
		}
	}

	sts := FromRegistry(reg).Statuses()
	if len(sts) != 2 || sts[0].ID != "cam0" || sts[1].ID != "cam1" {
		t.Fatalf("unexpected statuses %+v", sts)
	}
	if sts[0].Powered || !sts[1].Powered {
		t.Fatalf("power state not reflected")
	}
}
