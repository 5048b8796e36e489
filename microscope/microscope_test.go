package microscope

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/beamprof/motion"
	"github.com/nasa-jpl/beamprof/zaber"
)

func rig(t *testing.T) (*Microscope, *zaber.MockChain) {
	t.Helper()
	xy := &zaber.MockDevice{Address: 6, ID: 49222, Axes: []*zaber.MockAxis{
		{Max: 4000000, BusyPolls: 1},
		{Max: 4000000, BusyPolls: 1},
	}}
	conn, chain := zaber.NewMockConnection(
		&zaber.MockDevice{Address: 2, ID: 50913},
		zaber.NewMockLinearStage(3, 50819, 1000000),
		zaber.NewMockIndexed(4, 50912, 6),
		zaber.NewMockIndexed(5, 50911, 4),
		xy,
	)
	t.Cleanup(func() { conn.Close() })
	m := New(conn, MSRConfig())
	for _, ax := range m.axes() {
		ax.PollInterval = time.Microsecond
	}
	return m, chain
}

func TestNewFromConfig(t *testing.T) {
	m, _ := rig(t)
	if m.Turret == nil || m.Filter == nil || m.Plate == nil || m.Focus == nil {
		t.Fatal("expected every component of the MSR layout")
	}
	if m.Plate.Y.Device != 6 || m.Plate.Y.Number != 2 {
		t.Errorf("expected Y at 6/2 got %d/%d", m.Plate.Y.Device, m.Plate.Y.Number)
	}
	mvr := New(nil, MVRConfig())
	if mvr.Turret != nil {
		t.Error("expected no turret on the MVR layout")
	}
	if mvr.X.Device != 5 {
		t.Errorf("expected X on device 5 got %d", mvr.X.Device)
	}
}

func TestInitializeHomes(t *testing.T) {
	m, chain := rig(t)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, a := range [][2]int{{3, 1}, {4, 1}, {5, 1}, {6, 1}, {6, 2}} {
		ax := chain.Axis(a[0], a[1])
		if !ax.Homed {
			t.Errorf("expected %v homed", a)
		}
		if len(ax.Log) != 1 || ax.Log[0] != "home" {
			t.Errorf("expected %v to be homed once, log %v", a, ax.Log)
		}
	}
	// a second initialize leaves homed axes alone
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(chain.Axis(3, 1).Log); n != 1 {
		t.Errorf("expected no second home, got %d commands", n)
	}
}

func TestInitializeMissingDevice(t *testing.T) {
	m, _ := rig(t)
	m.Config.Illuminator = 9
	err := m.Initialize(context.Background())
	if !errors.Is(err, zaber.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound got %v", err)
	}
}

func TestSnakeScan(t *testing.T) {
	m, chain := rig(t)
	ctx := context.Background()
	if err := m.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	const step = 952.5 // um, 20000 microsteps
	var ys []int64
	var visits [][2]int
	err := m.SnakeScan(ctx, 3, 2, step, motion.Micrometer, func(i, j int) error {
		visits = append(visits, [2]int{i, j})
		ys = append(ys, chain.Position(6, 2))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	expectedVisits := [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {2, 0}, {2, 1}}
	if diff := cmp.Diff(expectedVisits, visits); diff != "" {
		t.Errorf("visit order (-want +got):\n%s", diff)
	}
	expectedY := []int64{20000, 40000, 20000, 0, 20000, 40000}
	if diff := cmp.Diff(expectedY, ys); diff != "" {
		t.Errorf("Y positions (-want +got):\n%s", diff)
	}
	if x := chain.Position(6, 1); x != 60000 {
		t.Errorf("expected X at 60000 got %d", x)
	}
}

func TestObjectiveChange(t *testing.T) {
	m, chain := rig(t)
	ctx := context.Background()
	if err := m.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Turret.Change(ctx, 2, -5, motion.Micrometer); err != nil {
		t.Fatal(err)
	}
	idx, err := m.Turret.Current(ctx)
	if err != nil || idx != 2 {
		t.Errorf("expected objective 2 got %d (%v)", idx, err)
	}
	// 15 mm - 5 um
	if pos := chain.Position(3, 1); pos != 314856 {
		t.Errorf("expected focus at 314856 got %d", pos)
	}
	focusLog := chain.Axis(3, 1).Log
	if focusLog[len(focusLog)-2] != "move min" {
		t.Errorf("expected the focus to retract before the turret moved, log %v", focusLog)
	}
	obj, err := m.Turret.CurrentObjective(ctx)
	if err != nil || obj.Magnification != 5 {
		t.Errorf("expected the 5x objective got %+v (%v)", obj, err)
	}
	if err := m.Turret.Change(ctx, 7, 0, motion.Micrometer); err == nil {
		t.Error("expected an out of range objective to be rejected")
	}
}

func TestDemo(t *testing.T) {
	m, chain := rig(t)
	buf := new(bytes.Buffer)
	if err := Demo(context.Background(), m, log.New(buf, "", 0)); err != nil {
		t.Fatalf("%v\n%s", err, buf)
	}
	if !strings.Contains(buf.String(), "found 2:") {
		t.Errorf("expected detected devices in the log:\n%s", buf)
	}
	if idx, _ := m.Filter.Current(context.Background()); idx != 2 {
		t.Errorf("expected filter 2 got %d", idx)
	}
	if idx, _ := m.Turret.Current(context.Background()); idx != 3 {
		t.Errorf("expected objective 3 got %d", idx)
	}
	if pos := chain.Position(3, 1); pos != 315171 {
		t.Errorf("expected focus at datum + 10 um (315171) got %d", pos)
	}
	if x, y := chain.Position(6, 1), chain.Position(6, 2); x != 0 || y != 0 {
		t.Errorf("expected plate at min got %d, %d", x, y)
	}
	// home, start move, 10 steps, max, min
	if n := len(chain.Axis(6, 1).Log); n != 14 {
		t.Errorf("expected 14 X commands got %d", n)
	}
	if n := len(chain.Axis(6, 2).Log); n != 104 {
		t.Errorf("expected 104 Y commands got %d", n)
	}
}

func TestDemoNeedsEveryDevice(t *testing.T) {
	quiet := log.New(new(bytes.Buffer), "", 0)
	err := Demo(context.Background(), New(nil, MVRConfig()), quiet)
	if !errors.Is(err, ErrIncomplete) || !strings.Contains(err.Error(), "objective changer") {
		t.Errorf("expected ErrIncomplete naming the objective changer got %v", err)
	}

	cfg := MSRConfig()
	cfg.FilterChanger = 0
	err = Demo(context.Background(), New(nil, cfg), quiet)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete got %v", err)
	}
	if msg := err.Error(); !strings.Contains(msg, "filter changer") || strings.Contains(msg, "objective") {
		t.Errorf("expected only the filter changer named, got %q", msg)
	}
}
