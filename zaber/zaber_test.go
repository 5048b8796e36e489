package zaber

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/beamprof/motion"
)

func fastAxis(c *Connection, dev, n int) *Axis {
	a := NewAxis(c, dev, n)
	a.PollInterval = time.Microsecond
	return a
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		line     string
		expected Reply
	}{
		{"@01 0 OK IDLE -- 0", Reply{Device: 1, Axis: 0, Flag: "OK", Status: "IDLE", Warning: "--", Data: "0"}},
		{"@02 1 RJ IDLE -- BADDATA\r\n", Reply{Device: 2, Axis: 1, Flag: "RJ", Status: "IDLE", Warning: "--", Data: "BADDATA"}},
		{"@03 2 17 OK BUSY WR 1000 2000", Reply{Device: 3, Axis: 2, Flag: "OK", Status: "BUSY", Warning: "WR", Data: "1000 2000"}},
		{"@01 1 OK IDLE FS 5:8A", Reply{Device: 1, Axis: 1, Flag: "OK", Status: "IDLE", Warning: "FS", Data: "5"}},
	}
	for _, tt := range tests {
		r, err := parseReply(tt.line)
		if err != nil {
			t.Errorf("%q: %v", tt.line, err)
			continue
		}
		if diff := cmp.Diff(tt.expected, r); diff != "" {
			t.Errorf("%q (-want +got):\n%s", tt.line, diff)
		}
	}
	for _, bad := range []string{"#01 0 OK IDLE -- info", "@01 0 OK", "@xx 0 OK IDLE -- 0", "@01 0 ZZ IDLE -- 0"} {
		if _, err := parseReply(bad); !errors.Is(err, ErrBadReply) {
			t.Errorf("%q: expected ErrBadReply got %v", bad, err)
		}
	}
}

func TestReplyFlags(t *testing.T) {
	r := Reply{Flag: "OK", Status: "IDLE", Warning: "FQ"}
	if !r.OK() || !r.Idle() || !r.Fault() {
		t.Errorf("expected OK, idle and faulted, got %+v", r)
	}
	r.Warning = "WR"
	if r.Fault() {
		t.Error("WR is a warning, not a fault")
	}
}

func TestFormatCommand(t *testing.T) {
	if s := formatCommand(1, 2, "move abs 5"); s != "/1 2 move abs 5" {
		t.Errorf("expected /1 2 move abs 5 got %q", s)
	}
	if s := formatCommand(3, 0, ""); s != "/3 0" {
		t.Errorf("expected /3 0 got %q", s)
	}
}

func TestDetectAndSelect(t *testing.T) {
	conn, _ := NewMockConnection(
		NewMockIndexed(4, 50912, 6),
		NewMockLinearStage(1, 50819, 1000000),
		&MockDevice{Address: 2, ID: 50913},
	)
	defer conn.Close()
	conn.Names[50819] = "X-LSQ150B"
	devs, err := conn.DetectDevices()
	if err != nil {
		t.Fatal(err)
	}
	addrs := make([]int, len(devs))
	for i, d := range devs {
		addrs[i] = d.Address
	}
	if diff := cmp.Diff([]int{1, 2, 4}, addrs); diff != "" {
		t.Errorf("addresses (-want +got):\n%s", diff)
	}
	if devs[0].Name != "X-LSQ150B" || devs[1].Name != "device-50913" {
		t.Errorf("unexpected names %v", devs)
	}

	d, err := Select(devs, NameContains("LSQ"))
	if err != nil || d.Address != 1 {
		t.Errorf("expected device 1 by name got %v (%v)", d, err)
	}
	d, err = Select(devs, IDIs(50912))
	if err != nil || d.Address != 4 {
		t.Errorf("expected device 4 by id got %v (%v)", d, err)
	}
	if _, err = Select(devs, AddressIs(9)); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound got %v", err)
	}
	dev, err := conn.FindDevice(AddressIs(4))
	if err != nil {
		t.Fatal(err)
	}
	if dev.Axis(1).Device != 4 {
		t.Errorf("expected an axis on device 4")
	}
}

func TestMovesBlockAndConvert(t *testing.T) {
	conn, chain := NewMockConnection(NewMockLinearStage(1, 50819, 1000000))
	defer conn.Close()
	ctx := context.Background()
	a := fastAxis(conn, 1, 1)

	homed, err := a.IsHomed(ctx)
	if err != nil || homed {
		t.Fatalf("expected an unhomed axis, got %v (%v)", homed, err)
	}
	if err = a.Home(ctx); err != nil {
		t.Fatal(err)
	}
	if homed, _ = a.IsHomed(ctx); !homed {
		t.Error("expected the axis homed after Home")
	}
	if err = a.MoveAbs(ctx, 10, motion.Millimeter); err != nil {
		t.Fatal(err)
	}
	// 10 mm / 0.047625 um
	if pos := chain.Position(1, 1); pos != 209974 {
		t.Errorf("expected 209974 microsteps got %d", pos)
	}
	if err = a.MoveRel(ctx, -1000, motion.Native); err != nil {
		t.Fatal(err)
	}
	pos, err := a.GetPos(ctx, motion.Native)
	if err != nil || pos != 208974 {
		t.Errorf("expected 208974 got %v (%v)", pos, err)
	}
	um, _ := a.GetPos(ctx, motion.Micrometer)
	if math.Abs(um-208974*DefaultMicrostepSize) > 1e-6 {
		t.Errorf("expected %v um got %v", 208974*DefaultMicrostepSize, um)
	}
	if err = a.MoveMax(ctx); err != nil {
		t.Fatal(err)
	}
	if pos := chain.Position(1, 1); pos != 1000000 {
		t.Errorf("expected the end of travel got %d", pos)
	}
	if err = a.MoveMin(ctx); err != nil {
		t.Fatal(err)
	}
	expected := []string{"home", "move abs 209974", "move rel -1000", "move max", "move min"}
	if diff := cmp.Diff(expected, chain.Axis(1, 1).Log); diff != "" {
		t.Errorf("command log (-want +got):\n%s", diff)
	}
}

func TestMoveOutOfRangeRejected(t *testing.T) {
	conn, _ := NewMockConnection(NewMockLinearStage(1, 50819, 1000))
	defer conn.Close()
	a := fastAxis(conn, 1, 1)
	err := a.MoveAbs(context.Background(), 5000, motion.Native)
	var rj RejectedError
	if !errors.As(err, &rj) || rj.Reason != "BADDATA" {
		t.Errorf("expected a BADDATA rejection got %v", err)
	}
}

func TestIndexedDevice(t *testing.T) {
	conn, chain := NewMockConnection(NewMockIndexed(4, 50912, 6))
	defer conn.Close()
	ctx := context.Background()
	a := fastAxis(conn, 4, 1)
	if err := a.MoveIndex(ctx, 3); err != nil {
		t.Fatal(err)
	}
	idx, err := a.GetIndex(ctx)
	if err != nil || idx != 3 {
		t.Errorf("expected index 3 got %d (%v)", idx, err)
	}
	if pos := chain.Position(4, 1); pos != 20000 {
		t.Errorf("expected 20000 got %d", pos)
	}
	if err = a.MoveIndex(ctx, 7); err == nil {
		t.Error("expected index 7 of 6 to be rejected")
	}
}

func TestFault(t *testing.T) {
	conn, chain := NewMockConnection(NewMockLinearStage(1, 50819, 1000000))
	defer conn.Close()
	a := fastAxis(conn, 1, 1)
	chain.SetFault(1, 1, "FS")
	err := a.WaitIdle(context.Background())
	var fe FaultError
	if !errors.As(err, &fe) || fe.Flag != "FS" {
		t.Errorf("expected an FS fault got %v", err)
	}
	var rj RejectedError
	if err = a.MoveAbs(context.Background(), 10, motion.Native); !errors.As(err, &rj) {
		t.Errorf("expected a faulted axis to reject motion, got %v", err)
	}
}

func TestInterruptedAndStop(t *testing.T) {
	conn, chain := NewMockConnection(NewMockLinearStage(1, 50819, 1000000))
	defer conn.Close()
	ctx := context.Background()
	a := fastAxis(conn, 1, 1)
	chain.Axis(1, 1).BusyPolls = 5

	if err := a.Start("move abs 1000"); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Command(1, 1, "stop"); err != nil {
		t.Fatal(err)
	}
	if err := a.WaitIdle(ctx); !errors.Is(err, ErrInterrupted) {
		t.Errorf("expected ErrInterrupted got %v", err)
	}

	if err := a.Start("move abs 2000"); err != nil {
		t.Fatal(err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Errorf("expected Stop to succeed got %v", err)
	}
	// the NI raised by Stop is cleared
	if err := a.MoveAbs(ctx, 3000, motion.Native); err != nil {
		t.Errorf("expected a clean move after Stop got %v", err)
	}
}

func TestWaitIdleTimeout(t *testing.T) {
	conn, chain := NewMockConnection(NewMockLinearStage(1, 50819, 1000000))
	defer conn.Close()
	a := fastAxis(conn, 1, 1)
	a.PollInterval = time.Millisecond
	chain.Axis(1, 1).BusyPolls = math.MaxInt32
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.MoveAbs(ctx, 500, motion.Native)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout got %v", err)
	}

	canceled, stop := context.WithCancel(context.Background())
	stop()
	if err = a.MoveAbs(canceled, 10, motion.Native); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled got %v", err)
	}
}

func TestHaltFailureLogged(t *testing.T) {
	conn, _ := NewMockConnection(NewMockLinearStage(1, 50819, 1000000))
	defer conn.Close()
	buf := new(bytes.Buffer)
	log.SetOutput(buf)
	defer log.SetOutput(os.Stderr)

	// nothing answers at address 7
	fastAxis(conn, 7, 1).halt()
	if !strings.Contains(buf.String(), "stopping device 7 axis 1") {
		t.Errorf("expected the failed stop to be logged, got %q", buf.String())
	}
}

func TestVelocity(t *testing.T) {
	conn, chain := NewMockConnection(NewMockLinearStage(1, 50819, 1000000))
	defer conn.Close()
	ctx := context.Background()
	a := fastAxis(conn, 1, 1)
	if err := a.SetVelocity(ctx, 1, motion.Millimeter); err != nil {
		t.Fatal(err)
	}
	// 1000 um/s / 0.047625 um * 1.6384
	if n := chain.Axis(1, 1).MaxSpeed; n != 34402 {
		t.Errorf("expected maxspeed 34402 got %d", n)
	}
	v, err := a.GetVelocity(ctx, motion.Micrometer)
	if err != nil || math.Abs(v-1000) > 0.1 {
		t.Errorf("expected ~1000 um/s got %v (%v)", v, err)
	}
	if err = a.SetVelocity(ctx, -5, motion.Native); err == nil {
		t.Error("expected a negative speed to be rejected")
	}
}

func TestController(t *testing.T) {
	conn, chain := NewMockConnection(NewMockLinearStage(1, 50819, 1000000))
	defer conn.Close()
	z := fastAxis(conn, 1, 1)
	c := NewController(motion.Micrometer, map[string]*Axis{"z": z})
	if diff := cmp.Diff([]string{"z"}, c.Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if err := c.Home("z"); err != nil {
		t.Fatal(err)
	}
	if err := c.MoveAbs("z", 47.625); err != nil {
		t.Fatal(err)
	}
	if pos := chain.Position(1, 1); pos != 1000 {
		t.Errorf("expected 1000 microsteps got %d", pos)
	}
	if _, err := c.GetPos("q"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound got %v", err)
	}
}
