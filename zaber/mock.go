package zaber

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nasa-jpl/beamprof/comm"
)

// MockAxis is the state of one simulated axis.  Positions are in microsteps.
type MockAxis struct {
	Pos, Min, Max int64
	Homed         bool

	// IndexCount > 0 makes the axis an indexed device (filter wheel, turret)
	// with positions IndexSpacing microsteps apart
	IndexCount   int
	IndexSpacing int64

	// BusyPolls is how many status queries report BUSY after each motion command
	BusyPolls int

	// Fault, if not empty, is reported as the warning flag on every reply
	Fault string

	// MaxSpeed is the maxspeed setting, native velocity units
	MaxSpeed int64

	// Log records every motion command the axis accepted
	Log []string

	busy        int
	interrupted bool
}

// MockDevice is a simulated device on a chain
type MockDevice struct {
	Address int
	ID      int
	Axes    []*MockAxis
}

// NewMockLinearStage returns a single axis linear stage with travel [0, max]
// microsteps, not homed
func NewMockLinearStage(addr, id int, max int64) *MockDevice {
	return &MockDevice{Address: addr, ID: id, Axes: []*MockAxis{{Max: max, BusyPolls: 2, MaxSpeed: 153600}}}
}

// NewMockIndexed returns a single axis indexed device with n positions
func NewMockIndexed(addr, id, n int) *MockDevice {
	const spacing = 10000
	return &MockDevice{Address: addr, ID: id, Axes: []*MockAxis{{
		Max: int64(n-1) * spacing, IndexCount: n, IndexSpacing: spacing, BusyPolls: 1}}}
}

// MockChain simulates a daisy chain of ASCII devices on one port.  It is an
// io.ReadWriteCloser; reads return io.EOF when every reply has been consumed,
// which the Connection reads as the port going quiet.
type MockChain struct {
	mu      sync.Mutex
	devices []*MockDevice
	in      bytes.Buffer
	out     bytes.Buffer
}

// NewMockChain returns a chain with the given devices
func NewMockChain(devs ...*MockDevice) *MockChain {
	return &MockChain{devices: devs}
}

// NewMockConnection returns a Connection talking to a simulated chain
func NewMockConnection(devs ...*MockDevice) (*Connection, *MockChain) {
	chain := NewMockChain(devs...)
	maker := func() (io.ReadWriteCloser, error) {
		return comm.NewLineConn(chain, '\n', '\n', 0), nil
	}
	return NewConnectionWithPool(comm.NewPool(1, 0, maker)), chain
}

// Read implements io.Reader
func (m *MockChain) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out.Len() == 0 {
		return 0, io.EOF
	}
	return m.out.Read(p)
}

// Write implements io.Writer.  Complete lines are executed immediately.
func (m *MockChain) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.in.Write(p)
	for {
		line, err := m.in.ReadString('\n')
		if err != nil {
			// incomplete line, put it back
			m.in.WriteString(line)
			break
		}
		m.execute(strings.TrimSpace(line))
	}
	return len(p), nil
}

// Close implements io.Closer.  The simulated devices keep their state.
func (m *MockChain) Close() error {
	return nil
}

// Position returns the position of an axis in microsteps
func (m *MockChain) Position(device, axis int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ax := m.axis(device, axis); ax != nil {
		return ax.Pos
	}
	return 0
}

// Axis returns the state of an axis for inspection or fault injection; hold
// no references across Writes
func (m *MockChain) Axis(device, axis int) *MockAxis {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.axis(device, axis)
}

// SetFault sets or clears the fault flag on an axis
func (m *MockChain) SetFault(device, axis int, flag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ax := m.axis(device, axis); ax != nil {
		ax.Fault = flag
	}
}

func (m *MockChain) axis(device, axis int) *MockAxis {
	for _, d := range m.devices {
		if d.Address == device && axis >= 1 && axis <= len(d.Axes) {
			return d.Axes[axis-1]
		}
	}
	return nil
}

func (m *MockChain) execute(line string) {
	if !strings.HasPrefix(line, "/") {
		return
	}
	fields := strings.Fields(line[1:])
	dev, axis := 0, 0
	// leading numbers are the device and axis, both optional
	if len(fields) > 0 {
		if v, err := strconv.Atoi(fields[0]); err == nil {
			dev = v
			fields = fields[1:]
			if len(fields) > 0 {
				if v, err := strconv.Atoi(fields[0]); err == nil {
					axis = v
					fields = fields[1:]
				}
			}
		}
	}
	cmd := strings.Join(fields, " ")
	for _, d := range m.devices {
		if dev != 0 && d.Address != dev {
			continue
		}
		if axis > len(d.Axes) {
			m.reply(d, axis, flagRejected, "BADAXIS")
			continue
		}
		m.executeOn(d, axis, cmd)
	}
}

func (m *MockChain) reply(d *MockDevice, axis int, flag, data string) {
	status, warning := StatusIdle, noWarning
	axes := d.Axes
	if axis > 0 {
		axes = d.Axes[axis-1 : axis]
	}
	for _, ax := range axes {
		if ax.busy > 0 {
			status = StatusBusy
		}
		switch {
		case ax.Fault != "":
			warning = ax.Fault
		case warning == noWarning && ax.interrupted:
			warning = WarningInterrupted
		case warning == noWarning && !ax.Homed && ax.IndexCount == 0:
			warning = WarningNoReference
		}
	}
	if data == "" {
		data = "0"
	}
	fmt.Fprintf(&m.out, "@%02d %d %s %s %s %s\r\n", d.Address, axis, flag, status, warning, data)
}

func (m *MockChain) executeOn(d *MockDevice, axis int, cmd string) {
	axes := d.Axes
	if axis > 0 {
		axes = d.Axes[axis-1 : axis]
	}
	switch {
	case cmd == "":
		m.reply(d, axis, flagOK, "")
		for _, ax := range axes {
			if ax.busy > 0 {
				ax.busy--
			}
		}
		return
	case cmd == "get device.id":
		m.reply(d, axis, flagOK, strconv.Itoa(d.ID))
		return
	case cmd == "warnings clear":
		for _, ax := range axes {
			ax.interrupted = false
		}
		m.reply(d, axis, flagOK, "")
		return
	case cmd == "stop":
		for _, ax := range axes {
			if ax.busy > 0 {
				ax.interrupted = true
			}
			ax.busy = 0
		}
		m.reply(d, axis, flagOK, "")
		return
	case strings.HasPrefix(cmd, "get "):
		vals := make([]string, 0, len(axes))
		for _, ax := range axes {
			v, ok := ax.get(strings.TrimPrefix(cmd, "get "))
			if !ok {
				m.reply(d, axis, flagRejected, "BADCOMMAND")
				return
			}
			vals = append(vals, v)
		}
		m.reply(d, axis, flagOK, strings.Join(vals, " "))
		return
	case strings.HasPrefix(cmd, "set "):
		fields := strings.Fields(cmd)
		if len(fields) != 3 || fields[1] != "maxspeed" {
			m.reply(d, axis, flagRejected, "BADCOMMAND")
			return
		}
		n, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || n <= 0 {
			m.reply(d, axis, flagRejected, "BADDATA")
			return
		}
		for _, ax := range axes {
			ax.MaxSpeed = n
		}
		m.reply(d, axis, flagOK, "")
		return
	}
	if axis == 0 && cmd != "home" {
		m.reply(d, axis, flagRejected, "BADAXIS")
		return
	}
	for _, ax := range axes {
		if ax.Fault != "" {
			m.reply(d, axis, flagRejected, "FAULT")
			return
		}
		if reason := ax.move(cmd); reason != "" {
			m.reply(d, axis, flagRejected, reason)
			return
		}
	}
	m.reply(d, axis, flagOK, "")
}

func (ax *MockAxis) get(setting string) (string, bool) {
	switch setting {
	case "pos":
		return strconv.FormatInt(ax.Pos, 10), true
	case "limit.home.triggered":
		if ax.Homed {
			return "1", true
		}
		return "0", true
	case "motion.index.num":
		if ax.IndexCount == 0 || ax.busy > 0 || ax.IndexSpacing == 0 || ax.Pos%ax.IndexSpacing != 0 {
			return "0", ax.IndexCount != 0
		}
		return strconv.FormatInt(ax.Pos/ax.IndexSpacing+1, 10), true
	case "limit.min":
		return strconv.FormatInt(ax.Min, 10), true
	case "limit.max":
		return strconv.FormatInt(ax.Max, 10), true
	case "maxspeed":
		return strconv.FormatInt(ax.MaxSpeed, 10), true
	}
	return "", false
}

// move applies a motion command, returning a rejection reason or ""
func (ax *MockAxis) move(cmd string) string {
	fields := strings.Fields(cmd)
	target := ax.Pos
	switch {
	case cmd == "home":
		ax.Homed = true
		target = ax.Min
	case cmd == "move min":
		target = ax.Min
	case cmd == "move max":
		target = ax.Max
	case len(fields) == 3 && fields[0] == "move":
		n, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return "BADDATA"
		}
		switch fields[1] {
		case "abs":
			target = n
		case "rel":
			target = ax.Pos + n
		case "index":
			if ax.IndexCount == 0 {
				return "BADCOMMAND"
			}
			if n < 1 || int(n) > ax.IndexCount {
				return "BADDATA"
			}
			target = (n - 1) * ax.IndexSpacing
		default:
			return "BADCOMMAND"
		}
	default:
		return "BADCOMMAND"
	}
	if target < ax.Min || target > ax.Max {
		return "BADDATA"
	}
	ax.Pos = target
	ax.busy = ax.BusyPolls
	ax.interrupted = false
	ax.Log = append(ax.Log, cmd)
	return ""
}
