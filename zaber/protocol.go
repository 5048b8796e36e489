package zaber

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// the Zaber ASCII protocol is line oriented.  A command looks like
//
//	/1 1 move abs 10000
//
// device address, axis number, then the command and its data.  Device 0 is a
// broadcast to every device on the chain and axis 0 addresses the device as a
// whole.  Every device that receives a command replies with
//
//	@01 1 OK BUSY -- 0
//
// address, axis, a reply flag (OK or RJ for rejected), the device status
// (IDLE or BUSY), the highest priority warning flag ("--" if none), and the
// response data.  Info lines start with '#' and alerts with '!'; neither
// answers a command.

const (
	// StatusIdle is reported when no motion is in progress
	StatusIdle = "IDLE"

	// StatusBusy is reported while an axis is moving
	StatusBusy = "BUSY"

	flagOK       = "OK"
	flagRejected = "RJ"
	noWarning    = "--"

	// WarningNoReference is the "WR" flag, raised when an axis has no home position
	WarningNoReference = "WR"

	// WarningInterrupted is the "NI" flag, raised when a move was preempted by another command
	WarningInterrupted = "NI"
)

var (
	// ErrDeviceNotFound is returned when no device on the chain satisfies a Selector
	ErrDeviceNotFound = errors.New("zaber: no matching device on the connection")

	// ErrTimeout is returned when an axis does not become idle before its deadline
	ErrTimeout = errors.New("zaber: timed out waiting for axis to become idle")

	// ErrInterrupted is returned when a blocking move ends early because another command preempted it
	ErrInterrupted = errors.New("zaber: move was interrupted")

	// ErrBadReply is returned when a line cannot be parsed as a reply
	ErrBadReply = errors.New("zaber: malformed reply")
)

// RejectedError is returned when a device answers a command with RJ
type RejectedError struct {
	Command string
	Reason  string
}

func (e RejectedError) Error() string {
	return fmt.Sprintf("zaber: command %q rejected: %s", e.Command, e.Reason)
}

// FaultError is returned when a device reports a fault warning flag (F?).
// Faults stop motion and must be cleared by the operator.
type FaultError struct {
	Device, Axis int
	Flag         string
}

func (e FaultError) Error() string {
	return fmt.Sprintf("zaber: device %d axis %d reports fault %s", e.Device, e.Axis, e.Flag)
}

// Reply is a parsed reply message
type Reply struct {
	Device  int
	Axis    int
	Flag    string
	Status  string
	Warning string
	Data    string
}

// OK is true if the command was accepted
func (r Reply) OK() bool {
	return r.Flag == flagOK
}

// Idle is true if the device or axis is not moving
func (r Reply) Idle() bool {
	return r.Status == StatusIdle
}

// Fault is true if the warning flag is a fault
func (r Reply) Fault() bool {
	return len(r.Warning) == 2 && r.Warning[0] == 'F'
}

// Int parses the data as an integer
func (r Reply) Int() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(r.Data), 10, 64)
}

// Float parses the data as a float
func (r Reply) Float() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(r.Data), 64)
}

func (r Reply) String() string {
	return fmt.Sprintf("@%02d %d %s %s %s %s", r.Device, r.Axis, r.Flag, r.Status, r.Warning, r.Data)
}

// parseReply parses one line.  The line must begin with '@'.
func parseReply(line string) (Reply, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "@") {
		return Reply{}, fmt.Errorf("%w: %q", ErrBadReply, line)
	}
	// strip an optional checksum ":XX"
	if i := strings.LastIndexByte(line, ':'); i > 0 && len(line)-i == 3 {
		line = line[:i]
	}
	fields := strings.Fields(line[1:])
	if len(fields) < 5 {
		return Reply{}, fmt.Errorf("%w: %q", ErrBadReply, line)
	}
	dev, err := strconv.Atoi(fields[0])
	if err != nil {
		return Reply{}, fmt.Errorf("%w: device %q", ErrBadReply, fields[0])
	}
	// a numeric third field is a message id; skip it
	idx := 1
	axis, err := strconv.Atoi(fields[idx])
	if err != nil {
		return Reply{}, fmt.Errorf("%w: axis %q", ErrBadReply, fields[idx])
	}
	idx++
	if _, err := strconv.Atoi(fields[idx]); err == nil {
		idx++
	}
	if len(fields) < idx+3 {
		return Reply{}, fmt.Errorf("%w: %q", ErrBadReply, line)
	}
	r := Reply{
		Device:  dev,
		Axis:    axis,
		Flag:    fields[idx],
		Status:  fields[idx+1],
		Warning: fields[idx+2],
	}
	if r.Flag != flagOK && r.Flag != flagRejected {
		return Reply{}, fmt.Errorf("%w: flag %q", ErrBadReply, r.Flag)
	}
	r.Data = strings.Join(fields[idx+3:], " ")
	return r, nil
}

// formatCommand produces the wire text of a command, without terminator
func formatCommand(device, axis int, cmd string) string {
	if cmd == "" {
		return fmt.Sprintf("/%d %d", device, axis)
	}
	return fmt.Sprintf("/%d %d %s", device, axis, cmd)
}
