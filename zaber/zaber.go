// Package zaber drives Zaber motion devices over the Zaber ASCII protocol,
// on RS232 or TCP.  A Connection owns the chain of devices on one port;
// Devices are discovered with DetectDevices and picked with a Selector.
package zaber

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/nasa-jpl/beamprof/comm"
	"github.com/tarm/serial"
)

const (
	// DefaultBaud is the factory baud rate of ASCII devices
	DefaultBaud = 115200

	// DefaultTCPPort is the port X-MCC controllers listen on
	DefaultTCPPort = 55550

	// idleConnTimeout is how long the port stays open with nothing to say
	idleConnTimeout = 30 * time.Second
)

// Connection is a port with a daisy chain of devices behind it.
// It is safe for concurrent use; exchanges are serialized.
type Connection struct {
	pool *comm.Pool

	// Names maps device IDs (get device.id) to product names, used by
	// DetectDevices to fill DeviceInfo.Name
	Names map[int]string
}

// NewConnection returns a connection for the device at addr.  addr is a serial
// port if isSerial is true, otherwise host:port.
func NewConnection(addr string, isSerial bool) *Connection {
	rd := comm.NewRemoteDevice(addr, isSerial, &serial.Config{Baud: DefaultBaud})
	return NewConnectionWithPool(comm.NewPool(1, idleConnTimeout, rd.Dial))
}

// NewConnectionWithPool returns a connection using an existing pool.  The pool
// must hand out *comm.LineConn.
func NewConnectionWithPool(pool *comm.Pool) *Connection {
	return &Connection{pool: pool, Names: map[int]string{}}
}

// Close frees the underlying port
func (c *Connection) Close() error {
	return c.pool.Close()
}

func (c *Connection) lease() (*comm.LineConn, error) {
	rw, err := c.pool.Get()
	if err != nil {
		return nil, err
	}
	conn, ok := rw.(*comm.LineConn)
	if !ok {
		c.pool.Destroy(rw)
		return nil, fmt.Errorf("zaber: pool handed out %T, not a line connection", rw)
	}
	return conn, nil
}

// Raw sends a command and returns the raw text of the reply
func (c *Connection) Raw(s string) (string, error) {
	conn, err := c.lease()
	if err != nil {
		return "", err
	}
	if err = conn.WriteLine([]byte(s)); err != nil {
		c.pool.Destroy(conn)
		return "", err
	}
	resp, err := conn.ReadLine()
	if err != nil {
		c.pool.Destroy(conn)
		return "", err
	}
	c.pool.Put(conn)
	return string(resp), nil
}

// Command sends cmd to one device and axis and returns its reply.  A rejected
// command is returned as a RejectedError.
func (c *Connection) Command(device, axis int, cmd string) (Reply, error) {
	conn, err := c.lease()
	if err != nil {
		return Reply{}, err
	}
	wire := formatCommand(device, axis, cmd)
	if err = conn.WriteLine([]byte(wire)); err != nil {
		c.pool.Destroy(conn)
		return Reply{}, err
	}
	for {
		line, err := conn.ReadLine()
		if err != nil {
			c.pool.Destroy(conn)
			return Reply{}, fmt.Errorf("zaber: reading reply to %q: %w", wire, err)
		}
		if len(line) == 0 || line[0] != '@' {
			continue // info and alert messages
		}
		r, err := parseReply(string(line))
		if err != nil {
			c.pool.Destroy(conn)
			return Reply{}, err
		}
		if r.Device != device || (axis != 0 && r.Axis != axis) {
			continue
		}
		c.pool.Put(conn)
		if !r.OK() {
			return r, RejectedError{Command: wire, Reason: r.Data}
		}
		return r, nil
	}
}

// Broadcast sends cmd to every device and collects replies until the port
// goes quiet
func (c *Connection) Broadcast(cmd string) ([]Reply, error) {
	conn, err := c.lease()
	if err != nil {
		return nil, err
	}
	if err = conn.WriteLine([]byte(formatCommand(0, 0, cmd))); err != nil {
		c.pool.Destroy(conn)
		return nil, err
	}
	var out []Reply
	for {
		line, err := conn.ReadLine()
		if err != nil {
			// the only way to know every device has answered is silence
			if isQuiet(err) {
				break
			}
			c.pool.Destroy(conn)
			return nil, err
		}
		if len(line) == 0 || line[0] != '@' {
			continue
		}
		r, err := parseReply(string(line))
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	c.pool.Put(conn)
	return out, nil
}

func isQuiet(err error) bool {
	if err == io.EOF || err == comm.ErrTerminatorNotFound {
		return true
	}
	if te, ok := err.(interface{ Timeout() bool }); ok && te.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "timeout")
}

// DeviceInfo identifies one device on the chain
type DeviceInfo struct {
	// Address is the device number on the chain, from 1
	Address int

	// ID is the product ID reported by get device.id
	ID int

	// Name is the product name, if the ID is in Connection.Names
	Name string
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%d: %s (id %d)", d.Address, d.Name, d.ID)
}

// DetectDevices lists the devices on the chain in address order
func (c *Connection) DetectDevices() ([]DeviceInfo, error) {
	replies, err := c.Broadcast("get device.id")
	if err != nil {
		return nil, err
	}
	out := make([]DeviceInfo, 0, len(replies))
	for _, r := range replies {
		id, err := r.Int()
		if err != nil {
			return nil, fmt.Errorf("zaber: device %d id %q: %w", r.Device, r.Data, ErrBadReply)
		}
		name, ok := c.Names[int(id)]
		if !ok {
			name = fmt.Sprintf("device-%d", id)
		}
		out = append(out, DeviceInfo{Address: r.Device, ID: int(id), Name: name})
	}
	// replies arrive in chain order, which is not necessarily address order
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// Selector picks a device from a detected list
type Selector func(DeviceInfo) bool

// NameContains selects the first device whose name contains sub
func NameContains(sub string) Selector {
	return func(d DeviceInfo) bool { return strings.Contains(d.Name, sub) }
}

// AddressIs selects the device at a given chain address
func AddressIs(addr int) Selector {
	return func(d DeviceInfo) bool { return d.Address == addr }
}

// IDIs selects the first device with a given product ID
func IDIs(id int) Selector {
	return func(d DeviceInfo) bool { return d.ID == id }
}

// Select returns the first device in devs matching sel, or ErrDeviceNotFound
func Select(devs []DeviceInfo, sel Selector) (DeviceInfo, error) {
	for _, d := range devs {
		if sel(d) {
			return d, nil
		}
	}
	return DeviceInfo{}, ErrDeviceNotFound
}

// FindDevice detects the chain and returns the first device matching sel
func (c *Connection) FindDevice(sel Selector) (*Device, error) {
	devs, err := c.DetectDevices()
	if err != nil {
		return nil, err
	}
	info, err := Select(devs, sel)
	if err != nil {
		return nil, err
	}
	return c.Device(info.Address), nil
}

// Device returns a handle to the device at addr without talking to it
func (c *Connection) Device(addr int) *Device {
	return &Device{conn: c, Address: addr}
}

// Device is one device on a chain
type Device struct {
	conn *Connection

	// Address is the chain address
	Address int
}

// Axis returns a handle to axis n (from 1) of the device, with default settings
func (d *Device) Axis(n int) *Axis {
	return NewAxis(d.conn, d.Address, n)
}

// Command sends a device-scoped (axis 0) command
func (d *Device) Command(cmd string) (Reply, error) {
	return d.conn.Command(d.Address, 0, cmd)
}

// WaitIdle blocks until every axis of the device is idle
func (d *Device) WaitIdle(ctx context.Context) error {
	return d.Axis(0).WaitIdle(ctx)
}
