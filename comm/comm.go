// Package comm provides connection management for lab hardware reached over
// RS232 or TCP.
//
// Most usages of this package boil down to:
//
//  1. describe the remote with a RemoteDevice (address, serial or TCP, timeout)
//  2. hand RemoteDevice.Dial to NewPool so connections are opened lazily,
//     serialized, and closed again when the hardware sits idle
//  3. speak the device protocol over the LineConn the pool hands out
//
// A minimal example for a sensor that responds to "RD?" with a reading:
//
//	rd := comm.NewRemoteDevice("/dev/ttyUSB0", true, &serial.Config{Baud: 115200})
//	pool := comm.NewPool(1, 30*time.Second, rd.Dial)
//	rw, err := pool.Get()
//	if err != nil {
//		return err
//	}
//	defer pool.Put(rw)
//	conn := rw.(*comm.LineConn)
//	if err = conn.WriteLine([]byte("RD?")); err != nil {
//		return err
//	}
//	resp, err := conn.ReadLine()
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNoSerialConf is generated when IsSerial is true and SerialConf is nil
	ErrNoSerialConf = errors.New("remote device is serial but has no serial configuration")

	// ErrNotConnected is generated when Conn is nil and I/O is attempted
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// DefaultTimeout is used for connect, read, and write when a RemoteDevice has no Timeout
const DefaultTimeout = 3 * time.Second

// RemoteDevice has an address and knows how to connect to it.
type RemoteDevice struct {
	// Addr is a network address (host:port) or a serial port name
	Addr string

	// IsSerial selects RS232 (true) or TCP (false)
	IsSerial bool

	// SerialConf is used when IsSerial is true; Name is filled from Addr if empty
	SerialConf *serial.Config

	// Timeout bounds connect, and each read and write on TCP connections
	Timeout time.Duration

	// Tx and Rx are the transmit and receive terminators
	Tx, Rx byte
}

// NewRemoteDevice creates a new RemoteDevice with newline termination both ways
func NewRemoteDevice(addr string, isSerial bool, conf *serial.Config) RemoteDevice {
	return RemoteDevice{
		Addr:       addr,
		IsSerial:   isSerial,
		SerialConf: conf,
		Timeout:    DefaultTimeout,
		Tx:         '\n',
		Rx:         '\n'}
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout <= 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

// Dial opens a connection and wraps it in a LineConn.  It retries with an
// exponential backoff on anything but a refused connection; serial hubs and
// terminal servers do not like being connection thrashed.
func (rd *RemoteDevice) Dial() (io.ReadWriteCloser, error) {
	var (
		conn    io.ReadWriteCloser
		refused error
	)
	op := func() error {
		c, err := rd.open()
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "refused") {
				// returning nil ends the retry loop; refused won't get better
				refused = err
				return nil
			}
			return err
		}
		conn = c
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      rd.timeout(),
		Clock:               backoff.SystemClock})
	if err == nil {
		err = refused
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", rd.Addr, err)
	}
	return NewLineConn(conn, rd.Tx, rd.Rx, rd.timeout()), nil
}

func (rd *RemoteDevice) open() (io.ReadWriteCloser, error) {
	if rd.IsSerial {
		if rd.SerialConf == nil {
			return nil, ErrNoSerialConf
		}
		conf := *rd.SerialConf
		if conf.Name == "" {
			conf.Name = rd.Addr
		}
		if conf.ReadTimeout == 0 {
			conf.ReadTimeout = rd.timeout()
		}
		return serial.OpenPort(&conf)
	}
	return TCPSetup(rd.Addr, rd.timeout())
}

// deadliner is satisfied by net.Conn
type deadliner interface {
	SetDeadline(time.Time) error
}

// LineConn frames I/O on a connection by terminator bytes.  The buffered reader
// lives as long as the connection, so bytes read ahead are never lost between
// exchanges.
type LineConn struct {
	io.ReadWriteCloser

	r       *bufio.Reader
	tx, rx  byte
	timeout time.Duration
}

// NewLineConn wraps rwc
func NewLineConn(rwc io.ReadWriteCloser, tx, rx byte, timeout time.Duration) *LineConn {
	return &LineConn{ReadWriteCloser: rwc, r: bufio.NewReader(rwc), tx: tx, rx: rx, timeout: timeout}
}

func (c *LineConn) refresh() {
	if d, ok := c.ReadWriteCloser.(deadliner); ok && c.timeout > 0 {
		d.SetDeadline(time.Now().Add(c.timeout))
	}
}

// WriteLine writes b followed by the transmit terminator
func (c *LineConn) WriteLine(b []byte) error {
	if c == nil || c.ReadWriteCloser == nil {
		return ErrNotConnected
	}
	c.refresh()
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, c.tx)
	_, err := c.Write(buf)
	return err
}

// ReadLine reads through the next receive terminator and strips it, along with
// any carriage return preceding it
func (c *LineConn) ReadLine() ([]byte, error) {
	if c == nil || c.ReadWriteCloser == nil {
		return nil, ErrNotConnected
	}
	c.refresh()
	buf, err := c.r.ReadBytes(c.rx)
	if err != nil {
		if len(buf) > 0 && err == io.EOF {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	buf = bytes.TrimSuffix(buf, []byte{c.rx})
	buf = bytes.TrimSuffix(buf, []byte{'\r'})
	return buf, nil
}

// Buffered returns the number of bytes already read from the remote but not consumed
func (c *LineConn) Buffered() int {
	return c.r.Buffered()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
