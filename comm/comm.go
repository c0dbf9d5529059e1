/*Package comm provides embeddable types for communication with lab hardware
over serial lines or TCP.

A RemoteDevice holds a small pool of connections, opened on demand with an
exponential backoff and closed again once they have sat idle, so a device
that is only talked to now and then does not hold its port open.  Each
request is a single command followed by a single terminated reply.

A minimal example for a controller that answers "V" with its version,
terminating both directions with '#':

	dev := comm.NewRemoteDevice("/dev/ttyUSB0", true, &serial.Config{Baud: 9600}, comm.Terminators{Tx: '#', Rx: '#'})
	resp, err := dev.SendRecv([]byte("V"))
*/
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

const (
	// DefaultTimeout is the connect, read and write timeout for new connections
	DefaultTimeout = 3 * time.Second

	// DefaultIdle is how long an unused connection stays open
	DefaultIdle = 30 * time.Second
)

var (
	// ErrNoSerialConf is generated when a serial device is created without a serial.Config
	ErrNoSerialConf = errors.New("device is serial but has no serial config")

	// ErrNotConnected is generated when Send or Recv is called with no connection
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminators holds the bytes that end a transmission in each direction.
// A zero Tx sends commands bare.
type Terminators struct {
	Tx, Rx byte
}

// DefaultTerminators are carriage returns both ways
var DefaultTerminators = Terminators{Tx: '\r', Rx: '\r'}

/*RemoteDevice has an address and talks to it through a pool of one connection.

If IsSerial is true Addr is the name of the serial port and the config passed
to NewRemoteDevice supplies the line settings; otherwise Addr is host:port.

the device is concurrent-safe; the pool serializes commands.
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Term     Terminators

	// Timeout bounds connecting, and each read and write on TCP connections
	Timeout time.Duration

	serialConf *serial.Config
	pool       *Pool
}

// NewRemoteDevice creates a new RemoteDevice.  conf may be nil for TCP devices.
func NewRemoteDevice(addr string, isSerial bool, conf *serial.Config, term Terminators) *RemoteDevice {
	rd := &RemoteDevice{
		Addr:       addr,
		IsSerial:   isSerial,
		Term:       term,
		Timeout:    DefaultTimeout,
		serialConf: conf,
	}
	rd.pool = NewPool(1, DefaultIdle, rd.Open)
	return rd
}

// Open makes a new connection to the remote.  It retries with an exponential
// backoff for a few seconds, except for refused connections which fail at once.
func (rd *RemoteDevice) Open() (io.ReadWriteCloser, error) {
	var conn io.ReadWriteCloser
	op := func() error {
		c, err := rd.open()
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "refused") || errors.Is(err, ErrNoSerialConf) {
				return backoff.Permanent(err)
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
		MaxElapsedTime:      rd.Timeout,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", rd.Addr, err)
	}
	return conn, nil
}

func (rd *RemoteDevice) open() (io.ReadWriteCloser, error) {
	if rd.IsSerial {
		if rd.serialConf == nil {
			return nil, ErrNoSerialConf
		}
		conf := *rd.serialConf
		conf.Name = rd.Addr
		if conf.ReadTimeout == 0 {
			conf.ReadTimeout = rd.Timeout
		}
		return serial.OpenPort(&conf)
	}
	return TCPSetup(rd.Addr, rd.Timeout)
}

// Close frees any idle connection
func (rd *RemoteDevice) Close() error {
	return rd.pool.Close()
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped.
// A connection that errors is thrown away rather than reused.
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	conn, err := rd.pool.Get()
	if err != nil {
		return nil, err
	}
	if nc, ok := conn.(net.Conn); ok {
		deadline := time.Now().Add(rd.Timeout)
		nc.SetDeadline(deadline)
	}
	err = Send(conn, b, rd.Term.Tx)
	if err != nil {
		rd.pool.Destroy(conn)
		return nil, err
	}
	resp, err := Recv(conn, rd.Term.Rx)
	if err != nil {
		rd.pool.Destroy(conn)
		return resp, err
	}
	rd.pool.Put(conn)
	return resp, nil
}

// Send writes data and the terminator to w.  A zero terminator is not sent.
func Send(w io.Writer, b []byte, term byte) error {
	if w == nil {
		return ErrNotConnected
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	if term != 0 {
		buf = append(buf, term)
	}
	_, err := w.Write(buf)
	return err
}

// Recv reads from r up to and including term and strips it
func Recv(r io.Reader, term byte) ([]byte, error) {
	if r == nil {
		return nil, ErrNotConnected
	}
	buf, err := bufio.NewReader(r).ReadBytes(term)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return buf, fmt.Errorf("%w: got %q", ErrTerminatorNotFound, buf)
		}
		return buf, err
	}
	return bytes.TrimSuffix(buf, []byte{term}), nil
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
