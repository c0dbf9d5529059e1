/*Package mount drives the pan/tilt telescope mount that points the instrument.

The mount is a Celestron NexStar hand controller on a serial line.  Angles go
over the wire as hexadecimal fractions of a full turn, either 32 bits
("precise") or 16 bits wide.  Altitudes come back in [0, 360) and are folded
into (-90, 90].
*/
package mount

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/tarm/serial"

	"github.com/monocle-imaging/monocle/comm"
)

const (
	// DefaultAddr is the USB serial adapter the hand controller enumerates as
	DefaultAddr = "/dev/ttyUSB0"

	// DefaultBaud is the hand controller's fixed line rate
	DefaultBaud = 9600

	preciseTurn   = float64(0xFFFFFFFF)
	impreciseTurn = 65536.0
	foldLimit     = 90.0001
)

// ErrBadReply is generated when the controller's answer cannot be parsed
var ErrBadReply = errors.New("malformed reply from mount")

// Mount is something that can point at an azimuth and altitude, in degrees
type Mount interface {
	Goto(az, alt float64) error
	Position() (az, alt float64, err error)
}

// wrap puts an angle in [0, 360)
func wrap(deg float64) float64 {
	deg -= 360 * math.Floor(deg/360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// fold maps an altitude read as [0, 360) into (-90, 90]
func fold(deg float64) float64 {
	if deg < -foldLimit {
		deg += 360
	}
	if deg > foldLimit {
		deg -= 360
	}
	return deg
}

// EncodePrecise formats an az/alt pair as two 32-bit fractions of a turn, "XXXXXXXX,YYYYYYYY"
func EncodePrecise(az, alt float64) string {
	x := uint32(wrap(az) / 360 * preciseTurn)
	y := uint32(wrap(alt) / 360 * preciseTurn)
	return fmt.Sprintf("%08X,%08X", x, y)
}

// EncodeImprecise formats an az/alt pair as two 16-bit fractions of a turn, "XXXX,YYYY"
func EncodeImprecise(az, alt float64) string {
	x := uint16(wrap(az) / 360 * impreciseTurn)
	y := uint16(wrap(alt) / 360 * impreciseTurn)
	return fmt.Sprintf("%04X,%04X", x, y)
}

func decode(s string, turn float64) (az, alt float64, err error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadReply, s)
	}
	var v [2]float64
	for i, p := range parts {
		u, err := strconv.ParseUint(p, 16, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q: %v", ErrBadReply, s, err)
		}
		v[i] = 360 * float64(u) / turn
	}
	return v[0], fold(v[1]), nil
}

// DecodePrecise parses a "XXXXXXXX,YYYYYYYY" reply into degrees
func DecodePrecise(s string) (az, alt float64, err error) {
	return decode(s, preciseTurn)
}

// DecodeImprecise parses a "XXXX,YYYY" reply into degrees
func DecodeImprecise(s string) (az, alt float64, err error) {
	return decode(s, impreciseTurn)
}

// NexStar talks to a NexStar hand controller
type NexStar struct {
	dev *comm.RemoteDevice
}

// NewNexStar returns a mount at addr.  If serial is false addr is a
// host:port, e.g. a serial server.
func NewNexStar(addr string, isSerial bool, baud int) *NexStar {
	if baud == 0 {
		baud = DefaultBaud
	}
	conf := &serial.Config{Baud: baud, Size: 8, Parity: serial.ParityNone, StopBits: serial.Stop1}
	term := comm.Terminators{Rx: '#'}
	return &NexStar{dev: comm.NewRemoteDevice(addr, isSerial, conf, term)}
}

// send issues a bare command and returns the reply without its '#'
func (n *NexStar) send(cmd string) (string, error) {
	resp, err := n.dev.SendRecv([]byte(cmd))
	return string(resp), err
}

// Goto slews to the given azimuth and altitude using the precise command
func (n *NexStar) Goto(az, alt float64) error {
	resp, err := n.send("b" + EncodePrecise(az, alt))
	if err != nil {
		return err
	}
	if resp != "" {
		return fmt.Errorf("%w: goto answered %q", ErrBadReply, resp)
	}
	return nil
}

// Position reads the current azimuth and altitude
func (n *NexStar) Position() (az, alt float64, err error) {
	resp, err := n.send("z")
	if err != nil {
		return 0, 0, err
	}
	return DecodePrecise(resp)
}

// Close frees the serial port
func (n *NexStar) Close() error {
	return n.dev.Close()
}

// Mock is a mount that arrives instantly.  It keeps what the controller
// would report, so positions go through the precise encoding.
type Mock struct {
	mu  sync.Mutex
	pos string
}

// NewMock returns a mock mount pointing at (0, 0)
func NewMock() *Mock {
	return &Mock{pos: EncodePrecise(0, 0)}
}

// Goto implements Mount
func (m *Mock) Goto(az, alt float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = EncodePrecise(az, alt)
	return nil
}

// Position implements Mount
func (m *Mock) Position() (az, alt float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return DecodePrecise(m.pos)
}
