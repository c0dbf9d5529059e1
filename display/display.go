/*Package display drives a double-buffered, page-flipped surface at its native
refresh rate.

A Driver owns one Surface.  Configure brings the surface up and queues the
first flip; Run then waits for each flip to complete, queues the next one
straight away so the hardware always has a buffer, and hands the buffer that
will be shown next to a callback which paints it.  The callback decides when
to stop.

	drv := display.NewDriver(surface)
	if _, err := drv.Configure(); err != nil {
		return err
	}
	defer drv.Close()
	err := drv.Run(ctx, func(f display.Frame) bool {
		f.Fill(0)
		return n++ >= 300
	})
*/
package display

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/monocle-imaging/monocle/logging"
)

var (
	// ErrSetupFailure is generated when no usable output, mode, or buffer could be configured
	ErrSetupFailure = errors.New("display setup failed")

	// ErrWrongState is generated when a Driver method is called out of order
	ErrWrongState = errors.New("display driver in wrong state for call")
)

// Geometry describes the layout of a buffer
type Geometry struct {
	// Width and Height are in pixels
	Width, Height int

	// Stride is the number of bytes per row, including any padding
	Stride int

	// BytesPerPixel is the pixel size, 3 for RGB888
	BytesPerPixel int
}

// Size is the number of bytes in one buffer
func (g Geometry) Size() int {
	return g.Stride * g.Height
}

// Surface is a double-buffered, page-flip-capable display output
type Surface interface {
	// Configure selects an output and mode and allocates both buffers
	Configure() (Geometry, error)

	// Buffer returns the pixel memory of buffer i (0 or 1)
	Buffer(i int) []byte

	// Flip queues buffer i for scanout on the next vsync
	Flip(i int) error

	// WaitFlip blocks until the queued flip completes
	WaitFlip() error

	// Close releases the output and buffers
	Close() error
}

// Frame is exclusive write access to one buffer for the duration of a callback
type Frame struct {
	Geometry
	Pix []byte
}

// Fill sets every byte of the frame to v
func (f Frame) Fill(v byte) {
	for i := range f.Pix {
		f.Pix[i] = v
	}
}

// FillRect sets the bytes of a rectangle to v.  col and w are in bytes, not
// pixels; row and h are in rows.  The rectangle is clipped to the frame.
func (f Frame) FillRect(col, row, w, h int, v byte) {
	c0, c1 := clip(col, col+w, f.Stride)
	r0, r1 := clip(row, row+h, f.Height)
	if c0 >= c1 || r0 >= r1 {
		return
	}
	for r := r0; r < r1; r++ {
		line := f.Pix[r*f.Stride+c0 : r*f.Stride+c1]
		for i := range line {
			line[i] = v
		}
	}
}

// Set writes one byte, ignoring coordinates outside the frame
func (f Frame) Set(col, row int, v byte) {
	if col < 0 || row < 0 || col >= f.Stride || row >= f.Height {
		return
	}
	f.Pix[row*f.Stride+col] = v
}

func clip(lo, hi, max int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > max {
		hi = max
	}
	return lo, hi
}

// Callback paints the next frame.  It must fully determine the frame's
// contents; nothing carries over from earlier frames.  Returning true stops
// the loop.
type Callback func(Frame) (stop bool)

// State is the lifecycle of a Driver
type State int32

const (
	// Idle is a driver that has not been configured
	Idle State = iota

	// Configured is a driver with buffers allocated and the first flip queued
	Configured

	// Running is a driver inside Run
	Running

	// Stopped is a driver whose loop has ended
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Driver runs the vsync loop of one Surface
type Driver struct {
	surface Surface
	geom    Geometry
	front   int
	state   atomic.Int32
	log     zerolog.Logger
}

// NewDriver returns an Idle driver for s
func NewDriver(s Surface) *Driver {
	return &Driver{surface: s, log: logging.Named("display")}
}

// State returns the current lifecycle state
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Geometry returns the configured buffer layout
func (d *Driver) Geometry() Geometry {
	return d.geom
}

func (d *Driver) transition(from, to State) error {
	if !d.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: want %s, have %s", ErrWrongState, from, d.State())
	}
	return nil
}

// Configure brings up the surface, blanks both buffers, and queues the first
// flip.  Any failure is reported as ErrSetupFailure and leaves the driver Idle.
func (d *Driver) Configure() (Geometry, error) {
	if d.State() != Idle {
		return Geometry{}, fmt.Errorf("%w: want %s, have %s", ErrWrongState, Idle, d.State())
	}
	g, err := d.surface.Configure()
	if err != nil {
		if !errors.Is(err, ErrSetupFailure) {
			err = fmt.Errorf("%w: %v", ErrSetupFailure, err)
		}
		return Geometry{}, err
	}
	for i := 0; i < 2; i++ {
		buf := d.surface.Buffer(i)
		if len(buf) < g.Size() {
			return Geometry{}, fmt.Errorf("%w: buffer %d is %d bytes, need %d", ErrSetupFailure, i, len(buf), g.Size())
		}
		Frame{Geometry: g, Pix: buf}.Fill(0)
	}
	d.front = 0
	if err := d.surface.Flip(d.front); err != nil {
		return Geometry{}, fmt.Errorf("%w: initial flip: %v", ErrSetupFailure, err)
	}
	d.geom = g
	d.state.Store(int32(Configured))
	d.log.Debug().Int("width", g.Width).Int("height", g.Height).Int("stride", g.Stride).Msg("surface configured")
	return g, nil
}

// Run is the vsync loop.  On every completed flip the buffers swap roles, the
// new front buffer is queued, and cb paints the back buffer.  Run returns nil
// once cb asks to stop.  ctx is checked once per frame; cancelling it ends the
// loop with ctx.Err().
func (d *Driver) Run(ctx context.Context, cb Callback) error {
	if err := d.transition(Configured, Running); err != nil {
		return err
	}
	defer d.state.Store(int32(Stopped))
	for {
		if err := d.surface.WaitFlip(); err != nil {
			return fmt.Errorf("waiting for flip: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.front ^= 1
		if err := d.surface.Flip(d.front); err != nil {
			return fmt.Errorf("queueing flip: %w", err)
		}
		back := Frame{Geometry: d.geom, Pix: d.surface.Buffer(d.front ^ 1)}
		if cb(back) {
			d.log.Debug().Msg("callback asked to stop")
			// let the last queued flip land so Close finds the surface idle
			return d.surface.WaitFlip()
		}
	}
}

// Close releases the surface
func (d *Driver) Close() error {
	d.state.Store(int32(Stopped))
	return d.surface.Close()
}
