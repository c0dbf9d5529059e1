/*Package scanline reads the display controller's scan position.

The HVS block of the display pipeline has three scaler channels, each with a
status word whose low bits track where the beam is: the current line of the
current frame.  Reads are lock-free single-word loads and never fail once the
window is mapped.
*/
package scanline

import (
	"fmt"

	"github.com/monocle-imaging/monocle/mmio"
)

const (
	// DefaultMemPath is the physical memory device the HVS window is mapped from
	DefaultMemPath = "/dev/mem"

	// DefaultBase is the physical address of the HVS register block
	DefaultBase = 0xFE400000

	// WindowLength is the size of the mapped HVS window
	WindowLength = 0x100

	// PositionMask selects the combined frame/line field of a status word
	PositionMask = 0x3FFF

	// LineBits is the width of the line counter in the split layout
	LineBits = 12

	// FrameMask selects the frame counter (mod 64) once shifted down by LineBits
	FrameMask = 0x3F
)

// ErrDeviceUnavailable is generated when the HVS window cannot be mapped
var ErrDeviceUnavailable = mmio.ErrDeviceUnavailable

// Scaler names one of the display pipeline's status channels
type Scaler int

const (
	// Scaler0 is the first scaler channel
	Scaler0 Scaler = iota

	// Scaler1 is the second scaler channel
	Scaler1

	// Scaler2 is the third scaler channel
	Scaler2
)

// offsets of the DISPSTAT words of each channel, relative to the HVS base
var statusOffset = [3]uintptr{0x48, 0x58, 0x68}

// Offset is the byte offset of the channel's status word
func (s Scaler) Offset() uintptr {
	return statusOffset[s]
}

// Valid reports whether s names a channel that exists
func (s Scaler) Valid() bool {
	return s >= Scaler0 && s <= Scaler2
}

func (s Scaler) String() string {
	return fmt.Sprintf("scaler%d", int(s))
}

// Position is a snapshot of the scan position
type Position struct {
	// Frame is the frame counter, mod 64.  ReadPosition leaves it zero and
	// carries the whole field in Line.
	Frame uint32 `json:"frame"`

	// Line is the line counter
	Line uint32 `json:"line"`
}

// Scalar flattens a position into one number that orders positions
func (p Position) Scalar() uint32 {
	return p.Frame<<LineBits + p.Line
}

// Less reports whether p comes before q
func (p Position) Less(q Position) bool {
	return p.Scalar() < q.Scalar()
}

// Oracle reads the status words of all three scalers
type Oracle struct {
	regs   [3]mmio.Register
	region *mmio.Region
}

// New builds an oracle over three registers, in channel order
func New(s0, s1, s2 mmio.Register) *Oracle {
	return &Oracle{regs: [3]mmio.Register{s0, s1, s2}}
}

// Open maps the HVS block at base from the memory device at path
func Open(path string, base int64) (*Oracle, error) {
	region, err := mmio.Map(path, base, WindowLength)
	if err != nil {
		return nil, err
	}
	o := &Oracle{region: region}
	for i := range o.regs {
		o.regs[i] = region.Word(statusOffset[i])
	}
	return o, nil
}

// Raw returns the unmasked status word of a channel
func (o *Oracle) Raw(s Scaler) uint32 {
	return o.regs[s].Load()
}

// ReadPosition returns the low 14 bits of the channel's status word as a
// single opaque position.
func (o *Oracle) ReadPosition(s Scaler) Position {
	return Position{Line: o.Raw(s) & PositionMask}
}

// ReadSplit decodes the status word into separate frame and line counters.
// It is for diagnostics; acquisition uses ReadPosition.
func (o *Oracle) ReadSplit(s Scaler) Position {
	raw := o.Raw(s)
	return Position{
		Frame: (raw >> LineBits) & FrameMask,
		Line:  raw & (1<<LineBits - 1),
	}
}

// Close releases the mapping, if Open made one
func (o *Oracle) Close() error {
	if o.region == nil {
		return nil
	}
	return o.region.Close()
}
