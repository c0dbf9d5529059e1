/*Package pulsecounter reads the gated photon pulse counter wired to the GPIO
level register.

The counter is a 12-bit ripple counter whose outputs land on GPIO pins in no
particular order, so a count is recovered by gathering 12 scattered bits of
the level word.  A separate pin carries the sensor's overlight (saturation)
flag.

A window measurement brackets a short sleep with two reads of the register
and turns the difference into a count, throwing the window away if the
scheduler stretched it too far.
*/
package pulsecounter

import (
	"fmt"
	"time"

	"github.com/monocle-imaging/monocle/mathx"
	"github.com/monocle-imaging/monocle/mmio"
)

const (
	// CounterBits is the width of the hardware counter
	CounterBits = 12

	// Modulus is the value at which the counter wraps
	Modulus = 1 << CounterBits

	// OverlightBit is the level-register bit carrying the overlight flag
	OverlightBit = 27

	// DefaultWindow is the nominal sampling window
	DefaultWindow = 100 * time.Microsecond

	// DefaultMaxStretch is the largest elapsed/target ratio a window may have before it is discarded
	DefaultMaxStretch = 2.5

	// GPIOPath is the GPIO-only memory device
	GPIOPath = "/dev/gpiomem"

	// GPIOLength is the size of the GPIO register window
	GPIOLength = 1024

	// LevelWord is the word index of GPLEV0 inside the GPIO window
	LevelWord = 13
)

// ErrDeviceUnavailable is generated when the GPIO window cannot be mapped
var ErrDeviceUnavailable = mmio.ErrDeviceUnavailable

// Wire connects one level-register bit to one counter bit
type Wire struct {
	// Src is the bit of the raw level word
	Src uint

	// Dst is the bit of the decoded count
	Dst uint
}

// CounterWiring is the physical mapping from GPIO pins to counter outputs, LSB first
var CounterWiring = [CounterBits]Wire{
	{17, 0},
	{5, 1},
	{6, 2},
	{13, 3},
	{26, 4},
	{12, 5},
	{19, 6},
	{22, 7},
	{18, 8},
	{23, 9},
	{24, 10},
	{16, 11},
}

// Reading is one decoded counter value
type Reading struct {
	// Overlight is true if the sensor saturated
	Overlight bool

	// Count is the counter value.  Raw reads are in [0, Modulus); window
	// measurements hold the stretch-corrected number of pulses.
	Count uint32
}

// Decode extracts a Reading from a raw level word.  Only the bits named in
// CounterWiring and OverlightBit are looked at.
func Decode(raw uint32) Reading {
	var count uint32
	for _, w := range CounterWiring {
		count |= ((raw >> w.Src) & 1) << w.Dst
	}
	return Reading{
		Overlight: (raw>>OverlightBit)&1 == 1,
		Count:     count,
	}
}

// Encode is the inverse of Decode: it builds the level word a counter value
// would produce, with every unwired bit clear.  count is taken modulo Modulus.
func Encode(count uint32, overlight bool) uint32 {
	var raw uint32
	for _, w := range CounterWiring {
		raw |= ((count >> w.Dst) & 1) << w.Src
	}
	if overlight {
		raw |= 1 << OverlightBit
	}
	return raw
}

// Delta is the number of pulses between two raw counts.
//
// The wrapped branch is before + (Modulus - after), which is not the modular
// difference (after + Modulus - before).  It is kept as the instrument has
// always computed it; see DESIGN.md.
func Delta(before, after uint32) uint32 {
	if after < before {
		return before + (Modulus - after)
	}
	return after - before
}

// Device is the pulse counter behind a level register
type Device struct {
	reg        mmio.Register
	region     *mmio.Region
	maxStretch float64

	now   func() time.Time
	sleep func(time.Duration)
}

// New wraps a register that yields the raw level word
func New(reg mmio.Register) *Device {
	return &Device{
		reg:        reg,
		maxStretch: DefaultMaxStretch,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Open maps the GPIO window at path and binds the counter to word index word.
// There is no retry; failures wrap ErrDeviceUnavailable.
func Open(path string, word int) (*Device, error) {
	region, err := mmio.Map(path, 0, GPIOLength)
	if err != nil {
		return nil, err
	}
	if word < 0 || (word+1)*4 > region.Len() {
		region.Close()
		return nil, fmt.Errorf("%w: word %d outside %s", ErrDeviceUnavailable, word, path)
	}
	d := New(region.Word(uintptr(word) * 4))
	d.region = region
	return d, nil
}

// SetMaxStretch changes the discard threshold.  Values <= 1 are ignored.
func (d *Device) SetMaxStretch(ratio float64) {
	if ratio > 1 {
		d.maxStretch = ratio
	}
}

// Read decodes the register as it is right now
func (d *Device) Read() Reading {
	return Decode(d.reg.Load())
}

// MeasureWindow counts pulses over a window of nominal length target.
//
// The returned count is Delta scaled by elapsed/target and rounded.  If the
// window ran longer than the stretch limit the measurement is discarded and
// ok is false.  Overlight is set if either read saw it.
func (d *Device) MeasureWindow(target time.Duration) (r Reading, ok bool) {
	start := d.now()
	before := d.Read()
	d.sleep(target)
	after := d.Read()
	elapsed := d.now().Sub(start)

	ratio := float64(elapsed) / float64(target)
	if ratio > d.maxStretch {
		return Reading{}, false
	}
	// scaled up, not down; see DESIGN.md
	delta := float64(Delta(before.Count, after.Count))
	return Reading{
		Overlight: before.Overlight || after.Overlight,
		Count:     uint32(mathx.Round(delta*ratio, 1)),
	}, true
}

// Close releases the register mapping, if Open made one
func (d *Device) Close() error {
	if d.region == nil {
		return nil
	}
	return d.region.Close()
}
