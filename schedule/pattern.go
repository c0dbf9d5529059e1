package schedule

import (
	"github.com/monocle-imaging/monocle/display"
)

// Pattern paints frame n of an illumination sequence.  Every call must fully
// determine the frame.  done reports that n is past the end of the sequence,
// in which case nothing is painted.
type Pattern interface {
	Paint(f display.Frame, n uint32) (done bool)
}

// OpenEnded is implemented by patterns that may run until cancelled
type OpenEnded interface {
	OpenEnded() bool
}

// Marker is implemented by patterns with a frame of interest, such as the
// dark to light transition of a Step
type Marker interface {
	Mark() uint32
}

// Frames returns the pattern's frame budget, if it has one
func Frames(p Pattern) (uint32, bool) {
	type budgeted interface{ Budget() uint32 }
	if b, ok := p.(budgeted); ok {
		return b.Budget(), true
	}
	return 0, false
}

// Block moves a single lit cell through a Schedule
type Block struct {
	Schedule

	// Open keeps the last frame blank instead of finishing, until the caller stops
	Open bool
}

// Paint implements Pattern
func (b Block) Paint(f display.Frame, n uint32) bool {
	x, y, ok := b.Cell(n)
	if !ok {
		if b.Open {
			f.Fill(0)
			return false
		}
		return true
	}
	f.Fill(0)
	col, row, w, h := b.Rect(x, y)
	f.FillRect(col, row, w, h, 255)
	return false
}

// Budget is the number of frames in the scan
func (b Block) Budget() uint32 {
	return b.Cells()
}

// OpenEnded implements OpenEnded
func (b Block) OpenEnded() bool {
	return b.Open
}

// Step holds the panel dark for Transition frames, then lit
type Step struct {
	Transition uint32 `json:"transition" koanf:"Transition"`
	Total      uint32 `json:"frames" koanf:"Frames"`
}

// DefaultStep is the latency calibration sequence
func DefaultStep() Step {
	return Step{Transition: 20, Total: 300}
}

// Paint implements Pattern
func (s Step) Paint(f display.Frame, n uint32) bool {
	if n >= s.Total {
		return true
	}
	if n < s.Transition {
		f.Fill(0)
	} else {
		f.Fill(255)
	}
	return false
}

// Mark implements Marker
func (s Step) Mark() uint32 {
	return s.Transition
}

// Budget is the number of frames in the sequence
func (s Step) Budget() uint32 {
	return s.Total
}

// Flicker alternates the whole panel lit and dark with a 10 frame period
type Flicker struct {
	Total uint32 `json:"frames"`
}

// DefaultFlicker is the 300 frame flicker check
func DefaultFlicker() Flicker {
	return Flicker{Total: 300}
}

// Paint implements Pattern
func (fl Flicker) Paint(f display.Frame, n uint32) bool {
	if n >= fl.Total {
		return true
	}
	if n%10 > 5 {
		f.Fill(0)
	} else {
		f.Fill(255)
	}
	return false
}

// Budget is the number of frames in the sequence
func (fl Flicker) Budget() uint32 {
	return fl.Total
}

// Cutoff lights a disc of Radius around the panel centre shifted by (X, Y).
// Coordinates are byte columns and rows, as for Schedule.
type Cutoff struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Radius float64 `json:"radius"`
	Total  uint32  `json:"frames"`
}

// DefaultCutoff is the aperture check around the optical axis
func DefaultCutoff() Cutoff {
	return Cutoff{X: 0, Y: 210, Radius: 750, Total: 200}
}

// Paint implements Pattern
func (c Cutoff) Paint(f display.Frame, n uint32) bool {
	if n >= c.Total {
		return true
	}
	cx := float64(f.Stride)/2 + float64(c.X)
	cy := float64(f.Height)/2 + float64(c.Y)
	r2 := c.Radius * c.Radius
	for row := 0; row < f.Height; row++ {
		line := f.Pix[row*f.Stride : (row+1)*f.Stride]
		dy := float64(row) - cy
		for col := range line {
			dx := float64(col) - cx
			if dx*dx+dy*dy > r2 {
				line[col] = 0
			} else {
				line[col] = 255
			}
		}
	}
	return false
}

// Budget is the number of frames in the sequence
func (c Cutoff) Budget() uint32 {
	return c.Total
}
