/*Package reconstruct turns a tagged sample log into an image.

Each frame's windows are averaged into one rate, and that rate is written to
the grid cell the scan schedule lit on that frame.  Cells whose frames got
no windows stay zero; frames the schedule does not cover are ignored.
*/
package reconstruct

import (
	"errors"
	"fmt"
	"image"

	"github.com/monocle-imaging/monocle/acquisition"
	"github.com/monocle-imaging/monocle/mathx"
	"github.com/monocle-imaging/monocle/schedule"
)

// ErrFlatImage is generated when an image has no contrast to normalize
var ErrFlatImage = errors.New("image is flat, min == max")

// Image is a grid of mean pulse rates, row-major from the top left
type Image struct {
	Width, Height int
	Pix           []float32
}

// NewImage returns a zeroed w x h image
func NewImage(w, h int) *Image {
	return &Image{Width: w, Height: h, Pix: make([]float32, w*h)}
}

// At returns the value of cell (x, y)
func (im *Image) At(x, y int) float32 {
	return im.Pix[y*im.Width+x]
}

// MinMax returns the smallest and largest cells
func (im *Image) MinMax() (min, max float32) {
	return mathx.MinMax(im.Pix)
}

// Normalize rescales a copy of the image so the global minimum maps to lo
// and the maximum to hi.  A flat image returns ErrFlatImage.
func (im *Image) Normalize(lo, hi float32) ([]float32, error) {
	min, max := im.MinMax()
	if min == max {
		return nil, fmt.Errorf("%w: every cell is %g", ErrFlatImage, min)
	}
	out := make([]float32, len(im.Pix))
	for i, v := range im.Pix {
		out[i] = mathx.Rescale(v, min, max, lo, hi)
	}
	return out, nil
}

// Gray is the image normalized to 8 bits.  A flat image comes out black.
func (im *Image) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, im.Width, im.Height))
	norm, err := im.Normalize(0, 255)
	if err != nil {
		return g
	}
	for i, v := range norm {
		g.Pix[i] = uint8(mathx.Round(float64(v), 1))
	}
	return g
}

// Reconstruct builds the image of a scan from its sample log
func Reconstruct(samples []acquisition.Sample, s schedule.Schedule) *Image {
	return Lagged(samples, s, 0)
}

// Lagged is Reconstruct with every sample attributed to the frame lag frames
// before the one it was tagged with, compensating for display latency.
// Samples that would land before frame 0 are dropped.
//
// The frame counter advances right after a frame is painted, so only the
// windows measured before frame 0 reaches the screen carry frame 0, and the
// light of frame n arrives in windows tagged n+1.  With lag 0, the default,
// cell 0 receives almost no windows and each cell shows the light of the
// cell scheduled before it.  Lag 1 lines them up when the display adds no
// further latency.
func Lagged(samples []acquisition.Sample, s schedule.Schedule, lag int) *Image {
	side := int(s.Side())
	im := NewImage(side, side)
	for _, m := range acquisition.MeanRates(samples) {
		f := int64(m.Frame) - int64(lag)
		if f < 0 {
			continue
		}
		x, y, ok := s.Cell(uint32(f))
		if !ok {
			continue
		}
		im.Pix[int(y)*side+int(x)] = float32(m.Mean)
	}
	return im
}
