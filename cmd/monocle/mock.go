package main

import (
	"math"

	"github.com/monocle-imaging/monocle/display"
	"github.com/monocle-imaging/monocle/mount"
	"github.com/monocle-imaging/monocle/pulsecounter"
	"github.com/monocle-imaging/monocle/scanline"
)

const (
	// mockPeak is the count rate, in pulses per second, of the brightest
	// point of the mock scene.  It stays under one counter wrap per window.
	mockPeak = 2e7

	// mockDark is the count rate with the panel off
	mockDark = 2e4

	// mockStep is the sampling stride, in bytes and rows, used to weigh a frame
	mockStep = 6
)

// scene is a fake object in front of the panel: a Gaussian spot.  Each
// frame that reaches the glass sets the synthetic counter's rate from the lit
// panel area weighted by the spot, saturating at mockPeak.
type scene struct {
	geom    display.Geometry
	counter *pulsecounter.Synthetic
	weights []float64
}

func newScene(g display.Geometry, counter *pulsecounter.Synthetic) *scene {
	s := &scene{geom: g, counter: counter}
	cx, cy := float64(g.Stride)/2, float64(g.Height)/2
	sigma := float64(g.Height) / 8
	for row := 0; row < g.Height; row += mockStep {
		for col := 0; col < g.Stride; col += mockStep {
			dx, dy := float64(col)-cx, float64(row)-cy
			w := math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			s.weights = append(s.weights, w)
		}
	}
	return s
}

func (s *scene) scanout(_ int, buf []byte) {
	var lit float64
	i := 0
	for row := 0; row < s.geom.Height; row += mockStep {
		for col := 0; col < s.geom.Stride; col += mockStep {
			lit += s.weights[i] * float64(buf[row*s.geom.Stride+col]) / 255
			i++
		}
	}
	s.counter.SetRate(mockDark + mockPeak*math.Min(lit, 1))
}

// mockHardware simulates the counter, the scan position block, the panel
// and the mount
func mockHardware(c Config) *hardware {
	g := display.Geometry{
		Width:         c.Display.Width,
		Height:        c.Display.Height,
		Stride:        c.Display.Width * 3,
		BytesPerPixel: 3,
	}
	hz := c.Display.RefreshHz
	if hz <= 0 {
		hz = 60
	}
	counter := pulsecounter.NewSynthetic(mockDark)
	sc := newScene(g, counter)
	lines := scanline.NewSynthetic(uint32(g.Height), hz)
	return &hardware{
		counter: pulsecounter.New(counter),
		oracle:  scanline.New(lines, lines, lines),
		surface: func() (display.Surface, error) {
			s := display.NewSimulated(g, hz)
			s.OnScanout = sc.scanout
			return s, nil
		},
		mount: mount.NewMock(),
	}
}
