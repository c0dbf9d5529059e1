package reconstruct

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/monocle-imaging/monocle/acquisition"
	"github.com/monocle-imaging/monocle/display"
	"github.com/monocle-imaging/monocle/pulsecounter"
	"github.com/monocle-imaging/monocle/scanline"
	"github.com/monocle-imaging/monocle/schedule"
)

func onePerFrame(frames []uint32, count uint32) []acquisition.Sample {
	out := make([]acquisition.Sample, len(frames))
	for i, f := range frames {
		out[i] = acquisition.Sample{Frame: f, Reading: pulsecounter.Reading{Count: count}}
	}
	return out
}

func TestConstantRateRoundTrip(t *testing.T) {
	s := schedule.Schedule{Span: 12, Divider: 3}
	// every other frame of a 4x4 scan
	var frames []uint32
	visited := map[uint32]bool{}
	for f := uint32(0); f < s.Cells(); f += 2 {
		frames = append(frames, f)
		visited[f] = true
	}
	im := Reconstruct(onePerFrame(frames, 42), s)
	if im.Width != 4 || im.Height != 4 {
		t.Fatalf("expected a 4x4 image, got %dx%d", im.Width, im.Height)
	}
	for f := uint32(0); f < s.Cells(); f++ {
		x, y, _ := s.Cell(f)
		want := float32(0)
		if visited[f] {
			want = 42
		}
		if got := im.At(int(x), int(y)); got != want {
			t.Errorf("cell (%d, %d) = %f, want %f", x, y, got, want)
		}
	}
}

func TestMeanPerFrame(t *testing.T) {
	s := schedule.Schedule{Span: 2, Divider: 1}
	samples := []acquisition.Sample{
		{Frame: 1, Reading: pulsecounter.Reading{Count: 2}},
		{Frame: 1, Reading: pulsecounter.Reading{Count: 6}},
		{Frame: 9, Reading: pulsecounter.Reading{Count: 100}},
	}
	im := Reconstruct(samples, s)
	if im.At(1, 0) != 4 {
		t.Errorf("expected the mean of 2 and 6 in cell (1, 0), got %f", im.At(1, 0))
	}
	for _, v := range []float32{im.At(0, 0), im.At(0, 1), im.At(1, 1)} {
		if v != 0 {
			t.Error("frames past the scan should be ignored")
		}
	}
}

func TestFrameSplitAcrossLog(t *testing.T) {
	s := schedule.Schedule{Span: 2, Divider: 1}
	samples := []acquisition.Sample{
		{Frame: 1, Reading: pulsecounter.Reading{Count: 10}},
		{Frame: 2, Reading: pulsecounter.Reading{Count: 5}},
		{Frame: 1, Reading: pulsecounter.Reading{Count: 2}},
	}
	im := Reconstruct(samples, s)
	if im.At(1, 0) != 6 {
		t.Errorf("expected the mean of every frame 1 sample in cell (1, 0), got %f", im.At(1, 0))
	}
}

func TestZeroLagShiftsByOneCell(t *testing.T) {
	s := schedule.Schedule{Span: 2, Divider: 1}
	// frame 0 is lit; its light is measured after the counter moves to 1
	samples := onePerFrame([]uint32{1}, 8)
	if im := Lagged(samples, s, 0); im.At(0, 0) != 0 || im.At(1, 0) != 8 {
		t.Errorf("lag 0 should put frame 0's light in cell (1, 0), got %v", im.Pix)
	}
	if im := Lagged(samples, s, 1); im.At(0, 0) != 8 {
		t.Errorf("lag 1 should put frame 0's light in cell (0, 0), got %v", im.Pix)
	}
}

func TestLagged(t *testing.T) {
	s := schedule.Schedule{Span: 2, Divider: 1}
	samples := onePerFrame([]uint32{0, 3}, 5)
	im := Lagged(samples, s, 2)
	if im.At(1, 0) != 5 {
		t.Errorf("frame 3 lagged by 2 should land on cell (1, 0), got %v", im.Pix)
	}
	if im.At(0, 0) != 0 {
		t.Error("frame 0 lagged by 2 should be dropped")
	}
}

func TestNormalize(t *testing.T) {
	im := &Image{Width: 3, Height: 1, Pix: []float32{2, 4, 6}}
	out, err := im.Normalize(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{0, 0.5, 1}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("normalized %v, want %v", out, want)
			break
		}
	}
	if im.Pix[1] != 4 {
		t.Error("Normalize must not modify the image")
	}
}

func TestNormalizeFlat(t *testing.T) {
	im := NewImage(2, 2)
	if _, err := im.Normalize(0, 1); !errors.Is(err, ErrFlatImage) {
		t.Errorf("expected ErrFlatImage, got %v", err)
	}
	g := im.Gray()
	for _, v := range g.Pix {
		if v != 0 {
			t.Fatal("flat image should render black")
		}
	}
}

type steady struct{ rate uint32 }

func (s steady) MeasureWindow(d time.Duration) (pulsecounter.Reading, bool) {
	time.Sleep(d)
	return pulsecounter.Reading{Count: s.rate}, true
}

type origin struct{}

func (origin) ReadPosition(scanline.Scaler) scanline.Position { return scanline.Position{} }

func TestEndToEnd2x2(t *testing.T) {
	const R = 17
	geom := display.Geometry{Width: 2, Height: 4, Stride: 6, BytesPerPixel: 3}
	surface := func() (display.Surface, error) {
		return display.NewSimulated(geom, 200), nil
	}
	cfg := acquisition.DefaultConfig()
	cfg.Grace = 5 * time.Millisecond
	c := acquisition.New(steady{R}, origin{}, surface, cfg)
	s := schedule.Schedule{Span: 4, Divider: 2}
	res, err := c.Run(context.Background(), schedule.Block{Schedule: s})
	if err != nil {
		t.Fatal(err)
	}
	if res.Frames != 4 {
		t.Fatalf("expected 4 frames, got %d", res.Frames)
	}
	// the counter is bumped after painting, so windows tagged n were taken
	// while frame n-1 was up
	im := Lagged(res.Samples, s, 1)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if im.At(x, y) != R {
				t.Errorf("cell (%d, %d) = %f, want %d", x, y, im.At(x, y), R)
			}
		}
	}

	// drop every window of one frame and its cell goes dark
	var kept []acquisition.Sample
	for _, smp := range res.Samples {
		if smp.Frame != 3 {
			kept = append(kept, smp)
		}
	}
	im = Lagged(kept, s, 1)
	if im.At(0, 1) != 0 || im.At(0, 0) != R || im.At(1, 1) != R {
		t.Errorf("expected cell (0, 1) empty and the rest at %d, got %v", R, im.Pix)
	}
}
