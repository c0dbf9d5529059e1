package schedule

import (
	"errors"
	"fmt"
	"testing"

	"github.com/monocle-imaging/monocle/display"
)

func ExampleSchedule_Cell() {
	s := Default()
	for _, n := range []uint32{0, 249, 250, 62499, 62500} {
		x, y, ok := s.Cell(n)
		fmt.Println(n, x, y, ok)
	}
	// Output:
	// 0 0 0 true
	// 249 249 0 true
	// 250 0 1 true
	// 62499 249 249 true
	// 62500 0 0 false
}

func TestDefaultGrid(t *testing.T) {
	s := Default()
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
	if s.Side() != 250 || s.Cells() != 62500 {
		t.Errorf("expected a 250x250 grid, got side %d, %d cells", s.Side(), s.Cells())
	}
}

func TestCellIsTotal(t *testing.T) {
	s := Schedule{Span: 12, Divider: 3}
	seen := map[[2]uint32]bool{}
	for n := uint32(0); n < s.Cells(); n++ {
		x, y, ok := s.Cell(n)
		if !ok {
			t.Fatalf("frame %d inside the scan reported no cell", n)
		}
		if x >= s.Side() || y >= s.Side() {
			t.Fatalf("frame %d mapped outside the grid to (%d, %d)", n, x, y)
		}
		seen[[2]uint32{x, y}] = true
	}
	if len(seen) != int(s.Cells()) {
		t.Errorf("expected every cell visited once, visited %d of %d", len(seen), s.Cells())
	}
}

func TestValidate(t *testing.T) {
	if err := (Schedule{Span: 1500, Divider: 7}).Validate(); !errors.Is(err, ErrIndivisible) {
		t.Errorf("expected ErrIndivisible, got %v", err)
	}
	if err := (Schedule{Span: 1500}).Validate(); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, _, ok := (Schedule{}).Cell(0); ok {
		t.Error("an empty schedule has no cells")
	}
}

func frame(stride, rows int) display.Frame {
	g := display.Geometry{Width: stride / 3, Height: rows, Stride: stride, BytesPerPixel: 3}
	return display.Frame{Geometry: g, Pix: make([]byte, g.Size())}
}

func lit(f display.Frame) int {
	n := 0
	for _, v := range f.Pix {
		if v == 255 {
			n++
		}
	}
	return n
}

func TestBlockLightsOneCell(t *testing.T) {
	b := Block{Schedule: Schedule{Span: 4, Divider: 2, OriginX: 1, OriginY: 1}}
	f := frame(6, 6)
	f.Fill(7)
	if done := b.Paint(f, 3); done {
		t.Fatal("frame 3 of a 2x2 scan should not be done")
	}
	if lit(f) != 4 {
		t.Errorf("expected a 2x2 lit cell, got %d lit bytes", lit(f))
	}
	// cell (1, 1) covers columns 3-4 of rows 3-4
	if f.Pix[3*6+3] != 255 || f.Pix[4*6+4] != 255 || f.Pix[0] != 0 {
		t.Error("lit cell in the wrong place or stale contents left behind")
	}
	if !b.Paint(f, 4) {
		t.Error("frame 4 of a 2x2 scan should be done")
	}
}

func TestOpenBlockBlanksAfterScan(t *testing.T) {
	b := Block{Schedule: Schedule{Span: 4, Divider: 2}, Open: true}
	f := frame(6, 6)
	f.Fill(255)
	if b.Paint(f, 100) {
		t.Error("open-ended block should never finish")
	}
	if lit(f) != 0 {
		t.Error("frames past the scan should be blank")
	}
}

func TestStep(t *testing.T) {
	s := DefaultStep()
	f := frame(6, 2)
	s.Paint(f, 19)
	if lit(f) != 0 {
		t.Error("frames before the transition should be dark")
	}
	s.Paint(f, 20)
	if lit(f) != len(f.Pix) {
		t.Error("frames from the transition on should be lit")
	}
	if !s.Paint(f, 300) {
		t.Error("step should finish after 300 frames")
	}
	if s.Mark() != 20 {
		t.Errorf("expected mark at 20, got %d", s.Mark())
	}
}

func TestFlickerPeriod(t *testing.T) {
	fl := DefaultFlicker()
	f := frame(3, 1)
	for n := uint32(0); n < 20; n++ {
		fl.Paint(f, n)
		want := byte(255)
		if n%10 > 5 {
			want = 0
		}
		if f.Pix[0] != want {
			t.Errorf("frame %d painted %d, want %d", n, f.Pix[0], want)
		}
	}
}

func TestCutoffDisc(t *testing.T) {
	c := Cutoff{X: 2, Y: 0, Radius: 1, Total: 1}
	f := frame(9, 5)
	c.Paint(f, 0)
	// centre is (4.5+2, 2.5); the disc of radius 1 covers (6, 2), (7, 2), (6, 3), (7, 3)
	if lit(f) != 4 {
		t.Errorf("expected 4 lit bytes, got %d", lit(f))
	}
	if f.Pix[2*9+6] != 255 || f.Pix[2*9+1] != 0 {
		t.Error("disc not translated to the right")
	}
	if !c.Paint(f, 1) {
		t.Error("cutoff should finish after its budget")
	}
}

func TestFramesBudget(t *testing.T) {
	if n, ok := Frames(DefaultFlicker()); !ok || n != 300 {
		t.Errorf("expected budget 300, got %d %v", n, ok)
	}
}
