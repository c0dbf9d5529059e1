package scanline

import (
	"testing"

	"github.com/monocle-imaging/monocle/mmio"
)

func constant(v uint32) mmio.Register {
	return mmio.Func(func() uint32 { return v })
}

func TestReadPositionMasks14Bits(t *testing.T) {
	o := New(constant(0xFFFFFFFF), constant(0x12345), constant(0))
	p := o.ReadPosition(Scaler0)
	if p.Line != 0x3FFF || p.Frame != 0 {
		t.Errorf("expected line 0x3FFF frame 0, got %+v", p)
	}
	p = o.ReadPosition(Scaler1)
	if p.Line != 0x2345 {
		t.Errorf("expected line 0x2345, got %#x", p.Line)
	}
}

func TestReadSplit(t *testing.T) {
	raw := uint32(0x7)<<LineBits | 0x123 | 1<<30
	o := New(constant(0), constant(0), constant(raw))
	p := o.ReadSplit(Scaler2)
	if p.Frame != 7 || p.Line != 0x123 {
		t.Errorf("expected frame 7 line 0x123, got %+v", p)
	}
}

func TestReadIsFresh(t *testing.T) {
	var n uint32
	o := New(mmio.Func(func() uint32 { n++; return n }), constant(0), constant(0))
	a := o.ReadPosition(Scaler0)
	b := o.ReadPosition(Scaler0)
	if !a.Less(b) {
		t.Errorf("second read %+v should follow first %+v", b, a)
	}
}

func TestScalarOrdersFrameFirst(t *testing.T) {
	early := Position{Frame: 1, Line: 4000}
	late := Position{Frame: 2, Line: 0}
	if !early.Less(late) {
		t.Error("a later frame should order after any line of an earlier frame")
	}
}

func TestScalerValid(t *testing.T) {
	if !Scaler1.Valid() || Scaler(3).Valid() || Scaler(-1).Valid() {
		t.Error("only scalers 0 through 2 are valid")
	}
	if Scaler2.Offset() != 0x68 {
		t.Errorf("expected scaler2 at 0x68, got %#x", Scaler2.Offset())
	}
}

func TestSyntheticStaysInField(t *testing.T) {
	s := NewSynthetic(1080, 60)
	for i := 0; i < 100; i++ {
		raw := s.Load()
		if raw>>(LineBits+6) != 0 {
			t.Fatalf("synthetic word %#x sets bits above the frame field", raw)
		}
		if raw&(1<<LineBits-1) >= 1080 {
			t.Fatalf("synthetic line %d past the end of the frame", raw&(1<<LineBits-1))
		}
	}
}

func TestOpenMissingDevice(t *testing.T) {
	if _, err := Open("/nonexistent/mem", DefaultBase); err == nil {
		t.Fatal("expected an error opening a missing device")
	}
}
