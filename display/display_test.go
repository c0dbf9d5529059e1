package display

import (
	"context"
	"errors"
	"testing"
)

var small = Geometry{Width: 4, Height: 3, Stride: 12, BytesPerPixel: 3}

func TestFillRectClips(t *testing.T) {
	f := Frame{Geometry: small, Pix: make([]byte, small.Size())}
	f.FillRect(10, 2, 5, 5, 9)
	for row := 0; row < small.Height; row++ {
		for col := 0; col < small.Stride; col++ {
			v := f.Pix[row*small.Stride+col]
			want := byte(0)
			if row >= 2 && col >= 10 {
				want = 9
			}
			if v != want {
				t.Fatalf("byte (%d, %d) = %d, want %d", col, row, v, want)
			}
		}
	}
}

func TestFillRectOffFrame(t *testing.T) {
	f := Frame{Geometry: small, Pix: make([]byte, small.Size())}
	f.FillRect(-10, -10, 5, 5, 9)
	f.FillRect(100, 100, 5, 5, 9)
	for i, v := range f.Pix {
		if v != 0 {
			t.Fatalf("byte %d painted by an off-frame rectangle", i)
		}
	}
}

func TestStateOrder(t *testing.T) {
	d := NewDriver(NewSimulated(small, 0))
	if d.State() != Idle {
		t.Fatalf("new driver should be idle, is %s", d.State())
	}
	if err := d.Run(context.Background(), func(Frame) bool { return true }); !errors.Is(err, ErrWrongState) {
		t.Errorf("Run before Configure should fail with ErrWrongState, got %v", err)
	}
	if _, err := d.Configure(); err != nil {
		t.Fatal(err)
	}
	if d.State() != Configured {
		t.Errorf("expected configured, got %s", d.State())
	}
	if err := d.Run(context.Background(), func(Frame) bool { return true }); err != nil {
		t.Fatal(err)
	}
	if d.State() != Stopped {
		t.Errorf("expected stopped, got %s", d.State())
	}
	if _, err := d.Configure(); !errors.Is(err, ErrWrongState) {
		t.Errorf("Configure of a stopped driver should fail with ErrWrongState, got %v", err)
	}
}

func TestConfigureFailureIsSetupFailure(t *testing.T) {
	s := NewSimulated(small, 0)
	s.Fail = errors.New("no HDMI connector")
	d := NewDriver(s)
	if _, err := d.Configure(); !errors.Is(err, ErrSetupFailure) {
		t.Errorf("expected ErrSetupFailure, got %v", err)
	}
	if d.State() != Idle {
		t.Errorf("failed configure should leave the driver idle, is %s", d.State())
	}
}

func TestRunCallsUntilStop(t *testing.T) {
	s := NewSimulated(small, 0)
	d := NewDriver(s)
	if _, err := d.Configure(); err != nil {
		t.Fatal(err)
	}
	calls := 0
	err := d.Run(context.Background(), func(f Frame) bool {
		calls++
		if len(f.Pix) != small.Size() {
			t.Errorf("frame of %d bytes, want %d", len(f.Pix), small.Size())
		}
		return calls == 10
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 10 {
		t.Errorf("expected 10 callbacks, got %d", calls)
	}
	// initial flip, one per callback
	if s.Flips() != 11 {
		t.Errorf("expected 11 completed flips, got %d", s.Flips())
	}
}

func TestRunPaintsTheBufferShownNext(t *testing.T) {
	s := NewSimulated(small, 0)
	var shown []byte
	s.OnScanout = func(i int, buf []byte) { shown = append(shown, buf[0]) }
	d := NewDriver(s)
	if _, err := d.Configure(); err != nil {
		t.Fatal(err)
	}
	n := byte(0)
	err := d.Run(context.Background(), func(f Frame) bool {
		n++
		f.Fill(n)
		return n == 4
	})
	if err != nil {
		t.Fatal(err)
	}
	// blank initial flip, blank second buffer, then frames 1, 2, 3 in order
	want := []byte{0, 0, 1, 2, 3}
	if len(shown) != len(want) {
		t.Fatalf("expected %d scanouts, got %v", len(want), shown)
	}
	for i := range want {
		if shown[i] != want[i] {
			t.Fatalf("scanout order %v, want %v", shown, want)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	d := NewDriver(NewSimulated(small, 1000))
	if _, err := d.Configure(); err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := d.Run(ctx, func(Frame) bool {
		calls++
		if calls == 3 {
			cancel()
		}
		return false
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected the loop to end after the cancelling frame, got %d calls", calls)
	}
}

func TestSimulatedFlipDiscipline(t *testing.T) {
	s := NewSimulated(small, 0)
	if _, err := s.Configure(); err != nil {
		t.Fatal(err)
	}
	if err := s.WaitFlip(); !errors.Is(err, ErrNoFlipPending) {
		t.Errorf("expected ErrNoFlipPending, got %v", err)
	}
	if err := s.Flip(0); err != nil {
		t.Fatal(err)
	}
	if err := s.Flip(1); !errors.Is(err, ErrFlipPending) {
		t.Errorf("expected ErrFlipPending, got %v", err)
	}
}
