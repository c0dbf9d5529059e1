package mmio

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// mapped writes a page with word i holding i*3 and maps it
func mapped(t *testing.T) *Region {
	page := make([]byte, os.Getpagesize())
	for i := 0; i < len(page)/4; i++ {
		binary.NativeEndian.PutUint32(page[i*4:], uint32(i*3))
	}
	fn := filepath.Join(t.TempDir(), "regs")
	if err := os.WriteFile(fn, page, 0666); err != nil {
		t.Fatal(err)
	}
	r, err := Map(fn, 0, len(page))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWordLoads(t *testing.T) {
	r := mapped(t)
	if w := r.Word(13 * 4).Load(); w != 39 {
		t.Errorf("expected word 13 to read 39, got %d", w)
	}
	if r.Len() != os.Getpagesize() {
		t.Errorf("expected one page mapped, got %d bytes", r.Len())
	}
}

func TestWordOutsideWindowPanics(t *testing.T) {
	r := mapped(t)
	defer func() {
		if recover() == nil {
			t.Error("a word past the end of the window should panic")
		}
	}()
	r.Word(uintptr(r.Len()))
}

func TestMapMissing(t *testing.T) {
	_, err := Map("/nonexistent/mem", 0, 4096)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestCloseTwice(t *testing.T) {
	r := mapped(t)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestFunc(t *testing.T) {
	var reg Register = Func(func() uint32 { return 7 })
	if reg.Load() != 7 {
		t.Error("Func should return its function's value")
	}
}
