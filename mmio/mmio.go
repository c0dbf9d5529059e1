/*Package mmio maps windows of physical memory (/dev/mem, /dev/gpiomem) and
exposes single-word loads from them.

Registers in these windows are written by hardware behind the CPU's back, so
every Load goes back to the mapping with an atomic 32-bit read; nothing is
cached between calls.

	gpio, err := mmio.Map("/dev/gpiomem", 0, 1024)
	if err != nil {
		return err
	}
	defer gpio.Close()
	level := gpio.Word(13 * 4)
	raw := level.Load()
*/
package mmio

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrDeviceUnavailable is generated when a register window cannot be opened or mapped
var ErrDeviceUnavailable = errors.New("device unavailable")

// Register is anything that yields a fresh 32-bit status word on every call
type Register interface {
	Load() uint32
}

// Region is a read-only mapping of a register window
type Region struct {
	path string
	base int64
	mem  []byte
}

// Map opens path and maps length bytes starting at the physical offset base.
// base must be page aligned.  Any failure wraps ErrDeviceUnavailable.
func Map(path string, base int64, length int) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, path, err)
	}
	// the mapping outlives the descriptor
	defer unix.Close(fd)

	mem, err := unix.Mmap(fd, base, length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s at %#x: %v", ErrDeviceUnavailable, path, base, err)
	}
	return &Region{path: path, base: base, mem: mem}, nil
}

// Len is the size of the mapped window in bytes
func (r *Region) Len() int {
	return len(r.mem)
}

// Load performs one atomic 32-bit read at a byte offset into the window.
// offset must be 4-byte aligned and inside the window.
func (r *Region) Load(offset uintptr) uint32 {
	if offset%4 != 0 || int(offset)+4 > len(r.mem) {
		panic(fmt.Sprintf("mmio: offset %#x outside %s window of %d bytes", offset, r.path, len(r.mem)))
	}
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.mem[offset])))
}

// Word returns a Register bound to one offset in the window
func (r *Region) Word(offset uintptr) Word {
	// trip the bounds check once, up front
	r.Load(offset)
	return Word{r: r, offset: offset}
}

// Close unmaps the window.  Words obtained from it must not be used afterwards.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

// Word is a single register inside a Region
type Word struct {
	r      *Region
	offset uintptr
}

// Load reads the register
func (w Word) Load() uint32 {
	return w.r.Load(w.offset)
}

// Func adapts a plain function to the Register interface
type Func func() uint32

// Load calls f
func (f Func) Load() uint32 {
	return f()
}
