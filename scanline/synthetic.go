package scanline

import "time"

// Synthetic is a status word that sweeps lines at a fixed refresh rate.
// It stands in for the HVS block when the server runs without hardware.
type Synthetic struct {
	start time.Time
	lines uint32
	frame time.Duration
}

// NewSynthetic returns a register for a display of the given line count and refresh rate
func NewSynthetic(lines uint32, hz float64) *Synthetic {
	if lines == 0 {
		lines = 1
	}
	if hz <= 0 {
		hz = 60
	}
	return &Synthetic{
		start: time.Now(),
		lines: lines,
		frame: time.Duration(float64(time.Second) / hz),
	}
}

// Load implements mmio.Register
func (s *Synthetic) Load() uint32 {
	el := time.Since(s.start)
	frame := uint32(el / s.frame)
	line := uint32(uint64(el%s.frame) * uint64(s.lines) / uint64(s.frame))
	return (frame&FrameMask)<<LineBits | line&(1<<LineBits-1)
}
