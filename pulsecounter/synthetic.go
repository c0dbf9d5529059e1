package pulsecounter

import (
	"math"
	"sync/atomic"
	"time"
)

// Synthetic is a stand-in for the GPIO level register that counts at a
// settable rate.  It is used when the server runs without hardware.
type Synthetic struct {
	start time.Time
	rate  atomic.Uint64 // float64 bits, pulses per second

	overlight atomic.Bool
}

// NewSynthetic returns a synthetic register counting at rate pulses per second
func NewSynthetic(rate float64) *Synthetic {
	s := &Synthetic{start: time.Now()}
	s.SetRate(rate)
	return s
}

// SetRate changes the count rate
func (s *Synthetic) SetRate(rate float64) {
	s.rate.Store(math.Float64bits(rate))
}

// SetOverlight forces the overlight bit
func (s *Synthetic) SetOverlight(b bool) {
	s.overlight.Store(b)
}

// Load implements mmio.Register
func (s *Synthetic) Load() uint32 {
	rate := math.Float64frombits(s.rate.Load())
	n := uint64(time.Since(s.start).Seconds() * rate)
	return Encode(uint32(n%Modulus), s.overlight.Load())
}
