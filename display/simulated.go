package display

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrFlipPending is returned by Simulated.Flip when a flip is already queued
	ErrFlipPending = errors.New("flip already pending")

	// ErrNoFlipPending is returned by Simulated.WaitFlip when nothing was queued
	ErrNoFlipPending = errors.New("no flip pending")
)

// Simulated is an in-memory Surface whose vsync is a ticker.  A refresh rate
// of zero or less completes flips immediately.
type Simulated struct {
	// Fail, if set, is returned by Configure
	Fail error

	// OnScanout, if set, is called with each buffer as its flip completes
	OnScanout func(i int, buf []byte)

	geom   Geometry
	period time.Duration

	mu      sync.Mutex
	bufs    [2][]byte
	pending int
	queued  bool
	ticker  *time.Ticker
	flips   atomic.Uint64
}

// NewSimulated returns a surface of the given geometry refreshing at hz
func NewSimulated(g Geometry, hz float64) *Simulated {
	s := &Simulated{geom: g}
	if hz > 0 {
		s.period = time.Duration(float64(time.Second) / hz)
	}
	return s
}

// Configure implements Surface
func (s *Simulated) Configure() (Geometry, error) {
	if s.Fail != nil {
		return Geometry{}, s.Fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bufs {
		s.bufs[i] = make([]byte, s.geom.Size())
	}
	if s.period > 0 {
		s.ticker = time.NewTicker(s.period)
	}
	return s.geom, nil
}

// Buffer implements Surface
func (s *Simulated) Buffer(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufs[i]
}

// Flip implements Surface
func (s *Simulated) Flip(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued {
		return ErrFlipPending
	}
	s.pending = i
	s.queued = true
	return nil
}

// WaitFlip implements Surface
func (s *Simulated) WaitFlip() error {
	s.mu.Lock()
	if !s.queued {
		s.mu.Unlock()
		return ErrNoFlipPending
	}
	t := s.ticker
	s.mu.Unlock()

	if t != nil {
		<-t.C
	}

	s.mu.Lock()
	i := s.pending
	s.queued = false
	buf := s.bufs[i]
	s.mu.Unlock()
	s.flips.Add(1)
	if s.OnScanout != nil {
		s.OnScanout(i, buf)
	}
	return nil
}

// Flips is the number of flips that have completed
func (s *Simulated) Flips() uint64 {
	return s.flips.Load()
}

// Close implements Surface
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	return nil
}
