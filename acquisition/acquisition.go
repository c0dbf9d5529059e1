/*Package acquisition runs the display and the pulse counter together and
returns a time-tagged sample log.

A run has two goroutines, each locked to its own OS thread.  The display
goroutine paints one pattern frame per vsync and bumps a shared frame
counter after each; the sampler measures pulse windows back to back and tags
every kept window with the frame counter and the scan position.  Both meet at
a rendezvous before the first frame so their clocks share a zero.  When the
pattern is exhausted the coordinator waits a grace period, raises the stop
flag, and collects the log.

A panic on either side fails the whole run with ErrThreadFailure; there are
no partial logs.
*/
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/monocle-imaging/monocle/display"
	"github.com/monocle-imaging/monocle/logging"
	"github.com/monocle-imaging/monocle/pulsecounter"
	"github.com/monocle-imaging/monocle/scanline"
	"github.com/monocle-imaging/monocle/schedule"
)

var (
	// ErrThreadFailure is generated when the display or sampler goroutine panics
	ErrThreadFailure = errors.New("acquisition thread failed")

	// ErrNoMark is generated when a calibration run ends before its transition frame
	ErrNoMark = errors.New("run ended before the marked frame")
)

// Counter is a pulse counter that can measure one window
type Counter interface {
	MeasureWindow(target time.Duration) (pulsecounter.Reading, bool)
}

// Oracle is a source of scan positions
type Oracle interface {
	ReadPosition(scanline.Scaler) scanline.Position
}

// SurfaceFunc opens the display surface for one run
type SurfaceFunc func() (display.Surface, error)

// Sample is one kept pulse window
type Sample struct {
	// Frame is the value of the frame counter when the window closed
	Frame uint32 `json:"frame"`

	// Position is the scan position when the window closed
	Position scanline.Position `json:"position"`

	// Reading is the stretch-corrected pulse count of the window
	Reading pulsecounter.Reading `json:"reading"`
}

// Mark is the frame counter and scan position captured at a pattern's marked frame
type Mark struct {
	Frame    uint32            `json:"frame"`
	Position scanline.Position `json:"position"`
}

// Result is the outcome of a complete run.  The caller owns it.
type Result struct {
	Samples []Sample

	// Frames is the number of frames painted
	Frames uint32

	// Discarded counts windows thrown away for running long
	Discarded uint64

	// Mark is set when the pattern has a marked frame and the run reached it
	Mark *Mark

	// Elapsed is the wall time of the run, from rendezvous to stop
	Elapsed time.Duration
}

// Config holds the timing parameters of a run
type Config struct {
	// Window is the target length of one pulse window
	Window time.Duration

	// Grace is how long to keep sampling after the last frame
	Grace time.Duration

	// Scaler is the display channel used for scan positions
	Scaler scanline.Scaler

	// FramePeriod is the nominal display refresh period, used to size the log
	FramePeriod time.Duration

	// ExpectedSamples pre-sizes the log.  Zero estimates it from the pattern.
	ExpectedSamples int

	// ProgressEvery is the number of frames between progress log lines
	ProgressEvery int
}

// DefaultConfig is 100 us windows on scaler 0 of a 60 Hz panel
func DefaultConfig() Config {
	return Config{
		Window:        pulsecounter.DefaultWindow,
		Grace:         100 * time.Millisecond,
		Scaler:        scanline.Scaler0,
		FramePeriod:   time.Second / 60,
		ProgressEvery: 50,
	}
}

// Coordinator owns the hardware used by acquisitions.  It runs one
// acquisition at a time; callers serialize.
type Coordinator struct {
	counter Counter
	oracle  Oracle
	surface SurfaceFunc
	cfg     Config
	log     zerolog.Logger
}

// New builds a Coordinator
func New(counter Counter, oracle Oracle, surface SurfaceFunc, cfg Config) *Coordinator {
	if cfg.Window <= 0 {
		cfg.Window = pulsecounter.DefaultWindow
	}
	if cfg.FramePeriod <= 0 {
		cfg.FramePeriod = time.Second / 60
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 50
	}
	return &Coordinator{
		counter: counter,
		oracle:  oracle,
		surface: surface,
		cfg:     cfg,
		log:     logging.Named("acquisition"),
	}
}

// Config returns the coordinator's timing parameters
func (c *Coordinator) Config() Config {
	return c.cfg
}

const (
	partyDisplay = iota
	partySampler
)

// rendezvous is a one-shot meeting of two parties that can be called off
type rendezvous struct {
	arrived [2]chan struct{}
	abort   chan struct{}
	once    sync.Once
}

func newRendezvous() *rendezvous {
	return &rendezvous{
		arrived: [2]chan struct{}{make(chan struct{}), make(chan struct{})},
		abort:   make(chan struct{}),
	}
}

// wait blocks until the other party arrives.  It returns false if the
// meeting was called off first.  Each party may wait once.
func (g *rendezvous) wait(party int) bool {
	close(g.arrived[party])
	select {
	case <-g.arrived[1-party]:
		return true
	case <-g.abort:
		return false
	}
}

func (g *rendezvous) cancel() {
	g.once.Do(func() { close(g.abort) })
}

// run is the state shared between the two goroutines of one acquisition
type run struct {
	frame  atomic.Uint32
	stop   atomic.Bool
	failed atomic.Bool
	gate   *rendezvous
}

func newRun() *run {
	return &run{gate: newRendezvous()}
}

// fail stops both sides after a panic
func (r *run) fail() {
	r.failed.Store(true)
	r.stop.Store(true)
	r.gate.cancel()
}

type samplerOutcome struct {
	samples   []Sample
	discarded uint64
	err       error
}

// sample is the sampler goroutine.  It appends at most one sample after the
// stop flag is raised.
func (c *Coordinator) sample(r *run, expected int, out chan<- samplerOutcome) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var o samplerOutcome
	defer func() {
		if p := recover(); p != nil {
			r.fail()
			o = samplerOutcome{err: fmt.Errorf("%w: sampler: %v", ErrThreadFailure, p)}
		}
		out <- o
	}()

	o.samples = make([]Sample, 0, expected)
	if !r.gate.wait(partySampler) {
		return
	}
	for !r.stop.Load() {
		reading, ok := c.counter.MeasureWindow(c.cfg.Window)
		if !ok {
			o.discarded++
			continue
		}
		o.samples = append(o.samples, Sample{
			Frame:    r.frame.Load(),
			Position: c.oracle.ReadPosition(c.cfg.Scaler),
			Reading:  reading,
		})
	}
}

type displayOutcome struct {
	mark   *Mark
	frames uint32
	start  time.Time
	err    error
}

// show is the display goroutine.  With r nil it paints without a sampler.
func (c *Coordinator) show(ctx context.Context, drv *display.Driver, p schedule.Pattern, r *run, out chan<- displayOutcome) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var o displayOutcome
	defer func() {
		if pnc := recover(); pnc != nil {
			if r != nil {
				r.fail()
			}
			o = displayOutcome{err: fmt.Errorf("%w: display: %v", ErrThreadFailure, pnc)}
		}
		out <- o
	}()

	marker, marked := p.(schedule.Marker)
	progress := rate.Sometimes{Every: c.cfg.ProgressEvery}
	var n uint32
	aborted := false
	err := drv.Run(ctx, func(f display.Frame) bool {
		if r != nil {
			if n == 0 {
				if !r.gate.wait(partyDisplay) {
					aborted = true
					return true
				}
				o.start = time.Now()
			}
			if r.failed.Load() {
				aborted = true
				return true
			}
		}
		if marked && n == marker.Mark() {
			m := Mark{Frame: n}
			if r != nil {
				m.Frame = r.frame.Load()
			}
			m.Position = c.oracle.ReadPosition(c.cfg.Scaler)
			o.mark = &m
		}
		if p.Paint(f, n) {
			return true
		}
		n++
		if r != nil {
			r.frame.Store(n)
		}
		progress.Do(func() {
			c.log.Info().Uint32("frame", n).Msg("reached frame")
		})
		return false
	})
	o.frames = n

	open := false
	if oe, ok := p.(schedule.OpenEnded); ok {
		open = oe.OpenEnded()
	}
	switch {
	case aborted:
		o.err = fmt.Errorf("%w: sampler stopped before the display", ErrThreadFailure)
	case err != nil && open && ctx.Err() != nil:
		// an open-ended pattern ends when its context does
	default:
		o.err = err
	}
}

// expected estimates the number of windows a run will keep
func (c *Coordinator) expected(p schedule.Pattern) int {
	if c.cfg.ExpectedSamples > 0 {
		return c.cfg.ExpectedSamples
	}
	frames, ok := schedule.Frames(p)
	if !ok {
		return 0
	}
	perFrame := int(c.cfg.FramePeriod / c.cfg.Window)
	return int(frames)*perFrame + int(c.cfg.Grace/c.cfg.Window)
}

func (c *Coordinator) open() (*display.Driver, error) {
	s, err := c.surface()
	if err != nil {
		if !errors.Is(err, display.ErrSetupFailure) {
			err = fmt.Errorf("%w: %v", display.ErrSetupFailure, err)
		}
		return nil, err
	}
	drv := display.NewDriver(s)
	if _, err := drv.Configure(); err != nil {
		s.Close()
		return nil, err
	}
	return drv, nil
}

// Run performs one acquisition of pattern p.  Display setup problems are
// reported as display.ErrSetupFailure before anything starts.  A finite
// pattern runs to the end of its budget; an open-ended one until ctx is done.
func (c *Coordinator) Run(ctx context.Context, p schedule.Pattern) (*Result, error) {
	drv, err := c.open()
	if err != nil {
		return nil, err
	}
	defer drv.Close()

	r := newRun()
	samplerDone := make(chan samplerOutcome, 1)
	displayDone := make(chan displayOutcome, 1)
	c.log.Info().Msg("starting acquisition")
	go c.sample(r, c.expected(p), samplerDone)
	go c.show(ctx, drv, p, r, displayDone)

	d := <-displayDone
	if d.err == nil {
		time.Sleep(c.cfg.Grace)
	}
	r.stop.Store(true)
	r.gate.cancel()
	s := <-samplerDone

	if s.err != nil {
		c.log.Error().Err(s.err).Msg("acquisition failed")
		return nil, s.err
	}
	if d.err != nil {
		c.log.Error().Err(d.err).Msg("acquisition failed")
		return nil, d.err
	}
	res := &Result{
		Samples:   s.samples,
		Frames:    d.frames,
		Discarded: s.discarded,
		Mark:      d.mark,
		Elapsed:   time.Since(d.start),
	}
	c.log.Info().Uint32("frames", res.Frames).Int("samples", len(res.Samples)).
		Uint64("discarded", res.Discarded).Dur("elapsed", res.Elapsed).Msg("finished acquisition")
	return res, nil
}

// RunLatency runs a dark to light step and records the frame counter and
// scan position at the transition along with the samples.
func (c *Coordinator) RunLatency(ctx context.Context, step schedule.Step) (*Result, error) {
	res, err := c.Run(ctx, step)
	if err != nil {
		return nil, err
	}
	if res.Mark == nil {
		return nil, fmt.Errorf("%w: transition at %d, ran %d frames", ErrNoMark, step.Transition, res.Frames)
	}
	return res, nil
}

// Show paints a pattern with no sampling, for the flicker and cutoff checks.
// It returns the number of frames painted.
func (c *Coordinator) Show(ctx context.Context, p schedule.Pattern) (uint32, error) {
	drv, err := c.open()
	if err != nil {
		return 0, err
	}
	defer drv.Close()
	done := make(chan displayOutcome, 1)
	go c.show(ctx, drv, p, nil, done)
	d := <-done
	return d.frames, d.err
}
