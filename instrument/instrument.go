/*Package instrument ties the acquisition hardware, the mount and the image
recorder into one service and exposes it over HTTP.

Only one thing may use the panel at a time.  A request that arrives while a
scan or calibration pattern is running is refused with ErrBusy rather than
queued.
*/
package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/rs/zerolog"

	"github.com/monocle-imaging/monocle/acquisition"
	"github.com/monocle-imaging/monocle/archive"
	"github.com/monocle-imaging/monocle/imgrec"
	"github.com/monocle-imaging/monocle/logging"
	"github.com/monocle-imaging/monocle/mount"
	"github.com/monocle-imaging/monocle/reconstruct"
	"github.com/monocle-imaging/monocle/schedule"
	"github.com/monocle-imaging/monocle/server/middleware/locker"
)

var (
	// ErrBusy is generated when the panel is already in use
	ErrBusy = errors.New("instrument busy")

	// ErrClosed is generated when the instrument has been shut down
	ErrClosed = errors.New("instrument shut down")
)

// Config holds the defaults used when a request does not override them
type Config struct {
	Schedule schedule.Schedule
	Step     schedule.Step

	// Lag is the number of frames the photon rate trails the panel by
	Lag int
}

// DefaultConfig is the full-resolution scan with no lag correction
func DefaultConfig() Config {
	return Config{
		Schedule: schedule.Default(),
		Step:     schedule.DefaultStep(),
	}
}

// Picture is one reconstructed scan
type Picture struct {
	Image    *reconstruct.Image
	Archive  *archive.Archive
	Schedule schedule.Schedule
	Frames   uint32

	// Path is where the recorder put the image, if it was enabled
	Path string
}

// Cards is the FITS metadata describing the scan
func (p *Picture) Cards(lag int) []fitsio.Card {
	s := p.Schedule
	return []fitsio.Card{
		{Name: "SPAN", Value: int(s.Span), Comment: "scanned square, bytes"},
		{Name: "DIVIDER", Value: int(s.Divider), Comment: "bytes per cell side"},
		{Name: "ORIGINX", Value: int(s.OriginX), Comment: "first scanned byte column"},
		{Name: "ORIGINY", Value: int(s.OriginY), Comment: "first scanned row"},
		{Name: "FRAMES", Value: int(p.Frames), Comment: "frames painted"},
		{Name: "SAMPLES", Value: len(p.Archive.Samples), Comment: "pulse windows kept"},
		{Name: "WINDOWUS", Value: int(p.Archive.WindowUS), Comment: "pulse window, microseconds"},
		{Name: "LAG", Value: lag, Comment: "frames of display latency removed"},
	}
}

// Instrument is the acquisition service
type Instrument struct {
	coord *acquisition.Coordinator
	mount mount.Mount
	rec   *imgrec.Recorder
	busy  *locker.Locker
	cfg   Config
	lag   atomic.Int64
	log   zerolog.Logger

	done context.Context
	halt context.CancelFunc
}

// New returns an instrument.  rec may be nil to never record.
func New(coord *acquisition.Coordinator, m mount.Mount, rec *imgrec.Recorder, cfg Config) *Instrument {
	i := &Instrument{
		coord: coord,
		mount: m,
		rec:   rec,
		busy:  locker.New(),
		cfg:   cfg,
		log:   logging.Named("instrument"),
	}
	i.done, i.halt = context.WithCancel(context.Background())
	i.lag.Store(int64(cfg.Lag))
	return i
}

// Lag is the current lag correction
func (i *Instrument) Lag() int {
	return int(i.lag.Load())
}

// SetLag changes the lag correction used by later pictures
func (i *Instrument) SetLag(lag int) error {
	if lag < 0 {
		return fmt.Errorf("lag must be non-negative, got %d", lag)
	}
	i.lag.Store(int64(lag))
	return nil
}

// Busy reports whether the panel is in use
func (i *Instrument) Busy() bool {
	return i.busy.Locked()
}

// claim takes the panel for one operation.  The returned context is also
// cancelled by Shutdown; release must be called when the panel is free.
func (i *Instrument) claim(ctx context.Context) (context.Context, func(), error) {
	if i.done.Err() != nil {
		return nil, nil, ErrClosed
	}
	if !i.busy.TryLock() {
		return nil, nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	unhook := context.AfterFunc(i.done, cancel)
	release := func() {
		unhook()
		cancel()
		i.busy.Unlock()
	}
	return ctx, release, nil
}

// Shutdown cancels whatever is using the panel and waits until it lets go,
// after which the hardware may be closed.  Every later operation fails with
// ErrClosed.  If ctx ends first its error is returned and the panel may
// still be in use.
func (i *Instrument) Shutdown(ctx context.Context) error {
	i.halt()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for !i.busy.TryLock() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

// TakePicture scans s, reconstructs the image and records it if the
// recorder is active
func (i *Instrument) TakePicture(ctx context.Context, s schedule.Schedule) (*Picture, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	ctx, release, err := i.claim(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := i.coord.Run(ctx, schedule.Block{Schedule: s})
	if err != nil {
		return nil, err
	}
	lag := i.Lag()
	pic := &Picture{
		Image:    reconstruct.Lagged(res.Samples, s, lag),
		Archive:  archive.New(res.Samples, s.Side(), i.coord.Config().Window),
		Schedule: s,
		Frames:   res.Frames,
	}
	if i.rec != nil && i.rec.Active() {
		pic.Path, err = i.rec.Record(pic.Image, pic.Cards(lag), pic.Archive)
		if err != nil {
			i.log.Error().Err(err).Msg("recording picture")
			return pic, fmt.Errorf("recording picture: %w", err)
		}
		i.log.Info().Str("path", pic.Path).Msg("recorded picture")
	}
	return pic, nil
}

// CalibrateLatency runs the dark to light step and estimates the display lag
func (i *Instrument) CalibrateLatency(ctx context.Context) (acquisition.Latency, error) {
	ctx, release, err := i.claim(ctx)
	if err != nil {
		return acquisition.Latency{}, err
	}
	defer release()

	res, err := i.coord.RunLatency(ctx, i.cfg.Step)
	if err != nil {
		return acquisition.Latency{}, err
	}
	lat, err := acquisition.EstimateLatency(res.Samples, *res.Mark)
	if err != nil {
		return lat, err
	}
	i.log.Info().Int("lag", lat.Lag).Float64("dark", lat.Dark).Float64("light", lat.Light).Msg("estimated latency")
	return lat, nil
}

// Show paints a display-only pattern and returns the number of frames painted
func (i *Instrument) Show(ctx context.Context, p schedule.Pattern) (uint32, error) {
	ctx, release, err := i.claim(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return i.coord.Show(ctx, p)
}

// Goto points the mount
func (i *Instrument) Goto(az, alt float64) error {
	return i.mount.Goto(az, alt)
}

// Position reads the mount's pointing
func (i *Instrument) Position() (az, alt float64, err error) {
	return i.mount.Position()
}
