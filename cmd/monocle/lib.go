package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/monocle-imaging/monocle/acquisition"
	"github.com/monocle-imaging/monocle/display"
	"github.com/monocle-imaging/monocle/display/drm"
	"github.com/monocle-imaging/monocle/imgrec"
	"github.com/monocle-imaging/monocle/instrument"
	"github.com/monocle-imaging/monocle/mount"
	"github.com/monocle-imaging/monocle/pulsecounter"
	"github.com/monocle-imaging/monocle/scanline"
	"github.com/monocle-imaging/monocle/server/middleware/locker"
)

// hardware is everything opened at startup, with the means to release it
type hardware struct {
	counter acquisition.Counter
	oracle  acquisition.Oracle
	surface acquisition.SurfaceFunc
	mount   mount.Mount
	closers []func() error
}

func (h *hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	return errors.Join(errs...)
}

// openHardware maps the registers and prepares the display and mount.  With
// c.Mock every device is simulated.
func openHardware(c Config) (*hardware, error) {
	if c.Mock {
		return mockHardware(c), nil
	}
	h := &hardware{}
	counter, err := pulsecounter.Open(c.Devices.GPIOPath, c.Devices.GPIOWord)
	if err != nil {
		return nil, err
	}
	counter.SetMaxStretch(c.Acquisition.MaxStretch)
	h.counter = counter
	h.closers = append(h.closers, counter.Close)

	oracle, err := scanline.Open(c.Devices.MemPath, c.Devices.ScalerBase)
	if err != nil {
		h.Close()
		return nil, err
	}
	h.oracle = oracle
	h.closers = append(h.closers, oracle.Close)

	card, err := c.CardConfig()
	if err != nil {
		h.Close()
		return nil, err
	}
	h.surface = func() (display.Surface, error) {
		c, err := drm.Open(card)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	if c.Mount.Addr == "" {
		h.mount = mount.NewMock()
	} else {
		nex := mount.NewNexStar(c.Mount.Addr, c.Mount.Serial, c.Mount.Baud)
		h.mount = nex
		h.closers = append(h.closers, nex.Close)
	}
	return h, nil
}

// BuildMux wraps the instrument in a chi router with request logging, the
// user lock and a route listing of its own
func BuildMux(inst *instrument.Instrument) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	h := instrument.NewHTTPInstrument(inst)
	lock := locker.New("endpoints")
	locker.Inject(h, lock)
	root.Use(lock.Check)
	h.RT().Bind(root)

	endpoints := h.RT().Endpoints()
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(endpoints)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}

// buildInstrument assembles the service from the configuration
func buildInstrument(c Config, h *hardware) (*instrument.Instrument, error) {
	acfg, err := c.AcquisitionConfig()
	if err != nil {
		return nil, err
	}
	icfg, err := c.InstrumentConfig()
	if err != nil {
		return nil, err
	}
	coord := acquisition.New(h.counter, h.oracle, h.surface, acfg)
	rec := imgrec.New(c.Recorder.Root, c.Recorder.Prefix, c.Recorder.Enabled)
	return instrument.New(coord, h.mount, rec, icfg), nil
}
