package instrument

import (
	"encoding/json"
	"errors"
	"fmt"
	"go/types"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/monocle-imaging/monocle/archive"
	"github.com/monocle-imaging/monocle/display"
	"github.com/monocle-imaging/monocle/generichttp"
	"github.com/monocle-imaging/monocle/imgrec"
	"github.com/monocle-imaging/monocle/schedule"
)

// AzAlt is a mount pointing in degrees
type AzAlt struct {
	Az  float64 `json:"az"`
	Alt float64 `json:"alt"`
}

// ShowReply is the answer to a display-only pattern
type ShowReply struct {
	Frames uint32 `json:"frames"`
}

// HTTPInstrument wraps an Instrument in an HTTP interface
type HTTPInstrument struct {
	Inst *Instrument

	RouteTable generichttp.RouteTable
}

// NewHTTPInstrument returns a new HTTP wrapper with the route table pre-configured
func NewHTTPInstrument(i *Instrument) HTTPInstrument {
	h := HTTPInstrument{Inst: i}
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/take-picture"}:      h.TakePicture,
		{Method: http.MethodPost, Path: "/calibrate/latency"}: h.CalibrateLatency,
		{Method: http.MethodPost, Path: "/calibrate/flicker"}: h.Flicker,
		{Method: http.MethodPost, Path: "/calibrate/cutoff"}:  h.Cutoff,
		{Method: http.MethodGet, Path: "/lag"}:                h.GetLag,
		{Method: http.MethodPost, Path: "/lag"}:               h.SetLag,
		{Method: http.MethodGet, Path: "/busy"}:               generichttp.GetBool(func() (bool, error) { return i.Busy(), nil }),
		{Method: http.MethodPost, Path: "/goto"}:              h.Goto,
		{Method: http.MethodGet, Path: "/position"}:           h.Position,
	}
	if i.rec != nil {
		imgrec.NewHTTPWrapper(i.rec).Inject(generichttp.HTTPer(routes(rt)))
	}
	h.RouteTable = rt
	return h
}

type routes generichttp.RouteTable

func (r routes) RT() generichttp.RouteTable { return generichttp.RouteTable(r) }

// RT satisfies generichttp.HTTPer
func (h HTTPInstrument) RT() generichttp.RouteTable {
	return h.RouteTable
}

// status maps an instrument error to an HTTP status code
func status(err error) int {
	switch {
	case errors.Is(err, ErrBusy):
		return http.StatusLocked
	case errors.Is(err, schedule.ErrIndivisible), errors.Is(err, schedule.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, display.ErrSetupFailure), errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeOptional decodes a JSON body into v, leaving v alone if the body is empty
func decodeOptional(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// TakePicture scans the panel and replies with the image.  The body may
// override the configured schedule; the fmt query parameter selects fits
// (the default), png, or cbor for the raw sample log.
func (h HTTPInstrument) TakePicture(w http.ResponseWriter, r *http.Request) {
	s := h.Inst.cfg.Schedule
	if err := decodeOptional(r, &s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	format := r.URL.Query().Get("fmt")
	if format == "" {
		format = "fits"
	}
	if format != "fits" && format != "png" && format != "cbor" {
		http.Error(w, fmt.Sprintf("format %s not understood, use fits, png or cbor", format), http.StatusBadRequest)
		return
	}
	pic, err := h.Inst.TakePicture(r.Context(), s)
	if err != nil && pic == nil {
		http.Error(w, err.Error(), status(err))
		return
	}

	fn := time.Now().Format("2006-01-02T15-04-05") + "." + format
	w.Header().Set("Content-Disposition", "attachment; filename="+fn)
	switch format {
	case "fits":
		w.Header().Set("Content-Type", "image/fits")
		err = imgrec.WriteFITS(w, pic.Cards(h.Inst.Lag()), pic.Image)
	case "png":
		w.Header().Set("Content-Type", "image/png")
		err = png.Encode(w, pic.Image.Gray())
	case "cbor":
		w.Header().Set("Content-Type", "application/cbor")
		err = archive.Write(w, pic.Archive)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// CalibrateLatency runs the latency step and replies with the estimate as JSON
func (h HTTPInstrument) CalibrateLatency(w http.ResponseWriter, r *http.Request) {
	lat, err := h.Inst.CalibrateLatency(r.Context())
	if err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	generichttp.ReplyJSON(w, lat)
}

func (h HTTPInstrument) show(w http.ResponseWriter, r *http.Request, p schedule.Pattern) {
	n, err := h.Inst.Show(r.Context(), p)
	if err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	generichttp.ReplyJSON(w, ShowReply{Frames: n})
}

// Flicker shows the flicker pattern
func (h HTTPInstrument) Flicker(w http.ResponseWriter, r *http.Request) {
	fl := schedule.DefaultFlicker()
	if err := decodeOptional(r, &fl); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.show(w, r, fl)
}

// Cutoff shows the circular aperture described by the body
func (h HTTPInstrument) Cutoff(w http.ResponseWriter, r *http.Request) {
	c := schedule.DefaultCutoff()
	if err := decodeOptional(r, &c); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if c.Radius <= 0 {
		http.Error(w, "radius must be positive", http.StatusBadRequest)
		return
	}
	h.show(w, r, c)
}

// GetLag replies with the lag correction as {"int": n}
func (h HTTPInstrument) GetLag(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Int, Int: h.Inst.Lag()}
	hp.EncodeAndRespond(w, r)
}

// SetLag changes the lag correction from {"int": n}
func (h HTTPInstrument) SetLag(w http.ResponseWriter, r *http.Request) {
	i := generichttp.IntT{}
	err := json.NewDecoder(r.Body).Decode(&i)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Inst.SetLag(i.Int); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Goto points the mount at {"az": x, "alt": y}
func (h HTTPInstrument) Goto(w http.ResponseWriter, r *http.Request) {
	p := AzAlt{}
	err := json.NewDecoder(r.Body).Decode(&p)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Inst.Goto(p.Az, p.Alt); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Position replies with the mount's pointing
func (h HTTPInstrument) Position(w http.ResponseWriter, r *http.Request) {
	az, alt, err := h.Inst.Position()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyJSON(w, AzAlt{Az: az, Alt: alt})
}
