// Package imgrec contains an image recorder used to automatically save reconstructed images and their sample logs to disk.
package imgrec

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/monocle-imaging/monocle/archive"
	"github.com/monocle-imaging/monocle/generichttp"
	"github.com/monocle-imaging/monocle/reconstruct"
)

// Recorder records images with incrementing filenames in yyyy-mm-dd
// subfolders.  Each image is prefixNNNNNN.fits with its sample log beside it
// as prefixNNNNNN.cbor.
type Recorder struct {
	mu sync.Mutex

	// counter is the number of the next file
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Enabled allows consumers to switch recording off without losing the paths
	Enabled bool

	now func() time.Time
}

// New returns a recorder writing under root
func New(root, prefix string, enabled bool) *Recorder {
	return &Recorder{Root: root, Prefix: prefix, Enabled: enabled, now: time.Now}
}

// folder is the yyyy-mm-dd subfolder for today
func (r *Recorder) folder() string {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	y, m, d := now().Date()
	return filepath.Join(r.Root, fmt.Sprintf("%04d-%02d-%02d", y, m, d))
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := r.folder()
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// incr sets the counter one past the highest numbered file of this prefix
// in today's folder
func (r *Recorder) incr() error {
	dn, err := r.mkDir()
	if err != nil {
		return err
	}
	files, err := os.ReadDir(dn)
	if err != nil {
		return err
	}
	count := -1
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		ext := filepath.Ext(fn)
		if (ext != ".fits" && ext != ".cbor") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ext))
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
	return nil
}

func (r *Recorder) create(ext string) (*os.File, error) {
	dn, err := r.mkDir()
	if err != nil {
		return nil, err
	}
	fn := filepath.Join(dn, fmt.Sprintf("%s%06d%s", r.Prefix, r.counter, ext))
	return os.OpenFile(fn, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
}

// Record writes img and, if a is not nil, its archive under the next free
// number.  It returns the path of the FITS file.
func (r *Recorder) Record(img *reconstruct.Image, cards []fitsio.Card, a *archive.Archive) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.incr(); err != nil {
		return "", err
	}

	f, err := r.create(".fits")
	if err != nil {
		return "", err
	}
	path := f.Name()
	err = WriteFITS(f, cards, img)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return path, err
	}
	if a == nil {
		return path, nil
	}

	f, err = r.create(".cbor")
	if err != nil {
		return path, err
	}
	err = archive.Write(f, a)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return path, err
}

// Active reports whether the recorder should be used
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled && r.Root != ""
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := h.Recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Root = str.Str
	_, err = rec.mkDir()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Root}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetPrefix updates the filename prefix of the recorder
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Recorder.Prefix = str.Str
	h.Recorder.counter = 0
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.String, String: h.Recorder.Prefix}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// GetEnabled returns the Recorder's Enabled field
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := generichttp.HumanPayload{T: types.Bool, Bool: h.Recorder.Enabled}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetEnabled sets the recorder's Enabled field
func (h HTTPWrapper) SetEnabled(w http.ResponseWriter, r *http.Request) {
	bT := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&bT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Recorder.Enabled = bT.Bool
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and /autowrite/enabled to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = h.SetPrefix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = h.GetPrefix
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = h.SetEnabled
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = h.GetEnabled
}
