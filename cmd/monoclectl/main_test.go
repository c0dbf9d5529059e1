package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/monocle-imaging/monocle/imgrec"
	"github.com/monocle-imaging/monocle/reconstruct"
	"github.com/monocle-imaging/monocle/schedule"
)

func TestDefaultTimeoutOutlastsDefaultScan(t *testing.T) {
	os.Unsetenv("MONOCLE_TIMEOUT")
	c, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	scan := time.Duration(schedule.Default().Cells()) * time.Second / 60
	if c.Timeout != 0 && c.Timeout < scan {
		t.Errorf("client timeout %v is shorter than the default scan, %v", c.Timeout, scan)
	}
}

func TestRange(t *testing.T) {
	img := reconstruct.NewImage(2, 1)
	img.Pix[0], img.Pix[1] = 3, 11
	var buf bytes.Buffer
	if err := imgrec.WriteFITS(&buf, nil, img); err != nil {
		t.Fatal(err)
	}
	min, max, err := Range(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if min != 3 || max != 11 {
		t.Errorf("expected (3, 11), got (%g, %g)", min, max)
	}
}

func TestFloats(t *testing.T) {
	v, err := floats([]string{"1", "-2.5"}, 2)
	if err != nil || v[0] != 1 || v[1] != -2.5 {
		t.Errorf("expected [1 -2.5], got %v (%v)", v, err)
	}
	if _, err := floats([]string{"1"}, 2); err == nil {
		t.Error("too few numbers should be an error")
	}
	if _, err := floats([]string{"x", "1"}, 2); err == nil {
		t.Error("non-numbers should be an error")
	}
}

func TestGotoAndErrors(t *testing.T) {
	var got map[string]float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/goto":
			json.NewDecoder(r.Body).Decode(&got)
		default:
			http.Error(w, "instrument busy", http.StatusLocked)
		}
	}))
	defer srv.Close()
	c := NewClient(Config{Addr: srv.URL + "/", Out: t.TempDir(), Timeout: time.Second})
	if err := run(c, []string{"goto", "12", "34"}); err != nil {
		t.Fatal(err)
	}
	if got["az"] != 12 || got["alt"] != 34 {
		t.Errorf("server saw %v", got)
	}
	err := run(c, []string{"flicker"})
	if err == nil || !strings.Contains(err.Error(), "423") {
		t.Errorf("expected the 423 to surface, got %v", err)
	}
}

func TestPictureSaved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fmt") != "png" {
			http.Error(w, "wrong format", http.StatusBadRequest)
			return
		}
		w.Write([]byte("\x89PNG"))
	}))
	defer srv.Close()
	out := filepath.Join(t.TempDir(), "pictures")
	c := NewClient(Config{Addr: srv.URL, Out: out, Timeout: time.Second})
	fn, err := c.Picture("png")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "\x89PNG" || filepath.Dir(fn) != out {
		t.Errorf("unexpected picture %s with %q", fn, data)
	}
}
