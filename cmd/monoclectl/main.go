/*Command monoclectl is a small client for the monocle server.

Usage:

	monoclectl picture [fits|png|cbor]
	monoclectl latency
	monoclectl flicker
	monoclectl cutoff x y radius
	monoclectl goto az alt
	monoclectl position

The server address and output directory come from MONOCLE_ADDR and
MONOCLE_OUT.  MONOCLE_TIMEOUT bounds each request; by default there is no
limit.
*/
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"
)

// Config is the client configuration
type Config struct {
	// Addr is the server's base URL
	Addr string `koanf:"addr"`

	// Out is the directory pictures are saved to
	Out string `koanf:"out"`

	// Timeout bounds each request.  Zero means no limit, which a picture
	// needs: the default scan runs for over a quarter of an hour
	Timeout time.Duration `koanf:"timeout"`
}

var k = koanf.New(".")

func loadConfig() (Config, error) {
	k.Load(structs.Provider(Config{Addr: "http://localhost:8000", Out: "."}, "koanf"), nil)
	err := k.Load(env.Provider("MONOCLE_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "MONOCLE_"))
	}), nil)
	if err != nil {
		return Config{}, err
	}
	c := Config{}
	err = k.Unmarshal("", &c)
	return c, err
}

// Client talks to one server
type Client struct {
	Config
	http *http.Client
}

// NewClient returns a client for the configured server
func NewClient(c Config) *Client {
	return &Client{Config: c, http: &http.Client{Timeout: c.Timeout}}
}

// do sends a request with an optional JSON body and returns the reply body
// for 2xx answers
func (c *Client) do(method, path string, body interface{}) ([]byte, error) {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, strings.TrimSuffix(c.Addr, "/")+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// spin runs f with a spinner on stdout
func spin(msg string, f func() error) error {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return f()
	}
	s.Start()
	err = f()
	if err != nil {
		s.StopFail()
		return err
	}
	s.Stop()
	return nil
}

// Picture takes a picture and saves it, returning the path
func (c *Client) Picture(format string) (string, error) {
	var data []byte
	err := spin("scanning", func() error {
		var err error
		data, err = c.do(http.MethodPost, "/take-picture?fmt="+format, nil)
		return err
	})
	if err != nil {
		return "", err
	}
	err = os.MkdirAll(c.Out, 0777)
	if err != nil {
		return "", err
	}
	fn := filepath.Join(c.Out, time.Now().Format("2006-01-02T15-04-05")+"."+format)
	return fn, os.WriteFile(fn, data, 0666)
}

// Range reads the DATAMIN and DATAMAX cards of a FITS file
func Range(r io.Reader) (min, max float64, err error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	hdr := f.HDU(0).Header()
	var vals [2]float64
	for i, name := range []string{"DATAMIN", "DATAMAX"} {
		card := hdr.Get(name)
		if card == nil {
			return 0, 0, fmt.Errorf("card %s missing", name)
		}
		switch v := card.Value.(type) {
		case float64:
			vals[i] = v
		case int:
			vals[i] = float64(v)
		case int64:
			vals[i] = float64(v)
		default:
			return 0, 0, fmt.Errorf("card %s is %T, not a number", name, card.Value)
		}
	}
	return vals[0], vals[1], nil
}

func usage() {
	fmt.Println(`monoclectl talks to a monocle server

Usage:
	monoclectl picture [fits|png|cbor]
	monoclectl latency
	monoclectl flicker
	monoclectl cutoff x y radius
	monoclectl goto az alt
	monoclectl position

Environment:
	MONOCLE_ADDR    server URL, default http://localhost:8000
	MONOCLE_OUT     directory for pictures, default .
	MONOCLE_TIMEOUT request timeout, default 5m`)
}

func floats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d numbers, got %d", n, len(args))
	}
	out := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func run(c *Client, args []string) error {
	switch strings.ToLower(args[0]) {
	case "picture":
		format := "fits"
		if len(args) > 1 {
			format = args[1]
		}
		fn, err := c.Picture(format)
		if err != nil {
			return err
		}
		fmt.Println("saved", fn)
		if format != "fits" {
			return nil
		}
		f, err := os.Open(fn)
		if err != nil {
			return err
		}
		defer f.Close()
		min, max, err := Range(f)
		if err != nil {
			return err
		}
		fmt.Printf("min %g max %g\n", min, max)
	case "latency":
		var data []byte
		err := spin("calibrating latency", func() error {
			var err error
			data, err = c.do(http.MethodPost, "/calibrate/latency", nil)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	case "flicker":
		data, err := c.do(http.MethodPost, "/calibrate/flicker", nil)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	case "cutoff":
		v, err := floats(args[1:], 3)
		if err != nil {
			return err
		}
		body := map[string]interface{}{"x": int(v[0]), "y": int(v[1]), "radius": v[2]}
		data, err := c.do(http.MethodPost, "/calibrate/cutoff", body)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	case "goto":
		v, err := floats(args[1:], 2)
		if err != nil {
			return err
		}
		_, err = c.do(http.MethodPost, "/goto", map[string]float64{"az": v[0], "alt": v[1]})
		return err
	case "position":
		data, err := c.do(http.MethodGet, "/position", nil)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	default:
		usage()
		return fmt.Errorf("unknown command %s", args[0])
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(NewClient(cfg), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
