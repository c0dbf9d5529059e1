package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/monocle-imaging/monocle/logging"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "monocle.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	log := logging.Named("config")
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatal().Err(err).Msg("error loading config")
		}
	}
}

func loadConfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		l := logging.Named("config")
		l.Fatal().Err(err).Msg("error decoding config")
	}
	return c
}

func root() {
	str := `monocle drives a scanning single-pixel imager: it sweeps a lit cell across
an HDMI panel, counts photons behind the optics while it does, and rebuilds
the scene from the counts.  It exposes the instrument over HTTP.

Usage:
	monocle <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `monocle is amenable to configuration via its .yaml file, monocle.yml in the
working directory.  For a primer on YAML, see https://yaml.org/start.html

Use mkconf to write the defaults to monocle.yml, and conf to print the
configuration in effect.  Durations are Go duration strings, e.g. "100us".

Mock: true replaces the pulse counter, scan position registers, panel and
mount with simulations, so the server can be exercised on any machine.

The server must otherwise run as root on the instrument's Raspberry Pi: the
counter is read from /dev/gpiomem, scan positions from /dev/mem, and the panel
is driven through /dev/dri/card0 with no compositor running.

Routes:
	POST /take-picture?fmt=fits|png|cbor   {"span":1500,"divider":6,"originX":1410,"originY":740}
	POST /calibrate/latency
	POST /calibrate/flicker                {"frames":300}
	POST /calibrate/cutoff                 {"x":0,"y":210,"radius":750,"frames":200}
	GET|POST /lag                          {"int":1}
	GET /busy
	POST /goto                             {"az":180,"alt":45}
	GET /position
	GET|POST /lock                         {"bool":true}
	GET|POST /autowrite/root, /autowrite/prefix, /autowrite/enabled
	GET /endpoints`
	fmt.Println(str)
}

func mkconf() {
	c := loadConfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		l := logging.Get()
		l.Fatal().Err(err).Msg("creating config file")
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		l := logging.Get()
		l.Fatal().Err(err).Msg("writing config file")
	}
}

func printconf() {
	c := loadConfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		l := logging.Get()
		l.Fatal().Err(err).Msg("printing config")
	}
}

func pversion() {
	fmt.Printf("monocle version %v\n", Version)
}

func run() {
	c := loadConfig()
	log := logging.Init(c.Log.Level, c.Log.Console)

	hw, err := openHardware(c)
	if err != nil {
		log.Fatal().Err(err).Msg("opening hardware")
	}
	inst, err := buildInstrument(c, hw)
	if err != nil {
		hw.Close()
		log.Fatal().Err(err).Msg("building instrument")
	}

	srv := &http.Server{Addr: c.Addr, Handler: BuildMux(inst)}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	idle := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// stop the panel first so a picture in flight unblocks its handler
		err := inst.Shutdown(shutdown)
		srv.Shutdown(shutdown)
		idle <- err
	}()

	log.Info().Str("addr", c.Addr).Bool("mock", c.Mock).Msg("now listening for requests")
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server stopped")
		stop()
	}
	if err := <-idle; err != nil {
		// the sampler may still be reading the mapped registers
		log.Error().Err(err).Msg("instrument did not stop, leaving hardware open")
		return
	}
	if err := hw.Close(); err != nil {
		log.Error().Err(err).Msg("closing hardware")
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		l := logging.Get()
		l.Fatal().Str("command", cmd).Msg("unknown command")
	}
}
