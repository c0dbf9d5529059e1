package main

import (
	"fmt"
	"time"

	"github.com/monocle-imaging/monocle/acquisition"
	"github.com/monocle-imaging/monocle/display/drm"
	"github.com/monocle-imaging/monocle/instrument"
	"github.com/monocle-imaging/monocle/mount"
	"github.com/monocle-imaging/monocle/pulsecounter"
	"github.com/monocle-imaging/monocle/scanline"
	"github.com/monocle-imaging/monocle/schedule"
)

// LogSetup holds the logger settings
type LogSetup struct {
	// Level is a zerolog level name, e.g. debug or info
	Level string `koanf:"Level" yaml:"Level"`

	// Console switches from JSON lines to human readable output
	Console bool `koanf:"Console" yaml:"Console"`
}

// DeviceSetup locates the memory mapped registers
type DeviceSetup struct {
	// GPIOPath is the GPIO memory device the pulse counter is wired to
	GPIOPath string `koanf:"GPIOPath" yaml:"GPIOPath"`

	// GPIOWord is the word index of the level register in the GPIO window
	GPIOWord int `koanf:"GPIOWord" yaml:"GPIOWord"`

	// MemPath is the physical memory device the HVS registers are read through
	MemPath string `koanf:"MemPath" yaml:"MemPath"`

	// ScalerBase is the physical address of the HVS register block
	ScalerBase int64 `koanf:"ScalerBase" yaml:"ScalerBase"`

	// Scaler is the display channel, 0-2, whose scan position is recorded
	Scaler int `koanf:"Scaler" yaml:"Scaler"`
}

// DisplaySetup selects the panel
type DisplaySetup struct {
	Card             string  `koanf:"Card" yaml:"Card"`
	Width            int     `koanf:"Width" yaml:"Width"`
	Height           int     `koanf:"Height" yaml:"Height"`
	ConnectorRetries uint64  `koanf:"ConnectorRetries" yaml:"ConnectorRetries"`
	RetryInterval    string  `koanf:"RetryInterval" yaml:"RetryInterval"`
	RefreshHz        float64 `koanf:"RefreshHz" yaml:"RefreshHz"`
}

// AcquisitionSetup holds the sampling parameters
type AcquisitionSetup struct {
	// Window is the pulse window, as a Go duration string
	Window string `koanf:"Window" yaml:"Window"`

	// MaxStretch is the largest elapsed/target window ratio that is kept
	MaxStretch float64 `koanf:"MaxStretch" yaml:"MaxStretch"`

	// Grace is how long sampling continues after the last frame
	Grace string `koanf:"Grace" yaml:"Grace"`

	// ExpectedSamples pre-sizes the sample log; zero estimates it
	ExpectedSamples int `koanf:"ExpectedSamples" yaml:"ExpectedSamples"`
}

// RecorderSetup configures automatic saving of pictures
type RecorderSetup struct {
	Root    string `koanf:"Root" yaml:"Root"`
	Prefix  string `koanf:"Prefix" yaml:"Prefix"`
	Enabled bool   `koanf:"Enabled" yaml:"Enabled"`
}

// MountSetup locates the telescope mount.  An empty Addr means no mount.
type MountSetup struct {
	Addr   string `koanf:"Addr" yaml:"Addr"`
	Serial bool   `koanf:"Serial" yaml:"Serial"`
	Baud   int    `koanf:"Baud" yaml:"Baud"`
}

// ScanSetup is the default raster scan
type ScanSetup struct {
	Span    uint32 `koanf:"Span" yaml:"Span"`
	Divider uint32 `koanf:"Divider" yaml:"Divider"`
	OriginX uint32 `koanf:"OriginX" yaml:"OriginX"`
	OriginY uint32 `koanf:"OriginY" yaml:"OriginY"`
}

// LatencySetup is the latency calibration step
type LatencySetup struct {
	Transition uint32 `koanf:"Transition" yaml:"Transition"`
	Frames     uint32 `koanf:"Frames" yaml:"Frames"`

	// Lag is the display lag, in frames, removed from pictures at startup
	Lag int `koanf:"Lag" yaml:"Lag"`
}

// Config is the complete server configuration
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock replaces every piece of hardware with a simulation
	Mock bool `koanf:"Mock" yaml:"Mock"`

	Log         LogSetup         `koanf:"Log" yaml:"Log"`
	Devices     DeviceSetup      `koanf:"Devices" yaml:"Devices"`
	Display     DisplaySetup     `koanf:"Display" yaml:"Display"`
	Acquisition AcquisitionSetup `koanf:"Acquisition" yaml:"Acquisition"`
	Scan        ScanSetup        `koanf:"Scan" yaml:"Scan"`
	Latency     LatencySetup     `koanf:"Latency" yaml:"Latency"`
	Recorder    RecorderSetup    `koanf:"Recorder" yaml:"Recorder"`
	Mount       MountSetup       `koanf:"Mount" yaml:"Mount"`
}

// DefaultConfig is the configuration of the instrument as built
func DefaultConfig() Config {
	acq := acquisition.DefaultConfig()
	card := drm.DefaultConfig()
	step := schedule.DefaultStep()
	scan := schedule.Default()
	return Config{
		Addr: ":8000",
		Log:  LogSetup{Level: "info"},
		Devices: DeviceSetup{
			GPIOPath:   pulsecounter.GPIOPath,
			GPIOWord:   pulsecounter.LevelWord,
			MemPath:    scanline.DefaultMemPath,
			ScalerBase: scanline.DefaultBase,
			Scaler:     int(scanline.Scaler0),
		},
		Display: DisplaySetup{
			Card:             card.Path,
			Width:            card.Width,
			Height:           card.Height,
			ConnectorRetries: card.ConnectorRetries,
			RetryInterval:    card.RetryInterval.String(),
			RefreshHz:        60,
		},
		Acquisition: AcquisitionSetup{
			Window:     acq.Window.String(),
			MaxStretch: pulsecounter.DefaultMaxStretch,
			Grace:      acq.Grace.String(),
		},
		Scan: ScanSetup{
			Span:    scan.Span,
			Divider: scan.Divider,
			OriginX: scan.OriginX,
			OriginY: scan.OriginY,
		},
		Latency:  LatencySetup{Transition: step.Transition, Frames: step.Total},
		Recorder: RecorderSetup{Prefix: "monocle"},
		Mount:    MountSetup{Addr: mount.DefaultAddr, Serial: true, Baud: mount.DefaultBaud},
	}
}

// parseDuration is time.ParseDuration naming the key that failed
func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// AcquisitionConfig converts the acquisition section
func (c Config) AcquisitionConfig() (acquisition.Config, error) {
	cfg := acquisition.DefaultConfig()
	var err error
	if cfg.Window, err = parseDuration("Acquisition.Window", c.Acquisition.Window); err != nil {
		return cfg, err
	}
	if cfg.Grace, err = parseDuration("Acquisition.Grace", c.Acquisition.Grace); err != nil {
		return cfg, err
	}
	cfg.Scaler = scanline.Scaler(c.Devices.Scaler)
	if !cfg.Scaler.Valid() {
		return cfg, fmt.Errorf("Devices.Scaler: %d is not a display channel", c.Devices.Scaler)
	}
	if c.Display.RefreshHz > 0 {
		cfg.FramePeriod = time.Duration(float64(time.Second) / c.Display.RefreshHz)
	}
	cfg.ExpectedSamples = c.Acquisition.ExpectedSamples
	return cfg, nil
}

// CardConfig converts the display section
func (c Config) CardConfig() (drm.Config, error) {
	interval, err := parseDuration("Display.RetryInterval", c.Display.RetryInterval)
	if err != nil {
		return drm.Config{}, err
	}
	return drm.Config{
		Path:             c.Display.Card,
		Width:            c.Display.Width,
		Height:           c.Display.Height,
		ConnectorRetries: c.Display.ConnectorRetries,
		RetryInterval:    interval,
	}, nil
}

// InstrumentConfig converts the scan and latency sections
func (c Config) InstrumentConfig() (instrument.Config, error) {
	s := schedule.Schedule{
		Span:    c.Scan.Span,
		Divider: c.Scan.Divider,
		OriginX: c.Scan.OriginX,
		OriginY: c.Scan.OriginY,
	}
	if err := s.Validate(); err != nil {
		return instrument.Config{}, fmt.Errorf("Scan: %w", err)
	}
	if c.Latency.Transition >= c.Latency.Frames {
		return instrument.Config{}, fmt.Errorf("Latency: transition %d is not before the last frame %d", c.Latency.Transition, c.Latency.Frames)
	}
	if c.Latency.Lag < 0 {
		return instrument.Config{}, fmt.Errorf("Latency: lag must be non-negative, got %d", c.Latency.Lag)
	}
	return instrument.Config{
		Schedule: s,
		Step:     schedule.Step{Transition: c.Latency.Transition, Total: c.Latency.Frames},
		Lag:      c.Latency.Lag,
	}, nil
}
