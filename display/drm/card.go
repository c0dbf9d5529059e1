/*Package drm is a display.Surface on Linux kernel mode setting.

It talks to the DRM device with raw ioctls: take master, find a connected
HDMI connector offering the wanted mode, pick a CRTC its encoder can drive,
turn off variable refresh, allocate two RGB888 dumb buffers and put the first
on screen.  Flips are queued with PAGE_FLIP and their completion events read
back from the device file.
*/
package drm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/monocle-imaging/monocle/display"
	"github.com/monocle-imaging/monocle/logging"
)

const (
	// DefaultPath is the first DRM card
	DefaultPath = "/dev/dri/card0"

	// BitsPerPixel of the RGB888 buffers
	BitsPerPixel = 24

	// Depth of the RGB888 buffers
	Depth = 24
)

var errNoConnector = errors.New("no connected HDMI connector offers the requested mode")

// Config selects the card and mode
type Config struct {
	// Path is the DRM device node
	Path string

	// Width and Height of the wanted mode, in pixels
	Width, Height int

	// ConnectorRetries is how many extra times the connectors are polled
	// before giving up on finding one
	ConnectorRetries uint64

	// RetryInterval is the pause between connector polls
	RetryInterval time.Duration
}

// DefaultConfig is the portrait 1440x2560 panel the instrument is built around
func DefaultConfig() Config {
	return Config{
		Path:             DefaultPath,
		Width:            1440,
		Height:           2560,
		ConnectorRetries: 100,
		RetryInterval:    10 * time.Millisecond,
	}
}

type dumb struct {
	handle uint32
	fbID   uint32
	pitch  uint32
	size   uint64
	mem    []byte
}

// Card is one DRM device driven as a double-buffered surface
type Card struct {
	cfg Config
	fd  int
	log zerolog.Logger

	master    bool
	connector uint32
	crtc      uint32
	mode      ModeInfo
	saved     *crtc
	bufs      [2]dumb
	events    []byte
}

// Open opens the device node.  Nothing is configured until Configure.
func Open(cfg Config) (*Card, error) {
	fd, err := unix.Open(cfg.Path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", display.ErrSetupFailure, cfg.Path, err)
	}
	return &Card{
		cfg:    cfg,
		fd:     fd,
		log:    logging.Named("drm"),
		events: make([]byte, eventReadSize),
	}, nil
}

// Mode returns the selected mode, valid after Configure
func (c *Card) Mode() ModeInfo {
	return c.mode
}

// Configure implements display.Surface
func (c *Card) Configure() (display.Geometry, error) {
	fail := func(step string, err error) (display.Geometry, error) {
		return display.Geometry{}, fmt.Errorf("%w: %s: %v", display.ErrSetupFailure, step, err)
	}
	c.log.Debug().Str("path", c.cfg.Path).Msg("acquiring master")
	if err := ioctl(c.fd, ioctlSetMaster, nil); err != nil {
		return fail("set master", err)
	}
	c.master = true

	crtcs, connectors, err := c.resources()
	if err != nil {
		return fail("get resources", err)
	}

	c.log.Debug().Int("width", c.cfg.Width).Int("height", c.cfg.Height).Msg("finding connector and mode")
	var encoders []uint32
	poll := func() error {
		for _, id := range connectors {
			info, modes, encs, err := c.getConnector(id)
			if err != nil {
				return backoff.Permanent(err)
			}
			if info.connectorType != connectorHDMIA || info.connection != connectorConnected {
				continue
			}
			for _, m := range modes {
				if int(m.HDisplay) == c.cfg.Width && int(m.VDisplay) == c.cfg.Height {
					c.connector = id
					c.mode = m
					encoders = encs
					return nil
				}
			}
		}
		return errNoConnector
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryInterval), c.cfg.ConnectorRetries)
	if err := backoff.Retry(poll, b); err != nil {
		return fail("find connector", err)
	}
	c.log.Debug().Uint32("connector", c.connector).Str("mode", cstring(c.mode.Name[:])).
		Uint32("refresh", c.mode.VRefresh).Msg("connector chosen")

	c.crtc, err = c.findCrtc(encoders, crtcs)
	if err != nil {
		return fail("find crtc", err)
	}
	if err := c.disableVRR(); err != nil {
		return fail("disable variable refresh", err)
	}

	for i := range c.bufs {
		if c.bufs[i], err = c.createBuffer(); err != nil {
			return fail(fmt.Sprintf("create buffer %d", i), err)
		}
	}

	saved := crtc{crtcID: c.crtc}
	if err := ioctl(c.fd, ioctlGetCrtc, unsafe.Pointer(&saved)); err == nil {
		c.saved = &saved
	}
	if err := c.setCrtc(c.bufs[0].fbID, &c.mode); err != nil {
		return fail("set crtc", err)
	}
	return display.Geometry{
		Width:         c.cfg.Width,
		Height:        c.cfg.Height,
		Stride:        int(c.bufs[0].pitch),
		BytesPerPixel: BitsPerPixel / 8,
	}, nil
}

func (c *Card) resources() (crtcs, connectors []uint32, err error) {
	var res cardRes
	if err := ioctl(c.fd, ioctlGetResources, unsafe.Pointer(&res)); err != nil {
		return nil, nil, err
	}
	crtcs = make([]uint32, res.countCrtcs)
	connectors = make([]uint32, res.countConnector)
	res = cardRes{
		crtcIDPtr:      ptr(crtcs),
		connectorIDPtr: ptr(connectors),
		countCrtcs:     uint32(len(crtcs)),
		countConnector: uint32(len(connectors)),
	}
	err = ioctl(c.fd, ioctlGetResources, unsafe.Pointer(&res))
	runtime.KeepAlive(crtcs)
	runtime.KeepAlive(connectors)
	if err != nil {
		return nil, nil, err
	}
	return crtcs[:min(len(crtcs), int(res.countCrtcs))], connectors[:min(len(connectors), int(res.countConnector))], nil
}

func (c *Card) getConnector(id uint32) (connector, []ModeInfo, []uint32, error) {
	info := connector{connectorID: id}
	if err := ioctl(c.fd, ioctlGetConnector, unsafe.Pointer(&info)); err != nil {
		return info, nil, nil, err
	}
	for {
		modes := make([]ModeInfo, info.countModes)
		encs := make([]uint32, info.countEncoders)
		want := info
		info = connector{
			connectorID:   id,
			modesPtr:      ptr(modes),
			encodersPtr:   ptr(encs),
			countModes:    want.countModes,
			countEncoders: want.countEncoders,
		}
		err := ioctl(c.fd, ioctlGetConnector, unsafe.Pointer(&info))
		runtime.KeepAlive(modes)
		runtime.KeepAlive(encs)
		if err != nil {
			return info, nil, nil, err
		}
		// a hotplug between the two calls can grow the lists
		if info.countModes <= want.countModes && info.countEncoders <= want.countEncoders {
			return info, modes[:info.countModes], encs[:info.countEncoders], nil
		}
	}
}

func (c *Card) findCrtc(encoders, crtcs []uint32) (uint32, error) {
	for _, id := range encoders {
		enc := encoder{encoderID: id}
		if err := ioctl(c.fd, ioctlGetEncoder, unsafe.Pointer(&enc)); err != nil {
			return 0, err
		}
		for i, crtcID := range crtcs {
			if enc.possibleCrtcs&(1<<uint(i)) != 0 {
				return crtcID, nil
			}
		}
	}
	return 0, errors.New("no encoder of the connector can drive any crtc")
}

func (c *Card) disableVRR() error {
	q := objGetProperties{objID: c.crtc, objType: objectCRTC}
	if err := ioctl(c.fd, ioctlObjGetProperties, unsafe.Pointer(&q)); err != nil {
		return err
	}
	props := make([]uint32, q.countProps)
	values := make([]uint64, q.countProps)
	q = objGetProperties{
		propsPtr:      ptr(props),
		propValuesPtr: ptr(values),
		countProps:    uint32(len(props)),
		objID:         c.crtc,
		objType:       objectCRTC,
	}
	err := ioctl(c.fd, ioctlObjGetProperties, unsafe.Pointer(&q))
	runtime.KeepAlive(props)
	runtime.KeepAlive(values)
	if err != nil {
		return err
	}
	for _, id := range props[:min(len(props), int(q.countProps))] {
		p := property{propID: id}
		if err := ioctl(c.fd, ioctlGetProperty, unsafe.Pointer(&p)); err != nil {
			return err
		}
		name := cstring(p.name[:])
		c.log.Trace().Str("name", name).Uint32("id", id).Msg("crtc property")
		if name == "VRR_ENABLED" {
			set := objSetProperty{value: 0, propID: id, objID: c.crtc, objType: objectCRTC}
			if err := ioctl(c.fd, ioctlObjSetProperty, unsafe.Pointer(&set)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Card) createBuffer() (dumb, error) {
	cd := createDumb{width: uint32(c.cfg.Width), height: uint32(c.cfg.Height), bpp: BitsPerPixel}
	if err := ioctl(c.fd, ioctlCreateDumb, unsafe.Pointer(&cd)); err != nil {
		return dumb{}, err
	}
	d := dumb{handle: cd.handle, pitch: cd.pitch, size: cd.size}

	fb := fbCmd{
		width:  uint32(c.cfg.Width),
		height: uint32(c.cfg.Height),
		pitch:  cd.pitch,
		bpp:    BitsPerPixel,
		depth:  Depth,
		handle: cd.handle,
	}
	if err := ioctl(c.fd, ioctlAddFB, unsafe.Pointer(&fb)); err != nil {
		c.destroy(d)
		return dumb{}, err
	}
	d.fbID = fb.fbID

	md := mapDumb{handle: cd.handle}
	if err := ioctl(c.fd, ioctlMapDumb, unsafe.Pointer(&md)); err != nil {
		c.destroy(d)
		return dumb{}, err
	}
	mem, err := unix.Mmap(c.fd, int64(md.offset), int(cd.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		c.destroy(d)
		return dumb{}, err
	}
	d.mem = mem
	return d, nil
}

func (c *Card) setCrtc(fbID uint32, mode *ModeInfo) error {
	conns := []uint32{c.connector}
	req := crtc{
		setConnectorsPtr: ptr(conns),
		countConnectors:  1,
		crtcID:           c.crtc,
		fbID:             fbID,
		modeValid:        1,
		mode:             *mode,
	}
	err := ioctl(c.fd, ioctlSetCrtc, unsafe.Pointer(&req))
	runtime.KeepAlive(conns)
	return err
}

// Buffer implements display.Surface
func (c *Card) Buffer(i int) []byte {
	return c.bufs[i].mem
}

// Flip implements display.Surface
func (c *Card) Flip(i int) error {
	req := pageFlip{
		crtcID:   c.crtc,
		fbID:     c.bufs[i].fbID,
		flags:    pageFlipEvent,
		userData: uint64(i),
	}
	return ioctl(c.fd, ioctlPageFlip, unsafe.Pointer(&req))
}

// WaitFlip implements display.Surface.  It blocks in read(2) on the device
// until a flip-complete event for our CRTC arrives; other events are dropped.
func (c *Card) WaitFlip() error {
	for {
		n, err := unix.Read(c.fd, c.events)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading drm events: %w", err)
		}
		if found := c.scanEvents(c.events[:n]); found {
			return nil
		}
	}
}

func (c *Card) scanEvents(buf []byte) bool {
	found := false
	for len(buf) >= eventHdrSize {
		typ := binary.NativeEndian.Uint32(buf[0:])
		length := int(binary.NativeEndian.Uint32(buf[4:]))
		if length < eventHdrSize || length > len(buf) {
			break
		}
		if typ == eventFlipComplete && length >= int(unsafe.Sizeof(eventVblank{})) {
			crtcID := binary.NativeEndian.Uint32(buf[28:])
			if crtcID == c.crtc || crtcID == 0 {
				found = true
			}
		}
		buf = buf[length:]
	}
	return found
}

func (c *Card) destroy(d dumb) error {
	var errs []error
	if d.mem != nil {
		errs = append(errs, unix.Munmap(d.mem))
	}
	if d.fbID != 0 {
		id := d.fbID
		errs = append(errs, ioctl(c.fd, ioctlRmFB, unsafe.Pointer(&id)))
	}
	if d.handle != 0 {
		dd := destroyDumb{handle: d.handle}
		errs = append(errs, ioctl(c.fd, ioctlDestroyDumb, unsafe.Pointer(&dd)))
	}
	return errors.Join(errs...)
}

// Close implements display.Surface.  The CRTC is put back the way it was
// found, the buffers freed, and master dropped.
func (c *Card) Close() error {
	var errs []error
	if c.saved != nil && c.saved.modeValid != 0 {
		errs = append(errs, c.setCrtc(c.saved.fbID, &c.saved.mode))
	}
	for i := range c.bufs {
		errs = append(errs, c.destroy(c.bufs[i]))
		c.bufs[i] = dumb{}
	}
	if c.master {
		errs = append(errs, ioctl(c.fd, ioctlDropMaster, nil))
		c.master = false
	}
	if c.fd >= 0 {
		errs = append(errs, unix.Close(c.fd))
		c.fd = -1
	}
	return errors.Join(errs...)
}
