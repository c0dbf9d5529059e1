package drm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// request encoding from <asm-generic/ioctl.h>
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	drmBase = 'd'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | size<<iocSizeShift | drmBase<<iocTypeShift | nr<<iocNrShift
}

func io(nr uintptr) uintptr { return ioc(iocNone, nr, 0) }

func iowr(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, nr, size) }

const (
	connectorConnected = 1
	connectorHDMIA     = 11

	objectCRTC = 0xcccccccc

	pageFlipEvent = 0x01

	eventFlipComplete = 0x02

	propNameLen   = 32
	modeNameLen   = 32
	eventHdrSize  = 8
	eventReadSize = 1024
)

type cardRes struct {
	fbIDPtr        uint64
	crtcIDPtr      uint64
	connectorIDPtr uint64
	encoderIDPtr   uint64
	countFbs       uint32
	countCrtcs     uint32
	countConnector uint32
	countEncoders  uint32
	minWidth       uint32
	maxWidth       uint32
	minHeight      uint32
	maxHeight      uint32
}

// ModeInfo is struct drm_mode_modeinfo
type ModeInfo struct {
	Clock                                         uint32
	HDisplay, HSyncStart, HSyncEnd, HTotal, HSkew uint16
	VDisplay, VSyncStart, VSyncEnd, VTotal, VScan uint16
	VRefresh                                      uint32
	Flags                                         uint32
	Type                                          uint32
	Name                                          [modeNameLen]byte
}

type crtc struct {
	setConnectorsPtr uint64
	countConnectors  uint32
	crtcID           uint32
	fbID             uint32
	x, y             uint32
	gammaSize        uint32
	modeValid        uint32
	mode             ModeInfo
}

type encoder struct {
	encoderID      uint32
	encoderType    uint32
	crtcID         uint32
	possibleCrtcs  uint32
	possibleClones uint32
}

type connector struct {
	encodersPtr     uint64
	modesPtr        uint64
	propsPtr        uint64
	propValuesPtr   uint64
	countModes      uint32
	countProps      uint32
	countEncoders   uint32
	encoderID       uint32
	connectorID     uint32
	connectorType   uint32
	connectorTypeID uint32
	connection      uint32
	mmWidth         uint32
	mmHeight        uint32
	subpixel        uint32
	pad             uint32
}

type property struct {
	valuesPtr      uint64
	enumBlobPtr    uint64
	propID         uint32
	flags          uint32
	name           [propNameLen]byte
	countValues    uint32
	countEnumBlobs uint32
}

type objGetProperties struct {
	propsPtr      uint64
	propValuesPtr uint64
	countProps    uint32
	objID         uint32
	objType       uint32
}

type objSetProperty struct {
	value   uint64
	propID  uint32
	objID   uint32
	objType uint32
}

type fbCmd struct {
	fbID   uint32
	width  uint32
	height uint32
	pitch  uint32
	bpp    uint32
	depth  uint32
	handle uint32
}

type pageFlip struct {
	crtcID   uint32
	fbID     uint32
	flags    uint32
	reserved uint32
	userData uint64
}

type createDumb struct {
	height uint32
	width  uint32
	bpp    uint32
	flags  uint32
	handle uint32
	pitch  uint32
	size   uint64
}

type mapDumb struct {
	handle uint32
	pad    uint32
	offset uint64
}

type destroyDumb struct {
	handle uint32
}

type eventVblank struct {
	typ      uint32
	length   uint32
	userData uint64
	tvSec    uint32
	tvUsec   uint32
	sequence uint32
	crtcID   uint32
}

var (
	ioctlSetMaster        = io(0x1e)
	ioctlDropMaster       = io(0x1f)
	ioctlGetResources     = iowr(0xA0, unsafe.Sizeof(cardRes{}))
	ioctlGetCrtc          = iowr(0xA1, unsafe.Sizeof(crtc{}))
	ioctlSetCrtc          = iowr(0xA2, unsafe.Sizeof(crtc{}))
	ioctlGetEncoder       = iowr(0xA6, unsafe.Sizeof(encoder{}))
	ioctlGetConnector     = iowr(0xA7, unsafe.Sizeof(connector{}))
	ioctlGetProperty      = iowr(0xAA, unsafe.Sizeof(property{}))
	ioctlAddFB            = iowr(0xAE, unsafe.Sizeof(fbCmd{}))
	ioctlRmFB             = iowr(0xAF, unsafe.Sizeof(uint32(0)))
	ioctlPageFlip         = iowr(0xB0, unsafe.Sizeof(pageFlip{}))
	ioctlCreateDumb       = iowr(0xB2, unsafe.Sizeof(createDumb{}))
	ioctlMapDumb          = iowr(0xB3, unsafe.Sizeof(mapDumb{}))
	ioctlDestroyDumb      = iowr(0xB4, unsafe.Sizeof(destroyDumb{}))
	ioctlObjGetProperties = iowr(0xB9, unsafe.Sizeof(objGetProperties{}))
	ioctlObjSetProperty   = iowr(0xBA, unsafe.Sizeof(objSetProperty{}))
)

// ioctl retries on EINTR, which the kernel returns freely from DRM calls
func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

func ptr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
