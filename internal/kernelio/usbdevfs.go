package kernelio

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// usbdevfs ioctl request codes and URB type/endpoint-direction constants
// (linux/usbdevfs.h), grounded on andrieee44-mylib's IOR/IOW ioctl
// encoding pattern applied to the USB character-device ABI instead of
// evdev/hidraw.
const (
	usbfsURBTypeISO       = 0
	usbfsURBTypeInterrupt = 1
	usbfsURBTypeControl   = 2
	usbfsURBTypeBulk      = 3

	usbfsEndpointDirIn = 0x80
)

// EndpointDirIn is the endpoint-address direction bit (usbfsEndpointDirIn
// mirrored for external callers that classify a completed URB's endpoint).
const EndpointDirIn = usbfsEndpointDirIn

// URB type codes, exported for callers (internal/dispatch) that need to
// label a reaped URB's transfer kind without reaching into the unexported
// usbdevfs ABI constants above.
const (
	URBTypeISO       = usbfsURBTypeISO
	URBTypeInterrupt = usbfsURBTypeInterrupt
	URBTypeControl   = usbfsURBTypeControl
	URBTypeBulk      = usbfsURBTypeBulk
)

// TransferTypeName returns the symbolic name of a reaped URB's Type field.
func TransferTypeName(t uint8) string {
	switch t {
	case usbfsURBTypeISO:
		return "iso"
	case usbfsURBTypeInterrupt:
		return "interrupt"
	case usbfsURBTypeControl:
		return "control"
	case usbfsURBTypeBulk:
		return "bulk"
	default:
		return "unknown"
	}
}

// URBStatusName maps a reaped URB's Status (0 or a negative errno) to a
// symbolic name for delivery to script on_event callbacks.
func URBStatusName(status int32) string {
	if status == 0 {
		return "ok"
	}
	switch errno := unix.Errno(-status); errno {
	case unix.ENODEV:
		return "no_device"
	case unix.ESHUTDOWN:
		return "shutdown"
	case unix.ECONNRESET, unix.ENOENT:
		return "cancelled"
	default:
		return errno.Error()
	}
}

var (
	usbfsControl    = ioc(iocRead|iocWrite, 'U', 0, uint(unsafe.Sizeof(usbfsCtrlTransfer{})))
	usbfsBulk       = ioc(iocRead|iocWrite, 'U', 2, uint(unsafe.Sizeof(usbfsBulkTransfer{})))
	usbfsResetEp    = ior('U', 3, 4)
	usbfsSubmitURB  = ior('U', 10, unsafe.Sizeof(usbfsURB{}))
	usbfsDiscardURB = ioc(iocNone, 'U', 11, 0)
	usbfsReapURB    = iow('U', 12, 8)
	usbfsReapURBNDelay = iow('U', 13, 8)
	usbfsClaimIface = ior('U', 15, 4)
	usbfsReleaseIface = ior('U', 16, 4)
	usbfsSetInterface = ior('U', 4, unsafe.Sizeof(usbfsSetInterface{}))
	usbfsResetDevice = ioc(iocNone, 'U', 20, 0)
)

// usbfsCtrlTransfer mirrors struct usbdevfs_ctrltransfer.
type usbfsCtrlTransfer struct {
	BRequestType uint8
	BRequest     uint8
	WValue       uint16
	WIndex       uint16
	WLength      uint16
	Timeout      uint32
	Data         uintptr
}

// usbfsBulkTransfer mirrors struct usbdevfs_bulktransfer.
type usbfsBulkTransfer struct {
	Ep      uint32
	Len     uint32
	Timeout uint32
	Data    uintptr
}

// usbfsSetInterface mirrors struct usbdevfs_setinterface.
type usbfsSetInterface struct {
	Interface uint32
	AltSetting uint32
}

// usbfsURB mirrors struct usbdevfs_urb, the async submit/reap unit. Only
// the fields this runtime exercises are laid out; kernel-side padding for
// the union member (iso frame descriptors) is omitted since this runtime
// never submits isochronous transfers.
type usbfsURB struct {
	Type          uint8
	Endpoint      uint8
	Status        int32
	Flags         uint32
	Buffer        uintptr
	BufferLength  int32
	ActualLength  int32
	StartFrame    int32
	NumberOfPackets int32
	ErrorCount    int32
	SignR         uint32
	Usercontext   uintptr
}

// USBDevice wraps one open /dev/bus/usb/BBB/DDD character device.
type USBDevice struct {
	f *os.File
}

// OpenUSBDevice opens busPath (e.g. "/dev/bus/usb/001/004") read-write.
func OpenUSBDevice(busPath string) (*USBDevice, error) {
	f, err := os.OpenFile(busPath, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &USBDevice{f: f}, nil
}

func (u *USBDevice) FD() int { return int(u.f.Fd()) }

func (u *USBDevice) Close() error { return u.f.Close() }

// ClaimInterface claims iface exclusively for this process (required
// before any transfer against its endpoints).
func (u *USBDevice) ClaimInterface(iface int) error {
	v := int32(iface)
	return ioctlAny(u.FD(), usbfsClaimIface, &v)
}

func (u *USBDevice) ReleaseInterface(iface int) error {
	v := int32(iface)
	return ioctlAny(u.FD(), usbfsReleaseIface, &v)
}

// ControlTransfer performs a synchronous control transfer (USBFS
// ctrltransfer). data is read from for an OUT transfer (bRequestType bit7
// clear) or written into for an IN transfer.
func (u *USBDevice) ControlTransfer(bRequestType, bRequest uint8, wValue, wIndex uint16, data []byte, timeoutMS uint32) (int, error) {
	xfer := usbfsCtrlTransfer{
		BRequestType: bRequestType,
		BRequest:     bRequest,
		WValue:       wValue,
		WIndex:       wIndex,
		WLength:      uint16(len(data)),
		Timeout:      timeoutMS,
	}
	if len(data) > 0 {
		xfer.Data = uintptr(unsafe.Pointer(&data[0]))
	}
	n, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(u.FD()), usbfsControl, uintptr(unsafe.Pointer(&xfer)))
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// BulkTransfer performs a synchronous bulk (or interrupt, same ioctl)
// transfer against ep. Per DESIGN.md's Open Question resolution, a bulk
// OUT transfer never echoes: this function returns n=len(data) on a
// successful OUT and leaves data untouched (no synthetic readback).
func (u *USBDevice) BulkTransfer(ep uint8, data []byte, timeoutMS uint32) (int, error) {
	xfer := usbfsBulkTransfer{Ep: uint32(ep), Len: uint32(len(data)), Timeout: timeoutMS}
	if len(data) > 0 {
		xfer.Data = uintptr(unsafe.Pointer(&data[0]))
	}
	n, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(u.FD()), usbfsBulk, uintptr(unsafe.Pointer(&xfer)))
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// AsyncTransfer is a submitted-but-not-yet-reaped URB.
type AsyncTransfer struct {
	urb *usbfsURB
	buf []byte
	Ctx uint64 // opaque correlation id chosen by the caller
}

// Buf returns the buffer the transfer was submitted with: the write
// source for an OUT transfer, the kernel's fill target for an IN one.
func (t *AsyncTransfer) Buf() []byte { return t.buf }

// SubmitBulk submits an asynchronous bulk/interrupt URB (non-blocking);
// the caller later calls ReapURB to retrieve its completion.
func (u *USBDevice) SubmitBulk(ep uint8, buf []byte, ctx uint64) (*AsyncTransfer, error) {
	urb := &usbfsURB{
		Type:         usbfsURBTypeBulk,
		Endpoint:     ep,
		BufferLength: int32(len(buf)),
		Usercontext:  uintptr(ctx),
	}
	if len(buf) > 0 {
		urb.Buffer = uintptr(unsafe.Pointer(&buf[0]))
	}
	if err := ioctlAny(u.FD(), usbfsSubmitURB, urb); err != nil {
		return nil, fmt.Errorf("kernelio: submit urb: %w", err)
	}
	return &AsyncTransfer{urb: urb, buf: buf, Ctx: ctx}, nil
}

// CancelURB discards a previously submitted URB (USBFS DISCARDURB).
func (u *USBDevice) CancelURB(t *AsyncTransfer) error {
	return ioctlAny(u.FD(), usbfsDiscardURB, t.urb)
}

// ReapURBNonBlocking retrieves one completed URB if available, returning
// nil with no error when none is ready yet (USBFS REAPURBNDELAY).
func (u *USBDevice) ReapURBNonBlocking() (*usbfsURB, error) {
	var ptr uintptr
	if err := ioctlAny(u.FD(), usbfsReapURBNDelay, &ptr); err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, err
	}
	return (*usbfsURB)(unsafe.Pointer(ptr)), nil
}
