package kernelio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// AxisRange is one absolute-axis range applied at setup time. Default
// ranges for virtual device creation: sticks +-32767, triggers 0..255,
// positions 0..65535, tilt +-90, hats +-1, multitouch slots 0..4.
type AxisRange struct {
	Code       uint16
	Min, Max   int32
	Fuzz, Flat int32
}

var (
	StickAxis    = AxisRange{Min: -32767, Max: 32767}
	TriggerAxis  = AxisRange{Min: 0, Max: 255}
	PositionAxis = AxisRange{Min: 0, Max: 65535}
	TiltAxis     = AxisRange{Min: -90, Max: 90}
	HatAxis      = AxisRange{Min: -1, Max: 1}
	SlotAxis     = AxisRange{Min: 0, Max: 4}
)

// UinputDevice is a created virtual output device.
type UinputDevice struct {
	f *os.File
}

// UinputSpec describes the codes a virtual output device should expose,
// generalized from OutputDecl plus the per-profile capability tables
// treated as an external declarative collaborator. The caller
// (internal/dispatch) resolves a profile name to a UinputSpec.
type UinputSpec struct {
	Bustype, Vendor, Product, Version uint16
	Name                              string
	FFEffectsMax                      uint32

	EVBits  []uint16 // event types to enable (EV_KEY, EV_ABS, ...)
	KeyBits []uint16
	RelBits []uint16
	AbsBits []AxisRange
	MscBits []uint16
	FFBits  bool
}

// CreateUinputDevice opens /dev/uinput "managed": sets bustype/vendor/
// product/version/name, enables the requested event codes with default
// absolute-axis ranges, and creates the node.
func CreateUinputDevice(spec UinputSpec) (*UinputDevice, error) {
	f, err := os.OpenFile("/dev/uinput", os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("kernelio: open /dev/uinput: %w", err)
	}
	fd := int(f.Fd())

	for _, t := range spec.EVBits {
		if err := unix.IoctlSetInt(fd, uint(UI_SET_EVBIT), int(t)); err != nil {
			f.Close()
			return nil, fmt.Errorf("kernelio: UI_SET_EVBIT %d: %w", t, err)
		}
	}
	for _, c := range spec.KeyBits {
		if err := unix.IoctlSetInt(fd, uint(UI_SET_KEYBIT), int(c)); err != nil {
			f.Close()
			return nil, fmt.Errorf("kernelio: UI_SET_KEYBIT %d: %w", c, err)
		}
	}
	for _, c := range spec.RelBits {
		if err := unix.IoctlSetInt(fd, uint(UI_SET_RELBIT), int(c)); err != nil {
			f.Close()
			return nil, fmt.Errorf("kernelio: UI_SET_RELBIT %d: %w", c, err)
		}
	}
	for _, a := range spec.AbsBits {
		if err := unix.IoctlSetInt(fd, uint(UI_SET_ABSBIT), int(a.Code)); err != nil {
			f.Close()
			return nil, fmt.Errorf("kernelio: UI_SET_ABSBIT %d: %w", a.Code, err)
		}
		setup := UinputAbsSetup{Code: a.Code, AbsInfo: AbsInfo{Minimum: a.Min, Maximum: a.Max, Fuzz: a.Fuzz, Flat: a.Flat}}
		if err := ioctlAny(fd, UI_ABS_SETUP, &setup); err != nil {
			f.Close()
			return nil, fmt.Errorf("kernelio: UI_ABS_SETUP %d: %w", a.Code, err)
		}
	}
	for _, c := range spec.MscBits {
		if err := unix.IoctlSetInt(fd, uint(UI_SET_MSCBIT), int(c)); err != nil {
			f.Close()
			return nil, fmt.Errorf("kernelio: UI_SET_MSCBIT %d: %w", c, err)
		}
	}
	if spec.FFBits {
		ffType := EV_FF
		if err := unix.IoctlSetInt(fd, uint(UI_SET_EVBIT), int(ffType)); err != nil {
			f.Close()
			return nil, fmt.Errorf("kernelio: UI_SET_EVBIT EV_FF: %w", err)
		}
		for _, code := range []uint16{FF_RUMBLE, FF_PERIODIC, FF_CONSTANT} {
			if err := unix.IoctlSetInt(fd, uint(UI_SET_FFBIT), int(code)); err != nil {
				f.Close()
				return nil, fmt.Errorf("kernelio: UI_SET_FFBIT %d: %w", code, err)
			}
		}
	}

	var us UinputSetup
	us.ID = InputID{Bustype: spec.Bustype, Vendor: spec.Vendor, Product: spec.Product, Version: spec.Version}
	copy(us.Name[:], spec.Name)
	us.FFEffectsMax = spec.FFEffectsMax
	if err := ioctlAny(fd, UI_DEV_SETUP, &us); err != nil {
		f.Close()
		return nil, fmt.Errorf("kernelio: UI_DEV_SETUP: %w", err)
	}

	var zero int
	if err := ioctlAny(fd, UI_DEV_CREATE, &zero); err != nil {
		f.Close()
		return nil, fmt.Errorf("kernelio: UI_DEV_CREATE: %w", err)
	}

	return &UinputDevice{f: f}, nil
}

func (u *UinputDevice) FD() int { return int(u.f.Fd()) }

// Emit writes a single event to the virtual device.
func (u *UinputDevice) Emit(e InputEvent) error {
	return WriteEvent(u.FD(), e)
}

// SynReport writes the SYN_REPORT marker.
func (u *UinputDevice) SynReport() error {
	return u.Emit(InputEvent{Type: EV_SYN, Code: SYN_REPORT})
}

// ReadFFRequest reads one pending UI_FF_UPLOAD/UI_FF_ERASE control event
// from the uinput fd.
func (u *UinputDevice) ReadFFRequest() (*InputEvent, error) {
	buf := make([]byte, 24)
	n, err := unix.Read(u.FD(), buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, err
	}
	if n < 24 {
		return nil, nil
	}
	e := decodeInputEvent(buf)
	return &e, nil
}

// BeginUpload fetches the full effect data for a pending UI_FF_UPLOAD
// request (announced by an EV_UINPUT/UI_FF_UPLOAD event from
// ReadFFRequest), keyed by the event's Value (the kernel's request id).
func (u *UinputDevice) BeginUpload(requestID uint32) (UinputFFUpload, error) {
	up := UinputFFUpload{RequestID: requestID}
	err := ioctlAny(u.FD(), UI_BEGIN_FF_UPLOAD, &up)
	return up, err
}

// EndUpload acknowledges an upload with retval (0 for success, a negative
// errno otherwise) and the kernel-assigned effect id in up.Effect.ID.
func (u *UinputDevice) EndUpload(up UinputFFUpload) error {
	return ioctlAny(u.FD(), UI_END_FF_UPLOAD, &up)
}

// BeginErase fetches the effect id for a pending UI_FF_ERASE request.
func (u *UinputDevice) BeginErase(requestID uint32) (UinputFFErase, error) {
	er := UinputFFErase{RequestID: requestID}
	err := ioctlAny(u.FD(), UI_BEGIN_FF_ERASE, &er)
	return er, err
}

// EndErase acknowledges an erase request.
func (u *UinputDevice) EndErase(er UinputFFErase) error {
	return ioctlAny(u.FD(), UI_END_FF_ERASE, &er)
}

// Destroy destroys the uinput node and closes the fd.
func (u *UinputDevice) Destroy() error {
	var zero int
	_ = ioctlAny(u.FD(), UI_DEV_DESTROY, &zero)
	return u.f.Close()
}
