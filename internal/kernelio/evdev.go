package kernelio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// EvdevDevice wraps one open /dev/input/eventN node.
type EvdevDevice struct {
	f *os.File
}

// OpenEvdevReadOnly opens node read-only non-blocking, used by the match
// phase to probe device metadata without requiring write access.
func OpenEvdevReadOnly(node string) (*EvdevDevice, error) {
	f, err := os.OpenFile(node, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	return &EvdevDevice{f: f}, nil
}

// OpenEvdevReadWrite opens node read-write non-blocking, used by attach.
func OpenEvdevReadWrite(node string) (*EvdevDevice, error) {
	f, err := os.OpenFile(node, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	return &EvdevDevice{f: f}, nil
}

func (d *EvdevDevice) FD() int { return int(d.f.Fd()) }

func (d *EvdevDevice) Close() error { return d.f.Close() }

// DeviceInfo reads the kernel's bustype/vendor/product/version plus name/
// phys/uniq, used by the evdev dispatcher's match phase.
func (d *EvdevDevice) DeviceInfo() (id InputID, name, phys, uniq string, err error) {
	if err = ioctlAny(d.FD(), EVIOCGID, &id); err != nil {
		return
	}
	name = d.readString(EVIOCGNAME(256))
	phys = d.readString(EVIOCGPHYS(256))
	uniq = d.readString(EVIOCGUNIQ(256))
	return
}

func (d *EvdevDevice) readString(req uintptr) string {
	buf := make([]byte, 256)
	n, err := ioctlBytes(d.FD(), req, buf)
	if err != nil || n == 0 {
		return ""
	}
	for i, b := range buf[:n] {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf[:n])
}

// HasCapability reports whether the device's EVIOCGBIT table for evType
// has bit evCode set, used to check InputDecl.Capabilities during match.
// The buffer covers codes 0..767, up to KEY_MAX (0x2ff): gamepad/joystick button
// codes (BTN_JOYSTICK=0x120 and the BTN_GAMEPAD family) start at 288 and
// are squarely in scope for a gamepad-matching declaration's capability
// checks.
func (d *EvdevDevice) HasCapability(evType, evCode uint16) bool {
	buf := make([]byte, 96)
	if _, err := ioctlBytes(d.FD(), EVIOCGBIT(byte(evType), uint(len(buf))), buf); err != nil {
		return false
	}
	byteIdx := evCode / 8
	if int(byteIdx) >= len(buf) {
		return false
	}
	return buf[byteIdx]&(1<<(evCode%8)) != 0
}

// Grab requests exclusive capture (EVIOCGRAB). Returns nil on success; the
// evdev dispatcher retries this at the start of each readable callback
// until it succeeds.
func (d *EvdevDevice) Grab() error {
	v := int32(1)
	return ioctlAny(d.FD(), EVIOCGRAB, &v)
}

func (d *EvdevDevice) Ungrab() error {
	return unix.IoctlSetInt(d.FD(), uint(EVIOCGRAB), 0)
}

// ReadEvents reads input_event records in a tight loop until the kernel
// returns EAGAIN/EWOULDBLOCK or a hard error.
func (d *EvdevDevice) ReadEvents() ([]InputEvent, error) {
	const recSize = 24 // sizeof(struct input_event) on 64-bit kernels (two 8-byte longs + 2x uint16 + int32, padded)
	buf := make([]byte, recSize*64)
	var out []InputEvent
	for {
		n, err := unix.Read(d.FD(), buf)
		if err != nil {
			if err == unix.EAGAIN {
				return out, nil
			}
			return out, err
		}
		if n == 0 {
			return out, fmt.Errorf("evdev: read returned 0 (device gone)")
		}
		for off := 0; off+recSize <= n; off += recSize {
			out = append(out, decodeInputEvent(buf[off:off+recSize]))
		}
	}
}

func decodeInputEvent(b []byte) InputEvent {
	le := leUint
	return InputEvent{
		Sec:   int64(le(b[0:8])),
		Usec:  int64(le(b[8:16])),
		Type:  uint16(le(b[16:18])),
		Code:  uint16(le(b[18:20])),
		Value: int32(le(b[20:24])),
	}
}

func leUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// WriteEvent writes one input_event to a writable fd (used by virtual
// outputs created via CreateUinputDevice).
func WriteEvent(fd int, e InputEvent) error {
	buf := make([]byte, 24)
	putLE(buf[0:8], uint64(e.Sec))
	putLE(buf[8:16], uint64(e.Usec))
	putLE(buf[16:18], uint64(e.Type))
	putLE(buf[18:20], uint64(e.Code))
	putLE(buf[20:24], uint64(uint32(e.Value)))
	_, err := unix.Write(fd, buf)
	return err
}

func putLE(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v)
		v >>= 8
	}
}

// UploadFF uploads or updates an effect via EVIOCSFF. On a fresh upload
// eff.ID must be -1; the kernel assigns and returns the real id.
func (d *EvdevDevice) UploadFF(eff *FFEffect) (int16, error) {
	if err := ioctlAny(d.FD(), EVIOCSFF, eff); err != nil {
		return 0, err
	}
	return eff.ID, nil
}

// EraseFF erases a previously-uploaded effect by id (EVIOCRMFF).
func (d *EvdevDevice) EraseFF(id int16) error {
	return unix.IoctlSetInt(d.FD(), uint(EVIOCRMFF), int(id))
}

// PlayFF writes an EV_FF play(value=1)/stop(value=0) event for id.
func (d *EvdevDevice) PlayFF(id int16, value int32) error {
	return WriteEvent(d.FD(), InputEvent{Type: EV_FF, Code: uint16(id), Value: value})
}

// ErrNoSpace is returned by UploadFF when the kernel has no free effect
// slots, driving the haptics capacity-retry policy.
var ErrNoSpace = unix.ENOSPC
