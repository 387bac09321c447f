package kernelio

import (
	"os"

	"golang.org/x/sys/unix"
)

// HidrawDevice wraps one open /dev/hidrawN node.
type HidrawDevice struct {
	f *os.File
}

// OpenHidraw opens node read-write. blocking controls whether writes block;
// the declaration opts into blocking writes for hidraw output reports
// only when decl.grab is set.
func OpenHidraw(node string, blocking bool) (*HidrawDevice, error) {
	flags := os.O_RDWR
	if !blocking {
		flags |= unix.O_NONBLOCK
	}
	f, err := os.OpenFile(node, flags, 0)
	if err != nil {
		return nil, err
	}
	return &HidrawDevice{f: f}, nil
}

func (h *HidrawDevice) FD() int { return int(h.f.Fd()) }

func (h *HidrawDevice) Close() error { return h.f.Close() }

// Info reads bustype/vendor/product plus raw name/phys/uniq.
func (h *HidrawDevice) Info() (info HidrawDevinfo, name, phys, uniq string, err error) {
	if err = ioctlAny(h.FD(), HIDIOCGRAWINFO, &info); err != nil {
		return
	}
	name = h.readString(HIDIOCGRAWNAME(256))
	phys = h.readString(HIDIOCGRAWPHYS(256))
	uniq = h.readString(HIDIOCGRAWUNIQ(256))
	return
}

func (h *HidrawDevice) readString(req uintptr) string {
	buf := make([]byte, 256)
	n, err := ioctlBytes(h.FD(), req, buf)
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

// MaxHidrawReportsPerWake bounds how many reports the hidraw dispatcher
// reads per readiness wake; ReadReport itself reads one report.
const MaxHidrawReportsPerWake = 16

func (h *HidrawDevice) ReadReport(buf []byte) (int, error) {
	return unix.Read(h.FD(), buf)
}

func (h *HidrawDevice) WriteReport(data []byte) (int, error) {
	return unix.Write(h.FD(), data)
}
