package kernelio

// Event types (linux/input-event-codes.h), grounded on
// andrieee44-mylib/linux/input/uapi.go.
const (
	EV_SYN    uint16 = 0x00
	EV_KEY    uint16 = 0x01
	EV_REL    uint16 = 0x02
	EV_ABS    uint16 = 0x03
	EV_MSC    uint16 = 0x04
	EV_FF     uint16 = 0x15
	EV_UINPUT uint16 = 0x0101
)

// EV_SYN codes.
const (
	SYN_REPORT uint16 = 0x00
)

// EV_REL codes used by the mouse output profile.
const (
	REL_X     uint16 = 0x00
	REL_Y     uint16 = 0x01
	REL_WHEEL uint16 = 0x08
)

// EV_ABS codes used by the gamepad/touch output profiles.
const (
	ABS_X      uint16 = 0x00
	ABS_Y      uint16 = 0x01
	ABS_Z      uint16 = 0x02
	ABS_RX     uint16 = 0x03
	ABS_RY     uint16 = 0x04
	ABS_RZ     uint16 = 0x05
	ABS_HAT0X  uint16 = 0x10
	ABS_HAT0Y  uint16 = 0x11
	ABS_MT_SLOT uint16 = 0x2f
)

// EV_KEY button codes used by the mouse/gamepad output profiles.
const (
	BTN_LEFT   uint16 = 0x110
	BTN_RIGHT  uint16 = 0x111
	BTN_MIDDLE uint16 = 0x112

	BTN_SOUTH  uint16 = 0x130
	BTN_EAST   uint16 = 0x131
	BTN_NORTH  uint16 = 0x133
	BTN_WEST   uint16 = 0x134
	BTN_TL     uint16 = 0x136
	BTN_TR     uint16 = 0x137
	BTN_SELECT uint16 = 0x13a
	BTN_START  uint16 = 0x13b
	BTN_THUMBL uint16 = 0x13d
	BTN_THUMBR uint16 = 0x13e
)

// Force-feedback effect types.
const (
	FF_RUMBLE   uint16 = 0x50
	FF_PERIODIC uint16 = 0x51
	FF_CONSTANT uint16 = 0x52
	FF_RAMP     uint16 = 0x57

	FF_SQUARE   uint16 = 0x58
	FF_TRIANGLE uint16 = 0x59
	FF_SINE     uint16 = 0x5A
	FF_SAW_UP   uint16 = 0x5B
	FF_SAW_DOWN uint16 = 0x5C

	FF_STATUS_STOPPED uint16 = 0x00
	FF_STATUS_PLAYING uint16 = 0x01

	FF_MAX_EFFECTS = 16
)

// Uinput virtual-device FF upload/erase request codes (UI_FF_UPLOAD /
// UI_FF_ERASE), read from the uinput fd when a virtual output receives a
// force-feedback action from a game.
const (
	UI_FF_UPLOAD = 1
	UI_FF_ERASE  = 2
)

// evdev ioctls, following andrieee44-mylib's ioctl.IOR/IOW pattern.
var (
	EVIOCGVERSION = ior('E', 0x01, 4)
	EVIOCGID      = ior('E', 0x02, inputIDSize)
	EVIOCGRAB     = iow('E', 0x90, 4)
	EVIOCSFF      = iow('E', 0x80, ffEffectSize)
	EVIOCRMFF     = iow('E', 0x81, 4)
)

func EVIOCGNAME(n uint) uintptr { return iowVarlen(iocRead, 'E', 0x06, n) }
func EVIOCGPHYS(n uint) uintptr { return iowVarlen(iocRead, 'E', 0x07, n) }
func EVIOCGUNIQ(n uint) uintptr { return iowVarlen(iocRead, 'E', 0x08, n) }
func EVIOCGBIT(ev byte, n uint) uintptr {
	return iowVarlen(iocRead, 'E', uint(0x20)+uint(ev), n)
}

// uinput ioctls/consts.
const (
	UI_DEV_CREATE_NR  = 1
	UI_DEV_DESTROY_NR = 2

	UI_SET_EVBIT_NR  = 100
	UI_SET_KEYBIT_NR = 101
	UI_SET_RELBIT_NR = 102
	UI_SET_ABSBIT_NR = 103
	UI_SET_MSCBIT_NR = 104
	UI_SET_FFBIT_NR  = 107
)

var (
	UI_DEV_CREATE  = ioc(iocNone, 'U', UI_DEV_CREATE_NR, 0)
	UI_DEV_DESTROY = ioc(iocNone, 'U', UI_DEV_DESTROY_NR, 0)
	UI_SET_EVBIT   = iow('U', UI_SET_EVBIT_NR, 4)
	UI_SET_KEYBIT  = iow('U', UI_SET_KEYBIT_NR, 4)
	UI_SET_RELBIT  = iow('U', UI_SET_RELBIT_NR, 4)
	UI_SET_ABSBIT  = iow('U', UI_SET_ABSBIT_NR, 4)
	UI_SET_MSCBIT  = iow('U', UI_SET_MSCBIT_NR, 4)
	UI_SET_FFBIT   = iow('U', UI_SET_FFBIT_NR, 4)
	UI_DEV_SETUP   = iow('U', 3, uinputSetupSize)
	UI_ABS_SETUP   = iow('U', 4, uinputAbsSetupSize)

	UI_BEGIN_FF_UPLOAD = ior('U', 200, uinputFFUploadSize)
	UI_END_FF_UPLOAD   = iow('U', 201, uinputFFUploadSize)
	UI_BEGIN_FF_ERASE  = ior('U', 202, uinputFFEraseSize)
	UI_END_FF_ERASE    = iow('U', 203, uinputFFEraseSize)
)

// hidraw ioctls, grounded on the same uapi family.
var (
	HIDIOCGRAWINFO = ior('H', 0x03, hidrawDevinfoSize)
)

func HIDIOCGRAWNAME(n uint) uintptr { return iowVarlen(iocRead, 'H', 0x04, n) }
func HIDIOCGRAWPHYS(n uint) uintptr { return iowVarlen(iocRead, 'H', 0x05, n) }
func HIDIOCGRAWUNIQ(n uint) uintptr { return iowVarlen(iocRead, 'H', 0x08, n) }
