package kernelio

import "unsafe"

// InputEvent mirrors struct input_event (linux/input.h). The kernel's
// timeval is two longs; we keep them as int64 regardless of host word
// size, matching amd64/arm64 behavior.
type InputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// InputID mirrors struct input_id.
type InputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

const inputIDSize = unsafe.Sizeof(InputID{})

// Envelope mirrors struct ff_envelope.
type Envelope struct {
	AttackLength uint16
	AttackLevel  uint16
	FadeLength   uint16
	FadeLevel    uint16
}

// Replay mirrors struct ff_replay.
type Replay struct {
	Length uint16
	Delay  uint16
}

// Trigger mirrors struct ff_trigger.
type Trigger struct {
	Button   uint16
	Interval uint16
}

// Rumble mirrors struct ff_rumble_effect.
type Rumble struct {
	StrongMagnitude uint16
	WeakMagnitude   uint16
}

// Periodic mirrors struct ff_periodic_effect.
type Periodic struct {
	Waveform  uint16
	Period    uint16
	Magnitude int16
	Offset    int16
	Phase     uint16
	Envelope  Envelope
}

// Constant mirrors struct ff_constant_effect.
type Constant struct {
	Level    int16
	Envelope Envelope
}

// FFEffect mirrors struct ff_effect, flattened: the kernel stores Rumble/
// Periodic/Constant/Ramp/Condition in a union keyed by Type; since Go has
// no unions, every variant field is present and EVIOCSFF/EVIOCRMFF
// marshaling only serializes the one matching Type. See evdev.go.
type FFEffect struct {
	Type      uint16
	ID        int16
	Direction uint16
	Trigger   Trigger
	Replay    Replay

	Rumble   Rumble
	Periodic Periodic
	Constant Constant
}

const ffEffectSize = unsafe.Sizeof(FFEffect{})

// UinputSetup mirrors struct uinput_setup.
type UinputSetup struct {
	ID      InputID
	Name    [80]byte
	FFEffectsMax uint32
}

const uinputSetupSize = unsafe.Sizeof(UinputSetup{})

// UinputAbsSetup mirrors struct uinput_abs_setup.
type UinputAbsSetup struct {
	Code uint16
	_    [2]byte // struct padding before the embedded input_absinfo
	AbsInfo AbsInfo
}

const uinputAbsSetupSize = unsafe.Sizeof(UinputAbsSetup{})

// AbsInfo mirrors struct input_absinfo.
type AbsInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// UinputFFUpload mirrors struct uinput_ff_upload: the kernel's round-trip
// carrier for UI_BEGIN_FF_UPLOAD/UI_END_FF_UPLOAD. RequestID correlates a
// pending upload with the UI_FF_UPLOAD control event that announced it;
// Effect is what the game uploaded, Old is the previous effect at that id
// (zeroed on a fresh upload).
type UinputFFUpload struct {
	RequestID uint32
	Retval    int32
	Effect    FFEffect
	Old       FFEffect
}

const uinputFFUploadSize = unsafe.Sizeof(UinputFFUpload{})

// UinputFFErase mirrors struct uinput_ff_erase.
type UinputFFErase struct {
	RequestID uint32
	Retval    int32
	EffectID  uint32
}

const uinputFFEraseSize = unsafe.Sizeof(UinputFFErase{})

// HidrawDevinfo mirrors struct hidraw_devinfo.
type HidrawDevinfo struct {
	Bustype uint32
	Vendor  int16
	Product int16
}

const hidrawDevinfoSize = unsafe.Sizeof(HidrawDevinfo{})
