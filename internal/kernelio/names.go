package kernelio

// Symbolic name tables for the event types and codes the script bridge's
// emit() accepts by name: type and code accept either numeric IDs or
// symbolic names, and unknown names resolve to zero. Grounded on
// andrieee44-mylib's linux/input uapi constant tables; this is a
// practical subset rather than the full kernel keycode list.
var typeNames = map[string]uint16{
	"EV_SYN": EV_SYN,
	"EV_KEY": EV_KEY,
	"EV_REL": EV_REL,
	"EV_ABS": EV_ABS,
	"EV_MSC": EV_MSC,
	"EV_FF":  EV_FF,
}

var synNames = map[string]uint16{
	"SYN_REPORT": SYN_REPORT,
}

var relNames = map[string]uint16{
	"REL_X":     REL_X,
	"REL_Y":     REL_Y,
	"REL_WHEEL": REL_WHEEL,
}

var absNames = map[string]uint16{
	"ABS_X":     ABS_X,
	"ABS_Y":     ABS_Y,
	"ABS_Z":     ABS_Z,
	"ABS_RX":    ABS_RX,
	"ABS_RY":    ABS_RY,
	"ABS_RZ":    ABS_RZ,
	"ABS_HAT0X": ABS_HAT0X,
	"ABS_HAT0Y": ABS_HAT0Y,
}

var keyNames = buildKeyNames()

// buildKeyNames fills in KEY_A..KEY_Z and KEY_0..KEY_9 at their real
// linux/input-event-codes.h values, plus the button codes declared in
// consts.go, since those are the names a remapping script actually uses.
func buildKeyNames() map[string]uint16 {
	m := map[string]uint16{
		"BTN_LEFT": BTN_LEFT, "BTN_RIGHT": BTN_RIGHT, "BTN_MIDDLE": BTN_MIDDLE,
		"BTN_SOUTH": BTN_SOUTH, "BTN_EAST": BTN_EAST, "BTN_NORTH": BTN_NORTH, "BTN_WEST": BTN_WEST,
		"BTN_TL": BTN_TL, "BTN_TR": BTN_TR, "BTN_SELECT": BTN_SELECT, "BTN_START": BTN_START,
		"BTN_THUMBL": BTN_THUMBL, "BTN_THUMBR": BTN_THUMBR,
	}
	row1 := "QWERTYUIOP"
	row1Codes := []uint16{16, 17, 18, 19, 20, 21, 22, 23, 24, 25}
	row2 := "ASDFGHJKL"
	row2Codes := []uint16{30, 31, 32, 33, 34, 35, 36, 37, 38}
	row3 := "ZXCVBNM"
	row3Codes := []uint16{44, 45, 46, 47, 48, 49, 50}
	for i, c := range row1 {
		m["KEY_"+string(c)] = row1Codes[i]
	}
	for i, c := range row2 {
		m["KEY_"+string(c)] = row2Codes[i]
	}
	for i, c := range row3 {
		m["KEY_"+string(c)] = row3Codes[i]
	}
	digitCodes := []uint16{11, 2, 3, 4, 5, 6, 7, 8, 9, 10} // KEY_0..KEY_9
	for i, code := range digitCodes {
		m["KEY_"+string(rune('0'+i))] = code
	}
	m["KEY_ENTER"] = 28
	m["KEY_SPACE"] = 57
	m["KEY_ESC"] = 1
	m["KEY_LEFTSHIFT"] = 42
	m["KEY_LEFTCTRL"] = 29
	return m
}

// TypeByName resolves a symbolic event-type name to its numeric code.
// Unknown names resolve to zero.
func TypeByName(name string) uint16 { return typeNames[name] }

// CodeByName resolves a symbolic event code against the table for evType.
// Unknown names (and unrecognized event types) resolve to zero.
func CodeByName(evType uint16, name string) uint16 {
	switch evType {
	case EV_SYN:
		return synNames[name]
	case EV_KEY:
		return keyNames[name]
	case EV_REL:
		return relNames[name]
	case EV_ABS:
		return absNames[name]
	default:
		return 0
	}
}

var typeNamesByCode = reverseUint16Map(typeNames)
var synNamesByCode = reverseUint16Map(synNames)
var keyNamesByCode = reverseUint16Map(keyNames)

func reverseUint16Map(m map[string]uint16) map[uint16]string {
	out := make(map[uint16]string, len(m))
	for name, code := range m {
		if _, exists := out[code]; !exists {
			out[code] = name
		}
	}
	return out
}

// NameForType returns the symbolic name for an event type, or "" if there
// is none in the table.
func NameForType(t uint16) string { return typeNamesByCode[t] }

// NameForCode returns the symbolic name for (evType, code), or "" if there
// is none in the table. Used to label delivered frames for the script
// bridge so events carry names, not just numeric codes.
func NameForCode(evType, code uint16) string {
	switch evType {
	case EV_SYN:
		return synNamesByCode[code]
	case EV_KEY:
		return keyNamesByCode[code]
	default:
		return ""
	}
}
