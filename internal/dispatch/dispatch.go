// Package dispatch holds one file per transport dispatcher: evdev,
// hidraw, libusb, gatt, midi, haptics, plus the udev hotplug dispatcher
// that drives enumerate-and-match. Each dispatcher implements
// devicemgr.Backend and, where it owns a readable fd, reactor.Handler.
//
// Grounded per-transport on original_source/dispatcher_*.{h,cc} for
// match/attach/handle_event semantics, expressed over internal/kernelio
// and internal/busproto.
package dispatch

import (
	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
	"github.com/aelkeyd/aelkeyd/internal/haptics"
)

// EventSink is how a dispatcher delivers decoded activity up to the
// runtime's script bridge, without internal/dispatch importing
// internal/runtime. The script host is treated as an external
// collaborator; this is the seam.
type EventSink interface {
	// DeliverFrame hands one flushed evdev frame to decl.OnEvent.
	DeliverFrame(decl devicemgr.InputDecl, frame []devicemgr.RawEvent)

	// DeliverRaw hands a raw byte payload (hidraw report, GATT
	// notification, MIDI message) to decl.OnEvent.
	DeliverRaw(decl devicemgr.InputDecl, data []byte)

	// DeliverUSBTransfer hands a completed libusb async URB to decl.OnEvent:
	// data is the IN payload actually read (nil for an OUT completion or a
	// zero-length IN), endpoint is the URB's endpoint address, transferType
	// and status are the symbolic names from kernelio.TransferTypeName/
	// URBStatusName.
	DeliverUSBTransfer(decl devicemgr.InputDecl, data []byte, endpoint uint8, transferType, status string)

	// DeliverState reports a lifecycle transition ("attached", ...) to
	// decl.OnState.
	DeliverState(decl devicemgr.InputDecl, state string)

	// Lost reports that decl's device has become permanently unusable
	// (transport hangup/error, or a physical unplug observed by the udev
	// dispatcher). The sink both detaches the device from the
	// DeviceManager and delivers on_state("remove") if decl.OnState is
	// set, removing the input from input_map. Dispatchers must stop
	// touching the device after calling Lost.
	Lost(decl devicemgr.InputDecl)

	// DeliverHaptics reports a play or stop action on a previously
	// uploaded virtual effect to decl.OnHaptics. action is "play" or
	// "stop"; id is the virtual effect id the game uploaded; value is the
	// play magnitude (0 for stop); eff is the normalized effect snapshot
	// being played. Upload/erase are not delivered -- only play/stop.
	DeliverHaptics(decl devicemgr.OutputDecl, action string, id int16, value int32, eff haptics.EffectRecord)
}
