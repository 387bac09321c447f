package runtime

import (
	"log/slog"
	"sync"

	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
	"github.com/aelkeyd/aelkeyd/internal/haptics"
	"github.com/aelkeyd/aelkeyd/internal/kernelio"
	applog "github.com/aelkeyd/aelkeyd/internal/log"
)

// NativeHost is the one concrete Host implementation this
// repo ships; the embedded scripting language itself is out of scope.
// It resolves callback names against a map of Go closures registered
// via RegisterFunc, the same native-closure tier the tick scheduler
// already allows for timer callbacks, generalized here to every callback
// kind (on_event/on_state/on_haptics/tick). This is what lets the whole
// runtime, including the end-to-end scenarios, run without an embedded
// interpreter.
type NativeHost struct {
	logger *slog.Logger
	closer func(id string) error

	mu        sync.Mutex
	callbacks map[string]Callback
}

// NewNativeHost builds an empty host. Use RegisterFunc to bind script
// global names before they are referenced by any declaration.
func NewNativeHost(logger *slog.Logger) *NativeHost {
	if logger != nil {
		logger = applog.Component(logger, "runtime/host")
	}
	return &NativeHost{logger: logger, callbacks: make(map[string]Callback)}
}

// SetCloser wires the host's Lost hook to Bridge.CloseDevice, so a
// dispatcher-reported transport failure tears a device down exactly the
// way close_device(id) would (DeviceManager.Detach plus FF-sink unwiring).
// Called once from Runtime.New, after the Bridge exists.
func (h *NativeHost) SetCloser(fn func(id string) error) {
	h.closer = fn
}

// nativeFunc adapts a plain Go func into a Callback.
type nativeFunc func(arg any) error

func (f nativeFunc) Invoke(arg any) error { return f(arg) }

// RegisterFunc binds name to fn, callable from any decl.OnEvent/OnState/
// OnHaptics field or as a tick() global callback.
func (h *NativeHost) RegisterFunc(name string, fn func(arg any) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks[name] = nativeFunc(fn)
}

// Global implements Host.
func (h *NativeHost) Global(name string) (Callback, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.callbacks[name]
	return cb, ok
}

// Call implements Host's protected-call contract: every callback is
// dispatched as a protected call, so a panic is caught, logged, and does
// not propagate into the reactor.
func (h *NativeHost) Call(name string, arg any) (err error) {
	if name == "" {
		return nil
	}
	cb, ok := h.Global(name)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			if h.logger != nil {
				h.logger.Error("script callback panicked", "callback", name, "recover", r)
			}
			err = nil
		}
	}()
	if cbErr := cb.Invoke(arg); cbErr != nil {
		if h.logger != nil {
			h.logger.Error("script callback error", "callback", name, "error", cbErr)
		}
	}
	return nil
}

// --- dispatch.EventSink -------------------------------------------------
//
// NativeHost also implements internal/dispatch.EventSink so it can be
// handed directly to every dispatcher constructor as the sink, closing
// the loop between transport and script without internal/dispatch ever
// importing internal/runtime.

// NamedEvent is one (type, code, value) triple labeled with its symbolic
// name where the table in internal/kernelio has one.
type NamedEvent struct {
	Type      string
	Code      string
	TypeValue uint16
	CodeValue uint16
	Value     int32
}

// EventBatch is delivered to decl.OnEvent for one accumulated evdev frame.
type EventBatch struct {
	Device string
	Events []NamedEvent
}

// RawPayload is delivered to decl.OnEvent for a hidraw report, GATT
// notification, or MIDI message.
type RawPayload struct {
	Device string
	Data   []byte
}

// StatePayload is delivered to decl.OnState on a lifecycle transition,
// such as the on_state("remove") a transport error on a live fd delivers.
type StatePayload struct {
	Device string
	State  string
}

// HapticsPayload is delivered to decl.OnHaptics on a play or stop action.
type HapticsPayload struct {
	Device string
	Action string // "play" or "stop"
	ID     int16
	Value  int32
	Effect haptics.EffectRecord
}

// DeliverFrame implements dispatch.EventSink.
func (h *NativeHost) DeliverFrame(decl devicemgr.InputDecl, frame []devicemgr.RawEvent) {
	events := make([]NamedEvent, len(frame))
	for i, e := range frame {
		events[i] = NamedEvent{
			Type: kernelio.NameForType(e.Type), Code: kernelio.NameForCode(e.Type, e.Code),
			TypeValue: e.Type, CodeValue: e.Code, Value: e.Value,
		}
	}
	_ = h.Call(decl.OnEvent, EventBatch{Device: decl.ID, Events: events})
}

// DeliverRaw implements dispatch.EventSink.
func (h *NativeHost) DeliverRaw(decl devicemgr.InputDecl, data []byte) {
	_ = h.Call(decl.OnEvent, RawPayload{Device: decl.ID, Data: data})
}

// USBTransferPayload is delivered to decl.OnEvent for a completed libusb
// async URB.
type USBTransferPayload struct {
	Device   string
	Data     []byte
	Size     int
	Endpoint uint8
	Transfer string
	Status   string
}

// DeliverUSBTransfer implements dispatch.EventSink.
func (h *NativeHost) DeliverUSBTransfer(decl devicemgr.InputDecl, data []byte, endpoint uint8, transferType, status string) {
	_ = h.Call(decl.OnEvent, USBTransferPayload{
		Device: decl.ID, Data: data, Size: len(data),
		Endpoint: endpoint, Transfer: transferType, Status: status,
	})
}

// DeliverState implements dispatch.EventSink.
func (h *NativeHost) DeliverState(decl devicemgr.InputDecl, state string) {
	_ = h.Call(decl.OnState, StatePayload{Device: decl.ID, State: state})
}

// Lost implements dispatch.EventSink: detach the device first, so
// on_state(remove) runs against a DeviceManager that has already
// forgotten it, matching close_device's own ordering.
func (h *NativeHost) Lost(decl devicemgr.InputDecl) {
	if h.closer != nil {
		if err := h.closer(decl.ID); err != nil && h.logger != nil {
			h.logger.Warn("detach on transport loss failed", "device", decl.ID, "error", err)
		}
	}
	_ = h.Call(decl.OnState, StatePayload{Device: decl.ID, State: "remove"})
}

// DeliverHaptics implements dispatch.EventSink.
func (h *NativeHost) DeliverHaptics(decl devicemgr.OutputDecl, action string, id int16, value int32, eff haptics.EffectRecord) {
	_ = h.Call(decl.OnHaptics, HapticsPayload{Device: decl.ID, Action: action, ID: id, Value: value, Effect: eff})
}
