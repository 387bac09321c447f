package runtime

import (
	"context"
	"fmt"

	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
	"github.com/aelkeyd/aelkeyd/internal/haptics"
	"github.com/aelkeyd/aelkeyd/internal/kernelio"
	"github.com/aelkeyd/aelkeyd/internal/tick"
)

// capabilityChecker is the subset of *kernelio.EvdevDevice the bridge
// needs to decide whether a just-attached physical input should become
// an FF sink on every declared virtual output.
type capabilityChecker interface {
	HasCapability(evType, evCode uint16) bool
}

// Bridge implements the script-facing function contracts, registered
// under one module namespace by the host. It holds no
// state of its own beyond a *Runtime reference; every call delegates to
// DeviceManager, the haptics/output dispatcher, the tick scheduler, or a
// transport-specific passthrough.
type Bridge struct {
	rt *Runtime
}

func newBridge(rt *Runtime) *Bridge { return &Bridge{rt: rt} }

// resolveOutputID implements emit/syn_report's device-omitted rule: route
// to the single declared output, or fail if there is more than one.
func (b *Bridge) resolveOutputID(device string) (string, error) {
	if device != "" {
		return device, nil
	}
	outs := b.rt.state.Outputs()
	if len(outs) != 1 {
		return "", fmt.Errorf("runtime: emit: device omitted but %d outputs declared", len(outs))
	}
	return outs[0].ID, nil
}

// resolveType accepts either a numeric event type or a symbolic name
// ("EV_KEY"); unknown names resolve to zero.
func resolveType(typ any) uint16 {
	switch v := typ.(type) {
	case uint16:
		return v
	case int:
		return uint16(v)
	case string:
		return kernelio.TypeByName(v)
	default:
		return 0
	}
}

// resolveCode accepts either a numeric event code or a symbolic name
// ("KEY_A") scoped to evType; unknown names resolve to zero.
func resolveCode(evType uint16, code any) uint16 {
	switch v := code.(type) {
	case uint16:
		return v
	case int:
		return uint16(v)
	case string:
		return kernelio.CodeByName(evType, v)
	default:
		return 0
	}
}

// Emit writes one event to a virtual output.
func (b *Bridge) Emit(device string, typ, code any, value int32) error {
	id, err := b.resolveOutputID(device)
	if err != nil {
		return err
	}
	t := resolveType(typ)
	c := resolveCode(t, code)
	return b.rt.haptics.Emit(id, kernelio.InputEvent{Type: t, Code: c, Value: value})
}

// SynReport writes a SYN_REPORT to one output, or to every declared
// output when device is empty.
func (b *Bridge) SynReport(device string) error {
	ev := kernelio.InputEvent{Type: kernelio.EV_SYN, Code: kernelio.SYN_REPORT}
	if device != "" {
		return b.rt.haptics.Emit(device, ev)
	}
	var firstErr error
	for _, out := range b.rt.state.Outputs() {
		if err := b.rt.haptics.Emit(out.ID, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tick schedules or cancels a timer keyed by cbName: ms==0 with
// cbName=="" cancels every timer; ms==0 with
// a non-empty cbName cancels that one; otherwise a repeating timer is
// (re)scheduled under cbName, replacing any existing timer with that key,
// and firing by calling the script global named cbName.
func (b *Bridge) Tick(ms int, cbName string) error {
	var cb *tick.Callback
	if cbName != "" {
		cb = &tick.Callback{Global: cbName, CallGlobal: func(name string) error { return b.rt.host.Call(name, nil) }}
	}
	return b.rt.ticks.Tick(tick.Key(cbName), ms, cb)
}

// OpenDevice matches and attaches a single declared input by id, or every
// declared input when id is empty. A matching miss is silent.
func (b *Bridge) OpenDevice(id string) error {
	ctx := context.Background()
	if id != "" {
		decl, ok := b.rt.state.Input(id)
		if !ok {
			return fmt.Errorf("runtime: unknown input %q", id)
		}
		return b.openOne(ctx, decl)
	}
	var firstErr error
	for _, decl := range b.rt.state.Inputs() {
		if err := b.openOne(ctx, decl); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Bridge) openOne(ctx context.Context, decl devicemgr.InputDecl) error {
	node, err := b.rt.dm.Match(ctx, decl)
	if err != nil {
		return err
	}
	if node == "" {
		return nil // matching miss: silent, stays eligible for hot-plug
	}
	if _, alreadyAttached := b.rt.dm.Get(decl.ID); alreadyAttached {
		return nil
	}
	ictx, err := b.rt.dm.Attach(ctx, node, decl)
	if err != nil {
		return err
	}
	b.wireFFSink(ictx)
	return nil
}

// wireFFSink registers ictx's backend as an FF sink on every declared
// virtual output when it is an evdev device reporting EV_FF support --
// sinks are not declared per-pair, any FF-capable physical input backs
// every output.
func (b *Bridge) wireFFSink(ictx *devicemgr.InputCtx) {
	if ictx.Decl.Type != devicemgr.TransportEvdev {
		return
	}
	dev, ok := ictx.Backend.(haptics.Sink)
	if !ok {
		return
	}
	checker, ok := ictx.Backend.(capabilityChecker)
	if !ok || !checker.HasCapability(0, kernelio.EV_FF) {
		return
	}
	for _, out := range b.rt.state.Outputs() {
		if err := b.rt.haptics.AddSink(out.ID, ictx.Decl.ID, dev); err != nil {
			b.rt.logger.Warn("add FF sink failed", "output", out.ID, "input", ictx.Decl.ID, "error", err)
		}
	}
}

// unwireFFSink removes ictx's backend from every output's FF router,
// mirroring wireFFSink. Safe to call unconditionally.
func (b *Bridge) unwireFFSink(ictx *devicemgr.InputCtx) {
	if ictx.Decl.Type != devicemgr.TransportEvdev {
		return
	}
	for _, out := range b.rt.state.Outputs() {
		_ = b.rt.haptics.RemoveSink(out.ID, ictx.Decl.ID)
	}
}

// CloseDevice detaches a previously-attached input.
func (b *Bridge) CloseDevice(id string) error {
	if ictx, ok := b.rt.dm.Get(id); ok {
		b.unwireFFSink(ictx)
	}
	return b.rt.dm.Detach(context.Background(), id)
}

// GetDeviceInfo returns the declaration of a matched device, preferring
// the live attached context's copy.
func (b *Bridge) GetDeviceInfo(id string) (devicemgr.InputDecl, bool) {
	if ictx, ok := b.rt.dm.Get(id); ok {
		return ictx.Decl, true
	}
	return b.rt.state.Input(id)
}

// Watch registers extra declarations a caller wants lifecycle
// notifications for without bridging their events. Unwatch removes them.
func (b *Bridge) Watch(ref string, decls []devicemgr.InputDecl) { b.rt.state.Watch(ref, decls) }
func (b *Bridge) Unwatch(ref string)                            { b.rt.state.Unwatch(ref) }

// HIDWrite writes an outbound report to an attached hidraw input acting
// as an output target; HID calls operate on a declared device id and
// their contracts are those of their dispatchers.
func (b *Bridge) HIDWrite(id string, data []byte) error {
	return b.rt.hidraw.WriteReport(id, data)
}

// GATTWrite writes a value to id's resolved characteristic.
func (b *Bridge) GATTWrite(id string, data []byte) error {
	return b.rt.gatt.WriteCharacteristic(id, data)
}

// GATTRead reads id's resolved characteristic's current value.
func (b *Bridge) GATTRead(id string) ([]byte, error) {
	return b.rt.gatt.ReadCharacteristic(id)
}

// USBControl performs a synchronous USB control transfer.
func (b *Bridge) USBControl(id string, bRequestType, bRequest uint8, wValue, wIndex uint16, data []byte, timeoutMS uint32) (int, error) {
	return b.rt.libusb.ControlTransfer(id, bRequestType, bRequest, wValue, wIndex, data, timeoutMS)
}

// USBBulk performs a synchronous USB bulk/interrupt transfer.
func (b *Bridge) USBBulk(id string, ep uint8, data []byte, timeoutMS uint32) (int, error) {
	return b.rt.libusb.BulkTransfer(id, ep, data, timeoutMS)
}

// USBSubmit submits an asynchronous USB bulk/interrupt transfer.
func (b *Bridge) USBSubmit(id string, ep uint8, data []byte) (uint64, error) {
	return b.rt.libusb.SubmitBulk(id, ep, data)
}
