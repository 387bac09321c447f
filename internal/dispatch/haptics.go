package dispatch

import (
	"fmt"
	"sync"

	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
	"github.com/aelkeyd/aelkeyd/internal/haptics"
	"github.com/aelkeyd/aelkeyd/internal/kernelio"
	"github.com/aelkeyd/aelkeyd/internal/reactor"
)

// HapticsDispatcher creates virtual uinput outputs and routes the FF
// upload/erase/play control traffic a consuming game writes to them
// through the haptics routing plane out to every physical sink attached
// for that output. Grounded on
// original_source/dispatcher_haptics.cc/.h + aelkey_haptics.cc.
type HapticsDispatcher struct {
	r    *reactor.Reactor
	sink EventSink

	mu      sync.Mutex
	outputs map[string]*outputHandle // decl.ID -> handle
}

type outputHandle struct {
	decl   devicemgr.OutputDecl
	dev    *kernelio.UinputDevice
	source *haptics.SourceCtx
	router *haptics.Router
}

func NewHapticsDispatcher(r *reactor.Reactor, sink EventSink) *HapticsDispatcher {
	return &HapticsDispatcher{r: r, sink: sink, outputs: make(map[string]*outputHandle)}
}

// profileSpec resolves an OutputType to its capability profile (event
// codes, axis ranges, FF support), generalized from the per-device
// capability tables original_source/device_capabilities.h treats as
// static data.
func profileSpec(decl devicemgr.OutputDecl) kernelio.UinputSpec {
	spec := kernelio.UinputSpec{
		Bustype: 0x06, // BUS_VIRTUAL
		Vendor:  decl.Vendor,
		Product: decl.Product,
		Version: decl.Version,
		Name:    decl.Name,
	}
	withCode := func(a kernelio.AxisRange, code uint16) kernelio.AxisRange {
		a.Code = code
		return a
	}
	switch decl.Type {
	case devicemgr.OutputKeyboard, devicemgr.OutputConsumer:
		spec.EVBits = []uint16{kernelio.EV_KEY}
	case devicemgr.OutputMouse:
		spec.EVBits = []uint16{kernelio.EV_KEY, kernelio.EV_REL}
		spec.KeyBits = append(spec.KeyBits, kernelio.BTN_LEFT, kernelio.BTN_RIGHT, kernelio.BTN_MIDDLE)
		spec.RelBits = append(spec.RelBits, kernelio.REL_X, kernelio.REL_Y, kernelio.REL_WHEEL)
	case devicemgr.OutputGamepad:
		spec.EVBits = []uint16{kernelio.EV_KEY, kernelio.EV_ABS, kernelio.EV_FF}
		spec.KeyBits = append(spec.KeyBits,
			kernelio.BTN_SOUTH, kernelio.BTN_EAST, kernelio.BTN_NORTH, kernelio.BTN_WEST,
			kernelio.BTN_TL, kernelio.BTN_TR, kernelio.BTN_SELECT, kernelio.BTN_START,
			kernelio.BTN_THUMBL, kernelio.BTN_THUMBR)
		spec.AbsBits = []kernelio.AxisRange{
			withCode(kernelio.StickAxis, kernelio.ABS_X), withCode(kernelio.StickAxis, kernelio.ABS_Y),
			withCode(kernelio.StickAxis, kernelio.ABS_RX), withCode(kernelio.StickAxis, kernelio.ABS_RY),
			withCode(kernelio.TriggerAxis, kernelio.ABS_Z), withCode(kernelio.TriggerAxis, kernelio.ABS_RZ),
			withCode(kernelio.HatAxis, kernelio.ABS_HAT0X), withCode(kernelio.HatAxis, kernelio.ABS_HAT0Y),
		}
		spec.FFBits = true
		spec.FFEffectsMax = kernelio.FF_MAX_EFFECTS
	case devicemgr.OutputTouchpad, devicemgr.OutputTouchpadMT, devicemgr.OutputTouchscreen, devicemgr.OutputDigitizer:
		spec.EVBits = []uint16{kernelio.EV_KEY, kernelio.EV_ABS}
		spec.AbsBits = []kernelio.AxisRange{
			withCode(kernelio.PositionAxis, kernelio.ABS_X), withCode(kernelio.PositionAxis, kernelio.ABS_Y),
		}
		if decl.Type == devicemgr.OutputTouchpadMT {
			spec.AbsBits = append(spec.AbsBits, withCode(kernelio.SlotAxis, kernelio.ABS_MT_SLOT))
		}
	}
	for _, c := range decl.ExtraCapabilities {
		switch c.Type {
		case kernelio.EV_KEY:
			spec.KeyBits = append(spec.KeyBits, c.Code)
		case kernelio.EV_REL:
			spec.RelBits = append(spec.RelBits, c.Code)
		case kernelio.EV_MSC:
			spec.MscBits = append(spec.MscBits, c.Code)
		}
	}
	return spec
}

// CreateOutput builds the virtual device for decl and registers it with
// the reactor so FF control events surface as readiness.
func (d *HapticsDispatcher) CreateOutput(decl devicemgr.OutputDecl) error {
	dev, err := kernelio.CreateUinputDevice(profileSpec(decl))
	if err != nil {
		return fmt.Errorf("dispatch/haptics: create %q: %w", decl.ID, err)
	}
	if err := d.r.Register(dev.FD(), d, decl.ID); err != nil {
		dev.Destroy()
		return fmt.Errorf("dispatch/haptics: register %q: %w", decl.ID, err)
	}
	h := &outputHandle{
		decl:   decl,
		dev:    dev,
		source: haptics.NewSourceCtx(decl.ID),
		router: haptics.NewRouter(),
	}
	d.mu.Lock()
	d.outputs[decl.ID] = h
	d.mu.Unlock()
	return nil
}

// DestroyOutput unregisters and destroys a previously created output.
func (d *HapticsDispatcher) DestroyOutput(id string) error {
	d.mu.Lock()
	h, ok := d.outputs[id]
	delete(d.outputs, id)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	d.r.Unregister(h.dev.FD())
	return h.dev.Destroy()
}

// Emit writes a non-FF event (key/abs/rel/syn) to a virtual output.
func (d *HapticsDispatcher) Emit(id string, e kernelio.InputEvent) error {
	d.mu.Lock()
	h, ok := d.outputs[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("dispatch/haptics: output %q not created", id)
	}
	return h.dev.Emit(e)
}

// AddSink attaches a physical FF-capable device as a haptics sink for
// output id, fanning out every future upload to it too.
func (d *HapticsDispatcher) AddSink(id string, sinkID string, dev haptics.Sink) error {
	d.mu.Lock()
	h, ok := d.outputs[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("dispatch/haptics: output %q not created", id)
	}
	h.router.AddSink(haptics.NewSinkCtx(sinkID, dev))
	return nil
}

func (d *HapticsDispatcher) RemoveSink(id string, sinkID string) error {
	d.mu.Lock()
	h, ok := d.outputs[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("dispatch/haptics: output %q not created", id)
	}
	h.router.RemoveSink(sinkID)
	return nil
}

// HandleEvent drains pending UI_FF_UPLOAD/UI_FF_ERASE control requests and
// EV_FF play/stop events from a virtual output's uinput fd, propagating
// each through the routing plane.
func (d *HapticsDispatcher) HandleEvent(payload any, r reactor.Readiness) {
	id, _ := payload.(string)
	d.mu.Lock()
	h, ok := d.outputs[id]
	d.mu.Unlock()
	if !ok || !r.Readable {
		return
	}
	for {
		ev, err := h.dev.ReadFFRequest()
		if err != nil || ev == nil {
			return
		}
		switch {
		case ev.Type == kernelio.EV_UINPUT && ev.Code == kernelio.UI_FF_UPLOAD:
			d.handleUpload(h, uint32(ev.Value))
		case ev.Type == kernelio.EV_UINPUT && ev.Code == kernelio.UI_FF_ERASE:
			d.handleErase(h, uint32(ev.Value))
		case ev.Type == kernelio.EV_FF:
			d.handlePlay(h, int16(ev.Code), ev.Value)
		}
	}
}

func (d *HapticsDispatcher) handleUpload(h *outputHandle, requestID uint32) {
	up, err := h.dev.BeginUpload(requestID)
	if err != nil {
		return
	}
	rec := haptics.NormalizeFromKernel(up.Effect)
	virtualID := h.source.Upload(rec)
	up.Effect.ID = virtualID
	up.Retval = 0
	_ = h.dev.EndUpload(up)
	h.router.Propagate(h.source, virtualID)
}

func (d *HapticsDispatcher) handleErase(h *outputHandle, requestID uint32) {
	er, err := h.dev.BeginErase(requestID)
	if err != nil {
		return
	}
	h.router.Erase(h.source, int16(er.EffectID))
	er.Retval = 0
	_ = h.dev.EndErase(er)
}

func (d *HapticsDispatcher) handlePlay(h *outputHandle, effectID int16, value int32) {
	_ = h.router.Play(h.source, effectID, value)
	rec, _ := h.source.Get(effectID)
	action := "play"
	if value == 0 {
		action = "stop"
	}
	d.sink.DeliverHaptics(h.decl, action, effectID, value, rec)
}
