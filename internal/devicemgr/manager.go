package devicemgr

import (
	"context"
	"fmt"
	"sync"
)

// RawEvent is one evdev (type, code, value, time) record. Seconds/
// microseconds mirror the kernel's timeval split.
type RawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
	Sec   int64
	Usec  int64
}

// IsSynReport reports whether e is the SYN_REPORT marker (EV_SYN=0x00,
// SYN_REPORT=0x00).
func (e RawEvent) IsSynReport() bool {
	return e.Type == 0x00 && e.Code == 0x00
}

// FrameBuffer accumulates raw evdev events until a SYN_REPORT is observed.
type FrameBuffer struct {
	events []RawEvent
}

// Push appends one event. Callers flush and clear after Push returns true
// (the pushed event was SYN_REPORT).
func (f *FrameBuffer) Push(e RawEvent) (flush bool) {
	f.events = append(f.events, e)
	return e.IsSynReport()
}

// Drain returns the accumulated events and clears the buffer. Safe to call
// even when empty.
func (f *FrameBuffer) Drain() []RawEvent {
	out := f.events
	f.events = nil
	return out
}

func (f *FrameBuffer) Len() int { return len(f.events) }

// registration pairs a transport's Backend with the dispatcher hook run on
// first use (lazy init).
type registration struct {
	backend    Backend
	initOnce   sync.Once
	initFn     func() error
	initErr    error
}

// DeviceManager is the single entry point for matching, attaching, and
// detaching devices across all transports.
type DeviceManager struct {
	mu    sync.Mutex
	regs  map[TransportType]*registration
	inputs map[string]*InputCtx
	frames map[string]*FrameBuffer
}

// New creates an empty DeviceManager. Register backends with RegisterBackend
// before calling Match/Attach for that transport.
func New() *DeviceManager {
	return &DeviceManager{
		regs:   make(map[TransportType]*registration),
		inputs: make(map[string]*InputCtx),
		frames: make(map[string]*FrameBuffer),
	}
}

// RegisterBackend installs the Backend for a transport type, with an
// optional idempotent init hook run lazily on first Attach for that
// transport.
func (dm *DeviceManager) RegisterBackend(t TransportType, backend Backend, initFn func() error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.regs[t] = &registration{backend: backend, initFn: initFn}
}

func (dm *DeviceManager) backendFor(t TransportType) (*registration, error) {
	reg, ok := dm.regs[t]
	if !ok {
		return nil, fmt.Errorf("devicemgr: no backend registered for transport %q", t)
	}
	return reg, nil
}

// Match delegates to the backend registered for decl.Type.
func (dm *DeviceManager) Match(ctx context.Context, decl InputDecl) (string, error) {
	dm.mu.Lock()
	reg, err := dm.backendFor(decl.Type)
	dm.mu.Unlock()
	if err != nil {
		return "", err
	}
	return reg.backend.Match(ctx, decl)
}

// Attach lazily initializes the dispatcher for decl.Type, asks the backend
// to attach, then inserts the InputCtx and an empty frame buffer into the
// registries. Attaching an id that already exists returns an error
// without attaching again.
func (dm *DeviceManager) Attach(ctx context.Context, devnode string, decl InputDecl) (*InputCtx, error) {
	dm.mu.Lock()
	reg, err := dm.backendFor(decl.Type)
	if err != nil {
		dm.mu.Unlock()
		return nil, err
	}
	if _, exists := dm.inputs[decl.ID]; exists {
		dm.mu.Unlock()
		return nil, fmt.Errorf("devicemgr: id %q already attached", decl.ID)
	}
	dm.mu.Unlock()

	reg.initOnce.Do(func() {
		if reg.initFn != nil {
			reg.initErr = reg.initFn()
		}
	})
	if reg.initErr != nil {
		return nil, fmt.Errorf("devicemgr: init %s dispatcher: %w", decl.Type, reg.initErr)
	}

	ictx, err := reg.backend.Attach(ctx, devnode, decl)
	if err != nil {
		return nil, err
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if _, exists := dm.inputs[decl.ID]; exists {
		// Raced with a concurrent attach of the same id; the invariant
		// "no two input_map entries share an id" wins over this attach.
		_ = reg.backend.Detach(ctx, ictx)
		return nil, fmt.Errorf("devicemgr: id %q already attached", decl.ID)
	}
	ictx.Active = true
	dm.inputs[decl.ID] = ictx
	dm.frames[decl.ID] = &FrameBuffer{}
	return ictx, nil
}

// Detach asks the backend to release the device, then removes the context
// and its frame buffer from the registries.
func (dm *DeviceManager) Detach(ctx context.Context, id string) error {
	dm.mu.Lock()
	ictx, ok := dm.inputs[id]
	if !ok {
		dm.mu.Unlock()
		return fmt.Errorf("devicemgr: id %q not attached", id)
	}
	reg, err := dm.backendFor(ictx.Decl.Type)
	dm.mu.Unlock()
	if err != nil {
		return err
	}

	if err := reg.backend.Detach(ctx, ictx); err != nil {
		return err
	}

	dm.mu.Lock()
	delete(dm.inputs, id)
	delete(dm.frames, id)
	dm.mu.Unlock()
	return nil
}

// Get returns the live context for id, if attached.
func (dm *DeviceManager) Get(id string) (*InputCtx, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	ictx, ok := dm.inputs[id]
	return ictx, ok
}

// Frame returns the frame buffer for id, if attached.
func (dm *DeviceManager) Frame(id string) (*FrameBuffer, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	fb, ok := dm.frames[id]
	return fb, ok
}

// All returns a snapshot of every attached input context.
func (dm *DeviceManager) All() map[string]*InputCtx {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	out := make(map[string]*InputCtx, len(dm.inputs))
	for k, v := range dm.inputs {
		out[k] = v
	}
	return out
}

// ByDevnode finds the attached input whose recorded devnode/path equals
// devnode, used by the udev dispatcher's remove handling.
func (dm *DeviceManager) ByDevnode(devnode string) (string, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for id, ictx := range dm.inputs {
		if ictx.Devnode == devnode {
			return id, true
		}
	}
	return "", false
}

// Count returns the number of currently attached inputs.
func (dm *DeviceManager) Count() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.inputs)
}
