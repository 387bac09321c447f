package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
	"github.com/aelkeyd/aelkeyd/internal/kernelio"
	"github.com/aelkeyd/aelkeyd/internal/reactor"
)

// EvdevDispatcher matches/attaches/reads /dev/input/eventN nodes, buffering
// raw events until SYN_REPORT before delivering a frame. Grounded on
// original_source/dispatcher_evdev.h/device_backend_evdev.cc.
type EvdevDispatcher struct {
	r    *reactor.Reactor
	dm   *devicemgr.DeviceManager
	sink EventSink

	mu      sync.Mutex
	devices map[string]*evdevHandle // decl.ID -> live handle
}

type evdevHandle struct {
	dev  *kernelio.EvdevDevice
	decl devicemgr.InputDecl
}

// NewEvdevDispatcher builds a dispatcher bound to r/dm/sink. Register it
// with dm.RegisterBackend(devicemgr.TransportEvdev, disp, nil) -- evdev has
// no expensive init, so no lazy-init hook is needed.
func NewEvdevDispatcher(r *reactor.Reactor, dm *devicemgr.DeviceManager, sink EventSink) *EvdevDispatcher {
	return &EvdevDispatcher{r: r, dm: dm, sink: sink, devices: make(map[string]*evdevHandle)}
}

const evdevDir = "/dev/input"

// Match scans /dev/input/eventN nodes for one satisfying decl's Name/
// Phys/Uniq and capability predicates. Returns "" with a nil error when
// nothing currently matches.
func (d *EvdevDispatcher) Match(ctx context.Context, decl devicemgr.InputDecl) (string, error) {
	entries, err := os.ReadDir(evdevDir)
	if err != nil {
		return "", fmt.Errorf("dispatch/evdev: readdir %s: %w", evdevDir, err)
	}
	for _, ent := range entries {
		if !strings.HasPrefix(ent.Name(), "event") {
			continue
		}
		node := filepath.Join(evdevDir, ent.Name())
		if d.matches(node, decl) {
			return node, nil
		}
	}
	return "", nil
}

func (d *EvdevDispatcher) matches(node string, decl devicemgr.InputDecl) bool {
	dev, err := kernelio.OpenEvdevReadOnly(node)
	if err != nil {
		return false
	}
	defer dev.Close()

	id, name, phys, uniq, err := dev.DeviceInfo()
	if err != nil {
		return false
	}
	if decl.Vendor != nil && id.Vendor != *decl.Vendor {
		return false
	}
	if decl.Product != nil && id.Product != *decl.Product {
		return false
	}
	if decl.MinVersion != nil && id.Version < *decl.MinVersion {
		return false
	}
	if decl.MaxVersion != nil && id.Version > *decl.MaxVersion {
		return false
	}
	if !devicemgr.MatchString(decl.Name, name) {
		return false
	}
	if !devicemgr.MatchString(decl.Phys, phys) {
		return false
	}
	if !devicemgr.MatchString(decl.Uniq, uniq) {
		return false
	}
	for _, cap := range decl.Capabilities {
		if !dev.HasCapability(cap.Type, cap.Code) {
			return false
		}
	}
	return true
}

// Attach opens devnode read-write, grabs it if requested, and registers it
// with the reactor keyed by decl.ID. Grab is retried at the start of
// each readable callback until it succeeds.
func (d *EvdevDispatcher) Attach(ctx context.Context, devnode string, decl devicemgr.InputDecl) (*devicemgr.InputCtx, error) {
	dev, err := kernelio.OpenEvdevReadWrite(devnode)
	if err != nil {
		return nil, fmt.Errorf("dispatch/evdev: open %s: %w", devnode, err)
	}
	if decl.Grab {
		_ = dev.Grab() // best-effort; retried on each HandleEvent until it succeeds
	}
	if err := d.r.Register(dev.FD(), d, decl.ID); err != nil {
		dev.Close()
		return nil, fmt.Errorf("dispatch/evdev: register %s: %w", devnode, err)
	}

	d.mu.Lock()
	d.devices[decl.ID] = &evdevHandle{dev: dev, decl: decl}
	d.mu.Unlock()

	ictx := devicemgr.NewInputCtx(decl, devnode)
	ictx.FD = dev.FD()
	ictx.Backend = dev
	return ictx, nil
}

// Detach ungrabs, unregisters, and closes the device.
func (d *EvdevDispatcher) Detach(ctx context.Context, ictx *devicemgr.InputCtx) error {
	d.mu.Lock()
	h, ok := d.devices[ictx.Decl.ID]
	delete(d.devices, ictx.Decl.ID)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	d.r.Unregister(h.dev.FD())
	if ictx.Decl.Grab {
		_ = h.dev.Ungrab()
	}
	return h.dev.Close()
}

// HandleEvent implements reactor.Handler. payload is the decl.ID passed to
// Register. Events are buffered in the DeviceManager's per-id FrameBuffer
// and delivered as one frame per SYN_REPORT; the buffer is drained (and
// thus cleared) even when the sink callback itself fails, so a script
// error never wedges the frame accumulator.
func (d *EvdevDispatcher) HandleEvent(payload any, r reactor.Readiness) {
	id, _ := payload.(string)
	d.mu.Lock()
	h, ok := d.devices[id]
	d.mu.Unlock()
	if !ok {
		return
	}

	if h.decl.Grab {
		_ = h.dev.Grab()
	}

	if r.HangUp || r.Err {
		d.sink.Lost(h.decl)
		return
	}
	if !r.Readable {
		return
	}

	raw, err := h.dev.ReadEvents()
	if err != nil {
		d.sink.Lost(h.decl)
		return
	}

	fb, ok := d.dm.Frame(id)
	if !ok {
		return
	}
	for _, e := range raw {
		re := devicemgr.RawEvent{Type: e.Type, Code: e.Code, Value: e.Value, Sec: e.Sec, Usec: e.Usec}
		if fb.Push(re) {
			frame := fb.Drain()
			d.sink.DeliverFrame(h.decl, frame)
		}
	}
}
