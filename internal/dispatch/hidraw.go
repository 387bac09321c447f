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
	"github.com/aelkeyd/aelkeyd/internal/log"
	"github.com/aelkeyd/aelkeyd/internal/reactor"
)

// HidrawDispatcher matches/attaches/reads /dev/hidrawN nodes, delivering
// each report as a single raw payload. Grounded on
// original_source/dispatcher_hidraw.h/device_backend_hidraw.cc.
type HidrawDispatcher struct {
	r      *reactor.Reactor
	sink   EventSink
	tracer log.FrameTracer

	mu      sync.Mutex
	devices map[string]*hidrawHandle
}

type hidrawHandle struct {
	dev  *kernelio.HidrawDevice
	decl devicemgr.InputDecl
}

func NewHidrawDispatcher(r *reactor.Reactor, sink EventSink) *HidrawDispatcher {
	return &HidrawDispatcher{r: r, sink: sink, tracer: log.NewFrameTracer(nil), devices: make(map[string]*hidrawHandle)}
}

// SetTracer installs a frame tracer for every report read and written
// after this call. A nil tracer restores the no-op default.
func (d *HidrawDispatcher) SetTracer(t log.FrameTracer) {
	if t == nil {
		t = log.NewFrameTracer(nil)
	}
	d.tracer = t
}

const hidrawDir = "/dev"

func (d *HidrawDispatcher) Match(ctx context.Context, decl devicemgr.InputDecl) (string, error) {
	entries, err := os.ReadDir(hidrawDir)
	if err != nil {
		return "", fmt.Errorf("dispatch/hidraw: readdir %s: %w", hidrawDir, err)
	}
	for _, ent := range entries {
		if !strings.HasPrefix(ent.Name(), "hidraw") {
			continue
		}
		node := filepath.Join(hidrawDir, ent.Name())
		if d.matches(node, decl) {
			return node, nil
		}
	}
	return "", nil
}

func (d *HidrawDispatcher) matches(node string, decl devicemgr.InputDecl) bool {
	dev, err := kernelio.OpenHidraw(node, false)
	if err != nil {
		return false
	}
	defer dev.Close()

	info, name, phys, uniq, err := dev.Info()
	if err != nil {
		return false
	}
	if decl.Vendor != nil && uint16(info.Vendor) != *decl.Vendor {
		return false
	}
	if decl.Product != nil && uint16(info.Product) != *decl.Product {
		return false
	}
	if decl.Interface != nil {
		ifaceNum, ok := hidrawInterfaceNumber(node)
		if !ok || ifaceNum != *decl.Interface {
			return false
		}
	}
	if !devicemgr.MatchString(decl.Name, name) {
		return false
	}
	if !devicemgr.MatchString(decl.Phys, phys) {
		return false
	}
	return devicemgr.MatchString(decl.Uniq, uniq)
}

// hidrawInterfaceNumber resolves the udev ID_USB_INTERFACE_NUM property for
// a /dev/hidrawN node by following its sysfs "device" link up to the owning
// USB interface directory and reading bInterfaceNumber, which the kernel
// formats in hex.
func hidrawInterfaceNumber(devnode string) (int, bool) {
	base := filepath.Base(devnode)
	real, err := filepath.EvalSymlinks(filepath.Join("/sys/class/hidraw", base, "device"))
	if err != nil {
		return 0, false
	}
	for dir := real; dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		if v, ok := readSysfsHex(filepath.Join(dir, "bInterfaceNumber")); ok {
			return int(v), true
		}
	}
	return 0, false
}

// Attach opens devnode. Writes block only when decl.Grab is set, since
// hidraw output reports are rare and latency-insensitive compared to
// input reads.
func (d *HidrawDispatcher) Attach(ctx context.Context, devnode string, decl devicemgr.InputDecl) (*devicemgr.InputCtx, error) {
	dev, err := kernelio.OpenHidraw(devnode, decl.Grab)
	if err != nil {
		return nil, fmt.Errorf("dispatch/hidraw: open %s: %w", devnode, err)
	}
	if err := d.r.Register(dev.FD(), d, decl.ID); err != nil {
		dev.Close()
		return nil, fmt.Errorf("dispatch/hidraw: register %s: %w", devnode, err)
	}

	d.mu.Lock()
	d.devices[decl.ID] = &hidrawHandle{dev: dev, decl: decl}
	d.mu.Unlock()

	ictx := devicemgr.NewInputCtx(decl, devnode)
	ictx.FD = dev.FD()
	ictx.Backend = dev
	return ictx, nil
}

func (d *HidrawDispatcher) Detach(ctx context.Context, ictx *devicemgr.InputCtx) error {
	d.mu.Lock()
	h, ok := d.devices[ictx.Decl.ID]
	delete(d.devices, ictx.Decl.ID)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	d.r.Unregister(h.dev.FD())
	return h.dev.Close()
}

// HandleEvent reads up to kernelio.MaxHidrawReportsPerWake reports per
// readiness callback, delivering each as a raw payload.
func (d *HidrawDispatcher) HandleEvent(payload any, r reactor.Readiness) {
	id, _ := payload.(string)
	d.mu.Lock()
	h, ok := d.devices[id]
	d.mu.Unlock()
	if !ok {
		return
	}

	if r.HangUp || r.Err {
		d.sink.Lost(h.decl)
		return
	}
	if !r.Readable {
		return
	}

	buf := make([]byte, 4096)
	for i := 0; i < kernelio.MaxHidrawReportsPerWake; i++ {
		n, err := h.dev.ReadReport(buf)
		if err != nil {
			return // EAGAIN or hard error both just stop this wake's drain
		}
		if n == 0 {
			return
		}
		payload := append([]byte(nil), buf[:n]...)
		d.tracer.Trace(h.decl.ID, true, payload)
		d.sink.DeliverRaw(h.decl, payload)
	}
}

// WriteReport writes an outbound output/feature report to an attached
// hidraw input acting as an output target.
func (d *HidrawDispatcher) WriteReport(id string, data []byte) error {
	d.mu.Lock()
	h, ok := d.devices[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("dispatch/hidraw: %q not attached", id)
	}
	d.tracer.Trace(id, false, data)
	_, err := h.dev.WriteReport(data)
	return err
}
