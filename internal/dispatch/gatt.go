package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aelkeyd/aelkeyd/internal/busproto"
	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
	"github.com/aelkeyd/aelkeyd/internal/log"
	"github.com/aelkeyd/aelkeyd/internal/reactor"
)

// gattPathSep joins the multiple characteristic paths a device/service-only
// declaration can resolve to into the single devnode string
// devicemgr.Backend.Match returns.
const gattPathSep = "|"

// SystemBusAddress is the well-known system bus socket BlueZ listens on.
const SystemBusAddress = "/var/run/dbus/system_bus_socket"

// GattDispatcher resolves device -> service -> characteristic over
// org.bluez and routes PropertiesChanged notifications to
// the attached input whose recorded path is a prefix of the notification's
// object path (DESIGN.md Open Question 1: route by path prefix, Open
// Question 2: "class-based" GATT stack is canonical). One Conn is shared across every GATT input; it
// is created lazily on first Attach via the DeviceManager init hook.
type GattDispatcher struct {
	r      *reactor.Reactor
	sink   EventSink
	tracer log.FrameTracer

	mu      sync.Mutex
	conn    *busproto.Conn
	devices map[string]*gattHandle // input id -> handle, keyed for PropertiesChanged routing
}

type gattHandle struct {
	decl  devicemgr.InputDecl
	paths []busproto.ObjectPath
}

func NewGattDispatcher(r *reactor.Reactor, sink EventSink) *GattDispatcher {
	return &GattDispatcher{r: r, sink: sink, tracer: log.NewFrameTracer(nil), devices: make(map[string]*gattHandle)}
}

// SetTracer installs a frame tracer for every characteristic read/write.
func (d *GattDispatcher) SetTracer(t log.FrameTracer) {
	if t == nil {
		t = log.NewFrameTracer(nil)
	}
	d.tracer = t
}

// Init dials the system bus and installs the signal router. Pass this as
// the initFn to DeviceManager.RegisterBackend(devicemgr.TransportGatt, ...).
func (d *GattDispatcher) Init() error {
	conn, err := busproto.Dial(SystemBusAddress)
	if err != nil {
		return fmt.Errorf("dispatch/gatt: dial system bus: %w", err)
	}
	conn.OnSignal(d.onSignal)
	if err := d.r.Register(conn.FD(), d, nil); err != nil {
		conn.Close()
		return fmt.Errorf("dispatch/gatt: register bus fd: %w", err)
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	return nil
}

// Match resolves decl against the live BlueZ object tree: decl.Uniq (if
// set) is matched against the device's Address property (pattern-aware
// per devicemgr.MatchString), then decl.Service/decl.Characteristic are
// resolved under it -- a bare device-level
// declaration matches the device path itself, a service-only declaration
// resolves to every characteristic nested under that service, and a
// service+characteristic declaration resolves to that one characteristic.
// A characteristic without a service does not resolve, so such a
// declaration never matches.
// The resolved path(s) are joined into the single devnode string this
// interface returns; Attach splits them back apart.
func (d *GattDispatcher) Match(ctx context.Context, decl devicemgr.InputDecl) (string, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return "", fmt.Errorf("dispatch/gatt: not initialized")
	}
	objs, err := busproto.GetManagedObjects(conn)
	if err != nil {
		return "", fmt.Errorf("dispatch/gatt: %w", err)
	}
	devicePath, ok := findDevicePath(objs, decl)
	if !ok {
		return "", nil
	}
	paths, err := busproto.ResolveCharacteristics(objs, devicePath, decl.Service, decl.Characteristic)
	if err != nil {
		return "", nil // resolution miss is a match miss, not an error
	}
	strs := make([]string, len(paths))
	for i, p := range paths {
		strs[i] = string(p)
	}
	return strings.Join(strs, gattPathSep), nil
}

func findDevicePath(objs []busproto.ManagedObject, decl devicemgr.InputDecl) (busproto.ObjectPath, bool) {
	for _, o := range objs {
		props, ok := o.Interfaces["org.bluez.Device1"]
		if !ok {
			continue
		}
		addrVar, ok := props["Address"]
		if !ok {
			continue
		}
		addr, _ := addrVar.Value.(string)
		if devicemgr.MatchString(decl.Uniq, addr) {
			return o.Path, true
		}
	}
	return "", false
}

// HandleEvent implements reactor.Handler for the shared bus connection fd
// (GattDispatcher registers itself, not conn, so a connection-level error
// can be fanned out to every attached GATT input -- one Conn serves them
// all, unlike evdev/hidraw's per-device fd). A clean read is delegated to
// conn unchanged; a hang-up or error tears down every currently attached
// input the same way a per-device transport error would.
func (d *GattDispatcher) HandleEvent(payload any, r reactor.Readiness) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return
	}

	if r.HangUp || r.Err {
		d.mu.Lock()
		lost := make([]devicemgr.InputDecl, 0, len(d.devices))
		for _, h := range d.devices {
			lost = append(lost, h.decl)
		}
		d.devices = make(map[string]*gattHandle)
		d.r.Unregister(conn.FD())
		d.conn = nil
		d.mu.Unlock()
		conn.Close()
		for _, decl := range lost {
			d.sink.Lost(decl)
		}
		return
	}

	conn.HandleEvent(payload, r)
}

// Attach subscribes to notifications on every characteristic path Match
// resolved. A bare device-level declaration (decl.Service == nil) has
// nothing to subscribe to -- devnode is the device path itself -- so
// StartNotify is skipped for it.
func (d *GattDispatcher) Attach(ctx context.Context, devnode string, decl devicemgr.InputDecl) (*devicemgr.InputCtx, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("dispatch/gatt: not initialized")
	}
	paths := splitGattPaths(devnode)
	if decl.Service != nil {
		for _, p := range paths {
			if err := busproto.StartNotify(conn, p); err != nil {
				for _, done := range paths {
					if done == p {
						break
					}
					_ = busproto.StopNotify(conn, done)
				}
				return nil, fmt.Errorf("dispatch/gatt: StartNotify %s: %w", p, err)
			}
		}
	}

	d.mu.Lock()
	d.devices[decl.ID] = &gattHandle{decl: decl, paths: paths}
	d.mu.Unlock()

	ictx := devicemgr.NewInputCtx(decl, devnode)
	ictx.FD = -1
	ictx.GattPath = devnode
	return ictx, nil
}

func splitGattPaths(devnode string) []busproto.ObjectPath {
	parts := strings.Split(devnode, gattPathSep)
	out := make([]busproto.ObjectPath, len(parts))
	for i, p := range parts {
		out[i] = busproto.ObjectPath(p)
	}
	return out
}

func (d *GattDispatcher) Detach(ctx context.Context, ictx *devicemgr.InputCtx) error {
	d.mu.Lock()
	conn := d.conn
	h, ok := d.devices[ictx.Decl.ID]
	delete(d.devices, ictx.Decl.ID)
	d.mu.Unlock()
	if conn == nil || !ok {
		return nil
	}
	var lastErr error
	if h.decl.Service != nil {
		for _, p := range h.paths {
			if err := busproto.StopNotify(conn, p); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// WriteCharacteristic writes data to id's primary resolved characteristic
// (the first path resolved by Match), acknowledged "request" mode.
func (d *GattDispatcher) WriteCharacteristic(id string, data []byte) error {
	d.mu.Lock()
	conn := d.conn
	h, ok := d.devices[id]
	d.mu.Unlock()
	if !ok || len(h.paths) == 0 {
		return fmt.Errorf("dispatch/gatt: %q not attached", id)
	}
	d.tracer.Trace(id, false, data)
	return busproto.WriteValue(conn, h.paths[0], data)
}

// ReadCharacteristic reads id's primary resolved characteristic's current
// value.
func (d *GattDispatcher) ReadCharacteristic(id string) ([]byte, error) {
	d.mu.Lock()
	conn := d.conn
	h, ok := d.devices[id]
	d.mu.Unlock()
	if !ok || len(h.paths) == 0 {
		return nil, fmt.Errorf("dispatch/gatt: %q not attached", id)
	}
	data, err := busproto.ReadValue(conn, h.paths[0])
	d.tracer.Trace(id, true, data)
	return data, err
}

// onSignal is Conn's SignalHandler: it delivers PropertiesChanged bodies
// to every attached GATT input whose recorded path equals the signal's
// object path or is a prefix of it (DESIGN.md Open Question 1), so a
// device-level declaration receives notifications from any characteristic
// beneath its device path.
func (d *GattDispatcher) onSignal(msg *busproto.Message) {
	payload, ok := busproto.ParsePropertiesChanged(msg)
	if !ok || payload.Interface != "org.bluez.GattCharacteristic1" {
		return
	}
	valueVar, ok := payload.Changed["Value"]
	if !ok {
		return
	}
	data, ok := valueVar.Value.([]byte)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.devices {
		// A service-only declaration resolves to several characteristic
		// paths, any one of which may be the notification's sender.
		for _, p := range h.paths {
			if msg.Path == p || strings.HasPrefix(string(msg.Path), string(p)+"/") {
				d.tracer.Trace(h.decl.ID, true, data)
				d.sink.DeliverRaw(h.decl, data)
				break
			}
		}
	}
}
