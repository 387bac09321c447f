package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
	"github.com/aelkeyd/aelkeyd/internal/reactor"
)

// UdevEvent is one parsed kobject-uevent netlink datagram. Grounded on
// zaolin-framework-powerd's internal/monitor.UdevEvent shape.
type UdevEvent struct {
	Action     string
	Subsystem  string
	DevPath    string
	Properties map[string]string
}

// Matcher is the subset of DeviceManager the hotplug dispatcher needs:
// re-running match/attach for every known input declaration whenever a
// device appears, and detaching by devnode when one disappears.
type Matcher interface {
	Match(ctx context.Context, decl devicemgr.InputDecl) (string, error)
	Attach(ctx context.Context, devnode string, decl devicemgr.InputDecl) (*devicemgr.InputCtx, error)
	Detach(ctx context.Context, id string) error
	ByDevnode(devnode string) (string, bool)
	Get(id string) (*devicemgr.InputCtx, bool)
}

// UdevDispatcher watches the kernel's kobject-uevent netlink multicast
// group for input/hidraw/usb subsystem add/remove events and re-triggers
// match/attach across every still-unattached declaration on add, or
// detaches the owning id on remove. usb is included alongside input and
// hidraw so a bare libusb-type declaration (no evdev/hidraw node) still
// hot-plug attaches. Grounded on
// zaolin-framework-powerd's internal/monitor/udev.go for the
// netlink-socket plumbing, adapted from a goroutine+channel consumer to a
// reactor-registered non-blocking fd.
type UdevDispatcher struct {
	fd    int
	dm    Matcher
	decls func() []devicemgr.InputDecl
	sink  EventSink
}

// NewUdevDispatcher opens and binds the netlink socket but does not
// register it with the reactor; call Start after construction.
func NewUdevDispatcher(dm Matcher, decls func() []devicemgr.InputDecl, sink EventSink) (*UdevDispatcher, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("dispatch/udev: socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1, Pid: 0}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dispatch/udev: bind: %w", err)
	}
	return &UdevDispatcher{fd: fd, dm: dm, decls: decls, sink: sink}, nil
}

// Start registers the netlink socket with r.
func (u *UdevDispatcher) Start(r *reactor.Reactor) error {
	return r.Register(u.fd, u, nil)
}

// Close closes the socket. It does not unregister the fd from the
// reactor.
func (u *UdevDispatcher) Close() error {
	return unix.Close(u.fd)
}

// HandleEvent implements reactor.Handler: drains and acts on every
// pending datagram.
func (u *UdevDispatcher) HandleEvent(payload any, r reactor.Readiness) {
	if !r.Readable {
		return
	}
	buf := make([]byte, 4096)
	for {
		n, _, err := unix.Recvfrom(u.fd, buf, 0)
		if err != nil {
			return // EAGAIN ends this wake's drain
		}
		if n == 0 {
			return
		}
		ev, err := parseUdevEvent(buf[:n])
		if err != nil {
			continue
		}
		if ev.Subsystem != "input" && ev.Subsystem != "hidraw" && ev.Subsystem != "usb" {
			continue
		}
		u.handle(ev)
	}
}

func (u *UdevDispatcher) handle(ev UdevEvent) {
	switch ev.Action {
	case "add":
		u.enumerateAndMatch()
	case "remove":
		// DEVNAME is the node name relative to /dev ("input/event5",
		// "hidraw0", "bus/usb/001/002"); DEVPATH is a sysfs path.
		name, ok := ev.Properties["DEVNAME"]
		if !ok {
			return
		}
		devnode := "/dev/" + name
		id, ok := u.dm.ByDevnode(devnode)
		if !ok {
			return
		}
		ictx, ok := u.dm.Get(id)
		if !ok {
			return
		}
		// Routed through sink.Lost rather than a direct Detach so the
		// unplug tears down FF-sink wiring and delivers on_state(remove)
		// the same way a live-fd transport error would.
		u.sink.Lost(ictx.Decl)
	}
}

// enumerateAndMatch re-runs Match for every declared-but-not-yet-attached
// input, attaching the first that now resolves.
func (u *UdevDispatcher) enumerateAndMatch() {
	for _, decl := range u.decls() {
		node, err := u.dm.Match(context.Background(), decl)
		if err != nil || node == "" {
			continue
		}
		if _, attached := u.dm.ByDevnode(node); attached {
			continue
		}
		if _, err := u.dm.Attach(context.Background(), node, decl); err == nil {
			u.sink.DeliverState(decl, "attached")
		}
	}
}

func parseUdevEvent(data []byte) (UdevEvent, error) {
	parts := bytes.Split(data, []byte{0x00})
	if len(parts) == 0 {
		return UdevEvent{}, fmt.Errorf("dispatch/udev: empty event")
	}
	header := string(parts[0])
	headerParts := strings.SplitN(header, "@", 2)
	if len(headerParts) != 2 {
		return UdevEvent{}, fmt.Errorf("dispatch/udev: invalid header %q", header)
	}
	ev := UdevEvent{Action: headerParts[0], DevPath: headerParts[1], Properties: make(map[string]string)}
	for _, part := range parts[1:] {
		if len(part) == 0 {
			continue
		}
		kv := strings.SplitN(string(part), "=", 2)
		if len(kv) == 2 {
			ev.Properties[kv[0]] = kv[1]
		}
	}
	if val, ok := ev.Properties["SUBSYSTEM"]; ok {
		ev.Subsystem = val
	}
	return ev, nil
}
