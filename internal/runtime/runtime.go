package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
	"github.com/aelkeyd/aelkeyd/internal/dispatch"
	"github.com/aelkeyd/aelkeyd/internal/log"
	"github.com/aelkeyd/aelkeyd/internal/reactor"
	"github.com/aelkeyd/aelkeyd/internal/tick"
)

// allowRootEnv is the escape hatch for the startup root gate.
const allowRootEnv = "AELKEY_ALLOW_ROOT"

// rootGateOK implements the startup safety gate as a pure predicate over
// (effective uid, escape-hatch env value) so it is testable without
// actually running as root: it fails only when euid is 0 and allowRoot is
// empty.
func rootGateOK(euid int, allowRoot string) bool {
	return euid != 0 || allowRoot != ""
}

// Options configures a Runtime invocation.
type Options struct {
	ScriptPath string
	Logger     *slog.Logger
	Tracer     log.FrameTracer
}

// Runtime wires together the reactor, the DeviceManager, every transport
// dispatcher, the tick scheduler, the script bridge, and the declaration
// registry into a single-threaded event loop.
type Runtime struct {
	logger *slog.Logger

	reactor *reactor.Reactor
	dm      *devicemgr.DeviceManager
	state   *State
	host    *NativeHost
	bridge  *Bridge
	ticks   *tick.Scheduler
	signals *signalBridge

	evdev    *dispatch.EvdevDispatcher
	hidraw   *dispatch.HidrawDispatcher
	libusb   *dispatch.LibusbDispatcher
	gatt     *dispatch.GattDispatcher
	midi     *dispatch.MidiDispatcher
	haptics  *dispatch.HapticsDispatcher
	udev     *dispatch.UdevDispatcher
}

// New builds a Runtime from opts: it enforces the root gate, loads the
// declaration file, registers every transport backend with the
// DeviceManager, creates the declared virtual outputs, and starts the
// udev hot-plug watcher. It does not attach any input; that happens
// during Run's initial enumerate-and-match pass and via the script
// bridge's open_device.
func New(opts Options) (*Runtime, error) {
	if !rootGateOK(unix.Geteuid(), os.Getenv(allowRootEnv)) {
		return nil, fmt.Errorf("runtime: refusing to run as root without %s set", allowRootEnv)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	df, err := loadDeclFile(opts.ScriptPath)
	if err != nil {
		return nil, err
	}

	r, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("runtime: create reactor: %w", err)
	}

	dm := devicemgr.New()
	state := newState()
	host := NewNativeHost(logger)

	rt := &Runtime{
		logger:  logger,
		reactor: r,
		dm:      dm,
		state:   state,
		host:    host,
		ticks:   tick.New(r, logger.Debug),
	}
	rt.bridge = newBridge(rt)
	host.SetCloser(rt.bridge.CloseDevice)

	rt.evdev = dispatch.NewEvdevDispatcher(r, dm, host)
	rt.hidraw = dispatch.NewHidrawDispatcher(r, host)
	rt.libusb = dispatch.NewLibusbDispatcher(r, host)
	rt.gatt = dispatch.NewGattDispatcher(r, host)
	rt.midi = dispatch.NewMidiDispatcher(rt.ticks, host)
	rt.haptics = dispatch.NewHapticsDispatcher(r, host)

	if opts.Tracer != nil {
		rt.hidraw.SetTracer(opts.Tracer)
		rt.libusb.SetTracer(opts.Tracer)
		rt.gatt.SetTracer(opts.Tracer)
		rt.midi.SetTracer(opts.Tracer)
	}

	dm.RegisterBackend(devicemgr.TransportEvdev, rt.evdev, nil)
	dm.RegisterBackend(devicemgr.TransportHidraw, rt.hidraw, nil)
	dm.RegisterBackend(devicemgr.TransportLibusb, rt.libusb, nil)
	dm.RegisterBackend(devicemgr.TransportGatt, rt.gatt, rt.gatt.Init)
	dm.RegisterBackend(devicemgr.TransportMidi, rt.midi, nil)

	udev, err := dispatch.NewUdevDispatcher(dm, state.AllMatchable, host)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("runtime: create udev dispatcher: %w", err)
	}
	rt.udev = udev

	for _, in := range df.Inputs {
		if err := state.DeclareInput(in); err != nil {
			r.Close()
			return nil, err
		}
	}
	for _, out := range df.Outputs {
		if err := state.DeclareOutput(out); err != nil {
			r.Close()
			return nil, err
		}
		if err := rt.haptics.CreateOutput(out); err != nil {
			r.Close()
			return nil, fmt.Errorf("runtime: create output %q: %w", out.ID, err)
		}
	}

	sig, err := newSignalBridge(state)
	if err != nil {
		r.Close()
		return nil, err
	}
	if err := r.Register(sig.FD(), sig, nil); err != nil {
		sig.Close()
		r.Close()
		return nil, fmt.Errorf("runtime: register signalfd: %w", err)
	}
	rt.signals = sig

	if err := udev.Start(r); err != nil {
		r.Close()
		return nil, fmt.Errorf("runtime: start udev watcher: %w", err)
	}

	return rt, nil
}

// Bridge returns the script-facing function surface, exposed so a Host
// implementation can bind its globals against it.
func (rt *Runtime) Bridge() *Bridge { return rt.bridge }

// Host returns the NativeHost every dispatcher delivers events through,
// for registering on_event/on_state/on_haptics/tick callbacks before Run.
func (rt *Runtime) Host() *NativeHost { return rt.host }

// Run enumerates and matches every declared input once, then drives the
// reactor loop until a signal or script call requests shutdown, then
// tears everything down in order.
func (rt *Runtime) Run() error {
	ctx := context.Background()
	for _, decl := range rt.state.Inputs() {
		if err := rt.bridge.openOne(ctx, decl); err != nil {
			rt.logger.Warn("initial match/attach failed", "input", decl.ID, "error", err)
		}
	}

	events := make([]unix.EpollEvent, 64)
	for {
		if down, _ := rt.state.ShuttingDown(); down {
			break
		}
		if _, err := rt.reactor.WaitOnce(events); err != nil {
			rt.logger.Error("reactor wait failed", "error", err)
			return fmt.Errorf("runtime: reactor wait: %w", err)
		}
	}

	_, sig := rt.state.ShuttingDown()
	return rt.shutdown(sig)
}

// shutdown performs orderly cleanup -- detach every input, destroy every
// output, cancel every timer, close the bus connection -- and re-raises
// the terminating signal, if any, with its default disposition.
func (rt *Runtime) shutdown(sig int) error {
	ctx := context.Background()
	rt.ticks.CancelAll()

	for id, ictx := range rt.dm.All() {
		rt.bridge.unwireFFSink(ictx)
		if err := rt.dm.Detach(ctx, id); err != nil {
			rt.logger.Warn("detach on shutdown failed", "input", id, "error", err)
		}
	}
	for _, out := range rt.state.Outputs() {
		if err := rt.haptics.DestroyOutput(out.ID); err != nil {
			rt.logger.Warn("destroy output on shutdown failed", "output", out.ID, "error", err)
		}
	}

	if err := rt.udev.Close(); err != nil {
		rt.logger.Warn("close udev watcher failed", "error", err)
	}
	if err := rt.signals.Close(); err != nil {
		rt.logger.Warn("close signalfd failed", "error", err)
	}
	if err := rt.reactor.Close(); err != nil {
		rt.logger.Warn("close reactor failed", "error", err)
	}

	return reraiseDefault(sig)
}
