package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
	"github.com/aelkeyd/aelkeyd/internal/log"
	"github.com/aelkeyd/aelkeyd/internal/tick"
)

// ringCapacity bounds pending MIDI events between the simulated realtime
// producer and the tick-driven drain; original_source/device_backend_
// midi.cc sizes its ring generously since JACK's process() callback must
// never block.
const ringCapacity = 256

// midiDrainInterval matches original_source/device_backend_midi.cc's
// drain period: the shortest tick JACK's default buffer size requires to
// avoid ring overrun under normal note traffic.
const midiDrainInterval = 8 * time.Millisecond

// midiDrainKey identifies the single shared drain tick every attached
// MIDI port is drained under; there is one tick regardless of port
// count, scheduled on the first attach and cancelled on the last detach.
const midiDrainKey = "dispatch/midi:drain"

// midiBackend abstracts the JACK client/port registry: Ports lists every
// currently registered input port as "client:port" strings. The only
// implementation wired today is simulatedBackend, which stands in for a
// registered JACK client with no audio server attached; swapping in a
// real JACK client library means implementing this interface against
// jack_get_ports and wiring it into NewMidiDispatcher in place of
// newSimulatedBackend.
type midiBackend interface {
	Ports() ([]string, error)
}

// simulatedBackend is a fixed-membership port registry: ports are
// registered once at construction (standing in for the JACK server
// naming its hardware MIDI ports at client registration time) and never
// change afterward.
type simulatedBackend struct {
	ports []string
}

func newSimulatedBackend(ports []string) *simulatedBackend {
	return &simulatedBackend{ports: ports}
}

func (b *simulatedBackend) Ports() ([]string, error) {
	return b.ports, nil
}

// MidiDispatcher models a JACK MIDI client: one input port per attached
// declaration, fed by an SPSC ring buffer and drained on a shared tick.
// No JACK client library is wired in (see SPEC_FULL.md DOMAIN STACK), so
// the client/port registry and the realtime-thread handoff are
// hand-rolled behind midiBackend; PushRealtime is the seam a real JACK
// process() callback would call from the audio thread.
type MidiDispatcher struct {
	ticks   *tick.Scheduler
	sink    EventSink
	tracer  log.FrameTracer
	backend midiBackend

	mu    sync.Mutex
	ports map[string]*midiPort // decl.ID -> port
}

type midiPort struct {
	decl devicemgr.InputDecl
	ring *spscRing
}

func NewMidiDispatcher(ticks *tick.Scheduler, sink EventSink) *MidiDispatcher {
	return &MidiDispatcher{
		ticks:   ticks,
		sink:    sink,
		tracer:  log.NewFrameTracer(nil),
		backend: newSimulatedBackend([]string{"aelkeyd:midi_1", "aelkeyd:midi_2"}),
		ports:   make(map[string]*midiPort),
	}
}

// SetBackend replaces the port registry, used by tests to exercise
// Match against a fixed port list without a real JACK server.
func (d *MidiDispatcher) SetBackend(b midiBackend) {
	d.backend = b
}

// SetTracer installs a frame tracer for every drained MIDI message.
func (d *MidiDispatcher) SetTracer(t log.FrameTracer) {
	if t == nil {
		t = log.NewFrameTracer(nil)
	}
	d.tracer = t
}

// Match enumerates the backend's registered ports and returns the first
// one whose "client:port" name satisfies decl.Name (pattern-aware) and,
// when set, decl.Client/decl.Port exactly.
func (d *MidiDispatcher) Match(ctx context.Context, decl devicemgr.InputDecl) (string, error) {
	ports, err := d.backend.Ports()
	if err != nil {
		return "", fmt.Errorf("dispatch/midi: %w", err)
	}
	for _, p := range ports {
		client, port, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		if decl.Client != "" && decl.Client != client {
			continue
		}
		if decl.Port != "" && decl.Port != port {
			continue
		}
		if !devicemgr.MatchString(decl.Name, p) {
			continue
		}
		return p, nil
	}
	return "", nil
}

// Attach creates the port's ring buffer. On the first attached port, the
// shared 8ms drain tick is scheduled; later attaches just add to the
// existing drain's port set.
func (d *MidiDispatcher) Attach(ctx context.Context, devnode string, decl devicemgr.InputDecl) (*devicemgr.InputCtx, error) {
	port := &midiPort{decl: decl, ring: newSPSCRing(ringCapacity)}

	d.mu.Lock()
	firstPort := len(d.ports) == 0
	d.ports[decl.ID] = port
	d.mu.Unlock()

	if firstPort {
		if err := d.ticks.Schedule(midiDrainKey, midiDrainInterval, tick.Callback{Native: d.drainAll}); err != nil {
			d.mu.Lock()
			delete(d.ports, decl.ID)
			d.mu.Unlock()
			return nil, fmt.Errorf("dispatch/midi: schedule drain tick: %w", err)
		}
	}

	ictx := devicemgr.NewInputCtx(decl, devnode)
	ictx.FD = -1
	ictx.Backend = port
	return ictx, nil
}

// Detach drops the port. When it was the last one attached, the shared
// drain tick is cancelled rather than left ticking over an empty port
// set.
func (d *MidiDispatcher) Detach(ctx context.Context, ictx *devicemgr.InputCtx) error {
	d.mu.Lock()
	delete(d.ports, ictx.Decl.ID)
	lastPort := len(d.ports) == 0
	d.mu.Unlock()
	if lastPort {
		d.ticks.CancelMatching(midiDrainKey)
	}
	return nil
}

// PushRealtime is called from the (simulated) JACK audio thread's
// process() callback to hand a MIDI event to the reactor thread. It never
// blocks: a full ring simply drops the event, matching a real JACK
// client's obligation to never stall its realtime callback.
func (d *MidiDispatcher) PushRealtime(id string, event []byte) bool {
	d.mu.Lock()
	port, ok := d.ports[id]
	d.mu.Unlock()
	if !ok {
		return false
	}
	return port.ring.Push(event)
}

// drainAll runs on the shared drain tick, delivering every event queued
// on every currently attached port since the last tick.
func (d *MidiDispatcher) drainAll() {
	d.mu.Lock()
	ports := make([]*midiPort, 0, len(d.ports))
	for _, p := range d.ports {
		ports = append(ports, p)
	}
	d.mu.Unlock()

	for _, port := range ports {
		for _, ev := range port.ring.Drain() {
			d.tracer.Trace(port.decl.ID, true, ev)
			d.sink.DeliverRaw(port.decl, ev)
		}
	}
}
