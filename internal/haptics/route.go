package haptics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aelkeyd/aelkeyd/internal/kernelio"
)

// SlotKey identifies one virtual effect uploaded by a source device, used
// to correlate it with per-sink kernel effect ids: (source_id,
// virtual_effect_id) -> sink_effect_id.
type SlotKey struct {
	SourceID        string
	VirtualEffectID int16
}

// Sink is the subset of a physical output device the routing plane needs:
// upload/erase/play against its kernel FF slots.
type Sink interface {
	UploadFF(eff *kernelio.FFEffect) (int16, error)
	EraseFF(id int16) error
	PlayFF(id int16, value int32) error
}

// SinkCtx tracks one physical sink's FF state: the effects it currently
// has uploaded, keyed by the source-side SlotKey that produced them.
type SinkCtx struct {
	ID   string
	Dev  Sink
	mu   sync.Mutex
	slot map[SlotKey]int16
}

// NewSinkCtx builds an empty routing context for a physical sink device.
func NewSinkCtx(id string, dev Sink) *SinkCtx {
	return &SinkCtx{ID: id, Dev: dev, slot: make(map[SlotKey]int16)}
}

// SourceCtx is the game-facing virtual device that uploads effects; its
// uploads fan out to every attached SinkCtx -- one virtual source can
// drive N physical sink devices.
type SourceCtx struct {
	ID   string
	mu   sync.RWMutex
	eff  map[int16]EffectRecord
	next int16
}

// NewSourceCtx builds an empty virtual FF source.
func NewSourceCtx(id string) *SourceCtx {
	return &SourceCtx{ID: id, eff: make(map[int16]EffectRecord)}
}

// Router fans out one source's effect lifecycle to a set of sinks. It is
// the owner of the slot correspondence table and the capacity-retry
// policy: on "no space" purge every slot on that sink and retry once,
// then drop for that sink only.
type Router struct {
	mu    sync.Mutex
	sinks map[string]*SinkCtx
}

// NewRouter builds an empty fan-out router.
func NewRouter() *Router {
	return &Router{sinks: make(map[string]*SinkCtx)}
}

func (r *Router) AddSink(s *SinkCtx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[s.ID] = s
}

func (r *Router) RemoveSink(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, id)
}

func (r *Router) sinkList() []*SinkCtx {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*SinkCtx, 0, len(r.sinks))
	for _, s := range r.sinks {
		out = append(out, s)
	}
	return out
}

// Upload records a new virtual effect on the source and propagates it to
// every sink, assigning the source a fresh virtual effect id. Per-sink
// upload failures are tolerated (a sink that refuses an effect simply
// never plays it); the source-side id is always assigned.
func (s *SourceCtx) Upload(rec EffectRecord) int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.eff[id] = rec
	return id
}

func (s *SourceCtx) Get(id int16) (EffectRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.eff[id]
	return rec, ok
}

func (s *SourceCtx) Erase(id int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.eff, id)
}

// Propagate pushes source's virtual effect id to every attached sink,
// uploading fresh kernel effects where the sink has none yet for this
// slot and reusing the existing kernel id where it does (an update, not
// a new upload -- the slot correspondence is stable across repeated
// uploads of the same virtual id).
func (r *Router) Propagate(source *SourceCtx, virtualID int16) {
	rec, ok := source.Get(virtualID)
	if !ok {
		return
	}
	key := SlotKey{SourceID: source.ID, VirtualEffectID: virtualID}
	for _, sink := range r.sinkList() {
		propagateToSink(sink, key, rec)
	}
}

func propagateToSink(sink *SinkCtx, key SlotKey, rec EffectRecord) {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	kEff := rec.ToKernel()
	if existing, ok := sink.slot[key]; ok {
		kEff.ID = existing
	}
	id, err := sink.Dev.UploadFF(&kEff)
	if err == nil {
		sink.slot[key] = id
		return
	}
	if !errors.Is(err, kernelio.ErrNoSpace) {
		return
	}
	// "no space" retry policy: purge every uploaded effect on this sink
	// (one global erase) and retry once; on repeated failure the effect
	// is simply dropped for this sink only, leaving other sinks
	// unaffected.
	if purged := purgeAllSlots(sink); purged {
		kEff.ID = -1
		if id, err := sink.Dev.UploadFF(&kEff); err == nil {
			sink.slot[key] = id
		}
	}
}

// purgeAllSlots erases every kernel effect currently uploaded on sink and
// empties its slot table, freeing all of the sink's FF capacity at once.
// Returns false if the sink had nothing to purge.
func purgeAllSlots(sink *SinkCtx) bool {
	if len(sink.slot) == 0 {
		return false
	}
	for k, id := range sink.slot {
		_ = sink.Dev.EraseFF(id)
		delete(sink.slot, k)
	}
	return true
}

// Erase removes a virtual effect from the source and every sink's slot
// table, erasing the corresponding kernel effect on each sink that has
// one.
func (r *Router) Erase(source *SourceCtx, virtualID int16) {
	key := SlotKey{SourceID: source.ID, VirtualEffectID: virtualID}
	source.Erase(virtualID)
	for _, sink := range r.sinkList() {
		sink.mu.Lock()
		if id, ok := sink.slot[key]; ok {
			_ = sink.Dev.EraseFF(id)
			delete(sink.slot, key)
		}
		sink.mu.Unlock()
	}
}

// Play writes the play/stop control event to every sink that has a slot
// uploaded for this virtual effect.
func (r *Router) Play(source *SourceCtx, virtualID int16, value int32) error {
	key := SlotKey{SourceID: source.ID, VirtualEffectID: virtualID}
	var lastErr error
	played := 0
	for _, sink := range r.sinkList() {
		sink.mu.Lock()
		id, ok := sink.slot[key]
		sink.mu.Unlock()
		if !ok {
			continue
		}
		if err := sink.Dev.PlayFF(id, value); err != nil {
			lastErr = err
			continue
		}
		played++
	}
	if played == 0 && lastErr != nil {
		return fmt.Errorf("haptics: play %s/%d: %w", source.ID, virtualID, lastErr)
	}
	return nil
}
