package haptics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelkeyd/aelkeyd/internal/kernelio"
)

type fakeSink struct {
	capacity int
	uploaded map[int16]kernelio.FFEffect
	next     int16
	erased   []int16
	played   []int32
}

func newFakeSink(capacity int) *fakeSink {
	return &fakeSink{capacity: capacity, uploaded: make(map[int16]kernelio.FFEffect)}
}

func (f *fakeSink) UploadFF(eff *kernelio.FFEffect) (int16, error) {
	if eff.ID >= 0 {
		f.uploaded[eff.ID] = *eff
		return eff.ID, nil
	}
	if len(f.uploaded) >= f.capacity {
		return 0, kernelio.ErrNoSpace
	}
	id := f.next
	f.next++
	eff.ID = id
	f.uploaded[id] = *eff
	return id, nil
}

func (f *fakeSink) EraseFF(id int16) error {
	delete(f.uploaded, id)
	f.erased = append(f.erased, id)
	return nil
}

func (f *fakeSink) PlayFF(id int16, value int32) error {
	if _, ok := f.uploaded[id]; !ok {
		return assertErr("unknown effect id")
	}
	f.played = append(f.played, value)
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestRouterPropagateFanOut(t *testing.T) {
	router := NewRouter()
	sinkA := newFakeSink(4)
	sinkB := newFakeSink(4)
	router.AddSink(NewSinkCtx("a", sinkA))
	router.AddSink(NewSinkCtx("b", sinkB))

	source := NewSourceCtx("game")
	vid := source.Upload(EffectRecord{Kind: KindRumble, Strong: 0x8000, Weak: 0x2000})
	router.Propagate(source, vid)

	assert.Len(t, sinkA.uploaded, 1)
	assert.Len(t, sinkB.uploaded, 1)
}

func TestRouterNoSpacePurgeRetry(t *testing.T) {
	router := NewRouter()
	sink := newFakeSink(1)
	router.AddSink(NewSinkCtx("only", sink))

	source := NewSourceCtx("game")
	first := source.Upload(EffectRecord{Kind: KindRumble, Strong: 1, Weak: 1})
	router.Propagate(source, first)
	require.Len(t, sink.uploaded, 1)

	second := source.Upload(EffectRecord{Kind: KindRumble, Strong: 2, Weak: 2})
	router.Propagate(source, second)

	// capacity 1: the global purge erases the sink's only slot to make
	// room for the second upload. See TestRouterNoSpacePurgeIsWholesale
	// for proof the purge is global rather than a single eviction --
	// capacity 1 can't distinguish the two.
	assert.Len(t, sink.uploaded, 1)
	assert.Len(t, sink.erased, 1)
}

func TestRouterNoSpacePurgeIsWholesale(t *testing.T) {
	router := NewRouter()
	sink := newFakeSink(3)
	router.AddSink(NewSinkCtx("only", sink))

	source := NewSourceCtx("game")
	for i := 0; i < 3; i++ {
		vid := source.Upload(EffectRecord{Kind: KindRumble, Strong: uint16(i + 1), Weak: uint16(i + 1)})
		router.Propagate(source, vid)
	}
	require.Len(t, sink.uploaded, 3)

	overflow := source.Upload(EffectRecord{Kind: KindRumble, Strong: 9, Weak: 9})
	router.Propagate(source, overflow)

	// A wholesale purge erases all 3 pre-existing slots, then the retry
	// uploads exactly 1 new effect -- never 2 or 3 survivors, which is
	// what a single-slot-eviction policy would have left behind.
	assert.Len(t, sink.erased, 3)
	assert.Len(t, sink.uploaded, 1)
}

func TestRouterPlayOnlyReachesUploadedSinks(t *testing.T) {
	router := NewRouter()
	sink := newFakeSink(4)
	router.AddSink(NewSinkCtx("only", sink))

	source := NewSourceCtx("game")
	vid := source.Upload(EffectRecord{Kind: KindConstant, Level: 100})
	// Play before Propagate: no slot exists anywhere, so Play is a no-op
	// and must not error (nothing to play is not failure).
	require.NoError(t, router.Play(source, vid, 1))

	router.Propagate(source, vid)
	require.NoError(t, router.Play(source, vid, 1))
	assert.Equal(t, []int32{1}, sink.played)
}

func TestNormalizeFromKernelUnknownFallsBackToRumble(t *testing.T) {
	eff := kernelio.FFEffect{Type: 0xFF, Direction: 42}
	rec := NormalizeFromKernel(eff)
	assert.Equal(t, KindRumble, rec.Kind)
	assert.EqualValues(t, fallbackMagnitude, rec.Strong)
	assert.EqualValues(t, fallbackMagnitude, rec.Weak)
	assert.EqualValues(t, fallbackLengthMS, rec.Replay.Length)
	assert.EqualValues(t, 42, rec.Direction)
}

func TestNormalizeFromKernelRumbleRoundTrip(t *testing.T) {
	eff := kernelio.FFEffect{
		Type:   kernelio.FF_RUMBLE,
		Rumble: kernelio.Rumble{StrongMagnitude: 0x1234, WeakMagnitude: 0x5678},
	}
	rec := NormalizeFromKernel(eff)
	require.Equal(t, KindRumble, rec.Kind)
	back := rec.ToKernel()
	assert.Equal(t, eff.Rumble, back.Rumble)
	assert.Equal(t, uint16(kernelio.FF_RUMBLE), back.Type)
}
