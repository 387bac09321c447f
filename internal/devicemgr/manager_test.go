package devicemgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a minimal Backend that always matches and attaches, used
// to exercise DeviceManager's own bookkeeping in isolation from any real
// transport.
type fakeBackend struct {
	detached []string
}

func (b *fakeBackend) Match(ctx context.Context, decl InputDecl) (string, error) {
	return "/fake/" + decl.ID, nil
}

func (b *fakeBackend) Attach(ctx context.Context, devnode string, decl InputDecl) (*InputCtx, error) {
	return NewInputCtx(decl, devnode), nil
}

func (b *fakeBackend) Detach(ctx context.Context, ictx *InputCtx) error {
	b.detached = append(b.detached, ictx.Decl.ID)
	return nil
}

func TestDeviceManagerAttachRejectsDuplicateID(t *testing.T) {
	dm := New()
	backend := &fakeBackend{}
	dm.RegisterBackend(TransportEvdev, backend, nil)

	decl := InputDecl{ID: "pad0", Type: TransportEvdev}
	ctx := context.Background()

	ictx, err := dm.Attach(ctx, "/dev/input/event0", decl)
	require.NoError(t, err)
	require.NotNil(t, ictx)
	assert.Equal(t, 1, dm.Count())

	_, err = dm.Attach(ctx, "/dev/input/event0", decl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already attached")
	assert.Equal(t, 1, dm.Count(), "rejected duplicate attach must not change attached count")
}

func TestDeviceManagerDetachRemovesFromRegistries(t *testing.T) {
	dm := New()
	backend := &fakeBackend{}
	dm.RegisterBackend(TransportEvdev, backend, nil)
	ctx := context.Background()
	decl := InputDecl{ID: "pad0", Type: TransportEvdev}

	_, err := dm.Attach(ctx, "/dev/input/event0", decl)
	require.NoError(t, err)

	require.NoError(t, dm.Detach(ctx, "pad0"))
	assert.Equal(t, 0, dm.Count())
	assert.Equal(t, []string{"pad0"}, backend.detached)

	_, ok := dm.Get("pad0")
	assert.False(t, ok)
	_, ok = dm.Frame("pad0")
	assert.False(t, ok)
}

func TestDeviceManagerAttachUnknownTransport(t *testing.T) {
	dm := New()
	_, err := dm.Attach(context.Background(), "/dev/input/event0", InputDecl{ID: "x", Type: TransportGatt})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backend registered")
}

func TestDeviceManagerByDevnode(t *testing.T) {
	dm := New()
	backend := &fakeBackend{}
	dm.RegisterBackend(TransportEvdev, backend, nil)
	ctx := context.Background()
	decl := InputDecl{ID: "pad0", Type: TransportEvdev}

	_, err := dm.Attach(ctx, "/dev/input/event0", decl)
	require.NoError(t, err)

	id, ok := dm.ByDevnode("/dev/input/event0")
	require.True(t, ok)
	assert.Equal(t, "pad0", id)

	_, ok = dm.ByDevnode("/dev/input/nonexistent")
	assert.False(t, ok)
}

func evt(typ, code uint16, value int32) RawEvent {
	return RawEvent{Type: typ, Code: code, Value: value}
}

func synReport() RawEvent { return RawEvent{Type: 0, Code: 0, Value: 0} }

func TestFrameBufferFlushesOnSynReport(t *testing.T) {
	var fb FrameBuffer

	assert.False(t, fb.Push(evt(1, 1, 1)))
	assert.False(t, fb.Push(evt(1, 2, 1)))
	assert.Equal(t, 2, fb.Len())

	assert.True(t, fb.Push(synReport()), "SYN_REPORT must signal flush")
	assert.Equal(t, 3, fb.Len(), "SYN_REPORT itself is part of the drained batch")

	frame := fb.Drain()
	require.Len(t, frame, 3)
	assert.True(t, frame[len(frame)-1].IsSynReport(), "SYN_REPORT must be the last event in the batch")
	assert.Equal(t, 0, fb.Len(), "buffer must be empty immediately after Drain")
}

func TestFrameBufferDrainWithoutSynReport(t *testing.T) {
	var fb FrameBuffer
	fb.Push(evt(1, 1, 1))
	fb.Push(evt(1, 2, 1))

	frame := fb.Drain()
	assert.Len(t, frame, 2)
	assert.Equal(t, 0, fb.Len())
}

func TestFrameBufferDrainEmptyIsSafe(t *testing.T) {
	var fb FrameBuffer
	assert.Empty(t, fb.Drain())
	assert.Equal(t, 0, fb.Len())
}
