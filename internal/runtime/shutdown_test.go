package runtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
	"github.com/aelkeyd/aelkeyd/internal/reactor"
	"github.com/aelkeyd/aelkeyd/internal/tick"
)

// newPipePair returns both ends of a fresh os.Pipe as raw fds (read end
// first); the read end stands in for a device fd a Backend would
// otherwise open against real hardware.
func newPipePair() ([2]int, error) {
	read, write, err := os.Pipe()
	if err != nil {
		return [2]int{}, err
	}
	return [2]int{int(read.Fd()), int(write.Fd())}, nil
}

// fakeShutdownBackend is a devicemgr.Backend that registers a real pipe fd
// with the reactor on Attach and unregisters it on Detach, so shutdown's
// "every fd is deregistered" property can be exercised against the real
// reactor without any kernel device.
type fakeShutdownBackend struct {
	r         *reactor.Reactor
	detachFDs []int
}

type shutdownHandler struct{}

func (shutdownHandler) HandleEvent(payload any, r reactor.Readiness) {}

func (b *fakeShutdownBackend) Match(ctx context.Context, decl devicemgr.InputDecl) (string, error) {
	return "/fake/" + decl.ID, nil
}

func (b *fakeShutdownBackend) Attach(ctx context.Context, devnode string, decl devicemgr.InputDecl) (*devicemgr.InputCtx, error) {
	ictx := devicemgr.NewInputCtx(decl, devnode)
	fds, err := newPipePair()
	if err != nil {
		return nil, err
	}
	ictx.FD = fds[0]
	if err := b.r.Register(fds[0], shutdownHandler{}, nil); err != nil {
		return nil, err
	}
	return ictx, nil
}

func (b *fakeShutdownBackend) Detach(ctx context.Context, ictx *devicemgr.InputCtx) error {
	b.r.Unregister(ictx.FD)
	b.detachFDs = append(b.detachFDs, ictx.FD)
	return nil
}

// TestShutdownSequenceReleasesEveryResource exercises the same ordering
// Runtime.shutdown uses -- cancel every tick, detach every input, close the
// reactor -- composed directly from the primitives shutdown calls, proving
// each leaves its registry empty without requiring a live signalfd/udev
// watcher the way a full Runtime does.
func TestShutdownSequenceReleasesEveryResource(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	ticks := tick.New(r, nil)
	require.NoError(t, ticks.Schedule("a", 50*time.Millisecond, tick.Callback{Native: func() {}}))
	require.NoError(t, ticks.Schedule("b", 50*time.Millisecond, tick.Callback{Native: func() {}}))

	dm := devicemgr.New()
	backend := &fakeShutdownBackend{r: r}
	dm.RegisterBackend(devicemgr.TransportEvdev, backend, nil)

	ctx := context.Background()
	_, err = dm.Attach(ctx, "/dev/input/event0", devicemgr.InputDecl{ID: "pad0", Type: devicemgr.TransportEvdev})
	require.NoError(t, err)
	_, err = dm.Attach(ctx, "/dev/input/event1", devicemgr.InputDecl{ID: "pad1", Type: devicemgr.TransportEvdev})
	require.NoError(t, err)
	require.Equal(t, 2, dm.Count())

	ticks.CancelAll()
	for id := range dm.All() {
		require.NoError(t, dm.Detach(ctx, id))
	}

	assert.Equal(t, 0, ticks.Count(), "every tick must be deregistered after shutdown")
	assert.Equal(t, 0, dm.Count(), "input_map must be empty after shutdown")
	assert.Len(t, backend.detachFDs, 2, "every attached fd must go through Detach")
}
