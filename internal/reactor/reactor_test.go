package reactor

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type recordingHandler struct {
	calls []any
}

func (h *recordingHandler) HandleEvent(payload any, r Readiness) {
	h.calls = append(h.calls, payload)
}

func TestReactorDeliversReadinessToOwningHandler(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	readA, writeA, err := os.Pipe()
	require.NoError(t, err)
	defer readA.Close()
	defer writeA.Close()

	readB, writeB, err := os.Pipe()
	require.NoError(t, err)
	defer readB.Close()
	defer writeB.Close()

	ownerA := &recordingHandler{}
	ownerB := &recordingHandler{}
	require.NoError(t, r.Register(int(readA.Fd()), ownerA, "a"))
	require.NoError(t, r.Register(int(readB.Fd()), ownerB, "b"))

	_, err = writeA.Write([]byte("x"))
	require.NoError(t, err)

	events := make([]unix.EpollEvent, 8)
	n, err := r.WaitOnce(events)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Only the owner of the fd that became readable observes it -- the
	// single-owner invariant a reactor must hold when fds from different
	// dispatchers are multiplexed on one epoll instance.
	assert.Equal(t, []any{"a"}, ownerA.calls)
	assert.Empty(t, ownerB.calls)
}

func TestReactorUnregisterStopsDelivery(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	readA, writeA, err := os.Pipe()
	require.NoError(t, err)
	defer readA.Close()
	defer writeA.Close()

	owner := &recordingHandler{}
	require.NoError(t, r.Register(int(readA.Fd()), owner, "a"))
	r.Unregister(int(readA.Fd()))

	_, err = writeA.Write([]byte("x"))
	require.NoError(t, err)

	// A non-blocking drain: register a second, always-ready fd so WaitOnce
	// has something to return on even though the unregistered fd is no
	// longer in the interest list.
	readC, writeC, err := os.Pipe()
	require.NoError(t, err)
	defer readC.Close()
	defer writeC.Close()
	_, err = writeC.Write([]byte("y"))
	require.NoError(t, err)

	sentinel := &recordingHandler{}
	require.NoError(t, r.Register(int(readC.Fd()), sentinel, "c"))

	events := make([]unix.EpollEvent, 8)
	_, err = r.WaitOnce(events)
	require.NoError(t, err)

	assert.Empty(t, owner.calls, "unregistered fd must not deliver readiness")
	assert.Equal(t, []any{"c"}, sentinel.calls)
}
