package tick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelkeyd/aelkeyd/internal/reactor"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	r, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return New(r, nil)
}

func TestScheduleSameKeyReplacesRatherThanAccumulates(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Schedule("foo", 100*time.Millisecond, Callback{Native: func() {}}))
	assert.Equal(t, 1, s.Count())

	require.NoError(t, s.Schedule("foo", 50*time.Millisecond, Callback{Native: func() {}}))
	// Re-scheduling the same key must replace the existing timer, never
	// leave two timers alive under one key.
	assert.Equal(t, 1, s.Count())
}

func TestTickZeroWithCallbackCancelsMatchingKey(t *testing.T) {
	s := newTestScheduler(t)
	cb := Callback{Native: func() {}}

	require.NoError(t, s.Tick("foo", 100, &cb))
	require.NoError(t, s.Schedule("bar", 100*time.Millisecond, cb))
	require.Equal(t, 2, s.Count())

	require.NoError(t, s.Tick("foo", 0, &cb))
	assert.Equal(t, 1, s.Count(), "tick(0, cb) under an existing key must cancel only that key")
}

func TestTickZeroWithNilCallbackCancelsAll(t *testing.T) {
	s := newTestScheduler(t)
	cb := Callback{Native: func() {}}

	require.NoError(t, s.Schedule("foo", 100*time.Millisecond, cb))
	require.NoError(t, s.Schedule("bar", 100*time.Millisecond, cb))
	require.Equal(t, 2, s.Count())

	require.NoError(t, s.Tick("foo", 0, nil))
	assert.Equal(t, 0, s.Count(), "tick(0, nil) must cancel every active timer")
}

func TestTickNonZeroWithoutCallbackErrors(t *testing.T) {
	s := newTestScheduler(t)
	err := s.Tick("foo", 100, nil)
	assert.Error(t, err)
}

func TestCancelMatchingUnknownKeyIsNoop(t *testing.T) {
	s := newTestScheduler(t)
	s.CancelMatching("nonexistent")
	assert.Equal(t, 0, s.Count())
}

func TestCancelAllReleasesEveryTimer(t *testing.T) {
	s := newTestScheduler(t)
	cb := Callback{Native: func() {}}
	require.NoError(t, s.Schedule("a", 100*time.Millisecond, cb))
	require.NoError(t, s.Schedule("b", 100*time.Millisecond, cb))
	require.NoError(t, s.Schedule("c", 100*time.Millisecond, cb))
	require.Equal(t, 3, s.Count())

	s.CancelAll()
	assert.Equal(t, 0, s.Count())
}
