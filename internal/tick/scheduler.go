// Package tick implements the TickScheduler: a dispatcher whose fds are
// periodic-timer fds, sharing the same reactor as every other transport
// dispatcher.
package tick

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aelkeyd/aelkeyd/internal/reactor"
)

// Callback is invoked when a tick fires. Exactly one of the three fields
// below is set, in preference order: native closure > bound script
// function > script global by name.
type Callback struct {
	Native func()
	Bound  ScriptFunc
	Global string

	OneShot bool

	// CallGlobal, if set, resolves and calls the named script
	// global. Supplied by the runtime so this package stays independent
	// of the script-host package.
	CallGlobal func(name string) error
}

// ScriptFunc is a bound script function value, an opaque
// interpreter-side reference the host stores on the callback's behalf.
type ScriptFunc interface {
	Invoke() error
}

func (c Callback) run(logf func(string, ...any)) {
	var err error
	switch {
	case c.Native != nil:
		c.Native()
		return
	case c.Bound != nil:
		err = c.Bound.Invoke()
	case c.Global != "" && c.CallGlobal != nil:
		err = c.CallGlobal(c.Global)
	}
	// Every callback is dispatched as a protected call: an error is
	// caught and logged rather than propagated into the reactor.
	if err != nil && logf != nil {
		logf("tick callback error", "error", err)
	}
}

// Key identifies a scheduled tick for replace/cancel purposes. Equality
// is by Go value equality, so function values must be compared by an
// app-supplied comparable key (e.g. a string) rather than the func value
// itself.
type Key any

type timer struct {
	fd  int
	key Key
	cb  Callback
}

// Scheduler owns every active tick timer and is itself a reactor.Handler.
type Scheduler struct {
	r *reactor.Reactor

	mu     sync.Mutex
	timers map[Key]*timer
	logf   func(string, ...any)
}

// New creates a Scheduler bound to r. logf (may be nil) receives callback
// errors for logging.
func New(r *reactor.Reactor, logf func(string, ...any)) *Scheduler {
	return &Scheduler{
		r:      r,
		timers: make(map[Key]*timer),
		logf:   logf,
	}
}

// Schedule creates a periodic timerfd (one-shot if cb.OneShot) for the
// given key, replacing any existing timer under the same key.
func (s *Scheduler) Schedule(key Key, interval time.Duration, cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[key]; ok {
		s.cancelLocked(existing)
	}

	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("tick: timerfd_create: %w", err)
	}

	spec := itimerspecFor(interval, cb.OneShot)
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return fmt.Errorf("tick: timerfd_settime: %w", err)
	}

	t := &timer{fd: fd, key: key, cb: cb}
	if err := s.r.Register(fd, s, t); err != nil {
		unix.Close(fd)
		return fmt.Errorf("tick: register: %w", err)
	}
	s.timers[key] = t
	return nil
}

func itimerspecFor(interval time.Duration, oneShot bool) unix.ItimerSpec {
	ns := interval.Nanoseconds()
	if ns <= 0 {
		ns = 1
	}
	val := unix.NsecToTimespec(ns)
	spec := unix.ItimerSpec{Value: val}
	if !oneShot {
		spec.Interval = val
	}
	return spec
}

// HandleEvent implements reactor.Handler. It is called with the *timer
// payload registered in Schedule.
func (s *Scheduler) HandleEvent(payload any, r reactor.Readiness) {
	t, ok := payload.(*timer)
	if !ok {
		return
	}
	if r.HangUp || r.Err {
		s.CancelMatching(t.key)
		return
	}

	var buf [8]byte
	if _, err := unix.Read(t.fd, buf[:]); err != nil {
		return
	}

	if t.cb.OneShot {
		s.CancelMatching(t.key)
	}
	t.cb.run(s.logf)
}

// CancelMatching removes every timer whose key equals the provided one.
func (s *Scheduler) CancelMatching(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		s.cancelLocked(t)
	}
}

func (s *Scheduler) cancelLocked(t *timer) {
	s.r.Unregister(t.fd)
	unix.Close(t.fd)
	delete(s.timers, t.key)
}

// CancelAll unregisters every timer fd.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		s.cancelLocked(t)
	}
}

// Count returns the number of active timers.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Tick implements the script-facing tick(ms, cb) call: ms==0 with no
// callback cancels all; ms==0 with a callback cancels that one;
// otherwise schedules a repeating timer under key.
func (s *Scheduler) Tick(key Key, ms int, cb *Callback) error {
	if ms == 0 {
		if cb == nil {
			s.CancelAll()
		} else {
			s.CancelMatching(key)
		}
		return nil
	}
	if cb == nil {
		return fmt.Errorf("tick: ms != 0 requires a callback")
	}
	return s.Schedule(key, time.Duration(ms)*time.Millisecond, *cb)
}
