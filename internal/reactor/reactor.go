// Package reactor implements the single epoll-based readiness loop every
// dispatcher shares: one owner-tagged payload per registered fd, dispatched
// back to exactly the handler that registered it.
//
// Grounded on golang.org/x/sys/unix's epoll wrappers (the same dependency
// sanjay900-VIIPER already carries) and on the fd-table-owns-a-slab shape
// common to reactor/poller implementations in the pack (e.g. the tnet
// kqueue poller); VIIPER itself has no epoll loop, since it is
// connection-per-goroutine rather than single-threaded reactor based.
package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Readiness is the readiness mask delivered to a Handler.
type Readiness struct {
	Readable bool
	HangUp   bool
	Err      bool
}

// Handler is implemented by dispatchers; HandleEvent is called with the
// owner-tagged payload that was registered for the ready fd.
type Handler interface {
	HandleEvent(payload any, r Readiness)
}

// entry is a slab slot. A stable index (not a pointer) is used as the
// epoll_event payload so that deregistration can never leave a dangling
// pointer live in the kernel's interest list.
type entry struct {
	fd      int
	handler Handler
	payload any
	alive   bool
}

// Reactor owns one epoll instance and the fd -> (handler, payload) table.
type Reactor struct {
	epfd int

	mu      sync.Mutex
	slab    []entry
	freeIdx []int
	byFD    map[int]int // fd -> slab index
}

// New creates a new Reactor backed by a fresh epoll instance.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &Reactor{
		epfd: epfd,
		byFD: make(map[int]int),
	}, nil
}

// Register attaches fd to the reactor with the given handler and payload,
// interested in readable + hangup + error, level-triggered.
func (r *Reactor) Register(fd int, handler Handler, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.allocSlot()
	r.slab[idx] = entry{fd: fd, handler: handler, payload: payload, alive: true}
	r.byFD[fd] = idx

	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLERR,
		Fd:     int32(idx),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		delete(r.byFD, fd)
		r.slab[idx] = entry{} // fd cleared so reclaimDead does not free it again
		r.freeIdx = append(r.freeIdx, idx)
		return fmt.Errorf("reactor: epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

func (r *Reactor) allocSlot() int {
	if n := len(r.freeIdx); n > 0 {
		idx := r.freeIdx[n-1]
		r.freeIdx = r.freeIdx[:n-1]
		return idx
	}
	r.slab = append(r.slab, entry{})
	return len(r.slab) - 1
}

// Unregister removes fd's interest from epoll immediately; the owner-tagged
// slab slot is marked dead but its index is not recycled until the next
// Run cycle completes, so that a handler deregistering its own fd from
// inside HandleEvent is always safe; the actual slot removal is deferred
// to the next cycle.
func (r *Reactor) Unregister(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byFD[fd]
	if !ok {
		return
	}
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(r.byFD, fd)
	r.slab[idx].alive = false
}

func (r *Reactor) reclaimDead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx := range r.slab {
		if !r.slab[idx].alive && r.slab[idx].fd != 0 {
			r.slab[idx] = entry{}
			r.freeIdx = append(r.freeIdx, idx)
		}
	}
}

// WaitOnce performs a single blocking epoll_wait with no timeout and
// dispatches readiness to each fd's owner. It retries transparently on
// EINTR. Returns the number of fds serviced.
func (r *Reactor) WaitOnce(events []unix.EpollEvent) (int, error) {
	n, err := unix.EpollWait(r.epfd, events, -1)
	for err == unix.EINTR {
		n, err = unix.EpollWait(r.epfd, events, -1)
	}
	if err != nil {
		return 0, fmt.Errorf("reactor: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		idx := int(events[i].Fd)

		r.mu.Lock()
		if idx < 0 || idx >= len(r.slab) || !r.slab[idx].alive {
			r.mu.Unlock()
			continue
		}
		e := r.slab[idx]
		r.mu.Unlock()

		ready := Readiness{
			Readable: events[i].Events&unix.EPOLLIN != 0,
			HangUp:   events[i].Events&unix.EPOLLHUP != 0,
			Err:      events[i].Events&unix.EPOLLERR != 0,
		}
		// Single-owner invariant: only e.handler may observe this fd's
		// readiness, and the reactor does not re-enter itself from
		// within HandleEvent.
		e.handler.HandleEvent(e.payload, ready)
	}

	r.reclaimDead()
	return n, nil
}

// Close releases the epoll instance. Callers must have already deregistered
// and closed every fd they own.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
