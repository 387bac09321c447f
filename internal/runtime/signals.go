package runtime

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/aelkeyd/aelkeyd/internal/reactor"
)

// signalBridge turns HUP/INT/TERM into a reactor-driven shutdown
// request: set the shutdown flag and record the signal number, then
// after orderly cleanup re-raise the same signal with the default
// handler. It is a reactor.Handler over a signalfd rather than
// os/signal.Notify's goroutine+channel, to stay inside the
// single-threaded reactor loop.
type signalBridge struct {
	fd    int
	state *State
}

// newSignalBridge blocks HUP/INT/TERM from their default disposition and
// opens a signalfd that reads them instead. reraiseDefault unblocks a
// signal again before re-raising it (see Runtime.shutdown).
func newSignalBridge(state *State) (*signalBridge, error) {
	var set unix.Sigset_t
	for _, sig := range []unix.Signal{unix.SIGHUP, unix.SIGINT, unix.SIGTERM} {
		addSignal(&set, sig)
	}
	if err := unix.SigprocMask(unix.SIG_BLOCK, &set, nil); err != nil {
		return nil, fmt.Errorf("runtime: block signals: %w", err)
	}
	fd, err := unix.Signalfd(-1, &set, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("runtime: signalfd: %w", err)
	}
	return &signalBridge{fd: fd, state: state}, nil
}

// addSignal sets bit sig-1 in set, matching the kernel's sigset_t layout
// on amd64/arm64 (a single 64-bit word covers every signal aelkeyd cares
// about).
func addSignal(set *unix.Sigset_t, sig unix.Signal) {
	set.Val[(sig-1)/64] |= 1 << (uint(sig-1) % 64)
}

// FD returns the signalfd, for Register.
func (b *signalBridge) FD() int { return b.fd }

// HandleEvent implements reactor.Handler: every readable signalfd_siginfo
// record requests shutdown, recording the terminating signal so it can be
// re-raised after cleanup.
func (b *signalBridge) HandleEvent(payload any, r reactor.Readiness) {
	var buf [unix.SizeofSignalfdSiginfo]byte
	for {
		n, err := unix.Read(b.fd, buf[:])
		if err != nil || n != len(buf) {
			return
		}
		info := (*unix.SignalfdSiginfo)(unsafe.Pointer(&buf[0]))
		b.state.RequestShutdown(int(info.Signo))
	}
}

// Close releases the signalfd. It does not restore the blocked mask; that
// happens once, right before re-raising, in reraiseDefault.
func (b *signalBridge) Close() error {
	return unix.Close(b.fd)
}

// reraiseDefault unblocks sig and raises it again so a parent process or
// shell sees the expected exit status, matching the default handler's
// disposition. aelkeyd never installs a Go
// signal.Notify handler for these signals, so their disposition is still
// SIG_DFL; unblocking is all re-raising needs.
func reraiseDefault(sig int) error {
	if sig == 0 {
		return nil
	}
	s := unix.Signal(sig)
	var set unix.Sigset_t
	addSignal(&set, s)
	if err := unix.SigprocMask(unix.SIG_UNBLOCK, &set, nil); err != nil {
		return fmt.Errorf("runtime: unblock signal %d: %w", sig, err)
	}
	if err := unix.Kill(unix.Getpid(), s); err != nil {
		return fmt.Errorf("runtime: re-raise signal %d: %w", sig, err)
	}
	return nil
}
