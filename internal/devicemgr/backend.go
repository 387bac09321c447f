package devicemgr

import "context"

// Backend is the match/attach/detach plane for one transport family. Each
// dispatcher in internal/dispatch implements Backend for its transport.
// DeviceManager is the only caller.
type Backend interface {
	// Match resolves a declaration to a concrete device node / object
	// path. Returns "" with a nil error on a matching miss -- a matching
	// miss is silent, not an error.
	Match(ctx context.Context, decl InputDecl) (devnode string, err error)

	// Attach opens/grabs/registers the resolved device and returns its
	// live context. The context's FD (if any) must already be registered
	// with the reactor by the time Attach returns.
	Attach(ctx context.Context, devnode string, decl InputDecl) (*InputCtx, error)

	// Detach releases whatever Attach acquired (ungrab, close fd,
	// unregister from the reactor, StopNotify, etc).
	Detach(ctx context.Context, ictx *InputCtx) error
}
