package runtime

import (
	"sync"

	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
)

// State is the process-wide declaration registry: declared
// inputs/outputs, the lifecycle-only watch table, and the shutdown flag.
// The live input_map/frame/haptics registries themselves live in
// devicemgr.DeviceManager and internal/haptics; State only tracks what the
// script declared and what it asked to watch.
type State struct {
	mu sync.Mutex

	inputs  map[string]devicemgr.InputDecl
	outputs map[string]devicemgr.OutputDecl

	// watch maps an opaque observer reference to the extra declarations it
	// asked to be notified about without bridging their events.
	watch map[string][]devicemgr.InputDecl

	shutdown   bool
	termSignal int
}

func newState() *State {
	return &State{
		inputs:  make(map[string]devicemgr.InputDecl),
		outputs: make(map[string]devicemgr.OutputDecl),
		watch:   make(map[string][]devicemgr.InputDecl),
	}
}

// DeclareInput registers an input declaration, created on script load.
// A duplicate id is a declaration error.
func (s *State) DeclareInput(d devicemgr.InputDecl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inputs[d.ID]; exists {
		return errDuplicateDecl("input", d.ID)
	}
	s.inputs[d.ID] = d
	return nil
}

func (s *State) DeclareOutput(d devicemgr.OutputDecl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.outputs[d.ID]; exists {
		return errDuplicateDecl("output", d.ID)
	}
	s.outputs[d.ID] = d
	return nil
}

func (s *State) Input(id string) (devicemgr.InputDecl, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.inputs[id]
	return d, ok
}

func (s *State) Output(id string) (devicemgr.OutputDecl, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.outputs[id]
	return d, ok
}

// Inputs returns a snapshot of every declared input.
func (s *State) Inputs() []devicemgr.InputDecl {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]devicemgr.InputDecl, 0, len(s.inputs))
	for _, d := range s.inputs {
		out = append(out, d)
	}
	return out
}

func (s *State) Outputs() []devicemgr.OutputDecl {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]devicemgr.OutputDecl, 0, len(s.outputs))
	for _, d := range s.outputs {
		out = append(out, d)
	}
	return out
}

// Watch adds ref's extra watched declarations.
func (s *State) Watch(ref string, decls []devicemgr.InputDecl) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watch[ref] = decls
}

// Unwatch removes ref's watched declarations.
func (s *State) Unwatch(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watch, ref)
}

// AllMatchable returns every declared input plus every watched input,
// de-duplicated by id; this is the set the hot-plug dispatcher re-matches
// on every add event, covering the full declaration set rather than just
// bridged inputs.
func (s *State) AllMatchable() []devicemgr.InputDecl {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(s.inputs))
	out := make([]devicemgr.InputDecl, 0, len(s.inputs))
	for _, d := range s.inputs {
		seen[d.ID] = true
		out = append(out, d)
	}
	for _, decls := range s.watch {
		for _, d := range decls {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			out = append(out, d)
		}
	}
	return out
}

// RequestShutdown sets the shutdown flag and records the terminating
// signal (0 = none, e.g. a script-initiated stop). Idempotent.
func (s *State) RequestShutdown(sig int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if sig != 0 {
		s.termSignal = sig
	}
}

func (s *State) ShuttingDown() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown, s.termSignal
}

type declError struct {
	kind, id string
}

func (e declError) Error() string {
	return "runtime: duplicate " + e.kind + " id " + e.id
}

func errDuplicateDecl(kind, id string) error { return declError{kind: kind, id: id} }
