package supervisor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// ServerState wraps a *types.Server with the atomic per-operation-kind
// busy flags the design requires: "Idle → Running → Idle ... atomic
// compare-and-set on the per-kind busy flag; if the flag is already
// set, the request is rejected with already_in_progress." types.Server
// itself stores Busy as a plain map (documented there as needing a
// wrapper for concurrent access); ServerState is that wrapper.
type ServerState struct {
	Server *types.Server

	mu    sync.Mutex // guards Server's non-atomic timestamp fields only
	flags map[types.OperationKind]*atomic.Bool
}

// NewServerState wraps server with a fresh, all-idle flag set.
func NewServerState(server *types.Server) *ServerState {
	flags := make(map[types.OperationKind]*atomic.Bool, len(types.AllOperationKinds))
	for _, k := range types.AllOperationKinds {
		flags[k] = &atomic.Bool{}
	}
	return &ServerState{Server: server, flags: flags}
}

// TryAcquire attempts the Idle → Running transition for kind, atomically.
// It returns pgerrors.AlreadyInProgress if another operation of the same
// kind is already running for this server.
func (s *ServerState) TryAcquire(kind types.OperationKind) error {
	flag, ok := s.flags[kind]
	if !ok {
		return pgerrors.New(pgerrors.ConfigInvalid, "unknown operation kind")
	}
	if !flag.CompareAndSwap(false, true) {
		return pgerrors.New(pgerrors.AlreadyInProgress, "operation already in progress for this server")
	}
	return nil
}

// Release performs the Running → Idle transition for kind regardless of
// outcome, and records the operation timestamp — last-operation always,
// last-failed-operation only when success is false, 
// ("On Running → Idle regardless of outcome, the busy flag is cleared
// and last-operation and last-failed-operation timestamps updated").
func (s *ServerState) Release(kind types.OperationKind, success bool) {
	if flag, ok := s.flags[kind]; ok {
		flag.Store(false)
	}
	now := time.Now()
	s.mu.Lock()
	s.Server.LastOperation = now
	if !success {
		s.Server.LastFailedOp = now
	}
	s.mu.Unlock()
}

// Busy reports the current Running/Idle state for kind, for status/info
// responses.
func (s *ServerState) Busy(kind types.OperationKind) bool {
	flag, ok := s.flags[kind]
	return ok && flag.Load()
}

// Registry tracks one ServerState per configured server name.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*ServerState
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{servers: make(map[string]*ServerState)}
}

// Add registers server, replacing any prior state under the same name.
func (r *Registry) Add(server *types.Server) *ServerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := NewServerState(server)
	r.servers[server.Name] = st
	return st
}

// Get returns the ServerState for name, or ok=false if unconfigured.
func (r *Registry) Get(name string) (*ServerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.servers[name]
	return st, ok
}

// Remove drops name from the registry, e.g. on conf-reload removing a
// server section.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, name)
}

// Names returns every registered server name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.servers))
	for name := range r.servers {
		out = append(out, name)
	}
	return out
}
