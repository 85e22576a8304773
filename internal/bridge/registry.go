package bridge

import (
	"sync"
)

// Registry tracks the bridges currently handling live calls, keyed by call
// SID. Bridges register once handshaking completes and deregister when the
// call finalizes.
type Registry struct {
	bridges map[string]*Bridge
	mu      sync.RWMutex
}

// NewRegistry creates an empty bridge registry
func NewRegistry() *Registry {
	return &Registry{
		bridges: make(map[string]*Bridge),
	}
}

// Add registers a live bridge under its call SID
func (r *Registry) Add(callSID string, b *Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[callSID] = b
}

// Remove deregisters a finished call
func (r *Registry) Remove(callSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bridges, callSID)
}

// Get returns the bridge for a live call, if any
func (r *Registry) Get(callSID string) (*Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bridges[callSID]
	return b, ok
}

// Count returns the number of live calls
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bridges)
}

// CallSIDs returns the SIDs of all live calls
func (r *Registry) CallSIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sids := make([]string, 0, len(r.bridges))
	for sid := range r.bridges {
		sids = append(sids, sid)
	}
	return sids
}
