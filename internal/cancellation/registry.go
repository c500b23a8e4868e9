// Package cancellation tracks in-flight streams and their stop requests.
package cancellation

import (
	"sort"
	"sync"
)

type entry struct {
	owner string
	stop  bool
}

// Registry maps stream IDs to a stop flag. All methods are safe for
// concurrent use; the zero value is not usable, call NewRegistry.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*entry)}
}

// Register records a stream with a cleared stop flag. Registering an ID
// that is already active resets its flag.
func (r *Registry) Register(streamID, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streams[streamID] = &entry{owner: owner}
}

// RequestStop sets the stop flag and reports whether the stream was active.
func (r *Registry) RequestStop(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.streams[streamID]
	if !ok {
		return false
	}
	e.stop = true
	return true
}

// StopRequested is false for unknown streams.
func (r *Registry) StopRequested(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.streams[streamID]
	return ok && e.stop
}

func (r *Registry) Unregister(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.streams, streamID)
}

// Owner returns the caller that registered the stream.
func (r *Registry) Owner(streamID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.streams[streamID]
	if !ok {
		return "", false
	}
	return e.owner, true
}

// Active lists registered stream IDs in sorted order.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
