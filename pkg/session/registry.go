package session

import (
	"errors"
	"sync"
)

// ErrRegistryFull is returned when every registry entry is in use.
var ErrRegistryFull = errors.New("stream registry full")

// NoStream is the stream index of workers not bound to a stream.
const NoStream = -1

type streamEntry struct {
	id     WorkerID
	stream int
	used   bool
}

// Registry maps worker identities to the stream index they serve. It is a
// lookup table only: it never starts, stops or waits on anything.
type Registry struct {
	mu      sync.Mutex
	entries []streamEntry
}

// NewRegistry creates a registry holding at most capacity workers.
func NewRegistry(capacity int) *Registry {
	return &Registry{entries: make([]streamEntry, capacity)}
}

// Register binds id to stream, replacing any previous binding for id.
func (r *Registry) Register(id WorkerID, stream int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	free := -1
	for i := range r.entries {
		e := &r.entries[i]
		if e.used && e.id == id {
			e.stream = stream
			return nil
		}
		if !e.used && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return ErrRegistryFull
	}
	r.entries[free] = streamEntry{id: id, stream: stream, used: true}
	return nil
}

// Unregister removes id. Unknown ids are ignored.
func (r *Registry) Unregister(id WorkerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].used && r.entries[i].id == id {
			r.entries[i] = streamEntry{}
			return
		}
	}
}

// IndexOf returns the stream index bound to id.
func (r *Registry) IndexOf(id WorkerID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.used && e.id == id {
			return e.stream, true
		}
	}
	return NoStream, false
}

// CountDistinctActive returns how many different streams have at least one
// registered worker.
func (r *Registry) CountDistinctActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int]struct{}, len(r.entries))
	for _, e := range r.entries {
		if e.used && e.stream != NoStream {
			seen[e.stream] = struct{}{}
		}
	}
	return len(seen)
}
