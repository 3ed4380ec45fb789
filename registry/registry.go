package registry

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/jsbridge/errors"
)

// Registry is a concurrent ID -> T table with monotonically increasing IDs.
type Registry[T any] struct {
	entries   map[ID]T
	name      string
	observers []Observer
	next      ID
	inserted  uint64
	removed   uint64
	mu        sync.Mutex
	obsMu     sync.RWMutex
}

var _ Source = (*Registry[int])(nil)

// New creates an empty registry. The name labels logs and metrics.
func New[T any](name string) *Registry[T] {
	return &Registry[T]{
		entries: make(map[ID]T),
		name:    name,
		next:    1,
	}
}

// Name returns the registry name.
func (r *Registry[T]) Name() string {
	return r.name
}

// Insert stores v under a fresh ID.
// Panics if the ID space is exhausted.
func (r *Registry[T]) Insert(v T) ID {
	r.mu.Lock()
	id := r.next
	if id == math.MaxUint64 {
		r.mu.Unlock()
		panic(errors.New(errors.PhaseRegistry, errors.KindBridgeInternal).
			Detail("registry %q exhausted its id space", r.name).
			Build())
	}
	r.next++
	r.entries[id] = v
	r.inserted++
	r.mu.Unlock()

	Logger().Debug("registry insert", zap.String("registry", r.name), zap.Uint64("id", uint64(id)))
	r.notify(Event{Type: EventInserted, Registry: r.name, ID: id, Value: v})
	return id
}

// Lookup returns the value stored under id.
func (r *Registry[T]) Lookup(id ID) (T, bool) {
	r.mu.Lock()
	v, ok := r.entries[id]
	r.mu.Unlock()
	return v, ok
}

// Remove deletes id and returns its value.
func (r *Registry[T]) Remove(id ID) (T, bool) {
	r.mu.Lock()
	v, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		r.removed++
	}
	r.mu.Unlock()

	if !ok {
		return v, false
	}
	Logger().Debug("registry remove", zap.String("registry", r.name), zap.Uint64("id", uint64(id)))
	r.notify(Event{Type: EventRemoved, Registry: r.name, ID: id, Value: v})
	return v, true
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stats returns live, inserted and removed counts.
func (r *Registry[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Live:     len(r.entries),
		Inserted: r.inserted,
		Removed:  r.removed,
	}
}

// Each calls fn for a snapshot of the entries, stopping when fn returns false.
// fn runs without the lock held and may call back into the registry.
func (r *Registry[T]) Each(fn func(ID, T) bool) {
	r.mu.Lock()
	ids := make([]ID, 0, len(r.entries))
	vals := make([]T, 0, len(r.entries))
	for id, v := range r.entries {
		ids = append(ids, id)
		vals = append(vals, v)
	}
	r.mu.Unlock()

	for i := range ids {
		if !fn(ids[i], vals[i]) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (r *Registry[T]) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry[T]) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, o := range r.observers {
		o.OnRegistryEvent(e)
	}
}
