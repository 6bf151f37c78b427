package container

import (
	"sort"
	"sync"

	"github.com/elliotchance/orderedmap"
)

// Deque is an insertion-ordered, optionally thread-safe double-ended
// queue of string-keyed Values. It is a thin, safety-hardened wrapper
// around github.com/elliotchance/orderedmap: the wrapping adds the
// destructor discipline from value.go (orderedmap itself knows nothing
// about Value's ownership semantics) plus an optional mutex for the
// run-context uses that are shared across workflow stages running in
// different worker-pool goroutines.
type Deque struct {
	mu       sync.Mutex
	threaded bool
	m        *orderedmap.OrderedMap
}

// NewDeque builds an empty Deque. threadSafe enables internal locking;
// callers that already serialize access (e.g. a single stage's setup)
// may pass false to skip the lock overhead.
func NewDeque(threadSafe bool) *Deque {
	return &Deque{threaded: threadSafe, m: orderedmap.NewOrderedMap()}
}

func (d *Deque) lock() {
	if d.threaded {
		d.mu.Lock()
	}
}

func (d *Deque) unlock() {
	if d.threaded {
		d.mu.Unlock()
	}
}

// PushBack inserts or overwrites key with value. If a Value already sits
// at key, its destructor runs before being replaced — exactly once, per
// the container-wide deletion contract.
func (d *Deque) PushBack(key string, value Value) {
	d.lock()
	defer d.unlock()
	if old, ok := d.m.Get(key); ok {
		if ov, ok := old.(Value); ok {
			ov.Destroy()
		}
	}
	d.m.Set(key, value)
}

// Get returns the Value at key and whether it was present.
func (d *Deque) Get(key string) (Value, bool) {
	d.lock()
	defer d.unlock()
	v, ok := d.m.Get(key)
	if !ok {
		return Value{}, false
	}
	return v.(Value), true
}

// Remove deletes key, running its destructor if present. Safe to call
// while a Range is in progress (the caller holding the Range callback
// may call Remove on the current or an already-visited key).
func (d *Deque) Remove(key string) {
	d.lock()
	defer d.unlock()
	if old, ok := d.m.Get(key); ok {
		if ov, ok := old.(Value); ok {
			ov.Destroy()
		}
		d.m.Delete(key)
	}
}

// Len returns the number of entries.
func (d *Deque) Len() int {
	d.lock()
	defer d.unlock()
	return d.m.Len()
}

// Keys returns keys in insertion order.
func (d *Deque) Keys() []string {
	d.lock()
	defer d.unlock()
	raw := d.m.Keys()
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		out = append(out, k.(string))
	}
	return out
}

// Range visits entries in insertion order. The callback may call Remove
// on the Deque without corrupting iteration: Range snapshots the key
// list up front, then re-checks presence before invoking fn for each.
// Returning false from fn stops iteration early.
func (d *Deque) Range(fn func(key string, value Value) bool) {
	for _, key := range d.Keys() {
		v, ok := d.Get(key)
		if !ok {
			continue // removed mid-iteration
		}
		if !fn(key, v) {
			return
		}
	}
}

// Clear destroys every entry's Value exactly once, then empties the
// deque. Used when a run context's scope ends.
func (d *Deque) Clear() {
	d.lock()
	defer d.unlock()
	for _, k := range d.m.Keys() {
		if v, ok := d.m.Get(k); ok {
			if ov, ok := v.(Value); ok {
				ov.Destroy()
			}
		}
	}
	d.m = orderedmap.NewOrderedMap()
}

// SortByKey performs a stable sort of the deque's entries by key,
// rebuilding insertion order to match. Stable: entries that compare
// equal keep their relative order (not reachable for unique string keys,
// but the property holds by construction via sort.SliceStable).
func (d *Deque) SortByKey(less func(a, b string) bool) {
	d.lock()
	defer d.unlock()

	type kv struct {
		k string
		v Value
	}
	raw := d.m.Keys()
	entries := make([]kv, 0, len(raw))
	for _, k := range raw {
		key := k.(string)
		v, _ := d.m.Get(key)
		entries = append(entries, kv{key, v.(Value)})
	}

	sort.SliceStable(entries, func(i, j int) bool { return less(entries[i].k, entries[j].k) })

	rebuilt := orderedmap.NewOrderedMap()
	for _, e := range entries {
		rebuilt.Set(e.k, e.v)
	}
	d.m = rebuilt
}
