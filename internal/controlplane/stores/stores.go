package stores

import (
	"sort"
	"sync"
)

// Table is an in-memory, lock-guarded collection keyed by id. It is the only
// state holder in the control plane: every component owns its tables and never
// hands the underlying map to callers. Values are copied on the way in and out
// through the clone function so readers never alias a record a writer is mutating.
//
// Nothing here is durable; the contents are lost when the process exits.
type Table[V any] struct {
	mu      sync.RWMutex
	rows    map[string]*row[V]
	nextSeq uint64
	clone   func(V) V
}

type row[V any] struct {
	seq uint64
	val V
}

// New returns an empty table. clone may be nil when V holds no reference types.
func New[V any](clone func(V) V) *Table[V] {
	if clone == nil {
		clone = func(v V) V { return v }
	}
	return &Table[V]{rows: make(map[string]*row[V]), clone: clone}
}

// Get returns a copy of the value stored under id.
func (t *Table[V]) Get(id string) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rows[id]
	if !ok {
		var zero V
		return zero, false
	}
	return t.clone(r.val), true
}

// Put stores v under id, replacing any previous value while keeping its
// original insertion position.
func (t *Table[V]) Put(id string, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rows[id]; ok {
		r.val = t.clone(v)
		return
	}
	t.nextSeq++
	t.rows[id] = &row[V]{seq: t.nextSeq, val: t.clone(v)}
}

// Insert stores v under id only if id is free. It reports whether it did.
func (t *Table[V]) Insert(id string, v V) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; ok {
		return false
	}
	t.nextSeq++
	t.rows[id] = &row[V]{seq: t.nextSeq, val: t.clone(v)}
	return true
}

// Delete removes id and returns the removed value.
func (t *Table[V]) Delete(id string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[id]
	if !ok {
		var zero V
		return zero, false
	}
	delete(t.rows, id)
	return r.val, true
}

// Update runs fn on the stored value under the write lock. If fn returns an
// error the stored value is left untouched. It returns a copy of the updated
// value.
func (t *Table[V]) Update(id string, fn func(v *V) error) (V, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero V
	r, ok := t.rows[id]
	if !ok {
		return zero, false, nil
	}
	next := t.clone(r.val)
	if err := fn(&next); err != nil {
		return zero, true, err
	}
	r.val = next
	return t.clone(next), true, nil
}

// UpdateAll runs fn on every stored value under a single write lock and
// returns the ids for which fn reported a change.
func (t *Table[V]) UpdateAll(fn func(id string, v *V) bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var changed []string
	for _, id := range t.orderedIDsLocked() {
		if fn(id, &t.rows[id].val) {
			changed = append(changed, id)
		}
	}
	return changed
}

// Snapshot returns copies of all values in insertion order. The lock is
// released before the caller sees the result.
func (t *Table[V]) Snapshot() []V {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]V, 0, len(t.rows))
	for _, id := range t.orderedIDsLocked() {
		out = append(out, t.clone(t.rows[id].val))
	}
	return out
}

// Len returns the number of stored values.
func (t *Table[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Count returns how many stored values satisfy pred.
func (t *Table[V]) Count(pred func(V) bool) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, r := range t.rows {
		if pred(r.val) {
			n++
		}
	}
	return n
}

func (t *Table[V]) orderedIDsLocked() []string {
	ids := make([]string, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return t.rows[ids[i]].seq < t.rows[ids[j]].seq })
	return ids
}
