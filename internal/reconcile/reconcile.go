// Package reconcile implements the pure apply/ignore decision at the heart
// of spec §4.1: given a locally-pending marker and an inbound operation, it
// decides whether the operation should mutate state or be ignored as either
// our own echo or a remote shadowed by a newer local write. It is grounded
// on the shape of the teacher's internal/resolver package (a pure function
// from local/remote state to a decision), with the vector-clock comparison
// replaced by the pending-client-sequence-number marker this spec's
// single-ordering-service model requires instead.
package reconcile

import "sync"

// Decision is the outcome of reconciling one operation against a Tracker's
// pending state.
type Decision int

const (
	// Apply means the operation should mutate state and fire its event.
	Apply Decision = iota
	// Ignore means the operation is either an echo of our own pending write
	// (already applied optimistically) or a remote write shadowed by one.
	Ignore
)

// Tracker holds the pending markers for one key-space (a flat MapKernel or
// one SubDirectory node): pending key ops, pending subdirectory ops, and at
// most one outstanding local clear. Per spec §9, a second local clear issued
// before the first's echo arrives overwrites the marker rather than queuing.
type Tracker struct {
	mu             sync.Mutex
	pendingKeys    map[string]int64
	pendingSubDirs map[string]int64
	pendingClear   *int64
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pendingKeys:    make(map[string]int64),
		pendingSubDirs: make(map[string]int64),
	}
}

// NotePendingKey records clientSeq as the outstanding local write for key.
// Called immediately after a local set/delete/act is applied and submitted.
func (t *Tracker) NotePendingKey(key string, clientSeq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingKeys[key] = clientSeq
}

// NotePendingSubDir records clientSeq as the outstanding local
// createSubDirectory/deleteSubDirectory for name.
func (t *Tracker) NotePendingSubDir(name string, clientSeq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingSubDirs[name] = clientSeq
}

// NotePendingClear records clientSeq as the outstanding local clear,
// overwriting any prior unacknowledged clear.
func (t *Tracker) NotePendingClear(clientSeq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := clientSeq
	t.pendingClear = &cs
}

// ReconcileClear implements spec §4.1 rule 1 for an inbound `clear` message:
// an outstanding local clear masks every op regardless of type, and its own
// echo clears the marker without otherwise changing the outcome.
func (t *Tracker) ReconcileClear(local bool, clientSeq int64) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pendingClear != nil {
		if local && clientSeq == *t.pendingClear {
			t.pendingClear = nil
		}
		return Ignore
	}
	if local {
		return Ignore
	}
	return Apply
}

// ReconcileKey implements spec §4.1 rules 1, 2 and 4 for an inbound
// set/delete/act targeting key: a pending clear masks it first; otherwise a
// pending write to the same key masks it; otherwise a local op is already
// applied (no-op) and a remote op should be applied. act ops are folded into
// this same key-scoped bucket: a value-type mutation is still a write to
// `key`, and deserves the same optimistic shadowing set/delete gets (see
// DESIGN.md).
func (t *Tracker) ReconcileKey(key string, local bool, clientSeq int64) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pendingClear != nil {
		if local && clientSeq == *t.pendingClear {
			t.pendingClear = nil
		}
		return Ignore
	}
	if pending, ok := t.pendingKeys[key]; ok {
		if local && clientSeq == pending {
			delete(t.pendingKeys, key)
		}
		return Ignore
	}
	if local {
		return Ignore
	}
	return Apply
}

// ReconcileSubDir implements spec §4.1 rules 1, 3 and 4 for an inbound
// createSubDirectory/deleteSubDirectory targeting name, symmetric to
// ReconcileKey.
func (t *Tracker) ReconcileSubDir(name string, local bool, clientSeq int64) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pendingClear != nil {
		if local && clientSeq == *t.pendingClear {
			t.pendingClear = nil
		}
		return Ignore
	}
	if pending, ok := t.pendingSubDirs[name]; ok {
		if local && clientSeq == pending {
			delete(t.pendingSubDirs, name)
		}
		return Ignore
	}
	if local {
		return Ignore
	}
	return Apply
}

// PendingKeyCount returns the number of keys with an outstanding local
// write, for metrics and tests.
func (t *Tracker) PendingKeyCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pendingKeys)
}

// PendingSubDirCount returns the number of subdirectory names with an
// outstanding local create/delete, for metrics and tests.
func (t *Tracker) PendingSubDirCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pendingSubDirs)
}

// HasPendingClear reports whether a local clear is still unacknowledged.
func (t *Tracker) HasPendingClear() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingClear != nil
}
