// Package events implements the small synchronous event bus MapKernel,
// SubDirectory and SharedDirectory use to deliver valueChanged/clear/pre-op/op
// notifications. It is grounded on the teacher's handler-registry pattern in
// internal/network (a map keyed by event name guarded by a mutex), simplified
// to call listeners synchronously on the caller's goroutine: this core is
// single-threaded cooperative per spec §5 and must never hand mutation
// notifications to a new goroutine the way the teacher's handleMessage does.
package events

import (
	"sync"

	"github.com/webflow/shareddata/internal/op"
)

// Name identifies one of the four events a container can emit.
type Name string

const (
	ValueChanged Name = "valueChanged"
	Clear        Name = "clear"
	PreOp        Name = "pre-op"
	Op           Name = "op"
)

// ValueChangedData is the payload of a ValueChanged event.
type ValueChangedData struct {
	Key           string
	PreviousValue interface{}
	// Path is set for directory-scoped kernels and empty for the flat map.
	Path string
}

// ClearData is the payload of a Clear event.
type ClearData struct {
	Path string
}

// Listener receives an event: whether it originated from this replica's own
// submission (local), the sequenced message that carried it (nil for events
// that fire before a client-sequence-number has been assigned, e.g. pre-op),
// and an event-specific payload (ValueChangedData, ClearData, or
// op.Operation for PreOp/Op).
type Listener func(local bool, message *op.SequencedMessage, payload interface{})

type entry struct {
	id int
	l  Listener
}

// Bus is a per-container registry of listeners, one ordered slice per event
// name. On, unsubscribe and Emit share one mutex, so listeners may be
// registered from another goroutine while Emit runs; Emit calls the listeners
// after releasing it, on the emitting goroutine. Containers themselves are
// single-owner per spec §5.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[Name][]entry
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Name][]entry)}
}

// On registers l to be called, in registration order, every time Emit(name, …)
// runs. The returned function unregisters l; wait(key)'s cancellation-by-
// unsubscribing (spec §5) is built on this.
func (b *Bus) On(name Name, l Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[name] = append(b.handlers[name], entry{id: id, l: l})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[name]
		for i, e := range entries {
			if e.id == id {
				b.handlers[name] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Emit invokes every listener registered for name synchronously, in
// registration order. Callers emit pre-op before the corresponding state
// mutation and valueChanged/clear and op after it, per spec §5's ordering
// guarantee (pre-op → state mutation → valueChanged/clear → op).
func (b *Bus) Emit(name Name, local bool, message *op.SequencedMessage, payload interface{}) {
	b.mu.Lock()
	entries := b.handlers[name]
	listeners := make([]Listener, len(entries))
	for i, e := range entries {
		listeners[i] = e.l
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(local, message, payload)
	}
}
