// Package submission bridges a kernel's op submission to the consumed
// ordering-service interface (spec §6), queuing operations submitted while
// detached and resubmitting them in original order on reconnect (spec §5
// "Backpressure & retry", SPEC_FULL §12). Grounded on the teacher's
// AttachToNetwork/requestSync pattern in
// internal/collection/distributed_collection.go, which re-drives
// not-yet-acknowledged work once a network id is attached.
package submission

import (
	"sync"

	"github.com/webflow/shareddata/internal/op"
)

// Func is the shape of the per-kernel submit function threaded through
// MapKernel/SubDirectory: it returns the assigned client-sequence-number, or
// -1 if not currently attached. onAssigned is invoked exactly once, with the
// client-sequence-number the operation is ultimately assigned — synchronously
// if attached now, or later from Resend if it had to be queued.
type Func func(operation op.Operation, onAssigned func(clientSequenceNumber int64)) int64

// Service is the subset of ordering.Service the adapter needs; declared
// locally to avoid an import cycle with the ordering package's test doubles.
type Service interface {
	SubmitLocalMessage(operation op.Operation) int64
}

type queuedOp struct {
	operation  op.Operation
	onAssigned func(int64)
}

// Adapter implements Func against a concrete ordering-service handle,
// queuing submissions made while detached. The zero value (via NewAdapter
// with a nil svc) is a usable pre-attach adapter: every submission queues,
// matching a SharedMap/SharedDirectory's unattached lifecycle phase (spec
// §3 "Lifecycle").
type Adapter struct {
	mu     sync.Mutex
	svc    Service
	queued []queuedOp
}

// NewAdapter constructs an Adapter. svc may be nil, for a container that has
// not yet been attached to an ordering service; pass the real service to
// Attach once it is available.
func NewAdapter(svc Service) *Adapter {
	return &Adapter{svc: svc}
}

// Submit implements Func.
func (a *Adapter) Submit(operation op.Operation, onAssigned func(int64)) int64 {
	a.mu.Lock()
	svc := a.svc
	a.mu.Unlock()

	var cs int64 = -1
	if svc != nil {
		cs = svc.SubmitLocalMessage(operation)
	}
	if cs == -1 {
		a.mu.Lock()
		a.queued = append(a.queued, queuedOp{operation: operation, onAssigned: onAssigned})
		a.mu.Unlock()
		return -1
	}
	if onAssigned != nil {
		onAssigned(cs)
	}
	return cs
}

// Attach binds svc as the adapter's ordering-service handle and resubmits
// every operation queued while detached, in original order.
func (a *Adapter) Attach(svc Service) {
	a.mu.Lock()
	a.svc = svc
	a.mu.Unlock()
	a.Resend()
}

// Resend resubmits every operation queued while detached, in the order they
// were originally submitted. An operation that is still rejected (still
// detached) is re-queued rather than dropped. Call this once the underlying
// ordering-service connection has been (re-)established.
func (a *Adapter) Resend() {
	a.mu.Lock()
	queued := a.queued
	a.queued = nil
	a.mu.Unlock()

	for _, q := range queued {
		a.Submit(q.operation, q.onAssigned)
	}
}

// PendingCount returns the number of operations queued for resend, for
// metrics and tests.
func (a *Adapter) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queued)
}
