// Package kernel implements MapKernel (spec §4.1): the authoritative
// in-memory state for one flat key-space, its pending-op bookkeeping, and
// the reconciliation of inbound sequenced messages against it. SubDirectory
// (internal/directory) embeds a Kernel per node and layers child-directory
// bookkeeping on top of the same Tracker, so the reconciliation algorithm is
// implemented exactly once. Grounded on the teacher's
// DistributedCollection (internal/collection/distributed_collection.go) for
// the local-apply-then-broadcast submission shape, and on
// internal/resolver for the decision-function split now in
// internal/reconcile.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/webflow/shareddata/internal/events"
	"github.com/webflow/shareddata/internal/monitoring"
	"github.com/webflow/shareddata/internal/op"
	"github.com/webflow/shareddata/internal/reconcile"
	"github.com/webflow/shareddata/internal/tracing"
	"github.com/webflow/shareddata/internal/values"
)

// Entry is one key/value pair in insertion order, as returned by Entries.
type Entry struct {
	Key   string
	Value interface{}
}

// SnapshotEntry is one key's wire-serialized form, as produced by
// SnapshotEntries for internal/snapshot to partition into blobs.
type SnapshotEntry struct {
	Key   string
	Value op.Serializable
}

// Config constructs a Kernel. Path is "" for the flat SharedMap kernel and
// the node's absolute path for a SubDirectory. Submit, Registry and Bus are
// required; HandleCtx is needed only to store or load Shared (handle) values;
// Metrics and Logger are optional (nil is fine, mirrors the teacher's
// pkg/knirvbase.Options where only DataDir is mandatory).
type Config struct {
	Path      string
	Submit    func(operation op.Operation, onAssigned func(clientSequenceNumber int64)) int64
	Registry  *values.Registry
	HandleCtx values.HandleContext
	Bus       *events.Bus
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// Kernel is the authoritative state for one key-space: storage, insertion
// order, and the pending-op Tracker reconciliation is built on.
type Kernel struct {
	path      string
	submit    func(operation op.Operation, onAssigned func(clientSequenceNumber int64)) int64
	registry  *values.Registry
	handleCtx values.HandleContext
	bus       *events.Bus
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	tracker *reconcile.Tracker

	storage map[string]values.LocalValue
	order   []string
}

// New constructs a Kernel from cfg.
func New(cfg Config) *Kernel {
	return &Kernel{
		path:      cfg.Path,
		submit:    cfg.Submit,
		registry:  cfg.Registry,
		handleCtx: cfg.HandleCtx,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		tracker:   reconcile.NewTracker(),
		storage:   make(map[string]values.LocalValue),
	}
}

// Path returns the node's absolute path ("" for the flat map kernel).
func (k *Kernel) Path() string { return k.path }

// Tracker exposes the pending-op tracker so SubDirectory can layer
// createSubDirectory/deleteSubDirectory bookkeeping onto the same node-scoped
// clear-masking and pending markers (spec §4.1 rule 1 masks every op type,
// not just key ops).
func (k *Kernel) Tracker() *reconcile.Tracker { return k.tracker }

// Submit exposes the kernel's submit function so SubDirectory can emit
// createSubDirectory/deleteSubDirectory operations through the same path.
func (k *Kernel) Submit(operation op.Operation, onAssigned func(int64)) int64 {
	_, span := tracing.StartSpan(context.Background(), "kernel.submit",
		attribute.String("op.type", string(operation.Type)),
		attribute.String("op.path", operation.Path),
	)
	defer span.End()
	cs := k.submit(operation, onAssigned)
	k.syncPendingGauge()
	return cs
}

// Bus exposes the kernel's event bus so SubDirectory can fire events scoped
// to the same node.
func (k *Kernel) Bus() *events.Bus { return k.bus }

// Get returns the live value stored under key, and whether it was present.
func (k *Kernel) Get(key string) (interface{}, bool) {
	lv, ok := k.storage[key]
	if !ok {
		return nil, false
	}
	return lv.Value, true
}

// Has reports whether key is present.
func (k *Kernel) Has(key string) bool {
	_, ok := k.storage[key]
	return ok
}

// Size returns the number of keys in this node's storage.
func (k *Kernel) Size() int { return len(k.order) }

// Keys returns the keys in this node's storage, in insertion order.
func (k *Kernel) Keys() []string {
	out := make([]string, len(k.order))
	copy(out, k.order)
	return out
}

// Values returns the values in this node's storage, in insertion order.
func (k *Kernel) Values() []interface{} {
	out := make([]interface{}, 0, len(k.order))
	for _, key := range k.order {
		out = append(out, k.storage[key].Value)
	}
	return out
}

// Entries returns the key/value pairs in this node's storage, in insertion
// order.
func (k *Kernel) Entries() []Entry {
	out := make([]Entry, 0, len(k.order))
	for _, key := range k.order {
		out = append(out, Entry{Key: key, Value: k.storage[key].Value})
	}
	return out
}

// ForEach calls fn for every key/value pair, in insertion order.
func (k *Kernel) ForEach(fn func(value interface{}, key string)) {
	for _, key := range k.order {
		fn(k.storage[key].Value, key)
	}
}

// Set applies value locally under key and submits a `set` op. If value is a
// values.Handle it is serialized as a Shared reference; otherwise it is
// serialized as Plain JSON. Use CreateValueType to route through a
// registered value type instead.
func (k *Kernel) Set(key string, value interface{}) error {
	if key == "" {
		return fmt.Errorf("kernel: key must be non-empty")
	}
	lv := values.LocalValue{TypeName: op.SerializableTypePlain, Value: value}
	if h, ok := value.(values.Handle); ok {
		lv = values.LocalValue{TypeName: op.SerializableTypeShared, Value: h}
	}
	serializable, err := values.MakeSerializable(lv, k.registry, k.handleCtx)
	if err != nil {
		return fmt.Errorf("kernel: serialize %q: %w", key, err)
	}
	o := op.NewSet(k.path, key, serializable)
	k.applyLocal(key, lv, o)
	k.Submit(o, func(cs int64) { k.tracker.NotePendingKey(key, cs) })
	if k.metrics != nil {
		k.metrics.OperationsSubmitted.Inc()
	}
	return nil
}

// CreateValueType is like Set but forces value-type handling: typeID must
// name a value type registered on this kernel's Registry, and params is the
// wire payload its Load factory consumes.
func (k *Kernel) CreateValueType(key, typeID string, params json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("kernel: key must be non-empty")
	}
	vt, ok := k.registry.Lookup(typeID)
	if !ok {
		return fmt.Errorf("kernel: unregistered value type %q", typeID)
	}
	live, err := vt.Load(params, k.emitterFor(key))
	if err != nil {
		return fmt.Errorf("kernel: load value type %q for %q: %w", typeID, key, err)
	}
	lv := values.LocalValue{Value: live, TypeName: typeID, OpHandlers: vt.OpHandlers()}
	serializable, err := values.MakeSerializable(lv, k.registry, k.handleCtx)
	if err != nil {
		return fmt.Errorf("kernel: serialize value type %q for %q: %w", typeID, key, err)
	}
	o := op.NewSet(k.path, key, serializable)
	k.applyLocal(key, lv, o)
	k.Submit(o, func(cs int64) { k.tracker.NotePendingKey(key, cs) })
	if k.metrics != nil {
		k.metrics.OperationsSubmitted.Inc()
	}
	return nil
}

// Delete removes key locally and submits a `delete` op. It returns whether
// the key was present locally at the time of the call.
func (k *Kernel) Delete(key string) bool {
	_, existed := k.storage[key]
	o := op.NewDelete(k.path, key)
	k.bus.Emit(events.PreOp, true, nil, o)
	previous := k.previousValue(key)
	k.deleteLocal(key)
	k.bus.Emit(events.ValueChanged, true, nil, events.ValueChangedData{Key: key, PreviousValue: previous, Path: k.path})
	k.bus.Emit(events.Op, true, nil, o)
	k.Submit(o, func(cs int64) { k.tracker.NotePendingKey(key, cs) })
	if k.metrics != nil {
		k.metrics.OperationsSubmitted.Inc()
	}
	return existed
}

// Clear wipes all keys locally and submits a `clear` op, recording the
// assigned client-sequence-number as the outstanding local clear.
func (k *Kernel) Clear() {
	o := op.NewClear(k.path)
	k.bus.Emit(events.PreOp, true, nil, o)
	k.storage = make(map[string]values.LocalValue)
	k.order = nil
	k.bus.Emit(events.Clear, true, nil, events.ClearData{Path: k.path})
	k.bus.Emit(events.Op, true, nil, o)
	k.Submit(o, func(cs int64) { k.tracker.NotePendingClear(cs) })
	if k.metrics != nil {
		k.metrics.OperationsSubmitted.Inc()
	}
}

// Wait resolves with key's value as soon as it is present: immediately if
// already set, otherwise on the next valueChanged naming (path, key). It
// subscribes before checking the current value so a change landing between
// check and subscribe is never missed (spec §9 open question, resolved).
func (k *Kernel) Wait(ctx context.Context, key string) (interface{}, error) {
	ch := make(chan interface{}, 1)
	unsubscribe := k.bus.On(events.ValueChanged, func(_ bool, _ *op.SequencedMessage, payload interface{}) {
		data, ok := payload.(events.ValueChangedData)
		if !ok || data.Key != key || data.Path != k.path {
			return
		}
		if v, ok := k.Get(key); ok {
			select {
			case ch <- v:
			default:
			}
		}
	})
	defer unsubscribe()

	if v, ok := k.Get(key); ok {
		return v, nil
	}

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleMessage reconciles and, if applicable, applies an inbound sequenced
// message carrying a set, delete, clear or act operation. Subdirectory ops
// (createSubDirectory/deleteSubDirectory) are out of scope for Kernel; the
// directory router handles those directly against the same Tracker via
// ReconcileSubDir. Per spec §4.1/§7, HandleMessage never returns an error to
// the caller for recoverable conditions: an unknown op or a prepare-failure
// is logged and dropped, and an `act` on a missing key is dropped without a
// log line.
func (k *Kernel) HandleMessage(msg op.SequencedMessage, local bool) {
	o := msg.Contents
	_, span := tracing.StartSpan(context.Background(), "kernel.processCore",
		attribute.String("op.type", string(o.Type)),
		attribute.String("op.path", o.Path),
		attribute.Bool("local", local),
	)
	defer span.End()

	switch o.Type {
	case op.TypeClear:
		k.handleClear(msg, local)
	case op.TypeSet:
		k.handleSet(msg, local)
	case op.TypeDelete:
		k.handleDelete(msg, local)
	case op.TypeAct:
		k.handleAct(msg, local)
	default:
		if k.metrics != nil {
			k.metrics.OperationsUnknown.Inc()
		}
		if k.logger != nil {
			k.logger.Warn("kernel: unknown operation type", zap.String("type", string(o.Type)))
		}
	}
	k.syncPendingGauge()
}

// syncPendingGauge refreshes the PendingKeys gauge from the tracker's live
// count. PendingSubDirs is refreshed by internal/directory, which shares
// this same node's Tracker for subdirectory-lifecycle bookkeeping.
func (k *Kernel) syncPendingGauge() {
	if k.metrics != nil {
		k.metrics.PendingKeys.Set(float64(k.tracker.PendingKeyCount()))
	}
}

func (k *Kernel) handleClear(msg op.SequencedMessage, local bool) {
	decision := k.tracker.ReconcileClear(local, msg.ClientSequenceNumber)
	if decision == reconcile.Ignore {
		if k.metrics != nil {
			k.metrics.OperationsIgnored.Inc()
		}
		return
	}
	o := msg.Contents
	k.bus.Emit(events.PreOp, local, &msg, o)
	k.storage = make(map[string]values.LocalValue)
	k.order = nil
	k.bus.Emit(events.Clear, local, &msg, events.ClearData{Path: k.path})
	k.bus.Emit(events.Op, local, &msg, o)
	if k.metrics != nil {
		k.metrics.OperationsApplied.Inc()
	}
}

func (k *Kernel) handleSet(msg op.SequencedMessage, local bool) {
	o := msg.Contents
	decision := k.tracker.ReconcileKey(o.Key, local, msg.ClientSequenceNumber)
	if decision == reconcile.Ignore {
		if k.metrics != nil {
			k.metrics.OperationsIgnored.Inc()
		}
		return
	}
	serializable, err := o.DecodeSerializable()
	if err != nil {
		k.reportPrepareFailure(o.Key, err)
		return
	}
	lv, err := values.FromSerializable(serializable, k.registry, k.handleCtx, k.emitterFor(o.Key))
	if err != nil {
		k.reportPrepareFailure(o.Key, err)
		return
	}
	k.bus.Emit(events.PreOp, local, &msg, o)
	previous := k.previousValue(o.Key)
	k.storeLocal(o.Key, lv)
	k.bus.Emit(events.ValueChanged, local, &msg, events.ValueChangedData{Key: o.Key, PreviousValue: previous, Path: k.path})
	k.bus.Emit(events.Op, local, &msg, o)
	if k.metrics != nil {
		k.metrics.OperationsApplied.Inc()
	}
}

func (k *Kernel) handleDelete(msg op.SequencedMessage, local bool) {
	o := msg.Contents
	decision := k.tracker.ReconcileKey(o.Key, local, msg.ClientSequenceNumber)
	if decision == reconcile.Ignore {
		if k.metrics != nil {
			k.metrics.OperationsIgnored.Inc()
		}
		return
	}
	k.bus.Emit(events.PreOp, local, &msg, o)
	previous := k.previousValue(o.Key)
	k.deleteLocal(o.Key)
	k.bus.Emit(events.ValueChanged, local, &msg, events.ValueChangedData{Key: o.Key, PreviousValue: previous, Path: k.path})
	k.bus.Emit(events.Op, local, &msg, o)
	if k.metrics != nil {
		k.metrics.OperationsApplied.Inc()
	}
}

func (k *Kernel) handleAct(msg op.SequencedMessage, local bool) {
	o := msg.Contents
	decision := k.tracker.ReconcileKey(o.Key, local, msg.ClientSequenceNumber)
	if decision == reconcile.Ignore {
		if k.metrics != nil {
			k.metrics.OperationsIgnored.Inc()
		}
		return
	}
	lv, ok := k.storage[o.Key]
	if !ok {
		// The value-typed key may have been deleted concurrently; drop
		// silently per spec §4.1 "Failure semantics".
		return
	}
	actValue, err := o.DecodeAct()
	if err != nil {
		k.reportPrepareFailure(o.Key, err)
		return
	}
	handler, ok := lv.OpHandlers[actValue.OpName]
	if !ok {
		if k.metrics != nil {
			k.metrics.OperationsUnknown.Inc()
		}
		if k.logger != nil {
			k.logger.Warn("kernel: unknown value-type op", zap.String("key", o.Key), zap.String("opName", actValue.OpName))
		}
		return
	}
	prepCtx, err := handler.Prepare(lv.Value, actValue.Value, local, &msg)
	if err != nil {
		k.reportPrepareFailure(o.Key, err)
		return
	}
	k.bus.Emit(events.PreOp, local, &msg, o)
	previous := lv.Value
	newValue, err := handler.Process(lv.Value, actValue.Value, prepCtx, local, &msg)
	if err != nil {
		if k.logger != nil {
			k.logger.Warn("kernel: value-type op process failed", zap.String("key", o.Key), zap.Error(err))
		}
		return
	}
	lv.Value = newValue
	k.storage[o.Key] = lv
	k.bus.Emit(events.ValueChanged, local, &msg, events.ValueChangedData{Key: o.Key, PreviousValue: previous, Path: k.path})
	k.bus.Emit(events.Op, local, &msg, o)
	if k.metrics != nil {
		k.metrics.OperationsApplied.Inc()
	}
}

func (k *Kernel) reportPrepareFailure(key string, err error) {
	if k.metrics != nil {
		k.metrics.ReconciliationErrors.Inc()
	}
	if k.logger != nil {
		k.logger.Warn("kernel: prepare failed, dropping message", zap.String("key", key), zap.Error(err))
	}
}

// SnapshotEntries projects this node's storage to its wire-serialized form,
// in insertion order, for internal/snapshot to partition into blobs.
func (k *Kernel) SnapshotEntries() ([]SnapshotEntry, error) {
	out := make([]SnapshotEntry, 0, len(k.order))
	for _, key := range k.order {
		s, err := values.MakeSerializable(k.storage[key], k.registry, k.handleCtx)
		if err != nil {
			return nil, fmt.Errorf("kernel: serialize %q for snapshot: %w", key, err)
		}
		out = append(out, SnapshotEntry{Key: key, Value: s})
	}
	return out, nil
}

// Populate materializes key/value straight into storage, bypassing pre-op,
// valueChanged and op submission entirely. Used only during snapshot
// restore, before the container is attached.
func (k *Kernel) Populate(key string, value op.Serializable) error {
	lv, err := values.FromSerializable(value, k.registry, k.handleCtx, k.emitterFor(key))
	if err != nil {
		return fmt.Errorf("kernel: populate %q: %w", key, err)
	}
	k.storeLocal(key, lv)
	return nil
}

func (k *Kernel) applyLocal(key string, lv values.LocalValue, o op.Operation) {
	k.bus.Emit(events.PreOp, true, nil, o)
	previous := k.previousValue(key)
	k.storeLocal(key, lv)
	k.bus.Emit(events.ValueChanged, true, nil, events.ValueChangedData{Key: key, PreviousValue: previous, Path: k.path})
	k.bus.Emit(events.Op, true, nil, o)
}

func (k *Kernel) previousValue(key string) interface{} {
	if lv, ok := k.storage[key]; ok {
		return lv.Value
	}
	return nil
}

func (k *Kernel) storeLocal(key string, lv values.LocalValue) {
	if _, existed := k.storage[key]; !existed {
		k.order = append(k.order, key)
	}
	k.storage[key] = lv
}

func (k *Kernel) deleteLocal(key string) {
	if _, existed := k.storage[key]; !existed {
		return
	}
	delete(k.storage, key)
	for i, candidate := range k.order {
		if candidate == key {
			k.order = append(k.order[:i:i], k.order[i+1:]...)
			break
		}
	}
}

// emitterFor builds the IValueOpEmitter (spec §4.5) a value type's live
// object uses to submit act ops and fire local valueChanged notifications.
func (k *Kernel) emitterFor(key string) *opEmitter {
	return &opEmitter{kernel: k, key: key}
}

type opEmitter struct {
	kernel *Kernel
	key    string
}

// Emit implements values.OpEmitter.
func (e *opEmitter) Emit(opName string, params json.RawMessage, previous interface{}) {
	o := op.NewAct(e.kernel.path, e.key, opName, params)
	e.kernel.bus.Emit(events.PreOp, true, nil, o)
	e.kernel.Submit(o, func(cs int64) { e.kernel.tracker.NotePendingKey(e.key, cs) })
	e.kernel.bus.Emit(events.ValueChanged, true, nil, events.ValueChangedData{Key: e.key, PreviousValue: previous, Path: e.kernel.path})
	e.kernel.bus.Emit(events.Op, true, nil, o)
	if e.kernel.metrics != nil {
		e.kernel.metrics.OperationsSubmitted.Inc()
	}
}
