// Package sharedmap is the public facade for SharedMap (spec §4.1, §6): a
// flat, replicated key-value container built on internal/kernel for state
// and internal/snapshot for size-bounded snapshot/restore. Grounded on the
// teacher's pkg/knirvbase.DB/Collection split — a thin, validating public
// wrapper over an internal engine, constructed via a small Options struct.
package sharedmap

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/webflow/shareddata/internal/blobstore"
	"github.com/webflow/shareddata/internal/events"
	"github.com/webflow/shareddata/internal/host"
	"github.com/webflow/shareddata/internal/kernel"
	"github.com/webflow/shareddata/internal/monitoring"
	"github.com/webflow/shareddata/internal/op"
	"github.com/webflow/shareddata/internal/ordering"
	"github.com/webflow/shareddata/internal/snapshot"
	"github.com/webflow/shareddata/internal/submission"
	"github.com/webflow/shareddata/internal/values"
)

// TypeURI identifies this container's kind on the wire (spec §6).
const TypeURI = "https://graph.microsoft.com/types/map"

// SnapshotFormatVersion is the current snapshot schema version (spec §6);
// bumped only on a format-breaking change.
const SnapshotFormatVersion = "0.2"

// Options configures a SharedMap. Every field is optional; zero values fall
// back to the §4.4 chunking thresholds and a nil logger/metrics/handle
// context.
type Options struct {
	Thresholds    snapshot.Thresholds
	Metrics       *monitoring.Metrics
	Logger        *zap.Logger
	HandleContext values.HandleContext
}

// SharedMap is the public flat key-value container (spec §4.1).
type SharedMap struct {
	id       string
	bus      *events.Bus
	registry *values.Registry
	kernel   *kernel.Kernel
	adapter  *submission.Adapter
	chunker  *snapshot.Chunker
	metrics  *monitoring.Metrics

	clientID string
	attached bool
}

// New constructs an unattached SharedMap identified by id (spec §3
// "Lifecycle": created unattached, populated locally, then attached).
func New(id string, opts Options) *SharedMap {
	bus := events.New()
	registry := values.NewRegistry()
	adapter := submission.NewAdapter(nil)

	m := &SharedMap{
		id:       id,
		bus:      bus,
		registry: registry,
		adapter:  adapter,
		chunker:  snapshot.NewChunker(opts.Thresholds, opts.Metrics),
		metrics:  opts.Metrics,
	}
	m.kernel = kernel.New(kernel.Config{
		Path:      "",
		Submit:    adapter.Submit,
		Registry:  registry,
		HandleCtx: opts.HandleContext,
		Bus:       bus,
		Metrics:   opts.Metrics,
		Logger:    opts.Logger,
	})
	return m
}

// ID returns the container's stable identifier.
func (m *SharedMap) ID() string { return m.id }

// IsAttached reports whether Attach has been called.
func (m *SharedMap) IsAttached() bool { return m.attached }

// RegisterValueType adds vt to this instance's ValueTypeRegistry (spec §4.5;
// per-instance, not global, per spec §5).
func (m *SharedMap) RegisterValueType(vt values.ValueType) {
	m.registry.Register(vt)
}

// Attach connects the map to svc, replaying any ops queued while unattached,
// and (if runtime is non-nil) registers the container with the host.
func (m *SharedMap) Attach(svc ordering.Service, runtime host.Runtime) {
	m.clientID = svc.ClientID()
	svc.OnMessage(func(msg op.SequencedMessage) {
		m.kernel.HandleMessage(msg, msg.ClientID == m.clientID)
	})
	m.adapter.Attach(svc)
	if runtime != nil {
		runtime.RegisterChannel(m.id, m)
	}
	m.attached = true
	if m.metrics != nil {
		m.metrics.ActiveContainers.Inc()
	}
}

// Get returns the value stored under key, and whether it was present.
func (m *SharedMap) Get(key string) (interface{}, bool) { return m.kernel.Get(key) }

// Has reports whether key is present.
func (m *SharedMap) Has(key string) bool { return m.kernel.Has(key) }

// Set stores value under key.
func (m *SharedMap) Set(key string, value interface{}) error { return m.kernel.Set(key, value) }

// CreateValueType stores a new instance of the value type named typeID
// under key, constructed from params.
func (m *SharedMap) CreateValueType(key, typeID string, params json.RawMessage) error {
	return m.kernel.CreateValueType(key, typeID, params)
}

// Delete removes key, returning whether it was present.
func (m *SharedMap) Delete(key string) bool { return m.kernel.Delete(key) }

// Clear removes every key.
func (m *SharedMap) Clear() { m.kernel.Clear() }

// Wait resolves with key's value as soon as it is set.
func (m *SharedMap) Wait(ctx context.Context, key string) (interface{}, error) {
	return m.kernel.Wait(ctx, key)
}

// Keys returns every key, in insertion order.
func (m *SharedMap) Keys() []string { return m.kernel.Keys() }

// Values returns every value, in insertion order.
func (m *SharedMap) Values() []interface{} { return m.kernel.Values() }

// Entries returns every key/value pair, in insertion order.
func (m *SharedMap) Entries() []kernel.Entry { return m.kernel.Entries() }

// ForEach calls fn for every key/value pair, in insertion order.
func (m *SharedMap) ForEach(fn func(value interface{}, key string)) { m.kernel.ForEach(fn) }

// Size returns the number of keys.
func (m *SharedMap) Size() int { return m.kernel.Size() }

// On registers a listener for one of the four container events
// (valueChanged, clear, pre-op, op), returning an unsubscribe function.
func (m *SharedMap) On(name events.Name, listener events.Listener) (unsubscribe func()) {
	return m.bus.On(name, listener)
}

// Snapshot serializes the map's current state to store (spec §4.4, §6).
func (m *SharedMap) Snapshot(store blobstore.Store) error {
	_, err := m.chunker.Write(store, m.kernel)
	return err
}

// Load restores the map's state from store, written by a prior Snapshot
// (spec §4.4, §6). Call before Attach.
func (m *SharedMap) Load(store blobstore.Store) error {
	if m.attached {
		return fmt.Errorf("sharedmap: Load must be called before Attach")
	}
	return m.chunker.Restore(store, m.kernel)
}
