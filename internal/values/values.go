// Package values implements the pluggable value-type system described in
// spec §4.5: LocalValue materializes a wire Serializable into a live local
// object, and ValueTypeRegistry hosts the factories/op-handlers of
// registered value types. Grounded on the teacher's IndexManager (a
// name-keyed registry behind a mutex, internal/storage/index.go) for the
// registry shape, and on DistributedCollection's insert/broadcast split
// (internal/collection/distributed_collection.go) for the emit-on-mutate
// wiring an IValueOpEmitter performs.
package values

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/webflow/shareddata/internal/op"
)

// Handle is the local stand-in for a reference to another shared object. The
// host runtime resolves handles to live objects; this core only carries the
// path/identifier and defers resolution to a HandleContext.
type Handle struct {
	// AbsolutePath or container/component identifier of the referenced
	// shared object, as produced by the host's handle service.
	AbsolutePath string `json:"absolutePath"`
}

// HandleContext resolves a Handle to the live shared object it references,
// and converts a live shared object back into a Handle for serialization.
// This is the consumed host-runtime interface named in spec §6.
type HandleContext interface {
	ResolveHandle(h Handle) (interface{}, error)
	ToHandle(shared interface{}) (Handle, error)
}

// OpEmitter is the per-mutation channel a value-type's live object uses to
// submit an `act` operation and notify local listeners, matching
// IValueOpEmitter in spec §4.5: it wraps {key, path} and on every local
// mutation submits an `act` op on the parent kernel and fires a local
// valueChanged synchronously.
type OpEmitter interface {
	// Emit submits {opName, params} as an `act` operation on the owning
	// kernel/subdirectory and synchronously fires the local valueChanged
	// event, passing previous as the pre-mutation value.
	Emit(opName string, params json.RawMessage, previous interface{})
}

// OpHandler is a value-type's two-phase handler for one op name (spec
// §4.1's "act (value-type op) path" and §4.5).
type OpHandler struct {
	// Prepare runs before apply and may do asynchronous work (e.g. resolving
	// a handle carried in params). currentValue is the live object's current
	// state; the returned context is threaded into Process unchanged.
	Prepare func(currentValue interface{}, params json.RawMessage, local bool, message *op.SequencedMessage) (interface{}, error)
	// Process synchronously computes the post-mutation value from
	// previousValue, params and the prepared context. It never yields.
	Process func(previousValue interface{}, params json.RawMessage, prepContext interface{}, local bool, message *op.SequencedMessage) (interface{}, error)
}

// ValueType is a pluggable, named kind of value whose mutations flow through
// the op log as `act` operations (spec §4.5, §9 "Pluggable value-types").
type ValueType interface {
	// Name is the registry key and the wire `type` discriminator for values
	// of this kind.
	Name() string
	// Load constructs the live object from its opaque wire params.
	Load(params json.RawMessage, emitter OpEmitter) (interface{}, error)
	// Store is the inverse of Load: it serializes the live object back to
	// opaque wire params.
	Store(live interface{}) (json.RawMessage, error)
	// OpHandlers returns this value type's op-name -> two-phase-handler map.
	OpHandlers() map[string]OpHandler
}

// Registry hosts the value types registered on one container instance. It is
// per-instance, not global (spec §5): each SharedMap/SharedDirectory owns its
// own Registry.
type Registry struct {
	mu    sync.RWMutex
	types map[string]ValueType
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]ValueType)}
}

// Register adds vt, keyed by vt.Name(). Registering the same name twice
// replaces the prior registration.
func (r *Registry) Register(vt ValueType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[vt.Name()] = vt
}

// Lookup returns the registered value type named name, if any.
func (r *Registry) Lookup(name string) (ValueType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vt, ok := r.types[name]
	return vt, ok
}

// LocalValue is the in-memory counterpart of a wire Serializable (spec §3
// "Local value"): a live object, the wire type name it materialized from,
// and — for registered value types only — the op-name -> handler mapping
// routes `act` operations through.
type LocalValue struct {
	Value      interface{}
	TypeName   string
	OpHandlers map[string]OpHandler
}

// FromSerializable materializes a wire Serializable into a LocalValue,
// following spec §4.5's three-way dispatch. emitter is nil unless the value
// is a registered value type, in which case it is handed to the type's Load
// factory so the live object can submit its own `act` ops.
func FromSerializable(s op.Serializable, registry *Registry, hctx HandleContext, emitter OpEmitter) (LocalValue, error) {
	switch s.Type {
	case op.SerializableTypePlain:
		var decoded interface{}
		if len(s.Value) > 0 {
			if err := json.Unmarshal(s.Value, &decoded); err != nil {
				return LocalValue{}, fmt.Errorf("values: decode plain payload: %w", err)
			}
		}
		return LocalValue{Value: decoded, TypeName: op.SerializableTypePlain}, nil

	case op.SerializableTypeShared:
		var h Handle
		if err := json.Unmarshal(s.Value, &h); err != nil {
			return LocalValue{}, fmt.Errorf("values: decode handle payload: %w", err)
		}
		if hctx == nil {
			return LocalValue{}, fmt.Errorf("values: no handle context to resolve %q", h.AbsolutePath)
		}
		resolved, err := hctx.ResolveHandle(h)
		if err != nil {
			return LocalValue{}, fmt.Errorf("values: resolve handle %q: %w", h.AbsolutePath, err)
		}
		return LocalValue{Value: resolved, TypeName: op.SerializableTypeShared}, nil

	default:
		vt, ok := registry.Lookup(s.Type)
		if !ok {
			return LocalValue{}, fmt.Errorf("values: unregistered value type %q", s.Type)
		}
		live, err := vt.Load(s.Value, emitter)
		if err != nil {
			return LocalValue{}, fmt.Errorf("values: load value type %q: %w", s.Type, err)
		}
		return LocalValue{Value: live, TypeName: s.Type, OpHandlers: vt.OpHandlers()}, nil
	}
}

// MakeSerializable is the inverse of FromSerializable: it projects a
// LocalValue back to its wire Serializable form.
func MakeSerializable(lv LocalValue, registry *Registry, hctx HandleContext) (op.Serializable, error) {
	switch lv.TypeName {
	case op.SerializableTypePlain:
		raw, err := json.Marshal(lv.Value)
		if err != nil {
			return op.Serializable{}, fmt.Errorf("values: encode plain value: %w", err)
		}
		return op.Serializable{Type: op.SerializableTypePlain, Value: raw}, nil

	case op.SerializableTypeShared:
		if hctx == nil {
			return op.Serializable{}, fmt.Errorf("values: no handle context to serialize shared value")
		}
		h, err := hctx.ToHandle(lv.Value)
		if err != nil {
			return op.Serializable{}, fmt.Errorf("values: make handle: %w", err)
		}
		raw, err := json.Marshal(h)
		if err != nil {
			return op.Serializable{}, err
		}
		return op.Serializable{Type: op.SerializableTypeShared, Value: raw}, nil

	default:
		vt, ok := registry.Lookup(lv.TypeName)
		if !ok {
			return op.Serializable{}, fmt.Errorf("values: unregistered value type %q", lv.TypeName)
		}
		raw, err := vt.Store(lv.Value)
		if err != nil {
			return op.Serializable{}, fmt.Errorf("values: store value type %q: %w", lv.TypeName, err)
		}
		return op.Serializable{Type: lv.TypeName, Value: raw}, nil
	}
}

// PlainSerializable wraps a plain Go value as a "Plain" wire Serializable,
// the form `set(key, value)` uses for any value that is not itself a
// registered value type or a Shared handle.
func PlainSerializable(value interface{}) (op.Serializable, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return op.Serializable{}, fmt.Errorf("values: encode plain value: %w", err)
	}
	return op.Serializable{Type: op.SerializableTypePlain, Value: raw}, nil
}

// SharedSerializable wraps a Handle as a "Shared" wire Serializable.
func SharedSerializable(h Handle) (op.Serializable, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return op.Serializable{}, err
	}
	return op.Serializable{Type: op.SerializableTypeShared, Value: raw}, nil
}
