// Package shareddirectory is the public facade for SharedDirectory (spec
// §4.2, §4.3, §6): a hierarchy of named key-value nodes. Grounded on the
// teacher's pkg/knirvbase.DB/Collection split, the same way pkg/sharedmap is;
// the hierarchy and routing logic itself lives in internal/directory.
package shareddirectory

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/webflow/shareddata/internal/blobstore"
	"github.com/webflow/shareddata/internal/directory"
	"github.com/webflow/shareddata/internal/events"
	"github.com/webflow/shareddata/internal/host"
	"github.com/webflow/shareddata/internal/kernel"
	"github.com/webflow/shareddata/internal/monitoring"
	"github.com/webflow/shareddata/internal/op"
	"github.com/webflow/shareddata/internal/ordering"
	"github.com/webflow/shareddata/internal/submission"
	"github.com/webflow/shareddata/internal/values"
)

// TypeURI identifies this container's kind on the wire (spec §6).
const TypeURI = "https://graph.microsoft.com/types/directory"

// SnapshotFormatVersion is the current snapshot schema version (spec §6).
const SnapshotFormatVersion = "0.2"

// Options configures a SharedDirectory. Every field is optional.
type Options struct {
	Metrics       *monitoring.Metrics
	Logger        *zap.Logger
	HandleContext values.HandleContext
}

// SharedDirectory is the public hierarchical key-value container (spec
// §4.2/§4.3).
type SharedDirectory struct {
	id       string
	bus      *events.Bus
	registry *values.Registry
	tree     *directory.Tree
	adapter  *submission.Adapter
	metrics  *monitoring.Metrics

	clientID string
	attached bool
}

// New constructs an unattached SharedDirectory identified by id, containing
// only its root node (spec §3 "Lifecycle").
func New(id string, opts Options) *SharedDirectory {
	bus := events.New()
	registry := values.NewRegistry()
	adapter := submission.NewAdapter(nil)

	d := &SharedDirectory{
		id:       id,
		bus:      bus,
		registry: registry,
		adapter:  adapter,
		metrics:  opts.Metrics,
	}
	d.tree = directory.NewTree(directory.Deps{
		Submit:    adapter.Submit,
		Registry:  registry,
		HandleCtx: opts.HandleContext,
		Bus:       bus,
		Metrics:   opts.Metrics,
		Logger:    opts.Logger,
	})
	return d
}

// ID returns the container's stable identifier.
func (d *SharedDirectory) ID() string { return d.id }

// IsAttached reports whether Attach has been called.
func (d *SharedDirectory) IsAttached() bool { return d.attached }

// RegisterValueType adds vt to this instance's ValueTypeRegistry.
func (d *SharedDirectory) RegisterValueType(vt values.ValueType) {
	d.registry.Register(vt)
}

// Attach connects the directory to svc, replaying any ops queued while
// unattached, and (if runtime is non-nil) registers the container with the
// host.
func (d *SharedDirectory) Attach(svc ordering.Service, runtime host.Runtime) {
	d.clientID = svc.ClientID()
	svc.OnMessage(func(msg op.SequencedMessage) {
		d.tree.HandleMessage(msg, msg.ClientID == d.clientID)
	})
	d.adapter.Attach(svc)
	if runtime != nil {
		runtime.RegisterChannel(d.id, d)
	}
	d.attached = true
	if d.metrics != nil {
		d.metrics.ActiveContainers.Inc()
	}
}

// On registers a listener for one of the four container events, returning
// an unsubscribe function.
func (d *SharedDirectory) On(name events.Name, listener events.Listener) (unsubscribe func()) {
	return d.bus.On(name, listener)
}

// Root returns a Directory handle bound to the root node ("/").
func (d *SharedDirectory) Root() *Directory {
	return &Directory{tree: d.tree, path: directory.RootPath}
}

// GetWorkingDirectory resolves relativePath against the root and returns a
// handle to it, or false if no such node exists (spec §4.2).
func (d *SharedDirectory) GetWorkingDirectory(relativePath string) (*Directory, bool) {
	return d.Root().GetWorkingDirectory(relativePath)
}

// Snapshot serializes the whole tree to store (spec §4.4 "SharedDirectory
// uses a simpler scheme"): a single JSON document, no size-based chunking.
func (d *SharedDirectory) Snapshot(store blobstore.Store) error {
	obj, err := d.tree.Snapshot()
	if err != nil {
		return err
	}
	body, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("shareddirectory: marshal snapshot: %w", err)
	}
	return blobstore.WriteUTF8(store, "header", body)
}

// Load restores the whole tree from store, written by a prior Snapshot.
// Call before Attach.
func (d *SharedDirectory) Load(store blobstore.Store) error {
	if d.attached {
		return fmt.Errorf("shareddirectory: Load must be called before Attach")
	}
	raw, err := blobstore.ReadUTF8(store, "header")
	if err != nil {
		return fmt.Errorf("shareddirectory: read snapshot: %w", err)
	}
	var obj directory.DataObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("shareddirectory: unmarshal snapshot: %w", err)
	}
	return d.tree.Populate(obj)
}

// Directory is a handle bound to one node of a SharedDirectory's tree (spec
// §4.2 IDirectory). It carries no state of its own beyond its absolute path:
// all mutation and lookup goes through the owning Tree, per the arena
// pattern (spec §9).
type Directory struct {
	tree *directory.Tree
	path string
}

// AbsolutePath returns this handle's absolute path.
func (dir *Directory) AbsolutePath() string { return dir.path }

// GetWorkingDirectory resolves relativePath against dir and returns a handle
// to it, or false if no such node exists.
func (dir *Directory) GetWorkingDirectory(relativePath string) (*Directory, bool) {
	resolved, ok := dir.tree.GetWorkingDirectory(dir.path, relativePath)
	if !ok {
		return nil, false
	}
	return &Directory{tree: dir.tree, path: resolved}, true
}

// CreateSubDirectory creates (or returns, idempotently) a child named name.
func (dir *Directory) CreateSubDirectory(name string) (*Directory, error) {
	childPath, err := dir.tree.CreateSubDirectory(dir.path, name)
	if err != nil {
		return nil, err
	}
	return &Directory{tree: dir.tree, path: childPath}, nil
}

// DeleteSubDirectory drops the child named name and its whole subtree.
func (dir *Directory) DeleteSubDirectory(name string) bool {
	return dir.tree.DeleteSubDirectory(dir.path, name)
}

// HasSubDirectory reports whether dir has a child named name.
func (dir *Directory) HasSubDirectory(name string) bool {
	return dir.tree.HasSubDirectory(dir.path, name)
}

// GetSubDirectory returns a handle to the child named name.
func (dir *Directory) GetSubDirectory(name string) (*Directory, bool) {
	childPath, ok := dir.tree.GetSubDirectory(dir.path, name)
	if !ok {
		return nil, false
	}
	return &Directory{tree: dir.tree, path: childPath}, true
}

// SubDirectoryNames returns the names of dir's direct children.
func (dir *Directory) SubDirectoryNames() []string {
	return dir.tree.SubDirectoryNames(dir.path)
}

// Get returns the value stored under key in dir, and whether it was present.
func (dir *Directory) Get(key string) (interface{}, bool) { return dir.tree.Get(dir.path, key) }

// Has reports whether key is present in dir.
func (dir *Directory) Has(key string) bool { return dir.tree.Has(dir.path, key) }

// Set stores value under key in dir.
func (dir *Directory) Set(key string, value interface{}) error {
	return dir.tree.Set(dir.path, key, value)
}

// CreateValueType stores a new instance of the value type named typeID under
// key in dir, constructed from params.
func (dir *Directory) CreateValueType(key, typeID string, params json.RawMessage) error {
	return dir.tree.CreateValueType(dir.path, key, typeID, params)
}

// Delete removes key from dir, returning whether it was present.
func (dir *Directory) Delete(key string) bool { return dir.tree.Delete(dir.path, key) }

// Clear removes every key from dir (but not its subdirectories).
func (dir *Directory) Clear() { dir.tree.ClearKeys(dir.path) }

// Wait resolves with key's value in dir as soon as it is set.
func (dir *Directory) Wait(ctx context.Context, key string) (interface{}, error) {
	return dir.tree.Wait(ctx, dir.path, key)
}

// Keys returns every key in dir, in insertion order.
func (dir *Directory) Keys() []string { return dir.tree.Keys(dir.path) }

// Values returns every value in dir, in insertion order.
func (dir *Directory) Values() []interface{} { return dir.tree.Values(dir.path) }

// Entries returns every key/value pair in dir, in insertion order.
func (dir *Directory) Entries() []kernel.Entry { return dir.tree.Entries(dir.path) }

// ForEach calls fn for every key/value pair in dir, in insertion order.
func (dir *Directory) ForEach(fn func(value interface{}, key string)) {
	dir.tree.ForEach(dir.path, fn)
}

// Size returns the number of keys directly in dir.
func (dir *Directory) Size() int { return dir.tree.Size(dir.path) }
