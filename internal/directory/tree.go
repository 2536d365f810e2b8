// Package directory implements SubDirectory (spec §4.2) and the
// SharedDirectory op-router (spec §4.3): a tree of nodes addressed by
// absolute POSIX-style path, each backed by an internal/kernel.Kernel for
// its own key storage, plus the routing of inbound sequenced messages to
// the right node by (operation type, path).
//
// Per spec §9's "cyclic / back references" design note, a node never holds
// a pointer back to its parent or owner: Tree is the sole arena, keyed by
// absolute path, and every operation goes through it rather than through
// node-to-node links. A node's only "address" is its absolutePath string.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/webflow/shareddata/internal/events"
	"github.com/webflow/shareddata/internal/kernel"
	"github.com/webflow/shareddata/internal/monitoring"
	"github.com/webflow/shareddata/internal/op"
	"github.com/webflow/shareddata/internal/reconcile"
	"github.com/webflow/shareddata/internal/values"
)

// RootPath is the absolute path of the root SubDirectory node.
const RootPath = "/"

// node is one arena entry: a SubDirectory's storage kernel plus the names
// and paths of its children.
type node struct {
	absolutePath string
	kernel       *kernel.Kernel
	childNames   map[string]string // child name -> child absolute path
}

// Deps are the dependencies every node's Kernel is constructed with; shared
// across the whole tree so every node emits onto the same event bus and
// submits through the same ordering-service adapter.
type Deps struct {
	Submit    func(operation op.Operation, onAssigned func(clientSequenceNumber int64)) int64
	Registry  *values.Registry
	HandleCtx values.HandleContext
	Bus       *events.Bus
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// Tree is the root + arena + op-router of spec §4.3.
type Tree struct {
	deps  Deps
	nodes map[string]*node
}

// NewTree constructs a Tree containing just the root node at RootPath.
func NewTree(deps Deps) *Tree {
	t := &Tree{deps: deps, nodes: make(map[string]*node)}
	t.nodes[RootPath] = t.newNode(RootPath)
	return t
}

func (t *Tree) newNode(absolutePath string) *node {
	k := kernel.New(kernel.Config{
		Path:      absolutePath,
		Submit:    t.deps.Submit,
		Registry:  t.deps.Registry,
		HandleCtx: t.deps.HandleCtx,
		Bus:       t.deps.Bus,
		Metrics:   t.deps.Metrics,
		Logger:    t.deps.Logger,
	})
	return &node{absolutePath: absolutePath, kernel: k, childNames: make(map[string]string)}
}

func (t *Tree) nodeAt(p string) (*node, bool) {
	n, ok := t.nodes[p]
	return n, ok
}

// resolvePath implements spec §4.2's "posix.resolve(sep, path)": an absolute
// relOrAbs (leading "/") replaces base entirely; otherwise it is joined
// against base. Both are cleaned so ".."/"." components collapse.
func resolvePath(base, relOrAbs string) string {
	if strings.HasPrefix(relOrAbs, "/") {
		return path.Clean(relOrAbs)
	}
	return path.Clean(path.Join(base, relOrAbs))
}

// HasNode reports whether p names a live SubDirectory node.
func (t *Tree) HasNode(p string) bool {
	_, ok := t.nodes[p]
	return ok
}

// GetWorkingDirectory resolves relOrAbs against fromPath and returns the
// resolved absolute path, or false if no node lives there (spec §4.2).
func (t *Tree) GetWorkingDirectory(fromPath, relOrAbs string) (string, bool) {
	resolved := resolvePath(fromPath, relOrAbs)
	_, ok := t.nodes[resolved]
	return resolved, ok
}

// CreateSubDirectory creates (or, idempotently, returns) a child named name
// under parentPath, submitting a createSubDirectory op either way (spec
// §4.2).
func (t *Tree) CreateSubDirectory(parentPath, name string) (string, error) {
	if strings.Contains(name, "/") {
		return "", fmt.Errorf("directory: subdirectory name %q must not contain %q", name, "/")
	}
	parent, ok := t.nodeAt(parentPath)
	if !ok {
		return "", fmt.Errorf("directory: no such directory %q", parentPath)
	}

	o := op.NewCreateSubDirectory(parentPath, name)
	if existingPath, exists := parent.childNames[name]; exists {
		parent.kernel.Submit(o, func(cs int64) { parent.kernel.Tracker().NotePendingSubDir(name, cs) })
		t.syncPendingSubDirGauge(parent)
		if t.deps.Metrics != nil {
			t.deps.Metrics.OperationsSubmitted.Inc()
		}
		return existingPath, nil
	}

	t.deps.Bus.Emit(events.PreOp, true, nil, o)
	childPath := path.Join(parentPath, name)
	t.nodes[childPath] = t.newNode(childPath)
	parent.childNames[name] = childPath
	t.deps.Bus.Emit(events.Op, true, nil, o)
	parent.kernel.Submit(o, func(cs int64) { parent.kernel.Tracker().NotePendingSubDir(name, cs) })
	t.syncPendingSubDirGauge(parent)
	if t.deps.Metrics != nil {
		t.deps.Metrics.OperationsSubmitted.Inc()
	}
	return childPath, nil
}

// DeleteSubDirectory drops the child named name, and its entire subtree,
// from parentPath. No per-descendant valueChanged events are fired (spec
// §4.2/§9). Returns whether the child existed locally.
func (t *Tree) DeleteSubDirectory(parentPath, name string) bool {
	parent, ok := t.nodeAt(parentPath)
	if !ok {
		return false
	}
	childPath, existed := parent.childNames[name]

	o := op.NewDeleteSubDirectory(parentPath, name)
	t.deps.Bus.Emit(events.PreOp, true, nil, o)
	if existed {
		t.removeSubtree(childPath)
		delete(parent.childNames, name)
	}
	t.deps.Bus.Emit(events.Op, true, nil, o)
	parent.kernel.Submit(o, func(cs int64) { parent.kernel.Tracker().NotePendingSubDir(name, cs) })
	t.syncPendingSubDirGauge(parent)
	if t.deps.Metrics != nil {
		t.deps.Metrics.OperationsSubmitted.Inc()
	}
	return existed
}

// syncPendingSubDirGauge refreshes the PendingSubDirs gauge from parent's
// Tracker. The gauge is process-wide, not per-node, so concurrent directories
// sharing the same Metrics will overwrite each other's last value; acceptable
// for the coarse "is reconciliation backing up" signal it exists for.
func (t *Tree) syncPendingSubDirGauge(parent *node) {
	if t.deps.Metrics != nil {
		t.deps.Metrics.PendingSubDirs.Set(float64(parent.kernel.Tracker().PendingSubDirCount()))
	}
}

func (t *Tree) removeSubtree(rootPath string) {
	n, ok := t.nodes[rootPath]
	if !ok {
		return
	}
	for _, childPath := range n.childNames {
		t.removeSubtree(childPath)
	}
	delete(t.nodes, rootPath)
}

// HasSubDirectory reports whether parentPath has a child named name.
func (t *Tree) HasSubDirectory(parentPath, name string) bool {
	parent, ok := t.nodeAt(parentPath)
	if !ok {
		return false
	}
	_, exists := parent.childNames[name]
	return exists
}

// GetSubDirectory returns the absolute path of the child named name under
// parentPath.
func (t *Tree) GetSubDirectory(parentPath, name string) (string, bool) {
	parent, ok := t.nodeAt(parentPath)
	if !ok {
		return "", false
	}
	childPath, exists := parent.childNames[name]
	return childPath, exists
}

// SubDirectoryNames returns the names of parentPath's direct children, in
// no particular order.
func (t *Tree) SubDirectoryNames(parentPath string) []string {
	parent, ok := t.nodeAt(parentPath)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(parent.childNames))
	for name := range parent.childNames {
		names = append(names, name)
	}
	return names
}

// --- per-node key-space API, delegating to the node's Kernel ---

func (t *Tree) Get(p, key string) (interface{}, bool) {
	n, ok := t.nodeAt(p)
	if !ok {
		return nil, false
	}
	return n.kernel.Get(key)
}

func (t *Tree) Has(p, key string) bool {
	n, ok := t.nodeAt(p)
	return ok && n.kernel.Has(key)
}

func (t *Tree) Set(p, key string, value interface{}) error {
	n, ok := t.nodeAt(p)
	if !ok {
		return fmt.Errorf("directory: no such directory %q", p)
	}
	return n.kernel.Set(key, value)
}

func (t *Tree) CreateValueType(p, key, typeID string, params json.RawMessage) error {
	n, ok := t.nodeAt(p)
	if !ok {
		return fmt.Errorf("directory: no such directory %q", p)
	}
	return n.kernel.CreateValueType(key, typeID, params)
}

func (t *Tree) Delete(p, key string) bool {
	n, ok := t.nodeAt(p)
	return ok && n.kernel.Delete(key)
}

func (t *Tree) ClearKeys(p string) {
	if n, ok := t.nodeAt(p); ok {
		n.kernel.Clear()
	}
}

func (t *Tree) Wait(ctx context.Context, p, key string) (interface{}, error) {
	n, ok := t.nodeAt(p)
	if !ok {
		return nil, fmt.Errorf("directory: no such directory %q", p)
	}
	return n.kernel.Wait(ctx, key)
}

func (t *Tree) Keys(p string) []string {
	n, ok := t.nodeAt(p)
	if !ok {
		return nil
	}
	return n.kernel.Keys()
}

func (t *Tree) Values(p string) []interface{} {
	n, ok := t.nodeAt(p)
	if !ok {
		return nil
	}
	return n.kernel.Values()
}

func (t *Tree) Entries(p string) []kernel.Entry {
	n, ok := t.nodeAt(p)
	if !ok {
		return nil
	}
	return n.kernel.Entries()
}

func (t *Tree) ForEach(p string, fn func(value interface{}, key string)) {
	if n, ok := t.nodeAt(p); ok {
		n.kernel.ForEach(fn)
	}
}

func (t *Tree) Size(p string) int {
	n, ok := t.nodeAt(p)
	if !ok {
		return 0
	}
	return n.kernel.Size()
}

// --- inbound sequenced-message routing (spec §4.3) ---

// HandleMessage dispatches msg to the node named by its operation's path,
// delegating key-scoped ops to the node's Kernel and handling the two
// subdirectory-lifecycle ops itself. Unroutable ops (unknown type, or a
// path whose node no longer exists) are dropped without returning an error,
// per spec §4.1 "Failure semantics" / §7 "Unknown-op"; an unknown type is
// also logged at warn.
func (t *Tree) HandleMessage(msg op.SequencedMessage, local bool) {
	o := msg.Contents
	switch o.Type {
	case op.TypeSet, op.TypeDelete, op.TypeClear, op.TypeAct:
		n, ok := t.nodeAt(o.Path)
		if !ok {
			if t.deps.Metrics != nil {
				t.deps.Metrics.OperationsUnknown.Inc()
			}
			return
		}
		n.kernel.HandleMessage(msg, local)
	case op.TypeCreateSubDirectory:
		t.handleCreateSubDirectory(msg, local)
	case op.TypeDeleteSubDirectory:
		t.handleDeleteSubDirectory(msg, local)
	default:
		if t.deps.Metrics != nil {
			t.deps.Metrics.OperationsUnknown.Inc()
		}
		if t.deps.Logger != nil {
			t.deps.Logger.Warn("directory: unknown operation type", zap.String("type", string(o.Type)))
		}
	}
}

func (t *Tree) handleCreateSubDirectory(msg op.SequencedMessage, local bool) {
	o := msg.Contents
	parent, ok := t.nodeAt(o.Path)
	if !ok {
		return
	}
	decision := parent.kernel.Tracker().ReconcileSubDir(o.SubdirName, local, msg.ClientSequenceNumber)
	t.syncPendingSubDirGauge(parent)
	if decision == reconcile.Ignore {
		if t.deps.Metrics != nil {
			t.deps.Metrics.OperationsIgnored.Inc()
		}
		return
	}
	if _, exists := parent.childNames[o.SubdirName]; exists {
		return
	}
	t.deps.Bus.Emit(events.PreOp, local, &msg, o)
	childPath := path.Join(o.Path, o.SubdirName)
	t.nodes[childPath] = t.newNode(childPath)
	parent.childNames[o.SubdirName] = childPath
	t.deps.Bus.Emit(events.Op, local, &msg, o)
	if t.deps.Metrics != nil {
		t.deps.Metrics.OperationsApplied.Inc()
	}
}

func (t *Tree) handleDeleteSubDirectory(msg op.SequencedMessage, local bool) {
	o := msg.Contents
	parent, ok := t.nodeAt(o.Path)
	if !ok {
		return
	}
	decision := parent.kernel.Tracker().ReconcileSubDir(o.SubdirName, local, msg.ClientSequenceNumber)
	t.syncPendingSubDirGauge(parent)
	if decision == reconcile.Ignore {
		if t.deps.Metrics != nil {
			t.deps.Metrics.OperationsIgnored.Inc()
		}
		return
	}
	childPath, exists := parent.childNames[o.SubdirName]
	if !exists {
		return
	}
	t.deps.Bus.Emit(events.PreOp, local, &msg, o)
	t.removeSubtree(childPath)
	delete(parent.childNames, o.SubdirName)
	t.deps.Bus.Emit(events.Op, local, &msg, o)
	if t.deps.Metrics != nil {
		t.deps.Metrics.OperationsApplied.Inc()
	}
}

// --- snapshot (spec §4.4 "SharedDirectory uses a simpler scheme") ---

// DataObject is IDirectoryDataObject (spec §6): a recursive tree of a node's
// own storage plus its named subdirectories.
type DataObject struct {
	Storage        map[string]op.Serializable `json:"storage,omitempty"`
	Subdirectories map[string]DataObject      `json:"subdirectories,omitempty"`
}

// Snapshot projects the whole tree, rooted at RootPath, to a DataObject.
func (t *Tree) Snapshot() (DataObject, error) {
	return t.snapshotNode(RootPath)
}

func (t *Tree) snapshotNode(p string) (DataObject, error) {
	n := t.nodes[p]
	entries, err := n.kernel.SnapshotEntries()
	if err != nil {
		return DataObject{}, err
	}
	var storage map[string]op.Serializable
	if len(entries) > 0 {
		storage = make(map[string]op.Serializable, len(entries))
		for _, e := range entries {
			storage[e.Key] = e.Value
		}
	}
	var subdirs map[string]DataObject
	if len(n.childNames) > 0 {
		subdirs = make(map[string]DataObject, len(n.childNames))
		for name, childPath := range n.childNames {
			child, err := t.snapshotNode(childPath)
			if err != nil {
				return DataObject{}, err
			}
			subdirs[name] = child
		}
	}
	return DataObject{Storage: storage, Subdirectories: subdirs}, nil
}

// Populate restores the whole tree from obj, rooted at RootPath. Used only
// during snapshot restore, before the container is attached: it bypasses
// pre-op/valueChanged/op submission entirely, the same as Kernel.Populate.
func (t *Tree) Populate(obj DataObject) error {
	return t.populateNode(RootPath, obj)
}

func (t *Tree) populateNode(p string, obj DataObject) error {
	n, ok := t.nodeAt(p)
	if !ok {
		return fmt.Errorf("directory: populate: missing node %q", p)
	}
	for key, value := range obj.Storage {
		if err := n.kernel.Populate(key, value); err != nil {
			return err
		}
	}
	for name, childObj := range obj.Subdirectories {
		childPath := path.Join(p, name)
		if _, exists := t.nodes[childPath]; !exists {
			t.nodes[childPath] = t.newNode(childPath)
			n.childNames[name] = childPath
		}
		if err := t.populateNode(childPath, childObj); err != nil {
			return err
		}
	}
	return nil
}
