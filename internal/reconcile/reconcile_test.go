package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcileKey_LocalEchoIgnored(t *testing.T) {
	tr := NewTracker()
	tr.NotePendingKey("a", 5)

	assert.Equal(t, Ignore, tr.ReconcileKey("a", true, 5), "local echo")
	assert.Equal(t, 0, tr.PendingKeyCount(), "pending marker should clear after its own echo")
}

func TestReconcileKey_RemoteShadowedByPendingLocal(t *testing.T) {
	tr := NewTracker()
	tr.NotePendingKey("a", 5)

	assert.Equal(t, Ignore, tr.ReconcileKey("a", false, 1), "remote write to a pending key")
	assert.Equal(t, 1, tr.PendingKeyCount(), "pending marker should survive a shadowed remote")
}

func TestReconcileKey_RemoteAppliedWhenNoPending(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, Apply, tr.ReconcileKey("a", false, 1), "remote write with no pending marker")
}

func TestReconcileKey_LocalNoPendingIsIgnored(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, Ignore, tr.ReconcileKey("a", true, 1), "local op already applied optimistically")
}

func TestReconcileClear_MasksEveryKey(t *testing.T) {
	tr := NewTracker()
	tr.NotePendingClear(9)

	assert.Equal(t, Ignore, tr.ReconcileKey("any-key", false, 1), "pending clear should mask unrelated remote key op")
	assert.Equal(t, Ignore, tr.ReconcileSubDir("any-subdir", false, 1), "pending clear should mask unrelated remote subdir op")
	assert.True(t, tr.HasPendingClear(), "pending clear marker should still be set")

	assert.Equal(t, Ignore, tr.ReconcileClear(true, 9), "own clear echo")
	assert.False(t, tr.HasPendingClear(), "pending clear marker should clear after its own echo")
}

func TestReconcileClear_SecondLocalClearOverwritesMarker(t *testing.T) {
	tr := NewTracker()
	tr.NotePendingClear(1)
	tr.NotePendingClear(2)

	// The echo of the first clear (client-seq 1) must not clear the marker;
	// only the second (the one actually still pending) should.
	assert.Equal(t, Ignore, tr.ReconcileClear(true, 1), "stale echo")
	assert.True(t, tr.HasPendingClear(), "marker should survive a stale echo from a superseded clear")

	assert.Equal(t, Ignore, tr.ReconcileClear(true, 2), "current echo")
	assert.False(t, tr.HasPendingClear(), "marker should clear once the current clear's echo arrives")
}

func TestReconcileSubDir_Symmetric(t *testing.T) {
	tr := NewTracker()
	tr.NotePendingSubDir("docs", 3)

	assert.Equal(t, Ignore, tr.ReconcileSubDir("docs", false, 1), "remote shadowed by pending local")
	assert.Equal(t, Ignore, tr.ReconcileSubDir("docs", true, 3), "own echo")
	assert.Equal(t, 0, tr.PendingSubDirCount(), "marker should clear after echo")
	assert.Equal(t, Apply, tr.ReconcileSubDir("docs", false, 1), "remote with no pending marker")
}
