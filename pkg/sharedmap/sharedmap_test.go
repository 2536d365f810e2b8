package sharedmap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webflow/shareddata/internal/blobstore"
	"github.com/webflow/shareddata/internal/ordering"
)

func TestUnattachedSetIsVisibleLocally(t *testing.T) {
	m := New("map-1", Options{})
	require.NoError(t, m.Set("k", "v"))

	got, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
	assert.False(t, m.IsAttached(), "should not be attached yet")
}

func TestAttach_ReplaysQueuedOpsAndSyncsTwoReplicas(t *testing.T) {
	hub := ordering.NewMemoryOrderingService()

	a := New("map-1", Options{})
	a.Set("pre-attach-key", "queued-value")

	// b's hub client must already be attached before a replays, or it will
	// simply miss the broadcast the same way a real ordering service's late
	// joiner would (catching up is a job for Snapshot/Load, not replay).
	clientB := hub.NewClient()
	b := New("map-1", Options{})
	b.Attach(clientB, nil)

	clientA := hub.NewClient()
	a.Attach(clientA, nil)

	got, ok := b.Get("pre-attach-key")
	require.True(t, ok, "replica b should have received the replayed op")
	assert.Equal(t, "queued-value", got)

	a.Set("live-key", "live-value")
	got, ok = b.Get("live-key")
	require.True(t, ok, "replica b should observe a's live write")
	assert.Equal(t, "live-value", got)
}

func TestWait_AcrossAttachedReplicas(t *testing.T) {
	hub := ordering.NewMemoryOrderingService()

	a := New("map-1", Options{})
	a.Attach(hub.NewClient(), nil)
	b := New("map-1", Options{})
	b.Attach(hub.NewClient(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	var got interface{}
	go func() {
		got, _ = b.Wait(ctx, "k")
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	a.Set("k", "arrived")

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Wait did not resolve in time")
	}
	assert.Equal(t, "arrived", got)
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	store := blobstore.NewMemoryStore()

	src := New("map-1", Options{})
	src.Set("a", "1")
	src.Set("b", "2")
	require.NoError(t, src.Snapshot(store))

	dst := New("map-1", Options{})
	require.NoError(t, dst.Load(store))

	v, ok := dst.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, 2, dst.Size())
}

func TestLoad_FailsAfterAttach(t *testing.T) {
	hub := ordering.NewMemoryOrderingService()
	m := New("map-1", Options{})
	m.Attach(hub.NewClient(), nil)

	err := m.Load(blobstore.NewMemoryStore())
	assert.Error(t, err, "expected Load to refuse once attached")
}
