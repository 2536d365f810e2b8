package kernel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webflow/shareddata/internal/events"
	"github.com/webflow/shareddata/internal/op"
	"github.com/webflow/shareddata/internal/values"
)

// loopback is a minimal Submit func: it assigns a monotonically increasing
// client-sequence-number and delivers nothing, so each test drives
// HandleMessage itself and decides whether to treat a message as local or
// remote.
type loopback struct {
	cs int64
}

func (l *loopback) submit(operation op.Operation, onAssigned func(int64)) int64 {
	l.cs++
	if onAssigned != nil {
		onAssigned(l.cs)
	}
	return l.cs
}

func newTestKernel(t *testing.T) (*Kernel, *loopback) {
	t.Helper()
	lb := &loopback{}
	k := New(Config{
		Submit:   lb.submit,
		Registry: values.NewRegistry(),
		Bus:      events.New(),
	})
	return k, lb
}

func TestSet_AppliesLocallyAndTracksPending(t *testing.T) {
	k, _ := newTestKernel(t)

	require.NoError(t, k.Set("a", "hello"))

	v, ok := k.Get("a")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	assert.Equal(t, 1, k.Tracker().PendingKeyCount(), "expected a pending marker for the just-submitted set")
}

func TestHandleMessage_OwnEchoClearsPendingWithoutDoubleApply(t *testing.T) {
	k, _ := newTestKernel(t)

	var changes int
	k.Bus().On(events.ValueChanged, func(local bool, _ *op.SequencedMessage, payload interface{}) {
		changes++
	})

	require.NoError(t, k.Set("a", "v1"))
	assert.Equal(t, 1, changes, "local apply should fire valueChanged once")

	serializable, err := values.MakeSerializable(values.LocalValue{TypeName: op.SerializableTypePlain, Value: "v1"}, k.registry, nil)
	require.NoError(t, err)
	msg := op.SequencedMessage{
		ClientSequenceNumber: 1,
		Contents:             op.NewSet("", "a", serializable),
	}
	k.HandleMessage(msg, true)

	assert.Equal(t, 1, changes, "own echo must not re-fire valueChanged")
	assert.Equal(t, 0, k.Tracker().PendingKeyCount(), "echo should clear the pending marker")
}

func TestHandleMessage_RemoteAppliesWhenNoPendingLocal(t *testing.T) {
	k, _ := newTestKernel(t)

	serializable, err := values.PlainSerializable("remote-value")
	require.NoError(t, err)
	msg := op.SequencedMessage{
		ClientSequenceNumber: 7,
		Contents:             op.NewSet("", "a", serializable),
	}
	k.HandleMessage(msg, false)

	v, ok := k.Get("a")
	require.True(t, ok)
	assert.Equal(t, "remote-value", v)
}

func TestHandleMessage_RemoteShadowedByPendingLocalIsIgnored(t *testing.T) {
	k, _ := newTestKernel(t)
	require.NoError(t, k.Set("a", "local-write"))

	remote, err := values.PlainSerializable("remote-write")
	require.NoError(t, err)
	msg := op.SequencedMessage{
		ClientSequenceNumber: 99,
		Contents:             op.NewSet("", "a", remote),
	}
	k.HandleMessage(msg, false)

	v, _ := k.Get("a")
	assert.Equal(t, "local-write", v, "pending local write should shadow the remote one")
}

func TestDelete_RemovesKeyAndPreservesOrder(t *testing.T) {
	k, _ := newTestKernel(t)
	k.Set("a", 1)
	k.Set("b", 2)
	k.Set("c", 3)

	assert.True(t, k.Delete("b"), "Delete should report b existed")
	assert.Equal(t, []string{"a", "c"}, k.Keys())
}

func TestClear_WipesAllKeysAndMasksFollowingRemote(t *testing.T) {
	k, _ := newTestKernel(t)
	k.Set("a", 1)
	k.Clear()

	require.Equal(t, 0, k.Size(), "expected empty kernel after Clear")

	remote, err := values.PlainSerializable("late-write")
	require.NoError(t, err)
	msg := op.SequencedMessage{
		ClientSequenceNumber: 1,
		Contents:             op.NewSet("", "a", remote),
	}
	k.HandleMessage(msg, false)
	assert.False(t, k.Has("a"), "a pending clear should mask a remote write racing it")
}

func TestWait_ResolvesOnSubsequentSet(t *testing.T) {
	k, _ := newTestKernel(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	var got interface{}
	go func() {
		got, _ = k.Wait(ctx, "a")
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	k.Set("a", "arrived")

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Wait did not resolve in time")
	}
	assert.Equal(t, "arrived", got)
}

func TestWait_ResolvesImmediatelyIfAlreadyPresent(t *testing.T) {
	k, _ := newTestKernel(t)
	k.Set("a", "already-there")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := k.Wait(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "already-there", got)
}

func TestSnapshotEntriesAndPopulateRoundTrip(t *testing.T) {
	src, _ := newTestKernel(t)
	src.Set("a", "1")
	src.Set("b", float64(2))

	entries, err := src.SnapshotEntries()
	require.NoError(t, err)

	dst, _ := newTestKernel(t)
	for _, e := range entries {
		require.NoError(t, dst.Populate(e.Key, e.Value))
	}

	got, ok := dst.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", got)

	got, ok = dst.Get("b")
	require.True(t, ok)
	assert.Equal(t, float64(2), got)

	assert.Equal(t, 0, dst.Tracker().PendingKeyCount(), "Populate must not create pending markers")
}

func TestCreateValueType_StoresLiveObjectThatMutatesLocally(t *testing.T) {
	k, _ := newTestKernel(t)
	k.registry.Register(counterValueType{})

	require.NoError(t, k.CreateValueType("c", "counter", json.RawMessage(`0`)))

	live, ok := k.Get("c")
	require.True(t, ok, "expected c to be present")
	ctr := live.(*counter)
	ctr.Increment(3)

	assert.Equal(t, 3, ctr.n)
}

// counter is a minimal ValueType used only to exercise CreateValueType/act.
type counter struct {
	n    int
	emit values.OpEmitter
}

func (c *counter) Increment(by int) {
	c.n += by
	params, _ := json.Marshal(by)
	c.emit.Emit("increment", params, c.n-by)
}

type counterValueType struct{}

func (counterValueType) Name() string { return "counter" }

func (counterValueType) Load(params json.RawMessage, emitter values.OpEmitter) (interface{}, error) {
	var n int
	if len(params) > 0 {
		if err := json.Unmarshal(params, &n); err != nil {
			return nil, err
		}
	}
	return &counter{n: n, emit: emitter}, nil
}

func (counterValueType) Store(live interface{}) (json.RawMessage, error) {
	return json.Marshal(live.(*counter).n)
}

func (counterValueType) OpHandlers() map[string]values.OpHandler {
	return map[string]values.OpHandler{
		"increment": {
			Prepare: func(currentValue interface{}, params json.RawMessage, local bool, message *op.SequencedMessage) (interface{}, error) {
				return nil, nil
			},
			Process: func(previousValue interface{}, params json.RawMessage, prepContext interface{}, local bool, message *op.SequencedMessage) (interface{}, error) {
				c := previousValue.(*counter)
				var by int
				if err := json.Unmarshal(params, &by); err != nil {
					return nil, err
				}
				if !local {
					c.n += by
				}
				return c, nil
			},
		},
	}
}
