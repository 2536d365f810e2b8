package ordering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webflow/shareddata/internal/op"
)

func TestSubmitLocalMessage_BroadcastsToAllAttachedClients(t *testing.T) {
	svc := NewMemoryOrderingService()
	a := svc.NewClient()
	b := svc.NewClient()

	var received []op.SequencedMessage
	b.OnMessage(func(msg op.SequencedMessage) { received = append(received, msg) })

	cs := a.SubmitLocalMessage(op.NewSet("", "k", op.Serializable{}))
	require.Equal(t, int64(1), cs)
	require.Len(t, received, 1)
	assert.Equal(t, a.ClientID(), received[0].ClientID)
}

func TestSubmitLocalMessage_DetachedReturnsMinusOne(t *testing.T) {
	svc := NewMemoryOrderingService()
	c := svc.NewClient()
	c.Detach()

	assert.Equal(t, int64(-1), c.SubmitLocalMessage(op.NewClear("")))
}

func TestDetach_StopsDelivery(t *testing.T) {
	svc := NewMemoryOrderingService()
	a := svc.NewClient()
	b := svc.NewClient()
	b.Detach()

	var received int
	b.OnMessage(func(op.SequencedMessage) { received++ })
	a.SubmitLocalMessage(op.NewClear(""))

	assert.Equal(t, 0, received, "detached client should not receive messages")
}

func TestReattach_ResumesDelivery(t *testing.T) {
	svc := NewMemoryOrderingService()
	a := svc.NewClient()
	b := svc.NewClient()
	b.Detach()
	b.Attach()

	var received int
	b.OnMessage(func(op.SequencedMessage) { received++ })
	a.SubmitLocalMessage(op.NewClear(""))

	assert.Equal(t, 1, received, "want 1 after reattaching")
}

func TestSequenceNumber_MonotonicAcrossClients(t *testing.T) {
	svc := NewMemoryOrderingService()
	a := svc.NewClient()
	b := svc.NewClient()

	var seqs []int64
	a.OnMessage(func(msg op.SequencedMessage) { seqs = append(seqs, msg.SequenceNumber) })

	a.SubmitLocalMessage(op.NewClear(""))
	b.SubmitLocalMessage(op.NewClear(""))

	require.Len(t, seqs, 2)
	assert.Less(t, seqs[0], seqs[1], "expected strictly increasing global sequence numbers")
}
