package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webflow/shareddata/internal/op"
)

func TestEmit_InvokesListenersInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int
	b.On(Op, func(bool, *op.SequencedMessage, interface{}) { order = append(order, 1) })
	b.On(Op, func(bool, *op.SequencedMessage, interface{}) { order = append(order, 2) })
	b.On(Op, func(bool, *op.SequencedMessage, interface{}) { order = append(order, 3) })

	b.Emit(Op, true, nil, op.Operation{Type: op.TypeClear})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmit_OnlyInvokesListenersForThatEventName(t *testing.T) {
	b := New()
	var valueChangedFired, clearFired bool
	b.On(ValueChanged, func(bool, *op.SequencedMessage, interface{}) { valueChangedFired = true })
	b.On(Clear, func(bool, *op.SequencedMessage, interface{}) { clearFired = true })

	b.Emit(ValueChanged, true, nil, ValueChangedData{Key: "k"})

	assert.True(t, valueChangedFired, "expected the valueChanged listener to fire")
	assert.False(t, clearFired, "clear listener should not fire for a valueChanged emit")
}

func TestUnsubscribe_StopsFutureDelivery(t *testing.T) {
	b := New()
	var calls int
	unsubscribe := b.On(Op, func(bool, *op.SequencedMessage, interface{}) { calls++ })

	b.Emit(Op, true, nil, op.Operation{})
	unsubscribe()
	b.Emit(Op, true, nil, op.Operation{})

	assert.Equal(t, 1, calls)
}

func TestEmit_PassesLocalAndMessageThrough(t *testing.T) {
	b := New()
	msg := &op.SequencedMessage{ClientSequenceNumber: 42}

	var gotLocal bool
	var gotMsg *op.SequencedMessage
	b.On(Op, func(local bool, message *op.SequencedMessage, _ interface{}) {
		gotLocal = local
		gotMsg = message
	})

	b.Emit(Op, false, msg, op.Operation{})

	assert.False(t, gotLocal, "expected local=false to be passed through")
	assert.Same(t, msg, gotMsg, "expected the same message pointer to be passed through")
}
