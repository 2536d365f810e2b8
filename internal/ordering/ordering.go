// Package ordering declares the external ordering-service interface this
// core consumes (spec §1, §6) and supplies an in-memory reference
// implementation for tests and the cmd/demo program. The reference
// implementation is grounded on the teacher's NetworkManager: a mutex-guarded
// registry of per-type message handlers that fans inbound traffic out to
// every registered listener (internal/network/network_manager.go).
package ordering

import (
	"sync"

	"github.com/google/uuid"
	"github.com/webflow/shareddata/internal/op"
)

// Service is the interface this core consumes from the ordering service: a
// way to submit a locally-authored operation and get back the assigned
// client-sequence-number (or -1 if not currently attached), plus a way to
// subscribe to the stream of sequenced messages every attached replica
// observes in the same total order.
type Service interface {
	// SubmitLocalMessage assigns a client-sequence-number to op and enqueues
	// it for ordering. Returns -1 if the caller is not attached.
	SubmitLocalMessage(operation op.Operation) int64
	// OnMessage registers a handler invoked for every sequenced message this
	// client observes, including echoes of its own submissions.
	OnMessage(handler func(op.SequencedMessage))
	// ClientID returns this replica's stable identifier, echoed back as
	// SequencedMessage.ClientID on every message it submits.
	ClientID() string
}

// MemoryOrderingService is an in-memory, goroutine-safe reference
// implementation of the consumed ordering-service interface. It assigns a
// single global sequence number across all clients attached to it and
// delivers every sequenced message to every client synchronously, in
// submission order — sufficient for tests and the demo, not a substitute for
// a real multi-process ordering service.
type MemoryOrderingService struct {
	mu             sync.Mutex
	sequenceNumber int64
	clients        map[string]*MemoryClient
}

// NewMemoryOrderingService constructs an empty hub with no attached clients.
func NewMemoryOrderingService() *MemoryOrderingService {
	return &MemoryOrderingService{clients: make(map[string]*MemoryClient)}
}

// NewClient attaches a new replica to the hub and returns its Service handle.
// The returned client starts attached: callers that want to exercise the
// unattached-submit path should use a MemoryClient directly via NewClient and
// call Detach before submitting.
func (s *MemoryOrderingService) NewClient() *MemoryClient {
	c := &MemoryClient{
		svc:      s,
		clientID: uuid.NewString(),
		attached: true,
	}
	s.mu.Lock()
	s.clients[c.clientID] = c
	s.mu.Unlock()
	return c
}

// remove drops a client from the hub's delivery list without destroying it;
// MemoryClient.Detach calls it. The client receives no sequenced messages
// until it is registered again.
func (s *MemoryOrderingService) remove(clientID string) {
	s.mu.Lock()
	delete(s.clients, clientID)
	s.mu.Unlock()
}

func (s *MemoryOrderingService) register(c *MemoryClient) {
	s.mu.Lock()
	s.clients[c.clientID] = c
	s.mu.Unlock()
}

func (s *MemoryOrderingService) nextSequenceNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequenceNumber++
	return s.sequenceNumber
}

func (s *MemoryOrderingService) broadcast(msg op.SequencedMessage) {
	s.mu.Lock()
	recipients := make([]*MemoryClient, 0, len(s.clients))
	for _, c := range s.clients {
		recipients = append(recipients, c)
	}
	s.mu.Unlock()

	for _, c := range recipients {
		c.deliver(msg)
	}
}

// MemoryClient is one replica's handle onto a MemoryOrderingService.
type MemoryClient struct {
	svc      *MemoryOrderingService
	clientID string

	mu        sync.Mutex
	attached  bool
	clientSeq int64
	handlers  []func(op.SequencedMessage)
}

// SubmitLocalMessage implements Service.
func (c *MemoryClient) SubmitLocalMessage(operation op.Operation) int64 {
	c.mu.Lock()
	if !c.attached {
		c.mu.Unlock()
		return -1
	}
	c.clientSeq++
	cs := c.clientSeq
	c.mu.Unlock()

	c.svc.broadcast(op.SequencedMessage{
		Type:                 op.MessageTypeOp,
		ClientID:             c.clientID,
		ClientSequenceNumber: cs,
		SequenceNumber:       c.svc.nextSequenceNumber(),
		Contents:             operation,
	})
	return cs
}

// OnMessage implements Service.
func (c *MemoryClient) OnMessage(handler func(op.SequencedMessage)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, handler)
	c.mu.Unlock()
}

// ClientID implements Service.
func (c *MemoryClient) ClientID() string { return c.clientID }

// Attach re-registers the client with its hub so it resumes receiving and
// producing sequenced messages.
func (c *MemoryClient) Attach() {
	c.mu.Lock()
	c.attached = true
	c.mu.Unlock()
	c.svc.register(c)
}

// Detach stops the client from submitting or receiving sequenced messages
// until Attach is called again; SubmitLocalMessage returns -1 while detached.
func (c *MemoryClient) Detach() {
	c.mu.Lock()
	c.attached = false
	c.mu.Unlock()
	c.svc.remove(c.clientID)
}

func (c *MemoryClient) deliver(msg op.SequencedMessage) {
	c.mu.Lock()
	attached := c.attached
	handlers := make([]func(op.SequencedMessage), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	if !attached {
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}
