package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bridgerpc/bridgerpc/envelope"
	"github.com/bridgerpc/bridgerpc/transport"
)

// Connection is the outcome of a completed handshake (spec §3): a
// live, correlated channel between this engine and one peer, reached
// through Remote for outgoing calls and dispatching incoming ones to
// the handlers extracted from the local schema.
type Connection struct {
	ID     string
	Remote *Remote

	engine *Engine
	ep     transport.Endpoint
	isHost bool

	handlers map[string]Handler

	pendingMu sync.Mutex
	pending   map[string]*pendingCall

	ready chan struct{}

	sub       transport.Subscription
	closeOnce sync.Once
}

func (c *Connection) handle(env *envelope.Envelope) {
	if env.ConnID != c.ID {
		return
	}
	switch env.Action {
	case envelope.RPCRequest:
		go c.dispatchRequest(env)
	case envelope.RPCResolve, envelope.RPCReject:
		c.pendingMu.Lock()
		pc, ok := c.pending[env.CallID]
		if ok {
			delete(c.pending, env.CallID)
		}
		c.pendingMu.Unlock()
		if ok {
			pc.done <- env
		}
	}
}

func (c *Connection) dispatchRequest(env *envelope.Envelope) {
	h, ok := c.handlers[env.Method]
	if !ok {
		return // no handler advertised under this name; nothing sane to answer with
	}

	result, err := h(context.Background(), env.Args, &CallContext{Peer: c.Remote})

	reply := envelope.New(envelope.RPCResolve)
	reply.ConnID = c.ID
	reply.CallID = env.CallID
	reply.Method = env.Method

	opts := transport.SendOptions{}

	if err != nil {
		reply.Action = envelope.RPCReject
		reply.Error = marshalError(err)
	} else {
		value := result
		if t, ok := result.(*Transferred); ok {
			value = t.Value
			opts.Transfer = t.Buffers
		}
		data, merr := json.Marshal(value)
		if merr != nil {
			reply.Action = envelope.RPCReject
			reply.Error = marshalError(merr)
		} else {
			reply.Result = data
		}
	}

	_ = c.ep.Send(context.Background(), reply, opts)
}

// Close tears down the connection: unsubscribes from the transport,
// drops it from the engine's registry, unblocks any Call still waiting
// on a reply with ErrConnectionClosed, and closes the underlying
// endpoint — the Go rendering of spec §4.3's "for host-created worker
// endpoints, terminates the worker." A reply that arrives after Close
// is simply dropped by handle's ConnID/CallID lookup, since both maps
// are already gone by then. Idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		if c.sub != nil {
			c.sub.Unsubscribe()
		}
		c.engine.unregister(c.ID)

		c.pendingMu.Lock()
		for id, pc := range c.pending {
			pc.done <- nil
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		if c.ep != nil {
			c.ep.Close()
		}
	})
	return nil
}
