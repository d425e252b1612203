package rpc

import (
	"context"
	"encoding/json"

	"github.com/bridgerpc/bridgerpc/envelope"
	"github.com/bridgerpc/bridgerpc/idgen"
	"github.com/bridgerpc/bridgerpc/transport"
)

// Remote is the local proxy reaching the peer side of a Connection.
// Spec §4.3 synthesizes one callable per advertised method; Go has no
// runtime proxy objects, so every call instead goes through Call,
// checked against the peer's advertised name set at call time rather
// than reflected into distinct methods at handshake time (Design Notes
// §9: "proxy synthesis... rendered as a single generic Call(method,
// args...) plus a Known() name list").
type Remote struct {
	conn        *Connection
	methodNames []string
	data        json.RawMessage
}

// Known returns the peer's advertised method names.
func (r *Remote) Known() []string {
	out := make([]string, len(r.methodNames))
	copy(out, r.methodNames)
	return out
}

// Data returns the peer's advertised non-function schema leaves, as
// raw JSON — the read-only state half of the peer's schema tree.
func (r *Remote) Data() json.RawMessage { return r.data }

type pendingCall struct {
	done chan *envelope.Envelope
}

// Call invokes method on the peer and blocks for its reply: the Go
// rendering of the deferred value a synthesized proxy call returns in
// the source system. args may include values built with WithTransfer;
// their value is JSON-encoded into the request like any other argument
// and their buffers are listed in SendOptions.Transfer. The engine enforces no
// timeout of its own; pass a context with a deadline to bound the
// wait.
func (r *Remote) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	conn := r.conn

	known := false
	for _, m := range r.methodNames {
		if m == method {
			known = true
			break
		}
	}
	if !known {
		return nil, ErrUnknownMethod
	}

	select {
	case <-conn.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	encodedArgs, transferBufs, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}

	callID := idgen.New()
	pc := &pendingCall{done: make(chan *envelope.Envelope, 1)}

	conn.pendingMu.Lock()
	conn.pending[callID] = pc
	conn.pendingMu.Unlock()

	env := envelope.New(envelope.RPCRequest)
	env.ConnID = conn.ID
	env.CallID = callID
	env.Method = method
	env.Args = encodedArgs

	if err := conn.ep.Send(ctx, env, transport.SendOptions{Transfer: transferBufs}); err != nil {
		conn.pendingMu.Lock()
		delete(conn.pending, callID)
		conn.pendingMu.Unlock()
		return nil, err
	}

	select {
	case reply := <-pc.done:
		if reply == nil {
			return nil, ErrConnectionClosed
		}
		if reply.Action == envelope.RPCReject {
			return nil, reply.Error
		}
		return reply.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func encodeArgs(args []any) ([]json.RawMessage, [][]byte, error) {
	encoded := make([]json.RawMessage, len(args))
	var transfer [][]byte
	for i, a := range args {
		if t, ok := a.(*Transferred); ok {
			data, err := json.Marshal(t.Value)
			if err != nil {
				return nil, nil, err
			}
			encoded[i] = data
			transfer = append(transfer, t.Buffers...)
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			return nil, nil, err
		}
		encoded[i] = data
	}
	return encoded, transfer, nil
}
