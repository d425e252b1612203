package relay

import (
	"context"
	"encoding/json"

	"github.com/bridgerpc/bridgerpc/envelope"
	"github.com/bridgerpc/bridgerpc/transport"
)

// Remote is the client's dual-natured proxy (Design Notes §9):
// Call broadcasts to every other tab on the channel, while To(tabID)
// returns a Remote scoped to a direct message at one tab. Both run the
// client's own handler for method synchronously first — the relay
// dispatch itself is fire-and-forget.
type Remote struct {
	client *Client
	target string // "" means broadcast; non-empty means direct to this tab
}

// To scopes subsequent Call invocations to a direct message at tabID.
func (r *Remote) To(tabID string) *Remote {
	return &Remote{client: r.client, target: tabID}
}

// Call runs the client's own handler for method, then dispatches the
// relay message (broadcast, or direct if To was used) carrying the
// original arguments — not the peer-proxy, which only the local
// invocation receives (spec.md §4.5). The local result or error is
// what the caller gets back; a local error is also attached to the
// outgoing envelope's SenderError so peers can observe it (spec.md §7).
func (r *Remote) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	c := r.client

	encoded, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}

	h, ok := c.handlers[method]
	if !ok {
		return nil, ErrMethodNotRegistered
	}

	result, callErr := h(ctx, encoded, &CallContext{Peer: c.remote, Channel: c.channel})

	action := envelope.BridgeBroadcast
	if r.target != "" {
		action = envelope.BridgeDirectMessage
	}
	out := envelope.New(action)
	out.Channel = c.channel
	out.Method = method
	out.Args = encoded
	out.SenderTabID = c.tabID
	if r.target != "" {
		out.TargetTabID = r.target
	}

	var resultJSON json.RawMessage
	if callErr != nil {
		out.SenderError = marshalError(callErr)
	} else {
		data, merr := json.Marshal(result)
		if merr != nil {
			callErr = merr
			out.SenderError = marshalError(merr)
		} else {
			resultJSON = data
			out.SenderResult = data
		}
	}

	if err := c.ep.Send(ctx, out, transport.SendOptions{}); err != nil {
		c.logf("relay: dispatch of %q failed: %v", method, err)
	}

	if callErr != nil {
		return nil, callErr
	}
	return resultJSON, nil
}

// State returns the client's cached copy of a shared-state key and
// whether it has ever been set.
func (r *Remote) State(key string) (json.RawMessage, bool) {
	c := r.client
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	v, ok := c.state[key]
	return v, ok
}

// SetState updates the client's cache immediately and dispatches
// BRIDGE_SET_STATE to the relay, which serializes the update against
// every other tab's and fans BRIDGE_STATE_UPDATE back out to all tabs
// including this one.
func (r *Remote) SetState(ctx context.Context, key string, value any) error {
	c := r.client
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.stateMu.Lock()
	if c.state == nil {
		c.state = make(map[string]json.RawMessage)
	}
	c.state[key] = data
	c.stateMu.Unlock()

	env := envelope.New(envelope.BridgeSetState)
	env.Channel = c.channel
	env.Key = key
	env.Value = data
	return c.ep.Send(ctx, env, transport.SendOptions{})
}

func encodeArgs(args []any) ([]json.RawMessage, error) {
	encoded := make([]json.RawMessage, len(args))
	for i, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		encoded[i] = data
	}
	return encoded, nil
}
