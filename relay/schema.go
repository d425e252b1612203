package relay

import (
	"context"
	"encoding/json"
	"sort"
)

// Handler is a function leaf in a client's Schema. Unlike rpc.Handler,
// CallContext.Peer here is a relay *Remote — broadcast/direct calls
// and local-handler invocation share the same dual-natured proxy, not
// the point-to-point one from the rpc package.
type Handler func(ctx context.Context, args []json.RawMessage, cc *CallContext) (any, error)

// CallContext is passed to every Handler invocation, whether triggered
// locally by Remote.Call or remotely by an incoming BRIDGE_RELAY.
type CallContext struct {
	Peer    *Remote
	Sender  string
	Channel string
}

// Schema is the same tree shape as rpc.Schema: a map of dotted-path
// leaves, either callable (Handler) or plain data.
type Schema map[string]any

// Extract removes every Handler leaf from schema into a flat dotted-path
// map, leaving only non-function leaves behind — the relay seeds a
// channel's shared state from them when the joining tab is the first
// on that channel.
func Extract(schema Schema) map[string]Handler {
	handlers := make(map[string]Handler)
	var walk func(prefix string, m Schema)
	walk = func(prefix string, m Schema) {
		for k, v := range m {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			switch val := v.(type) {
			case Handler:
				handlers[path] = val
				delete(m, k)
			case Schema:
				walk(path, val)
			case map[string]any:
				walk(path, Schema(val))
			}
		}
	}
	walk("", schema)
	return handlers
}

// MethodNames returns the sorted dotted paths of a handler map.
func MethodNames(handlers map[string]Handler) []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalData serializes the non-function leaves left in schema after
// Extract, for the handshake's advertised seed state.
func MarshalData(schema Schema) (json.RawMessage, error) {
	return json.Marshal(map[string]any(schema))
}
