package rpc

import (
	"context"
	"encoding/json"
	"sort"
)

// Handler is a function leaf in a Schema: the local implementation of
// one advertised method. ctx carries cancellation from the call that
// triggered it; cc carries the peer proxy so the handler can call back
// during its own execution — the explicit rendering of spec §4.3's
// "trailing remote argument" (Design Notes §9: "Use explicit context
// passing").
type Handler func(ctx context.Context, args []json.RawMessage, cc *CallContext) (any, error)

// CallContext is passed to every Handler invocation.
type CallContext struct {
	Peer    *Remote
	Sender  string
	Channel string
}

// Schema is a tree of labeled entries; a leaf is either a Handler
// (callable) or a plain JSON-serializable value (state). Nesting is
// expressed with nested Schema values; Extract flattens functions into
// dotted paths.
type Schema map[string]any

// Extract walks schema, removing every Handler leaf into a flat
// dotted-path map and returning it. schema is mutated in place,
// retaining only its non-function leaves — spec §3: "mutated exactly
// once during extraction (functions removed, non-function leaves
// retained)."
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

// MethodNames returns the sorted dotted paths of a handler map, the
// form advertised in a handshake envelope.
func MethodNames(handlers map[string]Handler) []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalData serializes the non-function leaves left in schema after
// Extract, for the handshake's advertised state tree.
func MarshalData(schema Schema) (json.RawMessage, error) {
	return json.Marshal(map[string]any(schema))
}
