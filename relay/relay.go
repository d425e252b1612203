// Package relay implements the background broadcast/shared-state
// multiplexer that federates many tabs over a shared channel: a
// Service plays the role the teacher's internal/broker/service.go
// plays for agents (roster + fan-out + per-channel state), and a
// Client plays the role internal/client/broker.go plays for a single
// agent's connection, generalized to the dual-natured broadcast/direct
// remote this spec calls for.
package relay

import "encoding/json"

// DefaultChannel is used by a Client that does not specify one.
const DefaultChannel = "__default__"

func cloneState(state map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}
