// Package envelope defines the wire message carried over every
// transport.Endpoint in this module: handshakes, RPC requests/replies,
// and relay broadcast/direct/state traffic all travel as one Envelope
// shape, with Action selecting which fields are meaningful.
//
// Called by: rpc, relay, transport
// Calls: encoding/json, github.com/google/uuid
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of envelope, drawn from the two closed
// tag namespaces: RPC engine tags and relay (bridge) tags.
type Action string

const (
	// RPC engine handshake and call tags.
	HandshakeRequest Action = "HANDSHAKE_REQUEST"
	HandshakeReply   Action = "HANDSHAKE_REPLY"
	RPCRequest       Action = "RPC_REQUEST"
	RPCResolve       Action = "RPC_RESOLVE"
	RPCReject        Action = "RPC_REJECT"

	// Relay (bridge) tags — a distinct namespace per spec §6.
	BridgeHandshake      Action = "BRIDGE_HANDSHAKE"
	BridgeHandshakeAck   Action = "BRIDGE_HANDSHAKE_ACK"
	BridgeHandshakeError Action = "BRIDGE_HANDSHAKE_ERROR"
	BridgeBroadcast      Action = "BRIDGE_BROADCAST"
	BridgeDirectMessage  Action = "BRIDGE_DIRECT_MESSAGE"
	BridgeRelay          Action = "BRIDGE_RELAY"
	BridgeDisconnect     Action = "BRIDGE_DISCONNECT"
	BridgeGetState       Action = "BRIDGE_GET_STATE"
	BridgeStateResponse  Action = "BRIDGE_STATE_RESPONSE"
	BridgeSetState       Action = "BRIDGE_SET_STATE"
	BridgeStateUpdate    Action = "BRIDGE_STATE_UPDATE"
	BridgeGetTabs        Action = "BRIDGE_GET_TABS"
	BridgeTabsResponse   Action = "BRIDGE_TABS_RESPONSE"
)

// HandshakeErrorCode enumerates the closed set of relay handshake
// error codes from spec §6.
type HandshakeErrorCode string

const (
	DuplicateTabID HandshakeErrorCode = "DUPLICATE_TAB_ID"
	InvalidPayload HandshakeErrorCode = "INVALID_PAYLOAD"
	UnknownError   HandshakeErrorCode = "UNKNOWN_ERROR"
)

// Envelope is the single wire message type for both the RPC engine and
// the relay. Fields are a superset; only the ones relevant to Action
// are populated on any given envelope, mirroring how the teacher's
// envelope.Envelope carries routing, tracing, and payload fields that
// are used selectively per message type.
type Envelope struct {
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`

	// Tracing, carried but never required by any invariant (spec §9
	// Open Question: nested causes/tracing not load-bearing).
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`

	// RPC correlation fields.
	ConnID      string            `json:"conn_id,omitempty"`
	CallID      string            `json:"call_id,omitempty"`
	Method      string            `json:"method,omitempty"`
	MethodNames []string          `json:"method_names,omitempty"`
	Schema      json.RawMessage   `json:"schema,omitempty"`
	Args        []json.RawMessage `json:"args,omitempty"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Error       *RemoteError      `json:"error,omitempty"`

	// Relay correlation fields.
	TabID        string                     `json:"tab_id,omitempty"`
	TargetTabID  string                     `json:"target_tab_id,omitempty"`
	Channel      string                     `json:"channel,omitempty"`
	Key          string                     `json:"key,omitempty"`
	Value        json.RawMessage            `json:"value,omitempty"`
	State        map[string]json.RawMessage `json:"state,omitempty"`
	TabIDs       []string                   `json:"tab_ids,omitempty"`
	SenderTabID  string                     `json:"sender_tab_id,omitempty"`
	SenderResult json.RawMessage            `json:"sender_result,omitempty"`
	SenderError  *RemoteError               `json:"sender_error,omitempty"`
	Code         HandshakeErrorCode         `json:"code,omitempty"`
	Message      string                     `json:"message,omitempty"`
}

// RemoteError is the serialized form of an error raised by a peer's
// method body (spec §7 *RemoteThrown*). Nested causes are not
// preserved, matching the source's documented limitation.
type RemoteError struct {
	Message string                     `json:"message"`
	Stack   string                     `json:"stack"`
	Fields  map[string]json.RawMessage `json:"fields,omitempty"`
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// New builds an envelope with a fresh trace id and the current
// timestamp. rpc and relay build every envelope through New and then
// fill in the fields their Action uses.
func New(action Action) *Envelope {
	return &Envelope{
		Action:    action,
		Timestamp: time.Now(),
		TraceID:   uuid.NewString(),
	}
}

// ToJSON serializes the envelope for transports that frame messages as
// raw bytes (the websocket-backed FrameLike/PortLike endpoints).
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an envelope previously produced by ToJSON.
func FromJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
