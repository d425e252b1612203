package rpc

import (
	"encoding/json"
	"errors"
	"runtime"

	"github.com/bridgerpc/bridgerpc/envelope"
)

var (
	// ErrTransportUnavailable names the transport-unavailable error kind
	// in this package. rpc returns a failed Send's error unchanged, so
	// errors.Is matches transport.ErrTransportUnavailable there, not this
	// value.
	ErrTransportUnavailable = errors.New("rpc: no viable send primitive")
	// ErrNoHost is returned when ConnectGuest has no reply within its
	// context deadline.
	ErrNoHost = errors.New("rpc: no host responded to handshake")
	// ErrInvalidTarget is returned when Connect* is called with a nil
	// endpoint.
	ErrInvalidTarget = errors.New("rpc: endpoint argument required")
	// ErrDuplicateConnection is returned when an Engine already has a
	// connection registered under the generated id.
	ErrDuplicateConnection = errors.New("rpc: connection id already registered")
	// ErrUnknownMethod is returned by Remote.Call for a method the peer
	// never advertised.
	ErrUnknownMethod = errors.New("rpc: method not advertised by peer")
	// ErrConnectionClosed is returned to any Call still pending when its
	// Connection is closed.
	ErrConnectionClosed = errors.New("rpc: connection closed")
)

// marshalError captures a handler's error for RPC_REJECT: message, a
// stack trace, and any fields the error chooses to expose through a
// Fields() method. Wrapped causes (errors.Unwrap chains) are not
// preserved, matching the source system's own documented limitation.
func marshalError(err error) *envelope.RemoteError {
	re := &envelope.RemoteError{Message: err.Error(), Stack: captureStack()}
	if fe, ok := err.(interface{ Fields() map[string]json.RawMessage }); ok {
		re.Fields = fe.Fields()
	}
	return re
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
