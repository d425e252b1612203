package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"github.com/bridgerpc/bridgerpc/envelope"
)

var (
	// ErrMethodNotRegistered is returned by Remote.Call/To(id).Call when
	// the client has no local handler under that name — both call
	// surfaces always run the local handler first (spec.md §4.5).
	ErrMethodNotRegistered = errors.New("relay: method not registered on this client")
	// ErrGetTabsInFlight is returned by GetConnectedTabs when a previous
	// call on the same client has not yet resolved.
	ErrGetTabsInFlight = errors.New("relay: a GetConnectedTabs call is already in flight")
)

// DuplicateTabIDError is sent to the tab that already held a slot when
// a new connection registers under the same tab id — the previous
// holder is then force-closed and the new registration proceeds.
type DuplicateTabIDError struct {
	TabID   string
	Channel string
}

func (e *DuplicateTabIDError) Error() string {
	return fmt.Sprintf("relay: tab id %q already registered on channel %q", e.TabID, e.Channel)
}

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
