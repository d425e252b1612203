// Package transport hides the differences between the four message
// channel flavors this module bridges: two in-process goroutine pairs
// (worker-like, thread-like) and two network peers that carry an
// origin concept (frame-like, port-like). Every flavor implements the
// same Endpoint interface, so neither the rpc nor the relay package
// ever branches on which kind of channel it was handed.
package transport

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/bridgerpc/bridgerpc/envelope"
)

// Kind tags an Endpoint with its channel flavor, replacing duck-typed
// detection of send/listen primitives with a value fixed at
// construction (spec §9 Design Notes: "Duck-typed endpoint detection").
type Kind int

const (
	// WorkerLike is an in-process endpoint trusted by isolation — the
	// Go analog of a page talking to a worker it spawned.
	WorkerLike Kind = iota
	// ThreadLike is an in-process endpoint using callback-style
	// delivery — the Go analog of a thread talking to a worker_threads
	// style parent port. Functionally identical to WorkerLike in this
	// module; kept distinct because the spec treats the two as
	// separately named flavors with the same trust level.
	ThreadLike
	// FrameLike is a network peer with a declared origin that must be
	// checked on every handshake — the Go analog of a sandboxed iframe.
	FrameLike
	// PortLike is a network peer used for tab<->relay traffic — the
	// Go analog of a browser tab talking to a shared background worker.
	PortLike
)

func (k Kind) String() string {
	switch k {
	case WorkerLike:
		return "worker-like"
	case ThreadLike:
		return "thread-like"
	case FrameLike:
		return "frame-like"
	case PortLike:
		return "port-like"
	default:
		return "unknown"
	}
}

// Trusted reports whether messages from an endpoint of this kind skip
// origin validation entirely (spec §4.1 isValidFrameMessage: "true
// when the endpoint is worker-like").
func (k Kind) Trusted() bool {
	return k == WorkerLike || k == ThreadLike
}

var (
	// ErrTransportUnavailable is returned by Send when the endpoint has
	// no viable delivery primitive (e.g. already closed).
	ErrTransportUnavailable = errors.New("transport: no viable send primitive")
)

// SendOptions carries the two transport-specific knobs the spec calls
// out: an optional target origin (meaningful only for FrameLike/
// PortLike endpoints) and a list of byte buffers to move rather than
// copy. Neither Endpoint implementation in this package reads these
// fields: the channel pair and the websocket endpoint deliver the
// envelope the same way whatever the options hold.
type SendOptions struct {
	TargetOrigin string
	Transfer     [][]byte
}

// Handler receives envelopes delivered to a subscribed Endpoint.
type Handler func(*envelope.Envelope)

// Subscription is returned by Subscribe; Unsubscribe removes the
// handler and is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Endpoint is the uniform interface over all four channel flavors.
type Endpoint interface {
	Kind() Kind
	Send(ctx context.Context, env *envelope.Envelope, opts SendOptions) error
	Subscribe(h Handler) Subscription
	// OriginOf returns the endpoint's normalized declared origin and
	// true, or ("", false) if the endpoint has no declared source
	// (worker-like/thread-like endpoints, or a frame-like endpoint
	// that never announced one).
	OriginOf() (string, bool)
	// OnClose registers fn to run exactly once when the endpoint closes,
	// whether from a local Close() call or because the peer/connection
	// went away (a dropped websocket, a closed channel pair). Callers
	// that need to notice an ungraceful departure — the relay evicting
	// a tab whose socket died without a BRIDGE_DISCONNECT — use this
	// instead of polling.
	OnClose(fn func())
	Close() error
}

// NormalizeOrigin normalizes a raw source URL into scheme+host(+port)
// form per spec §4.1: file: collapses to "file://", and default ports
// (80 for http, 443 for https) are stripped. An empty rawURL yields ""
// (no origin).
func NormalizeOrigin(rawURL string) (string, error) {
	if rawURL == "" {
		return "", nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "file" {
		return "file://", nil
	}
	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	origin := u.Scheme + "://" + host
	if port != "" {
		origin += ":" + port
	}
	return origin, nil
}

// IsValidFrameMessage implements spec §4.1's isValidFrameMessage: true
// when ep is trusted by isolation (worker-like/thread-like), or when
// ep is frame-like/port-like and the sender's origin matches the
// endpoint's declared origin. An endpoint with no declared source
// passes trivially, matching "A frame with no declared source passes
// trivially."
func IsValidFrameMessage(ep Endpoint, senderOrigin string) bool {
	if ep.Kind().Trusted() {
		return true
	}
	declared, ok := ep.OriginOf()
	if !ok || declared == "" {
		return true
	}
	return strings.EqualFold(declared, senderOrigin)
}
