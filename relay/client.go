package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/bridgerpc/bridgerpc/envelope"
	"github.com/bridgerpc/bridgerpc/transport"
)

// ClientOptions configures Connect.
type ClientOptions struct {
	Endpoint transport.Endpoint
	Channel  string
	TabID    string
	Debug    bool
}

// Client is one tab's connection to the relay — the adapted
// internal/client/broker.go, generalized from pub/sub topics and
// pipes to the channel roster + shared-state model of spec.md §4.5.
type Client struct {
	ep      transport.Endpoint
	channel string
	tabID   string
	debug   bool

	handlers map[string]Handler
	remote   *Remote

	stateMu sync.Mutex
	state   map[string]json.RawMessage

	tabsMu     sync.Mutex
	tabsWaiter chan []string

	ackCh chan *envelope.Envelope

	sub       transport.Subscription
	closeOnce sync.Once
}

// Connect performs the relay handshake: sends BRIDGE_HANDSHAKE
// advertising schema's non-function leaves and method names, then
// blocks for the relay's BRIDGE_HANDSHAKE_ACK (or
// BRIDGE_HANDSHAKE_ERROR) before returning a ready Client seeded with
// the channel's current shared state.
func Connect(ctx context.Context, opts ClientOptions, schema Schema) (*Client, error) {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	handlers := Extract(schema)
	dataJSON, err := MarshalData(schema)
	if err != nil {
		return nil, err
	}

	c := &Client{
		ep:       opts.Endpoint,
		channel:  channel,
		tabID:    opts.TabID,
		debug:    opts.Debug,
		handlers: handlers,
		state:    make(map[string]json.RawMessage),
		ackCh:    make(chan *envelope.Envelope, 1),
	}
	c.remote = &Remote{client: c}

	c.sub = c.ep.Subscribe(c.handle)

	handshake := envelope.New(envelope.BridgeHandshake)
	handshake.Channel = channel
	handshake.TabID = opts.TabID
	handshake.MethodNames = MethodNames(handlers)
	handshake.Schema = dataJSON
	if err := c.ep.Send(ctx, handshake, transport.SendOptions{}); err != nil {
		c.sub.Unsubscribe()
		return nil, err
	}

	select {
	case reply := <-c.ackCh:
		if reply.Action == envelope.BridgeHandshakeError {
			c.sub.Unsubscribe()
			return nil, &DuplicateTabIDError{TabID: opts.TabID, Channel: channel}
		}
		c.applyState(reply.State)
	case <-ctx.Done():
		c.sub.Unsubscribe()
		return nil, ctx.Err()
	}

	return c, nil
}

// Remote returns the client's dual-natured proxy.
func (c *Client) Remote() *Remote { return c.remote }

func (c *Client) logf(format string, args ...any) {
	if c.debug {
		log.Printf(format, args...)
	}
}

func (c *Client) applyState(state map[string]json.RawMessage) {
	c.stateMu.Lock()
	c.state = state
	if c.state == nil {
		c.state = make(map[string]json.RawMessage)
	}
	c.stateMu.Unlock()
}

func (c *Client) handle(env *envelope.Envelope) {
	switch env.Action {
	case envelope.BridgeHandshakeAck, envelope.BridgeHandshakeError:
		select {
		case c.ackCh <- env:
		default:
		}
	case envelope.BridgeRelay:
		c.handleRelay(env)
	case envelope.BridgeStateResponse:
		c.applyState(env.State)
	case envelope.BridgeStateUpdate:
		c.stateMu.Lock()
		if c.state == nil {
			c.state = make(map[string]json.RawMessage)
		}
		c.state[env.Key] = env.Value
		c.stateMu.Unlock()
	case envelope.BridgeTabsResponse:
		c.tabsMu.Lock()
		w := c.tabsWaiter
		c.tabsWaiter = nil
		c.tabsMu.Unlock()
		if w != nil {
			w <- env.TabIDs
		}
	}
}

// handleRelay invokes the local handler for an incoming broadcast or
// direct message. No ack is sent back to the relay; an error is
// swallowed into a debug log line (spec.md §4.5, §7).
func (c *Client) handleRelay(env *envelope.Envelope) {
	h, ok := c.handlers[env.Method]
	if !ok {
		return
	}
	go func() {
		_, err := h(context.Background(), env.Args, &CallContext{
			Peer:    c.remote,
			Sender:  env.SenderTabID,
			Channel: env.Channel,
		})
		if err != nil {
			c.logf("relay: handler %q returned error for sender %s: %v", env.Method, env.SenderTabID, err)
		}
	}()
}

// GetConnectedTabs sends BRIDGE_GET_TABS and blocks for the matching
// BRIDGE_TABS_RESPONSE. Only one call may be in flight at a time.
func (c *Client) GetConnectedTabs(ctx context.Context) ([]string, error) {
	c.tabsMu.Lock()
	if c.tabsWaiter != nil {
		c.tabsMu.Unlock()
		return nil, ErrGetTabsInFlight
	}
	waiter := make(chan []string, 1)
	c.tabsWaiter = waiter
	c.tabsMu.Unlock()

	env := envelope.New(envelope.BridgeGetTabs)
	env.Channel = c.channel
	if err := c.ep.Send(ctx, env, transport.SendOptions{}); err != nil {
		c.tabsMu.Lock()
		c.tabsWaiter = nil
		c.tabsMu.Unlock()
		return nil, err
	}

	select {
	case tabs := <-waiter:
		return tabs, nil
	case <-ctx.Done():
		c.tabsMu.Lock()
		c.tabsWaiter = nil
		c.tabsMu.Unlock()
		return nil, ctx.Err()
	}
}

// Close emits BRIDGE_DISCONNECT and tears down the transport endpoint.
// Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		disconnect := envelope.New(envelope.BridgeDisconnect)
		disconnect.Channel = c.channel
		disconnect.TabID = c.tabID
		if err := c.ep.Send(context.Background(), disconnect, transport.SendOptions{}); err != nil {
			c.logf("relay: disconnect notice failed: %v", err)
		}
		if c.sub != nil {
			c.sub.Unsubscribe()
		}
		c.ep.Close()
	})
	return nil
}
