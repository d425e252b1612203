package rpc

import (
	"context"

	"github.com/bridgerpc/bridgerpc/envelope"
	"github.com/bridgerpc/bridgerpc/idgen"
	"github.com/bridgerpc/bridgerpc/transport"
)

// HostOption configures ConnectHost.
type HostOption func(*hostOptions)

type hostOptions struct {
	expectedOrigin string
}

// WithExpectedOrigin restricts ConnectHost to handshake requests
// arriving over a frame-like or port-like endpoint whose declared
// origin matches origin. Requests that fail the check are dropped
// without a reply and without surfacing an error — spec §4.1: "host
// MUST reject any handshake message that fails origin/source
// validation and do so silently."
func WithExpectedOrigin(origin string) HostOption {
	return func(o *hostOptions) { o.expectedOrigin = origin }
}

// GuestOption configures ConnectGuest.
type GuestOption func(*guestOptions)

type guestOptions struct {
	onConnectionSetup func(*Connection) error
}

// WithOnConnectionSetup runs fn after the guest has received the
// host's schema and built its Remote proxy, but before it sends the
// confirming second handshake reply. Returning an error aborts the
// handshake before the host ever reaches READY (spec §4.2's
// on-connection-setup hook).
func WithOnConnectionSetup(fn func(*Connection) error) GuestOption {
	return func(o *guestOptions) { o.onConnectionSetup = fn }
}

// ConnectHost performs the host half of the handshake described in
// spec §4.2: it waits (passively, across possibly several rejected
// attempts) for a HANDSHAKE_REQUEST, replies with its own schema and a
// freshly generated connection id, then waits for the guest's
// confirming reply before returning a ready Connection. Blocks until a
// handshake completes or ctx is done.
func ConnectHost(ctx context.Context, engine *Engine, ep transport.Endpoint, hostSchema Schema, opts ...HostOption) (*Connection, error) {
	if ep == nil {
		return nil, ErrInvalidTarget
	}
	cfg := &hostOptions{}
	for _, o := range opts {
		o(cfg)
	}

	handlers := Extract(hostSchema)
	methodNames := MethodNames(handlers)
	dataJSON, err := MarshalData(hostSchema)
	if err != nil {
		return nil, err
	}

	requestCh := make(chan *envelope.Envelope, 4)
	sub := ep.Subscribe(func(env *envelope.Envelope) {
		if env.Action == envelope.HandshakeRequest {
			select {
			case requestCh <- env:
			default:
			}
		}
	})
	defer sub.Unsubscribe()

	for {
		var req *envelope.Envelope
		select {
		case req = <-requestCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if cfg.expectedOrigin != "" && (ep.Kind() == transport.FrameLike || ep.Kind() == transport.PortLike) {
			if !transport.IsValidFrameMessage(ep, cfg.expectedOrigin) {
				continue // silently dropped; keep listening for a valid request
			}
		}

		connID := idgen.New()
		conn := &Connection{
			ID:       connID,
			engine:   engine,
			ep:       ep,
			isHost:   true,
			handlers: handlers,
			pending:  make(map[string]*pendingCall),
			ready:    make(chan struct{}),
		}
		if err := engine.register(conn); err != nil {
			continue // astronomically unlikely id collision; try the next request
		}
		conn.Remote = &Remote{conn: conn, methodNames: req.MethodNames, data: req.Schema}

		reply1 := envelope.New(envelope.HandshakeReply)
		reply1.ConnID = connID
		reply1.MethodNames = methodNames
		reply1.Schema = dataJSON
		if err := ep.Send(ctx, reply1, transport.SendOptions{}); err != nil {
			engine.unregister(connID)
			return nil, err
		}

		confirmCh := make(chan struct{}, 1)
		confirmSub := ep.Subscribe(func(env *envelope.Envelope) {
			if env.Action == envelope.HandshakeReply && env.ConnID == connID {
				select {
				case confirmCh <- struct{}{}:
				default:
				}
			}
		})

		select {
		case <-confirmCh:
		case <-ctx.Done():
			confirmSub.Unsubscribe()
			engine.unregister(connID)
			return nil, ctx.Err()
		}
		confirmSub.Unsubscribe()

		conn.sub = ep.Subscribe(conn.handle)
		close(conn.ready)
		return conn, nil
	}
}

// ConnectGuest performs the guest half of the handshake described in
// spec §4.2: it sends a HANDSHAKE_REQUEST advertising its own schema,
// waits for the host's reply to learn the host's schema and the
// assigned connection id, optionally runs an on-connection-setup hook,
// then sends the confirming second reply. Blocks until the handshake
// completes or ctx is done.
func ConnectGuest(ctx context.Context, engine *Engine, ep transport.Endpoint, guestSchema Schema, opts ...GuestOption) (*Connection, error) {
	if ep == nil {
		return nil, ErrInvalidTarget
	}
	cfg := &guestOptions{}
	for _, o := range opts {
		o(cfg)
	}

	handlers := Extract(guestSchema)
	methodNames := MethodNames(handlers)
	dataJSON, err := MarshalData(guestSchema)
	if err != nil {
		return nil, err
	}

	replyCh := make(chan *envelope.Envelope, 4)
	sub := ep.Subscribe(func(env *envelope.Envelope) {
		if env.Action == envelope.HandshakeReply {
			select {
			case replyCh <- env:
			default:
			}
		}
	})
	defer sub.Unsubscribe()

	req := envelope.New(envelope.HandshakeRequest)
	req.MethodNames = methodNames
	req.Schema = dataJSON
	if err := ep.Send(ctx, req, transport.SendOptions{}); err != nil {
		return nil, err
	}

	var reply *envelope.Envelope
	select {
	case reply = <-replyCh:
	case <-ctx.Done():
		return nil, ErrNoHost
	}

	conn := &Connection{
		ID:       reply.ConnID,
		engine:   engine,
		ep:       ep,
		isHost:   false,
		handlers: handlers,
		pending:  make(map[string]*pendingCall),
		ready:    make(chan struct{}),
	}
	conn.Remote = &Remote{conn: conn, methodNames: reply.MethodNames, data: reply.Schema}

	if err := engine.register(conn); err != nil {
		return nil, err
	}

	if cfg.onConnectionSetup != nil {
		if err := cfg.onConnectionSetup(conn); err != nil {
			engine.unregister(conn.ID)
			return nil, err
		}
	}

	conn.sub = ep.Subscribe(conn.handle)
	close(conn.ready)

	confirm := envelope.New(envelope.HandshakeReply)
	confirm.ConnID = conn.ID
	if err := ep.Send(ctx, confirm, transport.SendOptions{}); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}
