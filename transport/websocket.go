package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bridgerpc/bridgerpc/envelope"
)

// wsEndpoint realizes FrameLike and PortLike: a websocket connection
// standing in for a same-origin-checked browser channel (a sandboxed
// frame, or a tab talking to the shared relay). One readLoop goroutine
// receives frames and hands each envelope to the subscribers inline;
// Send writes directly on the caller's goroutine under writeMu. This is
// a reduced form of the receiver/sender/dispatcher split in
// other_examples' surrealdb ws.go.
type wsEndpoint struct {
	kind    Kind
	conn    *websocket.Conn
	origin  string // normalized origin of the remote side this endpoint represents
	hasOrig bool

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[int]Handler
	nextSub int

	closeCh chan struct{}
	once    sync.Once

	closeCbMu sync.Mutex
	closeCbs  []func()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // origin is enforced by IsValidFrameMessage, not at upgrade time
}

// DialWebsocket connects outward to a relay or host, wrapping the
// connection as an Endpoint of the given kind. remoteOrigin is the
// origin this endpoint will report via OriginOf (ordinarily the
// scheme+host of url itself).
func DialWebsocket(ctx context.Context, url, remoteOrigin string, kind Kind) (Endpoint, error) {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	norm, err := NormalizeOrigin(remoteOrigin)
	if err != nil {
		norm = remoteOrigin
	}
	ep := newWSEndpoint(conn, norm, norm != "", kind)
	return ep, nil
}

// UpgradeWebsocket upgrades an incoming HTTP request to a websocket and
// wraps it as an Endpoint. The endpoint's declared origin is the
// request's Origin header, normalized — the origin of the frame/tab on
// the other end of the connection.
func UpgradeWebsocket(w http.ResponseWriter, r *http.Request, kind Kind) (Endpoint, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	declared := r.Header.Get("Origin")
	norm, err := NormalizeOrigin(declared)
	hasOrig := err == nil && norm != ""
	if !hasOrig {
		norm = ""
	}
	return newWSEndpoint(conn, norm, hasOrig, kind), nil
}

func newWSEndpoint(conn *websocket.Conn, origin string, hasOrig bool, kind Kind) *wsEndpoint {
	ep := &wsEndpoint{
		kind:    kind,
		conn:    conn,
		origin:  origin,
		hasOrig: hasOrig,
		subs:    make(map[int]Handler),
		closeCh: make(chan struct{}),
	}
	go ep.readLoop()
	return ep
}

func (e *wsEndpoint) readLoop() {
	defer e.Close()
	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := envelope.FromJSON(data)
		if err != nil {
			continue
		}
		e.mu.Lock()
		handlers := make([]Handler, 0, len(e.subs))
		for _, h := range e.subs {
			handlers = append(handlers, h)
		}
		e.mu.Unlock()
		for _, h := range handlers {
			h(env)
		}
	}
}

func (e *wsEndpoint) Kind() Kind { return e.kind }

func (e *wsEndpoint) Send(ctx context.Context, env *envelope.Envelope, opts SendOptions) error {
	data, err := env.ToJSON()
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	select {
	case <-e.closeCh:
		return ErrTransportUnavailable
	default:
	}

	return e.conn.WriteMessage(websocket.TextMessage, data)
}

func (e *wsEndpoint) Subscribe(h Handler) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = h
	return &wsSub{ep: e, id: id}
}

func (e *wsEndpoint) OriginOf() (string, bool) { return e.origin, e.hasOrig }

func (e *wsEndpoint) OnClose(fn func()) {
	e.closeCbMu.Lock()
	defer e.closeCbMu.Unlock()
	e.closeCbs = append(e.closeCbs, fn)
}

// Close tears down the socket and runs every OnClose callback — the
// same path readLoop's deferred Close takes when the read side dies
// from a network drop, so a caller never has to distinguish a local
// Close() from the peer going away. Callbacks run in their own
// goroutine: a caller may hold a lock a callback needs to reacquire,
// as the relay does when it evicts a duplicate tab while holding the
// channel's mutex.
func (e *wsEndpoint) Close() error {
	e.once.Do(func() {
		close(e.closeCh)
		e.conn.Close()
		e.closeCbMu.Lock()
		cbs := e.closeCbs
		e.closeCbMu.Unlock()
		for _, cb := range cbs {
			go cb()
		}
	})
	return nil
}

type wsSub struct {
	ep *wsEndpoint
	id int
}

func (s *wsSub) Unsubscribe() {
	s.ep.mu.Lock()
	defer s.ep.mu.Unlock()
	delete(s.ep.subs, s.id)
}
