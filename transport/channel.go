package transport

import (
	"context"
	"sync"

	"github.com/bridgerpc/bridgerpc/envelope"
)

// channelEndpoint realizes WorkerLike and ThreadLike: an in-process
// pair is connected by a single unbuffered Go channel per direction,
// mirroring the teacher's one-goroutine-per-connection model
// (internal/broker/service.go's handleConnection) but without a
// network hop — sending never fails once the peer is listening.
type channelEndpoint struct {
	kind    Kind
	out     chan<- *envelope.Envelope
	in      <-chan *envelope.Envelope
	peer    *channelEndpoint
	mu      sync.Mutex
	subs    map[int]Handler
	nextSub int
	closeCh chan struct{}
	once    sync.Once

	closeCbMu sync.Mutex
	closeCbs  []func()
}

// NewChannelPair returns two connected endpoints, each delivering to
// the other's subscribers. kind is applied to both ends; use
// WorkerLike for a page<->worker pair or ThreadLike for a
// thread<->thread pair — the two behave identically in-process.
// Closing either end closes both, the same way closing one side of a
// real socket unblocks the peer.
func NewChannelPair(kind Kind) (a, b Endpoint) {
	ab := make(chan *envelope.Envelope)
	ba := make(chan *envelope.Envelope)

	ea := &channelEndpoint{kind: kind, out: ab, in: ba, subs: make(map[int]Handler), closeCh: make(chan struct{})}
	eb := &channelEndpoint{kind: kind, out: ba, in: ab, subs: make(map[int]Handler), closeCh: make(chan struct{})}
	ea.peer = eb
	eb.peer = ea

	go ea.pump()
	go eb.pump()

	return ea, eb
}

func (e *channelEndpoint) pump() {
	for {
		select {
		case env := <-e.in:
			e.mu.Lock()
			handlers := make([]Handler, 0, len(e.subs))
			for _, h := range e.subs {
				handlers = append(handlers, h)
			}
			e.mu.Unlock()
			for _, h := range handlers {
				h(env)
			}
		case <-e.closeCh:
			return
		}
	}
}

func (e *channelEndpoint) Kind() Kind { return e.kind }

func (e *channelEndpoint) Send(ctx context.Context, env *envelope.Envelope, _ SendOptions) error {
	select {
	case e.out <- env:
		return nil
	case <-e.closeCh:
		return ErrTransportUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *channelEndpoint) Subscribe(h Handler) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = h
	return &channelSub{ep: e, id: id}
}

func (e *channelEndpoint) OriginOf() (string, bool) { return "", false }

func (e *channelEndpoint) OnClose(fn func()) {
	e.closeCbMu.Lock()
	defer e.closeCbMu.Unlock()
	e.closeCbs = append(e.closeCbs, fn)
}

// fireClose unblocks pump() and runs every OnClose callback in its own
// goroutine. Callbacks run async because a caller may invoke Close()
// while holding a lock a callback needs to reacquire — the relay evicts
// a duplicate tab by calling existing.ep.Close() while holding the
// channel's mutex, and its OnClose callback calls back into the relay
// to drop the roster entry under that same mutex.
func (e *channelEndpoint) fireClose() {
	close(e.closeCh)
	e.closeCbMu.Lock()
	cbs := e.closeCbs
	e.closeCbMu.Unlock()
	for _, cb := range cbs {
		go cb()
	}
}

func (e *channelEndpoint) Close() error {
	e.once.Do(func() {
		e.fireClose()
		if e.peer != nil {
			e.peer.closeFromPeer()
		}
	})
	return nil
}

func (e *channelEndpoint) closeFromPeer() {
	e.once.Do(e.fireClose)
}

type channelSub struct {
	ep *channelEndpoint
	id int
}

func (s *channelSub) Unsubscribe() {
	s.ep.mu.Lock()
	defer s.ep.mu.Unlock()
	delete(s.ep.subs, s.id)
}
