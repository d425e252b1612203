package transport

import (
	"context"
	"testing"
	"time"

	"github.com/bridgerpc/bridgerpc/envelope"
)

func TestNormalizeOrigin(t *testing.T) {
	cases := map[string]string{
		"https://example.com:443/path": "https://example.com",
		"http://example.com:80/":       "http://example.com",
		"http://example.com:8080/":     "http://example.com:8080",
		"file:///home/user/index.html": "file://",
	}
	for in, want := range cases {
		got, err := NormalizeOrigin(in)
		if err != nil {
			t.Fatalf("NormalizeOrigin(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("NormalizeOrigin(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsValidFrameMessageTrustedAlwaysPasses(t *testing.T) {
	a, b := NewChannelPair(WorkerLike)
	defer a.Close()
	defer b.Close()
	if !IsValidFrameMessage(a, "https://evil.example") {
		t.Fatal("worker-like endpoints must always be trusted")
	}
}

// stubEndpoint is a minimal Endpoint standing in for a frame/port-like
// connection with a fixed declared origin, letting the origin checks
// below be asserted without a real websocket handshake.
type stubEndpoint struct {
	kind    Kind
	origin  string
	hasOrig bool
}

func (s *stubEndpoint) Kind() Kind { return s.kind }
func (s *stubEndpoint) Send(context.Context, *envelope.Envelope, SendOptions) error {
	return nil
}
func (s *stubEndpoint) Subscribe(Handler) Subscription { return stubSub{} }
func (s *stubEndpoint) OriginOf() (string, bool)       { return s.origin, s.hasOrig }
func (s *stubEndpoint) OnClose(func())                 {}
func (s *stubEndpoint) Close() error                   { return nil }

type stubSub struct{}

func (stubSub) Unsubscribe() {}

func TestIsValidFrameMessageRejectsOriginMismatch(t *testing.T) {
	ep := &stubEndpoint{kind: FrameLike, origin: "https://trusted.example", hasOrig: true}
	if IsValidFrameMessage(ep, "https://evil.example") {
		t.Fatal("a frame-like endpoint with a mismatched origin must be rejected")
	}
	if !IsValidFrameMessage(ep, "https://trusted.example") {
		t.Fatal("a frame-like endpoint with a matching origin must be accepted")
	}
}

func TestIsValidFrameMessageAcceptsUndeclaredOrigin(t *testing.T) {
	ep := &stubEndpoint{kind: PortLike, hasOrig: false}
	if !IsValidFrameMessage(ep, "https://anything.example") {
		t.Fatal("an endpoint with no declared source must pass trivially")
	}
}

func TestChannelPairDeliversAndUnsubscribes(t *testing.T) {
	a, b := NewChannelPair(ThreadLike)
	defer a.Close()
	defer b.Close()

	received := make(chan *envelope.Envelope, 1)
	sub := b.Subscribe(func(e *envelope.Envelope) { received <- e })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	env := envelope.New(envelope.RPCRequest)
	env.Method = "echo"
	if err := a.Send(ctx, env, SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.Method != "echo" {
			t.Fatalf("got method %q, want echo", got.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	sub.Unsubscribe()

	if err := a.Send(ctx, env, SendOptions{}); err != nil {
		t.Fatalf("Send after unsubscribe: %v", err)
	}
	select {
	case <-received:
		t.Fatal("handler fired after Unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	a, b := NewChannelPair(WorkerLike)
	defer b.Close()
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
