package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bridgerpc/bridgerpc/transport"
)

// originEndpoint overrides OriginOf on a real channel endpoint so a test
// can stand in for a frame-like peer whose connection carries a
// declared origin — the in-process channel-pair transport has no
// origin concept of its own.
type originEndpoint struct {
	transport.Endpoint
	origin string
}

func (o *originEndpoint) OriginOf() (string, bool) { return o.origin, true }

func TestConnectHostRejectsMismatchedOrigin(t *testing.T) {
	a, b := transport.NewChannelPair(transport.FrameLike)
	defer a.Close()
	defer b.Close()

	hostEp := &originEndpoint{Endpoint: a, origin: "https://trusted.example"}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	hostErrCh := make(chan error, 1)
	go func() {
		_, err := ConnectHost(ctx, NewEngine(), hostEp, Schema{}, WithExpectedOrigin("https://evil.example"))
		hostErrCh <- err
	}()

	guestCtx, guestCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer guestCancel()
	_, guestErr := ConnectGuest(guestCtx, NewEngine(), b, Schema{})
	require.ErrorIs(t, guestErr, ErrNoHost) // the mismatched request is dropped, so no reply ever arrives

	require.ErrorIs(t, <-hostErrCh, context.DeadlineExceeded) // host keeps waiting for a valid request until ctx dies
}

func TestConnectHostAcceptsMatchingOrigin(t *testing.T) {
	a, b := transport.NewChannelPair(transport.FrameLike)
	defer a.Close()
	defer b.Close()

	hostEp := &originEndpoint{Endpoint: a, origin: "https://trusted.example"}

	hostCh := make(chan *Connection, 1)
	hostErrCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		conn, err := ConnectHost(ctx, NewEngine(), hostEp, Schema{}, WithExpectedOrigin("https://trusted.example"))
		if err != nil {
			hostErrCh <- err
			return
		}
		hostCh <- conn
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	guestConn, err := ConnectGuest(ctx, NewEngine(), b, Schema{})
	require.NoError(t, err)
	defer guestConn.Close()

	select {
	case hostConn := <-hostCh:
		defer hostConn.Close()
		require.Equal(t, hostConn.ID, guestConn.ID)
	case err := <-hostErrCh:
		t.Fatalf("ConnectHost failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for host side of handshake")
	}
}
