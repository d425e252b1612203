package relay

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bridgerpc/bridgerpc/transport"
)

func connectClient(t *testing.T, svc *Service, channel, tabID string, schema Schema) *Client {
	t.Helper()
	clientEp, serviceEp := transport.NewChannelPair(transport.PortLike)
	svc.handleConnection(serviceEp)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := Connect(ctx, ClientOptions{Endpoint: clientEp, Channel: channel, TabID: tabID}, schema)
	require.NoError(t, err)
	return c
}

func TestHandshakeSeedsStateOnlyFromFirstTab(t *testing.T) {
	svc := NewService()

	a := connectClient(t, svc, "room", "tab-a", Schema{"count": float64(1)})
	defer a.Close()

	v, ok := a.Remote().State("count")
	require.True(t, ok)
	require.JSONEq(t, "1", string(v))

	b := connectClient(t, svc, "room", "tab-b", Schema{"count": float64(99)})
	defer b.Close()

	// tab-b's own advertised state is discarded; it inherits the
	// channel's existing state instead (the spec's documented, not
	// redesigned, behavior for a late joiner with a different schema).
	v, ok = b.Remote().State("count")
	require.True(t, ok)
	require.JSONEq(t, "1", string(v))
}

func TestDuplicateTabIDEvictsPreviousHolder(t *testing.T) {
	svc := NewService()

	first := connectClient(t, svc, "room", "tab-a", Schema{})
	defer first.Close()

	clientEp, serviceEp := transport.NewChannelPair(transport.PortLike)
	svc.handleConnection(serviceEp)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := Connect(ctx, ClientOptions{Endpoint: clientEp, Channel: "room", TabID: "tab-a"}, Schema{})
	require.NoError(t, err)
	defer second.Close()

	tabs, err := second.GetConnectedTabs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"tab-a"}, tabs)
}

func TestBroadcastExcludesSenderAndReachesOthers(t *testing.T) {
	svc := NewService()

	receivedB := make(chan string, 1)
	b := connectClient(t, svc, "room", "tab-b", Schema{
		"ping": Handler(func(ctx context.Context, args []json.RawMessage, cc *CallContext) (any, error) {
			receivedB <- cc.Sender
			return nil, nil
		}),
	})
	defer b.Close()

	var runsA int32
	a := connectClient(t, svc, "room", "tab-a", Schema{
		"ping": Handler(func(ctx context.Context, args []json.RawMessage, cc *CallContext) (any, error) {
			atomic.AddInt32(&runsA, 1)
			return "pong", nil
		}),
	})
	defer a.Close()

	_, err := a.Remote().Call(context.Background(), "ping")
	require.NoError(t, err)

	select {
	case sender := <-receivedB:
		require.Equal(t, "tab-a", sender)
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached tab-b")
	}

	// tab-a's handler ran once for its own local call; a relay echoed
	// back to the sender would run it a second time.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&runsA))
}

func TestDirectMessageDroppedIfTargetAbsent(t *testing.T) {
	svc := NewService()
	a := connectClient(t, svc, "room", "tab-a", Schema{
		"noop": Handler(func(ctx context.Context, args []json.RawMessage, cc *CallContext) (any, error) {
			return nil, nil
		}),
	})
	defer a.Close()

	_, err := a.Remote().To("ghost").Call(context.Background(), "noop")
	require.NoError(t, err) // local handler still runs; the dispatch is fire-and-forget
}

func TestSetStateFansOutToAllIncludingSender(t *testing.T) {
	svc := NewService()
	a := connectClient(t, svc, "room", "tab-a", Schema{})
	defer a.Close()
	b := connectClient(t, svc, "room", "tab-b", Schema{})
	defer b.Close()

	require.NoError(t, a.Remote().SetState(context.Background(), "counter", 5))

	require.Eventually(t, func() bool {
		v, ok := a.Remote().State("counter")
		if !ok {
			return false
		}
		var n int
		_ = json.Unmarshal(v, &n)
		return n == 5
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		v, ok := b.Remote().State("counter")
		if !ok {
			return false
		}
		var n int
		_ = json.Unmarshal(v, &n)
		return n == 5
	}, time.Second, 10*time.Millisecond)
}

func channelExists(svc *Service, name string) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	_, ok := svc.channels[name]
	return ok
}

// TestUngracefulDisconnectDropsRosterEntry simulates a tab crashing:
// its endpoint just vanishes, with no BRIDGE_DISCONNECT ever sent. The
// roster must still notice, the same as an explicit disconnect (spec.md
// §4.4: "when the last tab leaves for any reason").
func TestUngracefulDisconnectDropsRosterEntry(t *testing.T) {
	svc := NewService()

	a := connectClient(t, svc, "room", "tab-a", Schema{})
	defer a.Close()

	clientEp, serviceEp := transport.NewChannelPair(transport.PortLike)
	svc.handleConnection(serviceEp)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, err := Connect(ctx, ClientOptions{Endpoint: clientEp, Channel: "room", TabID: "tab-b"}, Schema{})
	cancel()
	require.NoError(t, err)

	require.NoError(t, clientEp.Close())

	require.Eventually(t, func() bool {
		tabs, err := a.GetConnectedTabs(context.Background())
		return err == nil && len(tabs) == 1 && tabs[0] == "tab-a"
	}, time.Second, 10*time.Millisecond)
}

// TestUngracefulDisconnectOfLastTabTearsDownChannel covers the same
// crash scenario when the departing tab was the channel's only
// occupant: the channel and its state dictionary must still be dropped.
func TestUngracefulDisconnectOfLastTabTearsDownChannel(t *testing.T) {
	svc := NewService()

	clientEp, serviceEp := transport.NewChannelPair(transport.PortLike)
	svc.handleConnection(serviceEp)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, err := Connect(ctx, ClientOptions{Endpoint: clientEp, Channel: "solo-room", TabID: "tab-a"}, Schema{})
	cancel()
	require.NoError(t, err)
	require.True(t, channelExists(svc, "solo-room"))

	require.NoError(t, clientEp.Close())

	require.Eventually(t, func() bool {
		return !channelExists(svc, "solo-room")
	}, time.Second, 10*time.Millisecond)
}

func TestGetTabsReturnsRoster(t *testing.T) {
	svc := NewService()
	a := connectClient(t, svc, "room", "tab-a", Schema{})
	defer a.Close()
	b := connectClient(t, svc, "room", "tab-b", Schema{})
	defer b.Close()

	tabs, err := a.GetConnectedTabs(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tab-a", "tab-b"}, tabs)
}
