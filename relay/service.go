package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/bridgerpc/bridgerpc/envelope"
	"github.com/bridgerpc/bridgerpc/transport"
)

// tabEntry is one roster slot: the endpoint a tab handshook over and
// what it advertised. Adapted from internal/broker/service.go's
// Connection struct, trimmed to what the relay protocol actually needs
// per entry.
type tabEntry struct {
	TabID       string
	ep          transport.Endpoint
	methodNames []string
	schema      json.RawMessage
}

// channelState is one channel's roster and shared-state dictionary —
// the relay's analog of internal/broker/service.go's Topic, but keyed
// by tab id instead of holding a message history.
type channelState struct {
	mu     sync.Mutex
	roster map[string]*tabEntry
	state  map[string]json.RawMessage
}

func newChannelState() *channelState {
	return &channelState{roster: make(map[string]*tabEntry), state: make(map[string]json.RawMessage)}
}

// Service is the adapted internal/broker/service.go: instead of topics
// and pipes it holds one channelState per named channel, routing
// BRIDGE_* envelopes per spec.md §4.4's policy list.
type Service struct {
	Debug bool

	mu       sync.Mutex
	channels map[string]*channelState
}

// NewService creates an empty relay service.
func NewService() *Service {
	return &Service{channels: make(map[string]*channelState)}
}

func (s *Service) logf(format string, args ...any) {
	if s.Debug {
		log.Printf(format, args...)
	}
}

func (s *Service) channelFor(name string) *channelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[name]
	if !ok {
		ch = newChannelState()
		s.channels[name] = ch
	}
	return ch
}

func (s *Service) existingChannel(name string) (*channelState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[name]
	return ch, ok
}

func (s *Service) dropChannelIfEmpty(name string, ch *channelState) {
	ch.mu.Lock()
	empty := len(ch.roster) == 0
	ch.mu.Unlock()
	if !empty {
		return
	}
	s.mu.Lock()
	if current, ok := s.channels[name]; ok && current == ch {
		delete(s.channels, name)
	}
	s.mu.Unlock()
}

// Start runs the accept loop over ln, upgrading every incoming request
// to a port-like websocket Endpoint and dispatching its envelopes,
// following the shape of internal/broker/service.go's Start/
// handleConnection pair. It blocks until ctx is done or the listener
// fails, matching the teacher's context-cancel-closes-listener idiom
// from cmd/orchestrator/main.go.
func (s *Service) Start(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ep, err := transport.UpgradeWebsocket(w, r, transport.PortLike)
		if err != nil {
			s.logf("relay: upgrade failed: %v", err)
			return
		}
		s.handleConnection(ep)
	})
	srv := &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) handleConnection(ep transport.Endpoint) {
	var mu sync.Mutex
	var tabID, chName string
	var sub transport.Subscription

	// OnClose catches the tab departing without ever sending
	// BRIDGE_DISCONNECT — a crashed process, a dropped websocket, a
	// channel pair whose peer end closed — so the roster and shared
	// state don't leak (spec.md §4.4's "for any reason"). A tab that
	// does send BRIDGE_DISCONNECT and then closes its own end still
	// fires this once the close propagates to ep; handleDisconnect's
	// endpoint-identity check makes the resulting double call a no-op.
	ep.OnClose(func() {
		mu.Lock()
		tid, cn := tabID, chName
		mu.Unlock()
		s.handleDisconnect(cn, tid, ep)
	})

	sub = ep.Subscribe(func(env *envelope.Envelope) {
		switch env.Action {
		case envelope.BridgeHandshake:
			mu.Lock()
			tabID, chName = env.TabID, env.Channel
			mu.Unlock()
			s.handleHandshake(ep, env)
		case envelope.BridgeDisconnect:
			mu.Lock()
			tid, cn := tabID, chName
			mu.Unlock()
			s.handleDisconnect(cn, tid, ep)
			if sub != nil {
				sub.Unsubscribe()
			}
		case envelope.BridgeBroadcast:
			mu.Lock()
			cn := chName
			mu.Unlock()
			s.handleBroadcast(cn, ep, env)
		case envelope.BridgeDirectMessage:
			mu.Lock()
			cn := chName
			mu.Unlock()
			s.handleDirectMessage(cn, env)
		case envelope.BridgeGetState:
			mu.Lock()
			cn := chName
			mu.Unlock()
			s.handleGetState(ep, cn, env)
		case envelope.BridgeSetState:
			mu.Lock()
			cn := chName
			mu.Unlock()
			s.handleSetState(cn, env)
		case envelope.BridgeGetTabs:
			mu.Lock()
			cn := chName
			mu.Unlock()
			s.handleGetTabs(ep, cn, env)
		default:
			// unknown actions are ignored, not rejected (spec.md §4.4)
		}
	})
}

// handleHandshake implements the Empty->Primed / Primed->Primed
// transitions: the first tab on a channel seeds its shared state from
// its own advertised non-function leaves; later tabs just join the
// roster. A duplicate tab id evicts the previous holder.
func (s *Service) handleHandshake(ep transport.Endpoint, env *envelope.Envelope) {
	ch := s.channelFor(env.Channel)

	ch.mu.Lock()
	if existing, dup := ch.roster[env.TabID]; dup {
		errEnv := envelope.New(envelope.BridgeHandshakeError)
		errEnv.Channel = env.Channel
		errEnv.TabID = env.TabID
		errEnv.Code = envelope.DuplicateTabID
		errEnv.Message = (&DuplicateTabIDError{TabID: env.TabID, Channel: env.Channel}).Error()
		if err := existing.ep.Send(context.Background(), errEnv, transport.SendOptions{}); err != nil {
			s.logf("relay: notifying evicted tab %s failed: %v", env.TabID, err)
		}
		existing.ep.Close()
	}

	if len(ch.roster) == 0 {
		var seed map[string]json.RawMessage
		if len(env.Schema) > 0 {
			_ = json.Unmarshal(env.Schema, &seed)
		}
		if seed == nil {
			seed = make(map[string]json.RawMessage)
		}
		ch.state = seed
	}

	ch.roster[env.TabID] = &tabEntry{TabID: env.TabID, ep: ep, methodNames: env.MethodNames, schema: env.Schema}
	snapshot := cloneState(ch.state)
	ch.mu.Unlock()

	ack := envelope.New(envelope.BridgeHandshakeAck)
	ack.Channel = env.Channel
	ack.TabID = env.TabID
	ack.State = snapshot
	if err := ep.Send(context.Background(), ack, transport.SendOptions{}); err != nil {
		s.logf("relay: handshake ack to tab %s failed: %v", env.TabID, err)
	}
}

// handleDisconnect drops tabID from channel's roster, tearing the
// channel down if that was the last tab — whether the departure was an
// explicit BRIDGE_DISCONNECT or the endpoint simply closing (spec.md
// §4.4: "Primed -> Empty: on explicit BRIDGE_DISCONNECT or when the
// last tab leaves for any reason"). ep identifies which connection is
// leaving: if the roster has already been overwritten by a newer
// connection registered under the same tab id (the duplicate-eviction
// path in handleHandshake), the stale one's eventual Close must not
// delete the new holder's entry, so the delete only applies when the
// roster still points at this exact endpoint. handleConnection passes
// the connection's own ep on both the explicit BRIDGE_DISCONNECT path
// and the OnClose path; a nil ep would match any holder.
func (s *Service) handleDisconnect(channel, tabID string, ep transport.Endpoint) {
	if channel == "" {
		return
	}
	ch, ok := s.existingChannel(channel)
	if !ok {
		return
	}
	ch.mu.Lock()
	if current, present := ch.roster[tabID]; present && (ep == nil || current.ep == ep) {
		delete(ch.roster, tabID)
	}
	ch.mu.Unlock()
	s.dropChannelIfEmpty(channel, ch)
}

func (s *Service) handleBroadcast(channel string, sender transport.Endpoint, env *envelope.Envelope) {
	ch, ok := s.existingChannel(channel)
	if !ok {
		return
	}

	ch.mu.Lock()
	entries := make([]*tabEntry, 0, len(ch.roster))
	for _, e := range ch.roster {
		entries = append(entries, e)
	}
	ch.mu.Unlock()

	relayEnv := envelope.New(envelope.BridgeRelay)
	relayEnv.Channel = channel
	relayEnv.Method = env.Method
	relayEnv.Args = env.Args
	relayEnv.SenderTabID = env.SenderTabID
	relayEnv.SenderResult = env.SenderResult
	relayEnv.SenderError = env.SenderError

	for _, e := range entries {
		if e.ep == sender {
			continue // a tab never receives its own broadcast
		}
		if err := e.ep.Send(context.Background(), relayEnv, transport.SendOptions{}); err != nil {
			s.logf("relay: broadcast to tab %s failed: %v", e.TabID, err)
		}
	}
}

func (s *Service) handleDirectMessage(channel string, env *envelope.Envelope) {
	ch, ok := s.existingChannel(channel)
	if !ok {
		return
	}
	ch.mu.Lock()
	target, ok := ch.roster[env.TargetTabID]
	ch.mu.Unlock()
	if !ok {
		return // silently dropped, no nack
	}

	relayEnv := envelope.New(envelope.BridgeRelay)
	relayEnv.Channel = channel
	relayEnv.Method = env.Method
	relayEnv.Args = env.Args
	relayEnv.SenderTabID = env.SenderTabID
	relayEnv.SenderResult = env.SenderResult
	relayEnv.SenderError = env.SenderError

	if err := target.ep.Send(context.Background(), relayEnv, transport.SendOptions{}); err != nil {
		s.logf("relay: direct message to tab %s failed: %v", env.TargetTabID, err)
	}
}

func (s *Service) handleGetState(ep transport.Endpoint, channel string, env *envelope.Envelope) {
	ch, ok := s.existingChannel(channel)
	if !ok {
		ch = s.channelFor(channel)
	}
	ch.mu.Lock()
	snapshot := cloneState(ch.state)
	ch.mu.Unlock()

	resp := envelope.New(envelope.BridgeStateResponse)
	resp.Channel = channel
	resp.State = snapshot
	if err := ep.Send(context.Background(), resp, transport.SendOptions{}); err != nil {
		s.logf("relay: state response failed: %v", err)
	}
}

// handleSetState updates the channel's dictionary and fans the update
// out to every tab including the one that made the change, serialized
// under the channel's own mutex — so every tab observes updates in the
// same order (spec.md §5).
func (s *Service) handleSetState(channel string, env *envelope.Envelope) {
	ch := s.channelFor(channel)

	ch.mu.Lock()
	if ch.state == nil {
		ch.state = make(map[string]json.RawMessage)
	}
	ch.state[env.Key] = env.Value
	snapshot := cloneState(ch.state)
	entries := make([]*tabEntry, 0, len(ch.roster))
	for _, e := range ch.roster {
		entries = append(entries, e)
	}
	ch.mu.Unlock()

	update := envelope.New(envelope.BridgeStateUpdate)
	update.Channel = channel
	update.Key = env.Key
	update.Value = env.Value
	update.State = snapshot

	for _, e := range entries {
		if err := e.ep.Send(context.Background(), update, transport.SendOptions{}); err != nil {
			s.logf("relay: state update to tab %s failed: %v", e.TabID, err)
		}
	}
}

func (s *Service) handleGetTabs(ep transport.Endpoint, channel string, env *envelope.Envelope) {
	ch, ok := s.existingChannel(channel)
	ids := []string{}
	if ok {
		ch.mu.Lock()
		for id := range ch.roster {
			ids = append(ids, id)
		}
		ch.mu.Unlock()
		sort.Strings(ids)
	}

	resp := envelope.New(envelope.BridgeTabsResponse)
	resp.Channel = channel
	resp.TabIDs = ids
	if err := ep.Send(context.Background(), resp, transport.SendOptions{}); err != nil {
		s.logf("relay: tabs response failed: %v", err)
	}
}
