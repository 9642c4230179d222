package nchs

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nethercore-systems/nethercore/internal/transport"
	"github.com/nethercore-systems/nethercore/internal/wire"
)

// GuestState is one state in the guest side of the handshake.
type GuestState uint8

const (
	GuestConnecting GuestState = iota
	GuestLobby
	GuestReady
	GuestHalted
)

func (s GuestState) String() string {
	switch s {
	case GuestConnecting:
		return "Connecting"
	case GuestLobby:
		return "Lobby"
	case GuestReady:
		return "Ready"
	case GuestHalted:
		return "Halted"
	default:
		return "Unknown"
	}
}

const (
	joinRetryInterval = 500 * time.Millisecond
	joinTimeout       = 10 * time.Second
)

// GuestEventKind discriminates GuestEvent.
type GuestEventKind uint8

const (
	GuestEventNone GuestEventKind = iota
	GuestEventLobbyUpdated
	GuestEventRejected
	GuestEventReady
	GuestEventTimedOut
)

// GuestEvent is emitted by GuestStateMachine.Poll.
type GuestEvent struct {
	Kind         GuestEventKind
	Lobby        wire.LobbyState
	RejectReason wire.RejectReason
	RejectMsg    string
	SessionStart *wire.SessionStart
}

// GuestStateMachine runs the guest side of NCHS against a single host
// address: send JoinRequest, track lobby membership, signal ready, and wait
// for SessionStart.
type GuestStateMachine struct {
	state GuestState
	sock  *transport.Socket
	log   *slog.Logger

	hostAddr *net.UDPAddr
	identity wire.NetplayIdentity
	info     wire.PlayerInfo

	handle   uint8
	lastSent time.Time
	started  time.Time
}

// NewGuest binds an ephemeral UDP socket and prepares to join hostAddr.
func NewGuest(hostAddr string, identity wire.NetplayIdentity, info wire.PlayerInfo) (*GuestStateMachine, error) {
	sock, err := transport.BindAny()
	if err != nil {
		return nil, fmt.Errorf("nchs: bind guest socket: %w", err)
	}
	addr, err := net.ResolveUDPAddr("udp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("nchs: resolve host addr %q: %w", hostAddr, err)
	}
	// A wildcard host address names this machine, whose replies arrive from
	// loopback; record it as loopback so Poll's source check matches them.
	if addr.IP.IsUnspecified() {
		if addr.IP.To4() != nil {
			addr.IP = net.IPv4(127, 0, 0, 1)
		} else {
			addr.IP = net.IPv6loopback
		}
	}

	g := &GuestStateMachine{
		state:    GuestConnecting,
		sock:     sock,
		log:      slog.With("component", "nchs.guest", "host", hostAddr),
		hostAddr: addr,
		identity: identity,
		info:     info,
		started:  time.Now(),
	}
	g.sendJoinRequest()
	return g, nil
}

// State returns the guest's current handshake state.
func (g *GuestStateMachine) State() GuestState { return g.state }

// Handle returns the player handle assigned by the host. Valid only once
// the guest has reached GuestLobby or later.
func (g *GuestStateMachine) Handle() uint8 { return g.handle }

// Poll drains pending datagrams, re-sends the join request on its retry
// interval, and enforces the overall join timeout. Must be called regularly
// from the owning goroutine.
func (g *GuestStateMachine) Poll() GuestEvent {
	if g.state == GuestConnecting {
		if time.Since(g.started) > joinTimeout {
			g.state = GuestHalted
			return GuestEvent{Kind: GuestEventTimedOut}
		}
		if time.Since(g.lastSent) > joinRetryInterval {
			g.sendJoinRequest()
		}
	}

	for _, dgram := range g.sock.RecvAll() {
		if dgram.Addr.String() != g.hostAddr.String() {
			continue
		}
		msg, err := wire.Decode(dgram.Data)
		if err != nil {
			g.log.Debug("dropping malformed datagram", "err", err)
			continue
		}
		if ev, ok := g.handleMessage(msg); ok {
			return ev
		}
	}
	return GuestEvent{Kind: GuestEventNone}
}

func (g *GuestStateMachine) handleMessage(msg *wire.Message) (GuestEvent, bool) {
	switch msg.Kind {
	case wire.KindJoinAccept:
		g.handle = msg.JoinAccept.PlayerHandle
		g.state = GuestLobby
		g.log.Info("joined lobby", "handle", g.handle)
		return GuestEvent{Kind: GuestEventLobbyUpdated, Lobby: msg.JoinAccept.Lobby}, true
	case wire.KindLobbyUpdate:
		return GuestEvent{Kind: GuestEventLobbyUpdated, Lobby: msg.LobbyUpdate.Lobby}, true
	case wire.KindJoinReject:
		g.state = GuestHalted
		g.log.Warn("join rejected", "reason", msg.JoinReject.Reason)
		return GuestEvent{Kind: GuestEventRejected, RejectReason: msg.JoinReject.Reason, RejectMsg: msg.JoinReject.Message}, true
	case wire.KindSessionStart:
		ss := *msg.SessionStart
		ss.LocalPlayerHandle = g.handle
		g.state = GuestReady
		g.log.Info("session ready", "handle", g.handle, "seed", ss.RandomSeed)
		return GuestEvent{Kind: GuestEventReady, SessionStart: &ss}, true
	case wire.KindPong:
		return GuestEvent{}, false
	default:
		g.log.Debug("unexpected message from host", "kind", msg.Kind)
		return GuestEvent{}, false
	}
}

// SetReady signals readiness to the host. Valid only once the guest has
// reached GuestLobby.
func (g *GuestStateMachine) SetReady(ready bool) error {
	if g.state != GuestLobby {
		return fmt.Errorf("nchs: cannot set ready before reaching lobby (state=%s)", g.state)
	}
	g.sendTo(&wire.Message{Kind: wire.KindGuestReady, GuestReady: &wire.GuestReady{Ready: ready}})
	return nil
}

func (g *GuestStateMachine) sendJoinRequest() {
	g.sendTo(&wire.Message{Kind: wire.KindJoinRequest, JoinRequest: &wire.JoinRequest{
		Identity: g.identity,
		Info:     g.info,
	}})
	g.lastSent = time.Now()
}

func (g *GuestStateMachine) sendTo(msg *wire.Message) {
	data, err := wire.Encode(msg)
	if err != nil {
		g.log.Debug("failed to encode outgoing message", "kind", msg.Kind, "err", err)
		return
	}
	g.sock.SendTo(data, g.hostAddr)
}

// TakeSocket releases ownership of the underlying socket, for handoff to
// the rollback session transport once the handshake completes.
func (g *GuestStateMachine) TakeSocket() *transport.Socket { return g.sock }
