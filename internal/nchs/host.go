// Package nchs implements the Nethercore Handshake protocol: the host and
// guest state machines that bring up a lobby over UDP and hand off to a
// rollback session once every peer is ready.
package nchs

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nethercore-systems/nethercore/internal/transport"
	"github.com/nethercore-systems/nethercore/internal/wire"
)

// HostState is one state in the host side of the handshake.
type HostState uint8

const (
	HostListening HostState = iota
	HostLobby
	HostStarting
	HostReady
)

func (s HostState) String() string {
	switch s {
	case HostListening:
		return "Listening"
	case HostLobby:
		return "Lobby"
	case HostStarting:
		return "Starting"
	case HostReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// playerTimeout is how long a connected player may go without a message
// before being dropped from the lobby.
const playerTimeout = 5 * time.Second

type connectedPlayer struct {
	handle   uint8
	info     wire.PlayerInfo
	addr     *net.UDPAddr
	ready    bool
	lastSeen time.Time
}

// HostEvent is emitted by HostStateMachine.Poll.
type HostEvent struct {
	Kind HostEventKind

	PlayerHandle uint8
	PlayerInfo   wire.PlayerInfo
	Ready        bool
	SessionStart *wire.SessionStart
	Err          error
}

// HostEventKind discriminates HostEvent.
type HostEventKind uint8

const (
	HostEventNone HostEventKind = iota
	HostEventListening
	HostEventPlayerJoined
	HostEventPlayerLeft
	HostEventPlayerReadyChanged
	HostEventAllReady
	HostEventReady
	HostEventError
)

// HostStateMachine runs the host side of NCHS: it validates JoinRequests,
// tracks lobby membership and readiness, and hands out SessionStart once
// the operator calls Start.
type HostStateMachine struct {
	state HostState
	sock  *transport.Socket
	log   *slog.Logger

	identity  wire.NetplayIdentity
	hostInfo  wire.PlayerInfo
	netConfig wire.NetworkConfig

	players      map[uint8]*connectedPlayer
	addrToHandle map[string]uint8
	nextHandle   uint8

	randomSeed uint64
	haveSeed   bool
	startTime  time.Time

	publicAddr string
}

// NewHost binds a UDP socket on port (0 picks an ephemeral port) and returns
// a host state machine ready to accept JoinRequests.
func NewHost(port uint16, identity wire.NetplayIdentity, hostInfo wire.PlayerInfo, netConfig wire.NetworkConfig) (*HostStateMachine, error) {
	sock, err := transport.Bind(fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("nchs: bind host socket: %w", err)
	}

	realIP := "127.0.0.1"
	for _, ip := range transport.LocalIPs() {
		if ip != "127.0.0.1" {
			realIP = ip
			break
		}
	}
	publicAddr := fmt.Sprintf("%s:%d", realIP, sock.LocalAddr().Port)

	h := &HostStateMachine{
		state:        HostListening,
		sock:         sock,
		log:          slog.With("component", "nchs.host", "port", sock.LocalAddr().Port),
		identity:     identity,
		hostInfo:     hostInfo,
		netConfig:    netConfig,
		players:      make(map[uint8]*connectedPlayer),
		addrToHandle: make(map[string]uint8),
		nextHandle:   1,
		publicAddr:   publicAddr,
	}
	h.log.Info("nchs host listening")
	return h, nil
}

// State returns the host's current handshake state.
func (h *HostStateMachine) State() HostState { return h.state }

// Port returns the bound socket's local port.
func (h *HostStateMachine) Port() uint16 { return uint16(h.sock.LocalAddr().Port) }

// PlayerCount returns the number of connected players including the host.
func (h *HostStateMachine) PlayerCount() uint8 { return uint8(1 + len(h.players)) }

// AllReady reports whether every non-host player has marked ready. Vacuously
// true with no other players connected.
func (h *HostStateMachine) AllReady() bool {
	for _, p := range h.players {
		if !p.ready {
			return false
		}
	}
	return true
}

// IsFull reports whether the lobby has reached the console's max player count.
func (h *HostStateMachine) IsFull() bool {
	return h.PlayerCount() >= h.identity.MaxPlayers
}

// LobbyState builds the current view of every slot, including empty ones.
func (h *HostStateMachine) LobbyState() wire.LobbyState {
	slots := make([]wire.LobbySlot, 0, h.identity.MaxPlayers)
	slots = append(slots, wire.LobbySlot{
		Handle: 0,
		Active: true,
		Info:   h.hostInfo,
		Ready:  true,
		Addr:   h.publicAddr,
	})
	for handle := uint8(1); handle < h.identity.MaxPlayers; handle++ {
		if p, ok := h.players[handle]; ok {
			slots = append(slots, wire.LobbySlot{
				Handle: handle,
				Active: true,
				Info:   p.info,
				Ready:  p.ready,
				Addr:   p.addr.String(),
			})
		} else {
			slots = append(slots, wire.LobbySlot{Handle: handle})
		}
	}
	return wire.LobbyState{Slots: slots, MaxPlayers: h.identity.MaxPlayers, HostHandle: 0}
}

// Poll drains pending datagrams and timeouts, returning at most one event.
// It must be called regularly from the owning goroutine (the tick loop).
func (h *HostStateMachine) Poll() HostEvent {
	if h.state == HostStarting {
		h.state = HostReady
		if ss := h.sessionStart(); ss != nil {
			return HostEvent{Kind: HostEventReady, SessionStart: ss}
		}
	}

	if h.state == HostListening || h.state == HostLobby {
		if handle, ok := h.checkTimeouts(); ok {
			return HostEvent{Kind: HostEventPlayerLeft, PlayerHandle: handle}
		}
	}

	for _, dgram := range h.sock.RecvAll() {
		msg, err := wire.Decode(dgram.Data)
		if err != nil {
			h.log.Debug("dropping malformed datagram", "from", dgram.Addr, "err", err)
			continue
		}
		if ev, ok := h.handleMessage(dgram.Addr, msg); ok {
			return ev
		}
	}
	return HostEvent{Kind: HostEventNone}
}

func (h *HostStateMachine) handleMessage(from *net.UDPAddr, msg *wire.Message) (HostEvent, bool) {
	switch msg.Kind {
	case wire.KindJoinRequest:
		return h.handleJoinRequest(from, msg.JoinRequest)
	case wire.KindGuestReady:
		return h.handleGuestReady(from, msg.GuestReady.Ready)
	case wire.KindPing:
		h.sendTo(from, &wire.Message{Kind: wire.KindPong})
		if handle, ok := h.addrToHandle[from.String()]; ok {
			if p, ok := h.players[handle]; ok {
				p.lastSeen = time.Now()
			}
		}
		return HostEvent{}, false
	case wire.KindPunchAck:
		return HostEvent{}, false
	default:
		h.log.Warn("unexpected message from peer", "kind", msg.Kind, "from", from)
		return HostEvent{}, false
	}
}

func (h *HostStateMachine) handleJoinRequest(from *net.UDPAddr, req *wire.JoinRequest) (HostEvent, bool) {
	if handle, ok := h.addrToHandle[from.String()]; ok {
		h.sendTo(from, &wire.Message{Kind: wire.KindJoinAccept, JoinAccept: &wire.JoinAccept{
			PlayerHandle: handle,
			Lobby:        h.LobbyState(),
		}})
		return HostEvent{}, false
	}

	if reason, msg, ok := h.validateJoinRequest(req); !ok {
		h.sendTo(from, &wire.Message{Kind: wire.KindJoinReject, JoinReject: &wire.JoinReject{Reason: reason, Message: msg}})
		return HostEvent{Kind: HostEventError, Err: fmt.Errorf("nchs: join rejected: %s", reason)}, true
	}

	if h.IsFull() {
		h.sendTo(from, &wire.Message{Kind: wire.KindJoinReject, JoinReject: &wire.JoinReject{Reason: wire.RejectLobbyFull}})
		return HostEvent{}, false
	}

	handle := h.nextHandle
	h.nextHandle++

	h.players[handle] = &connectedPlayer{
		handle:   handle,
		info:     req.Info,
		addr:     from,
		ready:    false,
		lastSeen: time.Now(),
	}
	h.addrToHandle[from.String()] = handle

	h.log.Info("player joined", "handle", handle)

	h.sendTo(from, &wire.Message{Kind: wire.KindJoinAccept, JoinAccept: &wire.JoinAccept{
		PlayerHandle: handle,
		Lobby:        h.LobbyState(),
	}})
	h.broadcastLobbyUpdate()

	if h.state == HostListening {
		h.state = HostLobby
	}

	return HostEvent{Kind: HostEventPlayerJoined, PlayerHandle: handle, PlayerInfo: req.Info}, true
}

func (h *HostStateMachine) validateJoinRequest(req *wire.JoinRequest) (wire.RejectReason, string, bool) {
	if req.Identity.ConsoleType != h.identity.ConsoleType {
		return wire.RejectConsoleTypeMismatch, "console type mismatch", false
	}
	if req.Identity.RomHash != h.identity.RomHash {
		return wire.RejectRomHashMismatch, "different game version", false
	}
	if req.Identity.TickRate != h.identity.TickRate {
		return wire.RejectTickRateMismatch, fmt.Sprintf("expected %dHz, got %dHz", h.identity.TickRate, req.Identity.TickRate), false
	}
	if h.state == HostStarting || h.state == HostReady {
		return wire.RejectGameInProgress, "", false
	}
	return 0, "", true
}

func (h *HostStateMachine) handleGuestReady(from *net.UDPAddr, ready bool) (HostEvent, bool) {
	handle, ok := h.addrToHandle[from.String()]
	if !ok {
		return HostEvent{}, false
	}
	p, ok := h.players[handle]
	if !ok {
		return HostEvent{}, false
	}
	if p.ready == ready {
		return HostEvent{}, false
	}

	p.ready = ready
	p.lastSeen = time.Now()
	h.log.Info("player ready state changed", "handle", handle, "ready", ready)
	h.broadcastLobbyUpdate()

	if h.AllReady() && h.PlayerCount() > 1 {
		return HostEvent{Kind: HostEventAllReady}, true
	}
	return HostEvent{Kind: HostEventPlayerReadyChanged, PlayerHandle: handle, Ready: ready}, true
}

func (h *HostStateMachine) broadcastLobbyUpdate() {
	msg := &wire.Message{Kind: wire.KindLobbyUpdate, LobbyUpdate: &wire.LobbyUpdate{Lobby: h.LobbyState()}}
	for _, p := range h.players {
		h.sendTo(p.addr, msg)
	}
}

// Start finalizes the lobby, generates a random seed, and broadcasts
// SessionStart to every connected guest. It requires at least two players,
// all marked ready.
func (h *HostStateMachine) Start() (*wire.SessionStart, error) {
	if !h.AllReady() {
		return nil, fmt.Errorf("nchs: not all players ready")
	}
	if h.PlayerCount() < 2 {
		return nil, fmt.Errorf("nchs: need at least 2 players")
	}

	h.randomSeed = randomSeed()
	h.haveSeed = true

	ss := &wire.SessionStart{
		LocalPlayerHandle: 0,
		RandomSeed:        h.randomSeed,
		StartFrame:        0,
		TickRate:          h.identity.TickRate,
		Players:           h.buildPlayerConnectionInfo(),
		PlayerCount:       h.PlayerCount(),
		Network:           h.netConfig,
	}

	msg := &wire.Message{Kind: wire.KindSessionStart, SessionStart: ss}
	for _, p := range h.players {
		h.sendTo(p.addr, msg)
	}

	h.state = HostStarting
	h.startTime = time.Now()
	h.log.Info("session started", "players", h.PlayerCount(), "seed", h.randomSeed)

	return ss, nil
}

// MarkReady transitions a host that has already broadcast SessionStart into
// HostReady immediately, since the host never participates in hole punching.
func (h *HostStateMachine) MarkReady() { h.state = HostReady }

// RemovePlayer evicts a player by handle, returning its last known info.
func (h *HostStateMachine) RemovePlayer(handle uint8) (wire.PlayerInfo, bool) {
	p, ok := h.players[handle]
	if !ok {
		return wire.PlayerInfo{}, false
	}
	delete(h.players, handle)
	delete(h.addrToHandle, p.addr.String())
	h.broadcastLobbyUpdate()
	if len(h.players) == 0 {
		h.state = HostListening
	}
	return p.info, true
}

func (h *HostStateMachine) checkTimeouts() (uint8, bool) {
	now := time.Now()
	for handle, p := range h.players {
		if now.Sub(p.lastSeen) > playerTimeout {
			h.log.Warn("player timed out", "handle", handle, "last_seen", humanize.Time(p.lastSeen))
			h.RemovePlayer(handle)
			return handle, true
		}
	}
	return 0, false
}

func (h *HostStateMachine) sessionStart() *wire.SessionStart {
	if !h.haveSeed {
		return nil
	}
	return &wire.SessionStart{
		LocalPlayerHandle: 0,
		RandomSeed:        h.randomSeed,
		StartFrame:        0,
		TickRate:          h.identity.TickRate,
		Players:           h.buildPlayerConnectionInfo(),
		PlayerCount:       h.PlayerCount(),
		Network:           h.netConfig,
	}
}

func (h *HostStateMachine) buildPlayerConnectionInfo() []wire.PlayerConnectionInfo {
	players := make([]wire.PlayerConnectionInfo, 0, h.identity.MaxPlayers)
	players = append(players, wire.PlayerConnectionInfo{
		Handle:   0,
		Active:   true,
		Info:     h.hostInfo,
		Addr:     h.publicAddr,
		GGRSPort: h.Port() + 1,
	})
	for handle := uint8(1); handle < h.identity.MaxPlayers; handle++ {
		if p, ok := h.players[handle]; ok {
			players = append(players, wire.PlayerConnectionInfo{
				Handle:   handle,
				Active:   true,
				Info:     p.info,
				Addr:     p.addr.String(),
				GGRSPort: uint16(p.addr.Port) + 1,
			})
		} else {
			players = append(players, wire.PlayerConnectionInfo{Handle: handle})
		}
	}
	return players
}

func (h *HostStateMachine) sendTo(addr *net.UDPAddr, msg *wire.Message) {
	data, err := wire.Encode(msg)
	if err != nil {
		h.log.Debug("failed to encode outgoing message", "kind", msg.Kind, "err", err)
		return
	}
	h.sock.SendTo(data, addr)
}

// TakeSocket releases ownership of the underlying socket, for handoff to
// the rollback session transport once the handshake completes.
func (h *HostStateMachine) TakeSocket() *transport.Socket { return h.sock }

func randomSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}
