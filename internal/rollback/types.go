// Package rollback implements the lock-step rollback session (C5): the
// tick pipeline that exchanges per-peer inputs, predicts missing remote
// input, and rewinds/re-simulates the guest when a prediction is
// contradicted by a late-arriving authoritative input.
package rollback

import (
	"errors"

	"github.com/nethercore-systems/nethercore/internal/simtypes"
)

// Sim is the deterministic simulator wrapper (C6) consumed by a Session.
// Advance must be a pure function of (state-before, inputs): no wall-clock
// reads, no OS randomness, no thread-dependent iteration order.
type Sim interface {
	// Advance runs exactly one tick given the ordered per-handle inputs and
	// reports the tick's audio intent.
	Advance(frame uint32, inputs [][]byte) simtypes.TickResult
	// Save produces a deterministic byte image of the simulator's state.
	Save() []byte
	// Load restores state from a byte image produced by Save.
	Load(snapshot []byte)
	// Checksum derives a stable 64-bit digest from a snapshot byte image.
	Checksum(snapshot []byte) uint64
}

// AudioSink receives one AudioSnapshot per simulated tick, including each
// tick re-simulated during a rollback. Implementations
// must never block the simulation thread; the audio generation thread's
// receiving channel drops the oldest pending snapshot on overflow rather
// than stalling Send.
type AudioSink interface {
	Send(simtypes.AudioSnapshot)
}

// SavedFrame is one tick's retained state, used to rewind on rollback.
// Snapshot is the simulator state before Frame was advanced; Checksum is
// the digest of the state after it.
type SavedFrame struct {
	Frame    uint32
	Snapshot []byte
	Inputs   [][]byte
	Checksum uint64
}

// Config mirrors wire.NetworkConfig, decoupled from the wire package so the
// session package has no codec dependency.
type Config struct {
	InputDelay          uint8
	MaxPredictionFrames uint8
	DisconnectTimeoutMs uint32
	DisconnectNotifyMs  uint32
	SampleRate          uint32
	TickRateHz          uint32
}

// PlayerHandle identifies one of up to four session participants; the host
// is always handle 0.
type PlayerHandle = uint8

// Peer describes one session participant as known at construction time.
type Peer struct {
	Handle  PlayerHandle
	Addr    string // host:port, empty for local handles
	IsLocal bool
}

// EventKind discriminates SessionEvent.
type EventKind uint8

const (
	EventDesyncAt EventKind = iota
	EventPeerStalling
	EventPeerDisconnected
	EventPeerLost
)

// SessionEvent is a cross-session notification surfaced through
// AdvanceReport, per the error-handling design's propagation policy:
// disconnects, stalls, and desyncs are typed events, not panics.
type SessionEvent struct {
	Kind           EventKind
	Peer           PlayerHandle
	Frame          uint32
	LocalChecksum  uint64
	RemoteChecksum uint64
}

// AdvanceReport is returned by Session.Advance.
type AdvanceReport struct {
	Frame        uint32
	RolledBack   bool
	RollbackFrom uint32
	RollbackTo   uint32
	Events       []SessionEvent
}

var (
	// ErrPeerLost names the condition where a disconnected peer cannot be
	// substituted and the session must halt. No function in this package
	// returns it: after EventPeerDisconnected, Advance goes on predicting
	// that peer's input from its last known input.
	ErrPeerLost = errors.New("rollback: peer lost, session halted")
	// ErrUnknownHandle names an operation that references a handle outside
	// the session's configured player list. No function in this package
	// returns it.
	ErrUnknownHandle = errors.New("rollback: unknown player handle")
	// ErrNotLocal names local input supplied for a handle the session does
	// not own. No function in this package returns it.
	ErrNotLocal = errors.New("rollback: handle is not locally owned")
)
