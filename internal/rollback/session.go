package rollback

import (
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/nethercore-systems/nethercore/internal/simtypes"
	"github.com/nethercore-systems/nethercore/internal/transport"
	"github.com/nethercore-systems/nethercore/internal/wire"
)

// inputHistoryDepth is how many trailing local frames are attached to each
// outgoing Input packet for loss recovery.
const inputHistoryDepth = 8

type peerState struct {
	handle       PlayerHandle
	addr         *net.UDPAddr
	queue        *remoteInputQueue
	lastSeen     time.Time
	stalling     bool
	disconnected bool
}

// Session is the lock-step rollback session driver (C5): the tick pipeline
// that samples local input, exchanges it with remote peers, predicts
// missing remote input, advances the simulator, and rewinds/re-simulates
// on contradicted predictions.
type Session struct {
	sim  Sim
	sock *transport.Socket
	log  *slog.Logger

	config      Config
	playerCount uint8
	localHandle PlayerHandle
	peers       map[PlayerHandle]*peerState

	localHistory map[uint32][]byte

	savedFrames    *savedFrameRing
	nextFrame      uint32
	confirmedFrame uint32

	pendingRollbackFrame uint32
	haveRollback         bool

	audioSink AudioSink
}

// NewP2P constructs a rollback session from the fields of a SessionStart
// over an already-bound GGRS socket: it records each remote peer's address
// and queue, and prepares the saved-frame ring bounded by
// max_prediction_frames+1.
func NewP2P(sock *transport.Socket, ss *wire.SessionStart, sim Sim, sink AudioSink) (*Session, error) {
	cfg := Config{
		InputDelay:          ss.Network.InputDelay,
		MaxPredictionFrames: ss.Network.MaxPredictionFrames,
		DisconnectTimeoutMs: ss.Network.DisconnectTimeoutMs,
		DisconnectNotifyMs:  ss.Network.DisconnectNotifyMs,
		SampleRate:          48000,
		TickRateHz:          uint32(ss.TickRate),
	}

	s := &Session{
		sim:            sim,
		sock:           sock,
		log:            slog.With("component", "rollback.session"),
		config:         cfg,
		playerCount:    ss.PlayerCount,
		localHandle:    ss.LocalPlayerHandle,
		peers:          make(map[PlayerHandle]*peerState),
		localHistory:   make(map[uint32][]byte),
		savedFrames:    newSavedFrameRing(int(cfg.MaxPredictionFrames) + 1),
		nextFrame:      ss.StartFrame,
		confirmedFrame: ss.StartFrame,
		audioSink:      sink,
	}

	for _, p := range ss.Players {
		if p.Handle == ss.LocalPlayerHandle {
			continue
		}
		if !p.Active {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", p.Addr)
		if err != nil {
			return nil, fmt.Errorf("rollback: resolve peer %d addr %q: %w", p.Handle, p.Addr, err)
		}
		// A wildcard peer address names this machine, whose packets arrive
		// from loopback; record it as loopback so peerByAddr matches them.
		if addr.IP.IsUnspecified() {
			if addr.IP.To4() != nil {
				addr.IP = net.IPv4(127, 0, 0, 1)
			} else {
				addr.IP = net.IPv6loopback
			}
		}
		s.peers[p.Handle] = &peerState{
			handle:   p.Handle,
			addr:     addr,
			queue:    newRemoteInputQueue(),
			lastSeen: time.Now(),
		}
	}

	return s, nil
}

// CurrentFrame returns the most recently simulated frame number.
func (s *Session) CurrentFrame() uint32 {
	if s.nextFrame == 0 {
		return 0
	}
	return s.nextFrame - 1
}

// ConfirmedFrame returns the latest frame whose inputs are fully
// authoritative across every peer.
func (s *Session) ConfirmedFrame() uint32 { return s.confirmedFrame }

// PeerSummary is a read-only view of one remote peer's liveness, for
// diagnostic surfaces such as the debug API.
type PeerSummary struct {
	Handle       PlayerHandle
	Stalling     bool
	Disconnected bool
}

// Peers returns a snapshot of every remote peer's liveness state.
func (s *Session) Peers() []PeerSummary {
	out := make([]PeerSummary, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, PeerSummary{Handle: p.handle, Stalling: p.stalling, Disconnected: p.disconnected})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// PlayerCount returns the total number of players in the session.
func (s *Session) PlayerCount() uint8 { return s.playerCount }

// LocalHandle returns this instance's own player handle.
func (s *Session) LocalHandle() PlayerHandle { return s.localHandle }

// Advance runs exactly one tick: it stages the caller's local input, shares
// it with remote peers, collects and predicts remote input, advances the
// simulator, and performs a rollback if a just-arrived authoritative input
// contradicts a prediction already simulated.
func (s *Session) Advance(localInput []byte) (*AdvanceReport, error) {
	frame := s.nextFrame

	s.stageLocalInput(frame, localInput)
	s.publishLocalInput(frame)

	report := &AdvanceReport{Frame: frame}
	s.drainSocket(report)

	inputs := s.assembleInputs(frame)
	s.simulateFrame(frame, inputs)
	s.nextFrame++

	if s.haveRollback {
		from := s.pendingRollbackFrame
		s.performRollback(from, frame, report)
		s.haveRollback = false
	}

	s.advanceConfirmedFrame(report)
	s.checkTimeouts(report)
	s.pruneLocalHistory()

	return report, nil
}

func (s *Session) stageLocalInput(frame uint32, input []byte) {
	target := frame + uint32(s.config.InputDelay)
	s.localHistory[target] = input
}

func (s *Session) localInputFor(frame uint32) []byte {
	if in, ok := s.localHistory[frame]; ok {
		return in
	}
	return nil
}

// pruneLocalHistory drops staged local input for frames that can no longer
// be rolled back to, keeping localHistory bounded over a long session
// instead of growing one entry per tick forever.
func (s *Session) pruneLocalHistory() {
	window := uint32(s.config.MaxPredictionFrames)
	if s.confirmedFrame <= window {
		return
	}
	floor := s.confirmedFrame - window
	for f := range s.localHistory {
		if f < floor {
			delete(s.localHistory, f)
		}
	}
}

func (s *Session) publishLocalInput(frame uint32) {
	if len(s.peers) == 0 {
		return
	}
	local := s.localInputFor(frame)
	history := s.recentLocalHistory(frame)

	msg := &wire.Message{Kind: wire.KindInput, Input: &wire.InputPacket{
		Frame:   frame,
		Input:   local,
		History: history,
	}}
	data, err := wire.Encode(msg)
	if err != nil {
		s.log.Debug("failed to encode input packet", "frame", frame, "err", err)
		return
	}
	for _, p := range s.peers {
		if p.disconnected {
			continue
		}
		s.sock.SendTo(data, p.addr)
	}
}

func (s *Session) recentLocalHistory(frame uint32) [][]byte {
	var frames []uint32
	for f := range s.localHistory {
		if f < frame {
			frames = append(frames, f)
		}
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] > frames[j] })
	if len(frames) > inputHistoryDepth {
		frames = frames[:inputHistoryDepth]
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	history := make([][]byte, 0, len(frames))
	for _, f := range frames {
		history = append(history, s.localHistory[f])
	}
	return history
}

func (s *Session) drainSocket(report *AdvanceReport) {
	for _, dgram := range s.sock.RecvAll() {
		p := s.peerByAddr(dgram.Addr)
		if p == nil {
			continue
		}
		p.lastSeen = time.Now()
		p.stalling = false

		msg, err := wire.Decode(dgram.Data)
		if err != nil {
			s.log.Debug("dropping malformed rollback packet", "peer", p.handle, "err", err)
			continue
		}
		s.handlePeerMessage(p, msg, report)
	}
}

func (s *Session) handlePeerMessage(p *peerState, msg *wire.Message, report *AdvanceReport) {
	switch msg.Kind {
	case wire.KindInput:
		s.receiveRemoteInput(p, msg.Input)
	case wire.KindInputAck:
		// acknowledgement only; no action needed beyond lastSeen refresh.
	case wire.KindChecksumReport:
		s.receiveChecksumReport(p, msg.ChecksumReport, report)
	case wire.KindQualityReport, wire.KindQualityReply, wire.KindSyncRequest, wire.KindSyncReply, wire.KindPing, wire.KindPong, wire.KindKeepAlive:
		// handled by the quality tracker / liveness layer, not the tick pipeline.
	default:
		s.log.Debug("unexpected message on rollback socket", "kind", msg.Kind, "peer", p.handle)
	}
}

func (s *Session) receiveRemoteInput(p *peerState, pkt *wire.InputPacket) {
	if s.recordRemoteInput(p, pkt.Frame, pkt.Input) {
		s.markRollback(pkt.Frame)
	}
	histLen := uint32(len(pkt.History))
	if histLen > pkt.Frame {
		histLen = pkt.Frame
	}
	histFrame := pkt.Frame - histLen
	for _, h := range pkt.History[uint32(len(pkt.History))-histLen:] {
		if s.recordRemoteInput(p, histFrame, h) {
			s.markRollback(histFrame)
		}
		histFrame++
	}

	ack := &wire.Message{Kind: wire.KindInputAck, InputAck: &wire.InputAck{Frame: pkt.Frame}}
	data, err := wire.Encode(ack)
	if err == nil {
		s.sock.SendTo(data, p.addr)
	}
}

// recordRemoteInput stores an authoritative remote input and, if that frame
// has already been simulated using a prediction, reports whether the new
// value contradicts what was used.
func (s *Session) recordRemoteInput(p *peerState, frame uint32, input []byte) bool {
	if input == nil {
		return false
	}
	contradicts := p.queue.Put(frame, input)
	return contradicts && frame <= s.CurrentFrame()
}

func (s *Session) markRollback(frame uint32) {
	if !s.haveRollback || frame < s.pendingRollbackFrame {
		s.pendingRollbackFrame = frame
		s.haveRollback = true
	}
}

func (s *Session) receiveChecksumReport(p *peerState, r *wire.ChecksumReport, report *AdvanceReport) {
	if sf, ok := s.savedFrames.Get(r.Frame); ok {
		if sf.Checksum != r.Checksum {
			report.Events = append(report.Events, SessionEvent{
				Kind: EventDesyncAt, Peer: p.handle, Frame: r.Frame,
				LocalChecksum: sf.Checksum, RemoteChecksum: r.Checksum,
			})
		}
	}
}

func (s *Session) peerByAddr(addr *net.UDPAddr) *peerState {
	for _, p := range s.peers {
		if p.addr.String() == addr.String() {
			return p
		}
	}
	return nil
}

// assembleInputs builds the ordered per-handle input vector for frame.
// Remote handles fall back to the peer's predicted input when nothing
// authoritative has arrived yet for frame.
func (s *Session) assembleInputs(frame uint32) [][]byte {
	inputs := make([][]byte, s.playerCount)

	for h := PlayerHandle(0); h < PlayerHandle(s.playerCount); h++ {
		if h == s.localHandle {
			inputs[h] = s.localInputFor(frame)
			continue
		}
		p, ok := s.peers[h]
		if !ok {
			continue
		}
		in, _ := p.queue.Get(frame)
		inputs[h] = in
	}
	return inputs
}

func (s *Session) simulateFrame(frame uint32, inputs [][]byte) {
	before := s.sim.Save()
	result := s.sim.Advance(frame, inputs)
	snapshot := s.sim.Save()
	checksum := s.sim.Checksum(snapshot)

	s.savedFrames.Push(SavedFrame{
		Frame:    frame,
		Snapshot: before,
		Inputs:   inputs,
		Checksum: checksum,
	})
	s.sendAudioSnapshot(result, false)
}

// sendAudioSnapshot materialises an AudioSnapshot from a tick's audio intent
// (C7) and hands it to the audio sink. isRollback is true only for the
// first snapshot emitted after a rollback window begins.
func (s *Session) sendAudioSnapshot(result simtypes.TickResult, isRollback bool) {
	if s.audioSink == nil {
		return
	}
	s.audioSink.Send(simtypes.AudioSnapshot{
		IsRollback:  isRollback,
		SampleRate:  s.config.SampleRate,
		TickRateHz:  s.config.TickRateHz,
		Channels:    result.Channels,
		Music:       result.Music,
		Tracker:     result.Tracker,
		TrackerFull: result.TrackerFull,
	})
}

// performRollback reloads the snapshot retained at `from` and re-simulates
// every frame through `through` using now-authoritative input, notifying
// the audio sink exactly once at the start of the rollback window.
func (s *Session) performRollback(from, through uint32, report *AdvanceReport) {
	sf, ok := s.savedFrames.Get(from)
	if !ok {
		s.log.Warn("rollback target frame no longer retained, skipping", "frame", from)
		return
	}

	s.log.Info("rollback", "from", from, "through", through)
	s.sim.Load(sf.Snapshot)
	s.savedFrames.TruncateFrom(from)

	report.RolledBack = true
	report.RollbackFrom = from
	report.RollbackTo = through

	firstSnapshotOfWindow := true
	for f := from; f <= through; f++ {
		inputs := s.assembleInputs(f)
		before := s.sim.Save()
		result := s.sim.Advance(f, inputs)
		snapshot := s.sim.Save()
		checksum := s.sim.Checksum(snapshot)
		s.savedFrames.Push(SavedFrame{Frame: f, Snapshot: before, Inputs: inputs, Checksum: checksum})

		s.sendAudioSnapshot(result, firstSnapshotOfWindow)
		firstSnapshotOfWindow = false
	}
}

// advanceConfirmedFrame moves confirmed_frame forward over every
// contiguous frame whose input is currently authoritative for every peer,
// evicts retained frames behind it, and emits a ChecksumReport for each
// newly confirmed frame.
func (s *Session) advanceConfirmedFrame(report *AdvanceReport) {
	for {
		next := s.confirmedFrame
		sf, ok := s.savedFrames.Get(next)
		if !ok {
			return
		}
		if !s.allPeersAuthoritative(next) {
			return
		}
		s.broadcastChecksum(sf)
		s.confirmedFrame = next + 1
		s.savedFrames.EvictBefore(s.confirmedFrame)
	}
}

// allPeersAuthoritative reports whether every remote peer's queue holds a
// received (not predicted) input for frame. The local handle's input is
// always authoritative once staged, so only remote peers are checked.
func (s *Session) allPeersAuthoritative(frame uint32) bool {
	for _, p := range s.peers {
		if !p.queue.HasAuthoritative(frame) {
			return false
		}
	}
	return true
}

func (s *Session) broadcastChecksum(sf SavedFrame) {
	if len(s.peers) == 0 {
		return
	}
	msg := &wire.Message{Kind: wire.KindChecksumReport, ChecksumReport: &wire.ChecksumReport{Frame: sf.Frame, Checksum: sf.Checksum}}
	data, err := wire.Encode(msg)
	if err != nil {
		return
	}
	for _, p := range s.peers {
		if !p.disconnected {
			s.sock.SendTo(data, p.addr)
		}
	}
}

func (s *Session) checkTimeouts(report *AdvanceReport) {
	now := time.Now()
	notify := time.Duration(s.config.DisconnectNotifyMs) * time.Millisecond
	timeout := time.Duration(s.config.DisconnectTimeoutMs) * time.Millisecond

	for _, p := range s.peers {
		if p.disconnected {
			continue
		}
		since := now.Sub(p.lastSeen)
		if since > timeout {
			p.disconnected = true
			report.Events = append(report.Events, SessionEvent{Kind: EventPeerDisconnected, Peer: p.handle, Frame: report.Frame})
			continue
		}
		if since > notify && !p.stalling {
			p.stalling = true
			report.Events = append(report.Events, SessionEvent{Kind: EventPeerStalling, Peer: p.handle, Frame: report.Frame})
		}
	}
}
