package rollback

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/nethercore-systems/nethercore/internal/simtypes"
	"github.com/nethercore-systems/nethercore/internal/transport"
	"github.com/nethercore-systems/nethercore/internal/wire"
	"github.com/stretchr/testify/require"
)

// fnvSim is a tiny deterministic Sim: its state is a running hash of every
// frame number and input byte it has ever seen, making divergence between
// two instances trivial to detect via Checksum.
type fnvSim struct {
	state uint64
}

func (s *fnvSim) Advance(frame uint32, inputs [][]byte) simtypes.TickResult {
	acc := s.state
	acc = acc*31 + uint64(frame)
	for _, in := range inputs {
		for _, b := range in {
			acc = acc*31 + uint64(b)
		}
	}
	s.state = acc
	return simtypes.TickResult{}
}

func (s *fnvSim) Save() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, s.state)
	return buf
}

func (s *fnvSim) Load(snapshot []byte) {
	s.state = binary.LittleEndian.Uint64(snapshot)
}

func (s *fnvSim) Checksum(snapshot []byte) uint64 {
	return binary.LittleEndian.Uint64(snapshot)
}

type recordingSink struct {
	snapshots []simtypes.AudioSnapshot
}

func (r *recordingSink) Send(s simtypes.AudioSnapshot) {
	r.snapshots = append(r.snapshots, s)
}

func twoPlayerSessions(t *testing.T, inputDelay uint8) (*Session, *Session, *recordingSink, *recordingSink) {
	t.Helper()

	sockA, err := transport.BindAny()
	require.NoError(t, err)
	t.Cleanup(func() { sockA.Close() })

	sockB, err := transport.BindAny()
	require.NoError(t, err)
	t.Cleanup(func() { sockB.Close() })

	netCfg := wire.NetworkConfig{
		InputDelay:          inputDelay,
		MaxPredictionFrames: 8,
		DisconnectTimeoutMs: 5000,
		DisconnectNotifyMs:  2000,
	}
	players := []wire.PlayerConnectionInfo{
		{Handle: 0, Active: true, Addr: sockA.LocalAddr().String()},
		{Handle: 1, Active: true, Addr: sockB.LocalAddr().String()},
	}

	ssA := &wire.SessionStart{LocalPlayerHandle: 0, TickRate: 60, PlayerCount: 2, Network: netCfg, Players: players}
	ssB := &wire.SessionStart{LocalPlayerHandle: 1, TickRate: 60, PlayerCount: 2, Network: netCfg, Players: players}

	sinkA := &recordingSink{}
	sinkB := &recordingSink{}

	sessA, err := NewP2P(sockA, ssA, &fnvSim{}, sinkA)
	require.NoError(t, err)
	sessB, err := NewP2P(sockB, ssB, &fnvSim{}, sinkB)
	require.NoError(t, err)

	return sessA, sessB, sinkA, sinkB
}

func TestSessionTwoPeersConfirmFramesWithMatchingChecksums(t *testing.T) {
	sessA, sessB, _, _ := twoPlayerSessions(t, 0)

	var desyncs []SessionEvent
	for i := 0; i < 60; i++ {
		repA, err := sessA.Advance([]byte{byte(i)})
		require.NoError(t, err)
		repB, err := sessB.Advance([]byte{byte(200 - i)})
		require.NoError(t, err)

		for _, e := range repA.Events {
			if e.Kind == EventDesyncAt {
				desyncs = append(desyncs, e)
			}
		}
		for _, e := range repB.Events {
			if e.Kind == EventDesyncAt {
				desyncs = append(desyncs, e)
			}
		}

		time.Sleep(time.Millisecond)
	}

	require.Empty(t, desyncs, "checksum reports must never disagree between peers")
	require.Greater(t, sessA.ConfirmedFrame(), uint32(0))
	require.Greater(t, sessB.ConfirmedFrame(), uint32(0))
}

func TestSessionTwoPeersConfirmFramesWithStableRepeatedInput(t *testing.T) {
	sessA, sessB, _, _ := twoPlayerSessions(t, 0)

	const ticks = 40
	for i := 0; i < ticks; i++ {
		_, err := sessA.Advance([]byte{7})
		require.NoError(t, err)
		_, err = sessB.Advance([]byte{7})
		require.NoError(t, err)

		time.Sleep(time.Millisecond)
	}

	window := uint32(sessA.config.MaxPredictionFrames)
	require.Greater(t, sessA.ConfirmedFrame(), window, "confirmed frame must advance past the prediction window even when every prediction is correct")
	require.Greater(t, sessB.ConfirmedFrame(), window, "confirmed frame must advance past the prediction window even when every prediction is correct")
}

func TestSessionSavedFrameRingStaysBounded(t *testing.T) {
	sessA, sessB, _, _ := twoPlayerSessions(t, 2)

	for i := 0; i < 40; i++ {
		_, err := sessA.Advance([]byte{byte(i)})
		require.NoError(t, err)
		_, err = sessB.Advance([]byte{byte(i)})
		require.NoError(t, err)
		require.LessOrEqual(t, sessA.savedFrames.Len(), int(sessA.config.MaxPredictionFrames)+1)
		require.LessOrEqual(t, sessB.savedFrames.Len(), int(sessB.config.MaxPredictionFrames)+1)
	}
}

func TestSessionSinglePlayerNeverRollsBack(t *testing.T) {
	sockA, err := transport.BindAny()
	require.NoError(t, err)
	defer sockA.Close()

	ss := &wire.SessionStart{
		LocalPlayerHandle: 0,
		TickRate:          60,
		PlayerCount:       1,
		Network:           wire.NetworkConfig{MaxPredictionFrames: 8},
		Players:           []wire.PlayerConnectionInfo{{Handle: 0, Active: true, Addr: sockA.LocalAddr().String()}},
	}
	sink := &recordingSink{}
	sess, err := NewP2P(sockA, ss, &fnvSim{}, sink)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		rep, err := sess.Advance([]byte{byte(i)})
		require.NoError(t, err)
		require.False(t, rep.RolledBack)
	}
	require.EqualValues(t, 20, sess.ConfirmedFrame())
}
