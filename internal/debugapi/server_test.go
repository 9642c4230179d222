package debugapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nethercore-systems/nethercore/internal/rollback"
	"github.com/nethercore-systems/nethercore/internal/simtypes"
	"github.com/nethercore-systems/nethercore/internal/transport"
	"github.com/nethercore-systems/nethercore/internal/wire"
	"github.com/stretchr/testify/require"
)

type testSim struct{}

func (testSim) Advance(frame uint32, inputs [][]byte) simtypes.TickResult { return simtypes.TickResult{} }
func (testSim) Save() []byte                                              { return []byte{0} }
func (testSim) Load(snapshot []byte)                                      {}
func (testSim) Checksum(snapshot []byte) uint64                           { return 0 }

func newTestSession(t *testing.T) *rollback.Session {
	t.Helper()
	sock, err := transport.BindAny()
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })

	ss := &wire.SessionStart{
		LocalPlayerHandle: 0,
		PlayerCount:       1,
		TickRate:          60,
		Players: []wire.PlayerConnectionInfo{
			{Handle: 0, Active: true, Addr: sock.LocalAddr().String()},
		},
	}
	sess, err := rollback.NewP2P(sock, ss, testSim{}, nil)
	require.NoError(t, err)
	return sess
}

func TestHandleSessionReturnsFrameState(t *testing.T) {
	sess := newTestSession(t)
	srv := New(sess, ":0")

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"player_count":1`)
}

func TestHandleMetricsReturnsLagFrames(t *testing.T) {
	sess := newTestSession(t)
	srv := New(sess, ":0")

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"lag_frames":0`)
	require.Contains(t, rec.Body.String(), `"peer_count":0`)
}
