package nchs

import (
	"net"
	"testing"

	"github.com/nethercore-systems/nethercore/internal/wire"
	"github.com/stretchr/testify/require"
)

func mustResolve(t *testing.T, addr string) *net.UDPAddr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", addr)
	require.NoError(t, err)
	return a
}

func testIdentity() wire.NetplayIdentity {
	return wire.NetplayIdentity{ConsoleType: 1, TickRate: 60, MaxPlayers: 4, RomHash: 0x12345678}
}

func testPlayerInfo(name string) wire.PlayerInfo {
	return wire.PlayerInfo{DisplayName: name, ColorRGB: [3]byte{255, 255, 255}}
}

func newTestHost(t *testing.T) *HostStateMachine {
	t.Helper()
	h, err := NewHost(0, testIdentity(), testPlayerInfo("Host"), wire.NetworkConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { h.TakeSocket().Close() })
	return h
}

func TestHostCreate(t *testing.T) {
	h := newTestHost(t)
	require.Equal(t, HostListening, h.State())
	require.Greater(t, h.Port(), uint16(0))
	require.EqualValues(t, 1, h.PlayerCount())
}

func TestHostLobbyState(t *testing.T) {
	h := newTestHost(t)
	lobby := h.LobbyState()
	require.Len(t, lobby.Slots, 4)
	require.True(t, lobby.Slots[0].Active)
	require.False(t, lobby.Slots[1].Active)
	require.EqualValues(t, 0, lobby.HostHandle)
}

func TestHostAllReadyVacuouslyTrue(t *testing.T) {
	h := newTestHost(t)
	require.True(t, h.AllReady())
}

func TestHostIsFullWithSinglePlayerMax(t *testing.T) {
	id := testIdentity()
	id.MaxPlayers = 1
	h, err := NewHost(0, id, testPlayerInfo("Host"), wire.NetworkConfig{})
	require.NoError(t, err)
	defer h.TakeSocket().Close()
	require.True(t, h.IsFull())
}

func TestHostPublicAddrNotZero(t *testing.T) {
	h := newTestHost(t)
	require.NotContains(t, h.publicAddr, "0.0.0.0")
}

func TestHostLobbyStateHasRealIP(t *testing.T) {
	h := newTestHost(t)
	lobby := h.LobbyState()
	hostSlot := lobby.Slots[0]
	require.NotEmpty(t, hostSlot.Addr)
	require.NotContains(t, hostSlot.Addr, "0.0.0.0")
}

func TestHostStartFailsWithoutEnoughPlayers(t *testing.T) {
	h := newTestHost(t)
	_, err := h.Start()
	require.Error(t, err)
}

func TestHostJoinAcceptAndReadyFlow(t *testing.T) {
	h := newTestHost(t)

	fromAddr := mustResolve(t, "127.0.0.1:54321")
	ev, ok := h.handleJoinRequest(fromAddr, &wire.JoinRequest{Identity: testIdentity(), Info: testPlayerInfo("Guest")})
	require.True(t, ok)
	require.Equal(t, HostEventPlayerJoined, ev.Kind)
	require.EqualValues(t, 1, ev.PlayerHandle)
	require.EqualValues(t, 2, h.PlayerCount())
	require.False(t, h.AllReady())

	ev, ok = h.handleGuestReady(fromAddr, true)
	require.True(t, ok)
	require.Equal(t, HostEventAllReady, ev.Kind)
	require.True(t, h.AllReady())

	ss, err := h.Start()
	require.NoError(t, err)
	require.EqualValues(t, 2, ss.PlayerCount)
	require.Equal(t, HostStarting, h.State())
}

func TestHostRejectsConsoleTypeMismatch(t *testing.T) {
	h := newTestHost(t)
	from := mustResolve(t, "127.0.0.1:54322")
	req := &wire.JoinRequest{Identity: testIdentity(), Info: testPlayerInfo("Guest")}
	req.Identity.ConsoleType = 99
	ev, ok := h.handleJoinRequest(from, req)
	require.True(t, ok)
	require.Equal(t, HostEventError, ev.Kind)
	require.EqualValues(t, 1, h.PlayerCount())
}

func TestHostRejectsWhenFull(t *testing.T) {
	id := testIdentity()
	id.MaxPlayers = 1
	h, err := NewHost(0, id, testPlayerInfo("Host"), wire.NetworkConfig{})
	require.NoError(t, err)
	defer h.TakeSocket().Close()

	from := mustResolve(t, "127.0.0.1:54323")
	req := &wire.JoinRequest{Identity: id, Info: testPlayerInfo("Guest")}
	ev, ok := h.handleJoinRequest(from, req)
	require.False(t, ok)
	require.Equal(t, HostEventNone, ev.Kind)
}
