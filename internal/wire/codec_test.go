package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg *Message) *Message {
	t.Helper()
	data, err := Encode(msg)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	return got
}

func TestRoundTripJoinRequest(t *testing.T) {
	msg := &Message{
		Kind: KindJoinRequest,
		JoinRequest: &JoinRequest{
			Identity: NetplayIdentity{ConsoleType: 3, TickRate: 60, MaxPlayers: 4, RomHash: 0xDEADBEEF},
			Info:     PlayerInfo{DisplayName: "sable", AvatarID: 7, ColorRGB: [3]byte{10, 20, 30}},
		},
	}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.JoinRequest, got.JoinRequest)
}

func TestRoundTripJoinAccept(t *testing.T) {
	msg := &Message{
		Kind: KindJoinAccept,
		JoinAccept: &JoinAccept{
			PlayerHandle: 2,
			Lobby: LobbyState{
				Slots: []LobbySlot{
					{Handle: 1, Active: true, Info: PlayerInfo{DisplayName: "host"}, Ready: true, Addr: "10.0.0.1:9000"},
					{Handle: 2, Active: true, Info: PlayerInfo{DisplayName: "guest"}, Ready: false, Addr: "10.0.0.2:9000"},
				},
				MaxPlayers: 4,
				HostHandle: 1,
			},
		},
	}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.JoinAccept, got.JoinAccept)
}

func TestRoundTripJoinReject(t *testing.T) {
	msg := &Message{
		Kind:       KindJoinReject,
		JoinReject: &JoinReject{Reason: RejectLobbyFull, Message: "lobby is full"},
	}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.JoinReject, got.JoinReject)
}

func TestRoundTripLobbyUpdate(t *testing.T) {
	msg := &Message{
		Kind: KindLobbyUpdate,
		LobbyUpdate: &LobbyUpdate{
			Lobby: LobbyState{MaxPlayers: 2, HostHandle: 1},
		},
	}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.LobbyUpdate, got.LobbyUpdate)
}

func TestRoundTripGuestReady(t *testing.T) {
	for _, ready := range []bool{true, false} {
		msg := &Message{Kind: KindGuestReady, GuestReady: &GuestReady{Ready: ready}}
		got := roundTrip(t, msg)
		assert.Equal(t, ready, got.GuestReady.Ready)
	}
}

func TestRoundTripSessionStart(t *testing.T) {
	msg := &Message{
		Kind: KindSessionStart,
		SessionStart: &SessionStart{
			LocalPlayerHandle: 0,
			RandomSeed:        0x1122334455667788,
			StartFrame:        120,
			TickRate:          60,
			Players: []PlayerConnectionInfo{
				{Handle: 0, Active: true, Info: PlayerInfo{DisplayName: "a"}, Addr: "1.2.3.4:7000", GGRSPort: 7001},
				{Handle: 1, Active: true, Info: PlayerInfo{DisplayName: "b"}, Addr: "5.6.7.8:7000", GGRSPort: 7001},
			},
			PlayerCount: 2,
			Network: NetworkConfig{
				InputDelay:          2,
				MaxPredictionFrames: 8,
				DisconnectTimeoutMs: 3000,
				DisconnectNotifyMs:  1000,
			},
			HasSaveConfig: true,
			SaveConfig:    []byte{1, 2, 3, 4},
		},
	}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.SessionStart, got.SessionStart)
}

func TestRoundTripPingPongKeepAlivePunchAck(t *testing.T) {
	for _, kind := range []Kind{KindPing, KindPong, KindKeepAlive, KindPunchAck} {
		msg := &Message{Kind: kind}
		got := roundTrip(t, msg)
		assert.Equal(t, kind, got.Kind)
	}
}

func TestRoundTripInputPacket(t *testing.T) {
	msg := &Message{
		Kind: KindInput,
		Input: &InputPacket{
			Frame: 42,
			Input: FrameInput{Buttons: 0x0F0F, StickLX: -5, StickLY: 6, TriggerL: 200}.Encode(),
			History: [][]byte{
				FrameInput{Buttons: 1}.Encode(),
				FrameInput{Buttons: 2}.Encode(),
			},
		},
	}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.Input, got.Input)
}

func TestEncodeInputPacketHistoryTooLongFails(t *testing.T) {
	history := make([][]byte, 9)
	for i := range history {
		history[i] = FrameInput{}.Encode()
	}
	msg := &Message{Kind: KindInput, Input: &InputPacket{Frame: 1, History: history}}
	_, err := Encode(msg)
	assert.Error(t, err)
}

func TestRoundTripInputAck(t *testing.T) {
	msg := &Message{Kind: KindInputAck, InputAck: &InputAck{Frame: 999}}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.InputAck, got.InputAck)
}

func TestRoundTripChecksumReport(t *testing.T) {
	msg := &Message{Kind: KindChecksumReport, ChecksumReport: &ChecksumReport{Frame: 10, Checksum: 0xCAFEBABE}}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.ChecksumReport, got.ChecksumReport)
}

func TestRoundTripQualityReport(t *testing.T) {
	msg := &Message{Kind: KindQualityReport, QualityReport: &QualityReport{RTTMillis: 55, JitterMillis: 8, LossPercent: 3}}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.QualityReport, got.QualityReport)
}

func TestRoundTripQualityReply(t *testing.T) {
	msg := &Message{Kind: KindQualityReply, QualityReply: &QualityReply{RTTMillis: 55}}
	got := roundTrip(t, msg)
	assert.Equal(t, msg.QualityReply, got.QualityReply)
}

func TestRoundTripSyncRequestReply(t *testing.T) {
	req := &Message{Kind: KindSyncRequest, SyncRequest: &SyncRequest{RandomData: 0xABCD}}
	gotReq := roundTrip(t, req)
	assert.Equal(t, req.SyncRequest, gotReq.SyncRequest)

	rep := &Message{Kind: KindSyncReply, SyncReply: &SyncReply{RandomReply: 0xABCD}}
	gotRep := roundTrip(t, rep)
	assert.Equal(t, rep.SyncReply, gotRep.SyncReply)
}

func TestEncodeOversizedMessageFails(t *testing.T) {
	msg := &Message{
		Kind: KindSessionStart,
		SessionStart: &SessionStart{
			SaveConfig: make([]byte, MaxDatagramBytes),
		},
	}
	_, err := Encode(msg)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestDecodeUnknownKindFails(t *testing.T) {
	data := []byte{CompatibilityTag, 200}
	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeTruncatedFails(t *testing.T) {
	_, err := Decode([]byte{CompatibilityTag})
	assert.ErrorIs(t, err, ErrTruncated)

	msg := &Message{Kind: KindChecksumReport, ChecksumReport: &ChecksumReport{Frame: 1, Checksum: 2}}
	data, err := Encode(msg)
	require.NoError(t, err)
	_, err = Decode(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeIncompatibleTagFails(t *testing.T) {
	_, err := Decode([]byte{99, byte(KindPing)})
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestDecodeEmptyBufferFails(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestWriteStringRejectsOverlongName(t *testing.T) {
	msg := &Message{
		Kind: KindJoinRequest,
		JoinRequest: &JoinRequest{
			Info: PlayerInfo{DisplayName: strings.Repeat("x", maxStringBytes+1)},
		},
	}
	_, err := Encode(msg)
	assert.ErrorIs(t, err, ErrStringTooLong)
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "Kind(0)", Kind(0).String())
	assert.Equal(t, "JoinRequest", KindJoinRequest.String())
}

func TestFrameInputEncodeDecodeRoundTrip(t *testing.T) {
	in := FrameInput{Buttons: 0xBEEF, StickLX: -128, StickLY: 127, StickRX: 1, StickRY: -1, TriggerL: 255, TriggerR: 0}
	out := DecodeFrameInput(in.Encode())
	assert.Equal(t, in, out)
}

func TestFrameInputLessIsTotalOrder(t *testing.T) {
	a := FrameInput{Buttons: 1}
	b := FrameInput{Buttons: 2}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}
