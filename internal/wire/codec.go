package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxDatagramBytes is the hard cap on an encoded message; anything larger
// fails with ErrMessageTooLarge rather than being split across datagrams.
const MaxDatagramBytes = 1400

// TargetDatagramBytes is the soft budget a well-behaved encoder should stay
// under so the message fits comfortably in a single UDP datagram.
const TargetDatagramBytes = 1200

const maxStringBytes = 64

// CompatibilityTag is carried in the connection header so that incompatible
// wire versions fail fast instead of silently misparsing.
const CompatibilityTag uint8 = 1

// MaxSessionFileBytes bounds a session file blob read from disk by
// EncodeSessionFile/DecodeSessionFile. Session files are never sent over a
// datagram transport, so they are exempt from MaxDatagramBytes, but they
// still need a sanity ceiling against a truncated or corrupt file.
const MaxSessionFileBytes = 1 << 20

var (
	// ErrMessageTooLarge is returned when an encoded message would exceed
	// MaxDatagramBytes.
	ErrMessageTooLarge = errors.New("wire: message too large")
	// ErrUnknownKind is returned when decoding an enum tag this version
	// does not recognise.
	ErrUnknownKind = errors.New("wire: unknown message kind")
	// ErrTruncated is returned when the buffer ends before a field's
	// declared length.
	ErrTruncated = errors.New("wire: truncated message")
	// ErrStringTooLong is returned when a string exceeds maxStringBytes.
	ErrStringTooLong = errors.New("wire: string exceeds 64 bytes")
	// ErrIncompatible is returned when the compatibility tag does not match.
	ErrIncompatible = errors.New("wire: incompatible compatibility tag")
)

// Encode serialises msg into a little-endian, length-prefixed byte slice.
func Encode(msg *Message) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(CompatibilityTag)
	buf.WriteByte(byte(msg.Kind))

	var err error
	switch msg.Kind {
	case KindJoinRequest:
		err = encodeJoinRequest(buf, msg.JoinRequest)
	case KindJoinAccept:
		err = encodeJoinAccept(buf, msg.JoinAccept)
	case KindJoinReject:
		err = encodeJoinReject(buf, msg.JoinReject)
	case KindLobbyUpdate:
		err = encodeLobbyUpdate(buf, msg.LobbyUpdate)
	case KindGuestReady:
		err = writeBool(buf, msg.GuestReady.Ready)
	case KindSessionStart:
		err = encodeSessionStart(buf, msg.SessionStart)
	case KindPing, KindPong, KindKeepAlive:
		// no payload
	case KindPunchAck:
		// no payload
	case KindInput:
		err = encodeInputPacket(buf, msg.Input)
	case KindInputAck:
		err = binary.Write(buf, binary.LittleEndian, msg.InputAck.Frame)
	case KindChecksumReport:
		err = encodeChecksumReport(buf, msg.ChecksumReport)
	case KindQualityReport:
		err = encodeQualityReport(buf, msg.QualityReport)
	case KindQualityReply:
		err = binary.Write(buf, binary.LittleEndian, msg.QualityReply.RTTMillis)
	case KindSyncRequest:
		err = binary.Write(buf, binary.LittleEndian, msg.SyncRequest.RandomData)
	case KindSyncReply:
		err = binary.Write(buf, binary.LittleEndian, msg.SyncReply.RandomReply)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, msg.Kind)
	}
	if err != nil {
		return nil, err
	}

	if buf.Len() > MaxDatagramBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, buf.Len())
	}
	return buf.Bytes(), nil
}

// EncodeSessionFile serialises a SessionStart for storage on disk (the
// bootstrap session file), sharing the same field codec as Encode but
// bounded by MaxSessionFileBytes instead of MaxDatagramBytes.
func EncodeSessionFile(ss *SessionStart) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(CompatibilityTag)
	if err := encodeSessionStart(buf, ss); err != nil {
		return nil, err
	}
	if buf.Len() > MaxSessionFileBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, buf.Len())
	}
	return buf.Bytes(), nil
}

// DecodeSessionFile parses a byte slice produced by EncodeSessionFile.
func DecodeSessionFile(data []byte) (*SessionStart, error) {
	if len(data) > MaxSessionFileBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	if len(data) < 1 {
		return nil, ErrTruncated
	}
	r := bytes.NewReader(data)
	tagByte, _ := r.ReadByte()
	if tagByte != CompatibilityTag {
		return nil, ErrIncompatible
	}
	ss, err := decodeSessionStart(r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return ss, nil
}

// Decode parses a byte slice produced by Encode. Unknown compatibility tags
// or enum kinds fail explicitly rather than silently dropping the datagram.
func Decode(data []byte) (*Message, error) {
	if len(data) < 2 {
		return nil, ErrTruncated
	}
	r := bytes.NewReader(data)
	tagByte, _ := r.ReadByte()
	if tagByte != CompatibilityTag {
		return nil, ErrIncompatible
	}
	kindByte, _ := r.ReadByte()
	kind := Kind(kindByte)

	msg := &Message{Kind: kind}
	var err error
	switch kind {
	case KindJoinRequest:
		msg.JoinRequest, err = decodeJoinRequest(r)
	case KindJoinAccept:
		msg.JoinAccept, err = decodeJoinAccept(r)
	case KindJoinReject:
		msg.JoinReject, err = decodeJoinReject(r)
	case KindLobbyUpdate:
		msg.LobbyUpdate, err = decodeLobbyUpdate(r)
	case KindGuestReady:
		var ready bool
		ready, err = readBool(r)
		msg.GuestReady = &GuestReady{Ready: ready}
	case KindSessionStart:
		msg.SessionStart, err = decodeSessionStart(r)
	case KindPing, KindPong, KindKeepAlive, KindPunchAck:
		// no payload
	case KindInput:
		msg.Input, err = decodeInputPacket(r)
	case KindInputAck:
		ia := &InputAck{}
		err = binary.Read(r, binary.LittleEndian, &ia.Frame)
		msg.InputAck = ia
	case KindChecksumReport:
		msg.ChecksumReport, err = decodeChecksumReport(r)
	case KindQualityReport:
		msg.QualityReport, err = decodeQualityReport(r)
	case KindQualityReply:
		qr := &QualityReply{}
		err = binary.Read(r, binary.LittleEndian, &qr.RTTMillis)
		msg.QualityReply = qr
	case KindSyncRequest:
		sr := &SyncRequest{}
		err = binary.Read(r, binary.LittleEndian, &sr.RandomData)
		msg.SyncRequest = sr
	case KindSyncReply:
		sr := &SyncReply{}
		err = binary.Read(r, binary.LittleEndian, &sr.RandomReply)
		msg.SyncReply = sr
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return msg, nil
}

// --- primitive helpers ---

func writeBool(buf *bytes.Buffer, v bool) error {
	var b byte
	if v {
		b = 1
	}
	return buf.WriteByte(b)
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, ErrTruncated
	}
	return b != 0, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxStringBytes {
		return ErrStringTooLong
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", ErrTruncated
	}
	if int(n) > r.Len() {
		return "", ErrTruncated
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrTruncated
	}
	return string(b), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, ErrTruncated
	}
	if int(n) > r.Len() {
		return nil, ErrTruncated
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, ErrTruncated
		}
	}
	return b, nil
}

func writePlayerInfo(buf *bytes.Buffer, p PlayerInfo) error {
	if err := writeString(buf, p.DisplayName); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, p.AvatarID); err != nil {
		return err
	}
	_, err := buf.Write(p.ColorRGB[:])
	return err
}

func readPlayerInfo(r *bytes.Reader) (PlayerInfo, error) {
	var p PlayerInfo
	name, err := readString(r)
	if err != nil {
		return p, err
	}
	p.DisplayName = name
	if err := binary.Read(r, binary.LittleEndian, &p.AvatarID); err != nil {
		return p, ErrTruncated
	}
	if _, err := io.ReadFull(r, p.ColorRGB[:]); err != nil {
		return p, ErrTruncated
	}
	return p, nil
}

func writeIdentity(buf *bytes.Buffer, id NetplayIdentity) error {
	if err := buf.WriteByte(id.ConsoleType); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, id.TickRate); err != nil {
		return err
	}
	if err := buf.WriteByte(id.MaxPlayers); err != nil {
		return err
	}
	return binary.Write(buf, binary.LittleEndian, id.RomHash)
}

func readIdentity(r *bytes.Reader) (NetplayIdentity, error) {
	var id NetplayIdentity
	var err error
	if id.ConsoleType, err = r.ReadByte(); err != nil {
		return id, ErrTruncated
	}
	if err = binary.Read(r, binary.LittleEndian, &id.TickRate); err != nil {
		return id, ErrTruncated
	}
	if id.MaxPlayers, err = r.ReadByte(); err != nil {
		return id, ErrTruncated
	}
	if err = binary.Read(r, binary.LittleEndian, &id.RomHash); err != nil {
		return id, ErrTruncated
	}
	return id, nil
}

func writeLobbySlot(buf *bytes.Buffer, s LobbySlot) error {
	if err := buf.WriteByte(s.Handle); err != nil {
		return err
	}
	if err := writeBool(buf, s.Active); err != nil {
		return err
	}
	if err := writePlayerInfo(buf, s.Info); err != nil {
		return err
	}
	if err := writeBool(buf, s.Ready); err != nil {
		return err
	}
	return writeString(buf, s.Addr)
}

func readLobbySlot(r *bytes.Reader) (LobbySlot, error) {
	var s LobbySlot
	var err error
	if s.Handle, err = r.ReadByte(); err != nil {
		return s, ErrTruncated
	}
	if s.Active, err = readBool(r); err != nil {
		return s, err
	}
	if s.Info, err = readPlayerInfo(r); err != nil {
		return s, err
	}
	if s.Ready, err = readBool(r); err != nil {
		return s, err
	}
	if s.Addr, err = readString(r); err != nil {
		return s, err
	}
	return s, nil
}

func writeLobbyState(buf *bytes.Buffer, l LobbyState) error {
	if err := buf.WriteByte(uint8(len(l.Slots))); err != nil {
		return err
	}
	for _, s := range l.Slots {
		if err := writeLobbySlot(buf, s); err != nil {
			return err
		}
	}
	if err := buf.WriteByte(l.MaxPlayers); err != nil {
		return err
	}
	return buf.WriteByte(l.HostHandle)
}

func readLobbyState(r *bytes.Reader) (LobbyState, error) {
	var l LobbyState
	n, err := r.ReadByte()
	if err != nil {
		return l, ErrTruncated
	}
	if n > 0 {
		l.Slots = make([]LobbySlot, 0, n)
	}
	for i := byte(0); i < n; i++ {
		s, err := readLobbySlot(r)
		if err != nil {
			return l, err
		}
		l.Slots = append(l.Slots, s)
	}
	if l.MaxPlayers, err = r.ReadByte(); err != nil {
		return l, ErrTruncated
	}
	if l.HostHandle, err = r.ReadByte(); err != nil {
		return l, ErrTruncated
	}
	return l, nil
}

func encodeJoinRequest(buf *bytes.Buffer, m *JoinRequest) error {
	if err := writeIdentity(buf, m.Identity); err != nil {
		return err
	}
	return writePlayerInfo(buf, m.Info)
}

func decodeJoinRequest(r *bytes.Reader) (*JoinRequest, error) {
	m := &JoinRequest{}
	var err error
	if m.Identity, err = readIdentity(r); err != nil {
		return nil, err
	}
	if m.Info, err = readPlayerInfo(r); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeJoinAccept(buf *bytes.Buffer, m *JoinAccept) error {
	if err := buf.WriteByte(m.PlayerHandle); err != nil {
		return err
	}
	return writeLobbyState(buf, m.Lobby)
}

func decodeJoinAccept(r *bytes.Reader) (*JoinAccept, error) {
	m := &JoinAccept{}
	var err error
	if m.PlayerHandle, err = r.ReadByte(); err != nil {
		return nil, ErrTruncated
	}
	if m.Lobby, err = readLobbyState(r); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeJoinReject(buf *bytes.Buffer, m *JoinReject) error {
	if err := buf.WriteByte(byte(m.Reason)); err != nil {
		return err
	}
	return writeString(buf, m.Message)
}

func decodeJoinReject(r *bytes.Reader) (*JoinReject, error) {
	m := &JoinReject{}
	reasonByte, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncated
	}
	m.Reason = RejectReason(reasonByte)
	if m.Message, err = readString(r); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeLobbyUpdate(buf *bytes.Buffer, m *LobbyUpdate) error {
	return writeLobbyState(buf, m.Lobby)
}

func decodeLobbyUpdate(r *bytes.Reader) (*LobbyUpdate, error) {
	lobby, err := readLobbyState(r)
	if err != nil {
		return nil, err
	}
	return &LobbyUpdate{Lobby: lobby}, nil
}

func writeNetworkConfig(buf *bytes.Buffer, c NetworkConfig) error {
	if err := buf.WriteByte(c.InputDelay); err != nil {
		return err
	}
	if err := buf.WriteByte(c.MaxPredictionFrames); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, c.DisconnectTimeoutMs); err != nil {
		return err
	}
	return binary.Write(buf, binary.LittleEndian, c.DisconnectNotifyMs)
}

func readNetworkConfig(r *bytes.Reader) (NetworkConfig, error) {
	var c NetworkConfig
	var err error
	if c.InputDelay, err = r.ReadByte(); err != nil {
		return c, ErrTruncated
	}
	if c.MaxPredictionFrames, err = r.ReadByte(); err != nil {
		return c, ErrTruncated
	}
	if err = binary.Read(r, binary.LittleEndian, &c.DisconnectTimeoutMs); err != nil {
		return c, ErrTruncated
	}
	if err = binary.Read(r, binary.LittleEndian, &c.DisconnectNotifyMs); err != nil {
		return c, ErrTruncated
	}
	return c, nil
}

func writePlayerConnectionInfo(buf *bytes.Buffer, p PlayerConnectionInfo) error {
	if err := buf.WriteByte(p.Handle); err != nil {
		return err
	}
	if err := writeBool(buf, p.Active); err != nil {
		return err
	}
	if err := writePlayerInfo(buf, p.Info); err != nil {
		return err
	}
	if err := writeString(buf, p.Addr); err != nil {
		return err
	}
	return binary.Write(buf, binary.LittleEndian, p.GGRSPort)
}

func readPlayerConnectionInfo(r *bytes.Reader) (PlayerConnectionInfo, error) {
	var p PlayerConnectionInfo
	var err error
	if p.Handle, err = r.ReadByte(); err != nil {
		return p, ErrTruncated
	}
	if p.Active, err = readBool(r); err != nil {
		return p, err
	}
	if p.Info, err = readPlayerInfo(r); err != nil {
		return p, err
	}
	if p.Addr, err = readString(r); err != nil {
		return p, err
	}
	if err = binary.Read(r, binary.LittleEndian, &p.GGRSPort); err != nil {
		return p, ErrTruncated
	}
	return p, nil
}

func encodeSessionStart(buf *bytes.Buffer, m *SessionStart) error {
	if err := buf.WriteByte(m.LocalPlayerHandle); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, m.RandomSeed); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, m.StartFrame); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, m.TickRate); err != nil {
		return err
	}
	if err := buf.WriteByte(uint8(len(m.Players))); err != nil {
		return err
	}
	for _, p := range m.Players {
		if err := writePlayerConnectionInfo(buf, p); err != nil {
			return err
		}
	}
	if err := buf.WriteByte(m.PlayerCount); err != nil {
		return err
	}
	if err := writeNetworkConfig(buf, m.Network); err != nil {
		return err
	}
	if err := writeBool(buf, m.HasSaveConfig); err != nil {
		return err
	}
	return writeBytes(buf, m.SaveConfig)
}

func decodeSessionStart(r *bytes.Reader) (*SessionStart, error) {
	m := &SessionStart{}
	var err error
	if m.LocalPlayerHandle, err = r.ReadByte(); err != nil {
		return nil, ErrTruncated
	}
	if err = binary.Read(r, binary.LittleEndian, &m.RandomSeed); err != nil {
		return nil, ErrTruncated
	}
	if err = binary.Read(r, binary.LittleEndian, &m.StartFrame); err != nil {
		return nil, ErrTruncated
	}
	if err = binary.Read(r, binary.LittleEndian, &m.TickRate); err != nil {
		return nil, ErrTruncated
	}
	n, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncated
	}
	m.Players = make([]PlayerConnectionInfo, 0, n)
	for i := byte(0); i < n; i++ {
		p, err := readPlayerConnectionInfo(r)
		if err != nil {
			return nil, err
		}
		m.Players = append(m.Players, p)
	}
	if m.PlayerCount, err = r.ReadByte(); err != nil {
		return nil, ErrTruncated
	}
	if m.Network, err = readNetworkConfig(r); err != nil {
		return nil, err
	}
	if m.HasSaveConfig, err = readBool(r); err != nil {
		return nil, err
	}
	if m.SaveConfig, err = readBytes(r); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeInputPacket(buf *bytes.Buffer, m *InputPacket) error {
	if err := binary.Write(buf, binary.LittleEndian, m.Frame); err != nil {
		return err
	}
	if err := writeBytes(buf, m.Input); err != nil {
		return err
	}
	if len(m.History) > 8 {
		return fmt.Errorf("wire: input history exceeds 8 frames")
	}
	if err := buf.WriteByte(uint8(len(m.History))); err != nil {
		return err
	}
	for _, h := range m.History {
		if err := writeBytes(buf, h); err != nil {
			return err
		}
	}
	return nil
}

func decodeInputPacket(r *bytes.Reader) (*InputPacket, error) {
	m := &InputPacket{}
	var err error
	if err = binary.Read(r, binary.LittleEndian, &m.Frame); err != nil {
		return nil, ErrTruncated
	}
	if m.Input, err = readBytes(r); err != nil {
		return nil, err
	}
	n, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncated
	}
	m.History = make([][]byte, 0, n)
	for i := byte(0); i < n; i++ {
		h, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		m.History = append(m.History, h)
	}
	return m, nil
}

func encodeChecksumReport(buf *bytes.Buffer, m *ChecksumReport) error {
	if err := binary.Write(buf, binary.LittleEndian, m.Frame); err != nil {
		return err
	}
	return binary.Write(buf, binary.LittleEndian, m.Checksum)
}

func decodeChecksumReport(r *bytes.Reader) (*ChecksumReport, error) {
	m := &ChecksumReport{}
	if err := binary.Read(r, binary.LittleEndian, &m.Frame); err != nil {
		return nil, ErrTruncated
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Checksum); err != nil {
		return nil, ErrTruncated
	}
	return m, nil
}

func encodeQualityReport(buf *bytes.Buffer, m *QualityReport) error {
	if err := binary.Write(buf, binary.LittleEndian, m.RTTMillis); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, m.JitterMillis); err != nil {
		return err
	}
	return buf.WriteByte(m.LossPercent)
}

func decodeQualityReport(r *bytes.Reader) (*QualityReport, error) {
	m := &QualityReport{}
	var err error
	if err = binary.Read(r, binary.LittleEndian, &m.RTTMillis); err != nil {
		return nil, ErrTruncated
	}
	if err = binary.Read(r, binary.LittleEndian, &m.JitterMillis); err != nil {
		return nil, ErrTruncated
	}
	if m.LossPercent, err = r.ReadByte(); err != nil {
		return nil, ErrTruncated
	}
	return m, nil
}
