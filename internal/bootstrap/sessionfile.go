// Package bootstrap loads a pre-negotiated session file and performs the
// NCHS handshake's bring-up handoff: binding the local GGRS socket and
// exchanging hello/ready datagrams with every peer before a rollback
// session is allowed to start exchanging input packets (C10).
//
// The session file itself is produced out of band, by whatever matched
// guests through the NCHS host/guest state machines (C3/C4); bootstrap only
// consumes the resulting wire.SessionStart.
package bootstrap

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/nethercore-systems/nethercore/internal/transport"
	"github.com/nethercore-systems/nethercore/internal/wire"
)

// handshakeTimeout bounds the whole hello/ready exchange; if it elapses
// without every expected peer confirming, bring-up fails outright rather
// than handing a half-connected socket to the rollback session.
const handshakeTimeout = 10 * time.Second

// helloRetryInterval is how often a guest re-sends its hello while waiting
// for the host's ready reply.
const helloRetryInterval = 50 * time.Millisecond

// hostPollInterval is how often the host's wait loop re-checks the socket
// between WouldBlock results.
const hostPollInterval = 10 * time.Millisecond

var (
	helloMagic = []byte("NCHS_HELLO")
	readyMagic = []byte("NCHS_READY")
)

// LoadSessionFile reads and decodes a session file from disk. Files over
// wire.MaxSessionFileBytes are rejected before they are ever read into
// memory.
func LoadSessionFile(path string) (*wire.SessionStart, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: stat session file: %w", err)
	}
	if info.Size() > wire.MaxSessionFileBytes {
		return nil, fmt.Errorf("bootstrap: session file %q is %d bytes, max %d", path, info.Size(), wire.MaxSessionFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read session file: %w", err)
	}
	ss, err := wire.DecodeSessionFile(data)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: decode session file: %w", err)
	}
	return ss, nil
}

// WriteSessionFile encodes ss and writes it to path, for whatever tool
// negotiated the session (outside this module's scope) to hand off to a
// launching instance.
func WriteSessionFile(path string, ss *wire.SessionStart) error {
	data, err := wire.EncodeSessionFile(ss)
	if err != nil {
		return fmt.Errorf("bootstrap: encode session file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("bootstrap: write session file: %w", err)
	}
	return nil
}

// BindLocalSocket opens the UDP socket this instance's GGRS port names in
// ss, for the local player handle.
func BindLocalSocket(ss *wire.SessionStart) (*transport.Socket, error) {
	port := uint16(0)
	for _, p := range ss.Players {
		if p.Handle == ss.LocalPlayerHandle {
			port = p.GGRSPort
			break
		}
	}
	sock, err := transport.Bind(fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: bind ggrs socket: %w", err)
	}
	return sock, nil
}

// Handshake exchanges hello/ready datagrams with every active remote peer
// named in ss, preventing the race where one side starts sending rollback
// packets before the other has bound its socket. On success it mutates
// ss.Players in place: the host replaces each guest's Addr with the source
// address observed during the handshake, so NAT-rewritten source ports are
// honoured, and a guest replaces the host's Addr with the host:GGRS-port
// address it resolved and got a ready reply from.
func Handshake(sock *transport.Socket, ss *wire.SessionStart, log *slog.Logger) error {
	isHost := ss.LocalPlayerHandle == 0

	if isHost {
		return hostHandshake(sock, ss, log)
	}
	return guestHandshake(sock, ss, log)
}

func hostHandshake(sock *transport.Socket, ss *wire.SessionStart, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	expected := map[uint8]bool{}
	for _, p := range ss.Players {
		if p.Active && p.Handle != 0 {
			expected[p.Handle] = true
		}
	}
	log.Info("bootstrap: host waiting for guests", "count", len(expected))

	received := map[uint8]*net.UDPAddr{}
	deadline := time.Now().Add(handshakeTimeout)

	for len(received) < len(expected) {
		if time.Now().After(deadline) {
			return fmt.Errorf("bootstrap: timed out waiting for %d guest(s)", len(expected)-len(received))
		}
		for _, dg := range sock.RecvAll() {
			handle, ok := parseHello(dg.Data)
			if !ok || !expected[handle] || received[handle] != nil {
				continue
			}
			log.Info("bootstrap: received hello", "handle", handle, "addr", dg.Addr.String())
			received[handle] = dg.Addr
			sock.SendTo(buildReady(ss.LocalPlayerHandle), dg.Addr)
		}
		if len(received) < len(expected) {
			time.Sleep(hostPollInterval)
		}
	}
	log.Info("bootstrap: all guests connected")

	for i := range ss.Players {
		p := &ss.Players[i]
		if addr, ok := received[p.Handle]; ok {
			p.Addr = addr.String()
		}
	}
	return nil
}

func guestHandshake(sock *transport.Socket, ss *wire.SessionStart, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	var hostAddr *net.UDPAddr
	for _, p := range ss.Players {
		if p.Handle == 0 {
			addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", hostOf(p.Addr), p.GGRSPort))
			if err != nil {
				return fmt.Errorf("bootstrap: resolve host addr: %w", err)
			}
			hostAddr = addr
			break
		}
	}
	if hostAddr == nil {
		return fmt.Errorf("bootstrap: session has no host player")
	}
	log.Info("bootstrap: guest sending hello to host", "addr", hostAddr.String())

	hello := buildHello(ss.LocalPlayerHandle)
	deadline := time.Now().Add(handshakeTimeout)
	nextSend := time.Now()

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("bootstrap: timed out waiting for host ready")
		}
		if time.Now().After(nextSend) {
			sock.SendTo(hello, hostAddr)
			nextSend = time.Now().Add(helloRetryInterval)
		}
		for _, dg := range sock.RecvAll() {
			if isReady(dg.Data) {
				log.Info("bootstrap: received ready from host")
				for i := range ss.Players {
					if ss.Players[i].Handle == 0 {
						ss.Players[i].Addr = hostAddr.String()
						break
					}
				}
				return nil
			}
		}
		time.Sleep(hostPollInterval)
	}
}

// hostOf strips any trailing ":port" from a pre-specified host address,
// matching how the session file records a bare host/IP for the peer whose
// own GGRS port is carried separately.
func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func buildHello(handle uint8) []byte {
	msg := make([]byte, 0, len(helloMagic)+1)
	msg = append(msg, helloMagic...)
	msg = append(msg, handle)
	return msg
}

func buildReady(handle uint8) []byte {
	msg := make([]byte, 0, len(readyMagic)+1)
	msg = append(msg, readyMagic...)
	msg = append(msg, handle)
	return msg
}

func parseHello(data []byte) (uint8, bool) {
	if len(data) <= len(helloMagic) {
		return 0, false
	}
	for i, b := range helloMagic {
		if data[i] != b {
			return 0, false
		}
	}
	return data[len(helloMagic)], true
}

func isReady(data []byte) bool {
	if len(data) < len(readyMagic) {
		return false
	}
	for i, b := range readyMagic {
		if data[i] != b {
			return false
		}
	}
	return true
}
