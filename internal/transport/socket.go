// Package transport implements the non-blocking UDP datagram socket shared
// by the NCHS handshake and the rollback session's packet pump.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// pollSlice bounds how long any receive call may block the caller's
// goroutine; the socket is never allowed to stall a tick loop.
const pollSlice = 1 * time.Millisecond

// MaxDatagram is the largest datagram the socket will read into a single
// buffer; larger payloads are truncated by the kernel and rejected by the
// wire codec's own size checks upstream.
const MaxDatagram = 2048

// Datagram is one received UDP payload plus its source address.
type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// Socket is a non-blocking wrapper over a single UDP connection. All sends
// are best-effort: a socket buffer that would block is treated as a dropped
// packet rather than retried, matching UDP's own delivery guarantees.
type Socket struct {
	conn *net.UDPConn
	log  *slog.Logger
}

// Bind opens a UDP socket on the given local address ("host:port", "" host
// binds all interfaces, port 0 picks an ephemeral port).
func Bind(addr string) (*Socket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %q: %w", addr, err)
	}
	return &Socket{conn: conn, log: slog.With("component", "transport", "local_addr", conn.LocalAddr().String())}, nil
}

// BindAny binds an ephemeral port on all interfaces.
func BindAny() (*Socket, error) {
	return Bind(":0")
}

// LocalAddr returns the socket's bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the underlying file descriptor.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// SendTo writes data to addr without blocking the caller beyond the kernel's
// own buffering; a failed write is logged and silently dropped, since UDP
// offers no delivery guarantee for the caller to uphold anyway.
func (s *Socket) SendTo(data []byte, addr *net.UDPAddr) {
	s.conn.SetWriteDeadline(time.Now().Add(pollSlice))
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.log.Debug("send dropped", "addr", addr.String(), "err", err)
	}
}

// RecvAll drains every datagram currently queued on the socket, never
// blocking longer than one poll slice. It is meant to be called once per
// tick from the owning goroutine.
func (s *Socket) RecvAll() []Datagram {
	var out []Datagram
	buf := make([]byte, MaxDatagram)
	for {
		s.conn.SetReadDeadline(time.Now().Add(pollSlice))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				return out
			}
			s.log.Debug("recv error", "err", err)
			return out
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		out = append(out, Datagram{Data: data, Addr: addr})
		buf = make([]byte, MaxDatagram)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// WaitForPeer blocks until a datagram arrives from any address or timeout
// elapses, returning the first datagram seen. Used only during the
// handshake's blocking bring-up phase, never from the simulation thread.
func (s *Socket) WaitForPeer(timeout time.Duration) (*Datagram, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, MaxDatagram)
	for time.Now().Before(deadline) {
		s.conn.SetReadDeadline(time.Now().Add(pollSlice))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		return &Datagram{Data: data, Addr: addr}, nil
	}
	return nil, errors.New("transport: wait for peer timed out")
}

// LocalIPs returns 127.0.0.1 first, so a same-machine session can always
// discover a reachable peer, followed by the one non-loopback IPv4 address
// the kernel chooses for a route to a well-known public address (found by
// opening a throwaway UDP socket connected to it and reading back its local
// address; no traffic reaches the destination). Other interfaces' addresses
// are not listed, and without such a route only 127.0.0.1 is returned.
func LocalIPs() []string {
	ips := []string{"127.0.0.1"}
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ips
	}
	defer conn.Close()
	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		ip := local.IP.String()
		if ip != "" && ip != "127.0.0.1" {
			ips = append(ips, ip)
		}
	}
	return ips
}
