// Package transport is the thin UDP substrate under the connection
// layer: open a socket on a port, send datagrams to an address, and
// poll for inbound datagrams without blocking.
package transport

import (
	"net"
	"net/netip"
	"time"

	"github.com/pkg/errors"
)

var ErrNotOpen = errors.New("socket not open")

// Socket wraps one UDP socket. Receive never blocks: it returns 0
// bytes when no datagram is waiting, so a tick-driven loop can drain
// it and move on.
type Socket struct {
	conn *net.UDPConn
}

func NewSocket() *Socket {
	return &Socket{}
}

// Open binds the socket to the given UDP port on all interfaces.
// Port 0 asks the OS for an ephemeral port; see LocalPort.
func (s *Socket) Open(port int) error {
	if s.conn != nil {
		return errors.New("socket already open")
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return errors.Wrapf(err, "open udp port %d", port)
	}
	s.conn = conn
	return nil
}

func (s *Socket) IsOpen() bool {
	return s.conn != nil
}

// LocalPort is the port the socket is bound to.
func (s *Socket) LocalPort() int {
	if s.conn == nil {
		return 0
	}
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *Socket) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return errors.Wrap(err, "close socket")
}

// Send writes one datagram to the given address.
func (s *Socket) Send(addr netip.AddrPort, data []byte) error {
	if s.conn == nil {
		return ErrNotOpen
	}
	if len(data) == 0 {
		return errors.New("empty datagram")
	}
	_, err := s.conn.WriteToUDPAddrPort(data, addr)
	return errors.Wrapf(err, "send %d bytes to %v", len(data), addr)
}

// Receive pulls at most one waiting datagram into buf and returns the
// sender address and byte count. Returns 0 bytes immediately when
// nothing is waiting.
func (s *Socket) Receive(buf []byte) (netip.AddrPort, int) {
	if s.conn == nil {
		return netip.AddrPort{}, 0
	}
	// A deadline in the past turns the blocking read into a poll.
	s.conn.SetReadDeadline(time.Now())
	n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return netip.AddrPort{}, 0
	}
	// Dual-stack sockets report IPv4 senders as 4-in-6 addresses;
	// unmap so addresses compare equal to their parsed form.
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), n
}
