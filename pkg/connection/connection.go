// Package connection implements a single-peer connection over UDP
// with a handshake state machine and per-packet delivery tracking.
// The protocol reports loss through its statistics; it never
// retransmits.
package connection

import (
	"net/netip"

	"github.com/pkg/errors"

	"RUDP/pkg/reliability"
	"RUDP/pkg/transport"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Listening
	Connecting
	ConnectFail
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Listening:
		return "listening"
	case Connecting:
		return "connecting"
	case ConnectFail:
		return "connect failed"
	case Connected:
		return "connected"
	}
	return "unknown"
}

const (
	// DefaultTimeout is the seconds of silence after which a
	// connection attempt fails or an established connection drops.
	DefaultTimeout = 10.0

	// MaxPacketSize bounds a whole datagram, header included.
	MaxPacketSize = 256

	// MaxPayloadSize is the largest payload SendPacket accepts.
	MaxPayloadSize = MaxPacketSize - HeaderSize
)

var (
	ErrNotStarted      = errors.New("connection not started")
	ErrNotConnected    = errors.New("not connected")
	ErrPayloadTooLarge = errors.Errorf("payload exceeds %d bytes", MaxPayloadSize)
)

// Connection drives one peer relationship over a UDP socket. It is
// tick-driven and single-owner: one loop calls Update, SendPacket,
// and ReceivePacket; nothing here locks.
type Connection struct {
	protocolID uint32
	timeout    float64

	socket  *transport.Socket
	tracker *reliability.Tracker

	state   State
	address netip.AddrPort // peer; zero until bound
	running bool

	timeAccumulator float64

	// OnStateChange, when set, observes every transition. Keeps
	// transition logging out of the control flow.
	OnStateChange func(from, to State)
}

// NewConnection makes a connection speaking the given protocol id
// with the given timeout in seconds.
func NewConnection(protocolID uint32, timeout float64) *Connection {
	return &Connection{
		protocolID: protocolID,
		timeout:    timeout,
		socket:     transport.NewSocket(),
		tracker:    reliability.NewTracker(),
	}
}

// Start opens the underlying socket. The connection stays
// Disconnected until Listen or Connect is called.
func (c *Connection) Start(port int) error {
	if c.running {
		return errors.New("connection already started")
	}
	if err := c.socket.Open(port); err != nil {
		return err
	}
	c.running = true
	return nil
}

// Stop closes the socket and resets all connection state.
func (c *Connection) Stop() error {
	if !c.running {
		return ErrNotStarted
	}
	c.clearData()
	c.setState(Disconnected)
	c.running = false
	return c.socket.Close()
}

// LocalPort is the bound UDP port, useful after Start(0).
func (c *Connection) LocalPort() int { return c.socket.LocalPort() }

// Listen takes the server role: wait for the first packet with the
// right protocol id and bind the peer address from its sender. Also
// serves as the explicit reset out of ConnectFail.
func (c *Connection) Listen() error {
	if !c.running {
		return ErrNotStarted
	}
	c.clearData()
	c.setState(Listening)
	return nil
}

// Connect takes the client role against the given server address.
// Handshake packets go out on every Update tick until the server
// answers or the timeout elapses.
func (c *Connection) Connect(addr netip.AddrPort) error {
	if !c.running {
		return ErrNotStarted
	}
	c.clearData()
	c.address = addr
	c.setState(Connecting)
	return nil
}

func (c *Connection) State() State        { return c.state }
func (c *Connection) IsConnected() bool   { return c.state == Connected }
func (c *Connection) IsConnecting() bool  { return c.state == Connecting }
func (c *Connection) IsListening() bool   { return c.state == Listening }
func (c *Connection) ConnectFailed() bool { return c.state == ConnectFail }

// PeerAddress is the bound peer, zero until the handshake binds one.
func (c *Connection) PeerAddress() netip.AddrPort { return c.address }

// Tracker exposes the delivery statistics for this connection.
func (c *Connection) Tracker() *reliability.Tracker { return c.tracker }

// Update advances timers by deltaTime seconds, applies timeout
// transitions, and while Connecting sends one handshake packet per
// tick. It never sends payload; that is caller-driven.
func (c *Connection) Update(deltaTime float64) {
	if !c.running {
		return
	}
	c.timeAccumulator += deltaTime
	if c.timeAccumulator > c.timeout {
		switch c.state {
		case Connecting:
			c.clearData()
			c.setState(ConnectFail)
		case Connected:
			c.clearData()
			c.setState(Disconnected)
		}
	}
	if c.state == Connecting {
		c.sendRaw(nil)
	}
	c.tracker.Update(deltaTime)
}

// SendPacket stamps payload with a fresh header and hands it to the
// socket. Only valid while Connected.
func (c *Connection) SendPacket(payload []byte) error {
	if !c.running {
		return ErrNotStarted
	}
	if c.state != Connected {
		return ErrNotConnected
	}
	return c.sendRaw(payload)
}

func (c *Connection) sendRaw(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	ack, ackBits := c.tracker.AckBits()
	hdr := Header{
		ProtocolID: c.protocolID,
		Sequence:   c.tracker.LocalSequence(),
		Ack:        ack,
		AckBits:    ackBits,
	}
	packet := make([]byte, HeaderSize+len(payload))
	hdr.Marshal(packet)
	copy(packet[HeaderSize:], payload)
	if err := c.socket.Send(c.address, packet); err != nil {
		return err
	}
	c.tracker.PacketSent(len(payload))
	return nil
}

// ReceivePacket drains at most one datagram, validates it, feeds the
// tracker, and copies the payload into buf. Returns 0 when nothing
// acceptable was waiting; foreign and malformed traffic is dropped
// silently. Callers loop to drain a tick's backlog.
func (c *Connection) ReceivePacket(buf []byte) int {
	if !c.running {
		return 0
	}
	packet := make([]byte, MaxPacketSize)
	sender, n := c.socket.Receive(packet)
	if n == 0 {
		return 0
	}
	if n < HeaderSize {
		return 0
	}
	var hdr Header
	if err := hdr.Unmarshal(packet[:n]); err != nil {
		return 0
	}
	if hdr.ProtocolID != c.protocolID {
		return 0
	}

	switch c.state {
	case Listening:
		// First valid packet binds the peer.
		c.address = sender
		c.setState(Connected)
	case Connecting:
		if sender != c.address {
			return 0
		}
		c.setState(Connected)
	case Connected:
		if sender != c.address {
			return 0
		}
	default:
		return 0
	}

	// Any valid packet from the peer refreshes liveness, duplicates
	// and late arrivals included.
	c.timeAccumulator = 0

	payload := packet[HeaderSize:n]
	c.tracker.PacketReceived(hdr.Sequence, len(payload))
	c.tracker.ProcessAck(hdr.Ack, hdr.AckBits)

	copy(buf, payload)
	if len(buf) < len(payload) {
		return len(buf)
	}
	return len(payload)
}

func (c *Connection) clearData() {
	c.tracker.Reset()
	c.timeAccumulator = 0
	c.address = netip.AddrPort{}
}

func (c *Connection) setState(to State) {
	if c.state == to {
		return
	}
	from := c.state
	c.state = to
	if c.OnStateChange != nil {
		c.OnStateChange(from, to)
	}
}
