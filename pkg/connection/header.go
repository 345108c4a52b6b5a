package connection

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderSize is the wire size of the packet header in bytes.
const HeaderSize = 16

// Header is prepended to every datagram. ProtocolID rejects foreign
// traffic, Sequence is the sender's packet counter, and Ack/AckBits
// acknowledge the 33 most recent sequence numbers seen from the peer
// (Ack itself plus one bit per preceding sequence number).
type Header struct {
	ProtocolID uint32
	Sequence   uint32
	Ack        uint32
	AckBits    uint32
}

// Marshal writes the header into buf in network byte order. buf must
// hold at least HeaderSize bytes.
func (h *Header) Marshal(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.ProtocolID)
	binary.BigEndian.PutUint32(buf[4:8], h.Sequence)
	binary.BigEndian.PutUint32(buf[8:12], h.Ack)
	binary.BigEndian.PutUint32(buf[12:16], h.AckBits)
}

// Unmarshal reads a header from buf.
func (h *Header) Unmarshal(buf []byte) error {
	if len(buf) < HeaderSize {
		return errors.Errorf("short header: %d bytes", len(buf))
	}
	h.ProtocolID = binary.BigEndian.Uint32(buf[0:4])
	h.Sequence = binary.BigEndian.Uint32(buf[4:8])
	h.Ack = binary.BigEndian.Uint32(buf[8:12])
	h.AckBits = binary.BigEndian.Uint32(buf[12:16])
	return nil
}
