// Package reliability tracks delivery of packets over an unreliable
// datagram transport. It records what was sent and what was received,
// produces the ack/ack_bits pair stamped into outgoing headers,
// consumes the pair from incoming headers, and derives round trip
// time, loss, and bandwidth statistics. Lost packets are counted, not
// resent.
package reliability

import (
	"RUDP/pkg/seqnum"
)

const (
	// LossTimeout is how long a sent packet may wait for an ack
	// before it is written off as lost. Fixed rather than
	// RTT-proportional.
	LossTimeout = 1.0

	// BandwidthWindow is the trailing interval bandwidth figures are
	// measured over, in seconds.
	BandwidthWindow = 1.0

	// rttSmoothing is the EWMA gain applied to each new RTT sample.
	rttSmoothing = 0.1

	// Received entries are kept a little past the 32-bit ack window
	// so the window never sheds an entry it still needs.
	receivedWindow = seqnum.AckBitCount + 2

	epsilon = 0.001
)

// PacketData is one sent or received packet record: when it happened
// on the tracker's clock and how big it was.
type PacketData struct {
	Sequence uint32
	Time     float64
	Size     int
}

// Tracker is the per-connection reliability state. It is single-owner
// and not safe for concurrent use; the driving loop calls Update once
// per tick and the send/receive paths between ticks.
type Tracker struct {
	localSequence  uint32
	remoteSequence uint32

	sentPackets  int
	recvPackets  int
	ackedPackets int
	lostPackets  int

	rtt  float64
	time float64

	sentBandwidth  float64
	ackedBandwidth float64

	// sentQueue and ackedQueue feed the bandwidth windows.
	// pendingQueue holds packets still waiting for an ack.
	// receivedQueue backs the outgoing ack bitfield.
	sentQueue     []PacketData
	pendingQueue  []PacketData
	receivedQueue []PacketData
	ackedQueue    []PacketData
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Reset returns the tracker to its initial state. Called when the
// owning connection drops.
func (t *Tracker) Reset() {
	*t = Tracker{}
}

// PacketSent records an outgoing packet of the given payload size
// under the current local sequence number, then advances the counter.
func (t *Tracker) PacketSent(size int) {
	data := PacketData{Sequence: t.localSequence, Time: t.time, Size: size}
	t.sentQueue = append(t.sentQueue, data)
	t.pendingQueue = append(t.pendingQueue, data)
	t.sentPackets++
	t.localSequence = seqnum.Next(t.localSequence)
}

// PacketReceived records an inbound packet. Duplicates are counted in
// ReceivedPackets but otherwise ignored so the ack window and
// statistics stay consistent.
func (t *Tracker) PacketReceived(sequence uint32, size int) {
	t.recvPackets++
	for _, p := range t.receivedQueue {
		if p.Sequence == sequence {
			return
		}
	}
	t.receivedQueue = append(t.receivedQueue, PacketData{Sequence: sequence, Time: t.time, Size: size})
	if seqnum.MoreRecent(sequence, t.remoteSequence) {
		t.remoteSequence = sequence
	}
}

// AckBits builds the ack/ack_bits pair for the next outgoing header:
// the most recent remote sequence seen, and one bit per received
// packet in the 32 sequence numbers before it.
func (t *Tracker) AckBits() (ack uint32, ackBits uint32) {
	ack = t.remoteSequence
	for _, p := range t.receivedQueue {
		if idx, ok := seqnum.BitIndexFor(ack, p.Sequence); ok {
			ackBits |= 1 << idx
		}
	}
	return ack, ackBits
}

// ProcessAck consumes the ack/ack_bits pair from an inbound header.
// Every pending packet it covers is acked exactly once: removed from
// the pending queue, folded into the RTT estimate, and added to the
// acked bandwidth window.
func (t *Tracker) ProcessAck(ack uint32, ackBits uint32) {
	if len(t.pendingQueue) == 0 {
		return
	}
	keep := t.pendingQueue[:0]
	for _, p := range t.pendingQueue {
		acked := p.Sequence == ack
		if !acked {
			if idx, ok := seqnum.BitIndexFor(ack, p.Sequence); ok {
				acked = ackBits&(1<<idx) != 0
			}
		}
		if !acked {
			keep = append(keep, p)
			continue
		}
		sample := t.time - p.Time
		t.rtt += (sample - t.rtt) * rttSmoothing
		if t.rtt < 0 {
			t.rtt = 0
		}
		t.ackedPackets++
		t.ackedQueue = append(t.ackedQueue, PacketData{Sequence: p.Sequence, Time: t.time, Size: p.Size})
	}
	t.pendingQueue = keep
}

// DetectLosses writes off pending packets older than LossTimeout.
// Runs once per tick from Update, not per received packet.
func (t *Tracker) DetectLosses() {
	keep := t.pendingQueue[:0]
	for _, p := range t.pendingQueue {
		if t.time-p.Time > LossTimeout+epsilon {
			t.lostPackets++
			continue
		}
		keep = append(keep, p)
	}
	t.pendingQueue = keep
}

// Update advances the tracker's clock by deltaTime seconds, sweeps
// for losses, trims the sliding windows, and refreshes the bandwidth
// figures.
func (t *Tracker) Update(deltaTime float64) {
	t.time += deltaTime
	t.DetectLosses()
	t.trimQueues()
	t.updateBandwidth()
}

func (t *Tracker) trimQueues() {
	for len(t.sentQueue) > 0 && t.time-t.sentQueue[0].Time > BandwidthWindow+epsilon {
		t.sentQueue = t.sentQueue[1:]
	}
	for len(t.ackedQueue) > 0 && t.time-t.ackedQueue[0].Time > BandwidthWindow+epsilon {
		t.ackedQueue = t.ackedQueue[1:]
	}
	// Drop received entries that fell out of the ack window.
	minimum := t.remoteSequence - receivedWindow // wraps
	keep := t.receivedQueue[:0]
	for _, p := range t.receivedQueue {
		if p.Sequence == t.remoteSequence || seqnum.MoreRecent(p.Sequence, minimum) {
			keep = append(keep, p)
		}
	}
	t.receivedQueue = keep
}

func (t *Tracker) updateBandwidth() {
	sentBytes := 0
	for _, p := range t.sentQueue {
		sentBytes += p.Size
	}
	ackedBytes := 0
	for _, p := range t.ackedQueue {
		ackedBytes += p.Size
	}
	t.sentBandwidth = float64(sentBytes) / BandwidthWindow * 8.0 / 1000.0
	t.ackedBandwidth = float64(ackedBytes) / BandwidthWindow * 8.0 / 1000.0
}

// LocalSequence is the sequence number the next sent packet will use.
func (t *Tracker) LocalSequence() uint32 { return t.localSequence }

// RemoteSequence is the most recent sequence number seen from the peer.
func (t *Tracker) RemoteSequence() uint32 { return t.remoteSequence }

// RoundTripTime is the smoothed RTT estimate in seconds.
func (t *Tracker) RoundTripTime() float64 { return t.rtt }

func (t *Tracker) SentPackets() int     { return t.sentPackets }
func (t *Tracker) ReceivedPackets() int { return t.recvPackets }
func (t *Tracker) AckedPackets() int    { return t.ackedPackets }
func (t *Tracker) LostPackets() int     { return t.lostPackets }

// OutstandingPackets is the number of sent packets not yet acked or
// written off. SentPackets == AckedPackets + LostPackets +
// OutstandingPackets holds at all times.
func (t *Tracker) OutstandingPackets() int { return len(t.pendingQueue) }

// SentBandwidth is the outgoing bandwidth over the trailing window,
// in kilobits per second.
func (t *Tracker) SentBandwidth() float64 { return t.sentBandwidth }

// AckedBandwidth is the acknowledged bandwidth over the trailing
// window, in kilobits per second.
func (t *Tracker) AckedBandwidth() float64 { return t.ackedBandwidth }
