// Package seqnum holds the sequence number arithmetic shared by the
// reliability layer. Sequence numbers are unsigned 32-bit counters that
// wrap at 2^32, so ordering is circular rather than numeric.
package seqnum

// AckBitCount is the number of sequence numbers covered by the ack
// bitfield carried in every packet header, in addition to the ack
// value itself.
const AckBitCount = 32

const halfRange = uint32(1) << 31

// MoreRecent reports whether s1 is more recent than s2 under circular
// ordering. A sequence number at exactly half the range away counts as
// more recent, which keeps the relation total for all distinct pairs.
func MoreRecent(s1, s2 uint32) bool {
	return (s1 > s2 && s1-s2 <= halfRange) ||
		(s2 > s1 && s2-s1 > halfRange)
}

// BitIndexFor returns the ack bitfield position acknowledging seq when
// the header's ack value is ack. Bit i covers sequence ack-(i+1), so
// the index is only valid when seq is one of the 32 sequence numbers
// immediately preceding ack; ok is false otherwise and the caller
// skips that bit.
func BitIndexFor(ack, seq uint32) (uint, bool) {
	diff := ack - seq // wraps, which is what we want
	if diff < 1 || diff > AckBitCount {
		return 0, false
	}
	return uint(diff - 1), true
}

// Next returns the sequence number following s, wrapping at 2^32.
func Next(s uint32) uint32 {
	return s + 1
}
