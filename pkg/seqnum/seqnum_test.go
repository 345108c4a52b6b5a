package seqnum

import (
	"math"
	"testing"
)

func TestMoreRecentSimple(t *testing.T) {
	if !MoreRecent(1, 0) {
		t.Fatalf("expected 1 more recent than 0")
	}
	if MoreRecent(0, 1) {
		t.Fatalf("expected 0 not more recent than 1")
	}
	if MoreRecent(5, 5) {
		t.Fatalf("a sequence is never more recent than itself")
	}
}

func TestMoreRecentWraparound(t *testing.T) {
	// 0 follows MaxUint32 after the counter wraps.
	if !MoreRecent(0, math.MaxUint32) {
		t.Fatalf("expected 0 more recent than MaxUint32")
	}
	if MoreRecent(math.MaxUint32, 0) {
		t.Fatalf("expected MaxUint32 not more recent than 0")
	}
	if !MoreRecent(100, math.MaxUint32-100) {
		t.Fatalf("expected 100 more recent than MaxUint32-100")
	}
}

// Every distinct pair must order exactly one way, including pairs that
// straddle the half-range boundary.
func TestMoreRecentTotalOrdering(t *testing.T) {
	bases := []uint32{0, 1, 100, math.MaxUint32 / 2, math.MaxUint32 - 1, math.MaxUint32}
	offsets := []uint32{1, 2, 31, 32, 33, 1 << 30, 1<<31 - 1, 1 << 31, 1<<31 + 1}
	for _, a := range bases {
		for _, d := range offsets {
			b := a + d // wraps
			if a == b {
				continue
			}
			x := MoreRecent(a, b)
			y := MoreRecent(b, a)
			if x == y {
				t.Errorf("MoreRecent(%d,%d)=%v and MoreRecent(%d,%d)=%v; exactly one must hold",
					a, b, x, b, a, y)
			}
		}
	}
}

func TestMoreRecentHalfRangeBoundary(t *testing.T) {
	// A sequence exactly half the range ahead is more recent; one step
	// past that it is older.
	var n uint32 = 42
	if !MoreRecent(n+1<<31, n) {
		t.Errorf("n+2^31 should be more recent than n")
	}
	if MoreRecent(n+1<<31+1, n) {
		t.Errorf("n+2^31+1 should not be more recent than n")
	}
}

func TestBitIndexFor(t *testing.T) {
	if _, ok := BitIndexFor(100, 100); ok {
		t.Fatalf("ack itself has no bitfield position")
	}
	if idx, ok := BitIndexFor(100, 99); !ok || idx != 0 {
		t.Fatalf("BitIndexFor(100, 99) = %d, %v; want 0, true", idx, ok)
	}
	if idx, ok := BitIndexFor(100, 68); !ok || idx != 31 {
		t.Fatalf("BitIndexFor(100, 68) = %d, %v; want 31, true", idx, ok)
	}
	if _, ok := BitIndexFor(100, 67); ok {
		t.Fatalf("sequence 33 behind ack is outside the bitfield")
	}
	if _, ok := BitIndexFor(100, 101); ok {
		t.Fatalf("sequence ahead of ack is outside the bitfield")
	}
}

func TestBitIndexForWraparound(t *testing.T) {
	// ack just past the wrap still indexes sequences from before it.
	if idx, ok := BitIndexFor(2, math.MaxUint32); !ok || idx != 2 {
		t.Fatalf("BitIndexFor(2, MaxUint32) = %d, %v; want 2, true", idx, ok)
	}
	if idx, ok := BitIndexFor(0, math.MaxUint32); !ok || idx != 0 {
		t.Fatalf("BitIndexFor(0, MaxUint32) = %d, %v; want 0, true", idx, ok)
	}
}

func TestNextWraps(t *testing.T) {
	if Next(math.MaxUint32) != 0 {
		t.Fatalf("Next(MaxUint32) = %d; want 0", Next(math.MaxUint32))
	}
}
