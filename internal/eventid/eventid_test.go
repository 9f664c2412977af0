package eventid

import "testing"

func TestNextIsMonotonic(t *testing.T) {
	g := New(3)
	ticks := []int64{1000, 1000, 1000, 1001, 1001, 999, 999}
	i := 0
	g.now = func() int64 { v := ticks[i]; return v }

	var prev int64 = -1
	for range ticks {
		id := g.Next()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
		if i < len(ticks)-1 {
			i++
		}
	}
}

func TestDecomposeRoundTrip(t *testing.T) {
	g := New(7)
	g.now = func() int64 { return Epoch + 12345 }
	id := g.Next()

	ts, shard, seq := Decompose(id)
	if ts != Epoch+12345 {
		t.Fatalf("timestamp mismatch: got %d want %d", ts, Epoch+12345)
	}
	if shard != 7 {
		t.Fatalf("shard mismatch: got %d want 7", shard)
	}
	if seq != 0 {
		t.Fatalf("sequence mismatch: got %d want 0", seq)
	}
}

func TestSequenceExhaustionAdvancesClock(t *testing.T) {
	g := New(1)
	g.now = func() int64 { return Epoch }

	var last int64 = -1
	for i := 0; i <= maxSequence+1; i++ {
		id := g.Next()
		if id <= last {
			t.Fatalf("id not increasing at iteration %d", i)
		}
		last = id
	}
}

func TestShardClampedToRange(t *testing.T) {
	g := New(maxShard + 100)
	if g.shard > maxShard {
		t.Fatalf("shard %d exceeds max %d", g.shard, maxShard)
	}
}
