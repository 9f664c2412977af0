package cache

import (
	"errors"
	"sync"
	"testing"
)

func TestGetOrLoad_HitAndMiss(t *testing.T) {
	c := New[string](1 << 20)

	loads := 0
	load := func() (string, int64, error) {
		loads++
		return "value", 8, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("key", 1, load)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if v != "value" {
			t.Fatalf("got %q, want value", v)
		}
	}

	if loads != 1 {
		t.Fatalf("expected exactly one load, got %d", loads)
	}
	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestGetOrLoad_FailedLoadNotInserted(t *testing.T) {
	c := New[string](1 << 20)

	boom := errors.New("decode failed")
	_, err := c.GetOrLoad("key", 1, func() (string, int64, error) {
		return "", 0, boom
	})
	if err == nil {
		t.Fatal("expected load error to surface")
	}

	// A later load must run again: the failed entry was never inserted.
	v, err := c.GetOrLoad("key", 1, func() (string, int64, error) {
		return "recovered", 8, nil
	})
	if err != nil || v != "recovered" {
		t.Fatalf("expected successful retry, got %q err=%v", v, err)
	}
}

func TestByteBudgetEviction(t *testing.T) {
	c := New[int](100)

	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		_, err := c.GetOrLoad(key, 1, func() (int, int64, error) { return i, 40, nil })
		if err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
	}

	stats := c.Stats()
	if stats.Bytes > 100 {
		t.Fatalf("cache over budget: %d bytes", stats.Bytes)
	}
	if stats.Evictions == 0 {
		t.Fatal("expected evictions under byte pressure")
	}
}

func TestInvalidateBySegment(t *testing.T) {
	c := New[int](1 << 20)

	c.GetOrLoad("seg1-a", 1, func() (int, int64, error) { return 1, 8, nil })
	c.GetOrLoad("seg1-b", 1, func() (int, int64, error) { return 2, 8, nil })
	c.GetOrLoad("seg2-a", 2, func() (int, int64, error) { return 3, 8, nil })

	c.Invalidate(1)

	loads := 0
	c.GetOrLoad("seg1-a", 1, func() (int, int64, error) { loads++; return 1, 8, nil })
	c.GetOrLoad("seg2-a", 2, func() (int, int64, error) { loads++; return 3, 8, nil })
	if loads != 1 {
		t.Fatalf("expected only the invalidated segment's entry to reload, got %d loads", loads)
	}
}

func TestConcurrentSingleFlight(t *testing.T) {
	c := New[int](1 << 20)

	var mu sync.Mutex
	loads := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad("shared", 1, func() (int, int64, error) {
				mu.Lock()
				loads++
				mu.Unlock()
				return 42, 8, nil
			})
			if err != nil || v != 42 {
				t.Errorf("got %d err=%v", v, err)
			}
		}()
	}
	wg.Wait()

	if loads > 2 {
		t.Fatalf("expected single-flighted loads, got %d", loads)
	}
}
