package iolock

import (
	"sync"
	"testing"
)

func TestReserveAdvancesSequentialOffset(t *testing.T) {
	c := New(0, 0, 0)
	r1 := c.Reserve(4096)
	if r1.EndOfFile || r1.Offset != 0 {
		t.Fatalf("r1 = %+v, want offset 0", r1)
	}
	r2 := c.Reserve(4096)
	if r2.EndOfFile || r2.Offset != 4096 {
		t.Fatalf("r2 = %+v, want offset 4096", r2)
	}
}

func TestReserveDisjointAcrossThreads(t *testing.T) {
	c := New(0, 0, 0)
	const threads = 8
	const perThread = 100
	const size = 512

	type claim struct{ start, end int64 }
	claims := make([]claim, 0, threads*perThread)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perThread; j++ {
				r := c.Reserve(size)
				if r.EndOfFile {
					return
				}
				mu.Lock()
				claims = append(claims, claim{r.Offset, r.Offset + size})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claims) != threads*perThread {
		t.Fatalf("got %d claims, want %d", len(claims), threads*perThread)
	}
	seen := make(map[int64]bool, len(claims))
	for _, cl := range claims {
		if seen[cl.start] {
			t.Fatalf("offset %d claimed twice", cl.start)
		}
		seen[cl.start] = true
	}
}

func TestReserveStopsAtDataLimit(t *testing.T) {
	c := New(0, 1024, 0)
	r1 := c.Reserve(512)
	if r1.EndOfFile {
		t.Fatal("expected first reservation within limit to succeed")
	}
	r2 := c.Reserve(512)
	if r2.EndOfFile {
		t.Fatal("expected second reservation within limit to succeed")
	}
	r3 := c.Reserve(512)
	if !r3.EndOfFile || !r3.LimitReached {
		t.Fatalf("expected third reservation to hit data limit, got %+v", r3)
	}
}

func TestSetEndOfFilePropagates(t *testing.T) {
	c := New(0, 0, 0)
	c.SetEndOfFile()
	if !c.EndOfFile() {
		t.Fatal("expected EndOfFile() true")
	}
	r := c.Reserve(100)
	if !r.EndOfFile {
		t.Fatal("expected Reserve to short-circuit after SetEndOfFile")
	}
}

func TestRecordCountersAccumulate(t *testing.T) {
	c := New(0, 0, 0)
	c.RecordWrite(4096, true)
	c.RecordWrite(100, false)
	c.RecordRead(4096, true)
	c.RecordError()

	s := c.Stats()
	if s.BytesWritten != 4196 || s.RecordsWritten != 1 {
		t.Fatalf("write stats = %+v", s)
	}
	if s.BytesRead != 4096 || s.RecordsRead != 1 {
		t.Fatalf("read stats = %+v", s)
	}
	if s.ErrorCount != 1 {
		t.Fatalf("error count = %d, want 1", s.ErrorCount)
	}
}

func TestBarrierReleasesAllParticipants(t *testing.T) {
	const n = 5
	b := NewBarrier(n)
	var wg sync.WaitGroup
	done := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			b.Enter()
			done[idx] = true
		}(i)
	}
	wg.Wait()
	for i, d := range done {
		if !d {
			t.Fatalf("participant %d never released", i)
		}
	}
}
