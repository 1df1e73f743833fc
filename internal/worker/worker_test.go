package worker

import (
	"context"
	"testing"

	"github.com/robintmiller/dt/internal/dtlog"
	"github.com/robintmiller/dt/internal/iolock"
	"github.com/robintmiller/dt/internal/ioprim"
	"github.com/robintmiller/dt/internal/pattern"
)

func newMemPrim(t *testing.T, size int64) ioprim.Primitive {
	t.Helper()
	p, err := ioprim.OpenMemory(context.Background(), ioprim.OpenOptions{DeviceSize: size})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func baseConfig(t *testing.T, prim ioprim.Primitive) Config {
	return Config{
		JobID:        1,
		ThreadNumber: 0,
		Prim:         prim,
		BlockSize:    512,
		MinSize:      512,
		MaxSize:      512,
		Limits:       Limits{RecordLimit: 4},
		Pattern:      pattern.Config{Kind: pattern.Fixed32, FixedValue: 0xdeadbeef},
		HistorySize:  4,
		HistoryDataSize: 16,
		Logger:       dtlog.Nop(),
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	prim := newMemPrim(t, 4096)
	wcfg := baseConfig(t, prim)
	w, err := New(wcfg)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := w.RunWritePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.RecordsWritten != 4 {
		t.Fatalf("RecordsWritten = %d, want 4", stats.RecordsWritten)
	}

	rcfg := baseConfig(t, prim)
	r, err := New(rcfg)
	if err != nil {
		t.Fatal(err)
	}
	rstats, err := r.RunReadPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rstats.Errors != 0 {
		t.Fatalf("expected no verify errors, got %d", rstats.Errors)
	}
	if rstats.RecordsRead != 4 {
		t.Fatalf("RecordsRead = %d, want 4", rstats.RecordsRead)
	}
}

func TestReadDetectsMiscompare(t *testing.T) {
	prim := newMemPrim(t, 4096)
	wcfg := baseConfig(t, prim)
	w, _ := New(wcfg)
	if _, err := w.RunWritePass(context.Background()); err != nil {
		t.Fatal(err)
	}

	// corrupt one byte on the backing media directly
	mem := prim.(*ioprim.Memory)
	buf := make([]byte, 1)
	mem.ReadAt(context.Background(), buf, 10)
	buf[0] ^= 0xff
	mem.WriteAt(context.Background(), buf, 10)

	rcfg := baseConfig(t, prim)
	r, _ := New(rcfg)
	rstats, err := r.RunReadPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rstats.Errors == 0 {
		t.Fatal("expected a verify error after corrupting the backing media")
	}
}

func TestSequentialOffsetAdvancesByBlockSize(t *testing.T) {
	prim := newMemPrim(t, 4096)
	cfg := baseConfig(t, prim)
	cfg.Limits = Limits{RecordLimit: 3}
	w, _ := New(cfg)
	if _, err := w.RunWritePass(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w.offset != 3*512 {
		t.Fatalf("offset = %d, want %d", w.offset, 3*512)
	}
}

func TestReverseDirectionStopsAtStartOffset(t *testing.T) {
	prim := newMemPrim(t, 4096)
	cfg := baseConfig(t, prim)
	cfg.Direction = Reverse
	cfg.StartOffset = 512
	cfg.Limits = Limits{RecordLimit: 100}
	w, _ := New(cfg)
	w.offset = 1536
	stats, err := w.RunWritePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if w.offset != cfg.StartOffset {
		t.Fatalf("offset = %d, want clamped to StartOffset %d", w.offset, cfg.StartOffset)
	}
	if stats.RecordsWritten == 0 {
		t.Fatal("expected at least one record written before hitting the floor")
	}
}

func TestSharedCoordinatorGivesDisjointOffsets(t *testing.T) {
	rec := &offsetRecorder{Primitive: newMemPrim(t, 1<<20), seen: map[int64]int{}}
	coord := iolock.New(0, 512*8, 0)

	for i := 0; i < 2; i++ {
		cfg := baseConfig(t, rec)
		cfg.ThreadNumber = i
		cfg.Coordinator = coord
		cfg.Limits = Limits{RecordLimit: 100}
		w, _ := New(cfg)
		if _, err := w.RunWritePass(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	// The shared 4096-byte stream holds exactly 8 records of 512 bytes
	// between both threads, and no offset is written twice.
	if len(rec.seen) != 8 {
		t.Fatalf("wrote %d distinct offsets, want 8", len(rec.seen))
	}
	for off, n := range rec.seen {
		if n != 1 {
			t.Fatalf("offset %d written %d times, want 1", off, n)
		}
	}
}

// offsetRecorder counts the writes its Primitive receives at each offset.
type offsetRecorder struct {
	ioprim.Primitive
	seen map[int64]int
}

func (o *offsetRecorder) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	o.seen[off]++
	return o.Primitive.WriteAt(ctx, p, off)
}

func TestEndOffsetStopsSequentialWrites(t *testing.T) {
	prim := newMemPrim(t, 1<<20) // backing store auto-grows; the boundary is EndOffset
	cfg := baseConfig(t, prim)
	cfg.EndOffset = 512 // only one record fits before the configured ceiling
	cfg.Limits = Limits{RecordLimit: 100}
	w, _ := New(cfg)
	stats, err := w.RunWritePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.RecordsWritten != 1 {
		t.Fatalf("RecordsWritten = %d, want 1 (second write should hit EndOffset)", stats.RecordsWritten)
	}
}

func TestTerminatingStateStopsTheLoop(t *testing.T) {
	prim := newMemPrim(t, 1<<20)
	cfg := baseConfig(t, prim)
	cfg.Limits = Limits{RecordLimit: 1000}
	w, _ := New(cfg)
	w.SetState(StateTerminating)
	stats, err := w.RunWritePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.RecordsWritten != 0 {
		t.Fatalf("expected no records written once terminating, got %d", stats.RecordsWritten)
	}
}
