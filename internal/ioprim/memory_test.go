package ioprim

import (
	"context"
	"testing"
)

func TestMemoryReadWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, err := OpenMemory(ctx, OpenOptions{DeviceSize: 4096})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	data := []byte("the quick brown fox")
	if n, err := p.WriteAt(ctx, data, 100); err != nil || n != len(data) {
		t.Fatalf("WriteAt: n=%d err=%v", n, err)
	}
	got := make([]byte, len(data))
	if n, err := p.ReadAt(ctx, got, 100); err != nil || n != len(data) {
		t.Fatalf("ReadAt: n=%d err=%v", n, err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestMemoryGrowsOnWrite(t *testing.T) {
	ctx := context.Background()
	p, err := OpenMemory(ctx, OpenOptions{DeviceSize: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if _, err := p.WriteAt(ctx, []byte{1, 2, 3}, 1<<20); err != nil {
		t.Fatal(err)
	}
	if p.Size() < (1<<20)+3 {
		t.Fatalf("Size() = %d, want >= %d", p.Size(), (1<<20)+3)
	}
}

func TestMemoryTrimZeroesRegion(t *testing.T) {
	ctx := context.Background()
	p, _ := OpenMemory(ctx, OpenOptions{DeviceSize: 4096})
	p.WriteAt(ctx, []byte{1, 2, 3, 4}, 0)

	mem := p.(*Memory)
	if err := mem.Trim(ctx, 0, 4); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	p.ReadAt(ctx, got, 0)
	for _, b := range got {
		if b != 0 {
			t.Fatalf("expected trimmed region zeroed, got %v", got)
		}
	}
}

func TestMemoryReadPastEndReturnsZero(t *testing.T) {
	ctx := context.Background()
	p, _ := OpenMemory(ctx, OpenOptions{DeviceSize: 16})
	buf := make([]byte, 16)
	n, err := p.ReadAt(ctx, buf, 100)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v, want n=0 err=nil", n, err)
	}
}

func TestBufferedOpenReadWrite(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/target.bin"
	p, err := OpenBuffered(ctx, OpenOptions{Path: path, Create: true, DeviceSize: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	data := []byte("hello buffered")
	if _, err := p.WriteAt(ctx, data, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(data))
	if _, err := p.ReadAt(ctx, got, 0); err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
	if p.Size() < int64(len(data)) {
		t.Fatalf("Size() = %d, want >= %d", p.Size(), len(data))
	}
}

func TestStubReportsUnsupported(t *testing.T) {
	ctx := context.Background()
	opener := OpenStub("scsi", "/dev/sg0")
	p, err := opener(ctx, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.ReadAt(ctx, make([]byte, 1), 0); err == nil {
		t.Fatal("expected stub ReadAt to fail")
	}
	if _, err := p.WriteAt(ctx, make([]byte, 1), 0); err == nil {
		t.Fatal("expected stub WriteAt to fail")
	}
}
