package history

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestPushAndDumpOrder(t *testing.T) {
	r := New(3, 8)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.Push(Entry{
			TestMode:     "write",
			RecordNumber: uint32(i),
			Offset:       int64(i) * 512,
			Timestamp:    base.Add(time.Duration(i) * time.Second),
		})
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (ring capacity)", r.Len())
	}

	var buf bytes.Buffer
	if !r.DumpOnce(&buf) {
		t.Fatal("expected first DumpOnce to fire")
	}
	out := buf.String()
	// newest-first: last pushed was record 4, then 3, then 2 (0,1 evicted)
	i4 := strings.Index(out, "record=4")
	i3 := strings.Index(out, "record=3")
	i2 := strings.Index(out, "record=2")
	if i4 == -1 || i3 == -1 || i2 == -1 {
		t.Fatalf("expected records 2,3,4 present, got:\n%s", out)
	}
	if !(i4 < i3 && i3 < i2) {
		t.Fatalf("expected newest-first ordering 4,3,2, got:\n%s", out)
	}
	if strings.Contains(out, "record=0") || strings.Contains(out, "record=1") {
		t.Fatalf("expected evicted records 0,1 absent, got:\n%s", out)
	}
}

func TestDumpOnceIsIdempotent(t *testing.T) {
	r := New(2, 8)
	r.Push(Entry{RecordNumber: 1})

	var buf1, buf2 bytes.Buffer
	if !r.DumpOnce(&buf1) {
		t.Fatal("expected first dump to fire")
	}
	if r.DumpOnce(&buf2) {
		t.Fatal("expected second dump to be suppressed")
	}
	if buf2.Len() != 0 {
		t.Fatalf("expected no output on suppressed dump, got %q", buf2.String())
	}
}

func TestResetDumpFlagAllowsRedump(t *testing.T) {
	r := New(2, 8)
	r.Push(Entry{RecordNumber: 1})

	var buf bytes.Buffer
	r.DumpOnce(&buf)
	if !r.Dumped() {
		t.Fatal("expected Dumped() true after DumpOnce")
	}
	r.ResetDumpFlag()
	if r.Dumped() {
		t.Fatal("expected Dumped() false after reset")
	}
	if !r.DumpOnce(&buf) {
		t.Fatal("expected dump to fire again after reset")
	}
}

func TestHeadBytesTruncatedToDataSize(t *testing.T) {
	r := New(1, 4)
	r.Push(Entry{HeadBytes: []byte{1, 2, 3, 4, 5, 6}})
	var buf bytes.Buffer
	r.DumpOnce(&buf)
	if strings.Contains(buf.String(), "05 06") {
		t.Fatalf("expected head bytes truncated to dataSize=4, got %q", buf.String())
	}
}

func TestPushCopiesHeadBytes(t *testing.T) {
	r := New(1, 8)
	src := []byte{1, 2, 3}
	r.Push(Entry{HeadBytes: src})
	src[0] = 0xff // mutate caller's buffer after Push

	var buf bytes.Buffer
	r.DumpOnce(&buf)
	if strings.Contains(buf.String(), "ff 02 03") {
		t.Fatal("expected Push to copy HeadBytes, not alias caller's slice")
	}
}
