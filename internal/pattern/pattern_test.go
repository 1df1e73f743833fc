package pattern

import "testing"

func TestFixed32Fill(t *testing.T) {
	e, err := NewEngine(Config{Kind: Fixed32, FixedValue: 0xdeadbeef}, 64)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	if err := e.Fill(buf, 0, FillContext{}); err != nil {
		t.Fatal(err)
	}
	// little-endian dump of 0xdeadbeef is ef be ad de
	want := []byte{0xef, 0xbe, 0xad, 0xde}
	for i := 0; i < 4; i++ {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, buf[i], want[i])
		}
	}
}

func TestIOTDeterministic(t *testing.T) {
	cfg := Config{Kind: IOT, IOTSeed: 0x1}
	e1, _ := NewEngine(cfg, 4096)
	e2, _ := NewEngine(cfg, 4096)
	e1.StartPass(3)
	e2.StartPass(3)

	b1 := make([]byte, 4096)
	b2 := make([]byte, 4096)
	if err := e1.Fill(b1, 0, FillContext{}); err != nil {
		t.Fatal(err)
	}
	if err := e2.Fill(b2, 0, FillContext{}); err != nil {
		t.Fatal(err)
	}
	for i := range b1 {
		if b1[i] != b2[i] {
			t.Fatalf("IOT streams diverged at byte %d", i)
			break
		}
	}
}

func TestIOTPassesDiffer(t *testing.T) {
	cfg := Config{Kind: IOT, IOTSeed: 0x1}
	e, _ := NewEngine(cfg, 4096)
	e.StartPass(1)
	b1 := make([]byte, 256)
	e.Fill(b1, 0, FillContext{})

	e.StartPass(2)
	b2 := make([]byte, 256)
	e.Fill(b2, 0, FillContext{})

	same := true
	for i := range b1 {
		if b1[i] != b2[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected different passes to produce different IOT streams")
	}
}

func TestPrefixOverlayZeroPadded(t *testing.T) {
	e, err := NewEngine(Config{Kind: Incr0255, Prefix: "hi"}, 256)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 256)
	if err := e.Fill(buf, 0, FillContext{BtagSize: 0}); err != nil {
		t.Fatal(err)
	}
	if string(buf[0:2]) != "hi" {
		t.Fatalf("prefix not written: %q", buf[0:2])
	}
	for i := 2; i < PrefixCapacity; i++ {
		if buf[i] != 0 {
			t.Fatalf("expected zero padding at %d, got %d", i, buf[i])
		}
	}
}

func TestPrefixFollowsBtag(t *testing.T) {
	e, err := NewEngine(Config{Kind: Incr0255, Prefix: "go"}, 256)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 256)
	const btagSize = 64
	if err := e.Fill(buf, 0, FillContext{BtagSize: btagSize}); err != nil {
		t.Fatal(err)
	}
	if string(buf[btagSize:btagSize+2]) != "go" {
		t.Fatalf("expected prefix right after btag region, got %q", buf[btagSize:btagSize+2])
	}
}

func TestLBDataSkippedForIOT(t *testing.T) {
	cfg := Config{Kind: IOT, IOTSeed: 7, LBData: true}
	e, err := NewEngine(cfg, 256)
	if err != nil {
		t.Fatal(err)
	}
	e.StartPass(0)
	b1, _ := e.Expected(256, 0, FillContext{LBA: 1})
	b2, _ := e.Expected(256, 0, FillContext{LBA: 2})
	for i := range b1 {
		if b1[i] != b2[i] {
			t.Fatalf("expected LBA overlay to be skipped for IOT, diverged at %d", i)
		}
	}
}

func TestExpectedIsPureFunction(t *testing.T) {
	cfg := Config{Kind: Fixed32, FixedValue: 42, LBData: true}
	e, err := NewEngine(cfg, 256)
	if err != nil {
		t.Fatal(err)
	}
	ctx := FillContext{LBA: 99}
	b1, _ := e.Expected(256, 0, ctx)
	b2, _ := e.Expected(256, 0, ctx)
	for i := range b1 {
		if b1[i] != b2[i] {
			t.Fatalf("Expected() not deterministic at byte %d", i)
		}
	}
}
