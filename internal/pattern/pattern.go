// Package pattern implements the deterministic byte-stream generator and
// verifier described in spec.md §4.1 (C1): fixed 32-bit words, an
// incrementing 0-255 ramp, bytes read from a pattern file, and a seeded
// IOT stream, each optionally overlaid with a prefix string, an LBA
// stamp, and a timestamp stamp.
//
// The engine is deliberately single-threaded per caller (one per Worker,
// per §4.1 "single-threaded per worker"); callers that share a file across
// threads still get one Engine each, cloned at thread init (§4.12).
package pattern

import (
	"encoding/binary"
	"fmt"
	"time"
)

// SourceKind enumerates the pattern sources of §4.1.
type SourceKind int

const (
	Fixed32 SourceKind = iota
	Incr0255
	FromFile
	IOT
)

// Config describes one configured pattern source plus the overlays that
// apply on top of it (§4.1 steps 2-4; step 5, btag, is applied by the
// caller via the btag package after Fill returns).
type Config struct {
	Kind SourceKind

	// FixedValue is the 32-bit word replicated for Fixed32.
	FixedValue uint32

	// FileBytes holds the pattern-file contents for FromFile; the
	// buffer wraps at FileBytes' length.
	FileBytes []byte

	// IOTSeed is the base seed for IOT streams; StartPass XORs it with
	// the pass count to derive the per-pass seed (§4.1 "Rationale").
	IOTSeed uint32

	// Prefix, when non-empty, is stamped at the start of the prefix
	// region (§4.1 step 2).
	Prefix string

	// LBData requests a 4-byte LBA stamp (§4.1 step 3); ignored when
	// Kind == IOT, per spec ("If lbdata set and IOT not set").
	LBData bool

	// Timestamp requests an 8-byte epoch-seconds stamp (§4.1 step 4).
	Timestamp bool
}

// PrefixCapacity is the fixed-size region reserved for the prefix string,
// zero-padded beyond len(Prefix) (§4.1 step 2: "remaining bytes ... stay
// zero-padded"). LBA and timestamp slots are laid out immediately after
// this region.
const (
	PrefixCapacity = 32
	lbaSlotSize    = 4
	timestampSlot  = 8

	// LBASlotSize and TimestampSlotSize expose the overlay slot widths so
	// verifiers can locate and mask the timestamp region without
	// duplicating the layout math (§4.6: timestamp-stamped blocks exclude
	// that slot from byte-wise comparison).
	LBASlotSize       = lbaSlotSize
	TimestampSlotSize = timestampSlot
)

// FillContext carries the per-block values needed to apply the overlays:
// the block's starting LBA (files use a byte-offset-derived LBA, disks a
// real LBA — the caller decides), the current pass number, and the
// byte offset within the pattern buffer reserved for btag (0 if btag is
// disabled), which shifts where the prefix/lba/timestamp regions begin so
// the prefix can "immediately follow the btag" as the data model requires.
type FillContext struct {
	LBA        uint32
	PassNumber int
	BtagSize   int
}

// Engine generates and reconstructs pattern-filled blocks for one pattern
// source configuration.
type Engine struct {
	cfg       Config
	buf       []byte // master pattern buffer, sized to the largest request seen
	iotSeed   uint32 // seed in effect for the current pass
	passCount int
}

// NewEngine builds an Engine whose internal buffer is pre-expanded to at
// least bufSize bytes, so writes never need to special-case short buffers
// mid-run (§4.1: "expanded into a pattern buffer (sized >= max request)").
func NewEngine(cfg Config, bufSize int) (*Engine, error) {
	if bufSize <= 0 {
		bufSize = 4096
	}
	e := &Engine{cfg: cfg, iotSeed: cfg.IOTSeed}
	if err := e.grow(bufSize); err != nil {
		return nil, err
	}
	return e, nil
}

// grow regenerates the master buffer to be at least n bytes.
func (e *Engine) grow(n int) error {
	if len(e.buf) >= n {
		return nil
	}
	switch e.cfg.Kind {
	case Fixed32:
		buf := make([]byte, n)
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], e.cfg.FixedValue)
		for i := 0; i < n; i += 4 {
			copy(buf[i:], word[:])
		}
		e.buf = buf
	case Incr0255:
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(i)
		}
		e.buf = buf
	case FromFile:
		if len(e.cfg.FileBytes) == 0 {
			return fmt.Errorf("pattern: FromFile source has no bytes loaded")
		}
		buf := make([]byte, n)
		for i := 0; i < n; {
			i += copy(buf[i:], e.cfg.FileBytes)
		}
		e.buf = buf
	case IOT:
		e.buf = make([]byte, n)
		e.fillIOT(e.buf, e.iotSeed)
	default:
		return fmt.Errorf("pattern: unknown source kind %d", e.cfg.Kind)
	}
	return nil
}

// fillIOT fills dst with the IOT pseudo-random stream for the given seed.
// The generator is a 32-bit xorshift whose state is keyed on seed alone;
// any two calls with the same (seed, len(dst)) produce identical output,
// which is all the determinism invariant (§8) requires.
func (e *Engine) fillIOT(dst []byte, seed uint32) {
	state := seed
	if state == 0 {
		state = 1
	}
	for i := 0; i+4 <= len(dst); i += 4 {
		// 32-bit xorshift: cheap, deterministic, and avoids the
		// same degenerate all-zero/all-ones runs a linear congruential
		// generator can fall into for seed 0.
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		binary.LittleEndian.PutUint32(dst[i:], state)
	}
	if rem := len(dst) % 4; rem != 0 {
		var tmp [4]byte
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		binary.LittleEndian.PutUint32(tmp[:], state)
		copy(dst[len(dst)-rem:], tmp[:rem])
	}
}

// StartPass recomputes the IOT seed as (base_seed XOR pass_count), per
// §4.1: "Starting an IOT pass recomputes the IOT seed ... so each pass is
// distinct but reproducible." It is a no-op for non-IOT sources.
func (e *Engine) StartPass(passNumber int) {
	e.passCount = passNumber
	if e.cfg.Kind != IOT {
		return
	}
	e.iotSeed = e.cfg.IOTSeed ^ uint32(passNumber)
	e.fillIOT(e.buf, e.iotSeed)
}

// SeedForPass exposes the seed in effect, for btag stamping (§3 "pattern
// seed") and for reporting (§4.11 "pattern source and seed").
func (e *Engine) SeedForPass() uint32 {
	if e.cfg.Kind == IOT {
		return e.iotSeed
	}
	return e.cfg.FixedValue
}

// Fill writes exactly len(block) expected bytes into block, applying the
// overlays of §4.1 steps 1-4 in order. The cursor into the master pattern
// buffer is `bufOffset`, letting callers advance the streaming comparison
// pointer across successive device-sized sub-blocks within one record
// (§4.1: "moving pointer for streaming comparisons").
func (e *Engine) Fill(block []byte, bufOffset int64, ctx FillContext) error {
	if err := e.grow(len(block)); err != nil {
		return err
	}

	// Step 1: copy pattern-buffer bytes, wrapping at the buffer end.
	src := e.buf
	pos := int(bufOffset % int64(len(src)))
	for i := 0; i < len(block); {
		n := copy(block[i:], src[pos:])
		i += n
		pos = (pos + n) % len(src)
	}

	prefixOff := ctx.BtagSize
	lbaOff := prefixOff + PrefixCapacity
	tsOff := lbaOff + lbaSlotSize

	// Step 2: prefix region, zero-padded.
	if e.cfg.Prefix != "" && prefixOff+PrefixCapacity <= len(block) {
		region := block[prefixOff : prefixOff+PrefixCapacity]
		for i := range region {
			region[i] = 0
		}
		copy(region, e.cfg.Prefix)
	}

	// Step 3: lbdata, only when IOT is not the source.
	if e.cfg.LBData && e.cfg.Kind != IOT && lbaOff+lbaSlotSize <= len(block) {
		binary.LittleEndian.PutUint32(block[lbaOff:], ctx.LBA)
	}

	// Step 4: timestamp.
	if e.cfg.Timestamp && tsOff+timestampSlot <= len(block) {
		binary.LittleEndian.PutUint64(block[tsOff:], uint64(time.Now().Unix()))
	}

	return nil
}

// Expected is Fill without side effects on a scratch buffer, used by the
// verifier to reconstruct what a block *should* contain for comparison
// (§8 "Pattern determinism": a pure function of source+seed+lbdata+
// timestamp-off+prefix+pass-count). Because real timestamps are
// non-deterministic, verification of a timestamp-stamped block compares
// everything else and lets the caller special-case the timestamp slot.
func (e *Engine) Expected(size int, bufOffset int64, ctx FillContext) ([]byte, error) {
	block := make([]byte, size)
	if err := e.Fill(block, bufOffset, ctx); err != nil {
		return nil, err
	}
	return block, nil
}

// HasTimestamp reports whether the configured source stamps a timestamp,
// so verifiers know to mask that slot out of a byte-wise compare.
func (e *Engine) HasTimestamp() bool { return e.cfg.Timestamp }

// TimestampOffset returns the byte offset of the timestamp overlay slot
// for a block filled with ctx, so a verifier can exclude
// [off, off+TimestampSlotSize) from comparison.
func TimestampOffset(ctx FillContext) int {
	return ctx.BtagSize + PrefixCapacity + LBASlotSize
}

// PrefixLen returns the length of the configured prefix string, or 0.
func (e *Engine) PrefixLen() int { return len(e.cfg.Prefix) }

// Prefix returns the configured prefix string.
func (e *Engine) Prefix() string { return e.cfg.Prefix }

// Kind returns the configured source kind, for reporting.
func (e *Engine) Kind() SourceKind { return e.cfg.Kind }
