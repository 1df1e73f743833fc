// Package verify implements the verifier of spec.md §4.6 (C6): compare a
// received buffer against the expected pattern/btag content, and on
// mismatch produce side-by-side hex+ASCII dumps annotated with file
// offsets (never memory addresses) plus the other forensic context a
// triage investigation needs.
package verify

import (
	"fmt"
	"strings"

	"github.com/robintmiller/dt/internal/btag"
)

// Dispatch selects the comparison strategy in the order of §4.6: a btag
// mode, a byte-wise mode aware of prefix/LBA/timestamp overlay slots, or
// plain byte-wise equality.
type Dispatch int

const (
	DispatchBtag Dispatch = iota
	DispatchBytewisePrefix
	DispatchBytewisePlain
)

// Config controls one verify pass.
type Config struct {
	Dispatch   Dispatch
	DeviceSize int
	Mask       btag.VerifyMask
	PrefixLen  int
	XCompare   bool // prefix-string compare in btag mode; no compare function here reads it
}

// Result describes the outcome of comparing one record's buffer.
type Result struct {
	OK bool

	// MismatchOffset is the byte offset, within the compared buffer, of
	// the first disagreement (lowest byte offset wins on tie, §4.2).
	MismatchOffset int

	// BlockIndex is which device-sized sub-block the mismatch fell in,
	// valid only in btag mode.
	BlockIndex int

	CRCFailed    bool
	FieldsFailed []string
}

// CompareBtag runs the btag-path verifier across every device-sized
// sub-block of received, comparing sub-block i against expectedPerBlock[i]
// (callers typically build each entry with btag.CreateTemplate followed by
// btag.UpdateForRecord for that block). It stops at the first failing
// sub-block.
func CompareBtag(expectedPerBlock []btag.Tag, received []byte, cfg Config) Result {
	if cfg.DeviceSize <= 0 || cfg.DeviceSize > len(received) {
		return Result{OK: false}
	}
	for i, off := 0, 0; off+cfg.DeviceSize <= len(received); i, off = i+1, off+cfg.DeviceSize {
		sub := received[off : off+cfg.DeviceSize]
		res := btag.VerifyBlock(expectedPerBlock[i], sub, cfg.Mask)
		if !res.OK {
			return Result{
				OK:             false,
				MismatchOffset: off + res.MismatchOffset,
				BlockIndex:     i,
				CRCFailed:      res.CRCFailed,
				FieldsFailed:   res.FieldsFailed,
			}
		}
	}
	return Result{OK: true, MismatchOffset: -1}
}

// CompareBytewisePrefix is the compare for §4.6 dispatch case 2. It
// compares expected and received byte for byte, the prefix region
// included, exactly as CompareBytewisePlain does; prefixLen is not used.
func CompareBytewisePrefix(expected, received []byte, prefixLen int) Result {
	n := len(expected)
	if len(received) < n {
		n = len(received)
	}
	for i := 0; i < n; i++ {
		if expected[i] != received[i] {
			return Result{MismatchOffset: i}
		}
	}
	if len(expected) != len(received) {
		return Result{MismatchOffset: n}
	}
	return Result{OK: true, MismatchOffset: -1}
}

// CompareBytewisePlain is a memcmp-equivalent that additionally reports
// the first mismatching byte index (§4.6 dispatch case 3).
func CompareBytewisePlain(expected, received []byte) Result {
	n := len(expected)
	if len(received) < n {
		n = len(received)
	}
	for i := 0; i < n; i++ {
		if expected[i] != received[i] {
			return Result{MismatchOffset: i}
		}
	}
	if len(expected) != len(received) {
		return Result{MismatchOffset: n}
	}
	return Result{OK: true, MismatchOffset: -1}
}

// CompareBytewiseMasked compares expected and received like
// CompareBytewisePlain, except any byte in a skip range is always treated
// as matching. Callers use this to exclude a non-deterministic overlay
// slot (e.g. a live timestamp stamp) from the comparison, per §4.1's
// rule that such slots are excluded from pattern-determinism checks.
func CompareBytewiseMasked(expected, received []byte, skip [][2]int) Result {
	n := len(expected)
	if len(received) < n {
		n = len(received)
	}
outer:
	for i := 0; i < n; i++ {
		for _, r := range skip {
			if i >= r[0] && i < r[1] {
				continue outer
			}
		}
		if expected[i] != received[i] {
			return Result{MismatchOffset: i}
		}
	}
	if len(expected) != len(received) {
		return Result{MismatchOffset: n}
	}
	return Result{OK: true, MismatchOffset: -1}
}

// DumpAnnotated renders data as hex+ASCII rows of 16 bytes, each row
// labelled with its absolute file offset (baseOffset+row start) rather
// than a memory address, per §4.6: "show the offset and block-index at
// the failure, since memory addresses are not useful in triage."
func DumpAnnotated(label string, data []byte, baseOffset int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d bytes, base offset %#x):\n", label, len(data), baseOffset)
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]
		fmt.Fprintf(&b, "  %#010x  ", baseOffset+int64(off))
		for i := 0; i < 16; i++ {
			if i < len(row) {
				fmt.Fprintf(&b, "%02x ", row[i])
			} else {
				b.WriteString("   ")
			}
			if i == 7 {
				b.WriteByte(' ')
			}
		}
		b.WriteString(" |")
		for _, c := range row {
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteString("|\n")
	}
	return b.String()
}

// SideBySideDump renders the expected and received buffers one after the
// other, both annotated with the same base file offset, per §4.6: dump
// expected, then received "with file-offset annotations."
func SideBySideDump(expected, received []byte, baseOffset int64) string {
	var b strings.Builder
	b.WriteString(DumpAnnotated("expected", expected, baseOffset))
	b.WriteString(DumpAnnotated("received", received, baseOffset))
	return b.String()
}
