package stats

import (
	"fmt"
	"strings"
	"time"
)

// ErrorReport carries every field spec.md §4.11 requires in an extended
// error report: identity, timing, geometry, and (for miscompares only)
// the corruption locator fields.
type ErrorReport struct {
	ErrorNumber int
	WallClock   time.Time
	PassElapsed time.Duration
	TestElapsed time.Duration

	FileID   string
	Inode    uint64
	FileSize int64

	RequestSize  int
	RecordNumber uint32
	Mode         string // "read" / "write" / "read-after-write"
	TestType     string // sequential / random
	BufferMode   string // buffered / direct / mmap / async / stub
	DeviceID     string

	StartOffset int64
	EndOffset   int64
	StartLBA    uint64
	EndLBA      uint64

	// Miscompare-only fields (zero otherwise).
	IsMiscompare    bool
	ErrorFileOffset int64
	ErrorLBA        uint64
	RelativeLBA     uint64
	LBA512          uint64 // error LBA expressed in 512-byte units
	CorruptionIndex int    // index of the failing sub-block within the buffer
	ByteIndex       int    // byte offset within the failing sub-block
	PrefixString    string
}

// Format renders an ErrorReport in the teacher's key: value block style,
// one field group per line, omitting the miscompare section when it
// doesn't apply.
func (r ErrorReport) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "error #%d at %s\n", r.ErrorNumber, r.WallClock.Format(time.RFC3339))
	fmt.Fprintf(&b, "  elapsed: pass=%s test=%s\n", r.PassElapsed.Round(time.Millisecond), r.TestElapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "  file: id=%s inode=%d size=%d\n", r.FileID, r.Inode, r.FileSize)
	fmt.Fprintf(&b, "  request: size=%d record=%d mode=%s type=%s buffer_mode=%s device=%s\n",
		r.RequestSize, r.RecordNumber, r.Mode, r.TestType, r.BufferMode, r.DeviceID)
	fmt.Fprintf(&b, "  range: offset=[%d,%d) lba=[%d,%d)\n", r.StartOffset, r.EndOffset, r.StartLBA, r.EndLBA)
	if r.IsMiscompare {
		fmt.Fprintf(&b, "  miscompare: file_offset=%d lba=%d relative_lba=%d lba512=%d block=%d byte=%d\n",
			r.ErrorFileOffset, r.ErrorLBA, r.RelativeLBA, r.LBA512, r.CorruptionIndex, r.ByteIndex)
		if r.PrefixString != "" {
			fmt.Fprintf(&b, "  prefix: %q (len=%d)\n", r.PrefixString, len(r.PrefixString))
		}
	}
	return b.String()
}

// NewMiscompareReport fills in the corruption-locator fields from a
// device-sized sub-block index and a byte offset within it, per §4.11:
// "error LBA (physical and relative to the request), the 512-byte LBA
// equivalent, the corruption buffer index, and the block-internal byte
// index."
func NewMiscompareReport(base ErrorReport, blockIndex, byteOffsetInBlock int, deviceSize int) ErrorReport {
	r := base
	r.IsMiscompare = true
	r.CorruptionIndex = blockIndex
	r.ByteIndex = byteOffsetInBlock
	r.ErrorFileOffset = r.StartOffset + int64(blockIndex*deviceSize+byteOffsetInBlock)
	r.ErrorLBA = r.StartLBA + uint64(blockIndex)
	r.RelativeLBA = uint64(blockIndex)
	r.LBA512 = uint64(r.ErrorFileOffset) / 512
	return r
}
