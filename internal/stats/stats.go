// Package stats implements the statistics and reporting layer of
// spec.md §4.11 (C11): atomic per-pass/per-thread/per-job counters in the
// style of the teacher's Metrics type, NONE/BRIEF/FULL report detail
// levels, and the extended per-error report format.
package stats

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// DetailLevel selects how much a report prints (§6 "report_level").
type DetailLevel int

const (
	DetailNone DetailLevel = iota
	DetailBrief
	DetailFull
)

// Counters accumulates one scope's (pass, thread-total, or job-total)
// I/O counters under atomics, mirroring the teacher's atomic-counter
// Metrics type rather than a mutex-guarded struct.
type Counters struct {
	BytesRead, BytesWritten       atomic.Uint64
	RecordsRead, RecordsWritten   atomic.Uint64
	FullReads, FullWrites         atomic.Uint64
	PartialReads, PartialWrites   atomic.Uint64
	Errors, Miscompares           atomic.Uint64
	StartTime                     atomic.Int64
	EndTime                       atomic.Int64
}

// NewCounters returns a Counters with StartTime stamped to now.
func NewCounters(now time.Time) *Counters {
	c := &Counters{}
	c.StartTime.Store(now.UnixNano())
	return c
}

// Finish stamps EndTime, closing the counting window.
func (c *Counters) Finish(now time.Time) { c.EndTime.Store(now.UnixNano()) }

// Add merges delta counts into c, used to roll a pass's counters up into
// its thread total, and a thread total up into its job total.
func (c *Counters) Add(bytesRead, bytesWritten, recordsRead, recordsWritten uint64, fullReads, fullWrites, partialReads, partialWrites, errs, miscompares uint64) {
	c.BytesRead.Add(bytesRead)
	c.BytesWritten.Add(bytesWritten)
	c.RecordsRead.Add(recordsRead)
	c.RecordsWritten.Add(recordsWritten)
	c.FullReads.Add(fullReads)
	c.FullWrites.Add(fullWrites)
	c.PartialReads.Add(partialReads)
	c.PartialWrites.Add(partialWrites)
	c.Errors.Add(errs)
	c.Miscompares.Add(miscompares)
}

// Snapshot is a consistent point-in-time read of Counters.
type Snapshot struct {
	BytesRead, BytesWritten     uint64
	RecordsRead, RecordsWritten uint64
	FullReads, FullWrites       uint64
	PartialReads, PartialWrites uint64
	Errors, Miscompares         uint64
	Elapsed                     time.Duration
	ReadIOPS, WriteIOPS         float64
	ReadBW, WriteBW             float64 // bytes/sec
}

// Snapshot computes derived rates the way the teacher's Metrics.Snapshot
// does: divide accumulated counts by elapsed wall time.
func (c *Counters) Snapshot() Snapshot {
	start := c.StartTime.Load()
	end := c.EndTime.Load()
	var elapsed time.Duration
	if end > 0 {
		elapsed = time.Duration(end - start)
	} else if start > 0 {
		elapsed = time.Since(time.Unix(0, start))
	}

	s := Snapshot{
		BytesRead:      c.BytesRead.Load(),
		BytesWritten:   c.BytesWritten.Load(),
		RecordsRead:    c.RecordsRead.Load(),
		RecordsWritten: c.RecordsWritten.Load(),
		FullReads:      c.FullReads.Load(),
		FullWrites:     c.FullWrites.Load(),
		PartialReads:   c.PartialReads.Load(),
		PartialWrites:  c.PartialWrites.Load(),
		Errors:         c.Errors.Load(),
		Miscompares:    c.Miscompares.Load(),
		Elapsed:        elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.ReadIOPS = float64(s.RecordsRead) / secs
		s.WriteIOPS = float64(s.RecordsWritten) / secs
		s.ReadBW = float64(s.BytesRead) / secs
		s.WriteBW = float64(s.BytesWritten) / secs
	}
	return s
}

// Report formats s at the given detail level (§4.11 "end of pass/job
// report"). NONE produces nothing, BRIEF a single summary line, FULL the
// full counter breakdown.
func Report(label string, s Snapshot, level DetailLevel) string {
	switch level {
	case DetailNone:
		return ""
	case DetailBrief:
		return fmt.Sprintf("%s: %d bytes read, %d bytes written, %d errors in %s",
			label, s.BytesRead, s.BytesWritten, s.Errors, s.Elapsed.Round(time.Millisecond))
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "%s\n", label)
		fmt.Fprintf(&b, "  read:    %d bytes, %d records (%d full, %d partial), %.1f IOPS, %.1f MB/s\n",
			s.BytesRead, s.RecordsRead, s.FullReads, s.PartialReads, s.ReadIOPS, s.ReadBW/1e6)
		fmt.Fprintf(&b, "  write:   %d bytes, %d records (%d full, %d partial), %.1f IOPS, %.1f MB/s\n",
			s.BytesWritten, s.RecordsWritten, s.FullWrites, s.PartialWrites, s.WriteIOPS, s.WriteBW/1e6)
		fmt.Fprintf(&b, "  errors:  %d (%d miscompares)\n", s.Errors, s.Miscompares)
		fmt.Fprintf(&b, "  elapsed: %s\n", s.Elapsed.Round(time.Millisecond))
		return b.String()
	}
}
