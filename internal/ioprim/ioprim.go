// Package ioprim implements the I/O primitive layer of spec.md §4.4 (C4):
// a small interface that every buffer-mode implementation (buffered,
// O_DIRECT, mmap, async io_uring, stub SCSI/NVMe/tape) satisfies, so the
// per-thread worker loop in internal/worker never branches on buffer mode
// itself.
package ioprim

import (
	"context"
	"errors"
)

// Mode names a buffer-mode implementation, selected by lifecycle glue from
// CLI options (§4.12 clone_device / buffer mode selection).
type Mode string

const (
	ModeBuffered Mode = "buffered"
	ModeDirect   Mode = "direct"
	ModeMmap     Mode = "mmap"
	ModeAsync    Mode = "async"
	ModeStub     Mode = "stub"
)

// Primitive is the positional I/O surface a worker drives every pass
// (§4.4): open/close, positional read/write, flush, seek-equivalent via
// explicit offsets, trim (discard), and a file-size/geometry query.
type Primitive interface {
	// ReadAt/WriteAt behave like io.ReaderAt/io.WriterAt: no shared seek
	// cursor, safe for a single goroutine per open handle.
	ReadAt(ctx context.Context, p []byte, off int64) (n int, err error)
	WriteAt(ctx context.Context, p []byte, off int64) (n int, err error)

	// Flush commits written data (fsync-equivalent), per fsync_frequency.
	Flush(ctx context.Context) error

	// Trim discards [off, off+length), best-effort; implementations that
	// cannot support it return ErrNotSupported.
	Trim(ctx context.Context, off, length int64) error

	// Size reports the current target size in bytes, 0 if unknown (a
	// growable regular file opened before any write).
	Size() int64

	// Close releases the underlying handle.
	Close() error
}

// ErrNotSupported is returned by optional operations (e.g. Trim) that a
// given buffer mode cannot implement.
var ErrNotSupported = errors.New("ioprim: operation not supported by this buffer mode")

// OpenOptions carries the parameters lifecycle glue resolves once per
// target before handing a Primitive to a worker (§4.12 pre-job hook).
type OpenOptions struct {
	Path       string
	Mode       Mode
	DeviceSize int64 // 0 lets the primitive discover/grow it
	BlockSize  int   // alignment requirement for direct/mmap modes
	Create     bool
	Truncate   bool
}

// Opener constructs a Primitive for a given mode; internal/lifecycle holds
// one Opener per Mode and dispatches on OpenOptions.Mode.
type Opener func(ctx context.Context, opts OpenOptions) (Primitive, error)
