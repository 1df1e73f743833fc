package ioprim

import (
	"context"
	"fmt"
)

// Stub stands in for target kinds that have no transport code here: raw
// SCSI generic devices, NVMe passthrough, and sequential-access tape.
// Reads, writes and flushes fail with an error naming the kind and path,
// Trim returns ErrNotSupported, Size reports 0 and Close succeeds. The
// lifecycle's buffer-mode dispatch has no case that opens a Stub.
type Stub struct {
	kind string
	path string
}

// OpenStub records the intended path for a recognized-but-unimplemented
// target kind; it never touches the filesystem.
func OpenStub(kind, path string) Opener {
	return func(ctx context.Context, opts OpenOptions) (Primitive, error) {
		return &Stub{kind: kind, path: path}, nil
	}
}

func (s *Stub) unsupported(op string) error {
	return fmt.Errorf("ioprim: %s not implemented for %s target %s", op, s.kind, s.path)
}

func (s *Stub) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	return 0, s.unsupported("read")
}

func (s *Stub) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	return 0, s.unsupported("write")
}

func (s *Stub) Flush(ctx context.Context) error {
	return s.unsupported("flush")
}

func (s *Stub) Trim(ctx context.Context, off, length int64) error {
	return ErrNotSupported
}

func (s *Stub) Size() int64 {
	return 0
}

func (s *Stub) Close() error {
	return nil
}

var _ Primitive = (*Stub)(nil)
