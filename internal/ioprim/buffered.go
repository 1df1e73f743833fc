package ioprim

import (
	"context"
	"os"
	"sync"
)

// Buffered is the default Primitive: plain positional reads/writes through
// the page cache via *os.File, the mode used when no direct/mmap/async
// flag is given.
type Buffered struct {
	f    *os.File
	mu   sync.Mutex // guards size tracking on growable files
	size int64
}

// OpenBuffered opens or creates opts.Path for buffered positional I/O.
func OpenBuffered(ctx context.Context, opts OpenOptions) (Primitive, error) {
	flags := os.O_RDWR
	if opts.Create {
		flags |= os.O_CREATE
	}
	if opts.Truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(opts.Path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	size := opts.DeviceSize
	if size == 0 {
		if fi, statErr := f.Stat(); statErr == nil {
			size = fi.Size()
		}
	}
	return &Buffered{f: f, size: size}, nil
}

func (b *Buffered) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return b.f.ReadAt(p, off)
}

func (b *Buffered) WriteAt(_ context.Context, p []byte, off int64) (int, error) {
	n, err := b.f.WriteAt(p, off)
	if n > 0 {
		b.mu.Lock()
		if end := off + int64(n); end > b.size {
			b.size = end
		}
		b.mu.Unlock()
	}
	return n, err
}

func (b *Buffered) Flush(_ context.Context) error {
	return b.f.Sync()
}

func (b *Buffered) Trim(_ context.Context, off, length int64) error {
	return ErrNotSupported
}

func (b *Buffered) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffered) Close() error {
	return b.f.Close()
}

var _ Primitive = (*Buffered)(nil)
