//go:build linux

package ioprim

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Mmap memory-maps the target and serves reads/writes as slice copies
// against the mapping (§4.4 "file_map" primitive), exercising a different
// code path through the kernel than buffered or direct I/O.
type Mmap struct {
	f    *os.File
	mu   sync.RWMutex
	data []byte
	size int64
}

// OpenMmap opens opts.Path, sets the file's length to opts.DeviceSize
// (when DeviceSize is 0, the file keeps its current length) and maps that
// many bytes. A longer file is truncated to DeviceSize.
func OpenMmap(ctx context.Context, opts OpenOptions) (Primitive, error) {
	flags := os.O_RDWR
	if opts.Create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(opts.Path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	size := opts.DeviceSize
	if size == 0 {
		fi, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			return nil, statErr
		}
		size = fi.Size()
	}
	if opts.Truncate || size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ioprim: mmap %s: %w", opts.Path, err)
	}
	return &Mmap{f: f, data: data, size: size}, nil
}

func (m *Mmap) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off >= m.size {
		return 0, nil
	}
	n := copy(p, m.data[off:])
	return n, nil
}

func (m *Mmap) WriteAt(_ context.Context, p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off >= m.size {
		return 0, fmt.Errorf("ioprim: write beyond mapped size")
	}
	n := copy(m.data[off:], p)
	return n, nil
}

func (m *Mmap) Flush(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m *Mmap) Trim(_ context.Context, off, length int64) error {
	return ErrNotSupported
}

func (m *Mmap) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *Mmap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := unix.Munmap(m.data); err != nil {
		m.f.Close()
		return err
	}
	return m.f.Close()
}

var _ Primitive = (*Mmap)(nil)
