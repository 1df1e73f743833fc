//go:build giouring

// Package ioprim's async primitive submits positional reads and writes
// through io_uring via github.com/pawelgaczynski/giouring, giving dt a
// buffer mode that exercises the kernel's async I/O path instead of a
// synchronous syscall per operation (§4.4).
package ioprim

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

const asyncQueueDepth = 32

// Async submits reads/writes through a private io_uring instance. One
// Async owns one ring, and submit serializes every submission under mu,
// so one Async can serve several goroutines (dt shares one primitive
// across all threads of a job when iolock is set).
type Async struct {
	f    *os.File
	ring *giouring.Ring
	mu   sync.Mutex
	size int64
}

// OpenAsync opens opts.Path and creates an io_uring instance dedicated to
// this handle.
func OpenAsync(ctx context.Context, opts OpenOptions) (Primitive, error) {
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
	ring, err := giouring.CreateRing(asyncQueueDepth)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ioprim: create io_uring: %w", err)
	}
	size := opts.DeviceSize
	if size == 0 {
		if fi, statErr := f.Stat(); statErr == nil {
			size = fi.Size()
		}
	}
	return &Async{f: f, ring: ring, size: size}, nil
}

func (a *Async) submit(prepare func(sqe *giouring.SubmissionQueueEntry)) (int32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sqe := a.ring.GetSQE()
	if sqe == nil {
		return 0, fmt.Errorf("ioprim: io_uring submission queue full")
	}
	prepare(sqe)
	sqe.UserData = 1

	if _, err := a.ring.SubmitAndWait(1); err != nil {
		return 0, fmt.Errorf("ioprim: io_uring submit: %w", err)
	}

	var cqe *giouring.CompletionQueueEvent
	if err := a.ring.WaitCQE(&cqe); err != nil {
		return 0, fmt.Errorf("ioprim: io_uring wait completion: %w", err)
	}
	res := cqe.Res
	a.ring.CQESeen(cqe)
	if res < 0 {
		return 0, unix.Errno(-res)
	}
	return res, nil
}

func (a *Async) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	res, err := a.submit(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareRead(int(a.f.Fd()), uintptr(unsafe.Pointer(&p[0])), uint32(len(p)), uint64(off))
	})
	return int(res), err
}

func (a *Async) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	res, err := a.submit(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareWrite(int(a.f.Fd()), uintptr(unsafe.Pointer(&p[0])), uint32(len(p)), uint64(off))
	})
	if res > 0 {
		a.mu.Lock()
		if end := off + int64(res); end > a.size {
			a.size = end
		}
		a.mu.Unlock()
	}
	return int(res), err
}

func (a *Async) Flush(ctx context.Context) error {
	return a.f.Sync()
}

func (a *Async) Trim(ctx context.Context, off, length int64) error {
	const flags = unix.FALLOC_FL_PUNCH_HOLE | unix.FALLOC_FL_KEEP_SIZE
	if err := unix.Fallocate(int(a.f.Fd()), flags, off, length); err != nil {
		return ErrNotSupported
	}
	return nil
}

func (a *Async) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

func (a *Async) Close() error {
	a.ring.QueueExit()
	return a.f.Close()
}

var _ Primitive = (*Async)(nil)
