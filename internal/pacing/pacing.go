// Package pacing implements the IOPS-limiting subsystem of spec.md §4.5.3:
// a per-thread (or shared, under iolock) rate limiter that holds a worker
// below a configured operations-per-second ceiling.
package pacing

import (
	"context"
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// Limiter paces I/O attempts against a configured rate. A nil *Limiter is
// valid and never paces, so workers can hold one unconditionally.
type Limiter struct {
	rate  int
	inner *catrate.Limiter
}

// category is the sole key every dt caller uses; catrate supports
// per-category limits but dt only ever needs one shared bucket per
// Limiter instance (one per thread, or one shared instance under iolock).
type category struct{}

// New builds a Limiter enforcing opsPerSec operations per second. opsPerSec
// <= 0 disables pacing (§4.5.3: "iops=0 means unlimited").
func New(opsPerSec int) *Limiter {
	if opsPerSec <= 0 {
		return &Limiter{rate: 0}
	}
	return &Limiter{
		rate: opsPerSec,
		inner: catrate.NewLimiter(map[time.Duration]int{
			time.Second: opsPerSec,
		}),
	}
}

// Wait blocks until the limiter allows the next operation, or ctx is
// cancelled. A disabled limiter returns immediately.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.rate <= 0 {
		return nil
	}
	for {
		next, ok := l.inner.Allow(category{})
		if ok {
			return nil
		}
		d := time.Until(next)
		if d <= 0 {
			continue
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RatePerSec reports the configured ceiling, 0 meaning unlimited.
func (l *Limiter) RatePerSec() int {
	if l == nil {
		return 0
	}
	return l.rate
}
