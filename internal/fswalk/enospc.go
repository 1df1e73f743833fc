package fswalk

import (
	"context"
	"time"
)

// RestartPolicy controls the ENOSPC-restart behavior of §4.7: on a
// partial-transfer or disk-full error during a sequential forward write,
// optionally wait for free space to reappear, delete the file set, and
// restart writing from file 0.
type RestartPolicy struct {
	Enabled     bool
	FreeDelay   time.Duration // fsfree_delay
	FreeRetries int           // fsfree_retries
}

// RestartOutcome reports what the restart attempt decided.
type RestartOutcome struct {
	Restarted      bool
	WaitedRetries  int
	StillFull      bool
	LastWritten    int64 // last_dbytes_written; AwaitFreeSpaceAndRestart leaves it 0
	LastFilesCount int   // last_files_written; AwaitFreeSpaceAndRestart leaves it 0
}

// AwaitFreeSpaceAndRestart implements the wait/delete/restart sequence. It
// polls freeSpace until it exceeds needed bytes or FreeRetries is
// exhausted, then calls cleanup (expected to delete the file set) before
// reporting the worker should resume writing from file 0.
func AwaitFreeSpaceAndRestart(ctx context.Context, policy RestartPolicy, path string, needed int64, cleanup func() error) (RestartOutcome, error) {
	out := RestartOutcome{}
	if !policy.Enabled {
		out.StillFull = true
		return out, nil
	}

	for retry := 0; retry < policy.FreeRetries; retry++ {
		out.WaitedRetries = retry + 1
		free, err := FreeSpace(path)
		if err != nil {
			return out, err
		}
		if free >= needed {
			if err := cleanup(); err != nil {
				return out, err
			}
			out.Restarted = true
			return out, nil
		}
		t := time.NewTimer(policy.FreeDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return out, ctx.Err()
		case <-t.C:
		}
	}
	out.StillFull = true
	return out, nil
}
