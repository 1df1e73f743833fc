// Package lifecycle implements the thread-cloning and pre-job setup of
// spec.md §4.12 (C12): turning one parsed configuration into N
// independent per-thread Worker configs (the "clone_device" step),
// validating option combinations, selecting the right I/O primitive
// opener for the configured buffer mode, and resolving the mounted
// filesystem under a target path before the job's threads start.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/moby/sys/mountinfo"

	"github.com/robintmiller/dt/internal/btag"
	"github.com/robintmiller/dt/internal/fswalk"
	"github.com/robintmiller/dt/internal/iolock"
	"github.com/robintmiller/dt/internal/ioprim"
	"github.com/robintmiller/dt/internal/pacing"
	"github.com/robintmiller/dt/internal/pattern"
	"github.com/robintmiller/dt/internal/worker"
)

// TargetConfig is the job-wide, not-yet-cloned configuration: one target
// path/device and the options that apply identically to every thread
// before per-thread identity fields are filled in.
type TargetConfig struct {
	TargetPath   string
	BufferMode   ioprim.Mode
	DeviceSize   int64
	BlockSize    int
	MinSize      int
	MaxSize      int
	Incr         int
	Variable     bool

	ThreadCount int
	IOLock      bool

	Pattern     pattern.Config
	BtagEnabled bool
	VerifyMask  btag.VerifyMask

	Direction    worker.Direction
	IOType       worker.IOType
	RandomAlign  int64
	MasterSeed   int64

	// ReadPercentage and RandomPercentage draw per-record read/write and
	// sequential/random mode respectively (§4.5 step 4/5); their zero
	// values preserve the pure write (or pure read) / pure sequential (or
	// pure random) behavior already selected by Mode/IOType.
	ReadPercentage   int
	RandomPercentage int

	IOPS           int
	FsyncFrequency int
	ReadAfterWrite bool

	// Prefill requests every thread sweep its slice with an inverse
	// pattern before regular I/O starts, gated by a job-wide barrier
	// (§4.8).
	Prefill bool

	// RetryLimit/RetryDelay bound transient I/O retry (§4.4/§7); zero
	// disables retry.
	RetryLimit int
	RetryDelay time.Duration

	// Filesystem-tree target fields (§4.7): when FSTree is set, the job
	// targets a directory of files composed per Layout/Limits rather than
	// a single path/device.
	FSTree        bool
	FSDirPrefix   string
	FSBasename    string
	FSPostfixTpl  string
	FSLimits      fswalk.Limits
	DeletePerPass bool
	RestartPolicy fswalk.RestartPolicy

	DataLimit, RecordLimit int64
	ErrorLimit             int

	HistorySize, HistoryDataSize int

	JobID uint32
}

// Validate checks the option combinations §4.12/§9 call out as invalid
// (e.g. variable-size requires min < max; btag requires block size large
// enough to hold the header).
func (c TargetConfig) Validate() error {
	if c.ThreadCount <= 0 {
		return fmt.Errorf("lifecycle: thread count must be positive")
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("lifecycle: block size must be positive")
	}
	if c.MinSize <= 0 || c.MaxSize < c.MinSize {
		return fmt.Errorf("lifecycle: invalid min/max request size %d/%d", c.MinSize, c.MaxSize)
	}
	if c.Variable && c.MaxSize == c.MinSize {
		return fmt.Errorf("lifecycle: variable size requested but min == max")
	}
	if c.BtagEnabled && c.BlockSize < btag.Size {
		return fmt.Errorf("lifecycle: block size %d too small to hold a %d-byte btag", c.BlockSize, btag.Size)
	}
	if c.IOLock && c.ThreadCount < 2 {
		return fmt.Errorf("lifecycle: iolock requested with fewer than two threads")
	}
	return nil
}

// openerFor dispatches on buffer mode to the right ioprim.Opener,
// mirroring the teacher's backend-selection switch (§4.4 "Opener").
func openerFor(mode ioprim.Mode) (func(context.Context, ioprim.OpenOptions) (ioprim.Primitive, error), error) {
	switch mode {
	case ioprim.ModeBuffered, "":
		return ioprim.OpenBuffered, nil
	case ioprim.ModeDirect:
		return ioprim.OpenDirect, nil
	case ioprim.ModeMmap:
		return ioprim.OpenMmap, nil
	case ioprim.ModeAsync:
		return ioprim.OpenAsync, nil
	default:
		return nil, fmt.Errorf("lifecycle: unknown buffer mode %q", mode)
	}
}

// FilesystemInfo is what PrejobStart resolves about the target's mount.
type FilesystemInfo struct {
	Mountpoint string
	FSType     string
	Source     string
}

// ResolveFilesystem finds the mount entry that owns path, by longest
// matching mountpoint prefix over /proc/self/mountinfo (§4.12: "resolve
// mount/FS type via mountinfo before starting I/O, since trim/fallocate
// support and max-data-percentage both depend on it").
func ResolveFilesystem(path string) (FilesystemInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FilesystemInfo{}, err
	}
	mounts, err := mountinfo.GetMounts(nil)
	if err != nil {
		return FilesystemInfo{}, fmt.Errorf("lifecycle: reading mount table: %w", err)
	}
	sort.Slice(mounts, func(i, j int) bool { return len(mounts[i].Mountpoint) > len(mounts[j].Mountpoint) })
	for _, m := range mounts {
		if abs == m.Mountpoint || len(abs) > len(m.Mountpoint) && abs[:len(m.Mountpoint)+1] == m.Mountpoint+"/" {
			return FilesystemInfo{Mountpoint: m.Mountpoint, FSType: m.FSType, Source: m.Source}, nil
		}
	}
	return FilesystemInfo{}, fmt.Errorf("lifecycle: no mount entry found for %s", path)
}

// PrejobResult is everything do_prejob_start_processing (§4.12) resolves
// before the job's threads are started.
type PrejobResult struct {
	Filesystem  FilesystemInfo
	MaxDataBytes int64
	Coordinator *iolock.Coordinator
}

// PrejobStart resolves the mount, computes a free-space-derived data
// ceiling when maxDataPercentage > 0, and allocates the shared iolock
// coordinator when the target config requests it.
func PrejobStart(cfg TargetConfig, maxDataPercentage float64) (PrejobResult, error) {
	res := PrejobResult{}

	fi, err := ResolveFilesystem(filepath.Dir(cfg.TargetPath))
	if err != nil {
		// Device targets (e.g. /dev/sdX) have no filesystem to resolve;
		// that's expected, not fatal.
		fi = FilesystemInfo{}
	}
	res.Filesystem = fi

	if maxDataPercentage > 0 {
		dir := filepath.Dir(cfg.TargetPath)
		if fi2, statErr := os.Stat(dir); statErr == nil && fi2.IsDir() {
			maxBytes, err := fswalk.MaxDataBytes(dir, maxDataPercentage)
			if err != nil {
				return res, err
			}
			res.MaxDataBytes = maxBytes
		}
	}

	if cfg.IOLock {
		res.Coordinator = iolock.New(0, cfg.DataLimit, cfg.RecordLimit)
	}

	return res, nil
}

// fsOpenerFor builds the per-file opener a filesystem-tree worker calls for
// every record (§4.7): each file gets its own primitive, opened under the
// job's configured buffer mode.
func fsOpenerFor(cfg TargetConfig) (func(context.Context, string) (ioprim.Primitive, error), error) {
	opener, err := openerFor(cfg.BufferMode)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, path string) (ioprim.Primitive, error) {
		return opener(ctx, ioprim.OpenOptions{
			Path:      path,
			Mode:      cfg.BufferMode,
			BlockSize: cfg.BlockSize,
			Create:    true,
		})
	}, nil
}

// CloneThread builds one thread's worker.Config from the job-wide
// TargetConfig plus its thread number, the way clone_device derives a
// per-thread info block from shared config plus an XOR'd seed (§4.12
// "clone_device"). prim is the already-open I/O primitive this thread
// will drive (shared when iolock is active, private otherwise); it is nil
// for a filesystem-tree target, which opens one primitive per file
// instead. prefillBarrier, when non-nil, gates every thread's regular I/O
// on the whole job's prefill sweep finishing (§4.8).
func CloneThread(cfg TargetConfig, threadNumber int, prim ioprim.Primitive, coord *iolock.Coordinator, identity btag.Identity, prefillBarrier *iolock.Barrier) worker.Config {
	identity.ThreadNumber = uint32(threadNumber)
	identity.DeviceSize = uint32(cfg.BlockSize)
	identity.IsFile = cfg.FSTree

	wc := worker.Config{
		JobID:            cfg.JobID,
		ThreadNumber:     threadNumber,
		TargetPath:       cfg.TargetPath,
		Prim:             prim,
		BlockSize:        cfg.BlockSize,
		MinSize:          cfg.MinSize,
		MaxSize:          cfg.MaxSize,
		Incr:             cfg.Incr,
		Variable:         cfg.Variable,
		StartOffset:      0,
		EndOffset:        cfg.DeviceSize,
		Direction:        cfg.Direction,
		IOType:           cfg.IOType,
		RandomAlign:      cfg.RandomAlign,
		RandomSeed:       cfg.MasterSeed ^ int64(threadNumber),
		ReadPercentage:   cfg.ReadPercentage,
		RandomPercentage: cfg.RandomPercentage,
		Pattern:          cfg.Pattern,
		BtagEnabled:      cfg.BtagEnabled,
		BtagIdentity:     identity,
		VerifyMask:       cfg.VerifyMask,
		HistorySize:      cfg.HistorySize,
		HistoryDataSize:  cfg.HistoryDataSize,
		FsyncFrequency:   cfg.FsyncFrequency,
		ReadAfterWrite:   cfg.ReadAfterWrite,
		Prefill:          cfg.Prefill,
		PrefillBarrier:   prefillBarrier,
		RetryLimit:       cfg.RetryLimit,
		RetryDelay:       cfg.RetryDelay,
		Pacing:           pacing.New(cfg.IOPS),
		Coordinator:      coord,
		DeletePerPass:    cfg.DeletePerPass,
		RestartPolicy:    cfg.RestartPolicy,
		Limits:           worker.Limits{DataLimit: cfg.DataLimit, RecordLimit: cfg.RecordLimit, ErrorLimit: cfg.ErrorLimit},
	}

	if cfg.FSTree {
		wc.FSWalk = &fswalk.Layout{
			BaseDir:      cfg.TargetPath,
			DirPrefix:    cfg.FSDirPrefix,
			Basename:     cfg.FSBasename,
			PostfixTpl:   cfg.FSPostfixTpl,
			JobID:        cfg.JobID,
			ThreadNumber: threadNumber,
			Limits:       cfg.FSLimits,
		}
		wc.FSLimits = cfg.FSLimits
		if opener, err := fsOpenerFor(cfg); err == nil {
			wc.FSOpener = opener
		}
	}

	return wc
}

// OpenTarget opens the target via the configured buffer mode.
func OpenTarget(ctx context.Context, cfg TargetConfig) (ioprim.Primitive, error) {
	opener, err := openerFor(cfg.BufferMode)
	if err != nil {
		return nil, err
	}
	return opener(ctx, ioprim.OpenOptions{
		Path:       cfg.TargetPath,
		Mode:       cfg.BufferMode,
		DeviceSize: cfg.DeviceSize,
		BlockSize:  cfg.BlockSize,
		Create:     true,
	})
}
