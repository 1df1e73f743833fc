package dt

import (
	"context"
	"fmt"
	"time"

	"github.com/robintmiller/dt/internal/btag"
	"github.com/robintmiller/dt/internal/dtlog"
	"github.com/robintmiller/dt/internal/fswalk"
	"github.com/robintmiller/dt/internal/iolock"
	"github.com/robintmiller/dt/internal/ioprim"
	"github.com/robintmiller/dt/internal/jobs"
	"github.com/robintmiller/dt/internal/lifecycle"
	"github.com/robintmiller/dt/internal/monitor"
	"github.com/robintmiller/dt/internal/pattern"
	"github.com/robintmiller/dt/internal/stats"
	"github.com/robintmiller/dt/internal/trigger"
	"github.com/robintmiller/dt/internal/worker"
)

// Mode selects the top-level test behavior (§6 "iomode=").
type Mode int

const (
	ModeWrite Mode = iota
	ModeRead
	ModeWriteThenRead
)

// OnError selects the job-wide reaction to the first error (§6
// "oncerr=").
type OnError int

const (
	OnErrorAbort OnError = iota
	OnErrorContinue
	OnErrorPause
)

// Config is the fully-resolved configuration for one dt invocation: a
// single target, driven by ThreadCount worker threads for Passes passes.
type Config struct {
	TargetPath string
	BufferMode ioprim.Mode
	DeviceSize int64
	BlockSize  int
	MinSize    int
	MaxSize    int
	Incr       int
	Variable   bool

	ThreadCount int
	IOLock      bool

	Pattern     pattern.Config
	BtagEnabled bool
	VerifyMask  btag.VerifyMask

	Direction   worker.Direction
	IOType      worker.IOType
	RandomAlign int64
	MasterSeed  int64

	IOPS           int
	FsyncFrequency int
	ReadAfterWrite bool

	// ReadPercentage and RandomPercentage enable mixed read/write and
	// sequential/random I/O within a single pass (§4.5 step 4/5); their
	// zero values preserve pure write (or pure read) / pure sequential (or
	// pure random) behavior.
	ReadPercentage   int
	RandomPercentage int

	// Prefill sweeps every thread's slice with an inverse pattern before
	// regular I/O starts, gated by a job-wide barrier (§4.8).
	Prefill bool

	// RetryLimit/RetryDelay bound transient I/O retry (§4.4/§7).
	RetryLimit int
	RetryDelay time.Duration

	// Filesystem-tree target fields (§4.7): FSTree switches TargetPath
	// from a single file/device to a directory of files composed per
	// FSDirPrefix/FSBasename/FSPostfixTpl and FSLimits.
	FSTree        bool
	FSDirPrefix   string
	FSBasename    string
	FSPostfixTpl  string
	FSLimits      fswalk.Limits
	DeletePerPass bool
	RestartPolicy fswalk.RestartPolicy

	DataLimit, RecordLimit int64
	ErrorLimit             int
	Passes                 int

	Mode        Mode
	OnError     OnError
	JobTag      string
	ReportLevel stats.DetailLevel

	HistorySize, HistoryDataSize int
	MaxDataPercentage            float64

	// MonitorInterval/MaxNoProgress/TermWaitTime/MaxTermTime/IOTunePath
	// configure the per-job C10 keepalive monitor; MonitorInterval <= 0
	// disables the monitor goroutine entirely.
	MonitorInterval time.Duration
	MaxNoProgress   time.Duration
	TermWaitTime    time.Duration
	MaxTermTime     time.Duration
	IOTunePath      string

	Trigger trigger.Runner
	Logger  dtlog.Logger
}

// Report is the outcome of one Run call.
type Report struct {
	JobID    uint32
	ExitCode int
	Stats    stats.Snapshot
	JobState jobs.JobState
}

// exitCode computes the process exit status per §6: 0 for success, the
// error count otherwise (capped below the 254/255 sentinels), 255 for a
// startup/fatal failure.
func exitCode(errs uint64) int {
	if errs == 0 {
		return 0
	}
	if errs >= 254 {
		return 253
	}
	return int(errs)
}

// Run drives one dt invocation end to end: validates the config, resolves
// the target's filesystem and (optionally) its shared iolock coordinator,
// opens the target, clones one worker per thread, runs the configured
// number of passes, and aggregates the result into a Report.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	log := cfg.Logger
	if log == nil {
		log = dtlog.Default()
	}
	trig := cfg.Trigger
	if trig == nil {
		trig = trigger.NoopRunner{}
	}

	tcfg := lifecycle.TargetConfig{
		TargetPath:       cfg.TargetPath,
		BufferMode:       cfg.BufferMode,
		DeviceSize:       cfg.DeviceSize,
		BlockSize:        cfg.BlockSize,
		MinSize:          cfg.MinSize,
		MaxSize:          cfg.MaxSize,
		Incr:             cfg.Incr,
		Variable:         cfg.Variable,
		ThreadCount:      cfg.ThreadCount,
		IOLock:           cfg.IOLock,
		Pattern:          cfg.Pattern,
		BtagEnabled:      cfg.BtagEnabled,
		VerifyMask:       cfg.VerifyMask,
		Direction:        cfg.Direction,
		IOType:           cfg.IOType,
		RandomAlign:      cfg.RandomAlign,
		MasterSeed:       cfg.MasterSeed,
		ReadPercentage:   cfg.ReadPercentage,
		RandomPercentage: cfg.RandomPercentage,
		IOPS:             cfg.IOPS,
		FsyncFrequency:   cfg.FsyncFrequency,
		ReadAfterWrite:   cfg.ReadAfterWrite,
		Prefill:          cfg.Prefill,
		RetryLimit:       cfg.RetryLimit,
		RetryDelay:       cfg.RetryDelay,
		FSTree:           cfg.FSTree,
		FSDirPrefix:      cfg.FSDirPrefix,
		FSBasename:       cfg.FSBasename,
		FSPostfixTpl:     cfg.FSPostfixTpl,
		FSLimits:         cfg.FSLimits,
		DeletePerPass:    cfg.DeletePerPass,
		RestartPolicy:    cfg.RestartPolicy,
		DataLimit:        cfg.DataLimit,
		RecordLimit:      cfg.RecordLimit,
		ErrorLimit:       cfg.ErrorLimit,
		HistorySize:      cfg.HistorySize,
		HistoryDataSize:  cfg.HistoryDataSize,
	}
	if err := tcfg.Validate(); err != nil {
		return &Report{ExitCode: 255}, fmt.Errorf("dt: %w", err)
	}

	prejob, err := lifecycle.PrejobStart(tcfg, cfg.MaxDataPercentage)
	if err != nil {
		return &Report{ExitCode: 255}, fmt.Errorf("dt: prejob setup: %w", err)
	}

	var sharedPrim ioprim.Primitive
	if cfg.IOLock && !cfg.FSTree {
		sharedPrim, err = lifecycle.OpenTarget(ctx, tcfg)
		if err != nil {
			return &Report{ExitCode: 255}, fmt.Errorf("dt: opening target: %w", err)
		}
	}

	identity := btag.NewDefaultIdentity()
	identity.JobID = tcfg.JobID
	identity.DeviceSize = uint32(cfg.BlockSize)

	var prefillBarrier *iolock.Barrier
	if cfg.Prefill {
		prefillBarrier = iolock.NewBarrier(cfg.ThreadCount)
	}

	manager := jobs.NewManager(log)
	workers := make([]*worker.Worker, 0, cfg.ThreadCount)

	for i := 0; i < cfg.ThreadCount; i++ {
		prim := sharedPrim
		if prim == nil && !cfg.FSTree {
			prim, err = lifecycle.OpenTarget(ctx, tcfg)
			if err != nil {
				return &Report{ExitCode: 255}, fmt.Errorf("dt: opening target for thread %d: %w", i, err)
			}
		}
		wc := lifecycle.CloneThread(tcfg, i, prim, prejob.Coordinator, identity, prefillBarrier)
		wc.Logger = dtlog.ForThread(log, i)
		w, err := worker.New(wc)
		if err != nil {
			return &Report{ExitCode: 255}, fmt.Errorf("dt: building thread %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	job := manager.CreateJob(cfg.JobTag, workers)
	counters := stats.NewCounters(time.Now())
	passes := cfg.Passes
	if passes <= 0 {
		passes = 1
	}

	if cfg.MonitorInterval > 0 {
		monCtx, cancelMon := context.WithCancel(ctx)
		defer cancelMon()
		mon := monitor.New(monitor.Config{
			Interval:      cfg.MonitorInterval,
			MaxNoProgress: cfg.MaxNoProgress,
			TermWaitTime:  cfg.TermWaitTime,
			MaxTermTime:   cfg.MaxTermTime,
			IOTunePath:    cfg.IOTunePath,
			Sample: func() monitor.ProgressSnapshot {
				snap := counters.Snapshot()
				return monitor.ProgressSnapshot{
					BytesMoved:   snap.BytesRead + snap.BytesWritten,
					RecordsMoved: snap.RecordsRead + snap.RecordsWritten,
				}
			},
			Terminate: func(force bool) { job.Cancel() },
			Log:       dtlog.ForJob(job.ID, cfg.JobTag, nil),
		})
		job.SetMonitor(mon)
		go mon.Run(monCtx)
	}

	job.Start(ctx, func(ctx context.Context, th *jobs.ThreadHandle) error {
		var lastErr error
		for p := 0; p < passes; p++ {
			var s worker.Stats
			switch cfg.Mode {
			case ModeRead:
				s, lastErr = th.W.RunReadPass(ctx)
			case ModeWriteThenRead:
				if s, lastErr = th.W.RunWritePass(ctx); lastErr == nil {
					s, lastErr = th.W.RunReadPass(ctx)
				}
			default:
				s, lastErr = th.W.RunWritePass(ctx)
			}
			counters.Add(uint64(s.BytesRead), uint64(s.BytesWritten),
				uint64(s.RecordsRead), uint64(s.RecordsWritten),
				uint64(s.FullReads), uint64(s.FullWrites),
				uint64(s.PartialReads), uint64(s.PartialWrites),
				uint64(s.Errors), 0)
			if lastErr != nil {
				break
			}
			if s.Errors > 0 && cfg.OnError == OnErrorAbort {
				job.Cancel()
				_ = trig.Run(ctx, trigger.Event{Kind: "error", JobID: job.ID, Thread: th.Number, TargetPath: cfg.TargetPath, When: time.Now()})
				break
			}
		}
		return lastErr
	})

	jobErr := job.Wait()
	counters.Finish(time.Now())
	snap := counters.Snapshot()

	code := exitCode(snap.Errors)
	if jobErr != nil && code == 0 {
		code = 255
	}

	if lvl := cfg.ReportLevel; lvl != stats.DetailNone {
		job.Logf("%s", stats.Report(fmt.Sprintf("job %d", job.ID), snap, lvl))
	}

	return &Report{JobID: job.ID, ExitCode: code, Stats: snap, JobState: job.State()}, jobErr
}
