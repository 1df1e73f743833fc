// Package worker implements the per-thread I/O loop of spec.md §4.5 (C5):
// the write and read state machines that drive the pattern/btag engines
// on writes, the verifier on reads, advance the offset per the configured
// direction and I/O type, and enforce limits, pacing, and cancellation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"syscall"
	"time"

	"github.com/robintmiller/dt/internal/btag"
	"github.com/robintmiller/dt/internal/dtconst"
	"github.com/robintmiller/dt/internal/dtlog"
	"github.com/robintmiller/dt/internal/fswalk"
	"github.com/robintmiller/dt/internal/history"
	"github.com/robintmiller/dt/internal/iolock"
	"github.com/robintmiller/dt/internal/ioprim"
	"github.com/robintmiller/dt/internal/pacing"
	"github.com/robintmiller/dt/internal/pattern"
	"github.com/robintmiller/dt/internal/stats"
	"github.com/robintmiller/dt/internal/verify"
)

// Direction is the offset-advancement direction (§3 "io-dir").
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// IOType selects sequential or random placement (§3 "io-type").
type IOType int

const (
	Sequential IOType = iota
	Random
)

// State mirrors the thread-state machine of §3/§4.9.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StatePaused
	StateTerminating
	StateCancelled
	StateFinished
)

// Limits bounds one pass (§3 "Geometry & limits").
type Limits struct {
	DataLimit   int64
	RecordLimit int64
	ErrorLimit  int
	Runtime     time.Duration
}

// Config is the immutable-per-pass configuration for one worker thread,
// the "cloned thread info" of §4.12.
type Config struct {
	JobID        uint32
	ThreadNumber int
	TargetPath   string
	Prim         ioprim.Primitive
	BlockSize    int
	MinSize      int
	MaxSize      int
	Incr         int
	Variable     bool

	StartOffset int64
	EndOffset   int64 // 0 means unbounded / device size
	StepOffset  int64

	Limits    Limits
	Direction Direction
	IOType    IOType

	RandomAlign int64
	RandomSeed  int64

	// ReadPercentage is the percentage of records a write pass reads and
	// verifies instead of writing; a negative value turns the draw off.
	ReadPercentage int
	// RandomPercentage selects random vs sequential per record; -1 draws
	// uniformly.
	RandomPercentage int

	Pattern      pattern.Config
	BtagEnabled  bool
	BtagIdentity btag.Identity
	VerifyMask   btag.VerifyMask

	HistorySize     int
	HistoryDataSize int

	FsyncFrequency int // flush every N writes, 0 disables
	ReadAfterWrite bool

	// Prefill requests one inverse-pattern sweep across
	// [StartOffset, EndOffset) before the thread's main I/O loop starts
	// (§4.8 "prefill"). PrefillBarrier, when set, is entered by every
	// sibling thread once its own prefill sweep completes, so regular
	// I/O across the job only begins once the whole target is primed.
	Prefill        bool
	PrefillBarrier *iolock.Barrier

	// RetryLimit bounds how many additional attempts a transient I/O
	// failure gets before it's reported as an error (§4.4/§7); 0
	// disables retry. RetryDelay is the wait between attempts.
	RetryLimit int
	RetryDelay time.Duration

	Pacing      *pacing.Limiter
	Coordinator *iolock.Coordinator // nil when the target isn't shared

	// FSWalk, when set, targets a filesystem tree rather than a single
	// path: the worker composes one file path per record via
	// Layout/Limits and opens each with FSOpener (§4.7).
	FSWalk        *fswalk.Layout
	FSLimits      fswalk.Limits
	FSOpener      func(ctx context.Context, path string) (ioprim.Primitive, error)
	DeletePerPass bool
	RestartPolicy fswalk.RestartPolicy

	PassNumber  int
	WriteStart  uint32
	Logger      dtlog.Logger
	RereadCfg   verify.RereadConfig
	ReopenDirect verify.Reopener
}

// Stats accumulates one pass's counters (§3 "Counters"; consumed by C11).
type Stats struct {
	BytesWritten, BytesRead     int64
	RecordsWritten, RecordsRead int64
	FullWrites, PartialWrites   int64
	FullReads, PartialReads     int64
	Errors                      int
	ENOSPCHit                   bool
	MaxDataReached              bool
}

// Worker drives the read/write state machine for one target slice.
type Worker struct {
	cfg  Config
	pat  *pattern.Engine
	hist *history.Ring
	rng  *rand.Rand

	state State

	pacingMu sync.Mutex
	pacing   *pacing.Limiter

	offset       int64
	savedSeqOff  int64 // saved sequential offset, restored when random->sequential reverts
	recordNumber uint32
	reqSize      int

	startTime time.Time
	errorSeq  int

	stats Stats
	log   dtlog.Logger
}

// New builds a Worker ready to run one pass.
func New(cfg Config) (*Worker, error) {
	if cfg.Prim == nil {
		return nil, fmt.Errorf("worker: nil I/O primitive")
	}
	bufCap := cfg.MaxSize
	if bufCap <= 0 {
		bufCap = cfg.BlockSize
	}
	pat, err := pattern.NewEngine(cfg.Pattern, bufCap)
	if err != nil {
		return nil, fmt.Errorf("worker: pattern engine: %w", err)
	}
	pat.StartPass(cfg.PassNumber)

	log := cfg.Logger
	if log == nil {
		log = dtlog.Default()
	}

	return &Worker{
		cfg:    cfg,
		pat:    pat,
		hist:   history.New(cfg.HistorySize, cfg.HistoryDataSize),
		rng:    rand.New(rand.NewSource(cfg.RandomSeed)),
		state:     StateRunning,
		pacing:    cfg.Pacing,
		offset:    cfg.StartOffset,
		startTime: time.Now(),
		log:       log,
	}, nil
}

// SetIOPS retunes this thread's pacing limiter live, for the "modify"
// control operation (§4.9 whitelist entry "iops").
func (w *Worker) SetIOPS(opsPerSec int) {
	w.pacingMu.Lock()
	w.pacing = pacing.New(opsPerSec)
	w.pacingMu.Unlock()
}

// IOPS reports the currently configured pacing ceiling, 0 meaning
// unlimited.
func (w *Worker) IOPS() int {
	w.pacingMu.Lock()
	defer w.pacingMu.Unlock()
	return w.pacing.RatePerSec()
}

// pace blocks until the current pacing limiter allows the next operation.
func (w *Worker) pace(ctx context.Context) error {
	w.pacingMu.Lock()
	p := w.pacing
	w.pacingMu.Unlock()
	return p.Wait(ctx)
}

// isRetryableIOError reports whether err is a transient condition worth
// retrying (§4.4/§7): timeouts, interrupted syscalls, transient resets, and
// stale handles, as opposed to a hard miscompare, ENOSPC, or permission
// failure that retrying cannot fix.
func isRetryableIOError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EIO, syscall.ETIMEDOUT, syscall.EAGAIN, syscall.EINTR, syscall.ECONNRESET, syscall.ESTALE:
		return true
	default:
		return false
	}
}

// withRetry runs op, retrying up to cfg.RetryLimit additional times with
// cfg.RetryDelay between attempts when the returned error is classified
// retryable (§4.4: "retry_limit/retry_delay govern transient I/O errors
// independently of the data-corruption re-read protocol"). It gives up
// immediately on a non-retryable error or context cancellation.
func (w *Worker) withRetry(ctx context.Context, op func() (int, error)) (int, error) {
	n, err := op()
	for attempt := 0; err != nil && attempt < w.cfg.RetryLimit && isRetryableIOError(err); attempt++ {
		w.log.Warnf("retrying after transient I/O error (attempt %d/%d): %v", attempt+1, w.cfg.RetryLimit, err)
		if w.cfg.RetryDelay > 0 {
			t := time.NewTimer(w.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return n, ctx.Err()
			case <-t.C:
			}
		}
		n, err = op()
	}
	return n, err
}

// runPrefill performs one inverse-pattern sweep across
// [StartOffset, EndOffset) before the thread's regular I/O begins (§4.8
// "prefill"), then enters the shared barrier so siblings wait for every
// thread's sweep to finish before any of them start real I/O.
func (w *Worker) runPrefill(ctx context.Context) error {
	if !w.cfg.Prefill {
		return nil
	}
	size := w.cfg.BlockSize
	if size <= 0 {
		size = dtconst.DefaultBlockSize
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = ^byte(0) // inverse of the zero pattern: a recognizable "not yet written" stamp
	}

	end := w.cfg.EndOffset
	if end <= 0 {
		end = w.cfg.Prim.Size()
	}
	for off := w.cfg.StartOffset; off < end; off += int64(size) {
		req := buf
		if remaining := end - off; remaining < int64(size) {
			req = buf[:remaining]
		}
		if _, err := w.withRetry(ctx, func() (int, error) { return w.cfg.Prim.WriteAt(ctx, req, off) }); err != nil {
			if w.cfg.PrefillBarrier != nil {
				w.cfg.PrefillBarrier.Enter()
			}
			return fmt.Errorf("worker: prefill write at %d: %w", off, err)
		}
	}
	if w.cfg.PrefillBarrier != nil {
		w.cfg.PrefillBarrier.Enter()
	}
	return nil
}

// SetState transitions the thread state; the controller calls this from
// outside the running goroutine (§3: vtstate_t is volatile, controller
// writes, worker reads).
func (w *Worker) SetState(s State) { w.state = s }

// State reports the current thread state.
func (w *Worker) State() State { return w.state }

func sizeLimitReached(s Stats, l Limits) bool {
	if l.DataLimit > 0 && s.BytesWritten+s.BytesRead >= l.DataLimit {
		return true
	}
	if l.RecordLimit > 0 && s.RecordsWritten+s.RecordsRead >= l.RecordLimit {
		return true
	}
	if l.ErrorLimit > 0 && s.Errors >= l.ErrorLimit {
		return true
	}
	return false
}

// nextRequestSize computes this record's size (§4.5 step 6).
func (w *Worker) nextRequestSize() int {
	if !w.cfg.Variable || w.cfg.MaxSize <= w.cfg.MinSize {
		if w.reqSize == 0 {
			w.reqSize = w.cfg.MinSize
		}
		size := w.reqSize
		w.reqSize += w.cfg.Incr
		if w.cfg.MaxSize > 0 && w.reqSize > w.cfg.MaxSize {
			w.reqSize = w.cfg.MinSize
		}
		return size
	}
	span := w.cfg.MaxSize - w.cfg.MinSize + 1
	return w.cfg.MinSize + w.rng.Intn(span)
}

func alignDown(v, align int64) int64 {
	if align <= 0 {
		return v
	}
	return (v / align) * align
}

// drawIOType draws sequential/random per record (§4.5 step 5).
func (w *Worker) drawIOType() IOType {
	if w.cfg.RandomPercentage < 0 {
		if w.rng.Intn(2) == 0 {
			return Sequential
		}
		return Random
	}
	if w.rng.Intn(100) < w.cfg.RandomPercentage {
		return Random
	}
	return Sequential
}

// drawOp draws read/write per record when mixed mode is configured
// (§4.5 step 4). mode indicates the caller's base intent; only honored
// when ReadPercentage is configured (>= 0).
func (w *Worker) drawOp(writeByDefault bool) bool {
	if w.cfg.ReadPercentage < 0 {
		return writeByDefault
	}
	return w.rng.Intn(100) >= w.cfg.ReadPercentage
}

// reserveOffset computes the next offset for this record, honoring
// sequential/random selection, the shared iolock coordinator when
// present, and reverse-direction clamping.
func (w *Worker) reserveOffset(size int) (int64, bool, error) {
	iotype := w.cfg.IOType
	if w.cfg.RandomPercentage != 0 {
		iotype = w.drawIOType()
	}

	if w.cfg.Coordinator != nil {
		r := w.cfg.Coordinator.Reserve(int64(size))
		if r.EndOfFile {
			return 0, true, nil
		}
		return r.Offset, false, nil
	}

	if iotype == Random {
		span := w.cfg.EndOffset - w.cfg.StartOffset
		if span <= 0 {
			span = int64(size)
		}
		off := w.cfg.StartOffset + alignDown(int64(w.rng.Int63n(span)), w.cfg.RandomAlign)
		return off, false, nil
	}

	// Sequential: forward advances by size+step; reverse walks backward
	// and stops at StartOffset (§8 boundary behavior).
	if w.cfg.Direction == Reverse {
		if w.offset <= w.cfg.StartOffset {
			return 0, true, nil
		}
		off := w.offset
		return off, false, nil
	}
	if w.cfg.EndOffset > 0 && w.offset+int64(size) > w.cfg.EndOffset {
		return 0, true, nil
	}
	return w.offset, false, nil
}

func (w *Worker) advanceOffset(size int) {
	if w.cfg.Coordinator != nil {
		return // coordinator already advanced the shared offset on Reserve
	}
	if w.cfg.Direction == Reverse {
		w.offset -= int64(size) + w.cfg.StepOffset
		if w.offset < w.cfg.StartOffset {
			w.offset = w.cfg.StartOffset
		}
		return
	}
	w.offset += int64(size) + w.cfg.StepOffset
}

// btagSize returns how many bytes the btag header occupies at the start
// of each block: btag.Size when btag is enabled, 0 otherwise.
func (w *Worker) btagSize() int {
	if w.cfg.BtagEnabled {
		return btag.Size
	}
	return 0
}

// stampWrite fills buf with the expected pattern and, if enabled, a
// correct btag+CRC over every device-sized sub-block (§4.1, §4.2).
func (w *Worker) stampWrite(buf []byte, offset int64) error {
	ctx := pattern.FillContext{LBA: uint32(offset / int64(w.cfg.BlockSize)), PassNumber: w.cfg.PassNumber, BtagSize: w.btagSize()}
	if err := w.pat.Fill(buf, offset, ctx); err != nil {
		return err
	}
	if w.cfg.BtagEnabled {
		tmpl := btag.CreateTemplate(w.cfg.BtagIdentity, w.patternTypeBits(), w.pat.SeedForPass(), uint32(w.cfg.PassNumber), w.cfg.WriteStart)
		now := time.Now()
		startLBA := uint64(offset)
		if !w.cfg.BtagIdentity.IsFile {
			startLBA = uint64(offset) / uint64(w.cfg.BlockSize)
		}
		if err := btag.StampBuffer(tmpl, buf, w.cfg.BlockSize, startLBA, w.recordNumber+1, uint32(now.Unix()), uint32(now.Nanosecond()/1000), w.cfg.IOType == Random, nil); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) patternTypeBits() uint8 {
	switch w.cfg.Pattern.Kind {
	case pattern.IOT:
		return btag.PatternTypeIOT
	case pattern.Incr0255:
		return btag.PatternTypeIncr
	case pattern.FromFile:
		return btag.PatternTypePFile
	default:
		return btag.PatternTypePattern
	}
}

// RunWritePass executes the write state machine of §4.5 for one pass.
func (w *Worker) RunWritePass(ctx context.Context) (Stats, error) {
	if w.cfg.FSWalk != nil {
		return w.runFSWritePass(ctx)
	}
	if err := w.runPrefill(ctx); err != nil {
		return w.stats, err
	}

	buf := make([]byte, w.cfg.MaxSize)
	if w.cfg.MaxSize <= 0 {
		buf = make([]byte, w.cfg.BlockSize)
	}

	for {
		if w.state == StateTerminating || w.state == StateCancelled {
			break
		}
		for w.state == StatePaused {
			time.Sleep(dtconst.PauseThreadPollInterval)
			if w.state == StateTerminating || w.state == StateCancelled {
				return w.stats, nil
			}
		}
		if sizeLimitReached(w.stats, w.cfg.Limits) {
			break
		}
		if err := w.pace(ctx); err != nil {
			return w.stats, err
		}

		size := w.nextRequestSize()
		if size > len(buf) {
			size = len(buf)
		}
		req := buf[:size]

		offset, eof, err := w.reserveOffset(size)
		if err != nil {
			return w.stats, err
		}
		if eof {
			break
		}

		// drawOp branches this record between write and read when mixed
		// mode is configured (ReadPercentage >= 0); otherwise it always
		// returns true and this pass behaves as a pure write pass (§4.5
		// step 4).
		if !w.drawOp(true) {
			n, rerr := w.withRetry(ctx, func() (int, error) { return w.cfg.Prim.ReadAt(ctx, req, offset) })
			w.pushHistory("read", offset, size, n, req[:max(n, 0)])
			if rerr != nil {
				w.stats.Errors++
				break
			}
			if n == 0 {
				break
			}
			w.stats.BytesRead += int64(n)
			w.stats.RecordsRead++
			if n == size {
				w.stats.FullReads++
			} else {
				w.stats.PartialReads++
			}
			if w.cfg.Coordinator != nil {
				w.cfg.Coordinator.RecordRead(int64(n), n == size)
			}
			w.verifyAgainstExpected(req[:n], offset)
			w.advanceOffset(size)
			continue
		}

		if err := w.stampWrite(req, offset); err != nil {
			return w.stats, err
		}

		n, werr := w.withRetry(ctx, func() (int, error) { return w.cfg.Prim.WriteAt(ctx, req, offset) })
		w.pushHistory("write", offset, size, n, req)

		if werr != nil || n < size {
			w.stats.Errors++
			w.stats.PartialWrites++
			if w.cfg.Coordinator != nil {
				w.cfg.Coordinator.RecordError()
			}
			// Partial write on a regular file: ENOSPC safety invariant
			// (§8) — stop further writes to this file in this pass.
			w.stats.ENOSPCHit = true
			w.stats.BytesWritten += int64(n)
			break
		}

		w.stats.BytesWritten += int64(n)
		w.stats.RecordsWritten++
		w.stats.FullWrites++
		w.recordNumber++
		if w.cfg.Coordinator != nil {
			w.cfg.Coordinator.RecordWrite(int64(n), true)
		}

		if w.cfg.FsyncFrequency > 0 && int(w.stats.RecordsWritten)%w.cfg.FsyncFrequency == 0 {
			if err := w.cfg.Prim.Flush(ctx); err != nil {
				w.stats.Errors++
			}
		}

		if w.cfg.ReadAfterWrite {
			raw := make([]byte, size)
			if _, rerr := w.withRetry(ctx, func() (int, error) { return w.cfg.Prim.ReadAt(ctx, raw, offset) }); rerr == nil {
				w.verifyReceived(req, raw, offset, "read-after-write")
			}
		}

		w.advanceOffset(size)
	}
	return w.stats, nil
}

// RunReadPass executes the read state machine of §4.5 (mirrors write:
// iterate, read, verify, advance, honor limits and EOF).
func (w *Worker) RunReadPass(ctx context.Context) (Stats, error) {
	if w.cfg.FSWalk != nil {
		return w.runFSReadPass(ctx)
	}
	buf := make([]byte, w.cfg.MaxSize)
	if w.cfg.MaxSize <= 0 {
		buf = make([]byte, w.cfg.BlockSize)
	}

	for {
		if w.state == StateTerminating || w.state == StateCancelled {
			break
		}
		if sizeLimitReached(w.stats, w.cfg.Limits) {
			break
		}
		if err := w.pace(ctx); err != nil {
			return w.stats, err
		}

		size := w.nextRequestSize()
		if size > len(buf) {
			size = len(buf)
		}
		req := buf[:size]

		offset, eof, err := w.reserveOffset(size)
		if err != nil {
			return w.stats, err
		}
		if eof {
			break
		}

		n, rerr := w.withRetry(ctx, func() (int, error) { return w.cfg.Prim.ReadAt(ctx, req, offset) })
		w.pushHistory("read", offset, size, n, req[:max(n, 0)])
		if rerr != nil {
			w.stats.Errors++
			break
		}
		if n == 0 {
			break // EOF
		}

		w.stats.BytesRead += int64(n)
		w.stats.RecordsRead++
		if n == size {
			w.stats.FullReads++
		} else {
			w.stats.PartialReads++
		}
		if w.cfg.Coordinator != nil {
			w.cfg.Coordinator.RecordRead(int64(n), n == size)
		}

		w.verifyAgainstExpected(req[:n], offset)
		w.advanceOffset(size)
	}
	return w.stats, nil
}

// runFSWritePass drives one pass of the file-system-tree write state
// machine of §4.7: compose a path per file via the worker's Layout,
// open it with FSOpener, write one stamped record, and advance to the
// next file, restarting from file 0 on ENOSPC when RestartPolicy allows
// it, and deleting the file set at the end of the pass when configured.
func (w *Worker) runFSWritePass(ctx context.Context) (Stats, error) {
	layout := *w.cfg.FSWalk
	if err := layout.EnsureDirs(); err != nil {
		return w.stats, err
	}

	fileIndex := 0
	for {
		if w.state == StateTerminating || w.state == StateCancelled {
			break
		}
		if sizeLimitReached(w.stats, w.cfg.Limits) {
			break
		}
		if w.cfg.FSLimits.MaxFiles > 0 && fileIndex >= w.cfg.FSLimits.MaxFiles {
			break
		}
		if err := w.pace(ctx); err != nil {
			return w.stats, err
		}

		dirIdx := 0
		if w.cfg.FSLimits.DirLimit > 0 {
			dirIdx = fileIndex % w.cfg.FSLimits.DirLimit
		}
		dir := layout.DirForIndex(dirIdx)
		path := layout.FilePath(dir, fileIndex)

		prim, err := w.cfg.FSOpener(ctx, path)
		if err != nil {
			return w.stats, fmt.Errorf("worker: opening %s: %w", path, err)
		}

		size := w.nextRequestSize()
		buf := make([]byte, size)
		if err := w.stampWrite(buf, int64(fileIndex)*int64(size)); err != nil {
			prim.Close()
			return w.stats, err
		}

		n, werr := w.withRetry(ctx, func() (int, error) { return prim.WriteAt(ctx, buf, 0) })
		prim.Close()
		w.pushHistory("write", int64(fileIndex), size, n, buf)

		if werr != nil && errors.Is(werr, syscall.ENOSPC) {
			outcome, rerr := fswalk.AwaitFreeSpaceAndRestart(ctx, w.cfg.RestartPolicy, layout.BaseDir, int64(size), func() error {
				return fswalk.DeleteAll(layout, fileIndex+1, dir)
			})
			if rerr != nil {
				return w.stats, rerr
			}
			if outcome.Restarted {
				fileIndex = 0
				continue
			}
			w.stats.Errors++
			w.stats.ENOSPCHit = true
			break
		}
		if werr != nil || n < size {
			w.stats.Errors++
			w.stats.PartialWrites++
			w.stats.ENOSPCHit = true
			w.stats.BytesWritten += int64(n)
			break
		}

		w.stats.BytesWritten += int64(n)
		w.stats.RecordsWritten++
		w.stats.FullWrites++
		w.recordNumber++
		fileIndex++
	}

	if w.cfg.DeletePerPass {
		dir := layout.DirForIndex(0)
		if err := fswalk.DeleteAll(layout, fileIndex, dir); err != nil {
			w.log.Warnf("delete_per_pass: %v", err)
		}
	}
	return w.stats, nil
}

// runFSReadPass mirrors runFSWritePass for reads: open each file the write
// pass produced, read it back, and verify against the expected pattern.
func (w *Worker) runFSReadPass(ctx context.Context) (Stats, error) {
	layout := *w.cfg.FSWalk

	fileIndex := 0
	for {
		if w.state == StateTerminating || w.state == StateCancelled {
			break
		}
		if sizeLimitReached(w.stats, w.cfg.Limits) {
			break
		}
		if w.cfg.FSLimits.MaxFiles > 0 && fileIndex >= w.cfg.FSLimits.MaxFiles {
			break
		}
		if err := w.pace(ctx); err != nil {
			return w.stats, err
		}

		dirIdx := 0
		if w.cfg.FSLimits.DirLimit > 0 {
			dirIdx = fileIndex % w.cfg.FSLimits.DirLimit
		}
		dir := layout.DirForIndex(dirIdx)
		path := layout.FilePath(dir, fileIndex)
		if !fswalk.Exists(path) {
			break
		}

		prim, err := w.cfg.FSOpener(ctx, path)
		if err != nil {
			return w.stats, fmt.Errorf("worker: opening %s: %w", path, err)
		}

		size := w.cfg.MaxSize
		if size <= 0 {
			size = w.cfg.BlockSize
		}
		buf := make([]byte, size)
		n, rerr := w.withRetry(ctx, func() (int, error) { return prim.ReadAt(ctx, buf, 0) })
		prim.Close()
		w.pushHistory("read", int64(fileIndex), size, n, buf[:max(n, 0)])
		if rerr != nil {
			w.stats.Errors++
			break
		}
		if n == 0 {
			break
		}

		w.stats.BytesRead += int64(n)
		w.stats.RecordsRead++
		if n == size {
			w.stats.FullReads++
		} else {
			w.stats.PartialReads++
		}

		w.verifyAgainstExpected(buf[:n], int64(fileIndex)*int64(n))
		fileIndex++
	}
	return w.stats, nil
}

func (w *Worker) pushHistory(mode string, offset int64, requested, transferred int, buf []byte) {
	head := buf
	if len(head) > w.cfg.HistoryDataSize {
		head = head[:w.cfg.HistoryDataSize]
	}
	w.hist.Push(history.Entry{
		TestMode:      mode,
		RecordNumber:  w.recordNumber,
		Offset:        offset,
		RequestedSize: requested,
		TransferSize:  transferred,
		HeadBytes:     head,
		Timestamp:     time.Now(),
	})
}

// verifyAgainstExpected compares a plain (non-read-after-write) read
// against the pure-function expected buffer for this offset (§4.6
// dispatch). On mismatch it dumps history and runs the re-read protocol.
func (w *Worker) verifyAgainstExpected(received []byte, offset int64) {
	ctx := pattern.FillContext{LBA: uint32(offset / int64(w.cfg.BlockSize)), PassNumber: w.cfg.PassNumber, BtagSize: w.btagSize()}
	expected, err := w.pat.Expected(len(received), offset, ctx)
	if err != nil {
		w.stats.Errors++
		return
	}
	w.verifyReceived(expected, received, offset, "read")
}

func (w *Worker) verifyReceived(expected, received []byte, offset int64, mode string) {
	var res verify.Result
	switch {
	case w.cfg.BtagEnabled:
		expectedBlocks := w.expectedBtagsFor(expected, offset)
		res = verify.CompareBtag(expectedBlocks, received, verify.Config{DeviceSize: w.cfg.BlockSize, Mask: w.cfg.VerifyMask})
	case w.pat.HasTimestamp():
		// A live timestamp overlay is non-deterministic between the write
		// and the verify-time Expected() call: exclude its slot so the
		// compare only fails on genuine corruption (§4.1, §4.6).
		fc := pattern.FillContext{LBA: uint32(offset / int64(w.cfg.BlockSize)), PassNumber: w.cfg.PassNumber, BtagSize: w.btagSize()}
		tsOff := pattern.TimestampOffset(fc)
		res = verify.CompareBytewiseMasked(expected, received, [][2]int{{tsOff, tsOff + pattern.TimestampSlotSize}})
	case w.cfg.Pattern.Prefix != "":
		res = verify.CompareBytewisePrefix(expected, received, pattern.PrefixCapacity)
	default:
		res = verify.CompareBytewisePlain(expected, received)
	}

	if res.OK {
		return
	}
	w.stats.Errors++
	w.errorSeq++
	if w.hist.DumpOnce(logWriter{w.log}) {
		w.log.Warnf("history dumped after miscompare at offset %d", offset)
	}

	dump := verify.SideBySideDump(expected, received, offset)
	w.log.Warnf("miscompare at offset %d, side-by-side dump:\n%s", offset, dump)

	report := stats.NewMiscompareReport(stats.ErrorReport{
		ErrorNumber:  w.errorSeq,
		WallClock:    time.Now(),
		PassElapsed:  time.Since(w.startTime),
		TestElapsed:  time.Since(w.startTime),
		FileID:       w.cfg.TargetPath,
		FileSize:     w.cfg.Prim.Size(),
		RequestSize:  len(received),
		RecordNumber: w.recordNumber,
		Mode:         mode,
		TestType:     ioTypeLabel(w.cfg.IOType),
		DeviceID:     w.cfg.TargetPath,
		StartOffset:  offset,
		EndOffset:    offset + int64(len(received)),
		StartLBA:     uint64(offset) / uint64(maxOneInt(w.cfg.BlockSize)),
		EndLBA:       uint64(offset+int64(len(received))) / uint64(maxOneInt(w.cfg.BlockSize)),
		PrefixString: w.pat.Prefix(),
	}, res.BlockIndex, res.MismatchOffset, maxOneInt(w.cfg.BlockSize))
	w.log.Errorf("%s", report.Format())

	if w.cfg.RereadCfg.Enabled && w.cfg.ReopenDirect != nil {
		out, err := verify.Run(context.Background(), w.cfg.ReopenDirect, w.cfg.TargetPath, offset, expected, received,
			w.cfg.RereadCfg, w.cfg.JobID, w.cfg.ThreadNumber, w.recordNumber, "")
		if err != nil {
			w.log.Errorf("re-read protocol failed: %v", err)
			return
		}
		w.log.Warnf("miscompare at offset %d: %s (attempts=%d)", offset, out.Diagnosis, out.Attempts)
	}
}

func ioTypeLabel(t IOType) string {
	if t == Random {
		return "random"
	}
	return "sequential"
}

func maxOneInt(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (w *Worker) expectedBtagsFor(expected []byte, offset int64) []btag.Tag {
	n := len(expected) / w.cfg.BlockSize
	if n == 0 {
		n = 1
	}
	out := make([]btag.Tag, n)
	tmpl := btag.CreateTemplate(w.cfg.BtagIdentity, w.patternTypeBits(), w.pat.SeedForPass(), uint32(w.cfg.PassNumber), w.cfg.WriteStart)
	for i := range out {
		t := tmpl
		blockOff := offset + int64(i*w.cfg.BlockSize)
		lba := uint64(blockOff)
		if !w.cfg.BtagIdentity.IsFile {
			lba = uint64(blockOff) / uint64(w.cfg.BlockSize)
		}
		btag.UpdateForRecord(&t, lba, uint32(i*w.cfg.BlockSize), uint32(len(expected)-i*w.cfg.BlockSize), w.recordNumber+1, 0, 0, w.cfg.IOType == Random)
		out[i] = t
	}
	return out
}

// logWriter adapts dtlog.Logger to io.Writer for history dumps.
type logWriter struct{ l dtlog.Logger }

func (lw logWriter) Write(p []byte) (int, error) {
	lw.l.Infof("%s", string(p))
	return len(p), nil
}

// Stats returns the accumulated stats so far.
func (w *Worker) Stats() Stats { return w.stats }
