// Package jobs implements the job and thread manager of spec.md §4.9 (C9):
// a table of jobs keyed by id and optional tag, each owning a set of
// worker threads, with the control operations {pause, resume, show,
// cancel, modify, query, stop, wait} dispatched by id, tag, or tag prefix.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robintmiller/dt/internal/dtlog"
	"github.com/robintmiller/dt/internal/monitor"
	"github.com/robintmiller/dt/internal/worker"
)

// JobState is the job-level state machine of §3/§4.9.
type JobState int32

const (
	JobStopped JobState = iota
	JobRunning
	JobPaused
	JobTerminating
	JobCancelled
	JobFinished
)

func (s JobState) String() string {
	switch s {
	case JobStopped:
		return "stopped"
	case JobRunning:
		return "running"
	case JobPaused:
		return "paused"
	case JobTerminating:
		return "terminating"
	case JobCancelled:
		return "cancelled"
	case JobFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// ThreadState mirrors worker.State, exposed at the job-manager layer so
// callers don't need to import internal/worker just to read status.
type ThreadState = worker.State

// ThreadHandle is one running (or finished) worker thread under a Job.
type ThreadHandle struct {
	Number int
	W      *worker.Worker
	cancel context.CancelFunc
}

// Job groups the threads working one target under one id/tag, with its
// own state and its own print/thread locks (§3: "job_lock, print_lock,
// thread_lock").
type Job struct {
	ID    uint32
	Tag   string
	state JobState

	mu      sync.Mutex // job_lock: guards state and the threads slice
	printMu sync.Mutex // print_lock: serializes this job's log output
	threads []*ThreadHandle
	eg      *errgroup.Group
	monitor *monitor.Monitor

	log dtlog.Logger
}

// SetMonitor attaches the C10 keepalive monitor driving this job, so
// "modify" can retune it live (§4.9/§4.10).
func (j *Job) SetMonitor(m *monitor.Monitor) {
	j.mu.Lock()
	j.monitor = m
	j.mu.Unlock()
}

func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Logf serializes a formatted log line under the job's print lock, so
// concurrent threads under the same job never interleave partial lines
// (§3 print_lock).
func (j *Job) Logf(format string, args ...any) {
	j.printMu.Lock()
	defer j.printMu.Unlock()
	j.log.Infof(format, args...)
}

// Manager owns the job table and dispatches control operations by id,
// tag, or tag prefix (§4.9 "Operations").
type Manager struct {
	mu      sync.RWMutex
	jobs    map[uint32]*Job
	nextID  uint32
	log     dtlog.Logger
}

// NewManager builds an empty job table.
func NewManager(log dtlog.Logger) *Manager {
	if log == nil {
		log = dtlog.Default()
	}
	return &Manager{jobs: make(map[uint32]*Job), nextID: 1, log: log}
}

// CreateJob allocates a new job with threads it does not yet start.
func (m *Manager) CreateJob(tag string, workers []*worker.Worker) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := &Job{ID: m.nextID, Tag: tag, state: JobStopped, log: dtlog.ForJob(m.nextID, tag, nil)}
	for i, w := range workers {
		j.threads = append(j.threads, &ThreadHandle{Number: i, W: w})
	}
	m.jobs[j.ID] = j
	m.nextID++
	return j
}

// Start launches every thread of job j, running run(ctx, threadHandle)
// in its own goroutine under a shared errgroup.Group so Wait can block
// for the whole thread barrier and surface the first thread error. run
// is supplied by the caller so the job manager stays agnostic to whether
// threads are reading or writing (§4.9 "thread barrier").
func (j *Job) Start(ctx context.Context, run func(ctx context.Context, th *ThreadHandle) error) {
	j.mu.Lock()
	j.state = JobRunning
	threads := append([]*ThreadHandle(nil), j.threads...)
	eg := &errgroup.Group{}
	j.eg = eg
	j.mu.Unlock()

	for _, th := range threads {
		tctx, cancel := context.WithCancel(ctx)
		th.cancel = cancel
		th := th
		eg.Go(func() error {
			th.W.SetState(worker.StateRunning)
			err := run(tctx, th)
			th.W.SetState(worker.StateFinished)
			return err
		})
	}
}

// Pause transitions every thread of the job to paused.
func (j *Job) Pause() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = JobPaused
	for _, th := range j.threads {
		th.W.SetState(worker.StatePaused)
	}
}

// Resume transitions every paused thread back to running.
func (j *Job) Resume() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = JobRunning
	for _, th := range j.threads {
		if th.W.State() == worker.StatePaused {
			th.W.SetState(worker.StateRunning)
		}
	}
}

// Cancel requests cooperative termination of every thread: sets
// terminating state, then calls the thread's context cancel func so a
// blocked I/O call unblocks (§4.9/§4.10 cooperative cancellation).
func (j *Job) Cancel() {
	j.mu.Lock()
	j.state = JobTerminating
	threads := append([]*ThreadHandle(nil), j.threads...)
	j.mu.Unlock()

	for _, th := range threads {
		th.W.SetState(worker.StateTerminating)
		if th.cancel != nil {
			th.cancel()
		}
	}
}

// Wait blocks on the thread barrier until every thread of the job has
// exited, then marks the job cancelled or finished depending on how it
// got here, returning the first thread error (if any).
func (j *Job) Wait() error {
	j.mu.Lock()
	eg := j.eg
	wasCancelling := j.state == JobTerminating
	j.mu.Unlock()

	var firstErr error
	if eg != nil {
		firstErr = eg.Wait()
	}

	j.mu.Lock()
	if wasCancelling {
		j.state = JobCancelled
	} else if j.state != JobCancelled {
		j.state = JobFinished
	}
	j.mu.Unlock()
	return firstErr
}

// Show reports the per-thread state of the job, for the "show" operation.
func (j *Job) Show() map[int]worker.State {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[int]worker.State, len(j.threads))
	for _, th := range j.threads {
		out[th.Number] = th.W.State()
	}
	return out
}

// Lookup resolves a selector of the form "id:<n>", "tag:<name>", or a
// tag prefix, per §4.9/§6's id/tag/tag-prefix addressing rule.
func (m *Manager) Lookup(selector string) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if strings.HasPrefix(selector, "id:") {
		var id uint32
		if _, err := fmt.Sscanf(selector, "id:%d", &id); err != nil {
			return nil, fmt.Errorf("jobs: malformed id selector %q", selector)
		}
		if j, ok := m.jobs[id]; ok {
			return []*Job{j}, nil
		}
		return nil, fmt.Errorf("jobs: no job with id %d", id)
	}

	prefix := strings.TrimPrefix(selector, "tag:")
	var matches []*Job
	for _, j := range m.jobs {
		if j.Tag == prefix || strings.HasPrefix(j.Tag, prefix) {
			matches = append(matches, j)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("jobs: no job matching tag %q", prefix)
	}
	sort.Slice(matches, func(a, b int) bool { return matches[a].ID < matches[b].ID })
	return matches, nil
}

// All returns every job in id order, for the "query" operation with no
// selector (list everything).
func (m *Manager) All() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// modifiableFields is the whitelist of options "modify" may change on a
// running job (§4.9: "modify has a whitelist of fields safe to change on
// a live job"). Everything else requires stop+restart.
var modifiableFields = map[string]bool{
	"iops":             true,
	"monitor_interval": true,
	"term_wait_time":   true,
}

// Modify applies a whitelisted key=value change to a live job, returning
// an error for any key outside the whitelist or a malformed value. iops
// retunes every thread's pacing limiter; monitor_interval and
// term_wait_time retune the job's monitor, if one is attached.
func (j *Job) Modify(key, value string) error {
	if !modifiableFields[key] {
		return fmt.Errorf("jobs: %q cannot be modified on a running job, stop and restart instead", key)
	}

	switch key {
	case "iops":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("jobs: iops=%q: %w", value, err)
		}
		j.mu.Lock()
		threads := append([]*ThreadHandle(nil), j.threads...)
		j.mu.Unlock()
		for _, th := range threads {
			th.W.SetIOPS(n)
		}
	case "monitor_interval":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("jobs: monitor_interval=%q: %w", value, err)
		}
		j.mu.Lock()
		m := j.monitor
		j.mu.Unlock()
		if m != nil {
			m.SetInterval(time.Duration(secs) * time.Second)
		}
	case "term_wait_time":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("jobs: term_wait_time=%q: %w", value, err)
		}
		j.mu.Lock()
		m := j.monitor
		j.mu.Unlock()
		if m != nil {
			m.SetTermWaitTime(time.Duration(secs) * time.Second)
		}
	}
	return nil
}
