// Package monitor implements the per-job monitor/keepalive ticker of
// spec.md §4.10 (C10): periodic keepalive lines, no-progress detection
// with an escalating threshold, cooperative-then-forced thread
// termination, and reload-on-change of an iotune configuration file.
package monitor

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/robintmiller/dt/internal/dtlog"
)

// ProgressSnapshot is the subset of job counters the monitor samples each
// tick to decide whether the job is making forward progress (§4.10
// "no-progress detection" compares bytes_written+bytes_read deltas).
type ProgressSnapshot struct {
	BytesMoved  uint64
	RecordsMoved uint64
}

// ProgressFunc samples a job's current counters.
type ProgressFunc func() ProgressSnapshot

// TerminateFunc requests cooperative (force=false) or forced (force=true)
// termination of the job's threads.
type TerminateFunc func(force bool)

// Config configures one job's monitor loop.
type Config struct {
	Interval time.Duration // monitor_interval

	// MaxNoProgress is the no-progress threshold in effect at job start
	// (cur_max_noprogt); 0 disables no-progress detection.
	MaxNoProgress time.Duration

	TermWaitTime   time.Duration // cooperative grace period before escalating
	MaxTermTime    time.Duration // forced-termination ceiling (THREAD_MAX_TERM_TIME)
	TermWaitFreq   time.Duration // escalation poll frequency (THREAD_TERM_WAIT_FREQ)

	IOTunePath string // reload-file path, empty disables reload

	Sample    ProgressFunc
	Terminate TerminateFunc
	Log       dtlog.Logger
}

// IOTune is the subset of a reload-file's fields the monitor applies
// live, via TOML (the format the rest of the pack's config tooling uses).
type IOTune struct {
	IOPS      int `toml:"iops"`
	NoProgT   int `toml:"noprog_timeout_secs"`
}

// Monitor ticks one job's keepalive and no-progress checks until Stop is
// called or its context is cancelled.
type Monitor struct {
	cfg Config
	log dtlog.Logger

	lastMoved    uint64
	sinceProgress time.Time
	terminating  bool
	termStarted  time.Time

	iotuneMtime time.Time
	current     IOTune

	// intervalNanos/termWaitNanos let "modify" (§4.9) change a live job's
	// monitor_interval/term_wait_time without tearing the goroutine down.
	intervalNanos atomic.Int64
	termWaitNanos atomic.Int64
}

// New builds a Monitor for one job.
func New(cfg Config) *Monitor {
	log := cfg.Log
	if log == nil {
		log = dtlog.Default()
	}
	m := &Monitor{cfg: cfg, log: log, sinceProgress: time.Now()}
	m.intervalNanos.Store(int64(cfg.Interval))
	m.termWaitNanos.Store(int64(cfg.TermWaitTime))
	return m
}

// SetInterval changes the keepalive tick period of a running monitor.
func (m *Monitor) SetInterval(d time.Duration) { m.intervalNanos.Store(int64(d)) }

// SetTermWaitTime changes the cooperative-termination grace period of a
// running monitor.
func (m *Monitor) SetTermWaitTime(d time.Duration) { m.termWaitNanos.Store(int64(d)) }

func (m *Monitor) interval() time.Duration {
	d := time.Duration(m.intervalNanos.Load())
	if d <= 0 {
		d = 30 * time.Second
	}
	return d
}

// Run ticks until ctx is cancelled. It is meant to run in its own
// goroutine, one per job.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
			if cur := m.interval(); cur != interval {
				interval = cur
				ticker.Reset(interval)
			}
		}
	}
}

func (m *Monitor) tick() {
	m.reloadIOTuneIfChanged()

	if m.cfg.Sample != nil {
		snap := m.cfg.Sample()
		moved := snap.BytesMoved + snap.RecordsMoved
		if moved != m.lastMoved {
			m.lastMoved = moved
			m.sinceProgress = time.Now()
			m.log.Debugf("monitor: keepalive, progress observed")
			return
		}
	}

	m.log.Infof("monitor: keepalive, no new progress for %s", time.Since(m.sinceProgress).Round(time.Second))

	if m.cfg.MaxNoProgress <= 0 {
		return
	}
	if time.Since(m.sinceProgress) < m.cfg.MaxNoProgress {
		return
	}

	m.escalate()
}

// escalate implements §4.10's termination ladder: request cooperative
// termination, wait term_wait_time, then escalate to forced termination
// if the job hasn't exited within max_term_time.
func (m *Monitor) escalate() {
	if !m.terminating {
		m.terminating = true
		m.termStarted = time.Now()
		m.log.Warnf("monitor: no-progress threshold exceeded, requesting cooperative termination")
		if m.cfg.Terminate != nil {
			m.cfg.Terminate(false)
		}
		return
	}

	elapsed := time.Since(m.termStarted)
	grace := time.Duration(m.termWaitNanos.Load())
	if grace <= 0 {
		grace = 10 * time.Second
	}
	maxTerm := m.cfg.MaxTermTime
	if maxTerm <= 0 {
		maxTerm = time.Minute
	}
	if elapsed >= grace && elapsed < maxTerm {
		return // already escalated once, wait within the grace window
	}
	if elapsed >= maxTerm {
		m.log.Errorf("monitor: cooperative termination did not complete within %s, forcing", maxTerm)
		if m.cfg.Terminate != nil {
			m.cfg.Terminate(true)
		}
	}
}

// reloadIOTuneIfChanged re-parses the iotune file when its mtime advances
// (§4.10: "watch the reload file's mtime; on change, re-parse and apply").
func (m *Monitor) reloadIOTuneIfChanged() {
	if m.cfg.IOTunePath == "" {
		return
	}
	fi, err := os.Stat(m.cfg.IOTunePath)
	if err != nil {
		return
	}
	if !fi.ModTime().After(m.iotuneMtime) {
		return
	}
	var cfg IOTune
	if _, err := toml.DecodeFile(m.cfg.IOTunePath, &cfg); err != nil {
		m.log.Warnf("monitor: failed to reload iotune file %s: %v", m.cfg.IOTunePath, err)
		return
	}
	m.iotuneMtime = fi.ModTime()
	m.current = cfg
	m.log.Infof("monitor: reloaded iotune file %s (iops=%d)", m.cfg.IOTunePath, cfg.IOPS)
}

// Current returns the most recently loaded iotune values.
func (m *Monitor) Current() IOTune { return m.current }
