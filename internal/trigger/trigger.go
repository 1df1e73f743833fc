// Package trigger runs an external command in response to an error,
// miscompare, or no-progress event, per spec.md §6's onerr/trigger
// tokens and §7's error-handling design.
package trigger

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Event describes what fired the trigger, passed to the command as
// environment variables so external scripts can branch on it without
// parsing stdout.
type Event struct {
	Kind       string // "error", "miscompare", "noprogress"
	JobID      uint32
	Thread     int
	TargetPath string
	Offset     int64
	Message    string
	When       time.Time
}

// Runner executes a trigger command for an Event.
type Runner interface {
	Run(ctx context.Context, ev Event) error
}

// NoopRunner never runs anything, used when no trigger is configured.
type NoopRunner struct{}

func (NoopRunner) Run(context.Context, Event) error { return nil }

// CommandRunner runs a shell command line through /bin/sh -c, the way
// the teacher's own external-hook invocations shell out, with the event
// fields exposed as DT_TRIGGER_* environment variables.
type CommandRunner struct {
	Cmdline string
	Timeout time.Duration
}

func (r CommandRunner) Run(ctx context.Context, ev Event) error {
	if r.Cmdline == "" {
		return nil
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "/bin/sh", "-c", r.Cmdline)
	cmd.Env = append(cmd.Env,
		"DT_TRIGGER_KIND="+ev.Kind,
		"DT_TRIGGER_JOB="+fmt.Sprint(ev.JobID),
		"DT_TRIGGER_THREAD="+fmt.Sprint(ev.Thread),
		"DT_TRIGGER_TARGET="+ev.TargetPath,
		"DT_TRIGGER_OFFSET="+fmt.Sprint(ev.Offset),
		"DT_TRIGGER_MESSAGE="+sanitizeEnv(ev.Message),
		"DT_TRIGGER_TIME="+ev.When.Format(time.RFC3339),
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("trigger: command failed: %w: %s", err, stderr.String())
	}
	return nil
}

// sanitizeEnv strips newlines so a message can't smuggle extra
// environment assignments into the child process.
func sanitizeEnv(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "\r", " ")
}
