// Package dtlog provides the leveled, structured logging used across the
// job/thread manager, the monitor, and the I/O loop. It follows the
// teacher's pattern of a single process-wide default plus per-scope
// derived loggers, but backs it with logrus instead of the bare stdlib
// log package so that job/thread identity rides along as structured
// fields rather than being hand-formatted into the message string.
package dtlog

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the capability surface the rest of dt depends on. Keeping it
// narrow (rather than passing *logrus.Entry everywhere) lets tests supply
// a no-op or recording implementation without pulling in logrus.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	WithFields(fields map[string]any) Logger
}

type entryLogger struct {
	entry *logrus.Entry
}

func (l *entryLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *entryLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *entryLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *entryLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

func (l *entryLogger) WithFields(fields map[string]any) Logger {
	return &entryLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

var (
	mu     sync.RWMutex
	base   *logrus.Logger
	defLog Logger
)

func init() {
	base = logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	defLog = &entryLogger{entry: logrus.NewEntry(base)}
}

// Configure adjusts the process-wide base logger. Safe to call once at
// startup before any job loggers are derived.
func Configure(level logrus.Level, out io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		base.SetOutput(out)
	}
	base.SetLevel(level)
}

// Default returns the process-wide logger (the "master log").
func Default() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defLog
}

// SetDefault overrides the default logger, primarily for tests.
func SetDefault(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	defLog = l
}

// ForJob derives a logger carrying job_id/tag fields, optionally teeing
// output to a job log file (joblog=, §6) via io.MultiWriter.
func ForJob(jobID uint32, tag string, joblog io.Writer) Logger {
	mu.RLock()
	b := base
	mu.RUnlock()

	l := b
	if joblog != nil {
		l = logrus.New()
		l.SetFormatter(b.Formatter)
		l.SetLevel(b.GetLevel())
		l.SetOutput(io.MultiWriter(b.Out, joblog))
	}

	fields := logrus.Fields{"job_id": jobID}
	if tag != "" {
		fields["tag"] = tag
	}
	return &entryLogger{entry: l.WithFields(fields)}
}

// ForThread derives a logger from a job logger, adding the thread number.
func ForThread(parent Logger, threadNumber int) Logger {
	return parent.WithFields(map[string]any{"thread": threadNumber})
}

// Nop returns a Logger that discards everything, used by tests that don't
// care about log output.
func Nop() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &entryLogger{entry: logrus.NewEntry(l)}
}
