// Package syslogger provides an optional syslog sink for job output
// behind the Sink interface, with a discarding sink for syslog=off. It
// imports log/syslog directly and has no fallback for platforms without
// that package.
package syslogger

import (
	"fmt"
	"log/syslog"
)

// Sink accepts leveled log lines destined for syslog.
type Sink interface {
	Info(msg string)
	Warning(msg string)
	Err(msg string)
	Close() error
}

// nopSink discards everything.
type nopSink struct{}

func (nopSink) Info(string) {}
func (nopSink) Warning(string)    {}
func (nopSink) Err(string) {}
func (nopSink) Close() error      { return nil }

// Nop returns a Sink that discards all output, used when syslog=off or
// unavailable (§6 "syslog_facility=off").
func Nop() Sink { return nopSink{} }

// writerSink adapts a *syslog.Writer to Sink.
type writerSink struct {
	w *syslog.Writer
}

func (s writerSink) Info(msg string)    { s.w.Info(msg) }
func (s writerSink) Warning(msg string) { s.w.Warning(msg) }
func (s writerSink) Err(msg string)     { s.w.Err(msg) }
func (s writerSink) Close() error       { return s.w.Close() }

// Dial opens a syslog sink at the given facility and tag (§6
// "syslog_facility=<name>"). Facility names follow log/syslog's Priority
// constants (e.g. "daemon", "local0"); an unrecognized name is an error.
func Dial(facility, tag string) (Sink, error) {
	prio, err := parseFacility(facility)
	if err != nil {
		return nil, err
	}
	w, err := syslog.New(prio|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("syslogger: dial: %w", err)
	}
	return writerSink{w: w}, nil
}

func parseFacility(name string) (syslog.Priority, error) {
	switch name {
	case "", "off":
		return 0, fmt.Errorf("syslogger: facility %q should use Nop(), not Dial", name)
	case "daemon":
		return syslog.LOG_DAEMON, nil
	case "user":
		return syslog.LOG_USER, nil
	case "local0":
		return syslog.LOG_LOCAL0, nil
	case "local1":
		return syslog.LOG_LOCAL1, nil
	case "local2":
		return syslog.LOG_LOCAL2, nil
	case "local3":
		return syslog.LOG_LOCAL3, nil
	case "local4":
		return syslog.LOG_LOCAL4, nil
	case "local5":
		return syslog.LOG_LOCAL5, nil
	case "local6":
		return syslog.LOG_LOCAL6, nil
	case "local7":
		return syslog.LOG_LOCAL7, nil
	default:
		return 0, fmt.Errorf("syslogger: unknown facility %q", name)
	}
}
