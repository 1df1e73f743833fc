// Package cli implements the interactive control-line surface of
// spec.md §4.9/§9: the {pause, resume, show, cancel, modify, query,
// stop, wait} commands, addressed by job id, tag, or tag prefix, parsed
// into a tagged command value rather than dispatched through a function
// pointer table (§9 "CLI-dispatch → tagged enum").
package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/robintmiller/dt/internal/jobs"
)

// Verb enumerates the recognized control commands.
type Verb int

const (
	VerbPause Verb = iota
	VerbResume
	VerbShow
	VerbCancel
	VerbModify
	VerbQuery
	VerbStop
	VerbWait
	VerbHelp
	VerbQuit
)

var verbNames = map[string]Verb{
	"pause":  VerbPause,
	"resume": VerbResume,
	"show":   VerbShow,
	"cancel": VerbCancel,
	"modify": VerbModify,
	"query":  VerbQuery,
	"stop":   VerbStop,
	"wait":   VerbWait,
	"help":   VerbHelp,
	"quit":   VerbQuit,
	"exit":   VerbQuit,
}

// Command is one parsed control-line invocation: a verb, an optional
// target selector (id:<n>, tag:<name>, or a tag prefix), and for modify,
// the key=value argument.
type Command struct {
	Verb     Verb
	Selector string
	Arg      string
}

// Parse tokenizes one control line into a Command (§9: "a tagged command
// enum, not function-pointer dispatch").
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("cli: empty command")
	}
	verb, ok := verbNames[strings.ToLower(fields[0])]
	if !ok {
		return Command{}, fmt.Errorf("cli: unknown command %q", fields[0])
	}
	cmd := Command{Verb: verb}
	if len(fields) > 1 {
		cmd.Selector = fields[1]
	}
	if len(fields) > 2 {
		cmd.Arg = strings.Join(fields[2:], " ")
	}
	return cmd, nil
}

// Dispatcher binds a Manager so Execute can resolve selectors and act.
type Dispatcher struct {
	Manager *jobs.Manager
	Out     io.Writer
}

// Execute runs one parsed Command, writing any human-readable result to
// d.Out and returning an error for unknown selectors or rejected
// modifications.
func (d Dispatcher) Execute(cmd Command) error {
	switch cmd.Verb {
	case VerbHelp:
		fmt.Fprintln(d.Out, "commands: pause|resume|show|cancel|modify|query|stop|wait <id:N|tag:NAME> [arg]")
		return nil
	case VerbQuery:
		if cmd.Selector == "" {
			for _, j := range d.Manager.All() {
				fmt.Fprintf(d.Out, "job %d tag=%q state=%s\n", j.ID, j.Tag, j.State())
			}
			return nil
		}
	}

	targets, err := d.resolve(cmd.Selector)
	if err != nil {
		return err
	}

	for _, j := range targets {
		switch cmd.Verb {
		case VerbPause:
			j.Pause()
		case VerbResume:
			j.Resume()
		case VerbShow:
			for n, s := range j.Show() {
				fmt.Fprintf(d.Out, "job %d thread %d state=%v\n", j.ID, n, s)
			}
		case VerbCancel, VerbStop:
			j.Cancel()
		case VerbWait:
			if err := j.Wait(); err != nil {
				fmt.Fprintf(d.Out, "job %d: %v\n", j.ID, err)
			}
		case VerbModify:
			key, value, _ := strings.Cut(cmd.Arg, "=")
			if err := j.Modify(key, value); err != nil {
				return err
			}
			fmt.Fprintf(d.Out, "job %d: %s applied\n", j.ID, cmd.Arg)
		case VerbQuery:
			fmt.Fprintf(d.Out, "job %d tag=%q state=%s\n", j.ID, j.Tag, j.State())
		default:
			return fmt.Errorf("cli: unhandled verb %d", cmd.Verb)
		}
	}
	return nil
}

func (d Dispatcher) resolve(selector string) ([]*jobs.Job, error) {
	if selector == "" {
		return nil, fmt.Errorf("cli: command requires a job selector")
	}
	return d.Manager.Lookup(selector)
}

// RunLoop reads commands from r line by line until EOF, executing each
// through d (the line-mode REPL described in §9).
func RunLoop(r io.Reader, d Dispatcher) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, err := Parse(line)
		if err != nil {
			fmt.Fprintln(d.Out, err)
			continue
		}
		if cmd.Verb == VerbQuit {
			return nil
		}
		if err := d.Execute(cmd); err != nil {
			fmt.Fprintln(d.Out, err)
		}
	}
	return sc.Err()
}
