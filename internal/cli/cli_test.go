package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/robintmiller/dt/internal/jobs"
	"github.com/robintmiller/dt/internal/worker"
)

type stubPrim struct{}

func (stubPrim) ReadAt(ctx context.Context, p []byte, off int64) (int, error)  { return len(p), nil }
func (stubPrim) WriteAt(ctx context.Context, p []byte, off int64) (int, error) { return len(p), nil }
func (stubPrim) Flush(ctx context.Context) error                              { return nil }
func (stubPrim) Trim(ctx context.Context, off, length int64) error            { return nil }
func (stubPrim) Size() int64                                                  { return 1 << 20 }
func (stubPrim) Close() error                                                 { return nil }

func newJob(t *testing.T, m *jobs.Manager, tag string) *jobs.Job {
	t.Helper()
	w, err := worker.New(worker.Config{Prim: stubPrim{}, BlockSize: 512, MinSize: 512, MaxSize: 512, Limits: worker.Limits{RecordLimit: 1}})
	if err != nil {
		t.Fatal(err)
	}
	return m.CreateJob(tag, []*worker.Worker{w})
}

func TestParseRecognizesVerbsAndSelector(t *testing.T) {
	cmd, err := Parse("pause id:3")
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Verb != VerbPause || cmd.Selector != "id:3" {
		t.Fatalf("cmd = %+v", cmd)
	}
}

func TestParseRejectsUnknownVerb(t *testing.T) {
	if _, err := Parse("frobnicate id:1"); err == nil {
		t.Fatal("expected error for unknown verb")
	}
}

func TestExecutePauseAndShow(t *testing.T) {
	m := jobs.NewManager(nil)
	j := newJob(t, m, "nightly")
	var out bytes.Buffer
	d := Dispatcher{Manager: m, Out: &out}

	cmd, _ := Parse("pause tag:nightly")
	if err := d.Execute(cmd); err != nil {
		t.Fatal(err)
	}
	if j.State() != jobs.JobPaused {
		t.Fatalf("state = %v, want paused", j.State())
	}

	out.Reset()
	cmd, _ = Parse("show tag:nightly")
	if err := d.Execute(cmd); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "state=") {
		t.Fatalf("expected show output, got %q", out.String())
	}
}

func TestExecuteQueryWithNoSelectorListsAllJobs(t *testing.T) {
	m := jobs.NewManager(nil)
	newJob(t, m, "a")
	newJob(t, m, "b")
	var out bytes.Buffer
	d := Dispatcher{Manager: m, Out: &out}

	cmd, _ := Parse("query")
	if err := d.Execute(cmd); err != nil {
		t.Fatal(err)
	}
	if strings.Count(out.String(), "job ") != 2 {
		t.Fatalf("expected 2 job lines, got:\n%s", out.String())
	}
}

func TestExecuteModifyRejectsNonWhitelistedKey(t *testing.T) {
	m := jobs.NewManager(nil)
	newJob(t, m, "a")
	var out bytes.Buffer
	d := Dispatcher{Manager: m, Out: &out}

	cmd, _ := Parse("modify tag:a pattern=iot")
	if err := d.Execute(cmd); err == nil {
		t.Fatal("expected modify of 'pattern' to be rejected")
	}
}

func TestRunLoopStopsOnQuit(t *testing.T) {
	m := jobs.NewManager(nil)
	var out bytes.Buffer
	d := Dispatcher{Manager: m, Out: &out}
	r := strings.NewReader("query\nquit\nquery\n")
	if err := RunLoop(r, d); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteUnknownSelectorErrors(t *testing.T) {
	m := jobs.NewManager(nil)
	var out bytes.Buffer
	d := Dispatcher{Manager: m, Out: &out}
	cmd, _ := Parse("pause tag:missing")
	if err := d.Execute(cmd); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}
