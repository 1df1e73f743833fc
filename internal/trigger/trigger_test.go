package trigger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNoopRunnerNeverErrors(t *testing.T) {
	if err := (NoopRunner{}).Run(context.Background(), Event{}); err != nil {
		t.Fatal(err)
	}
}

func TestCommandRunnerExportsEventFields(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	r := CommandRunner{Cmdline: "echo $DT_TRIGGER_KIND:$DT_TRIGGER_JOB > " + out}
	ev := Event{Kind: "miscompare", JobID: 7, When: time.Now()}
	if err := r.Run(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "miscompare:7\n" {
		t.Fatalf("got %q", got)
	}
}

func TestCommandRunnerEmptyCmdlineIsNoop(t *testing.T) {
	r := CommandRunner{}
	if err := r.Run(context.Background(), Event{}); err != nil {
		t.Fatal(err)
	}
}

func TestCommandRunnerReportsFailure(t *testing.T) {
	r := CommandRunner{Cmdline: "exit 1"}
	if err := r.Run(context.Background(), Event{}); err == nil {
		t.Fatal("expected error from failing command")
	}
}
