package jobs

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/robintmiller/dt/internal/worker"
)

func newWorker(t *testing.T) *worker.Worker {
	t.Helper()
	// worker.New only requires a non-nil Prim; a minimal inline stub
	// serves.
	cfg := worker.Config{Prim: stubPrim{}, BlockSize: 512, MinSize: 512, MaxSize: 512, Limits: worker.Limits{RecordLimit: 1}}
	w, err := worker.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

type stubPrim struct{}

func (stubPrim) ReadAt(ctx context.Context, p []byte, off int64) (int, error)  { return len(p), nil }
func (stubPrim) WriteAt(ctx context.Context, p []byte, off int64) (int, error) { return len(p), nil }
func (stubPrim) Flush(ctx context.Context) error                              { return nil }
func (stubPrim) Trim(ctx context.Context, off, length int64) error            { return nil }
func (stubPrim) Size() int64                                                  { return 1 << 20 }
func (stubPrim) Close() error                                                 { return nil }

func TestCreateJobAndLookupByID(t *testing.T) {
	m := NewManager(nil)
	j := m.CreateJob("nightly", []*worker.Worker{newWorker(t)})

	got, err := m.Lookup("id:" + strconv.FormatUint(uint64(j.ID), 10))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != j.ID {
		t.Fatalf("Lookup by id returned %+v", got)
	}
}

func TestLookupByTagPrefix(t *testing.T) {
	m := NewManager(nil)
	m.CreateJob("nightly-a", []*worker.Worker{newWorker(t)})
	m.CreateJob("nightly-b", []*worker.Worker{newWorker(t)})
	m.CreateJob("weekly", []*worker.Worker{newWorker(t)})

	got, err := m.Lookup("tag:nightly")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 jobs matching prefix, got %d", len(got))
	}
}

func TestPauseResumeCycle(t *testing.T) {
	j := NewManager(nil).CreateJob("t", []*worker.Worker{newWorker(t)})
	j.Pause()
	if j.State() != JobPaused {
		t.Fatalf("state = %v, want paused", j.State())
	}
	states := j.Show()
	for _, s := range states {
		if s != worker.StatePaused {
			t.Fatalf("thread state = %v, want paused", s)
		}
	}
	j.Resume()
	if j.State() != JobRunning {
		t.Fatalf("state = %v, want running", j.State())
	}
}

func TestCancelAndWaitReportsCancelled(t *testing.T) {
	w := newWorker(t)
	j := NewManager(nil).CreateJob("t", []*worker.Worker{w})

	j.Start(context.Background(), func(ctx context.Context, th *ThreadHandle) error {
		<-ctx.Done()
		return ctx.Err()
	})
	j.Cancel()
	err := j.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() err = %v, want context.Canceled", err)
	}
	if j.State() != JobCancelled {
		t.Fatalf("state = %v, want cancelled", j.State())
	}
}

func TestWaitReportsFinishedOnNormalCompletion(t *testing.T) {
	w := newWorker(t)
	j := NewManager(nil).CreateJob("t", []*worker.Worker{w})
	j.Start(context.Background(), func(ctx context.Context, th *ThreadHandle) error {
		return nil
	})
	if err := j.Wait(); err != nil {
		t.Fatal(err)
	}
	if j.State() != JobFinished {
		t.Fatalf("state = %v, want finished", j.State())
	}
}

func TestModifyRejectsNonWhitelistedKey(t *testing.T) {
	j := NewManager(nil).CreateJob("t", []*worker.Worker{newWorker(t)})
	if err := j.Modify("pattern", "iot"); err == nil {
		t.Fatal("expected pattern to be rejected")
	}
	if err := j.Modify("iops", "100"); err != nil {
		t.Fatalf("expected iops to be modifiable, got %v", err)
	}
}

func TestModifyIOPSRetunesThreadPacing(t *testing.T) {
	w := newWorker(t)
	j := NewManager(nil).CreateJob("t", []*worker.Worker{w})
	if err := j.Modify("iops", "50"); err != nil {
		t.Fatal(err)
	}
	if rate := w.IOPS(); rate != 50 {
		t.Fatalf("IOPS() = %d, want 50", rate)
	}
}

func TestLookupUnknownIDErrors(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Lookup("id:999"); err == nil {
		t.Fatal("expected error for unknown job id")
	}
}
