package lifecycle

import (
	"context"
	"testing"

	"github.com/robintmiller/dt/internal/btag"
	"github.com/robintmiller/dt/internal/ioprim"
	"github.com/robintmiller/dt/internal/pattern"
	"github.com/robintmiller/dt/internal/worker"
)

func baseTarget() TargetConfig {
	return TargetConfig{
		TargetPath:  "/tmp/dt-target",
		BufferMode:  ioprim.ModeBuffered,
		DeviceSize:  1 << 20,
		BlockSize:   512,
		MinSize:     512,
		MaxSize:     512,
		ThreadCount: 2,
		Pattern:     pattern.Config{Kind: pattern.Fixed32, FixedValue: 1},
	}
}

func TestValidateRejectsZeroThreads(t *testing.T) {
	c := baseTarget()
	c.ThreadCount = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for zero threads")
	}
}

func TestValidateRejectsUndersizedBtagBlock(t *testing.T) {
	c := baseTarget()
	c.BtagEnabled = true
	c.BlockSize = 64
	c.MinSize, c.MaxSize = 64, 64
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for block size smaller than btag")
	}
}

func TestValidateRejectsIOLockWithOneThread(t *testing.T) {
	c := baseTarget()
	c.ThreadCount = 1
	c.IOLock = true
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for iolock with one thread")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := baseTarget().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCloneThreadDerivesDistinctSeeds(t *testing.T) {
	c := baseTarget()
	c.MasterSeed = 42
	prim, _ := ioprim.OpenMemory(context.Background(), ioprim.OpenOptions{DeviceSize: c.DeviceSize})

	w0 := CloneThread(c, 0, prim, nil, btag.Identity{}, nil)
	w1 := CloneThread(c, 1, prim, nil, btag.Identity{}, nil)
	if w0.RandomSeed == w1.RandomSeed {
		t.Fatal("expected distinct per-thread seeds")
	}
	if w0.BtagIdentity.ThreadNumber != 0 || w1.BtagIdentity.ThreadNumber != 1 {
		t.Fatalf("thread identity not propagated: %+v %+v", w0.BtagIdentity, w1.BtagIdentity)
	}
}

func TestCloneThreadBuildsRunnableWorker(t *testing.T) {
	c := baseTarget()
	prim, _ := ioprim.OpenMemory(context.Background(), ioprim.OpenOptions{DeviceSize: c.DeviceSize})
	wc := CloneThread(c, 0, prim, nil, btag.Identity{}, nil)
	wc.Limits.RecordLimit = 1
	w, err := worker.New(wc)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := w.RunWritePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.RecordsWritten != 1 {
		t.Fatalf("RecordsWritten = %d, want 1", stats.RecordsWritten)
	}
}

func TestOpenTargetRejectsUnknownMode(t *testing.T) {
	c := baseTarget()
	c.BufferMode = "bogus"
	if _, err := OpenTarget(context.Background(), c); err == nil {
		t.Fatal("expected error for unknown buffer mode")
	}
}

func TestPrejobStartAllocatesCoordinatorWhenIOLockRequested(t *testing.T) {
	c := baseTarget()
	c.IOLock = true
	res, err := PrejobStart(c, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Coordinator == nil {
		t.Fatal("expected a coordinator to be allocated")
	}
}

func TestPrejobStartSkipsCoordinatorWhenNotRequested(t *testing.T) {
	c := baseTarget()
	res, err := PrejobStart(c, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Coordinator != nil {
		t.Fatal("did not expect a coordinator without iolock")
	}
}
