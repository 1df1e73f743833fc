package dt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/robintmiller/dt/internal/ioprim"
	"github.com/robintmiller/dt/internal/jobs"
	"github.com/robintmiller/dt/internal/pattern"
	"github.com/robintmiller/dt/internal/stats"
)

func baseConfig(t *testing.T) Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.img")
	return Config{
		TargetPath:  path,
		BufferMode:  ioprim.ModeBuffered,
		DeviceSize:  1 << 20,
		BlockSize:   4096,
		MinSize:     4096,
		MaxSize:     4096,
		ThreadCount: 2,
		Pattern:     pattern.Config{Kind: pattern.Fixed32, FixedValue: 0xcafef00d},
		RecordLimit: 4,
		Passes:      1,
		Mode:        ModeWrite,
		JobTag:      "smoke",
		ReportLevel: stats.DetailNone,
	}
}

func TestRunWriteThenReadRoundTrip(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Mode = ModeWriteThenRead
	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0; stats=%+v", report.ExitCode, report.Stats)
	}
	if report.Stats.RecordsWritten == 0 || report.Stats.RecordsRead == 0 {
		t.Fatalf("expected records written and read, got %+v", report.Stats)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := baseConfig(t)
	cfg.ThreadCount = 0
	report, err := Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if report.ExitCode != 255 {
		t.Fatalf("exit code = %d, want 255", report.ExitCode)
	}
}

func TestRunWithIOLockSharesOneTarget(t *testing.T) {
	cfg := baseConfig(t)
	cfg.IOLock = true
	cfg.DataLimit = int64(cfg.ThreadCount) * int64(cfg.RecordLimit) * int64(cfg.BlockSize)
	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Stats.RecordsWritten == 0 {
		t.Fatalf("expected some records written, got %+v", report.Stats)
	}
}

func TestExitCodeSentinels(t *testing.T) {
	if c := exitCode(0); c != 0 {
		t.Fatalf("exitCode(0) = %d", c)
	}
	if c := exitCode(5); c != 5 {
		t.Fatalf("exitCode(5) = %d", c)
	}
	if c := exitCode(1000); c != 253 {
		t.Fatalf("exitCode(1000) = %d, want capped at 253", c)
	}
}

func TestReportCarriesJobState(t *testing.T) {
	cfg := baseConfig(t)
	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.JobState != jobs.JobFinished {
		t.Fatalf("job state = %v, want JobFinished", report.JobState)
	}
}
