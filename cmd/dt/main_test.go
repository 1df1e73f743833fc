package main

import (
	"testing"

	"github.com/robintmiller/dt"
	"github.com/robintmiller/dt/internal/config"
	"github.com/robintmiller/dt/internal/ioprim"
)

func TestBuildConfigRequiresTarget(t *testing.T) {
	tokens, _ := config.ParseArgs([]string{"bs=4k"})
	if _, err := buildConfig(tokens); err == nil {
		t.Fatal("expected error for missing if=/of=")
	}
}

func TestBuildConfigAppliesTokens(t *testing.T) {
	tokens, err := config.ParseArgs([]string{
		"if=/tmp/target.img", "bs=4k", "threads=4", "count=100",
		"iolock=true", "btag=true", "iotype=random", "bufmodes=direct",
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := buildConfig(tokens)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TargetPath != "/tmp/target.img" {
		t.Fatalf("target = %q", cfg.TargetPath)
	}
	if cfg.BlockSize != 4096 {
		t.Fatalf("block size = %d", cfg.BlockSize)
	}
	if cfg.ThreadCount != 4 {
		t.Fatalf("threads = %d", cfg.ThreadCount)
	}
	if cfg.RecordLimit != 100 {
		t.Fatalf("records = %d", cfg.RecordLimit)
	}
	if !cfg.IOLock || !cfg.BtagEnabled {
		t.Fatal("expected iolock and btag enabled")
	}
	if cfg.BufferMode != ioprim.ModeDirect {
		t.Fatalf("buffer mode = %v", cfg.BufferMode)
	}
}

func TestBuildConfigDefaultsToWriteThenRead(t *testing.T) {
	tokens, _ := config.ParseArgs([]string{"if=/tmp/x"})
	cfg, err := buildConfig(tokens)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != dt.ModeWriteThenRead {
		t.Fatalf("mode = %v, want ModeWriteThenRead", cfg.Mode)
	}
}

func TestRunPrintsUsageForHelpToken(t *testing.T) {
	if code := run([]string{"help"}); code != 0 {
		t.Fatalf("run(help) = %d, want 0", code)
	}
}

func TestRunFailsFastOnMissingTarget(t *testing.T) {
	if code := run([]string{"bs=4k"}); code != 255 {
		t.Fatalf("run(missing target) = %d, want 255", code)
	}
}
