// Command dt is the data-integrity and I/O exerciser's CLI entry point: it
// parses key=value tokens from argv, a DT_SCRIPT file, and DT_MAXFILES,
// assembles a dt.Config, runs it to completion, and exits with the
// resulting error count (§6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/robintmiller/dt"
	"github.com/robintmiller/dt/internal/btag"
	"github.com/robintmiller/dt/internal/config"
	"github.com/robintmiller/dt/internal/dtlog"
	"github.com/robintmiller/dt/internal/ioprim"
	"github.com/robintmiller/dt/internal/pattern"
	"github.com/robintmiller/dt/internal/stats"
	"github.com/robintmiller/dt/internal/worker"
)

const usage = `dt if=<path> [of=<path>] [bs=<size>] [threads=<n>] [count=<n>] ...

dt writes known patterns to a target and reads them back, reporting any
data corruption or I/O failure. Arguments are key=value tokens; bare
words are treated as boolean flags. See DT_SCRIPT for script files and
DT_MAXFILES for the open-file-limit override.
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	tokens, err := config.LoadFromEnvironment(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dt:", err)
		return 255
	}
	if v, _ := tokens.Get("help"); v == "true" {
		fmt.Print(usage)
		return 0
	}
	if v, _ := tokens.Get("version"); v == "true" {
		fmt.Println("dt (data integrity exerciser)")
		return 0
	}
	if _, err := config.ApplyMaxFiles(); err != nil {
		fmt.Fprintln(os.Stderr, "dt: DT_MAXFILES:", err)
		return 255
	}

	cfg, err := buildConfig(tokens)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dt:", err)
		return 255
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	report, err := dt.Run(ctx, cfg)
	if err != nil && report.ExitCode == 255 {
		fmt.Fprintln(os.Stderr, "dt:", err)
		return 255
	}

	fmt.Println(stats.Report(cfg.TargetPath, report.Stats, cfg.ReportLevel))
	return report.ExitCode
}

// buildConfig turns parsed tokens into a dt.Config, applying the option
// validation and defaults described in §6 and §4.12.
func buildConfig(tokens *config.Tokens) (dt.Config, error) {
	cfg := dt.Config{
		ThreadCount: 1,
		Passes:      1,
		BufferMode:  ioprim.ModeBuffered,
		JobTag:      "dt",
		ReportLevel: stats.DetailBrief,
		Logger:      dtlog.Default(),
		Pattern:     pattern.Config{Kind: pattern.Fixed32, FixedValue: 0},
		BtagEnabled: false,
		VerifyMask:  btag.VAll,
	}

	target, ok := tokens.Get("if")
	if !ok {
		target, ok = tokens.Get("of")
	}
	if !ok {
		return cfg, fmt.Errorf("missing target: specify if= or of=")
	}
	cfg.TargetPath = target

	if v, ok := tokens.Get("bs"); ok {
		n, err := config.ParseSize(v)
		if err != nil {
			return cfg, fmt.Errorf("bs=%s: %w", v, err)
		}
		cfg.BlockSize = int(n)
		cfg.MinSize, cfg.MaxSize = cfg.BlockSize, cfg.BlockSize
	}
	if v, ok := tokens.Get("min"); ok {
		n, err := config.ParseSize(v)
		if err != nil {
			return cfg, fmt.Errorf("min=%s: %w", v, err)
		}
		cfg.MinSize = int(n)
		cfg.Variable = true
	}
	if v, ok := tokens.Get("max"); ok {
		n, err := config.ParseSize(v)
		if err != nil {
			return cfg, fmt.Errorf("max=%s: %w", v, err)
		}
		cfg.MaxSize = int(n)
		cfg.Variable = true
	}
	if v, ok := tokens.Get("incr"); ok {
		n, err := config.ParseSize(v)
		if err != nil {
			return cfg, fmt.Errorf("incr=%s: %w", v, err)
		}
		cfg.Incr = int(n)
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize, cfg.MinSize, cfg.MaxSize = 512, 512, 512
	}

	if v, ok := tokens.Get("threads"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("threads=%s: %w", v, err)
		}
		cfg.ThreadCount = n
	}
	if v, ok := tokens.Get("passes"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("passes=%s: %w", v, err)
		}
		cfg.Passes = n
	}
	if v, ok := tokens.Get("records"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("records=%s: %w", v, err)
		}
		cfg.RecordLimit = n
	}
	if v, ok := tokens.Get("limit"); ok {
		n, err := config.ParseSize(v)
		if err != nil {
			return cfg, fmt.Errorf("limit=%s: %w", v, err)
		}
		cfg.DataLimit = n
	}
	if v, ok := tokens.Get("count"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("count=%s: %w", v, err)
		}
		cfg.RecordLimit = n
	}

	if v, ok := tokens.Get("iolock"); ok {
		b, err := config.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("iolock=%s: %w", v, err)
		}
		cfg.IOLock = b
	}
	if v, ok := tokens.Get("btag"); ok {
		b, err := config.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("btag=%s: %w", v, err)
		}
		cfg.BtagEnabled = b
	}
	if v, ok := tokens.Get("btag_verify"); ok {
		mask, err := config.ParseBtagVerify(v)
		if err != nil {
			return cfg, err
		}
		cfg.VerifyMask = mask
	}
	if v, ok := tokens.Get("iops"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("iops=%s: %w", v, err)
		}
		cfg.IOPS = n
	}
	if v, ok := tokens.Get("fsync_frequency"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("fsync_frequency=%s: %w", v, err)
		}
		cfg.FsyncFrequency = n
	}
	if v, ok := tokens.Get("rseed"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("rseed=%s: %w", v, err)
		}
		cfg.MasterSeed = n
	}
	if v, ok := tokens.Get("ralign"); ok {
		n, err := config.ParseSize(v)
		if err != nil {
			return cfg, fmt.Errorf("ralign=%s: %w", v, err)
		}
		cfg.RandomAlign = n
	}

	switch v, _ := tokens.Get("iotype"); v {
	case "random":
		cfg.IOType = worker.Random
	default:
		cfg.IOType = worker.Sequential
	}
	switch v, _ := tokens.Get("iodir"); v {
	case "reverse":
		cfg.Direction = worker.Reverse
	default:
		cfg.Direction = worker.Forward
	}
	switch v, _ := tokens.Get("iomode"); v {
	case "read":
		cfg.Mode = dt.ModeRead
	case "write":
		cfg.Mode = dt.ModeWrite
	default:
		cfg.Mode = dt.ModeWriteThenRead
	}
	switch v, _ := tokens.Get("oncerr"); v {
	case "continue":
		cfg.OnError = dt.OnErrorContinue
	case "pause":
		cfg.OnError = dt.OnErrorPause
	default:
		cfg.OnError = dt.OnErrorAbort
	}
	switch v, _ := tokens.Get("bufmodes"); v {
	case "direct":
		cfg.BufferMode = ioprim.ModeDirect
	case "mmap":
		cfg.BufferMode = ioprim.ModeMmap
	case "async":
		cfg.BufferMode = ioprim.ModeAsync
	default:
		cfg.BufferMode = ioprim.ModeBuffered
	}
	switch v, _ := tokens.Get("pattern"); v {
	case "iot":
		cfg.Pattern.Kind = pattern.IOT
	default:
		cfg.Pattern.Kind = pattern.Fixed32
	}

	if v, ok := tokens.Get("read_percentage"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("read_percentage=%s: %w", v, err)
		}
		cfg.ReadPercentage = n
	}
	if v, ok := tokens.Get("random_percentage"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("random_percentage=%s: %w", v, err)
		}
		cfg.RandomPercentage = n
	}
	if v, ok := tokens.Get("prefill"); ok {
		b, err := config.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("prefill=%s: %w", v, err)
		}
		cfg.Prefill = b
	}
	if v, ok := tokens.Get("retry_limit"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("retry_limit=%s: %w", v, err)
		}
		cfg.RetryLimit = n
	}
	if v, ok := tokens.Get("retry_delay"); ok {
		d, err := config.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("retry_delay=%s: %w", v, err)
		}
		cfg.RetryDelay = d
	}

	if v, ok := tokens.Get("fstree"); ok {
		b, err := config.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("fstree=%s: %w", v, err)
		}
		cfg.FSTree = b
	}
	if v, ok := tokens.Get("fsdirs"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("fsdirs=%s: %w", v, err)
		}
		cfg.FSLimits.DirLimit = n
	}
	if v, ok := tokens.Get("fsfiles"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("fsfiles=%s: %w", v, err)
		}
		cfg.FSLimits.FileLimit = n
	}
	if v, ok := tokens.Get("fsmaxfiles"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("fsmaxfiles=%s: %w", v, err)
		}
		cfg.FSLimits.MaxFiles = n
	}
	if v, ok := tokens.Get("fsdir_prefix"); ok {
		cfg.FSDirPrefix = v
	}
	if v, ok := tokens.Get("fsbasename"); ok {
		cfg.FSBasename = v
	}
	if v, ok := tokens.Get("fspostfix"); ok {
		cfg.FSPostfixTpl = v
	}
	if v, ok := tokens.Get("delete_per_pass"); ok {
		b, err := config.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("delete_per_pass=%s: %w", v, err)
		}
		cfg.DeletePerPass = b
	}
	if v, ok := tokens.Get("fsfree_delay"); ok {
		d, err := config.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("fsfree_delay=%s: %w", v, err)
		}
		cfg.RestartPolicy.FreeDelay = d
		cfg.RestartPolicy.Enabled = true
	}
	if v, ok := tokens.Get("fsfree_retries"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("fsfree_retries=%s: %w", v, err)
		}
		cfg.RestartPolicy.FreeRetries = n
		cfg.RestartPolicy.Enabled = true
	}

	if v, ok := tokens.Get("monitor_interval"); ok {
		d, err := config.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("monitor_interval=%s: %w", v, err)
		}
		cfg.MonitorInterval = d
	}
	if v, ok := tokens.Get("max_noprogress"); ok {
		d, err := config.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("max_noprogress=%s: %w", v, err)
		}
		cfg.MaxNoProgress = d
	}
	if v, ok := tokens.Get("term_wait_time"); ok {
		d, err := config.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("term_wait_time=%s: %w", v, err)
		}
		cfg.TermWaitTime = d
	}
	if v, ok := tokens.Get("max_term_time"); ok {
		d, err := config.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("max_term_time=%s: %w", v, err)
		}
		cfg.MaxTermTime = d
	}
	if v, ok := tokens.Get("iotune"); ok {
		cfg.IOTunePath = v
	}

	return cfg, nil
}
