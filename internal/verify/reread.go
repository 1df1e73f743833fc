package verify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/robintmiller/dt/internal/ioprim"
)

// RereadConfig controls the re-read-on-corruption protocol of §4.6.
type RereadConfig struct {
	Enabled   bool
	Limit     int           // retryDC_limit
	Delay     time.Duration // retryDC_delay; scaled linearly per attempt
	TriageDir string        // empty means alongside the target file
}

// Diagnosis is the classification §4.6 assigns a re-read outcome.
type Diagnosis string

const (
	DiagnosisWriteFailure       Diagnosis = "possible write failure"
	DiagnosisReadFailure        Diagnosis = "possible read failure"
	DiagnosisPersistentMismatch Diagnosis = "data does not match previous data or expected"
)

// RereadOutcome summarizes what the re-read protocol found and saved.
type RereadOutcome struct {
	Diagnosis        Diagnosis
	Attempts         int
	TriageFiles      []string
	ReproducerRecord string
	ReproducerReplay string
}

// Reopener opens a second, direct-I/O handle to the same target for
// re-read verification (§4.6 step 1). Implementations return
// ioprim.ErrNotSupported when the underlying filesystem can't honor
// direct I/O (NFS, tmpfs, misaligned sizes); the protocol then skips
// re-reading and reports DiagnosisPersistentMismatch immediately.
type Reopener func(ctx context.Context) (ioprim.Primitive, error)

// Run executes the full re-read-on-corruption protocol: reopen with
// direct I/O, re-read up to cfg.Limit times with linearly scaled delay,
// classify the outcome, save EXPECT/CORRUPT/REREAD triage files, and
// build the two reproducer command lines (§4.6 steps 1-6).
func Run(ctx context.Context, reopen Reopener, targetPath string, offset int64, expected, corrupted []byte,
	cfg RereadConfig, jobID uint32, threadNumber int, recordNumber uint32, replayCmdline string) (RereadOutcome, error) {

	out := RereadOutcome{Diagnosis: DiagnosisPersistentMismatch}
	if !cfg.Enabled {
		return out, nil
	}

	second, err := reopen(ctx)
	if err != nil {
		// Direct I/O unsupported on this filesystem; skip re-read, still
		// save triage files for the original miscompare.
		files, saveErr := saveTriage(targetPath, cfg.TriageDir, jobID, threadNumber, expected, corrupted, nil)
		out.TriageFiles = files
		return out, saveErr
	}
	defer second.Close()

	reread := make([]byte, len(corrupted))
	limit := cfg.Limit
	if limit <= 0 {
		limit = 1
	}
	for attempt := 1; attempt <= limit; attempt++ {
		out.Attempts = attempt
		if attempt > 1 {
			delay := time.Duration(attempt) * cfg.Delay
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return out, ctx.Err()
			case <-t.C:
			}
		}

		n, rerr := second.ReadAt(ctx, reread, offset)
		if rerr != nil {
			continue
		}
		reread = reread[:n]

		switch {
		case bytes.Equal(reread, corrupted):
			out.Diagnosis = DiagnosisWriteFailure
		case bytes.Equal(reread, expected):
			out.Diagnosis = DiagnosisReadFailure
		default:
			out.Diagnosis = DiagnosisPersistentMismatch
			continue
		}
		break
	}

	files, err := saveTriage(targetPath, cfg.TriageDir, jobID, threadNumber, expected, corrupted, reread)
	if err != nil {
		return out, err
	}
	out.TriageFiles = files
	out.ReproducerRecord = reproducerForRecord(targetPath, offset, len(corrupted), recordNumber)
	out.ReproducerReplay = replayCmdline
	return out, nil
}

// saveTriage writes the expected/corrupted/re-read buffers as sibling
// files named per §4.6 step 4, with the smallest non-colliding index n.
// If the search for a free index exceeds a sane bound (concurrent
// triage from many threads racing on the same basename), a uuid suffix
// disambiguates instead of looping forever.
func saveTriage(targetPath, triageDir string, jobID uint32, threadNumber int, expected, corrupted, reread []byte) ([]string, error) {
	dir := triageDir
	if dir == "" {
		dir = filepath.Dir(targetPath)
	}
	base := filepath.Base(targetPath)

	n, err := nextTriageIndex(dir, base, jobID, threadNumber)
	if err != nil {
		return nil, err
	}

	var written []string
	save := func(kind string, data []byte) error {
		if data == nil {
			return nil
		}
		name := triageName(base, kind, n, jobID, threadNumber)

		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("verify: save triage file %s: %w", path, err)
		}
		written = append(written, path)
		return nil
	}

	if err := save("EXPECT", expected); err != nil {
		return written, err
	}
	if err := save("CORRUPT", corrupted); err != nil {
		return written, err
	}
	if err := save("REREAD", reread); err != nil {
		return written, err
	}
	return written, nil
}

func triageName(base, kind string, n string, jobID uint32, threadNumber int) string {
	return fmt.Sprintf("%s-%s%s-j%dt%d", base, kind, n, jobID, threadNumber)
}

const maxTriageIndexScan = 1000

// nextTriageIndex returns the smallest non-colliding numeric index as a
// string, per §4.6 step 4. If the scan range is exhausted (many threads
// racing on the same basename), it falls back to a short uuid suffix so
// callers never collide on a slow, unbounded search.
func nextTriageIndex(dir, base string, jobID uint32, threadNumber int) (string, error) {
	for n := 0; n < maxTriageIndexScan; n++ {
		idx := fmt.Sprintf("%d", n)
		name := triageName(base, "EXPECT", idx, jobID, threadNumber)
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			return idx, nil
		}
	}
	return uuid.NewString(), nil
}

// reproducerForRecord builds the single-record reproducer command line of
// §4.6 step 6 ("just the failing record").
func reproducerForRecord(targetPath string, offset int64, size int, recordNumber uint32) string {
	return fmt.Sprintf("dt of=%s bs=%d offset=%d count=1 # record %d", targetPath, size, offset, recordNumber)
}
