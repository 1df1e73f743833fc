// Package fswalk implements the file-system walker of spec.md §4.7 (C7):
// path composition under a directory tree, per-pass file/directory
// bookkeeping, the free-space watchdog that bounds a job's total data
// volume, and the ENOSPC-restart/delete-per-pass lifecycle for targets
// that are file-system trees rather than raw devices.
package fswalk

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// PostfixVars supplies the substitution values for a filename postfix
// template (§4.7: "%job, %thread, %user, %uuid, etc.").
type PostfixVars struct {
	JobID  uint32
	Thread int
	User   string
}

// ExpandPostfix replaces %job, %thread, %user and %uuid tokens in tpl.
// %uuid is resolved fresh on every call, matching its role as a
// collision-avoidance token rather than a stable identifier.
func ExpandPostfix(tpl string, v PostfixVars) string {
	r := strings.NewReplacer(
		"%job", strconv.FormatUint(uint64(v.JobID), 10),
		"%thread", strconv.Itoa(v.Thread),
		"%user", v.User,
	)
	out := r.Replace(tpl)
	if strings.Contains(out, "%uuid") {
		out = strings.ReplaceAll(out, "%uuid", uuid.NewString())
	}
	return out
}

// Limits bounds how many directories and files a single worker creates
// (§4.7 "Directory counts" / "File counts").
type Limits struct {
	DirLimit    int // top-level directories per worker
	SubdirDepth int
	SubdirLimit int // subdirectories per level
	FileLimit   int // files per directory
	MaxFiles    int // total files across the pass, 0 = unbounded
}

// Layout composes the filesystem-tree path for one worker: base directory,
// a per-worker directory prefix, and a basename with a postfix template
// applied (§4.7 "File path composition").
type Layout struct {
	BaseDir      string
	DirPrefix    string // e.g. "dir"
	Basename     string // e.g. "dt"
	PostfixTpl   string // e.g. ".%job.%thread"
	JobID        uint32
	ThreadNumber int
	User         string
	Limits       Limits
}

// DirForIndex returns the directory path for the dirIndex'th top-level
// directory this worker owns (0-based), without any subdir nesting.
func (l Layout) DirForIndex(dirIndex int) string {
	return filepath.Join(l.BaseDir, fmt.Sprintf("%s%d", l.DirPrefix, dirIndex))
}

// SubdirForIndex descends depth levels of subdir<n> components below a
// top-level directory, per §4.7 subdir_depth × subdir_limit.
func (l Layout) SubdirForIndex(dirIndex int, subdirPath []int) string {
	p := l.DirForIndex(dirIndex)
	for _, idx := range subdirPath {
		p = filepath.Join(p, fmt.Sprintf("subdir%d", idx))
	}
	return p
}

// FilePath composes the full path for the fileIndex'th file inside dir,
// applying the postfix template.
func (l Layout) FilePath(dir string, fileIndex int) string {
	postfix := ExpandPostfix(l.PostfixTpl, PostfixVars{JobID: l.JobID, Thread: l.ThreadNumber, User: l.User})
	name := fmt.Sprintf("%s%d%s", l.Basename, fileIndex, postfix)
	return filepath.Join(dir, name)
}

// EnsureDirs creates every directory this worker needs up front
// (idempotent: MkdirAll on each).
func (l Layout) EnsureDirs() error {
	for d := 0; d < maxOne(l.Limits.DirLimit); d++ {
		dir := l.DirForIndex(d)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("fswalk: mkdir %s: %w", dir, err)
		}
	}
	return nil
}

func maxOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// FreeSpace reports the free bytes available on the filesystem containing
// path, via statfs (§4.7 max-data-percentage).
func FreeSpace(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("fswalk: statfs %s: %w", path, err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

// MaxDataBytes computes the job-wide data ceiling from a percentage of
// free space at job start, per §4.7: "compute free space of the target FS
// and set max_data = free * percentage / 100."
func MaxDataBytes(path string, percentage float64) (int64, error) {
	free, err := FreeSpace(path)
	if err != nil {
		return 0, err
	}
	return int64(float64(free) * percentage / 100.0), nil
}

// DeleteAll removes the files l.FilePath(dir, 0) through
// l.FilePath(dir, fileCount-1), skipping ones that do not exist; used both
// for delete-per-pass (§4.7) and for ENOSPC-restart's "delete files,
// restart writes from file 0." Files in any other directory are left in
// place.
func DeleteAll(l Layout, fileCount int, dir string) error {
	for i := 0; i < fileCount; i++ {
		p := l.FilePath(dir, i)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("fswalk: remove %s: %w", p, err)
		}
	}
	return nil
}

// Exists reports whether path exists, used by the read-after-partial-write
// skip logic (§4.7 "Existence checks").
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
