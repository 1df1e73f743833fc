//go:build linux

package config

import "golang.org/x/sys/unix"

// setFileLimit raises RLIMIT_NOFILE's soft limit to n, capped at the
// hard limit, per DT_MAXFILES.
func setFileLimit(n uint64) error {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return err
	}
	if n > rl.Max {
		n = rl.Max
	}
	rl.Cur = n
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &rl)
}
