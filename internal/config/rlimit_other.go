//go:build !linux

package config

import "fmt"

// setFileLimit is not supported outside Linux: it always returns an
// error, so setting DT_MAXFILES on other platforms fails.
func setFileLimit(n uint64) error {
	return fmt.Errorf("config: DT_MAXFILES is not supported on this platform")
}
