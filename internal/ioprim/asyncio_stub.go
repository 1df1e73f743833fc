//go:build !giouring

package ioprim

import (
	"context"
	"fmt"
)

// OpenAsync is available when dt is built with -tags giouring. Without that
// tag it reports an actionable error rather than silently falling back to
// another buffer mode, so a misconfigured build is caught at job start
// instead of producing misleading I/O-path test results.
func OpenAsync(ctx context.Context, opts OpenOptions) (Primitive, error) {
	return nil, fmt.Errorf("ioprim: async (io_uring) buffer mode not enabled; build with -tags giouring")
}
