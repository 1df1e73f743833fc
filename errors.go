// Package dt implements a multi-threaded data-integrity and I/O exerciser:
// it writes known patterns to a target, reads them back, and detects and
// diagnoses corruption, short I/O, and failure-handling defects in the
// storage stack.
package dt

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorCode is the high-level classification of an error, mirroring the
// error-kind taxonomy of spec.md §7 (transient I/O, disconnect, partial
// write/ENOSPC, disk-full, miscompare, EOF, validation, fatal).
type ErrorCode string

const (
	ErrCodeTransientIO    ErrorCode = "transient I/O"
	ErrCodeDisconnect     ErrorCode = "session disconnect"
	ErrCodePartialWrite   ErrorCode = "partial write"
	ErrCodeDiskFull       ErrorCode = "disk full"
	ErrCodeMiscompare     ErrorCode = "data miscompare"
	ErrCodeEndOfFile      ErrorCode = "end of file"
	ErrCodeValidation     ErrorCode = "option validation error"
	ErrCodeFatal          ErrorCode = "fatal error"
	ErrCodeNotImplemented ErrorCode = "not implemented"
	ErrCodePermission     ErrorCode = "permission denied"
	ErrCodeNotFound       ErrorCode = "target not found"
)

// Error is the structured error type threaded through the I/O loop, the
// verifier, and the job manager. It doubles as the spec's "Error info"
// record (§3): Op, File, Offset, Bytes, the OS error, and enough identity
// (job/thread) to format an extended error report (§4.11).
type Error struct {
	Op           string        // operation that failed, e.g. "pwrite", "verify"
	File         string        // target path
	JobID        uint32        // 0 if not applicable
	ThreadNumber int           // -1 if not applicable
	Offset       int64         // byte offset of the operation
	Bytes        int           // requested transfer size
	Code         ErrorCode     // high-level category
	Errno        syscall.Errno // kernel errno, 0 if not applicable
	Msg          string        // human-readable message
	Inner        error         // wrapped cause
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.File != "" {
		return fmt.Sprintf("dt: %s: op=%s file=%s offset=%d: %s", e.Code, e.Op, e.File, e.Offset, msg)
	}
	return fmt.Sprintf("dt: %s: op=%s: %s", e.Code, e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparisons against another *Error (such as the
// sentinels below), comparing only the Code field — the same loose match
// the teacher's UblkError compatibility shim provided. A target of any
// other type never matches.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError builds a structured Error with no device/thread identity yet
// attached; callers typically follow up with WithJob/WithOffset.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg, ThreadNumber: -1}
}

// WithJob returns a copy of e annotated with job identity.
func (e *Error) WithJob(jobID uint32, threadNumber int) *Error {
	c := *e
	c.JobID = jobID
	c.ThreadNumber = threadNumber
	return &c
}

// WithOffset returns a copy of e annotated with the failing file/offset/size.
func (e *Error) WithOffset(file string, offset int64, bytes int) *Error {
	c := *e
	c.File = file
	c.Offset = offset
	c.Bytes = bytes
	return &c
}

// WrapError classifies a generic (often syscall) error into a structured
// *Error, mapping common errno values to the dt taxonomy (§7). If err is
// already a *Error, only Op is rewritten, preserving the original code.
func WrapError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if de, ok := err.(*Error); ok {
		c := *de
		c.Op = op
		return &c
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &Error{
			Op:           op,
			Code:         mapErrnoToCode(errno),
			Errno:        errno,
			Msg:          errno.Error(),
			Inner:        err,
			ThreadNumber: -1,
		}
	}

	return &Error{Op: op, Code: ErrCodeFatal, Msg: err.Error(), Inner: err, ThreadNumber: -1}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeNotFound
	case syscall.ENOSPC:
		return ErrCodeDiskFull
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermission
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeNotImplemented
	case syscall.EIO, syscall.ETIMEDOUT, syscall.EAGAIN, syscall.EINTR,
		syscall.ECONNRESET, syscall.ESTALE:
		return ErrCodeTransientIO
	default:
		return ErrCodeFatal
	}
}

// IsCode reports whether err (or something it wraps) is a *Error with the
// given Code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsErrno reports whether err (or something it wraps) is a *Error carrying
// the given errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Errno == errno
	}
	return false
}

// Sentinel errors for conditions that are not I/O failures at all.
var (
	// ErrEndOfFile signals a clean end-of-pass condition (§7: "not an
	// error; ends the pass cleanly").
	ErrEndOfFile = NewError("", ErrCodeEndOfFile, "end of file")
	// ErrMaxDataReached signals the job-wide max-data stop flag (§4.7).
	ErrMaxDataReached = NewError("", ErrCodeEndOfFile, "max data reached")
	ErrInvalidParameters = NewError("", ErrCodeValidation, "invalid parameters")
)
