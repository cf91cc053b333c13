// Package retry wraps file operations with an error taxonomy and bounded
// exponential backoff. Transient failures (a locked file, a flaky read) are
// retried; structural ones (missing file, denied access) fail immediately.
package retry

import (
	"errors"
	"io"
	"io/fs"
	"strings"
	"syscall"
)

// Kind classifies a file operation failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAccessDenied
	KindLocked
	KindDirectoryMissing
	KindIO
)

// ErrDirectoryMissing is wrapped by callers that already know the failing
// path was a directory, so classification does not have to guess from the
// message alone.
var ErrDirectoryMissing = errors.New("directory missing")

// String returns a stable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindLocked:
		return "locked"
	case KindDirectoryMissing:
		return "directory_missing"
	case KindIO:
		return "io_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether an operation failing with this kind is worth
// repeating. Locked files and generic I/O hiccups are transient; the rest
// are permanent.
func (k Kind) Retryable() bool {
	return k == KindLocked || k == KindIO
}

// Classify maps an underlying failure onto the taxonomy using error kinds
// first and message heuristics as a fallback.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, ErrDirectoryMissing) {
		return KindDirectoryMissing
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOTDIR:
			return KindDirectoryMissing
		case syscall.EAGAIN, syscall.EBUSY, syscall.ETXTBSY:
			return KindLocked
		case syscall.EIO:
			return KindIO
		}
	}

	if errors.Is(err, fs.ErrPermission) {
		return KindAccessDenied
	}
	if errors.Is(err, fs.ErrNotExist) {
		return KindNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "being used by another process"),
		strings.Contains(msg, "locked"),
		strings.Contains(msg, "resource temporarily unavailable"):
		return KindLocked
	case strings.Contains(msg, "not a directory"):
		return KindDirectoryMissing
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "access is denied"):
		return KindAccessDenied
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return KindIO
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return KindIO
	}

	return KindUnknown
}
