package apply

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDiff      = errors.New("invalid diff")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrInvalidUTF8      = errors.New("invalid utf-8")
	ErrPathDenied       = errors.New("path denied")
)

// IOError is a filesystem failure during one step of an apply.
// Op is one of read, create_dir_all, backup, write or journal.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("apply: io failure during %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// InvalidDiffError covers malformed diffs and diffs that do not apply to
// the pre-image.
type InvalidDiffError struct {
	Message string
}

func (e *InvalidDiffError) Error() string { return "apply: invalid diff: " + e.Message }

func (e *InvalidDiffError) Is(target error) bool { return target == ErrInvalidDiff }

// ChecksumMismatchError means the file changed since the diff was authored.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("apply: checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Is(target error) bool { return target == ErrChecksumMismatch }

// InvalidUTF8Error means the pre-image is not text.
type InvalidUTF8Error struct {
	Path string
}

func (e *InvalidUTF8Error) Error() string {
	return "apply: file contains invalid utf-8: " + e.Path
}

func (e *InvalidUTF8Error) Is(target error) bool { return target == ErrInvalidUTF8 }

// PathDeniedError is returned by Guard for paths outside the policy.
type PathDeniedError struct {
	Path   string
	Reason string
}

func (e *PathDeniedError) Error() string {
	return fmt.Sprintf("apply: path %s denied: %s", e.Path, e.Reason)
}

func (e *PathDeniedError) Is(target error) bool { return target == ErrPathDenied }

// PlanEntryError wraps the failure of one plan entry with its position.
type PlanEntryError struct {
	Index int
	Path  string
	Err   error
}

func (e *PlanEntryError) Error() string {
	return fmt.Sprintf("apply: plan entry %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *PlanEntryError) Unwrap() error { return e.Err }
