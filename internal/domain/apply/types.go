// Package apply is the patch-application engine: it verifies a file's
// pre-image, applies a single-file unified diff in memory and commits the
// result to disk (or only validates it, in dry-run mode).
package apply

import (
	"fmt"
	"strings"
)

// DefaultBackupSuffix is used by WriteBackup when no suffix is given.
const DefaultBackupSuffix = ".orig"

// StrategyKind selects how a validated diff is committed.
type StrategyKind int

const (
	// StrategyWrite applies the diff and overwrites the target.
	StrategyWrite StrategyKind = iota
	// StrategyDryRun validates the diff without touching the filesystem.
	StrategyDryRun
	// StrategyWriteBackup keeps a copy of the pre-image next to the target.
	StrategyWriteBackup
)

// Strategy controls how diffs are handled. The zero value is Write.
type Strategy struct {
	Kind         StrategyKind
	BackupSuffix string
}

// Write returns the plain write strategy.
func Write() Strategy { return Strategy{Kind: StrategyWrite} }

// DryRun returns the validate-only strategy.
func DryRun() Strategy { return Strategy{Kind: StrategyDryRun} }

// WriteBackup returns a strategy that copies the pre-image to path+suffix
// before overwriting.
func WriteBackup(suffix string) Strategy {
	return Strategy{Kind: StrategyWriteBackup, BackupSuffix: suffix}
}

// IsDryRun reports whether the strategy must leave the filesystem untouched.
func (s Strategy) IsDryRun() bool { return s.Kind == StrategyDryRun }

func (s Strategy) backupSuffix() string {
	if s.BackupSuffix == "" {
		return DefaultBackupSuffix
	}
	return s.BackupSuffix
}

func (s Strategy) String() string {
	switch s.Kind {
	case StrategyDryRun:
		return "dry-run"
	case StrategyWriteBackup:
		return "backup:" + s.backupSuffix()
	default:
		return "write"
	}
}

// ParseStrategy parses "write", "dry-run" or "backup[:suffix]".
func ParseStrategy(s string) (Strategy, error) {
	switch v := strings.TrimSpace(s); {
	case v == "" || v == "write":
		return Write(), nil
	case v == "dry-run" || v == "dryrun":
		return DryRun(), nil
	case v == "backup":
		return WriteBackup(DefaultBackupSuffix), nil
	case strings.HasPrefix(v, "backup:"):
		return WriteBackup(strings.TrimPrefix(v, "backup:")), nil
	default:
		return Strategy{}, fmt.Errorf("apply: unknown strategy %q", s)
	}
}

// Status is the high-level result of a successful apply.
type Status string

const (
	StatusApplied Status = "applied"
	StatusNoop    Status = "noop"
)

// Options describes a single diff application.
type Options struct {
	Path string
	Diff string
	// Checksum is the expected hex digest of the pre-image. Empty skips
	// verification. A "blake3:" prefix selects BLAKE3, otherwise SHA-256.
	Checksum string
	Strategy Strategy
	// Hook runs after validation and before any write. Never called for
	// dry runs.
	Hook CommitHook
}

// Outcome reports what an apply did (or would do, for dry runs).
type Outcome struct {
	Status       Status   `json:"status"`
	HunksApplied int      `json:"hunks_applied"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Commit is handed to a CommitHook right before the target is written.
type Commit struct {
	Path      string
	Existed   bool
	PreImage  []byte
	PostImage []byte
	Status    Status
	Hunks     int
	Strategy  Strategy
}

// CommitHook observes commits before they reach the disk. Returning an
// error aborts the write.
type CommitHook interface {
	BeforeCommit(c Commit) error
}

// CommitFailedHook is an optional extension of CommitHook. It is told when
// the write that followed a successful BeforeCommit failed.
type CommitFailedHook interface {
	CommitFailed(c Commit, err error)
}

// CommitHookFunc adapts a function to CommitHook.
type CommitHookFunc func(c Commit) error

// BeforeCommit calls f(c).
func (f CommitHookFunc) BeforeCommit(c Commit) error { return f(c) }
