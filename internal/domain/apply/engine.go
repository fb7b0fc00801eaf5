package apply

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Diff applies a single-file unified diff to opts.Path.
//
// Steps, in order: read the pre-image (a missing file reads as empty),
// verify the checksum, require UTF-8, parse the diff, apply it in memory.
// Any failure up to here leaves the filesystem untouched. Dry runs return
// at that point; other strategies run the hook, create parent directories,
// write the backup (WriteBackup, existing files only) and overwrite the target.
// A hook implementing CommitFailedHook hears about a failed write.
func Diff(opts Options) (*Outcome, error) {
	target := opts.Path

	original, existed, err := readPreImage(target)
	if err != nil {
		return nil, err
	}

	if opts.Checksum != "" {
		actual := checksumLike(opts.Checksum, original)
		if actual != opts.Checksum {
			return nil, &ChecksumMismatchError{Path: target, Expected: opts.Checksum, Actual: actual}
		}
	}

	if !utf8.Valid(original) {
		return nil, &InvalidUTF8Error{Path: target}
	}

	file, err := parseSingleFile(opts.Diff)
	if err != nil {
		return nil, err
	}
	creates := createsFile(opts.Diff)
	if len(original) > 0 && creates {
		return nil, &InvalidDiffError{Message: fmt.Sprintf("diff creates %s but the file already has content", target)}
	}
	if !creates {
		if err := checkAnchors(file, original); err != nil {
			return nil, err
		}
		shiftInsertions(file)
	}

	var patched bytes.Buffer
	if err := gitdiff.Apply(&patched, bytes.NewReader(original), file); err != nil {
		return nil, &InvalidDiffError{Message: err.Error()}
	}

	outcome := &Outcome{
		Status:       StatusApplied,
		HunksApplied: len(file.TextFragments),
		Warnings:     headerWarnings(target, file),
	}
	if bytes.Equal(patched.Bytes(), original) {
		outcome.Status = StatusNoop
	}

	if opts.Strategy.IsDryRun() {
		return outcome, nil
	}

	c := Commit{
		Path:      target,
		Existed:   existed,
		PreImage:  original,
		PostImage: patched.Bytes(),
		Status:    outcome.Status,
		Hunks:     outcome.HunksApplied,
		Strategy:  opts.Strategy,
	}
	if opts.Hook != nil {
		if err := opts.Hook.BeforeCommit(c); err != nil {
			return nil, &IOError{Op: "journal", Path: target, Err: err}
		}
	}

	if err := commit(target, original, existed, c.PostImage, opts.Strategy); err != nil {
		if fh, ok := opts.Hook.(CommitFailedHook); ok {
			fh.CommitFailed(c, err)
		}
		return nil, err
	}
	return outcome, nil
}

// commit performs the only filesystem mutations of an apply.
func commit(target string, original []byte, existed bool, patched []byte, strategy Strategy) error {
	if parent := filepath.Dir(target); parent != "" {
		if err := os.MkdirAll(parent, dirPerm); err != nil {
			return &IOError{Op: "create_dir_all", Path: parent, Err: err}
		}
	}

	if strategy.Kind == StrategyWriteBackup && existed {
		backup := BackupPath(target, strategy.backupSuffix())
		if err := os.WriteFile(backup, original, filePerm); err != nil {
			return &IOError{Op: "backup", Path: backup, Err: err}
		}
	}

	if err := os.WriteFile(target, patched, filePerm); err != nil {
		return &IOError{Op: "write", Path: target, Err: err}
	}
	return nil
}

// BackupPath appends suffix to the file name of target.
func BackupPath(target, suffix string) string {
	return filepath.Join(filepath.Dir(target), filepath.Base(target)+suffix)
}

func parseSingleFile(text string) (*gitdiff.File, error) {
	files, _, err := gitdiff.Parse(strings.NewReader(text))
	if err != nil {
		return nil, &InvalidDiffError{Message: err.Error()}
	}
	switch len(files) {
	case 0:
		return nil, &InvalidDiffError{Message: "no file section found"}
	case 1:
	default:
		return nil, &InvalidDiffError{Message: fmt.Sprintf("expected a single-file diff, found %d file sections", len(files))}
	}

	file := files[0]
	if file.IsBinary {
		return nil, &InvalidDiffError{Message: "binary patches are not supported"}
	}
	return file, nil
}

// createsFile reports whether the diff's pre-image header is /dev/null.
// A "-0,0" hunk alone does not make a creation: against an existing file it
// inserts at the top.
func createsFile(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "--- ") {
			name := strings.TrimSpace(strings.TrimPrefix(line, "--- "))
			if i := strings.IndexByte(name, '\t'); i >= 0 {
				name = name[:i]
			}
			return name == "/dev/null"
		}
	}
	return false
}

// checkAnchors pins hunks that have context on one side only to the file
// boundary that side is missing, as git apply does. Without it a pure append
// matches again after the end of an already-patched file.
func checkAnchors(file *gitdiff.File, original []byte) error {
	lines := countLines(original)
	for _, frag := range file.TextFragments {
		switch {
		case frag.LeadingContext > 0 && frag.TrailingContext == 0:
			if end := frag.OldPosition + frag.OldLines - 1; end != lines {
				return &InvalidDiffError{Message: fmt.Sprintf(
					"hunk @@ -%d,%d has no trailing context but ends at line %d of %d",
					frag.OldPosition, frag.OldLines, end, lines)}
			}
		case frag.LeadingContext == 0 && frag.TrailingContext > 0:
			if frag.OldPosition != 1 {
				return &InvalidDiffError{Message: fmt.Sprintf(
					"hunk @@ -%d,%d has no leading context but does not start at line 1",
					frag.OldPosition, frag.OldLines)}
			}
		}
	}
	return nil
}

// shiftInsertions converts empty old ranges from the diff(1) meaning
// ("-N,0": insert after line N) to the position the applier expects
// (insert before line N+1).
func shiftInsertions(file *gitdiff.File) {
	for _, frag := range file.TextFragments {
		if frag.OldLines == 0 {
			frag.OldPosition++
		}
	}
}

func countLines(data []byte) int64 {
	n := int64(bytes.Count(data, []byte("\n")))
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// headerWarnings flags diffs whose headers disagree with the target. They
// are informational: the caller-supplied path always wins.
func headerWarnings(target string, file *gitdiff.File) []string {
	var warnings []string
	if file.IsDelete {
		warnings = append(warnings, fmt.Sprintf("diff deletes %s; the file is left empty", target))
	}
	name := file.NewName
	if name == "" {
		name = file.OldName
	}
	if name != "" && path.Base(filepath.ToSlash(name)) != filepath.Base(target) {
		warnings = append(warnings, fmt.Sprintf("diff header names %s but was applied to %s", name, target))
	}
	return warnings
}
