package apply

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const notesBefore = "alpha\nbeta\ndelta\n"

const notesDiff = `--- a/notes.txt
+++ b/notes.txt
@@ -1,3 +1,3 @@
 alpha
-beta
+gamma
 delta
`

const notesAfter = "alpha\ngamma\ndelta\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestDiff_Write_AppliesHunk(t *testing.T) {
	t.Parallel()
	target := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, target, notesBefore)

	out, err := Diff(Options{Path: target, Diff: notesDiff, Strategy: Write()})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if out.Status != StatusApplied {
		t.Errorf("status = %q, want applied", out.Status)
	}
	if out.HunksApplied != 1 {
		t.Errorf("hunks = %d, want 1", out.HunksApplied)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", out.Warnings)
	}
	if got := readFile(t, target); got != notesAfter {
		t.Errorf("content = %q, want %q", got, notesAfter)
	}
	if _, err := os.Stat(target + DefaultBackupSuffix); !os.IsNotExist(err) {
		t.Error("plain write must not leave a backup")
	}
}

func TestDiff_Reapply_NeverDoubleApplies(t *testing.T) {
	t.Parallel()
	target := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, target, notesBefore)

	if _, err := Diff(Options{Path: target, Diff: notesDiff}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err := Diff(Options{Path: target, Diff: notesDiff})
	if !errors.Is(err, ErrInvalidDiff) {
		t.Fatalf("second apply error = %v, want ErrInvalidDiff", err)
	}
	if got := readFile(t, target); got != notesAfter {
		t.Errorf("content changed on failed re-apply: %q", got)
	}
}

func TestDiff_Reapply_CreationDiffRejected(t *testing.T) {
	t.Parallel()
	target := filepath.Join(t.TempDir(), "hello.txt")
	diff := "--- /dev/null\n+++ b/hello.txt\n@@ -0,0 +1,1 @@\n+hello\n"

	if _, err := Diff(Options{Path: target, Diff: diff}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := Diff(Options{Path: target, Diff: diff}); !errors.Is(err, ErrInvalidDiff) {
		t.Fatalf("re-create error = %v, want ErrInvalidDiff", err)
	}
	if got := readFile(t, target); got != "hello\n" {
		t.Errorf("content = %q", got)
	}
}

func TestDiff_MissingFile_CreatesParents(t *testing.T) {
	t.Parallel()
	target := filepath.Join(t.TempDir(), "a", "b", "new.txt")
	diff := "--- /dev/null\n+++ b/a/b/new.txt\n@@ -0,0 +1,2 @@\n+one\n+two\n"

	out, err := Diff(Options{Path: target, Diff: diff, Strategy: WriteBackup(".bak")})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if out.Status != StatusApplied {
		t.Errorf("status = %q", out.Status)
	}
	if got := readFile(t, target); got != "one\ntwo\n" {
		t.Errorf("content = %q", got)
	}
	if _, err := os.Stat(target + ".bak"); !os.IsNotExist(err) {
		t.Error("backup written for a file that did not exist")
	}
}

func TestDiff_ChecksumMismatch_NoWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "notes.txt")
	writeFile(t, target, notesBefore)
	expected := Checksum([]byte("something else"))

	_, err := Diff(Options{Path: target, Diff: notesDiff, Checksum: expected, Strategy: WriteBackup("")})

	var mismatch *ChecksumMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want *ChecksumMismatchError", err)
	}
	if mismatch.Expected != expected {
		t.Errorf("expected = %q", mismatch.Expected)
	}
	if mismatch.Actual != Checksum([]byte(notesBefore)) {
		t.Errorf("actual = %q", mismatch.Actual)
	}
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Error("errors.Is(err, ErrChecksumMismatch) = false")
	}
	if got := readFile(t, target); got != notesBefore {
		t.Errorf("file mutated: %q", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the target", len(entries))
	}
}

func TestDiff_ChecksumMatch(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		sum  func([]byte) string
	}{
		{"sha256", Checksum},
		{"blake3", ChecksumBLAKE3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			target := filepath.Join(t.TempDir(), "notes.txt")
			writeFile(t, target, notesBefore)

			_, err := Diff(Options{Path: target, Diff: notesDiff, Checksum: tc.sum([]byte(notesBefore))})
			if err != nil {
				t.Fatalf("Diff: %v", err)
			}
			if got := readFile(t, target); got != notesAfter {
				t.Errorf("content = %q", got)
			}
		})
	}
}

func TestDiff_InvalidUTF8(t *testing.T) {
	t.Parallel()
	target := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(target, []byte{0xff, 0xfe, 'a', '\n'}, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Diff(Options{Path: target, Diff: "not a diff at all"})
	var bad *InvalidUTF8Error
	if !errors.As(err, &bad) {
		t.Fatalf("error = %v, want *InvalidUTF8Error (checked before parsing)", err)
	}
}

func TestDiff_InvalidDiff(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"no file section": "just some text\n",
		"two files": notesDiff + "--- a/other.txt\n+++ b/other.txt\n@@ -1,1 +1,1 @@\n-x\n+y\n",
		"context mismatch": "--- a/notes.txt\n+++ b/notes.txt\n@@ -1,2 +1,2 @@\n alpha\n-zeta\n+eta\n",
		"hunk out of range": "--- a/notes.txt\n+++ b/notes.txt\n@@ -40,1 +40,1 @@\n-beta\n+gamma\n",
	}
	for name, diff := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			target := filepath.Join(t.TempDir(), "notes.txt")
			writeFile(t, target, notesBefore)

			_, err := Diff(Options{Path: target, Diff: diff})
			var invalid *InvalidDiffError
			if !errors.As(err, &invalid) {
				t.Fatalf("error = %v, want *InvalidDiffError", err)
			}
			if invalid.Message == "" {
				t.Error("InvalidDiffError has an empty message")
			}
			if got := readFile(t, target); got != notesBefore {
				t.Errorf("file mutated: %q", got)
			}
		})
	}
}

func TestDiff_Noop(t *testing.T) {
	t.Parallel()
	target := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, target, notesBefore)
	diff := "--- a/notes.txt\n+++ b/notes.txt\n@@ -2,1 +2,1 @@\n-beta\n+beta\n"

	out, err := Diff(Options{Path: target, Diff: diff})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if out.Status != StatusNoop {
		t.Errorf("status = %q, want noop", out.Status)
	}
	if out.HunksApplied != 1 {
		t.Errorf("hunks = %d, want 1 even for noop", out.HunksApplied)
	}
}

func TestDiff_DryRun_NeverMutates(t *testing.T) {
	t.Parallel()

	t.Run("existing file", func(t *testing.T) {
		t.Parallel()
		target := filepath.Join(t.TempDir(), "notes.txt")
		writeFile(t, target, notesBefore)
		hookCalled := false

		out, err := Diff(Options{
			Path:     target,
			Diff:     notesDiff,
			Strategy: DryRun(),
			Hook:     CommitHookFunc(func(Commit) error { hookCalled = true; return nil }),
		})
		if err != nil {
			t.Fatalf("Diff: %v", err)
		}
		if out.Status != StatusApplied {
			t.Errorf("status = %q, want applied", out.Status)
		}
		if got := readFile(t, target); got != notesBefore {
			t.Errorf("dry run mutated file: %q", got)
		}
		if hookCalled {
			t.Error("hook called during dry run")
		}
	})

	t.Run("missing file and parents", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		target := filepath.Join(dir, "sub", "new.txt")
		diff := "--- /dev/null\n+++ b/sub/new.txt\n@@ -0,0 +1,1 @@\n+x\n"

		if _, err := Diff(Options{Path: target, Diff: diff, Strategy: DryRun()}); err != nil {
			t.Fatalf("Diff: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "sub")); !os.IsNotExist(err) {
			t.Error("dry run created a parent directory")
		}
	})
}

func TestDiff_WriteBackup_PreservesPreImage(t *testing.T) {
	t.Parallel()
	target := filepath.Join(t.TempDir(), "greek.txt")
	writeFile(t, target, "alpha")
	diff := "--- a/greek.txt\n+++ b/greek.txt\n@@ -1,1 +1,1 @@\n-alpha\n\\ No newline at end of file\n+omega\n\\ No newline at end of file\n"

	if _, err := Diff(Options{Path: target, Diff: diff, Strategy: WriteBackup(".orig")}); err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if got := readFile(t, target+".orig"); got != "alpha" {
		t.Errorf("backup = %q, want %q", got, "alpha")
	}
	if got := readFile(t, target); got != "omega" {
		t.Errorf("target = %q, want %q", got, "omega")
	}
}

func TestDiff_Hook(t *testing.T) {
	t.Parallel()

	t.Run("receives images", func(t *testing.T) {
		t.Parallel()
		target := filepath.Join(t.TempDir(), "notes.txt")
		writeFile(t, target, notesBefore)

		var got Commit
		_, err := Diff(Options{
			Path: target,
			Diff: notesDiff,
			Hook: CommitHookFunc(func(c Commit) error { got = c; return nil }),
		})
		if err != nil {
			t.Fatalf("Diff: %v", err)
		}
		if !got.Existed || string(got.PreImage) != notesBefore || string(got.PostImage) != notesAfter {
			t.Errorf("commit = %+v", got)
		}
		if got.Hunks != 1 || got.Status != StatusApplied {
			t.Errorf("commit status/hunks = %s/%d", got.Status, got.Hunks)
		}
	})

	t.Run("error aborts write", func(t *testing.T) {
		t.Parallel()
		target := filepath.Join(t.TempDir(), "notes.txt")
		writeFile(t, target, notesBefore)
		boom := errors.New("disk full")

		_, err := Diff(Options{
			Path: target,
			Diff: notesDiff,
			Hook: CommitHookFunc(func(Commit) error { return boom }),
		})
		var ioErr *IOError
		if !errors.As(err, &ioErr) || ioErr.Op != "journal" {
			t.Fatalf("error = %v, want IOError{Op: journal}", err)
		}
		if !errors.Is(err, boom) {
			t.Error("hook error not wrapped")
		}
		if got := readFile(t, target); got != notesBefore {
			t.Errorf("file mutated: %q", got)
		}
	})
}

func TestDiff_ReadFailure_IsIOError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// Reading a directory fails with something other than not-exist.
	_, err := Diff(Options{Path: dir, Diff: notesDiff})
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("error = %v, want *IOError", err)
	}
	if ioErr.Op != "read" || ioErr.Path != dir {
		t.Errorf("IOError = %+v", ioErr)
	}
}

func TestDiff_HeaderMismatchWarns(t *testing.T) {
	t.Parallel()
	target := filepath.Join(t.TempDir(), "elsewhere.txt")
	writeFile(t, target, notesBefore)

	out, err := Diff(Options{Path: target, Diff: notesDiff})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(out.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one header warning", out.Warnings)
	}
}

func TestBackupPath(t *testing.T) {
	t.Parallel()
	got := BackupPath(filepath.Join("dir", "file.go"), ".orig")
	if want := filepath.Join("dir", "file.go.orig"); got != want {
		t.Errorf("BackupPath = %q, want %q", got, want)
	}
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Strategy
		err  bool
	}{
		{"", Write(), false},
		{"write", Write(), false},
		{"dry-run", DryRun(), false},
		{"backup", WriteBackup(".orig"), false},
		{"backup:.bak", WriteBackup(".bak"), false},
		{"yolo", Strategy{}, true},
	}
	for _, tc := range cases {
		got, err := ParseStrategy(tc.in)
		if (err != nil) != tc.err {
			t.Errorf("ParseStrategy(%q) error = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseStrategy(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestStrategy_EmptySuffixFallsBack(t *testing.T) {
	t.Parallel()
	if got := WriteBackup("").String(); got != "backup:.orig" {
		t.Errorf("String() = %q", got)
	}
}

func TestDiff_AppendAtEnd_NeverDoubleApplies(t *testing.T) {
	t.Parallel()
	target := filepath.Join(t.TempDir(), "list.txt")
	writeFile(t, target, "a\n")
	diff := "--- a/list.txt\n+++ b/list.txt\n@@ -1 +1,2 @@\n a\n+b\n"

	if _, err := Diff(Options{Path: target, Diff: diff}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if _, err := Diff(Options{Path: target, Diff: diff}); !errors.Is(err, ErrInvalidDiff) {
		t.Fatalf("re-apply error = %v, want ErrInvalidDiff", err)
	}
	if got := readFile(t, target); got != "a\nb\n" {
		t.Errorf("content = %q, want %q", got, "a\nb\n")
	}
}

func TestDiff_PrependAtTop_AnchoredToFirstLine(t *testing.T) {
	t.Parallel()
	target := filepath.Join(t.TempDir(), "list.txt")
	writeFile(t, target, "x\na\nb\n")
	diff := "--- a/list.txt\n+++ b/list.txt\n@@ -2,1 +2,2 @@\n+z\n a\n"

	if _, err := Diff(Options{Path: target, Diff: diff}); !errors.Is(err, ErrInvalidDiff) {
		t.Fatalf("error = %v, want ErrInvalidDiff", err)
	}
	if got := readFile(t, target); got != "x\na\nb\n" {
		t.Errorf("content changed: %q", got)
	}
}

func TestDiff_ZeroContextInsertions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, diff, want string
	}{
		{"top", "--- a/f\n+++ b/f\n@@ -0,0 +1 @@\n+z\n", "z\na\nb\nc\n"},
		{"middle", "--- a/f\n+++ b/f\n@@ -2,0 +3 @@\n+z\n", "a\nb\nz\nc\n"},
		{"end", "--- a/f\n+++ b/f\n@@ -3,0 +4 @@\n+z\n", "a\nb\nc\nz\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			target := filepath.Join(t.TempDir(), "f")
			writeFile(t, target, "a\nb\nc\n")
			if _, err := Diff(Options{Path: target, Diff: tc.diff}); err != nil {
				t.Fatalf("Diff: %v", err)
			}
			if got := readFile(t, target); got != tc.want {
				t.Errorf("content = %q, want %q", got, tc.want)
			}
		})
	}
}

type recordingHook struct {
	before int
	failed []error
}

func (h *recordingHook) BeforeCommit(Commit) error {
	h.before++
	return nil
}

func (h *recordingHook) CommitFailed(_ Commit, err error) {
	h.failed = append(h.failed, err)
}

func TestDiff_CommitFailedHook(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "notes.txt")
	writeFile(t, target, notesBefore)

	ok := &recordingHook{}
	if _, err := Diff(Options{Path: target, Diff: notesDiff, Hook: ok}); err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if ok.before != 1 || len(ok.failed) != 0 {
		t.Errorf("successful write: hook = %+v", ok)
	}

	writeFile(t, target, notesBefore)
	if err := os.Mkdir(target+".bak", 0o755); err != nil {
		t.Fatal(err)
	}
	failing := &recordingHook{}
	_, err := Diff(Options{Path: target, Diff: notesDiff, Strategy: WriteBackup(".bak"), Hook: failing})
	if err == nil {
		t.Fatal("expected backup failure")
	}
	if failing.before != 1 || len(failing.failed) != 1 || failing.failed[0] != err {
		t.Errorf("failed write: hook = %+v, err = %v", failing, err)
	}
}
