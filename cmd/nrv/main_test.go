package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/matiasleandrokruk/nerve/internal/api"
	"github.com/matiasleandrokruk/nerve/internal/domain/apply"
	"github.com/matiasleandrokruk/nerve/internal/domain/devorch"
	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
	pkgauth "github.com/matiasleandrokruk/nerve/pkg/auth"
)

const (
	notesBefore = "alpha\nbeta\ngamma\n"
	notesAfter  = "alpha\nBETA\ngamma\n"
	notesDiff   = "--- a/notes.txt\n+++ b/notes.txt\n@@ -1,3 +1,3 @@\n alpha\n-beta\n+BETA\n gamma\n"
)

// ===== TEST HELPERS =====

func nrv(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	code := runWith(context.Background(), args, &out, io.Discard)
	return code, out.String()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func newDevServer(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("dev-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	issuer, err := pkgauth.NewIssuer("test-secret-key-32-chars-min!!!", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	srv := httptest.NewServer(api.NewRouter(api.Deps{
		Orchestrator: devorch.New(nil),
		Issuer:       issuer,
		APIKeyHash:   string(hash),
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// ===== TESTS =====

func TestRun_Version(t *testing.T) {
	t.Parallel()
	for _, args := range [][]string{{"version"}, {"--version"}} {
		code, out := nrv(t, args...)
		if code != 0 {
			t.Fatalf("%v: exit %d", args, code)
		}
		if !strings.Contains(out, "nrv version") {
			t.Errorf("%v: output %q", args, out)
		}
	}
}

func TestRun_UsageErrorsReturn2(t *testing.T) {
	t.Parallel()
	cases := [][]string{
		{"--unknown-flag"},
		{"no-such-command"},
		{"apply", "x", "--strategy", "yolo"},
		{"journal", "list"},
	}
	for _, args := range cases {
		if code, _ := nrv(t, args...); code != 2 {
			t.Errorf("%v: exit %d, want 2", args, code)
		}
	}
}

func TestRun_ApplyThenRestoreFromJournal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "notes.txt")
	diffFile := filepath.Join(dir, "notes.diff")
	db := filepath.Join(dir, "journal.db")
	writeFile(t, target, notesBefore)
	writeFile(t, diffFile, notesDiff)

	code, out := nrv(t, "apply", target, "--diff", diffFile, "--journal", db)
	if code != 0 {
		t.Fatalf("apply exit %d: %s", code, out)
	}
	if got := readFile(t, target); got != notesAfter {
		t.Fatalf("content = %q", got)
	}

	code, out = nrv(t, "journal", "list", "--journal", db, "--json")
	if code != 0 {
		t.Fatalf("journal list exit %d: %s", code, out)
	}
	var runs []struct {
		ID      string `json:"id"`
		Entries int    `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v (%s)", err, out)
	}
	if len(runs) != 1 || runs[0].Entries != 1 {
		t.Fatalf("runs = %+v", runs)
	}

	if code, out := nrv(t, "journal", "restore", "--run", runs[0].ID, "--journal", db); code != 0 {
		t.Fatalf("restore exit %d: %s", code, out)
	}
	if got := readFile(t, target); got != notesBefore {
		t.Errorf("restored content = %q", got)
	}
}

func TestRun_ApplyChecksumMismatchFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "notes.txt")
	diffFile := filepath.Join(dir, "notes.diff")
	writeFile(t, target, notesBefore)
	writeFile(t, diffFile, notesDiff)

	code, out := nrv(t, "apply", target, "--diff", diffFile, "--checksum", "deadbeef")
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(out, "checksum mismatch") {
		t.Errorf("narration = %q", out)
	}
	if got := readFile(t, target); got != notesBefore {
		t.Errorf("file mutated: %q", got)
	}
}

func TestRun_PlanUnderRoot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), notesBefore)
	plan := filepath.Join(t.TempDir(), "plan.yaml")
	writeFile(t, plan, `diffs:
  - path: notes.txt
    diff: |
      --- a/notes.txt
      +++ b/notes.txt
      @@ -1,3 +1,3 @@
       alpha
      -beta
      +BETA
       gamma
`)

	code, out := nrv(t, "plan", plan, "--root", dir)
	if code != 0 {
		t.Fatalf("plan exit %d: %s", code, out)
	}
	if got := readFile(t, filepath.Join(dir, "notes.txt")); got != notesAfter {
		t.Errorf("content = %q", got)
	}
	if !strings.Contains(out, "plan applied") {
		t.Errorf("narration = %q", out)
	}
}

func TestRun_DiffAndChecksum(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	before := filepath.Join(dir, "before.txt")
	after := filepath.Join(dir, "after.txt")
	writeFile(t, before, notesBefore)
	writeFile(t, after, notesAfter)

	code, out := nrv(t, "diff", before, after, "--path", "notes.txt")
	if code != 0 {
		t.Fatalf("diff exit %d", code)
	}
	if out != notesDiff {
		t.Errorf("diff = %q, want %q", out, notesDiff)
	}

	code, out = nrv(t, "checksum", before, "--algo", "blake3")
	if code != 0 {
		t.Fatalf("checksum exit %d", code)
	}
	if want := apply.ChecksumBLAKE3([]byte(notesBefore)); !strings.HasPrefix(out, want) {
		t.Errorf("checksum = %q, want prefix %q", out, want)
	}
}

func TestRun_OrchestratorCommands(t *testing.T) {
	t.Parallel()
	url := newDevServer(t)
	common := []string{"--orch-url", url, "--api-key", "dev-key"}

	code, out := nrv(t, append([]string{"caps"}, common...)...)
	if code != 0 {
		t.Fatalf("caps exit %d: %s", code, out)
	}
	if !strings.Contains(out, devorch.ModelChat) {
		t.Errorf("caps output missing model: %s", out)
	}

	snapFile := filepath.Join(t.TempDir(), "caps.yaml")
	if code, out := nrv(t, append([]string{"caps", "--out", snapFile}, common...)...); code != 0 {
		t.Fatalf("caps --out exit %d: %s", code, out)
	}
	if snap, err := orch.LoadSnapshot(snapFile); err != nil || len(snap.Models) == 0 {
		t.Errorf("LoadSnapshot = %v, %v", snap, err)
	}

	code, out = nrv(t, append([]string{"run", "--model", devorch.ModelChat, "hello", "world"}, common...)...)
	if code != 0 {
		t.Fatalf("run exit %d: %s", code, out)
	}
	if strings.TrimSpace(out) != "hello world" {
		t.Errorf("run output = %q", out)
	}

	code, out = nrv(t, append([]string{"run", "--json", "--model", devorch.ModelChat, "hi"}, common...)...)
	if code != 0 {
		t.Fatalf("run --json exit %d: %s", code, out)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 4 || !strings.Contains(lines[3], `"completed"`) {
		t.Errorf("json lines = %q", lines)
	}

	if code, _ := nrv(t, append([]string{"run", "--model", "ghost", "x"}, common...)...); code != 2 {
		t.Errorf("unknown model exit %d, want 2", code)
	}
	if code, _ := nrv(t, append([]string{"cancel", "missing-task"}, common...)...); code != 1 {
		t.Errorf("cancel unknown task exit %d, want 1", code)
	}
}

func TestServerConfig(t *testing.T) {
	t.Parallel()
	cfg, err := serverConfig("0.0.0.0:9090")
	if err != nil {
		t.Fatalf("serverConfig: %v", err)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 9090 {
		t.Errorf("cfg = %+v", cfg)
	}
	if _, err := serverConfig("nope"); err == nil {
		t.Error("expected error for address without port")
	}
}
