// Package journal records rollback points for applied diffs. Before each
// write the pre-image is stored (zstd-compressed, keyed by its BLAKE3
// digest) together with an entry describing the commit, so a caller can
// undo one file or a whole partially applied plan.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"github.com/matiasleandrokruk/nerve/internal/domain/apply"
	"github.com/matiasleandrokruk/nerve/internal/infra/sqlite"
)

var (
	ErrNotFound        = errors.New("journal: not found")
	ErrCorruptPreImage = errors.New("journal: stored pre-image does not match its digest")
	ErrDrifted         = errors.New("journal: file changed since it was journaled")
)

// DriftError means the file no longer holds what the journaled commit
// wrote, so restoring it would discard later edits.
type DriftError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("journal: %s changed since it was journaled (expected %s, found %s); use force to restore anyway",
		e.Path, e.Expected, e.Actual)
}

func (e *DriftError) Is(target error) bool { return target == ErrDrifted }

// Run groups the entries of one apply or plan invocation.
type Run struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	Entries   int       `json:"entries"`
}

// Entry is one committed file.
type Entry struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	Seq          int          `json:"seq"`
	Path         string       `json:"path"`
	Existed      bool         `json:"existed"`
	PreDigest    string       `json:"pre_digest"`
	PostChecksum string       `json:"post_checksum"`
	Status       apply.Status `json:"status"`
	Hunks        int          `json:"hunks"`
	Strategy     string       `json:"strategy"`
	// Error is set when the write failed after the entry was recorded.
	Error        string       `json:"error,omitempty"`
	RestoredAt   *time.Time   `json:"restored_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Store is the SQLite-backed journal.
type Store struct {
	db     *sql.DB
	ownsDB bool
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New wraps an already migrated database.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	// Zero frames keep empty pre-images (file creation) non-NULL.
	enc, err := zstd.NewWriter(nil, zstd.WithZeroFrames(true))
	if err != nil {
		return nil, fmt.Errorf("journal: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("journal: zstd decoder: %w", err)
	}
	s := &Store{
		db:     db,
		enc:    enc,
		dec:    dec,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open opens the journal database at path, migrating it if needed.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sqlite.OpenMigrated(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

func (s *Store) Close() error {
	s.dec.Close()
	err := s.enc.Close()
	if s.ownsDB {
		if dbErr := s.db.Close(); dbErr != nil {
			return dbErr
		}
	}
	return err
}

// StartRun opens a new run.
func (s *Store) StartRun(ctx context.Context, label string) (Run, error) {
	run := Run{ID: uuid.Must(uuid.NewV7()).String(), Label: label, CreatedAt: s.now().UTC()}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO apply_run (id, label, created_at) VALUES (?, ?, ?)",
		run.ID, run.Label, formatTime(run.CreatedAt),
	)
	if err != nil {
		return Run{}, fmt.Errorf("journal: start run: %w", err)
	}
	s.logger.Debug("journal run started", "run_id", run.ID, "label", label)
	return run, nil
}

// Hook returns an apply.CommitHook recording every commit into runID. If
// the write after a recorded commit fails, the entry is marked failed.
// ctx bounds the journal writes made by the hook.
func (s *Store) Hook(ctx context.Context, runID string) apply.CommitHook {
	return &runHook{store: s, ctx: ctx, runID: runID}
}

type runHook struct {
	store *Store
	ctx   context.Context
	runID string
	last  string
}

func (h *runHook) BeforeCommit(c apply.Commit) error {
	e, err := h.store.Record(h.ctx, h.runID, c)
	if err != nil {
		return err
	}
	h.last = e.ID
	return nil
}

func (h *runHook) CommitFailed(c apply.Commit, cause error) {
	if h.last == "" {
		return
	}
	if err := h.store.MarkFailed(h.ctx, h.last, cause); err != nil {
		h.store.logger.Warn("journal entry not marked failed", "entry_id", h.last, "path", c.Path, "error", err)
	}
	h.last = ""
}

// MarkFailed records that the write following the entry never completed.
func (s *Store) MarkFailed(ctx context.Context, entryID string, cause error) error {
	res, err := s.db.ExecContext(ctx, "UPDATE apply_entry SET error = ? WHERE id = ?", cause.Error(), entryID)
	if err != nil {
		return fmt.Errorf("journal: mark failed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}
	s.logger.Debug("journal entry marked failed", "entry_id", entryID, "error", cause)
	return nil
}

// Record stores c's pre-image and appends an entry to the run.
func (s *Store) Record(ctx context.Context, runID string, c apply.Commit) (Entry, error) {
	digest := digestOf(c.PreImage)
	entry := Entry{
		ID:           uuid.Must(uuid.NewV7()).String(),
		RunID:        runID,
		Path:         c.Path,
		Existed:      c.Existed,
		PreDigest:    digest,
		PostChecksum: apply.Checksum(c.PostImage),
		Status:       c.Status,
		Hunks:        c.Hunks,
		Strategy:     c.Strategy.String(),
		CreatedAt:    s.now().UTC(),
	}
	if abs, err := filepath.Abs(c.Path); err == nil {
		entry.Path = abs
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: record: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO blob (digest, size, data) VALUES (?, ?, ?)",
		digest, len(c.PreImage), s.enc.EncodeAll(c.PreImage, nil),
	); err != nil {
		return Entry{}, fmt.Errorf("journal: store pre-image: %w", err)
	}

	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq) + 1, 0) FROM apply_entry WHERE run_id = ?", runID,
	).Scan(&entry.Seq); err != nil {
		return Entry{}, fmt.Errorf("journal: next seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO apply_entry
			(id, run_id, seq, path, existed, pre_digest, post_checksum, status, hunks, strategy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunID, entry.Seq, entry.Path, boolInt(entry.Existed), entry.PreDigest,
		entry.PostChecksum, string(entry.Status), entry.Hunks, entry.Strategy, formatTime(entry.CreatedAt),
	); err != nil {
		return Entry{}, fmt.Errorf("journal: insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("journal: record: %w", err)
	}
	s.logger.Debug("journal entry recorded", "run_id", runID, "seq", entry.Seq, "path", entry.Path)
	return entry, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.label, r.created_at, COUNT(e.id)
		FROM apply_run r
		LEFT JOIN apply_entry e ON e.run_id = r.id
		GROUP BY r.id
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var created string
		if err := rows.Scan(&r.ID, &r.Label, &created, &r.Entries); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		r.CreatedAt = parseTime(created)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

const entryColumns = `id, run_id, seq, path, existed, pre_digest, post_checksum, status, hunks, strategy, error, restored_at, created_at`

// ListEntries returns a run's entries in commit order.
func (s *Store) ListEntries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM apply_entry WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("journal: list entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntry loads a single entry.
func (s *Store) GetEntry(ctx context.Context, entryID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM apply_entry WHERE id = ?", entryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}
	return e, err
}

// PreImage returns the exact bytes the file held before the entry's commit.
func (s *Store) PreImage(ctx context.Context, e Entry) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM blob WHERE digest = ?", e.PreDigest).Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("blob %s: %w", e.PreDigest, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("journal: load pre-image: %w", err)
	}
	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("journal: decompress pre-image: %w", err)
	}
	if digestOf(data) != e.PreDigest {
		return nil, ErrCorruptPreImage
	}
	return data, nil
}

type restoreConfig struct {
	force bool
}

// RestoreOption tunes Restore and RestoreRun.
type RestoreOption func(*restoreConfig)

// Force restores even when the file changed after the commit.
func Force() RestoreOption { return func(c *restoreConfig) { c.force = true } }

func restoreOptions(opts []RestoreOption) restoreConfig {
	var cfg restoreConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Restore puts the entry's path back to its pre-image: the old bytes are
// written back, or the file is removed if the commit created it. A file
// that holds neither the commit's post-image nor the pre-image fails with
// *DriftError unless Force is given.
func (s *Store) Restore(ctx context.Context, entryID string, opts ...RestoreOption) (Entry, error) {
	e, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if !restoreOptions(opts).force {
		if err := checkDrift(e); err != nil {
			return Entry{}, err
		}
	}
	return s.restoreEntry(ctx, e)
}

func (s *Store) restoreEntry(ctx context.Context, e Entry) (Entry, error) {
	if err := s.restore(ctx, e); err != nil {
		return Entry{}, err
	}
	restored := s.now().UTC()
	e.RestoredAt = &restored
	if _, err := s.db.ExecContext(ctx,
		"UPDATE apply_entry SET restored_at = ? WHERE id = ?", formatTime(restored), e.ID,
	); err != nil {
		return Entry{}, fmt.Errorf("journal: mark restored: %w", err)
	}
	s.logger.Info("journal entry restored", "entry_id", e.ID, "path", e.Path, "existed", e.Existed)
	return e, nil
}

// RestoreRun restores every entry of a run, newest first, so a file
// touched twice ends at its state before the run. Drift is checked for
// every file before anything is written.
func (s *Store) RestoreRun(ctx context.Context, runID string, opts ...RestoreOption) ([]Entry, error) {
	entries, err := s.ListEntries(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if !restoreOptions(opts).force {
		seen := make(map[string]bool, len(entries))
		for i := len(entries) - 1; i >= 0; i-- {
			if seen[entries[i].Path] {
				continue
			}
			seen[entries[i].Path] = true
			if err := checkDrift(entries[i]); err != nil {
				return nil, err
			}
		}
	}
	restored := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e, err := s.restoreEntry(ctx, entries[i])
		if err != nil {
			return restored, err
		}
		restored = append(restored, e)
	}
	return restored, nil
}

// checkDrift accepts the commit's post-image, the pre-image (already
// restored) and a missing file. Failed entries are not checked: their write
// may have stopped halfway.
func checkDrift(e Entry) error {
	if e.Error != "" {
		return nil
	}
	current, err := os.ReadFile(e.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &apply.IOError{Op: "read", Path: e.Path, Err: err}
	}
	actual := apply.Checksum(current)
	if actual == e.PostChecksum || digestOf(current) == e.PreDigest {
		return nil
	}
	return &DriftError{Path: e.Path, Expected: e.PostChecksum, Actual: actual}
}

func (s *Store) restore(ctx context.Context, e Entry) error {
	if !e.Existed {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return &apply.IOError{Op: "remove", Path: e.Path, Err: err}
		}
		return nil
	}

	data, err := s.PreImage(ctx, e)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(e.Path), 0o755); err != nil {
		return &apply.IOError{Op: "create_dir_all", Path: filepath.Dir(e.Path), Err: err}
	}
	if err := os.WriteFile(e.Path, data, 0o644); err != nil {
		return &apply.IOError{Op: "write", Path: e.Path, Err: err}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e        Entry
		status   string
		failure  sql.NullString
		restored sql.NullString
		created  string
	)
	err := row.Scan(&e.ID, &e.RunID, &e.Seq, &e.Path, &e.Existed, &e.PreDigest, &e.PostChecksum,
		&status, &e.Hunks, &e.Strategy, &failure, &restored, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("journal: scan entry: %w", err)
	}
	e.Status = apply.Status(status)
	e.CreatedAt = parseTime(created)
	e.Error = failure.String
	if restored.Valid {
		t := parseTime(restored.String)
		e.RestoredAt = &t
	}
	return e, nil
}

func digestOf(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
