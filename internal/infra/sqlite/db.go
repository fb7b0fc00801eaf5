// Package sqlite opens the local SQLite store used by the apply journal and
// keeps its schema current. modernc.org/sqlite is pure Go, so the nrv binary
// needs no CGO.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Open opens (or creates) the database at path, creating its parent
// directory when needed. Connections run in WAL mode with foreign keys
// enforced and a 5s busy timeout. An in-memory database is pinned to a
// single connection so every query sees the same data.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir for %q: %w", path, err)
		}
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	} else {
		// Writers are serialized by SQLite; a small pool covers concurrent reads.
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %q: %w", path, err)
	}
	return db, nil
}

// OpenMigrated opens the database and applies pending migrations.
func OpenMigrated(ctx context.Context, path string) (*sql.DB, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
