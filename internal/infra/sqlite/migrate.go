package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

type migration struct {
	version int
	name    string
	sql     string
}

// MigrateUp applies every embedded *.up.sql migration that is not yet
// recorded in schema_migrations, each in its own transaction.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}

	pending, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("sqlite: migrate: load: %w", err)
	}

	current, err := MigrationVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("sqlite: migrate: apply %s: %w", m.name, err)
		}
	}
	return nil
}

// MigrationVersion returns the highest applied version, 0 for a new database.
func MigrationVersion(ctx context.Context, db *sql.DB) (int, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return 0, fmt.Errorf("sqlite: migrate: %w", err)
	}
	var version int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("sqlite: migration version: %w", err)
	}
	return version, nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER NOT NULL PRIMARY KEY,
			name       TEXT    NOT NULL,
			applied_at TEXT    NOT NULL DEFAULT (datetime('now'))
		)`)
	return err
}

func loadMigrations() ([]migration, error) {
	entries, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return nil, err
	}

	out := make([]migration, 0, len(entries))
	for _, p := range entries {
		content, err := migrations.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		name := path.Base(p)
		version := versionOf(name)
		if version == 0 {
			return nil, fmt.Errorf("migration %s has no numeric prefix", name)
		}
		out = append(out, migration{version: version, name: name, sql: string(content)})
	}
	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	return out, nil
}

// versionOf parses the numeric prefix: "001_apply_journal.up.sql" is 1.
func versionOf(name string) int {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0
	}
	var version int
	if _, err := fmt.Sscanf(prefix, "%d", &version); err != nil {
		return 0
	}
	return version
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name,
	); err != nil {
		return err
	}
	return tx.Commit()
}
