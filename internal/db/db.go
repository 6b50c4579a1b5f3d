// Package db opens the SQLite store and keeps its schema current from the
// embedded, versioned migration scripts.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	stdfs "io/fs"
	"regexp"
	"sort"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration pairs the up and down scripts of one schema version.
type migration struct {
	version int
	up      string // path inside the embedded FS
	down    string
}

var migFileRe = regexp.MustCompile(`^([0-9]{4})_(.+)\.(up|down)\.sql$`)

// Open opens (or creates) a local SQLite database and applies pending
// migrations. Migrations live under internal/db/migrations as
// 0001_name.up.sql / 0001_name.down.sql pairs; only versions not yet recorded
// in schema_migrations are applied.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = "dispatch.db"
	}
	d, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(); err != nil {
		_ = d.Close()
		return nil, err
	}
	// journal_mode may not be supported for in-memory databases; ignore.
	_, _ = d.Exec(`PRAGMA journal_mode=WAL`)
	for _, pragma := range []string{`PRAGMA busy_timeout=5000`, `PRAGMA foreign_keys=ON`} {
		if _, err := d.Exec(pragma); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	if err := migrateUp(d); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// RollbackLast reverts the most recently applied migration using its down
// script. A database with no applied migrations is a no-op.
func RollbackLast(d *sql.DB) error {
	if d == nil {
		return errors.New("nil db")
	}
	if err := ensureVersionTable(d); err != nil {
		return err
	}
	var version int
	err := d.QueryRow(`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, m := range loadMigrations() {
		if m.version != version {
			continue
		}
		if m.down == "" {
			return fmt.Errorf("no down migration for version %04d", version)
		}
		return runScript(d, m.down, `DELETE FROM schema_migrations WHERE version = ?`, version)
	}
	return fmt.Errorf("applied version %04d has no migration files", version)
}

func migrateUp(d *sql.DB) error {
	migs := loadMigrations()
	if len(migs) == 0 {
		return nil
	}
	applied, err := appliedVersions(d)
	if err != nil {
		return err
	}
	for _, m := range migs {
		if applied[m.version] {
			continue
		}
		if m.up == "" {
			return fmt.Errorf("missing up migration for version %04d", m.version)
		}
		if err := runScript(d, m.up, `INSERT INTO schema_migrations(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("migration %04d: %w", m.version, err)
		}
	}
	return nil
}

// runScript executes an embedded SQL file plus the schema_migrations
// bookkeeping statement inside one transaction.
func runScript(d *sql.DB, file, record string, version int) error {
	text, err := migrationsFS.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(text)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Exec(record, version); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// loadMigrations returns the embedded migrations sorted by version.
func loadMigrations() []migration {
	byVersion := map[int]migration{}
	list, err := stdfs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil
	}
	for _, de := range list {
		if de.IsDir() {
			continue
		}
		parts := migFileRe.FindStringSubmatch(de.Name())
		if parts == nil {
			continue
		}
		ver, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		m := byVersion[ver]
		m.version = ver
		if parts[3] == "up" {
			m.up = "migrations/" + de.Name()
		} else {
			m.down = "migrations/" + de.Name()
		}
		byVersion[ver] = m
	}
	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out
}

func ensureVersionTable(d *sql.DB) error {
	_, err := d.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version INTEGER PRIMARY KEY,
        applied_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
    )`)
	return err
}

func appliedVersions(d *sql.DB) (map[int]bool, error) {
	if err := ensureVersionTable(d); err != nil {
		return nil, err
	}
	rows, err := d.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	got := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		got[v] = true
	}
	return got, rows.Err()
}
