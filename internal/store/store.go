package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory database. Nothing survives Close.
const MemoryPath = ":memory:"

// migration upgrades the kv table by one user_version step.
type migration struct {
	version int
	stmt    string
}

// migrations run in order; schema.sql is always version 0. Append only.
var migrations = []migration{
	{version: 1, stmt: `CREATE INDEX IF NOT EXISTS idx_kv_seq ON kv(seq)`},
	{version: 2, stmt: `CREATE INDEX IF NOT EXISTS idx_kv_namespace_seq ON kv(namespace, seq)`},
}

// SchemaVersion is the user_version of a fully migrated database.
var SchemaVersion = migrations[len(migrations)-1].version

// Store is the SQLite key/value store behind every learned-state store.
// It holds a single connection: the session reader is the only writer and
// operator commands run in their own process.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and brings its schema up
// to date. Opening an existing database is safe; path may be MemoryPath.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A second connection to :memory: would see a different, empty
	// database; on disk it would only contend for the write lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}

	if err := configure(db, path == MemoryPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// configure sets the pragmas; WAL applies only to file databases.
func configure(db *sql.DB, memory bool) error {
	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if !memory {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%q: %w", pragma, err)
		}
	}
	return nil
}

// migrate creates the table and applies every migration newer than the
// database's user_version, each in its own transaction.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create kv table: %w", err)
	}

	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("v%d: %w", m.version, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("v%d: set user_version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("v%d: commit: %w", m.version, err)
		}
	}
	return nil
}

// pragma reads one pragma value.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
