package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added outbox (entity_type, entity_id) index
const currentSchemaVersion = 1

// Store is the durable entity store and outbox of one replica.
// Uses SQLite with WAL mode and a single connection.
type Store struct {
	db     *sql.DB
	clock  model.Clock
	bus    *events.Bus
	origin string
	dbID   string

	deriveOrigin func(databaseID string) string
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp mutations. Default: model.SystemClock.
func WithClock(c model.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithBus sets the bus that receives "data changed" notifications.
// Without a bus, notifications are dropped.
func WithBus(b *events.Bus) Option {
	return func(s *Store) { s.bus = b }
}

// WithOrigin sets the replica id recorded on every outbox entry.
func WithOrigin(id string) Option {
	return func(s *Store) { s.origin = id }
}

// WithDerivedOrigin sets the replica id from the database id when no
// explicit origin is given. The function runs once, after the database id is
// known.
func WithDerivedOrigin(f func(databaseID string) string) Option {
	return func(s *Store) { s.deriveOrigin = f }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
// Use ":memory:" for a throwaway store in tests.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	dbID, err := ensureDatabaseID(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, clock: model.SystemClock{}, dbID: dbID}
	for _, opt := range opts {
		opt(s)
	}
	if s.origin == "" && s.deriveOrigin != nil {
		s.origin = s.deriveOrigin(dbID)
	}
	return s, nil
}

// ensureDatabaseID returns the id of the database, creating it on first open.
func ensureDatabaseID(db *sql.DB) (string, error) {
	if _, err := db.Exec(`INSERT OR IGNORE INTO database_info (name, value) VALUES ('database_id', ?)`,
		uuid.NewString()); err != nil {
		return "", fmt.Errorf("failed to create database id: %w", err)
	}
	var id string
	if err := db.QueryRow(`SELECT value FROM database_info WHERE name = 'database_id'`).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to read database id: %w", err)
	}
	return id, nil
}

// OpenDB opens a SQLite connection configured the way every benchsync
// database is: one connection, WAL, NORMAL sync, busy timeout, foreign keys.
// The relay reuses it for its change log.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps ":memory:" databases alive for the lifetime of the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - writes that bypass the Store break the outbox invariant.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Origin returns the replica id stamped on outbox entries.
func (s *Store) Origin() string {
	return s.origin
}

// DatabaseID returns the random id assigned when the database file was
// created.
func (s *Store) DatabaseID() string {
	return s.dbID
}

// Bus returns the notification bus (may be nil).
func (s *Store) Bus() *events.Bus {
	return s.bus
}

// NowMillis reads the store clock.
func (s *Store) NowMillis() int64 {
	return s.clock.NowMillis()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the per-entity outbox index used by status queries.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_outbox_entity
		ON outbox(entity_type, entity_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// SchemaVersion returns PRAGMA user_version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}
